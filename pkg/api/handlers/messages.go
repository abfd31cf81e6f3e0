package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"draftflow/pkg/engine"
	"draftflow/pkg/logger"
	"draftflow/pkg/models"
	"draftflow/pkg/store"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

var orch *engine.Orchestrator

// RegisterMessages registers the message routes: assembled reads and the
// streaming turn endpoint.
func RegisterMessages(r *mux.Router, o *engine.Orchestrator) {
	orch = o
	r.HandleFunc("/chats/{id}/messages", listMessages).Methods(http.MethodGet)
	r.HandleFunc("/chats/{id}/messages", postTurn).Methods(http.MethodPost)
}

// listMessages handles GET /chats/{id}/messages and returns fully
// assembled messages, parts attached in emission order.
func listMessages(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	chatID := mux.Vars(r)["id"]
	c, err := store.GetChat(chatID)
	if err != nil {
		if err == store.ErrNotFound {
			http.Error(w, `{"error":"chat not found"}`, http.StatusNotFound)
			return
		}
		http.Error(w, `{"error":"`+err.Error()+`"}`, http.StatusInternalServerError)
		return
	}
	if !canAccess(r, c) {
		http.Error(w, `{"error":"forbidden"}`, http.StatusForbidden)
		return
	}
	msgs, err := store.GetMessages(chatID)
	if err != nil {
		http.Error(w, `{"error":"`+err.Error()+`"}`, http.StatusInternalServerError)
		return
	}
	if msgs == nil {
		msgs = []models.Message{}
	}
	_ = json.NewEncoder(w).Encode(struct {
		Chat     string           `json:"chat"`
		Messages []models.Message `json:"messages"`
	}{Chat: chatID, Messages: msgs})
}

// postTurn handles POST /chats/{id}/messages. It starts a workflow run for
// the user turn and streams chunks back as SSE until finish. The run id is
// returned in the X-Run-ID header so a dropped client can reattach via
// /v1/runs/{id}/stream.
func postTurn(w http.ResponseWriter, r *http.Request) {
	chatID := mux.Vars(r)["id"]
	var in struct {
		Content string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		http.Error(w, `{"error":"invalid json"}`, http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(in.Content) == "" {
		http.Error(w, `{"error":"content is required"}`, http.StatusBadRequest)
		return
	}
	c, err := store.GetChat(chatID)
	if err != nil {
		if err == store.ErrNotFound {
			http.Error(w, `{"error":"chat not found"}`, http.StatusNotFound)
			return
		}
		http.Error(w, `{"error":"`+err.Error()+`"}`, http.StatusInternalServerError)
		return
	}
	if !canAccess(r, c) {
		http.Error(w, `{"error":"forbidden"}`, http.StatusForbidden)
		return
	}

	runID := uuid.NewString()
	// Pre-open the channel so the SSE reader below never races the
	// orchestrator's StartStream step.
	ch, err := orch.Streams.Open(runID)
	if err != nil {
		http.Error(w, `{"error":"`+err.Error()+`"}`, http.StatusInternalServerError)
		return
	}

	turn := engine.TurnInput{Chat: chatID, Owner: c.Owner, Text: in.Content, RunID: runID}
	go func() {
		// detached from the request: a client disconnect never cancels
		// the run
		if _, err := orch.ProcessTurn(context.Background(), turn); err != nil {
			logger.Error("turn_failed", "run", runID, "chat", chatID, "error", err)
		}
	}()

	w.Header().Set("X-Run-ID", runID)
	streamSSE(w, r, ch.Attach(0))
}
