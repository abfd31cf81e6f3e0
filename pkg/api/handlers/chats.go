package handlers

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"draftflow/pkg/auth"
	"draftflow/pkg/ids"
	"draftflow/pkg/logger"
	"draftflow/pkg/models"
	"draftflow/pkg/store"

	"github.com/gorilla/mux"
)

// RegisterChats registers all chat-level routes to the provided router.
func RegisterChats(r *mux.Router) {
	r.HandleFunc("/chats", createChat).Methods(http.MethodPost)
	r.HandleFunc("/chats", listChats).Methods(http.MethodGet)
	r.HandleFunc("/chats/{id}", getChat).Methods(http.MethodGet)
	r.HandleFunc("/chats/{id}", renameChat).Methods(http.MethodPatch)
	r.HandleFunc("/chats/{id}", deleteChat).Methods(http.MethodDelete)
}

// canAccess reports whether the caller may touch this chat. Backend keys
// see everything; frontend callers only their own chats.
func canAccess(r *http.Request, c models.Chat) bool {
	if auth.RoleFromContext(r.Context()) == auth.RoleBackend {
		return true
	}
	caller := auth.CallerID(r.Context())
	return caller != "" && caller == c.Owner
}

// createChat handles POST /chats. The owner is always the verified caller;
// the body may carry an optional title.
func createChat(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	var in struct {
		Title string `json:"title"`
	}
	if r.Body != nil {
		// empty body is fine; title defaults later from the first turn
		_ = json.NewDecoder(r.Body).Decode(&in)
	}
	owner := auth.CallerID(r.Context())
	if owner == "" {
		http.Error(w, `{"error":"X-User-ID header required"}`, http.StatusBadRequest)
		return
	}
	now := time.Now().UTC().UnixNano()
	c := models.Chat{
		ID:        ids.New(),
		Title:     strings.TrimSpace(in.Title),
		Owner:     owner,
		CreatedTS: now,
		UpdatedTS: now,
	}
	if err := store.SaveChat(c); err != nil {
		http.Error(w, `{"error":"`+err.Error()+`"}`, http.StatusInternalServerError)
		return
	}
	logger.Info("chat_created", "chat", c.ID, "owner", owner)
	_ = json.NewEncoder(w).Encode(c)
}

// listChats handles GET /chats. Frontend callers are scoped to their own
// chats; backend callers may filter with ?owner=.
func listChats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	owner := auth.CallerID(r.Context())
	if auth.RoleFromContext(r.Context()) == auth.RoleBackend {
		owner = r.URL.Query().Get("owner")
	}
	chats, err := store.ListChats(owner)
	if err != nil {
		http.Error(w, `{"error":"`+err.Error()+`"}`, http.StatusInternalServerError)
		return
	}
	if chats == nil {
		chats = []models.Chat{}
	}
	_ = json.NewEncoder(w).Encode(struct {
		Chats []models.Chat `json:"chats"`
	}{Chats: chats})
}

func getChat(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	id := mux.Vars(r)["id"]
	c, err := store.GetChat(id)
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
	_ = json.NewEncoder(w).Encode(c)
}

// renameChat handles PATCH /chats/{id} with a JSON body {"title":"..."}.
func renameChat(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	id := mux.Vars(r)["id"]
	var in struct {
		Title string `json:"title"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		http.Error(w, `{"error":"invalid json"}`, http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(in.Title) == "" {
		http.Error(w, `{"error":"title is required"}`, http.StatusBadRequest)
		return
	}
	c, err := store.GetChat(id)
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
	c.Title = strings.TrimSpace(in.Title)
	c.UpdatedTS = time.Now().UTC().UnixNano()
	if err := store.SaveChat(c); err != nil {
		http.Error(w, `{"error":"`+err.Error()+`"}`, http.StatusInternalServerError)
		return
	}
	_ = json.NewEncoder(w).Encode(c)
}

// deleteChat handles DELETE /chats/{id} and cascades to every message and
// part row under the chat.
func deleteChat(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	id := mux.Vars(r)["id"]
	c, err := store.GetChat(id)
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
	if err := store.DeleteChat(id); err != nil {
		http.Error(w, `{"error":"`+err.Error()+`"}`, http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
