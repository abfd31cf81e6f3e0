package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"draftflow/pkg/engine"
	"draftflow/pkg/store"
	"draftflow/pkg/stream"

	"github.com/gorilla/mux"
)

var resume *engine.Resumption

// RegisterRuns registers the run status and resumable stream routes.
func RegisterRuns(r *mux.Router, res *engine.Resumption) {
	resume = res
	r.HandleFunc("/runs/{id}", getRun).Methods(http.MethodGet)
	r.HandleFunc("/runs/{id}/stream", streamRun).Methods(http.MethodGet)
}

// getRun handles GET /runs/{id} and returns the persisted run record.
func getRun(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	id := mux.Vars(r)["id"]
	run, err := resume.Status(id)
	if err != nil {
		if err == store.ErrNotFound {
			http.Error(w, `{"error":"run not found"}`, http.StatusNotFound)
			return
		}
		http.Error(w, `{"error":"`+err.Error()+`"}`, http.StatusInternalServerError)
		return
	}
	c, err := store.GetChat(run.Chat)
	if err == nil && !canAccess(r, c) {
		http.Error(w, `{"error":"forbidden"}`, http.StatusForbidden)
		return
	}
	_ = json.NewEncoder(w).Encode(run)
}

// streamRun handles GET /runs/{id}/stream?offset=N: the resumable read
// endpoint. It replays the backlog from offset, follows live chunks, and
// closes with a terminal event after finish. Unknown run ids get a 404.
func streamRun(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	offset := 0
	if q := r.URL.Query().Get("offset"); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil || n < 0 {
			http.Error(w, `{"error":"offset must be a non-negative integer"}`, http.StatusBadRequest)
			return
		}
		offset = n
	}
	run, err := resume.Status(id)
	if err == nil {
		if c, cerr := store.GetChat(run.Chat); cerr == nil && !canAccess(r, c) {
			http.Error(w, `{"error":"forbidden"}`, http.StatusForbidden)
			return
		}
	}
	rd, err := resume.Attach(id, offset)
	if err != nil {
		if err == stream.ErrUnknownRun {
			http.Error(w, `{"error":"unknown run"}`, http.StatusNotFound)
			return
		}
		http.Error(w, `{"error":"`+err.Error()+`"}`, http.StatusInternalServerError)
		return
	}
	streamSSE(w, r, rd)
}
