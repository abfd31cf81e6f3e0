// Package api wires the versioned HTTP surface: chat CRUD, the streaming
// turn endpoint and the resumable run endpoints.
package api

import (
	"net/http"

	"draftflow/pkg/api/handlers"
	"draftflow/pkg/auth"
	"draftflow/pkg/engine"
	"draftflow/pkg/store"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger"
)

// NewRouter builds the full HTTP handler. Everything under /v1 sits behind
// the auth middleware; health, metrics and docs stay open.
func NewRouter(sec auth.SecConfig, orch *engine.Orchestrator, res *engine.Resumption) http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/healthz", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if !store.Ready() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"store not ready"}`))
			return
		}
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}).Methods(http.MethodGet)

	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.PathPrefix("/docs/").Handler(httpSwagger.Handler(httpSwagger.URL("/openapi.yaml")))
	r.Handle("/openapi.yaml", http.FileServer(http.Dir("./docs")))

	v1 := r.PathPrefix("/v1").Subrouter()
	v1.Use(auth.Middleware(sec))
	handlers.RegisterChats(v1)
	handlers.RegisterMessages(v1, orch)
	handlers.RegisterRuns(v1, res)
	return r
}
