// Package api exposes the engine over HTTP. Groups and sessions are
// read and mutated with plain JSON; engine errors map onto status
// codes (404 unknown id, 409 name conflict, 400 bad input) and
// heuristic "no answer" outcomes stay 200 with a status field.
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/ampprint/ampprint/internal/engine"
	"github.com/ampprint/ampprint/internal/pattern"
	"github.com/ampprint/ampprint/internal/store"
)

// Server bundles the HTTP handlers' dependencies.
type Server struct {
	eng *engine.Engine
	log *zap.Logger
}

func NewServer(eng *engine.Engine, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{eng: eng, log: log}
}

// Router wires all routes.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/health", s.health).Methods(http.MethodGet)
	r.HandleFunc("/api/diagnostics", s.diagnostics).Methods(http.MethodGet)

	r.HandleFunc("/api/groups", s.listGroups).Methods(http.MethodGet)
	r.HandleFunc("/api/groups/{id}", s.getGroup).Methods(http.MethodGet)
	r.HandleFunc("/api/groups/{id}", s.renameGroup).Methods(http.MethodPatch)
	r.HandleFunc("/api/groups/{id}", s.deleteGroup).Methods(http.MethodDelete)
	r.HandleFunc("/api/groups/{id}/merge", s.mergeGroups).Methods(http.MethodPost)
	r.HandleFunc("/api/recluster", s.recluster).Methods(http.MethodPost)

	r.HandleFunc("/api/sessions", s.listSessions).Methods(http.MethodGet)
	r.HandleFunc("/api/sessions/{id}", s.getSession).Methods(http.MethodGet)
	r.HandleFunc("/api/sessions/{id}", s.renameSession).Methods(http.MethodPatch)
	r.HandleFunc("/api/sessions/{id}/guess", s.guessSession).Methods(http.MethodGet)
	r.HandleFunc("/api/sessions/{id}/estimate", s.estimateSession).Methods(http.MethodGet)
	r.HandleFunc("/api/sessions/{id}/finished", s.finishedSession).Methods(http.MethodGet)
	r.HandleFunc("/api/sessions/{id}/diagnose", s.diagnoseSession).Methods(http.MethodGet)

	return r
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}

// respondError maps engine errors onto HTTP status codes. A name
// conflict carries the colliding group's id so clients can offer a
// merge instead.
func (s *Server) respondError(w http.ResponseWriter, err error) {
	var conflict *pattern.ConflictError
	switch {
	case errors.As(err, &conflict):
		s.writeJSON(w, http.StatusConflict, map[string]any{
			"error":                conflict.Error(),
			"conflicting_group_id": conflict.ExistingID,
		})
	case errors.Is(err, pattern.ErrNotFound), errors.Is(err, store.ErrNotFound):
		s.writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	case errors.Is(err, pattern.ErrInvalidInput):
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	default:
		s.log.Warn("http error", zap.Error(err))
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body: " + err.Error()})
		return false
	}
	return true
}
