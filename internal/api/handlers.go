package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/ampprint/ampprint/internal/profile"
	"github.com/ampprint/ampprint/internal/store"
)

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) diagnostics(w http.ResponseWriter, r *http.Request) {
	d, err := s.eng.Diagnostics(r.Context())
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, d)
}

func (s *Server) listGroups(w http.ResponseWriter, _ *http.Request) {
	groups := s.eng.Groups()
	s.writeJSON(w, http.StatusOK, map[string]any{"groups": groups, "count": len(groups)})
}

func (s *Server) getGroup(w http.ResponseWriter, r *http.Request) {
	pat, err := s.eng.Group(mux.Vars(r)["id"])
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, pat)
}

func (s *Server) renameGroup(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name string `json:"name"`
	}
	if !s.decode(w, r, &body) {
		return
	}
	pat, err := s.eng.RenameGroup(r.Context(), mux.Vars(r)["id"], body.Name)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, pat)
}

func (s *Server) deleteGroup(w http.ResponseWriter, r *http.Request) {
	pat, err := s.eng.DeleteGroup(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"deleted": pat})
}

func (s *Server) mergeGroups(w http.ResponseWriter, r *http.Request) {
	var body struct {
		SourceID string `json:"source_id"`
	}
	if !s.decode(w, r, &body) {
		return
	}
	res, err := s.eng.MergeGroups(r.Context(), body.SourceID, mux.Vars(r)["id"])
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"group":                res.Pattern,
		"absorbed_session_ids": res.AbsorbedIDs,
	})
}

func (s *Server) recluster(w http.ResponseWriter, r *http.Request) {
	wipe := r.URL.Query().Get("wipe") == "true"
	rep, err := s.eng.Recluster(r.Context(), wipe)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, rep)
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := store.ListOpts{
		ChargerID:    q.Get("charger"),
		ActiveOnly:   q.Get("active") == "true",
		CompleteOnly: q.Get("complete") == "true",
		WithReadings: q.Get("readings") == "true",
		Limit:        intParam(q.Get("limit"), 0),
		Offset:       intParam(q.Get("offset"), 0),
	}
	sessions, err := s.eng.Sessions(r.Context(), opts)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions, "count": len(sessions)})
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.eng.Session(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, sess)
}

func (s *Server) renameSession(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name string `json:"name"`
	}
	if !s.decode(w, r, &body) {
		return
	}
	res, err := s.eng.RenameSession(r.Context(), mux.Vars(r)["id"], body.Name)
	if err != nil {
		s.respondError(w, err)
		return
	}
	out := map[string]any{"session_id": mux.Vars(r)["id"], "name": body.Name}
	if res.Pattern != nil {
		out["group"] = res.Pattern
		out["created_group"] = res.Created
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) guessSession(w http.ResponseWriter, r *http.Request) {
	guess, err := s.eng.LiveGuess(r.Context(), mux.Vars(r)["id"])
	switch {
	case errors.Is(err, profile.ErrInsufficientData):
		s.writeJSON(w, http.StatusOK, map[string]any{"match": nil, "status": "insufficient_data"})
	case err != nil:
		s.respondError(w, err)
	case guess == nil:
		s.writeJSON(w, http.StatusOK, map[string]any{"match": nil, "status": "no_match"})
	default:
		s.writeJSON(w, http.StatusOK, map[string]any{"match": guess})
	}
}

func (s *Server) estimateSession(w http.ResponseWriter, r *http.Request) {
	est, err := s.eng.LiveEstimate(r.Context(), mux.Vars(r)["id"], time.Now())
	switch {
	case errors.Is(err, profile.ErrInsufficientData):
		s.writeJSON(w, http.StatusOK, map[string]any{"estimate": nil, "status": "insufficient_data"})
	case err != nil:
		s.respondError(w, err)
	case est == nil:
		s.writeJSON(w, http.StatusOK, map[string]any{"estimate": nil, "status": "unavailable"})
	default:
		s.writeJSON(w, http.StatusOK, map[string]any{
			"estimate":          est,
			"remaining_seconds": int64(est.Remaining.Seconds()),
		})
	}
}

func (s *Server) finishedSession(w http.ResponseWriter, r *http.Request) {
	done, err := s.eng.SessionFinished(r.Context(), mux.Vars(r)["id"], time.Now())
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"finished": done})
}

func (s *Server) diagnoseSession(w http.ResponseWriter, r *http.Request) {
	rep, err := s.eng.DiagnoseSession(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, rep)
}

func intParam(s string, def int) int {
	if s == "" {
		return def
	}
	i, err := strconv.Atoi(s)
	if err != nil || i < 0 {
		return def
	}
	return i
}
