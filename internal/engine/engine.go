// Package engine wires the session store, the device-group collection,
// and the live heuristics into the operations the HTTP API, the MQTT
// intake, and the CLI all share. Group state is authoritative in memory
// and persisted as a JSON snapshot after every mutation; session history
// lives in SQLite.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ampprint/ampprint/internal/charging"
	"github.com/ampprint/ampprint/internal/diagnose"
	"github.com/ampprint/ampprint/internal/live"
	"github.com/ampprint/ampprint/internal/pattern"
	"github.com/ampprint/ampprint/internal/profile"
	"github.com/ampprint/ampprint/internal/similarity"
	"github.com/ampprint/ampprint/internal/store"
)

// Config carries the engine's dependencies. Sessions is required;
// a nil Snapshot disables group persistence (testing), a zero
// Completion selects the default tuning, a nil Logger logs nothing.
type Config struct {
	Sessions   store.Store
	Snapshot   *store.SnapshotFile
	Completion live.Completion
	Logger     *zap.Logger
}

// Engine is the shared orchestrator.
type Engine struct {
	log        *zap.Logger
	sessions   store.Store
	patterns   *pattern.Store
	snapshot   *store.SnapshotFile
	completion live.Completion
	guesser    *live.Guesser
	estimator  *live.Estimator
	diag       *diagnose.Engine
}

// New builds an Engine and restores the group collection from the
// snapshot file, if one is configured and present.
func New(cfg Config) (*Engine, error) {
	if cfg.Sessions == nil {
		return nil, fmt.Errorf("engine: session store is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Completion == (live.Completion{}) {
		cfg.Completion = live.DefaultCompletion()
	}

	patterns := pattern.NewStore()
	if cfg.Snapshot != nil {
		saved, err := cfg.Snapshot.Load()
		if err != nil {
			return nil, fmt.Errorf("engine: restoring group snapshot: %w", err)
		}
		patterns.Restore(saved)
		if len(saved) > 0 {
			cfg.Logger.Info("restored device groups",
				zap.Int("groups", patterns.Len()),
				zap.String("path", cfg.Snapshot.Path()))
		}
	}

	return &Engine{
		log:        cfg.Logger,
		sessions:   cfg.Sessions,
		patterns:   patterns,
		snapshot:   cfg.Snapshot,
		completion: cfg.Completion,
		guesser:    live.NewGuesser(patterns),
		estimator:  live.NewEstimator(patterns, cfg.Completion),
		diag:       diagnose.NewEngine(patterns),
	}, nil
}

// Assignment reports what happened to a session at completion.
type Assignment struct {
	SessionID  string    `json:"session_id"`
	ChargerID  string    `json:"charger_id"`
	EndedAt    time.Time `json:"ended_at"`
	PatternID  string    `json:"pattern_id,omitempty"`
	DeviceName string    `json:"device_name,omitempty"`
	Similarity float64   `json:"similarity,omitempty"`
	NewGroup   bool      `json:"new_group,omitempty"`
	AutoNamed  bool      `json:"auto_named,omitempty"`
	Skipped    bool      `json:"skipped,omitempty"`
	Reason     string    `json:"reason,omitempty"`
}

// StartSession opens a session for a charger and returns it.
func (e *Engine) StartSession(ctx context.Context, identity charging.ChargerIdentity, at time.Time) (*charging.Session, error) {
	sess := &charging.Session{
		ID:          uuid.NewString(),
		ChargerID:   identity.ID,
		ChargerName: identity.Name,
		StartedAt:   at.UTC(),
	}
	if err := e.sessions.StartSession(ctx, sess); err != nil {
		return nil, err
	}
	e.log.Info("session started",
		zap.String("session_id", sess.ID),
		zap.String("charger_id", sess.ChargerID))
	return sess, nil
}

// RecordReading appends one power sample to an open session.
func (e *Engine) RecordReading(ctx context.Context, sessionID string, at time.Time, watts float64) error {
	return e.sessions.AppendReading(ctx, sessionID, charging.Reading{At: at.UTC(), Watts: watts})
}

// ActiveSession returns the open session on a charger, or store.ErrNotFound.
func (e *Engine) ActiveSession(ctx context.Context, chargerID string) (*charging.Session, error) {
	return e.sessions.ActiveSession(ctx, chargerID)
}

// CompleteSession closes a session, fingerprints it, and routes it into
// the group collection. A session too short to profile is closed and
// skipped, not failed. When the match is confident enough and the
// session carries no manual name of its own, the group's name is
// written to it.
func (e *Engine) CompleteSession(ctx context.Context, sessionID string, at time.Time) (*Assignment, error) {
	if err := e.sessions.EndSession(ctx, sessionID, at.UTC()); err != nil {
		return nil, err
	}
	sess, err := e.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	asg := &Assignment{SessionID: sessionID, ChargerID: sess.ChargerID, EndedAt: at.UTC()}
	fp, err := profile.Extract(sess.Watts())
	if err != nil {
		if errors.Is(err, profile.ErrInsufficientData) {
			asg.Skipped = true
			asg.Reason = "insufficient_data"
			e.log.Info("session closed unprofiled",
				zap.String("session_id", sessionID),
				zap.Int("readings", len(sess.Readings)))
			return asg, nil
		}
		return nil, err
	}

	res, err := e.patterns.MatchOrCreate(sess, fp)
	if err != nil {
		return nil, err
	}
	asg.PatternID = res.Pattern.ID
	asg.DeviceName = res.Pattern.DeviceName
	asg.Similarity = res.Similarity
	asg.NewGroup = res.Created

	if !res.Created && res.Similarity >= similarity.AutoAssignThreshold && !pattern.IsManualName(sess.DeviceName) {
		if err := e.sessions.SetDeviceName(ctx, sessionID, res.Pattern.DeviceName); err != nil {
			return nil, fmt.Errorf("writing auto-assigned name: %w", err)
		}
		asg.AutoNamed = true
	}

	e.persist()
	e.log.Info("session assigned",
		zap.String("session_id", sessionID),
		zap.String("group_id", asg.PatternID),
		zap.String("device_name", asg.DeviceName),
		zap.Float64("similarity", asg.Similarity),
		zap.Bool("new_group", asg.NewGroup),
		zap.Bool("auto_named", asg.AutoNamed))
	return asg, nil
}

// SweepFinished closes every active session the completion heuristic
// considers done and routes each through CompleteSession.
func (e *Engine) SweepFinished(ctx context.Context, now time.Time) ([]*Assignment, error) {
	active, err := e.sessions.ListSessions(ctx, store.ListOpts{ActiveOnly: true, WithReadings: true})
	if err != nil {
		return nil, err
	}
	var done []*Assignment
	for _, sess := range active {
		if !e.completion.Finished(sess, now) {
			continue
		}
		asg, err := e.CompleteSession(ctx, sess.ID, now)
		if err != nil {
			return done, fmt.Errorf("completing session %s: %w", sess.ID, err)
		}
		done = append(done, asg)
	}
	return done, nil
}

// RenameSession gives one session a device name. A completed session
// that can be profiled is moved between groups accordingly; an open or
// unprofilable one only has its stored name changed, and the returned
// result carries a nil Pattern. The name of an open session steers the
// matcher when the session eventually completes.
func (e *Engine) RenameSession(ctx context.Context, sessionID, newName string) (*pattern.RelabelResult, error) {
	sess, err := e.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	res := &pattern.RelabelResult{}
	if sess.Complete() {
		fp, err := profile.Extract(sess.Watts())
		switch {
		case err == nil:
			res, err = e.patterns.RelabelSession(sess, newName, fp)
			if err != nil {
				return nil, err
			}
		case errors.Is(err, profile.ErrInsufficientData):
			// No profile, no group membership. The name still sticks.
		default:
			return nil, err
		}
	}

	if err := e.sessions.SetDeviceName(ctx, sessionID, newName); err != nil {
		return nil, err
	}
	e.persist()
	return res, nil
}

// RenameGroup renames a group and propagates the name to every member
// session. A name held by a different group fails with
// *pattern.ConflictError and changes nothing.
func (e *Engine) RenameGroup(ctx context.Context, groupID, newName string) (*pattern.Pattern, error) {
	pat, err := e.patterns.RelabelGroup(groupID, newName)
	if err != nil {
		return nil, err
	}
	if err := e.sessions.SetDeviceNames(ctx, pat.SessionIDs, pat.DeviceName); err != nil {
		return nil, fmt.Errorf("propagating group name: %w", err)
	}
	e.persist()
	e.log.Info("group renamed",
		zap.String("group_id", pat.ID),
		zap.String("device_name", pat.DeviceName),
		zap.Int("sessions", len(pat.SessionIDs)))
	return pat, nil
}

// MergeGroups folds the source group into the target. Member sessions
// keep their own stored names.
func (e *Engine) MergeGroups(ctx context.Context, sourceID, targetID string) (*pattern.MergeResult, error) {
	res, err := e.patterns.Merge(sourceID, targetID)
	if err != nil {
		return nil, err
	}
	e.persist()
	e.log.Info("groups merged",
		zap.String("source_id", sourceID),
		zap.String("target_id", targetID),
		zap.Int("sessions", res.Pattern.Count))
	return res, nil
}

// DeleteGroup removes a group. Member sessions keep their stored names.
func (e *Engine) DeleteGroup(ctx context.Context, groupID string) (*pattern.Pattern, error) {
	pat, err := e.patterns.Delete(groupID)
	if err != nil {
		return nil, err
	}
	e.persist()
	e.log.Info("group deleted", zap.String("group_id", pat.ID), zap.String("device_name", pat.DeviceName))
	return pat, nil
}

// Recluster rebuilds the whole group collection from completed session
// history. With wipe set, existing group identities are discarded first
// instead of being reused for matching membership.
func (e *Engine) Recluster(ctx context.Context, wipe bool) (*pattern.ReclusterReport, error) {
	all, err := e.sessions.ListSessions(ctx, store.ListOpts{WithReadings: true})
	if err != nil {
		return nil, err
	}

	profiles := make(map[string]*profile.Profile, len(all))
	for _, sess := range all {
		fp, err := profile.Extract(sess.Watts())
		if err != nil {
			continue // unprofilable sessions are counted as skipped
		}
		profiles[sess.ID] = fp
	}

	if wipe {
		e.patterns.Restore(nil)
	}
	rep := e.patterns.Recluster(all, profiles)
	e.persist()
	e.log.Info("recluster finished",
		zap.Int("groups", rep.Patterns),
		zap.Int("clustered", rep.Clustered),
		zap.Int("skipped", rep.Skipped),
		zap.Bool("wipe", wipe))
	return rep, nil
}

// Groups lists all device groups, largest first.
func (e *Engine) Groups() []*pattern.Pattern { return e.patterns.List() }

// Group returns one group by id.
func (e *Engine) Group(id string) (*pattern.Pattern, error) { return e.patterns.Get(id) }

// GroupForSession returns the group holding a session.
func (e *Engine) GroupForSession(sessionID string) (*pattern.Pattern, error) {
	return e.patterns.FindBySession(sessionID)
}

// Sessions lists stored sessions.
func (e *Engine) Sessions(ctx context.Context, opts store.ListOpts) ([]*charging.Session, error) {
	return e.sessions.ListSessions(ctx, opts)
}

// Session loads one session with readings.
func (e *Engine) Session(ctx context.Context, id string) (*charging.Session, error) {
	return e.sessions.GetSession(ctx, id)
}

// LiveGuess names the best-matching group for a session as profiled so
// far. A nil guess means nothing clears the match threshold.
func (e *Engine) LiveGuess(ctx context.Context, sessionID string) (*live.Guess, error) {
	sess, err := e.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return e.guesser.BestMatch(sess)
}

// LiveEstimate predicts remaining charge time for a session.
func (e *Engine) LiveEstimate(ctx context.Context, sessionID string, now time.Time) (*live.Estimate, error) {
	sess, err := e.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return e.estimator.Estimate(sess, now)
}

// SessionFinished reports whether a session is done charging: closed
// sessions are, open ones are judged by the completion heuristic.
func (e *Engine) SessionFinished(ctx context.Context, sessionID string, now time.Time) (bool, error) {
	sess, err := e.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return false, err
	}
	if sess.Complete() {
		return true, nil
	}
	return e.completion.Finished(sess, now), nil
}

// DiagnoseSession explains why a session does or does not have a name.
func (e *Engine) DiagnoseSession(ctx context.Context, sessionID string) (*diagnose.Report, error) {
	sess, err := e.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return e.diag.Session(sess)
}

// Diagnostics summarizes stored state for the health surface.
type Diagnostics struct {
	Sessions       int64  `json:"sessions"`
	ActiveSessions int64  `json:"active_sessions"`
	Readings       int64  `json:"readings"`
	Groups         int    `json:"groups"`
	SnapshotPath   string `json:"snapshot_path,omitempty"`
}

// Diagnostics reports row counts and group counts.
func (e *Engine) Diagnostics(ctx context.Context) (*Diagnostics, error) {
	stats, err := e.sessions.Stats(ctx)
	if err != nil {
		return nil, err
	}
	d := &Diagnostics{
		Sessions:       stats.Sessions,
		ActiveSessions: stats.ActiveSessions,
		Readings:       stats.Readings,
		Groups:         e.patterns.Len(),
	}
	if e.snapshot != nil {
		d.SnapshotPath = e.snapshot.Path()
	}
	return d, nil
}

// SaveSnapshot writes the group collection to disk now.
func (e *Engine) SaveSnapshot() error {
	if e.snapshot == nil {
		return nil
	}
	return e.snapshot.Save(e.patterns.Snapshot())
}

// Close snapshots the groups one last time and closes the session store.
func (e *Engine) Close() error {
	if err := e.SaveSnapshot(); err != nil {
		e.log.Warn("final group snapshot failed", zap.Error(err))
	}
	return e.sessions.Close()
}

// persist snapshots after a mutation. The in-memory collection stays
// authoritative, so a failed write is logged rather than unwinding the
// mutation that triggered it.
func (e *Engine) persist() {
	if err := e.SaveSnapshot(); err != nil {
		e.log.Warn("group snapshot failed", zap.Error(err))
	}
}
