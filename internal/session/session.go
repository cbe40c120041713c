// Package session implements the Session Supervisor: the owner of one
// session's Conversation, Stats, Mode, and Agent Profile, exposing
// act/switch_mode/reload/clear over a single Agent Loop instance.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nexuscore/agentcore/internal/agentloop"
	"github.com/nexuscore/agentcore/internal/convo"
	"github.com/nexuscore/agentcore/internal/middleware"
	"github.com/nexuscore/agentcore/internal/permission"
)

// Mode overlays the base configuration. Applying a Mode at a turn boundary
// sets the permission engine's enabled tool set from EnabledTools;
// AutoApprove and SafetyClass are carried on the Mode for callers to read
// and are not applied by the Supervisor.
type Mode struct {
	Name         string
	AutoApprove  bool
	EnabledTools []string // nil/empty means every registered tool
	SafetyClass  string
}

// Metadata identifies and dates a persisted session archive, matching the
// metadata block of the persisted-session-file schema: session_id,
// start_time, an optional end_time (set only once the session is
// explicitly ended), and the deployment environment it ran in.
type Metadata struct {
	SessionID   string
	StartTime   time.Time
	EndTime     *time.Time
	Environment string
}

// Store persists a session's full archive under its SessionId -- metadata,
// message history, accounting stats, and the config snapshot that produced
// the live system prompt -- used by reload, clear, and end before the live
// conversation is rebuilt/rotated.
type Store interface {
	SaveSession(ctx context.Context, meta Metadata, messages []convo.Message, stats convo.Stats, snapshot ConfigSnapshot) error
}

// ConfigSnapshot is the input to Reload: a frozen view of whatever produced
// the current system prompt (profile, tool list, instructions file, etc).
type ConfigSnapshot struct {
	SystemPrompt string
}

// Observer receives a notification every time the Supervisor's conversation
// is mutated from outside a turn (mode switch, reload, clear), so a UI or
// persistence boundary can stay in sync without polling.
type Observer interface {
	Notify(ctx context.Context, sessionID string, reason string)
}

// ObserverFunc adapts a function to an Observer.
type ObserverFunc func(ctx context.Context, sessionID, reason string)

func (f ObserverFunc) Notify(ctx context.Context, sessionID, reason string) { f(ctx, sessionID, reason) }

// Supervisor owns the Conversation/Stats/Mode triple for one session and
// drives a single Loop.
type Supervisor struct {
	mu sync.Mutex

	loop       *agentloop.Loop
	permission *permission.Engine
	pipeline   *middleware.Pipeline
	store      Store
	observer   Observer

	mode        Mode
	pendingMode *Mode

	startTime   time.Time
	environment string
	ended       bool
}

// New builds a Supervisor around an already-wired Loop. store and observer
// may both be nil. environment labels every persisted archive ("development",
// "staging", "production", ...); startTime is recorded now, as the session
// begins.
func New(loop *agentloop.Loop, perm *permission.Engine, pipeline *middleware.Pipeline, store Store, observer Observer, environment string) *Supervisor {
	return &Supervisor{
		loop: loop, permission: perm, pipeline: pipeline,
		store: store, observer: observer,
		startTime: time.Now(), environment: environment,
	}
}

// Act delegates to the Agent Loop for one user turn, first applying any
// mode switch requested since the last turn.
func (s *Supervisor) Act(ctx context.Context, userText string) error {
	s.mu.Lock()
	s.applyPendingModeLocked()
	s.mu.Unlock()

	return s.loop.Act(ctx, userText)
}

// SwitchMode queues a Mode overlay to take effect at the next turn
// boundary, per spec's "atomically at the next turn boundary" rule: a turn
// already in flight keeps its current Mode.
func (s *Supervisor) SwitchMode(m Mode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pendingMode = &m
}

// CurrentMode returns the Mode presently in effect.
func (s *Supervisor) CurrentMode() Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

func (s *Supervisor) applyPendingModeLocked() {
	if s.pendingMode == nil {
		return
	}
	s.mode = *s.pendingMode
	s.pendingMode = nil
	if s.permission != nil {
		s.permission.SetEnabledTools(s.mode.EnabledTools)
	}
}

// Reload persists the current session, rebuilds the system message from
// snapshot, preserves every non-system message, and keeps the SessionId.
func (s *Supervisor) Reload(ctx context.Context, snapshot ConfigSnapshot) error {
	c := s.loop.Convo
	if err := s.persist(ctx, c); err != nil {
		return fmt.Errorf("session: reload: persist: %w", err)
	}
	c.SetSystemPrompt(snapshot.SystemPrompt)
	s.notify(ctx, c.SessionID(), "reload")
	return nil
}

// Clear persists the current session, replaces the conversation with just
// the system message, mints a new SessionId, and broadcasts reset(STOP) to
// the middleware pipeline.
func (s *Supervisor) Clear(ctx context.Context) error {
	c := s.loop.Convo
	if err := s.persist(ctx, c); err != nil {
		return fmt.Errorf("session: clear: persist: %w", err)
	}
	c.Reset("")
	if s.pipeline != nil {
		s.pipeline.Reset(middleware.ResetStop)
	}
	s.notify(ctx, c.SessionID(), "clear")
	return nil
}

func (s *Supervisor) persist(ctx context.Context, c *convo.Conversation) error {
	if s.store == nil {
		return nil
	}
	meta := Metadata{
		SessionID:   c.SessionID(),
		StartTime:   s.startTime,
		Environment: s.environment,
	}
	if s.ended {
		end := time.Now()
		meta.EndTime = &end
	}
	snapshot := ConfigSnapshot{SystemPrompt: c.SystemPrompt()}
	return s.store.SaveSession(ctx, meta, c.Messages(), c.Stats(), snapshot)
}

// End marks the session as finished (EndTime is recorded on the next
// persisted archive) and writes a final archive. Call this once, at
// process shutdown, after the last Act/Reload/Clear call returns.
func (s *Supervisor) End(ctx context.Context) error {
	s.mu.Lock()
	s.ended = true
	c := s.loop.Convo
	s.mu.Unlock()
	if err := s.persist(ctx, c); err != nil {
		return fmt.Errorf("session: end: persist: %w", err)
	}
	s.notify(ctx, c.SessionID(), "end")
	return nil
}

func (s *Supervisor) notify(ctx context.Context, sessionID, reason string) {
	if s.observer != nil {
		s.observer.Notify(ctx, sessionID, reason)
	}
}
