// Package student is the session membership controller: join by code,
// reconnect after a refresh, submit answers, report reading position, leave.
package student

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/victornm/liveclass/internal/code"
	"github.com/victornm/liveclass/internal/domain"
	"github.com/victornm/liveclass/internal/errors"
	"github.com/victornm/liveclass/internal/event"
	"github.com/victornm/liveclass/internal/persist"
	"github.com/victornm/liveclass/internal/presence"
	"github.com/victornm/liveclass/internal/response"
	"github.com/victornm/liveclass/internal/store"
	"github.com/victornm/liveclass/internal/syncer"
)

type Config struct {
	// StudentIdentifier is the stable opaque identity supplied by the
	// external auth collaborator.
	StudentIdentifier string
	Store             store.Store
	Persist           persist.Adapter
	Bus               *event.Bus
	Presence          *presence.Tracker
	NewTickerFunc     func(d time.Duration) syncer.Ticker
}

type Controller struct {
	studentID string
	store     store.Store
	persist   persist.Adapter
	bus       *event.Bus
	presence  *presence.Tracker
	collector *response.Collector
	channel   *syncer.Channel

	mu           sync.RWMutex
	session      *domain.Session
	participant  *domain.Participant
	participants []domain.Participant
	prompts      []domain.Prompt
	latestPrompt *domain.Prompt
	reconnecting bool
}

func NewController(c Config) *Controller {
	ctrl := &Controller{
		studentID: c.StudentIdentifier,
		store:     c.Store,
		persist:   c.Persist,
		bus:       c.Bus,
		presence:  c.Presence,
		collector: response.NewCollector(response.Config{Store: c.Store}),
	}

	ctrl.channel = syncer.NewChannel(syncer.Config{
		Store:         c.Store,
		Presence:      c.Presence,
		Persist:       c.Persist,
		Bus:           c.Bus,
		Reducer:       ctrl,
		NewTickerFunc: c.NewTickerFunc,
	})

	return ctrl
}

// Join looks up a non-ended session by join code (case-normalized), upserts
// the participant row so rejoin-after-refresh cannot duplicate it, fetches
// prior responses and the roster, and persists client state. A bad code
// reports (false, nil), never an error.
func (c *Controller) Join(ctx context.Context, rawCode, displayName string) (bool, error) {
	joinCode := code.Normalize(rawCode)

	ss, err := c.store.GetSessionByCode(ctx, joinCode)
	if errors.IsNotFound(err) {
		slog.InfoContext(ctx, "student: session not found", "code", joinCode)
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("join: %w", err)
	}

	if err := c.enter(ctx, ss, displayName); err != nil {
		return false, err
	}

	slog.InfoContext(ctx, "student: joined session",
		"session", ss.ID,
		"code", ss.Code,
	)

	return true, nil
}

// Reconnect runs once at process start, before any user action. It trusts the
// persisted client state only after revalidating it against the store: a
// missing or ended session clears the stale state and reports "not in a
// session". The valid path restores state silently, with no join code asked.
func (c *Controller) Reconnect(ctx context.Context) (bool, error) {
	saved, ok := c.persist.Load(ctx)
	if !ok || saved.Role != domain.RoleStudent || saved.StudentIdentifier != c.studentID {
		return false, nil
	}

	c.setReconnecting(true)
	defer c.setReconnecting(false)

	slog.InfoContext(ctx, "student: attempting reconnect", "code", saved.SessionCode)

	ss, err := c.store.GetSession(ctx, saved.SessionID)
	if errors.IsNotFound(err) || (err == nil && ss.Ended()) {
		slog.InfoContext(ctx, "student: saved session no longer active, clearing state")
		c.persist.Clear(ctx)
		return false, nil
	}
	if err != nil {
		// Transport trouble: keep the saved state, a later attempt may
		// succeed. Proceed as "not in a session" for now.
		slog.ErrorContext(ctx, "student: reconnect lookup failed", "error", err)
		return false, nil
	}

	if err := c.enter(ctx, ss, saved.DisplayName); err != nil {
		c.persist.Clear(ctx)
		return false, err
	}

	slog.InfoContext(ctx, "student: reconnected", "code", ss.Code)
	return true, nil
}

// enter replays the shared join/reconnect sequence against a resolved session.
func (c *Controller) enter(ctx context.Context, ss *domain.Session, displayName string) error {
	// A previous membership's loop must not outlive it: joining while already
	// joined rebinds the channel to the new session.
	c.channel.Stop()

	p, err := c.store.UpsertParticipant(ctx, &domain.Participant{
		SessionID:         ss.ID,
		StudentIdentifier: c.studentID,
		DisplayName:       displayName,
	})
	if err != nil {
		return fmt.Errorf("upsert participant: %w", err)
	}

	prior, err := c.store.ListResponses(ctx, ss.ID, p.ID)
	if err != nil {
		return fmt.Errorf("fetch responses: %w", err)
	}

	roster, err := c.store.ListParticipants(ctx, ss.ID)
	if err != nil {
		return fmt.Errorf("fetch participants: %w", err)
	}

	prompts, err := c.store.ListPrompts(ctx, ss.ID)
	if err != nil {
		return fmt.Errorf("fetch prompts: %w", err)
	}

	c.mu.Lock()
	c.session = ss
	c.participant = p
	c.participants = roster
	c.prompts = prompts
	c.latestPrompt = nil
	c.mu.Unlock()

	c.collector.Replace(prior)

	c.persist.Save(ctx, domain.ClientState{
		SessionID:         ss.ID,
		SessionCode:       ss.Code,
		LessonID:          ss.LessonID,
		Role:              domain.RoleStudent,
		ParticipantID:     p.ID,
		DisplayName:       displayName,
		StudentIdentifier: c.studentID,
		JoinedAt:          time.Now().UTC(),
	})

	if err := c.channel.Start(ctx, ss.ID, p.ID); err != nil {
		// Push is an optimization; the membership still works, the pull loop
		// could not start either so log loudly.
		slog.ErrorContext(ctx, "student: start sync channel failed", "error", err)
	}

	return nil
}

// Leave marks the participant offline, clears persisted and in-memory state
// and tears down the sync channel.
func (c *Controller) Leave(ctx context.Context) error {
	c.mu.RLock()
	p := c.participant
	c.mu.RUnlock()

	if p == nil {
		return nil
	}

	c.channel.Stop()

	if err := c.presence.MarkOffline(ctx, p.ID); err != nil {
		slog.ErrorContext(ctx, "student: mark offline failed", "error", err)
	}

	c.persist.Clear(ctx)

	c.mu.Lock()
	c.session = nil
	c.participant = nil
	c.participants = nil
	c.prompts = nil
	c.latestPrompt = nil
	c.mu.Unlock()

	c.collector.Reset()

	slog.InfoContext(ctx, "student: left session")
	return nil
}

// SubmitResponse records one answer through the response collector. Failures
// surface to the caller; the local view never shows an unconfirmed answer.
func (c *Controller) SubmitResponse(ctx context.Context, questionType string, questionIndex int, answer map[string]any, correct *bool) error {
	c.mu.RLock()
	ss, p := c.session, c.participant
	c.mu.RUnlock()

	if ss == nil || p == nil {
		return errors.New(errors.CodeFailedPrecondition, errors.WithMessagef("not in a session"))
	}

	out, err := c.collector.Submit(ctx, ss.ID, p.ID, questionType, questionIndex, answer, correct)
	if err != nil {
		return err
	}

	c.bus.Publish(ctx, domain.EventResponseRecorded{Response: *out})
	return nil
}

// UpdateSection is a heartbeat-style write of the student's current reading
// position, used by the teacher dashboard for pacing visibility only.
func (c *Controller) UpdateSection(ctx context.Context, section string) error {
	c.mu.RLock()
	p := c.participant
	c.mu.RUnlock()

	if p == nil {
		return errors.New(errors.CodeFailedPrecondition, errors.WithMessagef("not in a session"))
	}

	now := time.Now().UTC()
	online := true
	err := c.store.UpdateParticipant(ctx, p.ID, store.ParticipantPatch{
		CurrentSection: &section,
		LastSeenAt:     &now,
		Online:         &online,
	})
	if err != nil {
		return fmt.Errorf("update section: %w", err)
	}

	return nil
}

// DismissPrompt clears the latest prompt after the student has seen it. The
// full prompt history is kept.
func (c *Controller) DismissPrompt() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.latestPrompt = nil
}

// Stop tears down the sync channel without leaving the session, the
// process-shutdown path. Persisted state survives so the next start can
// reconnect.
func (c *Controller) Stop() {
	c.channel.Stop()
}

func (c *Controller) setReconnecting(v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.reconnecting = v
}

// ---- reducer (fed by the sync channel) ----

func (c *Controller) ApplySession(ss domain.Session) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Drop rows from a membership this controller has already left.
	if c.session == nil || c.session.ID != ss.ID {
		return
	}
	c.session = &ss
}

func (c *Controller) ApplyParticipants(ps []domain.Participant) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session == nil {
		return
	}
	if len(ps) > 0 && ps[0].SessionID != c.session.ID {
		return
	}
	c.participants = ps
}

func (c *Controller) ApplyPrompt(p domain.Prompt) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session == nil || c.session.ID != p.SessionID {
		return
	}
	c.prompts = append(c.prompts, p)
	c.latestPrompt = &p
}

// ---- observable state ----

func (c *Controller) Session() *domain.Session {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.session == nil {
		return nil
	}
	cp := *c.session
	return &cp
}

func (c *Controller) Participant() *domain.Participant {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.participant == nil {
		return nil
	}
	cp := *c.participant
	return &cp
}

func (c *Controller) Participants() []domain.Participant {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return append([]domain.Participant(nil), c.participants...)
}

func (c *Controller) Responses() []domain.Response {
	return c.collector.Responses()
}

func (c *Controller) Prompts() []domain.Prompt {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return append([]domain.Prompt(nil), c.prompts...)
}

func (c *Controller) LatestPrompt() *domain.Prompt {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.latestPrompt == nil {
		return nil
	}
	cp := *c.latestPrompt
	return &cp
}

func (c *Controller) Reconnecting() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.reconnecting
}
