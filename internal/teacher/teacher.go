// Package teacher is the session lifecycle controller: it creates the session
// row, drives the waiting -> active <-> paused -> ended state machine and is
// the only writer of the session row.
package teacher

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

// codeAttempts bounds retries when a generated join code collides with a
// live session.
const codeAttempts = 5

type Config struct {
	TeacherID     string
	LessonID      string
	Store         store.Store
	Persist       persist.Adapter
	Bus           *event.Bus
	Presence      *presence.Tracker
	NewTickerFunc func(d time.Duration) syncer.Ticker
}

type Controller struct {
	teacherID string
	lessonID  string
	store     store.Store
	persist   persist.Adapter
	bus       *event.Bus
	presence  *presence.Tracker
	collector *response.Collector
	channel   *syncer.Channel

	mu           sync.RWMutex
	session      *domain.Session
	participants []domain.Participant
	responses    []domain.Response
}

func NewController(c Config) *Controller {
	ctrl := &Controller{
		teacherID: c.TeacherID,
		lessonID:  c.LessonID,
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

// Create allocates a new session in waiting state with a unique join code and
// persists the teacher's client state for reconnection.
func (c *Controller) Create(ctx context.Context, title string) (*domain.Session, error) {
	var ss *domain.Session

	for attempt := 0; attempt < codeAttempts; attempt++ {
		joinCode, err := code.Generate()
		if err != nil {
			return nil, err
		}

		candidate := &domain.Session{
			Code:       joinCode,
			LessonID:   c.lessonID,
			TeacherID:  c.teacherID,
			Title:      title,
			Status:     domain.StatusWaiting,
			AllowAhead: true,
			Settings:   map[string]any{},
		}

		err = c.store.CreateSession(ctx, candidate)
		if errors.IsCode(err, errors.CodeAlreadyExists) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("create session: %w", err)
		}

		ss = candidate
		break
	}

	if ss == nil {
		return nil, errors.New(errors.CodeInternal,
			errors.WithMessagef("could not allocate a unique join code in %d attempts", codeAttempts))
	}

	// Rebind: a loop still running for an earlier session must not feed it.
	c.channel.Stop()

	c.mu.Lock()
	c.session = ss
	c.participants = nil
	c.responses = nil
	c.mu.Unlock()

	c.persist.Save(ctx, domain.ClientState{
		SessionID:   ss.ID,
		SessionCode: ss.Code,
		LessonID:    ss.LessonID,
		Role:        domain.RoleTeacher,
		JoinedAt:    time.Now().UTC(),
	})

	if err := c.channel.Start(ctx, ss.ID, ""); err != nil {
		slog.ErrorContext(ctx, "teacher: start sync channel failed", "error", err)
	}

	slog.InfoContext(ctx, "teacher: session created",
		"session", ss.ID,
		"code", ss.Code,
	)

	return ss, nil
}

// Reconnect resumes the teacher's most recent non-ended session, restoring
// roster and responses without any user action. Reports false when there is
// nothing to resume.
func (c *Controller) Reconnect(ctx context.Context) (bool, error) {
	ss, err := c.store.FindTeacherSession(ctx, c.teacherID)
	if errors.IsNotFound(err) {
		c.persist.Clear(ctx)
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("reconnect: %w", err)
	}

	roster, err := c.store.ListParticipants(ctx, ss.ID)
	if err != nil {
		return false, fmt.Errorf("reconnect: list participants: %w", err)
	}

	responses, err := c.store.ListSessionResponses(ctx, ss.ID)
	if err != nil {
		return false, fmt.Errorf("reconnect: list responses: %w", err)
	}

	c.channel.Stop()

	c.mu.Lock()
	c.session = ss
	c.participants = roster
	c.responses = responses
	c.mu.Unlock()

	c.persist.Save(ctx, domain.ClientState{
		SessionID:   ss.ID,
		SessionCode: ss.Code,
		LessonID:    ss.LessonID,
		Role:        domain.RoleTeacher,
		JoinedAt:    time.Now().UTC(),
	})

	if err := c.channel.Start(ctx, ss.ID, ""); err != nil {
		slog.ErrorContext(ctx, "teacher: start sync channel failed", "error", err)
	}

	return true, nil
}

// Start moves the session from waiting to active. Resuming a paused session
// is TogglePause's job; Start from any other state is rejected so StartedAt
// is stamped exactly once.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.RLock()
	current := c.session
	c.mu.RUnlock()

	if current == nil {
		return errors.New(errors.CodeFailedPrecondition, errors.WithMessagef("no session"))
	}
	if current.Status != domain.StatusWaiting {
		return errors.New(errors.CodeFailedPrecondition,
			errors.WithMessagef("cannot start session in status %s", current.Status))
	}

	now := time.Now().UTC()
	return c.transition(ctx, domain.StatusActive, func(p *store.SessionPatch) {
		p.StartedAt = &now
	})
}

// TogglePause flips active <-> paused. Rejected from any other state.
func (c *Controller) TogglePause(ctx context.Context) error {
	c.mu.RLock()
	current := c.session
	c.mu.RUnlock()

	if current == nil {
		return errors.New(errors.CodeFailedPrecondition, errors.WithMessagef("no session"))
	}

	switch current.Status {
	case domain.StatusActive:
		return c.transition(ctx, domain.StatusPaused, nil)
	case domain.StatusPaused:
		return c.transition(ctx, domain.StatusActive, nil)
	default:
		return errors.New(errors.CodeFailedPrecondition,
			errors.WithMessagef("cannot pause session in status %s", current.Status))
	}
}

// End moves the session to its terminal state from any non-ended state, sets
// ended_at and discards the persisted reconnection state. Every student
// controller observing the change treats it as a hard stop.
func (c *Controller) End(ctx context.Context) error {
	now := time.Now().UTC()
	err := c.transition(ctx, domain.StatusEnded, func(p *store.SessionPatch) {
		p.EndedAt = &now
	})
	if err != nil {
		return err
	}

	c.persist.Clear(ctx)
	c.channel.Stop()

	slog.InfoContext(ctx, "teacher: session ended")
	return nil
}

func (c *Controller) transition(ctx context.Context, to domain.SessionStatus, mutate func(*store.SessionPatch)) error {
	c.mu.RLock()
	current := c.session
	c.mu.RUnlock()

	if current == nil {
		return errors.New(errors.CodeFailedPrecondition, errors.WithMessagef("no session"))
	}

	if !domain.CanTransition(current.Status, to) {
		return errors.New(errors.CodeFailedPrecondition,
			errors.WithMessagef("illegal transition %s -> %s", current.Status, to))
	}

	patch := store.SessionPatch{Status: &to}
	if mutate != nil {
		mutate(&patch)
	}

	ss, err := c.store.UpdateSession(ctx, current.ID, patch)
	if err != nil {
		return fmt.Errorf("transition to %s: %w", to, err)
	}

	c.ApplySession(*ss)
	return nil
}

// UpdatePosition moves the teacher's pacing pointer.
func (c *Controller) UpdatePosition(ctx context.Context, section string, questionIndex int) error {
	return c.patchSession(ctx, store.SessionPatch{
		CurrentSection:       &section,
		CurrentQuestionIndex: &questionIndex,
	})
}

// ToggleAllowAhead flips whether students may move ahead of the teacher pace.
func (c *Controller) ToggleAllowAhead(ctx context.Context) error {
	c.mu.RLock()
	current := c.session
	c.mu.RUnlock()

	if current == nil {
		return errors.New(errors.CodeFailedPrecondition, errors.WithMessagef("no session"))
	}

	allow := !current.AllowAhead
	return c.patchSession(ctx, store.SessionPatch{AllowAhead: &allow})
}

func (c *Controller) patchSession(ctx context.Context, patch store.SessionPatch) error {
	c.mu.RLock()
	current := c.session
	c.mu.RUnlock()

	if current == nil {
		return errors.New(errors.CodeFailedPrecondition, errors.WithMessagef("no session"))
	}
	if current.Ended() {
		return errors.New(errors.CodeFailedPrecondition, errors.WithMessagef("session has ended"))
	}

	ss, err := c.store.UpdateSession(ctx, current.ID, patch)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}

	c.ApplySession(*ss)
	return nil
}

// SendPrompt broadcasts a prompt to every participant.
func (c *Controller) SendPrompt(ctx context.Context, promptType domain.PromptType, content string, metadata map[string]any) (*domain.Prompt, error) {
	c.mu.RLock()
	current := c.session
	c.mu.RUnlock()

	if current == nil {
		return nil, errors.New(errors.CodeFailedPrecondition, errors.WithMessagef("no session"))
	}
	if current.Ended() {
		return nil, errors.New(errors.CodeFailedPrecondition, errors.WithMessagef("session has ended"))
	}

	p, err := c.store.InsertPrompt(ctx, &domain.Prompt{
		SessionID:  current.ID,
		PromptType: promptType,
		Content:    content,
		Metadata:   metadata,
	})
	if err != nil {
		return nil, fmt.Errorf("send prompt: %w", err)
	}

	return p, nil
}

// RefreshResponses re-fetches every response in the session for the
// dashboard view.
func (c *Controller) RefreshResponses(ctx context.Context) error {
	c.mu.RLock()
	current := c.session
	c.mu.RUnlock()

	if current == nil {
		return errors.New(errors.CodeFailedPrecondition, errors.WithMessagef("no session"))
	}

	responses, err := c.store.ListSessionResponses(ctx, current.ID)
	if err != nil {
		return fmt.Errorf("refresh responses: %w", err)
	}

	c.mu.Lock()
	c.responses = responses
	c.mu.Unlock()

	return nil
}

// ResetParticipant deletes one participant's responses whose question type
// starts with prefix, so the student can retry that block.
func (c *Controller) ResetParticipant(ctx context.Context, participantID, prefix string) error {
	c.mu.RLock()
	current := c.session
	c.mu.RUnlock()

	if current == nil {
		return errors.New(errors.CodeFailedPrecondition, errors.WithMessagef("no session"))
	}

	if err := c.collector.Delete(ctx, current.ID, participantID, prefix); err != nil {
		return err
	}

	return c.RefreshResponses(ctx)
}

// Stop tears down the sync channel without ending the session, e.g. when the
// teacher process shuts down but class continues later.
func (c *Controller) Stop() {
	c.channel.Stop()
}

// ---- reducer (fed by the sync channel) ----

func (c *Controller) ApplySession(ss domain.Session) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Drop rows from an earlier session after the controller moved on.
	if c.session != nil && c.session.ID != ss.ID {
		return
	}
	c.session = &ss
}

func (c *Controller) ApplyParticipants(ps []domain.Participant) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session != nil && len(ps) > 0 && ps[0].SessionID != c.session.ID {
		return
	}
	c.participants = ps
}

func (c *Controller) ApplyPrompt(domain.Prompt) {
	// Teacher originates prompts; nothing to reduce.
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

func (c *Controller) Participants() []domain.Participant {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return append([]domain.Participant(nil), c.participants...)
}

func (c *Controller) Responses() []domain.Response {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return append([]domain.Response(nil), c.responses...)
}

// OnlineCount counts participants currently considered live under the
// staleness rule.
func (c *Controller) OnlineCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.presence.OnlineCount(c.participants, time.Now())
}
