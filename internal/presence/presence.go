// Package presence keeps one participant's liveness visible to everyone else
// in the session. Heartbeats refresh last_seen_at; staleness inferred by
// readers, not an explicit flag, is the authoritative "probably left" signal
// because nothing guarantees a closing tab flips itself offline.
package presence

import (
	"context"
	"fmt"
	"time"

	"github.com/victornm/liveclass/internal/domain"
	"github.com/victornm/liveclass/internal/store"
)

const (
	// DefaultHeartbeatInterval is the fixed heartbeat/reconciliation cadence.
	// A config constant, not hot-configurable per session.
	DefaultHeartbeatInterval = 5 * time.Second

	// staleMultiplier: a participant is considered offline once its last
	// heartbeat is older than this many intervals.
	staleMultiplier = 3
)

type Config struct {
	Store    store.Store
	Interval time.Duration
}

type Tracker struct {
	store    store.Store
	interval time.Duration
}

func NewTracker(c Config) *Tracker {
	if c.Interval <= 0 {
		c.Interval = DefaultHeartbeatInterval
	}

	return &Tracker{
		store:    c.Store,
		interval: c.Interval,
	}
}

func (t *Tracker) Interval() time.Duration {
	return t.interval
}

// Heartbeat marks the participant alive and re-fetches the full roster, so
// the caller's view converges even when the push channel missed an event.
// Each participant only ever writes its own row, no conflict handling needed.
func (t *Tracker) Heartbeat(ctx context.Context, participantID, sessionID string) ([]domain.Participant, error) {
	now := time.Now().UTC()
	online := true

	err := t.store.UpdateParticipant(ctx, participantID, store.ParticipantPatch{
		Online:     &online,
		LastSeenAt: &now,
	})
	if err != nil {
		return nil, fmt.Errorf("presence: heartbeat: %w", err)
	}

	roster, err := t.store.ListParticipants(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("presence: refresh roster: %w", err)
	}

	return roster, nil
}

// MarkOffline flips the online flag on explicit leave. It is never invoked
// automatically on teardown; staleness covers the silent-exit case.
func (t *Tracker) MarkOffline(ctx context.Context, participantID string) error {
	offline := false
	err := t.store.UpdateParticipant(ctx, participantID, store.ParticipantPatch{
		Online: &offline,
	})
	if err != nil {
		return fmt.Errorf("presence: mark offline: %w", err)
	}

	return nil
}

// Tolerance is the staleness window readers should apply with
// domain.Participant.OnlineNow when rendering presence.
func (t *Tracker) Tolerance() time.Duration {
	return t.interval * staleMultiplier
}

// OnlineCount counts participants that are live right now under the
// staleness rule.
func (t *Tracker) OnlineCount(roster []domain.Participant, now time.Time) int {
	n := 0
	for i := range roster {
		if roster[i].OnlineNow(now, t.Tolerance()) {
			n++
		}
	}
	return n
}
