// Package syncer propagates session, participant and prompt changes between
// processes watching the same session, over two deliberately redundant paths:
// a best-effort push subscription and a fixed-interval reconciliation pull.
// Either path alone is sufficient for correctness; push only buys latency.
package syncer

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/victornm/liveclass/internal/domain"
	"github.com/victornm/liveclass/internal/event"
	"github.com/victornm/liveclass/internal/persist"
	"github.com/victornm/liveclass/internal/presence"
	"github.com/victornm/liveclass/internal/store"
)

// Ticker abstracts time.Ticker so tests can drive reconciliation manually.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type realTicker struct {
	t *time.Ticker
}

func (r realTicker) C() <-chan time.Time { return r.t.C }
func (r realTicker) Stop()               { r.t.Stop() }

// NewTicker returns the production Ticker.
func NewTicker(d time.Duration) Ticker {
	return realTicker{t: time.NewTicker(d)}
}

// Reducer is the local-state sink both producers feed. Its operations must be
// safe to apply out of order: ApplySession is last-write-wins on the whole
// row, ApplyParticipants replaces the whole list.
type Reducer interface {
	ApplySession(s domain.Session)
	ApplyParticipants(ps []domain.Participant)
	ApplyPrompt(p domain.Prompt)
}

type Config struct {
	Store         store.Store
	Presence      *presence.Tracker
	Persist       persist.Adapter
	Bus           *event.Bus
	Reducer       Reducer
	NewTickerFunc func(d time.Duration) Ticker
}

// Channel is one membership's sync loop. It owns its subscription handle and
// its timer and is torn down deterministically by Stop; there is no
// process-wide registry of active sessions.
type Channel struct {
	store    store.Store
	presence *presence.Tracker
	persist  persist.Adapter
	bus      *event.Bus
	reducer  Reducer
	newTick  func(d time.Duration) Ticker

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	started bool
}

func NewChannel(c Config) *Channel {
	if c.NewTickerFunc == nil {
		c.NewTickerFunc = NewTicker
	}

	return &Channel{
		store:    c.Store,
		presence: c.Presence,
		persist:  c.Persist,
		bus:      c.Bus,
		reducer:  c.Reducer,
		newTick:  c.NewTickerFunc,
	}
}

// Start subscribes to the session's change feed and begins the
// heartbeat/reconciliation loop. participantID is empty for teacher
// memberships, which reconcile without writing a heartbeat row.
func (ch *Channel) Start(ctx context.Context, sessionID, participantID string) error {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	if ch.started {
		return nil
	}

	sub, err := ch.store.Subscribe(ctx, sessionID)
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	ch.cancel = cancel
	ch.done = make(chan struct{})
	ch.started = true

	go ch.run(runCtx, sub, sessionID, participantID)
	return nil
}

// Stop tears the channel down: unsubscribe, stop the timer, wait for the
// loop to exit. In-flight requests complete and their results are discarded.
func (ch *Channel) Stop() {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	if !ch.started {
		return
	}

	ch.cancel()
	<-ch.done
	ch.started = false
}

func (ch *Channel) run(ctx context.Context, sub store.Subscription, sessionID, participantID string) {
	defer close(ch.done)
	defer func() {
		if err := sub.Close(); err != nil {
			slog.ErrorContext(ctx, "syncer: close subscription failed", "error", err)
		}
	}()

	tick := ch.newTick(ch.presence.Interval())
	defer tick.Stop()

	changes := sub.Changes()

	for {
		select {
		case <-ctx.Done():
			return

		case c, ok := <-changes:
			if !ok {
				// Push delivery died. The pull path keeps converging, so
				// stay in the loop rather than failing the membership.
				changes = nil
				continue
			}
			ch.applyPush(ctx, c, sessionID)

		case <-tick.C():
			ch.reconcile(ctx, sessionID, participantID)
		}
	}
}

// applyPush handles one best-effort change notification.
func (ch *Channel) applyPush(ctx context.Context, c store.Change, sessionID string) {
	switch c.Table {
	case store.TableSessions:
		if c.Session == nil {
			return
		}
		ch.applySession(ctx, *c.Session)

	case store.TablePrompts:
		if c.Prompt == nil {
			return
		}
		ch.reducer.ApplyPrompt(*c.Prompt)
		ch.bus.Publish(ctx, domain.EventPromptReceived{Prompt: *c.Prompt})

	case store.TableParticipants, store.TableResponses:
		// Notifications for these tables carry no payload. Re-fetch the full
		// roster; responses are pulled on demand by their owners.
		roster, err := ch.store.ListParticipants(ctx, sessionID)
		if err != nil {
			slog.ErrorContext(ctx, "syncer: refresh roster failed", "error", err)
			return
		}
		ch.reducer.ApplyParticipants(roster)
		ch.bus.Publish(ctx, domain.EventParticipantsChanged{SessionID: sessionID, Participants: roster})
	}
}

// reconcile is the pull path: heartbeat (students), then wholesale re-fetch
// of the roster and the session row. Failures are logged and swallowed, the
// next interval self-corrects.
func (ch *Channel) reconcile(ctx context.Context, sessionID, participantID string) {
	var (
		eg     errgroup.Group
		roster []domain.Participant
		ss     *domain.Session
	)

	eg.Go(func() error {
		var err error
		if participantID != "" {
			roster, err = ch.presence.Heartbeat(ctx, participantID, sessionID)
		} else {
			roster, err = ch.store.ListParticipants(ctx, sessionID)
		}
		return err
	})

	eg.Go(func() error {
		var err error
		ss, err = ch.store.GetSession(ctx, sessionID)
		return err
	})

	if err := eg.Wait(); err != nil {
		slog.ErrorContext(ctx, "syncer: reconcile failed",
			"session", sessionID,
			"error", err,
		)
		return
	}

	ch.reducer.ApplyParticipants(roster)
	ch.bus.Publish(ctx, domain.EventParticipantsChanged{SessionID: sessionID, Participants: roster})
	ch.applySession(ctx, *ss)
}

// applySession applies a session row from either path. An ended session must
// never be silently reconnectable, so clearing the persisted client state is
// a side effect here, not a UI concern.
func (ch *Channel) applySession(ctx context.Context, ss domain.Session) {
	if ss.Ended() {
		ch.persist.Clear(ctx)
		ch.reducer.ApplySession(ss)
		ch.bus.Publish(ctx, domain.EventSessionEnded{Session: ss})
		return
	}

	ch.reducer.ApplySession(ss)
	ch.bus.Publish(ctx, domain.EventSessionUpdated{Session: ss})
}
