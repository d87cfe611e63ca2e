package syncer_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victornm/liveclass/internal/domain"
	"github.com/victornm/liveclass/internal/event"
	"github.com/victornm/liveclass/internal/persist"
	"github.com/victornm/liveclass/internal/presence"
	"github.com/victornm/liveclass/internal/store"
	"github.com/victornm/liveclass/internal/syncer"
)

type recordingReducer struct {
	mu           sync.Mutex
	session      *domain.Session
	participants []domain.Participant
	prompts      []domain.Prompt
}

func (r *recordingReducer) ApplySession(s domain.Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.session = &s
}

func (r *recordingReducer) ApplyParticipants(ps []domain.Participant) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.participants = ps
}

func (r *recordingReducer) ApplyPrompt(p domain.Prompt) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.prompts = append(r.prompts, p)
}

func (r *recordingReducer) Session() *domain.Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.session
}

func (r *recordingReducer) Participants() []domain.Participant {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.participants
}

func (r *recordingReducer) Prompts() []domain.Prompt {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.Prompt(nil), r.prompts...)
}

type manualTicker struct {
	ch chan time.Time
}

func (m manualTicker) C() <-chan time.Time { return m.ch }
func (m manualTicker) Stop()               {}

func setup(t *testing.T) (*store.Memory, *domain.Session) {
	t.Helper()

	s := store.NewMemory()
	ss := &domain.Session{Code: "AB23CD", TeacherID: "teacher-1", Status: domain.StatusActive}
	require.NoError(t, s.CreateSession(context.Background(), ss))
	return s, ss
}

func TestChannel_Push(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s, ss := setup(t)

	r := &recordingReducer{}
	ch := syncer.NewChannel(syncer.Config{
		Store:    s,
		Presence: presence.NewTracker(presence.Config{Store: s}),
		Persist:  persist.Noop{},
		Bus:      event.NewBus(),
		Reducer:  r,
	})

	require.NoError(t, ch.Start(ctx, ss.ID, ""))
	defer ch.Stop()

	// session change carries its payload
	section := "section-2"
	_, err := s.UpdateSession(ctx, ss.ID, store.SessionPatch{CurrentSection: &section})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		got := r.Session()
		return got != nil && got.CurrentSection == "section-2"
	}, time.Second, 10*time.Millisecond)

	// participant change triggers a roster re-fetch
	_, err = s.UpsertParticipant(ctx, &domain.Participant{SessionID: ss.ID, StudentIdentifier: "student-42"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(r.Participants()) == 1
	}, time.Second, 10*time.Millisecond)

	// prompt change carries its payload
	_, err = s.InsertPrompt(ctx, &domain.Prompt{SessionID: ss.ID, PromptType: domain.PromptMessage, Content: "hello"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(r.Prompts()) == 1
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, "hello", r.Prompts()[0].Content)
}

func TestChannel_PullHeartbeat(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s, ss := setup(t)

	p, err := s.UpsertParticipant(ctx, &domain.Participant{SessionID: ss.ID, StudentIdentifier: "student-42"})
	require.NoError(t, err)

	stale := time.Now().Add(-time.Hour)
	require.NoError(t, s.UpdateParticipant(ctx, p.ID, store.ParticipantPatch{LastSeenAt: &stale}))

	tick := manualTicker{ch: make(chan time.Time)}
	r := &recordingReducer{}
	ch := syncer.NewChannel(syncer.Config{
		Store:         s,
		Presence:      presence.NewTracker(presence.Config{Store: s}),
		Persist:       persist.Noop{},
		Bus:           event.NewBus(),
		Reducer:       r,
		NewTickerFunc: func(time.Duration) syncer.Ticker { return tick },
	})

	require.NoError(t, ch.Start(ctx, ss.ID, p.ID))
	defer ch.Stop()

	tick.ch <- time.Now()

	require.Eventually(t, func() bool {
		roster := r.Participants()
		return len(roster) == 1 && time.Since(roster[0].LastSeenAt) < time.Minute
	}, time.Second, 10*time.Millisecond, "the tick must write a heartbeat and refresh the roster")

	require.Eventually(t, func() bool {
		return r.Session() != nil
	}, time.Second, 10*time.Millisecond, "the tick must also re-fetch the session row")
}

func TestChannel_EndedSessionClearsState(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s, ss := setup(t)

	saver := &slotRecorder{saved: true}
	r := &recordingReducer{}
	ch := syncer.NewChannel(syncer.Config{
		Store:    s,
		Presence: presence.NewTracker(presence.Config{Store: s}),
		Persist:  saver,
		Bus:      event.NewBus(),
		Reducer:  r,
	})

	require.NoError(t, ch.Start(ctx, ss.ID, ""))
	defer ch.Stop()

	ended := domain.StatusEnded
	_, err := s.UpdateSession(ctx, ss.ID, store.SessionPatch{Status: &ended})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		got := r.Session()
		return got != nil && got.Ended()
	}, time.Second, 10*time.Millisecond)

	assert.True(t, saver.cleared(), "ending the session must drop the persisted slot")
}

func TestChannel_StartStop(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s, ss := setup(t)

	ch := syncer.NewChannel(syncer.Config{
		Store:    s,
		Presence: presence.NewTracker(presence.Config{Store: s}),
		Persist:  persist.Noop{},
		Bus:      event.NewBus(),
		Reducer:  &recordingReducer{},
	})

	require.NoError(t, ch.Start(ctx, ss.ID, ""))
	require.NoError(t, ch.Start(ctx, ss.ID, ""), "double start is a no-op")

	ch.Stop()
	ch.Stop() // double stop is a no-op too

	// a stopped channel can start again
	require.NoError(t, ch.Start(ctx, ss.ID, ""))
	ch.Stop()
}

type slotRecorder struct {
	mu    sync.Mutex
	saved bool
}

func (s *slotRecorder) Save(context.Context, domain.ClientState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved = true
}

func (s *slotRecorder) Load(context.Context) (*domain.ClientState, bool) {
	return nil, false
}

func (s *slotRecorder) Clear(context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved = false
}

func (s *slotRecorder) cleared() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.saved
}
