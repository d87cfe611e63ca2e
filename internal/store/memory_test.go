package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victornm/liveclass/internal/domain"
	"github.com/victornm/liveclass/internal/errors"
	"github.com/victornm/liveclass/internal/store"
)

func newSession(t *testing.T, s store.Store, code string) *domain.Session {
	t.Helper()

	ss := &domain.Session{
		Code:      code,
		LessonID:  "lesson-1",
		TeacherID: "teacher-1",
		Title:     "Week 1 Discussion",
		Status:    domain.StatusWaiting,
	}
	require.NoError(t, s.CreateSession(context.Background(), ss))
	return ss
}

func TestMemory_GetSessionByCode(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	tests := map[string]struct {
		arrange func(t *testing.T, s *store.Memory)
		code    string
		assert  func(t *testing.T, got *domain.Session, err error)
	}{
		"found": {
			arrange: func(t *testing.T, s *store.Memory) {
				newSession(t, s, "AB23CD")
			},
			code: "AB23CD",
			assert: func(t *testing.T, got *domain.Session, err error) {
				require.NoError(t, err)
				assert.Equal(t, "Week 1 Discussion", got.Title)
			},
		},
		"ended session is not joinable": {
			arrange: func(t *testing.T, s *store.Memory) {
				ss := newSession(t, s, "AB23CD")
				ended := domain.StatusEnded
				_, err := s.UpdateSession(ctx, ss.ID, store.SessionPatch{Status: &ended})
				require.NoError(t, err)
			},
			code: "AB23CD",
			assert: func(t *testing.T, got *domain.Session, err error) {
				assert.True(t, errors.IsNotFound(err))
			},
		},
		"unknown code": {
			arrange: func(t *testing.T, s *store.Memory) {},
			code:    "ZZZZZZ",
			assert: func(t *testing.T, got *domain.Session, err error) {
				assert.True(t, errors.IsNotFound(err))
			},
		},
	}

	for name, test := range tests {
		test := test
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			s := store.NewMemory()
			test.arrange(t, s)

			got, err := s.GetSessionByCode(ctx, test.code)
			test.assert(t, got, err)
		})
	}
}

func TestMemory_CreateSession_DuplicateCode(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := store.NewMemory()

	newSession(t, s, "AB23CD")

	err := s.CreateSession(ctx, &domain.Session{Code: "AB23CD", TeacherID: "teacher-2", Status: domain.StatusWaiting})
	assert.True(t, errors.IsCode(err, errors.CodeAlreadyExists))

	// ending the first session frees the code
	ended := domain.StatusEnded
	ss, err := s.GetSessionByCode(ctx, "AB23CD")
	require.NoError(t, err)
	_, err = s.UpdateSession(ctx, ss.ID, store.SessionPatch{Status: &ended})
	require.NoError(t, err)

	err = s.CreateSession(ctx, &domain.Session{Code: "AB23CD", TeacherID: "teacher-2", Status: domain.StatusWaiting})
	assert.NoError(t, err)
}

func TestMemory_UpdateSession_CopiesSettings(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := store.NewMemory()
	ss := newSession(t, s, "AB23CD")

	settings := map[string]any{"timer_seconds": 30}
	_, err := s.UpdateSession(ctx, ss.ID, store.SessionPatch{Settings: settings})
	require.NoError(t, err)

	// mutating the caller's map must not reach the stored row
	settings["timer_seconds"] = 99

	got, err := s.GetSession(ctx, ss.ID)
	require.NoError(t, err)
	assert.Equal(t, 30, got.Settings["timer_seconds"])
}

func TestMemory_UpsertParticipant_Idempotent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := store.NewMemory()
	ss := newSession(t, s, "AB23CD")

	first, err := s.UpsertParticipant(ctx, &domain.Participant{
		SessionID:         ss.ID,
		StudentIdentifier: "student-42",
		DisplayName:       "Alice",
	})
	require.NoError(t, err)

	offline := false
	require.NoError(t, s.UpdateParticipant(ctx, first.ID, store.ParticipantPatch{Online: &offline}))

	second, err := s.UpsertParticipant(ctx, &domain.Participant{
		SessionID:         ss.ID,
		StudentIdentifier: "student-42",
		DisplayName:       "Alice B.",
	})
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID, "rejoin must revive the existing row")
	assert.Equal(t, "Alice B.", second.DisplayName)
	assert.True(t, second.Online)

	roster, err := s.ListParticipants(ctx, ss.ID)
	require.NoError(t, err)
	assert.Len(t, roster, 1)
}

func TestMemory_UpsertResponse_Overwrites(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := store.NewMemory()
	ss := newSession(t, s, "AB23CD")

	p, err := s.UpsertParticipant(ctx, &domain.Participant{SessionID: ss.ID, StudentIdentifier: "student-42"})
	require.NoError(t, err)

	first, err := s.UpsertResponse(ctx, &domain.Response{
		SessionID:     ss.ID,
		ParticipantID: p.ID,
		QuestionType:  "quiz",
		QuestionIndex: 3,
		Answer:        map[string]any{"choice": "b"},
	})
	require.NoError(t, err)

	second, err := s.UpsertResponse(ctx, &domain.Response{
		SessionID:     ss.ID,
		ParticipantID: p.ID,
		QuestionType:  "quiz",
		QuestionIndex: 3,
		Answer:        map[string]any{"choice": "c"},
	})
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)

	got, err := s.ListResponses(ctx, ss.ID, p.ID)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, map[string]any{"choice": "c"}, got[0].Answer)

	// a different question index is a new row
	_, err = s.UpsertResponse(ctx, &domain.Response{
		SessionID:     ss.ID,
		ParticipantID: p.ID,
		QuestionType:  "quiz",
		QuestionIndex: 4,
		Answer:        map[string]any{"choice": "a"},
	})
	require.NoError(t, err)

	got, err = s.ListResponses(ctx, ss.ID, p.ID)
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestMemory_DeleteResponses_Prefix(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := store.NewMemory()
	ss := newSession(t, s, "AB23CD")

	p, err := s.UpsertParticipant(ctx, &domain.Participant{SessionID: ss.ID, StudentIdentifier: "student-42"})
	require.NoError(t, err)

	for _, qt := range []string{"quiz-warmup", "quiz-main", "poll"} {
		_, err := s.UpsertResponse(ctx, &domain.Response{
			SessionID:     ss.ID,
			ParticipantID: p.ID,
			QuestionType:  qt,
			Answer:        map[string]any{"choice": "a"},
		})
		require.NoError(t, err)
	}

	require.NoError(t, s.DeleteResponses(ctx, ss.ID, p.ID, "quiz"))

	got, err := s.ListResponses(ctx, ss.ID, p.ID)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "poll", got[0].QuestionType)
}

func TestMemory_Subscribe(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := store.NewMemory()
	ss := newSession(t, s, "AB23CD")
	other := newSession(t, s, "EF45GH")

	sub, err := s.Subscribe(ctx, ss.ID)
	require.NoError(t, err)
	defer sub.Close()

	section := "section-2"
	_, err = s.UpdateSession(ctx, ss.ID, store.SessionPatch{CurrentSection: &section})
	require.NoError(t, err)
	_, err = s.UpdateSession(ctx, other.ID, store.SessionPatch{CurrentSection: &section})
	require.NoError(t, err)

	select {
	case c := <-sub.Changes():
		assert.Equal(t, store.TableSessions, c.Table)
		require.NotNil(t, c.Session)
		assert.Equal(t, "section-2", c.Session.CurrentSection)
	case <-time.After(time.Second):
		t.Fatal("no change delivered")
	}

	// the other session's change must not leak in
	select {
	case c := <-sub.Changes():
		t.Fatalf("unexpected change for session %s", c.SessionID)
	default:
	}

	require.NoError(t, sub.Close())
	_, ok := <-sub.Changes()
	assert.False(t, ok, "channel must be closed after Close")
}
