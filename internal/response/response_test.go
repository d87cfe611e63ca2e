package response_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victornm/liveclass/internal/domain"
	"github.com/victornm/liveclass/internal/errors"
	"github.com/victornm/liveclass/internal/response"
	"github.com/victornm/liveclass/internal/store"
)

// failingStore rejects every upsert.
type failingStore struct {
	store.Store
}

func (failingStore) UpsertResponse(context.Context, *domain.Response) (*domain.Response, error) {
	return nil, errors.New(errors.CodeUnavailable, errors.WithMessagef("store down"))
}

func newEnrolled(t *testing.T, s store.Store) (*domain.Session, *domain.Participant) {
	t.Helper()

	ctx := context.Background()
	ss := &domain.Session{Code: "AB23CD", TeacherID: "teacher-1", Status: domain.StatusActive}
	require.NoError(t, s.CreateSession(ctx, ss))

	p, err := s.UpsertParticipant(ctx, &domain.Participant{SessionID: ss.ID, StudentIdentifier: "student-42"})
	require.NoError(t, err)

	return ss, p
}

func TestCollector_Submit(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := store.NewMemory()
	ss, p := newEnrolled(t, s)

	c := response.NewCollector(response.Config{Store: s})

	first, err := c.Submit(ctx, ss.ID, p.ID, "quiz", 3, map[string]any{"choice": "b"}, nil)
	require.NoError(t, err)

	second, err := c.Submit(ctx, ss.ID, p.ID, "quiz", 3, map[string]any{"choice": "c"}, nil)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID, "resubmission must overwrite, not duplicate")

	cached := c.Responses()
	require.Len(t, cached, 1)
	assert.Equal(t, map[string]any{"choice": "c"}, cached[0].Answer)

	stored, err := s.ListResponses(ctx, ss.ID, p.ID)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, map[string]any{"choice": "c"}, stored[0].Answer)
}

func TestCollector_SubmitFailureKeepsCache(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	c := response.NewCollector(response.Config{Store: failingStore{}})
	c.Replace([]domain.Response{{QuestionType: "quiz", QuestionIndex: 1, Answer: map[string]any{"choice": "a"}}})

	_, err := c.Submit(ctx, "session-1", "participant-1", "quiz", 1, map[string]any{"choice": "b"}, nil)
	require.Error(t, err)

	cached := c.Responses()
	require.Len(t, cached, 1)
	assert.Equal(t, map[string]any{"choice": "a"}, cached[0].Answer,
		"a failed submission must not be reflected locally")
}

func TestCollector_ReplaceAndReset(t *testing.T) {
	t.Parallel()

	c := response.NewCollector(response.Config{Store: store.NewMemory()})

	c.Replace([]domain.Response{
		{QuestionType: "quiz", QuestionIndex: 1},
		{QuestionType: "quiz", QuestionIndex: 2},
	})
	assert.Len(t, c.Responses(), 2)

	c.Reset()
	assert.Empty(t, c.Responses())
}

func TestCollector_Delete(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := store.NewMemory()
	ss, p := newEnrolled(t, s)

	c := response.NewCollector(response.Config{Store: s})

	_, err := c.Submit(ctx, ss.ID, p.ID, "quiz-warmup", 0, map[string]any{"choice": "a"}, nil)
	require.NoError(t, err)
	_, err = c.Submit(ctx, ss.ID, p.ID, "poll", 0, map[string]any{"choice": "b"}, nil)
	require.NoError(t, err)

	require.NoError(t, c.Delete(ctx, ss.ID, p.ID, "quiz"))

	stored, err := s.ListResponses(ctx, ss.ID, p.ID)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, "poll", stored[0].QuestionType)
}
