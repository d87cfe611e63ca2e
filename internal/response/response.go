// Package response records student answers without duplication. The
// four-part composite upsert key (session, participant, question type,
// question index) is the central idempotence guarantee: resubmission
// overwrites, it never duplicates.
package response

import (
	"context"
	"fmt"
	"sync"

	"github.com/victornm/liveclass/internal/domain"
	"github.com/victornm/liveclass/internal/store"
)

type Config struct {
	Store store.Store
}

// Collector accepts submissions and mirrors the store's conflict key into a
// local cache. The cache is only updated after server confirmation; a false
// "submitted" state would break the at-most-one-authoritative-answer rule.
type Collector struct {
	store store.Store

	mu        sync.RWMutex
	responses []domain.Response
}

func NewCollector(c Config) *Collector {
	return &Collector{
		store: c.Store,
	}
}

// Submit upserts one answer. On failure the error is surfaced and the local
// cache is left untouched.
func (c *Collector) Submit(ctx context.Context, sessionID, participantID, questionType string, questionIndex int, answer map[string]any, correct *bool) (*domain.Response, error) {
	out, err := c.store.UpsertResponse(ctx, &domain.Response{
		SessionID:     sessionID,
		ParticipantID: participantID,
		QuestionType:  questionType,
		QuestionIndex: questionIndex,
		Answer:        answer,
		Correct:       correct,
	})
	if err != nil {
		return nil, fmt.Errorf("collector: submit: %w", err)
	}

	c.merge(*out)
	return out, nil
}

// merge replaces-or-appends by (question type, question index), the exact
// mirror of the server-side conflict key. Matching on anything else would let
// the cache drift from the store.
func (c *Collector) merge(r domain.Response) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i := range c.responses {
		if c.responses[i].QuestionType == r.QuestionType && c.responses[i].QuestionIndex == r.QuestionIndex {
			c.responses[i] = r
			return
		}
	}

	c.responses = append(c.responses, r)
}

// Replace swaps the whole cache, used when (re)joining a session with
// previously submitted answers.
func (c *Collector) Replace(responses []domain.Response) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.responses = append([]domain.Response(nil), responses...)
}

// Reset drops local state on leave.
func (c *Collector) Reset() {
	c.Replace(nil)
}

// Responses returns a snapshot of the local cache.
func (c *Collector) Responses() []domain.Response {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return append([]domain.Response(nil), c.responses...)
}

// Delete removes one participant's responses whose question type starts with
// prefix. A teacher/admin compensating action for "student wants to retry",
// not a general delete API.
func (c *Collector) Delete(ctx context.Context, sessionID, participantID, prefix string) error {
	if err := c.store.DeleteResponses(ctx, sessionID, participantID, prefix); err != nil {
		return fmt.Errorf("collector: reset responses: %w", err)
	}

	return nil
}
