package store

import (
	"context"
	"maps"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/victornm/liveclass/internal/domain"
	"github.com/victornm/liveclass/internal/errors"
)

// Memory is an in-process Store with the same conflict-key semantics as the
// Postgres implementation. It backs the test suite and single-process demos.
type Memory struct {
	mu           sync.RWMutex
	sessions     map[string]*domain.Session
	participants map[string]*domain.Participant
	responses    map[string]*domain.Response
	prompts      []domain.Prompt
	subs         map[string][]*memorySubscription

	// Now is the clock used for write timestamps. Overridable in tests.
	Now func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		sessions:     make(map[string]*domain.Session),
		participants: make(map[string]*domain.Participant),
		responses:    make(map[string]*domain.Response),
		subs:         make(map[string][]*memorySubscription),
		Now:          time.Now,
	}
}

func (s *Memory) notify(c Change) {
	c.Time = s.Now()
	for _, sub := range s.subs[c.SessionID] {
		select {
		case sub.changes <- c:
		default:
		}
	}
}

// ---- sessions ----

func (s *Memory) CreateSession(_ context.Context, ss *domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.sessions {
		if existing.Code == ss.Code && !existing.Ended() {
			return errors.New(errors.CodeAlreadyExists,
				errors.WithMessagef("session code %s already in use", ss.Code))
		}
	}

	ss.ID = uuid.NewString()
	ss.CreatedAt = s.Now()
	if ss.Settings == nil {
		ss.Settings = map[string]any{}
	}

	cp := *ss
	cp.Settings = maps.Clone(ss.Settings)
	s.sessions[ss.ID] = &cp
	return nil
}

func (s *Memory) GetSession(_ context.Context, id string) (*domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ss, ok := s.sessions[id]
	if !ok {
		return nil, errors.New(errors.CodeNotFound,
			errors.WithMessagef("session not found: id=%s", id))
	}

	cp := *ss
	return &cp, nil
}

func (s *Memory) GetSessionByCode(_ context.Context, joinCode string) (*domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, ss := range s.sessions {
		if ss.Code == joinCode && !ss.Ended() {
			cp := *ss
			return &cp, nil
		}
	}

	return nil, errors.New(errors.CodeNotFound,
		errors.WithMessagef("session not found: code=%s", joinCode))
}

func (s *Memory) FindTeacherSession(_ context.Context, teacherID string) (*domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *domain.Session
	for _, ss := range s.sessions {
		if ss.TeacherID != teacherID || ss.Ended() {
			continue
		}
		if latest == nil || ss.CreatedAt.After(latest.CreatedAt) {
			latest = ss
		}
	}

	if latest == nil {
		return nil, errors.New(errors.CodeNotFound,
			errors.WithMessagef("no open session for teacher %s", teacherID))
	}

	cp := *latest
	return &cp, nil
}

func (s *Memory) UpdateSession(_ context.Context, id string, p SessionPatch) (*domain.Session, error) {
	s.mu.Lock()

	ss, ok := s.sessions[id]
	if !ok {
		s.mu.Unlock()
		return nil, errors.New(errors.CodeNotFound,
			errors.WithMessagef("session not found: id=%s", id))
	}

	if p.Status != nil {
		ss.Status = *p.Status
	}
	if p.CurrentSection != nil {
		ss.CurrentSection = *p.CurrentSection
	}
	if p.CurrentQuestionIndex != nil {
		ss.CurrentQuestionIndex = *p.CurrentQuestionIndex
	}
	if p.AllowAhead != nil {
		ss.AllowAhead = *p.AllowAhead
	}
	if p.Settings != nil {
		ss.Settings = maps.Clone(p.Settings)
	}
	if p.StartedAt != nil {
		t := *p.StartedAt
		ss.StartedAt = &t
	}
	if p.EndedAt != nil {
		t := *p.EndedAt
		ss.EndedAt = &t
	}

	cp := *ss
	s.mu.Unlock()

	s.withSubs(func() {
		s.notify(Change{Table: TableSessions, Kind: ChangeUpdate, SessionID: cp.ID, Session: &cp})
	})

	out := cp
	return &out, nil
}

// ---- participants ----

func (s *Memory) UpsertParticipant(_ context.Context, p *domain.Participant) (*domain.Participant, error) {
	s.mu.Lock()

	now := s.Now()
	var out domain.Participant

	found := false
	for _, existing := range s.participants {
		if existing.SessionID == p.SessionID && existing.StudentIdentifier == p.StudentIdentifier {
			existing.DisplayName = p.DisplayName
			existing.Online = true
			existing.LastSeenAt = now
			out = *existing
			found = true
			break
		}
	}

	if !found {
		out = domain.Participant{
			ID:                uuid.NewString(),
			SessionID:         p.SessionID,
			StudentIdentifier: p.StudentIdentifier,
			DisplayName:       p.DisplayName,
			Online:            true,
			LastSeenAt:        now,
			JoinedAt:          now,
		}
		cp := out
		s.participants[out.ID] = &cp
	}

	s.mu.Unlock()

	s.withSubs(func() {
		s.notify(Change{Table: TableParticipants, Kind: ChangeUpdate, SessionID: out.SessionID})
	})

	return &out, nil
}

func (s *Memory) UpdateParticipant(_ context.Context, id string, p ParticipantPatch) error {
	s.mu.Lock()

	existing, ok := s.participants[id]
	if !ok {
		s.mu.Unlock()
		return errors.New(errors.CodeNotFound,
			errors.WithMessagef("participant not found: id=%s", id))
	}

	if p.Online != nil {
		existing.Online = *p.Online
	}
	if p.CurrentSection != nil {
		existing.CurrentSection = *p.CurrentSection
	}
	if p.LastSeenAt != nil {
		existing.LastSeenAt = *p.LastSeenAt
	}

	sessionID := existing.SessionID
	s.mu.Unlock()

	s.withSubs(func() {
		s.notify(Change{Table: TableParticipants, Kind: ChangeUpdate, SessionID: sessionID})
	})

	return nil
}

func (s *Memory) ListParticipants(_ context.Context, sessionID string) ([]domain.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Participant
	for _, p := range s.participants {
		if p.SessionID == sessionID {
			out = append(out, *p)
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].JoinedAt.Before(out[j].JoinedAt) })
	return out, nil
}

// ---- responses ----

func (s *Memory) UpsertResponse(_ context.Context, r *domain.Response) (*domain.Response, error) {
	s.mu.Lock()

	now := s.Now()
	var out domain.Response

	found := false
	for _, existing := range s.responses {
		if existing.SessionID == r.SessionID && existing.ParticipantID == r.ParticipantID &&
			existing.QuestionType == r.QuestionType && existing.QuestionIndex == r.QuestionIndex {
			existing.Answer = r.Answer
			existing.Correct = r.Correct
			existing.SubmittedAt = now
			out = *existing
			found = true
			break
		}
	}

	if !found {
		out = domain.Response{
			ID:            uuid.NewString(),
			SessionID:     r.SessionID,
			ParticipantID: r.ParticipantID,
			QuestionType:  r.QuestionType,
			QuestionIndex: r.QuestionIndex,
			Answer:        r.Answer,
			Correct:       r.Correct,
			SubmittedAt:   now,
		}
		cp := out
		s.responses[out.ID] = &cp
	}

	s.mu.Unlock()

	s.withSubs(func() {
		s.notify(Change{Table: TableResponses, Kind: ChangeUpdate, SessionID: out.SessionID})
	})

	return &out, nil
}

func (s *Memory) ListResponses(_ context.Context, sessionID, participantID string) ([]domain.Response, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Response
	for _, r := range s.responses {
		if r.SessionID == sessionID && r.ParticipantID == participantID {
			out = append(out, *r)
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].SubmittedAt.Before(out[j].SubmittedAt) })
	return out, nil
}

func (s *Memory) ListSessionResponses(_ context.Context, sessionID string) ([]domain.Response, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Response
	for _, r := range s.responses {
		if r.SessionID == sessionID {
			out = append(out, *r)
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].SubmittedAt.Before(out[j].SubmittedAt) })
	return out, nil
}

func (s *Memory) DeleteResponses(_ context.Context, sessionID, participantID, prefix string) error {
	s.mu.Lock()

	for id, r := range s.responses {
		if r.SessionID == sessionID && r.ParticipantID == participantID &&
			strings.HasPrefix(r.QuestionType, prefix) {
			delete(s.responses, id)
		}
	}

	s.mu.Unlock()

	s.withSubs(func() {
		s.notify(Change{Table: TableResponses, Kind: ChangeDelete, SessionID: sessionID})
	})

	return nil
}

// ---- prompts ----

func (s *Memory) InsertPrompt(_ context.Context, p *domain.Prompt) (*domain.Prompt, error) {
	s.mu.Lock()

	out := *p
	out.ID = uuid.NewString()
	out.CreatedAt = s.Now()
	if out.Metadata == nil {
		out.Metadata = map[string]any{}
	}
	s.prompts = append(s.prompts, out)

	s.mu.Unlock()

	s.withSubs(func() {
		cp := out
		s.notify(Change{Table: TablePrompts, Kind: ChangeInsert, SessionID: out.SessionID, Prompt: &cp})
	})

	return &out, nil
}

func (s *Memory) ListPrompts(_ context.Context, sessionID string) ([]domain.Prompt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Prompt
	for _, p := range s.prompts {
		if p.SessionID == sessionID {
			out = append(out, p)
		}
	}

	return out, nil
}

// ---- subscriptions ----

func (s *Memory) Subscribe(_ context.Context, sessionID string) (Subscription, error) {
	sub := &memorySubscription{
		store:     s,
		sessionID: sessionID,
		changes:   make(chan Change, 16),
	}

	s.mu.Lock()
	s.subs[sessionID] = append(s.subs[sessionID], sub)
	s.mu.Unlock()

	return sub, nil
}

// withSubs serializes notifications against subscription bookkeeping.
func (s *Memory) withSubs(fn func()) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fn()
}

type memorySubscription struct {
	store     *Memory
	sessionID string
	changes   chan Change
	once      sync.Once
}

func (s *memorySubscription) Changes() <-chan Change {
	return s.changes
}

func (s *memorySubscription) Close() error {
	s.once.Do(func() {
		s.store.mu.Lock()
		subs := s.store.subs[s.sessionID]
		for i, sub := range subs {
			if sub == s {
				s.store.subs[s.sessionID] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
		s.store.mu.Unlock()
		close(s.changes)
	})
	return nil
}
