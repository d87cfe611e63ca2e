// Package store defines the session-store contract the coordination engine
// depends on: transactional row access with upsert-on-conflict plus a
// best-effort, session-scoped change-notification feed.
package store

import (
	"context"
	"time"

	"github.com/victornm/liveclass/internal/domain"
)

// Table identifies which shared table a change belongs to.
type Table string

const (
	TableSessions     Table = "live_sessions"
	TableParticipants Table = "session_participants"
	TableResponses    Table = "session_responses"
	TablePrompts      Table = "session_prompts"
)

// ChangeKind is the row-change event type.
type ChangeKind string

const (
	ChangeInsert ChangeKind = "insert"
	ChangeUpdate ChangeKind = "update"
	ChangeDelete ChangeKind = "delete"
)

// Change is one row-change notification. Payloads are set for the tables the
// sync channel consumes directly; participant changes deliberately carry no
// payload, consumers re-fetch the full list instead.
type Change struct {
	Table     Table           `json:"table"`
	Kind      ChangeKind      `json:"kind"`
	SessionID string          `json:"session_id"`
	Session   *domain.Session `json:"session,omitempty"`
	Prompt    *domain.Prompt  `json:"prompt,omitempty"`
	Time      time.Time       `json:"time"`
}

// Subscription is a live change feed for one session. Delivery is
// best-effort: events may be dropped, ordering across tables is not
// guaranteed, and a broken transport stops delivery without error.
type Subscription interface {
	// Changes returns the delivery channel. It is closed after Close.
	Changes() <-chan Change
	// Close tears the subscription down. Safe to call more than once.
	Close() error
}

// SessionPatch is a partial session update. Nil fields are left untouched.
type SessionPatch struct {
	Status               *domain.SessionStatus
	CurrentSection       *string
	CurrentQuestionIndex *int
	AllowAhead           *bool
	Settings             map[string]any
	StartedAt            *time.Time
	EndedAt              *time.Time
}

// ParticipantPatch is a partial participant update. Nil fields are left untouched.
type ParticipantPatch struct {
	Online         *bool
	CurrentSection *string
	LastSeenAt     *time.Time
}

// Store is the external session-store collaborator. Every write is atomic per
// row; the composite-key upserts are the engine's only consistency mechanism.
type Store interface {
	CreateSession(ctx context.Context, s *domain.Session) error
	GetSession(ctx context.Context, id string) (*domain.Session, error)
	// GetSessionByCode resolves a join code among non-ended sessions only.
	GetSessionByCode(ctx context.Context, code string) (*domain.Session, error)
	UpdateSession(ctx context.Context, id string, p SessionPatch) (*domain.Session, error)
	// FindTeacherSession returns the teacher's most recent non-ended session.
	FindTeacherSession(ctx context.Context, teacherID string) (*domain.Session, error)

	// UpsertParticipant inserts or, on (session_id, student_identifier)
	// conflict, revives the existing row.
	UpsertParticipant(ctx context.Context, p *domain.Participant) (*domain.Participant, error)
	UpdateParticipant(ctx context.Context, id string, p ParticipantPatch) error
	ListParticipants(ctx context.Context, sessionID string) ([]domain.Participant, error)

	// UpsertResponse inserts or, on (session_id, participant_id,
	// question_type, question_index) conflict, replaces answer, correctness
	// and timestamp.
	UpsertResponse(ctx context.Context, r *domain.Response) (*domain.Response, error)
	ListResponses(ctx context.Context, sessionID, participantID string) ([]domain.Response, error)
	ListSessionResponses(ctx context.Context, sessionID string) ([]domain.Response, error)
	// DeleteResponses removes one participant's responses whose question type
	// starts with prefix. Teacher/admin reset only.
	DeleteResponses(ctx context.Context, sessionID, participantID, prefix string) error

	InsertPrompt(ctx context.Context, p *domain.Prompt) (*domain.Prompt, error)
	ListPrompts(ctx context.Context, sessionID string) ([]domain.Prompt, error)

	Subscribe(ctx context.Context, sessionID string) (Subscription, error)
}
