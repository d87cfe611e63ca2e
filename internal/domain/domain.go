package domain

import (
	"time"
)

// Session is one live classroom instance. It is created and mutated only by
// its teacher's lifecycle controller and becomes immutable once ended.
type Session struct {
	ID                   string
	Code                 string
	LessonID             string
	TeacherID            string
	Title                string
	Status               SessionStatus
	CurrentSection       string
	CurrentQuestionIndex int
	AllowAhead           bool
	Settings             map[string]any
	StartedAt            *time.Time
	EndedAt              *time.Time
	CreatedAt            time.Time
}

// Ended reports whether the session reached its terminal state.
func (s *Session) Ended() bool {
	return s.Status == StatusEnded
}

// Participant is one student's membership in one session. At most one row
// exists per (SessionID, StudentIdentifier), enforced by upsert.
type Participant struct {
	ID                string
	SessionID         string
	StudentIdentifier string
	DisplayName       string
	Online            bool
	CurrentSection    string
	LastSeenAt        time.Time
	JoinedAt          time.Time
}

// OnlineNow infers liveness from the last-seen timestamp. The online flag
// alone is not authoritative: a participant that closed the tab never gets a
// chance to flip it, so readers treat a stale heartbeat as offline.
func (p *Participant) OnlineNow(now time.Time, tolerance time.Duration) bool {
	return p.Online && now.Sub(p.LastSeenAt) <= tolerance
}

// Response is one student's answer to one question instance. Exactly one row
// exists per (SessionID, ParticipantID, QuestionType, QuestionIndex);
// resubmission overwrites.
type Response struct {
	ID            string
	SessionID     string
	ParticipantID string
	QuestionType  string
	QuestionIndex int
	Answer        map[string]any
	Correct       *bool
	SubmittedAt   time.Time
}

// Prompt is a teacher-broadcast event attached to a session. Append-only,
// ordered by creation time.
type Prompt struct {
	ID         string
	SessionID  string
	PromptType PromptType
	Content    string
	Metadata   map[string]any
	CreatedAt  time.Time
}

type PromptType string

const (
	PromptMessage PromptType = "message"
	PromptFocus   PromptType = "focus"
	PromptTimer   PromptType = "timer"
	PromptPoll    PromptType = "poll"
)

// Role distinguishes the two controller kinds in persisted client state.
type Role string

const (
	RoleTeacher Role = "teacher"
	RoleStudent Role = "student"
)

// ClientState is what one device remembers about its own membership. It only
// drives reconnection and must be revalidated against the store before use.
type ClientState struct {
	SessionID         string    `json:"session_id"`
	SessionCode       string    `json:"session_code"`
	LessonID          string    `json:"lesson_id,omitempty"`
	Role              Role      `json:"role"`
	ParticipantID     string    `json:"participant_id,omitempty"`
	DisplayName       string    `json:"display_name,omitempty"`
	StudentIdentifier string    `json:"student_identifier,omitempty"`
	JoinedAt          time.Time `json:"joined_at"`
}
