package store

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/victornm/liveclass/internal/domain"
	"github.com/victornm/liveclass/internal/errors"
)

const codeUniqueViolation = "23505"

// Publisher sends row-change notifications to other processes watching the
// same session.
type Publisher interface {
	Publish(ctx context.Context, c Change) error
	Subscribe(ctx context.Context, sessionID string) (Subscription, error)
}

// Postgres is the production Store: pgx-backed tables plus a change bus fed
// on the write path. A failed notification is logged, not returned; the row
// is already durable and the pull path covers delivery.
type Postgres struct {
	db  *pgxpool.Pool
	bus Publisher
}

func NewPostgres(db *pgxpool.Pool, bus Publisher) *Postgres {
	return &Postgres{
		db:  db,
		bus: bus,
	}
}

func (s *Postgres) notify(ctx context.Context, c Change) {
	c.Time = time.Now().UTC()
	if err := s.bus.Publish(ctx, c); err != nil {
		slog.ErrorContext(ctx, "store: publish change failed",
			"table", c.Table,
			"session", c.SessionID,
			"error", err,
		)
	}
}

func (s *Postgres) Subscribe(ctx context.Context, sessionID string) (Subscription, error) {
	return s.bus.Subscribe(ctx, sessionID)
}

func newID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate ID: %w", err)
	}
	return id.String(), nil
}

// ---- sessions ----

const sessionColumns = `id, session_code, lesson_id, teacher_id, title, status,
current_section, current_question_index, allow_ahead, settings, started_at, ended_at, created_at`

func scanSession(row pgx.Row) (*domain.Session, error) {
	var (
		ss       domain.Session
		status   string
		settings []byte
	)

	err := row.Scan(&ss.ID, &ss.Code, &ss.LessonID, &ss.TeacherID, &ss.Title, &status,
		&ss.CurrentSection, &ss.CurrentQuestionIndex, &ss.AllowAhead, &settings,
		&ss.StartedAt, &ss.EndedAt, &ss.CreatedAt)
	if err != nil {
		return nil, err
	}

	st, ok := domain.ParseStatus(status)
	if !ok {
		return nil, fmt.Errorf("unknown session status %q", status)
	}
	ss.Status = st

	if len(settings) > 0 {
		if err := json.Unmarshal(settings, &ss.Settings); err != nil {
			return nil, fmt.Errorf("decode settings: %w", err)
		}
	}
	if ss.Settings == nil {
		ss.Settings = map[string]any{}
	}

	return &ss, nil
}

func (s *Postgres) CreateSession(ctx context.Context, ss *domain.Session) error {
	id, err := newID()
	if err != nil {
		return err
	}

	settings, err := json.Marshal(ss.Settings)
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}

	const stmt = `
INSERT INTO live_sessions (id, session_code, lesson_id, teacher_id, title, status,
	current_section, current_question_index, allow_ahead, settings)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
RETURNING created_at;`

	err = s.db.QueryRow(ctx, stmt, id, ss.Code, ss.LessonID, ss.TeacherID, ss.Title,
		string(ss.Status), ss.CurrentSection, ss.CurrentQuestionIndex, ss.AllowAhead, settings).
		Scan(&ss.CreatedAt)

	var pgErr *pgconn.PgError
	if stderrors.As(err, &pgErr) && pgErr.Code == codeUniqueViolation {
		return errors.New(errors.CodeAlreadyExists,
			errors.WithMessagef("session code %s already in use", ss.Code),
			errors.WithCause(err))
	}
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}

	ss.ID = id
	return nil
}

func (s *Postgres) GetSession(ctx context.Context, id string) (*domain.Session, error) {
	stmt := fmt.Sprintf(`SELECT %s FROM live_sessions WHERE id = $1;`, sessionColumns)

	ss, err := scanSession(s.db.QueryRow(ctx, stmt, id))
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, errors.New(errors.CodeNotFound,
			errors.WithMessagef("session not found: id=%s", id))
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}

	return ss, nil
}

func (s *Postgres) GetSessionByCode(ctx context.Context, joinCode string) (*domain.Session, error) {
	stmt := fmt.Sprintf(`SELECT %s FROM live_sessions WHERE session_code = $1 AND status <> 'ended';`, sessionColumns)

	ss, err := scanSession(s.db.QueryRow(ctx, stmt, joinCode))
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, errors.New(errors.CodeNotFound,
			errors.WithMessagef("session not found: code=%s", joinCode))
	}
	if err != nil {
		return nil, fmt.Errorf("get session by code: %w", err)
	}

	return ss, nil
}

func (s *Postgres) FindTeacherSession(ctx context.Context, teacherID string) (*domain.Session, error) {
	stmt := fmt.Sprintf(`
SELECT %s FROM live_sessions
WHERE teacher_id = $1 AND status <> 'ended'
ORDER BY created_at DESC
LIMIT 1;`, sessionColumns)

	ss, err := scanSession(s.db.QueryRow(ctx, stmt, teacherID))
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, errors.New(errors.CodeNotFound,
			errors.WithMessagef("no open session for teacher %s", teacherID))
	}
	if err != nil {
		return nil, fmt.Errorf("find teacher session: %w", err)
	}

	return ss, nil
}

func (s *Postgres) UpdateSession(ctx context.Context, id string, p SessionPatch) (*domain.Session, error) {
	set := make([]string, 0, 7)
	args := []any{id}

	add := func(col string, v any) {
		args = append(args, v)
		set = append(set, fmt.Sprintf("%s = $%d", col, len(args)))
	}

	if p.Status != nil {
		add("status", string(*p.Status))
	}
	if p.CurrentSection != nil {
		add("current_section", *p.CurrentSection)
	}
	if p.CurrentQuestionIndex != nil {
		add("current_question_index", *p.CurrentQuestionIndex)
	}
	if p.AllowAhead != nil {
		add("allow_ahead", *p.AllowAhead)
	}
	if p.Settings != nil {
		settings, err := json.Marshal(p.Settings)
		if err != nil {
			return nil, fmt.Errorf("encode settings: %w", err)
		}
		add("settings", settings)
	}
	if p.StartedAt != nil {
		add("started_at", *p.StartedAt)
	}
	if p.EndedAt != nil {
		add("ended_at", *p.EndedAt)
	}

	if len(set) == 0 {
		return s.GetSession(ctx, id)
	}

	stmt := fmt.Sprintf(`UPDATE live_sessions SET %s WHERE id = $1 RETURNING %s;`,
		strings.Join(set, ", "), sessionColumns)

	ss, err := scanSession(s.db.QueryRow(ctx, stmt, args...))
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, errors.New(errors.CodeNotFound,
			errors.WithMessagef("session not found: id=%s", id))
	}
	if err != nil {
		return nil, fmt.Errorf("update session: %w", err)
	}

	s.notify(ctx, Change{
		Table:     TableSessions,
		Kind:      ChangeUpdate,
		SessionID: ss.ID,
		Session:   ss,
	})

	return ss, nil
}

// ---- participants ----

const participantColumns = `id, session_id, student_identifier, display_name,
is_online, current_section, last_seen_at, joined_at`

func scanParticipant(row pgx.Row) (*domain.Participant, error) {
	var p domain.Participant
	err := row.Scan(&p.ID, &p.SessionID, &p.StudentIdentifier, &p.DisplayName,
		&p.Online, &p.CurrentSection, &p.LastSeenAt, &p.JoinedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Postgres) UpsertParticipant(ctx context.Context, p *domain.Participant) (*domain.Participant, error) {
	id, err := newID()
	if err != nil {
		return nil, err
	}

	stmt := fmt.Sprintf(`
INSERT INTO session_participants (id, session_id, student_identifier, display_name, is_online, last_seen_at)
VALUES ($1, $2, $3, $4, TRUE, now())
ON CONFLICT (session_id, student_identifier) DO UPDATE SET
	display_name = EXCLUDED.display_name,
	is_online = TRUE,
	last_seen_at = now()
RETURNING %s;`, participantColumns)

	out, err := scanParticipant(s.db.QueryRow(ctx, stmt, id, p.SessionID, p.StudentIdentifier, p.DisplayName))
	if err != nil {
		return nil, fmt.Errorf("upsert participant: %w", err)
	}

	s.notify(ctx, Change{
		Table:     TableParticipants,
		Kind:      ChangeUpdate,
		SessionID: out.SessionID,
	})

	return out, nil
}

func (s *Postgres) UpdateParticipant(ctx context.Context, id string, p ParticipantPatch) error {
	set := make([]string, 0, 3)
	args := []any{id}

	add := func(col string, v any) {
		args = append(args, v)
		set = append(set, fmt.Sprintf("%s = $%d", col, len(args)))
	}

	if p.Online != nil {
		add("is_online", *p.Online)
	}
	if p.CurrentSection != nil {
		add("current_section", *p.CurrentSection)
	}
	if p.LastSeenAt != nil {
		add("last_seen_at", *p.LastSeenAt)
	}

	if len(set) == 0 {
		return nil
	}

	stmt := fmt.Sprintf(`UPDATE session_participants SET %s WHERE id = $1 RETURNING session_id;`,
		strings.Join(set, ", "))

	var sessionID string
	err := s.db.QueryRow(ctx, stmt, args...).Scan(&sessionID)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return errors.New(errors.CodeNotFound,
			errors.WithMessagef("participant not found: id=%s", id))
	}
	if err != nil {
		return fmt.Errorf("update participant: %w", err)
	}

	s.notify(ctx, Change{
		Table:     TableParticipants,
		Kind:      ChangeUpdate,
		SessionID: sessionID,
	})

	return nil
}

func (s *Postgres) ListParticipants(ctx context.Context, sessionID string) ([]domain.Participant, error) {
	stmt := fmt.Sprintf(`SELECT %s FROM session_participants WHERE session_id = $1 ORDER BY joined_at;`,
		participantColumns)

	rows, err := s.db.Query(ctx, stmt, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}

	return pgx.CollectRows(rows, func(r pgx.CollectableRow) (domain.Participant, error) {
		p, err := scanParticipant(r)
		if err != nil {
			return domain.Participant{}, err
		}
		return *p, nil
	})
}

// ---- responses ----

const responseColumns = `id, session_id, participant_id, question_type, question_index,
response, is_correct, submitted_at`

func scanResponse(row pgx.Row) (*domain.Response, error) {
	var (
		r      domain.Response
		answer []byte
	)

	err := row.Scan(&r.ID, &r.SessionID, &r.ParticipantID, &r.QuestionType, &r.QuestionIndex,
		&answer, &r.Correct, &r.SubmittedAt)
	if err != nil {
		return nil, err
	}

	if len(answer) > 0 {
		if err := json.Unmarshal(answer, &r.Answer); err != nil {
			return nil, fmt.Errorf("decode response payload: %w", err)
		}
	}

	return &r, nil
}

func (s *Postgres) UpsertResponse(ctx context.Context, r *domain.Response) (*domain.Response, error) {
	id, err := newID()
	if err != nil {
		return nil, err
	}

	answer, err := json.Marshal(r.Answer)
	if err != nil {
		return nil, fmt.Errorf("encode response payload: %w", err)
	}

	stmt := fmt.Sprintf(`
INSERT INTO session_responses (id, session_id, participant_id, question_type, question_index, response, is_correct, submitted_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, now())
ON CONFLICT (session_id, participant_id, question_type, question_index) DO UPDATE SET
	response = EXCLUDED.response,
	is_correct = EXCLUDED.is_correct,
	submitted_at = now()
RETURNING %s;`, responseColumns)

	out, err := scanResponse(s.db.QueryRow(ctx, stmt, id, r.SessionID, r.ParticipantID,
		r.QuestionType, r.QuestionIndex, answer, r.Correct))
	if err != nil {
		return nil, fmt.Errorf("upsert response: %w", err)
	}

	s.notify(ctx, Change{
		Table:     TableResponses,
		Kind:      ChangeUpdate,
		SessionID: out.SessionID,
	})

	return out, nil
}

func (s *Postgres) ListResponses(ctx context.Context, sessionID, participantID string) ([]domain.Response, error) {
	stmt := fmt.Sprintf(`
SELECT %s FROM session_responses
WHERE session_id = $1 AND participant_id = $2
ORDER BY submitted_at;`, responseColumns)

	return s.collectResponses(ctx, stmt, sessionID, participantID)
}

func (s *Postgres) ListSessionResponses(ctx context.Context, sessionID string) ([]domain.Response, error) {
	stmt := fmt.Sprintf(`SELECT %s FROM session_responses WHERE session_id = $1 ORDER BY submitted_at;`,
		responseColumns)

	return s.collectResponses(ctx, stmt, sessionID)
}

func (s *Postgres) collectResponses(ctx context.Context, stmt string, args ...any) ([]domain.Response, error) {
	rows, err := s.db.Query(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("list responses: %w", err)
	}

	return pgx.CollectRows(rows, func(r pgx.CollectableRow) (domain.Response, error) {
		resp, err := scanResponse(r)
		if err != nil {
			return domain.Response{}, err
		}
		return *resp, nil
	})
}

func (s *Postgres) DeleteResponses(ctx context.Context, sessionID, participantID, prefix string) error {
	const stmt = `
DELETE FROM session_responses
WHERE session_id = $1 AND participant_id = $2 AND question_type LIKE $3 || '%';`

	if _, err := s.db.Exec(ctx, stmt, sessionID, participantID, prefix); err != nil {
		return fmt.Errorf("delete responses: %w", err)
	}

	s.notify(ctx, Change{
		Table:     TableResponses,
		Kind:      ChangeDelete,
		SessionID: sessionID,
	})

	return nil
}

// ---- prompts ----

func (s *Postgres) InsertPrompt(ctx context.Context, p *domain.Prompt) (*domain.Prompt, error) {
	id, err := newID()
	if err != nil {
		return nil, err
	}

	metadata, err := json.Marshal(p.Metadata)
	if err != nil {
		return nil, fmt.Errorf("encode prompt metadata: %w", err)
	}

	const stmt = `
INSERT INTO session_prompts (id, session_id, prompt_type, content, metadata)
VALUES ($1, $2, $3, $4, $5)
RETURNING created_at;`

	out := *p
	out.ID = id
	err = s.db.QueryRow(ctx, stmt, id, p.SessionID, string(p.PromptType), p.Content, metadata).
		Scan(&out.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert prompt: %w", err)
	}

	s.notify(ctx, Change{
		Table:     TablePrompts,
		Kind:      ChangeInsert,
		SessionID: out.SessionID,
		Prompt:    &out,
	})

	return &out, nil
}

func (s *Postgres) ListPrompts(ctx context.Context, sessionID string) ([]domain.Prompt, error) {
	const stmt = `
SELECT id, session_id, prompt_type, content, metadata, created_at
FROM session_prompts
WHERE session_id = $1
ORDER BY created_at;`

	rows, err := s.db.Query(ctx, stmt, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list prompts: %w", err)
	}

	return pgx.CollectRows(rows, func(r pgx.CollectableRow) (domain.Prompt, error) {
		var (
			p        domain.Prompt
			ptype    string
			metadata []byte
		)
		if err := r.Scan(&p.ID, &p.SessionID, &ptype, &p.Content, &metadata, &p.CreatedAt); err != nil {
			return domain.Prompt{}, err
		}
		p.PromptType = domain.PromptType(ptype)
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &p.Metadata); err != nil {
				return domain.Prompt{}, fmt.Errorf("decode prompt metadata: %w", err)
			}
		}
		return p, nil
	})
}
