package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// EnsureSchema creates the session tables when they do not exist yet. The
// partial unique index on session_code scopes join-code uniqueness to
// non-ended sessions, so codes can be reused once a session is over.
func EnsureSchema(ctx context.Context, db *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS live_sessions (
			id UUID PRIMARY KEY,
			session_code TEXT NOT NULL,
			lesson_id TEXT NOT NULL DEFAULT '',
			teacher_id TEXT NOT NULL,
			title TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'waiting',
			current_section TEXT NOT NULL DEFAULT '',
			current_question_index INT NOT NULL DEFAULT 0,
			allow_ahead BOOLEAN NOT NULL DEFAULT TRUE,
			settings JSONB NOT NULL DEFAULT '{}',
			started_at TIMESTAMPTZ,
			ended_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_live_sessions_code
			ON live_sessions (session_code) WHERE status <> 'ended';`,
		`CREATE INDEX IF NOT EXISTS idx_live_sessions_teacher
			ON live_sessions (teacher_id, created_at);`,

		`CREATE TABLE IF NOT EXISTS session_participants (
			id UUID PRIMARY KEY,
			session_id UUID NOT NULL REFERENCES live_sessions (id),
			student_identifier TEXT NOT NULL,
			display_name TEXT NOT NULL DEFAULT '',
			is_online BOOLEAN NOT NULL DEFAULT TRUE,
			current_section TEXT NOT NULL DEFAULT '',
			last_seen_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			joined_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			UNIQUE (session_id, student_identifier)
		);`,

		`CREATE TABLE IF NOT EXISTS session_responses (
			id UUID PRIMARY KEY,
			session_id UUID NOT NULL REFERENCES live_sessions (id),
			participant_id UUID NOT NULL REFERENCES session_participants (id),
			question_type TEXT NOT NULL,
			question_index INT NOT NULL,
			response JSONB NOT NULL DEFAULT '{}',
			is_correct BOOLEAN,
			submitted_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			UNIQUE (session_id, participant_id, question_type, question_index)
		);`,

		`CREATE TABLE IF NOT EXISTS session_prompts (
			id UUID PRIMARY KEY,
			session_id UUID NOT NULL REFERENCES live_sessions (id),
			prompt_type TEXT NOT NULL,
			content TEXT NOT NULL,
			metadata JSONB NOT NULL DEFAULT '{}',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE INDEX IF NOT EXISTS idx_session_prompts_session
			ON session_prompts (session_id, created_at);`,
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}

	return nil
}
