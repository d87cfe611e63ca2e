// Package persist is the device-local persistence adapter: a durable single
// slot holding which session and role this device is in, used only to drive
// reconnection after a restart. It has no authority over the shared model and
// every failure degrades to a logged no-op, since reconnection is a
// convenience, not a correctness requirement.
package persist

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	_ "github.com/mattn/go-sqlite3"

	"github.com/victornm/liveclass/internal/domain"
)

// slotKey is the fixed key of the single slot. Last session wins.
const slotKey = "live_session_state"

// Adapter stores one ClientState per device.
type Adapter interface {
	Save(ctx context.Context, state domain.ClientState)
	Load(ctx context.Context) (*domain.ClientState, bool)
	Clear(ctx context.Context)
}

// SQLite is the durable Adapter, a one-row table in a local sqlite file.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (and if needed creates) the local state file. WAL and a
// busy timeout keep concurrent open tabs from tripping over each other.
func OpenSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("persist: open %s: %w", path, err)
	}

	const schema = `
CREATE TABLE IF NOT EXISTS client_state (
	slot TEXT PRIMARY KEY,
	state TEXT NOT NULL,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);`

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("persist: ensure schema: %w", err)
	}

	return &SQLite{db: db}, nil
}

func (a *SQLite) Save(ctx context.Context, state domain.ClientState) {
	payload, err := json.Marshal(state)
	if err != nil {
		slog.ErrorContext(ctx, "persist: encode state failed", "error", err)
		return
	}

	const stmt = `
INSERT INTO client_state (slot, state, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
ON CONFLICT (slot) DO UPDATE SET state = excluded.state, updated_at = CURRENT_TIMESTAMP;`

	if _, err := a.db.ExecContext(ctx, stmt, slotKey, payload); err != nil {
		slog.ErrorContext(ctx, "persist: save state failed", "error", err)
		return
	}

	slog.InfoContext(ctx, "persist: saved session state",
		"code", state.SessionCode,
		"role", state.Role,
	)
}

func (a *SQLite) Load(ctx context.Context) (*domain.ClientState, bool) {
	var payload []byte
	err := a.db.QueryRowContext(ctx, `SELECT state FROM client_state WHERE slot = ?;`, slotKey).
		Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, false
	}
	if err != nil {
		slog.ErrorContext(ctx, "persist: load state failed", "error", err)
		return nil, false
	}

	var state domain.ClientState
	if err := json.Unmarshal(payload, &state); err != nil {
		slog.ErrorContext(ctx, "persist: decode state failed", "error", err)
		return nil, false
	}

	return &state, true
}

func (a *SQLite) Clear(ctx context.Context) {
	if _, err := a.db.ExecContext(ctx, `DELETE FROM client_state WHERE slot = ?;`, slotKey); err != nil {
		slog.ErrorContext(ctx, "persist: clear state failed", "error", err)
	}
}

func (a *SQLite) Close() error {
	return a.db.Close()
}

// Noop is the Adapter for hosts without durable local storage: joining fresh
// still works, only reconnection is lost.
type Noop struct{}

func (Noop) Save(context.Context, domain.ClientState)         {}
func (Noop) Load(context.Context) (*domain.ClientState, bool) { return nil, false }
func (Noop) Clear(context.Context)                            {}
