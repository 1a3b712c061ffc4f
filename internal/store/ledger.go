// ABOUTME: SQLite change ledger using modernc.org/sqlite
// ABOUTME: Records accepted form change notifications for audit and stats

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/2389/formbridge/internal/change"
)

// Ledger persists form change notifications to SQLite.
type Ledger struct {
	db     *sql.DB
	logger *slog.Logger
}

// OpenLedger opens (or creates) the ledger database at path. Parent
// directories are created if needed.
func OpenLedger(path string, logger *slog.Logger) (*Ledger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	l := &Ledger{
		db:     db,
		logger: logger.With("component", "store"),
	}

	if err := l.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	l.logger.Info("change ledger initialized", "path", path)
	return l, nil
}

func (l *Ledger) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS form_changes (
			change_id   TEXT PRIMARY KEY,
			form_id     TEXT NOT NULL,
			change_type TEXT NOT NULL,
			payload     TEXT,
			recorded_at TEXT NOT NULL,

			CHECK (change_type IN ('created', 'updated', 'deleted'))
		);

		CREATE INDEX IF NOT EXISTS idx_form_changes_form ON form_changes(form_id, recorded_at);
		CREATE INDEX IF NOT EXISTS idx_form_changes_recorded ON form_changes(recorded_at);
	`

	_, err := l.db.Exec(schema)
	return err
}

// RecordChange inserts one accepted change notification. Satisfies the
// router's ChangeRecorder.
func (l *Ledger) RecordChange(ctx context.Context, evt change.Event) error {
	if !evt.Type.Valid() {
		return fmt.Errorf("invalid change type %q", evt.Type)
	}

	at := evt.Timestamp
	if at.IsZero() {
		at = time.Now()
	}

	var payload any
	if evt.Payload != nil {
		data, err := json.Marshal(evt.Payload)
		if err != nil {
			return fmt.Errorf("marshaling payload: %w", err)
		}
		payload = string(data)
	}

	_, err := l.db.ExecContext(ctx, `
		INSERT INTO form_changes (change_id, form_id, change_type, payload, recorded_at)
		VALUES (?, ?, ?, ?, ?)
	`,
		uuid.New().String(),
		evt.FormID,
		string(evt.Type),
		payload,
		at.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting change: %w", err)
	}

	l.logger.Debug("recorded change", "form_id", evt.FormID, "change_type", evt.Type)
	return nil
}

// Change is one recorded ledger row.
type Change struct {
	ID         string          `json:"id"`
	FormID     string          `json:"formId"`
	Type       change.Type     `json:"changeType"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	RecordedAt time.Time       `json:"recordedAt"`
}

// ChangeQuery filters ListChanges. Zero values mean no filter; Limit
// defaults to 100 and is capped at 1000.
type ChangeQuery struct {
	FormID string
	Type   change.Type
	Since  time.Time
	Limit  int
}

// ListChanges returns recorded changes, newest first.
func (l *Ledger) ListChanges(ctx context.Context, q ChangeQuery) ([]*Change, error) {
	var conditions []string
	var args []any

	if q.FormID != "" {
		conditions = append(conditions, "form_id = ?")
		args = append(args, q.FormID)
	}
	if q.Type != "" {
		conditions = append(conditions, "change_type = ?")
		args = append(args, string(q.Type))
	}
	if !q.Since.IsZero() {
		conditions = append(conditions, "recorded_at > ?")
		args = append(args, q.Since.UTC().Format(time.RFC3339))
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}
	if limit > 1000 {
		limit = 1000
	}

	query := `SELECT change_id, form_id, change_type, payload, recorded_at FROM form_changes`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	// rowid breaks ties inside one RFC3339 second
	query += " ORDER BY recorded_at DESC, rowid DESC LIMIT ?"
	args = append(args, limit)

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying changes: %w", err)
	}
	defer rows.Close()

	var changes []*Change
	for rows.Next() {
		var c Change
		var typeStr, recordedAtStr string
		var payload sql.NullString

		if err := rows.Scan(&c.ID, &c.FormID, &typeStr, &payload, &recordedAtStr); err != nil {
			return nil, fmt.Errorf("scanning change row: %w", err)
		}

		c.Type = change.Type(typeStr)
		if payload.Valid {
			c.Payload = json.RawMessage(payload.String)
		}
		c.RecordedAt, err = time.Parse(time.RFC3339, recordedAtStr)
		if err != nil {
			return nil, fmt.Errorf("parsing recorded_at: %w", err)
		}

		changes = append(changes, &c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating change rows: %w", err)
	}
	return changes, nil
}

// CountByType returns how many changes of each type have been recorded.
func (l *Ledger) CountByType(ctx context.Context) (map[change.Type]int, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT change_type, COUNT(*) FROM form_changes GROUP BY change_type
	`)
	if err != nil {
		return nil, fmt.Errorf("counting changes: %w", err)
	}
	defer rows.Close()

	counts := make(map[change.Type]int)
	for rows.Next() {
		var typeStr string
		var n int
		if err := rows.Scan(&typeStr, &n); err != nil {
			return nil, fmt.Errorf("scanning count row: %w", err)
		}
		counts[change.Type(typeStr)] = n
	}
	return counts, rows.Err()
}

// PruneBefore deletes changes recorded before cutoff and returns how many
// rows were removed.
func (l *Ledger) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := l.db.ExecContext(ctx, `
		DELETE FROM form_changes WHERE recorded_at < ?
	`, cutoff.UTC().Format(time.RFC3339))
	if err != nil {
		return 0, fmt.Errorf("pruning changes: %w", err)
	}

	removed, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("getting rows affected: %w", err)
	}
	if removed > 0 {
		l.logger.Debug("pruned old changes", "count", removed)
	}
	return removed, nil
}

// Close closes the database connection.
func (l *Ledger) Close() error {
	l.logger.Info("closing change ledger")
	return l.db.Close()
}
