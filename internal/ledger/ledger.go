// Package ledger records the append-only audit trail of improvement
// cycles. Entries are never updated or deleted; the sequence number gives
// a total order across all chains sharing one database.
package ledger

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"forgeloop/internal/logging"
	"forgeloop/internal/types"
)

// Ledger is an append-only event log backed by SQLite.
type Ledger struct {
	db     *sql.DB
	logger *zap.Logger
}

// Open opens (or creates) the ledger at path.
func Open(path string) (*Ledger, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create ledger directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger database: %w", err)
	}
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA busy_timeout=5000",
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	schema := `
	CREATE TABLE IF NOT EXISTS ledger (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		task_id TEXT NOT NULL,
		cycle_index INTEGER NOT NULL,
		state TEXT NOT NULL,
		confidence REAL NOT NULL,
		rationale TEXT NOT NULL DEFAULT '',
		modules TEXT NOT NULL DEFAULT '',
		recorded_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_ledger_task ON ledger(task_id, cycle_index);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize ledger schema: %w", err)
	}

	return &Ledger{db: db, logger: logging.Get(logging.CategoryLedger)}, nil
}

// Append writes one entry and returns its assigned sequence number.
func (l *Ledger) Append(entry types.LedgerEntry) (int64, error) {
	if entry.TaskID == "" {
		return 0, fmt.Errorf("ledger entry requires a task ID")
	}
	if entry.RecordedAt.IsZero() {
		entry.RecordedAt = time.Now()
	}

	res, err := l.db.Exec(
		`INSERT INTO ledger (task_id, cycle_index, state, confidence, rationale, modules, recorded_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.TaskID, entry.CycleIndex, entry.State, entry.Confidence,
		entry.Rationale, strings.Join(entry.Modules, "\n"), entry.RecordedAt)
	if err != nil {
		return 0, fmt.Errorf("failed to append ledger entry: %w", err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read ledger sequence: %w", err)
	}

	l.logger.Debug("ledger entry appended",
		zap.Int64("seq", seq),
		zap.String("task_id", entry.TaskID),
		zap.Int("cycle", entry.CycleIndex),
		zap.String("state", entry.State))
	return seq, nil
}

// Entries returns all entries for a task in sequence order. An empty
// taskID returns the full ledger.
func (l *Ledger) Entries(taskID string) ([]types.LedgerEntry, error) {
	query := `SELECT seq, task_id, cycle_index, state, confidence, rationale, modules, recorded_at
	          FROM ledger`
	var args []any
	if taskID != "" {
		query += ` WHERE task_id = ?`
		args = append(args, taskID)
	}
	query += ` ORDER BY seq ASC`

	rows, err := l.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query ledger: %w", err)
	}
	defer rows.Close()

	var out []types.LedgerEntry
	for rows.Next() {
		var e types.LedgerEntry
		var modules string
		if err := rows.Scan(&e.Seq, &e.TaskID, &e.CycleIndex, &e.State,
			&e.Confidence, &e.Rationale, &modules, &e.RecordedAt); err != nil {
			return nil, fmt.Errorf("failed to scan ledger row: %w", err)
		}
		if modules != "" {
			e.Modules = strings.Split(modules, "\n")
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Last returns the most recent entry for a task, or nil when the task has
// no entries.
func (l *Ledger) Last(taskID string) (*types.LedgerEntry, error) {
	entries, err := l.Entries(taskID)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, nil
	}
	return &entries[len(entries)-1], nil
}

// Close closes the underlying database.
func (l *Ledger) Close() error {
	return l.db.Close()
}
