// Package sqlite stores cost records in a SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kiosk404/cohort/internal/cohortd/service/ledger/domain/entity"
	"github.com/kiosk404/cohort/internal/cohortd/service/ledger/domain/repo"
	_ "github.com/mattn/go-sqlite3"
)

var _ repo.Ledger = (*Ledger)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS cost_records (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	id TEXT NOT NULL UNIQUE,
	task_id TEXT NOT NULL,
	persona_id TEXT NOT NULL,
	provider TEXT NOT NULL,
	model TEXT NOT NULL,
	input_tokens INTEGER NOT NULL,
	output_tokens INTEGER NOT NULL,
	cache_read_tokens INTEGER NOT NULL,
	cost REAL NOT NULL,
	batch INTEGER NOT NULL,
	ts INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_cost_records_task ON cost_records(task_id);
CREATE INDEX IF NOT EXISTS idx_cost_records_persona ON cost_records(persona_id);
CREATE INDEX IF NOT EXISTS idx_cost_records_ts ON cost_records(ts);
`

// Ledger is an append-only SQLite table. Timestamps are stored as unix nanoseconds.
type Ledger struct {
	db *sql.DB
}

// Open creates the database file and schema if missing.
func Open(path string) (*Ledger, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create ledger dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger database: %w", err)
	}
	// One writer keeps inserts serialized without SQLITE_BUSY churn.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create ledger schema: %w", err)
	}
	return &Ledger{db: db}, nil
}

func (l *Ledger) Close() error {
	return l.db.Close()
}

func (l *Ledger) Append(ctx context.Context, r *entity.CostRecord) error {
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO cost_records (id, task_id, persona_id, provider, model,
			input_tokens, output_tokens, cache_read_tokens, cost, batch, ts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.TaskID, r.PersonaID, r.Provider, r.Model,
		r.InputTokens, r.OutputTokens, r.CacheReadTokens, r.Cost, r.Batch, r.Timestamp.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to append cost record %s: %w", r.ID, err)
	}
	return nil
}

func where(f *entity.Filter) (string, []interface{}) {
	if f == nil {
		return "", nil
	}
	var (
		conds []string
		args  []interface{}
	)
	if len(f.TaskIDs) > 0 {
		conds = append(conds, "task_id IN (?"+strings.Repeat(",?", len(f.TaskIDs)-1)+")")
		for _, id := range f.TaskIDs {
			args = append(args, id)
		}
	}
	if f.PersonaID != "" {
		conds = append(conds, "persona_id = ?")
		args = append(args, f.PersonaID)
	}
	if f.Provider != "" {
		conds = append(conds, "provider = ?")
		args = append(args, f.Provider)
	}
	if f.Batch != nil {
		conds = append(conds, "batch = ?")
		args = append(args, *f.Batch)
	}
	if !f.Since.IsZero() {
		conds = append(conds, "ts >= ?")
		args = append(args, f.Since.UnixNano())
	}
	if !f.Until.IsZero() {
		conds = append(conds, "ts < ?")
		args = append(args, f.Until.UnixNano())
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func (l *Ledger) Query(ctx context.Context, filter *entity.Filter) ([]*entity.CostRecord, error) {
	clause, args := where(filter)
	query := `SELECT id, task_id, persona_id, provider, model, input_tokens, output_tokens,
		cache_read_tokens, cost, batch, ts FROM cost_records` + clause + ` ORDER BY seq`
	if filter != nil && filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query cost records: %w", err)
	}
	defer rows.Close()

	var out []*entity.CostRecord
	for rows.Next() {
		var (
			r  entity.CostRecord
			ts int64
		)
		if err := rows.Scan(&r.ID, &r.TaskID, &r.PersonaID, &r.Provider, &r.Model, &r.InputTokens,
			&r.OutputTokens, &r.CacheReadTokens, &r.Cost, &r.Batch, &ts); err != nil {
			return nil, fmt.Errorf("failed to scan cost record: %w", err)
		}
		r.Timestamp = time.Unix(0, ts)
		out = append(out, &r)
	}
	return out, rows.Err()
}

func groupColumn(g entity.GroupBy) string {
	switch g {
	case entity.GroupByProvider:
		return "provider"
	case entity.GroupByModel:
		return "provider || '/' || model"
	case entity.GroupByTask:
		return "task_id"
	default:
		return "persona_id"
	}
}

func (l *Ledger) Summarize(ctx context.Context, filter *entity.Filter, groupBy entity.GroupBy) ([]*entity.Summary, error) {
	clause, args := where(filter)
	col := groupColumn(groupBy)
	query := `SELECT ` + col + ` AS k, COUNT(*), SUM(input_tokens), SUM(output_tokens),
		SUM(cache_read_tokens), SUM(cost) FROM cost_records` + clause + ` GROUP BY k ORDER BY k`

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to summarize cost records: %w", err)
	}
	defer rows.Close()

	var out []*entity.Summary
	for rows.Next() {
		var s entity.Summary
		if err := rows.Scan(&s.Key, &s.Calls, &s.InputTokens, &s.OutputTokens, &s.CacheReadTokens, &s.Cost); err != nil {
			return nil, fmt.Errorf("failed to scan cost summary: %w", err)
		}
		out = append(out, &s)
	}
	return out, rows.Err()
}

func (l *Ledger) TotalForTask(ctx context.Context, taskID string) (float64, error) {
	var total sql.NullFloat64
	err := l.db.QueryRowContext(ctx, `SELECT SUM(cost) FROM cost_records WHERE task_id = ?`, taskID).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to total cost of task %s: %w", taskID, err)
	}
	return total.Float64, nil
}
