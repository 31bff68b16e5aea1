// Package metrics records one row per AI call and reports usage totals.
package metrics

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"growth-assessor/internal/shared"
)

// ExecutionMetric records metadata for a single AI call.
type ExecutionMetric struct {
	AgentName        string
	Model            string
	PromptTokens     int
	CompletionTokens int
	LatencyMS        int64
	Outcome          shared.Outcome
	Timestamp        time.Time
}

// Store handles persistence of metrics to SQLite.
type Store struct {
	db *sql.DB
}

// NewStore initializes the Store with an existing database connection.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const (
	insertMetricSQL = `INSERT INTO execution_metrics
(agent_name, model, prompt_tokens, completion_tokens, latency_ms, outcome, timestamp)
VALUES (?, ?, ?, ?, ?, ?, ?)`

	dailyUsageSQL = `SELECT strftime('%Y-%m-%d', timestamp) AS day,
       COALESCE(SUM(prompt_tokens), 0),
       COALESCE(SUM(completion_tokens), 0),
       COUNT(*),
       COALESCE(SUM(CASE WHEN outcome = 'fallback' THEN 1 ELSE 0 END), 0)
FROM execution_metrics
WHERE timestamp >= ?
GROUP BY day
ORDER BY day DESC`

	cleanupSQL = `DELETE FROM execution_metrics WHERE timestamp < ?`
)

// Record saves a metric to the database.
func (s *Store) Record(ctx context.Context, m ExecutionMetric) error {
	ts := m.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	outcome := m.Outcome
	if outcome == "" {
		outcome = shared.OutcomeAI
	}
	_, err := s.db.ExecContext(ctx, insertMetricSQL,
		m.AgentName, m.Model, m.PromptTokens, m.CompletionTokens, m.LatencyMS, string(outcome), ts.UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("failed to insert execution metric: %w", err)
	}
	return nil
}

// RecordMeta records metrics directly from shared.AgentMeta. Cache hits
// never reached the AI and are not recorded.
func (s *Store) RecordMeta(ctx context.Context, meta shared.AgentMeta) error {
	if meta.Outcome == shared.OutcomeCache {
		return nil
	}
	return s.Record(ctx, MapUsage(meta))
}

// DailyUsage represents token totals for a single day.
type DailyUsage struct {
	Date            string
	TotalPrompt     int
	TotalCompletion int
	TotalExecution  int
	Fallbacks       int
}

// GetDailyUsage retrieves usage for the last N days, newest first.
func (s *Store) GetDailyUsage(ctx context.Context, days int) ([]DailyUsage, error) {
	since := time.Now().UTC().AddDate(0, 0, -days).Format(timeLayout)
	rows, err := s.db.QueryContext(ctx, dailyUsageSQL, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query daily usage: %w", err)
	}
	defer rows.Close()

	var results []DailyUsage
	for rows.Next() {
		var u DailyUsage
		var day sql.NullString
		if err := rows.Scan(&day, &u.TotalPrompt, &u.TotalCompletion, &u.TotalExecution, &u.Fallbacks); err != nil {
			return nil, fmt.Errorf("failed to scan daily usage: %w", err)
		}
		u.Date = "Unknown"
		if day.Valid {
			u.Date = day.String
		}
		results = append(results, u)
	}
	return results, rows.Err()
}

// Cleanup removes records older than the specified number of days and
// returns how many were deleted.
func (s *Store) Cleanup(ctx context.Context, olderThanDays int) (int64, error) {
	threshold := time.Now().UTC().AddDate(0, 0, -olderThanDays).Format(timeLayout)
	res, err := s.db.ExecContext(ctx, cleanupSQL, threshold)
	if err != nil {
		return 0, fmt.Errorf("failed to clean up execution metrics: %w", err)
	}
	return res.RowsAffected()
}

// timestamps are stored as sortable text so strftime and range filters agree
const timeLayout = "2006-01-02 15:04:05"

// MapUsage converts agent metadata to an ExecutionMetric.
func MapUsage(meta shared.AgentMeta) ExecutionMetric {
	return ExecutionMetric{
		AgentName:        meta.AgentName,
		Model:            meta.Usage.Model,
		PromptTokens:     meta.Usage.PromptTokens,
		CompletionTokens: meta.Usage.CompletionTokens,
		LatencyMS:        meta.Latency.Milliseconds(),
		Outcome:          meta.Outcome,
		Timestamp:        time.Now().UTC(),
	}
}
