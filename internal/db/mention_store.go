package db

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// MentionStore persists arrivals and classified negative mentions, and tracks
// pipeline runs.
type MentionStore struct {
	pool *Pool
}

func NewMentionStore(pool *Pool) *MentionStore {
	return &MentionStore{pool: pool}
}

// InsertArrival stores one raw mention payload. Re-delivery of the same
// (tenant, sentiment_id) is a no-op; returns whether a row was created.
func (s *MentionStore) InsertArrival(ctx context.Context, a *MentionArrival) (bool, error) {
	raw := a.RawPayload
	if len(raw) == 0 {
		raw = json.RawMessage(`{}`)
	}
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO sentiment.mention_arrivals
			(tenant, sentiment_id, source, title, content, ocr_text,
			 url, attitude_flag, negative_prob, raw_payload, payload_hash, fetched_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (tenant, sentiment_id) DO NOTHING`,
		a.Tenant, a.SentimentID, a.Source, a.Title, a.Content, a.OCRText,
		a.URL, a.AttitudeFlag, a.NegativeProb, string(raw), a.PayloadHash, a.FetchedAt,
	)
	if err != nil {
		return false, fmt.Errorf("insert mention arrival: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// ClaimPending locks up to limit unprocessed arrivals for this worker.
// SKIP LOCKED lets concurrent runs divide the backlog without blocking.
func (s *MentionStore) ClaimPending(ctx context.Context, tx Tx, limit int) ([]MentionArrival, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := tx.Query(ctx, `
		SELECT a.arrival_id, a.arrival_uuid, a.tenant, a.sentiment_id, a.source,
			a.title, a.content, a.ocr_text, a.url, a.attitude_flag, a.negative_prob,
			a.raw_payload, a.fetched_at, a.created_at
		FROM sentiment.mention_arrivals a
		WHERE a.processed_at IS NULL
		ORDER BY a.arrival_id ASC
		LIMIT $1
		FOR UPDATE OF a SKIP LOCKED`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("claim pending arrivals: %w", err)
	}
	defer rows.Close()

	var out []MentionArrival
	for rows.Next() {
		var a MentionArrival
		var raw string
		if err := rows.Scan(
			&a.ArrivalID, &a.ArrivalUUID, &a.Tenant, &a.SentimentID, &a.Source,
			&a.Title, &a.Content, &a.OCRText, &a.URL, &a.AttitudeFlag, &a.NegativeProb,
			&raw, &a.FetchedAt, &a.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan arrival: %w", err)
		}
		a.RawPayload = json.RawMessage(raw)
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// MarkProcessed stamps claimed arrivals so later runs skip them.
func (s *MentionStore) MarkProcessed(ctx context.Context, tx Tx, arrivalIDs []int64, at time.Time) error {
	for _, id := range arrivalIDs {
		if _, err := tx.Exec(ctx, `
			UPDATE sentiment.mention_arrivals SET processed_at = $2 WHERE arrival_id = $1`,
			id, at,
		); err != nil {
			return fmt.Errorf("mark arrival %d processed: %w", id, err)
		}
	}
	return nil
}

// InsertNegative records one classified-negative mention and returns its id.
func (s *MentionStore) InsertNegative(ctx context.Context, tx Tx, m *NegativeMention) (int64, error) {
	var mentionID int64
	err := tx.QueryRow(ctx, `
		INSERT INTO sentiment.negative_mentions
			(sentiment_id, tenant, title, source, content, reason, severity,
			 url, language, event_id, is_duplicate, status, processed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, 'active', $12)
		RETURNING mention_id`,
		m.SentimentID, m.Tenant, m.Title, m.Source, m.Content, m.Reason, m.Severity,
		m.URL, m.Language, m.EventID, m.IsDuplicate, m.ProcessedAt,
	).Scan(&mentionID)
	if err != nil {
		return 0, fmt.Errorf("insert negative mention: %w", err)
	}
	return mentionID, nil
}

// GetBySentimentID loads one negative mention.
func (s *MentionStore) GetBySentimentID(ctx context.Context, sentimentID string) (*NegativeMention, error) {
	var m NegativeMention
	err := s.pool.QueryRow(ctx, `
		SELECT mention_id, mention_uuid, sentiment_id, tenant, title, source, content,
			reason, severity, url, language, event_id, is_duplicate, status,
			dismissed_at, processed_at
		FROM sentiment.negative_mentions
		WHERE sentiment_id = $1
		ORDER BY mention_id DESC
		LIMIT 1`,
		sentimentID,
	).Scan(
		&m.MentionID, &m.MentionUUID, &m.SentimentID, &m.Tenant, &m.Title, &m.Source, &m.Content,
		&m.Reason, &m.Severity, &m.URL, &m.Language, &m.EventID, &m.IsDuplicate, &m.Status,
		&m.DismissedAt, &m.ProcessedAt,
	)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// List returns a tenant's negative mentions, newest first. Status filters when
// non-empty.
func (s *MentionStore) List(ctx context.Context, tenant, status string, limit, offset int) ([]NegativeMention, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT mention_id, mention_uuid, sentiment_id, tenant, title, source, content,
			reason, severity, url, language, event_id, is_duplicate, status,
			dismissed_at, processed_at
		FROM sentiment.negative_mentions
		WHERE tenant = $1 AND ($2 = '' OR status = $2)
		ORDER BY processed_at DESC, mention_id DESC
		LIMIT $3 OFFSET $4`,
		tenant, status, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("query negative mentions: %w", err)
	}
	defer rows.Close()

	var out []NegativeMention
	for rows.Next() {
		var m NegativeMention
		if err := rows.Scan(
			&m.MentionID, &m.MentionUUID, &m.SentimentID, &m.Tenant, &m.Title, &m.Source, &m.Content,
			&m.Reason, &m.Severity, &m.URL, &m.Language, &m.EventID, &m.IsDuplicate, &m.Status,
			&m.DismissedAt, &m.ProcessedAt,
		); err != nil {
			return nil, fmt.Errorf("scan negative mention: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// TenantStats summarizes one tenant's monitoring state.
type TenantStats struct {
	Tenant        string `json:"tenant"`
	ActiveCount   int64  `json:"activeCount"`
	DismissedQty  int64  `json:"dismissedCount"`
	EventCount    int64  `json:"eventCount"`
	MentionsTotal int64  `json:"mentionsTotal"`
}

// Stats computes active/dismissed mention counts and event totals for a tenant.
func (s *MentionStore) Stats(ctx context.Context, tenant string) (*TenantStats, error) {
	st := &TenantStats{Tenant: tenant}
	err := s.pool.QueryRow(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE status = 'active'),
			COUNT(*) FILTER (WHERE status = 'dismissed'),
			COUNT(*)
		FROM sentiment.negative_mentions
		WHERE tenant = $1`,
		tenant,
	).Scan(&st.ActiveCount, &st.DismissedQty, &st.MentionsTotal)
	if err != nil {
		return nil, fmt.Errorf("count mentions: %w", err)
	}
	err = s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM sentiment.event_groups WHERE tenant = $1`,
		tenant,
	).Scan(&st.EventCount)
	if err != nil {
		return nil, fmt.Errorf("count event groups: %w", err)
	}
	return st, nil
}

// StartRun records the beginning of a pipeline run.
func (s *MentionStore) StartRun(ctx context.Context, runUUID string, startedAt time.Time) (int64, error) {
	var runID int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO sentiment.process_runs (run_uuid, started_at, status)
		VALUES ($1, $2, 'running')
		RETURNING run_id`,
		runUUID, startedAt,
	).Scan(&runID)
	if err != nil {
		return 0, fmt.Errorf("insert process run: %w", err)
	}
	return runID, nil
}

// FinishRun closes a pipeline run with its outcome counters.
func (s *MentionStore) FinishRun(ctx context.Context, runID int64, status string, processed, negatives, duplicates int, errMsg string, finishedAt time.Time) error {
	var msg any
	if errMsg != "" {
		msg = errMsg
	}
	_, err := s.pool.Exec(ctx, `
		UPDATE sentiment.process_runs
		SET status = $2, processed = $3, negatives = $4, duplicates = $5,
			error_message = $6, finished_at = $7
		WHERE run_id = $1`,
		runID, status, processed, negatives, duplicates, msg, finishedAt,
	)
	if err != nil {
		return fmt.Errorf("finish process run %d: %w", runID, err)
	}
	return nil
}
