package db

import (
	"context"
	"fmt"
	"time"
)

// FeedbackStore persists reviewer feedback and the rules derived from it.
type FeedbackStore struct {
	pool *Pool
}

func NewFeedbackStore(pool *Pool) *FeedbackStore {
	return &FeedbackStore{pool: pool}
}

// InsertRecord appends one feedback record and returns its id.
func (s *FeedbackStore) InsertRecord(ctx context.Context, tx Tx, r *FeedbackRecord) (int64, error) {
	var feedbackID int64
	err := tx.QueryRow(ctx, `
		INSERT INTO sentiment.feedback_records
			(sentiment_id, judgment, kind, text, reviewer, feedback_time)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING feedback_id`,
		r.SentimentID, r.Judgment, r.Kind, r.Text, r.Reviewer, r.FeedbackTime,
	).Scan(&feedbackID)
	if err != nil {
		return 0, fmt.Errorf("insert feedback record: %w", err)
	}
	return feedbackID, nil
}

// LatestVerdict returns the newest feedback record for a sentiment id, or
// ErrNoRows when none exists.
func (s *FeedbackStore) LatestVerdict(ctx context.Context, sentimentID string) (*FeedbackRecord, error) {
	var r FeedbackRecord
	err := s.pool.QueryRow(ctx, `
		SELECT feedback_id, sentiment_id, judgment, kind, text, reviewer, feedback_time, created_at
		FROM sentiment.feedback_records
		WHERE sentiment_id = $1
		ORDER BY created_at DESC, feedback_id DESC
		LIMIT 1`,
		sentimentID,
	).Scan(&r.FeedbackID, &r.SentimentID, &r.Judgment, &r.Kind, &r.Text, &r.Reviewer, &r.FeedbackTime, &r.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// RecentRecords lists the newest feedback records, used to build few-shot
// examples for the AI provider.
func (s *FeedbackStore) RecentRecords(ctx context.Context, limit int) ([]FeedbackRecord, error) {
	if limit <= 0 {
		limit = 5
	}
	rows, err := s.pool.Query(ctx, `
		SELECT feedback_id, sentiment_id, judgment, kind, text, reviewer, feedback_time, created_at
		FROM sentiment.feedback_records
		ORDER BY created_at DESC, feedback_id DESC
		LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query feedback records: %w", err)
	}
	defer rows.Close()

	var out []FeedbackRecord
	for rows.Next() {
		var r FeedbackRecord
		if err := rows.Scan(&r.FeedbackID, &r.SentimentID, &r.Judgment, &r.Kind, &r.Text, &r.Reviewer, &r.FeedbackTime, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan feedback record: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// UpsertRule inserts a rule unless an enabled rule with the same pattern,
// type, and action already exists. Returns the rule id and whether a row was
// created.
func (s *FeedbackStore) UpsertRule(ctx context.Context, tx Tx, r *FeedbackRule) (int64, bool, error) {
	var existing int64
	err := tx.QueryRow(ctx, `
		SELECT rule_id
		FROM sentiment.feedback_rules
		WHERE pattern = $1 AND rule_type = $2 AND action = $3 AND enabled
		LIMIT 1`,
		r.Pattern, r.RuleType, r.Action,
	).Scan(&existing)
	if err == nil {
		return existing, false, nil
	}
	if !IsNoRows(err) {
		return 0, false, fmt.Errorf("check existing rule: %w", err)
	}

	var ruleID int64
	err = tx.QueryRow(ctx, `
		INSERT INTO sentiment.feedback_rules
			(pattern, rule_type, action, confidence, enabled, source_feedback_id)
		VALUES ($1, $2, $3, $4, true, $5)
		RETURNING rule_id`,
		r.Pattern, r.RuleType, r.Action, r.Confidence, r.SourceFeedbackID,
	).Scan(&ruleID)
	if err != nil {
		return 0, false, fmt.Errorf("insert feedback rule: %w", err)
	}
	return ruleID, true, nil
}

// EnabledRules returns enabled rules at or above the confidence floor, highest
// confidence first.
func (s *FeedbackStore) EnabledRules(ctx context.Context, minConfidence float64, limit int) ([]FeedbackRule, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT rule_id, rule_uuid, pattern, rule_type, action, confidence, enabled, source_feedback_id, created_at
		FROM sentiment.feedback_rules
		WHERE enabled AND confidence >= $1
		ORDER BY confidence DESC, rule_id ASC
		LIMIT $2`,
		minConfidence, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query feedback rules: %w", err)
	}
	defer rows.Close()

	var out []FeedbackRule
	for rows.Next() {
		var r FeedbackRule
		if err := rows.Scan(&r.RuleID, &r.RuleUUID, &r.Pattern, &r.RuleType, &r.Action, &r.Confidence, &r.Enabled, &r.SourceFeedbackID, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan feedback rule: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// SetRuleEnabled flips a rule on or off.
func (s *FeedbackStore) SetRuleEnabled(ctx context.Context, ruleID int64, enabled bool) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE sentiment.feedback_rules SET enabled = $2 WHERE rule_id = $1`,
		ruleID, enabled,
	)
	if err != nil {
		return fmt.Errorf("update feedback rule %d: %w", ruleID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNoRows
	}
	return nil
}

// DismissMention marks a mention dismissed after false-positive feedback. The
// update is idempotent; re-dismissing keeps the original timestamp.
func (s *FeedbackStore) DismissMention(ctx context.Context, tx Tx, sentimentID string, at time.Time) (int64, error) {
	tag, err := tx.Exec(ctx, `
		UPDATE sentiment.negative_mentions
		SET status = 'dismissed',
			dismissed_at = COALESCE(dismissed_at, $2)
		WHERE sentiment_id = $1 AND status <> 'dismissed'`,
		sentimentID, at,
	)
	if err != nil {
		return 0, fmt.Errorf("dismiss mention %s: %w", sentimentID, err)
	}
	return tag.RowsAffected(), nil
}
