package db

import (
	"context"
	"fmt"
	"time"
)

// EventCandidate is the slice of an event group the matcher needs: identity,
// fingerprint, and canonical URL.
type EventCandidate struct {
	EventID      int64
	Fingerprint  uint64
	CanonicalURL string
	LastTitle    string
	LastSeenAt   time.Time
}

// MergeUpdate carries the fields absorbed into an existing event group when a
// mention is merged.
type MergeUpdate struct {
	Title        string
	Reason       string
	Source       string
	SentimentID  string
	CanonicalURL string
	SeenAt       time.Time
}

// EventStore persists event groups. All queries are tenant-scoped; callers
// never see rows from another tenant.
type EventStore struct {
	pool *Pool
}

func NewEventStore(pool *Pool) *EventStore {
	return &EventStore{pool: pool}
}

// LockTenant serializes dedup decisions for one tenant across processes via a
// transaction-scoped advisory lock. Released automatically on commit/rollback.
func (s *EventStore) LockTenant(ctx context.Context, tx Tx, tenant string) error {
	_, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext('event_groups:' || $1))`, tenant)
	if err != nil {
		return fmt.Errorf("acquire tenant lock: %w", err)
	}
	return nil
}

// FindByCanonicalURL returns the event id of the tenant's group carrying the
// given canonical URL, or ErrNoRows.
func (s *EventStore) FindByCanonicalURL(ctx context.Context, tx Tx, tenant, canonicalURL string) (int64, error) {
	var eventID int64
	err := tx.QueryRow(ctx, `
		SELECT event_id
		FROM sentiment.event_groups
		WHERE tenant = $1 AND canonical_url = $2
		ORDER BY last_seen_at DESC
		LIMIT 1`,
		tenant, canonicalURL,
	).Scan(&eventID)
	if err != nil {
		return 0, err
	}
	return eventID, nil
}

// RecentCandidates lists the tenant's event groups seen since the cutoff,
// newest first.
func (s *EventStore) RecentCandidates(ctx context.Context, tx Tx, tenant string, since time.Time) ([]EventCandidate, error) {
	rows, err := tx.Query(ctx, `
		SELECT event_id, fingerprint, COALESCE(canonical_url, ''), last_title, last_seen_at
		FROM sentiment.event_groups
		WHERE tenant = $1 AND last_seen_at >= $2
		ORDER BY last_seen_at DESC`,
		tenant, since,
	)
	if err != nil {
		return nil, fmt.Errorf("query recent event groups: %w", err)
	}
	defer rows.Close()

	var out []EventCandidate
	for rows.Next() {
		var c EventCandidate
		var fp int64
		if err := rows.Scan(&c.EventID, &fp, &c.CanonicalURL, &c.LastTitle, &c.LastSeenAt); err != nil {
			return nil, fmt.Errorf("scan event group: %w", err)
		}
		c.Fingerprint = uint64(fp)
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Create inserts a fresh event group with total_count 1 and returns its id.
func (s *EventStore) Create(ctx context.Context, tx Tx, tenant string, fingerprint uint64, canonicalURL string, u MergeUpdate) (int64, error) {
	var url any
	if canonicalURL != "" {
		url = canonicalURL
	}
	var eventID int64
	err := tx.QueryRow(ctx, `
		INSERT INTO sentiment.event_groups
			(tenant, fingerprint, canonical_url, total_count,
			 last_title, last_reason, last_source, last_sentiment_id,
			 created_at, last_seen_at)
		VALUES ($1, $2, $3, 1, $4, $5, $6, $7, $8, $8)
		RETURNING event_id`,
		tenant, int64(fingerprint), url,
		u.Title, u.Reason, u.Source, u.SentimentID, u.SeenAt,
	).Scan(&eventID)
	if err != nil {
		return 0, fmt.Errorf("insert event group: %w", err)
	}
	return eventID, nil
}

// Merge absorbs a mention into an existing group: bumps total_count, refreshes
// the last_* snapshot, and backfills canonical_url only when it is still null.
func (s *EventStore) Merge(ctx context.Context, tx Tx, eventID int64, u MergeUpdate) (int64, error) {
	var url any
	if u.CanonicalURL != "" {
		url = u.CanonicalURL
	}
	var total int64
	err := tx.QueryRow(ctx, `
		UPDATE sentiment.event_groups
		SET total_count = total_count + 1,
			last_title = $2,
			last_reason = $3,
			last_source = $4,
			last_sentiment_id = $5,
			last_seen_at = GREATEST(last_seen_at, $6),
			canonical_url = COALESCE(canonical_url, $7)
		WHERE event_id = $1
		RETURNING total_count`,
		eventID, u.Title, u.Reason, u.Source, u.SentimentID, u.SeenAt, url,
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("merge into event group %d: %w", eventID, err)
	}
	return total, nil
}

// UpdateURL replaces a group's stored identity key. Used after a hard match
// through a legacy raw URL so later arrivals of the same story land on the
// canonical key directly. Empty keys are ignored; a stored URL never regresses
// to null.
func (s *EventStore) UpdateURL(ctx context.Context, tx Tx, eventID int64, canonicalURL string) error {
	if canonicalURL == "" {
		return nil
	}
	_, err := tx.Exec(ctx, `
		UPDATE sentiment.event_groups SET canonical_url = $2 WHERE event_id = $1`,
		eventID, canonicalURL,
	)
	if err != nil {
		return fmt.Errorf("update event group %d url: %w", eventID, err)
	}
	return nil
}

// Get loads one event group by id.
func (s *EventStore) Get(ctx context.Context, tenant string, eventID int64) (*EventGroup, error) {
	var g EventGroup
	err := s.pool.QueryRow(ctx, `
		SELECT event_id, event_uuid, tenant, fingerprint, canonical_url,
			total_count, last_title, last_reason, last_source, last_sentiment_id,
			created_at, last_seen_at
		FROM sentiment.event_groups
		WHERE tenant = $1 AND event_id = $2`,
		tenant, eventID,
	).Scan(
		&g.EventID, &g.EventUUID, &g.Tenant, &g.Fingerprint, &g.CanonicalURL,
		&g.TotalCount, &g.LastTitle, &g.LastReason, &g.LastSource, &g.LastSentimentID,
		&g.CreatedAt, &g.LastSeenAt,
	)
	if err != nil {
		return nil, err
	}
	return &g, nil
}

// List returns the tenant's event groups, newest activity first.
func (s *EventStore) List(ctx context.Context, tenant string, limit, offset int) ([]EventGroup, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT event_id, event_uuid, tenant, fingerprint, canonical_url,
			total_count, last_title, last_reason, last_source, last_sentiment_id,
			created_at, last_seen_at
		FROM sentiment.event_groups
		WHERE tenant = $1
		ORDER BY last_seen_at DESC
		LIMIT $2 OFFSET $3`,
		tenant, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("query event groups: %w", err)
	}
	defer rows.Close()

	var out []EventGroup
	for rows.Next() {
		var g EventGroup
		if err := rows.Scan(
			&g.EventID, &g.EventUUID, &g.Tenant, &g.Fingerprint, &g.CanonicalURL,
			&g.TotalCount, &g.LastTitle, &g.LastReason, &g.LastSource, &g.LastSentimentID,
			&g.CreatedAt, &g.LastSeenAt,
		); err != nil {
			return nil, fmt.Errorf("scan event group: %w", err)
		}
		out = append(out, g)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
