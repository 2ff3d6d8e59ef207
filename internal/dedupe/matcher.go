package dedupe

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"horse.fit/pulse/internal/db"
	"horse.fit/pulse/internal/globaltime"
)

// EventStore is the persistence surface the matcher needs. Implemented by
// db.EventStore; tests substitute an in-memory fake.
type EventStore interface {
	LockTenant(ctx context.Context, tx db.Tx, tenant string) error
	FindByCanonicalURL(ctx context.Context, tx db.Tx, tenant, canonicalURL string) (int64, error)
	RecentCandidates(ctx context.Context, tx db.Tx, tenant string, since time.Time) ([]db.EventCandidate, error)
	Create(ctx context.Context, tx db.Tx, tenant string, fingerprint uint64, canonicalURL string, u db.MergeUpdate) (int64, error)
	Merge(ctx context.Context, tx db.Tx, eventID int64, u db.MergeUpdate) (int64, error)
	UpdateURL(ctx context.Context, tx db.Tx, eventID int64, canonicalURL string) error
}

// Mention is the slice of an incoming negative mention the matcher consumes.
type Mention struct {
	Tenant      string
	SentimentID string
	Title       string
	Content     string
	Reason      string
	Source      string
	URL         string
	SeenAt      time.Time
}

// fingerprintExcerptRunes bounds the content excerpt hashed when the title
// is empty.
const fingerprintExcerptRunes = 120

// fingerprintText returns the text the soft-match fingerprint is computed
// from: the title, or a bounded content excerpt when the title carries no
// tokens.
func fingerprintText(mn Mention) string {
	if len(Tokenize(mn.Title)) > 0 {
		return mn.Title
	}
	runes := []rune(mn.Content)
	if len(runes) > fingerprintExcerptRunes {
		runes = runes[:fingerprintExcerptRunes]
	}
	return string(runes)
}

// MatchResult reports where a mention landed.
type MatchResult struct {
	EventID      int64
	IsDuplicate  bool
	TotalCount   int64
	Fingerprint  uint64
	CanonicalURL string
	// MatchedBy is "url", "simhash", or "" for a newly created group.
	MatchedBy string
	Distance  int
}

// Matcher folds negative mentions into per-tenant event groups. Hard URL
// matches win; otherwise the nearest recent fingerprint within the distance
// threshold merges, with the grey-zone arbiter able to override either way.
type Matcher struct {
	store       EventStore
	arbiter     *Arbiter
	window      time.Duration
	maxDistance int
	log         zerolog.Logger

	mu          sync.Mutex
	tenantLocks map[string]*sync.Mutex
}

func NewMatcher(store EventStore, arbiter *Arbiter, windowDays, maxDistance int, log zerolog.Logger) *Matcher {
	if windowDays <= 0 {
		windowDays = 7
	}
	if maxDistance < 0 {
		maxDistance = 4
	}
	return &Matcher{
		store:       store,
		arbiter:     arbiter,
		window:      time.Duration(windowDays) * 24 * time.Hour,
		maxDistance: maxDistance,
		log:         log,
		tenantLocks: make(map[string]*sync.Mutex),
	}
}

func (m *Matcher) tenantLock(tenant string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	lk, ok := m.tenantLocks[tenant]
	if !ok {
		lk = &sync.Mutex{}
		m.tenantLocks[tenant] = lk
	}
	return lk
}

// MatchOrCreate runs the dedup cascade inside the caller's transaction. A
// per-tenant mutex plus a transaction-scoped advisory lock serialize
// decisions for one tenant, so two near-simultaneous arrivals of the same
// story cannot both create a group.
func (m *Matcher) MatchOrCreate(ctx context.Context, tx db.Tx, mn Mention) (*MatchResult, error) {
	if mn.Tenant == "" {
		return nil, fmt.Errorf("mention has no tenant")
	}
	seenAt := mn.SeenAt
	if seenAt.IsZero() {
		seenAt = globaltime.UTC()
	}

	lk := m.tenantLock(mn.Tenant)
	lk.Lock()
	defer lk.Unlock()

	if err := m.store.LockTenant(ctx, tx, mn.Tenant); err != nil {
		return nil, err
	}

	res := &MatchResult{
		Fingerprint:  Simhash64(fingerprintText(mn)),
		CanonicalURL: CanonicalKey(mn.URL, mn.Source),
	}
	update := db.MergeUpdate{
		Title:        mn.Title,
		Reason:       mn.Reason,
		Source:       mn.Source,
		SentimentID:  mn.SentimentID,
		CanonicalURL: res.CanonicalURL,
		SeenAt:       seenAt,
	}

	// Hard match on the canonical key, then on the raw URL for groups
	// stored before canonicalization existed.
	for _, key := range hardMatchKeys(res.CanonicalURL, mn.URL) {
		eventID, err := m.store.FindByCanonicalURL(ctx, tx, mn.Tenant, key)
		switch {
		case err == nil:
			total, err := m.store.Merge(ctx, tx, eventID, update)
			if err != nil {
				return nil, err
			}
			// A match through the legacy raw URL upgrades the stored key
			// so the next arrival hits the canonical form directly.
			if key != res.CanonicalURL && res.CanonicalURL != "" {
				if err := m.store.UpdateURL(ctx, tx, eventID, res.CanonicalURL); err != nil {
					return nil, err
				}
			}
			res.EventID = eventID
			res.IsDuplicate = true
			res.TotalCount = total
			res.MatchedBy = "url"
			return res, nil
		case !db.IsNoRows(err):
			return nil, fmt.Errorf("lookup by canonical url: %w", err)
		}
	}

	if res.Fingerprint != 0 {
		since := seenAt.Add(-m.window)
		candidates, err := m.store.RecentCandidates(ctx, tx, mn.Tenant, since)
		if err != nil {
			return nil, err
		}
		best, bestDist := bestCandidate(res.Fingerprint, candidates)
		if best != nil {
			withinThreshold := bestDist <= m.maxDistance
			merge := withinThreshold
			if m.arbiter != nil {
				merge = m.arbiter.Decide(ctx, mn.Title, best.LastTitle, bestDist, withinThreshold)
			}
			if merge {
				total, err := m.store.Merge(ctx, tx, best.EventID, update)
				if err != nil {
					return nil, err
				}
				res.EventID = best.EventID
				res.IsDuplicate = true
				res.TotalCount = total
				res.MatchedBy = "simhash"
				res.Distance = bestDist
				m.log.Debug().
					Str("tenant", mn.Tenant).
					Int64("event_id", best.EventID).
					Int("distance", bestDist).
					Bool("within_threshold", withinThreshold).
					Msg("merged mention by fingerprint")
				return res, nil
			}
		}
	}

	eventID, err := m.store.Create(ctx, tx, mn.Tenant, res.Fingerprint, res.CanonicalURL, update)
	if err != nil {
		return nil, err
	}
	res.EventID = eventID
	res.TotalCount = 1
	return res, nil
}

// hardMatchKeys lists the identity keys to try for a hard match, canonical
// form first, skipping blanks and duplicates.
func hardMatchKeys(canonical, raw string) []string {
	keys := make([]string, 0, 2)
	if canonical != "" {
		keys = append(keys, canonical)
	}
	raw = strings.TrimSpace(raw)
	if raw != "" && raw != canonical {
		keys = append(keys, raw)
	}
	return keys
}

// bestCandidate picks the nearest candidate with a usable fingerprint. Zero
// fingerprints carry no signal and are skipped on both sides. Candidates
// arrive newest first; on a distance tie the newer group wins.
func bestCandidate(fp uint64, candidates []db.EventCandidate) (*db.EventCandidate, int) {
	var best *db.EventCandidate
	bestDist := 65
	for i := range candidates {
		c := &candidates[i]
		if c.Fingerprint == 0 {
			continue
		}
		d := HammingDistance(fp, c.Fingerprint)
		if d < bestDist {
			best = c
			bestDist = d
		}
	}
	if best == nil {
		return nil, 0
	}
	return best, bestDist
}
