package dedupe

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"horse.fit/pulse/internal/db"
)

type fakeEvent struct {
	id           int64
	tenant       string
	fingerprint  uint64
	canonicalURL string
	totalCount   int64
	lastTitle    string
	lastSeenAt   time.Time
}

type fakeStore struct {
	events []*fakeEvent
	nextID int64
}

func (f *fakeStore) LockTenant(context.Context, db.Tx, string) error { return nil }

func (f *fakeStore) FindByCanonicalURL(_ context.Context, _ db.Tx, tenant, canonicalURL string) (int64, error) {
	for _, e := range f.events {
		if e.tenant == tenant && e.canonicalURL == canonicalURL {
			return e.id, nil
		}
	}
	return 0, db.ErrNoRows
}

func (f *fakeStore) RecentCandidates(_ context.Context, _ db.Tx, tenant string, since time.Time) ([]db.EventCandidate, error) {
	var out []db.EventCandidate
	for _, e := range f.events {
		if e.tenant != tenant || e.lastSeenAt.Before(since) {
			continue
		}
		out = append(out, db.EventCandidate{
			EventID:      e.id,
			Fingerprint:  e.fingerprint,
			CanonicalURL: e.canonicalURL,
			LastTitle:    e.lastTitle,
			LastSeenAt:   e.lastSeenAt,
		})
	}
	return out, nil
}

func (f *fakeStore) Create(_ context.Context, _ db.Tx, tenant string, fingerprint uint64, canonicalURL string, u db.MergeUpdate) (int64, error) {
	f.nextID++
	f.events = append(f.events, &fakeEvent{
		id:           f.nextID,
		tenant:       tenant,
		fingerprint:  fingerprint,
		canonicalURL: canonicalURL,
		totalCount:   1,
		lastTitle:    u.Title,
		lastSeenAt:   u.SeenAt,
	})
	return f.nextID, nil
}

func (f *fakeStore) Merge(_ context.Context, _ db.Tx, eventID int64, u db.MergeUpdate) (int64, error) {
	for _, e := range f.events {
		if e.id == eventID {
			e.totalCount++
			e.lastTitle = u.Title
			if u.SeenAt.After(e.lastSeenAt) {
				e.lastSeenAt = u.SeenAt
			}
			if e.canonicalURL == "" {
				e.canonicalURL = u.CanonicalURL
			}
			return e.totalCount, nil
		}
	}
	return 0, db.ErrNoRows
}

func (f *fakeStore) UpdateURL(_ context.Context, _ db.Tx, eventID int64, canonicalURL string) error {
	for _, e := range f.events {
		if e.id == eventID {
			e.canonicalURL = canonicalURL
		}
	}
	return nil
}

func newTestMatcher(store EventStore, arb *Arbiter) *Matcher {
	return NewMatcher(store, arb, 7, 4, zerolog.Nop())
}

func TestMatchOrCreateFirstMentionCreates(t *testing.T) {
	t.Parallel()

	store := &fakeStore{}
	m := newTestMatcher(store, nil)

	res, err := m.MatchOrCreate(context.Background(), nil, Mention{
		Tenant:      "city-hospital",
		SentimentID: "s-1",
		Title:       "市中心医院急诊排队时间过长引发投诉",
		URL:         "https://www.douyin.com/video/7301234567890123456",
		SeenAt:      time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("MatchOrCreate: %v", err)
	}
	if res.IsDuplicate {
		t.Fatalf("first mention flagged duplicate")
	}
	if res.TotalCount != 1 {
		t.Fatalf("totalCount = %d, want 1", res.TotalCount)
	}
	if res.CanonicalURL != "douyin:7301234567890123456" {
		t.Fatalf("canonical url = %q", res.CanonicalURL)
	}
}

func TestMatchOrCreateHardURLMatch(t *testing.T) {
	t.Parallel()

	store := &fakeStore{}
	m := newTestMatcher(store, nil)
	now := time.Now().UTC()

	first, err := m.MatchOrCreate(context.Background(), nil, Mention{
		Tenant: "city-hospital", SentimentID: "s-1",
		Title: "急诊排队投诉",
		URL:   "https://www.douyin.com/video/7301234567890123456",
		SeenAt: now,
	})
	if err != nil {
		t.Fatalf("first: %v", err)
	}

	// Completely different title, same underlying video via a share link.
	second, err := m.MatchOrCreate(context.Background(), nil, Mention{
		Tenant: "city-hospital", SentimentID: "s-2",
		Title: "完全不同的标题",
		URL:   "https://www.iesdouyin.com/share/video/7301234567890123456/?region=CN",
		SeenAt: now.Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if !second.IsDuplicate || second.EventID != first.EventID {
		t.Fatalf("share link did not merge: dup=%v event=%d want %d", second.IsDuplicate, second.EventID, first.EventID)
	}
	if second.MatchedBy != "url" {
		t.Fatalf("matchedBy = %q, want url", second.MatchedBy)
	}
	if second.TotalCount != 2 {
		t.Fatalf("totalCount = %d, want 2", second.TotalCount)
	}
}

func TestMatchOrCreateSoftMatchByFingerprint(t *testing.T) {
	t.Parallel()

	store := &fakeStore{}
	m := newTestMatcher(store, nil)
	now := time.Now().UTC()

	first, err := m.MatchOrCreate(context.Background(), nil, Mention{
		Tenant: "city-hospital", SentimentID: "s-1",
		Title:  "市中心医院急诊科排队时间过长引发患者投诉",
		SeenAt: now,
	})
	if err != nil {
		t.Fatalf("first: %v", err)
	}

	second, err := m.MatchOrCreate(context.Background(), nil, Mention{
		Tenant: "city-hospital", SentimentID: "s-2",
		Title:  "市中心医院急诊科排队时间太长引发患者投诉",
		SeenAt: now.Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if !second.IsDuplicate || second.EventID != first.EventID {
		t.Fatalf("near-identical title did not merge: dup=%v", second.IsDuplicate)
	}
	if second.MatchedBy != "simhash" {
		t.Fatalf("matchedBy = %q, want simhash", second.MatchedBy)
	}

	third, err := m.MatchOrCreate(context.Background(), nil, Mention{
		Tenant: "city-hospital", SentimentID: "s-3",
		Title:  "本地新开宠物咖啡馆生意火爆市民排队打卡体验",
		SeenAt: now.Add(2 * time.Hour),
	})
	if err != nil {
		t.Fatalf("third: %v", err)
	}
	if third.IsDuplicate {
		t.Fatalf("unrelated title merged into event %d", third.EventID)
	}
}

func TestMatchOrCreateContentFallbackFingerprint(t *testing.T) {
	t.Parallel()

	store := &fakeStore{}
	m := newTestMatcher(store, nil)
	now := time.Now().UTC()

	content := "今天带家人去市中心医院看急诊，排队等了三个多小时，前台态度也不好，体验很差"
	first, err := m.MatchOrCreate(context.Background(), nil, Mention{
		Tenant: "city-hospital", SentimentID: "s-1",
		Content: content,
		SeenAt:  now,
	})
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	if first.Fingerprint == 0 {
		t.Fatalf("title-less mention with content produced zero fingerprint")
	}

	second, err := m.MatchOrCreate(context.Background(), nil, Mention{
		Tenant: "city-hospital", SentimentID: "s-2",
		Content: "今天带家人去市中心医院看急诊，排队等了三个多小时，前台态度也不好，体验很糟",
		SeenAt:  now.Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if !second.IsDuplicate || second.EventID != first.EventID {
		t.Fatalf("near-identical content did not merge: dup=%v", second.IsDuplicate)
	}
}

func TestMatchOrCreateTenantIsolation(t *testing.T) {
	t.Parallel()

	store := &fakeStore{}
	m := newTestMatcher(store, nil)
	now := time.Now().UTC()

	title := "市中心医院急诊科排队时间过长引发投诉"
	url := "https://www.douyin.com/video/7301234567890123456"

	a, err := m.MatchOrCreate(context.Background(), nil, Mention{
		Tenant: "hospital-a", SentimentID: "s-1", Title: title, URL: url, SeenAt: now,
	})
	if err != nil {
		t.Fatalf("tenant a: %v", err)
	}
	b, err := m.MatchOrCreate(context.Background(), nil, Mention{
		Tenant: "hospital-b", SentimentID: "s-2", Title: title, URL: url, SeenAt: now,
	})
	if err != nil {
		t.Fatalf("tenant b: %v", err)
	}
	if b.IsDuplicate {
		t.Fatalf("identical mention crossed tenants")
	}
	if a.EventID == b.EventID {
		t.Fatalf("tenants share event id %d", a.EventID)
	}
}

func TestMatchOrCreateWindowExpiry(t *testing.T) {
	t.Parallel()

	store := &fakeStore{}
	m := newTestMatcher(store, nil)
	now := time.Now().UTC()

	title := "市中心医院急诊科排队时间过长引发投诉"
	first, err := m.MatchOrCreate(context.Background(), nil, Mention{
		Tenant: "city-hospital", SentimentID: "s-1", Title: title, SeenAt: now.Add(-8 * 24 * time.Hour),
	})
	if err != nil {
		t.Fatalf("first: %v", err)
	}

	second, err := m.MatchOrCreate(context.Background(), nil, Mention{
		Tenant: "city-hospital", SentimentID: "s-2", Title: title, SeenAt: now,
	})
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if second.IsDuplicate || second.EventID == first.EventID {
		t.Fatalf("stale event outside the window still matched")
	}
}

func TestMatchOrCreateZeroFingerprintNeverSoftMatches(t *testing.T) {
	t.Parallel()

	store := &fakeStore{}
	m := newTestMatcher(store, nil)
	now := time.Now().UTC()

	first, err := m.MatchOrCreate(context.Background(), nil, Mention{
		Tenant: "city-hospital", SentimentID: "s-1", Title: "！！！", SeenAt: now,
	})
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	if first.Fingerprint != 0 {
		t.Fatalf("punctuation-only title produced fingerprint %x", first.Fingerprint)
	}

	second, err := m.MatchOrCreate(context.Background(), nil, Mention{
		Tenant: "city-hospital", SentimentID: "s-2", Title: "。。。", SeenAt: now,
	})
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if second.IsDuplicate {
		t.Fatalf("two zero-fingerprint mentions merged")
	}
}

func TestMatchOrCreateArbiterVeto(t *testing.T) {
	t.Parallel()

	store := &fakeStore{}
	judge := &stubJudge{same: false}
	arb := NewArbiter(judge, true, 0, 8, FailOpen, zerolog.Nop())
	m := newTestMatcher(store, arb)
	now := time.Now().UTC()

	title := "市中心医院急诊科排队时间过长引发投诉"
	if _, err := m.MatchOrCreate(context.Background(), nil, Mention{
		Tenant: "city-hospital", SentimentID: "s-1", Title: title, SeenAt: now,
	}); err != nil {
		t.Fatalf("first: %v", err)
	}

	second, err := m.MatchOrCreate(context.Background(), nil, Mention{
		Tenant: "city-hospital", SentimentID: "s-2", Title: title + "啊", SeenAt: now.Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if second.IsDuplicate {
		t.Fatalf("arbiter veto ignored, mention merged anyway")
	}
	if judge.calls == 0 {
		t.Fatalf("judge never consulted for in-band pair")
	}
}

func TestMatchOrCreateCanonicalURLBackfill(t *testing.T) {
	t.Parallel()

	store := &fakeStore{}
	m := newTestMatcher(store, nil)
	now := time.Now().UTC()

	title := "市中心医院急诊科排队时间过长引发投诉"
	first, err := m.MatchOrCreate(context.Background(), nil, Mention{
		Tenant: "city-hospital", SentimentID: "s-1", Title: title, SeenAt: now,
	})
	if err != nil {
		t.Fatalf("first: %v", err)
	}

	if _, err := m.MatchOrCreate(context.Background(), nil, Mention{
		Tenant: "city-hospital", SentimentID: "s-2", Title: title,
		URL:    "https://www.douyin.com/video/7301234567890123456",
		SeenAt: now.Add(time.Hour),
	}); err != nil {
		t.Fatalf("second: %v", err)
	}

	for _, e := range store.events {
		if e.id == first.EventID && e.canonicalURL != "douyin:7301234567890123456" {
			t.Fatalf("canonical url not backfilled: %q", e.canonicalURL)
		}
	}
}

func TestMatchOrCreateLegacyURLUpgradesCanonicalKey(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()
	legacy := "https://www.douyin.com/video/7301234567890123456?foo=1"
	store := &fakeStore{
		events: []*fakeEvent{{
			id:           1,
			tenant:       "city-hospital",
			canonicalURL: legacy,
			totalCount:   1,
			lastTitle:    "急诊排队投诉",
			lastSeenAt:   now,
		}},
		nextID: 1,
	}
	m := newTestMatcher(store, nil)

	second, err := m.MatchOrCreate(context.Background(), nil, Mention{
		Tenant: "city-hospital", SentimentID: "s-2",
		Title:  "完全不同的标题",
		URL:    legacy,
		SeenAt: now.Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if !second.IsDuplicate || second.EventID != 1 {
		t.Fatalf("legacy raw url did not hard-match: %+v", second)
	}
	if store.events[0].canonicalURL != "douyin:7301234567890123456" {
		t.Fatalf("stored url not upgraded: %q", store.events[0].canonicalURL)
	}

	// After the upgrade a share-link form of the same video hard-matches too.
	third, err := m.MatchOrCreate(context.Background(), nil, Mention{
		Tenant: "city-hospital", SentimentID: "s-3",
		Title:  "又一个不同的标题",
		URL:    "https://www.iesdouyin.com/share/video/7301234567890123456/?region=CN",
		SeenAt: now.Add(2 * time.Hour),
	})
	if err != nil {
		t.Fatalf("third: %v", err)
	}
	if !third.IsDuplicate || third.EventID != 1 || third.MatchedBy != "url" {
		t.Fatalf("share link split the event after upgrade: %+v", third)
	}
}
