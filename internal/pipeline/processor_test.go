package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"horse.fit/pulse/internal/classify"
	"horse.fit/pulse/internal/db"
	"horse.fit/pulse/internal/dedupe"
)

type fakeTx struct{}

func (fakeTx) QueryRow(context.Context, string, ...any) *db.Row        { return &db.Row{} }
func (fakeTx) Query(context.Context, string, ...any) (*db.Rows, error) { return &db.Rows{}, nil }
func (fakeTx) Exec(context.Context, string, ...any) (db.CommandTag, error) {
	return db.CommandTag{}, nil
}
func (fakeTx) Commit(context.Context) error   { return nil }
func (fakeTx) Rollback(context.Context) error { return nil }

type fakeBeginner struct{}

func (fakeBeginner) BeginTx(context.Context, db.TxOptions) (db.Tx, error) {
	return fakeTx{}, nil
}

type fakeMentionStore struct {
	pending   []db.MentionArrival
	negatives []db.NegativeMention
	processed []int64
	runStatus string
	runErrMsg string
}

func (f *fakeMentionStore) ClaimPending(_ context.Context, _ db.Tx, limit int) ([]db.MentionArrival, error) {
	done := make(map[int64]bool, len(f.processed))
	for _, id := range f.processed {
		done[id] = true
	}
	var batch []db.MentionArrival
	for _, a := range f.pending {
		if done[a.ArrivalID] {
			continue
		}
		batch = append(batch, a)
		if len(batch) == limit {
			break
		}
	}
	return batch, nil
}

func (f *fakeMentionStore) MarkProcessed(_ context.Context, _ db.Tx, ids []int64, _ time.Time) error {
	f.processed = append(f.processed, ids...)
	return nil
}

func (f *fakeMentionStore) InsertNegative(_ context.Context, _ db.Tx, m *db.NegativeMention) (int64, error) {
	f.negatives = append(f.negatives, *m)
	return int64(len(f.negatives)), nil
}

func (f *fakeMentionStore) StartRun(context.Context, string, time.Time) (int64, error) {
	return 7, nil
}

func (f *fakeMentionStore) FinishRun(_ context.Context, _ int64, status string, _, _, _ int, errMsg string, _ time.Time) error {
	f.runStatus = status
	f.runErrMsg = errMsg
	return nil
}

type keywordClassifier struct{}

func (keywordClassifier) Classify(_ context.Context, in classify.Input) (*classify.Decision, error) {
	if strings.Contains(in.Title, "投诉") {
		return &classify.Decision{IsNegative: true, Severity: "medium", Reason: "投诉类内容", DecidedBy: classify.DecidedByAI}, nil
	}
	return &classify.Decision{IsNegative: false, Severity: "low", DecidedBy: classify.DecidedByAI}, nil
}

type countingMatcher struct {
	seen map[string]int64
	next int64
}

func (m *countingMatcher) MatchOrCreate(_ context.Context, _ db.Tx, mn dedupe.Mention) (*dedupe.MatchResult, error) {
	if m.seen == nil {
		m.seen = make(map[string]int64)
	}
	key := mn.Tenant + "|" + mn.Title
	if id, ok := m.seen[key]; ok {
		return &dedupe.MatchResult{EventID: id, IsDuplicate: true, TotalCount: 2}, nil
	}
	m.next++
	m.seen[key] = m.next
	return &dedupe.MatchResult{EventID: m.next, TotalCount: 1}, nil
}

func arrival(id int64, tenant, sentimentID, title string) db.MentionArrival {
	return db.MentionArrival{
		ArrivalID:   id,
		Tenant:      tenant,
		SentimentID: sentimentID,
		Title:       title,
		FetchedAt:   time.Now().UTC(),
	}
}

func TestRunDrainsBacklog(t *testing.T) {
	t.Parallel()

	store := &fakeMentionStore{
		pending: []db.MentionArrival{
			arrival(1, "city-hospital", "s-1", "患者投诉急诊排队时间过长"),
			arrival(2, "city-hospital", "s-2", "患者投诉急诊排队时间过长"),
			arrival(3, "city-hospital", "s-3", "医院举办义诊活动"),
		},
	}
	p := NewProcessor(fakeBeginner{}, store, keywordClassifier{}, &countingMatcher{}, 2, zerolog.Nop())

	summary, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Processed != 3 {
		t.Fatalf("processed = %d, want 3", summary.Processed)
	}
	if summary.Negatives != 2 {
		t.Fatalf("negatives = %d, want 2", summary.Negatives)
	}
	if summary.Duplicates != 1 {
		t.Fatalf("duplicates = %d, want 1", summary.Duplicates)
	}
	if len(store.processed) != 3 {
		t.Fatalf("marked processed = %v", store.processed)
	}
	if store.runStatus != "completed" {
		t.Fatalf("run status = %q", store.runStatus)
	}
	if len(store.negatives) != 2 {
		t.Fatalf("negative mentions stored = %d", len(store.negatives))
	}
	if !store.negatives[1].IsDuplicate {
		t.Fatalf("second identical mention not flagged duplicate: %+v", store.negatives[1])
	}
}

func TestRunEmptyBacklog(t *testing.T) {
	t.Parallel()

	store := &fakeMentionStore{}
	p := NewProcessor(fakeBeginner{}, store, keywordClassifier{}, &countingMatcher{}, 10, zerolog.Nop())

	summary, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Processed != 0 || summary.Negatives != 0 {
		t.Fatalf("summary = %+v", summary)
	}
	if store.runStatus != "completed" {
		t.Fatalf("run status = %q", store.runStatus)
	}
}

type erroringClassifier struct {
	failTitle string
}

func (c erroringClassifier) Classify(ctx context.Context, in classify.Input) (*classify.Decision, error) {
	if strings.Contains(in.Title, c.failTitle) {
		return nil, errors.New("model unavailable")
	}
	return keywordClassifier{}.Classify(ctx, in)
}

func TestRunFailedArrivalStaysPending(t *testing.T) {
	t.Parallel()

	store := &fakeMentionStore{
		pending: []db.MentionArrival{
			arrival(1, "city-hospital", "s-1", "投诉超时无法分类"),
			arrival(2, "city-hospital", "s-2", "患者投诉急诊排队"),
			arrival(3, "city-hospital", "s-3", "医院举办义诊活动"),
		},
	}
	classifier := erroringClassifier{failTitle: "超时"}
	p := NewProcessor(fakeBeginner{}, store, classifier, &countingMatcher{}, 2, zerolog.Nop())

	summary, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Errors != 1 {
		t.Fatalf("errors = %d, want 1", summary.Errors)
	}
	if summary.Processed != 2 {
		t.Fatalf("processed = %d, want 2", summary.Processed)
	}
	for _, id := range store.processed {
		if id == 1 {
			t.Fatalf("failed arrival stamped processed: %v", store.processed)
		}
	}
	if len(store.processed) != 2 {
		t.Fatalf("marked processed = %v, want the two successes", store.processed)
	}
	if store.runStatus != "completed" {
		t.Fatalf("run status = %q", store.runStatus)
	}
}

func TestRunNonNegativeSkipsMatcher(t *testing.T) {
	t.Parallel()

	store := &fakeMentionStore{
		pending: []db.MentionArrival{
			arrival(1, "city-hospital", "s-1", "医院发布健康科普"),
		},
	}
	matcher := &countingMatcher{}
	p := NewProcessor(fakeBeginner{}, store, keywordClassifier{}, matcher, 10, zerolog.Nop())

	if _, err := p.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if matcher.next != 0 {
		t.Fatalf("matcher invoked for non-negative mention")
	}
	if len(store.negatives) != 0 {
		t.Fatalf("negative stored for non-negative mention")
	}
}
