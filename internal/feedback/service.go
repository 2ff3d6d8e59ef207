package feedback

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"horse.fit/pulse/internal/ai"
	"horse.fit/pulse/internal/db"
	"horse.fit/pulse/internal/globaltime"
)

// Store is the persistence surface the service needs. Implemented by
// db.FeedbackStore.
type Store interface {
	InsertRecord(ctx context.Context, tx db.Tx, r *db.FeedbackRecord) (int64, error)
	LatestVerdict(ctx context.Context, sentimentID string) (*db.FeedbackRecord, error)
	RecentRecords(ctx context.Context, limit int) ([]db.FeedbackRecord, error)
	UpsertRule(ctx context.Context, tx db.Tx, r *db.FeedbackRule) (int64, bool, error)
	EnabledRules(ctx context.Context, minConfidence float64, limit int) ([]db.FeedbackRule, error)
	DismissMention(ctx context.Context, tx db.Tx, sentimentID string, at time.Time) (int64, error)
}

// TxBeginner opens transactions; satisfied by *db.Pool.
type TxBeginner interface {
	BeginTx(ctx context.Context, opts db.TxOptions) (db.Tx, error)
}

// Submission is one piece of reviewer feedback.
type Submission struct {
	SentimentID string
	Judgment    bool
	Kind        string
	Text        string
	Reviewer    string
	At          time.Time
}

// Result reports what a submission changed.
type Result struct {
	FeedbackID     int64 `json:"feedbackId"`
	RulesCreated   int   `json:"rulesCreated"`
	MentionsHidden int64 `json:"mentionsHidden"`
}

// Service records reviewer feedback, derives rules from it, and serves the
// rules and few-shot examples back to classification.
type Service struct {
	store         Store
	beginner      TxBeginner
	minConfidence float64
	rulesLimit    int
	fewShotLimit  int
	log           zerolog.Logger
}

func NewService(store Store, beginner TxBeginner, minConfidence float64, rulesLimit, fewShotLimit int, log zerolog.Logger) *Service {
	if rulesLimit <= 0 {
		rulesLimit = 50
	}
	if fewShotLimit <= 0 {
		fewShotLimit = 5
	}
	return &Service{
		store:         store,
		beginner:      beginner,
		minConfidence: minConfidence,
		rulesLimit:    rulesLimit,
		fewShotLimit:  fewShotLimit,
		log:           log,
	}
}

// Submit stores one feedback record, mines rules from its text, and on a
// false-positive verdict hides the mention. All writes share one transaction.
func (s *Service) Submit(ctx context.Context, sub Submission) (*Result, error) {
	sentimentID := strings.TrimSpace(sub.SentimentID)
	if sentimentID == "" {
		return nil, fmt.Errorf("sentiment id is required")
	}
	kind := normalizeKind(sub.Kind)
	at := sub.At
	if at.IsZero() {
		at = globaltime.UTC()
	}

	tx, err := s.beginner.BeginTx(ctx, db.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("begin feedback tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	feedbackID, err := s.store.InsertRecord(ctx, tx, &db.FeedbackRecord{
		SentimentID:  sentimentID,
		Judgment:     sub.Judgment,
		Kind:         kind,
		Text:         sub.Text,
		Reviewer:     sub.Reviewer,
		FeedbackTime: at,
	})
	if err != nil {
		return nil, err
	}

	res := &Result{FeedbackID: feedbackID}

	for _, cand := range ExtractRuleCandidates(sub.Text, sub.Judgment) {
		_, created, err := s.store.UpsertRule(ctx, tx, &db.FeedbackRule{
			Pattern:          cand.Pattern,
			RuleType:         cand.RuleType,
			Action:           cand.Action,
			Confidence:       cand.Confidence,
			SourceFeedbackID: &feedbackID,
		})
		if err != nil {
			return nil, err
		}
		if created {
			res.RulesCreated++
		}
	}

	if !sub.Judgment {
		hidden, err := s.store.DismissMention(ctx, tx, sentimentID, at)
		if err != nil {
			return nil, err
		}
		res.MentionsHidden = hidden
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit feedback tx: %w", err)
	}

	s.log.Info().
		Str("sentiment_id", sentimentID).
		Bool("judgment", sub.Judgment).
		Str("kind", kind).
		Int("rules_created", res.RulesCreated).
		Int64("mentions_hidden", res.MentionsHidden).
		Msg("feedback recorded")
	return res, nil
}

// LatestVerdict returns the newest feedback for a sentiment id, or nil when
// there is none.
func (s *Service) LatestVerdict(ctx context.Context, sentimentID string) (*db.FeedbackRecord, error) {
	rec, err := s.store.LatestVerdict(ctx, sentimentID)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, nil
		}
		return nil, err
	}
	return rec, nil
}

// ActiveRules returns enabled rules above the confidence floor, strongest
// first.
func (s *Service) ActiveRules(ctx context.Context) ([]db.FeedbackRule, error) {
	return s.store.EnabledRules(ctx, s.minConfidence, s.rulesLimit)
}

// RuleHints renders active rules as prompt lines for the AI provider.
func (s *Service) RuleHints(ctx context.Context) ([]string, error) {
	rules, err := s.ActiveRules(ctx)
	if err != nil {
		return nil, err
	}
	hints := make([]string, 0, len(rules))
	for _, r := range rules {
		if r.Action == ActionExclude {
			hints = append(hints, fmt.Sprintf("包含“%s”的内容不是负面舆情", r.Pattern))
		} else {
			hints = append(hints, fmt.Sprintf("包含“%s”的内容应判为负面舆情", r.Pattern))
		}
	}
	return hints, nil
}

// FewShots converts recent feedback into classification examples.
func (s *Service) FewShots(ctx context.Context) ([]ai.FewShot, error) {
	records, err := s.store.RecentRecords(ctx, s.fewShotLimit)
	if err != nil {
		return nil, err
	}
	shots := make([]ai.FewShot, 0, len(records))
	for _, rec := range records {
		if strings.TrimSpace(rec.Text) == "" {
			continue
		}
		shots = append(shots, ai.FewShot{
			Text:       rec.Text,
			IsNegative: rec.Judgment,
		})
	}
	return shots, nil
}

func normalizeKind(kind string) string {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case KindFalsePositive, "fp":
		return KindFalsePositive
	case KindConfirmed, "confirm":
		return KindConfirmed
	case KindSeverity:
		return KindSeverity
	default:
		return KindOther
	}
}
