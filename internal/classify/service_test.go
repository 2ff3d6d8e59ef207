package classify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"horse.fit/pulse/internal/ai"
	"horse.fit/pulse/internal/db"
	"horse.fit/pulse/internal/feedback"
)

type fakeProvider struct {
	result *ai.Classification
	err    error
	calls  int
	gotReq ai.ClassifyRequest
}

func (p *fakeProvider) Classify(_ context.Context, req ai.ClassifyRequest) (*ai.Classification, error) {
	p.calls++
	p.gotReq = req
	if p.err != nil {
		return nil, p.err
	}
	return p.result, nil
}

func (p *fakeProvider) JudgeSameEvent(context.Context, string, string) (*ai.SameEventJudgement, error) {
	return &ai.SameEventJudgement{}, nil
}

func (p *fakeProvider) Name() string { return "fake" }

type fakeFeedback struct {
	verdict *db.FeedbackRecord
	rules   []db.FeedbackRule
	hints   []string
	shots   []ai.FewShot
}

func (f *fakeFeedback) LatestVerdict(context.Context, string) (*db.FeedbackRecord, error) {
	return f.verdict, nil
}

func (f *fakeFeedback) ActiveRules(context.Context) ([]db.FeedbackRule, error) {
	return f.rules, nil
}

func (f *fakeFeedback) RuleHints(context.Context) ([]string, error) {
	return f.hints, nil
}

func (f *fakeFeedback) FewShots(context.Context) ([]ai.FewShot, error) {
	return f.shots, nil
}

func strPtr(s string) *string     { return &s }
func floatPtr(f float64) *float64 { return &f }

func TestClassifyFeedbackVerdictWins(t *testing.T) {
	t.Parallel()

	provider := &fakeProvider{result: &ai.Classification{IsNegative: true}}
	fb := &fakeFeedback{
		verdict: &db.FeedbackRecord{
			SentimentID:  "s-1",
			Judgment:     false,
			Kind:         feedback.KindFalsePositive,
			FeedbackTime: time.Now().UTC(),
		},
	}
	svc := NewService(provider, fb, true, true, zerolog.Nop())

	d, err := svc.Classify(context.Background(), Input{SentimentID: "s-1", Title: "医院负面新闻"})
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if d.IsNegative {
		t.Fatalf("feedback false verdict ignored: %+v", d)
	}
	if d.DecidedBy != DecidedByFeedback {
		t.Fatalf("decidedBy = %q, want feedback", d.DecidedBy)
	}
	if provider.calls != 0 {
		t.Fatalf("provider consulted despite feedback verdict")
	}
}

func TestClassifyExcludeRuleShortCircuits(t *testing.T) {
	t.Parallel()

	provider := &fakeProvider{result: &ai.Classification{IsNegative: true}}
	fb := &fakeFeedback{
		rules: []db.FeedbackRule{
			{RuleID: 1, Pattern: "义诊", RuleType: feedback.TypeKeyword, Action: feedback.ActionExclude, Confidence: 0.9},
		},
	}
	svc := NewService(provider, fb, true, true, zerolog.Nop())

	d, err := svc.Classify(context.Background(), Input{Title: "医院周末义诊活动"})
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if d.IsNegative || d.DecidedBy != DecidedByRule {
		t.Fatalf("decision = %+v", d)
	}
	if provider.calls != 0 {
		t.Fatalf("provider consulted despite rule hit")
	}
}

func TestClassifyIncludeRule(t *testing.T) {
	t.Parallel()

	provider := &fakeProvider{result: &ai.Classification{IsNegative: false}}
	fb := &fakeFeedback{
		rules: []db.FeedbackRule{
			{RuleID: 2, Pattern: "医疗纠纷", RuleType: feedback.TypeKeyword, Action: feedback.ActionInclude, Confidence: 0.9},
		},
	}
	svc := NewService(provider, fb, true, true, zerolog.Nop())

	d, err := svc.Classify(context.Background(), Input{Title: "医疗纠纷持续发酵", Content: "家属已报警"})
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if !d.IsNegative || d.DecidedBy != DecidedByRule {
		t.Fatalf("decision = %+v", d)
	}
}

func TestClassifyBrokenRegexRuleIsNonMatch(t *testing.T) {
	t.Parallel()

	provider := &fakeProvider{result: &ai.Classification{IsNegative: true, Severity: ai.SeverityHigh, Reason: "r", Confidence: 0.9}}
	fb := &fakeFeedback{
		rules: []db.FeedbackRule{
			{RuleID: 3, Pattern: "([", RuleType: feedback.TypeRegex, Action: feedback.ActionExclude, Confidence: 0.9},
		},
	}
	svc := NewService(provider, fb, true, false, zerolog.Nop())

	d, err := svc.Classify(context.Background(), Input{Title: "患者投诉"})
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if d.DecidedBy != DecidedByAI {
		t.Fatalf("broken regex should fall through to ai, got %+v", d)
	}
}

func TestClassifyAIReceivesHintsAndExamples(t *testing.T) {
	t.Parallel()

	provider := &fakeProvider{result: &ai.Classification{IsNegative: true, Severity: ai.SeverityMedium, Reason: "x", Confidence: 0.8}}
	fb := &fakeFeedback{
		hints: []string{"包含“义诊”的内容不是负面舆情"},
		shots: []ai.FewShot{{Text: "义诊广告", IsNegative: false}},
	}
	svc := NewService(provider, fb, true, true, zerolog.Nop())

	d, err := svc.Classify(context.Background(), Input{Tenant: "市中心医院", Title: "患者家属维权"})
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if d.DecidedBy != DecidedByAI {
		t.Fatalf("decidedBy = %q", d.DecidedBy)
	}
	if len(provider.gotReq.RuleHints) != 1 || len(provider.gotReq.Examples) != 1 {
		t.Fatalf("request = %+v", provider.gotReq)
	}
}

func TestClassifyHeuristicFallback(t *testing.T) {
	t.Parallel()

	provider := &fakeProvider{err: errors.New("model down")}
	svc := NewService(provider, &fakeFeedback{}, true, true, zerolog.Nop())

	d, err := svc.Classify(context.Background(), Input{
		Title:        "投诉医院乱收费",
		AttitudeFlag: strPtr("-1"),
		NegativeProb: floatPtr(0.85),
	})
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if !d.IsNegative || d.DecidedBy != DecidedByHeuristic {
		t.Fatalf("decision = %+v", d)
	}

	d, err = svc.Classify(context.Background(), Input{
		Title:        "普通报道",
		AttitudeFlag: strPtr("-1"),
		NegativeProb: floatPtr(0.4),
	})
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if d.IsNegative {
		t.Fatalf("low probability still flagged negative: %+v", d)
	}
}
