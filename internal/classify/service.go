package classify

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"horse.fit/pulse/internal/ai"
	"horse.fit/pulse/internal/db"
	"horse.fit/pulse/internal/feedback"
)

// Decision sources, strongest first.
const (
	DecidedByFeedback  = "feedback"
	DecidedByRule      = "rule"
	DecidedByAI        = "ai"
	DecidedByHeuristic = "heuristic"
)

// heuristicNegativeProb is the floor the upstream model's negative
// probability must clear when the AI provider is unavailable.
const heuristicNegativeProb = 0.7

// FeedbackSource supplies verdicts, rules, and examples. Implemented by
// feedback.Service.
type FeedbackSource interface {
	LatestVerdict(ctx context.Context, sentimentID string) (*db.FeedbackRecord, error)
	ActiveRules(ctx context.Context) ([]db.FeedbackRule, error)
	RuleHints(ctx context.Context) ([]string, error)
	FewShots(ctx context.Context) ([]ai.FewShot, error)
}

// Input is one mention to classify.
type Input struct {
	Tenant       string
	SentimentID  string
	Title        string
	Source       string
	Content      string
	OCRText      string
	AttitudeFlag *string
	NegativeProb *float64
}

// Decision is the final classification after every override layer.
type Decision struct {
	IsNegative bool    `json:"isNegative"`
	Severity   string  `json:"severity"`
	Reason     string  `json:"reason"`
	Confidence float64 `json:"confidence"`
	DecidedBy  string  `json:"decidedBy"`
}

// Service layers reviewer knowledge over the AI model: an explicit feedback
// verdict on the same mention wins outright, then derived rules, then the AI
// provider (primed with rule hints and few-shot examples), then a coarse
// heuristic when the model is unreachable.
type Service struct {
	provider        ai.Provider
	feedback        FeedbackSource
	rulesEnabled    bool
	fewShotEnabled  bool
	log             zerolog.Logger
	badRulePatterns map[int64]struct{}
}

func NewService(provider ai.Provider, fb FeedbackSource, rulesEnabled, fewShotEnabled bool, log zerolog.Logger) *Service {
	return &Service{
		provider:        provider,
		feedback:        fb,
		rulesEnabled:    rulesEnabled,
		fewShotEnabled:  fewShotEnabled,
		log:             log,
		badRulePatterns: make(map[int64]struct{}),
	}
}

// Classify runs the override cascade for one mention.
func (s *Service) Classify(ctx context.Context, in Input) (*Decision, error) {
	if d, err := s.replayFeedback(ctx, in); err != nil {
		return nil, err
	} else if d != nil {
		return d, nil
	}

	if d := s.applyRules(ctx, in); d != nil {
		return d, nil
	}

	d, err := s.askProvider(ctx, in)
	if err == nil {
		return d, nil
	}
	s.log.Warn().
		Err(err).
		Str("sentiment_id", in.SentimentID).
		Msg("ai classification failed, using heuristic")
	return s.heuristic(in), nil
}

func (s *Service) replayFeedback(ctx context.Context, in Input) (*Decision, error) {
	if s.feedback == nil || in.SentimentID == "" {
		return nil, nil
	}
	rec, err := s.feedback.LatestVerdict(ctx, in.SentimentID)
	if err != nil {
		return nil, fmt.Errorf("load feedback verdict: %w", err)
	}
	if rec == nil {
		return nil, nil
	}
	d := &Decision{
		IsNegative: rec.Judgment,
		Severity:   ai.SeverityMedium,
		Reason:     "人工审核结论",
		Confidence: 1,
		DecidedBy:  DecidedByFeedback,
	}
	if !rec.Judgment {
		d.Reason = "人工审核判定为误报"
	}
	return d, nil
}

func (s *Service) applyRules(ctx context.Context, in Input) *Decision {
	if !s.rulesEnabled || s.feedback == nil {
		return nil
	}
	rules, err := s.feedback.ActiveRules(ctx)
	if err != nil {
		s.log.Warn().Err(err).Msg("load feedback rules failed")
		return nil
	}
	text := ruleText(in)
	for _, r := range rules {
		hit, err := feedback.MatchRule(r.RuleType, r.Pattern, text)
		if err != nil {
			if _, logged := s.badRulePatterns[r.RuleID]; !logged {
				s.badRulePatterns[r.RuleID] = struct{}{}
				s.log.Warn().
					Err(err).
					Int64("rule_id", r.RuleID).
					Str("pattern", r.Pattern).
					Msg("feedback rule does not compile, treating as non-match")
			}
			continue
		}
		if !hit {
			continue
		}
		if r.Action == feedback.ActionExclude {
			return &Decision{
				IsNegative: false,
				Severity:   ai.SeverityLow,
				Reason:     fmt.Sprintf("命中排除规则：%s", r.Pattern),
				Confidence: r.Confidence,
				DecidedBy:  DecidedByRule,
			}
		}
		return &Decision{
			IsNegative: true,
			Severity:   ai.SeverityMedium,
			Reason:     fmt.Sprintf("命中保留规则：%s", r.Pattern),
			Confidence: r.Confidence,
			DecidedBy:  DecidedByRule,
		}
	}
	return nil
}

func (s *Service) askProvider(ctx context.Context, in Input) (*Decision, error) {
	if s.provider == nil {
		return nil, fmt.Errorf("no ai provider configured")
	}
	req := ai.ClassifyRequest{
		Tenant:  in.Tenant,
		Title:   in.Title,
		Content: in.Content,
		OCRText: in.OCRText,
	}
	if s.feedback != nil {
		if s.rulesEnabled {
			if hints, err := s.feedback.RuleHints(ctx); err == nil {
				req.RuleHints = hints
			} else {
				s.log.Warn().Err(err).Msg("load rule hints failed")
			}
		}
		if s.fewShotEnabled {
			if shots, err := s.feedback.FewShots(ctx); err == nil {
				req.Examples = shots
			} else {
				s.log.Warn().Err(err).Msg("load few-shot examples failed")
			}
		}
	}
	c, err := s.provider.Classify(ctx, req)
	if err != nil {
		return nil, err
	}
	return &Decision{
		IsNegative: c.IsNegative,
		Severity:   c.Severity,
		Reason:     c.Reason,
		Confidence: c.Confidence,
		DecidedBy:  DecidedByAI,
	}, nil
}

// heuristic falls back to the upstream collector's own sentiment signals.
func (s *Service) heuristic(in Input) *Decision {
	negative := in.AttitudeFlag != nil && *in.AttitudeFlag == "-1" &&
		in.NegativeProb != nil && *in.NegativeProb > heuristicNegativeProb
	d := &Decision{
		IsNegative: negative,
		Severity:   ai.SeverityMedium,
		Reason:     "AI不可用，按采集端情感标记判断",
		Confidence: 0.5,
		DecidedBy:  DecidedByHeuristic,
	}
	if !negative {
		d.Severity = ai.SeverityLow
	}
	return d
}

func ruleText(in Input) string {
	parts := make([]string, 0, 4)
	for _, p := range []string{in.Title, in.Content, in.OCRText, in.Source} {
		if strings.TrimSpace(p) != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, "\n")
}
