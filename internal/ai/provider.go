package ai

import "context"

// Severity buckets for negative mentions.
const (
	SeverityLow    = "low"
	SeverityMedium = "medium"
	SeverityHigh   = "high"
)

// FewShot is one prior reviewer verdict fed to the model as an example.
type FewShot struct {
	Text       string
	IsNegative bool
	Note       string
}

// ClassifyRequest carries everything the model sees for one mention.
type ClassifyRequest struct {
	Tenant    string
	Title     string
	Content   string
	OCRText   string
	RuleHints []string
	Examples  []FewShot
}

// Classification is the model's verdict on one mention.
type Classification struct {
	IsNegative bool    `json:"is_negative"`
	Severity   string  `json:"severity"`
	Reason     string  `json:"reason"`
	Confidence float64 `json:"confidence"`
}

// Judge confidence buckets.
const (
	ConfidenceLow    = "low"
	ConfidenceMedium = "medium"
	ConfidenceHigh   = "high"
)

// SameEventJudgement is the model's answer to a same-event question.
type SameEventJudgement struct {
	SameEvent  bool   `json:"same_event"`
	Reason     string `json:"reason"`
	Confidence string `json:"confidence"`
}

// Provider answers classification and same-event questions. Implementations
// must be safe for concurrent use.
type Provider interface {
	// Classify judges whether a mention is a genuine negative about the tenant.
	Classify(ctx context.Context, req ClassifyRequest) (*Classification, error)
	// JudgeSameEvent reports whether two titles describe the same incident.
	JudgeSameEvent(ctx context.Context, titleA, titleB string) (*SameEventJudgement, error)
	Name() string
}

func normalizeSeverity(s string) string {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh:
		return s
	default:
		return SeverityMedium
	}
}

func normalizeConfidence(s string) string {
	switch s {
	case ConfidenceLow, ConfidenceMedium, ConfidenceHigh:
		return s
	default:
		return ConfidenceMedium
	}
}
