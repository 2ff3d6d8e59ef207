package dedupe

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"horse.fit/pulse/internal/ai"
)

// FailurePolicy decides how the arbiter behaves when the AI judge is
// unavailable or errors out.
type FailurePolicy int

const (
	// FailOpen treats the pair as distinct on judge failure. More groups,
	// higher precision.
	FailOpen FailurePolicy = iota
	// FailClosed treats the pair as the same event on judge failure. Fewer,
	// larger groups.
	FailClosed
)

func (p FailurePolicy) String() string {
	if p == FailClosed {
		return "fail_closed"
	}
	return "fail_open"
}

// ParseFailurePolicy maps a config string to a FailurePolicy. Unknown values
// error rather than defaulting silently.
func ParseFailurePolicy(s string) (FailurePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "fail_open", "open", "":
		return FailOpen, nil
	case "fail_closed", "closed":
		return FailClosed, nil
	default:
		return FailOpen, fmt.Errorf("unknown arbiter failure policy %q", s)
	}
}

// SameEventJudge answers whether two titles describe the same incident.
type SameEventJudge interface {
	JudgeSameEvent(ctx context.Context, titleA, titleB string) (*ai.SameEventJudgement, error)
	Name() string
}

// Arbiter consults an AI judge for pairs whose fingerprint distance falls in
// the grey band [DistMin, DistMax]. Inside the band the judge's verdict
// overrides the threshold both ways: it can veto an in-threshold merge and
// rescue an out-of-threshold pair.
type Arbiter struct {
	judge   SameEventJudge
	enabled bool
	distMin int
	distMax int
	policy  FailurePolicy
	log     zerolog.Logger
}

func NewArbiter(judge SameEventJudge, enabled bool, distMin, distMax int, policy FailurePolicy, log zerolog.Logger) *Arbiter {
	if distMin < 0 {
		distMin = 0
	}
	if distMax < distMin {
		distMax = distMin
	}
	return &Arbiter{
		judge:   judge,
		enabled: enabled,
		distMin: distMin,
		distMax: distMax,
		policy:  policy,
		log:     log,
	}
}

// InBand reports whether a distance falls inside the grey zone.
func (a *Arbiter) InBand(distance int) bool {
	if a == nil || !a.enabled || a.judge == nil {
		return false
	}
	return distance >= a.distMin && distance <= a.distMax
}

// Decide returns whether the pair should merge. thresholdVerdict is the pure
// distance-threshold answer, returned unchanged outside the band. Inside the
// band a failed judgment degrades to the configured policy: FailOpen keeps
// the pair distinct, FailClosed merges it.
func (a *Arbiter) Decide(ctx context.Context, titleA, titleB string, distance int, thresholdVerdict bool) bool {
	if !a.InBand(distance) {
		return thresholdVerdict
	}
	j, err := a.judge.JudgeSameEvent(ctx, titleA, titleB)
	if err != nil {
		a.log.Warn().
			Err(err).
			Str("judge", a.judge.Name()).
			Int("distance", distance).
			Str("policy", a.policy.String()).
			Msg("same-event judgment failed")
		return a.policy == FailClosed
	}
	a.log.Debug().
		Str("judge", a.judge.Name()).
		Int("distance", distance).
		Bool("same_event", j.SameEvent).
		Str("confidence", j.Confidence).
		Str("reason", j.Reason).
		Msg("same-event judgment")
	return j.SameEvent
}
