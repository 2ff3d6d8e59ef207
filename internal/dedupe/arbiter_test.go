package dedupe

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"horse.fit/pulse/internal/ai"
)

type stubJudge struct {
	same  bool
	err   error
	calls int
}

func (s *stubJudge) JudgeSameEvent(context.Context, string, string) (*ai.SameEventJudgement, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return &ai.SameEventJudgement{SameEvent: s.same, Confidence: ai.ConfidenceHigh}, nil
}

func (s *stubJudge) Name() string { return "stub" }

func TestParseFailurePolicy(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in      string
		want    FailurePolicy
		wantErr bool
	}{
		{"fail_open", FailOpen, false},
		{"", FailOpen, false},
		{"FAIL_CLOSED", FailClosed, false},
		{"closed", FailClosed, false},
		{"maybe", FailOpen, true},
	}
	for _, tc := range cases {
		got, err := ParseFailurePolicy(tc.in)
		if tc.wantErr != (err != nil) {
			t.Fatalf("ParseFailurePolicy(%q) err = %v, wantErr %v", tc.in, err, tc.wantErr)
		}
		if err == nil && got != tc.want {
			t.Fatalf("ParseFailurePolicy(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestArbiterOutsideBandKeepsThresholdVerdict(t *testing.T) {
	t.Parallel()

	judge := &stubJudge{same: false}
	a := NewArbiter(judge, true, 2, 6, FailOpen, zerolog.Nop())

	if got := a.Decide(context.Background(), "a", "b", 1, true); !got {
		t.Fatalf("distance below band must keep threshold verdict true")
	}
	if got := a.Decide(context.Background(), "a", "b", 9, false); got {
		t.Fatalf("distance above band must keep threshold verdict false")
	}
	if judge.calls != 0 {
		t.Fatalf("judge consulted %d times outside the band", judge.calls)
	}
}

func TestArbiterVetoAndRescue(t *testing.T) {
	t.Parallel()

	veto := NewArbiter(&stubJudge{same: false}, true, 1, 8, FailOpen, zerolog.Nop())
	if got := veto.Decide(context.Background(), "a", "b", 3, true); got {
		t.Fatalf("judge saying different must veto an in-threshold merge")
	}

	rescue := NewArbiter(&stubJudge{same: true}, true, 1, 8, FailOpen, zerolog.Nop())
	if got := rescue.Decide(context.Background(), "a", "b", 7, false); !got {
		t.Fatalf("judge saying same must rescue an out-of-threshold pair")
	}
}

func TestArbiterFailurePolicies(t *testing.T) {
	t.Parallel()

	judgeErr := errors.New("model unavailable")

	open := NewArbiter(&stubJudge{err: judgeErr}, true, 1, 8, FailOpen, zerolog.Nop())
	if got := open.Decide(context.Background(), "a", "b", 3, true); got {
		t.Fatalf("fail_open must treat the pair as distinct even when the threshold says merge")
	}

	closed := NewArbiter(&stubJudge{err: judgeErr}, true, 1, 8, FailClosed, zerolog.Nop())
	if got := closed.Decide(context.Background(), "a", "b", 3, true); !got {
		t.Fatalf("fail_closed must treat the pair as the same event")
	}
	if got := closed.Decide(context.Background(), "a", "b", 7, false); !got {
		t.Fatalf("fail_closed must merge an out-of-threshold pair on judge failure")
	}
}

func TestArbiterDisabled(t *testing.T) {
	t.Parallel()

	judge := &stubJudge{same: false}
	a := NewArbiter(judge, false, 1, 8, FailOpen, zerolog.Nop())
	if a.InBand(4) {
		t.Fatalf("disabled arbiter reported a band hit")
	}
	if got := a.Decide(context.Background(), "a", "b", 4, true); !got {
		t.Fatalf("disabled arbiter must pass the threshold verdict through")
	}
	if judge.calls != 0 {
		t.Fatalf("disabled arbiter consulted the judge")
	}
}
