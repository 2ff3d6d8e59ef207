package payloadschema

import (
	"encoding/json"
	"testing"
)

func validPayload() map[string]any {
	return map[string]any{
		"payload_version": "v1",
		"tenant":          "市中心医院",
		"sentiment_id":    "s-1001",
		"source":          "douyin",
		"title":           "患者家属投诉急诊排队",
		"content":         "排队超过四小时",
		"url":             "https://www.douyin.com/video/7301234567890123456",
		"attitude_flag":   "-1",
		"negative_prob":   0.92,
	}
}

func marshal(t *testing.T, v any) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return raw
}

func TestValidateMentionPayloadAccepts(t *testing.T) {
	t.Parallel()

	m, err := ValidateMentionPayload(marshal(t, validPayload()))
	if err != nil {
		t.Fatalf("ValidateMentionPayload: %v", err)
	}
	if m.Tenant != "市中心医院" || m.SentimentID != "s-1001" {
		t.Fatalf("mention = %+v", m)
	}
	if m.NegativeProb == nil || *m.NegativeProb != 0.92 {
		t.Fatalf("negative_prob = %v", m.NegativeProb)
	}
}

func TestValidateMentionPayloadRejects(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		mutate func(map[string]any)
	}{
		{"missing tenant", func(p map[string]any) { delete(p, "tenant") }},
		{"blank sentiment id", func(p map[string]any) { p["sentiment_id"] = "  " }},
		{"wrong version", func(p map[string]any) { p["payload_version"] = "v2" }},
		{"probability above one", func(p map[string]any) { p["negative_prob"] = 1.2 }},
		{"unknown field", func(p map[string]any) { p["surprise"] = true }},
		{"bad fetched_at", func(p map[string]any) { p["fetched_at"] = "yesterday" }},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			p := validPayload()
			tc.mutate(p)
			if _, err := ValidateMentionPayload(marshal(t, p)); err == nil {
				t.Fatalf("payload accepted: %v", p)
			}
		})
	}
}

func TestValidateMentionPayloadRejectsMalformedJSON(t *testing.T) {
	t.Parallel()

	for _, raw := range []string{"", "{", `{"a":1}{"b":2}`} {
		if _, err := ValidateMentionPayload(json.RawMessage(raw)); err == nil {
			t.Fatalf("malformed JSON accepted: %q", raw)
		}
	}
}
