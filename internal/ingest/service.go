package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"horse.fit/pulse/internal/db"
	"horse.fit/pulse/internal/globaltime"
	payloadschema "horse.fit/pulse/schema"
)

// ArrivalStore is the slice of db.MentionStore the ingest path needs.
type ArrivalStore interface {
	InsertArrival(ctx context.Context, a *db.MentionArrival) (bool, error)
}

// Result reports one ingest outcome.
type Result struct {
	Tenant      string `json:"tenant"`
	SentimentID string `json:"sentimentId"`
	Accepted    bool   `json:"accepted"`
}

// Service validates pushed mention payloads and stores them for the pipeline.
type Service struct {
	store ArrivalStore
	log   zerolog.Logger
}

func NewService(store ArrivalStore, log zerolog.Logger) *Service {
	return &Service{store: store, log: log}
}

// Ingest validates one payload and persists it. Re-delivery of an already
// stored (tenant, sentiment_id) pair returns Accepted=false without error.
func (s *Service) Ingest(ctx context.Context, payload json.RawMessage) (*Result, error) {
	mention, err := payloadschema.ValidateMentionPayload(payload)
	if err != nil {
		return nil, fmt.Errorf("invalid mention payload: %w", err)
	}

	arrival := &db.MentionArrival{
		Tenant:      strings.TrimSpace(mention.Tenant),
		SentimentID: strings.TrimSpace(mention.SentimentID),
		Source:      strings.TrimSpace(mention.Source),
		Title:       strings.TrimSpace(mention.Title),
		RawPayload:  payload,
		PayloadHash: payloadHash(payload),
		FetchedAt:   resolveFetchedAt(mention.FetchedAt),
	}
	if mention.Content != nil {
		arrival.Content = *mention.Content
	}
	if mention.OCRText != nil {
		arrival.OCRText = *mention.OCRText
	}
	if mention.URL != nil {
		if trimmed := strings.TrimSpace(*mention.URL); trimmed != "" {
			arrival.URL = &trimmed
		}
	}
	arrival.AttitudeFlag = mention.AttitudeFlag
	arrival.NegativeProb = mention.NegativeProb

	created, err := s.store.InsertArrival(ctx, arrival)
	if err != nil {
		return nil, err
	}
	if !created {
		s.log.Debug().
			Str("tenant", arrival.Tenant).
			Str("sentiment_id", arrival.SentimentID).
			Msg("duplicate delivery ignored")
	}
	return &Result{
		Tenant:      arrival.Tenant,
		SentimentID: arrival.SentimentID,
		Accepted:    created,
	}, nil
}

func payloadHash(payload json.RawMessage) []byte {
	sum := sha256.Sum256(payload)
	return sum[:]
}

func resolveFetchedAt(raw *string) time.Time {
	if raw != nil {
		if ts, err := time.Parse(time.RFC3339, strings.TrimSpace(*raw)); err == nil {
			return ts.UTC()
		}
	}
	return globaltime.UTC()
}
