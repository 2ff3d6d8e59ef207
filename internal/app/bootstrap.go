package app

import (
	"github.com/rs/zerolog"

	"horse.fit/pulse/internal/ai"
	"horse.fit/pulse/internal/classify"
	"horse.fit/pulse/internal/config"
	"horse.fit/pulse/internal/db"
	"horse.fit/pulse/internal/dedupe"
	"horse.fit/pulse/internal/feedback"
)

// services bundles the wired domain layer shared by process and serve.
type services struct {
	mentions   *db.MentionStore
	events     *db.EventStore
	fbStore    *db.FeedbackStore
	feedback   *feedback.Service
	classifier *classify.Service
	matcher    *dedupe.Matcher
}

func buildServices(cfg *config.Config, pool *db.Pool, logger zerolog.Logger) (*services, error) {
	mentions := db.NewMentionStore(pool)
	events := db.NewEventStore(pool)
	fbStore := db.NewFeedbackStore(pool)

	feedbackSvc := feedback.NewService(
		fbStore, pool,
		cfg.FeedbackRulesMinConfidence,
		cfg.FeedbackRulesLimit,
		cfg.FeedbackFewShotLimit,
		logger,
	)

	registry := ai.NewRegistry(cfg.AIProvider)
	if err := registry.Register(ai.NewZhipuProvider(ai.ZhipuConfig{
		Endpoint:    cfg.AIAPIURL,
		APIKey:      cfg.AIAPIKey,
		Model:       cfg.AIModel,
		Temperature: cfg.AITemperature,
		MaxTokens:   cfg.AIMaxTokens,
		Timeout:     cfg.AITimeout,
		MaxRetries:  cfg.AIMaxRetries,
	})); err != nil {
		return nil, err
	}
	provider, err := registry.Provider(cfg.AIProvider)
	if err != nil {
		return nil, err
	}

	classifier := classify.NewService(
		provider, feedbackSvc,
		cfg.FeedbackRulesEnabled,
		cfg.FeedbackFewShotEnabled,
		logger,
	)

	policy, err := dedupe.ParseFailurePolicy(cfg.ArbiterFailurePolicy)
	if err != nil {
		return nil, err
	}
	arbiter := dedupe.NewArbiter(provider, cfg.ArbiterEnabled, cfg.ArbiterDistMin, cfg.ArbiterDistMax, policy, logger)
	matcher := dedupe.NewMatcher(events, arbiter, cfg.DedupeWindowDays, cfg.DedupeMaxDistance, logger)

	return &services{
		mentions:   mentions,
		events:     events,
		fbStore:    fbStore,
		feedback:   feedbackSvc,
		classifier: classifier,
		matcher:    matcher,
	}, nil
}
