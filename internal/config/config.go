package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Environment string `envconfig:"ENVIRONMENT" default:"local"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	DatabaseURL string `envconfig:"DATABASE_URL" required:"true"`
	DBMinConns  int32  `envconfig:"PULSE_DB_MIN_CONNS" default:"1"`
	DBMaxConns  int32  `envconfig:"PULSE_DB_MAX_CONNS" default:"8"`

	AIProvider    string        `envconfig:"AI_PROVIDER" default:"zhipu"`
	AIAPIURL      string        `envconfig:"AI_API_URL" default:"https://open.bigmodel.cn/api/paas/v4/chat/completions"`
	AIAPIKey      string        `envconfig:"AI_API_KEY" default:""`
	AIModel       string        `envconfig:"AI_MODEL" default:"glm-4-flash"`
	AITemperature float64       `envconfig:"AI_TEMPERATURE" default:"0.3"`
	AIMaxTokens   int           `envconfig:"AI_MAX_TOKENS" default:"500"`
	AITimeout     time.Duration `envconfig:"AI_TIMEOUT" default:"30s"`
	AIMaxRetries  int           `envconfig:"AI_MAX_RETRIES" default:"1"`

	DedupeWindowDays  int `envconfig:"DEDUPE_WINDOW_DAYS" default:"7"`
	DedupeMaxDistance int `envconfig:"DEDUPE_MAX_DISTANCE" default:"4"`

	ArbiterEnabled       bool   `envconfig:"ARBITER_ENABLED" default:"false"`
	ArbiterDistMin       int    `envconfig:"ARBITER_DIST_MIN" default:"1"`
	ArbiterDistMax       int    `envconfig:"ARBITER_DIST_MAX" default:"8"`
	ArbiterFailurePolicy string `envconfig:"ARBITER_FAILURE_POLICY" default:"fail_open"`

	FeedbackRulesEnabled       bool    `envconfig:"FEEDBACK_RULES_ENABLED" default:"true"`
	FeedbackRulesMinConfidence float64 `envconfig:"FEEDBACK_RULES_MIN_CONFIDENCE" default:"0.7"`
	FeedbackRulesLimit         int     `envconfig:"FEEDBACK_RULES_LIMIT" default:"50"`
	FeedbackFewShotEnabled     bool    `envconfig:"FEEDBACK_FEW_SHOT_ENABLED" default:"true"`
	FeedbackFewShotLimit       int     `envconfig:"FEEDBACK_FEW_SHOT_LIMIT" default:"5"`
	FeedbackLinkSecret         string  `envconfig:"FEEDBACK_LINK_SECRET" default:""`
	FeedbackLinkTTLHours       int     `envconfig:"FEEDBACK_LINK_TTL_HOURS" default:"72"`

	AdminUser         string `envconfig:"ADMIN_USER" default:"admin"`
	AdminPasswordHash string `envconfig:"ADMIN_PASSWORD_HASH" default:""`

	CORSAllowedOrigins string `envconfig:"CORS_ALLOWED_ORIGINS" default:""`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.DatabaseURL) == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.DBMinConns < 0 {
		return fmt.Errorf("PULSE_DB_MIN_CONNS must be >= 0")
	}
	if c.DBMaxConns < 1 {
		return fmt.Errorf("PULSE_DB_MAX_CONNS must be >= 1")
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("PULSE_DB_MIN_CONNS (%d) cannot exceed PULSE_DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	if c.DedupeWindowDays < 1 {
		return fmt.Errorf("DEDUPE_WINDOW_DAYS must be >= 1")
	}
	if c.DedupeMaxDistance < 0 || c.DedupeMaxDistance > 64 {
		return fmt.Errorf("DEDUPE_MAX_DISTANCE must be between 0 and 64")
	}
	if c.ArbiterEnabled {
		if c.ArbiterDistMin < 0 || c.ArbiterDistMax > 64 || c.ArbiterDistMin > c.ArbiterDistMax {
			return fmt.Errorf("arbiter distance band [%d, %d] is invalid", c.ArbiterDistMin, c.ArbiterDistMax)
		}
		switch strings.ToLower(strings.TrimSpace(c.ArbiterFailurePolicy)) {
		case "fail_open", "fail_closed":
		default:
			return fmt.Errorf("ARBITER_FAILURE_POLICY must be fail_open or fail_closed, got %q", c.ArbiterFailurePolicy)
		}
	}
	if c.FeedbackRulesMinConfidence < 0 || c.FeedbackRulesMinConfidence > 1 {
		return fmt.Errorf("FEEDBACK_RULES_MIN_CONFIDENCE must be between 0 and 1")
	}
	if c.FeedbackRulesLimit < 1 {
		return fmt.Errorf("FEEDBACK_RULES_LIMIT must be >= 1")
	}
	if c.AIMaxRetries < 0 {
		return fmt.Errorf("AI_MAX_RETRIES must be >= 0")
	}
	if c.AITimeout <= 0 {
		return fmt.Errorf("AI_TIMEOUT must be positive")
	}
	return nil
}

func (c *Config) CORSAllowedOriginsList() []string {
	if c == nil {
		return nil
	}

	parts := strings.Split(c.CORSAllowedOrigins, ",")
	origins := make([]string, 0, len(parts))
	seen := make(map[string]struct{}, len(parts))
	for _, part := range parts {
		origin := strings.TrimSpace(part)
		if origin == "" {
			continue
		}
		if _, exists := seen[origin]; exists {
			continue
		}
		seen[origin] = struct{}{}
		origins = append(origins, origin)
	}
	return origins
}
