package db

import (
	"encoding/json"
	"time"
)

// MentionArrival maps sentiment.mention_arrivals. One row per mention payload
// handed over by the upstream retrieval collaborator; pending until the
// processing pipeline claims it.
type MentionArrival struct {
	ArrivalID    int64           `gorm:"column:arrival_id;primaryKey;autoIncrement"`
	ArrivalUUID  string          `gorm:"column:arrival_uuid;type:uuid;not null;default:gen_random_uuid();unique"`
	Tenant       string          `gorm:"column:tenant;type:text;not null"`
	SentimentID  string          `gorm:"column:sentiment_id;type:text;not null"`
	Source       string          `gorm:"column:source;type:text;not null;default:''"`
	Title        string          `gorm:"column:title;type:text;not null;default:''"`
	Content      string          `gorm:"column:content;type:text;not null;default:''"`
	OCRText      string          `gorm:"column:ocr_text;type:text;not null;default:''"`
	URL          *string         `gorm:"column:url;type:text"`
	AttitudeFlag *string         `gorm:"column:attitude_flag;type:text"`
	NegativeProb *float64        `gorm:"column:negative_prob;type:double precision"`
	RawPayload   json.RawMessage `gorm:"column:raw_payload;type:jsonb;not null"`
	PayloadHash  []byte          `gorm:"column:payload_hash;type:bytea;not null"`
	FetchedAt    time.Time       `gorm:"column:fetched_at;type:timestamptz;not null;default:now()"`
	ProcessedAt  *time.Time      `gorm:"column:processed_at;type:timestamptz"`
	CreatedAt    time.Time       `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
}

func (MentionArrival) TableName() string { return "sentiment.mention_arrivals" }

// NegativeMention maps sentiment.negative_mentions: one classified-negative
// record, linked to the event group it was merged into.
type NegativeMention struct {
	MentionID   int64      `gorm:"column:mention_id;primaryKey;autoIncrement"`
	MentionUUID string     `gorm:"column:mention_uuid;type:uuid;not null;default:gen_random_uuid();unique"`
	SentimentID string     `gorm:"column:sentiment_id;type:text;not null"`
	Tenant      string     `gorm:"column:tenant;type:text;not null"`
	Title       string     `gorm:"column:title;type:text;not null;default:''"`
	Source      string     `gorm:"column:source;type:text;not null;default:''"`
	Content     string     `gorm:"column:content;type:text;not null;default:''"`
	Reason      string     `gorm:"column:reason;type:text;not null;default:''"`
	Severity    string     `gorm:"column:severity;type:text;not null;default:'medium'"`
	URL         *string    `gorm:"column:url;type:text"`
	Language    *string    `gorm:"column:language;type:text"`
	EventID     *int64     `gorm:"column:event_id;type:bigint"`
	IsDuplicate bool       `gorm:"column:is_duplicate;type:boolean;not null;default:false"`
	Status      string     `gorm:"column:status;type:text;not null;default:'active'"`
	DismissedAt *time.Time `gorm:"column:dismissed_at;type:timestamptz"`
	ProcessedAt time.Time  `gorm:"column:processed_at;type:timestamptz;not null;default:now()"`
}

func (NegativeMention) TableName() string { return "sentiment.negative_mentions" }

// EventGroup maps sentiment.event_groups: the cluster of mentions believed to
// be the same real-world incident, scoped to one tenant.
type EventGroup struct {
	EventID         int64     `gorm:"column:event_id;primaryKey;autoIncrement"`
	EventUUID       string    `gorm:"column:event_uuid;type:uuid;not null;default:gen_random_uuid();unique"`
	Tenant          string    `gorm:"column:tenant;type:text;not null"`
	Fingerprint     int64     `gorm:"column:fingerprint;type:bigint;not null;default:0"`
	CanonicalURL    *string   `gorm:"column:canonical_url;type:text"`
	TotalCount      int64     `gorm:"column:total_count;type:bigint;not null;default:1"`
	LastTitle       string    `gorm:"column:last_title;type:text;not null;default:''"`
	LastReason      string    `gorm:"column:last_reason;type:text;not null;default:''"`
	LastSource      string    `gorm:"column:last_source;type:text;not null;default:''"`
	LastSentimentID string    `gorm:"column:last_sentiment_id;type:text;not null;default:''"`
	CreatedAt       time.Time `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
	LastSeenAt      time.Time `gorm:"column:last_seen_at;type:timestamptz;not null;default:now()"`
}

func (EventGroup) TableName() string { return "sentiment.event_groups" }

// FeedbackRecord maps sentiment.feedback_records. Append-only; the newest row
// per sentiment_id is the authoritative replay verdict.
type FeedbackRecord struct {
	FeedbackID   int64     `gorm:"column:feedback_id;primaryKey;autoIncrement"`
	FeedbackUUID string    `gorm:"column:feedback_uuid;type:uuid;not null;default:gen_random_uuid();unique"`
	SentimentID  string    `gorm:"column:sentiment_id;type:text;not null"`
	Judgment     bool      `gorm:"column:judgment;type:boolean;not null"`
	Kind         string    `gorm:"column:kind;type:text;not null"`
	Text         string    `gorm:"column:text;type:text;not null;default:''"`
	Reviewer     string    `gorm:"column:reviewer;type:text;not null;default:''"`
	FeedbackTime time.Time `gorm:"column:feedback_time;type:timestamptz;not null"`
	CreatedAt    time.Time `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
}

func (FeedbackRecord) TableName() string { return "sentiment.feedback_records" }

// FeedbackRule maps sentiment.feedback_rules: a reusable pattern derived from
// reviewer feedback, consulted on every classification.
type FeedbackRule struct {
	RuleID           int64     `gorm:"column:rule_id;primaryKey;autoIncrement"`
	RuleUUID         string    `gorm:"column:rule_uuid;type:uuid;not null;default:gen_random_uuid();unique"`
	Pattern          string    `gorm:"column:pattern;type:text;not null"`
	RuleType         string    `gorm:"column:rule_type;type:text;not null;default:'keyword'"`
	Action           string    `gorm:"column:action;type:text;not null"`
	Confidence       float64   `gorm:"column:confidence;type:double precision;not null;default:0.5"`
	Enabled          bool      `gorm:"column:enabled;type:boolean;not null;default:true"`
	SourceFeedbackID *int64    `gorm:"column:source_feedback_id;type:bigint"`
	CreatedAt        time.Time `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
}

func (FeedbackRule) TableName() string { return "sentiment.feedback_rules" }

// ProcessRun maps sentiment.process_runs: one pipeline invocation.
type ProcessRun struct {
	RunID        int64      `gorm:"column:run_id;primaryKey;autoIncrement"`
	RunUUID      string     `gorm:"column:run_uuid;type:uuid;not null;unique"`
	StartedAt    time.Time  `gorm:"column:started_at;type:timestamptz;not null;default:now()"`
	FinishedAt   *time.Time `gorm:"column:finished_at;type:timestamptz"`
	Status       string     `gorm:"column:status;type:text;not null;default:'running'"`
	Processed    int        `gorm:"column:processed;type:integer;not null;default:0"`
	Negatives    int        `gorm:"column:negatives;type:integer;not null;default:0"`
	Duplicates   int        `gorm:"column:duplicates;type:integer;not null;default:0"`
	ErrorMessage *string    `gorm:"column:error_message;type:text"`
}

func (ProcessRun) TableName() string { return "sentiment.process_runs" }

func autoMigrateModels() []any {
	return []any{
		&MentionArrival{},
		&NegativeMention{},
		&EventGroup{},
		&FeedbackRecord{},
		&FeedbackRule{},
		&ProcessRun{},
	}
}
