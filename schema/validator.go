package payloadschema

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed mention.schema.json
var mentionSchemaJSON string

// Mention is the validated shape of one pushed sentiment payload.
type Mention struct {
	PayloadVersion string         `json:"payload_version"`
	Tenant         string         `json:"tenant"`
	SentimentID    string         `json:"sentiment_id"`
	Source         string         `json:"source"`
	Title          string         `json:"title"`
	Content        *string        `json:"content,omitempty"`
	OCRText        *string        `json:"ocr_text,omitempty"`
	URL            *string        `json:"url,omitempty"`
	AttitudeFlag   *string        `json:"attitude_flag,omitempty"`
	NegativeProb   *float64       `json:"negative_prob,omitempty"`
	FetchedAt      *string        `json:"fetched_at,omitempty"`
	SourceMetadata map[string]any `json:"source_metadata,omitempty"`
}

var (
	compileOnce       sync.Once
	compiledSchema    *jsonschema.Schema
	compiledSchemaErr error
)

// ValidateMentionPayload checks a raw payload against the embedded JSON
// schema plus semantic rules the schema cannot express.
func ValidateMentionPayload(payload json.RawMessage) (*Mention, error) {
	value, err := decodeStrictJSON(payload)
	if err != nil {
		return nil, fmt.Errorf("decode payload JSON: %w", err)
	}

	schema, err := loadSchema()
	if err != nil {
		return nil, fmt.Errorf("load schema: %w", err)
	}

	if err := schema.Validate(value); err != nil {
		return nil, fmt.Errorf("schema validation failed: %w", err)
	}

	normalized, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("normalize payload JSON: %w", err)
	}

	var mention Mention
	if err := json.Unmarshal(normalized, &mention); err != nil {
		return nil, fmt.Errorf("unmarshal payload: %w", err)
	}

	if err := validateSemantics(&mention); err != nil {
		return nil, err
	}

	return &mention, nil
}

func loadSchema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		compiler.Draft = jsonschema.Draft2020
		compiler.AssertFormat = true

		if err := compiler.AddResource("mention.schema.json", strings.NewReader(mentionSchemaJSON)); err != nil {
			compiledSchemaErr = fmt.Errorf("add schema resource: %w", err)
			return
		}

		schema, err := compiler.Compile("mention.schema.json")
		if err != nil {
			compiledSchemaErr = fmt.Errorf("compile schema: %w", err)
			return
		}

		compiledSchema = schema
	})

	if compiledSchemaErr != nil {
		return nil, compiledSchemaErr
	}
	if compiledSchema == nil {
		return nil, fmt.Errorf("schema not initialized")
	}
	return compiledSchema, nil
}

func decodeStrictJSON(raw []byte) (any, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("payload is empty")
	}

	decoder := json.NewDecoder(bytes.NewReader(trimmed))
	decoder.UseNumber()

	var value any
	if err := decoder.Decode(&value); err != nil {
		return nil, err
	}

	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return nil, fmt.Errorf("payload contains trailing content")
	}

	return value, nil
}

func validateSemantics(m *Mention) error {
	if m == nil {
		return fmt.Errorf("payload is nil")
	}

	if strings.TrimSpace(m.PayloadVersion) != "v1" {
		return fmt.Errorf("payload_version must be v1")
	}
	if strings.TrimSpace(m.Tenant) == "" {
		return fmt.Errorf("tenant must not be empty")
	}
	if strings.TrimSpace(m.SentimentID) == "" {
		return fmt.Errorf("sentiment_id must not be empty")
	}
	if strings.TrimSpace(m.Title) == "" {
		return fmt.Errorf("title must not be empty")
	}

	if m.URL != nil {
		trimmed := strings.TrimSpace(*m.URL)
		if trimmed != "" {
			if _, err := url.ParseRequestURI(trimmed); err != nil {
				return fmt.Errorf("url is not a valid URI: %w", err)
			}
		}
	}
	if m.NegativeProb != nil {
		if *m.NegativeProb < 0 || *m.NegativeProb > 1 {
			return fmt.Errorf("negative_prob must be between 0 and 1")
		}
	}
	if m.FetchedAt != nil {
		if _, err := time.Parse(time.RFC3339, strings.TrimSpace(*m.FetchedAt)); err != nil {
			return fmt.Errorf("fetched_at must be RFC3339: %w", err)
		}
	}

	return nil
}
