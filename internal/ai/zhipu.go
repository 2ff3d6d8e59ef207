package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
)

const (
	// DefaultZhipuEndpoint is the OpenAI-compatible chat completions URL of
	// the GLM open platform.
	DefaultZhipuEndpoint = "https://open.bigmodel.cn/api/paas/v4/chat/completions"
	// DefaultZhipuModel balances cost and latency for classification work.
	DefaultZhipuModel = "glm-4-flash"
)

// ZhipuConfig configures the GLM-backed provider.
type ZhipuConfig struct {
	Endpoint    string
	APIKey      string
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
	MaxRetries  int
}

// ZhipuProvider calls an OpenAI-compatible chat completions endpoint for
// classification and same-event judgments. Transient failures retry with
// exponential backoff up to MaxRetries extra attempts.
type ZhipuProvider struct {
	endpointURL string
	apiKey      string
	model       string
	temperature float64
	maxTokens   int
	maxRetries  int
	client      *http.Client
}

func NewZhipuProvider(cfg ZhipuConfig) *ZhipuProvider {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		endpoint = DefaultZhipuEndpoint
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = DefaultZhipuModel
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 500
	}
	return &ZhipuProvider{
		endpointURL: endpoint,
		apiKey:      strings.TrimSpace(cfg.APIKey),
		model:       model,
		temperature: cfg.Temperature,
		maxTokens:   maxTokens,
		maxRetries:  cfg.MaxRetries,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

func (p *ZhipuProvider) Name() string {
	return "zhipu"
}

// ModelName returns the configured model identifier.
func (p *ZhipuProvider) ModelName() string {
	if p == nil {
		return ""
	}
	return p.model
}

func (p *ZhipuProvider) Classify(ctx context.Context, req ClassifyRequest) (*Classification, error) {
	if p == nil {
		return nil, fmt.Errorf("zhipu provider is nil")
	}
	prompt := buildClassifyPrompt(req)
	content, err := p.chat(ctx, classifySystemPrompt, prompt)
	if err != nil {
		return nil, err
	}
	return parseClassification(content)
}

func (p *ZhipuProvider) JudgeSameEvent(ctx context.Context, titleA, titleB string) (*SameEventJudgement, error) {
	if p == nil {
		return nil, fmt.Errorf("zhipu provider is nil")
	}
	prompt := fmt.Sprintf("标题A：%s\n标题B：%s\n\n这两个标题描述的是同一具体事件吗？", titleA, titleB)
	content, err := p.chat(ctx, judgeSystemPrompt, prompt)
	if err != nil {
		return nil, err
	}
	return parseJudgement(content)
}

// parseJudgement decodes the judge's JSON answer. Models sometimes ignore the
// format instruction and answer 是/否 in prose, so that form is accepted too.
func parseJudgement(content string) (*SameEventJudgement, error) {
	if raw := extractJSONObject(content); raw != "" {
		var j SameEventJudgement
		if err := json.Unmarshal([]byte(raw), &j); err != nil {
			return nil, fmt.Errorf("decode same-event judgement: %w", err)
		}
		j.Confidence = normalizeConfidence(j.Confidence)
		return &j, nil
	}
	answer := strings.TrimSpace(content)
	switch {
	case strings.HasPrefix(answer, "是"), strings.HasPrefix(strings.ToLower(answer), "yes"):
		return &SameEventJudgement{SameEvent: true, Reason: answer, Confidence: ConfidenceLow}, nil
	case strings.HasPrefix(answer, "否"), strings.HasPrefix(strings.ToLower(answer), "no"):
		return &SameEventJudgement{SameEvent: false, Reason: answer, Confidence: ConfidenceLow}, nil
	default:
		return nil, fmt.Errorf("unparseable same-event answer %q", truncateRunes(answer, 200))
	}
}

const classifySystemPrompt = "你是医院舆情监控助手。判断给定内容是否为针对该医院的真实负面舆情。" +
	"只输出一个JSON对象：{\"is_negative\": bool, \"severity\": \"low|medium|high\", \"reason\": \"简短说明\", \"confidence\": 0到1}。" +
	"广告、招聘、科普、与该医院无关的内容都不算负面舆情。"

const judgeSystemPrompt = "你是新闻事件去重助手。判断两个标题是否描述同一具体事件。" +
	"只输出一个JSON对象：{\"same_event\": bool, \"reason\": \"简短说明\", \"confidence\": \"low|medium|high\"}。"

func buildClassifyPrompt(req ClassifyRequest) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "监控对象：%s\n", req.Tenant)
	if len(req.RuleHints) > 0 {
		sb.WriteString("人工审核规则（优先遵守）：\n")
		for _, hint := range req.RuleHints {
			sb.WriteString("- ")
			sb.WriteString(hint)
			sb.WriteByte('\n')
		}
	}
	if len(req.Examples) > 0 {
		sb.WriteString("历史审核示例：\n")
		for _, ex := range req.Examples {
			verdict := "负面"
			if !ex.IsNegative {
				verdict = "非负面"
			}
			fmt.Fprintf(&sb, "- 【%s】%s", verdict, ex.Text)
			if ex.Note != "" {
				fmt.Fprintf(&sb, "（审核备注：%s）", ex.Note)
			}
			sb.WriteByte('\n')
		}
	}
	fmt.Fprintf(&sb, "\n标题：%s\n", req.Title)
	if req.Content != "" {
		fmt.Fprintf(&sb, "正文：%s\n", truncateRunes(req.Content, 1500))
	}
	if req.OCRText != "" {
		fmt.Fprintf(&sb, "图片文字：%s\n", truncateRunes(req.OCRText, 500))
	}
	return sb.String()
}

func parseClassification(content string) (*Classification, error) {
	raw := extractJSONObject(content)
	if raw == "" {
		return nil, fmt.Errorf("classification response carried no JSON object: %q", truncateRunes(content, 200))
	}
	var c Classification
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		return nil, fmt.Errorf("decode classification: %w", err)
	}
	c.Severity = normalizeSeverity(c.Severity)
	if c.Confidence < 0 {
		c.Confidence = 0
	}
	if c.Confidence > 1 {
		c.Confidence = 1
	}
	return &c, nil
}

// extractJSONObject pulls the first balanced {...} out of model output that
// may be wrapped in prose or a markdown fence.
func extractJSONObject(s string) string {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		ch := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}

func truncateRunes(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "…"
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type chatErrorResponse struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

type transientError struct {
	err error
}

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

func (p *ZhipuProvider) chat(ctx context.Context, system, user string) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model: p.model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Temperature: p.temperature,
		MaxTokens:   p.maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("marshal chat request: %w", err)
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxInterval = 10 * time.Second

	var lastErr error
	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(bo.NextBackOff()):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}
		content, err := p.chatOnce(ctx, body)
		if err == nil {
			return content, nil
		}
		lastErr = err
		var te *transientError
		if !errors.As(err, &te) {
			return "", err
		}
	}
	return "", lastErr
}

func (p *ZhipuProvider) chatOnce(ctx context.Context, body []byte) (string, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpointURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build chat request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return "", &transientError{err: fmt.Errorf("send chat request: %w", err)}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &transientError{err: fmt.Errorf("read chat response: %w", err)}
	}
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return "", &transientError{err: statusError(resp.StatusCode, respBody)}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", statusError(resp.StatusCode, respBody)
	}

	var parsed chatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("decode chat response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("chat response missing choices")
	}
	content := strings.TrimSpace(parsed.Choices[0].Message.Content)
	if content == "" {
		return "", fmt.Errorf("chat response was empty")
	}
	return content, nil
}

func statusError(status int, body []byte) error {
	var errPayload chatErrorResponse
	if unmarshalErr := json.Unmarshal(body, &errPayload); unmarshalErr == nil {
		if msg := strings.TrimSpace(errPayload.Error.Message); msg != "" {
			return fmt.Errorf("chat endpoint status %d: %s", status, msg)
		}
	}
	return fmt.Errorf("chat endpoint status %d: %s", status, strings.TrimSpace(string(body)))
}
