package httpapi

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"horse.fit/pulse/internal/auth"
	"horse.fit/pulse/internal/db"
	"horse.fit/pulse/internal/dedupe"
	"horse.fit/pulse/internal/feedback"
	"horse.fit/pulse/internal/globaltime"
	"horse.fit/pulse/internal/reader"
)

const maxIngestBodyBytes = 1 << 20

func (s *Server) handleHealth(c echo.Context) error {
	return success(c, map[string]any{
		"service": "pulse",
		"time":    globaltime.UTC(),
	})
}

func (s *Server) handleIngestMention(c echo.Context) error {
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxIngestBodyBytes+1))
	if err != nil {
		return failValidation(c, map[string]string{"body": "could not be read"})
	}
	if len(body) > maxIngestBodyBytes {
		return fail(c, http.StatusRequestEntityTooLarge, "Payload too large", nil)
	}

	res, err := s.ingest.Ingest(c.Request().Context(), json.RawMessage(body))
	if err != nil {
		return failValidation(c, map[string]string{"payload": err.Error()})
	}
	if !res.Accepted {
		return success(c, res)
	}
	return successWithStatus(c, http.StatusCreated, res)
}

func (s *Server) handleListMentions(c echo.Context) error {
	tenant := strings.TrimSpace(c.QueryParam("tenant"))
	if tenant == "" {
		return failValidation(c, map[string]string{"tenant": "is required"})
	}
	status := strings.TrimSpace(strings.ToLower(c.QueryParam("status")))
	switch status {
	case "", "active", "dismissed":
	default:
		return failValidation(c, map[string]string{"status": "must be active or dismissed"})
	}
	page, err := parsePositiveInt(c.QueryParam("page"), 1, 1, 1_000_000)
	if err != nil {
		return failValidation(c, map[string]string{"page": err.Error()})
	}
	pageSize, err := parsePositiveInt(c.QueryParam("page_size"), defaultPageSize, 1, maxPageSize)
	if err != nil {
		return failValidation(c, map[string]string{"page_size": err.Error()})
	}

	items, err := s.mentions.List(c.Request().Context(), tenant, status, pageSize, (page-1)*pageSize)
	if err != nil {
		s.logger.Error().Err(err).Str("tenant", tenant).Msg("list mentions failed")
		return internalError(c, "Failed to load mentions")
	}
	return success(c, map[string]any{
		"items": mentionItems(items),
		"pagination": map[string]any{
			"page":      page,
			"page_size": pageSize,
		},
	})
}

func (s *Server) handleMentionDetail(c echo.Context) error {
	sentimentID := strings.TrimSpace(c.Param("sentiment_id"))
	if sentimentID == "" {
		return failValidation(c, map[string]string{"sentiment_id": "is required"})
	}
	m, err := s.mentions.GetBySentimentID(c.Request().Context(), sentimentID)
	if err != nil {
		if db.IsNoRows(err) {
			return failNotFound(c, "Mention not found")
		}
		s.logger.Error().Err(err).Str("sentiment_id", sentimentID).Msg("load mention failed")
		return internalError(c, "Failed to load mention")
	}
	return success(c, mentionItem(m))
}

func (s *Server) handleMentionPreview(c echo.Context) error {
	sentimentID := strings.TrimSpace(c.Param("sentiment_id"))
	if sentimentID == "" {
		return failValidation(c, map[string]string{"sentiment_id": "is required"})
	}
	m, err := s.mentions.GetBySentimentID(c.Request().Context(), sentimentID)
	if err != nil {
		if db.IsNoRows(err) {
			return failNotFound(c, "Mention not found")
		}
		s.logger.Error().Err(err).Str("sentiment_id", sentimentID).Msg("load mention failed")
		return internalError(c, "Failed to load mention")
	}
	if m.URL == nil || strings.TrimSpace(*m.URL) == "" {
		return failValidation(c, map[string]string{"url": "mention has no source url"})
	}

	text, err := reader.FetchText(c.Request().Context(), *m.URL, m.Title)
	if err != nil {
		s.logger.Warn().Err(err).Str("sentiment_id", sentimentID).Msg("preview fetch failed")
		return fail(c, http.StatusBadGateway, "Could not fetch source page", nil)
	}
	preview, truncated := reader.TruncateText(text, 5000)
	return success(c, map[string]any{
		"sentiment_id": sentimentID,
		"url":          *m.URL,
		"text":         preview,
		"truncated":    truncated,
	})
}

func (s *Server) handleListEvents(c echo.Context) error {
	tenant := strings.TrimSpace(c.QueryParam("tenant"))
	if tenant == "" {
		return failValidation(c, map[string]string{"tenant": "is required"})
	}
	page, err := parsePositiveInt(c.QueryParam("page"), 1, 1, 1_000_000)
	if err != nil {
		return failValidation(c, map[string]string{"page": err.Error()})
	}
	pageSize, err := parsePositiveInt(c.QueryParam("page_size"), defaultPageSize, 1, maxPageSize)
	if err != nil {
		return failValidation(c, map[string]string{"page_size": err.Error()})
	}

	groups, err := s.events.List(c.Request().Context(), tenant, pageSize, (page-1)*pageSize)
	if err != nil {
		s.logger.Error().Err(err).Str("tenant", tenant).Msg("list events failed")
		return internalError(c, "Failed to load events")
	}
	items := make([]map[string]any, 0, len(groups))
	for i := range groups {
		items = append(items, eventItem(&groups[i]))
	}
	return success(c, map[string]any{
		"items": items,
		"pagination": map[string]any{
			"page":      page,
			"page_size": pageSize,
		},
	})
}

func (s *Server) handleEventDetail(c echo.Context) error {
	tenant := strings.TrimSpace(c.QueryParam("tenant"))
	if tenant == "" {
		return failValidation(c, map[string]string{"tenant": "is required"})
	}
	eventID, err := strconv.ParseInt(strings.TrimSpace(c.Param("event_id")), 10, 64)
	if err != nil || eventID <= 0 {
		return failValidation(c, map[string]string{"event_id": "must be a positive integer"})
	}

	g, err := s.events.Get(c.Request().Context(), tenant, eventID)
	if err != nil {
		if db.IsNoRows(err) {
			return failNotFound(c, "Event not found")
		}
		s.logger.Error().Err(err).Int64("event_id", eventID).Msg("load event failed")
		return internalError(c, "Failed to load event")
	}
	return success(c, eventItem(g))
}

func (s *Server) handleStats(c echo.Context) error {
	tenant := strings.TrimSpace(c.QueryParam("tenant"))
	if tenant == "" {
		return failValidation(c, map[string]string{"tenant": "is required"})
	}
	stats, err := s.mentions.Stats(c.Request().Context(), tenant)
	if err != nil {
		s.logger.Error().Err(err).Str("tenant", tenant).Msg("query stats failed")
		return internalError(c, "Failed to load stats")
	}
	return success(c, stats)
}

type feedbackRequest struct {
	SentimentID string `json:"sentiment_id"`
	Judgment    *bool  `json:"judgment"`
	Kind        string `json:"kind"`
	Text        string `json:"text"`
	Reviewer    string `json:"reviewer"`
	ExpiresUnix string `json:"expires"`
	Signature   string `json:"signature"`
}

// handleSubmitFeedback accepts reviewer feedback. The caller authenticates
// either with admin basic auth or with a signed link covering the mention.
func (s *Server) handleSubmitFeedback(c echo.Context) error {
	var req feedbackRequest
	if err := c.Bind(&req); err != nil {
		return failValidation(c, map[string]string{"body": "must be valid JSON"})
	}
	if strings.TrimSpace(req.SentimentID) == "" {
		return failValidation(c, map[string]string{"sentiment_id": "is required"})
	}
	if req.Judgment == nil {
		return failValidation(c, map[string]string{"judgment": "is required"})
	}

	if !s.feedbackAuthorized(c, req) {
		return failUnauthorized(c, "Feedback link signature or admin credentials required")
	}

	res, err := s.feedback.Submit(c.Request().Context(), feedback.Submission{
		SentimentID: req.SentimentID,
		Judgment:    *req.Judgment,
		Kind:        req.Kind,
		Text:        req.Text,
		Reviewer:    req.Reviewer,
	})
	if err != nil {
		s.logger.Error().Err(err).Str("sentiment_id", req.SentimentID).Msg("submit feedback failed")
		return internalError(c, "Failed to record feedback")
	}
	return successWithStatus(c, http.StatusCreated, res)
}

func (s *Server) feedbackAuthorized(c echo.Context, req feedbackRequest) bool {
	if user, password, ok := c.Request().BasicAuth(); ok {
		if auth.VerifyAdmin(user, password, s.cfg.AdminUser, s.cfg.AdminPasswordHash) {
			return true
		}
	}
	return VerifyFeedbackLink(s.cfg.FeedbackLinkSecret, strings.TrimSpace(req.SentimentID), req.ExpiresUnix, req.Signature)
}

func (s *Server) handleFeedbackLink(c echo.Context) error {
	sentimentID := strings.TrimSpace(c.QueryParam("sentiment_id"))
	if sentimentID == "" {
		return failValidation(c, map[string]string{"sentiment_id": "is required"})
	}
	if strings.TrimSpace(s.cfg.FeedbackLinkSecret) == "" {
		return fail(c, http.StatusConflict, "Feedback links are disabled: no secret configured", nil)
	}

	ttl := time.Duration(s.cfg.FeedbackLinkTTLHours) * time.Hour
	if ttl <= 0 {
		ttl = 72 * time.Hour
	}
	expiresAt := globaltime.UTC().Add(ttl)
	signature := SignFeedbackLink(s.cfg.FeedbackLinkSecret, sentimentID, expiresAt)

	return success(c, map[string]any{
		"sentiment_id": sentimentID,
		"expires":      strconv.FormatInt(expiresAt.Unix(), 10),
		"signature":    signature,
	})
}

func (s *Server) handleListRules(c echo.Context) error {
	rules, err := s.feedback.ActiveRules(c.Request().Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("list rules failed")
		return internalError(c, "Failed to load rules")
	}
	items := make([]map[string]any, 0, len(rules))
	for _, r := range rules {
		items = append(items, map[string]any{
			"rule_id":    r.RuleID,
			"rule_uuid":  r.RuleUUID,
			"pattern":    r.Pattern,
			"rule_type":  r.RuleType,
			"action":     r.Action,
			"confidence": r.Confidence,
			"enabled":    r.Enabled,
			"created_at": r.CreatedAt,
		})
	}
	return success(c, map[string]any{"items": items})
}

func (s *Server) handleSetRuleEnabled(c echo.Context) error {
	ruleID, err := strconv.ParseInt(strings.TrimSpace(c.Param("rule_id")), 10, 64)
	if err != nil || ruleID <= 0 {
		return failValidation(c, map[string]string{"rule_id": "must be a positive integer"})
	}
	var req struct {
		Enabled *bool `json:"enabled"`
	}
	if err := c.Bind(&req); err != nil || req.Enabled == nil {
		return failValidation(c, map[string]string{"enabled": "is required"})
	}

	if err := s.fbStore.SetRuleEnabled(c.Request().Context(), ruleID, *req.Enabled); err != nil {
		if db.IsNoRows(err) {
			return failNotFound(c, "Rule not found")
		}
		s.logger.Error().Err(err).Int64("rule_id", ruleID).Msg("update rule failed")
		return internalError(c, "Failed to update rule")
	}
	return success(c, map[string]any{"rule_id": ruleID, "enabled": *req.Enabled})
}

func mentionItems(mentions []db.NegativeMention) []map[string]any {
	items := make([]map[string]any, 0, len(mentions))
	for i := range mentions {
		items = append(items, mentionItem(&mentions[i]))
	}
	return items
}

func mentionItem(m *db.NegativeMention) map[string]any {
	item := map[string]any{
		"mention_uuid": m.MentionUUID,
		"sentiment_id": m.SentimentID,
		"tenant":       m.Tenant,
		"title":        m.Title,
		"source":       m.Source,
		"reason":       m.Reason,
		"severity":     m.Severity,
		"is_duplicate": m.IsDuplicate,
		"status":       m.Status,
		"processed_at": m.ProcessedAt,
	}
	if m.URL != nil {
		item["url"] = *m.URL
		if label := dedupe.PlatformLabel(dedupe.CanonicalKey(*m.URL, m.Source)); label != "" {
			item["platform"] = label
		}
	}
	if m.Language != nil {
		item["language"] = *m.Language
	}
	if m.EventID != nil {
		item["event_id"] = *m.EventID
	}
	if m.DismissedAt != nil {
		item["dismissed_at"] = *m.DismissedAt
	}
	return item
}

func eventItem(g *db.EventGroup) map[string]any {
	item := map[string]any{
		"event_id":          g.EventID,
		"event_uuid":        g.EventUUID,
		"tenant":            g.Tenant,
		"total_count":       g.TotalCount,
		"last_title":        g.LastTitle,
		"last_reason":       g.LastReason,
		"last_source":       g.LastSource,
		"last_sentiment_id": g.LastSentimentID,
		"created_at":        g.CreatedAt,
		"last_seen_at":      g.LastSeenAt,
	}
	if g.CanonicalURL != nil {
		item["canonical_url"] = *g.CanonicalURL
		if label := dedupe.PlatformLabel(*g.CanonicalURL); label != "" {
			item["platform"] = label
		}
	}
	return item
}
