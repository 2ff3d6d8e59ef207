package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"horse.fit/pulse/internal/classify"
	"horse.fit/pulse/internal/db"
	"horse.fit/pulse/internal/dedupe"
	"horse.fit/pulse/internal/globaltime"
	"horse.fit/pulse/internal/langdetect"
)

// MentionStore is the slice of db.MentionStore the processor needs.
type MentionStore interface {
	ClaimPending(ctx context.Context, tx db.Tx, limit int) ([]db.MentionArrival, error)
	MarkProcessed(ctx context.Context, tx db.Tx, arrivalIDs []int64, at time.Time) error
	InsertNegative(ctx context.Context, tx db.Tx, m *db.NegativeMention) (int64, error)
	StartRun(ctx context.Context, runUUID string, startedAt time.Time) (int64, error)
	FinishRun(ctx context.Context, runID int64, status string, processed, negatives, duplicates int, errMsg string, finishedAt time.Time) error
}

// Classifier decides whether one mention is a genuine negative.
type Classifier interface {
	Classify(ctx context.Context, in classify.Input) (*classify.Decision, error)
}

// Matcher folds a negative mention into an event group.
type Matcher interface {
	MatchOrCreate(ctx context.Context, tx db.Tx, mn dedupe.Mention) (*dedupe.MatchResult, error)
}

// TxBeginner opens transactions; satisfied by *db.Pool.
type TxBeginner interface {
	BeginTx(ctx context.Context, opts db.TxOptions) (db.Tx, error)
}

// Summary is the outcome of one pipeline run.
type Summary struct {
	RunID      int64  `json:"runId"`
	RunUUID    string `json:"runUuid"`
	Processed  int    `json:"processed"`
	Negatives  int    `json:"negatives"`
	Duplicates int    `json:"duplicates"`
	Errors     int    `json:"errors"`
}

// Processor drains pending arrivals: classify each, fold negatives into
// event groups, and stamp the successes processed. Arrivals that fail stay
// pending so the next run retries them. Each batch commits in its own
// transaction so a crash loses at most one batch of work.
type Processor struct {
	beginner   TxBeginner
	mentions   MentionStore
	classifier Classifier
	matcher    Matcher
	batchSize  int
	log        zerolog.Logger
}

func NewProcessor(beginner TxBeginner, mentions MentionStore, classifier Classifier, matcher Matcher, batchSize int, log zerolog.Logger) *Processor {
	if batchSize <= 0 {
		batchSize = 50
	}
	return &Processor{
		beginner:   beginner,
		mentions:   mentions,
		classifier: classifier,
		matcher:    matcher,
		batchSize:  batchSize,
		log:        log,
	}
}

// Run processes the backlog until it is empty and records the run outcome.
func (p *Processor) Run(ctx context.Context) (*Summary, error) {
	summary := &Summary{RunUUID: uuid.NewString()}
	startedAt := globaltime.UTC()

	runID, err := p.mentions.StartRun(ctx, summary.RunUUID, startedAt)
	if err != nil {
		return nil, err
	}
	summary.RunID = runID

	p.log.Info().
		Int64("run_id", runID).
		Str("run_uuid", summary.RunUUID).
		Msg("pipeline run started")

	// Failed arrivals stay unstamped; the set keeps this run from
	// reclaiming and retrying them in a later batch.
	failed := make(map[int64]bool)

	for {
		select {
		case <-ctx.Done():
			p.finish(summary, "cancelled", ctx.Err().Error())
			return summary, ctx.Err()
		default:
		}

		drained, err := p.runBatch(ctx, summary, failed)
		if err != nil {
			p.finish(summary, "failed", err.Error())
			return summary, err
		}
		if drained {
			break
		}
	}

	p.finish(summary, "completed", "")
	p.log.Info().
		Int64("run_id", runID).
		Int("processed", summary.Processed).
		Int("negatives", summary.Negatives).
		Int("duplicates", summary.Duplicates).
		Int("errors", summary.Errors).
		Msg("pipeline run completed")
	return summary, nil
}

// runBatch claims and processes one batch. Returns true once the backlog is
// empty or only already-failed arrivals remain.
func (p *Processor) runBatch(ctx context.Context, summary *Summary, failed map[int64]bool) (bool, error) {
	tx, err := p.beginner.BeginTx(ctx, db.TxOptions{})
	if err != nil {
		return false, fmt.Errorf("begin pipeline tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	batch, err := p.mentions.ClaimPending(ctx, tx, p.batchSize)
	if err != nil {
		return false, err
	}
	if len(batch) == 0 {
		return true, nil
	}

	processedIDs := make([]int64, 0, len(batch))
	for i := range batch {
		arrival := &batch[i]
		if failed[arrival.ArrivalID] {
			continue
		}
		if err := p.processArrival(ctx, tx, arrival, summary); err != nil {
			summary.Errors++
			failed[arrival.ArrivalID] = true
			p.log.Error().
				Err(err).
				Str("tenant", arrival.Tenant).
				Str("sentiment_id", arrival.SentimentID).
				Msg("mention processing failed, left pending for retry")
			continue
		}
		processedIDs = append(processedIDs, arrival.ArrivalID)
		summary.Processed++
	}

	if len(processedIDs) > 0 {
		if err := p.mentions.MarkProcessed(ctx, tx, processedIDs, globaltime.UTC()); err != nil {
			return false, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit pipeline tx: %w", err)
	}
	if len(processedIDs) == 0 {
		// Every claimed arrival already failed this run; stop instead of
		// spinning on them.
		return true, nil
	}
	return len(batch) < p.batchSize, nil
}

func (p *Processor) processArrival(ctx context.Context, tx db.Tx, arrival *db.MentionArrival, summary *Summary) error {
	decision, err := p.classifier.Classify(ctx, classify.Input{
		Tenant:       arrival.Tenant,
		SentimentID:  arrival.SentimentID,
		Title:        arrival.Title,
		Source:       arrival.Source,
		Content:      arrival.Content,
		OCRText:      arrival.OCRText,
		AttitudeFlag: arrival.AttitudeFlag,
		NegativeProb: arrival.NegativeProb,
	})
	if err != nil {
		return fmt.Errorf("classify mention: %w", err)
	}
	if !decision.IsNegative {
		return nil
	}

	rawURL := ""
	if arrival.URL != nil {
		rawURL = *arrival.URL
	}
	match, err := p.matcher.MatchOrCreate(ctx, tx, dedupe.Mention{
		Tenant:      arrival.Tenant,
		SentimentID: arrival.SentimentID,
		Title:       arrival.Title,
		Content:     arrival.Content,
		Reason:      decision.Reason,
		Source:      arrival.Source,
		URL:         rawURL,
		SeenAt:      arrival.FetchedAt,
	})
	if err != nil {
		return fmt.Errorf("match event group: %w", err)
	}

	mention := &db.NegativeMention{
		SentimentID: arrival.SentimentID,
		Tenant:      arrival.Tenant,
		Title:       arrival.Title,
		Source:      arrival.Source,
		Content:     arrival.Content,
		Reason:      decision.Reason,
		Severity:    decision.Severity,
		URL:         arrival.URL,
		EventID:     &match.EventID,
		IsDuplicate: match.IsDuplicate,
		ProcessedAt: globaltime.UTC(),
	}
	if code := langdetect.DetectISO6391(arrival.Title + " " + arrival.Content); code != "" {
		mention.Language = &code
	}
	if _, err := p.mentions.InsertNegative(ctx, tx, mention); err != nil {
		return err
	}

	summary.Negatives++
	if match.IsDuplicate {
		summary.Duplicates++
	}
	return nil
}

func (p *Processor) finish(summary *Summary, status, errMsg string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := p.mentions.FinishRun(ctx, summary.RunID, status, summary.Processed, summary.Negatives, summary.Duplicates, errMsg, globaltime.UTC()); err != nil {
		p.log.Error().Err(err).Int64("run_id", summary.RunID).Msg("record run outcome failed")
	}
}
