package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/ysprod/plancosmique-sub004/internal/domain"
	apperrors "github.com/ysprod/plancosmique-sub004/pkg/errors"
)

// Fallback messages for tracking failures when the backend provides none.
const (
	fallbackJobFailedMessage = "La génération de votre analyse a échoué"
	pollGaveUpMessage        = "Impossible de suivre la génération de l'analyse"
	maxPollsReachedMessage   = "La génération de l'analyse prend plus de temps que prévu"
)

// AnalysisPoller is the backend capability the tracker consumes.
type AnalysisPoller interface {
	GetAnalysisStatus(ctx context.Context, consultationID string) (domain.AnalysisSnapshot, error)
}

// TrackerConfig tunes the polling loop.
type TrackerConfig struct {
	// Interval between polls. Defaults to 5 seconds.
	Interval time.Duration
	// MaxPolls bounds the loop; 0 means unlimited (trust the backend to
	// reach a terminal state).
	MaxPolls int
	// MaxConsecutiveFailures is how many transport failures in a row are
	// tolerated before giving up. Defaults to 5.
	MaxConsecutiveFailures int
}

func (c TrackerConfig) withDefaults() TrackerConfig {
	if c.Interval <= 0 {
		c.Interval = 5 * time.Second
	}
	if c.MaxConsecutiveFailures <= 0 {
		c.MaxConsecutiveFailures = 5
	}
	return c
}

// ProgressFn receives each derived progress update. Updates are monotonically
// non-decreasing in progress percent.
type ProgressFn func(domain.AnalysisProgress)

// Tracker polls the analysis-generation job attached to a consultation until
// it reaches a terminal state.
type Tracker struct {
	poller AnalysisPoller
	cfg    TrackerConfig
	logger *slog.Logger
}

// NewTracker creates an analysis progress tracker.
func NewTracker(poller AnalysisPoller, cfg TrackerConfig, logger *slog.Logger) *Tracker {
	return &Tracker{poller: poller, cfg: cfg.withDefaults(), logger: logger}
}

// Track polls the job for consultationID until completion or failure, calling
// onProgress for each observation. It polls once immediately, then on the
// configured interval. Cancelling ctx stops the loop and returns ctx.Err();
// an abort is never reported as a job failure.
func (t *Tracker) Track(ctx context.Context, consultationID string, onProgress ProgressFn) (domain.AnalysisOutcome, error) {
	start := time.Now()
	lastIdx := -1
	polls := 0
	consecutiveFailures := 0

	ticker := time.NewTicker(t.cfg.Interval)
	defer ticker.Stop()

	for {
		polls++
		pollStart := time.Now()
		snapshot, err := t.poller.GetAnalysisStatus(ctx, consultationID)
		analysisPollDuration.Observe(time.Since(pollStart).Seconds())

		switch {
		case err != nil && ctx.Err() != nil:
			// The loop's own context ended; the poll error just echoes it.
			return domain.AnalysisOutcome{}, ctx.Err()

		case err != nil:
			// Includes per-call poll timeouts: with the loop still alive they
			// count toward the failure cap like any other transport error.
			consecutiveFailures++
			t.logger.WarnContext(ctx, "analysis poll failed",
				slog.String("consultation_id", consultationID),
				slog.Int("consecutive_failures", consecutiveFailures),
				slog.String("error", err.Error()),
			)
			if consecutiveFailures >= t.cfg.MaxConsecutiveFailures {
				analysisTrackingDuration.WithLabelValues("gave_up").Observe(time.Since(start).Seconds())
				return domain.AnalysisOutcome{Message: pollGaveUpMessage},
					apperrors.JobFailed(pollGaveUpMessage)
			}

		default:
			consecutiveFailures = 0

			var stage domain.AnalysisStage
			stage, lastIdx = domain.StageFor(snapshot.Status, lastIdx)

			if onProgress != nil {
				onProgress(domain.AnalysisProgress{
					Stage:           stage.Key,
					ProgressPercent: stage.ProgressPercent,
					Label:           stage.Label,
					Done:            snapshot.Status == domain.AnalysisCompleted,
				})
			}

			if snapshot.Status == domain.AnalysisCompleted {
				t.logger.InfoContext(ctx, "analysis completed",
					slog.String("consultation_id", consultationID),
					slog.Int("polls", polls),
				)
				analysisTrackingDuration.WithLabelValues("completed").Observe(time.Since(start).Seconds())
				return domain.AnalysisOutcome{
					Completed: true,
					Analysis:  snapshot.Analysis,
					Message:   snapshot.Message,
				}, nil
			}

			if !domain.IsNonTerminalAnalysisState(snapshot.Status) {
				// Explicit error state or a vocabulary the client does not
				// know and cannot wait on.
				message := snapshot.Message
				if message == "" {
					message = fallbackJobFailedMessage
				}
				t.logger.WarnContext(ctx, "analysis failed",
					slog.String("consultation_id", consultationID),
					slog.String("status", snapshot.Status),
					slog.String("message", message),
				)
				analysisTrackingDuration.WithLabelValues("failed").Observe(time.Since(start).Seconds())
				return domain.AnalysisOutcome{Message: message}, apperrors.JobFailed(message)
			}
		}

		if t.cfg.MaxPolls > 0 && polls >= t.cfg.MaxPolls {
			analysisTrackingDuration.WithLabelValues("timeout").Observe(time.Since(start).Seconds())
			return domain.AnalysisOutcome{Message: maxPollsReachedMessage},
				apperrors.JobFailed(maxPollsReachedMessage)
		}

		select {
		case <-ctx.Done():
			return domain.AnalysisOutcome{}, ctx.Err()
		case <-ticker.C:
		}
	}
}
