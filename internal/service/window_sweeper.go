package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/cohort-recruitment-api/internal/models"
	"github.com/noah-isme/cohort-recruitment-api/pkg/jobs"
)

// JobTypeCloseExpiredWindow is the queue job type used by the sweeper.
const JobTypeCloseExpiredWindow = "close_expired_window"

type expiredWindowLister interface {
	ListExpiredWindows(ctx context.Context, now time.Time) ([]string, error)
}

type expiredWindowCloser interface {
	CloseExpiredWindow(ctx context.Context, studyID string) (*models.TransitionResult, error)
}

// SweeperConfig tunes the window sweeper.
type SweeperConfig struct {
	Interval   time.Duration
	Workers    int
	MaxRetries int
	RetryDelay time.Duration
}

// WindowSweeper periodically finds open windows past their deadline and closes
// them through the orchestrator, like any other external caller would.
type WindowSweeper struct {
	lister   expiredWindowLister
	closer   expiredWindowCloser
	queue    *jobs.Queue
	interval time.Duration
	logger   *zap.Logger
	now      func() time.Time
}

// NewWindowSweeper constructs a sweeper and its worker queue.
func NewWindowSweeper(lister expiredWindowLister, closer expiredWindowCloser, cfg SweeperConfig, logger *zap.Logger) *WindowSweeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	w := &WindowSweeper{
		lister:   lister,
		closer:   closer,
		interval: cfg.Interval,
		logger:   logger,
		now:      time.Now,
	}
	w.queue = jobs.NewQueue("window-sweeper", w.handle, jobs.QueueConfig{
		Workers:    cfg.Workers,
		MaxRetries: cfg.MaxRetries,
		RetryDelay: cfg.RetryDelay,
		Logger:     logger,
	})
	return w
}

// Run sweeps on every tick until ctx is cancelled.
func (w *WindowSweeper) Run(ctx context.Context) {
	w.queue.Start(ctx)
	defer w.queue.Stop()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		if _, err := w.Sweep(ctx); err != nil {
			w.logger.Warn("window sweep failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Sweep enqueues a close job for every expired window and returns how many
// jobs were newly queued.
func (w *WindowSweeper) Sweep(ctx context.Context) (int, error) {
	studyIDs, err := w.lister.ListExpiredWindows(ctx, w.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("list expired windows: %w", err)
	}

	queued := 0
	for _, studyID := range studyIDs {
		ok, err := w.queue.Enqueue(jobs.Job{
			ID:      uuid.NewString(),
			Type:    JobTypeCloseExpiredWindow,
			StudyID: studyID,
		})
		if err != nil {
			return queued, err
		}
		if ok {
			queued++
		}
	}
	if queued > 0 {
		w.logger.Info("expired windows queued for closing", zap.Int("count", queued))
	}
	return queued, nil
}

func (w *WindowSweeper) handle(ctx context.Context, job jobs.Job) error {
	result, err := w.closer.CloseExpiredWindow(ctx, job.StudyID)
	if err != nil {
		return err
	}
	w.logger.Info("window sweep result",
		zap.String("study_id", job.StudyID),
		zap.String("outcome", string(result.Outcome)),
		zap.String("reason", string(result.Reason)),
	)
	return nil
}
