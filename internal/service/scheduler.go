package service

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"hookrelay/internal/models"
	"hookrelay/internal/queue"
)

// Scheduler periodically enqueues the maintenance job types: old data
// cleanup and the weekly analytics report. It only produces jobs; the
// queue executes them.
type Scheduler struct {
	queue         *queue.Queue
	retentionDays int
	interval      time.Duration
	logger        *logrus.Logger
	stopCh        chan struct{}
}

func NewScheduler(q *queue.Queue, retentionDays int, interval time.Duration, logger *logrus.Logger) *Scheduler {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	return &Scheduler{
		queue:         q,
		retentionDays: retentionDays,
		interval:      interval,
		logger:        logger,
		stopCh:        make(chan struct{}),
	}
}

// Start runs the scheduling loop until the context is cancelled or Stop
// is called. The first round is enqueued immediately.
func (s *Scheduler) Start(ctx context.Context) {
	s.logger.WithFields(logrus.Fields{
		"interval":       s.interval,
		"retention_days": s.retentionDays,
	}).Info("Starting maintenance scheduler")

	s.enqueueRound(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.enqueueRound(ctx)
		}
	}
}

func (s *Scheduler) Stop() {
	select {
	case <-s.stopCh:
	default:
		close(s.stopCh)
	}
}

func (s *Scheduler) enqueueRound(ctx context.Context) {
	if _, err := s.queue.AddJob(ctx, models.JobTypeCleanupOldData, models.CleanupPayload{
		OlderThanDays: s.retentionDays,
	}, queue.AddOptions{Priority: models.JobPriorityLow}); err != nil {
		s.logger.WithError(err).Error("Failed to enqueue cleanup job")
	}

	end := time.Now()
	if _, err := s.queue.AddJob(ctx, models.JobTypeAnalyticsReport, models.AnalyticsReportPayload{
		StartDate: end.AddDate(0, 0, -7),
		EndDate:   end,
	}, queue.AddOptions{Priority: models.JobPriorityLow}); err != nil {
		s.logger.WithError(err).Error("Failed to enqueue analytics report job")
	}
}
