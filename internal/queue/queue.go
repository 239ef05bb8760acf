package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"hookrelay/internal/constants"
	apperrors "hookrelay/internal/errors"
	"hookrelay/internal/metrics"
	"hookrelay/internal/models"
	"hookrelay/internal/retry"
	"hookrelay/internal/tracing"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

// Store is the durable job table the queue runs against. All mutations
// are single-record writes keyed by job id; MarkJobProcessing is the
// atomic claim that guards against double dispatch.
type Store interface {
	CreateJob(ctx context.Context, job *models.Job) error
	GetJob(ctx context.Context, id string) (*models.Job, error)
	FindDueJobs(ctx context.Context, limit int, now time.Time) ([]models.Job, error)
	MarkJobProcessing(ctx context.Context, id string, startedAt time.Time) (bool, error)
	CompleteJob(ctx context.Context, id string, result json.RawMessage, completedAt time.Time) error
	RescheduleJob(ctx context.Context, id string, attempts int, errorMessage string, scheduledAt time.Time) error
	FailJob(ctx context.Context, id string, attempts int, errorMessage string, completedAt time.Time) error
	CountJobsByStatus(ctx context.Context) (models.JobStats, error)
	DeleteCompletedJobsBefore(ctx context.Context, cutoff time.Time) (int64, error)
	ResetFailedJobs(ctx context.Context, jobType string, now time.Time) (int64, error)
}

// Options configures a Queue. Zero values fall back to defaults.
type Options struct {
	PollInterval       time.Duration
	Concurrency        int
	JobTimeout         time.Duration
	DefaultMaxAttempts int
	RetryBaseDelay     time.Duration
	RetryMaxDelay      time.Duration
	RetryJitter        time.Duration
}

func (o Options) withDefaults() Options {
	if o.PollInterval <= 0 {
		o.PollInterval = constants.DefaultPollIntervalSec * time.Second
	}
	if o.Concurrency <= 0 {
		o.Concurrency = constants.DefaultConcurrency
	}
	if o.JobTimeout <= 0 {
		o.JobTimeout = constants.DefaultJobTimeoutSec * time.Second
	}
	if o.DefaultMaxAttempts <= 0 {
		o.DefaultMaxAttempts = constants.DefaultMaxAttempts
	}
	if o.RetryBaseDelay <= 0 {
		o.RetryBaseDelay = constants.DefaultRetryBaseDelay
	}
	if o.RetryMaxDelay <= 0 {
		o.RetryMaxDelay = constants.DefaultRetryMaxDelay
	}
	if o.RetryJitter <= 0 {
		o.RetryJitter = constants.DefaultRetryJitter
	}
	return o
}

// AddOptions are the per-job knobs accepted by AddJob.
type AddOptions struct {
	Priority    models.JobPriority
	ScheduledAt time.Time
	MaxAttempts int
}

// Queue polls the store for due pending jobs and dispatches them to
// registered handlers with bounded concurrency. It is constructed and
// owned by the composition root; Start and Stop make its lifecycle
// explicit.
type Queue struct {
	store    Store
	registry *registry
	opts     Options
	logger   *logrus.Logger

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func New(store Store, logger *logrus.Logger, opts Options) *Queue {
	return &Queue{
		store:    store,
		registry: newRegistry(),
		opts:     opts.withDefaults(),
		logger:   logger,
		stopCh:   make(chan struct{}),
	}
}

// RegisterHandler binds a handler to a job type. Handlers must be
// registered before jobs of that type are dispatched; re-registration
// overwrites.
func (q *Queue) RegisterHandler(h Handler) {
	q.registry.register(h)
}

// AddJob validates and persists a new pending job, returning its id.
func (q *Queue) AddJob(ctx context.Context, jobType string, payload interface{}, opts AddOptions) (string, error) {
	if !q.registry.has(jobType) {
		return "", apperrors.NewUnknownJobTypeError(jobType)
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return "", apperrors.Wrap(err, apperrors.ErrCodeInvalidPayload, "failed to serialize payload")
	}

	now := time.Now()
	if opts.Priority == "" {
		opts.Priority = models.JobPriorityMedium
	}
	if !opts.Priority.Valid() {
		return "", apperrors.New(apperrors.ErrCodeInvalidInput, fmt.Sprintf("invalid priority: %s", opts.Priority))
	}
	if opts.ScheduledAt.IsZero() {
		opts.ScheduledAt = now
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = q.opts.DefaultMaxAttempts
	}

	job := &models.Job{
		ID:          uuid.NewString(),
		Type:        jobType,
		Payload:     raw,
		Status:      models.JobStatusPending,
		Priority:    opts.Priority,
		MaxAttempts: opts.MaxAttempts,
		ScheduledAt: opts.ScheduledAt,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := q.store.CreateJob(ctx, job); err != nil {
		return "", apperrors.NewStoreError("create job", err)
	}

	q.logger.WithFields(logrus.Fields{
		"job_id":   job.ID,
		"job_type": jobType,
		"priority": job.Priority,
	}).Debug("Job enqueued")

	return job.ID, nil
}

// Start runs the dispatch loop until the context is cancelled or Stop is
// called. One timer-driven poller selects due jobs; execution of a batch
// is concurrent, bounded by the configured concurrency.
func (q *Queue) Start(ctx context.Context) {
	ticker := time.NewTicker(q.opts.PollInterval)
	defer ticker.Stop()

	q.logger.WithFields(logrus.Fields{
		"poll_interval": q.opts.PollInterval,
		"concurrency":   q.opts.Concurrency,
	}).Info("Starting job queue")

	q.processBatch(ctx)

	for {
		select {
		case <-ctx.Done():
			q.logger.Info("Job queue context cancelled, draining")
			q.wg.Wait()
			return
		case <-q.stopCh:
			q.logger.Info("Job queue stop signal received, draining")
			q.wg.Wait()
			return
		case <-ticker.C:
			q.processBatch(ctx)
		}
	}
}

// Stop stops the poller and waits for in-flight jobs to finish. No new
// batches are dispatched after Stop returns.
func (q *Queue) Stop() {
	q.stopOnce.Do(func() { close(q.stopCh) })
	q.wg.Wait()
}

// processBatch selects one batch of due jobs and runs them in parallel,
// waiting for the whole batch before the next tick is honored. Store
// failures are logged and retried on the next interval.
func (q *Queue) processBatch(ctx context.Context) {
	jobs, err := q.store.FindDueJobs(ctx, q.opts.Concurrency, time.Now())
	if err != nil {
		q.logger.WithError(err).Error("Failed to fetch due jobs")
		return
	}
	if len(jobs) == 0 {
		return
	}

	var batch sync.WaitGroup
	for i := range jobs {
		job := jobs[i]
		batch.Add(1)
		q.wg.Add(1)
		go func() {
			defer batch.Done()
			defer q.wg.Done()
			q.processJob(ctx, &job)
		}()
	}
	batch.Wait()
}

// processJob drives one job through its state machine. Handler errors
// are always converted into a state transition and never propagate to
// the poller.
func (q *Queue) processJob(ctx context.Context, job *models.Job) {
	log := q.logger.WithFields(logrus.Fields{
		"job_id":   job.ID,
		"job_type": job.Type,
		"attempt":  job.Attempts + 1,
	})

	handler, ok := q.registry.get(job.Type)
	if !ok {
		// Registration happens before producers run, so this means the
		// handler set changed under a persisted backlog.
		log.Error("No handler found for job type")
		q.failJob(ctx, job, job.Attempts, "no handler found")
		return
	}

	if len(job.Payload) > 0 && !json.Valid(job.Payload) {
		log.Error("Invalid job payload")
		q.failJob(ctx, job, job.Attempts, "invalid payload format")
		return
	}

	claimed, err := q.store.MarkJobProcessing(ctx, job.ID, time.Now())
	if err != nil {
		log.WithError(err).Error("Failed to claim job")
		return
	}
	if !claimed {
		return
	}

	metrics.IncrementCounter("queue_jobs_dispatched_total",
		map[string]string{"type": job.Type}, "Jobs dispatched to handlers")

	spanCtx, span := tracing.StartSpan(ctx, "queue.process_job",
		attribute.String("job.id", job.ID),
		attribute.String("job.type", job.Type),
		attribute.Int("job.attempt", job.Attempts+1),
	)
	result, err := q.runHandler(spanCtx, handler, job)
	tracing.EndSpan(span, err)

	if err == nil {
		q.completeJob(ctx, job, result, log)
		return
	}
	q.handleFailure(ctx, job, handler, err, log)
}

// runHandler invokes the handler under the per-job timeout, converting
// panics into errors so a broken handler cannot crash the poller.
func (q *Queue) runHandler(ctx context.Context, handler Handler, job *models.Job) (result interface{}, err error) {
	runCtx, cancel := context.WithTimeout(ctx, q.opts.JobTimeout)
	defer cancel()

	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("handler panic: %v", rec)
		}
	}()

	return handler.Handle(runCtx, job)
}

func (q *Queue) completeJob(ctx context.Context, job *models.Job, result interface{}, log *logrus.Entry) {
	var raw json.RawMessage
	if result != nil {
		encoded, err := json.Marshal(result)
		if err != nil {
			log.WithError(err).Warn("Failed to serialize job result")
		} else {
			raw = encoded
		}
	}

	if err := q.store.CompleteJob(ctx, job.ID, raw, time.Now()); err != nil {
		log.WithError(err).Error("Failed to mark job completed")
		return
	}

	metrics.IncrementCounter("queue_jobs_completed_total",
		map[string]string{"type": job.Type}, "Jobs completed successfully")
	log.Info("Job completed")
}

func (q *Queue) handleFailure(ctx context.Context, job *models.Job, handler Handler, jobErr error, log *logrus.Entry) {
	attempts := job.Attempts + 1

	if apperrors.Is(jobErr, apperrors.ErrCodeInvalidPayload) {
		log.WithError(jobErr).Error("Job payload is invalid, not retrying")
		q.failJob(ctx, job, attempts, jobErr.Error())
		return
	}

	effectiveMax := job.MaxAttempts
	if handler.MaxAttempts > 0 {
		effectiveMax = handler.MaxAttempts
	}

	if attempts < effectiveMax {
		delay := handler.RetryDelay
		if delay <= 0 {
			delay = retry.JobRetryDelay(attempts, q.opts.RetryBaseDelay, q.opts.RetryMaxDelay, q.opts.RetryJitter)
		}
		scheduledAt := time.Now().Add(delay)

		if err := q.store.RescheduleJob(ctx, job.ID, attempts, jobErr.Error(), scheduledAt); err != nil {
			log.WithError(err).Error("Failed to reschedule job")
			return
		}

		metrics.IncrementCounter("queue_jobs_retried_total",
			map[string]string{"type": job.Type}, "Job retries scheduled")
		log.WithFields(logrus.Fields{
			"retry_in": delay,
			"attempts": attempts,
		}).Warn("Job failed, retry scheduled")
		return
	}

	log.WithError(jobErr).WithField("attempts", attempts).Error("Job failed permanently")
	q.failJob(ctx, job, attempts, jobErr.Error())
}

func (q *Queue) failJob(ctx context.Context, job *models.Job, attempts int, errorMessage string) {
	if err := q.store.FailJob(ctx, job.ID, attempts, errorMessage, time.Now()); err != nil {
		q.logger.WithError(err).WithField("job_id", job.ID).Error("Failed to mark job failed")
		return
	}
	metrics.IncrementCounter("queue_jobs_failed_total",
		map[string]string{"type": job.Type}, "Jobs failed permanently")
}

// GetStats returns per-status job counts.
func (q *Queue) GetStats(ctx context.Context) (models.JobStats, error) {
	stats, err := q.store.CountJobsByStatus(ctx)
	if err != nil {
		return models.JobStats{}, apperrors.NewStoreError("count jobs", err)
	}
	return stats, nil
}

// Cleanup deletes completed jobs older than the cutoff. Not part of the
// dispatch hot path.
func (q *Queue) Cleanup(ctx context.Context, olderThanDays int) (int64, error) {
	if olderThanDays <= 0 {
		olderThanDays = constants.DefaultJobRetentionDays
	}
	cutoff := time.Now().AddDate(0, 0, -olderThanDays)

	count, err := q.store.DeleteCompletedJobsBefore(ctx, cutoff)
	if err != nil {
		return 0, apperrors.NewStoreError("cleanup jobs", err)
	}

	q.logger.WithFields(logrus.Fields{
		"deleted": count,
		"cutoff":  cutoff,
	}).Info("Cleaned up completed jobs")
	return count, nil
}

// RetryFailedJobs resets failed jobs (optionally filtered by type) to
// pending with a fresh attempt budget. This is the only path by which a
// failed job re-enters the queue.
func (q *Queue) RetryFailedJobs(ctx context.Context, jobType string) (int64, error) {
	count, err := q.store.ResetFailedJobs(ctx, jobType, time.Now())
	if err != nil {
		return 0, apperrors.NewStoreError("retry failed jobs", err)
	}

	q.logger.WithFields(logrus.Fields{
		"count":    count,
		"job_type": jobType,
	}).Info("Reset failed jobs to pending")
	return count, nil
}
