// Package redisstore is a Redis-backed job store implementing the same
// contract as the sqlite layer. Jobs live as JSON values keyed by id;
// per-priority sorted sets scored by the due time drive scheduling, so
// higher priorities are always drained first and ties fall back to the
// earliest due time.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"hookrelay/internal/models"
)

const (
	jobKeyPrefix  = "hookrelay:job:"
	pendingPrefix = "hookrelay:jobs:pending:"
	processingKey = "hookrelay:jobs:processing"
	completedKey  = "hookrelay:jobs:completed"
	failedKey     = "hookrelay:jobs:failed"
)

// prioritiesByWeight lists the pending sets in drain order.
var prioritiesByWeight = []models.JobPriority{
	models.JobPriorityCritical,
	models.JobPriorityHigh,
	models.JobPriorityMedium,
	models.JobPriorityLow,
}

type Store struct {
	client *redis.Client
}

func New(client *redis.Client) *Store {
	return &Store{client: client}
}

// Ping verifies connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func jobKey(id string) string {
	return jobKeyPrefix + id
}

func pendingKey(priority models.JobPriority) string {
	return pendingPrefix + string(priority)
}

func (s *Store) saveJob(ctx context.Context, job *models.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to encode job: %w", err)
	}
	return s.client.Set(ctx, jobKey(job.ID), data, 0).Err()
}

func (s *Store) loadJob(ctx context.Context, id string) (*models.Job, error) {
	data, err := s.client.Get(ctx, jobKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var job models.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("failed to decode job %s: %w", id, err)
	}
	return &job, nil
}

func (s *Store) CreateJob(ctx context.Context, job *models.Job) error {
	if err := s.saveJob(ctx, job); err != nil {
		return err
	}
	return s.client.ZAdd(ctx, pendingKey(job.Priority), redis.Z{
		Score:  float64(job.ScheduledAt.UnixMilli()),
		Member: job.ID,
	}).Err()
}

func (s *Store) GetJob(ctx context.Context, id string) (*models.Job, error) {
	return s.loadJob(ctx, id)
}

// FindDueJobs drains the priority sets in weight order, so a due
// critical job always precedes a due low one regardless of age.
func (s *Store) FindDueJobs(ctx context.Context, limit int, now time.Time) ([]models.Job, error) {
	jobs := make([]models.Job, 0, limit)
	max := fmt.Sprintf("%d", now.UnixMilli())

	for _, priority := range prioritiesByWeight {
		if len(jobs) >= limit {
			break
		}
		ids, err := s.client.ZRangeByScore(ctx, pendingKey(priority), &redis.ZRangeBy{
			Min:   "-inf",
			Max:   max,
			Count: int64(limit - len(jobs)),
		}).Result()
		if err != nil {
			return nil, err
		}
		for _, id := range ids {
			job, err := s.loadJob(ctx, id)
			if err != nil {
				return nil, err
			}
			if job == nil {
				// Orphaned schedule entry; the job value expired or was
				// deleted out of band.
				s.client.ZRem(ctx, pendingKey(priority), id)
				continue
			}
			jobs = append(jobs, *job)
		}
	}
	return jobs, nil
}

// MarkJobProcessing claims the job by atomically removing it from its
// pending set. A zero removal count means another worker won the claim.
func (s *Store) MarkJobProcessing(ctx context.Context, id string, startedAt time.Time) (bool, error) {
	job, err := s.loadJob(ctx, id)
	if err != nil {
		return false, err
	}
	if job == nil || job.Status != models.JobStatusPending {
		return false, nil
	}

	removed, err := s.client.ZRem(ctx, pendingKey(job.Priority), id).Result()
	if err != nil {
		return false, err
	}
	if removed == 0 {
		return false, nil
	}

	job.Status = models.JobStatusProcessing
	job.StartedAt = &startedAt
	job.UpdatedAt = startedAt
	if err := s.saveJob(ctx, job); err != nil {
		return false, err
	}
	return true, s.client.SAdd(ctx, processingKey, id).Err()
}

func (s *Store) CompleteJob(ctx context.Context, id string, result json.RawMessage, completedAt time.Time) error {
	job, err := s.loadJob(ctx, id)
	if err != nil {
		return err
	}
	if job == nil {
		return fmt.Errorf("job %s not found", id)
	}

	job.Status = models.JobStatusCompleted
	job.Result = result
	job.CompletedAt = &completedAt
	job.UpdatedAt = completedAt
	if err := s.saveJob(ctx, job); err != nil {
		return err
	}

	pipe := s.client.TxPipeline()
	pipe.SRem(ctx, processingKey, id)
	pipe.ZAdd(ctx, completedKey, redis.Z{Score: float64(completedAt.UnixMilli()), Member: id})
	_, err = pipe.Exec(ctx)
	return err
}

func (s *Store) RescheduleJob(ctx context.Context, id string, attempts int, errorMessage string, scheduledAt time.Time) error {
	job, err := s.loadJob(ctx, id)
	if err != nil {
		return err
	}
	if job == nil {
		return fmt.Errorf("job %s not found", id)
	}

	job.Status = models.JobStatusPending
	job.Attempts = attempts
	job.ErrorMessage = errorMessage
	job.ScheduledAt = scheduledAt
	job.StartedAt = nil
	job.UpdatedAt = time.Now()
	if err := s.saveJob(ctx, job); err != nil {
		return err
	}

	pipe := s.client.TxPipeline()
	pipe.SRem(ctx, processingKey, id)
	pipe.ZAdd(ctx, pendingKey(job.Priority), redis.Z{Score: float64(scheduledAt.UnixMilli()), Member: id})
	_, err = pipe.Exec(ctx)
	return err
}

func (s *Store) FailJob(ctx context.Context, id string, attempts int, errorMessage string, completedAt time.Time) error {
	job, err := s.loadJob(ctx, id)
	if err != nil {
		return err
	}
	if job == nil {
		return fmt.Errorf("job %s not found", id)
	}

	job.Status = models.JobStatusFailed
	job.Attempts = attempts
	job.ErrorMessage = errorMessage
	job.CompletedAt = &completedAt
	job.UpdatedAt = completedAt
	if err := s.saveJob(ctx, job); err != nil {
		return err
	}

	pipe := s.client.TxPipeline()
	pipe.SRem(ctx, processingKey, id)
	pipe.ZRem(ctx, pendingKey(job.Priority), id)
	pipe.SAdd(ctx, failedKey, id)
	_, err = pipe.Exec(ctx)
	return err
}

func (s *Store) CountJobsByStatus(ctx context.Context) (models.JobStats, error) {
	var stats models.JobStats

	for _, priority := range prioritiesByWeight {
		n, err := s.client.ZCard(ctx, pendingKey(priority)).Result()
		if err != nil {
			return stats, err
		}
		stats.Pending += int(n)
	}

	processing, err := s.client.SCard(ctx, processingKey).Result()
	if err != nil {
		return stats, err
	}
	completed, err := s.client.ZCard(ctx, completedKey).Result()
	if err != nil {
		return stats, err
	}
	failed, err := s.client.SCard(ctx, failedKey).Result()
	if err != nil {
		return stats, err
	}

	stats.Processing = int(processing)
	stats.Completed = int(completed)
	stats.Failed = int(failed)
	stats.Total = stats.Pending + stats.Processing + stats.Completed + stats.Failed
	return stats, nil
}

func (s *Store) DeleteCompletedJobsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	max := fmt.Sprintf("%d", cutoff.UnixMilli())
	ids, err := s.client.ZRangeByScore(ctx, completedKey, &redis.ZRangeBy{Min: "-inf", Max: max}).Result()
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = jobKey(id)
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, keys...)
	pipe.ZRemRangeByScore(ctx, completedKey, "-inf", max)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return int64(len(ids)), nil
}

// ResetFailedJobs moves failed jobs (optionally filtered by type) back
// to pending with a cleared attempt count.
func (s *Store) ResetFailedJobs(ctx context.Context, jobType string, now time.Time) (int64, error) {
	ids, err := s.client.SMembers(ctx, failedKey).Result()
	if err != nil {
		return 0, err
	}

	var count int64
	for _, id := range ids {
		job, err := s.loadJob(ctx, id)
		if err != nil {
			return count, err
		}
		if job == nil {
			s.client.SRem(ctx, failedKey, id)
			continue
		}
		if jobType != "" && job.Type != jobType {
			continue
		}

		job.Status = models.JobStatusPending
		job.Attempts = 0
		job.ErrorMessage = ""
		job.ScheduledAt = now
		job.StartedAt = nil
		job.CompletedAt = nil
		job.UpdatedAt = now
		if err := s.saveJob(ctx, job); err != nil {
			return count, err
		}

		pipe := s.client.TxPipeline()
		pipe.SRem(ctx, failedKey, id)
		pipe.ZAdd(ctx, pendingKey(job.Priority), redis.Z{Score: float64(now.UnixMilli()), Member: id})
		if _, err := pipe.Exec(ctx); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}
