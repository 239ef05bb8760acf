package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "hookrelay/internal/errors"
	"hookrelay/internal/models"
)

// memoryStore is an in-memory Store used to exercise the queue state
// machine without a database.
type memoryStore struct {
	mu   sync.Mutex
	jobs map[string]*models.Job
}

func newMemoryStore() *memoryStore {
	return &memoryStore{jobs: make(map[string]*models.Job)}
}

func (s *memoryStore) CreateJob(ctx context.Context, job *models.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *job
	s.jobs[job.ID] = &copied
	return nil
}

func (s *memoryStore) GetJob(ctx context.Context, id string) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, nil
	}
	copied := *job
	return &copied, nil
}

func (s *memoryStore) FindDueJobs(ctx context.Context, limit int, now time.Time) ([]models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []models.Job
	for _, job := range s.jobs {
		if job.Status == models.JobStatusPending && !job.ScheduledAt.After(now) {
			due = append(due, *job)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].Priority.Weight() != due[j].Priority.Weight() {
			return due[i].Priority.Weight() > due[j].Priority.Weight()
		}
		return due[i].ScheduledAt.Before(due[j].ScheduledAt)
	})
	if len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (s *memoryStore) MarkJobProcessing(ctx context.Context, id string, startedAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok || job.Status != models.JobStatusPending {
		return false, nil
	}
	job.Status = models.JobStatusProcessing
	job.StartedAt = &startedAt
	return true, nil
}

func (s *memoryStore) CompleteJob(ctx context.Context, id string, result json.RawMessage, completedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job := s.jobs[id]
	job.Status = models.JobStatusCompleted
	job.Result = result
	job.CompletedAt = &completedAt
	return nil
}

func (s *memoryStore) RescheduleJob(ctx context.Context, id string, attempts int, errorMessage string, scheduledAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job := s.jobs[id]
	job.Status = models.JobStatusPending
	job.Attempts = attempts
	job.ErrorMessage = errorMessage
	job.ScheduledAt = scheduledAt
	job.StartedAt = nil
	return nil
}

func (s *memoryStore) FailJob(ctx context.Context, id string, attempts int, errorMessage string, completedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job := s.jobs[id]
	job.Status = models.JobStatusFailed
	job.Attempts = attempts
	job.ErrorMessage = errorMessage
	job.CompletedAt = &completedAt
	return nil
}

func (s *memoryStore) CountJobsByStatus(ctx context.Context) (models.JobStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var stats models.JobStats
	for _, job := range s.jobs {
		switch job.Status {
		case models.JobStatusPending:
			stats.Pending++
		case models.JobStatusProcessing:
			stats.Processing++
		case models.JobStatusCompleted:
			stats.Completed++
		case models.JobStatusFailed:
			stats.Failed++
		}
		stats.Total++
	}
	return stats, nil
}

func (s *memoryStore) DeleteCompletedJobsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var count int64
	for id, job := range s.jobs {
		if job.Status == models.JobStatusCompleted && job.CompletedAt != nil && job.CompletedAt.Before(cutoff) {
			delete(s.jobs, id)
			count++
		}
	}
	return count, nil
}

func (s *memoryStore) ResetFailedJobs(ctx context.Context, jobType string, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var count int64
	for _, job := range s.jobs {
		if job.Status != models.JobStatusFailed {
			continue
		}
		if jobType != "" && job.Type != jobType {
			continue
		}
		job.Status = models.JobStatusPending
		job.Attempts = 0
		job.ErrorMessage = ""
		job.ScheduledAt = now
		job.CompletedAt = nil
		count++
	}
	return count, nil
}

// rescheduleToNow makes a rescheduled job immediately due again so tests
// can drive successive attempts without waiting out the backoff.
func (s *memoryStore) rescheduleToNow(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[id].ScheduledAt = time.Now().Add(-time.Second)
}

func testQueue(t *testing.T, store Store, opts Options) *Queue {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return New(store, logger, opts)
}

func TestAddJobUnknownType(t *testing.T) {
	q := testQueue(t, newMemoryStore(), Options{})

	_, err := q.AddJob(context.Background(), "nonexistent", nil, AddOptions{})
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeUnknownJobType))
}

func TestAddJobDefaults(t *testing.T) {
	store := newMemoryStore()
	q := testQueue(t, store, Options{})
	q.RegisterHandler(Handler{Type: "noop", Handle: func(ctx context.Context, job *models.Job) (interface{}, error) {
		return nil, nil
	}})

	id, err := q.AddJob(context.Background(), "noop", map[string]string{"k": "v"}, AddOptions{})
	require.NoError(t, err)

	job, err := store.GetJob(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, models.JobStatusPending, job.Status)
	assert.Equal(t, models.JobPriorityMedium, job.Priority)
	assert.Equal(t, 3, job.MaxAttempts)
	assert.Equal(t, 0, job.Attempts)
	assert.WithinDuration(t, time.Now(), job.ScheduledAt, time.Second)
}

func TestAddJobInvalidPriority(t *testing.T) {
	q := testQueue(t, newMemoryStore(), Options{})
	q.RegisterHandler(Handler{Type: "noop", Handle: func(ctx context.Context, job *models.Job) (interface{}, error) {
		return nil, nil
	}})

	_, err := q.AddJob(context.Background(), "noop", nil, AddOptions{Priority: "urgent"})
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeInvalidInput))
}

func TestProcessBatchCompletesJob(t *testing.T) {
	store := newMemoryStore()
	q := testQueue(t, store, Options{})
	q.RegisterHandler(Handler{Type: "work", Handle: func(ctx context.Context, job *models.Job) (interface{}, error) {
		return map[string]string{"done": "yes"}, nil
	}})

	id, err := q.AddJob(context.Background(), "work", map[string]string{"input": "x"}, AddOptions{})
	require.NoError(t, err)

	q.processBatch(context.Background())

	job, err := store.GetJob(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, job.Status)
	assert.JSONEq(t, `{"done":"yes"}`, string(job.Result))
	require.NotNil(t, job.CompletedAt)
}

func TestJobSucceedsOnSecondAttempt(t *testing.T) {
	store := newMemoryStore()
	q := testQueue(t, store, Options{})

	calls := 0
	q.RegisterHandler(Handler{Type: "flaky", Handle: func(ctx context.Context, job *models.Job) (interface{}, error) {
		calls++
		if calls == 1 {
			return nil, errors.New("transient failure")
		}
		return nil, nil
	}})

	id, err := q.AddJob(context.Background(), "flaky", nil, AddOptions{MaxAttempts: 3})
	require.NoError(t, err)

	q.processBatch(context.Background())

	job, _ := store.GetJob(context.Background(), id)
	assert.Equal(t, models.JobStatusPending, job.Status)
	assert.Equal(t, 1, job.Attempts)
	assert.Equal(t, "transient failure", job.ErrorMessage)
	assert.True(t, job.ScheduledAt.After(time.Now()), "retry must be scheduled in the future")

	store.rescheduleToNow(id)
	q.processBatch(context.Background())

	job, _ = store.GetJob(context.Background(), id)
	assert.Equal(t, models.JobStatusCompleted, job.Status)
	assert.Equal(t, 2, calls)
}

func TestJobFailsAfterMaxAttempts(t *testing.T) {
	store := newMemoryStore()
	q := testQueue(t, store, Options{})

	calls := 0
	q.RegisterHandler(Handler{Type: "doomed", Handle: func(ctx context.Context, job *models.Job) (interface{}, error) {
		calls++
		return nil, fmt.Errorf("failure %d", calls)
	}})

	id, err := q.AddJob(context.Background(), "doomed", nil, AddOptions{MaxAttempts: 3})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		store.rescheduleToNow(id)
		q.processBatch(context.Background())
	}

	job, _ := store.GetJob(context.Background(), id)
	assert.Equal(t, models.JobStatusFailed, job.Status)
	assert.Equal(t, 3, job.Attempts)
	assert.Equal(t, "failure 3", job.ErrorMessage)
	assert.Equal(t, 3, calls)

	// A failed job is terminal; further batches must not touch it.
	q.processBatch(context.Background())
	assert.Equal(t, 3, calls)
}

func TestHandlerMaxAttemptsOverridesJob(t *testing.T) {
	store := newMemoryStore()
	q := testQueue(t, store, Options{})
	q.RegisterHandler(Handler{
		Type:        "oneshot",
		MaxAttempts: 1,
		Handle: func(ctx context.Context, job *models.Job) (interface{}, error) {
			return nil, errors.New("boom")
		},
	})

	id, err := q.AddJob(context.Background(), "oneshot", nil, AddOptions{MaxAttempts: 5})
	require.NoError(t, err)

	q.processBatch(context.Background())

	job, _ := store.GetJob(context.Background(), id)
	assert.Equal(t, models.JobStatusFailed, job.Status)
	assert.Equal(t, 1, job.Attempts)
}

func TestHandlerRetryDelayIsUsed(t *testing.T) {
	store := newMemoryStore()
	q := testQueue(t, store, Options{})
	q.RegisterHandler(Handler{
		Type:       "delayed",
		RetryDelay: time.Hour,
		Handle: func(ctx context.Context, job *models.Job) (interface{}, error) {
			return nil, errors.New("boom")
		},
	})

	id, err := q.AddJob(context.Background(), "delayed", nil, AddOptions{MaxAttempts: 2})
	require.NoError(t, err)

	before := time.Now()
	q.processBatch(context.Background())

	job, _ := store.GetJob(context.Background(), id)
	assert.Equal(t, models.JobStatusPending, job.Status)
	assert.True(t, job.ScheduledAt.After(before.Add(59*time.Minute)),
		"fixed retry delay should be honored, got %v", job.ScheduledAt.Sub(before))
}

func TestInvalidPayloadErrorIsTerminal(t *testing.T) {
	store := newMemoryStore()
	q := testQueue(t, store, Options{})
	q.RegisterHandler(Handler{Type: "strict", Handle: func(ctx context.Context, job *models.Job) (interface{}, error) {
		return nil, apperrors.NewInvalidPayloadError(job.ID, errors.New("missing field"))
	}})

	id, err := q.AddJob(context.Background(), "strict", map[string]string{}, AddOptions{MaxAttempts: 5})
	require.NoError(t, err)

	q.processBatch(context.Background())

	job, _ := store.GetJob(context.Background(), id)
	assert.Equal(t, models.JobStatusFailed, job.Status)
	assert.Equal(t, 1, job.Attempts)
}

func TestMalformedStoredPayloadFailsWithoutHandlerCall(t *testing.T) {
	store := newMemoryStore()
	q := testQueue(t, store, Options{})

	called := false
	q.RegisterHandler(Handler{Type: "work", Handle: func(ctx context.Context, job *models.Job) (interface{}, error) {
		called = true
		return nil, nil
	}})

	now := time.Now()
	require.NoError(t, store.CreateJob(context.Background(), &models.Job{
		ID:          "corrupt",
		Type:        "work",
		Payload:     json.RawMessage(`{not json`),
		Status:      models.JobStatusPending,
		Priority:    models.JobPriorityMedium,
		MaxAttempts: 3,
		ScheduledAt: now.Add(-time.Second),
		CreatedAt:   now,
		UpdatedAt:   now,
	}))

	q.processBatch(context.Background())

	job, _ := store.GetJob(context.Background(), "corrupt")
	assert.Equal(t, models.JobStatusFailed, job.Status)
	assert.Equal(t, "invalid payload format", job.ErrorMessage)
	assert.False(t, called)
}

func TestNoHandlerForPersistedJobFails(t *testing.T) {
	store := newMemoryStore()
	q := testQueue(t, store, Options{})

	now := time.Now()
	require.NoError(t, store.CreateJob(context.Background(), &models.Job{
		ID:          "orphan",
		Type:        "retired-type",
		Status:      models.JobStatusPending,
		Priority:    models.JobPriorityMedium,
		MaxAttempts: 3,
		ScheduledAt: now.Add(-time.Second),
		CreatedAt:   now,
		UpdatedAt:   now,
	}))

	q.processBatch(context.Background())

	job, _ := store.GetJob(context.Background(), "orphan")
	assert.Equal(t, models.JobStatusFailed, job.Status)
	assert.Equal(t, "no handler found", job.ErrorMessage)
}

func TestHandlerPanicIsRecovered(t *testing.T) {
	store := newMemoryStore()
	q := testQueue(t, store, Options{})
	q.RegisterHandler(Handler{Type: "panicky", Handle: func(ctx context.Context, job *models.Job) (interface{}, error) {
		panic("unexpected state")
	}})

	id, err := q.AddJob(context.Background(), "panicky", nil, AddOptions{MaxAttempts: 2})
	require.NoError(t, err)

	q.processBatch(context.Background())

	job, _ := store.GetJob(context.Background(), id)
	assert.Equal(t, models.JobStatusPending, job.Status)
	assert.Contains(t, job.ErrorMessage, "handler panic")
}

func TestPriorityOrderWithinBatch(t *testing.T) {
	store := newMemoryStore()
	q := testQueue(t, store, Options{Concurrency: 1})

	var processed []string
	var mu sync.Mutex
	q.RegisterHandler(Handler{Type: "ordered", Handle: func(ctx context.Context, job *models.Job) (interface{}, error) {
		mu.Lock()
		processed = append(processed, string(job.Priority))
		mu.Unlock()
		return nil, nil
	}})

	base := time.Now().Add(-time.Minute)
	_, err := q.AddJob(context.Background(), "ordered", nil, AddOptions{Priority: models.JobPriorityLow, ScheduledAt: base})
	require.NoError(t, err)
	_, err = q.AddJob(context.Background(), "ordered", nil, AddOptions{Priority: models.JobPriorityCritical, ScheduledAt: base.Add(time.Second)})
	require.NoError(t, err)

	// Concurrency 1 yields one job per batch; the critical job must win
	// the first slot despite being scheduled later.
	q.processBatch(context.Background())
	q.processBatch(context.Background())

	require.Len(t, processed, 2)
	assert.Equal(t, []string{"critical", "low"}, processed)
}

func TestStartStopLifecycle(t *testing.T) {
	store := newMemoryStore()
	q := testQueue(t, store, Options{PollInterval: 10 * time.Millisecond})

	done := make(chan struct{})
	q.RegisterHandler(Handler{Type: "tick", Handle: func(ctx context.Context, job *models.Job) (interface{}, error) {
		select {
		case <-done:
		default:
			close(done)
		}
		return nil, nil
	}})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	started := make(chan struct{})
	go func() {
		close(started)
		q.Start(ctx)
	}()
	<-started

	_, err := q.AddJob(ctx, "tick", nil, AddOptions{})
	require.NoError(t, err)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("job was not dispatched by the poll loop")
	}

	q.Stop()

	stats, err := q.GetStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Completed)
}

func TestRetryFailedJobsResetsState(t *testing.T) {
	store := newMemoryStore()
	q := testQueue(t, store, Options{})

	fail := true
	q.RegisterHandler(Handler{Type: "recoverable", MaxAttempts: 1, Handle: func(ctx context.Context, job *models.Job) (interface{}, error) {
		if fail {
			return nil, errors.New("down for maintenance")
		}
		return nil, nil
	}})

	id, err := q.AddJob(context.Background(), "recoverable", nil, AddOptions{})
	require.NoError(t, err)
	q.processBatch(context.Background())

	job, _ := store.GetJob(context.Background(), id)
	require.Equal(t, models.JobStatusFailed, job.Status)

	count, err := q.RetryFailedJobs(context.Background(), "recoverable")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	job, _ = store.GetJob(context.Background(), id)
	assert.Equal(t, models.JobStatusPending, job.Status)
	assert.Equal(t, 0, job.Attempts)

	fail = false
	q.processBatch(context.Background())
	job, _ = store.GetJob(context.Background(), id)
	assert.Equal(t, models.JobStatusCompleted, job.Status)
}

func TestCleanupRemovesOldCompletedJobs(t *testing.T) {
	store := newMemoryStore()
	q := testQueue(t, store, Options{})

	old := time.Now().AddDate(0, 0, -60)
	require.NoError(t, store.CreateJob(context.Background(), &models.Job{
		ID:          "stale",
		Type:        "work",
		Status:      models.JobStatusCompleted,
		CompletedAt: &old,
	}))
	recent := time.Now()
	require.NoError(t, store.CreateJob(context.Background(), &models.Job{
		ID:          "fresh",
		Type:        "work",
		Status:      models.JobStatusCompleted,
		CompletedAt: &recent,
	}))

	count, err := q.Cleanup(context.Background(), 30)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	job, _ := store.GetJob(context.Background(), "fresh")
	assert.NotNil(t, job)
}
