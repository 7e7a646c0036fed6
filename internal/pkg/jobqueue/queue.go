package jobqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/technovacao/registration/internal/pkg/cache"
	"github.com/technovacao/registration/internal/pkg/payments"
)

const (
	// Redis keys
	JobKeyPrefix     = "reconcile:job:"
	ReadyQueueKey    = "reconcile:ready"
	DelayedQueueKey  = "reconcile:delayed"
	JobProcessingKey = "reconcile:processing"
	JobStatsKey      = "reconcile:stats"

	DefaultMaxRetries = 3
	JobTTL            = 24 * time.Hour

	defaultJobTimeout = 15 * time.Second
	schedulerInterval = 250 * time.Millisecond
	stuckJobMaxAge    = 10 * time.Minute
	promoteBatch      = 100
)

// Queue runs reconciliation jobs from Redis. Delayed jobs (settle delay and
// retry backoff) wait in a sorted set scored by their due time, so they
// survive a restart.
type Queue struct {
	client  *redis.Client
	runner  payments.Runner
	timeout time.Duration
	workers int
	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

// NewQueue creates a new job queue. A nil client falls back to the shared cache client.
func NewQueue(client *redis.Client, runner payments.Runner, workers int, timeout time.Duration) *Queue {
	if workers <= 0 {
		workers = 3
	}
	if timeout <= 0 {
		timeout = defaultJobTimeout
	}
	if client == nil {
		client = cache.GetClient()
	}

	return &Queue{
		client:  client,
		runner:  runner,
		timeout: timeout,
		workers: workers,
		stopCh:  make(chan struct{}),
	}
}

// Start launches the workers and the scheduler that promotes due jobs and
// recovers jobs left in processing by a crashed worker.
func (q *Queue) Start() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.running {
		return
	}
	q.running = true
	log.Infof("[JobQueue] Starting %d workers", q.workers)

	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker(i)
	}

	q.wg.Add(1)
	go q.scheduler()
}

// Stop signals all goroutines and waits for in-flight jobs.
func (q *Queue) Stop() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.running {
		return
	}

	log.Info("[JobQueue] Stopping workers...")
	close(q.stopCh)
	q.running = false
	q.wg.Wait()
	log.Info("[JobQueue] All workers stopped")
}

func (q *Queue) scheduler() {
	defer q.wg.Done()
	ticker := time.NewTicker(schedulerInterval)
	defer ticker.Stop()

	lastRecovery := time.Now()
	ctx := context.Background()
	for {
		select {
		case <-q.stopCh:
			return
		case now := <-ticker.C:
			if _, err := q.promoteDue(ctx, now); err != nil {
				log.Errorf("[JobQueue] Promote delayed jobs: %v", err)
			}
			if now.Sub(lastRecovery) >= time.Minute {
				lastRecovery = now
				if n := q.recoverStuck(ctx, now, stuckJobMaxAge); n > 0 {
					log.Warnf("[JobQueue] Recovered %d stuck jobs", n)
				}
			}
		}
	}
}

// promoteDue moves delayed jobs whose due time is not after now to the
// ready list. ZRem decides ownership, so concurrent schedulers never push a
// job twice.
func (q *Queue) promoteDue(ctx context.Context, now time.Time) (int, error) {
	ids, err := q.client.ZRangeByScore(ctx, DelayedQueueKey, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now.UnixMilli(), 10),
		Count: promoteBatch,
	}).Result()
	if err != nil {
		return 0, err
	}

	promoted := 0
	for _, id := range ids {
		removed, err := q.client.ZRem(ctx, DelayedQueueKey, id).Result()
		if err != nil {
			return promoted, err
		}
		if removed == 0 {
			continue
		}
		if err := q.client.LPush(ctx, ReadyQueueKey, id).Err(); err != nil {
			return promoted, err
		}
		promoted++
	}
	return promoted, nil
}

// recoverStuck requeues jobs that have been processing for longer than maxAge.
func (q *Queue) recoverStuck(ctx context.Context, now time.Time, maxAge time.Duration) int {
	ids, err := q.client.LRange(ctx, JobProcessingKey, 0, -1).Result()
	if err != nil {
		log.Errorf("[JobQueue] Recovery LRange error: %v", err)
		return 0
	}

	recovered := 0
	for _, id := range ids {
		job, err := q.GetJob(ctx, id)
		if err != nil || job.Status != JobStatusProcessing {
			// orphaned or stale entry
			_ = q.client.LRem(ctx, JobProcessingKey, 1, id).Err()
			continue
		}
		if now.Sub(job.startedAt()) <= maxAge {
			continue
		}

		log.Warnf("[JobQueue] Recovering stuck job %s (type=%s)", job.ID, job.Type)
		job.Status = JobStatusPending
		job.ErrorMsg = "recovered after worker timeout"
		job.UpdatedAt = now
		q.updateJob(ctx, job)
		_ = q.client.LRem(ctx, JobProcessingKey, 1, id).Err()
		_ = q.client.RPush(ctx, ReadyQueueKey, id).Err()
		recovered++
	}
	return recovered
}

func (q *Queue) worker(id int) {
	defer q.wg.Done()
	log.Infof("[JobQueue] Worker %d started", id)

	ctx := context.Background()
	for {
		select {
		case <-q.stopCh:
			log.Infof("[JobQueue] Worker %d stopping", id)
			return
		default:
		}

		job, err := q.dequeueJob(ctx)
		if err != nil {
			if !errors.Is(err, redis.Nil) {
				log.Errorf("[JobQueue] Worker %d: dequeue: %v", id, err)
				time.Sleep(time.Second)
			}
			continue
		}
		log.Infof("[JobQueue] Worker %d processing job %s (Type: %s)", id, job.ID, job.Type)
		q.processJob(ctx, job)
	}
}

// EnqueueJob adds a job that is ready right away.
func (q *Queue) EnqueueJob(jobType JobType, payload map[string]interface{}) (*Job, error) {
	return q.EnqueueJobAfter(context.Background(), jobType, payload, 0)
}

// EnqueueJobAfter stores the job and makes it visible to workers once delay
// has passed.
func (q *Queue) EnqueueJobAfter(ctx context.Context, jobType JobType, payload map[string]interface{}, delay time.Duration) (*Job, error) {
	now := time.Now()
	job := &Job{
		ID:         uuid.NewString(),
		Type:       jobType,
		Status:     JobStatusPending,
		Payload:    payload,
		CreatedAt:  now,
		UpdatedAt:  now,
		MaxRetries: DefaultMaxRetries,
	}

	jobData, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal job: %w", err)
	}

	pipe := q.client.TxPipeline()
	pipe.Set(ctx, JobKeyPrefix+job.ID, jobData, JobTTL)
	if delay > 0 {
		pipe.ZAdd(ctx, DelayedQueueKey, redis.Z{Score: float64(now.Add(delay).UnixMilli()), Member: job.ID})
	} else {
		pipe.LPush(ctx, ReadyQueueKey, job.ID)
	}
	pipe.HIncrBy(ctx, JobStatsKey, string(JobStatusPending), 1)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to enqueue job: %w", err)
	}

	log.Infof("[JobQueue] Enqueued job %s (Type: %s, delay %s)", job.ID, job.Type, delay)
	return job, nil
}

// dequeueJob moves the oldest ready job to the processing list.
func (q *Queue) dequeueJob(ctx context.Context) (*Job, error) {
	jobID, err := q.client.BLMove(ctx, ReadyQueueKey, JobProcessingKey, "RIGHT", "LEFT", time.Second).Result()
	if err != nil {
		return nil, err
	}

	job, err := q.GetJob(ctx, jobID)
	if err != nil {
		q.client.LRem(ctx, JobProcessingKey, 1, jobID)
		return nil, fmt.Errorf("load job %s: %w", jobID, err)
	}
	return job, nil
}

func (q *Queue) processJob(ctx context.Context, job *Job) {
	job.MarkAsProcessing()
	q.updateJob(ctx, job)

	var err error
	switch job.Type {
	case JobTypeReconcilePayment, JobTypeReconcileSale:
		err = q.processReconcileJob(ctx, job)
	default:
		err = fmt.Errorf("unknown job type: %s", job.Type)
	}

	defer q.removeFromProcessing(ctx, job.ID)

	if err == nil {
		log.Infof("[JobQueue] Job %s completed", job.ID)
		job.MarkAsCompleted()
		q.updateJobStats(ctx, JobStatusCompleted, 1)
		q.removeCompletedJob(ctx, job.ID)
		return
	}

	log.Errorf("[JobQueue] Job %s failed: %v", job.ID, err)
	job.MarkAsFailed(err.Error())
	if !job.IsRetryable() {
		log.Errorf("[JobQueue] Job %s permanently failed after %d attempts", job.ID, job.RetryCount)
		q.updateJob(ctx, job)
		q.updateJobStats(ctx, JobStatusFailed, 1)
		return
	}

	delay := RetryDelay(job.RetryCount)
	log.Infof("[JobQueue] Retrying job %s in %s (attempt %d/%d)", job.ID, delay, job.RetryCount, job.MaxRetries)
	job.MarkAsRetrying()
	q.updateJob(ctx, job)
	due := float64(time.Now().Add(delay).UnixMilli())
	if err := q.client.ZAdd(ctx, DelayedQueueKey, redis.Z{Score: due, Member: job.ID}).Err(); err != nil {
		log.Errorf("[JobQueue] Failed to schedule retry of job %s: %v", job.ID, err)
	}
}

func (q *Queue) updateJob(ctx context.Context, job *Job) {
	jobData, err := json.Marshal(job)
	if err != nil {
		log.Errorf("[JobQueue] Failed to marshal job %s: %v", job.ID, err)
		return
	}
	if err := q.client.Set(ctx, JobKeyPrefix+job.ID, jobData, JobTTL).Err(); err != nil {
		log.Errorf("[JobQueue] Failed to update job %s: %v", job.ID, err)
	}
}

func (q *Queue) removeFromProcessing(ctx context.Context, jobID string) {
	if err := q.client.LRem(ctx, JobProcessingKey, 1, jobID).Err(); err != nil {
		log.Errorf("[JobQueue] Failed to remove job %s from processing list: %v", jobID, err)
	}
}

func (q *Queue) removeCompletedJob(ctx context.Context, jobID string) {
	if err := q.client.Del(ctx, JobKeyPrefix+jobID).Err(); err != nil {
		log.Errorf("[JobQueue] Failed to remove completed job %s: %v", jobID, err)
	}
}

func (q *Queue) updateJobStats(ctx context.Context, status JobStatus, delta int64) {
	if err := q.client.HIncrBy(ctx, JobStatsKey, string(status), delta).Err(); err != nil {
		log.Errorf("[JobQueue] Failed to update job stats: %v", err)
	}
}

// GetJob retrieves a job by ID
func (q *Queue) GetJob(ctx context.Context, jobID string) (*Job, error) {
	jobData, err := q.client.Get(ctx, JobKeyPrefix+jobID).Result()
	if err != nil {
		return nil, err
	}

	var job Job
	if err := json.Unmarshal([]byte(jobData), &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job: %w", err)
	}
	return &job, nil
}

// GetJobStats returns how many jobs were enqueued, completed and permanently failed.
func (q *Queue) GetJobStats(ctx context.Context) (map[JobStatus]int64, error) {
	stats, err := q.client.HGetAll(ctx, JobStatsKey).Result()
	if err != nil {
		return nil, err
	}

	result := make(map[JobStatus]int64, len(stats))
	for status, count := range stats {
		if n, err := strconv.ParseInt(count, 10, 64); err == nil {
			result[JobStatus(status)] = n
		}
	}
	return result, nil
}

// GetQueueSize returns the number of jobs ready to run
func (q *Queue) GetQueueSize(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, ReadyQueueKey).Result()
}

// GetDelayedSize returns the number of jobs waiting for their due time
func (q *Queue) GetDelayedSize(ctx context.Context) (int64, error) {
	return q.client.ZCard(ctx, DelayedQueueKey).Result()
}

// GetProcessingSize returns the number of jobs being processed
func (q *Queue) GetProcessingSize(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, JobProcessingKey).Result()
}
