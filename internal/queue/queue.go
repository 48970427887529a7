package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"pnldash/internal/models"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const (
	jobsKey       = "pnl:jobs"
	statusPrefix  = "pnl:job:"
	payloadPrefix = "pnl:jobdata:"
	statusTTL     = 24 * time.Hour
	minBlockDelay = time.Second
)

var (
	ErrEmpty      = errors.New("queue empty")
	ErrUnknownJob = errors.New("unknown job")
)

// Queue is a Redis list of JobPayload commands plus a status key per job.
type Queue struct {
	client *redis.Client
	log    *logrus.Logger
}

func NewRedisClient(addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

func New(client *redis.Client, log *logrus.Logger) *Queue {
	return &Queue{client: client, log: log}
}

// Enqueue assigns the job an id and marks it queued.
func (q *Queue) Enqueue(ctx context.Context, job models.JobPayload) (models.JobPayload, error) {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now().UTC()
	}
	b, err := json.Marshal(job)
	if err != nil {
		return job, err
	}
	pipe := q.client.TxPipeline()
	pipe.Set(ctx, statusPrefix+job.ID, string(models.JobQueued), statusTTL)
	pipe.Set(ctx, payloadPrefix+job.ID, b, statusTTL)
	pipe.LPush(ctx, jobsKey, b)
	if _, err := pipe.Exec(ctx); err != nil {
		return job, fmt.Errorf("enqueue %s: %w", job.ID, err)
	}
	return job, nil
}

// Dequeue blocks up to timeout for the oldest job.
func (q *Queue) Dequeue(ctx context.Context, timeout time.Duration) (models.JobPayload, error) {
	if timeout < minBlockDelay {
		timeout = minBlockDelay
	}
	var job models.JobPayload
	res, err := q.client.BRPop(ctx, timeout, jobsKey).Result()
	if errors.Is(err, redis.Nil) {
		return job, ErrEmpty
	}
	if err != nil {
		return job, err
	}
	// res is [key, value]
	if err := json.Unmarshal([]byte(res[1]), &job); err != nil {
		q.log.Warnf("dropping malformed job payload: %v", err)
		return job, fmt.Errorf("decode job: %w", err)
	}
	return job, nil
}

func (q *Queue) SetStatus(ctx context.Context, id string, status models.JobStatus) error {
	return q.client.Set(ctx, statusPrefix+id, string(status), statusTTL).Err()
}

func (q *Queue) Status(ctx context.Context, id string) (models.JobStatus, error) {
	v, err := q.client.Get(ctx, statusPrefix+id).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrUnknownJob
	}
	if err != nil {
		return "", err
	}
	return models.JobStatus(v), nil
}

// Job returns the payload a job was enqueued with, kept as long as its status.
func (q *Queue) Job(ctx context.Context, id string) (models.JobPayload, error) {
	var job models.JobPayload
	v, err := q.client.Get(ctx, payloadPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return job, ErrUnknownJob
	}
	if err != nil {
		return job, err
	}
	if err := json.Unmarshal(v, &job); err != nil {
		return job, fmt.Errorf("decode job %s: %w", id, err)
	}
	return job, nil
}

func (q *Queue) Len(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, jobsKey).Result()
}
