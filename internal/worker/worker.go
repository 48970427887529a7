package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"pnldash/internal/exchange"
	"pnldash/internal/models"
	"pnldash/internal/queue"
	"pnldash/internal/service"

	"github.com/cenkalti/backoff/v5"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

type JobSource interface {
	Dequeue(ctx context.Context, timeout time.Duration) (models.JobPayload, error)
	SetStatus(ctx context.Context, id string, status models.JobStatus) error
}

type Store interface {
	GetAPIKey(ctx context.Context, userID string) (models.APIKey, error)
	UpsertReport(ctx context.Context, userID string, rangeType models.RangeType, report models.PnLReport) error
}

type Calculator interface {
	Compute(ctx context.Context, client exchange.PriceHistoryClient, rng models.RangeSpec) models.PnLReport
}

// ClientFactory builds an exchange client from a user's stored credentials.
type ClientFactory func(apiKey, secretKey string) exchange.PriceHistoryClient

type Worker struct {
	jobs        JobSource
	store       Store
	clients     ClientFactory
	calc        Calculator
	concurrency int
	maxTries    uint
	pollTimeout time.Duration
	newBackOff  func() backoff.BackOff
	log         *logrus.Logger
	now         func() time.Time
}

func New(jobs JobSource, store Store, clients ClientFactory, calc Calculator, concurrency int, log *logrus.Logger) *Worker {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Worker{
		jobs:        jobs,
		store:       store,
		clients:     clients,
		calc:        calc,
		concurrency: concurrency,
		maxTries:    3,
		pollTimeout: 5 * time.Second,
		newBackOff:  func() backoff.BackOff { return backoff.NewExponentialBackOff() },
		log:         log,
		now:         time.Now,
	}
}

// Run consumes jobs with a fixed number of consumers until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < w.concurrency; i++ {
		id := i
		g.Go(func() error {
			return w.consume(gctx, id)
		})
	}
	w.log.Infof("worker started with %d consumers", w.concurrency)
	err := g.Wait()
	w.log.Info("worker stopping")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (w *Worker) consume(ctx context.Context, id int) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		job, err := w.jobs.Dequeue(ctx, w.pollTimeout)
		if errors.Is(err, queue.ErrEmpty) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			w.log.Warnf("consumer %d: dequeue failed: %v", id, err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}
		// Process records the failure in the job status and the log.
		w.Process(ctx, job)
	}
}

// Process runs one job end to end and records its final status. An empty
// report is skipped, leaving the previous one in place until the next cycle.
func (w *Worker) Process(ctx context.Context, job models.JobPayload) error {
	log := w.log.WithFields(logrus.Fields{"job_id": job.ID, "user_id": job.UserID, "range_type": job.RangeType})
	w.setStatus(ctx, job.ID, models.JobRunning)

	status, err := w.process(ctx, job, log)
	if err != nil {
		log.Errorf("job failed: %v", err)
		status = models.JobFailed
	}
	w.setStatus(ctx, job.ID, status)
	return err
}

func (w *Worker) process(ctx context.Context, job models.JobPayload, log *logrus.Entry) (models.JobStatus, error) {
	rng, err := service.RangeFromJob(job, w.now())
	if err != nil {
		return "", fmt.Errorf("resolve range: %w", err)
	}
	key, err := w.store.GetAPIKey(ctx, job.UserID)
	if err != nil {
		return "", fmt.Errorf("load credentials: %w", err)
	}

	report := w.calc.Compute(ctx, w.clients(key.APIKey, key.SecretKey), rng)
	if report.IsEmpty() {
		log.Warn("empty report, skipping until next cycle")
		return models.JobSkipped, nil
	}

	notify := func(err error, d time.Duration) {
		log.Warnf("upsert failed, retrying in %s: %v", d, err)
	}
	_, err = backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, w.store.UpsertReport(ctx, job.UserID, rng.Type, report)
	},
		backoff.WithBackOff(w.newBackOff()),
		backoff.WithMaxTries(w.maxTries),
		backoff.WithNotify(notify))
	if err != nil {
		return "", fmt.Errorf("save report: %w", err)
	}
	log.Infof("saved %s report", rng.Type)
	return models.JobDone, nil
}

func (w *Worker) setStatus(ctx context.Context, id string, status models.JobStatus) {
	if id == "" {
		return
	}
	if err := w.jobs.SetStatus(ctx, id, status); err != nil {
		w.log.Warnf("set status %s for job %s: %v", status, id, err)
	}
}
