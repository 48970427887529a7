package scheduler

import (
	"context"
	"fmt"

	"pnldash/internal/models"

	"github.com/sirupsen/logrus"
)

type Enqueuer interface {
	Enqueue(ctx context.Context, job models.JobPayload) (models.JobPayload, error)
}

type UserLister interface {
	UsersWithAPIKeys(ctx context.Context) ([]string, error)
}

var fixedRanges = []models.RangeType{models.Range7D, models.Range30D}

// Dispatcher turns triggers into queued computations. It never computes inline.
type Dispatcher struct {
	jobs  Enqueuer
	users UserLister
	log   *logrus.Logger
}

func NewDispatcher(jobs Enqueuer, users UserLister, log *logrus.Logger) *Dispatcher {
	return &Dispatcher{jobs: jobs, users: users, log: log}
}

// CredentialsRegistered queues the initial 7d and 30d reports for a new user.
func (d *Dispatcher) CredentialsRegistered(ctx context.Context, userID string) ([]models.JobPayload, error) {
	return d.enqueueFixed(ctx, userID)
}

func (d *Dispatcher) RequestCustom(ctx context.Context, userID string, rng models.RangeSpec) (models.JobPayload, error) {
	return d.jobs.Enqueue(ctx, models.JobPayload{
		UserID:    userID,
		RangeType: models.RangeCustom,
		Start:     rng.Start.Format(models.DateLayout),
		End:       rng.End.Format(models.DateLayout),
	})
}

// RefreshAll queues 7d and 30d recomputation for every user with credentials.
func (d *Dispatcher) RefreshAll(ctx context.Context) (int, error) {
	ids, err := d.users.UsersWithAPIKeys(ctx)
	if err != nil {
		return 0, fmt.Errorf("list users: %w", err)
	}
	n := 0
	for _, id := range ids {
		jobs, err := d.enqueueFixed(ctx, id)
		n += len(jobs)
		if err != nil {
			return n, err
		}
	}
	return n, nil
}

func (d *Dispatcher) enqueueFixed(ctx context.Context, userID string) ([]models.JobPayload, error) {
	out := make([]models.JobPayload, 0, len(fixedRanges))
	for _, rt := range fixedRanges {
		job, err := d.jobs.Enqueue(ctx, models.JobPayload{UserID: userID, RangeType: rt})
		if err != nil {
			return out, fmt.Errorf("enqueue %s for user %s: %w", rt, userID, err)
		}
		out = append(out, job)
	}
	return out, nil
}
