package scheduler

import (
	"context"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

type Runner struct {
	cron       *cron.Cron
	dispatcher *Dispatcher
	log        *logrus.Logger
	baseCtx    context.Context
}

func NewRunner(d *Dispatcher, log *logrus.Logger, baseCtx context.Context) *Runner {
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	return &Runner{
		cron:       cron.New(),
		dispatcher: d,
		log:        log,
		baseCtx:    baseCtx,
	}
}

// ScheduleRefresh registers the periodic refresh under a cron expression such as
// "@every 30m" or "*/30 * * * *".
func (r *Runner) ScheduleRefresh(schedule string) (cron.EntryID, error) {
	return r.cron.AddFunc(schedule, r.refresh)
}

func (r *Runner) refresh() {
	n, err := r.dispatcher.RefreshAll(r.baseCtx)
	if err != nil {
		r.log.Errorf("periodic refresh failed after %d jobs: %v", n, err)
		return
	}
	r.log.Infof("periodic refresh queued %d jobs", n)
}

func (r *Runner) Start() {
	r.log.Info("cron started")
	r.cron.Start()
}

func (r *Runner) Stop() {
	ctx := r.cron.Stop()
	<-ctx.Done()
	r.log.Info("cron stopped")
}
