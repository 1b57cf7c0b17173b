// Package jobs runs scheduled background work of the order server.
package jobs

import (
	"context"
	"sync"

	"github.com/go-faster/errors"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/xenking/quickbite/internal/domain/order"
)

// Compensator applies one saga compensation.
type Compensator interface {
	Compensate(ctx context.Context, c order.Compensation) error
}

// ReconcileOptions configures ReconcileJob.
type ReconcileOptions struct {
	// Schedule is a cron spec with a seconds field, e.g. "*/30 * * * * *".
	Schedule    string
	BatchSize   int
	MaxAttempts int
}

func (o *ReconcileOptions) setDefaults() {
	if o.Schedule == "" {
		o.Schedule = "*/30 * * * * *"
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 50
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 10
	}
}

// ReconcileJob retries compensations the placement saga could not apply
// inline.
type ReconcileJob struct {
	svc   Compensator
	comps order.CompensationLog
	opts  ReconcileOptions
	lg    *zap.Logger
	cron  *cron.Cron

	mu sync.Mutex // serializes runs
}

// NewReconcileJob creates the job. It does nothing until Run.
func NewReconcileJob(svc Compensator, comps order.CompensationLog, opts ReconcileOptions, lg *zap.Logger) *ReconcileJob {
	opts.setDefaults()
	lg = lg.Named("reconcile")
	return &ReconcileJob{
		svc:   svc,
		comps: comps,
		opts:  opts,
		lg:    lg,
		cron:  cron.New(
			cron.WithSeconds(),
			cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
		),
	}
}

// Run schedules the job and blocks until ctx is done. In-flight runs finish
// before Run returns.
func (j *ReconcileJob) Run(ctx context.Context) error {
	if _, err := j.cron.AddFunc(j.opts.Schedule, func() {
		if _, err := j.RunOnce(ctx); err != nil && ctx.Err() == nil {
			j.lg.Error("Reconcile run failed", zap.Error(err))
		}
	}); err != nil {
		return errors.Wrapf(err, "schedule %q", j.opts.Schedule)
	}

	j.cron.Start()
	j.lg.Info("Reconcile job started", zap.String("schedule", j.opts.Schedule))

	<-ctx.Done()
	<-j.cron.Stop().Done()
	j.lg.Info("Reconcile job stopped")
	return nil
}

// RunOnce processes one batch of pending compensations and returns how many
// were resolved.
func (j *ReconcileJob) RunOnce(ctx context.Context) (int, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	pending, err := j.comps.Pending(ctx, j.opts.BatchSize, j.opts.MaxAttempts)
	if err != nil {
		return 0, errors.Wrap(err, "load pending compensations")
	}

	var resolved int
	for _, c := range pending {
		if ctx.Err() != nil {
			return resolved, ctx.Err()
		}
		lg := j.lg.With(
			zap.Int64("compensation_id", c.ID),
			zap.String("kind", string(c.Kind)),
			zap.Int64("order_id", c.OrderID),
		)

		if err := j.svc.Compensate(ctx, c); err != nil {
			if c.Attempts+1 >= j.opts.MaxAttempts {
				lg.Error("Compensation exhausted", zap.Int("attempts", c.Attempts+1), zap.Error(err))
			} else {
				lg.Warn("Compensation retry failed", zap.Int("attempts", c.Attempts+1), zap.Error(err))
			}
			if err := j.comps.Fail(ctx, c.ID, err.Error()); err != nil {
				return resolved, errors.Wrapf(err, "record failure of compensation %d", c.ID)
			}
			continue
		}

		if err := j.comps.Resolve(ctx, c.ID); err != nil {
			return resolved, errors.Wrapf(err, "resolve compensation %d", c.ID)
		}
		resolved++
		lg.Info("Compensation applied")
	}
	return resolved, nil
}
