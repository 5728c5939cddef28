// Package jobs schedules the periodic offer-expiry sweep with
// github.com/robfig/cron/v3.
package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/example/driver-dispatch/internal/assignment"
)

type Sweeper interface {
	Sweep(ctx context.Context) (assignment.SweepReport, error)
}

// Lease gates a tick so that only one replica sweeps at a time. The lease
// must expire before the next tick.
type Lease interface {
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

// SweeperJob runs the sweeper on a fixed interval. Overlapping ticks are
// skipped rather than queued.
type SweeperJob struct {
	sweeper  Sweeper
	lease    Lease
	interval time.Duration
	timeout  time.Duration
	cron     *cron.Cron
	logger   *slog.Logger
}

// NewSweeperJob creates the job. lease may be nil for single-replica setups.
func NewSweeperJob(s Sweeper, lease Lease, interval time.Duration, logger *slog.Logger) *SweeperJob {
	return &SweeperJob{
		sweeper:  s,
		lease:    lease,
		interval: interval,
		timeout:  interval,
		cron:     cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		logger:   logger.With("component", "sweeper_job"),
	}
}

func (j *SweeperJob) Start() error {
	if j.interval <= 0 {
		return fmt.Errorf("sweep interval must be positive, got %s", j.interval)
	}
	if _, err := j.cron.AddFunc("@every "+j.interval.String(), func() { j.RunOnce(context.Background()) }); err != nil {
		return err
	}
	j.cron.Start()
	j.logger.Info("sweeper job started", "interval", j.interval)
	return nil
}

// Stop waits for a running sweep to finish.
func (j *SweeperJob) Stop() {
	<-j.cron.Stop().Done()
	j.logger.Info("sweeper job stopped")
}

// RunOnce performs a single tick. It reports whether a sweep actually ran.
func (j *SweeperJob) RunOnce(ctx context.Context) bool {
	if j.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.timeout)
		defer cancel()
	}

	if j.lease != nil {
		ok, err := j.lease.Acquire(ctx)
		if err != nil {
			j.logger.Error("sweep lease unavailable", "error", err)
			return false
		}
		if !ok {
			j.logger.Info("another replica holds the sweep lease, skipping tick")
			return false
		}
	}

	report, err := j.sweeper.Sweep(ctx)
	if err != nil {
		j.logger.Error("sweep failed", "error", err)
		// let another replica retry without waiting out the lease
		if j.lease != nil {
			if err := j.lease.Release(context.WithoutCancel(ctx)); err != nil {
				j.logger.Warn("sweep lease release failed", "error", err)
			}
		}
		return true
	}
	if len(report.Expired) > 0 {
		j.logger.Info("sweep complete", "scanned", report.Scanned, "expired", len(report.Expired))
	}
	return true
}
