// README: Scheduled reconciliation of live tracking sessions against order state.
package jobs

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultReconcileSpec runs reconciliation once a minute.
const DefaultReconcileSpec = "@every 1m"

// Reconciler is satisfied by *tracking.Tracker.
type Reconciler interface {
	Reconcile(ctx context.Context) error
}

// TrackingReconcileJob reopens sessions lost to a restart or a missed
// notification and drops sessions whose order has moved on.
type TrackingReconcileJob struct {
	reconciler Reconciler
	spec       string
	timeout    time.Duration
	cron       *cron.Cron
	logger     *slog.Logger
	running    atomic.Bool
}

func NewTrackingReconcileJob(r Reconciler, spec string, logger *slog.Logger) *TrackingReconcileJob {
	if spec == "" {
		spec = DefaultReconcileSpec
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TrackingReconcileJob{
		reconciler: r,
		spec:       spec,
		timeout:    30 * time.Second,
		cron:       cron.New(),
		logger:     logger.With("component", "tracking_reconcile_job"),
	}
}

// Start schedules the job. Runs that would overlap a previous one are skipped.
func (j *TrackingReconcileJob) Start() error {
	if _, err := j.cron.AddFunc(j.spec, j.RunOnce); err != nil {
		return err
	}
	j.cron.Start()
	j.logger.Info("tracking reconcile job started", "spec", j.spec)
	return nil
}

func (j *TrackingReconcileJob) RunOnce() {
	if !j.running.CompareAndSwap(false, true) {
		j.logger.Warn("tracking reconcile still running, skipping")
		return
	}
	defer j.running.Store(false)

	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()
	if err := j.reconciler.Reconcile(ctx); err != nil {
		j.logger.ErrorContext(ctx, "tracking reconcile failed", "error", err)
	}
}

// Stop halts scheduling and waits for a running reconcile to finish.
func (j *TrackingReconcileJob) Stop() {
	<-j.cron.Stop().Done()
	j.logger.Info("tracking reconcile job stopped")
}
