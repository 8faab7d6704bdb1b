// Package scheduler runs the periodic background passes: print
// follow-ups, renewal reminders, expiry sweeps, bank-reply chasing,
// undelivered-courier reports and stale-approval expiry. Each pass is
// idempotent and per-item fault isolated, so a crashed run is simply
// retried on the next tick.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sirupsen/logrus"
)

var (
	passDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "lgops_scheduler_pass_duration_seconds",
		Help:    "Duration of scheduler passes.",
		Buckets: prometheus.DefBuckets,
	}, []string{"pass"})

	passFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lgops_scheduler_item_failures_total",
		Help: "Items skipped by scheduler passes due to errors.",
	}, []string{"pass"})
)

// Job is one periodic pass. Run is invoked sequentially per job, so a
// slow pass delays its own next tick instead of overlapping itself.
type Job struct {
	Name  string
	Every time.Duration
	Run   func(ctx context.Context) error
}

// Runner drives a set of Jobs, one goroutine per job.
type Runner struct {
	jobs []Job
	log  *logrus.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewRunner(log *logrus.Logger, jobs ...Job) *Runner {
	return &Runner{jobs: jobs, log: log}
}

// Start launches every job. Each job runs once immediately, then on its
// interval, until Stop is called or ctx is cancelled.
func (r *Runner) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)
	for _, job := range r.jobs {
		r.wg.Add(1)
		go func(job Job) {
			defer r.wg.Done()
			ticker := time.NewTicker(job.Every)
			defer ticker.Stop()
			r.runOnce(ctx, job)
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					r.runOnce(ctx, job)
				}
			}
		}(job)
	}
}

// Stop cancels all jobs and waits for in-flight passes to finish.
func (r *Runner) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
}

func (r *Runner) runOnce(ctx context.Context, job Job) {
	start := time.Now()
	err := job.Run(ctx)
	passDuration.WithLabelValues(job.Name).Observe(time.Since(start).Seconds())
	if err != nil {
		r.log.WithField("pass", job.Name).WithError(err).Error("scheduler pass failed")
		return
	}
	r.log.WithFields(logrus.Fields{
		"pass":     job.Name,
		"duration": time.Since(start).String(),
	}).Debug("scheduler pass complete")
}
