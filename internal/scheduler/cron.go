package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmhodges/clock"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/lalithlochan/taskdeck/internal/metrics"
)

// tickSpec fires both scans once a minute. The digest scan matches users by
// local hour and minute, so the cadence must stay at minute granularity;
// anything coarser silently skips matching ticks.
const tickSpec = "* * * * *"

const (
	scanReminder = "reminder"
	scanDigest   = "digest"
)

// Runner drives the scans on the shared minute schedule. Every job is
// wrapped with SkipIfStillRunning: a scan that overruns its minute swallows
// the next tick instead of stacking a second pass behind it, and the dedupe
// ledger covers whatever both passes would have agreed on anyway.
type Runner struct {
	service *Service
	clk     clock.Clock
	logger  *zap.Logger
	cron    *cron.Cron
}

// NewRunner wires the scan service to a cron instance. The clock is
// injected so tests can pin the tick instant.
func NewRunner(service *Service, clk clock.Clock, logger *zap.Logger) *Runner {
	return &Runner{
		service: service,
		clk:     clk,
		logger:  logger,
	}
}

// Start registers both scans and begins ticking. ctx bounds every scan the
// runner launches; cancel it before Stop so a wedged scan cannot hold up
// shutdown.
func (r *Runner) Start(ctx context.Context) error {
	cronLog := cronLogger{logger: r.logger.Sugar()}
	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithChain(
			cron.Recover(cronLog),
			cron.SkipIfStillRunning(cronLog),
		),
	)

	if _, err := c.AddFunc(tickSpec, func() {
		r.runScan(ctx, scanReminder, r.service.RunReminderScan)
	}); err != nil {
		return fmt.Errorf("register reminder scan: %w", err)
	}
	if _, err := c.AddFunc(tickSpec, func() {
		r.runScan(ctx, scanDigest, r.service.RunDigestScan)
	}); err != nil {
		return fmt.Errorf("register digest scan: %w", err)
	}

	c.Start()
	r.cron = c
	r.logger.Info("scheduler started", zap.String("spec", tickSpec))
	return nil
}

// Stop halts the ticker and waits for in-flight scans to drain.
func (r *Runner) Stop() {
	if r.cron == nil {
		return
	}
	<-r.cron.Stop().Done()
	r.cron = nil
	r.logger.Info("scheduler stopped")
}

// runScan executes one tick of one scan. The tick instant comes off the
// injected clock exactly once so key derivation, window queries and logging
// all agree on now.
func (r *Runner) runScan(ctx context.Context, name string, scan func(context.Context, time.Time) error) {
	now := r.clk.Now().UTC()
	runID := uuid.NewString()
	start := time.Now()

	err := scan(ctx, now)
	duration := time.Since(start)

	if err != nil {
		metrics.RecordScan(name, "error", duration)
		r.logger.Error("scan failed",
			zap.Error(err),
			zap.String("scan", name),
			zap.String("run_id", runID),
			zap.Duration("duration", duration),
		)
		return
	}

	metrics.RecordScan(name, "ok", duration)
	r.logger.Debug("scan finished",
		zap.String("scan", name),
		zap.String("run_id", runID),
		zap.Duration("duration", duration),
	)
}

// cronLogger adapts zap to the cron logger interface so skip and recover
// events land in the structured log.
type cronLogger struct {
	logger *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Infow(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Errorw(msg, append(keysAndValues, "error", err)...)
}
