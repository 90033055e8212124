package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/Phathdt/pmm-sub001/internal/metrics"
)

// TickFunc is one scheduler pass. Errors are logged; they never stop the loop.
type TickFunc func(ctx context.Context) error

// Loop runs a TickFunc on a fixed interval. Ticks execute on the loop's own
// goroutine, so two ticks of the same Loop never overlap; ticks that would
// fire while one is still running are dropped.
type Loop struct {
	name       string
	interval   time.Duration
	runOnStart bool
	logger     *slog.Logger
}

// Option configures a Loop.
type Option func(*Loop)

// WithRunOnStart runs the first tick immediately instead of after one interval.
func WithRunOnStart() Option {
	return func(l *Loop) {
		l.runOnStart = true
	}
}

func New(name string, interval time.Duration, logger *slog.Logger, opts ...Option) *Loop {
	l := &Loop{
		name:     name,
		interval: interval,
		logger:   logger.With("component", "scheduler", "scheduler", name),
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

func (l *Loop) Name() string {
	return l.name
}

// Run blocks until ctx is cancelled.
func (l *Loop) Run(ctx context.Context, tick TickFunc) error {
	if l.interval <= 0 {
		return fmt.Errorf("scheduler %s: interval must be positive", l.name)
	}
	l.logger.Info("scheduler started", "interval", l.interval)

	if l.runOnStart {
		l.runTick(ctx, tick)
	}

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			l.logger.Info("scheduler stopping")
			return ctx.Err()
		case <-ticker.C:
			l.runTick(ctx, tick)
		}
	}
}

func (l *Loop) runTick(ctx context.Context, tick TickFunc) {
	if ctx.Err() != nil {
		return
	}
	start := time.Now()
	result := "ok"

	func() {
		defer func() {
			if r := recover(); r != nil {
				result = "panic"
				l.logger.Error("scheduler tick panicked", "panic", r, "stack", string(debug.Stack()))
			}
		}()
		if err := tick(ctx); err != nil {
			result = "error"
			l.logger.Warn("scheduler tick failed", "error", err)
		}
	}()

	metrics.SchedulerTicksTotal.WithLabelValues(l.name, result).Inc()
	metrics.SchedulerTickLatency.WithLabelValues(l.name).Observe(time.Since(start).Seconds())
}
