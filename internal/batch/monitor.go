package batch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// ErrWaitTimeout reports a job still queued when MaxWait ran out.
var ErrWaitTimeout = errors.New("batch: wait timed out")

// QueryPolicy decides what a failed status query means.
type QueryPolicy int

const (
	// RetryQuery keeps polling; MaxQueryFailures consecutive failures end the
	// wait with ErrStatusQuery.
	RetryQuery QueryPolicy = iota
	// AssumeComplete treats a failed query as the job having left the queue.
	AssumeComplete
)

// MonitorOptions configures polling.
type MonitorOptions struct {
	PollInterval      time.Duration
	HeartbeatInterval time.Duration
	// MaxWait bounds the wait; zero waits indefinitely.
	MaxWait          time.Duration
	Policy           QueryPolicy
	MaxQueryFailures int
}

// WaitResult summarizes a finished wait.
type WaitResult struct {
	Elapsed       time.Duration
	Polls         int
	QueryFailures int
}

// Monitor blocks until a job is no longer listed by the scheduler.
type Monitor struct {
	sched Scheduler
	opts  MonitorOptions
	// logger receives state changes; quiet receives heartbeats only.
	logger *zap.Logger
	quiet  *zap.Logger
	clock  func() time.Time
}

// MonitorOption customizes a Monitor.
type MonitorOption func(*Monitor)

// WithClock injects a deterministic clock (primarily for tests).
func WithClock(clock func() time.Time) MonitorOption {
	return func(m *Monitor) {
		if clock != nil {
			m.clock = clock
		}
	}
}

// WithLoggers sets the regular and the heartbeat loggers.
func WithLoggers(logger, quiet *zap.Logger) MonitorOption {
	return func(m *Monitor) {
		if logger != nil {
			m.logger = logger
		}
		if quiet != nil {
			m.quiet = quiet
		}
	}
}

// NewMonitor builds a monitor over sched.
func NewMonitor(sched Scheduler, opts MonitorOptions, options ...MonitorOption) *Monitor {
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Minute
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = 10 * time.Minute
	}
	if opts.MaxQueryFailures <= 0 {
		opts.MaxQueryFailures = 1
	}
	m := &Monitor{
		sched:  sched,
		opts:   opts,
		logger: zap.NewNop(),
		quiet:  zap.NewNop(),
		clock:  time.Now,
	}
	for _, opt := range options {
		opt(m)
	}
	return m
}

// Wait polls until id leaves the queue, ctx is cancelled, MaxWait runs out,
// or status queries keep failing under RetryQuery. Cancelling does not touch
// the job on the scheduler side.
func (m *Monitor) Wait(ctx context.Context, id JobID) (WaitResult, error) {
	if id == "" {
		return WaitResult{}, ErrNoJobID
	}
	if m.opts.MaxWait > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.opts.MaxWait)
		defer cancel()
	}
	log := m.logger.With(zap.String("job_id", string(id)))
	log.Info("waiting for job to complete")

	start := m.clock()
	lastBeat := start
	var res WaitResult
	consecutive := 0

	ticker := time.NewTicker(m.opts.PollInterval)
	defer ticker.Stop()
	for {
		res.Polls++
		active, err := m.sched.IsActive(ctx, id)
		res.Elapsed = m.clock().Sub(start)
		switch {
		case err != nil && ctx.Err() != nil:
			return res, m.stopped(ctx, id, res)
		case err != nil:
			res.QueryFailures++
			consecutive++
			if m.opts.Policy == AssumeComplete {
				log.Warn("status query failed, treating job as finished", zap.Error(err))
				return res, nil
			}
			log.Warn("status query failed", zap.Error(err),
				zap.Int("consecutive", consecutive), zap.Int("limit", m.opts.MaxQueryFailures))
			if consecutive >= m.opts.MaxQueryFailures {
				return res, fmt.Errorf("%w: job %s: %d consecutive failures: %w", ErrStatusQuery, id, consecutive, err)
			}
		case !active:
			log.Info(fmt.Sprintf("job completed after %.1f minutes", res.Elapsed.Minutes()),
				zap.Duration("elapsed", res.Elapsed))
			return res, nil
		default:
			consecutive = 0
		}

		select {
		case <-ctx.Done():
			res.Elapsed = m.clock().Sub(start)
			return res, m.stopped(ctx, id, res)
		case <-ticker.C:
		}
		if now := m.clock(); now.Sub(lastBeat) >= m.opts.HeartbeatInterval {
			lastBeat = now
			m.quiet.Info(fmt.Sprintf("job still running (%.0f min elapsed)", now.Sub(start).Minutes()),
				zap.String("job_id", string(id)))
		}
	}
}

func (m *Monitor) stopped(ctx context.Context, id JobID, res WaitResult) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) && m.opts.MaxWait > 0 {
		return fmt.Errorf("%w: job %s still queued after %s", ErrWaitTimeout, id, m.opts.MaxWait)
	}
	return fmt.Errorf("job %s: wait cancelled after %s: %w", id, res.Elapsed.Round(time.Second), ctx.Err())
}
