package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"melonbooks-monitor/internal/logger"

	"github.com/robfig/cron/v3"
)

// ErrPassRunning is returned by Trigger and Exclusive while a pass is in flight.
var ErrPassRunning = errors.New("a pass is already running")

// DaemonOptions configures the scheduled loop.
type DaemonOptions struct {
	Interval        time.Duration
	ContinueOnError bool
}

// Daemon runs a pass immediately and then on a fixed interval.
// Passes never overlap.
type Daemon struct {
	pass            func(ctx context.Context) error
	interval        time.Duration
	continueOnError bool
	log             logger.Logger

	mu      sync.Mutex
	passCtx context.Context
	errs    chan error
}

// NewDaemon schedules m.Run.
func NewDaemon(m *Monitor, opts DaemonOptions, log logger.Logger) *Daemon {
	return newDaemon(m.Run, opts, log)
}

func newDaemon(pass func(ctx context.Context) error, opts DaemonOptions, log logger.Logger) *Daemon {
	if opts.Interval <= 0 {
		opts.Interval = 4 * time.Hour
	}
	return &Daemon{
		pass:            pass,
		interval:        opts.Interval,
		continueOnError: opts.ContinueOnError,
		log:             log,
		passCtx:         context.Background(),
		errs:            make(chan error, 1),
	}
}

// Start blocks until ctx is done or a pass fails while ContinueOnError is off.
// An in-flight pass is not cancelled when ctx is done.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	d.passCtx = context.WithoutCancel(ctx)
	d.mu.Unlock()

	d.log.Info("Starting daemon", logger.Duration("interval", d.interval), logger.Bool("continue_on_error", d.continueOnError))
	d.scheduled()
	select {
	case err := <-d.errs:
		return err
	default:
	}

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cronLogger{log: d.log})))
	if _, err := c.AddFunc(fmt.Sprintf("@every %s", d.interval), d.scheduled); err != nil {
		return fmt.Errorf("schedule pass: %w", err)
	}
	c.Start()
	defer c.Stop()

	select {
	case <-ctx.Done():
		d.log.Info("Stopping daemon")
		return nil
	case err := <-d.errs:
		return err
	}
}

// Trigger starts a pass in the background unless one is already running.
func (d *Daemon) Trigger() error {
	if !d.mu.TryLock() {
		return ErrPassRunning
	}
	go func() {
		defer d.mu.Unlock()
		d.runLocked("manual")
	}()
	return nil
}

// Exclusive runs fn while holding the pass lock, so catalog edits never
// interleave with a pass. It does not wait for a running pass.
func (d *Daemon) Exclusive(fn func() error) error {
	if !d.mu.TryLock() {
		return ErrPassRunning
	}
	defer d.mu.Unlock()
	return fn()
}

func (d *Daemon) scheduled() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.runLocked("scheduled")
}

func (d *Daemon) runLocked(trigger string) {
	start := time.Now()
	d.log.Info("Pass started", logger.String("trigger", trigger))
	err := d.pass(d.passCtx)
	if err == nil {
		d.log.Info("Pass finished", logger.String("trigger", trigger), logger.Duration("took", time.Since(start)))
		return
	}

	d.log.Error("Pass failed", logger.String("trigger", trigger), logger.Error(err))
	if d.continueOnError {
		return
	}
	select {
	case d.errs <- err:
	default:
	}
}

// cronLogger routes cron's own messages into the structured logger.
type cronLogger struct {
	log logger.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.log.Debug("cron: "+msg, kvFields(keysAndValues)...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.log.Error("cron: "+msg, append(kvFields(keysAndValues), logger.Error(err))...)
}

func kvFields(kv []interface{}) []logger.Field {
	fields := make([]logger.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		fields = append(fields, logger.Any(fmt.Sprint(kv[i]), kv[i+1]))
	}
	return fields
}
