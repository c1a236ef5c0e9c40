package maintenance

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Pruner trims in-memory alert logs and cooldown ledgers.
type Pruner interface {
	Prune() (logRemoved, ledgerRemoved int)
}

// AlertPurger deletes persisted alerts older than a cutoff.
type AlertPurger interface {
	DeleteAlertsBefore(ctx context.Context, olderThan time.Time) (int64, error)
}

// Options configure the maintenance schedule.
type Options struct {
	// Schedule is a cron spec; descriptors such as "@every 10m" are accepted.
	Schedule       string
	AlertRetention time.Duration
	Now            func() time.Time
}

// Runner executes periodic housekeeping on a cron schedule.
type Runner struct {
	opts   Options
	pruner Pruner
	purger AlertPurger
	cron   *cron.Cron
	logger zerolog.Logger
}

// New validates the schedule and builds a Runner. purger may be nil when no database is configured.
func New(opts Options, pruner Pruner, purger AlertPurger, logger zerolog.Logger) (*Runner, error) {
	if opts.Schedule == "" {
		opts.Schedule = "@every 10m"
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	logger = logger.With().Str("component", "maintenance").Logger()
	cl := cronLogger{logger: logger}
	r := &Runner{
		opts:   opts,
		pruner: pruner,
		purger: purger,
		cron:   cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl))),
		logger: logger,
	}
	if _, err := r.cron.AddFunc(opts.Schedule, func() { r.RunOnce(context.Background()) }); err != nil {
		return nil, fmt.Errorf("parse maintenance schedule %q: %w", opts.Schedule, err)
	}
	return r, nil
}

// Run starts the cron scheduler and blocks until ctx is cancelled and running jobs finish.
func (r *Runner) Run(ctx context.Context) {
	r.cron.Start()
	r.logger.Info().Str("schedule", r.opts.Schedule).Msg("maintenance scheduled")
	<-ctx.Done()
	<-r.cron.Stop().Done()
}

// RunOnce performs a single housekeeping pass.
func (r *Runner) RunOnce(ctx context.Context) {
	logRemoved, ledgerRemoved := r.pruner.Prune()
	event := r.logger.Info().Int("log_removed", logRemoved).Int("ledger_removed", ledgerRemoved)

	if r.purger != nil && r.opts.AlertRetention > 0 {
		cutoff := r.opts.Now().Add(-r.opts.AlertRetention)
		deleted, err := r.purger.DeleteAlertsBefore(ctx, cutoff)
		if err != nil {
			r.logger.Error().Err(err).Time("cutoff", cutoff).Msg("failed to purge archived alerts")
		}
		event = event.Int64("archived_removed", deleted)
	}
	event.Msg("maintenance pass complete")
}

// cronLogger routes cron's own messages through zerolog.
type cronLogger struct {
	logger zerolog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.logger.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
