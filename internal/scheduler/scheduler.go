package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// TickFunc is invoked on every interval with the tick's sequence number, starting at 1.
type TickFunc func(ctx context.Context, tick uint64, at time.Time) error

// State of the scheduler lifecycle.
type State int

const (
	StateIdle State = iota
	StateRunning
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// ErrNotIdle is returned by Start when the scheduler was already started.
var ErrNotIdle = errors.New("scheduler: already started")

// Options tune scheduler behaviour.
type Options struct {
	Interval     time.Duration
	AlignToStart bool
	StartupDelay time.Duration
	// RunImmediately fires the first tick without waiting a full interval.
	RunImmediately bool
}

// Scheduler drives periodic execution of the polling cycle. It runs once: Idle -> Running -> Stopping -> Stopped.
type Scheduler struct {
	opts   Options
	logger zerolog.Logger

	mu     sync.Mutex
	state  State
	ticks  uint64
	cancel context.CancelFunc
	done   chan struct{}
}

// New constructs a Scheduler instance.
func New(opts Options, logger zerolog.Logger) *Scheduler {
	if opts.Interval <= 0 {
		panic("scheduler interval must be positive")
	}
	return &Scheduler{
		opts:   opts,
		logger: logger.With().Str("component", "scheduler").Logger(),
		done:   make(chan struct{}),
	}
}

// State reports the current lifecycle state.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Ticks returns how many ticks have completed.
func (s *Scheduler) Ticks() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ticks
}

// Start launches the loop in the background. Cancelling ctx has the same effect as Stop without the wait.
func (s *Scheduler) Start(ctx context.Context, tick TickFunc) error {
	s.mu.Lock()
	if s.state != StateIdle {
		s.mu.Unlock()
		return ErrNotIdle
	}
	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.state = StateRunning
	s.mu.Unlock()

	go func() {
		defer close(s.done)
		s.loop(loopCtx, tick)
		s.setState(StateStopped)
		s.logger.Info().Uint64("ticks", s.Ticks()).Msg("scheduler stopped")
	}()
	return nil
}

// Stop requests shutdown and waits until the in-flight tick returns or ctx expires.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	switch s.state {
	case StateIdle:
		s.state = StateStopped
		close(s.done)
		s.mu.Unlock()
		return nil
	case StateRunning:
		s.state = StateStopping
		s.cancel()
	}
	s.mu.Unlock()

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for scheduler stop: %w", ctx.Err())
	}
}

// Done is closed once the scheduler reaches StateStopped.
func (s *Scheduler) Done() <-chan struct{} {
	return s.done
}

// Run blocks, invoking tick at each interval until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context, tick TickFunc) error {
	if err := s.Start(ctx, tick); err != nil {
		return err
	}
	<-s.done
	return ctx.Err()
}

func (s *Scheduler) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

func (s *Scheduler) loop(ctx context.Context, tick TickFunc) {
	if s.opts.StartupDelay > 0 {
		timer := time.NewTimer(s.opts.StartupDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}

	next := s.nextTick(time.Now().UTC())
	if s.opts.RunImmediately {
		next = time.Now().UTC()
	}
	for {
		delay := time.Until(next)
		if delay < 0 {
			delay = 0
		}

		timer := time.NewTimer(delay)
		s.logger.Debug().Time("next_tick", next).Msg("waiting for next tick")

		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		s.mu.Lock()
		s.ticks++
		n := s.ticks
		s.mu.Unlock()

		at := s.bucketStart(next)
		s.logger.Debug().Uint64("tick", n).Time("at", at).Msg("executing scheduled tick")
		s.runTick(ctx, tick, n, at)

		next = s.nextTick(time.Now().UTC())
	}
}

// runTick isolates a single tick so a panic or error never ends the loop.
func (s *Scheduler) runTick(ctx context.Context, tick TickFunc, n uint64, at time.Time) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().Str("panic", fmt.Sprint(r)).Uint64("tick", n).Msg("tick panicked")
		}
	}()
	if err := tick(ctx, n, at); err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Error().Err(err).Uint64("tick", n).Msg("tick execution failed")
	}
}

func (s *Scheduler) nextTick(now time.Time) time.Time {
	if !s.opts.AlignToStart {
		return now.Add(s.opts.Interval)
	}
	bucket := now.Truncate(s.opts.Interval)
	if !bucket.After(now) {
		bucket = bucket.Add(s.opts.Interval)
	}
	return bucket
}

func (s *Scheduler) bucketStart(t time.Time) time.Time {
	if !s.opts.AlignToStart {
		return t
	}
	return t.Truncate(s.opts.Interval)
}
