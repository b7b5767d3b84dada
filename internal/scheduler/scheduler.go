package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Scheduler runs named periodic jobs. A job that is still running when its
// next tick fires is skipped rather than stacked.
type Scheduler struct {
	cron   *cron.Cron
	ctx    context.Context
	cancel context.CancelFunc
	log    zerolog.Logger

	mu      sync.Mutex
	running bool
	stopped bool
}

// New creates a stopped scheduler.
func New(log zerolog.Logger) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	cl := cronLogger{log: log}
	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		ctx:    ctx,
		cancel: cancel,
		log:    log,
	}
}

// Every registers fn to run every d. Intervals below one second are rounded
// up to one second.
func (s *Scheduler) Every(d time.Duration, name string, fn func(ctx context.Context)) error {
	if d <= 0 {
		return fmt.Errorf("schedule %s: non-positive interval %s", name, d)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return fmt.Errorf("schedule %s: scheduler stopped", name)
	}
	s.cron.Schedule(cron.Every(d), cron.FuncJob(func() {
		if s.ctx.Err() != nil {
			return
		}
		fn(s.ctx)
	}))
	s.log.Debug().Str("job", name).Dur("every", d).Msg("job scheduled")
	return nil
}

func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running || s.stopped {
		return
	}
	s.cron.Start()
	s.running = true
}

// Stop cancels the job context and waits for running jobs to return. It
// must not be called while holding a lock that a job acquires.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.running = false
	s.mu.Unlock()

	s.cancel()
	<-s.cron.Stop().Done()
}

func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// cronLogger routes cron's internal logging into zerolog.
type cronLogger struct {
	log zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
