// Package scheduler runs the periodic batch jobs (expiry sweep, bonus pool runs, digests).
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/kat-co/vala"
	"github.com/pkg/errors"

	"github.com/trezcool/taskpool/core"
)

var ErrUnknownJob = errors.New("unknown job")

// JobFunc is one run of a job.
type JobFunc func(ctx context.Context) error

type job struct {
	name     string
	interval time.Duration
	fn       JobFunc
	mu       sync.Mutex // one run at a time
}

type Scheduler struct {
	logger core.Logger
	jobs   map[string]*job
	order  []string

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(logger core.Logger) *Scheduler {
	return &Scheduler{logger: logger, jobs: make(map[string]*job)}
}

// Add registers a job. It panics on a bad definition or a duplicate name.
func (s *Scheduler) Add(name string, interval time.Duration, fn JobFunc) {
	vala.BeginValidation().Validate(
		vala.StringNotEmpty(name, "name"),
		vala.GreaterThan(int(interval), 0, "interval"),
		vala.IsNotNil(fn, "fn"),
	).CheckAndPanic()
	if _, ok := s.jobs[name]; ok {
		panic("scheduler: duplicate job " + name)
	}
	s.jobs[name] = &job{name: name, interval: interval, fn: fn}
	s.order = append(s.order, name)
}

// Jobs returns the registered job names.
func (s *Scheduler) Jobs() []string {
	return append([]string(nil), s.order...)
}

// Start runs every job on its own ticker until ctx is done or Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)

	for _, name := range s.order {
		j := s.jobs[name]
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.loop(ctx, j)
		}()
	}
	s.logger.Info("scheduler started", map[string]interface{}{"jobs": s.order})
}

func (s *Scheduler) loop(ctx context.Context, j *job) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = s.run(ctx, j)
		}
	}
}

// Stop cancels the loops and waits for running jobs to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}

// RunNow runs the named job once, synchronously.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	j, ok := s.jobs[name]
	if !ok {
		return errors.Wrap(ErrUnknownJob, name)
	}
	return s.run(ctx, j)
}

func (s *Scheduler) run(ctx context.Context, j *job) (err error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("panic: %v", r)
		}
		fields := map[string]interface{}{"job": j.name, "duration": time.Since(start).String()}
		if err != nil {
			s.logger.Error("job failed", errors.Wrap(err, j.name), fields)
			return
		}
		s.logger.Info("job done", fields)
	}()
	return j.fn(ctx)
}
