package syncloop

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"trading-signalsync/internal/metrics"
)

// Runner is anything the Supervisor can keep alive.
type Runner interface {
	Run(ctx context.Context)
}

type task struct {
	name string
	make func() Runner
}

// Supervisor runs one goroutine per instrument. A loop that panics is
// rebuilt from its constructor, so it restores from persisted state, and
// restarted after a back-off.
type Supervisor struct {
	log        *slog.Logger
	m          *metrics.Metrics
	minBackoff time.Duration
	maxBackoff time.Duration
	tasks      []task
}

// NewSupervisor creates an empty supervisor. m may be nil.
func NewSupervisor(log *slog.Logger, m *metrics.Metrics) *Supervisor {
	if log == nil {
		log = slog.Default()
	}
	if m == nil {
		m = metrics.New(nil)
	}
	return &Supervisor{
		log:        log.With(slog.String("component", "supervisor")),
		m:          m,
		minBackoff: time.Second,
		maxBackoff: time.Minute,
	}
}

// Add registers a loop constructor under name. Must be called before Run.
func (s *Supervisor) Add(name string, newRunner func() Runner) {
	s.tasks = append(s.tasks, task{name: name, make: newRunner})
}

// Run starts every registered loop and blocks until ctx is cancelled and
// all of them have returned.
func (s *Supervisor) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, t := range s.tasks {
		wg.Add(1)
		go func(t task) {
			defer wg.Done()
			s.keepAlive(ctx, t)
		}(t)
	}
	s.log.Info("supervising sync loops", slog.Int("count", len(s.tasks)))
	wg.Wait()
}

func (s *Supervisor) keepAlive(ctx context.Context, t task) {
	backoff := s.minBackoff
	for {
		started := time.Now()
		err := runSafely(ctx, t.make())
		if ctx.Err() != nil {
			return
		}
		if err == nil {
			s.log.Warn("sync loop returned early, restarting", slog.String("instrument", t.name))
		} else {
			s.m.LoopRestarts.WithLabelValues(t.name).Inc()
			s.log.Error("sync loop panicked, restarting",
				slog.String("instrument", t.name), slog.Any("error", err), slog.Duration("backoff", backoff))
		}

		// a loop that ran for a while earns a fresh back-off
		if time.Since(started) > s.maxBackoff {
			backoff = s.minBackoff
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, s.maxBackoff)
	}
}

func runSafely(ctx context.Context, r Runner) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v\n%s", rec, debug.Stack())
		}
	}()
	r.Run(ctx)
	return nil
}
