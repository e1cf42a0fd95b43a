// Package scheduler drives the periodic poll and dispatch loops.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/go-pkgz/lgr"

	"crossfeed/pkg/dispatch"
	"crossfeed/pkg/feed"
)

// Poller runs one feed poll cycle
type Poller interface {
	PollDueFeeds(ctx context.Context) (*feed.PollResult, error)
}

// Dispatcher runs one delivery cycle
type Dispatcher interface {
	RunCycle(ctx context.Context) (*dispatch.Result, error)
}

// Scheduler owns the background loops. Both loops fire immediately on
// start, then on their intervals, and stop when the context is cancelled.
type Scheduler struct {
	poller     Poller
	dispatcher Dispatcher

	pollInterval     time.Duration
	dispatchInterval time.Duration

	wg     sync.WaitGroup
	cancel context.CancelFunc
	mu     sync.Mutex
}

// NewScheduler creates a scheduler; zero intervals get defaults of one
// minute for polling and thirty seconds for dispatch
func NewScheduler(poller Poller, dispatcher Dispatcher, pollInterval, dispatchInterval time.Duration) *Scheduler {
	if pollInterval <= 0 {
		pollInterval = time.Minute
	}
	if dispatchInterval <= 0 {
		dispatchInterval = 30 * time.Second
	}
	return &Scheduler{
		poller:           poller,
		dispatcher:       dispatcher,
		pollInterval:     pollInterval,
		dispatchInterval: dispatchInterval,
	}
}

// Start launches the background loops
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return // already running
	}

	ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(2)
	go s.loop(ctx, "poll", s.pollInterval, func(ctx context.Context) {
		if _, err := s.poller.PollDueFeeds(ctx); err != nil && ctx.Err() == nil {
			lgr.Printf("[ERROR] poll cycle: %v", err)
		}
	})
	go s.loop(ctx, "dispatch", s.dispatchInterval, func(ctx context.Context) {
		if _, err := s.dispatcher.RunCycle(ctx); err != nil && ctx.Err() == nil {
			lgr.Printf("[ERROR] dispatch cycle: %v", err)
		}
	})

	lgr.Printf("[INFO] scheduler started, poll every %v, dispatch every %v", s.pollInterval, s.dispatchInterval)
}

// Stop cancels the loops and waits for in-flight cycles to finish
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
	lgr.Printf("[INFO] scheduler stopped")
}

// PollNow runs one poll cycle on demand, outside the periodic loop
func (s *Scheduler) PollNow(ctx context.Context) (*feed.PollResult, error) {
	return s.poller.PollDueFeeds(ctx)
}

// DispatchNow runs one dispatch cycle on demand
func (s *Scheduler) DispatchNow(ctx context.Context) (*dispatch.Result, error) {
	return s.dispatcher.RunCycle(ctx)
}

func (s *Scheduler) loop(ctx context.Context, name string, interval time.Duration, run func(context.Context)) {
	defer s.wg.Done()

	run(ctx) // first cycle fires immediately

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			lgr.Printf("[DEBUG] %s loop stopped", name)
			return
		case <-ticker.C:
			run(ctx)
		}
	}
}
