package monitor

import (
	"sync"
	"time"

	"github.com/juju/clock"
)

// PollListener is sampled by a poll group on its interval.
type PollListener interface {
	Sample()
}

// Scheduler drives sampling clocks. Listeners with the same interval
// share one poll group and therefore one timer goroutine. All timers run
// on the injected clock, so tests advance a testclock instead of waiting.
type Scheduler struct {
	mu      sync.Mutex
	clk     clock.Clock
	groups  map[time.Duration]*pollGroup
	stopped bool
}

// NewScheduler creates a sampling scheduler on the given clock.
func NewScheduler(clk clock.Clock) *Scheduler {
	return &Scheduler{
		clk:    clk,
		groups: make(map[time.Duration]*pollGroup),
	}
}

// Register adds a listener to the poll group of the given interval,
// creating the group on first use. Intervals are clamped to the
// supported sampling bounds.
func (s *Scheduler) Register(interval time.Duration, l PollListener) {
	interval = reviseSamplingInterval(interval)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	g, ok := s.groups[interval]
	if !ok {
		g = newPollGroup(s.clk, interval)
		s.groups[interval] = g
	}
	g.add(l)
}

// Unregister removes a listener from its poll group. The group's timer
// stops once the last listener leaves.
func (s *Scheduler) Unregister(interval time.Duration, l PollListener) {
	interval = reviseSamplingInterval(interval)

	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.groups[interval]
	if !ok {
		return
	}
	if g.remove(l) == 0 {
		g.stop()
		delete(s.groups, interval)
	}
}

// Stop halts all poll groups. Stop is idempotent; a stopped scheduler
// ignores further registrations.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.stopped = true
	for interval, g := range s.groups {
		g.stop()
		delete(s.groups, interval)
	}
}

// pollGroup samples all its listeners on one shared ticker.
type pollGroup struct {
	mu        sync.Mutex
	interval  time.Duration
	listeners map[PollListener]struct{}
	done      chan struct{}
}

func newPollGroup(clk clock.Clock, interval time.Duration) *pollGroup {
	g := &pollGroup{
		interval:  interval,
		listeners: make(map[PollListener]struct{}),
		done:      make(chan struct{}),
	}
	go g.run(clk)
	return g
}

func (g *pollGroup) run(clk clock.Clock) {
	timer := clk.NewTimer(g.interval)
	defer timer.Stop()
	for {
		select {
		case <-g.done:
			return
		case <-timer.Chan():
			g.mu.Lock()
			snapshot := make([]PollListener, 0, len(g.listeners))
			for l := range g.listeners {
				snapshot = append(snapshot, l)
			}
			g.mu.Unlock()
			for _, l := range snapshot {
				l.Sample()
			}
			timer.Reset(g.interval)
		}
	}
}

func (g *pollGroup) add(l PollListener) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.listeners[l] = struct{}{}
}

// remove deletes the listener and returns the remaining count.
func (g *pollGroup) remove(l PollListener) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.listeners, l)
	return len(g.listeners)
}

func (g *pollGroup) stop() {
	close(g.done)
}
