package clock

import (
	"sort"
	"sync"
	"time"
)

// Mock is a manually advanced clock. Timers and tickers fire only from
// Advance, which makes backoff schedules observable without sleeping.
type Mock struct {
	mu      sync.Mutex
	now     time.Time
	waiters []*mockWaiter
}

type mockWaiter struct {
	deadline time.Time
	period   time.Duration
	created  time.Duration
	ch       chan time.Time
	stopped  bool
}

// NewMock creates a mock clock starting at start.
func NewMock(start time.Time) *Mock {
	return &Mock{now: start}
}

func (m *Mock) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

func (m *Mock) NewTimer(d time.Duration) Timer {
	return m.add(d, 0)
}

func (m *Mock) NewTicker(d time.Duration) Ticker {
	return &mockTicker{w: m.add(d, d), m: m}
}

func (m *Mock) add(d, period time.Duration) *mockTimer {
	m.mu.Lock()
	defer m.mu.Unlock()
	w := &mockWaiter{
		deadline: m.now.Add(d),
		period:   period,
		created:  d,
		ch:       make(chan time.Time, 1),
	}
	m.waiters = append(m.waiters, w)
	return &mockTimer{w: w, m: m}
}

// Advance moves the clock forward and fires every timer whose deadline has
// passed. Tickers fire once per elapsed period, dropping ticks a slow reader
// has not consumed, like time.Ticker.
func (m *Mock) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)

	kept := m.waiters[:0]
	for _, w := range m.waiters {
		if w.stopped {
			continue
		}
		for !w.deadline.After(m.now) {
			select {
			case w.ch <- m.now:
			default:
			}
			if w.period <= 0 {
				w.stopped = true
				break
			}
			w.deadline = w.deadline.Add(w.period)
		}
		if !w.stopped {
			kept = append(kept, w)
		}
	}
	m.waiters = kept
}

// Pending returns the creation durations of timers and tickers that have not
// fired or been stopped, sorted ascending.
func (m *Mock) Pending() []time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]time.Duration, 0, len(m.waiters))
	for _, w := range m.waiters {
		if !w.stopped {
			out = append(out, w.created)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

type mockTimer struct {
	w *mockWaiter
	m *Mock
}

func (t *mockTimer) C() <-chan time.Time { return t.w.ch }

func (t *mockTimer) Stop() bool {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	active := !t.w.stopped
	t.w.stopped = true
	return active
}

type mockTicker struct {
	w *mockTimer
	m *Mock
}

func (t *mockTicker) C() <-chan time.Time { return t.w.C() }
func (t *mockTicker) Stop()               { t.w.Stop() }
