package clock

import (
	"sync"
	"time"
)

// Fake is a manually advanced Clock. Advance moves time forward and
// fires any tickers or timers whose deadline has passed.
type Fake struct {
	mu      sync.Mutex
	now     time.Time
	waiters []*fakeWaiter
}

type fakeWaiter struct {
	ch       chan time.Time
	deadline time.Time
	period   time.Duration
	stopped  bool
}

func NewFake() *Fake {
	return &Fake{now: time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)}
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// Advance moves the clock forward, delivering ticks in deadline order.
// Like time.Ticker, delivery never blocks: a tick that finds the channel
// full is dropped.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.now = f.now.Add(d)
	for _, w := range f.waiters {
		for !w.stopped && !w.deadline.After(f.now) {
			select {
			case w.ch <- w.deadline:
			default:
			}
			if w.period > 0 {
				w.deadline = w.deadline.Add(w.period)
			} else {
				w.stopped = true
			}
		}
	}
}

func (f *Fake) NewTicker(d time.Duration) Ticker {
	return fakeTicker{f: f, w: f.addWaiter(d, d)}
}

func (f *Fake) NewTimer(d time.Duration) Timer {
	return fakeTimer{f: f, w: f.addWaiter(d, 0)}
}

func (f *Fake) addWaiter(d, period time.Duration) *fakeWaiter {
	f.mu.Lock()
	defer f.mu.Unlock()

	w := &fakeWaiter{
		ch:       make(chan time.Time, 1),
		deadline: f.now.Add(d),
		period:   period,
	}
	f.waiters = append(f.waiters, w)
	return w
}

func (f *Fake) stopWaiter(w *fakeWaiter) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	active := !w.stopped
	w.stopped = true
	return active
}

type fakeTicker struct {
	f *Fake
	w *fakeWaiter
}

func (t fakeTicker) C() <-chan time.Time {
	return t.w.ch
}

func (t fakeTicker) Stop() {
	t.f.stopWaiter(t.w)
}

type fakeTimer struct {
	f *Fake
	w *fakeWaiter
}

func (t fakeTimer) C() <-chan time.Time {
	return t.w.ch
}

func (t fakeTimer) Stop() bool {
	return t.f.stopWaiter(t.w)
}
