package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	logging "github.com/ipfs/go-log/v2"
)

var log = logging.Logger("deathcounter/dispatch")

// ErrStopped is returned by Do once the loop has exited.
var ErrStopped = errors.New("dispatch loop stopped")

const queueSize = 256

type stopper interface {
	Stop() bool
}

type tickerStopper struct {
	ticker *clock.Ticker
	done   chan struct{}
}

func (t *tickerStopper) Stop() bool {
	t.ticker.Stop()
	close(t.done)
	return true
}

// Loop serializes callbacks on the goroutine running Run. Timers come from
// the injected clock, so a clock.Mock drives it in tests.
type Loop struct {
	clk   clock.Clock
	queue chan func()
	done  chan struct{}

	mu     sync.Mutex
	next   Handle
	timers map[Handle]stopper

	stopOnce sync.Once
}

// NewLoop creates a Loop. A nil clk uses the wall clock.
func NewLoop(clk clock.Clock) *Loop {
	if clk == nil {
		clk = clock.New()
	}
	return &Loop{
		clk:    clk,
		queue:  make(chan func(), queueSize),
		done:   make(chan struct{}),
		timers: make(map[Handle]stopper),
	}
}

// Run executes queued callbacks until ctx is cancelled. Pending timers are
// stopped on return.
func (l *Loop) Run(ctx context.Context) error {
	defer l.stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case fn := <-l.queue:
			l.exec(fn)
		}
	}
}

// Do runs fn on the loop and waits for it to finish. It must not be called
// from a callback already running on the loop.
func (l *Loop) Do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	wrapped := func() {
		defer close(finished)
		fn()
	}

	select {
	case l.queue <- wrapped:
	case <-ctx.Done():
		return ctx.Err()
	case <-l.done:
		return ErrStopped
	}

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-l.done:
		return ErrStopped
	}
}

func (l *Loop) ScheduleOnce(delay time.Duration, fn func()) Handle {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.next++
	h := l.next
	l.timers[h] = l.clk.AfterFunc(delay, func() {
		l.post(func() {
			if !l.claim(h, true) {
				return
			}
			fn()
		})
	})
	return h
}

func (l *Loop) ScheduleRepeating(interval time.Duration, fn func()) Handle {
	if interval <= 0 {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.next++
	h := l.next
	ts := &tickerStopper{ticker: l.clk.Ticker(interval), done: make(chan struct{})}
	l.timers[h] = ts
	go func() {
		for {
			select {
			case <-ts.done:
				return
			case <-ts.ticker.C:
				l.post(func() {
					if !l.claim(h, false) {
						return
					}
					fn()
				})
			}
		}
	}()
	return h
}

func (l *Loop) Cancel(h Handle) {
	if h == 0 {
		return
	}
	l.mu.Lock()
	t, ok := l.timers[h]
	delete(l.timers, h)
	l.mu.Unlock()
	if ok {
		t.Stop()
	}
}

// Pending returns the number of live timers.
func (l *Loop) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.timers)
}

// claim reports whether h is still live. A fired once-timer is released.
func (l *Loop) claim(h Handle, once bool) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.timers[h]; !ok {
		return false
	}
	if once {
		delete(l.timers, h)
	}
	return true
}

func (l *Loop) post(fn func()) {
	select {
	case l.queue <- fn:
	case <-l.done:
	}
}

func (l *Loop) exec(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorw("dispatch callback panicked", "panic", fmt.Sprint(r))
		}
	}()
	fn()
}

func (l *Loop) stop() {
	l.stopOnce.Do(func() {
		close(l.done)
		l.mu.Lock()
		timers := l.timers
		l.timers = make(map[Handle]stopper)
		l.mu.Unlock()
		for _, t := range timers {
			t.Stop()
		}
	})
}
