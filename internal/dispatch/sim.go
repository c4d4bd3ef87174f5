package dispatch

import (
	"time"
)

type simTask struct {
	due      time.Duration
	interval time.Duration
	fn       func()
}

// Sim is a deterministic Dispatcher driven by Advance. Callbacks run on the
// goroutine calling Advance, in due-time order (ties by scheduling order).
// It is not safe for concurrent use.
type Sim struct {
	now   time.Duration
	next  Handle
	tasks map[Handle]*simTask
}

func NewSim() *Sim {
	return &Sim{tasks: make(map[Handle]*simTask)}
}

// Now returns the simulated time elapsed since creation.
func (s *Sim) Now() time.Duration {
	return s.now
}

// Pending returns the number of scheduled callbacks.
func (s *Sim) Pending() int {
	return len(s.tasks)
}

func (s *Sim) ScheduleOnce(delay time.Duration, fn func()) Handle {
	if delay < 0 {
		delay = 0
	}
	s.next++
	s.tasks[s.next] = &simTask{due: s.now + delay, fn: fn}
	return s.next
}

func (s *Sim) ScheduleRepeating(interval time.Duration, fn func()) Handle {
	if interval <= 0 {
		return 0
	}
	s.next++
	s.tasks[s.next] = &simTask{due: s.now + interval, interval: interval, fn: fn}
	return s.next
}

func (s *Sim) Cancel(h Handle) {
	delete(s.tasks, h)
}

// Advance moves simulated time forward by d, running every callback that
// comes due, including ones scheduled by callbacks during the advance.
func (s *Sim) Advance(d time.Duration) {
	target := s.now + d
	for {
		h, t := s.earliest(target)
		if t == nil {
			break
		}
		s.now = t.due
		if t.interval > 0 {
			t.due += t.interval
		} else {
			delete(s.tasks, h)
		}
		t.fn()
	}
	s.now = target
}

func (s *Sim) earliest(limit time.Duration) (Handle, *simTask) {
	var (
		bestH Handle
		best  *simTask
	)
	for h, t := range s.tasks {
		if t.due > limit {
			continue
		}
		if best == nil || t.due < best.due || (t.due == best.due && h < bestH) {
			bestH, best = h, t
		}
	}
	return bestH, best
}
