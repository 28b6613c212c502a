package fittext

import "sync"

// Loop is the default Scheduler: a single goroutine running callbacks in
// submission order. A Controller that is not given a Scheduler owns one of
// these per bind and closes it on detach.
type Loop struct {
	mu     sync.Mutex
	queue  []*loopTask
	wake   chan struct{}
	closed bool
}

var _ Scheduler = (*Loop)(nil)

type loopTask struct {
	fn       func()
	canceled bool // guarded by Loop.mu
}

// NewLoop starts the loop goroutine.
func NewLoop() *Loop {
	l := &Loop{wake: make(chan struct{}, 1)}
	go l.run()
	return l
}

// Schedule enqueues fn. The returned cancel is a no-op once fn has run.
func (l *Loop) Schedule(fn func()) (cancel func()) {
	t := &loopTask{fn: fn}
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return func() {}
	}
	l.queue = append(l.queue, t)
	// Non-blocking send to coalesce wakeups; one token drains the whole
	// queue.
	select {
	case l.wake <- struct{}{}:
	default:
	}
	l.mu.Unlock()

	return func() {
		l.mu.Lock()
		t.canceled = true
		l.mu.Unlock()
	}
}

// Close drops pending callbacks and stops the goroutine. It does not wait
// for a callback that is already running.
func (l *Loop) Close() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	l.queue = nil
	close(l.wake)
	l.mu.Unlock()
}

func (l *Loop) run() {
	for range l.wake {
		for {
			l.mu.Lock()
			if l.closed || len(l.queue) == 0 {
				l.mu.Unlock()
				break
			}
			t := l.queue[0]
			l.queue = l.queue[1:]
			canceled := t.canceled
			l.mu.Unlock()
			if !canceled {
				t.fn()
			}
		}
	}
}
