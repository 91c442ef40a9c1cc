package input

import (
	"sync/atomic"
	"time"
)

// Mailbox is a bounded latest-wins frame queue. Publish never blocks: when
// the mailbox is full the oldest undelivered frame is discarded.
type Mailbox struct {
	ch      chan *Frame
	dropped atomic.Uint64
}

// NewMailbox creates a mailbox holding at most capacity frames (minimum 1).
func NewMailbox(capacity int) *Mailbox {
	if capacity < 1 {
		capacity = 1
	}
	return &Mailbox{ch: make(chan *Frame, capacity)}
}

// Publish offers a frame, evicting the oldest one if the mailbox is full.
func (m *Mailbox) Publish(f *Frame) {
	for {
		select {
		case m.ch <- f:
			return
		default:
		}
		select {
		case <-m.ch:
			m.dropped.Add(1)
		default:
		}
	}
}

// Take waits up to timeout for the oldest queued frame.
// A non-positive timeout polls without waiting.
func (m *Mailbox) Take(timeout time.Duration) (*Frame, bool) {
	if timeout <= 0 {
		select {
		case f := <-m.ch:
			return f, true
		default:
			return nil, false
		}
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case f := <-m.ch:
		return f, true
	case <-timer.C:
		return nil, false
	}
}

// C exposes the receive side for select loops.
func (m *Mailbox) C() <-chan *Frame {
	return m.ch
}

// Drain discards every queued frame and returns how many were removed.
func (m *Mailbox) Drain() int {
	n := 0
	for {
		select {
		case <-m.ch:
			n++
		default:
			return n
		}
	}
}

// Len reports the number of queued frames.
func (m *Mailbox) Len() int {
	return len(m.ch)
}

// Dropped reports how many frames were evicted by Publish.
func (m *Mailbox) Dropped() uint64 {
	return m.dropped.Load()
}
