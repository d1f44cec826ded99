package broadcast

import (
	"sync"

	"github.com/pkg/errors"
)

var (
	ErrSinkFull   = errors.New("sink buffer full")
	ErrSinkClosed = errors.New("sink closed")
)

// Sink receives events. Accept must not block; a non-nil error removes the
// sink from the hub.
type Sink interface {
	Accept(ev Event) error
}

type SinkFunc func(ev Event) error

func (f SinkFunc) Accept(ev Event) error { return f(ev) }

const DefaultQueueSize = 64

// Queue is a bounded sink drained by the connection that owns it. A full
// buffer closes the queue so a slow reader drops out instead of stalling the
// publisher.
type Queue struct {
	ch        chan Event
	done      chan struct{}
	closeOnce sync.Once
}

func NewQueue(size int) *Queue {
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &Queue{
		ch:   make(chan Event, size),
		done: make(chan struct{}),
	}
}

func (q *Queue) Accept(ev Event) error {
	select {
	case <-q.done:
		return ErrSinkClosed
	default:
	}
	select {
	case q.ch <- ev:
		return nil
	default:
		q.Close()
		return ErrSinkFull
	}
}

// Events yields queued events. It is never closed; select on Done as well.
func (q *Queue) Events() <-chan Event { return q.ch }

func (q *Queue) Done() <-chan struct{} { return q.done }

func (q *Queue) Close() {
	q.closeOnce.Do(func() { close(q.done) })
}
