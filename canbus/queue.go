package canbus

import (
	"github.com/Workiva/go-datastructures/queue"
	"github.com/brutella/can"
	"sync"
	"time"
)

// Queue is the bounded hand-off between the bus receive goroutine and the
// decode/write loop. When it is full the newest frame is dropped.
//
// The ring buffer's own Poll spins while empty, so waiting is done on ready,
// which Offer signals after every accepted frame.
type Queue struct {
	rb    *queue.RingBuffer
	ready chan struct{}

	disposed    chan struct{}
	disposeOnce sync.Once

	// OnDrop is called for every frame rejected by Offer.
	OnDrop func(can.Frame)
}

// NewQueue returns a queue holding at least size frames; the capacity is
// rounded up to a power of two.
func NewQueue(size uint64) *Queue {
	return &Queue{
		rb:       queue.NewRingBuffer(size),
		ready:    make(chan struct{}, 1),
		disposed: make(chan struct{}),
	}
}

// Offer enqueues f without blocking and reports whether it was accepted.
func (q *Queue) Offer(f can.Frame) bool {
	ok, err := q.rb.Offer(f)
	if err != nil || !ok {
		if q.OnDrop != nil {
			q.OnDrop(f)
		}
		return false
	}
	select {
	case q.ready <- struct{}{}:
	default:
	}
	return true
}

// Poll waits up to timeout for the next frame. ok is false if the timeout
// expired. After Dispose Poll returns queue.ErrDisposed. Poll must only be
// called from one goroutine.
func (q *Queue) Poll(timeout time.Duration) (f can.Frame, ok bool, err error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		if q.rb.IsDisposed() {
			return can.Frame{}, false, queue.ErrDisposed
		}
		if q.rb.Len() > 0 {
			// single consumer, so Get finds the frame without waiting
			item, err := q.rb.Get()
			if err != nil {
				return can.Frame{}, false, err
			}
			return item.(can.Frame), true, nil
		}
		select {
		case <-q.ready:
		case <-q.disposed:
		case <-timer.C:
			return can.Frame{}, false, nil
		}
	}
}

func (q *Queue) Len() int {
	return int(q.rb.Len())
}

func (q *Queue) Cap() int {
	return int(q.rb.Cap())
}

// Dispose rejects further frames and wakes a waiting Poll.
func (q *Queue) Dispose() {
	q.disposeOnce.Do(func() {
		q.rb.Dispose()
		close(q.disposed)
	})
}

func (q *Queue) Disposed() bool {
	return q.rb.IsDisposed()
}

// Payload returns the data bytes of f. A length code above 8 still carries
// only 8 bytes on a classical CAN bus.
func Payload(f *can.Frame) []byte {
	n := int(f.Length)
	if n > len(f.Data) {
		n = len(f.Data)
	}
	return f.Data[:n]
}
