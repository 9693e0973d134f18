// Package shmstore holds the sensor values shared between the single writer
// process and any number of readers: a dense array of float32 slots with no
// header, no version field and no locking between processes.
//
// Each slot is stored and loaded atomically, so a reader never sees half of a
// float. Nothing ties slots together: a reader may observe some of the values
// decoded from one frame before the others are written.
package shmstore

import (
	"github.com/jd3nn1s/racetelem/sensors"
	"github.com/pkg/errors"
	"math"
	"sync"
	"sync/atomic"
)

var (
	ErrNotFound     = errors.New("shared memory segment not found")
	ErrOutOfRange   = errors.New("slot index out of range")
	ErrReadOnly     = errors.New("shared memory segment is attached read-only")
	ErrClosed       = errors.New("shared memory segment is closed")
	ErrSizeMismatch = errors.New("shared memory segment has unexpected size")
	ErrNoSpace      = errors.New("not enough free shared memory")
	ErrUnsupported  = errors.New("named shared memory is not supported on this platform")
)

// Store is a fixed number of float32 slots addressed by index.
type Store interface {
	Read(i sensors.Index) (float32, error)
	Write(i sensors.Index, v float32) error
	Len() int
	Close() error
}

// slots is the float32 array viewed as raw bits so that every access can go
// through sync/atomic.
type slots []uint32

func (s slots) check(i sensors.Index) error {
	if s == nil {
		return ErrClosed
	}
	if int(i) >= len(s) {
		return errors.Wrapf(ErrOutOfRange, "index %d, %d slots", i, len(s))
	}
	return nil
}

func (s slots) load(i sensors.Index) (float32, error) {
	if err := s.check(i); err != nil {
		return 0, err
	}
	return math.Float32frombits(atomic.LoadUint32(&s[i])), nil
}

func (s slots) store(i sensors.Index, v float32) error {
	if err := s.check(i); err != nil {
		return err
	}
	atomic.StoreUint32(&s[i], math.Float32bits(v))
	return nil
}

// slotView guards the lifetime of a slots mapping within this process. Reads
// and writes hold the read lock, so Close cannot release the memory under
// them; afterwards every access returns ErrClosed.
type slotView struct {
	mu sync.RWMutex
	s  slots
}

func (v *slotView) load(i sensors.Index) (float32, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.s.load(i)
}

func (v *slotView) store(i sensors.Index, f float32) error {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.s.store(i, f)
}

// release detaches the slots once no access is in flight.
func (v *slotView) release() {
	v.mu.Lock()
	v.s = nil
	v.mu.Unlock()
}

// Memory is an in-process Store for deployments where the writer and its
// readers are goroutines of one process.
type Memory struct {
	view slotView
	n    int
}

func NewMemory(n int) *Memory {
	return &Memory{
		view: slotView{s: make(slots, n)},
		n:    n,
	}
}

func (m *Memory) Read(i sensors.Index) (float32, error) {
	return m.view.load(i)
}

func (m *Memory) Write(i sensors.Index, v float32) error {
	return m.view.store(i, v)
}

func (m *Memory) Len() int {
	return m.n
}

// Size is the byte length of the slots.
func (m *Memory) Size() int {
	return sensors.SizeFor(m.n)
}

func (m *Memory) Close() error {
	m.view.release()
	return nil
}
