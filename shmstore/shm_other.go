//go:build !linux

package shmstore

import (
	"github.com/jd3nn1s/racetelem/sensors"
)

// Segment is only implemented on Linux; use Memory elsewhere.
type Segment struct{}

func CreateOrAttach(name string, n int) (*Segment, error) {
	return nil, ErrUnsupported
}

func OpenWriter(name string, n int) (*Segment, error) {
	return nil, ErrUnsupported
}

func AttachReadOnly(name string, n int) (*Segment, error) {
	return nil, ErrUnsupported
}

func (seg *Segment) Name() string                           { return "" }
func (seg *Segment) Owner() bool                            { return false }
func (seg *Segment) Len() int                               { return 0 }
func (seg *Segment) Size() int                              { return 0 }
func (seg *Segment) Read(i sensors.Index) (float32, error)  { return 0, ErrUnsupported }
func (seg *Segment) Write(i sensors.Index, v float32) error { return ErrUnsupported }
func (seg *Segment) Stale() (bool, error)                   { return true, ErrUnsupported }
func (seg *Segment) Close() error                           { return nil }
