package consumer

import (
	"context"
	"github.com/cenkalti/backoff/v4"
	"github.com/jd3nn1s/racetelem/sensors"
	"github.com/jd3nn1s/racetelem/shmstore"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"time"
)

// Segment is a store that can tell whether the writer has gone away.
type Segment interface {
	shmstore.Store
	Stale() (bool, error)
}

// to allow testing
var attach = func(name string, n int) (Segment, error) {
	seg, err := shmstore.AttachReadOnly(name, n)
	if err != nil {
		return nil, err
	}
	return seg, nil
}

// Reader is a Consumer over a named segment attached read-only.
type Reader struct {
	*Consumer
	name string
	seg  Segment
}

// DefaultBackOff retries forever, backing off up to two seconds between
// attempts.
func DefaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Millisecond
	b.MaxInterval = 2 * time.Second
	b.MaxElapsedTime = 0
	return b
}

// Dial attaches to the named segment. While the writer has not created it yet
// Dial retries according to b; any other failure is returned immediately.
func Dial(ctx context.Context, name string, speed SpeedConfig, b backoff.BackOff) (*Reader, error) {
	var seg Segment
	op := func() error {
		s, err := attach(name, sensors.Count)
		if err != nil {
			if errors.Is(err, shmstore.ErrNotFound) {
				log.WithField("name", name).Debug("shared memory not created yet, retrying")
				return err
			}
			return backoff.Permanent(err)
		}
		seg = s
		return nil
	}
	if err := backoff.Retry(op, backoff.WithContext(b, ctx)); err != nil {
		return nil, errors.Wrapf(err, "unable to attach to %s", name)
	}
	log.WithField("name", name).Info("attached to shared memory")
	return &Reader{
		Consumer: New(seg, speed),
		name:     name,
		seg:      seg,
	}, nil
}

func (r *Reader) Name() string {
	return r.name
}

// Stale reports whether the writer unlinked or replaced the segment. Readers
// should check it periodically and Dial again when it returns true.
func (r *Reader) Stale() (bool, error) {
	return r.seg.Stale()
}

func (r *Reader) Close() error {
	return r.seg.Close()
}
