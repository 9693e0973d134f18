package consumer

import (
	"context"
	"github.com/cenkalti/backoff/v4"
	"github.com/jd3nn1s/racetelem/sensors"
	"github.com/jd3nn1s/racetelem/shmstore"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"testing"
	"time"
)

type segmentStub struct {
	*shmstore.Memory
	stale  bool
	closed bool
}

func (s *segmentStub) Stale() (bool, error) {
	return s.stale, nil
}

func (s *segmentStub) Close() error {
	s.closed = true
	return nil
}

func stubAttach(fn func(name string, n int) (Segment, error)) func() {
	origAttach := attach
	attach = fn
	return func() {
		attach = origAttach
	}
}

func TestDialRetriesNotFound(t *testing.T) {
	seg := &segmentStub{Memory: shmstore.NewMemory(sensors.Count)}
	attempts := 0
	defer stubAttach(func(name string, n int) (Segment, error) {
		assert.Equal(t, "mem123", name)
		assert.Equal(t, sensors.Count, n)
		attempts++
		if attempts < 3 {
			return nil, errors.Wrap(shmstore.ErrNotFound, "attach mem123")
		}
		return seg, nil
	})()

	r, err := Dial(context.Background(), "mem123", DefaultSpeedConfig(),
		backoff.NewConstantBackOff(time.Millisecond))
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, "mem123", r.Name())

	// writes made after attach are visible through the reader
	require.NoError(t, seg.Write(sensors.MotorSpeed, 1200))
	v, err := r.Get(sensors.MotorSpeed)
	assert.NoError(t, err)
	assert.Equal(t, float32(1200), v)

	stale, err := r.Stale()
	assert.NoError(t, err)
	assert.False(t, stale)
	seg.stale = true
	stale, _ = r.Stale()
	assert.True(t, stale)

	assert.NoError(t, r.Close())
	assert.True(t, seg.closed)
}

func TestDialPermanentError(t *testing.T) {
	attempts := 0
	defer stubAttach(func(name string, n int) (Segment, error) {
		attempts++
		return nil, shmstore.ErrSizeMismatch
	})()

	_, err := Dial(context.Background(), "mem123", DefaultSpeedConfig(),
		backoff.NewConstantBackOff(time.Millisecond))
	require.Error(t, err)
	assert.True(t, errors.Is(err, shmstore.ErrSizeMismatch))
	assert.Equal(t, 1, attempts)
}

func TestDialGivesUp(t *testing.T) {
	defer stubAttach(func(name string, n int) (Segment, error) {
		return nil, shmstore.ErrNotFound
	})()

	_, err := Dial(context.Background(), "mem123", DefaultSpeedConfig(),
		backoff.WithMaxRetries(backoff.NewConstantBackOff(time.Millisecond), 2))
	require.Error(t, err)
	assert.True(t, errors.Is(err, shmstore.ErrNotFound))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = Dial(ctx, "mem123", DefaultSpeedConfig(), DefaultBackOff())
	assert.Error(t, err)
}
