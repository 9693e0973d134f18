//go:build linux

package shmstore

import (
	"github.com/jd3nn1s/racetelem/sensors"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

func useTempShmDir(t *testing.T) func() {
	origShmDir := shmDir
	shmDir = t.TempDir()
	return func() {
		shmDir = origShmDir
	}
}

func TestCreateZeroed(t *testing.T) {
	defer useTempShmDir(t)()

	for _, n := range []int{1, 7, sensors.Count} {
		seg, err := CreateOrAttach("zeroed", n)
		require.NoError(t, err)
		assert.True(t, seg.Owner())
		assert.Equal(t, n, seg.Len())
		assert.Equal(t, 4*n, seg.Size())

		fi, err := os.Stat(filepath.Join(shmDir, "zeroed"))
		require.NoError(t, err)
		assert.Equal(t, int64(4*n), fi.Size())

		for i := 0; i < n; i++ {
			v, err := seg.Read(sensors.Index(i))
			assert.NoError(t, err)
			assert.Equal(t, float32(0), v)
		}
		assert.NoError(t, seg.Close())
	}
}

func TestAttachBeforeCreate(t *testing.T) {
	defer useTempShmDir(t)()

	_, err := AttachReadOnly("mem123", sensors.Count)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))

	writer, err := CreateOrAttach("mem123", sensors.Count)
	require.NoError(t, err)
	defer writer.Close()

	reader, err := AttachReadOnly("mem123", sensors.Count)
	require.NoError(t, err)
	defer reader.Close()

	// updates are visible without reattaching
	require.NoError(t, writer.Write(sensors.MotorSpeed, 3150))
	v, err := reader.Read(sensors.MotorSpeed)
	assert.NoError(t, err)
	assert.Equal(t, float32(3150), v)

	require.NoError(t, writer.Write(sensors.MotorSpeed, 42))
	v, err = reader.Read(sensors.MotorSpeed)
	assert.NoError(t, err)
	assert.Equal(t, float32(42), v)

	assert.Equal(t, ErrReadOnly, reader.Write(sensors.MotorSpeed, 1))
}

func TestAttachExistingKeepsContents(t *testing.T) {
	defer useTempShmDir(t)()

	first, err := CreateOrAttach("keep", 4)
	require.NoError(t, err)
	require.NoError(t, first.Write(2, 12.5))

	second, err := CreateOrAttach("keep", 4)
	require.NoError(t, err)
	assert.False(t, second.Owner())
	v, err := second.Read(2)
	assert.NoError(t, err)
	assert.Equal(t, float32(12.5), v)

	// closing the non-owner leaves the segment in place
	assert.NoError(t, second.Close())
	_, err = os.Stat(filepath.Join(shmDir, "keep"))
	assert.NoError(t, err)

	assert.NoError(t, first.Close())
	_, err = os.Stat(filepath.Join(shmDir, "keep"))
	assert.True(t, os.IsNotExist(err))
}

func TestWriterAdoptsLeftoverSegment(t *testing.T) {
	defer useTempShmDir(t)()

	// a writer that crashed left its segment behind
	path := filepath.Join(shmDir, "mem123")
	require.NoError(t, os.WriteFile(path, make([]byte, sensors.StoreSize()), 0600))

	writer, err := OpenWriter("mem123", sensors.Count)
	require.NoError(t, err)
	assert.True(t, writer.Owner())

	reader, err := AttachReadOnly("mem123", sensors.Count)
	require.NoError(t, err)
	defer reader.Close()

	require.NoError(t, writer.Write(sensors.DCVoltage, 96))
	v, err := reader.Read(sensors.DCVoltage)
	assert.NoError(t, err)
	assert.Equal(t, float32(96), v)

	assert.NoError(t, writer.Close())
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
	stale, err := reader.Stale()
	assert.NoError(t, err)
	assert.True(t, stale)
}

func TestWriterSizesEmptyLeftover(t *testing.T) {
	defer useTempShmDir(t)()

	path := filepath.Join(shmDir, "half")
	require.NoError(t, os.WriteFile(path, nil, 0600))

	writer, err := OpenWriter("half", 4)
	require.NoError(t, err)
	defer writer.Close()
	fi, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, int64(16), fi.Size())
}

func TestAttachBeforeSized(t *testing.T) {
	defer useTempShmDir(t)()

	// the writer has created the file but not truncated it yet
	require.NoError(t, os.WriteFile(filepath.Join(shmDir, "early"), nil, 0600))
	_, err := AttachReadOnly("early", 4)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestCloseWaitsForReaders(t *testing.T) {
	defer useTempShmDir(t)()

	seg, err := CreateOrAttach("busy", 4)
	require.NoError(t, err)

	wg := sync.WaitGroup{}
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				if _, err := seg.Read(1); err != nil {
					assert.Equal(t, ErrClosed, err)
					return
				}
			}
		}()
	}
	assert.NoError(t, seg.Close())
	wg.Wait()
	assert.Equal(t, 4, seg.Len())
	assert.Equal(t, ErrClosed, seg.Write(1, 1))
}

func TestSizeMismatch(t *testing.T) {
	defer useTempShmDir(t)()

	seg, err := CreateOrAttach("sized", 4)
	require.NoError(t, err)
	defer seg.Close()

	_, err = CreateOrAttach("sized", 5)
	assert.True(t, errors.Is(err, ErrSizeMismatch))
	_, err = AttachReadOnly("sized", 3)
	assert.True(t, errors.Is(err, ErrSizeMismatch))

	_, err = CreateOrAttach("empty", 0)
	assert.Error(t, err)
}

func TestCloseIdempotent(t *testing.T) {
	defer useTempShmDir(t)()

	seg, err := CreateOrAttach("twice", 2)
	require.NoError(t, err)
	assert.NoError(t, seg.Close())
	assert.NoError(t, seg.Close())

	_, err = seg.Read(0)
	assert.Equal(t, ErrClosed, err)
	assert.Equal(t, ErrClosed, seg.Write(0, 1))
}

func TestCloseAfterExternalUnlink(t *testing.T) {
	defer useTempShmDir(t)()

	seg, err := CreateOrAttach("gone", 2)
	require.NoError(t, err)
	require.NoError(t, os.Remove(filepath.Join(shmDir, "gone")))
	assert.NoError(t, seg.Close())
}

func TestStale(t *testing.T) {
	defer useTempShmDir(t)()

	writer, err := CreateOrAttach("stale", 2)
	require.NoError(t, err)

	reader, err := AttachReadOnly("stale", 2)
	require.NoError(t, err)
	defer reader.Close()

	stale, err := reader.Stale()
	assert.NoError(t, err)
	assert.False(t, stale)

	assert.NoError(t, writer.Close())
	stale, err = reader.Stale()
	assert.NoError(t, err)
	assert.True(t, stale)

	// a new writer under the same name is a different segment
	writer, err = CreateOrAttach("stale", 2)
	require.NoError(t, err)
	defer writer.Close()
	stale, err = reader.Stale()
	assert.NoError(t, err)
	assert.True(t, stale)
}

func TestCanCreateOnDevShm(t *testing.T) {
	dir := t.TempDir()
	assert.True(t, canCreateOnDevShm(4, dir))
	assert.False(t, canCreateOnDevShm(^uint64(0), dir))
	// unknown paths do not block creation
	assert.True(t, canCreateOnDevShm(4, filepath.Join(dir, "missing")))
}
