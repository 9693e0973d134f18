//go:build linux

package shmstore

import (
	"github.com/jd3nn1s/racetelem/sensors"
	"github.com/pkg/errors"
	"github.com/shirou/gopsutil/v3/disk"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
	"path/filepath"
	"sync"
	"unsafe"
)

// to allow testing
var shmDir = "/dev/shm"

// Segment is a named POSIX shared memory region mapped into this process.
type Segment struct {
	name     string
	path     string
	mem      []byte
	view     slotView
	n        int
	ino      uint64
	owner    bool
	readOnly bool

	closeOnce sync.Once
	closeErr  error
}

func segmentPath(name string) string {
	return filepath.Join(shmDir, name)
}

// CreateOrAttach creates the named segment with n zeroed slots, or attaches to
// it unaltered if it already exists. Only a segment created here is unlinked
// on Close.
func CreateOrAttach(name string, n int) (*Segment, error) {
	return createOrAttach(name, n, false)
}

// OpenWriter is CreateOrAttach for the process that publishes values. The
// writer owns the segment even when it adopts one left behind by a writer that
// died, so Close always unlinks it and readers notice through Stale.
func OpenWriter(name string, n int) (*Segment, error) {
	return createOrAttach(name, n, true)
}

func createOrAttach(name string, n int, writer bool) (*Segment, error) {
	size := sensors.SizeFor(n)
	if size <= 0 {
		return nil, errors.Errorf("invalid slot count %d", n)
	}
	path := segmentPath(name)

	created := true
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CREAT|unix.O_EXCL, 0600)
	if err == unix.EEXIST {
		created = false
		fd, err = unix.Open(path, unix.O_RDWR, 0)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "unable to open shared memory %s", path)
	}
	defer unix.Close(fd)

	sizeIt := created
	if !created && writer {
		// a writer that died between create and truncate leaves an empty file
		var st unix.Stat_t
		if err := unix.Fstat(fd, &st); err != nil {
			return nil, errors.Wrapf(err, "unable to stat shared memory %s", path)
		}
		sizeIt = st.Size == 0
	}

	if sizeIt {
		if !canCreateOnDevShm(uint64(size), shmDir) {
			if created {
				_ = unix.Unlink(path)
			}
			return nil, errors.Wrapf(ErrNoSpace, "need %d bytes in %s", size, shmDir)
		}
		// a freshly truncated file reads back as zeros, so every slot starts at 0
		if err := unix.Ftruncate(fd, int64(size)); err != nil {
			if created {
				_ = unix.Unlink(path)
			}
			return nil, errors.Wrapf(err, "unable to size shared memory %s", path)
		}
	}
	if created {
		log.WithField("name", name).
			WithField("bytes", size).
			Info("created shared memory")
	} else {
		log.WithField("name", name).
			WithField("writer", writer).
			Info("attached to existing shared memory")
	}

	owner := created || writer
	seg, err := mapSegment(fd, name, path, size, false)
	if err != nil {
		if owner {
			_ = unix.Unlink(path)
		}
		return nil, err
	}
	seg.owner = owner
	return seg, nil
}

// AttachReadOnly maps an existing segment of n slots. It fails with
// ErrNotFound if the writer has not created it yet; callers are expected to
// retry.
func AttachReadOnly(name string, n int) (*Segment, error) {
	size := sensors.SizeFor(n)
	path := segmentPath(name)
	fd, err := unix.Open(path, unix.O_RDONLY, 0)
	if err == unix.ENOENT {
		return nil, errors.Wrapf(ErrNotFound, "attach %s", name)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "unable to open shared memory %s", path)
	}
	defer unix.Close(fd)
	return mapSegment(fd, name, path, size, true)
}

func mapSegment(fd int, name, path string, size int, readOnly bool) (*Segment, error) {
	var st unix.Stat_t
	if err := unix.Fstat(fd, &st); err != nil {
		return nil, errors.Wrapf(err, "unable to stat shared memory %s", path)
	}
	if st.Size == 0 {
		// created but not sized yet by its writer
		return nil, errors.Wrapf(ErrNotFound, "%s is still empty", path)
	}
	if st.Size != int64(size) {
		return nil, errors.Wrapf(ErrSizeMismatch, "%s is %d bytes, expected %d", path, st.Size, size)
	}

	prot := unix.PROT_READ
	if !readOnly {
		prot |= unix.PROT_WRITE
	}
	mem, err := unix.Mmap(fd, 0, size, prot, unix.MAP_SHARED)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to map shared memory %s", path)
	}

	return &Segment{
		name:     name,
		path:     path,
		mem:      mem,
		view:     slotView{s: unsafe.Slice((*uint32)(unsafe.Pointer(&mem[0])), size/sensors.SlotSize)},
		n:        size / sensors.SlotSize,
		ino:      uint64(st.Ino),
		readOnly: readOnly,
	}, nil
}

func (seg *Segment) Name() string {
	return seg.name
}

// Owner reports whether Close will unlink the segment.
func (seg *Segment) Owner() bool {
	return seg.owner
}

func (seg *Segment) Len() int {
	return seg.n
}

// Size is the byte length of the mapping.
func (seg *Segment) Size() int {
	return sensors.SizeFor(seg.n)
}

func (seg *Segment) Read(i sensors.Index) (float32, error) {
	return seg.view.load(i)
}

func (seg *Segment) Write(i sensors.Index, v float32) error {
	if seg.readOnly {
		return ErrReadOnly
	}
	return seg.view.store(i, v)
}

// Stale reports whether the segment this handle maps has been unlinked or
// replaced by a new one with the same name. A stale handle still reads the old
// memory, which no writer updates any more.
func (seg *Segment) Stale() (bool, error) {
	var st unix.Stat_t
	err := unix.Stat(seg.path, &st)
	if err == unix.ENOENT {
		return true, nil
	}
	if err != nil {
		return false, errors.Wrapf(err, "unable to stat shared memory %s", seg.path)
	}
	return uint64(st.Ino) != seg.ino, nil
}

// Close unmaps the segment once no Read or Write is in flight. The owning
// handle also unlinks it; a segment that is already gone is not an error.
// Close is idempotent.
func (seg *Segment) Close() error {
	seg.closeOnce.Do(func() {
		seg.view.release()
		mem := seg.mem
		seg.mem = nil
		if err := unix.Munmap(mem); err != nil {
			seg.closeErr = errors.Wrapf(err, "unable to unmap shared memory %s", seg.path)
		}
		if !seg.owner {
			return
		}
		if err := unix.Unlink(seg.path); err != nil && err != unix.ENOENT {
			seg.closeErr = errors.Wrapf(err, "unable to unlink shared memory %s", seg.path)
			return
		}
		log.WithField("name", seg.name).Info("shared memory unlinked")
	})
	return seg.closeErr
}

// canCreateOnDevShm reports whether the filesystem holding dir has size bytes
// free. If usage cannot be determined creation is attempted anyway.
func canCreateOnDevShm(size uint64, dir string) bool {
	stat, err := disk.Usage(dir)
	if err != nil {
		log.WithField("err", err).Debugf("unable to determine free space of %s", dir)
		return true
	}
	return stat.Free >= size
}
