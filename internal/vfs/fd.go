package vfs

import (
	"sync"

	"github.com/pkg/errors"
)

// MaxOpenFilesPerProcess bounds a process's file descriptor table,
// mirrored from file_ops.rs's TooManyOpenFiles error existing to
// guard exactly this limit.
const MaxOpenFilesPerProcess = 256

// FileDescriptor is one entry in a process's open-file table: which
// mount and inode it refers to, the current seek offset, and the
// flags it was opened with.
type FileDescriptor struct {
	Mount  MountPoint
	Inode  uint64
	Offset int64
	Flags  uint32
}

// FDTable is one process's open-file table.
type FDTable struct {
	mu    sync.Mutex
	files map[int]*FileDescriptor
	next  int
}

func NewFDTable() *FDTable {
	return &FDTable{files: map[int]*FileDescriptor{}, next: 3} // 0,1,2 reserved for stdio
}

// Alloc assigns a new descriptor to fd, failing once
// MaxOpenFilesPerProcess is reached.
func (t *FDTable) Alloc(fd FileDescriptor) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.files) >= MaxOpenFilesPerProcess {
		return -1, ErrTooManyOpenFiles
	}
	n := t.next
	t.next++
	t.files[n] = &fd
	return n, nil
}

func (t *FDTable) Get(fd int) (*FileDescriptor, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	f, ok := t.files[fd]
	if !ok {
		return nil, ErrInvalidFd
	}
	return f, nil
}

// Release closes and removes fd from the table, calling the owning
// mount's driver Close so the underlying filesystem can release
// in-memory state for the inode.
func (t *FDTable) Release(fd int) error {
	t.mu.Lock()
	f, ok := t.files[fd]
	if !ok {
		t.mu.Unlock()
		return ErrInvalidFd
	}
	delete(t.files, fd)
	t.mu.Unlock()

	if err := f.Mount.Driver.Close(f.Inode); err != nil {
		return errors.Wrap(err, "vfs: close")
	}
	return nil
}

// Seek updates fd's offset per whence, mirroring file_ops.rs's
// SEEK_SET/CUR/END semantics.
func (t *FDTable) Seek(fd int, offset int64, whence int) (int64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	f, ok := t.files[fd]
	if !ok {
		return 0, ErrInvalidFd
	}
	switch whence {
	case SeekSet:
		f.Offset = offset
	case SeekCur:
		f.Offset += offset
	case SeekEnd:
		st, err := f.Mount.Driver.Stat(f.Inode)
		if err != nil {
			return 0, err
		}
		f.Offset = int64(st.Size) + offset
	default:
		return 0, ErrInvalidArgument
	}
	return f.Offset, nil
}
