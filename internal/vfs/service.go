package vfs

import (
	"sync"

	"github.com/pkg/errors"
)

// Service is the VFS service's in-memory state: the mount table shared
// by every client, and one FDTable per client process (keyed by the
// sender identity the kernel stamps on every request, per spec §3's
// "Per-VFS-client" FileDescriptor scoping).
type Service struct {
	mu       sync.Mutex
	Mounts   *MountTable
	fdTables map[uint64]*FDTable
}

func NewService(mounts *MountTable) *Service {
	return &Service{Mounts: mounts, fdTables: map[uint64]*FDTable{}}
}

func (s *Service) fdTableFor(pid uint64) *FDTable {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.fdTables[pid]
	if !ok {
		t = NewFDTable()
		s.fdTables[pid] = t
	}
	return t
}

// Open resolves path against the mount table, asks the owning driver
// to open it, and allocates a descriptor in pid's table.
func (s *Service) Open(pid uint64, path string, flags, mode uint32) (int, error) {
	mp, rel, err := s.Mounts.Resolve(path)
	if err != nil {
		return -1, err
	}
	inode, err := mp.Driver.Open(rel, flags, mode)
	if err != nil {
		return -1, err
	}
	fd, err := s.fdTableFor(pid).Alloc(FileDescriptor{Mount: mp, Inode: inode, Flags: flags})
	if err != nil {
		return -1, err
	}
	return fd, nil
}

// Read advances fd's offset by the number of bytes actually read.
func (s *Service) Read(pid uint64, fd int, count uint32) ([]byte, error) {
	f, err := s.fdTableFor(pid).Get(fd)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, count)
	n, err := f.Mount.Driver.Read(f.Inode, f.Offset, buf)
	if err != nil {
		return nil, err
	}
	f.Offset += int64(n)
	return buf[:n], nil
}

// Write advances fd's offset by the number of bytes actually written.
func (s *Service) Write(pid uint64, fd int, data []byte) (int, error) {
	f, err := s.fdTableFor(pid).Get(fd)
	if err != nil {
		return 0, err
	}
	n, err := f.Mount.Driver.Write(f.Inode, f.Offset, data)
	if err != nil {
		return 0, err
	}
	f.Offset += int64(n)
	return n, nil
}

// Close releases fd from pid's table.
func (s *Service) Close(pid uint64, fd int) error {
	return s.fdTableFor(pid).Release(fd)
}

func (s *Service) Stat(pid uint64, fd int) (Stat, error) {
	f, err := s.fdTableFor(pid).Get(fd)
	if err != nil {
		return Stat{}, err
	}
	return f.Mount.Driver.Stat(f.Inode)
}

func (s *Service) ReadDir(pid uint64, fd int) ([]DirEntry, error) {
	f, err := s.fdTableFor(pid).Get(fd)
	if err != nil {
		return nil, err
	}
	return f.Mount.Driver.ReadDir(f.Inode)
}

func (s *Service) Mkdir(path string, mode uint32) error {
	mp, rel, err := s.Mounts.Resolve(path)
	if err != nil {
		return err
	}
	return mp.Driver.Mkdir(rel, mode)
}

func (s *Service) Rmdir(path string) error {
	mp, rel, err := s.Mounts.Resolve(path)
	if err != nil {
		return err
	}
	return mp.Driver.Rmdir(rel)
}

func (s *Service) Unlink(path string) error {
	mp, rel, err := s.Mounts.Resolve(path)
	if err != nil {
		return err
	}
	return mp.Driver.Unlink(rel)
}

// Rename requires both paths to resolve to the same mount: the spec
// names no cross-filesystem move semantics, and no filesystem driver
// here implements one.
func (s *Service) Rename(oldPath, newPath string) error {
	oldMP, oldRel, err := s.Mounts.Resolve(oldPath)
	if err != nil {
		return err
	}
	newMP, newRel, err := s.Mounts.Resolve(newPath)
	if err != nil {
		return err
	}
	if oldMP.Path != newMP.Path {
		return errors.Wrap(ErrNotSupported, "vfs: rename across mount points")
	}
	return oldMP.Driver.Rename(oldRel, newRel)
}

func (s *Service) Truncate(pid uint64, fd int, size int64) error {
	f, err := s.fdTableFor(pid).Get(fd)
	if err != nil {
		return err
	}
	return f.Mount.Driver.Truncate(f.Inode, size)
}

// Sync flushes every mounted filesystem driver.
func (s *Service) Sync() error {
	s.Mounts.mu.RLock()
	mounts := append([]MountPoint{}, s.Mounts.mounts...)
	s.Mounts.mu.RUnlock()

	for _, mp := range mounts {
		if err := mp.Driver.Sync(); err != nil {
			return err
		}
	}
	return nil
}

// Mount records a new mount point, enforcing the spec's invariant that
// the root mount must exist before any non-root mount is accepted.
func (s *Service) Mount(path string, driver Driver) error {
	if path != "/" {
		if _, _, err := s.Mounts.Resolve("/"); err != nil {
			return errors.Wrap(ErrInvalidArgument, "vfs: root mount must exist before any other mount")
		}
	}
	return s.Mounts.Mount(path, driver)
}

// Unmount fails while any live file descriptor, across any client,
// still references the mount at path.
func (s *Service) Unmount(path string) error {
	s.mu.Lock()
	for _, t := range s.fdTables {
		t.mu.Lock()
		for _, f := range t.files {
			if f.Mount.Path == path {
				t.mu.Unlock()
				s.mu.Unlock()
				return errors.Wrapf(ErrInvalidArgument, "vfs: %s has open file descriptors", path)
			}
		}
		t.mu.Unlock()
	}
	s.mu.Unlock()
	return s.Mounts.Unmount(path)
}
