// Package vfs implements the virtual filesystem service: the
// per-process file descriptor table, the mount table (resolved by
// longest-prefix match), and indirection to whichever filesystem
// driver owns a given mount.
//
// Grounded on services/vfs/src/{vfs,file_ops}.rs for the FD table and
// error taxonomy, and on mount.go's Mount struct / HasOption helpers
// for the shape of a mount-table entry, generalized from host-mount
// introspection to dispatching to an in-process filesystem driver.
package vfs

import (
	"sort"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var vfsLog = logrus.WithField("source", "vfs")

func logger() *logrus.Entry {
	return vfsLog.WithField("subsystem", "vfs")
}

// Open flags, mirrored verbatim from file_ops.rs's O_* constants.
const (
	ORDONLY   uint32 = 0x0000
	OWRONLY   uint32 = 0x0001
	ORDWR     uint32 = 0x0002
	OCREAT    uint32 = 0x0040
	OEXCL     uint32 = 0x0080
	OTRUNC    uint32 = 0x0200
	OAPPEND   uint32 = 0x0400
	ODIRECTORY uint32 = 0x10000
)

// Seek whence values, mirrored from file_ops.rs's SEEK_*.
const (
	SeekSet = iota
	SeekCur
	SeekEnd
)

// FileType enumerates the kinds of directory entries the VFS can
// report, mirrored from file_ops.rs's FileType enum.
type FileType uint8

const (
	FileUnknown FileType = iota
	FileRegular
	FileDirectory
	FileSymlink
	FileCharDevice
	FileBlockDevice
	FileFifo
	FileSocket
)

// Error is the VFS error taxonomy, mirrored 1:1 from file_ops.rs's
// VfsError enum so a filesystem driver's failure can be reported back
// to a caller without losing which POSIX-shaped case it was.
type Error struct {
	Code string
}

func (e *Error) Error() string { return "vfs: " + e.Code }

var (
	ErrNotFound         = &Error{"not found"}
	ErrPermissionDenied = &Error{"permission denied"}
	ErrAlreadyExists    = &Error{"already exists"}
	ErrInvalidArgument  = &Error{"invalid argument"}
	ErrIOError          = &Error{"io error"}
	ErrNotDirectory     = &Error{"not a directory"}
	ErrIsDirectory      = &Error{"is a directory"}
	ErrNotEmpty         = &Error{"directory not empty"}
	ErrNoSpace          = &Error{"no space left"}
	ErrNameTooLong      = &Error{"name too long"}
	ErrReadOnly         = &Error{"read-only filesystem"}
	ErrNotSupported     = &Error{"not supported"}
	ErrInvalidFd        = &Error{"invalid file descriptor"}
	ErrTooManyOpenFiles = &Error{"too many open files"}
)

// Stat mirrors file_ops.rs's FileStat.
type Stat struct {
	Type      FileType
	Size      uint64
	Blocks    uint64
	BlockSize uint32
	Inode     uint64
	Links     uint32
	UID, GID  uint32
	Mode      uint32
	ATime, MTime, CTime int64
}

// DirEntry mirrors file_ops.rs's DirEntry.
type DirEntry struct {
	Inode uint64
	Type  FileType
	Name  string
}

// Driver is implemented by each filesystem driver (sfs, fat32, ...)
// and is what a MountPoint dispatches to once the VFS has resolved a
// path to a mount.
type Driver interface {
	Open(path string, flags uint32, mode uint32) (inode uint64, err error)
	Close(inode uint64) error
	Read(inode uint64, offset int64, buf []byte) (int, error)
	Write(inode uint64, offset int64, data []byte) (int, error)
	Stat(inode uint64) (Stat, error)
	ReadDir(inode uint64) ([]DirEntry, error)
	Unlink(path string) error
	Mkdir(path string, mode uint32) error
	Rmdir(path string) error
	Rename(oldPath, newPath string) error
	Truncate(inode uint64, size int64) error
	Sync() error
}

// MountPoint binds a path prefix to a filesystem driver instance.
type MountPoint struct {
	Path   string
	Driver Driver
}

// MountTable resolves a path to its owning mount by longest-prefix
// match, mirrored from mount.go's HasOptionPrefix-style prefix
// matching generalized from mount-option lookup to mount-point
// resolution.
type MountTable struct {
	mu     sync.RWMutex
	mounts []MountPoint
}

func NewMountTable() *MountTable {
	return &MountTable{}
}

// Mount adds path -> driver, keeping mounts sorted longest-prefix
// first so Resolve always finds the most specific match.
func (t *MountTable) Mount(path string, driver Driver) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, m := range t.mounts {
		if m.Path == path {
			return errors.Errorf("vfs: %s is already a mount point", path)
		}
	}
	t.mounts = append(t.mounts, MountPoint{Path: path, Driver: driver})
	sort.Slice(t.mounts, func(i, j int) bool {
		return len(t.mounts[i].Path) > len(t.mounts[j].Path)
	})
	return nil
}

// Unmount removes the mount at path.
func (t *MountTable) Unmount(path string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, m := range t.mounts {
		if m.Path == path {
			t.mounts = append(t.mounts[:i], t.mounts[i+1:]...)
			return nil
		}
	}
	return errors.Errorf("vfs: %s is not a mount point", path)
}

// Resolve returns the mount owning path and the path relative to that
// mount's root, by longest-prefix match over the mount table.
func (t *MountTable) Resolve(path string) (MountPoint, string, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, m := range t.mounts {
		if m.Path == "/" || strings.HasPrefix(path, m.Path) {
			rel := path
			if m.Path != "/" {
				rel = strings.TrimPrefix(path, m.Path)
			}
			if rel == "" {
				rel = "/"
			}
			return m, rel, nil
		}
	}
	return MountPoint{}, "", errors.Wrapf(ErrNotFound, "vfs: no mount covers %s", path)
}
