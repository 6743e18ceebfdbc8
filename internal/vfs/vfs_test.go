package vfs

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type stubDriver struct {
	size uint64
}

func (s *stubDriver) Open(path string, flags, mode uint32) (uint64, error) { return 1, nil }
func (s *stubDriver) Close(inode uint64) error                             { return nil }
func (s *stubDriver) Read(inode uint64, offset int64, buf []byte) (int, error) {
	return 0, nil
}
func (s *stubDriver) Write(inode uint64, offset int64, data []byte) (int, error) {
	return len(data), nil
}
func (s *stubDriver) Stat(inode uint64) (Stat, error)            { return Stat{Size: s.size}, nil }
func (s *stubDriver) ReadDir(inode uint64) ([]DirEntry, error)   { return nil, nil }
func (s *stubDriver) Unlink(path string) error                  { return nil }
func (s *stubDriver) Mkdir(path string, mode uint32) error      { return nil }
func (s *stubDriver) Rmdir(path string) error                   { return nil }
func (s *stubDriver) Rename(oldPath, newPath string) error      { return nil }
func (s *stubDriver) Truncate(inode uint64, size int64) error   { return nil }
func (s *stubDriver) Sync() error                               { return nil }

func TestMountTableResolvesLongestPrefix(t *testing.T) {
	table := NewMountTable()
	root := &stubDriver{}
	data := &stubDriver{}
	assert.NoError(t, table.Mount("/", root))
	assert.NoError(t, table.Mount("/data", data))

	mount, rel, err := table.Resolve("/data/file.txt")
	assert.NoError(t, err)
	assert.Same(t, data, mount.Driver)
	assert.Equal(t, "/file.txt", rel)

	mount, rel, err = table.Resolve("/etc/config")
	assert.NoError(t, err)
	assert.Same(t, root, mount.Driver)
	assert.Equal(t, "/etc/config", rel)
}

func TestMountRejectsDuplicatePath(t *testing.T) {
	table := NewMountTable()
	assert.NoError(t, table.Mount("/", &stubDriver{}))
	assert.Error(t, table.Mount("/", &stubDriver{}))
}

func TestUnmountRemovesMountPoint(t *testing.T) {
	table := NewMountTable()
	assert.NoError(t, table.Mount("/data", &stubDriver{}))
	assert.NoError(t, table.Unmount("/data"))
	_, _, err := table.Resolve("/data/x")
	assert.Error(t, err)
}

func TestFDTableAllocGetRelease(t *testing.T) {
	table := NewFDTable()
	fd, err := table.Alloc(FileDescriptor{Mount: MountPoint{Driver: &stubDriver{}}, Inode: 5})
	assert.NoError(t, err)
	assert.Equal(t, 3, fd, "first allocated fd follows stdio reservation")

	got, err := table.Get(fd)
	assert.NoError(t, err)
	assert.Equal(t, uint64(5), got.Inode)

	assert.NoError(t, table.Release(fd))
	_, err = table.Get(fd)
	assert.Error(t, err)
}

func TestFDTableSeek(t *testing.T) {
	table := NewFDTable()
	fd, err := table.Alloc(FileDescriptor{Mount: MountPoint{Driver: &stubDriver{size: 100}}})
	assert.NoError(t, err)

	off, err := table.Seek(fd, 10, SeekSet)
	assert.NoError(t, err)
	assert.Equal(t, int64(10), off)

	off, err = table.Seek(fd, 5, SeekCur)
	assert.NoError(t, err)
	assert.Equal(t, int64(15), off)

	off, err = table.Seek(fd, 0, SeekEnd)
	assert.NoError(t, err)
	assert.Equal(t, int64(100), off)
}

func TestFDTableAllocRejectsOverCapacity(t *testing.T) {
	table := NewFDTable()
	for i := 0; i < MaxOpenFilesPerProcess; i++ {
		_, err := table.Alloc(FileDescriptor{Mount: MountPoint{Driver: &stubDriver{}}})
		assert.NoError(t, err)
	}
	_, err := table.Alloc(FileDescriptor{Mount: MountPoint{Driver: &stubDriver{}}})
	assert.Equal(t, ErrTooManyOpenFiles, err)
}
