package sfs

import (
	"testing"

	"github.com/Whoisraeen/Scarlett-OS/internal/vfs"
	"github.com/stretchr/testify/assert"
)

func TestWriteThenReadRoundTrip(t *testing.T) {
	fs := New()
	inode, err := fs.Open("file.txt", vfs.OCREAT, 0644)
	assert.NoError(t, err)

	n, err := fs.Write(inode, 0, []byte("hello world"))
	assert.NoError(t, err)
	assert.Equal(t, 11, n)

	buf := make([]byte, 11)
	n, err = fs.Read(inode, 0, buf)
	assert.NoError(t, err)
	assert.Equal(t, "hello world", string(buf[:n]))
}

func TestSnapshotTriggersCopyOnWriteOnNextWrite(t *testing.T) {
	fs := New()
	inode, err := fs.Open("file.txt", vfs.OCREAT, 0644)
	assert.NoError(t, err)
	_, err = fs.Write(inode, 0, []byte("original"))
	assert.NoError(t, err)

	_, err = fs.Snapshot("snap1")
	assert.NoError(t, err)

	blockID := uint64(inode)<<32 | 0
	assert.True(t, fs.cow.IsShared(blockID), "snapshot should have bumped the block to a shared refcount")

	_, err = fs.Write(inode, 0, []byte("changed!"))
	assert.NoError(t, err)

	assert.False(t, fs.cow.IsShared(blockID), "writing should copy the block and drop the shared reference")

	buf := make([]byte, 8)
	n, err := fs.Read(inode, 0, buf)
	assert.NoError(t, err)
	assert.Equal(t, "changed!", string(buf[:n]))
}

func TestUnlinkRemovesEntry(t *testing.T) {
	fs := New()
	_, err := fs.Open("file.txt", vfs.OCREAT, 0644)
	assert.NoError(t, err)

	assert.NoError(t, fs.Unlink("file.txt"))
	_, err = fs.Open("file.txt", 0, 0)
	assert.Equal(t, vfs.ErrNotFound, err)
}

func TestMkdirRejectsDuplicate(t *testing.T) {
	fs := New()
	assert.NoError(t, fs.Mkdir("sub", 0755))
	assert.Equal(t, vfs.ErrAlreadyExists, fs.Mkdir("sub", 0755))
}

func TestOpenRejectsMissingWithoutCreate(t *testing.T) {
	fs := New()
	_, err := fs.Open("nope.txt", 0, 0)
	assert.Equal(t, vfs.ErrNotFound, err)
}
