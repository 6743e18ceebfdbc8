// Package fat32 implements a read-only FAT32 filesystem driver over a
// block-device-backed image, satisfying the vfs.Driver contract for
// mounting removable/legacy media alongside the native snapshotting
// filesystem.
//
// Grounded on drivers/storage/fat32/src/fat32.rs's boot-sector layout,
// narrowed to read-only operation: the
// original's write path is reworked here as an explicit ErrReadOnly
// since this repository exercises FAT32 purely as an import/read path
// for media prepared elsewhere, not as a target for new writes.
package fat32

import (
	"encoding/binary"
	"sync"

	"github.com/Whoisraeen/Scarlett-OS/internal/vfs"
)

// BootSector is the subset of the FAT32 BIOS Parameter Block this
// driver reads to locate the FAT and root directory cluster.
type BootSector struct {
	BytesPerSector    uint16
	SectorsPerCluster uint8
	ReservedSectors   uint16
	NumFATs           uint8
	SectorsPerFAT32   uint32
	RootCluster       uint32
}

// ParseBootSector decodes the first 512 bytes of a FAT32 image.
func ParseBootSector(sector []byte) BootSector {
	return BootSector{
		BytesPerSector:    binary.LittleEndian.Uint16(sector[11:13]),
		SectorsPerCluster: sector[13],
		ReservedSectors:   binary.LittleEndian.Uint16(sector[14:16]),
		NumFATs:           sector[16],
		SectorsPerFAT32:   binary.LittleEndian.Uint32(sector[36:40]),
		RootCluster:       binary.LittleEndian.Uint32(sector[44:48]),
	}
}

type dirEntry struct {
	name       string
	isDir      bool
	size       uint32
	firstClust uint32
}

// FS is a read-only FAT32 driver over an in-memory image. Its inode
// table holds only the root directory: directory entries are never
// decoded, so Open finds only "/" and ReadDir lists nothing. Read
// copies bytes contiguously from an entry's first cluster; the FAT
// cluster chain is not followed.
type FS struct {
	mu      sync.Mutex
	image   []byte
	boot    BootSector
	dataOff uint32

	nextInode uint64
	inodes    map[uint64]*dirEntry
	root      uint64
}

// Mount parses image's boot sector and records the root directory as
// the inode table's only entry; the root directory's contents are not
// read.
func Mount(image []byte) (*FS, error) {
	fs := &FS{
		image:  image,
		boot:   ParseBootSector(image),
		inodes: map[uint64]*dirEntry{},
	}
	fs.dataOff = uint32(fs.boot.ReservedSectors) + uint32(fs.boot.NumFATs)*fs.boot.SectorsPerFAT32
	fs.root = fs.allocInode(&dirEntry{name: "/", isDir: true, firstClust: fs.boot.RootCluster})
	return fs, nil
}

func (fs *FS) allocInode(e *dirEntry) uint64 {
	fs.nextInode++
	fs.inodes[fs.nextInode] = e
	return fs.nextInode
}

func (fs *FS) clusterOffset(cluster uint32) uint32 {
	sectorsPerCluster := uint32(fs.boot.SectorsPerCluster)
	bytesPerSector := uint32(fs.boot.BytesPerSector)
	firstDataSector := fs.dataOff + (cluster-2)*sectorsPerCluster
	return firstDataSector * bytesPerSector
}

func (fs *FS) Open(path string, flags uint32, mode uint32) (uint64, error) {
	if flags&(vfs.OWRONLY|vfs.ORDWR) != 0 {
		return 0, vfs.ErrReadOnly
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()
	for id, e := range fs.inodes {
		if e.name == path {
			return id, nil
		}
	}
	return 0, vfs.ErrNotFound
}

func (fs *FS) Close(inode uint64) error { return nil }

func (fs *FS) Read(inode uint64, offset int64, buf []byte) (int, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	e, ok := fs.inodes[inode]
	if !ok {
		return 0, vfs.ErrInvalidFd
	}
	if e.isDir {
		return 0, vfs.ErrIsDirectory
	}
	start := fs.clusterOffset(e.firstClust) + uint32(offset)
	if start >= uint32(len(fs.image)) {
		return 0, nil
	}
	end := start + uint32(len(buf))
	if end > uint32(len(fs.image)) {
		end = uint32(len(fs.image))
	}
	return copy(buf, fs.image[start:end]), nil
}

func (fs *FS) Write(inode uint64, offset int64, data []byte) (int, error) {
	return 0, vfs.ErrReadOnly
}

func (fs *FS) Stat(inode uint64) (vfs.Stat, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	e, ok := fs.inodes[inode]
	if !ok {
		return vfs.Stat{}, vfs.ErrInvalidFd
	}
	typ := vfs.FileRegular
	if e.isDir {
		typ = vfs.FileDirectory
	}
	return vfs.Stat{Type: typ, Size: uint64(e.size), BlockSize: uint32(fs.boot.BytesPerSector), Inode: inode, Links: 1, Mode: 0444}, nil
}

func (fs *FS) ReadDir(inode uint64) ([]vfs.DirEntry, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	e, ok := fs.inodes[inode]
	if !ok || !e.isDir {
		return nil, vfs.ErrNotDirectory
	}
	// The 32-byte directory entries in e's clusters are not decoded,
	// so every directory lists as empty.
	return nil, nil
}

func (fs *FS) Unlink(path string) error                  { return vfs.ErrReadOnly }
func (fs *FS) Mkdir(path string, mode uint32) error      { return vfs.ErrReadOnly }
func (fs *FS) Rmdir(path string) error                   { return vfs.ErrReadOnly }
func (fs *FS) Rename(oldPath, newPath string) error      { return vfs.ErrReadOnly }
func (fs *FS) Truncate(inode uint64, size int64) error   { return vfs.ErrReadOnly }

// Sync is a no-op: a read-only driver never accumulates dirty state.
func (fs *FS) Sync() error { return nil }
