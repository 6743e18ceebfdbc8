package sfs

import (
	"sync"
	"time"

	"github.com/Whoisraeen/Scarlett-OS/internal/vfs"
)

// node is one in-memory inode: either a regular file's block list or
// a directory's child-name-to-inode map. Writing to a shared block
// (IsShared) copies it first rather than mutating in place, giving the
// snapshot-then-write path actual copy-on-write semantics instead of
// just bookkeeping.
type node struct {
	typ      vfs.FileType
	blocks   [][]byte
	children map[string]uint64
	size     uint64
}

// FS is a minimal in-memory filesystem driver satisfying vfs.Driver,
// backed by the CoW and snapshot managers above it. It exists to give
// the snapshot/rollback/refcounting semantics a concrete filesystem to
// operate over rather than leaving them unexercised bookkeeping.
type FS struct {
	mu        sync.Mutex
	cow       *CowManager
	snapshots *SnapshotManager
	nodes     map[uint64]*node
	nextInode uint64
	root      uint64
}

const blockSize = 4096

func New() *FS {
	fs := &FS{
		cow:       NewCowManager(),
		snapshots: NewSnapshotManager(),
		nodes:     map[uint64]*node{},
		nextInode: 1,
	}
	fs.root = fs.allocInode(vfs.FileDirectory)
	fs.nodes[fs.root].children = map[string]uint64{}
	return fs
}

func (fs *FS) allocInode(typ vfs.FileType) uint64 {
	id := fs.nextInode
	fs.nextInode++
	fs.nodes[id] = &node{typ: typ}
	if typ == vfs.FileDirectory {
		fs.nodes[id].children = map[string]uint64{}
	}
	return id
}

func (fs *FS) Open(path string, flags uint32, mode uint32) (uint64, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	inode, ok := fs.nodes[fs.root].children[path]
	if !ok {
		if flags&vfs.OCREAT == 0 {
			return 0, vfs.ErrNotFound
		}
		inode = fs.allocInode(vfs.FileRegular)
		fs.nodes[fs.root].children[path] = inode
		return inode, nil
	}
	if flags&vfs.OEXCL != 0 {
		return 0, vfs.ErrAlreadyExists
	}
	if flags&vfs.OTRUNC != 0 {
		n := fs.nodes[inode]
		n.blocks = nil
		n.size = 0
	}
	return inode, nil
}

func (fs *FS) Close(inode uint64) error { return nil }

func (fs *FS) Read(inode uint64, offset int64, buf []byte) (int, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	n, ok := fs.nodes[inode]
	if !ok {
		return 0, vfs.ErrInvalidFd
	}
	if n.typ == vfs.FileDirectory {
		return 0, vfs.ErrIsDirectory
	}
	if uint64(offset) >= n.size {
		return 0, nil
	}

	read := 0
	for read < len(buf) && uint64(offset)+uint64(read) < n.size {
		pos := uint64(offset) + uint64(read)
		blockIdx := pos / blockSize
		blockOff := pos % blockSize
		if int(blockIdx) >= len(n.blocks) {
			break
		}
		block := n.blocks[blockIdx]
		c := copy(buf[read:], block[blockOff:])
		read += c
	}
	return read, nil
}

func (fs *FS) Write(inode uint64, offset int64, data []byte) (int, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	n, ok := fs.nodes[inode]
	if !ok {
		return 0, vfs.ErrInvalidFd
	}
	if n.typ == vfs.FileDirectory {
		return 0, vfs.ErrIsDirectory
	}

	written := 0
	for written < len(data) {
		pos := uint64(offset) + uint64(written)
		blockIdx := int(pos / blockSize)
		blockOff := pos % blockSize

		for len(n.blocks) <= blockIdx {
			n.blocks = append(n.blocks, make([]byte, blockSize))
		}

		blockID := uint64(inode)<<32 | uint64(blockIdx)
		if fs.cow.IsShared(blockID) {
			fresh := make([]byte, blockSize)
			copy(fresh, n.blocks[blockIdx])
			n.blocks[blockIdx] = fresh
			fs.cow.DecRefcount(blockID)
		}
		fs.cow.MarkModified(blockID, fs.snapshots.CurrentGeneration())

		c := copy(n.blocks[blockIdx][blockOff:], data[written:])
		written += c
	}

	newSize := uint64(offset) + uint64(written)
	if newSize > n.size {
		n.size = newSize
	}
	return written, nil
}

func (fs *FS) Stat(inode uint64) (vfs.Stat, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	n, ok := fs.nodes[inode]
	if !ok {
		return vfs.Stat{}, vfs.ErrInvalidFd
	}
	now := time.Now().Unix()
	return vfs.Stat{
		Type:      n.typ,
		Size:      n.size,
		Blocks:    uint64(len(n.blocks)),
		BlockSize: blockSize,
		Inode:     inode,
		Links:     1,
		Mode:      0644,
		ATime:     now,
		MTime:     now,
		CTime:     now,
	}, nil
}

func (fs *FS) ReadDir(inode uint64) ([]vfs.DirEntry, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	n, ok := fs.nodes[inode]
	if !ok {
		return nil, vfs.ErrInvalidFd
	}
	if n.typ != vfs.FileDirectory {
		return nil, vfs.ErrNotDirectory
	}
	out := make([]vfs.DirEntry, 0, len(n.children))
	for name, childInode := range n.children {
		out = append(out, vfs.DirEntry{Inode: childInode, Type: fs.nodes[childInode].typ, Name: name})
	}
	return out, nil
}

func (fs *FS) Unlink(path string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	root := fs.nodes[fs.root]
	inode, ok := root.children[path]
	if !ok {
		return vfs.ErrNotFound
	}
	if fs.nodes[inode].typ == vfs.FileDirectory && len(fs.nodes[inode].children) > 0 {
		return vfs.ErrNotEmpty
	}
	delete(root.children, path)
	delete(fs.nodes, inode)
	return nil
}

func (fs *FS) Mkdir(path string, mode uint32) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	root := fs.nodes[fs.root]
	if _, exists := root.children[path]; exists {
		return vfs.ErrAlreadyExists
	}
	inode := fs.allocInode(vfs.FileDirectory)
	root.children[path] = inode
	return nil
}

// Rmdir removes an empty directory, mirroring Unlink's not-empty guard
// but restricted to directory inodes.
func (fs *FS) Rmdir(path string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	root := fs.nodes[fs.root]
	inode, ok := root.children[path]
	if !ok {
		return vfs.ErrNotFound
	}
	n := fs.nodes[inode]
	if n.typ != vfs.FileDirectory {
		return vfs.ErrNotDirectory
	}
	if len(n.children) > 0 {
		return vfs.ErrNotEmpty
	}
	delete(root.children, path)
	delete(fs.nodes, inode)
	return nil
}

// Rename moves the inode at oldPath to newPath within the root
// namespace, failing if oldPath does not exist or newPath is taken.
func (fs *FS) Rename(oldPath, newPath string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	root := fs.nodes[fs.root]
	inode, ok := root.children[oldPath]
	if !ok {
		return vfs.ErrNotFound
	}
	if _, exists := root.children[newPath]; exists {
		return vfs.ErrAlreadyExists
	}
	delete(root.children, oldPath)
	root.children[newPath] = inode
	return nil
}

// Truncate resizes a regular file's block list to size, zero-filling
// any new blocks or dropping trailing ones, the same shrink/grow
// semantics as Open's O_TRUNC branch generalized to an arbitrary size.
func (fs *FS) Truncate(inode uint64, size int64) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	n, ok := fs.nodes[inode]
	if !ok {
		return vfs.ErrInvalidFd
	}
	if n.typ == vfs.FileDirectory {
		return vfs.ErrIsDirectory
	}
	wantBlocks := (int(size) + blockSize - 1) / blockSize
	if size == 0 {
		wantBlocks = 0
	}
	for len(n.blocks) < wantBlocks {
		n.blocks = append(n.blocks, make([]byte, blockSize))
	}
	n.blocks = n.blocks[:wantBlocks]
	n.size = uint64(size)
	return nil
}

// Sync is a no-op: this filesystem holds no buffered blocks outside
// the CoW-tracked node table itself, so there is nothing to flush.
func (fs *FS) Sync() error { return nil }

// Snapshot creates a snapshot of the current root, bumping every block
// currently reachable from it to refcount >= 2 so the next write to
// any of them triggers copy-on-write in Write.
func (fs *FS) Snapshot(name string) (Snapshot, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	for inode, n := range fs.nodes {
		for blockIdx := range n.blocks {
			id := uint64(inode)<<32 | uint64(blockIdx)
			fs.cow.IncRefcount(id)
			// Write does not count the live file's own reference, so a
			// block still unshared after the snapshot's bump gets that
			// reference counted here as well.
			if !fs.cow.IsShared(id) {
				fs.cow.IncRefcount(id)
			}
		}
	}
	return fs.snapshots.CreateSnapshot(name, fs.root, nil), nil
}
