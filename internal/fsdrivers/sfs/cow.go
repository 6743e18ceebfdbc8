// Package sfs implements the copy-on-write snapshotting filesystem
// driver: block reference counting, a generation-counted snapshot
// table, and a minimal in-memory filesystem built on top that
// satisfies the vfs.Driver contract.
//
// Grounded on services/vfs/src/sfs/cow.rs (CowManager) and snapshot.rs
// (Snapshot/SnapshotManager), reworked from Rust BTreeMaps into Go
// maps guarded by the same per-manager mutex pattern used everywhere
// else in this codebase.
package sfs

import "sync"

// CowManager tracks how many live references each block has and which
// blocks have been modified since their last snapshot, mirrored from
// cow.rs's CowManager.
type CowManager struct {
	mu            sync.Mutex
	refcounts     map[uint64]uint32
	modifiedBlocks map[uint64]uint64 // block -> generation it was modified in
}

func NewCowManager() *CowManager {
	return &CowManager{refcounts: map[uint64]uint32{}, modifiedBlocks: map[uint64]uint64{}}
}

// IsShared reports whether block has more than one referent, i.e.
// whether writing to it in place would corrupt another snapshot's
// view, mirrored from cow.rs's is_shared.
func (c *CowManager) IsShared(block uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.refcounts[block] > 1
}

// IncRefcount increments block's reference count.
func (c *CowManager) IncRefcount(block uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.refcounts[block]++
}

// DecRefcount decrements block's reference count, removing the entry
// once it reaches zero so the block can be reclaimed.
func (c *CowManager) DecRefcount(block uint64) uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.refcounts[block] == 0 {
		return 0
	}
	c.refcounts[block]--
	n := c.refcounts[block]
	if n == 0 {
		delete(c.refcounts, block)
	}
	return n
}

// MarkModified records that block was rewritten during generation
// gen, mirrored from cow.rs's mark_modified.
func (c *CowManager) MarkModified(block, gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.modifiedBlocks[block] = gen
}

// ClearModified forgets block's modification record, called once a
// snapshot that depended on the distinction is no longer relevant.
func (c *CowManager) ClearModified(block uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.modifiedBlocks, block)
}

// ModifiedSince reports whether block was modified at or after gen.
func (c *CowManager) ModifiedSince(block, gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	modGen, ok := c.modifiedBlocks[block]
	return ok && modGen >= gen
}
