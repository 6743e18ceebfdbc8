package sfs

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsSharedReflectsRefcount(t *testing.T) {
	c := NewCowManager()
	assert.False(t, c.IsShared(1))

	c.IncRefcount(1)
	assert.False(t, c.IsShared(1), "a single reference is not shared")

	c.IncRefcount(1)
	assert.True(t, c.IsShared(1))

	c.DecRefcount(1)
	assert.False(t, c.IsShared(1))
}

func TestDecRefcountRemovesEntryAtZero(t *testing.T) {
	c := NewCowManager()
	c.IncRefcount(5)
	n := c.DecRefcount(5)
	assert.Equal(t, uint32(0), n)
	assert.Equal(t, uint32(0), c.DecRefcount(5), "decrementing an already-zero block stays at zero")
}

func TestModifiedSinceTracksGeneration(t *testing.T) {
	c := NewCowManager()
	c.MarkModified(10, 5)
	assert.True(t, c.ModifiedSince(10, 5))
	assert.True(t, c.ModifiedSince(10, 3))
	assert.False(t, c.ModifiedSince(10, 6))

	c.ClearModified(10)
	assert.False(t, c.ModifiedSince(10, 0))
}
