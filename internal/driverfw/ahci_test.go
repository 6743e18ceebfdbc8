package driverfw

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memBackend is an in-memory BlockBackend for exercising AhciPort
// without a real disk image.
type memBackend struct {
	data []byte
}

func (b *memBackend) ReadAt(p []byte, off int64) (int, error) {
	return copy(p, b.data[off:off+int64(len(p))]), nil
}

func (b *memBackend) WriteAt(p []byte, off int64) (int, error) {
	return copy(b.data[off:off+int64(len(p))], p), nil
}

func TestAhciPortReadWriteRoundTrip(t *testing.T) {
	const sectorSize = 512
	backend := &memBackend{data: make([]byte, sectorSize*4)}
	port := NewAhciPort(backend, sectorSize)

	write := make([]byte, sectorSize)
	for i := range write {
		write[i] = byte(i)
	}

	ctx := context.Background()
	_, err := port.Execute(ctx, AhciOpWrite, 1, 1, write)
	require.NoError(t, err)

	read, err := port.Execute(ctx, AhciOpRead, 1, 1, nil)
	require.NoError(t, err)
	assert.Equal(t, write, read)
	assert.Equal(t, 0, port.Resets())
}

// blockingBackend never completes, to exercise the deadline/reset
// path spec §4.7 names.
type blockingBackend struct{ unblock chan struct{} }

func (b *blockingBackend) ReadAt(p []byte, off int64) (int, error) {
	<-b.unblock
	return len(p), nil
}

func (b *blockingBackend) WriteAt(p []byte, off int64) (int, error) {
	<-b.unblock
	return len(p), nil
}

func TestAhciPortTimeoutResetsController(t *testing.T) {
	backend := &blockingBackend{unblock: make(chan struct{})}
	defer close(backend.unblock)

	port := NewAhciPort(backend, 512)
	port.SetDeadline(10 * time.Millisecond)

	_, err := port.Execute(context.Background(), AhciOpRead, 0, 1, nil)
	assert.Error(t, err)
	assert.Equal(t, 1, port.Resets())
}
