package ipc

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSendReceiveRoundTrip(t *testing.T) {
	p := CreatePort(9001)
	defer p.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	var msg Message
	assert.NoError(t, msg.SetInline([]byte("hello")))
	assert.NoError(t, Send(ctx, p, msg))

	got, err := Receive(ctx, p)
	assert.NoError(t, err)
	assert.Equal(t, []byte("hello"), got.Payload())
}

func TestSetInlineRejectsOversizedPayload(t *testing.T) {
	var msg Message
	oversized := make([]byte, InlineCapacity+1)
	assert.Error(t, msg.SetInline(oversized))
}

func TestLookupFindsRegisteredPort(t *testing.T) {
	p := CreatePort(9002)
	defer p.Close()

	found, ok := Lookup(9002)
	assert.True(t, ok)
	assert.Equal(t, p, found)
}

func TestReplySetsResponseKind(t *testing.T) {
	p := CreatePort(9003)
	defer p.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	assert.NoError(t, Reply(ctx, p, Message{Type: KindRequest}))
	got, err := Receive(ctx, p)
	assert.NoError(t, err)
	assert.Equal(t, KindResponse, got.Type)
}
