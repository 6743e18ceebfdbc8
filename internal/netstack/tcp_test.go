package netstack

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTcpHandshakeAndDataTransfer(t *testing.T) {
	server := NewConnection(IPv4{10, 0, 0, 1}, 80)
	assert.NoError(t, server.Listen())

	client := NewConnection(IPv4{10, 0, 0, 2}, 4000)
	syn, err := client.Connect(IPv4{10, 0, 0, 1}, 80, 100)
	assert.NoError(t, err)
	assert.Equal(t, TcpSynSent, client.State)

	synAck, err := server.HandleSegment(syn, 500)
	assert.NoError(t, err)
	assert.Equal(t, TcpSynReceived, server.State)
	assert.NotNil(t, synAck)
	assert.Equal(t, FlagSYN|FlagACK, synAck.Flags)

	ack, err := client.HandleSegment(*synAck, 0)
	assert.NoError(t, err)
	assert.Equal(t, TcpEstablished, client.State)
	assert.NotNil(t, ack)

	_, err = server.HandleSegment(*ack, 0)
	assert.NoError(t, err)
	assert.Equal(t, TcpEstablished, server.State)

	data := TcpSegment{SrcPort: client.LocalPort, DstPort: server.LocalPort, SeqNum: server.RcvNxt, Flags: FlagPSH, Payload: []byte("hi")}
	dataAck, err := server.HandleSegment(data, 0)
	assert.NoError(t, err)
	assert.NotNil(t, dataAck)

	buf := make([]byte, 2)
	n, err := server.Read(buf)
	assert.NoError(t, err)
	assert.Equal(t, "hi", string(buf[:n]))
}

func TestTcpOutOfOrderSegmentIsDropped(t *testing.T) {
	server := NewConnection(IPv4{10, 0, 0, 1}, 80)
	assert.NoError(t, server.Listen())
	server.State = TcpEstablished
	server.RcvNxt = 1000

	reply, err := server.HandleSegment(TcpSegment{SeqNum: 2000, Payload: []byte("late")}, 0)
	assert.NoError(t, err)
	assert.Nil(t, reply)

	buf := make([]byte, 16)
	n, _ := server.Read(buf)
	assert.Equal(t, 0, n)
}

func TestTcpActiveCloseSequence(t *testing.T) {
	c := NewConnection(IPv4{10, 0, 0, 1}, 80)
	c.State = TcpEstablished

	fin, err := c.Close()
	assert.NoError(t, err)
	assert.Equal(t, TcpFinWait1, c.State)
	assert.Equal(t, FlagFIN|FlagACK, fin.Flags)

	_, err = c.HandleSegment(TcpSegment{Flags: FlagACK}, 0)
	assert.NoError(t, err)
	assert.Equal(t, TcpFinWait2, c.State)

	_, err = c.HandleSegment(TcpSegment{Flags: FlagFIN, SeqNum: 1}, 0)
	assert.NoError(t, err)
	assert.Equal(t, TcpTimeWait, c.State)
}

func TestConnectionTableRejectsOverCapacity(t *testing.T) {
	table := NewConnectionTable()
	for i := 0; i < MaxTCPConnections; i++ {
		c := NewConnection(IPv4{10, 0, 0, 1}, uint16(i))
		assert.NoError(t, table.Add(c))
	}
	overflow := NewConnection(IPv4{10, 0, 0, 1}, 9999)
	assert.Error(t, table.Add(overflow))
}
