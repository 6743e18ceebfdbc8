package wm

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// wireEventSize is the fixed encoding used to carry an InputEvent over
// an IPC message's inline payload from a driver to the input hub.
const wireEventSize = 1 + 4 + 4 + 4 + 1 + 1

// EncodeEvent packs ev into the hub's wire format.
func EncodeEvent(ev InputEvent) []byte {
	buf := make([]byte, wireEventSize)
	buf[0] = byte(ev.Kind)
	binary.LittleEndian.PutUint32(buf[1:5], ev.Key)
	binary.LittleEndian.PutUint32(buf[5:9], uint32(ev.DX))
	binary.LittleEndian.PutUint32(buf[9:13], uint32(ev.DY))
	buf[13] = ev.Button
	if ev.Pressed {
		buf[14] = 1
	}
	return buf
}

// DecodeEvent is the inverse of EncodeEvent.
func DecodeEvent(buf []byte) (InputEvent, error) {
	if len(buf) < wireEventSize {
		return InputEvent{}, errors.Errorf("wm: short event payload (%d bytes)", len(buf))
	}
	return InputEvent{
		Kind:    EventKind(buf[0]),
		Key:     binary.LittleEndian.Uint32(buf[1:5]),
		DX:      int32(binary.LittleEndian.Uint32(buf[5:9])),
		DY:      int32(binary.LittleEndian.Uint32(buf[9:13])),
		Button:  buf[13],
		Pressed: buf[14] != 0,
	}, nil
}

// DecodeScancode translates a raw PS/2-style scancode byte into an
// InputEvent, filling in the TODO the original keyboard driver left
// as a bare read loop with no decode logic. Only the make/break bit
// (bit 7) is interpreted; the remaining 7 bits are passed through as
// the key code, which is sufficient for the set-1 codes this driver
// targets.
func DecodeScancode(b byte) InputEvent {
	released := b&0x80 != 0
	key := uint32(b &^ 0x80)
	if released {
		return InputEvent{Kind: EventKeyUp, Key: key}
	}
	return InputEvent{Kind: EventKeyDown, Key: key, Pressed: true}
}

// DecodeMousePacket translates a 3-byte PS/2 mouse packet (button
// state byte, signed dx, signed dy) into an InputEvent, filling in the
// same kind of TODO left empty in the original mouse driver.
func DecodeMousePacket(packet [3]byte) InputEvent {
	dx := int32(int8(packet[1]))
	dy := int32(int8(packet[2]))
	buttons := packet[0] & 0x07
	return InputEvent{
		Kind:   EventMouseMove,
		DX:     dx,
		DY:     dy,
		Button: buttons,
	}
}
