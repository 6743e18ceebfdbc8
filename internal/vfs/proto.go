package vfs

import "encoding/binary"

// Message opcodes for the VFS service's well-known port, one byte at
// the front of every request's inline payload, mirroring the
// dispatch-by-first-byte convention drivermanagerd's wire protocol
// already establishes.
const (
	MsgOpen uint32 = iota + 1
	MsgRead
	MsgWrite
	MsgClose
	MsgStat
	MsgReadDir
	MsgMkdir
	MsgRmdir
	MsgUnlink
	MsgRename
	MsgTruncate
	MsgSync
	MsgMount
)

// Status codes carried in a one-byte response when no structured
// payload follows.
const (
	StatusOK uint8 = 0
	StatusErr uint8 = 1
)

// ErrorToStatus maps a vfs.Error (or nil) to the one-byte wire status,
// collapsing the taxonomy the same way every cross-process reply in
// this codebase collapses an error to a single status byte (spec §7:
// "Original cause is not retained in the cross-process reply").
func ErrorToStatus(err error) uint8 {
	if err == nil {
		return StatusOK
	}
	return StatusErr
}

// statEncodedLen is the fixed wire size of an encoded Stat.
const statEncodedLen = 1 + 8 + 8 + 4 + 8 + 4 + 4 + 4 + 4 + 8 + 8 + 8

// EncodeStat packs st into the VFS wire's fixed-width STAT response
// body.
func EncodeStat(st Stat) []byte {
	buf := make([]byte, statEncodedLen)
	i := 0
	buf[i] = uint8(st.Type)
	i++
	binary.LittleEndian.PutUint64(buf[i:], st.Size)
	i += 8
	binary.LittleEndian.PutUint64(buf[i:], st.Blocks)
	i += 8
	binary.LittleEndian.PutUint32(buf[i:], st.BlockSize)
	i += 4
	binary.LittleEndian.PutUint64(buf[i:], st.Inode)
	i += 8
	binary.LittleEndian.PutUint32(buf[i:], st.Links)
	i += 4
	binary.LittleEndian.PutUint32(buf[i:], st.UID)
	i += 4
	binary.LittleEndian.PutUint32(buf[i:], st.GID)
	i += 4
	binary.LittleEndian.PutUint32(buf[i:], st.Mode)
	i += 4
	binary.LittleEndian.PutUint64(buf[i:], uint64(st.ATime))
	i += 8
	binary.LittleEndian.PutUint64(buf[i:], uint64(st.MTime))
	i += 8
	binary.LittleEndian.PutUint64(buf[i:], uint64(st.CTime))
	return buf
}

// DecodeStat is EncodeStat's inverse.
func DecodeStat(b []byte) (Stat, error) {
	if len(b) < statEncodedLen {
		return Stat{}, ErrInvalidArgument
	}
	i := 0
	st := Stat{Type: FileType(b[i])}
	i++
	st.Size = binary.LittleEndian.Uint64(b[i:])
	i += 8
	st.Blocks = binary.LittleEndian.Uint64(b[i:])
	i += 8
	st.BlockSize = binary.LittleEndian.Uint32(b[i:])
	i += 4
	st.Inode = binary.LittleEndian.Uint64(b[i:])
	i += 8
	st.Links = binary.LittleEndian.Uint32(b[i:])
	i += 4
	st.UID = binary.LittleEndian.Uint32(b[i:])
	i += 4
	st.GID = binary.LittleEndian.Uint32(b[i:])
	i += 4
	st.Mode = binary.LittleEndian.Uint32(b[i:])
	i += 4
	st.ATime = int64(binary.LittleEndian.Uint64(b[i:]))
	i += 8
	st.MTime = int64(binary.LittleEndian.Uint64(b[i:]))
	i += 8
	st.CTime = int64(binary.LittleEndian.Uint64(b[i:]))
	return st, nil
}

// EncodeDirEntries packs a directory listing as a sequence of
// Inode(8) || Type(1) || NameLen(2) || Name entries, the same
// length-prefixed shape as the netstack DNS encoder uses for its
// labels.
func EncodeDirEntries(entries []DirEntry) []byte {
	var buf []byte
	for _, e := range entries {
		hdr := make([]byte, 11)
		binary.LittleEndian.PutUint64(hdr[0:8], e.Inode)
		hdr[8] = uint8(e.Type)
		binary.LittleEndian.PutUint16(hdr[9:11], uint16(len(e.Name)))
		buf = append(buf, hdr...)
		buf = append(buf, e.Name...)
	}
	return buf
}
