// Package debugger implements the JDWP-compatible remote debugger
// subsystem (spec §4.8-§4.10): wire transport and packet framing, the
// object/class/method ID map, the GC root-pinning map, the breakpoint
// opcode-substitution table, single-step tracking, and the event
// matching/dispatch engine.
package debugger

import (
	"encoding/binary"
	"fmt"
)

// PacketStream assembles a JDWP packet's payload into a growable buffer,
// matching spec §4.8's "segmented buffers decouple packet assembly from
// transport writes" — Go's append-based growth gives the same
// decoupling without hand-rolled fixed-size nodes, which the teacher's
// own code never needed since it only ever read JDWP packets, never
// wrote them; this is new wire-protocol plumbing this domain requires.
type PacketStream struct {
	buf []byte
}

func NewPacketStream() *PacketStream { return &PacketStream{} }

// StreamBookmark records a position a placeholder integer was written at,
// so the writer can back-patch the real count once a variable-length
// payload (AllClasses, AllThreads, Frames, event lists) has been fully
// enumerated (spec §4.8).
type StreamBookmark struct {
	offset int
}

func (p *PacketStream) Bytes() []byte { return p.buf }
func (p *PacketStream) Len() int      { return len(p.buf) }

func (p *PacketStream) WriteByte(b byte) { p.buf = append(p.buf, b) }

func (p *PacketStream) WriteBool(b bool) {
	if b {
		p.WriteByte(1)
	} else {
		p.WriteByte(0)
	}
}

func (p *PacketStream) WriteInt16(v int16) {
	p.buf = binary.BigEndian.AppendUint16(p.buf, uint16(v))
}

// WriteInt32Bookmark writes a placeholder int32 (zero) and returns a
// bookmark to its offset for later back-patching via PatchInt32.
func (p *PacketStream) WriteInt32Bookmark() StreamBookmark {
	b := StreamBookmark{offset: len(p.buf)}
	p.buf = binary.BigEndian.AppendUint32(p.buf, 0)
	return b
}

func (p *PacketStream) PatchInt32(b StreamBookmark, v int32) {
	binary.BigEndian.PutUint32(p.buf[b.offset:], uint32(v))
}

func (p *PacketStream) WriteInt32(v int32) {
	p.buf = binary.BigEndian.AppendUint32(p.buf, uint32(v))
}

func (p *PacketStream) WriteInt64(v int64) {
	p.buf = binary.BigEndian.AppendUint64(p.buf, uint64(v))
}

// WriteObjectID/WriteReferenceTypeID write spec §4.8's 32-bit debugger ID
// map indices; WriteFieldID/WriteMethodID/WriteFrameID write the
// machine-pointer-sized (here: always 8-byte, the widest this VM ever
// needs) variants.
func (p *PacketStream) WriteObjectID(id int64)      { p.WriteInt32(int32(id)) }
func (p *PacketStream) WriteReferenceTypeID(id int64) { p.WriteInt32(int32(id)) }
func (p *PacketStream) WriteFieldID(id int64)       { p.WriteInt64(id) }
func (p *PacketStream) WriteMethodID(id int64)      { p.WriteInt64(id) }
func (p *PacketStream) WriteFrameID(id int64)       { p.WriteInt64(id) }

func (p *PacketStream) WriteString(s string) {
	p.WriteInt32(int32(len(s)))
	p.buf = append(p.buf, s...)
}

// PacketReader decodes a command packet's data section sequentially; it
// never needs bookmarks since it only moves forward.
type PacketReader struct {
	buf []byte
	pos int
}

func NewPacketReader(data []byte) *PacketReader { return &PacketReader{buf: data} }

func (r *PacketReader) remaining() int { return len(r.buf) - r.pos }

func (r *PacketReader) ReadByte() (byte, error) {
	if r.remaining() < 1 {
		return 0, fmt.Errorf("debugger: short read for byte")
	}
	b := r.buf[r.pos]
	r.pos++
	return b, nil
}

func (r *PacketReader) ReadBool() (bool, error) {
	b, err := r.ReadByte()
	return b != 0, err
}

func (r *PacketReader) ReadInt32() (int32, error) {
	if r.remaining() < 4 {
		return 0, fmt.Errorf("debugger: short read for int32")
	}
	v := int32(binary.BigEndian.Uint32(r.buf[r.pos:]))
	r.pos += 4
	return v, nil
}

func (r *PacketReader) ReadInt64() (int64, error) {
	if r.remaining() < 8 {
		return 0, fmt.Errorf("debugger: short read for int64")
	}
	v := int64(binary.BigEndian.Uint64(r.buf[r.pos:]))
	r.pos += 8
	return v, nil
}

func (r *PacketReader) ReadObjectID() (int64, error) {
	v, err := r.ReadInt32()
	return int64(v), err
}
func (r *PacketReader) ReadReferenceTypeID() (int64, error) { return r.ReadObjectID() }
func (r *PacketReader) ReadFieldID() (int64, error)         { return r.ReadInt64() }
func (r *PacketReader) ReadMethodID() (int64, error)        { return r.ReadInt64() }
func (r *PacketReader) ReadFrameID() (int64, error)         { return r.ReadInt64() }

func (r *PacketReader) ReadString() (string, error) {
	n, err := r.ReadInt32()
	if err != nil {
		return "", err
	}
	if r.remaining() < int(n) {
		return "", fmt.Errorf("debugger: short read for string")
	}
	s := string(r.buf[r.pos : r.pos+int(n)])
	r.pos += int(n)
	return s, nil
}

// CommandHeader is a decoded JDWP command packet header (spec §4.8
// framing): [length:4][id:4][flags:1=0x00][cmd_set:1][cmd:1][data...].
type CommandHeader struct {
	ID     int32
	CmdSet byte
	Cmd    byte
}

const (
	flagsReply = 0x80
)

// DecodeCommand parses a full command packet (length field already
// stripped by the transport framer) into its header and data section.
func DecodeCommand(pkt []byte) (CommandHeader, []byte, error) {
	if len(pkt) < 7 {
		return CommandHeader{}, nil, fmt.Errorf("debugger: command packet too short")
	}
	id := int32(binary.BigEndian.Uint32(pkt[0:4]))
	flags := pkt[4]
	if flags&flagsReply != 0 {
		return CommandHeader{}, nil, fmt.Errorf("debugger: expected command, got reply flags")
	}
	return CommandHeader{ID: id, CmdSet: pkt[5], Cmd: pkt[6]}, pkt[7:], nil
}

// EncodeReply assembles a full reply packet: length prefix, echoed id,
// reply flags, error code, and data.
func EncodeReply(id int32, errorCode int16, data []byte) []byte {
	out := make([]byte, 0, 11+len(data))
	out = binary.BigEndian.AppendUint32(out, uint32(11+len(data)))
	out = binary.BigEndian.AppendUint32(out, uint32(id))
	out = append(out, flagsReply)
	out = binary.BigEndian.AppendUint16(out, uint16(errorCode))
	out = append(out, data...)
	return out
}

// EncodeCommand assembles a full command packet, used only for
// VM-initiated event composite packets (cmd_set 64, cmd 100 "Composite").
func EncodeCommand(id int32, cmdSet, cmd byte, data []byte) []byte {
	out := make([]byte, 0, 11+len(data))
	out = binary.BigEndian.AppendUint32(out, uint32(11+len(data)))
	out = binary.BigEndian.AppendUint32(out, uint32(id))
	out = append(out, 0x00, cmdSet, cmd)
	out = append(out, data...)
	return out
}
