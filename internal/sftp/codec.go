package sftp

import (
	"encoding/binary"
	"fmt"
	"io"
)

// SFTP version 3 message types.
const (
	msgInit     = 1
	msgVersion  = 2
	msgOpen     = 3
	msgClose    = 4
	msgRead     = 5
	msgWrite    = 6
	msgLstat    = 7
	msgFstat    = 8
	msgSetstat  = 9
	msgFsetstat = 10
	msgOpendir  = 11
	msgReaddir  = 12
	msgRemove   = 13
	msgMkdir    = 14
	msgRmdir    = 15
	msgRealpath = 16
	msgStat     = 17

	msgStatus = 101
	msgHandle = 102
	msgData   = 103
	msgName   = 104
	msgAttrs  = 105
)

// SFTP version 3 status codes. These are the only codes that ever cross the
// wire; internal errors are translated before responding.
const (
	statusOK               = 0
	statusEOF              = 1
	statusNoSuchFile       = 2
	statusPermissionDenied = 3
	statusFailure          = 4
	statusBadMessage       = 5
	statusOpUnsupported    = 8
)

// Open pflags.
const (
	pflagRead   = 0x00000001
	pflagWrite  = 0x00000002
	pflagAppend = 0x00000004
	pflagCreate = 0x00000008
	pflagTrunc  = 0x00000010
	pflagExcl   = 0x00000020
)

// File attribute flags.
const (
	attrSize        = 0x00000001
	attrUIDGID      = 0x00000002
	attrPermissions = 0x00000004
	attrACModTime   = 0x00000008
	attrExtended    = 0x80000000
)

const (
	protocolVersion = 3

	// maxPacket bounds a single request frame. Clients normally cap WRITE
	// payloads at 32 KiB; anything past this is a framing error, not data.
	maxPacket = 1 << 20
)

// readPacket reads one length-framed packet and returns its type byte and
// payload (excluding the type byte).
func readPacket(r io.Reader) (byte, []byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return 0, nil, err
	}
	length := binary.BigEndian.Uint32(lenBuf[:])
	if length < 1 {
		return 0, nil, fmt.Errorf("packet length %d too short", length)
	}
	if length > maxPacket {
		return 0, nil, fmt.Errorf("packet length %d exceeds limit %d", length, maxPacket)
	}
	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return 0, nil, err
	}
	return body[0], body[1:], nil
}

// writePacket frames and writes one packet of the given type.
func writePacket(w io.Writer, typ byte, payload []byte) error {
	frame := make([]byte, 5, 5+len(payload))
	binary.BigEndian.PutUint32(frame, uint32(len(payload)+1))
	frame[4] = typ
	frame = append(frame, payload...)
	_, err := w.Write(frame)
	return err
}

// decoder reads big-endian primitives from a packet payload with bounds
// checks. A short or oversized field is a protocol error, never a panic.
type decoder struct {
	b []byte
	o int
}

func newDecoder(b []byte) *decoder {
	return &decoder{b: b}
}

func (d *decoder) remaining() int { return len(d.b) - d.o }

func (d *decoder) readUint32() (uint32, error) {
	if d.remaining() < 4 {
		return 0, fmt.Errorf("need 4 bytes")
	}
	v := binary.BigEndian.Uint32(d.b[d.o : d.o+4])
	d.o += 4
	return v, nil
}

func (d *decoder) readUint64() (uint64, error) {
	if d.remaining() < 8 {
		return 0, fmt.Errorf("need 8 bytes")
	}
	v := binary.BigEndian.Uint64(d.b[d.o : d.o+8])
	d.o += 8
	return v, nil
}

func (d *decoder) readBytes() ([]byte, error) {
	ln, err := d.readUint32()
	if err != nil {
		return nil, err
	}
	if uint32(d.remaining()) < ln {
		return nil, fmt.Errorf("string length %d exceeds remaining %d", ln, d.remaining())
	}
	v := d.b[d.o : d.o+int(ln)]
	d.o += int(ln)
	return v, nil
}

func (d *decoder) readString() (string, error) {
	b, err := d.readBytes()
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// skipAttrs consumes a file-attributes block without interpreting it. The
// server acknowledges but does not apply client-supplied attributes.
func (d *decoder) skipAttrs() error {
	flags, err := d.readUint32()
	if err != nil {
		return err
	}
	if flags&attrSize != 0 {
		if _, err := d.readUint64(); err != nil {
			return err
		}
	}
	if flags&attrUIDGID != 0 {
		if _, err := d.readUint32(); err != nil {
			return err
		}
		if _, err := d.readUint32(); err != nil {
			return err
		}
	}
	if flags&attrPermissions != 0 {
		if _, err := d.readUint32(); err != nil {
			return err
		}
	}
	if flags&attrACModTime != 0 {
		if _, err := d.readUint32(); err != nil {
			return err
		}
		if _, err := d.readUint32(); err != nil {
			return err
		}
	}
	if flags&attrExtended != 0 {
		count, err := d.readUint32()
		if err != nil {
			return err
		}
		for i := uint32(0); i < count; i++ {
			if _, err := d.readBytes(); err != nil {
				return err
			}
			if _, err := d.readBytes(); err != nil {
				return err
			}
		}
	}
	return nil
}

// encoder builds big-endian packet payloads.
type encoder struct {
	b []byte
}

func newEncoder(capacity int) *encoder {
	return &encoder{b: make([]byte, 0, capacity)}
}

func (e *encoder) bytes() []byte { return e.b }

func (e *encoder) writeUint32(v uint32) {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	e.b = append(e.b, tmp[:]...)
}

func (e *encoder) writeUint64(v uint64) {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], v)
	e.b = append(e.b, tmp[:]...)
}

func (e *encoder) writeBytes(b []byte) {
	e.writeUint32(uint32(len(b)))
	e.b = append(e.b, b...)
}

func (e *encoder) writeString(s string) {
	e.writeUint32(uint32(len(s)))
	e.b = append(e.b, s...)
}
