package sftp

import (
	"bytes"
	"testing"
)

func TestPacketRoundTrip(t *testing.T) {
	var buf bytes.Buffer

	e := newEncoder(32)
	e.writeUint32(7)
	e.writeString("/incoming")
	if err := writePacket(&buf, msgRealpath, e.bytes()); err != nil {
		t.Fatalf("writePacket: %v", err)
	}

	typ, payload, err := readPacket(&buf)
	if err != nil {
		t.Fatalf("readPacket: %v", err)
	}
	if typ != msgRealpath {
		t.Errorf("type = %d, want %d", typ, msgRealpath)
	}

	d := newDecoder(payload)
	id, err := d.readUint32()
	if err != nil {
		t.Fatalf("readUint32: %v", err)
	}
	if id != 7 {
		t.Errorf("id = %d, want 7", id)
	}
	s, err := d.readString()
	if err != nil {
		t.Fatalf("readString: %v", err)
	}
	if s != "/incoming" {
		t.Errorf("string = %q, want /incoming", s)
	}
	if d.remaining() != 0 {
		t.Errorf("remaining = %d, want 0", d.remaining())
	}
}

func TestReadPacketRejectsOversize(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0xFF, 0xFF, 0xFF, 0xFF})
	if _, _, err := readPacket(&buf); err == nil {
		t.Fatal("expected error for oversized packet")
	}
}

func TestDecoderBoundsChecks(t *testing.T) {
	d := newDecoder([]byte{0x00, 0x01})
	if _, err := d.readUint32(); err == nil {
		t.Error("readUint32 on 2 bytes should fail")
	}

	// String length claims more bytes than the payload holds.
	d = newDecoder([]byte{0x00, 0x00, 0x00, 0x10, 'a', 'b'})
	if _, err := d.readString(); err == nil {
		t.Error("readString with short payload should fail")
	}
}

func TestSkipAttrs(t *testing.T) {
	e := newEncoder(64)
	e.writeUint32(attrSize | attrPermissions | attrACModTime)
	e.writeUint64(1234)
	e.writeUint32(0o644)
	e.writeUint32(1700000000)
	e.writeUint32(1700000000)
	e.writeString("trailing")

	d := newDecoder(e.bytes())
	if err := d.skipAttrs(); err != nil {
		t.Fatalf("skipAttrs: %v", err)
	}
	s, err := d.readString()
	if err != nil {
		t.Fatalf("readString after attrs: %v", err)
	}
	if s != "trailing" {
		t.Errorf("got %q, want trailing", s)
	}
}

func TestSkipAttrsTruncated(t *testing.T) {
	e := newEncoder(8)
	e.writeUint32(attrSize)
	// size field missing
	d := newDecoder(e.bytes())
	if err := d.skipAttrs(); err == nil {
		t.Fatal("expected error for truncated attrs")
	}
}
