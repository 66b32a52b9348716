package zipkit

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"testing"
)

// memWriteSeeker is a minimal in-memory io.Writer+io.Seeker, standing in for
// an *os.File in tests that need the rewrite-local-header close path.
type memWriteSeeker struct {
	buf []byte
	pos int64
}

func (m *memWriteSeeker) Write(p []byte) (int, error) {
	end := m.pos + int64(len(p))
	if end > int64(len(m.buf)) {
		grown := make([]byte, end)
		copy(grown, m.buf)
		m.buf = grown
	}
	copy(m.buf[m.pos:end], p)
	m.pos = end
	return len(p), nil
}

func (m *memWriteSeeker) Seek(offset int64, whence int) (int64, error) {
	var newPos int64
	switch whence {
	case io.SeekStart:
		newPos = offset
	case io.SeekCurrent:
		newPos = m.pos + offset
	case io.SeekEnd:
		newPos = int64(len(m.buf)) + offset
	}
	m.pos = newPos
	return m.pos, nil
}

func TestDetectUTF8(t *testing.T) {
	if valid, require := detectUTF8("plain.txt"); !valid || require {
		t.Errorf("plain.txt: valid=%v require=%v, want true/false", valid, require)
	}
	if valid, require := detectUTF8("héllo.txt"); !valid || !require {
		t.Errorf("héllo.txt: valid=%v require=%v, want true/true", valid, require)
	}
}

func TestWriteLocalHeaderLayout(t *testing.T) {
	e := NewEntry("a.txt")
	e.ExtractVersion = 20
	e.Flags = flagUseDataDescriptor
	e.CompressType = Store

	var buf bytes.Buffer
	if err := writeLocalHeader(&buf, e); err != nil {
		t.Fatalf("writeLocalHeader: %v", err)
	}
	out := buf.Bytes()
	if binary.LittleEndian.Uint32(out[0:4]) != fileHeaderSignature {
		t.Error("bad local header signature")
	}
	if binary.LittleEndian.Uint16(out[26:28]) != uint16(len("a.txt")) {
		t.Error("bad name length field")
	}
	if string(out[fileHeaderLen:fileHeaderLen+len("a.txt")]) != "a.txt" {
		t.Error("name not written after fixed header")
	}
}

func TestWriteStreamSeekableRewritesHeader(t *testing.T) {
	e := NewEntry("data.bin")
	dest := &memWriteSeeker{}

	var finalized *Entry
	ws, err := openWriteStream(dest, e, true, false, func(fin *Entry) { finalized = fin }, func() error { return nil })
	if err != nil {
		t.Fatalf("openWriteStream: %v", err)
	}
	payload := []byte("some file contents")
	if _, err := ws.Write(payload); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := ws.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if finalized == nil {
		t.Fatal("finalize callback not invoked")
	}
	if finalized.FileSize != uint64(len(payload)) {
		t.Errorf("FileSize = %d, want %d", finalized.FileSize, len(payload))
	}

	crcField := binary.LittleEndian.Uint32(dest.buf[14:18])
	if crcField != finalized.CRC32 {
		t.Errorf("rewritten crc field = %x, want %x", crcField, finalized.CRC32)
	}
	sizeField := binary.LittleEndian.Uint32(dest.buf[18:22])
	if sizeField != uint32(finalized.CompressSize) {
		t.Errorf("rewritten compressed size = %d, want %d", sizeField, finalized.CompressSize)
	}
	if finalized.Flags&flagUseDataDescriptor != 0 {
		t.Error("seekable destination shouldn't set flagUseDataDescriptor: header was rewritten in place")
	}
	flagsField := binary.LittleEndian.Uint16(dest.buf[6:8])
	if flagsField&flagUseDataDescriptor != 0 {
		t.Error("on-disk local header flags still claim a data descriptor follows")
	}
}

func TestWriteStreamNonSeekableUsesDataDescriptor(t *testing.T) {
	e := NewEntry("stream.bin")
	var dest bytes.Buffer

	ws, err := openWriteStream(&dest, e, true, false, nil, nil)
	if err != nil {
		t.Fatalf("openWriteStream: %v", err)
	}
	payload := []byte("streamed, no seeking")
	if _, err := ws.Write(payload); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := ws.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	out := dest.Bytes()
	descStart := len(out) - dataDescriptorLen
	if binary.LittleEndian.Uint32(out[descStart:descStart+4]) != dataDescriptorSignature {
		t.Error("missing trailing data descriptor signature")
	}
	if e.Flags&flagUseDataDescriptor == 0 {
		t.Error("non-seekable destination should set flagUseDataDescriptor")
	}
	flagsField := binary.LittleEndian.Uint16(out[6:8])
	if flagsField&flagUseDataDescriptor == 0 {
		t.Error("on-disk local header flags should claim a data descriptor follows")
	}
}

func TestWriteLocalHeaderRejectsPre1980Date(t *testing.T) {
	e := NewEntry("old.txt")
	e.DateTime[0] = 1979

	var buf bytes.Buffer
	err := writeLocalHeader(&buf, e)
	if err == nil {
		t.Fatal("expected an error for a pre-1980 date")
	}
	if !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("err = %v, want ErrInvalidArgument", err)
	}
}

func TestWriteStreamForceZip64RewritesLocalHeader(t *testing.T) {
	dest := &memWriteSeeker{}

	e := NewEntry("forced.bin")
	e.ForceZip64 = true
	ws, err := openWriteStream(dest, e, true, true, nil, nil)
	if err != nil {
		t.Fatalf("openWriteStream: %v", err)
	}
	payload := []byte("small payload, but forced to zip64")
	if _, err := ws.Write(payload); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := ws.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if e.ExtractVersion != zip64Version {
		t.Errorf("ExtractVersion = %d, want %d", e.ExtractVersion, zip64Version)
	}
	fields, err := parseExtra(e.Extra)
	if err != nil {
		t.Fatalf("parseExtra: %v", err)
	}
	var found bool
	for _, f := range fields {
		if f.id != zip64ExtraID {
			continue
		}
		found = true
		if len(f.payload) < 16 {
			t.Fatalf("zip64 extra payload too short: %d bytes", len(f.payload))
		}
		fileSize := binary.LittleEndian.Uint64(f.payload[0:8])
		compressSize := binary.LittleEndian.Uint64(f.payload[8:16])
		if fileSize != uint64(len(payload)) {
			t.Errorf("zip64 extra file_size = %d, want %d", fileSize, len(payload))
		}
		if compressSize != uint64(len(payload)) {
			t.Errorf("zip64 extra compress_size = %d, want %d", compressSize, len(payload))
		}
	}
	if !found {
		t.Fatal("expected a zip64 extra field to survive in Extra")
	}

	// The on-disk header's extra length field and the actual extra block
	// must still agree after the in-place rewrite.
	extraLenField := binary.LittleEndian.Uint16(dest.buf[28:30])
	if int(extraLenField) != len(e.Extra) {
		t.Errorf("on-disk extraLen = %d, want %d", extraLenField, len(e.Extra))
	}
}

func TestWriteAndLoadCatalogRoundTrip(t *testing.T) {
	dest := &memWriteSeeker{}

	e1 := NewEntry("one.txt")
	ws1, err := openWriteStream(dest, e1, true, false, nil, nil)
	if err != nil {
		t.Fatalf("openWriteStream: %v", err)
	}
	ws1.Write([]byte("first file"))
	if err := ws1.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	e2 := NewEntry("two.txt")
	ws2, err := openWriteStream(dest, e2, true, false, nil, nil)
	if err != nil {
		t.Fatalf("openWriteStream: %v", err)
	}
	ws2.Write([]byte("second file, a bit longer"))
	if err := ws2.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	cdStart := dest.pos
	if err := writeCentralDirectoryAndEnd(dest, cdStart, []*Entry{e1, e2}, nil, true); err != nil {
		t.Fatalf("writeCentralDirectoryAndEnd: %v", err)
	}

	r := bytes.NewReader(dest.buf)
	end, err := findEndRecord(r)
	if err != nil {
		t.Fatalf("findEndRecord: %v", err)
	}
	cat, _, err := loadCatalog(r, end, "")
	if err != nil {
		t.Fatalf("loadCatalog: %v", err)
	}
	if len(cat.entries) != 2 {
		t.Fatalf("len(entries) = %d, want 2", len(cat.entries))
	}
	if cat.entries[0].Name != "one.txt" || cat.entries[1].Name != "two.txt" {
		t.Errorf("entries = %+v", cat.entries)
	}
	if cat.entries[0].FileSize != uint64(len("first file")) {
		t.Errorf("FileSize = %d", cat.entries[0].FileSize)
	}
}
