package zipkit

import (
	"encoding/binary"
	"hash/crc32"
	"io"
	"strings"
	"unicode/utf8"
)

// writeBuf is a little cursor over a fixed-size buffer, generalized from
// the teacher's writer.go writeBuf to also emit the wider zip64 fields.
type writeBuf []byte

func (b *writeBuf) uint8(v uint8) { (*b)[0] = v; *b = (*b)[1:] }
func (b *writeBuf) uint16(v uint16) {
	binary.LittleEndian.PutUint16(*b, v)
	*b = (*b)[2:]
}
func (b *writeBuf) uint32(v uint32) {
	binary.LittleEndian.PutUint32(*b, v)
	*b = (*b)[4:]
}
func (b *writeBuf) uint64(v uint64) {
	binary.LittleEndian.PutUint64(*b, v)
	*b = (*b)[8:]
}

// countWriter tracks bytes written, mirroring the teacher's writer.go.
type countWriter struct {
	w     io.Writer
	count int64
}

func (w *countWriter) Write(p []byte) (int, error) {
	n, err := w.w.Write(p)
	w.count += int64(n)
	return n, err
}

// detectUTF8 reports whether s is valid UTF-8, and whether it needs the
// UTF-8 flag bit because it isn't CP-437-safe, ported from writer.go.
func detectUTF8(s string) (valid, require bool) {
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		i += size
		if r < 0x20 || r > 0x7d || r == 0x5c {
			if !utf8.ValidRune(r) || (r == utf8.RuneError && size == 1) {
				return false, false
			}
			require = true
		}
	}
	return true, require
}

// writeSeeker is the minimal interface a write destination needs to
// support the rewrite-local-header close path; archives opened against a
// plain io.Writer fall back to the data-descriptor path.
type writeSeeker interface {
	io.Writer
	io.Seeker
}

// writeStream is the write side of one open member: CRC and size are
// computed on the plaintext before it reaches the compressor, per
// spec.md §4.8.
type writeStream struct {
	entry        *Entry
	dest         io.Writer
	seekable     writeSeeker // non-nil when dest also supports Seek
	headerOffset int64

	comp  io.WriteCloser // nil for Store
	cw    *countWriter   // counts compressed bytes reaching dest
	crc   uint32
	size  uint64

	allowZip64 bool
	// zip64 reports whether this member's local header already reserved
	// ZIP64 sentinel fields and a placeholder extra block at Open time;
	// it is decided once, up front, and never changed at Close, so the
	// on-disk header never needs to grow after it's been written.
	zip64 bool

	finalize func(*Entry)
	release  func() error

	closed bool
}

// openWriteStream writes e's local header to dest at the current position
// and returns a stream ready for Write calls, per spec.md §4.8. ZIP64 is
// decided here, not discovered later at Close: a member whose final size
// can't be predicted must set forceZip64 (spec.md §6's force_zip64), or
// Close fails if it turns out to have needed it, matching
// libzip2.py's _ZipWriteFile.close "unexpectedly exceeded ZIP64 limit".
func openWriteStream(dest io.Writer, e *Entry, allowZip64, forceZip64 bool, finalize func(*Entry), release func() error) (*writeStream, error) {
	if forceZip64 && !allowZip64 {
		return nil, newLargeZipFile("force_zip64 requires allowZip64")
	}

	var headerOffset int64
	sw, seekable := dest.(writeSeeker)
	if seekable {
		pos, err := sw.Seek(0, io.SeekCurrent)
		if err != nil {
			return nil, err
		}
		headerOffset = pos
	}
	e.HeaderOffset = uint64(headerOffset)

	prepareEntryForWrite(e, seekable)

	zip64 := forceZip64 && !e.IsDir()
	if zip64 {
		if e.ExtractVersion < zip64Version {
			e.ExtractVersion = zip64Version
		}
		e.Extra = append(e.Extra, buildZip64Extra([]uint64{0, 0})...)
	}

	if err := writeLocalHeader(dest, e); err != nil {
		return nil, err
	}

	ws := &writeStream{
		entry:        e,
		dest:         dest,
		headerOffset: headerOffset,
		allowZip64:   allowZip64,
		zip64:        zip64,
		finalize:     finalize,
		release:      release,
	}
	if seekable {
		ws.seekable = sw
	}

	ws.cw = &countWriter{w: dest}
	if ctor, ok := compressors[e.CompressType]; ok && ctor != nil {
		level := e.CompressLevel
		comp, err := ctor(ws.cw, level)
		if err != nil {
			return nil, err
		}
		ws.comp = comp
	} else if e.CompressType != Store {
		return nil, newNotImplemented("unsupported compression method")
	}
	return ws, nil
}

// prepareEntryForWrite fills in the flags/version fields a writer owns,
// generalized from the teacher's writer.go prepareEntry. The data
// descriptor flag is only set when dest can't be seeked back into to patch
// the local header in place, matching libzip2.py's _open_to_write, which
// sets _MASK_USE_DATA_DESCRIPTOR only "if not self._seekable".
func prepareEntryForWrite(e *Entry, seekable bool) {
	utf8Valid1, utf8Require1 := detectUTF8(e.Name)
	utf8Valid2, utf8Require2 := detectUTF8(string(e.Comment))
	if (utf8Require1 || utf8Require2) && utf8Valid1 && utf8Valid2 {
		e.Flags |= flagUTF8
	}

	e.CreateVersion = e.CreateVersion&0xff00 | defaultVersion
	e.ExtractVersion = defaultVersion
	switch e.CompressType {
	case Bzip2:
		e.ExtractVersion = bzip2Version
	case LZMA:
		e.ExtractVersion = lzmaVersion
		e.Flags |= flagCompressOption1
	}

	if strings.HasSuffix(e.Name, "/") {
		e.CompressType = Store
		e.Flags &^= flagUseDataDescriptor
		e.CompressSize = 0
		e.FileSize = 0
	} else if !seekable {
		e.Flags |= flagUseDataDescriptor
	} else {
		e.Flags &^= flagUseDataDescriptor
	}
}

func writeLocalHeader(w io.Writer, e *Entry) error {
	if len(e.Name) > uint16max {
		return newInvalidArgument("name too long")
	}
	if e.DateTime[0] < 1980 {
		return newInvalidArgument("zip does not support timestamps before 1980")
	}
	d, t := msDosTime(e.DateTime)
	var buf [fileHeaderLen]byte
	b := writeBuf(buf[:])
	b.uint32(fileHeaderSignature)
	b.uint16(e.ExtractVersion)
	b.uint16(e.Flags)
	b.uint16(e.CompressType)
	b.uint16(t)
	b.uint16(d)
	b.uint32(0) // crc32, filled by data descriptor or rewrite
	b.uint32(0) // compressed size
	b.uint32(0) // uncompressed size
	b.uint16(uint16(len(e.Name)))
	b.uint16(uint16(len(e.Extra)))
	if _, err := w.Write(buf[:]); err != nil {
		return err
	}
	if _, err := io.WriteString(w, e.Name); err != nil {
		return err
	}
	_, err := w.Write(e.Extra)
	return err
}

// Write feeds plaintext through the CRC accumulator before handing it to
// the compressor, matching spec.md §4.8's "CRC before compress" ordering.
func (ws *writeStream) Write(p []byte) (int, error) {
	if ws.closed {
		return 0, newInvalidArgument("write to closed member")
	}
	ws.crc = crc32.Update(ws.crc, crc32.IEEETable, p)
	ws.size += uint64(len(p))
	if ws.comp != nil {
		return ws.comp.Write(p)
	}
	return ws.cw.Write(p)
}

// Close finalizes sizes/CRC, either by rewriting the local header in place
// (when dest is seekable) or by emitting a trailing data descriptor, then
// hands the completed Entry to the catalog and releases the writer gate,
// per spec.md §4.8.
func (ws *writeStream) Close() error {
	if ws.closed {
		return nil
	}
	ws.closed = true

	if ws.comp != nil {
		if err := ws.comp.Close(); err != nil {
			return err
		}
	}

	ws.entry.CRC32 = ws.crc
	ws.entry.FileSize = ws.size
	ws.entry.CompressSize = uint64(ws.cw.count)

	if !ws.zip64 && (ws.entry.FileSize > zip64Limit || ws.entry.CompressSize > zip64Limit) {
		return newLargeZipFile("file size exceeded zip64 limit; reopen the member with ForceZip64 set")
	}

	var err error
	if ws.seekable != nil {
		err = ws.rewriteLocalHeader()
	} else {
		err = ws.writeDataDescriptor()
	}
	if err != nil {
		return err
	}

	if ws.finalize != nil {
		ws.finalize(ws.entry)
	}
	if ws.release != nil {
		return ws.release()
	}
	return nil
}

// rewriteLocalHeader patches the on-disk local header now that CRC and
// sizes are known. Members that reserved ZIP64 placeholder space at Open
// get the whole header rewritten in place (the reserved extra already has
// room for the true 64-bit sizes, so the header's length doesn't change);
// others only need their fixed 12-byte crc/size window patched.
func (ws *writeStream) rewriteLocalHeader() error {
	end, err := ws.seekable.Seek(0, io.SeekCurrent)
	if err != nil {
		return err
	}
	if _, err := ws.seekable.Seek(ws.headerOffset, io.SeekStart); err != nil {
		return err
	}

	if ws.zip64 {
		if err := writeFinalZip64LocalHeader(ws.seekable, ws.entry); err != nil {
			return err
		}
	} else {
		if _, err := ws.seekable.Seek(14, io.SeekCurrent); err != nil {
			return err
		}
		var buf [12]byte
		b := writeBuf(buf[:])
		b.uint32(ws.entry.CRC32)
		b.uint32(uint32(ws.entry.CompressSize))
		b.uint32(uint32(ws.entry.FileSize))
		if _, err := ws.seekable.Write(buf[:]); err != nil {
			return err
		}
	}

	_, err = ws.seekable.Seek(end, io.SeekStart)
	return err
}

// writeFinalZip64LocalHeader rewrites e's local header with the final CRC
// and ZIP64 size sentinels, and patches the reserved placeholder zip64
// extra block with the true 64-bit sizes. The header's total length is
// unchanged from what was reserved at Open.
func writeFinalZip64LocalHeader(w io.Writer, e *Entry) error {
	d, t := msDosTime(e.DateTime)
	var buf [fileHeaderLen]byte
	b := writeBuf(buf[:])
	b.uint32(fileHeaderSignature)
	b.uint16(e.ExtractVersion)
	b.uint16(e.Flags)
	b.uint16(e.CompressType)
	b.uint16(t)
	b.uint16(d)
	b.uint32(e.CRC32)
	b.uint32(uint32max)
	b.uint32(uint32max)
	b.uint16(uint16(len(e.Name)))
	b.uint16(uint16(len(e.Extra)))
	if _, err := w.Write(buf[:]); err != nil {
		return err
	}
	if _, err := io.WriteString(w, e.Name); err != nil {
		return err
	}
	_, err := w.Write(patchZip64Sizes(e.Extra, e.FileSize, e.CompressSize))
	return err
}

// patchZip64Sizes overwrites the file_size/compress_size fields of a
// zip64 extra block (id 0x0001) reserved earlier with placeholder zeros,
// in place, with their final values.
func patchZip64Sizes(extra []byte, fileSize, compressSize uint64) []byte {
	i := 0
	for i+4 <= len(extra) {
		id := binary.LittleEndian.Uint16(extra[i:])
		n := int(binary.LittleEndian.Uint16(extra[i+2:]))
		if id == zip64ExtraID && n >= 16 {
			binary.LittleEndian.PutUint64(extra[i+4:], fileSize)
			binary.LittleEndian.PutUint64(extra[i+12:], compressSize)
			break
		}
		i += 4 + n
	}
	return extra
}

func (ws *writeStream) writeDataDescriptor() error {
	var buf []byte
	if ws.zip64 {
		buf = make([]byte, dataDescriptor64Len)
	} else {
		buf = make([]byte, dataDescriptorLen)
	}
	b := writeBuf(buf)
	b.uint32(dataDescriptorSignature)
	b.uint32(ws.entry.CRC32)
	if ws.zip64 {
		b.uint64(ws.entry.CompressSize)
		b.uint64(ws.entry.FileSize)
	} else {
		b.uint32(uint32(ws.entry.CompressSize))
		b.uint32(uint32(ws.entry.FileSize))
	}
	_, err := ws.dest.Write(buf)
	return err
}

// writeCentralDirectoryAndEnd writes every entry's central directory
// record starting at start, followed by a ZIP64 end record/locator (when
// any entry or the directory itself needs it) and the classic
// end-of-central-directory record, generalizing the teacher's
// writeCentralDirectory to the wider Entry type and its own zip64 extra
// encoding, per spec.md §4.8.
func writeCentralDirectoryAndEnd(w io.Writer, start int64, entries []*Entry, comment []byte, allowZip64 bool) error {
	cw := &countWriter{w: w}
	for _, e := range entries {
		if err := writeCentralHeader(cw, e, allowZip64); err != nil {
			return err
		}
	}

	size := uint64(cw.count)
	offset := uint64(start)
	records := uint64(len(entries))
	end := uint64(start) + size

	needZip64 := records >= uint16max || size > zip64Limit || offset > zip64Limit
	if needZip64 && !allowZip64 {
		return newLargeZipFile("central directory requires zip64 extensions")
	}
	if needZip64 {
		var buf [directory64EndLen + directory64LocLen]byte
		b := writeBuf(buf[:])
		b.uint32(directory64EndSignature)
		b.uint64(directory64EndLen - 12)
		b.uint16(zip64Version)
		b.uint16(zip64Version)
		b.uint32(0)
		b.uint32(0)
		b.uint64(records)
		b.uint64(records)
		b.uint64(size)
		b.uint64(offset)

		b.uint32(directory64LocSignature)
		b.uint32(0)
		b.uint64(end)
		b.uint32(1)
		if _, err := cw.Write(buf[:]); err != nil {
			return err
		}

		records = uint16max
		size = uint32max
		offset = uint32max
	}

	var buf [directoryEndLen]byte
	b := writeBuf(buf[:])
	b.uint32(directoryEndSignature)
	b = b[4:] // disk number, disk with start of central directory
	b.uint16(uint16(records))
	b.uint16(uint16(records))
	b.uint32(uint32(size))
	b.uint32(uint32(offset))
	b.uint16(uint16(len(comment)))
	if _, err := cw.Write(buf[:]); err != nil {
		return err
	}
	_, err := cw.Write(comment)
	return err
}

func writeCentralHeader(cw *countWriter, e *Entry, allowZip64 bool) error {
	d, t := msDosTime(e.DateTime)
	// e.Extra may still carry the 2-value (file_size, compress_size) zip64
	// placeholder reserved for the local header; the central directory
	// needs its own 3-value (file_size, compress_size, header_offset)
	// block, so strip the stale one first to avoid emitting both.
	extra := stripExtra(e.Extra, map[uint16]bool{zip64ExtraID: true})

	var buf [directoryHeaderLen]byte
	b := writeBuf(buf[:])
	b.uint32(directoryHeaderSignature)
	b.uint16(uint16(e.CreateSystem)<<8 | uint16(e.CreateVersion&0xff))
	b.uint16(e.ExtractVersion)
	b.uint16(e.Flags)
	b.uint16(e.CompressType)
	b.uint16(t)
	b.uint16(d)
	b.uint32(e.CRC32)

	needZip64 := e.isZip64() || e.HeaderOffset >= uint32max
	if needZip64 {
		if !allowZip64 {
			return newLargeZipFile("entry " + e.Name + " requires zip64 extensions")
		}
		b.uint32(uint32max)
		b.uint32(uint32max)
		extra = append(append([]byte(nil), extra...), buildZip64Extra([]uint64{e.FileSize, e.CompressSize, e.HeaderOffset})...)
	} else {
		b.uint32(uint32(e.CompressSize))
		b.uint32(uint32(e.FileSize))
	}

	if len(e.Name) > uint16max || len(extra) > uint16max || len(e.Comment) > uint16max {
		return newInvalidArgument("name, extra, or comment too long")
	}
	b.uint16(uint16(len(e.Name)))
	b.uint16(uint16(len(extra)))
	b.uint16(uint16(len(e.Comment)))
	b.uint16(e.Volume)
	b.uint16(e.InternalAttr)
	b.uint32(e.ExternalAttr)
	if e.HeaderOffset >= uint32max {
		b.uint32(uint32max)
	} else {
		b.uint32(uint32(e.HeaderOffset))
	}

	if _, err := cw.Write(buf[:]); err != nil {
		return err
	}
	if _, err := io.WriteString(cw, e.Name); err != nil {
		return err
	}
	if _, err := cw.Write(extra); err != nil {
		return err
	}
	_, err := cw.Write(e.Comment)
	return err
}
