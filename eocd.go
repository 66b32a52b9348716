package zipkit

import (
	"bytes"
	"encoding/binary"
	"io"
)

// endRecord is the parsed End-Of-Central-Directory tuple, widened with the
// ZIP64 fields when present, per spec.md §4.1.
type endRecord struct {
	disk            uint32
	diskStart       uint32
	entriesThisDisk uint64
	entriesTotal    uint64
	cdSize          uint64
	cdOffset        uint64
	comment         []byte
	// recordLocation is the absolute file offset at which the classic
	// 22-byte ECD record begins.
	recordLocation int64
	// isZip64 reports whether the numeric fields above were overwritten
	// from a ZIP64 end-of-central-directory record.
	isZip64 bool
}

const (
	sizeEndCentDir         = 22
	sizeEndCentDir64       = 56
	sizeEndCentDir64Locator = 20
	maxCommentLen          = 1 << 16
)

// findEndRecord locates the ECD (and, if present, the ZIP64 upgrade) in a
// seekable source, per spec.md §4.1. It returns "not a zip file" wrapped as
// ErrBadZipFile on any failure to locate a valid record.
func findEndRecord(r ReaderSeeker) (*endRecord, error) {
	size, err := r.Seek(0, io.SeekEnd)
	if err != nil {
		return nil, newBadZipFile("not a zip file")
	}

	rec, err := tryFixedOffset(r, size)
	if err != nil {
		rec, err = scanForEndRecord(r, size)
		if err != nil {
			return nil, err
		}
	}
	return upgradeToZip64(r, rec)
}

// ReaderSeeker is the Read+Seek combination the Trailer Locator and the
// Catalog Loader both need; it has the same method set as io.ReadSeeker.
type ReaderSeeker interface {
	io.Reader
	io.Seeker
}

func tryFixedOffset(r ReaderSeeker, size int64) (*endRecord, error) {
	if size < sizeEndCentDir {
		return nil, newBadZipFile("not a zip file")
	}
	if _, err := r.Seek(size-sizeEndCentDir, io.SeekStart); err != nil {
		return nil, newBadZipFile("not a zip file")
	}
	buf := make([]byte, sizeEndCentDir)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, newBadZipFile("not a zip file")
	}
	if !bytes.Equal(buf[0:4], []byte{'P', 'K', 0x05, 0x06}) || buf[20] != 0 || buf[21] != 0 {
		return nil, newBadZipFile("not a zip file")
	}
	rec := decodeEndRecord(buf, nil)
	rec.recordLocation = size - sizeEndCentDir
	return rec, nil
}

func scanForEndRecord(r ReaderSeeker, size int64) (*endRecord, error) {
	window := int64(sizeEndCentDir + 0xFFFF)
	if window > size {
		window = size
	}
	start := size - window
	if start < 0 {
		start = 0
	}
	if _, err := r.Seek(start, io.SeekStart); err != nil {
		return nil, newBadZipFile("not a zip file")
	}
	data := make([]byte, window)
	n, err := io.ReadFull(r, data)
	if err != nil && err != io.ErrUnexpectedEOF {
		return nil, newBadZipFile("not a zip file")
	}
	data = data[:n]

	idx := bytes.LastIndex(data, []byte{'P', 'K', 0x05, 0x06})
	if idx < 0 || idx+sizeEndCentDir > len(data) {
		return nil, newBadZipFile("not a zip file")
	}
	fixed := data[idx : idx+sizeEndCentDir]
	commentLen := int(binary.LittleEndian.Uint16(fixed[20:22]))
	comment := data[idx+sizeEndCentDir:]
	if len(comment) != commentLen {
		// The tail doesn't match the claimed comment length; the rightmost
		// match wasn't really the ECD (e.g. the signature bytes occurred
		// inside a comment further left). spec.md §4.1 requires an exact
		// match.
		return nil, newBadZipFile("not a zip file")
	}
	rec := decodeEndRecord(fixed, comment)
	rec.recordLocation = start + int64(idx)
	return rec, nil
}

func decodeEndRecord(fixed, comment []byte) *endRecord {
	return &endRecord{
		disk:            uint32(binary.LittleEndian.Uint16(fixed[4:6])),
		diskStart:       uint32(binary.LittleEndian.Uint16(fixed[6:8])),
		entriesThisDisk: uint64(binary.LittleEndian.Uint16(fixed[8:10])),
		entriesTotal:    uint64(binary.LittleEndian.Uint16(fixed[10:12])),
		cdSize:          uint64(binary.LittleEndian.Uint32(fixed[12:16])),
		cdOffset:        uint64(binary.LittleEndian.Uint32(fixed[16:20])),
		comment:         append([]byte(nil), comment...),
	}
}

// upgradeToZip64 probes for a ZIP64 locator/record immediately preceding
// the classic ECD, per spec.md §4.1.
func upgradeToZip64(r ReaderSeeker, rec *endRecord) (*endRecord, error) {
	locOffset := rec.recordLocation - sizeEndCentDir64Locator
	if locOffset < 0 {
		return rec, nil
	}
	if _, err := r.Seek(locOffset, io.SeekStart); err != nil {
		return rec, nil
	}
	locBuf := make([]byte, sizeEndCentDir64Locator)
	if _, err := io.ReadFull(r, locBuf); err != nil {
		return rec, nil
	}
	if !bytes.Equal(locBuf[0:4], []byte{'P', 'K', 0x06, 0x07}) {
		return rec, nil
	}
	diskStart := binary.LittleEndian.Uint32(locBuf[4:8])
	zip64Offset := binary.LittleEndian.Uint64(locBuf[8:16])
	totalDisks := binary.LittleEndian.Uint32(locBuf[16:20])
	if diskStart != 0 || totalDisks > 1 {
		return nil, newBadZipFile("zipfiles that span multiple disks are not supported")
	}

	if _, err := r.Seek(int64(zip64Offset), io.SeekStart); err != nil {
		return rec, nil
	}
	zBuf := make([]byte, sizeEndCentDir64)
	if _, err := io.ReadFull(r, zBuf); err != nil {
		return rec, nil
	}
	if !bytes.Equal(zBuf[0:4], []byte{'P', 'K', 0x06, 0x06}) {
		return rec, nil
	}

	rec.isZip64 = true
	rec.disk = binary.LittleEndian.Uint32(zBuf[16:20])
	rec.diskStart = binary.LittleEndian.Uint32(zBuf[20:24])
	rec.entriesThisDisk = binary.LittleEndian.Uint64(zBuf[24:32])
	rec.entriesTotal = binary.LittleEndian.Uint64(zBuf[32:40])
	rec.cdSize = binary.LittleEndian.Uint64(zBuf[40:48])
	rec.cdOffset = binary.LittleEndian.Uint64(zBuf[48:56])
	return rec, nil
}
