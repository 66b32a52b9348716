package zipkit

import (
	"encoding/binary"
	"io"

	"golang.org/x/text/encoding/charmap"
)

const (
	centralHeaderLen = 46 // fixed portion, before name/extra/comment
)

// catalog is the archive's ordered entry table plus a name index, per
// spec.md §3's "Archive catalog".
type catalog struct {
	entries []*Entry
	byName  map[string]*Entry
	// duplicateWarnings collects "duplicate name" warnings emitted while
	// the catalog was built or appended to, per spec.md §3/§7.
	duplicateWarnings []string
}

func newCatalog() *catalog {
	return &catalog{byName: make(map[string]*Entry)}
}

func (c *catalog) add(e *Entry) {
	if _, dup := c.byName[e.Name]; dup {
		c.duplicateWarnings = append(c.duplicateWarnings, "duplicate name: "+e.Name)
	}
	c.entries = append(c.entries, e)
	c.byName[e.Name] = e
}

// loadCatalog parses the central directory located by rec into a catalog,
// applying the prepend-offset compensation, per spec.md §4.2.
func loadCatalog(r ReaderSeeker, rec *endRecord, metadataEncoding string) (*catalog, int64, error) {
	concat := rec.recordLocation - int64(rec.cdSize) - int64(rec.cdOffset)
	if rec.isZip64 {
		concat -= sizeEndCentDir64 + sizeEndCentDir64Locator
	}

	startDir := int64(rec.cdOffset) + concat
	if startDir < 0 {
		return nil, 0, newBadZipFile("bad offset for central directory")
	}

	if _, err := r.Seek(startDir, io.SeekStart); err != nil {
		return nil, 0, newBadZipFile("bad offset for central directory")
	}

	cd := make([]byte, rec.cdSize)
	if _, err := io.ReadFull(r, cd); err != nil {
		return nil, 0, newBadZipFile("truncated central directory")
	}

	cat := newCatalog()
	total := 0
	for total < len(cd) {
		if total+centralHeaderLen > len(cd) {
			return nil, 0, newBadZipFile("truncated central directory")
		}
		h := cd[total : total+centralHeaderLen]
		if !bytesEqual(h[0:4], 'P', 'K', 0x01, 0x02) {
			return nil, 0, newBadZipFile("bad magic number for central directory")
		}

		nameLen := int(binary.LittleEndian.Uint16(h[28:30]))
		extraLen := int(binary.LittleEndian.Uint16(h[30:32]))
		commentLen := int(binary.LittleEndian.Uint16(h[32:34]))
		recLen := centralHeaderLen + nameLen + extraLen + commentLen
		if total+recLen > len(cd) {
			return nil, 0, newBadZipFile("truncated central directory")
		}

		e, err := parseCentralHeader(h, cd[total+centralHeaderLen:total+recLen], nameLen, extraLen, commentLen, metadataEncoding)
		if err != nil {
			return nil, 0, err
		}
		e.HeaderOffset += uint64(concat)
		cat.add(e)

		total += recLen
	}
	return cat, startDir, nil
}

func bytesEqual(b []byte, sig ...byte) bool {
	if len(b) < len(sig) {
		return false
	}
	for i, s := range sig {
		if b[i] != s {
			return false
		}
	}
	return true
}

func parseCentralHeader(fixed, rest []byte, nameLen, extraLen, commentLen int, metadataEncoding string) (*Entry, error) {
	createVersion := uint16(fixed[4])
	createSystem := fixed[5]
	extractVersion := binary.LittleEndian.Uint16(fixed[6:8])
	flags := binary.LittleEndian.Uint16(fixed[8:10])
	method := binary.LittleEndian.Uint16(fixed[10:12])
	t := binary.LittleEndian.Uint16(fixed[12:14])
	d := binary.LittleEndian.Uint16(fixed[14:16])
	crc := binary.LittleEndian.Uint32(fixed[16:20])
	compressSize := binary.LittleEndian.Uint32(fixed[20:24])
	fileSize := binary.LittleEndian.Uint32(fixed[24:28])
	diskStart := binary.LittleEndian.Uint16(fixed[34:36])
	internalAttr := binary.LittleEndian.Uint16(fixed[36:38])
	externalAttr := binary.LittleEndian.Uint32(fixed[38:42])
	headerOffset := binary.LittleEndian.Uint32(fixed[42:46])

	if extractVersion > maxExtractVersion {
		return nil, newNotImplemented("zip file version too new to support")
	}

	rawName := rest[:nameLen]
	var name string
	if flags&flagUTF8 != 0 {
		name = string(rawName)
	} else {
		name = decodeMetadataName(rawName, metadataEncoding)
	}

	e := &Entry{
		OriginalName:   name,
		Name:           normalizeName(name),
		CreateVersion:  createVersion,
		CreateSystem:   createSystem,
		ExtractVersion: extractVersion,
		Flags:          flags,
		CompressType:   method,
		CRC32:          crc,
		CompressSize:   uint64(compressSize),
		FileSize:       uint64(fileSize),
		Volume:         diskStart,
		InternalAttr:   internalAttr,
		ExternalAttr:   externalAttr,
		HeaderOffset:   uint64(headerOffset),
		RawTime:        t,
		Extra:          append([]byte(nil), rest[nameLen:nameLen+extraLen]...),
		Comment:        append([]byte(nil), rest[nameLen+extraLen:nameLen+extraLen+commentLen]...),
	}
	e.DateTime = dateTimeFromDOS(d, t)

	if err := e.decodeZip64Extra(); err != nil {
		return nil, err
	}
	return e, nil
}

// decodeMetadataName decodes a non-UTF-8 name using the archive's
// metadata encoding, defaulting to Code Page 437, per spec.md §4.2.
func decodeMetadataName(raw []byte, metadataEncoding string) string {
	if metadataEncoding != "" && metadataEncoding != "cp437" {
		// Only CP-437 is wired as a concrete decoder (see SPEC_FULL.md
		// domain stack); callers requesting another encoding get the raw
		// bytes back as Latin-1-ish best effort via direct byte->rune.
		runes := make([]rune, len(raw))
		for i, b := range raw {
			runes[i] = rune(b)
		}
		return string(runes)
	}
	out, err := charmap.CodePage437.NewDecoder().Bytes(raw)
	if err != nil {
		return string(raw)
	}
	return string(out)
}
