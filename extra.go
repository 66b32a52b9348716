package zipkit

import (
	"encoding/binary"
)

// extraField is one (id, payload) pair from an extra-field TLV block, per
// spec.md §4.3.
type extraField struct {
	id      uint16
	payload []byte
}

// parseExtra walks a raw extra-field block into a sequence of extraFields.
// Parsing is strictly sequential, as spec.md §9 requires.
func parseExtra(extra []byte) ([]extraField, error) {
	var fields []extraField
	i := 0
	for i+4 <= len(extra) {
		id := binary.LittleEndian.Uint16(extra[i:])
		n := binary.LittleEndian.Uint16(extra[i+2:])
		if int(n)+4 > len(extra)-i {
			return nil, newBadZipFile("corrupt extra field")
		}
		fields = append(fields, extraField{id: id, payload: extra[i+4 : i+4+int(n)]})
		i += 4 + int(n)
	}
	return fields, nil
}

// stripExtra returns a copy of extra with any TLV blocks whose id is in ids
// removed; it is a pure transform, used before re-emitting a ZIP64 extra on
// central-directory write to avoid duplicates (spec.md §4.3).
func stripExtra(extra []byte, ids map[uint16]bool) []byte {
	var out []byte
	i, start := 0, 0
	modified := false
	for i+4 <= len(extra) {
		id := binary.LittleEndian.Uint16(extra[i:])
		n := binary.LittleEndian.Uint16(extra[i+2:])
		j := i + 4 + int(n)
		if j > len(extra) {
			break
		}
		if ids[id] {
			if i != start {
				out = append(out, extra[start:i]...)
			}
			start = j
			modified = true
		}
		i = j
	}
	if !modified {
		return extra
	}
	return append(out, extra[start:]...)
}

// decodeZip64Extra lifts FileSize, CompressSize, and HeaderOffset out of
// their 32-bit sentinels using the id-0x0001 extra field, consuming 8 bytes
// per sentinel field in the fixed order file_size, compress_size,
// header_offset (spec.md §4.2, §9 open question 2 on record contiguity does
// not apply here — this is purely about field order within one TLV entry).
func (e *Entry) decodeZip64Extra() error {
	fields, err := parseExtra(e.Extra)
	if err != nil {
		return err
	}
	for _, f := range fields {
		if f.id != zip64ExtraID {
			continue
		}
		data := f.payload
		need := func(label string) ([]byte, error) {
			if len(data) < 8 {
				return nil, newBadZipFilef("corrupt zip64 extra field: %s not found", label)
			}
			v := data[:8]
			data = data[8:]
			return v, nil
		}
		if e.FileSize == uint32max {
			v, err := need("file size")
			if err != nil {
				return err
			}
			e.FileSize = binary.LittleEndian.Uint64(v)
		}
		if e.CompressSize == uint32max {
			v, err := need("compress size")
			if err != nil {
				return err
			}
			e.CompressSize = binary.LittleEndian.Uint64(v)
		}
		if e.HeaderOffset == uint32max {
			v, err := need("header offset")
			if err != nil {
				return err
			}
			e.HeaderOffset = binary.LittleEndian.Uint64(v)
		}
	}
	return nil
}

// buildZip64Extra constructs a type-0x0001 extra field carrying values as
// consecutive 64-bit fields in the order given. Callers use the fixed order
// file_size, compress_size, header_offset: the local header reserves the
// first two as placeholders, and the central directory writes all three
// whenever an entry needs ZIP64.
func buildZip64Extra(values []uint64) []byte {
	buf := make([]byte, 4+8*len(values))
	binary.LittleEndian.PutUint16(buf[0:], zip64ExtraID)
	binary.LittleEndian.PutUint16(buf[2:], uint16(8*len(values)))
	for i, v := range values {
		binary.LittleEndian.PutUint64(buf[4+8*i:], v)
	}
	return buf
}
