package zipkit

import (
	"encoding/binary"
	"testing"
)

func TestParseExtraRoundTrip(t *testing.T) {
	var buf []byte
	buf = append(buf, 0xAB, 0xCD, 4, 0, 1, 2, 3, 4)
	fields, err := parseExtra(buf)
	if err != nil {
		t.Fatalf("parseExtra: %v", err)
	}
	if len(fields) != 1 {
		t.Fatalf("len(fields) = %d, want 1", len(fields))
	}
	if fields[0].id != 0xCDAB {
		t.Errorf("id = %x, want cdab", fields[0].id)
	}
	if len(fields[0].payload) != 4 {
		t.Errorf("payload len = %d, want 4", len(fields[0].payload))
	}
}

func TestParseExtraTruncated(t *testing.T) {
	buf := []byte{1, 0, 10, 0, 1, 2}
	if _, err := parseExtra(buf); err == nil {
		t.Fatal("expected error for truncated extra field")
	}
}

func TestDecodeZip64ExtraLiftsSentinelFields(t *testing.T) {
	payload := buildZip64Extra([]uint64{1 << 40, 1 << 41, 1 << 42})
	e := &Entry{
		FileSize:     uint32max,
		CompressSize: uint32max,
		HeaderOffset: uint32max,
		Extra:        payload,
	}
	if err := e.decodeZip64Extra(); err != nil {
		t.Fatalf("decodeZip64Extra: %v", err)
	}
	if e.FileSize != 1<<40 || e.CompressSize != 1<<41 || e.HeaderOffset != 1<<42 {
		t.Errorf("got %d/%d/%d", e.FileSize, e.CompressSize, e.HeaderOffset)
	}
}

func TestBuildZip64ExtraHeader(t *testing.T) {
	payload := buildZip64Extra([]uint64{42})
	if binary.LittleEndian.Uint16(payload[0:2]) != zip64ExtraID {
		t.Error("wrong extra id")
	}
	if binary.LittleEndian.Uint16(payload[2:4]) != 8 {
		t.Error("wrong extra size")
	}
}

func TestStripExtraRemovesMatchingID(t *testing.T) {
	var buf []byte
	buf = append(buf, 1, 0, 2, 0, 0xAA, 0xBB)
	buf = append(buf, 2, 0, 1, 0, 0xCC)
	out := stripExtra(buf, map[uint16]bool{1: true})
	fields, err := parseExtra(out)
	if err != nil {
		t.Fatalf("parseExtra: %v", err)
	}
	if len(fields) != 1 || fields[0].id != 2 {
		t.Errorf("got %+v, want only id 2 remaining", fields)
	}
}
