package zipkit

import (
	"bufio"
	"hash/crc32"
	"io"
)

const (
	minReadSize = 4096
	maxSeekRead = 1 << 24
)

// readStream is the seekable decode pipeline for one open member: it
// chains decrypt -> decompress -> CRC accounting, per spec.md §4.6 and
// libzip2.py's ZipExtFile.
type readStream struct {
	entry    *Entry
	source   *sharedSource
	password []byte

	// headerStart is the absolute offset of the first byte of ciphertext
	// (the 12-byte encryption header, when present); fullSize is the
	// total on-disk size of header+ciphertext.
	headerStart int64
	fullSize    int64

	sec    *sectionReader
	decomp io.ReadCloser // nil for Store
	raw    io.Reader     // decrypter-wrapped section, feeds decomp
	br     *bufio.Reader // buffers the decompressed stream; backs Peek

	crc      uint32
	crcCheck bool // false once a seek restart has forfeited whole-stream verification

	// pos is the number of decompressed bytes yielded so far; Seek uses it
	// to decide between a forward skip and a full pipeline restart.
	pos int64

	closed bool
}

// cryptoReader wraps a section with the legacy decrypter, decrypting each
// chunk as it's read.
type cryptoReader struct {
	src io.Reader
	d   *decrypter
}

func (c *cryptoReader) Read(p []byte) (int, error) {
	n, err := c.src.Read(p)
	if n > 0 {
		c.d.decrypt(p[:n])
	}
	return n, err
}

// openReadStream opens one member for streaming/seekable decode. password
// may be nil when the entry isn't encrypted.
func openReadStream(src *sharedSource, e *Entry, dataStart int64, password []byte) (*readStream, error) {
	if e.Flags&flagCompressedPatch != 0 {
		return nil, newNotImplemented("patched compressed data is not supported")
	}
	if e.Flags&flagStrongEncryption != 0 {
		return nil, newNotImplemented("strong encryption is not supported")
	}
	if e.Flags&flagEncrypted != 0 && len(password) == 0 {
		return nil, newBadPassword(e.Name)
	}

	rs := &readStream{
		entry:       e,
		source:      src,
		password:    password,
		headerStart: dataStart,
		fullSize:    int64(e.CompressSize),
		crcCheck:    true,
	}
	if err := rs.rebuildPipeline(0); err != nil {
		return nil, err
	}
	return rs, nil
}

// rebuildPipeline (re)constructs the decrypt->decompress chain from the
// top of the member's data region, optionally discarding the first skip
// decompressed bytes immediately (used by Seek). It always re-derives the
// decrypter from the stored password and re-consumes the 12-byte
// encryption header, since the legacy cipher's key state depends on
// having stepped through every preceding byte — there is no way to "skip
// ahead" in ciphertext without redoing that work, matching
// ZipExtFile._seek2's documented restart-from-start behavior.
func (rs *readStream) rebuildPipeline(skip int64) error {
	rs.sec = rs.source.newSection(rs.headerStart, rs.fullSize)
	var raw io.Reader = rs.sec

	if rs.entry.Flags&flagEncrypted != 0 {
		d := newDecrypter(rs.password)
		header := make([]byte, decryptHeaderLen)
		if _, err := io.ReadFull(rs.sec, header); err != nil {
			return newBadZipFile("truncated encryption header")
		}
		d.decrypt(header)
		var check byte
		if rs.entry.Flags&flagUseDataDescriptor != 0 {
			check = byte(rs.entry.RawTime >> 8)
		} else {
			check = byte(rs.entry.CRC32 >> 24)
		}
		if header[decryptHeaderLen-1] != check {
			return newBadPassword(rs.entry.Name)
		}
		raw = &cryptoReader{src: rs.sec, d: d}
	}
	rs.raw = raw

	rs.decomp = nil
	if ctor, ok := decompressors[rs.entry.CompressType]; ok {
		d, err := ctor(raw)
		if err != nil {
			return newNotImplemented("unsupported compression method")
		}
		rs.decomp = d
	} else if rs.entry.CompressType != Store {
		return newNotImplemented("unsupported compression method")
	}

	if rs.decomp != nil {
		rs.br = bufio.NewReaderSize(rs.decomp, minReadSize)
	} else {
		rs.br = bufio.NewReaderSize(rs.raw, minReadSize)
	}

	rs.pos = 0
	rs.crc = 0
	if skip > 0 {
		return rs.discard(skip)
	}
	return nil
}

// Read pulls decompressed bytes, updating the running CRC and checking it
// against the entry's recorded value once the stream is exhausted, per
// spec.md §4.6.
func (rs *readStream) Read(p []byte) (int, error) {
	if rs.closed {
		return 0, newInvalidArgument("read from closed member")
	}
	n, err := rs.br.Read(p)
	if n > 0 {
		rs.crc = crc32.Update(rs.crc, crc32.IEEETable, p[:n])
		rs.pos += int64(n)
	}
	if err == io.EOF && rs.crcCheck && rs.crc != rs.entry.CRC32 {
		return n, newBadZipFilef("bad crc-32 for file %q", rs.entry.Name)
	}
	return n, err
}

// Seek repositions the stream, per spec.md §4.6: forward seeks within
// maxSeekRead discard by reading and dropping bytes (keeping decrypt/CRC
// state consistent); anything else restarts the pipeline from the top and
// discards up to the target. A restart forfeits CRC verification for the
// rest of this open, mirroring ZipExtFile.seek's documented caveat.
func (rs *readStream) Seek(offset int64, whence int) (int64, error) {
	if rs.closed {
		return 0, newInvalidArgument("seek on closed member")
	}
	var target int64
	switch whence {
	case io.SeekStart:
		target = offset
	case io.SeekCurrent:
		target = rs.pos + offset
	case io.SeekEnd:
		target = int64(rs.entry.FileSize) + offset
	default:
		return 0, newInvalidArgument("invalid whence")
	}
	if target < 0 {
		return 0, newInvalidArgument("negative seek position")
	}

	if target >= rs.pos && target-rs.pos <= maxSeekRead {
		if err := rs.discard(target - rs.pos); err != nil {
			return 0, err
		}
		return rs.pos, nil
	}

	rs.crcCheck = false
	if err := rs.rebuildPipeline(target); err != nil {
		return 0, err
	}
	return rs.pos, nil
}

// Peek returns the next n decompressed bytes without advancing the read
// position, mirroring ZipExtFile.peek. n is clamped to the internal
// buffer size; a short result at end of stream is not an error.
func (rs *readStream) Peek(n int) ([]byte, error) {
	if rs.closed {
		return nil, newInvalidArgument("peek on closed member")
	}
	if n > minReadSize {
		n = minReadSize
	}
	b, err := rs.br.Peek(n)
	if err == bufio.ErrBufferFull || err == io.EOF {
		err = nil
	}
	return b, err
}

func (rs *readStream) discard(n int64) error {
	buf := make([]byte, minReadSize)
	for n > 0 {
		chunk := int64(len(buf))
		if chunk > n {
			chunk = n
		}
		read, err := rs.Read(buf[:chunk])
		n -= int64(read)
		if err != nil {
			if err == io.EOF {
				break
			}
			return err
		}
	}
	return nil
}

func (rs *readStream) Close() error {
	if rs.closed {
		return nil
	}
	rs.closed = true
	if rs.decomp != nil {
		rs.decomp.Close()
	}
	return rs.sec.Close()
}
