package zipkit

import (
	"io"

	"github.com/dsnet/compress/bzip2"
	"github.com/klauspost/compress/flate"
	"github.com/ulikunitz/xz/lzma"
)

// decompressor wraps a compression method's read-side constructor. Store
// has no decompressor; its stream is read directly.
type decompressor func(r io.Reader) (io.ReadCloser, error)

// compressor wraps a compression method's write-side constructor.
type compressor func(w io.Writer, level *int) (io.WriteCloser, error)

var decompressors = map[uint16]decompressor{
	Deflate: func(r io.Reader) (io.ReadCloser, error) {
		return flate.NewReader(r), nil
	},
	Bzip2: func(r io.Reader) (io.ReadCloser, error) {
		return bzip2.NewReader(r, nil)
	},
	LZMA: func(r io.Reader) (io.ReadCloser, error) {
		lr, err := lzma.NewReader(r)
		if err != nil {
			return nil, newNotImplemented("unsupported lzma stream")
		}
		return lzmaReadCloser{lr}, nil
	},
}

var compressors = map[uint16]compressor{
	Store: nil,
	Deflate: func(w io.Writer, level *int) (io.WriteCloser, error) {
		lvl := flate.DefaultCompression
		if level != nil {
			lvl = *level
		}
		return flate.NewWriter(w, lvl)
	},
	Bzip2: func(w io.Writer, level *int) (io.WriteCloser, error) {
		cfg := &bzip2.WriterConfig{}
		if level != nil {
			cfg.Level = *level
		}
		return bzip2.NewWriter(w, cfg)
	},
	LZMA: func(w io.Writer, level *int) (io.WriteCloser, error) {
		return lzma.NewWriter(w)
	},
}

// lzmaReadCloser adapts an *lzma.Reader (no Close method) to io.ReadCloser,
// since the decompressor map needs a uniform interface.
type lzmaReadCloser struct {
	*lzma.Reader
}

func (lzmaReadCloser) Close() error { return nil }
