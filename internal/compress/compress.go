package compress

import (
	"bufio"
	"fmt"
	"io"

	"github.com/dsnet/compress/bzip2"
	"github.com/klauspost/compress/zstd"
	gzip "github.com/klauspost/pgzip"
	"github.com/pierrec/lz4/v4"
	"github.com/ulikunitz/xz"
)

type Type string

const (
	None  Type = "none"
	Gzip  Type = "gzip"
	Bzip2 Type = "bzip2"
	Xz    Type = "xz"
	Zstd  Type = "zstd"
	Lz4   Type = "lz4"
)

// WriterOptions tunes the encoder. A nil Level keeps the algorithm default.
type WriterOptions struct {
	Level *int
}

func NewWriter(dst io.WriteCloser, t Type, opts WriterOptions) (io.WriteCloser, error) {
	switch t {
	case None:
		return dst, nil
	case Gzip:
		level := gzip.DefaultCompression
		if opts.Level != nil {
			level = *opts.Level
		}
		zw, err := gzip.NewWriterLevel(dst, level)
		if err != nil {
			return nil, err
		}
		return &stackedWriteCloser{writer: zw, dst: dst, closeWriterFirst: true}, nil
	case Bzip2:
		level := bzip2.BestSpeed
		if opts.Level != nil {
			level = *opts.Level
		}
		zw, err := bzip2.NewWriter(dst, &bzip2.WriterConfig{Level: level})
		if err != nil {
			return nil, err
		}
		return &stackedWriteCloser{writer: zw, dst: dst, closeWriterFirst: true}, nil
	case Xz:
		zw, err := xz.NewWriter(dst)
		if err != nil {
			return nil, err
		}
		return &stackedWriteCloser{writer: zw, dst: dst, closeWriterFirst: true}, nil
	case Zstd:
		var zopts []zstd.EOption
		if opts.Level != nil {
			zopts = append(zopts, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(*opts.Level)))
		}
		zw, err := zstd.NewWriter(dst, zopts...)
		if err != nil {
			return nil, err
		}
		return &stackedWriteCloser{writer: zw, dst: dst, closeWriterFirst: true}, nil
	case Lz4:
		zw := lz4.NewWriter(dst)
		if opts.Level != nil {
			if level, ok := lz4Level(*opts.Level); ok {
				if err := zw.Apply(lz4.CompressionLevelOption(level)); err != nil {
					return nil, err
				}
			}
		}
		return &stackedWriteCloser{writer: zw, dst: dst, closeWriterFirst: true}, nil
	default:
		return nil, fmt.Errorf("unsupported compression type %q", t)
	}
}

// lz4Level maps 1..9 to lz4.Level1..Level9. Other values keep the fast
// default.
func lz4Level(n int) (lz4.CompressionLevel, bool) {
	if n < 1 || n > 9 {
		return lz4.Fast, false
	}
	return lz4.CompressionLevel(1 << (8 + n)), true
}

// NewReader wraps src in the decoder for t. Closing the result closes src.
func NewReader(src io.ReadCloser, t Type) (io.ReadCloser, error) {
	if t == None {
		return src, nil
	}
	br := bufio.NewReader(src)
	switch t {
	case Gzip:
		zr, err := gzip.NewReader(br)
		if err != nil {
			return nil, err
		}
		return &multiReadCloser{reader: zr, closers: []io.Closer{zr, src}}, nil
	case Bzip2:
		zr, err := bzip2.NewReader(br, nil)
		if err != nil {
			return nil, err
		}
		return &readCloser{reader: zr, closer: src}, nil
	case Xz:
		zr, err := xz.NewReader(br)
		if err != nil {
			return nil, err
		}
		return &readCloser{reader: zr, closer: src}, nil
	case Zstd:
		zr, err := zstd.NewReader(br)
		if err != nil {
			return nil, err
		}
		return &multiReadCloser{reader: zr, closers: []io.Closer{zr.IOReadCloser(), src}}, nil
	case Lz4:
		return &readCloser{reader: lz4.NewReader(br), closer: src}, nil
	default:
		return nil, fmt.Errorf("unsupported compression type %q", t)
	}
}

type readCloser struct {
	reader io.Reader
	closer io.Closer
}

func (r *readCloser) Read(p []byte) (int, error) { return r.reader.Read(p) }
func (r *readCloser) Close() error               { return r.closer.Close() }

type multiReadCloser struct {
	reader  io.Reader
	closers []io.Closer
}

func (m *multiReadCloser) Read(p []byte) (int, error) { return m.reader.Read(p) }

func (m *multiReadCloser) Close() error {
	var first error
	for _, c := range m.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

type stackedWriteCloser struct {
	writer           io.WriteCloser
	dst              io.Closer
	closeWriterFirst bool
}

func (w *stackedWriteCloser) Write(p []byte) (int, error) { return w.writer.Write(p) }

func (w *stackedWriteCloser) Close() error {
	var first error
	if w.closeWriterFirst {
		if err := w.writer.Close(); err != nil {
			first = err
		}
		if err := w.dst.Close(); err != nil && first == nil {
			first = err
		}
		return first
	}
	if err := w.dst.Close(); err != nil {
		first = err
	}
	if err := w.writer.Close(); err != nil && first == nil {
		first = err
	}
	return first
}
