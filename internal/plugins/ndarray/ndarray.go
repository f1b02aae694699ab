// Package ndarray implements NDARRAY, a container of n-dimensional sample
// arrays with per-item and whole-resource metadata.
//
// A file is the magic "NDA\x01" followed by records. Each record is a kind
// byte ('I' for an item, 'M' for resource metadata), a little-endian uint32
// header length, a JSON header, a little-endian uint64 payload length and the
// payload, compressed as named in the header.
package ndarray

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/islishude/imgio/internal/array"
	"github.com/islishude/imgio/internal/compress"
	"github.com/islishude/imgio/internal/format"
	"github.com/islishude/imgio/internal/request"
)

const (
	Name      = "NDARRAY"
	Extension = "nda"
)

var magic = []byte("NDA\x01")

const (
	recordItem = 'I'
	recordMeta = 'M'
)

// maxHeader bounds a record header; anything larger is a corrupt file.
const maxHeader = 16 << 20

// maxPayload bounds a record payload.
const maxPayload = 1 << 32

var ErrCorrupt = errors.New("corrupt ndarray resource")

type header struct {
	DType       array.DType    `json:"dtype,omitempty"`
	Shape       []int          `json:"shape,omitempty"`
	Compression compress.Type  `json:"compression,omitempty"`
	Meta        array.Metadata `json:"meta,omitempty"`
}

// Format is the NDARRAY format. The zero value is not usable; use New.
type Format struct {
	format.Base
}

func New() *Format {
	return &Format{Base: format.NewBase(Name, "N-dimensional array container", "iIvV", Extension)}
}

// CanRead answers Yes when the resource starts with the magic. A matching
// extension without the magic queues the format as a fallback.
func (f *Format) CanRead(req *request.Request) format.Capability {
	fb, err := req.FirstBytes()
	if err == nil && bytes.HasPrefix(fb, magic) {
		return format.Yes
	}
	if f.HasExtension(req.Extension()) {
		req.AddPotentialFormat(f)
		return format.Unknown
	}
	return format.No
}

// CanSave answers Yes for the nda extension. Targets without a name (memory,
// caller handles) need the format to be named explicitly.
func (f *Format) CanSave(req *request.Request) format.Capability {
	switch {
	case f.HasExtension(req.Extension()):
		return format.Yes
	case req.Extension() == "":
		return format.Unknown
	default:
		return format.No
	}
}

func (f *Format) Reader(req *request.Request) (format.ReadHandler, error) {
	return &reader{req: req}, nil
}

func (f *Format) Writer(req *request.Request) (format.WriteHandler, error) {
	return &writer{req: req}, nil
}

func writeRecord(w io.Writer, kind byte, h header, payload []byte) error {
	hdr, err := json.Marshal(h)
	if err != nil {
		return err
	}
	var prefix [5]byte
	prefix[0] = kind
	binary.LittleEndian.PutUint32(prefix[1:], uint32(len(hdr)))
	if _, err := w.Write(prefix[:]); err != nil {
		return err
	}
	if _, err := w.Write(hdr); err != nil {
		return err
	}
	var size [8]byte
	binary.LittleEndian.PutUint64(size[:], uint64(len(payload)))
	if _, err := w.Write(size[:]); err != nil {
		return err
	}
	_, err = w.Write(payload)
	return err
}

// readRecordHeader reads a record up to its payload and returns the payload
// length. It returns io.EOF at a clean end of input.
func readRecordHeader(r io.Reader) (kind byte, h header, size int64, err error) {
	var prefix [5]byte
	if _, err = io.ReadFull(r, prefix[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			err = fmt.Errorf("%w: truncated record", ErrCorrupt)
		}
		return 0, h, 0, err
	}
	kind = prefix[0]
	if kind != recordItem && kind != recordMeta {
		return 0, h, 0, fmt.Errorf("%w: unknown record kind %q", ErrCorrupt, kind)
	}
	n := binary.LittleEndian.Uint32(prefix[1:])
	if n > maxHeader {
		return 0, h, 0, fmt.Errorf("%w: header of %d bytes", ErrCorrupt, n)
	}
	hdr := make([]byte, n)
	if _, err = io.ReadFull(r, hdr); err != nil {
		return 0, h, 0, truncated(err)
	}
	if err = json.Unmarshal(hdr, &h); err != nil {
		return 0, h, 0, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	var sz [8]byte
	if _, err = io.ReadFull(r, sz[:]); err != nil {
		return 0, h, 0, truncated(err)
	}
	size64 := binary.LittleEndian.Uint64(sz[:])
	if size64 > maxPayload {
		return 0, h, 0, fmt.Errorf("%w: payload of %d bytes", ErrCorrupt, size64)
	}
	return kind, h, int64(size64), nil
}

// readPayload reads exactly size bytes, growing the buffer as data arrives
// rather than trusting the declared length up front.
func readPayload(r io.Reader, size int64) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := io.CopyN(&buf, r, size); err != nil {
		return nil, truncated(err)
	}
	return buf.Bytes(), nil
}

// truncated reports a short read inside a record. io.EOF is only a clean end
// before a record starts.
func truncated(err error) error {
	if errors.Is(err, io.EOF) {
		err = io.ErrUnexpectedEOF
	}
	return fmt.Errorf("%w: %w", ErrCorrupt, err)
}

func encodePayload(data []byte, t compress.Type, level *int) ([]byte, error) {
	var buf bytes.Buffer
	zw, err := compress.NewWriter(nopWriteCloser{&buf}, t, compress.WriterOptions{Level: level})
	if err != nil {
		return nil, err
	}
	if _, err := zw.Write(data); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodePayload(h header, payload []byte) (*array.Array, error) {
	t := h.Compression
	if t == "" {
		t = compress.None
	}
	zr, err := compress.NewReader(io.NopCloser(bytes.NewReader(payload)), t)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	defer zr.Close() //nolint:errcheck
	data, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	a, err := array.FromBytes(h.DType, data, h.Shape...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	return a, nil
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }
