package ndarray

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/islishude/imgio/internal/array"
	"github.com/islishude/imgio/internal/format"
	"github.com/islishude/imgio/internal/request"
)

type entry struct {
	h      header
	offset int64
	size   int64
}

// reader indexes seekable resources for random access. Non-seekable
// resources are read record by record through Next.
type reader struct {
	req    *request.Request
	stream request.Stream
	items  []entry
	meta   array.Metadata
	seek   bool
}

func (r *reader) Open(map[string]any) error {
	s, err := r.req.GetFile()
	if err != nil {
		return err
	}
	r.stream = s
	got := make([]byte, len(magic))
	if _, err := io.ReadFull(s, got); err != nil || !bytes.Equal(got, magic) {
		return fmt.Errorf("%w: missing magic", ErrCorrupt)
	}
	r.seek = r.req.Seekable()
	r.meta = array.Metadata{}
	if r.seek {
		return r.index()
	}
	return nil
}

func (r *reader) index() error {
	start, err := r.stream.Seek(0, io.SeekCurrent)
	if err != nil {
		return err
	}
	end, err := r.stream.Seek(0, io.SeekEnd)
	if err != nil {
		return err
	}
	if _, err := r.stream.Seek(start, io.SeekStart); err != nil {
		return err
	}
	for {
		kind, h, size, err := readRecordHeader(r.stream)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		off, err := r.stream.Seek(0, io.SeekCurrent)
		if err != nil {
			return err
		}
		if size > end-off {
			return fmt.Errorf("%w: truncated record at offset %d", ErrCorrupt, off)
		}
		if kind == recordMeta {
			r.meta = array.Merge(r.meta, h.Meta)
		} else {
			r.items = append(r.items, entry{h: h, offset: off, size: size})
		}
		if _, err := r.stream.Seek(size, io.SeekCurrent); err != nil {
			return err
		}
	}
	r.req.Logger().Debug("ndarray indexed", "items", len(r.items))
	return nil
}

func (r *reader) Close() error { return nil }

func (r *reader) Length() int {
	if !r.seek {
		return format.Unbounded
	}
	return len(r.items)
}

func (r *reader) Data(index int) (*array.Array, array.Metadata, error) {
	if !r.seek {
		return nil, nil, format.ErrIndexNotSupported
	}
	if index < 0 || index >= len(r.items) {
		return nil, nil, fmt.Errorf("%w: %d", format.ErrIndexOutOfRange, index)
	}
	e := r.items[index]
	if _, err := r.stream.Seek(e.offset, io.SeekStart); err != nil {
		return nil, nil, err
	}
	payload, err := readPayload(r.stream, e.size)
	if err != nil {
		return nil, nil, err
	}
	a, err := decodePayload(e.h, payload)
	if err != nil {
		return nil, nil, err
	}
	return a, e.h.Meta.Clone(), nil
}

// Next streams items from non-seekable resources. Seekable ones are served
// by index.
func (r *reader) Next() (*array.Array, array.Metadata, error) {
	if r.seek {
		return nil, nil, format.ErrNotImplemented
	}
	for {
		kind, h, size, err := readRecordHeader(r.stream)
		if err != nil {
			return nil, nil, err
		}
		payload, err := readPayload(r.stream, size)
		if err != nil {
			return nil, nil, err
		}
		if kind == recordMeta {
			r.meta = array.Merge(r.meta, h.Meta)
			continue
		}
		a, err := decodePayload(h, payload)
		if err != nil {
			return nil, nil, err
		}
		return a, h.Meta, nil
	}
}

// Meta returns the item metadata by index for seekable resources. Resource
// metadata of a streamed resource is complete only after the last item.
func (r *reader) Meta(index int) (array.Metadata, error) {
	if index == format.ResourceMeta {
		return r.meta.Clone(), nil
	}
	if !r.seek {
		return nil, format.ErrIndexNotSupported
	}
	if index < 0 || index >= len(r.items) {
		return nil, fmt.Errorf("%w: %d", format.ErrIndexOutOfRange, index)
	}
	return r.items[index].h.Meta.Clone(), nil
}
