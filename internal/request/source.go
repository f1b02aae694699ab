package request

import (
	"fmt"
	"io"

	"github.com/islishude/imgio/internal/locator"
)

type sourceKind int

const (
	sourceNone sourceKind = iota
	sourceURI
	sourceBytes
	sourceHandle
	sourceMemory
)

// Source is the resource a request is built for. Use one of the From*
// constructors or ToMemory; the zero value is invalid.
type Source struct {
	kind   sourceKind
	uri    string
	data   []byte
	handle any
}

// FromURI selects a filename, file:// path, zip member, http(s), ftp(s) or
// s3 resource. The memory token "<bytes>" is accepted as a write target.
func FromURI(uri string) Source { return Source{kind: sourceURI, uri: uri} }

// FromBytes reads from an in-memory buffer. The buffer is not copied.
func FromBytes(data []byte) Source { return Source{kind: sourceBytes, data: data} }

// FromReader reads from a caller-owned handle. The request never closes it.
func FromReader(r io.Reader) Source { return Source{kind: sourceHandle, handle: r} }

// FromWriter writes to a caller-owned handle. The request never closes it.
func FromWriter(w io.Writer) Source { return Source{kind: sourceHandle, handle: w} }

// ToMemory captures written output; it is returned by Request.Result.
func ToMemory() Source { return Source{kind: sourceMemory} }

func (s Source) String() string {
	switch s.kind {
	case sourceURI:
		return s.uri
	case sourceBytes, sourceMemory:
		return locator.MemoryToken
	case sourceHandle:
		if n, ok := s.handle.(interface{ Name() string }); ok {
			return n.Name()
		}
		return fmt.Sprintf("<%T>", s.handle)
	default:
		return "<none>"
	}
}
