// Package format defines the contract between format plugins and callers:
// capability checks, reader and writer lifecycles, and the registry used to
// resolve a format for a request.
package format

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"

	"github.com/islishude/imgio/internal/array"
	"github.com/islishude/imgio/internal/request"
)

var (
	ErrClosed            = errors.New("operation on closed resource")
	ErrFormatNotFound    = errors.New("no format found")
	ErrDuplicateFormat   = errors.New("format already registered")
	ErrIndexNotSupported = errors.New("random access is not supported by this format")
	ErrNotImplemented    = errors.New("not implemented by this format")
	ErrIndexOutOfRange   = errors.New("index out of range")
	ErrNotArray          = errors.New("item is not an array")
	ErrModeNotSupported  = errors.New("format does not support the requested mode")
	ErrIterated          = errors.New("reader iteration is not restartable")
)

// Unbounded is the length reported by readers of streams whose item count is
// not known up front.
const Unbounded = math.MaxInt

// ResourceMeta selects whole-resource metadata in GetMetaData.
const ResourceMeta = -1

// Capability is the answer of a format to "can you handle this request".
type Capability int

const (
	Unknown Capability = iota
	Yes
	No
)

func (c Capability) String() string {
	switch c {
	case Yes:
		return "yes"
	case No:
		return "no"
	default:
		return "unknown"
	}
}

// Format is a stateless descriptor producing handlers bound to one request.
// Reader and Writer must not touch the request's stream; that happens in the
// handler's Open.
type Format interface {
	Name() string
	Description() string
	Extensions() []string
	// Modes lists the supported expectations out of "iIvV".
	Modes() string
	CanRead(req *request.Request) Capability
	CanSave(req *request.Request) Capability
	Reader(req *request.Request) (ReadHandler, error)
	Writer(req *request.Request) (WriteHandler, error)
}

// ReadHandler is the format specific half of a Reader.
type ReadHandler interface {
	Open(opts map[string]any) error
	Close() error
	// Length is the item count, or Unbounded.
	Length() int
	// Data returns item index and its metadata. Handlers that cannot seek
	// return ErrIndexNotSupported.
	Data(index int) (*array.Array, array.Metadata, error)
	// Meta returns metadata for item index, or for the whole resource when
	// index is ResourceMeta.
	Meta(index int) (array.Metadata, error)
}

// NextReader is implemented by handlers that can stream items. Next returns
// io.EOF after the last item and ErrNotImplemented when streaming is not
// available for this resource.
type NextReader interface {
	Next() (*array.Array, array.Metadata, error)
}

// WriteHandler is the format specific half of a Writer.
type WriteHandler interface {
	Open(opts map[string]any) error
	Close() error
	Append(item *array.Array, meta array.Metadata) error
	SetMeta(meta array.Metadata) error
}

// Base carries the descriptive half of a Format and answers Unknown to both
// capability checks. Plugins embed it and override what they support.
type Base struct {
	name        string
	description string
	extensions  []string
	modes       string
}

// NewBase upper-cases name and normalizes extensions to lower case without a
// leading dot.
func NewBase(name, description, modes string, extensions ...string) Base {
	exts := make([]string, 0, len(extensions))
	for _, e := range extensions {
		e = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(e), "."))
		if e != "" && !slices.Contains(exts, e) {
			exts = append(exts, e)
		}
	}
	return Base{
		name:        strings.ToUpper(strings.TrimSpace(name)),
		description: description,
		extensions:  exts,
		modes:       modes,
	}
}

func (b Base) Name() string         { return b.name }
func (b Base) Description() string  { return b.description }
func (b Base) Extensions() []string { return slices.Clone(b.extensions) }
func (b Base) Modes() string        { return b.modes }

func (b Base) CanRead(*request.Request) Capability { return Unknown }
func (b Base) CanSave(*request.Request) Capability { return Unknown }

// HasExtension matches ext with or without its dot, ignoring case.
func (b Base) HasExtension(ext string) bool {
	ext = strings.ToLower(strings.TrimPrefix(ext, "."))
	return ext != "" && slices.Contains(b.extensions, ext)
}

func (b Base) String() string {
	return fmt.Sprintf("<Format %s - %s>", b.name, b.description)
}

// supportsMode reports whether f accepts the request's expectation.
func supportsMode(f Format, m request.Mode) bool {
	return m.Expect == request.ExpectAny || strings.ContainsRune(f.Modes(), rune(m.Expect))
}
