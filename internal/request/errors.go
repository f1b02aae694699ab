package request

import (
	"errors"
	"fmt"

	"github.com/islishude/imgio/internal/locator"
)

var (
	ErrUnrecognized     = errors.New("unrecognized resource")
	ErrNetworkWrite     = errors.New("writing to network resources is not supported")
	ErrNotFound         = errors.New("no such file")
	ErrDirectoryMissing = errors.New("parent directory does not exist")
	ErrReadOnly         = errors.New("stream is read-only")
	ErrWriteOnly        = errors.New("stream is write-only")
	ErrNotSeekable      = errors.New("stream is not seekable")
	ErrFinished         = errors.New("request already finished")
	ErrNoOpener         = errors.New("no remote opener configured")
	ErrNoUploader       = errors.New("no uploader configured")
)

// maxIdentifier bounds how much of an identifier is echoed in errors.
const maxIdentifier = 60

// Error records the operation and the offending identifier.
type Error struct {
	Op         string
	Identifier string
	Err        error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s %q: %v", e.Op, e.Identifier, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(op, identifier string, err error) *Error {
	return &Error{Op: op, Identifier: locator.Truncate(identifier, maxIdentifier), Err: err}
}
