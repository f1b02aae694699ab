package request

import (
	"bytes"
	"io"
)

// Stream is the byte stream handed to format plugins. Streams that cannot
// seek return ErrNotSeekable from Seek; read-only streams return ErrReadOnly
// from Write.
type Stream interface {
	io.Reader
	io.Writer
	io.Seeker
}

// handle adapts a partial stream (network body, compressed archive member,
// caller handle) to Stream.
type handle struct {
	r io.Reader
	w io.Writer
	s io.Seeker
}

func (h *handle) Read(p []byte) (int, error) {
	if h.r == nil {
		return 0, ErrWriteOnly
	}
	return h.r.Read(p)
}

func (h *handle) Write(p []byte) (int, error) {
	if h.w == nil {
		return 0, ErrReadOnly
	}
	return h.w.Write(p)
}

func (h *handle) Seek(offset int64, whence int) (int64, error) {
	if h.s == nil {
		return 0, ErrNotSeekable
	}
	return h.s.Seek(offset, whence)
}

// unread pushes p back in front of the remaining input.
func (h *handle) unread(p []byte) {
	if len(p) == 0 {
		return
	}
	h.r = io.MultiReader(bytes.NewReader(p), h.r)
}

// canSeek reports whether s seeks, without moving it.
func canSeek(s io.Seeker) bool {
	if s == nil {
		return false
	}
	_, err := s.Seek(0, io.SeekCurrent)
	return err == nil
}

// readFull reads up to n bytes, looping over short reads.
func readFull(r io.Reader, n int) ([]byte, error) {
	buf := make([]byte, n)
	got, err := io.ReadFull(r, buf)
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		err = nil
	}
	return buf[:got], err
}
