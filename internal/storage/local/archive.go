package local

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

var ErrMemberNotFound = errors.New("member not found in archive")

// OpenFile opens a local file in binary read mode, or creates/truncates it
// for writing.
func OpenFile(path string, write bool) (*os.File, error) {
	if write {
		return os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_RDWR, 0o644)
	}
	return os.Open(path)
}

// Archive is an open zip archive on the local filesystem.
type Archive struct {
	f  *os.File
	zr *zip.Reader
}

func OpenArchive(path string) (*Archive, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	zr, err := zip.NewReader(f, st.Size())
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("open archive %s: %w", path, err)
	}
	return &Archive{f: f, zr: zr}, nil
}

// Member is an opened archive member. Stored members are backed by a
// section of the archive file and support seeking; compressed members are
// forward-only.
type Member struct {
	io.Reader
	closer   io.Closer
	seeker   io.Seeker
	Size     int64
	Seekable bool
}

func (m *Member) Seek(offset int64, whence int) (int64, error) {
	if m.seeker == nil {
		return 0, errors.ErrUnsupported
	}
	return m.seeker.Seek(offset, whence)
}

func (m *Member) Close() error {
	if m.closer == nil {
		return nil
	}
	return m.closer.Close()
}

func (a *Archive) Open(name string) (*Member, error) {
	name = strings.TrimLeft(filepath.ToSlash(name), "/")
	for _, zf := range a.zr.File {
		if zf.Name != name {
			continue
		}
		if zf.Method == zip.Store {
			off, err := zf.DataOffset()
			if err != nil {
				return nil, err
			}
			sr := io.NewSectionReader(a.f, off, int64(zf.UncompressedSize64))
			return &Member{Reader: sr, seeker: sr, Size: int64(zf.UncompressedSize64), Seekable: true}, nil
		}
		rc, err := zf.Open()
		if err != nil {
			return nil, err
		}
		return &Member{Reader: rc, closer: rc, Size: int64(zf.UncompressedSize64)}, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrMemberNotFound, name)
}

// Names lists the archive members in directory order.
func (a *Archive) Names() []string {
	out := make([]string, 0, len(a.zr.File))
	for _, zf := range a.zr.File {
		out = append(out, zf.Name)
	}
	return out
}

func (a *Archive) Close() error {
	return a.f.Close()
}

// WriteMember stores data as member name inside the archive at path,
// replacing any existing member with the same name. The archive is created
// when missing. The rewrite goes through a sibling temp file and a rename.
func WriteMember(path, name string, data []byte) (err error) {
	name = strings.TrimLeft(filepath.ToSlash(name), "/")
	if name == "" {
		return fmt.Errorf("empty archive member name")
	}

	unlock, err := lockPath(path + ".lock")
	if err != nil {
		return err
	}
	defer unlock()

	tmp := filepath.Join(filepath.Dir(path), "."+filepath.Base(path)+"."+uuid.NewString()+".tmp")
	out, err := os.OpenFile(tmp, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = out.Close()
			_ = os.Remove(tmp)
		}
	}()

	zw := zip.NewWriter(out)
	if err := copyOtherMembers(zw, path, name); err != nil {
		return err
	}
	w, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Deflate, Modified: time.Now()})
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return err
	}
	if err := zw.Close(); err != nil {
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func copyOtherMembers(zw *zip.Writer, path, skip string) error {
	zr, err := zip.OpenReader(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("open archive %s: %w", path, err)
	}
	defer zr.Close() //nolint:errcheck

	for _, zf := range zr.File {
		if zf.Name == skip {
			continue
		}
		if err := zw.Copy(zf); err != nil {
			return err
		}
	}
	return nil
}
