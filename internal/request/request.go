// Package request classifies a resource identifier and mediates all access
// to its bytes on behalf of a format reader or writer.
package request

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/afero"

	"github.com/islishude/imgio/internal/locator"
	"github.com/islishude/imgio/internal/progress"
	"github.com/islishude/imgio/internal/storage/local"
)

// DefaultFirstBytes is the size of the prefix cached for content sniffing.
const DefaultFirstBytes = 256

// memoryName is the single file kept in a request's in-memory filesystem.
const memoryName = "/resource"

// Opener opens network resources for reading.
type Opener interface {
	Open(ctx context.Context, ref locator.Ref) (io.ReadCloser, error)
}

// Uploader stores the output of a write request to an object store.
type Uploader interface {
	UploadStream(ctx context.Context, ref locator.Ref, body io.Reader, metadata map[string]string) error
}

// Candidate is a format that offered itself as a fallback for a request.
type Candidate interface {
	Name() string
}

type Config struct {
	// Options is the per-request option bag passed to format plugins.
	Options    map[string]any
	FirstBytes int
	// TempDir defaults to os.TempDir().
	TempDir  string
	Remote   Opener
	Uploader Uploader
	// Progress, when set, reports temp file materialization.
	Progress *progress.Indicator
	Logger   *slog.Logger
	Context  context.Context
}

// Request is not safe for concurrent use. It owns every stream, archive and
// temp file it opens and releases them in Finish.
type Request struct {
	id     string
	src    Source
	ref    locator.Ref
	mode   Mode
	cfg    Config
	ctx    context.Context
	logger *slog.Logger

	data []byte

	stream   Stream
	seekable bool
	closer   io.Closer
	archive  *local.Archive

	memfs      afero.Fs
	tmpPath    string
	firstBytes []byte
	used       bool
	result     []byte
	potential  []Candidate
	finished   bool
}

// New classifies src for the given mode. Classification errors, writes to
// http or ftp, reads of missing local files and writes into missing
// directories all fail here.
func New(src Source, mode Mode, cfg Config) (*Request, error) {
	if mode.Direction != Read && mode.Direction != Write {
		return nil, newError("new request", src.String(), fmt.Errorf("invalid direction %q", string(mode.Direction)))
	}
	if err := mode.Expect.validate(); err != nil {
		return nil, newError("new request", src.String(), err)
	}
	if cfg.FirstBytes <= 0 {
		cfg.FirstBytes = DefaultFirstBytes
	}
	if cfg.Options == nil {
		cfg.Options = map[string]any{}
	}
	ctx := cfg.Context
	if ctx == nil {
		ctx = context.Background()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := &Request{id: uuid.NewString(), src: src, mode: mode, cfg: cfg, ctx: ctx}
	if err := r.classify(); err != nil {
		return nil, err
	}
	r.logger = logger.With("request", r.id[:8])
	r.logger.Debug("request created", "kind", r.ref.Kind, "resource", r.Filename(), "mode", mode.String())
	return r, nil
}

func (r *Request) classify() error {
	id := r.src.String()
	write := r.mode.IsWrite()
	switch r.src.kind {
	case sourceURI:
		ref, err := locator.Parse(r.src.uri, write)
		if err != nil {
			return newError("classify", id, fmt.Errorf("%w: %w", ErrUnrecognized, err))
		}
		r.ref = ref
	case sourceBytes:
		if write {
			return newError("classify", id, fmt.Errorf("%w: byte buffers can only be read, use ToMemory to capture output", ErrUnrecognized))
		}
		r.ref = locator.Ref{Kind: locator.KindBytes, Raw: locator.MemoryToken}
		r.data = r.src.data
	case sourceMemory:
		if !write {
			return newError("classify", id, fmt.Errorf("%w: the memory target can only be written", ErrUnrecognized))
		}
		r.ref = locator.Ref{Kind: locator.KindBytes, Raw: locator.MemoryToken}
	case sourceHandle:
		if _, ok := r.src.handle.(io.Writer); write && !ok {
			return newError("classify", id, fmt.Errorf("%w: handle is not writable", ErrUnrecognized))
		}
		if _, ok := r.src.handle.(io.Reader); !write && !ok {
			return newError("classify", id, fmt.Errorf("%w: handle is not readable", ErrUnrecognized))
		}
		r.ref = locator.Ref{Kind: locator.KindHandle, Raw: id}
		if n, ok := r.src.handle.(interface{ Name() string }); ok {
			r.ref.Path = n.Name()
		}
	default:
		return newError("classify", id, ErrUnrecognized)
	}

	switch {
	case write && (r.ref.Kind == locator.KindHTTP || r.ref.Kind == locator.KindFTP):
		return newError("classify", id, ErrNetworkWrite)
	case !write && r.ref.Kind == locator.KindFile:
		if _, err := os.Stat(r.ref.Path); err != nil {
			return newError("classify", id, fmt.Errorf("%w: %w", ErrNotFound, err))
		}
	case write && r.ref.Kind == locator.KindFile:
		return checkParent(id, r.ref.Path)
	case write && r.ref.Kind == locator.KindZip:
		return checkParent(id, r.ref.Archive)
	}
	return nil
}

func checkParent(id, path string) error {
	dir := filepath.Dir(path)
	st, err := os.Stat(dir)
	if err != nil {
		return newError("classify", id, fmt.Errorf("%w: %w", ErrDirectoryMissing, err))
	}
	if !st.IsDir() {
		return newError("classify", id, fmt.Errorf("%w: %s is not a directory", ErrDirectoryMissing, dir))
	}
	return nil
}

func (r *Request) ID() string               { return r.id }
func (r *Request) Kind() locator.Kind       { return r.ref.Kind }
func (r *Request) Ref() locator.Ref         { return r.ref }
func (r *Request) Mode() Mode               { return r.mode }
func (r *Request) Options() map[string]any  { return r.cfg.Options }
func (r *Request) Context() context.Context { return r.ctx }
func (r *Request) Logger() *slog.Logger     { return r.logger }
func (r *Request) Finished() bool           { return r.finished }

// Seekable reports whether the currently open stream supports seeking. It is
// false until GetFile has been called.
func (r *Request) Seekable() bool { return r.seekable }

// Filename is the display name of the resource.
func (r *Request) Filename() string {
	if r.ref.Kind == locator.KindHandle && r.ref.Path != "" {
		return r.ref.Path
	}
	return r.ref.Name()
}

// Extension is the lower-cased extension of the resource name with its dot,
// or "" when the resource has no name.
func (r *Request) Extension() string {
	if r.ref.Kind == locator.KindHandle {
		return strings.ToLower(filepath.Ext(r.ref.Path))
	}
	return r.ref.Extension()
}

// GetFile returns the open stream, opening it on first use. A seekable stream
// is rewound on every call; a non-seekable one is returned as is.
func (r *Request) GetFile() (Stream, error) {
	if r.finished {
		return nil, newError("get file", r.Filename(), ErrFinished)
	}
	if r.stream != nil {
		if r.seekable {
			if _, err := r.stream.Seek(0, io.SeekStart); err != nil {
				return nil, newError("get file", r.Filename(), err)
			}
		}
		return r.stream, nil
	}
	if err := r.open(); err != nil {
		return nil, newError("open", r.Filename(), err)
	}
	return r.stream, nil
}

func (r *Request) open() error {
	write := r.mode.IsWrite()
	switch r.ref.Kind {
	case locator.KindBytes:
		if err := r.openMemory(!write); err != nil {
			return err
		}
	case locator.KindHandle:
		r.openHandle()
	case locator.KindFile:
		f, err := local.OpenFile(r.ref.Path, write)
		if err != nil {
			return err
		}
		if canSeek(f) {
			r.stream, r.seekable = f, true
		} else {
			h := &handle{r: f}
			if write {
				h.w = f
			}
			r.stream = h
		}
		r.closer = f
	case locator.KindZip:
		if write {
			if err := r.openMemory(false); err != nil {
				return err
			}
			break
		}
		if err := r.openMember(); err != nil {
			return err
		}
	case locator.KindHTTP, locator.KindFTP, locator.KindS3:
		if write {
			if err := r.openMemory(false); err != nil {
				return err
			}
			break
		}
		if r.cfg.Remote == nil {
			return ErrNoOpener
		}
		rc, err := r.cfg.Remote.Open(r.ctx, r.ref)
		if err != nil {
			return err
		}
		r.stream, r.closer = &handle{r: rc}, rc
	default:
		return ErrUnrecognized
	}
	if write {
		r.used = true
	}
	r.logger.Debug("stream opened", "kind", r.ref.Kind, "seekable", r.seekable)
	return nil
}

// openMemory backs the stream with a file in an in-memory filesystem,
// preloaded with the source bytes when reading.
func (r *Request) openMemory(preload bool) error {
	if r.memfs == nil {
		r.memfs = afero.NewMemMapFs()
	}
	flag := os.O_CREATE | os.O_TRUNC | os.O_RDWR
	if preload {
		if err := afero.WriteFile(r.memfs, memoryName, r.data, 0o600); err != nil {
			return err
		}
		flag = os.O_RDONLY
	}
	f, err := r.memfs.OpenFile(memoryName, flag, 0o600)
	if err != nil {
		return err
	}
	r.stream, r.seekable, r.closer = f, true, f
	return nil
}

func (r *Request) openHandle() {
	h := &handle{}
	if rd, ok := r.src.handle.(io.Reader); ok {
		h.r = rd
	}
	if w, ok := r.src.handle.(io.Writer); ok && r.mode.IsWrite() {
		h.w = w
	}
	if s, ok := r.src.handle.(io.Seeker); ok && canSeek(s) {
		h.s = s
	}
	r.stream, r.seekable, r.closer = h, h.s != nil, nil
}

func (r *Request) openMember() error {
	a, err := local.OpenArchive(r.ref.Archive)
	if err != nil {
		return err
	}
	m, err := a.Open(r.ref.Member)
	if err != nil {
		_ = a.Close()
		if errors.Is(err, local.ErrMemberNotFound) {
			return fmt.Errorf("%w: %w", ErrNotFound, err)
		}
		return err
	}
	h := &handle{r: m}
	if m.Seekable {
		h.s = m
	}
	r.archive = a
	r.stream, r.seekable, r.closer = h, m.Seekable, m
	return nil
}

// FirstBytes returns up to Config.FirstBytes bytes from the start of the
// resource without moving the current position of an open stream. Write
// requests and directories yield an empty prefix.
func (r *Request) FirstBytes() ([]byte, error) {
	if r.firstBytes != nil {
		return r.firstBytes, nil
	}
	if r.finished {
		return nil, newError("first bytes", r.Filename(), ErrFinished)
	}
	n := r.cfg.FirstBytes
	switch {
	case r.mode.IsWrite():
		r.firstBytes = []byte{}
		return r.firstBytes, nil
	case r.ref.Kind == locator.KindBytes:
		k := min(n, len(r.data))
		r.firstBytes = append(make([]byte, 0, k), r.data[:k]...)
		return r.firstBytes, nil
	case r.ref.Kind == locator.KindFile:
		if st, err := os.Stat(r.ref.Path); err == nil && st.IsDir() {
			r.firstBytes = []byte{}
			return r.firstBytes, nil
		}
	}

	if r.stream == nil {
		if err := r.open(); err != nil {
			return nil, newError("open", r.Filename(), err)
		}
	}
	if !r.seekable {
		buf, err := readFull(r.stream, n)
		if err != nil {
			return nil, newError("first bytes", r.Filename(), err)
		}
		r.stream.(*handle).unread(buf)
		r.firstBytes = buf
		return buf, nil
	}

	pos, err := r.stream.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil, newError("first bytes", r.Filename(), err)
	}
	if _, err := r.stream.Seek(0, io.SeekStart); err != nil {
		return nil, newError("first bytes", r.Filename(), err)
	}
	buf, err := readFull(r.stream, n)
	if err != nil {
		return nil, newError("first bytes", r.Filename(), err)
	}
	if _, err := r.stream.Seek(pos, io.SeekStart); err != nil {
		return nil, newError("first bytes", r.Filename(), err)
	}
	r.firstBytes = buf
	return buf, nil
}

// GetLocalFilename returns a path on the local filesystem for the resource.
// Local files are returned as is. Anything else is copied into a temp file
// when reading, or gets a fresh temp path whose content is collected in
// Finish when writing.
func (r *Request) GetLocalFilename() (string, error) {
	if r.finished {
		return "", newError("local filename", r.Filename(), ErrFinished)
	}
	if r.ref.Kind == locator.KindFile {
		return r.ref.Path, nil
	}
	if r.tmpPath != "" {
		return r.tmpPath, nil
	}

	dir := r.cfg.TempDir
	if dir == "" {
		dir = os.TempDir()
	}
	path := filepath.Join(dir, "imgio_"+uuid.NewString()+r.Extension())
	if r.mode.IsWrite() {
		r.tmpPath = path
		r.used = true
		return path, nil
	}

	src, err := r.GetFile()
	if err != nil {
		return "", err
	}
	if err := r.materialize(path, src); err != nil {
		_ = os.Remove(path)
		return "", newError("materialize", r.Filename(), err)
	}
	r.tmpPath = path

	// The temp copy replaces the original stream.
	if err := r.releaseStream(); err != nil {
		r.logger.Warn("release stream", "error", err)
	}
	f, err := os.Open(path)
	if err != nil {
		return "", newError("materialize", r.Filename(), err)
	}
	r.stream, r.seekable, r.closer = f, true, f
	return path, nil
}

func (r *Request) materialize(path string, src io.Reader) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	var w io.Writer = f
	ind := r.cfg.Progress
	if ind != nil {
		ind.Start("materialize "+r.Filename(), "bytes", 0)
		w = io.MultiWriter(f, progress.Writer(ind))
	}
	n, err := io.Copy(w, src)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if ind != nil {
		if err != nil {
			_ = ind.Fail(err.Error())
		} else {
			_ = ind.Finish(path)
		}
	}
	r.logger.Debug("materialized resource", "path", path, "bytes", n)
	return err
}

func (r *Request) releaseStream() error {
	var err error
	if r.closer != nil {
		err = r.closer.Close()
	}
	r.stream, r.closer, r.seekable = nil, nil, false
	if r.archive != nil {
		if aerr := r.archive.Close(); err == nil {
			err = aerr
		}
		r.archive = nil
	}
	return err
}

// Finish releases every owned resource and delivers captured output to its
// destination: memory, a zip member, an s3 object or a caller handle. Only
// the first call has an effect. Caller handles are never closed. Failing to
// remove a temp file is logged and otherwise ignored.
func (r *Request) Finish() error {
	if r.finished {
		return nil
	}
	r.finished = true

	var errs []error
	var captured []byte
	if r.mode.IsWrite() && r.used {
		data, err := r.capture()
		if err != nil {
			errs = append(errs, err)
		}
		captured = data
	}
	if err := r.releaseStream(); err != nil {
		errs = append(errs, err)
	}
	if r.tmpPath != "" {
		if err := os.Remove(r.tmpPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
			r.logger.Warn("remove temp file", "path", r.tmpPath, "error", err)
		}
	}
	if captured != nil {
		if err := r.deliver(captured); err != nil {
			errs = append(errs, err)
		}
	}

	r.firstBytes, r.data, r.memfs, r.tmpPath = nil, nil, nil, ""
	r.logger.Debug("request finished", "resource", r.Filename(), "errors", len(errs))
	if len(errs) > 0 {
		return newError("finish", r.Filename(), errors.Join(errs...))
	}
	return nil
}

func (r *Request) capture() ([]byte, error) {
	if r.tmpPath != "" {
		data, err := os.ReadFile(r.tmpPath)
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return data, err
	}
	if r.memfs != nil {
		return afero.ReadFile(r.memfs, memoryName)
	}
	return nil, nil
}

func (r *Request) deliver(data []byte) error {
	switch r.ref.Kind {
	case locator.KindBytes:
		r.result = data
	case locator.KindZip:
		if err := local.WriteMember(r.ref.Archive, r.ref.Member, data); err != nil {
			return err
		}
		r.logger.Debug("archive member written", "archive", r.ref.Archive, "member", r.ref.Member, "bytes", len(data))
	case locator.KindS3:
		if r.cfg.Uploader == nil {
			return ErrNoUploader
		}
		if err := r.cfg.Uploader.UploadStream(r.ctx, r.ref, bytes.NewReader(data), nil); err != nil {
			return err
		}
		r.logger.Debug("object uploaded", "bucket", r.ref.Bucket, "key", r.ref.Key, "bytes", len(data))
	case locator.KindHandle:
		if _, err := r.src.handle.(io.Writer).Write(data); err != nil {
			return err
		}
	}
	return nil
}

// Result returns the output captured for a memory target and clears it, so
// only the first call after Finish returns data.
func (r *Request) Result() []byte {
	res := r.result
	r.result = nil
	return res
}

// AddPotentialFormat queues a fallback format for registry search.
func (r *Request) AddPotentialFormat(c Candidate) {
	r.potential = append(r.potential, c)
}

// PotentialFormat pops the oldest queued fallback, or returns nil.
func (r *Request) PotentialFormat() Candidate {
	if len(r.potential) == 0 {
		return nil
	}
	c := r.potential[0]
	r.potential = r.potential[1:]
	return c
}

func (r *Request) String() string {
	return fmt.Sprintf("Request(%s %s %s)", r.mode, r.ref.Kind, locator.Truncate(r.Filename(), maxIdentifier))
}
