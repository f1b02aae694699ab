package request

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/islishude/imgio/internal/locator"
	"github.com/islishude/imgio/internal/progress"
)

var (
	readMode  = MustMode("r?")
	writeMode = MustMode("w?")
)

func writeFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, data, 0o644))
	return p
}

func writeZip(t *testing.T, path string, members map[string]string) {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, data := range members {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = io.WriteString(w, data)
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
}

func readZipMember(t *testing.T, path, name string) string {
	t.Helper()
	zr, err := zip.OpenReader(path)
	require.NoError(t, err)
	defer zr.Close() //nolint:errcheck
	rc, err := zr.Open(name)
	require.NoError(t, err)
	defer rc.Close() //nolint:errcheck
	b, err := io.ReadAll(rc)
	require.NoError(t, err)
	return string(b)
}

func TestClassification(t *testing.T) {
	dir := t.TempDir()
	img := writeFile(t, dir, "img.png", []byte("png"))
	writeZip(t, filepath.Join(dir, "archive.zip"), map[string]string{"sub/img.ext": "x"})

	cases := []struct {
		name string
		src  Source
		mode Mode
		want locator.Kind
	}{
		{name: "path", src: FromURI(img), mode: readMode, want: locator.KindFile},
		{name: "file uri", src: FromURI("file://" + img), mode: readMode, want: locator.KindFile},
		{name: "memory token", src: FromURI(locator.MemoryToken), mode: writeMode, want: locator.KindBytes},
		{name: "to memory", src: ToMemory(), mode: writeMode, want: locator.KindBytes},
		{name: "bytes", src: FromBytes([]byte("abc")), mode: readMode, want: locator.KindBytes},
		{name: "zip member", src: FromURI(filepath.Join(dir, "archive.zip", "sub", "img.ext")), mode: readMode, want: locator.KindZip},
		{name: "http", src: FromURI("http://example.com/a.png"), mode: readMode, want: locator.KindHTTP},
		{name: "https", src: FromURI("https://example.com/a.png"), mode: readMode, want: locator.KindHTTP},
		{name: "ftp", src: FromURI("ftp://example.com/a.png"), mode: readMode, want: locator.KindFTP},
		{name: "ftps", src: FromURI("ftps://example.com/a.png"), mode: readMode, want: locator.KindFTP},
		{name: "s3", src: FromURI("s3://bucket/a.png"), mode: writeMode, want: locator.KindS3},
		{name: "reader", src: FromReader(strings.NewReader("x")), mode: readMode, want: locator.KindHandle},
		{name: "writer", src: FromWriter(&bytes.Buffer{}), mode: writeMode, want: locator.KindHandle},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req, err := New(tc.src, tc.mode, Config{})
			require.NoError(t, err)
			assert.Equal(t, tc.want, req.Kind())
			_, _ = req.FirstBytes()
			assert.Equal(t, tc.want, req.Kind(), "kind is stable")
			require.NoError(t, req.Finish())
		})
	}
}

func TestNetworkWriteFailsAtConstruction(t *testing.T) {
	for _, uri := range []string{"http://h/a.png", "https://h/a.png", "ftp://h/a.png", "ftps://h/a.png"} {
		t.Run(uri, func(t *testing.T) {
			_, err := New(FromURI(uri), writeMode, Config{})
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrNetworkWrite)
		})
	}
}

func TestClassificationErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := New(FromURI(filepath.Join(dir, "missing.png")), readMode, Config{})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, err, fs.ErrNotExist)

	_, err = New(FromURI(filepath.Join(dir, "nodir", "out.png")), writeMode, Config{})
	assert.ErrorIs(t, err, ErrDirectoryMissing)

	_, err = New(FromURI(locator.MemoryToken), readMode, Config{})
	assert.ErrorIs(t, err, ErrUnrecognized)

	_, err = New(FromBytes([]byte("x")), writeMode, Config{})
	assert.ErrorIs(t, err, ErrUnrecognized)

	_, err = New(ToMemory(), readMode, Config{})
	assert.ErrorIs(t, err, ErrUnrecognized)

	_, err = New(Source{}, readMode, Config{})
	assert.ErrorIs(t, err, ErrUnrecognized)

	_, err = New(FromReader(strings.NewReader("x")), writeMode, Config{})
	assert.ErrorIs(t, err, ErrUnrecognized)

	_, err = New(FromURI("x.png"), Mode{Direction: 'x', Expect: ExpectAny}, Config{})
	assert.Error(t, err)
}

func TestErrorTruncatesIdentifier(t *testing.T) {
	long := filepath.Join(t.TempDir(), strings.Repeat("a", 200)+".png")
	_, err := New(FromURI(long), readMode, Config{})
	var rerr *Error
	require.True(t, errors.As(err, &rerr))
	assert.LessOrEqual(t, len([]rune(rerr.Identifier)), maxIdentifier)
	assert.True(t, strings.HasSuffix(rerr.Identifier, "..."))
}

func TestFirstBytesRestoresPosition(t *testing.T) {
	data := []byte("0123456789abcdefghijklmnopqrstuvwxyz")
	path := writeFile(t, t.TempDir(), "data.bin", data)

	for _, n := range []int{1, 4, 16, len(data)} {
		req, err := New(FromURI(path), readMode, Config{FirstBytes: n})
		require.NoError(t, err)

		f, err := req.GetFile()
		require.NoError(t, err)
		before, err := req.FirstBytes()
		require.NoError(t, err)
		assert.Equal(t, data[:n], before)

		all, err := io.ReadAll(f)
		require.NoError(t, err)
		assert.Equal(t, data, all, "first bytes must not move the position")

		req.firstBytes = nil
		after, err := req.FirstBytes()
		require.NoError(t, err)
		assert.Equal(t, before, after)
		pos, err := f.Seek(0, io.SeekCurrent)
		require.NoError(t, err)
		assert.Equal(t, int64(len(data)), pos)
		require.NoError(t, req.Finish())
	}
}

func TestFirstBytesFromBytesDoesNotOpen(t *testing.T) {
	req, err := New(FromBytes([]byte("abcdef")), readMode, Config{FirstBytes: 3})
	require.NoError(t, err)
	fb, err := req.FirstBytes()
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), fb)
	assert.Nil(t, req.stream)
	require.NoError(t, req.Finish())
}

func TestFirstBytesDirectory(t *testing.T) {
	req, err := New(FromURI(t.TempDir()), readMode, Config{})
	require.NoError(t, err)
	fb, err := req.FirstBytes()
	require.NoError(t, err)
	assert.Empty(t, fb)
	require.NoError(t, req.Finish())
}

type trackingCloser struct {
	io.Reader
	closed bool
}

func (c *trackingCloser) Close() error {
	c.closed = true
	return nil
}

type fakeOpener struct {
	body   string
	opened int
	last   *trackingCloser
}

func (o *fakeOpener) Open(_ context.Context, _ locator.Ref) (io.ReadCloser, error) {
	o.opened++
	o.last = &trackingCloser{Reader: strings.NewReader(o.body)}
	return o.last, nil
}

func TestNonSeekableFirstBytesKeepsStream(t *testing.T) {
	op := &fakeOpener{body: "streamed content"}
	req, err := New(FromURI("https://example.com/a.bin"), readMode, Config{Remote: op, FirstBytes: 8})
	require.NoError(t, err)

	fb, err := req.FirstBytes()
	require.NoError(t, err)
	assert.Equal(t, "streamed", string(fb))
	assert.False(t, req.Seekable())

	f, err := req.GetFile()
	require.NoError(t, err)
	all, err := io.ReadAll(f)
	require.NoError(t, err)
	assert.Equal(t, "streamed content", string(all))
	assert.Equal(t, 1, op.opened)

	_, err = f.Seek(0, io.SeekStart)
	assert.ErrorIs(t, err, ErrNotSeekable)
	_, err = f.Write([]byte("x"))
	assert.ErrorIs(t, err, ErrReadOnly)

	require.NoError(t, req.Finish())
	assert.True(t, op.last.closed)
}

func TestRemoteWithoutOpener(t *testing.T) {
	req, err := New(FromURI("http://example.com/a.png"), readMode, Config{})
	require.NoError(t, err)
	_, err = req.GetFile()
	assert.ErrorIs(t, err, ErrNoOpener)
	require.NoError(t, req.Finish())
}

func TestResultReturnedOnce(t *testing.T) {
	req, err := New(ToMemory(), writeMode, Config{})
	require.NoError(t, err)
	f, err := req.GetFile()
	require.NoError(t, err)
	_, err = f.Write([]byte("payload"))
	require.NoError(t, err)
	assert.Nil(t, req.Result(), "nothing is captured before finish")

	require.NoError(t, req.Finish())
	assert.Equal(t, []byte("payload"), req.Result())
	assert.Nil(t, req.Result())
}

func TestFinishIsIdempotent(t *testing.T) {
	req, err := New(FromBytes([]byte("abc")), readMode, Config{})
	require.NoError(t, err)
	_, err = req.GetFile()
	require.NoError(t, err)
	require.NoError(t, req.Finish())
	require.NoError(t, req.Finish())
	assert.True(t, req.Finished())

	_, err = req.GetFile()
	assert.ErrorIs(t, err, ErrFinished)
	_, err = req.GetLocalFilename()
	assert.ErrorIs(t, err, ErrFinished)
}

func TestZipMemberWrite(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "archive.zip")
	writeZip(t, archive, map[string]string{"keep.txt": "keep", "sub/img.ext": "old"})

	req, err := New(FromURI(filepath.Join(archive, "sub", "img.ext")), writeMode, Config{})
	require.NoError(t, err)
	require.Equal(t, locator.KindZip, req.Kind())

	f, err := req.GetFile()
	require.NoError(t, err)
	_, err = f.Write([]byte("new image"))
	require.NoError(t, err)
	require.NoError(t, req.Finish())

	assert.Equal(t, "new image", readZipMember(t, archive, "sub/img.ext"))
	assert.Equal(t, "keep", readZipMember(t, archive, "keep.txt"))
}

func TestZipMemberRead(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "archive.zip")
	writeZip(t, archive, map[string]string{"sub/img.ext": "member data"})

	req, err := New(FromURI(archive+"/sub/img.ext"), readMode, Config{})
	require.NoError(t, err)
	assert.Equal(t, ".ext", req.Extension())

	fb, err := req.FirstBytes()
	require.NoError(t, err)
	assert.Equal(t, "member data", string(fb))

	f, err := req.GetFile()
	require.NoError(t, err)
	b, err := io.ReadAll(f)
	require.NoError(t, err)
	assert.Equal(t, "member data", string(b))
	require.NoError(t, req.Finish())

	missing, err := New(FromURI(archive+"/nope.ext"), readMode, Config{})
	require.NoError(t, err)
	_, err = missing.GetFile()
	assert.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, missing.Finish())
}

type closeTracker struct {
	bytes.Buffer
	closed bool
}

func (c *closeTracker) Close() error {
	c.closed = true
	return nil
}

func TestCallerHandleNeverClosed(t *testing.T) {
	h := &closeTracker{}
	h.WriteString("handle data")

	req, err := New(FromReader(h), readMode, Config{})
	require.NoError(t, err)
	f, err := req.GetFile()
	require.NoError(t, err)
	b, err := io.ReadAll(f)
	require.NoError(t, err)
	assert.Equal(t, "handle data", string(b))
	require.NoError(t, req.Finish())
	assert.False(t, h.closed)
}

func TestCallerHandleFileName(t *testing.T) {
	path := writeFile(t, t.TempDir(), "Photo.PNG", []byte("png"))
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close() //nolint:errcheck

	req, err := New(FromReader(f), readMode, Config{})
	require.NoError(t, err)
	assert.Equal(t, path, req.Filename())
	assert.Equal(t, ".png", req.Extension())
	require.NoError(t, req.Finish())

	_, err = f.Seek(0, io.SeekCurrent)
	assert.NoError(t, err, "caller file stays open")
}

func TestLocalFilenameForFile(t *testing.T) {
	path := writeFile(t, t.TempDir(), "a.png", []byte("x"))
	req, err := New(FromURI(path), readMode, Config{})
	require.NoError(t, err)
	got, err := req.GetLocalFilename()
	require.NoError(t, err)
	assert.Equal(t, path, got)
	require.NoError(t, req.Finish())
	_, err = os.Stat(path)
	assert.NoError(t, err, "local files are never removed")
}

func TestLocalFilenameMaterializesRemote(t *testing.T) {
	tmp := t.TempDir()
	op := &fakeOpener{body: "remote bytes"}
	ind := progress.New("test", nil)
	req, err := New(FromURI("https://example.com/path/img.PNG?sig=1"), readMode, Config{Remote: op, TempDir: tmp, Progress: ind})
	require.NoError(t, err)

	path, err := req.GetLocalFilename()
	require.NoError(t, err)
	assert.Equal(t, tmp, filepath.Dir(path))
	assert.True(t, strings.HasPrefix(filepath.Base(path), "imgio_"))
	assert.Equal(t, ".png", filepath.Ext(path))
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "remote bytes", string(b))
	assert.True(t, op.last.closed, "network stream is released after the copy")
	assert.Equal(t, progress.Finished, ind.Status())
	assert.Equal(t, int64(len("remote bytes")), ind.Progress())

	f, err := req.GetFile()
	require.NoError(t, err)
	assert.True(t, req.Seekable())
	b, err = io.ReadAll(f)
	require.NoError(t, err)
	assert.Equal(t, "remote bytes", string(b))

	again, err := req.GetLocalFilename()
	require.NoError(t, err)
	assert.Equal(t, path, again)

	require.NoError(t, req.Finish())
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err), "temp file is removed at finish")
}

func TestLocalFilenameWriteToMemory(t *testing.T) {
	tmp := t.TempDir()
	req, err := New(ToMemory(), writeMode, Config{TempDir: tmp})
	require.NoError(t, err)

	path, err := req.GetLocalFilename()
	require.NoError(t, err)
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err), "write temp path is left for the writer to create")
	require.NoError(t, os.WriteFile(path, []byte("from temp"), 0o600))

	require.NoError(t, req.Finish())
	assert.Equal(t, []byte("from temp"), req.Result())
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestLocalFilenameWriteBackToHandle(t *testing.T) {
	h := &closeTracker{}
	req, err := New(FromWriter(h), writeMode, Config{TempDir: t.TempDir()})
	require.NoError(t, err)
	path, err := req.GetLocalFilename()
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, []byte("encoded"), 0o600))
	require.NoError(t, req.Finish())
	assert.Equal(t, "encoded", h.String())
	assert.False(t, h.closed)
}

type fakeUploader struct {
	ref  locator.Ref
	body string
}

func (u *fakeUploader) UploadStream(_ context.Context, ref locator.Ref, body io.Reader, _ map[string]string) error {
	b, err := io.ReadAll(body)
	u.ref, u.body = ref, string(b)
	return err
}

func TestS3WriteUploadsAtFinish(t *testing.T) {
	up := &fakeUploader{}
	req, err := New(FromURI("s3://bucket/out/img.png"), writeMode, Config{Uploader: up})
	require.NoError(t, err)
	f, err := req.GetFile()
	require.NoError(t, err)
	_, err = f.Write([]byte("png data"))
	require.NoError(t, err)
	assert.Empty(t, up.body)

	require.NoError(t, req.Finish())
	assert.Equal(t, "png data", up.body)
	assert.Equal(t, "out/img.png", up.ref.Key)
}

func TestS3WriteWithoutUploader(t *testing.T) {
	req, err := New(FromURI("s3://bucket/img.png"), writeMode, Config{})
	require.NoError(t, err)
	_, err = req.GetFile()
	require.NoError(t, err)
	assert.ErrorIs(t, req.Finish(), ErrNoUploader)
}

func TestFileWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.bin")
	req, err := New(FromURI(path), writeMode, Config{})
	require.NoError(t, err)
	f, err := req.GetFile()
	require.NoError(t, err)
	_, err = f.Write([]byte("written"))
	require.NoError(t, err)
	require.NoError(t, req.Finish())
	assert.Nil(t, req.Result())

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "written", string(b))
}

type fakeFormat string

func (f fakeFormat) Name() string { return string(f) }

func TestPotentialFormatsFIFO(t *testing.T) {
	req, err := New(FromBytes(nil), readMode, Config{})
	require.NoError(t, err)
	assert.Nil(t, req.PotentialFormat())

	req.AddPotentialFormat(fakeFormat("A"))
	req.AddPotentialFormat(fakeFormat("B"))
	assert.Equal(t, "A", req.PotentialFormat().Name())
	assert.Equal(t, "B", req.PotentialFormat().Name())
	assert.Nil(t, req.PotentialFormat())
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("wI")
	require.NoError(t, err)
	assert.True(t, m.IsWrite())
	assert.Equal(t, ExpectImages, m.Expect)
	assert.Equal(t, "wI", m.String())

	m, err = ParseMode("r")
	require.NoError(t, err)
	assert.Equal(t, "r?", m.String())

	for _, bad := range []string{"", "x", "rz", "rii"} {
		_, err := ParseMode(bad)
		assert.Error(t, err, bad)
	}
}
