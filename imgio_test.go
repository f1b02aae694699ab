package imgio

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/islishude/imgio/internal/array"
)

func testArray(t *testing.T, n byte) *Array {
	t.Helper()
	a, err := array.New(array.Uint8, 4, 3)
	if err != nil {
		t.Fatal(err)
	}
	for i := range a.Data {
		a.Data[i] = byte(i) + n
	}
	return a
}

func TestSaveAllReadAllMemory(t *testing.T) {
	ctx := context.Background()
	c, err := New(ctx)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	items := []*Array{testArray(t, 0), testArray(t, 50)}
	meta := Metadata{"scan": {"operator": "ada"}}
	data, err := c.SaveAll(ctx, ToMemory(), items, meta, Options{Format: "nda", Expect: 'V'})
	if err != nil {
		t.Fatalf("SaveAll() error = %v", err)
	}
	if len(data) == 0 {
		t.Fatalf("SaveAll() returned no bytes")
	}

	got, gotMeta, err := c.ReadAll(ctx, FromBytes(data), Options{})
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	if len(got) != 2 || !got[0].Equal(items[0]) || !got[1].Equal(items[1]) {
		t.Fatalf("ReadAll() items mismatch")
	}
	if v, _ := gotMeta.Get("scan", "operator"); v != "ada" {
		t.Fatalf("ReadAll() meta = %v", gotMeta)
	}
}

func TestSaveAllFile(t *testing.T) {
	ctx := context.Background()
	c, err := New(ctx)
	if err != nil {
		t.Fatal(err)
	}
	name := filepath.Join(t.TempDir(), "gray.png")
	if _, err := c.SaveAll(ctx, FromURI(name), []*Array{testArray(t, 10)}, nil, Options{}); err != nil {
		t.Fatalf("SaveAll() error = %v", err)
	}

	f, err := os.Open(name)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close() // nolint: errcheck
	img, err := png.Decode(f)
	if err != nil {
		t.Fatalf("png.Decode() error = %v", err)
	}
	if b := img.Bounds(); b.Dx() != 3 || b.Dy() != 4 {
		t.Fatalf("bounds = %v", b)
	}
}

func TestReadOverHTTP(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 2, 2))
	img.Set(1, 1, color.Gray{Y: 200})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/pic.png" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write(buf.Bytes())
	}))
	defer srv.Close()

	ctx := context.Background()
	cfg := Config{}
	cfg.Remote.Timeout = 5 * time.Second
	c, err := New(ctx, WithConfig(cfg), WithHTTPClient(srv.Client()))
	if err != nil {
		t.Fatal(err)
	}

	items, _, err := c.ReadAll(ctx, FromURI(srv.URL+"/pic.png"), Options{})
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	if len(items) != 1 || items[0].Data[3] != 200 {
		t.Fatalf("items = %+v", items)
	}

	if _, _, err := c.ReadAll(ctx, FromURI(srv.URL+"/missing.png"), Options{}); err == nil {
		t.Fatalf("expected error for missing resource")
	}
}

func TestNoFormat(t *testing.T) {
	ctx := context.Background()
	c, err := New(ctx)
	if err != nil {
		t.Fatal(err)
	}
	_, err = c.Save(ctx, ToMemory(), Options{})
	if !errors.Is(err, ErrFormatNotFound) {
		t.Fatalf("Save() err = %v, want ErrFormatNotFound", err)
	}
}

func TestNewInvalidConfig(t *testing.T) {
	cfg := Config{}
	cfg.S3.Concurrency = 1000
	if _, err := New(context.Background(), WithConfig(cfg)); err == nil {
		t.Fatalf("expected validation error")
	}
}
