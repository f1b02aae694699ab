package locator

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseSchemes(t *testing.T) {
	cases := []struct {
		in   string
		want Kind
	}{
		{in: "http://example.com/a.png", want: KindHTTP},
		{in: "HTTPS://example.com/a.png?x=1", want: KindHTTP},
		{in: "ftp://example.com/pub/a.png", want: KindFTP},
		{in: "ftps://example.com/pub/a.png", want: KindFTP},
		{in: "s3://bucket/path/to/a.png", want: KindS3},
		{in: "relative/name.png", want: KindFile},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			ref, err := Parse(tc.in, false)
			if err != nil {
				t.Fatalf("Parse() error = %v", err)
			}
			if ref.Kind != tc.want {
				t.Fatalf("kind = %q, want %q", ref.Kind, tc.want)
			}
		})
	}
}

func TestParseFileScheme(t *testing.T) {
	ref, err := Parse("file:///tmp/img.png", false)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if ref.Kind != KindFile || ref.Path != "/tmp/img.png" {
		t.Fatalf("unexpected ref: %+v", ref)
	}
}

func TestParseMemoryToken(t *testing.T) {
	ref, err := Parse(MemoryToken, true)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if ref.Kind != KindBytes {
		t.Fatalf("kind = %q", ref.Kind)
	}
	if _, err := Parse(MemoryToken, false); err == nil {
		t.Fatalf("expected error for memory token as read source")
	}
}

func TestParseZipMember(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "Archive.ZIP")
	if err := os.WriteFile(archive, []byte("PK"), 0o644); err != nil {
		t.Fatal(err)
	}
	ref, err := Parse(archive+"/sub/img.png", false)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if ref.Kind != KindZip || ref.Archive != archive || ref.Member != "sub/img.png" {
		t.Fatalf("unexpected ref: %+v", ref)
	}
	if ref.Extension() != ".png" {
		t.Fatalf("extension = %q", ref.Extension())
	}
}

func TestParseZipMissingArchive(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "missing.zip", "img.png")

	ref, err := Parse(p, false)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if ref.Kind != KindFile {
		t.Fatalf("read of missing archive should stay a filename, got %q", ref.Kind)
	}

	ref, err = Parse(p, true)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if ref.Kind != KindZip || ref.Member != "img.png" {
		t.Fatalf("write into missing archive should be a zip member, got %+v", ref)
	}
}

func TestParseZipDirectoryIsNotArchive(t *testing.T) {
	dir := t.TempDir()
	zipDir := filepath.Join(dir, "photos.zip")
	if err := os.MkdirAll(zipDir, 0o755); err != nil {
		t.Fatal(err)
	}
	ref, err := Parse(filepath.Join(zipDir, "a.png"), true)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if ref.Kind != KindFile {
		t.Fatalf("kind = %q, want file", ref.Kind)
	}
}

func TestParseHomeExpansion(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	ref, err := Parse("~/a.png", false)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if ref.Path != filepath.Join(home, "a.png") {
		t.Fatalf("path = %q", ref.Path)
	}
}

func TestParseArchiveObjectARN(t *testing.T) {
	ref, err := Parse("arn:aws:s3:::my-bucket/path/to/img.png", false)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if ref.Kind != KindS3 || ref.Bucket != "my-bucket" || ref.Key != "path/to/img.png" {
		t.Fatalf("unexpected ref: %+v", ref)
	}
}

func TestParseAccessPointARN(t *testing.T) {
	v := "arn:aws:s3:us-west-2:123456789012:accesspoint/myap/object/path/to/img.png"
	ref, err := Parse(v, false)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if ref.Kind != KindS3 || ref.Key != "path/to/img.png" {
		t.Fatalf("unexpected ref: %+v", ref)
	}
}

func TestParseBadARN(t *testing.T) {
	if _, err := Parse("arn:aws:ec2:us-west-2:123456789012:instance/i-123", false); err == nil {
		t.Fatalf("expected error")
	}
}

func TestURLExtensionIgnoresQuery(t *testing.T) {
	ref, err := Parse("https://example.com/dir/Photo.JPG?size=large", false)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if got := ref.Extension(); got != ".jpg" {
		t.Fatalf("extension = %q", got)
	}
}

func TestTruncate(t *testing.T) {
	long := strings.Repeat("x", 100)
	got := Truncate(long, 60)
	if len(got) != 60 || !strings.HasSuffix(got, "...") {
		t.Fatalf("Truncate() = %q", got)
	}
	if Truncate("short", 60) != "short" {
		t.Fatalf("short strings must not change")
	}
}
