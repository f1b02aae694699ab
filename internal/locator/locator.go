package locator

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	awsarn "github.com/aws/aws-sdk-go-v2/aws/arn"
)

// Kind classifies where the bytes of a resource live.
type Kind string

const (
	KindBytes  Kind = "bytes"
	KindHandle Kind = "handle"
	KindFile   Kind = "file"
	KindZip    Kind = "zip"
	KindHTTP   Kind = "http"
	KindFTP    Kind = "ftp"
	KindS3     Kind = "s3"
)

// MemoryToken is the write destination that captures output in memory.
const MemoryToken = "<bytes>"

// IsRemote reports whether the kind is backed by a network stream.
func (k Kind) IsRemote() bool {
	return k == KindHTTP || k == KindFTP || k == KindS3
}

var ErrEmpty = errors.New("empty resource identifier")

type Ref struct {
	Kind    Kind
	Raw     string
	Path    string
	URL     *url.URL
	Archive string
	Member  string
	Bucket  string
	Key     string
}

// Name is the display name of the resource.
func (r Ref) Name() string {
	switch r.Kind {
	case KindBytes:
		return MemoryToken
	case KindHandle:
		return "<file>"
	case KindHTTP, KindFTP, KindS3:
		return r.Raw
	default:
		return r.Path
	}
}

// Parse classifies a string identifier. Any string that is not a recognized
// scheme or the memory token is a local filename.
func Parse(v string, write bool) (Ref, error) {
	if v == "" {
		return Ref{}, ErrEmpty
	}
	if v == MemoryToken {
		if !write {
			return Ref{}, fmt.Errorf("%s is only valid as a write destination", MemoryToken)
		}
		return Ref{Kind: KindBytes, Raw: v}, nil
	}
	lower := strings.ToLower(v)
	switch {
	case strings.HasPrefix(lower, "http://"), strings.HasPrefix(lower, "https://"):
		return parseURL(v, KindHTTP)
	case strings.HasPrefix(lower, "ftp://"), strings.HasPrefix(lower, "ftps://"):
		return parseURL(v, KindFTP)
	case strings.HasPrefix(lower, "s3://"):
		return parseS3URI(v)
	case strings.HasPrefix(lower, "arn:"):
		return parseS3ARN(v)
	case strings.HasPrefix(lower, "file://"):
		v = v[len("file://"):]
	}
	return parseLocal(v, write)
}

func parseLocal(v string, write bool) (Ref, error) {
	p, err := expandHome(v)
	if err != nil {
		return Ref{}, err
	}
	ref := Ref{Kind: KindFile, Raw: v, Path: p}
	if archive, member, ok := splitZip(p, write); ok {
		ref.Kind = KindZip
		ref.Archive = archive
		ref.Member = member
	}
	return ref, nil
}

func expandHome(p string) (string, error) {
	if p != "~" && !strings.HasPrefix(p, "~/") && !strings.HasPrefix(p, `~\`) {
		return p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("expand %q: %w", p, err)
	}
	return filepath.Join(home, p[1:]), nil
}

// splitZip finds the first ".zip" path segment followed by a separator. The
// archive part must not be a directory, and must exist unless writing.
func splitZip(p string, write bool) (archive, member string, ok bool) {
	if !write {
		if st, err := os.Stat(p); err == nil && !st.IsDir() {
			return "", "", false
		}
	}
	lower := strings.ToLower(p)
	for _, needle := range []string{".zip/", `.zip\`} {
		i := strings.Index(lower, needle)
		if i <= 0 {
			continue
		}
		i += len(".zip")
		archive = p[:i]
		st, err := os.Stat(archive)
		if err == nil && st.IsDir() {
			continue
		}
		if !write && err != nil {
			continue
		}
		member = strings.TrimLeft(p[i:], `/\`)
		return archive, filepath.ToSlash(member), true
	}
	return "", "", false
}

func parseURL(v string, kind Kind) (Ref, error) {
	u, err := url.Parse(v)
	if err != nil {
		return Ref{}, fmt.Errorf("invalid url %q: %w", Truncate(v, 60), err)
	}
	if u.Host == "" {
		return Ref{}, fmt.Errorf("url %q has no host", Truncate(v, 60))
	}
	return Ref{Kind: kind, Raw: v, URL: u, Path: u.Path}, nil
}

func parseS3URI(v string) (Ref, error) {
	u, err := url.Parse(v)
	if err != nil {
		return Ref{}, fmt.Errorf("invalid s3 uri %q: %w", v, err)
	}
	bucket := u.Host
	key := strings.TrimPrefix(u.Path, "/")
	if bucket == "" {
		return Ref{}, fmt.Errorf("s3 uri must include bucket")
	}
	if key == "" {
		return Ref{}, fmt.Errorf("s3 uri must include object key")
	}
	return Ref{Kind: KindS3, Raw: v, URL: u, Path: key, Bucket: bucket, Key: key}, nil
}

func parseS3ARN(v string) (Ref, error) {
	a, err := awsarn.Parse(v)
	if err != nil {
		return Ref{}, fmt.Errorf("invalid arn: %w", err)
	}
	if a.Service != "s3" {
		return Ref{}, fmt.Errorf("unsupported arn service %q", a.Service)
	}

	if strings.HasPrefix(a.Resource, "accesspoint/") {
		parts := strings.SplitN(a.Resource, "/object/", 2)
		if len(parts) != 2 || parts[1] == "" {
			return Ref{}, fmt.Errorf("unsupported accesspoint arn, expected /object/<key>")
		}
		bucketARN := fmt.Sprintf("arn:%s:%s:%s:%s:%s", a.Partition, a.Service, a.Region, a.AccountID, parts[0])
		return Ref{Kind: KindS3, Raw: v, Path: parts[1], Bucket: bucketARN, Key: parts[1]}, nil
	}

	resource := a.Resource
	if after, ok := strings.CutPrefix(resource, ":::"); ok {
		resource = after
	}
	if after, ok := strings.CutPrefix(resource, "bucket/"); ok {
		resource = after
	}
	parts := strings.SplitN(resource, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return Ref{}, fmt.Errorf("unsupported s3 arn, expected object arn with bucket and key")
	}
	return Ref{Kind: KindS3, Raw: v, Path: parts[1], Bucket: parts[0], Key: parts[1]}, nil
}

// Extension returns the lower-cased extension of the resource name including
// the leading dot, ignoring URL query strings.
func (r Ref) Extension() string {
	var name string
	switch r.Kind {
	case KindZip:
		name = r.Member
	case KindHTTP, KindFTP:
		name = r.URL.Path
	case KindBytes, KindHandle:
		return ""
	default:
		name = r.Path
	}
	base := name
	if i := strings.LastIndexAny(base, `/\`); i >= 0 {
		base = base[i+1:]
	}
	i := strings.LastIndex(base, ".")
	if i < 0 {
		return ""
	}
	return strings.ToLower(base[i:])
}

// Truncate shortens s to at most n runes, marking the cut with an ellipsis.
func Truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
