// Package remote opens read-only byte streams for network resources.
package remote

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jlaffaye/ftp"

	"github.com/islishude/imgio/internal/locator"
	"github.com/islishude/imgio/internal/storage/s3"
)

const (
	DefaultTimeout   = 20 * time.Second
	DefaultUserAgent = "imgio"
)

var (
	ErrUnsupportedScheme = errors.New("unsupported remote scheme")
	ErrStatus            = errors.New("remote server returned an error status")
	ErrNoS3              = errors.New("s3 store is not configured")
)

// StatusError reports an HTTP response with status >= 400.
type StatusError struct {
	Code int
	URL  string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: %d %s", locator.Truncate(e.URL, 60), e.Code, http.StatusText(e.Code))
}

func (e *StatusError) Unwrap() error { return ErrStatus }

// ObjectReader is the subset of the s3 store used for reads.
type ObjectReader interface {
	OpenReader(ctx context.Context, ref locator.Ref) (io.ReadCloser, s3.Metadata, error)
}

// Opener dispatches a remote ref to the HTTP, FTP or S3 backend. The zero
// value uses DefaultTimeout and DefaultUserAgent and has no S3 backend.
// An Opener must not be copied after first use.
type Opener struct {
	Timeout   time.Duration
	UserAgent string
	Client    *http.Client
	S3        ObjectReader
	Logger    *slog.Logger

	clientOnce sync.Once
	client     *http.Client
}

func (o *Opener) timeout() time.Duration {
	if o.Timeout > 0 {
		return o.Timeout
	}
	return DefaultTimeout
}

func (o *Opener) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.Default()
}

// Open returns a forward-only stream for ref. The caller closes it.
func (o *Opener) Open(ctx context.Context, ref locator.Ref) (io.ReadCloser, error) {
	o.logger().Debug("open remote stream", "kind", ref.Kind, "resource", locator.Truncate(ref.Raw, 60))
	switch ref.Kind {
	case locator.KindHTTP:
		return o.openHTTP(ctx, ref)
	case locator.KindFTP:
		return o.openFTP(ctx, ref)
	case locator.KindS3:
		if o.S3 == nil {
			return nil, ErrNoS3
		}
		rc, meta, err := o.S3.OpenReader(ctx, ref)
		if err != nil {
			return nil, err
		}
		o.logger().Debug("opened s3 object", "size", meta.Size, "etag", meta.ETag)
		return rc, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedScheme, ref.Kind)
	}
}

// httpClient returns Client, or a client built once and shared by every
// request of o so idle connections are reused.
func (o *Opener) httpClient() *http.Client {
	if o.Client != nil {
		return o.Client
	}
	o.clientOnce.Do(func() {
		d := o.timeout()
		o.client = &http.Client{
			Transport: &http.Transport{
				Proxy:                 http.ProxyFromEnvironment,
				DialContext:           (&net.Dialer{Timeout: d}).DialContext,
				TLSHandshakeTimeout:   d,
				ResponseHeaderTimeout: d,
				IdleConnTimeout:       90 * time.Second,
				MaxIdleConnsPerHost:   8,
			},
		}
	})
	return o.client
}

func (o *Opener) openHTTP(ctx context.Context, ref locator.Ref) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref.URL.String(), nil)
	if err != nil {
		return nil, err
	}
	ua := o.UserAgent
	if ua == "" {
		ua = DefaultUserAgent
	}
	req.Header.Set("User-Agent", ua)

	resp, err := o.httpClient().Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= http.StatusBadRequest {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()
		return nil, &StatusError{Code: resp.StatusCode, URL: ref.Raw}
	}
	return &timeoutBody{body: resp.Body, timeout: o.timeout()}, nil
}

// timeoutBody fails a read that blocks longer than timeout by closing the
// underlying body.
type timeoutBody struct {
	body     io.ReadCloser
	timeout  time.Duration
	timedOut atomic.Bool
}

func (b *timeoutBody) Read(p []byte) (int, error) {
	t := time.AfterFunc(b.timeout, func() {
		b.timedOut.Store(true)
		_ = b.body.Close()
	})
	n, err := b.body.Read(p)
	if !t.Stop() && b.timedOut.Load() {
		return n, fmt.Errorf("read: %w", context.DeadlineExceeded)
	}
	return n, err
}

func (b *timeoutBody) Close() error { return b.body.Close() }

func (o *Opener) openFTP(ctx context.Context, ref locator.Ref) (io.ReadCloser, error) {
	addr := ref.URL.Host
	if ref.URL.Port() == "" {
		addr = net.JoinHostPort(ref.URL.Hostname(), "21")
	}
	opts := []ftp.DialOption{ftp.DialWithTimeout(o.timeout()), ftp.DialWithContext(ctx)}
	if ref.URL.Scheme == "ftps" {
		opts = append(opts, ftp.DialWithExplicitTLS(&tls.Config{ServerName: ref.URL.Hostname(), MinVersion: tls.VersionTLS12}))
	}
	conn, err := ftp.Dial(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}

	user, pass := "anonymous", "anonymous"
	if ref.URL.User != nil {
		user = ref.URL.User.Username()
		if p, ok := ref.URL.User.Password(); ok {
			pass = p
		}
	}
	if err := conn.Login(user, pass); err != nil {
		_ = conn.Quit()
		return nil, fmt.Errorf("login %s: %w", addr, err)
	}
	resp, err := conn.Retr(ref.URL.Path)
	if err != nil {
		_ = conn.Quit()
		return nil, fmt.Errorf("retr %s: %w", ref.URL.Path, err)
	}
	return &ftpStream{resp: resp, conn: conn}, nil
}

// ftpStream closes the data connection and then the control connection.
type ftpStream struct {
	resp *ftp.Response
	conn *ftp.ServerConn
}

func (s *ftpStream) Read(p []byte) (int, error) { return s.resp.Read(p) }

func (s *ftpStream) Close() error {
	err := s.resp.Close()
	if qerr := s.conn.Quit(); err == nil {
		err = qerr
	}
	return err
}
