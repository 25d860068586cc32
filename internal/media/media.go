// Package media resolves outbound media references to bytes. A reference
// is an http(s) URL, an s3://bucket/key object, or a local file path.
package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// DefaultMaxBytes caps a single fetched object.
const DefaultMaxBytes = 64 << 20

var (
	ErrTooLarge      = errors.New("media exceeds size limit")
	ErrUnsupported   = errors.New("unsupported media reference")
	ErrFileRefDenied = errors.New("local file reference not allowed")
)

// Blob is fetched media.
type Blob struct {
	Data     []byte
	MimeType string
	FileName string
}

// Config configures a Resolver.
type Config struct {
	MaxBytes int64
	Timeout  time.Duration
	// Roots lists directories local refs may read from. Empty disables them.
	Roots []string

	S3Region          string
	S3Endpoint        string
	S3AccessKeyID     string
	S3SecretAccessKey string

	HTTPClient *http.Client
}

// Resolver fetches media references.
type Resolver struct {
	cfg  Config
	http *http.Client

	s3Once sync.Once
	s3     *s3.Client
	s3Err  error
}

func NewResolver(cfg Config) *Resolver {
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = DefaultMaxBytes
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &Resolver{cfg: cfg, http: client}
}

// Fetch loads ref.
func (r *Resolver) Fetch(ctx context.Context, ref string) (Blob, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return Blob{}, fmt.Errorf("%w: empty", ErrUnsupported)
	}

	start := time.Now()
	var (
		blob Blob
		err  error
	)
	switch {
	case strings.HasPrefix(ref, "http://"), strings.HasPrefix(ref, "https://"):
		blob, err = r.fetchHTTP(ctx, ref)
	case strings.HasPrefix(ref, "s3://"):
		blob, err = r.fetchS3(ctx, ref)
	case strings.HasPrefix(ref, "file://"):
		blob, err = r.fetchFile(strings.TrimPrefix(ref, "file://"))
	case filepath.IsAbs(ref):
		blob, err = r.fetchFile(ref)
	default:
		return Blob{}, fmt.Errorf("%w: %q", ErrUnsupported, ref)
	}
	if err != nil {
		return Blob{}, err
	}

	if blob.MimeType == "" || blob.MimeType == "application/octet-stream" {
		blob.MimeType = http.DetectContentType(blob.Data)
	}
	slog.Debug("media fetched", "ref", redactRef(ref), "bytes", len(blob.Data),
		"mime", blob.MimeType, "duration_ms", time.Since(start).Milliseconds())
	return blob, nil
}

func (r *Resolver) fetchHTTP(ctx context.Context, ref string) (Blob, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref, nil)
	if err != nil {
		return Blob{}, fmt.Errorf("build media request: %w", err)
	}
	resp, err := r.http.Do(req)
	if err != nil {
		return Blob{}, fmt.Errorf("fetch media: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Blob{}, fmt.Errorf("fetch media: status %d", resp.StatusCode)
	}
	if resp.ContentLength > r.cfg.MaxBytes {
		return Blob{}, fmt.Errorf("%w: %d bytes", ErrTooLarge, resp.ContentLength)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, r.cfg.MaxBytes+1))
	if err != nil {
		return Blob{}, fmt.Errorf("read media: %w", err)
	}
	if int64(len(data)) > r.cfg.MaxBytes {
		return Blob{}, fmt.Errorf("%w: over %d bytes", ErrTooLarge, r.cfg.MaxBytes)
	}

	name := ""
	if u, err := url.Parse(ref); err == nil {
		if base := path.Base(u.Path); base != "/" && base != "." {
			name = base
		}
	}
	mimeType := resp.Header.Get("Content-Type")
	if i := strings.IndexByte(mimeType, ';'); i >= 0 {
		mimeType = strings.TrimSpace(mimeType[:i])
	}
	return Blob{Data: data, MimeType: mimeType, FileName: name}, nil
}

func (r *Resolver) fetchFile(p string) (Blob, error) {
	if len(r.cfg.Roots) == 0 {
		return Blob{}, ErrFileRefDenied
	}
	abs, err := filepath.Abs(filepath.Clean(p))
	if err != nil {
		return Blob{}, fmt.Errorf("resolve path: %w", err)
	}
	if !r.withinRoots(abs) {
		return Blob{}, fmt.Errorf("%w: %s", ErrFileRefDenied, abs)
	}

	info, err := os.Stat(abs)
	if err != nil {
		return Blob{}, fmt.Errorf("stat media: %w", err)
	}
	if info.IsDir() {
		return Blob{}, fmt.Errorf("%w: %s is a directory", ErrUnsupported, abs)
	}
	if info.Size() > r.cfg.MaxBytes {
		return Blob{}, fmt.Errorf("%w: %d bytes", ErrTooLarge, info.Size())
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return Blob{}, fmt.Errorf("read media: %w", err)
	}
	return Blob{Data: data, FileName: filepath.Base(abs)}, nil
}

func (r *Resolver) withinRoots(abs string) bool {
	for _, root := range r.cfg.Roots {
		rootAbs, err := filepath.Abs(root)
		if err != nil {
			continue
		}
		rel, err := filepath.Rel(rootAbs, abs)
		if err != nil {
			continue
		}
		if rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

// redactRef drops query strings, which often carry signatures.
func redactRef(ref string) string {
	if i := strings.IndexByte(ref, '?'); i >= 0 {
		return ref[:i] + "?..."
	}
	return ref
}
