package civd

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go/aws/awserr"
	"gocloud.dev/blob"
)

// Bucket is the storage abstraction Pack I/O reads through. A pack file is
// addressed by a key within a bucket, not necessarily a local path: the same
// read_slice contract works whether <root>/data/civd_time/<name>/tiles.zstpack
// lives on disk, in S3, in GCS, or behind a plain HTTP range-capable server.
type Bucket interface {
	Close() error
	ReadSlice(ctx context.Context, key string, offset, length int64) ([]byte, error)
}

// RefreshRequiredError indicates the remote object changed underneath a
// cached read (HTTP 412/416), and any cached directory derived from it must
// be refetched. Packs are written once and never mutated, so readers only
// see this if a snapshot directory was removed or replaced out from under
// them.
type RefreshRequiredError struct {
	StatusCode int
}

func (m *RefreshRequiredError) Error() string {
	return fmt.Sprintf("civd: remote pack changed underneath read (HTTP %d)", m.StatusCode)
}

func isRefreshRequiredCode(code int) bool {
	return code == http.StatusPreconditionFailed || code == http.StatusRequestedRangeNotSatisfiable
}

// FileBucket is a bucket backed by a directory on the local filesystem; this
// is the bucket every World opened with a local root path uses.
type FileBucket struct {
	Root string
}

func (b FileBucket) ReadSlice(_ context.Context, key string, offset, length int64) ([]byte, error) {
	name := filepath.Join(b.Root, filepath.FromSlash(key))
	f, err := os.Open(name)
	if err != nil {
		return nil, newErr(KindIO, err).withPack(name)
	}
	defer f.Close()

	result := make([]byte, length)
	n, err := f.ReadAt(result, offset)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, newErr(KindIO, err).withPack(name)
	}
	if int64(n) != length {
		return nil, newErr(KindIO, fmt.Errorf("short read: got %d of %d bytes", n, length)).withPack(name)
	}
	return result, nil
}

func (b FileBucket) Close() error { return nil }

// httpClient lets tests swap in a mock transport.
type httpClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// HTTPBucket reads pack slices from a plain HTTP(S) origin via byte-range
// requests.
type HTTPBucket struct {
	BaseURL string
	Client  httpClient
}

func (b HTTPBucket) ReadSlice(ctx context.Context, key string, offset, length int64) ([]byte, error) {
	reqURL := strings.TrimSuffix(b.BaseURL, "/") + "/" + key
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, newErr(KindIO, err).withPack(reqURL)
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", offset, offset+length-1))

	resp, err := b.Client.Do(req)
	if err != nil {
		return nil, newErr(KindIO, err).withPack(reqURL)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		if isRefreshRequiredCode(resp.StatusCode) {
			return nil, &RefreshRequiredError{resp.StatusCode}
		}
		return nil, newErr(KindIO, fmt.Errorf("HTTP %d", resp.StatusCode)).withPack(reqURL)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, newErr(KindIO, err).withPack(reqURL)
	}
	if int64(len(body)) != length {
		return nil, newErr(KindIO, fmt.Errorf("short read: got %d of %d bytes", len(body), length)).withPack(reqURL)
	}
	return body, nil
}

func (b HTTPBucket) Close() error { return nil }

// gocloudBucket adapts a *blob.Bucket (S3, GCS, Azure) to Bucket.
type gocloudBucket struct {
	bucket *blob.Bucket
}

func (g gocloudBucket) ReadSlice(ctx context.Context, key string, offset, length int64) ([]byte, error) {
	reader, err := g.bucket.NewRangeReader(ctx, key, offset, length, nil)
	if err != nil {
		var rf awserr.RequestFailure
		if errors.As(err, &rf) && isRefreshRequiredCode(rf.StatusCode()) {
			return nil, &RefreshRequiredError{rf.StatusCode()}
		}
		return nil, newErr(KindIO, err).withPack(key)
	}
	defer reader.Close()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, reader); err != nil {
		return nil, newErr(KindIO, err).withPack(key)
	}
	if int64(buf.Len()) != length {
		return nil, newErr(KindIO, fmt.Errorf("short read: got %d of %d bytes", buf.Len(), length)).withPack(key)
	}
	return buf.Bytes(), nil
}

func (g gocloudBucket) Close() error { return g.bucket.Close() }

// OpenBucket opens a Bucket for rootURL. A bare local path becomes a
// FileBucket; "http(s)://" becomes an HTTPBucket; anything else (s3://,
// gs://, azblob://) is handed to gocloud.dev/blob, which brings in the S3,
// GCS, and Azure SDKs transitively.
func OpenBucket(ctx context.Context, rootURL string) (Bucket, error) {
	if strings.HasPrefix(rootURL, "http://") || strings.HasPrefix(rootURL, "https://") {
		return HTTPBucket{BaseURL: rootURL, Client: http.DefaultClient}, nil
	}
	if strings.HasPrefix(rootURL, "file://") {
		return FileBucket{Root: strings.TrimPrefix(rootURL, "file://")}, nil
	}
	if !strings.Contains(rootURL, "://") {
		return FileBucket{Root: rootURL}, nil
	}

	b, err := blob.OpenBucket(ctx, rootURL)
	if err != nil {
		return nil, newErr(KindIO, err)
	}
	return gocloudBucket{bucket: b}, nil
}

// NormalizeKey joins a snapshot-relative path for use as a bucket key,
// always using forward slashes (bucket keys are URL-like regardless of the
// local OS path separator).
func NormalizeKey(parts ...string) string {
	return path.Join(parts...)
}

// resolveRootURL turns a possibly-relative local root into an absolute
// local path (no file:// prefix is added). Remote roots (s3://, https://,
// ...) pass through unchanged.
func resolveRootURL(root string) (string, error) {
	if strings.Contains(root, "://") {
		return root, nil
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", newErr(KindIO, err)
	}
	return abs, nil
}
