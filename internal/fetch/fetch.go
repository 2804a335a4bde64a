// Package fetch downloads the conversion script and provisioning assets.
package fetch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/zeebo/blake3"
)

// ErrChecksumMismatch is returned when downloaded bytes do not match the
// configured checksum.
var ErrChecksumMismatch = errors.New("checksum mismatch")

// Fetcher retrieves the bytes behind a URL.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: %d %s", e.URL, e.StatusCode, http.StatusText(e.StatusCode))
}

// HTTPFetcher fetches over HTTP. There is no retry: a failed fetch fails the run.
type HTTPFetcher struct {
	Client    *http.Client
	UserAgent string
}

// NewHTTPFetcher returns a fetcher using client, or http.DefaultClient when nil.
func NewHTTPFetcher(client *http.Client) *HTTPFetcher {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPFetcher{Client: client, UserAgent: "jianpu-ly"}
}

// Fetch downloads url fully into memory.
func (f *HTTPFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if f.UserAgent != "" {
		req.Header.Set("User-Agent", f.UserAgent)
	}

	resp, err := f.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{URL: url, StatusCode: resp.StatusCode}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", url, err)
	}
	return data, nil
}

// Result describes a completed download.
type Result struct {
	URL      string        `json:"url" yaml:"url"`
	Path     string        `json:"path" yaml:"path"`
	Bytes    int           `json:"bytes" yaml:"bytes"`
	Blake3   string        `json:"blake3" yaml:"blake3"`
	Verified bool          `json:"verified" yaml:"verified"`
	Elapsed  time.Duration `json:"elapsed" yaml:"elapsed"`
}

// Download fetches url, verifies it against checksum when one is given, and
// replaces dest atomically. On any failure dest is left as it was.
func Download(ctx context.Context, f Fetcher, url, dest, checksum string, perm os.FileMode) (Result, error) {
	start := time.Now()
	data, err := f.Fetch(ctx, url)
	if err != nil {
		return Result{}, err
	}

	verified := false
	if checksum != "" {
		if err := Verify(data, checksum); err != nil {
			return Result{}, fmt.Errorf("%s: %w", url, err)
		}
		verified = true
	}

	if err := WriteAtomic(dest, data, perm); err != nil {
		return Result{}, err
	}

	return Result{
		URL:      url,
		Path:     dest,
		Bytes:    len(data),
		Blake3:   Blake3Hex(data),
		Verified: verified,
		Elapsed:  time.Since(start),
	}, nil
}

// Verify checks data against "blake3:<hex>" or "sha256:<hex>".
func Verify(data []byte, checksum string) error {
	algo, want, ok := strings.Cut(checksum, ":")
	if !ok {
		return fmt.Errorf("malformed checksum %q", checksum)
	}
	var got string
	switch algo {
	case "blake3":
		got = Blake3Hex(data)
	case "sha256":
		sum := sha256.Sum256(data)
		got = hex.EncodeToString(sum[:])
	default:
		return fmt.Errorf("unsupported checksum algorithm %q", algo)
	}
	if !strings.EqualFold(got, want) {
		return fmt.Errorf("%w: expected %s:%s, got %s:%s", ErrChecksumMismatch, algo, want, algo, got)
	}
	return nil
}

// VerifyFile reads path and checks it against checksum.
func VerifyFile(path, checksum string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}
	if err := Verify(data, checksum); err != nil {
		return fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return nil
}

// Blake3Hex returns the hex BLAKE3-256 digest of data.
func Blake3Hex(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// WriteAtomic writes data to a temp file next to dest and renames it into place.
func WriteAtomic(dest string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(dest)+".*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write %s: %w", tmpName, err)
	}
	if err := tmp.Chmod(perm); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("chmod %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, dest); err != nil {
		return fmt.Errorf("replace %s: %w", dest, err)
	}
	return nil
}
