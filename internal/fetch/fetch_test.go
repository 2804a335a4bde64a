package fetch

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const scriptBody = "#!/usr/bin/env python3\nprint('jianpu')\n"

func newScriptServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/jianpu2ly.py", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "jianpu-ly", r.Header.Get("User-Agent"))
		_, _ = w.Write([]byte(scriptBody))
	})
	mux.HandleFunc("/missing", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestHTTPFetcherFetch(t *testing.T) {
	srv := newScriptServer(t)
	data, err := NewHTTPFetcher(srv.Client()).Fetch(context.Background(), srv.URL+"/jianpu2ly.py")
	require.NoError(t, err)
	assert.Equal(t, scriptBody, string(data))
}

func TestHTTPFetcherNon2xx(t *testing.T) {
	srv := newScriptServer(t)
	_, err := NewHTTPFetcher(srv.Client()).Fetch(context.Background(), srv.URL+"/missing")
	require.Error(t, err)

	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusNotFound, se.StatusCode)
}

func TestDownloadOverwritesLocalCopy(t *testing.T) {
	srv := newScriptServer(t)
	dest := filepath.Join(t.TempDir(), "jianpu2ly.py")
	require.NoError(t, os.WriteFile(dest, []byte("stale"), 0o644))

	res, err := Download(context.Background(), NewHTTPFetcher(srv.Client()), srv.URL+"/jianpu2ly.py", dest, "", 0o644)
	require.NoError(t, err)
	assert.False(t, res.Verified)
	assert.Equal(t, len(scriptBody), res.Bytes)
	assert.Equal(t, Blake3Hex([]byte(scriptBody)), res.Blake3)

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, scriptBody, string(got))
}

func TestDownloadVerifiesChecksum(t *testing.T) {
	srv := newScriptServer(t)
	dest := filepath.Join(t.TempDir(), "jianpu2ly.py")
	sum := sha256.Sum256([]byte(scriptBody))

	res, err := Download(context.Background(), NewHTTPFetcher(srv.Client()), srv.URL+"/jianpu2ly.py", dest,
		"sha256:"+hex.EncodeToString(sum[:]), 0o644)
	require.NoError(t, err)
	assert.True(t, res.Verified)
}

func TestDownloadChecksumMismatchKeepsLocalCopy(t *testing.T) {
	srv := newScriptServer(t)
	dest := filepath.Join(t.TempDir(), "jianpu2ly.py")
	require.NoError(t, os.WriteFile(dest, []byte("previous"), 0o644))

	bad := "blake3:" + Blake3Hex([]byte("something else"))
	_, err := Download(context.Background(), NewHTTPFetcher(srv.Client()), srv.URL+"/jianpu2ly.py", dest, bad, 0o644)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrChecksumMismatch)

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "previous", string(got))
}

func TestDownloadFetchFailureLeavesNoFile(t *testing.T) {
	srv := newScriptServer(t)
	dest := filepath.Join(t.TempDir(), "jianpu2ly.py")
	_, err := Download(context.Background(), NewHTTPFetcher(srv.Client()), srv.URL+"/missing", dest, "", 0o644)
	require.Error(t, err)
	_, statErr := os.Stat(dest)
	assert.True(t, os.IsNotExist(statErr))
}

func TestVerify(t *testing.T) {
	data := []byte("abc")
	assert.NoError(t, Verify(data, "blake3:"+Blake3Hex(data)))
	assert.ErrorIs(t, Verify(data, "blake3:"+Blake3Hex([]byte("abd"))), ErrChecksumMismatch)
	assert.Error(t, Verify(data, "md5:900150983cd24fb0d6963f7d28e17f72"))
	assert.Error(t, Verify(data, "nocolon"))
}

func TestWriteAtomicSetsMode(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "bin", "mscore")
	require.NoError(t, WriteAtomic(dest, []byte("ELF"), 0o755))
	info, err := os.Stat(dest)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o755), info.Mode().Perm())

	entries, err := os.ReadDir(filepath.Dir(dest))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp file should be gone")
}

func TestExtractZip(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("fonts/NotoSansCJK.ttc")
	require.NoError(t, err)
	_, _ = w.Write([]byte("font"))
	require.NoError(t, zw.Close())

	dir := t.TempDir()
	files, err := Extract("fonts.zip", buf.Bytes(), dir)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "fonts", "NotoSansCJK.ttc")}, files)
}

func TestExtractTarGz(t *testing.T) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	require.NoError(t, tw.WriteHeader(&tar.Header{Name: "a.ttf", Mode: 0o644, Size: 4, Typeflag: tar.TypeReg}))
	_, _ = tw.Write([]byte("font"))
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())

	dir := t.TempDir()
	files, err := Extract("fonts.tar.gz", buf.Bytes(), dir)
	require.NoError(t, err)
	require.Len(t, files, 1)
	got, err := os.ReadFile(files[0])
	require.NoError(t, err)
	assert.Equal(t, "font", string(got))
}

func TestExtractRejectsTraversal(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	_, err := zw.Create("../evil.ttf")
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	_, err = Extract("fonts.zip", buf.Bytes(), t.TempDir())
	assert.ErrorIs(t, err, ErrUnsafePath)
}

func TestExtractUnsupported(t *testing.T) {
	_, err := Extract("fonts.rar", nil, t.TempDir())
	assert.Error(t, err)
}

func TestArchiveName(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"https://example.test/fonts.zip", "/fonts.zip"},
		{"https://example.test/fonts.zip?raw=true", "/fonts.zip"},
		{"https://example.test/f/fonts.tar.gz?dl=1#top", "/f/fonts.tar.gz"},
		{"fonts.tgz", "fonts.tgz"},
		{"://bad", "://bad"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ArchiveName(tt.in), tt.in)
	}
}
