// Package deliver copies finished artifacts to durable storage.
package deliver

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/zeebo/blake3"

	"github.com/xmjiao/jianpu-ly/internal/collect"
	jerrors "github.com/xmjiao/jianpu-ly/internal/errors"
)

// MissingArtifactError reports an artifact that was absent at copy time.
type MissingArtifactError struct {
	Path string
}

func (e *MissingArtifactError) Error() string {
	return fmt.Sprintf("missing file: %s", e.Path)
}

// CopiedFile records one successful copy.
type CopiedFile struct {
	Source string `json:"source" yaml:"source"`
	Target string `json:"target" yaml:"target"`
	Bytes  int64  `json:"bytes" yaml:"bytes"`
	Blake3 string `json:"blake3" yaml:"blake3"`
}

// Report summarises a delivery.
type Report struct {
	Destination string       `json:"destination" yaml:"destination"`
	Copied      []CopiedFile `json:"copied" yaml:"copied"`
	Failed      []string     `json:"failed,omitempty" yaml:"failed,omitempty"`
	BrowseHint  string       `json:"browseHint" yaml:"browseHint"`
}

// Bytes is the total size of copied files.
func (r Report) Bytes() int64 {
	var n int64
	for _, c := range r.Copied {
		n += c.Bytes
	}
	return n
}

// Sink copies artifact sets into a destination directory.
type Sink struct {
	// Out receives one line per copied file and a closing summary line.
	Out io.Writer
	// BrowseURL, when set, is where users can browse the destination.
	BrowseURL string
}

// NewSink returns a sink that reports to out.
func NewSink(out io.Writer, browseURL string) *Sink {
	if out == nil {
		out = io.Discard
	}
	return &Sink{Out: out, BrowseURL: browseURL}
}

// Deliver creates dest if needed and copies score, sequencer and audio into
// it, in that order. Every copy is attempted; missing sources are reported
// together as MissingArtifactErrors.
func (s *Sink) Deliver(ctx context.Context, set collect.ArtifactSet, dest string) (Report, error) {
	report := Report{Destination: dest}
	if dest == "" {
		return report, jerrors.NewDeliveryError(fmt.Errorf("destination is empty"))
	}
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return report, jerrors.NewDeliveryError(fmt.Errorf("create destination: %w", err))
	}

	var errs []error
	for _, src := range set.Paths() {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		copied, err := copyFile(src, filepath.Join(dest, filepath.Base(src)))
		if err != nil {
			report.Failed = append(report.Failed, src)
			errs = append(errs, err)
			continue
		}
		report.Copied = append(report.Copied, copied)
		fmt.Fprintf(s.Out, "Copied %s to %s\n", filepath.Base(src), dest)
	}

	report.BrowseHint = s.browseHint(dest)
	if len(report.Copied) > 0 {
		fmt.Fprintln(s.Out, report.BrowseHint)
	}

	if len(errs) > 0 {
		return report, jerrors.NewDeliveryError(errors.Join(errs...))
	}
	return report, nil
}

func (s *Sink) browseHint(dest string) string {
	if s.BrowseURL != "" {
		return fmt.Sprintf("Files are in %s. Browse them at %s", dest, s.BrowseURL)
	}
	return fmt.Sprintf("Files are in %s", dest)
}

func copyFile(src, dst string) (CopiedFile, error) {
	in, err := os.Open(src)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return CopiedFile{}, &MissingArtifactError{Path: src}
		}
		return CopiedFile{}, fmt.Errorf("open %s: %w", src, err)
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return CopiedFile{}, fmt.Errorf("stat %s: %w", src, err)
	}
	if info.IsDir() {
		return CopiedFile{}, &MissingArtifactError{Path: src}
	}

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return CopiedFile{}, fmt.Errorf("create %s: %w", dst, err)
	}

	h := blake3.New()
	n, err := io.Copy(io.MultiWriter(out, h), in)
	if err != nil {
		_ = out.Close()
		return CopiedFile{}, fmt.Errorf("copy %s: %w", filepath.Base(src), err)
	}
	// Close flushes to the FUSE mount; errors here mean the upload failed.
	if err := out.Close(); err != nil {
		return CopiedFile{}, fmt.Errorf("close %s: %w", dst, err)
	}

	return CopiedFile{
		Source: src,
		Target: dst,
		Bytes:  n,
		Blake3: hex.EncodeToString(h.Sum(nil)),
	}, nil
}
