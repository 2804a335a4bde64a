package collect

import (
	"context"
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/xmjiao/jianpu-ly/internal/shell"
)

// Page is one rendered page of the score document.
type Page struct {
	Number int
	Image  image.Image
}

// PreviewTool renders PDF pages to PNG files.
const PreviewTool = "pdftoppm"

// DefaultPreviewDPI is used when no resolution is given.
const DefaultPreviewDPI = 100

// Preview renders every page of the PDF at pdfPath via pdftoppm and decodes
// the pages in page order. Nothing is kept on disk: each call renders again.
func Preview(ctx context.Context, runner shell.Runner, pdfPath string, dpi int) ([]Page, error) {
	if _, err := os.Stat(pdfPath); err != nil {
		return nil, fmt.Errorf("score document: %w", err)
	}
	if dpi <= 0 {
		dpi = DefaultPreviewDPI
	}

	tmp, err := os.MkdirTemp("", "jianpu-ly-preview-")
	if err != nil {
		return nil, fmt.Errorf("create preview dir: %w", err)
	}
	defer os.RemoveAll(tmp)

	prefix := filepath.Join(tmp, "page")
	_, err = runner.Run(ctx, shell.Command{
		Name: PreviewTool,
		Args: []string{"-png", "-r", strconv.Itoa(dpi), pdfPath, prefix},
	})
	if err != nil {
		return nil, fmt.Errorf("render %s: %w", filepath.Base(pdfPath), err)
	}

	return decodePages(tmp)
}

// decodePages reads page-N.png files (pdftoppm zero-pads N by page count).
func decodePages(dir string) ([]Page, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var pages []Page
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, "page-") || !strings.HasSuffix(name, ".png") {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(name, "page-"), ".png"))
		if err != nil {
			continue
		}
		img, err := decodePNG(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		pages = append(pages, Page{Number: n, Image: img})
	}
	if len(pages) == 0 {
		return nil, fmt.Errorf("%s produced no pages", PreviewTool)
	}
	sort.Slice(pages, func(i, j int) bool { return pages[i].Number < pages[j].Number })
	return pages, nil
}

func decodePNG(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, err := png.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return img, nil
}
