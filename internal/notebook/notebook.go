// Package notebook generates a Python helper module for interactive notebook
// sessions: locate-and-render pages, copy artifacts to the drive, mount the
// drive. Values are baked in from config so the helper matches the CLI.
package notebook

import (
	"bytes"
	"embed"
	"fmt"
	"io"
	"strconv"
	"text/template"

	"github.com/xmjiao/jianpu-ly/internal/collect"
	"github.com/xmjiao/jianpu-ly/internal/config"
)

//go:embed templates/*.py.tmpl
var templatesFS embed.FS

const templateName = "jianpu_helper.py.tmpl"

// DefaultFileName is where `jianpu-ly helper` writes the module.
const DefaultFileName = "jianpu_helper.py"

// Params are the values baked into the helper.
type Params struct {
	Version         string
	DescriptionGlob string
	Extensions      []string
	MountPoint      string
	MountCommand    []string
	UnmountCommand  []string
	Destination     string
	BrowseURL       string
	PreviewDPI      int
	// Colab mounts through google.colab instead of the configured command.
	Colab          bool
	ColabMountRoot string
}

// ParamsFromConfig fills Params from cfg.
func ParamsFromConfig(cfg *config.Config, version string) Params {
	return Params{
		Version:         version,
		DescriptionGlob: cfg.Conversion.DescriptionGlob,
		Extensions:      collect.Extensions(),
		MountPoint:      cfg.Mount.Point,
		MountCommand:    cfg.Mount.Command,
		UnmountCommand:  cfg.Mount.UnmountCommand,
		Destination:     cfg.Delivery.Destination,
		BrowseURL:       cfg.Mount.BrowseURL,
		PreviewDPI:      collect.DefaultPreviewDPI,
		ColabMountRoot:  cfg.Mount.Point,
	}
}

// Render writes the helper module to w.
func Render(w io.Writer, p Params) error {
	if p.DescriptionGlob == "" {
		return fmt.Errorf("description glob is empty")
	}
	if len(p.Extensions) == 0 {
		return fmt.Errorf("no artifact extensions")
	}
	if !p.Colab && len(p.MountCommand) == 0 {
		return fmt.Errorf("no mount command configured")
	}
	if p.PreviewDPI <= 0 {
		p.PreviewDPI = collect.DefaultPreviewDPI
	}

	content, err := templatesFS.ReadFile("templates/" + templateName)
	if err != nil {
		return fmt.Errorf("read template: %w", err)
	}

	funcMap := template.FuncMap{
		// Go's quoting is a valid Python string literal for everything
		// strconv emits: \n, \t, \", \\, \xNN, \uNNNN and \UNNNNNNNN.
		"quote": strconv.Quote,
	}
	tmpl, err := template.New(templateName).Funcs(funcMap).Option("missingkey=error").Parse(string(content))
	if err != nil {
		return fmt.Errorf("parse template: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, p); err != nil {
		return fmt.Errorf("execute template: %w", err)
	}
	_, err = w.Write(buf.Bytes())
	return err
}
