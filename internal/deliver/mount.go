package deliver

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/xmjiao/jianpu-ly/internal/config"
	jerrors "github.com/xmjiao/jianpu-ly/internal/errors"
	"github.com/xmjiao/jianpu-ly/internal/shell"
)

var mountedFilesystems = map[string]struct{}{
	"fuse":   {},
	"nfs":    {},
	"cifs":   {},
	"smbfs":  {},
	"smb2":   {},
	"webdav": {},
}

// Mounter attaches the cloud drive at a mount point.
type Mounter struct {
	Runner         shell.Runner
	Point          string
	Command        []string
	UnmountCommand []string
	// detect is swapped in tests.
	detect func(string) (string, error)
}

// NewMounter builds a mounter from config.
func NewMounter(cfg config.MountConfig, runner shell.Runner) *Mounter {
	return &Mounter{
		Runner:         runner,
		Point:          cfg.Point,
		Command:        cfg.Command,
		UnmountCommand: cfg.UnmountCommand,
		detect:         detectFilesystemType,
	}
}

// Mounted reports whether the mount point sits on a FUSE or network filesystem.
func (m *Mounter) Mounted() (bool, string, error) {
	detect := m.detect
	if detect == nil {
		detect = detectFilesystemType
	}
	return mountedWith(m.Point, detect)
}

// Mount mounts the drive. With force, any existing mount is detached first
// (failures there are ignored, since nothing may be mounted). Without force,
// an existing mount is left alone.
func (m *Mounter) Mount(ctx context.Context, force bool) error {
	if len(m.Command) == 0 {
		return jerrors.NewDeliveryError(fmt.Errorf("no mount command configured"))
	}
	if m.Point == "" {
		return jerrors.NewDeliveryError(fmt.Errorf("no mount point configured"))
	}

	if !force {
		if ok, _, err := m.Mounted(); err == nil && ok {
			return nil
		}
	} else if len(m.UnmountCommand) > 0 {
		_, _ = m.Runner.Run(ctx, shell.Command{Name: m.UnmountCommand[0], Args: m.UnmountCommand[1:]})
	}

	if err := os.MkdirAll(m.Point, 0o755); err != nil {
		return jerrors.NewDeliveryError(fmt.Errorf("create mount point: %w", err))
	}

	if _, err := m.Runner.Run(ctx, shell.Command{Name: m.Command[0], Args: m.Command[1:]}); err != nil {
		return jerrors.NewDeliveryError(fmt.Errorf("mount %s: %w", m.Point, err))
	}
	return nil
}

// IsMounted reports whether path is on a FUSE or network filesystem.
func IsMounted(path string) (bool, string, error) {
	return mountedWith(path, detectFilesystemType)
}

func mountedWith(path string, detect func(string) (string, error)) (bool, string, error) {
	if path == "" {
		return false, "", fmt.Errorf("mount point is empty")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return false, "", err
	}
	if _, err := os.Stat(abs); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, "", nil
		}
		return false, "", err
	}
	fsType, err := detect(abs)
	if err != nil {
		return false, "", err
	}
	_, ok := mountedFilesystems[strings.ToLower(strings.TrimSpace(fsType))]
	return ok, fsType, nil
}
