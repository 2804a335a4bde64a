package provision

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xmjiao/jianpu-ly/internal/config"
	jerrors "github.com/xmjiao/jianpu-ly/internal/errors"
	"github.com/xmjiao/jianpu-ly/internal/shell"
	"github.com/xmjiao/jianpu-ly/internal/shell/mocks"
)

type staticFetcher map[string][]byte

func (f staticFetcher) Fetch(_ context.Context, url string) ([]byte, error) {
	data, ok := f[url]
	if !ok {
		return nil, errors.New("404")
	}
	return data, nil
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Provision.UseSudo = false
	cfg.Provision.AptPackages = []string{"lilypond", "timidity"}
	cfg.Provision.PipPackages = []string{"pdf2image"}
	cfg.Provision.FontDir = filepath.Join(dir, "fonts")
	cfg.Editor.BinaryURL = "https://example.test/MuseScore.AppImage"
	cfg.Editor.BinDir = filepath.Join(dir, "bin")
	cfg.Editor.ConfigPath = filepath.Join(dir, "MuseScore", "MuseScore3.ini")
	return cfg
}

func TestEnsureSkipsWhenPrimaryToolPresent(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	runner := mocks.NewMockRunner(ctrl)
	detector := mocks.NewMockDetector(ctrl)
	detector.EXPECT().LookPath("mscore").Return("/usr/local/bin/mscore", nil)
	// no runner expectations: nothing may be installed

	res, err := New(testConfig(t), runner, detector, staticFetcher{}).Ensure(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Equal(t, "/usr/local/bin/mscore", res.ToolPath)
	assert.Empty(t, res.Steps)
}

func TestEnsureInstallsOnlyOnce(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	cfg := testConfig(t)
	runner := mocks.NewMockRunner(ctrl)
	detector := mocks.NewMockDetector(ctrl)

	installed := false
	detector.EXPECT().LookPath("mscore").DoAndReturn(func(string) (string, error) {
		if installed {
			return cfg.EditorBinaryPath(), nil
		}
		return "", exec.ErrNotFound
	}).AnyTimes()

	var commands []string
	runner.EXPECT().Run(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, c shell.Command) (shell.Result, error) {
		commands = append(commands, c.String())
		return shell.Result{}, nil
	}).Times(4)

	p := New(cfg, runner, detector, staticFetcher{cfg.Editor.BinaryURL: []byte("ELF")})
	var seen []string
	p.OnStep = func(name string) { seen = append(seen, name) }

	res, err := p.Ensure(context.Background())
	require.NoError(t, err)
	assert.False(t, res.Skipped)
	assert.Len(t, res.Steps, 6)
	assert.Equal(t, []string{"apt-update", "apt-install", "fonts", "pip", "editor-binary", "editor-config"}, seen)
	assert.Equal(t, []string{
		"apt-get update -qq",
		"apt-get install -y -qq --no-install-recommends lilypond timidity",
		"fc-cache -f",
		"python3 -m pip install -q pdf2image",
	}, commands)

	info, err := os.Stat(cfg.EditorBinaryPath())
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o755), info.Mode().Perm())
	_, err = os.Stat(cfg.Editor.ConfigPath)
	require.NoError(t, err)

	// second run: the editor is now on PATH, so nothing else runs
	installed = true
	res, err = p.Ensure(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Len(t, commands, 4)
}

func TestEnsureAbortsWithToolExitCode(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	cfg := testConfig(t)
	runner := mocks.NewMockRunner(ctrl)
	detector := mocks.NewMockDetector(ctrl)
	detector.EXPECT().LookPath("mscore").Return("", exec.ErrNotFound)

	gomock.InOrder(
		runner.EXPECT().Run(gomock.Any(), gomock.Any()).Return(shell.Result{}, nil),
		runner.EXPECT().Run(gomock.Any(), gomock.Any()).Return(shell.Result{ExitCode: 100},
			&shell.ExitError{Command: "apt-get install", ExitCode: 100, Tail: "E: Unable to locate package"}),
	)

	res, err := New(cfg, runner, detector, staticFetcher{}).Ensure(context.Background())
	require.Error(t, err)
	assert.Equal(t, jerrors.KindInstall, jerrors.KindOf(err))
	assert.Equal(t, 100, jerrors.ExitCode(err))
	assert.Contains(t, err.Error(), "apt-install")
	assert.Len(t, res.Steps, 1)
}

func TestEnsureUsesSudoWhenConfigured(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	cfg := testConfig(t)
	cfg.Provision.UseSudo = true
	runner := mocks.NewMockRunner(ctrl)
	detector := mocks.NewMockDetector(ctrl)
	detector.EXPECT().LookPath("mscore").Return("", exec.ErrNotFound)

	runner.EXPECT().Run(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, c shell.Command) (shell.Result, error) {
		assert.Equal(t, "sudo", c.Name)
		assert.Equal(t, []string{"apt-get", "update", "-qq"}, c.Args)
		return shell.Result{ExitCode: 1}, &shell.ExitError{Command: c.String(), ExitCode: 1}
	})

	_, err := New(cfg, runner, detector, staticFetcher{}).Ensure(context.Background())
	assert.Equal(t, 1, jerrors.ExitCode(err))
}

func TestEnsureEditorDownloadFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	cfg := testConfig(t)
	runner := mocks.NewMockRunner(ctrl)
	detector := mocks.NewMockDetector(ctrl)
	detector.EXPECT().LookPath("mscore").Return("", exec.ErrNotFound)
	runner.EXPECT().Run(gomock.Any(), gomock.Any()).Return(shell.Result{}, nil).Times(4)

	_, err := New(cfg, runner, detector, staticFetcher{}).Ensure(context.Background())
	require.Error(t, err)
	assert.Equal(t, jerrors.KindInstall, jerrors.KindOf(err))
	assert.Equal(t, jerrors.ExitError, jerrors.ExitCode(err))
	assert.Contains(t, err.Error(), "editor-binary")
}

func TestWriteEditorConfig(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	cfg := testConfig(t)
	cfg.Editor.CloudClientID = "abc123"
	p := New(cfg, mocks.NewMockRunner(ctrl), mocks.NewMockDetector(ctrl), staticFetcher{})

	entries, err := p.WriteEditorConfig()
	require.NoError(t, err)
	assert.Len(t, entries, 2)
	data, err := os.ReadFile(cfg.Editor.ConfigPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "clientId=abc123")
}
