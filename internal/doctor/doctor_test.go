package doctor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xmjiao/jianpu-ly/internal/config"
	"github.com/xmjiao/jianpu-ly/internal/editorconf"
	"github.com/xmjiao/jianpu-ly/internal/fetch"
	"github.com/xmjiao/jianpu-ly/internal/shell/mocks"
	"github.com/xmjiao/jianpu-ly/pkg/provisioners"
)

func TestRunCountsStatuses(t *testing.T) {
	pass := func(context.Context, Env) (string, error) { return "ok", nil }
	fail := func(context.Context, Env) (string, error) { return "", errors.New("boom") }

	rep := Run(context.Background(), Env{}, []Check{
		{Name: "a", Run: pass},
		{Name: "b", Run: fail, Optional: true},
		{Name: "c", Run: fail},
	})

	assert.Equal(t, Summary{Pass: 1, Warn: 1, Fail: 1}, rep.Summary)
	assert.Equal(t, StatusWarn, rep.Checks[1].Status)
	assert.Equal(t, "boom", rep.Checks[2].Detail)
	assert.True(t, rep.Failed())
	assert.EqualError(t, rep.Err(), "1 check(s) failed")
	assert.Contains(t, rep.Text(), "1 failed")
}

func TestRequiredToolsDeduplicates(t *testing.T) {
	cfg := config.Default()
	cfg.Provision.PrimaryTool = "lilypond"
	tools := RequiredTools(cfg)
	assert.Equal(t, "python3", tools[0])
	assert.NotContains(t, tools, "mscore")
	n := 0
	for _, tool := range tools {
		if tool == "lilypond" {
			n++
		}
	}
	assert.Equal(t, 1, n)
}

func healthyEnv(t *testing.T, ctrl *gomock.Controller) Env {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Editor.ConfigPath = filepath.Join(dir, "MuseScore3.ini")
	cfg.State.Path = filepath.Join(dir, "state", "history.db")
	cfg.Mount.Point = filepath.Join(dir, "drive")

	workdir := filepath.Join(dir, "work")
	require.NoError(t, os.MkdirAll(workdir, 0o755))
	script := []byte("print('ok')\n")
	require.NoError(t, os.WriteFile(filepath.Join(workdir, cfg.Script.Name), script, 0o644))
	cfg.Script.Checksum = "blake3:" + fetch.Blake3Hex(script)

	_, err := editorconf.Write(cfg.Editor.ConfigPath, provisioners.EditorSettings(cfg))
	require.NoError(t, err)

	configPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, config.Save(cfg, configPath))

	detector := mocks.NewMockDetector(ctrl)
	detector.EXPECT().LookPath(gomock.Any()).DoAndReturn(func(name string) (string, error) {
		return "/usr/bin/" + name, nil
	}).AnyTimes()

	return Env{
		Config:     cfg,
		ConfigPath: configPath,
		Workdir:    workdir,
		Detector:   detector,
		Mounted: func(string) (bool, string, error) {
			return true, "fuse", nil
		},
	}
}

func TestChecksHealthyEnvironment(t *testing.T) {
	ctrl := gomock.NewController(t)
	env := healthyEnv(t, ctrl)

	rep := Run(context.Background(), env, Checks(env.Config))
	for _, r := range rep.Checks {
		assert.Equal(t, StatusPass, r.Status, "%s: %s", r.Check, r.Detail)
	}
	assert.False(t, rep.Failed())
	assert.NoError(t, rep.Err())
}

func TestChecksReportProblems(t *testing.T) {
	ctrl := gomock.NewController(t)
	env := healthyEnv(t, ctrl)

	detector := mocks.NewMockDetector(ctrl)
	detector.EXPECT().LookPath(gomock.Any()).DoAndReturn(func(name string) (string, error) {
		if name == "mscore" {
			return "", errors.New("not found")
		}
		return "/usr/bin/" + name, nil
	}).AnyTimes()
	env.Detector = detector
	env.Mounted = func(string) (bool, string, error) { return false, "ext4", nil }
	env.Config.Script.Checksum = "blake3:" + fetch.Blake3Hex([]byte("other"))

	rep := Run(context.Background(), env, Checks(env.Config))
	byName := map[string]Result{}
	for _, r := range rep.Checks {
		byName[r.Check] = r
	}

	assert.Equal(t, StatusFail, byName["mscore"].Status)
	assert.Contains(t, byName["mscore"].Detail, "jianpu-ly provision")
	assert.Equal(t, StatusWarn, byName["Drive mount"].Status)
	assert.Equal(t, StatusWarn, byName["Conversion script"].Status)
	assert.Contains(t, byName["Conversion script"].Detail, "checksum mismatch")
	assert.Equal(t, 1, rep.Summary.Fail)
}

func TestEditorConfigMissingSuggestsConfigOnly(t *testing.T) {
	ctrl := gomock.NewController(t)
	env := healthyEnv(t, ctrl)
	env.Config.Editor.ConfigPath = filepath.Join(t.TempDir(), "absent.ini")

	_, err := checkEditorConfig(context.Background(), env)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--config-only")
}
