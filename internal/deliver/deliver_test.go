package deliver

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xmjiao/jianpu-ly/internal/collect"
	jerrors "github.com/xmjiao/jianpu-ly/internal/errors"
	"github.com/xmjiao/jianpu-ly/internal/shell"
	"github.com/xmjiao/jianpu-ly/internal/shell/mocks"
)

func artifactSet(t *testing.T, names ...string) collect.ArtifactSet {
	t.Helper()
	dir := t.TempDir()
	for _, n := range names {
		require.NoError(t, os.WriteFile(filepath.Join(dir, n), []byte("content of "+n), 0o644))
	}
	return collect.ArtifactSet{Workdir: dir, BaseName: "song"}
}

func TestDeliverCopiesAllThree(t *testing.T) {
	set := artifactSet(t, "song.pdf", "song.midi", "song.mp3")
	dest := filepath.Join(t.TempDir(), "out")
	var out bytes.Buffer

	report, err := NewSink(&out, "").Deliver(context.Background(), set, dest)
	require.NoError(t, err)
	require.Len(t, report.Copied, 3)

	for _, name := range []string{"song.pdf", "song.midi", "song.mp3"} {
		want, err := os.ReadFile(filepath.Join(set.Workdir, name))
		require.NoError(t, err)
		got, err := os.ReadFile(filepath.Join(dest, name))
		require.NoError(t, err)
		assert.Equal(t, want, got, name)
	}

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 4, "one line per file plus one summary line")
	assert.Equal(t, "Copied song.pdf to "+dest, lines[0])
	assert.Equal(t, "Copied song.midi to "+dest, lines[1])
	assert.Equal(t, "Copied song.mp3 to "+dest, lines[2])
	assert.Contains(t, lines[3], dest)
	assert.Equal(t, int64(len("content of song.pdf")+len("content of song.midi")+len("content of song.mp3")), report.Bytes())
}

func TestDeliverCreatesMultiLevelDestination(t *testing.T) {
	set := artifactSet(t, "song.pdf", "song.midi", "song.mp3")
	dest := filepath.Join(t.TempDir(), "a", "b", "c")

	_, err := NewSink(nil, "").Deliver(context.Background(), set, dest)
	require.NoError(t, err)

	// second delivery into the now-existing directory is fine too
	_, err = NewSink(nil, "").Deliver(context.Background(), set, dest)
	require.NoError(t, err)
}

func TestDeliverMissingAudioAttemptsAll(t *testing.T) {
	set := artifactSet(t, "song.pdf", "song.midi")
	dest := t.TempDir()
	var out bytes.Buffer

	report, err := NewSink(&out, "https://drive.google.com/drive/my-drive").Deliver(context.Background(), set, dest)
	require.Error(t, err)
	assert.Equal(t, jerrors.ExitDeliveryError, jerrors.ExitCode(err))

	assert.Len(t, report.Copied, 2)
	assert.Equal(t, []string{set.Audio()}, report.Failed)

	var missing *MissingArtifactError
	require.True(t, errors.As(err, &missing))
	assert.Equal(t, set.Audio(), missing.Path)
	assert.Equal(t, 1, strings.Count(err.Error(), "missing file"))

	_, statErr := os.Stat(filepath.Join(dest, "song.midi"))
	assert.NoError(t, statErr)
	assert.Contains(t, out.String(), "drive.google.com")
}

func TestDeliverAllMissingReportsEach(t *testing.T) {
	set := artifactSet(t)
	report, err := NewSink(nil, "").Deliver(context.Background(), set, t.TempDir())
	require.Error(t, err)
	assert.Len(t, report.Failed, 3)
	assert.Equal(t, 3, strings.Count(err.Error(), "missing file"))
}

func TestDeliverEmptyDestination(t *testing.T) {
	_, err := NewSink(nil, "").Deliver(context.Background(), artifactSet(t), "")
	assert.Equal(t, jerrors.KindDelivery, jerrors.KindOf(err))
}

func TestCopiedFileDigest(t *testing.T) {
	set := artifactSet(t, "song.pdf", "song.midi", "song.mp3")
	report, err := NewSink(nil, "").Deliver(context.Background(), set, t.TempDir())
	require.NoError(t, err)
	for _, c := range report.Copied {
		assert.Len(t, c.Blake3, 64)
	}
	assert.NotEqual(t, report.Copied[0].Blake3, report.Copied[1].Blake3)
}

func fakeDetector(fsType string) func(string) (string, error) {
	return func(string) (string, error) { return fsType, nil }
}

func TestMountForceUnmountsFirst(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	point := filepath.Join(t.TempDir(), "drive")
	runner := mocks.NewMockRunner(ctrl)
	m := &Mounter{
		Runner:         runner,
		Point:          point,
		Command:        []string{"google-drive-ocamlfuse", point},
		UnmountCommand: []string{"fusermount", "-u", point},
		detect:         fakeDetector("fuse"),
	}

	gomock.InOrder(
		runner.EXPECT().Run(gomock.Any(), shell.Command{Name: "fusermount", Args: []string{"-u", point}}).
			Return(shell.Result{ExitCode: 1}, &shell.ExitError{Command: "fusermount", ExitCode: 1}),
		runner.EXPECT().Run(gomock.Any(), shell.Command{Name: "google-drive-ocamlfuse", Args: []string{point}}).
			Return(shell.Result{}, nil),
	)

	require.NoError(t, m.Mount(context.Background(), true))
	_, err := os.Stat(point)
	assert.NoError(t, err)
}

func TestMountWithoutForceSkipsWhenMounted(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	point := t.TempDir()
	m := &Mounter{
		Runner:  mocks.NewMockRunner(ctrl),
		Point:   point,
		Command: []string{"google-drive-ocamlfuse", point},
		detect:  fakeDetector("fuse"),
	}
	assert.NoError(t, m.Mount(context.Background(), false))
}

func TestMountFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	point := t.TempDir()
	runner := mocks.NewMockRunner(ctrl)
	runner.EXPECT().Run(gomock.Any(), gomock.Any()).Return(shell.Result{ExitCode: 1},
		&shell.ExitError{Command: "google-drive-ocamlfuse", ExitCode: 1})
	m := &Mounter{
		Runner:  runner,
		Point:   point,
		Command: []string{"google-drive-ocamlfuse", point},
		detect:  fakeDetector("0xef53"),
	}

	err := m.Mount(context.Background(), false)
	require.Error(t, err)
	assert.Equal(t, jerrors.KindDelivery, jerrors.KindOf(err))
}

func TestMountedDetection(t *testing.T) {
	dir := t.TempDir()

	ok, fsType, err := mountedWith(dir, fakeDetector("fuse"))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "fuse", fsType)

	ok, _, err = mountedWith(dir, fakeDetector("0xef53"))
	require.NoError(t, err)
	assert.False(t, ok)

	ok, _, err = mountedWith(filepath.Join(dir, "absent"), fakeDetector("fuse"))
	require.NoError(t, err)
	assert.False(t, ok)
}
