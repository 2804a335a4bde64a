package notebook

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xmjiao/jianpu-ly/internal/config"
)

func TestRenderBakesInConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Delivery.Destination = "/content/drive/MyDrive/曲谱"

	var buf bytes.Buffer
	require.NoError(t, Render(&buf, ParamsFromConfig(cfg, "v1.2.3")))
	out := buf.String()

	for _, fn := range []string{"def find_and_convert_to_images(", "def copy_to_drive(", "def mount_drive("} {
		assert.Contains(t, out, fn)
	}
	assert.Contains(t, out, `DESCRIPTION_GLOB = "*.ly"`)
	assert.Contains(t, out, `ARTIFACT_EXTENSIONS = [".pdf", ".midi", ".mp3"]`)
	assert.Contains(t, out, `MOUNT_POINT = "/content/drive"`)
	assert.Contains(t, out, `MOUNT_COMMAND = ["google-drive-ocamlfuse", "/content/drive"]`)
	assert.Contains(t, out, `DEFAULT_DESTINATION = "/content/drive/MyDrive/曲谱"`)
	assert.Contains(t, out, "PREVIEW_DPI = 100")
	assert.Contains(t, out, "jianpu-ly v1.2.3")
	assert.NotContains(t, out, "google.colab")
	assert.NotContains(t, out, "<no value>")
}

func TestRenderCopyToDriveSummary(t *testing.T) {
	cfg := config.Default()
	cfg.Mount.BrowseURL = "https://drive.google.com/drive/my-drive"

	var buf bytes.Buffer
	require.NoError(t, Render(&buf, ParamsFromConfig(cfg, "dev")))
	out := buf.String()

	assert.Contains(t, out, `BROWSE_URL = "https://drive.google.com/drive/my-drive"`)
	copied := strings.Index(out, `print("Copied %s to %s"`)
	summary := strings.Index(out, `print("Files are in %s. Browse them at %s" % (destination, BROWSE_URL))`)
	require.NotEqual(t, -1, copied)
	require.NotEqual(t, -1, summary)
	assert.Less(t, copied, summary, "summary must follow the per-file lines")
	assert.Contains(t, out, `print("Files are in %s" % destination)`)
}

func TestRenderBaseNameMatchesBareNames(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Render(&buf, ParamsFromConfig(config.Default(), "dev")))
	out := buf.String()
	assert.Contains(t, out, "fnmatch.fnmatchcase(name, DESCRIPTION_GLOB)")
	assert.NotContains(t, out, "glob.glob(")
}

func TestRenderColabMount(t *testing.T) {
	p := ParamsFromConfig(config.Default(), "dev")
	p.Colab = true

	var buf bytes.Buffer
	require.NoError(t, Render(&buf, p))
	out := buf.String()
	assert.Contains(t, out, "from google.colab import drive")
	assert.Contains(t, out, `drive.mount("/content/drive", force_remount=force_remount)`)
	assert.NotContains(t, out, "subprocess.run(MOUNT_COMMAND")
}

func TestRenderQuotesSpecialCharacters(t *testing.T) {
	p := ParamsFromConfig(config.Default(), "dev")
	p.Destination = `/drive/a "b"\c`

	var buf bytes.Buffer
	require.NoError(t, Render(&buf, p))
	assert.Contains(t, buf.String(), `DEFAULT_DESTINATION = "/drive/a \"b\"\\c"`)
}

func TestRenderValidates(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Params)
		want   string
	}{
		{"glob", func(p *Params) { p.DescriptionGlob = "" }, "description glob"},
		{"extensions", func(p *Params) { p.Extensions = nil }, "extensions"},
		{"mount", func(p *Params) { p.MountCommand = nil }, "mount command"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := ParamsFromConfig(config.Default(), "dev")
			tt.mutate(&p)
			err := Render(&bytes.Buffer{}, p)
			require.Error(t, err)
			assert.True(t, strings.Contains(err.Error(), tt.want), err.Error())
		})
	}
}
