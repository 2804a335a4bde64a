package tui

import (
	"bytes"
	"encoding/json"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestParseOutputFormat(t *testing.T) {
	tests := []struct {
		input   string
		want    OutputFormat
		wantErr bool
	}{
		{"json", FormatJSON, false},
		{"yaml", FormatYAML, false},
		{"text", FormatText, false},
		{"", FormatText, false},
		{"xml", "", true},
	}
	for _, tt := range tests {
		got, err := ParseOutputFormat(tt.input)
		if tt.wantErr {
			assert.Error(t, err, tt.input)
			continue
		}
		require.NoError(t, err, tt.input)
		assert.Equal(t, tt.want, got, tt.input)
	}
}

func TestSetOutputFormat(t *testing.T) {
	defer SetOutputFormat("text")

	SetOutputFormat("json")
	assert.Equal(t, FormatJSON, GetOutputFormat())
	assert.True(t, IsStructured())

	SetOutputFormat("yaml")
	assert.True(t, IsStructured())

	SetOutputFormat("unknown")
	assert.Equal(t, FormatText, GetOutputFormat())
	assert.False(t, IsStructured())
}

type runSummary struct {
	BaseName string   `json:"baseName" yaml:"baseName"`
	Files    []string `json:"files" yaml:"files"`
}

func TestFprintOutputJSON(t *testing.T) {
	SetOutputFormat("json")
	defer SetOutputFormat("text")

	var buf bytes.Buffer
	require.NoError(t, FprintOutput(&buf, runSummary{BaseName: "song", Files: []string{"song.pdf"}}, "ignored"))

	var got runSummary
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, "song", got.BaseName)
	assert.Contains(t, buf.String(), "\n  \"files\"")
}

func TestFprintOutputYAML(t *testing.T) {
	SetOutputFormat("yaml")
	defer SetOutputFormat("text")

	var buf bytes.Buffer
	require.NoError(t, FprintOutput(&buf, runSummary{BaseName: "song"}, "ignored"))

	var got runSummary
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, "song", got.BaseName)
}

func TestFprintOutputText(t *testing.T) {
	SetOutputFormat("text")

	var buf bytes.Buffer
	require.NoError(t, FprintOutput(&buf, runSummary{BaseName: "song"}, "song.pdf\n"))
	assert.Equal(t, "song.pdf\n", buf.String())
}

func TestRenderOutputUsesStdoutWriter(t *testing.T) {
	var out bytes.Buffer
	SetLogOutput(nil, &out)
	defer SetLogOutput(nil, os.Stdout)

	SetOutputFormat("text")
	require.NoError(t, RenderOutput(nil, "hello\n"))
	assert.Equal(t, "hello\n", out.String())
}
