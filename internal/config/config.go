package config

import (
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// EnvConfigPath overrides the config file location when set.
const EnvConfigPath = "JIANPU_LY_CONFIG"

// Config holds the jianpu-ly configuration.
type Config struct {
	// Workdir is the scratch directory every stage operates in.
	Workdir string `yaml:"workdir"`
	// Script describes the conversion script that is fetched on each run.
	Script ScriptConfig `yaml:"script"`
	// Conversion controls how the script is invoked and what it produces.
	Conversion ConversionConfig `yaml:"conversion"`
	// Provision lists what to install when the primary tool is missing.
	Provision ProvisionConfig `yaml:"provision"`
	// Editor holds the notation editor binary and its INI settings.
	Editor EditorConfig `yaml:"editor"`
	// Mount describes the cloud drive mount.
	Mount MountConfig `yaml:"mount"`
	// Delivery holds the default destination for artifacts.
	Delivery DeliveryConfig `yaml:"delivery"`
	// State holds the run history database location.
	State StateConfig `yaml:"state"`
	// Metrics controls the Prometheus textfile output.
	Metrics MetricsConfig `yaml:"metrics"`
	// Serve controls the browse server.
	Serve ServeConfig `yaml:"serve"`
	// Interactive controls whether spinners and TUI tables are used.
	Interactive bool `yaml:"interactive"`
	// Verbose streams child process output and enables debug lines.
	Verbose bool `yaml:"verbose"`
	// Quiet suppresses informational output.
	Quiet bool `yaml:"quiet"`
}

// ScriptConfig describes the remote conversion script.
type ScriptConfig struct {
	URL string `yaml:"url"`
	// Name is the local file name inside the workdir.
	Name string `yaml:"name"`
	// Checksum is empty, "blake3:<hex>" or "sha256:<hex>".
	Checksum    string `yaml:"checksum,omitempty"`
	Interpreter string `yaml:"interpreter"`
}

// ConversionConfig controls the conversion invocation.
type ConversionConfig struct {
	// FixedFlags are passed before the caller's arguments.
	FixedFlags []string `yaml:"fixedFlags"`
	// DescriptionGlob matches the description file the script leaves behind.
	DescriptionGlob string `yaml:"descriptionGlob"`
	// RuntimeDir is exported as XDG_RUNTIME_DIR. Empty means /tmp/runtime-<user>.
	RuntimeDir string `yaml:"runtimeDir,omitempty"`
	// Headless exports QT_QPA_PLATFORM=offscreen.
	Headless bool `yaml:"headless"`
}

// ProvisionConfig lists the packages and assets installed on first run.
type ProvisionConfig struct {
	// PrimaryTool is looked up on PATH. When present, provisioning is skipped.
	PrimaryTool string   `yaml:"primaryTool"`
	UseSudo     bool     `yaml:"useSudo"`
	AptPackages []string `yaml:"aptPackages"`
	PipPackages []string `yaml:"pipPackages"`
	// FontBundleURL points at a zip or tar.gz archive of fonts. Optional.
	FontBundleURL      string `yaml:"fontBundleURL,omitempty"`
	FontBundleChecksum string `yaml:"fontBundleChecksum,omitempty"`
	FontDir            string `yaml:"fontDir"`
}

// EditorConfig describes the notation editor binary and its settings file.
type EditorConfig struct {
	BinaryURL      string `yaml:"binaryURL"`
	BinaryChecksum string `yaml:"binaryChecksum,omitempty"`
	BinDir         string `yaml:"binDir"`
	BinaryName     string `yaml:"binaryName"`
	// ConfigPath is the editor's INI file.
	ConfigPath string `yaml:"configPath"`
	Metronome  bool   `yaml:"metronome"`
	// FullDefaults writes the complete block of playback and UI defaults.
	FullDefaults  bool   `yaml:"fullDefaults"`
	CloudClientID string `yaml:"cloudClientID,omitempty"`
}

// MountConfig describes the cloud drive mount.
type MountConfig struct {
	Point          string   `yaml:"point"`
	Command        []string `yaml:"command"`
	UnmountCommand []string `yaml:"unmountCommand"`
	// BrowseURL is printed after delivery so users can find the files.
	BrowseURL string `yaml:"browseURL,omitempty"`
}

// DeliveryConfig holds the default delivery destination.
type DeliveryConfig struct {
	Destination string `yaml:"destination"`
}

// StateConfig holds the history database location.
type StateConfig struct {
	Path string `yaml:"path"`
}

// MetricsConfig controls the textfile collector output.
type MetricsConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Textfile string `yaml:"textfile,omitempty"`
}

// ServeConfig controls the browse server.
type ServeConfig struct {
	Listen string `yaml:"listen"`
}

var (
	current *Config
	mu      sync.RWMutex
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Default returns the default configuration.
func Default() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		Workdir: ".",
		Script: ScriptConfig{
			URL:         "https://raw.githubusercontent.com/xmjiao/jianpu2ly/main/jianpu2ly.py",
			Name:        "jianpu2ly.py",
			Interpreter: "python3",
		},
		Conversion: ConversionConfig{
			FixedFlags:      []string{"-g"},
			DescriptionGlob: "*.ly",
			Headless:        true,
		},
		Provision: ProvisionConfig{
			PrimaryTool: "mscore",
			UseSudo:     os.Geteuid() != 0,
			AptPackages: []string{
				"lilypond", "timidity", "lame", "ffmpeg",
				"poppler-utils", "fonts-noto-cjk", "libfuse2",
			},
			PipPackages: []string{"pdf2image", "pydub", "requests"},
			FontDir:     filepath.Join(home, ".local", "share", "fonts"),
		},
		Editor: EditorConfig{
			BinaryURL:  "https://github.com/musescore/MuseScore/releases/download/v3.6.2/MuseScore-3.6.2.548021370-x86_64.AppImage",
			BinDir:     "/usr/local/bin",
			BinaryName: "mscore",
			ConfigPath: filepath.Join(home, ".config", "MuseScore", "MuseScore3.ini"),
			Metronome:  true,
		},
		Mount: MountConfig{
			Point:          "/content/drive",
			Command:        []string{"google-drive-ocamlfuse", "/content/drive"},
			UnmountCommand: []string{"fusermount", "-u", "/content/drive"},
			BrowseURL:      "https://drive.google.com/drive/my-drive",
		},
		Delivery: DeliveryConfig{
			Destination: "/content/drive/MyDrive/jianpu",
		},
		State: StateConfig{
			Path: filepath.Join(StateDir(), "history.db"),
		},
		Serve: ServeConfig{
			Listen: "127.0.0.1:8088",
		},
		Interactive: true,
	}
}

// ConfigDir returns the XDG config directory for jianpu-ly.
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "jianpu-ly")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "jianpu-ly")
}

// StateDir returns the XDG state directory for jianpu-ly.
func StateDir() string {
	if xdg := os.Getenv("XDG_STATE_HOME"); xdg != "" {
		return filepath.Join(xdg, "jianpu-ly")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "state", "jianpu-ly")
}

// ConfigPath returns the path to the config file. JIANPU_LY_CONFIG wins.
func ConfigPath() string {
	if p := os.Getenv(EnvConfigPath); p != "" {
		return p
	}
	return filepath.Join(ConfigDir(), "config.yaml")
}

// Load reads the config from a file path. If path is empty, uses the default location.
// ${VAR} references are expanded from the environment before parsing.
func Load(path string) (*Config, error) {
	if path == "" {
		path = ConfigPath()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := Default()
	if err := yaml.Unmarshal([]byte(interpolateEnv(string(data))), cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	return cfg, nil
}

// LoadOrDefault is Load, except that a missing file yields Default().
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if os.IsNotExist(err) {
		return Default(), nil
	}
	return cfg, err
}

// Save writes the config to path, or to the default location when path is empty.
func Save(cfg *Config, path string) error {
	if path == "" {
		path = ConfigPath()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0o644)
}

// Validate rejects configs that cannot drive a run.
func (c *Config) Validate() error {
	var problems []string
	required := map[string]string{
		"script.url":                 c.Script.URL,
		"script.name":                c.Script.Name,
		"script.interpreter":         c.Script.Interpreter,
		"conversion.descriptionGlob": c.Conversion.DescriptionGlob,
		"provision.primaryTool":      c.Provision.PrimaryTool,
		"editor.configPath":          c.Editor.ConfigPath,
	}
	for _, key := range slices.Sorted(maps.Keys(required)) {
		if strings.TrimSpace(required[key]) == "" {
			problems = append(problems, key+" is required")
		}
	}
	if strings.ContainsRune(c.Script.Name, filepath.Separator) {
		problems = append(problems, "script.name must be a bare file name")
	}
	if _, err := filepath.Match(c.Conversion.DescriptionGlob, "x"); err != nil {
		problems = append(problems, fmt.Sprintf("conversion.descriptionGlob: %v", err))
	}
	checksums := map[string]string{
		"script.checksum":              c.Script.Checksum,
		"provision.fontBundleChecksum": c.Provision.FontBundleChecksum,
		"editor.binaryChecksum":        c.Editor.BinaryChecksum,
	}
	for _, key := range slices.Sorted(maps.Keys(checksums)) {
		if err := ValidateChecksum(checksums[key]); err != nil {
			problems = append(problems, fmt.Sprintf("%s: %v", key, err))
		}
	}
	if c.Metrics.Enabled && c.Metrics.Textfile == "" {
		problems = append(problems, "metrics.textfile is required when metrics are enabled")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// ValidateChecksum accepts "", "blake3:<hex>" and "sha256:<hex>" (64 hex digits).
func ValidateChecksum(s string) error {
	if s == "" {
		return nil
	}
	algo, digest, ok := strings.Cut(s, ":")
	if !ok {
		return fmt.Errorf("checksum %q must look like algo:hex", s)
	}
	if algo != "blake3" && algo != "sha256" {
		return fmt.Errorf("unsupported checksum algorithm %q", algo)
	}
	if len(digest) != 64 {
		return fmt.Errorf("%s digest must be 64 hex characters", algo)
	}
	for _, r := range digest {
		if !strings.ContainsRune("0123456789abcdefABCDEF", r) {
			return fmt.Errorf("%s digest contains non-hex character %q", algo, r)
		}
	}
	return nil
}

// RuntimeDir returns the XDG_RUNTIME_DIR override for the conversion child.
func (c *Config) RuntimeDir() string {
	if c.Conversion.RuntimeDir != "" {
		return c.Conversion.RuntimeDir
	}
	user := os.Getenv("USER")
	if user == "" {
		user = fmt.Sprintf("%d", os.Getuid())
	}
	return filepath.Join(os.TempDir(), "runtime-"+user)
}

// EditorBinaryPath is where the editor binary is installed.
func (c *Config) EditorBinaryPath() string {
	return filepath.Join(c.Editor.BinDir, c.Editor.BinaryName)
}

// Set stores the active configuration.
func Set(cfg *Config) {
	mu.Lock()
	defer mu.Unlock()
	current = cfg
}

// Get returns the active configuration.
func Get() *Config {
	mu.RLock()
	defer mu.RUnlock()
	if current == nil {
		return Default()
	}
	return current
}

func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		name := envVarPattern.FindStringSubmatch(match)[1]
		if value, ok := os.LookupEnv(name); ok {
			return value
		}
		// Unknown variables stay as written so Validate can point at them.
		return match
	})
}
