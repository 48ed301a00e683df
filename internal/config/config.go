// Package config loads release.yaml, the project description the release
// pipeline is built from. Every key has a default so a project that
// follows the default layout can run without the file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultFile is looked up in the working directory when no path is given.
const DefaultFile = "release.yaml"

// Duration is a time.Duration written as a Go duration string in YAML.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalYAML() (any, error) { return time.Duration(d).String(), nil }

func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config models release.yaml.
type Config struct {
	App       AppConfig       `yaml:"app"`
	Version   VersionConfig   `yaml:"version"`
	Build     BuildConfig     `yaml:"build"`
	Signing   SigningConfig   `yaml:"signing"`
	Deps      CommandConfig   `yaml:"deps"`
	Package   PackageConfig   `yaml:"package"`
	Artifact  ArtifactConfig  `yaml:"artifact"`
	Smoke     SmokeConfig     `yaml:"smoke"`
	Logging   LoggingConfig   `yaml:"logging"`
	Ledger    LedgerConfig    `yaml:"ledger"`
	Execution ExecutionConfig `yaml:"execution"`
}

// AppConfig names the application bundle produced by packaging.
type AppConfig struct {
	Name   string `yaml:"name"`
	Bundle string `yaml:"bundle"`
}

// VersionConfig lists the files whose version declaration is rewritten.
type VersionConfig struct {
	Files []string `yaml:"files"`
}

// CommandConfig is a shell command and where to run it.
type CommandConfig struct {
	Command string `yaml:"command"`
	Dir     string `yaml:"dir,omitempty"`
}

// BuildConfig compiles the server binary and says where it must end up.
type BuildConfig struct {
	CommandConfig `yaml:",inline"`
	Binary        string `yaml:"binary"`
	Destination   string `yaml:"destination"`
}

// SigningConfig drives certificate import into a dedicated keychain.
type SigningConfig struct {
	Keychain string   `yaml:"keychain"`
	Commands []string `yaml:"commands"`
}

// PackageConfig is the bundling command and its retry policy.
type PackageConfig struct {
	CommandConfig `yaml:",inline"`
	Attempts      int      `yaml:"attempts"`
	Backoff       Duration `yaml:"backoff"`
}

// ArtifactConfig is where the bundle archive is published. Target is a
// directory path or an http(s) URL of an artifact server.
type ArtifactConfig struct {
	Name   string `yaml:"name"`
	Target string `yaml:"target"`
}

// SmokeConfig drives the quick launch check.
type SmokeConfig struct {
	Executable string   `yaml:"executable"`
	Window     Duration `yaml:"window"`
	Poll       Duration `yaml:"poll"`
}

// LoggingConfig controls the zap logger.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// LedgerConfig controls the run ledger and step logs.
type LedgerConfig struct {
	Path    string `yaml:"path"`
	Key     string `yaml:"key,omitempty"`
	LogsDir string `yaml:"logs_dir"`
}

// ExecutionConfig bounds every shell command.
type ExecutionConfig struct {
	Timeout Duration `yaml:"timeout"`
}

// DefaultKeychainCommands import $CERT_PATH into a throwaway keychain.
var DefaultKeychainCommands = []string{
	`security create-keychain -p "$KEYCHAIN_PASSWORD" "$KEYCHAIN"`,
	`security default-keychain -s "$KEYCHAIN"`,
	`security unlock-keychain -p "$KEYCHAIN_PASSWORD" "$KEYCHAIN"`,
	`security set-keychain-settings -t 3600 -u "$KEYCHAIN"`,
	`security import "$CERT_PATH" -k "$KEYCHAIN" -P "$CERT_PASSWORD" -T /usr/bin/codesign`,
	`security set-key-partition-list -S apple-tool:,apple:,codesign: -s -k "$KEYCHAIN_PASSWORD" "$KEYCHAIN"`,
}

// Default returns the configuration for the default project layout.
func Default() *Config {
	return &Config{
		App: AppConfig{
			Name:   "Peace",
			Bundle: "src-tauri/target/release/bundle/macos/Peace.app",
		},
		Version: VersionConfig{Files: []string{"src-tauri/tauri.conf.json", "package.json"}},
		Build: BuildConfig{
			CommandConfig: CommandConfig{Command: "cargo build --release --bin server", Dir: "server"},
			Binary:        "server/target/release/server",
			Destination:   "src-tauri/binaries/server-aarch64-apple-darwin",
		},
		Signing: SigningConfig{Keychain: "build.keychain", Commands: DefaultKeychainCommands},
		Deps:    CommandConfig{Command: "npm ci"},
		Package: PackageConfig{
			CommandConfig: CommandConfig{Command: "npm run tauri build"},
			Attempts:      2,
			Backoff:       Duration(5 * time.Second),
		},
		Artifact: ArtifactConfig{Name: "macos-app", Target: "artifacts"},
		Smoke: SmokeConfig{
			Window: Duration(5 * time.Second),
			Poll:   Duration(250 * time.Millisecond),
		},
		Logging: LoggingConfig{
			Level:      "info",
			File:       ".shipit/logs/shipit.log",
			MaxSizeMB:  10,
			MaxBackups: 10,
			MaxAgeDays: 7,
		},
		Ledger: LedgerConfig{
			Path:    ".shipit/ledger.jsonl",
			LogsDir: ".shipit/steps",
		},
		Execution: ExecutionConfig{Timeout: Duration(60 * time.Minute)},
	}
}

// Load reads path on top of the defaults. A missing file is an error
// only when required is set; otherwise the defaults are returned.
func Load(path string, required bool) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) && !required {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := Parse(data, cfg); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML onto cfg; keys absent from data keep their value.
// A command and its dir belong together: a section that overrides the
// command without naming a dir runs in the project root.
func Parse(data []byte, cfg *Config) error {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return err
	}
	if len(doc.Content) > 0 {
		if err := doc.Decode(cfg); err != nil {
			return err
		}
	}

	for key, cmd := range map[string]*CommandConfig{
		"build":   &cfg.Build.CommandConfig,
		"deps":    &cfg.Deps,
		"package": &cfg.Package.CommandConfig,
	} {
		section := mappingValue(&doc, key)
		if hasKey(section, "command") && !hasKey(section, "dir") {
			cmd.Dir = ""
		}
	}
	return cfg.Validate()
}

// mappingValue returns the node under key in the top-level mapping of doc.
func mappingValue(doc *yaml.Node, key string) *yaml.Node {
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		return nil
	}
	return lookup(doc.Content[0], key)
}

func lookup(m *yaml.Node, key string) *yaml.Node {
	if m == nil || m.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(m.Content); i += 2 {
		if m.Content[i].Value == key {
			return m.Content[i+1]
		}
	}
	return nil
}

func hasKey(m *yaml.Node, key string) bool { return lookup(m, key) != nil }

// Validate reports settings the pipeline cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.App.Bundle == "" {
		errs = append(errs, errors.New("app.bundle is required"))
	}
	if c.Build.Command == "" {
		errs = append(errs, errors.New("build.command is required"))
	}
	if c.Build.Binary == "" || c.Build.Destination == "" {
		errs = append(errs, errors.New("build.binary and build.destination are required"))
	}
	if c.Deps.Command == "" {
		errs = append(errs, errors.New("deps.command is required"))
	}
	if c.Package.Command == "" {
		errs = append(errs, errors.New("package.command is required"))
	}
	if c.Package.Attempts < 1 {
		errs = append(errs, fmt.Errorf("package.attempts must be at least 1, got %d", c.Package.Attempts))
	}
	if c.Package.Backoff < 0 {
		errs = append(errs, errors.New("package.backoff must not be negative"))
	}
	if c.Artifact.Name == "" || c.Artifact.Target == "" {
		errs = append(errs, errors.New("artifact.name and artifact.target are required"))
	}
	if c.Smoke.Window <= 0 || c.Smoke.Poll <= 0 {
		errs = append(errs, errors.New("smoke.window and smoke.poll must be positive"))
	}
	return errors.Join(errs...)
}

// SmokeExecutable is the binary launched by the smoke test. It defaults
// to the macOS bundle layout Contents/MacOS/<app name>.
func (c *Config) SmokeExecutable() string {
	if c.Smoke.Executable != "" {
		return c.Smoke.Executable
	}
	return filepath.Join(c.App.Bundle, "Contents", "MacOS", c.App.Name)
}

// Resolve makes every relative path absolute against root. Empty
// command directories become root itself.
func (c *Config) Resolve(root string) {
	abs := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(root, p)
	}
	dir := func(p string) string {
		if p == "" {
			return root
		}
		return abs(p)
	}
	c.App.Bundle = abs(c.App.Bundle)
	for i, f := range c.Version.Files {
		c.Version.Files[i] = abs(f)
	}
	c.Build.Dir = dir(c.Build.Dir)
	c.Build.Binary = abs(c.Build.Binary)
	c.Build.Destination = abs(c.Build.Destination)
	c.Deps.Dir = dir(c.Deps.Dir)
	c.Package.Dir = dir(c.Package.Dir)
	if !isURL(c.Artifact.Target) {
		c.Artifact.Target = abs(c.Artifact.Target)
	}
	c.Smoke.Executable = abs(c.Smoke.Executable)
	c.Logging.File = abs(c.Logging.File)
	c.Ledger.Path = abs(c.Ledger.Path)
	c.Ledger.Key = abs(c.Ledger.Key)
	c.Ledger.LogsDir = abs(c.Ledger.LogsDir)
}

func isURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}
