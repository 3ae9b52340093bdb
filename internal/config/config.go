// Package config persists user settings in a key=value file under the XDG
// config directory, with environment variable fallbacks.
package config

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
)

const appName = "chunkscribe"

// Config keys.
const (
	KeyOutputDir    = "output-dir"
	KeyChunkSeconds = "chunk-seconds"
	KeyProvider     = "provider"
	KeyModel        = "model"
	KeyLanguage     = "language"
)

// Keys lists every recognized key, in display order.
var Keys = []string{KeyOutputDir, KeyChunkSeconds, KeyProvider, KeyModel, KeyLanguage}

// Environment variable fallbacks.
const (
	EnvOutputDir    = "CHUNKSCRIBE_OUTPUT_DIR"
	EnvChunkSeconds = "CHUNKSCRIBE_CHUNK_SECONDS"
	EnvProvider     = "CHUNKSCRIBE_PROVIDER"
	EnvModel        = "CHUNKSCRIBE_MODEL"
	EnvLanguage     = "CHUNKSCRIBE_LANGUAGE"
)

// DefaultChunkSeconds is the maximum chunk duration when nothing is configured.
const DefaultChunkSeconds = 600

// providers accepted by the provider key. Kept here so config does not
// depend on the oracle package.
var providers = []string{"gemini", "openai"}

// Config holds the merged file and environment settings.
// Zero values mean "not configured".
type Config struct {
	OutputDir    string
	ChunkSeconds int
	Provider     string
	Model        string
	Language     string
}

var envFor = map[string]string{
	KeyOutputDir:    EnvOutputDir,
	KeyChunkSeconds: EnvChunkSeconds,
	KeyProvider:     EnvProvider,
	KeyModel:        EnvModel,
	KeyLanguage:     EnvLanguage,
}

// EnvVar returns the environment variable that backs key, or "".
func EnvVar(key string) string {
	return envFor[key]
}

// Dir returns $XDG_CONFIG_HOME/chunkscribe, or ~/.config/chunkscribe.
func Dir() (string, error) {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, appName), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(home, ".config", appName), nil
}

func filePath() (string, error) {
	d, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(d, "config"), nil
}

// readFile returns the stored pairs. A missing file is empty, not an error.
func readFile() (map[string]string, error) {
	p, err := filePath()
	if err != nil {
		return nil, err
	}
	pairs, err := parseFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]string{}, nil
	}
	return pairs, err
}

// Load merges the config file with environment fallbacks. The file wins
// over the environment; flags are merged later by the caller.
func Load() (Config, error) {
	pairs, err := readFile()
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config: %w", err)
	}
	get := func(key string) string {
		if v := pairs[key]; v != "" {
			return v
		}
		return os.Getenv(envFor[key])
	}

	cfg := Config{
		OutputDir: get(KeyOutputDir),
		Provider:  get(KeyProvider),
		Model:     get(KeyModel),
		Language:  get(KeyLanguage),
	}
	if v := get(KeyChunkSeconds); v != "" {
		if cfg.ChunkSeconds, err = parseChunkSeconds(v); err != nil {
			return Config{}, fmt.Errorf("%s: %w", KeyChunkSeconds, err)
		}
	}
	return cfg, nil
}

// ChunkSecondsOrDefault returns ChunkSeconds, or DefaultChunkSeconds when unset.
func (c Config) ChunkSecondsOrDefault() int {
	if c.ChunkSeconds > 0 {
		return c.ChunkSeconds
	}
	return DefaultChunkSeconds
}

// Validate checks a value for a recognized key. output-dir is checked by
// EnsureOutputDir and language by the lang package.
func Validate(key, value string) error {
	if !slices.Contains(Keys, key) {
		return fmt.Errorf("%w: %q (valid keys: %s)", ErrUnknownKey, key, strings.Join(Keys, ", "))
	}
	switch key {
	case KeyChunkSeconds:
		_, err := parseChunkSeconds(value)
		return err
	case KeyProvider:
		if !slices.Contains(providers, value) {
			return fmt.Errorf("%w: provider %q (expected %s)", ErrInvalidValue, value, strings.Join(providers, " or "))
		}
	}
	return nil
}

func parseChunkSeconds(v string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%w: chunk-seconds must be a positive integer, got %q", ErrInvalidValue, v)
	}
	return n, nil
}

// parseFile reads key=value lines. Blank lines and # comments are skipped.
func parseFile(p string) (map[string]string, error) {
	f, err := os.Open(p) // #nosec G304 -- path built from the config dir
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	pairs := map[string]string{}
	sc := bufio.NewScanner(f)
	for n := 1; sc.Scan(); n++ {
		line := strings.TrimSpace(sc.Text())
		if line == "" || line[0] == '#' {
			continue
		}
		k, v, ok := strings.Cut(line, "=")
		if !ok {
			return nil, fmt.Errorf("%w at line %d: %q", ErrInvalidSyntax, n, line)
		}
		pairs[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return pairs, nil
}

// Save stores key=value, keeping the other pairs. Comments are not kept.
// The file is replaced through a rename so a crash never truncates it.
func Save(key, value string) error {
	if key == "" || strings.ContainsAny(key, "=\n\r#") {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	if strings.ContainsAny(value, "\n\r") {
		return fmt.Errorf("%w: value contains a newline", ErrInvalidValue)
	}

	p, err := filePath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o750); err != nil { // #nosec G301 -- user config dir
		return fmt.Errorf("cannot create config directory: %w", err)
	}
	pairs, err := parseFile(p)
	if err != nil {
		pairs = map[string]string{}
	}
	pairs[key] = value
	return writeFile(p, pairs)
}

func writeFile(p string, pairs map[string]string) error {
	var b strings.Builder
	for _, k := range slices.Sorted(maps.Keys(pairs)) {
		fmt.Fprintf(&b, "%s=%s\n", k, pairs[k])
	}

	tmp, err := os.CreateTemp(filepath.Dir(p), ".config-*")
	if err != nil {
		return fmt.Errorf("cannot write config file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.WriteString(b.String()); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("cannot write config file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("cannot write config file: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil { // #nosec G302 -- plain settings file
		return fmt.Errorf("cannot write config file: %w", err)
	}
	if err := os.Rename(tmp.Name(), p); err != nil {
		return fmt.Errorf("cannot write config file: %w", err)
	}
	return nil
}

// Unset removes key from the file. Removing an absent key is not an error.
func Unset(key string) error {
	p, err := filePath()
	if err != nil {
		return err
	}
	pairs, err := parseFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if _, ok := pairs[key]; !ok {
		return nil
	}
	delete(pairs, key)
	return writeFile(p, pairs)
}

// Path returns the config file location.
func Path() (string, error) {
	return filePath()
}

// Get returns the stored value for key, or "" when it is not set.
func Get(key string) (string, error) {
	pairs, err := readFile()
	if err != nil {
		return "", err
	}
	return pairs[key], nil
}

// List returns every stored pair.
func List() (map[string]string, error) {
	return readFile()
}

// ResolveOutputPath picks the transcript path. An absolute output is used
// as-is; a relative one is placed under outputDir when set; an empty one
// becomes defaultName under outputDir or the working directory.
func ResolveOutputPath(output, outputDir, defaultName string) string {
	if output == "" {
		output = defaultName
	}
	if outputDir == "" || filepath.IsAbs(output) {
		return filepath.Clean(output)
	}
	return filepath.Join(outputDir, output)
}

// EnsureOutputDir checks that d can be used as output-dir, creating it if
// missing. A leading ~/ is expanded.
func EnsureOutputDir(d string) error {
	if d == "" {
		return fmt.Errorf("%w: output-dir cannot be empty", ErrInvalidValue)
	}
	d = ExpandPath(d)

	info, err := os.Stat(d)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if err := os.MkdirAll(d, 0o750); err != nil { // #nosec G301 -- user output dir
			return fmt.Errorf("cannot create directory: %w", err)
		}
		return nil
	case err != nil:
		return fmt.Errorf("cannot access directory: %w", err)
	case !info.IsDir():
		return fmt.Errorf("%w: %s", ErrNotDirectory, d)
	}

	probe, err := os.CreateTemp(d, ".chunkscribe-probe-*")
	if err != nil {
		return fmt.Errorf("%w: %s", ErrNotWritable, d)
	}
	_ = probe.Close()
	_ = os.Remove(probe.Name())
	return nil
}

// ExpandPath replaces a leading ~/ with the home directory.
func ExpandPath(p string) string {
	rest, ok := strings.CutPrefix(p, "~/")
	if !ok {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, rest)
}
