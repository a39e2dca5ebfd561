package config

import (
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/dustin/go-humanize"

	"dupi-go/internal/dupi"
)

// Config represents the main configuration for dupi.
type Config struct {
	HostID     string           `toml:"host_id"`
	BaseDir    string           `toml:"base_dir"`
	LogDir     string           `toml:"log_dir"`
	Log        LogConfig        `toml:"log"`
	Catalog    CatalogConfig    `toml:"catalog"`
	Scan       ScanConfig       `toml:"scan"`
	Dedup      DedupConfig      `toml:"dedup"`
	Archives   []ArchiveConfig  `toml:"archives"`
	Encryption EncryptionConfig `toml:"encryption"`
	Watch      WatchConfig      `toml:"watch"`
}

// LogConfig controls the log file.
type LogConfig struct {
	Level string `toml:"level"` // "debug", "info" (default), "warn" or "error"
}

// CatalogConfig represents configuration for the catalog database.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type CatalogConfig struct {
	Type    string `toml:"type"`               // "sqlite" or "memory"
	DataDir string `toml:"data_dir,omitempty"` // only used for type=sqlite
}

// ScanConfig holds the defaults for scan passes. Sizes accept human
// readable values such as "1MiB"; durations use Go syntax such as "30s".
type ScanConfig struct {
	Workers             int      `toml:"workers,omitempty"`
	QueueSize           int      `toml:"queue_size,omitempty"`
	FollowSymlinks      bool     `toml:"follow_symlinks"`
	Exclude             []string `toml:"exclude"`
	StrongHash          string   `toml:"strong_hash,omitempty"` // "eager" (default) or "lazy"
	ReadTimeout         string   `toml:"read_timeout,omitempty"`
	ChunkSize           string   `toml:"chunk_size,omitempty"`
	SampleSize          string   `toml:"sample_size,omitempty"`
	FastHash            string   `toml:"fast_hash,omitempty"`             // "xxh64"
	StrongHashAlgorithm string   `toml:"strong_hash_algorithm,omitempty"` // "sha256", "sha512" or "blake2b"
}

// DedupConfig holds the defaults for duplicate listing and planning.
type DedupConfig struct {
	Policy  string   `toml:"policy,omitempty"` // "oldest", "newest", "shortest", "longest" or "prefer"
	Prefer  []string `toml:"prefer,omitempty"`
	Action  string   `toml:"action,omitempty"` // "hardlink", "symlink", "delete" or "move"
	MoveTo  string   `toml:"move_to,omitempty"`
	MinSize string   `toml:"min_size,omitempty"` // groups of smaller files are not listed
}

// ArchiveConfig represents configuration for a catalog snapshot archive.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type ArchiveConfig struct {
	Type string `toml:"type"` // "memory", "filesystem", "s3" or "minio"
	Name string `toml:"name"`

	// S3-specific fields (only used when Type == "s3")
	S3Bucket   string `toml:"s3_bucket,omitempty"`
	S3Prefix   string `toml:"s3_prefix,omitempty"`
	S3Region   string `toml:"s3_region,omitempty"`
	S3Endpoint string `toml:"s3_endpoint,omitempty"`

	// FileSystem-specific fields (only used when Type == "filesystem")
	FSRoot string `toml:"fs_root,omitempty"`
}

// EncryptionConfig holds paths to the age key pair used for snapshots.
type EncryptionConfig struct {
	Type           string `toml:"type"` // "age" (default), "test" or "none"
	PublicKeyPath  string `toml:"public_key_path"`
	PrivateKeyPath string `toml:"private_key_path"`
}

// WatchConfig controls watch mode.
type WatchConfig struct {
	Debounce string `toml:"debounce,omitempty"`
}

// NewConfig creates a new Config with the provided values and defaults.
func NewConfig(hostID, baseDir string) *Config {
	return &Config{
		HostID:  hostID,
		BaseDir: baseDir,
		LogDir:  filepath.Join(baseDir, "log"),
		Log:     LogConfig{Level: "info"},
		Catalog: CatalogConfig{Type: "sqlite", DataDir: filepath.Join(baseDir, "catalog")},
		Scan: ScanConfig{
			Exclude:             []string{".git", "node_modules"},
			StrongHash:          string(dupi.StrongHashEager),
			ReadTimeout:         "5m",
			ChunkSize:           "1MiB",
			SampleSize:          "64KiB",
			FastHash:            "xxh64",
			StrongHashAlgorithm: "sha256",
		},
		Dedup: DedupConfig{Policy: "oldest", Action: "hardlink"},
		Encryption: EncryptionConfig{
			Type:           "age",
			PublicKeyPath:  filepath.Join(baseDir, "keys", "dupi.pub"),
			PrivateKeyPath: filepath.Join(baseDir, "keys", "dupi.key"),
		},
		Watch: WatchConfig{Debounce: "2s"},
	}
}

// SlogLevel returns the configured minimum log level.
func (c LogConfig) SlogLevel() (slog.Level, error) {
	switch strings.ToLower(c.Level) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, &dupi.ConfigError{Field: "log.level", Reason: fmt.Sprintf("unknown level %q", c.Level)}
	}
}

// Options converts the scan section into scan options.
func (c ScanConfig) Options() (dupi.ScanOptions, error) {
	opts := dupi.ScanOptions{
		Exclude:        c.Exclude,
		FollowSymlinks: c.FollowSymlinks,
		Workers:        c.Workers,
		QueueSize:      c.QueueSize,
		StrongHash:     dupi.StrongHashMode(c.StrongHash),
	}

	var err error
	if opts.ReadTimeout, err = parseDuration("scan.read_timeout", c.ReadTimeout); err != nil {
		return opts, err
	}
	if opts.ChunkSize, err = parseSize("scan.chunk_size", c.ChunkSize); err != nil {
		return opts, err
	}
	if opts.SampleSize, err = parseSize("scan.sample_size", c.SampleSize); err != nil {
		return opts, err
	}
	if err := opts.Validate(); err != nil {
		return opts, err
	}
	return opts, nil
}

// MinSizeBytes returns the configured minimum duplicate size, 0 when unset.
func (c DedupConfig) MinSizeBytes() (int64, error) {
	return ParseByteSize("dedup.min_size", c.MinSize)
}

// ParseByteSize parses a human readable size such as "4KiB" or "1MB" for
// field. An empty string is 0.
func ParseByteSize(field, s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, &dupi.ConfigError{Field: field, Reason: err.Error()}
	}
	if n > math.MaxInt64 {
		return 0, &dupi.ConfigError{Field: field, Reason: fmt.Sprintf("%s is too large", s)}
	}
	return int64(n), nil
}

// DebounceInterval returns the watch debounce, defaulting to two seconds.
func (c WatchConfig) DebounceInterval() (time.Duration, error) {
	d, err := parseDuration("watch.debounce", c.Debounce)
	if err != nil {
		return 0, err
	}
	if d == 0 {
		d = 2 * time.Second
	}
	return d, nil
}

// Validate checks every section that can be checked without touching the
// filesystem or the network.
func (c *Config) Validate() error {
	if c.HostID == "" {
		return &dupi.ConfigError{Field: "host_id", Reason: "required"}
	}
	if _, err := c.Log.SlogLevel(); err != nil {
		return err
	}

	switch c.Catalog.Type {
	case "sqlite":
		if c.Catalog.DataDir == "" {
			return &dupi.ConfigError{Field: "catalog.data_dir", Reason: "required for sqlite catalog"}
		}
	case "memory":
	default:
		return &dupi.ConfigError{Field: "catalog.type", Reason: fmt.Sprintf("unknown catalog type %q", c.Catalog.Type)}
	}

	if _, err := c.Scan.Options(); err != nil {
		return err
	}
	if _, err := c.Watch.DebounceInterval(); err != nil {
		return err
	}
	if _, err := c.Dedup.MinSizeBytes(); err != nil {
		return err
	}

	names := make(map[string]bool, len(c.Archives))
	for i, a := range c.Archives {
		if a.Name == "" {
			return &dupi.ConfigError{Field: fmt.Sprintf("archives[%d].name", i), Reason: "required"}
		}
		if names[a.Name] {
			return &dupi.ConfigError{Field: fmt.Sprintf("archives[%d].name", i), Reason: fmt.Sprintf("duplicate name %q", a.Name)}
		}
		names[a.Name] = true
	}

	switch c.Encryption.Type {
	case "", "age", "test", "none":
	default:
		return &dupi.ConfigError{Field: "encryption.type", Reason: fmt.Sprintf("unknown encryption type %q", c.Encryption.Type)}
	}
	return nil
}

func parseDuration(field, s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, &dupi.ConfigError{Field: field, Reason: err.Error()}
	}
	return d, nil
}

func parseSize(field, s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, &dupi.ConfigError{Field: field, Reason: err.Error()}
	}
	if n > 1<<30 {
		return 0, &dupi.ConfigError{Field: field, Reason: fmt.Sprintf("%s is too large", s)}
	}
	return int(n), nil
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// Write encodes a Config to the provided writer.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ReadFromFile reads a Config from the specified file path.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return cfg, nil
}

func writeToFile(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	if err := m.Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Init initializes a new config file at the specified path with the provided Config.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
