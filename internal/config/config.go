package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/robfig/cron/v3"
)

// CurrentVersion is the config layout this build reads and writes.
const CurrentVersion = 1

// Config represents the main configuration for fg.
type Config struct {
	Version    int              `toml:"version"`
	BaseDir    string           `toml:"base_dir"`
	LogDir     string           `toml:"log_dir"`
	Snapshot   SnapshotConfig   `toml:"snapshot"`
	Encryption EncryptionConfig `toml:"encryption"`
	Watcher    WatcherConfig    `toml:"watcher"`
	Engine     EngineConfig     `toml:"engine"`
	Retention  RetentionConfig  `toml:"retention"`
	Database   DatabaseConfig   `toml:"database"`
	Server     ServerConfig     `toml:"server"`
}

// SnapshotConfig controls where and how snapshots are stored.
type SnapshotConfig struct {
	Root             string `toml:"root"`
	Compression      bool   `toml:"compression"`
	CompressionLevel int    `toml:"compression_level"` // 1 fastest .. 4 best
	VerifyRestore    bool   `toml:"verify_restore"`
	MaxSize          int64  `toml:"max_size"` // bytes; a larger source is refused
}

// EncryptionConfig holds paths to the age key pair used for snapshot encryption.
type EncryptionConfig struct {
	Enabled        bool   `toml:"enabled"`
	Type           string `toml:"type"` // "age" (default) or "test"
	PublicKeyPath  string `toml:"public_key_path"`
	PrivateKeyPath string `toml:"private_key_path"`
}

// WatcherConfig tunes change tracking.
type WatcherConfig struct {
	DebounceMS int      `toml:"debounce_ms"`
	Exclude    []string `toml:"exclude"`
}

// EngineConfig bounds engine concurrency.
type EngineConfig struct {
	MaxConcurrentOperations int `toml:"max_concurrent_operations"`
}

// RetentionConfig drives the periodic snapshot cleanup.
type RetentionConfig struct {
	Enabled         bool   `toml:"enabled"`
	Schedule        string `toml:"schedule"` // cron expression or descriptor
	AutoCleanupDays int    `toml:"auto_cleanup_days"`
}

// DatabaseConfig represents configuration for the operation journal.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type DatabaseConfig struct {
	Type    string `toml:"type"`               // "sqlite" or "memory"
	DataDir string `toml:"data_dir,omitempty"` // only used for type=sqlite
}

// ServerConfig configures the local HTTP API.
type ServerConfig struct {
	Listen string `toml:"listen"`
}

const (
	DefaultDebounceMS       = 500
	DefaultMaxConcurrentOps = 3
	DefaultAutoCleanupDays  = 30
	DefaultSchedule         = "@daily"
	DefaultListen           = "127.0.0.1:7420"
	DefaultMaxSnapshotSize  = 10 << 30
	minSnapshotSize         = 1 << 20
)

// NewConfig creates a Config rooted at baseDir with every default filled in.
func NewConfig(baseDir string) *Config {
	return &Config{
		Version: CurrentVersion,
		BaseDir: baseDir,
		LogDir:  filepath.Join(baseDir, "log"),
		Snapshot: SnapshotConfig{
			Root:             filepath.Join(baseDir, "snapshots"),
			CompressionLevel: 2,
			VerifyRestore:    true,
			MaxSize:          DefaultMaxSnapshotSize,
		},
		Encryption: EncryptionConfig{
			Type:           "age",
			PublicKeyPath:  filepath.Join(baseDir, "keys", "fg.pub"),
			PrivateKeyPath: filepath.Join(baseDir, "keys", "fg.key"),
		},
		Watcher: WatcherConfig{
			DebounceMS: DefaultDebounceMS,
			Exclude:    []string{},
		},
		Engine: EngineConfig{MaxConcurrentOperations: DefaultMaxConcurrentOps},
		Retention: RetentionConfig{
			Enabled:         true,
			Schedule:        DefaultSchedule,
			AutoCleanupDays: DefaultAutoCleanupDays,
		},
		Database: DatabaseConfig{Type: "sqlite", DataDir: filepath.Join(baseDir, "db")},
		Server:   ServerConfig{Listen: DefaultListen},
	}
}

// Validate checks ranges and enumerations.
func (c *Config) Validate() error {
	var errs []error
	if c.Version > CurrentVersion {
		errs = append(errs, fmt.Errorf("version %d is newer than supported version %d", c.Version, CurrentVersion))
	}
	if c.BaseDir == "" {
		errs = append(errs, errors.New("base_dir is required"))
	}
	if c.Snapshot.Root == "" {
		errs = append(errs, errors.New("snapshot.root is required"))
	}
	if c.Snapshot.MaxSize < minSnapshotSize {
		errs = append(errs, fmt.Errorf("snapshot.max_size must be at least %d bytes", minSnapshotSize))
	}
	if c.Snapshot.CompressionLevel < 1 || c.Snapshot.CompressionLevel > 4 {
		errs = append(errs, errors.New("snapshot.compression_level must be between 1 and 4"))
	}
	switch c.Encryption.Type {
	case "age", "test":
	default:
		errs = append(errs, fmt.Errorf("unknown encryption.type %q", c.Encryption.Type))
	}
	if c.Watcher.DebounceMS < 0 {
		errs = append(errs, errors.New("watcher.debounce_ms must not be negative"))
	}
	if n := c.Engine.MaxConcurrentOperations; n < 1 || n > 10 {
		errs = append(errs, errors.New("engine.max_concurrent_operations must be between 1 and 10"))
	}
	if d := c.Retention.AutoCleanupDays; d < 1 || d > 365 {
		errs = append(errs, errors.New("retention.auto_cleanup_days must be between 1 and 365"))
	}
	if _, err := cron.ParseStandard(c.Retention.Schedule); err != nil {
		errs = append(errs, fmt.Errorf("retention.schedule: %w", err))
	}
	switch c.Database.Type {
	case "sqlite":
		if c.Database.DataDir == "" {
			errs = append(errs, errors.New("database.data_dir is required for sqlite"))
		}
	case "memory":
	default:
		errs = append(errs, fmt.Errorf("unknown database.type %q", c.Database.Type))
	}
	return errors.Join(errs...)
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader. Keys missing from the
// document keep their defaults relative to the decoded base_dir.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var probe struct {
		BaseDir string `toml:"base_dir"`
	}
	if _, err := toml.Decode(string(data), &probe); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	cfg := NewConfig(probe.BaseDir)
	if _, err := toml.Decode(string(data), cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return cfg, nil
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

// WriteToFile atomically replaces the config file at path.
func WriteToFile(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".fg-config-*")
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer os.Remove(tmp.Name())

	m := &Manager{}
	if err := m.Write(tmp, cfg); err != nil {
		tmp.Close()
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replacing config %s: %w", path, err)
	}
	return nil
}

// Init initializes a new config file at the specified path with the provided Config.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	if err := WriteToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
