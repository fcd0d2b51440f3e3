package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	CurrentVersion = 1
	DefaultPath    = "~/.pgmirror/pgmirror.yaml"
)

// Defaults.
const (
	DefaultSchema        = "public"
	DefaultBatchSize     = 5000
	DefaultMethod        = "insert"
	DefaultPort          = 8230
	DefaultLockDir       = "~/.pgmirror/locks"
	DefaultReportDir     = "~/.pgmirror/reports"
	DefaultLogDir        = "~/.pgmirror/logs"
	DefaultRetentionDays = 30
)

// Catalog error policies.
const (
	OnCatalogErrorFail  = "fail"
	OnCatalogErrorEmpty = "empty"
)

// Config is the top-level configuration.
type Config struct {
	Version  int            `yaml:"version"`
	Source   SourceConfig   `yaml:"source"`
	Target   TargetConfig   `yaml:"target"`
	Transfer TransferConfig `yaml:"transfer,omitempty"`
	Lock     LockConfig     `yaml:"lock,omitempty"`
	Server   ServerConfig   `yaml:"server,omitempty"`
	Reports  ReportConfig   `yaml:"reports,omitempty"`
	Logging  LogConfig      `yaml:"logging,omitempty"`
}

// SourceConfig defines the database rows are copied from.
type SourceConfig struct {
	ConnectionString string `yaml:"connection_string"`
	Schema           string `yaml:"schema,omitempty"` // default public
}

// TargetConfig defines the database rows are copied into.
type TargetConfig struct {
	ConnectionString string `yaml:"connection_string"`
}

// TransferConfig controls how tables are copied.
type TransferConfig struct {
	BatchSize       int      `yaml:"batch_size,omitempty"` // default 5000
	Method          string   `yaml:"method,omitempty"`     // insert or copy
	Tables          []string `yaml:"tables,omitempty"`
	ExcludeTables   []string `yaml:"exclude_tables,omitempty"`
	OnCatalogError  string   `yaml:"on_catalog_error,omitempty"` // fail or empty
	VerifyRowCounts bool     `yaml:"verify_row_counts,omitempty"`
	SyncSequences   *bool    `yaml:"sync_sequences,omitempty"` // default true
}

// SequenceSync reports whether sequence positions are copied.
func (t TransferConfig) SequenceSync() bool {
	return t.SyncSequences == nil || *t.SyncSequences
}

// LockConfig defines where target leases are recorded.
type LockConfig struct {
	Directory string `yaml:"directory,omitempty"`
}

// ServerConfig defines the HTTP API listener.
type ServerConfig struct {
	Host string `yaml:"host,omitempty"`
	Port int    `yaml:"port,omitempty"` // default 8230
}

// ReportConfig defines where run reports are kept.
type ReportConfig struct {
	Directory  string `yaml:"directory,omitempty"`
	S3Bucket   string `yaml:"s3_bucket,omitempty"`
	S3Prefix   string `yaml:"s3_prefix,omitempty"`
	Region     string `yaml:"region,omitempty"`
	Profile    string `yaml:"profile,omitempty"`
	S3Endpoint string `yaml:"s3_endpoint,omitempty"` // S3-compatible store
}

// LogConfig defines logging settings.
type LogConfig struct {
	Level         string `yaml:"level,omitempty"`          // debug, info, warn, error
	Directory     string `yaml:"directory,omitempty"`      // default ~/.pgmirror/logs/
	RetentionDays int    `yaml:"retention_days,omitempty"` // default 30
}

// Default returns a config with every default applied and no connections.
func Default() *Config {
	cfg := &Config{Version: CurrentVersion}
	cfg.applyDefaults()
	return cfg
}

// Load reads and parses the config file from the given path. A missing file
// yields an error matching os.ErrNotExist.
func Load(path string) (*Config, error) {
	if path == "" {
		path = ExpandHome(DefaultPath)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if cfg.Version != CurrentVersion {
		return nil, fmt.Errorf("unsupported config version %d (expected %d)", cfg.Version, CurrentVersion)
	}

	if err := cfg.resolveSecrets(); err != nil {
		return nil, fmt.Errorf("resolving secrets: %w", err)
	}

	cfg.applyDefaults()
	return cfg, nil
}

// LoadOrDefault is Load, except a missing file yields Default().
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
}

// Save writes the config to the given path.
func (c *Config) Save(path string) error {
	if path == "" {
		path = ExpandHome(DefaultPath)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	return os.WriteFile(path, data, 0o600)
}

func (c *Config) applyDefaults() {
	if c.Source.Schema == "" {
		c.Source.Schema = DefaultSchema
	}
	if c.Transfer.BatchSize == 0 {
		c.Transfer.BatchSize = DefaultBatchSize
	}
	if c.Transfer.Method == "" {
		c.Transfer.Method = DefaultMethod
	}
	if c.Transfer.OnCatalogError == "" {
		c.Transfer.OnCatalogError = OnCatalogErrorFail
	}
	if c.Lock.Directory == "" {
		c.Lock.Directory = DefaultLockDir
	}
	c.Lock.Directory = ExpandHome(c.Lock.Directory)
	if c.Server.Port == 0 {
		c.Server.Port = DefaultPort
	}
	if c.Reports.Directory == "" {
		c.Reports.Directory = DefaultReportDir
	}
	c.Reports.Directory = ExpandHome(c.Reports.Directory)
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Directory == "" {
		c.Logging.Directory = DefaultLogDir
	}
	c.Logging.Directory = ExpandHome(c.Logging.Directory)
	if c.Logging.RetentionDays == 0 {
		c.Logging.RetentionDays = DefaultRetentionDays
	}
}

// Validate checks option values. Connection strings are checked separately
// by RequireConnections since the API server takes them per request.
func (c *Config) Validate() error {
	var errs []error
	if c.Transfer.BatchSize < 1 {
		errs = append(errs, fmt.Errorf("transfer.batch_size must be positive, got %d", c.Transfer.BatchSize))
	}
	switch strings.ToLower(c.Transfer.Method) {
	case "insert", "copy":
	default:
		errs = append(errs, fmt.Errorf("transfer.method must be insert or copy, got %q", c.Transfer.Method))
	}
	switch c.Transfer.OnCatalogError {
	case OnCatalogErrorFail, OnCatalogErrorEmpty:
	default:
		errs = append(errs, fmt.Errorf("transfer.on_catalog_error must be fail or empty, got %q", c.Transfer.OnCatalogError))
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port out of range: %d", c.Server.Port))
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("logging.level must be debug, info, warn or error, got %q", c.Logging.Level))
	}
	return errors.Join(errs...)
}

// RequireConnections checks that both connection strings are set.
func (c *Config) RequireConnections() error {
	var errs []error
	if c.Source.ConnectionString == "" {
		errs = append(errs, errors.New("source.connection_string is required"))
	}
	if c.Target.ConnectionString == "" {
		errs = append(errs, errors.New("target.connection_string is required"))
	}
	return errors.Join(errs...)
}

var secretPattern = regexp.MustCompile(`\$\{(ENV|VAULT|AWS_SM):([^}]+)\}`)

func (c *Config) resolveSecrets() error {
	var err error
	c.Source.ConnectionString, err = ResolveValue(c.Source.ConnectionString)
	if err != nil {
		return fmt.Errorf("source connection string: %w", err)
	}
	c.Target.ConnectionString, err = ResolveValue(c.Target.ConnectionString)
	if err != nil {
		return fmt.Errorf("target connection string: %w", err)
	}
	return nil
}

// ResolveValue replaces every secret reference in val with its value, so a
// reference may stand for a whole connection string or for one part of it:
//
//	postgres://app:${VAULT:secret/data/db#password}@db:5432/app
func ResolveValue(val string) (string, error) {
	var firstErr error
	out := secretPattern.ReplaceAllStringFunc(val, func(m string) string {
		if firstErr != nil {
			return m
		}
		parts := secretPattern.FindStringSubmatch(m)
		v, err := resolveRef(parts[1], parts[2])
		if err != nil {
			firstErr = err
			return m
		}
		return v
	})
	if firstErr != nil {
		return "", firstErr
	}
	return out, nil
}

func resolveRef(provider, ref string) (string, error) {
	switch provider {
	case "ENV":
		v := os.Getenv(ref)
		if v == "" {
			return "", fmt.Errorf("environment variable %s not set", ref)
		}
		return v, nil
	case "VAULT":
		return resolveVault(ref)
	case "AWS_SM":
		return resolveAWSSecretsManager(ref)
	default:
		return "", fmt.Errorf("unknown secrets provider: %s", provider)
	}
}

// ExpandHome expands ~ to the user's home directory.
func ExpandHome(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
