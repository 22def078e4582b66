// Package config provides configuration loading and management for the HMS server.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/stacklok/hms-server/internal/lock"
	"github.com/stacklok/hms-server/internal/retry"
	"github.com/stacklok/hms-server/internal/telemetry"
)

// EnvPrefix is the prefix of the HMS_* environment variables.
const EnvPrefix = "HMS"

const (
	// EnvDevelopment tolerates missing required tables after boot
	EnvDevelopment = "development"

	// EnvProduction treats missing required tables as fatal
	EnvProduction = "production"
)

const (
	// LockBackendFile coordinates processes on one host through a marker file
	LockBackendFile = "file"

	// LockBackendPostgres coordinates processes through a session advisory lock
	LockBackendPostgres = "postgres"
)

const (
	defaultHost     = "localhost"
	defaultPort     = 5432
	defaultDatabase = "hms"
	defaultUser     = "postgres"
	defaultMaxConns = 10
)

// Option defines the interface for configuration options
type Option func(*loaderConfig) error

// loaderConfig defines the configuration for loading a configuration
type loaderConfig struct {
	path string
	env  *viper.Viper
}

// WithConfigPath loads configuration from a YAML file
func WithConfigPath(path string) Option {
	return func(cfg *loaderConfig) error {
		if path == "" {
			return fmt.Errorf("path is required")
		}

		// Resolve symlinks to prevent symlink attacks.
		// Note that this calls filepath.Clean internally.
		realPath, err := filepath.EvalSymlinks(path)
		if err != nil {
			return fmt.Errorf("failed to evaluate symlinks: %w", err)
		}

		if !filepath.IsAbs(realPath) && !filepath.IsLocal(realPath) {
			return fmt.Errorf("path is not local or contains invalid traversal: %s", path)
		}

		cfg.path = realPath
		return nil
	}
}

// WithEnv overrides the viper instance used to read environment overrides.
func WithEnv(v *viper.Viper) Option {
	return func(cfg *loaderConfig) error {
		if v == nil {
			return fmt.Errorf("viper instance is required")
		}
		cfg.env = v
		return nil
	}
}

// Config represents the root configuration structure
type Config struct {
	// Environment is "development" (default) or "production"
	Environment string            `yaml:"environment,omitempty"`
	Database    *DatabaseConfig   `yaml:"database,omitempty"`
	Boot        *BootConfig       `yaml:"boot,omitempty"`
	Seed        *SeedConfig       `yaml:"seed,omitempty"`
	Telemetry   *telemetry.Config `yaml:"telemetry,omitempty"`
}

// DatabaseConfig defines the PostgreSQL connection settings
type DatabaseConfig struct {
	Host     string `yaml:"host,omitempty"`
	Port     int    `yaml:"port,omitempty"`
	User     string `yaml:"user,omitempty"`
	Database string `yaml:"database,omitempty"`

	// PasswordFile takes precedence over Password
	PasswordFile string `yaml:"passwordFile,omitempty"`

	// Password is only read from DB_PASSWORD, never from the file
	Password string `yaml:"-"`

	// SSLMode is passed through as sslmode; empty means "disable"
	SSLMode string `yaml:"sslMode,omitempty"`

	MaxConns int32 `yaml:"maxConns,omitempty"`
	MinConns int32 `yaml:"minConns,omitempty"`

	// ConnMaxLifetime is a Go duration string
	ConnMaxLifetime string `yaml:"connMaxLifetime,omitempty"`
}

// BootConfig controls the startup schema synchronization
type BootConfig struct {
	// LockBackend is "file" (default) or "postgres"
	LockBackend string `yaml:"lockBackend,omitempty"`

	// LockPath is the marker file for the file backend
	LockPath string `yaml:"lockPath,omitempty"`

	// LockTimeout is a Go duration string, default 60s
	LockTimeout string `yaml:"lockTimeout,omitempty"`

	// LockPollInterval is a Go duration string, default 500ms
	LockPollInterval string `yaml:"lockPollInterval,omitempty"`

	// StaleLockRecovery removes markers left by dead processes
	StaleLockRecovery bool `yaml:"staleLockRecovery,omitempty"`

	// AdvisoryLockID names the advisory lock for the postgres backend
	AdvisoryLockID string `yaml:"advisoryLockId,omitempty"`

	Retry *RetryConfig `yaml:"retry,omitempty"`
}

// RetryConfig bounds the retries of transient database conflicts
type RetryConfig struct {
	MaxAttempts int    `yaml:"maxAttempts,omitempty"`
	BaseDelay   string `yaml:"baseDelay,omitempty"`
}

// SeedConfig controls reference data seeding
type SeedConfig struct {
	// Enabled defaults to true
	Enabled *bool `yaml:"enabled,omitempty"`

	AdminEmail string `yaml:"adminEmail,omitempty"`

	// AdminPassword is only read from HMS_SEED_ADMIN_PASSWORD
	AdminPassword string `yaml:"-"`

	// SampleData adds a demonstration patient with an encounter and triage
	SampleData bool `yaml:"sampleData,omitempty"`
}

// LoadConfig reads the optional YAML file, applies environment overrides and
// validates the result.
func LoadConfig(opts ...Option) (*Config, error) {
	loaderCfg := &loaderConfig{}
	for _, opt := range opts {
		if err := opt(loaderCfg); err != nil {
			return nil, err
		}
	}

	var config Config
	if loaderCfg.path != "" {
		data, err := os.ReadFile(loaderCfg.path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	}

	env := loaderCfg.env
	if env == nil {
		env = NewEnv()
	}
	config.applyEnv(env)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &config, nil
}

// envBindings maps configuration keys to the environment variables that
// override them.
var envBindings = map[string]string{
	"environment":        "HMS_ENV",
	"database.host":      "DB_HOST",
	"database.port":      "DB_PORT",
	"database.name":      "DB_NAME",
	"database.user":      "DB_USER",
	"database.password":  "DB_PASSWORD",
	"database.ssl":       "DB_SSL",
	"boot.lockbackend":   "HMS_LOCK_BACKEND",
	"boot.lockpath":      "HMS_LOCK_PATH",
	"boot.locktimeout":   "HMS_LOCK_TIMEOUT",
	"seed.enabled":       "HMS_SEED_ENABLED",
	"seed.adminemail":    "HMS_SEED_ADMIN_EMAIL",
	"seed.adminpassword": "HMS_SEED_ADMIN_PASSWORD",
	"seed.sampledata":    "HMS_SEED_SAMPLE_DATA",
	"telemetry.enabled":  "HMS_TELEMETRY_ENABLED",
	"telemetry.endpoint": "HMS_TELEMETRY_ENDPOINT",
	"telemetry.insecure": "HMS_TELEMETRY_INSECURE",
	"telemetry.sampling": "HMS_TELEMETRY_SAMPLING",
	"telemetry.exporter": "HMS_METRICS_EXPORTER",
	"telemetry.version":  "HMS_SERVICE_VERSION",
}

// NewEnv returns a viper instance bound to the supported environment variables.
func NewEnv() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	for key, name := range envBindings {
		// BindEnv only fails without a key
		_ = v.BindEnv(key, name)
	}
	return v
}

func (c *Config) applyEnv(v *viper.Viper) {
	if v.IsSet("environment") {
		c.Environment = v.GetString("environment")
	}

	if c.Database == nil {
		c.Database = &DatabaseConfig{}
	}
	db := c.Database
	setString(v, "database.host", &db.Host)
	setString(v, "database.name", &db.Database)
	setString(v, "database.user", &db.User)
	setString(v, "database.password", &db.Password)
	if v.IsSet("database.port") {
		db.Port = v.GetInt("database.port")
	}
	if v.IsSet("database.ssl") {
		if v.GetBool("database.ssl") {
			db.SSLMode = "require"
		} else {
			db.SSLMode = "disable"
		}
	}

	if c.Boot == nil {
		c.Boot = &BootConfig{}
	}
	setString(v, "boot.lockbackend", &c.Boot.LockBackend)
	setString(v, "boot.lockpath", &c.Boot.LockPath)
	setString(v, "boot.locktimeout", &c.Boot.LockTimeout)

	if c.Seed == nil {
		c.Seed = &SeedConfig{}
	}
	if v.IsSet("seed.enabled") {
		enabled := v.GetBool("seed.enabled")
		c.Seed.Enabled = &enabled
	}
	setString(v, "seed.adminemail", &c.Seed.AdminEmail)
	setString(v, "seed.adminpassword", &c.Seed.AdminPassword)
	if v.IsSet("seed.sampledata") {
		c.Seed.SampleData = v.GetBool("seed.sampledata")
	}

	c.applyTelemetryEnv(v)
}

func (c *Config) applyTelemetryEnv(v *viper.Viper) {
	if !v.IsSet("telemetry.enabled") && c.Telemetry == nil {
		return
	}
	if c.Telemetry == nil {
		c.Telemetry = &telemetry.Config{}
	}
	t := c.Telemetry
	if v.IsSet("telemetry.enabled") {
		t.Enabled = v.GetBool("telemetry.enabled")
	}
	setString(v, "telemetry.endpoint", &t.Endpoint)
	setString(v, "telemetry.version", &t.ServiceVersion)
	if v.IsSet("telemetry.insecure") {
		t.Insecure = v.GetBool("telemetry.insecure")
	}
	if v.IsSet("telemetry.sampling") {
		if t.Tracing == nil {
			t.Tracing = &telemetry.TracingConfig{Enabled: true}
		}
		t.Tracing.Sampling = v.GetFloat64("telemetry.sampling")
	}
	if v.IsSet("telemetry.exporter") {
		if t.Metrics == nil {
			t.Metrics = &telemetry.MetricsConfig{Enabled: true}
		}
		t.Metrics.Exporter = v.GetString("telemetry.exporter")
	}
}

func setString(v *viper.Viper, key string, dst *string) {
	if v.IsSet(key) {
		*dst = v.GetString(key)
	}
}

// Validate checks the configuration and reports every problem found.
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("config cannot be nil")
	}

	var errs []error
	switch c.GetEnvironment() {
	case EnvDevelopment, EnvProduction:
	default:
		errs = append(errs, fmt.Errorf("environment must be %q or %q, got %q",
			EnvDevelopment, EnvProduction, c.Environment))
	}

	errs = append(errs, c.Database.validate()...)
	errs = append(errs, c.Boot.validate()...)

	// The advisory lock pins one pooled connection for the whole boot.
	if c.GetBoot().GetLockBackend() == LockBackendPostgres && c.GetDatabase().GetMaxConns() < 2 {
		errs = append(errs, fmt.Errorf("database.maxConns must be at least 2 with the %q lock backend, got %d",
			LockBackendPostgres, c.GetDatabase().GetMaxConns()))
	}

	if err := c.Telemetry.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("telemetry: %w", err))
	}
	return errors.Join(errs...)
}

func (d *DatabaseConfig) validate() []error {
	if d == nil {
		return nil
	}
	var errs []error
	if d.Port < 0 || d.Port > 65535 {
		errs = append(errs, fmt.Errorf("database.port must be between 1 and 65535, got %d", d.Port))
	}
	if d.MaxConns < 0 || d.MinConns < 0 {
		errs = append(errs, fmt.Errorf("database connection limits must not be negative"))
	}
	if d.MaxConns > 0 && d.MinConns > d.MaxConns {
		errs = append(errs, fmt.Errorf("database.minConns (%d) exceeds maxConns (%d)", d.MinConns, d.MaxConns))
	}
	if d.ConnMaxLifetime != "" {
		if _, err := time.ParseDuration(d.ConnMaxLifetime); err != nil {
			errs = append(errs, fmt.Errorf("database.connMaxLifetime: %w", err))
		}
	}
	return errs
}

func (b *BootConfig) validate() []error {
	if b == nil {
		return nil
	}
	var errs []error
	switch b.GetLockBackend() {
	case LockBackendFile, LockBackendPostgres:
	default:
		errs = append(errs, fmt.Errorf("boot.lockBackend must be %q or %q, got %q",
			LockBackendFile, LockBackendPostgres, b.LockBackend))
	}
	for name, value := range map[string]string{
		"boot.lockTimeout":      b.LockTimeout,
		"boot.lockPollInterval": b.LockPollInterval,
	} {
		if err := validatePositiveDuration(name, value); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) == 0 && b.GetLockPollInterval() > b.GetLockTimeout() {
		errs = append(errs, fmt.Errorf("boot.lockPollInterval (%s) exceeds boot.lockTimeout (%s)",
			b.GetLockPollInterval(), b.GetLockTimeout()))
	}
	if b.Retry != nil {
		if b.Retry.MaxAttempts < 0 {
			errs = append(errs, fmt.Errorf("boot.retry.maxAttempts must not be negative"))
		}
		if err := validatePositiveDuration("boot.retry.baseDelay", b.Retry.BaseDelay); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

func validatePositiveDuration(name, value string) error {
	if value == "" {
		return nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("%s must be a valid duration (e.g., '30s', '2m'): %w", name, err)
	}
	if d <= 0 {
		return fmt.Errorf("%s must be positive, got %s", name, value)
	}
	return nil
}

// GetEnvironment returns the deployment environment, defaulting to development.
func (c *Config) GetEnvironment() string {
	if c.Environment == "" {
		return EnvDevelopment
	}
	return strings.ToLower(c.Environment)
}

// IsProduction reports whether missing required tables are fatal.
func (c *Config) IsProduction() bool {
	return c.GetEnvironment() == EnvProduction
}

// GetDatabase returns the database section, never nil.
func (c *Config) GetDatabase() *DatabaseConfig {
	if c.Database == nil {
		return &DatabaseConfig{}
	}
	return c.Database
}

// GetBoot returns the boot section, never nil.
func (c *Config) GetBoot() *BootConfig {
	if c.Boot == nil {
		return &BootConfig{}
	}
	return c.Boot
}

// GetSeed returns the seed section, never nil.
func (c *Config) GetSeed() *SeedConfig {
	if c.Seed == nil {
		return &SeedConfig{}
	}
	return c.Seed
}

// GetHost returns the database host, defaulting to localhost.
func (d *DatabaseConfig) GetHost() string {
	if d.Host == "" {
		return defaultHost
	}
	return d.Host
}

// GetPort returns the database port, defaulting to 5432.
func (d *DatabaseConfig) GetPort() int {
	if d.Port == 0 {
		return defaultPort
	}
	return d.Port
}

// GetUser returns the database user, defaulting to postgres.
func (d *DatabaseConfig) GetUser() string {
	if d.User == "" {
		return defaultUser
	}
	return d.User
}

// GetDatabase returns the database name, defaulting to hms.
func (d *DatabaseConfig) GetDatabase() string {
	if d.Database == "" {
		return defaultDatabase
	}
	return d.Database
}

// GetSSLMode returns the sslmode connection parameter.
func (d *DatabaseConfig) GetSSLMode() string {
	if d.SSLMode == "" {
		return "disable"
	}
	return d.SSLMode
}

// GetMaxConns returns the pool size.
func (d *DatabaseConfig) GetMaxConns() int32 {
	if d.MaxConns == 0 {
		return defaultMaxConns
	}
	return d.MaxConns
}

// GetConnMaxLifetime returns the maximum connection lifetime, zero if unset.
func (d *DatabaseConfig) GetConnMaxLifetime() time.Duration {
	lifetime, _ := time.ParseDuration(d.ConnMaxLifetime)
	return lifetime
}

// GetPassword returns the database password.
// The password file wins over DB_PASSWORD; an empty password is allowed.
func (d *DatabaseConfig) GetPassword() (string, error) {
	if d.PasswordFile != "" {
		data, err := os.ReadFile(filepath.Clean(d.PasswordFile))
		if err != nil {
			return "", fmt.Errorf("failed to read password from file %s: %w", d.PasswordFile, err)
		}
		return strings.TrimSpace(string(data)), nil
	}
	return d.Password, nil
}

// GetConnectionString builds a postgres:// URL from the configuration
func (d *DatabaseConfig) GetConnectionString() (string, error) {
	password, err := d.GetPassword()
	if err != nil {
		return "", err
	}

	u := url.URL{
		Scheme:   "postgres",
		Host:     fmt.Sprintf("%s:%d", d.GetHost(), d.GetPort()),
		Path:     "/" + d.GetDatabase(),
		RawQuery: url.Values{"sslmode": []string{d.GetSSLMode()}}.Encode(),
	}
	if password != "" {
		u.User = url.UserPassword(d.GetUser(), password)
	} else {
		u.User = url.User(d.GetUser())
	}
	return u.String(), nil
}

// GetLockBackend returns the lock backend, defaulting to the file backend.
func (b *BootConfig) GetLockBackend() string {
	if b.LockBackend == "" {
		return LockBackendFile
	}
	return strings.ToLower(b.LockBackend)
}

// GetLockPath returns the marker file path.
func (b *BootConfig) GetLockPath() string {
	if b.LockPath == "" {
		return lock.DefaultPath()
	}
	return b.LockPath
}

// GetLockTimeout returns how long to wait for the migration lock.
func (b *BootConfig) GetLockTimeout() time.Duration {
	return durationOr(b.LockTimeout, lock.DefaultTimeout)
}

// GetLockPollInterval returns the wait between lock attempts.
func (b *BootConfig) GetLockPollInterval() time.Duration {
	return durationOr(b.LockPollInterval, lock.DefaultPollInterval)
}

// GetAdvisoryLockID returns the advisory lock name.
func (b *BootConfig) GetAdvisoryLockID() string {
	if b.AdvisoryLockID == "" {
		return lock.DefaultAdvisoryKey
	}
	return b.AdvisoryLockID
}

// GetRetryMaxAttempts returns the attempts per model, first one included.
func (b *BootConfig) GetRetryMaxAttempts() int {
	if b.Retry == nil || b.Retry.MaxAttempts == 0 {
		return retry.DefaultMaxAttempts
	}
	return b.Retry.MaxAttempts
}

// GetRetryBaseDelay returns the first backoff delay.
func (b *BootConfig) GetRetryBaseDelay() time.Duration {
	if b.Retry == nil {
		return retry.DefaultBaseDelay
	}
	return durationOr(b.Retry.BaseDelay, retry.DefaultBaseDelay)
}

func durationOr(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// IsEnabled reports whether seeding runs, defaulting to true.
func (s *SeedConfig) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}
