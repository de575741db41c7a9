package internal

import (
	"fmt"
	"log/slog"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/fraudlink/internal/graph"
	"github.com/starford/fraudlink/internal/matcher"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Storage drivers.
const (
	DriverSQLite = "sqlite"
	DriverBadger = "badger"
)

// Config represents the application configuration.
type Config struct {
	App      ApplicationConfig         `yaml:"app" toml:"app"`
	Storage  StorageConfig             `yaml:"storage" toml:"storage"`
	Matchers map[string]matcher.Config `yaml:"matchers" toml:"matchers"`
	Resolver ResolverConfig            `yaml:"resolver" toml:"resolver"`
	Worker   WorkerConfig              `yaml:"worker" toml:"worker"`
	Auth     AuthConfig                `yaml:"auth" toml:"auth"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return err
	}
	if err := c.Storage.Validate(); err != nil {
		return err
	}
	for name, m := range c.Matchers {
		if err := m.Validate(); err != nil {
			return fmt.Errorf("matchers.%s: %w", name, err)
		}
	}
	if err := c.Resolver.Validate(); err != nil {
		return err
	}
	if err := c.Worker.Validate(); err != nil {
		return err
	}
	return c.Auth.Validate()
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level" toml:"log_level"`
	HTTP     HTTPConfig `yaml:"http" toml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	return c.HTTP.Validate()
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port int `yaml:"port" toml:"port"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// StorageConfig selects and locates the node/link store.
type StorageConfig struct {
	Driver string       `yaml:"driver" toml:"driver"`
	SQLite SQLiteConfig `yaml:"sqlite" toml:"sqlite"`
	Badger BadgerConfig `yaml:"badger" toml:"badger"`
}

// Validate validates the storage configuration.
func (c *StorageConfig) Validate() error {
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Driver, validation.Required, validation.In(DriverSQLite, DriverBadger)),
	); err != nil {
		return err
	}
	if c.Driver == DriverSQLite {
		return c.SQLite.Validate()
	}
	return c.Badger.Validate()
}

// SQLiteConfig holds SQLite database configuration.
type SQLiteConfig struct {
	Path string `yaml:"path" toml:"path"`
}

// Validate validates the SQLite configuration.
func (c *SQLiteConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// BadgerConfig holds the badger data directory. InMemory ignores Path.
type BadgerConfig struct {
	Path     string `yaml:"path" toml:"path"`
	InMemory bool   `yaml:"in_memory" toml:"in_memory"`
}

// Validate validates the badger configuration.
func (c *BadgerConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.When(!c.InMemory, validation.Required)),
	)
}

// ResolverConfig holds the defaults applied to connection queries that leave
// a bound unset.
type ResolverConfig struct {
	MaxDepth      int      `yaml:"max_depth" toml:"max_depth"`
	MinConfidence int      `yaml:"min_confidence" toml:"min_confidence"`
	Limit         *int     `yaml:"limit" toml:"limit"`
	Timeout       Duration `yaml:"timeout" toml:"timeout"`
	Pushdown      bool     `yaml:"pushdown" toml:"pushdown"`
}

// Validate validates the resolver configuration.
func (c *ResolverConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.MaxDepth, validation.Min(0)),
		validation.Field(&c.MinConfidence, validation.Min(0), validation.Max(100)),
		validation.Field(&c.Limit, validation.Min(0)),
		validation.Field(&c.Timeout, validation.Min(Duration(0))),
	)
}

// Options returns the resolver defaults as query options.
func (c *ResolverConfig) Options() graph.Options {
	return graph.Options{
		MaxDepth:      graph.Int(c.MaxDepth),
		MinConfidence: graph.Int(c.MinConfidence),
		Limit:         c.Limit,
	}
}

// WorkerConfig holds the spool queue consumer configuration. An empty
// SpoolDir disables the consumer.
type WorkerConfig struct {
	Concurrency int    `yaml:"concurrency" toml:"concurrency"`
	SpoolDir    string `yaml:"spool_dir" toml:"spool_dir"`
}

// Validate validates the worker configuration.
func (c *WorkerConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Concurrency, validation.Required, validation.Min(1), validation.Max(256)),
	)
}

// AuthConfig holds authentication configuration.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): no authentication required, suitable for local dev.
//   - "token": Bearer token authentication; Token must be non-empty.
type AuthConfig struct {
	Mode  string `yaml:"mode" toml:"mode"`
	Token string `yaml:"token" toml:"token"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	if c.Mode == "" {
		c.Mode = AuthModeDisabled
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(AuthModeDisabled, AuthModeToken)),
	); err != nil {
		return err
	}
	if c.Mode == AuthModeToken && c.Token == "" {
		return fmt.Errorf("auth: mode is %q but token is empty", AuthModeToken)
	}
	return nil
}

// AuthEnabled returns true when authentication is active.
func (c *AuthConfig) AuthEnabled() bool {
	return c.Mode == AuthModeToken
}

// Duration is a time.Duration read from strings such as "250ms" in both YAML and TOML.
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	*d = Duration(v)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP: HTTPConfig{
				Port: 8080,
			},
		},
		Storage: StorageConfig{
			Driver: DriverSQLite,
			SQLite: SQLiteConfig{Path: "./fraudlink.db"},
			Badger: BadgerConfig{Path: "./data/badger"},
		},
		Resolver: ResolverConfig{
			MaxDepth: graph.DefaultMaxDepth,
			Timeout:  Duration(5 * time.Second),
			Pushdown: true,
		},
		Worker: WorkerConfig{
			Concurrency: 4,
			SpoolDir:    "./spool",
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
	}
}
