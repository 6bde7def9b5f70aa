package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"NetflowAnalyzer/internal/model"

	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig is wrapped by every validation error.
var ErrInvalidConfig = errors.New("invalid config")

// ListenerConfig holds the NetFlow socket settings.
type ListenerConfig struct {
	Address      string        `yaml:"address"`
	Port         int           `yaml:"port"`
	PollInterval time.Duration `yaml:"poll_interval"`
	ReadBuffer   int           `yaml:"read_buffer"`
}

// Addr returns the host:port the listener binds to.
func (l ListenerConfig) Addr() string {
	return net.JoinHostPort(l.Address, strconv.Itoa(l.Port))
}

// DispatchConfig holds the fan-out settings.
type DispatchConfig struct {
	QueueSize      int           `yaml:"queue_size"`
	OverflowPolicy string        `yaml:"overflow_policy"`
	JoinTimeout    time.Duration `yaml:"join_timeout"`
}

// LogConfig holds the logging settings.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

// APIConfig holds the HTTP status API settings.
type APIConfig struct {
	Enabled    bool   `yaml:"enabled"`
	ListenAddr string `yaml:"listen_addr"`
}

// HealthConfig holds the gRPC health service settings.
type HealthConfig struct {
	Enabled    bool   `yaml:"enabled"`
	ListenAddr string `yaml:"listen_addr"`
}

// SMTPConfig holds the configuration for the SMTP server.
type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
	To       string `yaml:"to"`

	// Timeout bounds the whole exchange with the mail server.
	Timeout time.Duration `yaml:"timeout"`
}

// Enabled reports whether mail notifications are configured.
func (s SMTPConfig) Enabled() bool {
	return s.Host != "" && s.To != ""
}

// Config is the top-level configuration struct for the entire application.
type Config struct {
	Listener ListenerConfig           `yaml:"listener"`
	Dispatch DispatchConfig           `yaml:"dispatch"`
	Log      LogConfig                `yaml:"log"`
	API      APIConfig                `yaml:"api"`
	Health   HealthConfig             `yaml:"health"`
	SMTP     SMTPConfig               `yaml:"smtp"`
	Modules  []model.ModuleDescriptor `yaml:"modules"`
}

// LoadConfig reads the configuration from a YAML file, applies defaults and
// validates it.
func LoadConfig(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML configuration data, applies defaults and validates it.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config YAML: %w", err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyDefaults fills every unset field with its default.
func (c *Config) ApplyDefaults() {
	if c.Listener.Address == "" {
		c.Listener.Address = "0.0.0.0"
	}
	if c.Listener.Port == 0 {
		c.Listener.Port = 9996
	}
	if c.Listener.PollInterval == 0 {
		c.Listener.PollInterval = time.Second
	}
	if c.Dispatch.QueueSize == 0 {
		c.Dispatch.QueueSize = 1024
	}
	if c.Dispatch.OverflowPolicy == "" {
		c.Dispatch.OverflowPolicy = "drop_oldest"
	}
	if c.Dispatch.JoinTimeout == 0 {
		c.Dispatch.JoinTimeout = 5 * time.Second
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	if c.API.ListenAddr == "" {
		c.API.ListenAddr = ":8080"
	}
	if c.Health.ListenAddr == "" {
		c.Health.ListenAddr = ":9090"
	}
	if c.SMTP.Port == 0 {
		c.SMTP.Port = 25
	}
	if c.SMTP.Timeout == 0 {
		c.SMTP.Timeout = 30 * time.Second
	}
}

// Validate checks the configuration for values the analyzer cannot run with.
func (c *Config) Validate() error {
	if c.Listener.Port < 1 || c.Listener.Port > 65535 {
		return fmt.Errorf("%w: listener.port %d out of range", ErrInvalidConfig, c.Listener.Port)
	}
	if c.Listener.PollInterval <= 0 {
		return fmt.Errorf("%w: listener.poll_interval must be positive", ErrInvalidConfig)
	}
	if c.Listener.ReadBuffer < 0 {
		return fmt.Errorf("%w: listener.read_buffer must not be negative", ErrInvalidConfig)
	}
	if c.Dispatch.QueueSize < 0 {
		return fmt.Errorf("%w: dispatch.queue_size must not be negative", ErrInvalidConfig)
	}
	switch c.Dispatch.OverflowPolicy {
	case "drop_oldest", "drop_newest":
	default:
		return fmt.Errorf("%w: unknown dispatch.overflow_policy %q", ErrInvalidConfig, c.Dispatch.OverflowPolicy)
	}
	if c.Dispatch.JoinTimeout <= 0 {
		return fmt.Errorf("%w: dispatch.join_timeout must be positive", ErrInvalidConfig)
	}
	if c.SMTP.Timeout < 0 {
		return fmt.Errorf("%w: smtp.timeout must not be negative", ErrInvalidConfig)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("%w: unknown log.format %q", ErrInvalidConfig, c.Log.Format)
	}

	seen := make(map[string]bool, len(c.Modules))
	for i, m := range c.Modules {
		if m.Name == "" {
			return fmt.Errorf("%w: modules[%d] has no name", ErrInvalidConfig, i)
		}
		if seen[m.Name] {
			return fmt.Errorf("%w: duplicate module name %q", ErrInvalidConfig, m.Name)
		}
		seen[m.Name] = true
	}
	return nil
}

// EnabledModules returns the descriptors marked enabled, in file order.
func (c *Config) EnabledModules() []model.ModuleDescriptor {
	var enabled []model.ModuleDescriptor
	for _, m := range c.Modules {
		if m.Enabled {
			enabled = append(enabled, m)
		}
	}
	return enabled
}
