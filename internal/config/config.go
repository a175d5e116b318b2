package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

// EnvPrefix namespaces every environment variable read by Load.
const EnvPrefix = "CARDAUTH"

// Run modes.
const (
	ModeDevelopment = "development"
	ModeRelease     = "release"
)

// Config represents the complete application configuration
type Config struct {
	// BackendURL is the base URL of the card authority. Besides
	// CARDAUTH_BACKEND_URL it also honours the bare BACKEND_URL variable.
	// Nested fields carry no envconfig tag so that only prefixed names apply.
	BackendURL string `yaml:"backend_url" envconfig:"BACKEND_URL" validate:"required,url"`
	Mode       string `yaml:"mode" split_words:"true" validate:"oneof=development release"`

	HTTP      HTTPClientConfig `yaml:"http" envconfig:"HTTP"`
	Monitor   MonitorConfig    `yaml:"monitor" envconfig:"MONITOR"`
	Hardware  HardwareConfig   `yaml:"hardware" envconfig:"HARDWARE"`
	Server    ServerConfig     `yaml:"server" envconfig:"SERVER"`
	Security  SecurityConfig   `yaml:"security" envconfig:"SECURITY"`
	Logging   LoggingConfig    `yaml:"logging" envconfig:"LOGGING"`
	Telemetry TelemetryConfig  `yaml:"telemetry" envconfig:"TELEMETRY"`
	Paths     PathsConfig      `yaml:"paths" envconfig:"PATHS"`
}

// HTTPClientConfig configures the outbound client used against the card authority
type HTTPClientConfig struct {
	Timeout time.Duration `yaml:"timeout" split_words:"true" validate:"gt=0"`
}

// MonitorConfig configures the background session re-verification
type MonitorConfig struct {
	Interval time.Duration `yaml:"interval" split_words:"true" validate:"gt=0"`
}

// HardwareConfig selects how the machine fingerprint is derived
type HardwareConfig struct {
	// Source is one of auto, monitor, host or none.
	Source   string        `yaml:"source" split_words:"true" validate:"oneof=auto monitor host none"`
	// CacheTTL keeps a derived fingerprint for this long; zero probes on every call.
	CacheTTL time.Duration `yaml:"cache_ttl" split_words:"true" validate:"gte=0"`
}

// ServerConfig contains the loopback shell server configuration
type ServerConfig struct {
	Host            string        `yaml:"host" split_words:"true" validate:"required"`
	Port            int           `yaml:"port" split_words:"true" validate:"min=1,max=65535"`
	ReadTimeout     time.Duration `yaml:"read_timeout" split_words:"true" validate:"gt=0"`
	WriteTimeout    time.Duration `yaml:"write_timeout" split_words:"true" validate:"gt=0"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" split_words:"true" validate:"gt=0"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" split_words:"true" validate:"gt=0"`
}

// SecurityConfig contains security-related configuration
type SecurityConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins" split_words:"true"`
	LoginRPS       float64  `yaml:"login_rps" split_words:"true" validate:"gt=0"`
	LoginBurst     int      `yaml:"login_burst" split_words:"true" validate:"min=1"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level    string `yaml:"level" split_words:"true" validate:"oneof=debug info warn warning error"`
	Output   string `yaml:"output" split_words:"true" validate:"oneof=console file both"`
	FilePath string `yaml:"file_path" split_words:"true"`
}

// TelemetryConfig selects the OpenTelemetry exporters
type TelemetryConfig struct {
	TraceExporter  string  `yaml:"trace_exporter" split_words:"true" validate:"oneof=stdout none"`
	MetricExporter string  `yaml:"metric_exporter" split_words:"true" validate:"oneof=prometheus none"`
	SampleRatio    float64 `yaml:"sample_ratio" split_words:"true" validate:"gte=0,lte=1"`
}

// PathsConfig contains file system paths configuration
type PathsConfig struct {
	DataFile string `yaml:"data_file" split_words:"true" validate:"required"`
	// ProjectMarker names the file that identifies the project root in development mode.
	ProjectMarker string `yaml:"project_marker" split_words:"true"`
}

// Default returns the compiled-in configuration.
func Default() Config {
	return Config{
		BackendURL: "http://localhost:3000",
		Mode:       ModeDevelopment,
		HTTP:       HTTPClientConfig{Timeout: 30 * time.Second},
		Monitor:    MonitorConfig{Interval: 10 * time.Second},
		Hardware:   HardwareConfig{Source: "auto"},
		Server: ServerConfig{
			Host:            "127.0.0.1",
			Port:            1420,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    45 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Security: SecurityConfig{
			AllowedOrigins: []string{"http://localhost:1420", "tauri://localhost"},
			LoginRPS:       1,
			LoginBurst:     5,
		},
		Logging: LoggingConfig{
			Level:    "info",
			Output:   "console",
			FilePath: "logs/cardauth.log",
		},
		Telemetry: TelemetryConfig{
			TraceExporter:  "none",
			MetricExporter: "prometheus",
			SampleRatio:    1.0,
		},
		Paths: PathsConfig{
			DataFile:      "data.yml",
			ProjectMarker: "go.mod",
		},
	}
}

// Load builds the configuration from defaults, an optional .env file,
// an optional YAML file and the environment, in that order.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	cfg := Default()

	if configFile := getConfigFilePath(); configFile != "" {
		if err := loadFromFile(configFile, &cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	// Only variables that are present override the values above.
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	cfg.BackendURL = strings.TrimRight(cfg.BackendURL, "/")

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// loadFromFile overlays the keys present in a YAML file onto cfg
func loadFromFile(filePath string, cfg *Config) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// getConfigFilePath returns the config file to read, or "" when there is none
func getConfigFilePath() string {
	if path := os.Getenv(EnvPrefix + "_CONFIG_FILE"); path != "" {
		return path
	}

	candidates := []string{"config.yml"}
	if exeDir, err := ExecutableDir(); err == nil {
		candidates = append(candidates, filepath.Join(exeDir, "config.yml"))
	}
	for _, candidate := range candidates {
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return ""
}

// Validate checks the configuration against its struct constraints.
func (c *Config) Validate() error {
	return validator.New().Struct(c)
}

// IsRelease reports whether the process runs in release mode.
func (c *Config) IsRelease() bool {
	return c.Mode == ModeRelease
}

// Address returns the listen address of the shell server.
func (s ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}
