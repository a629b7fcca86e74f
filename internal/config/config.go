package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Environment variables that override file values. Secrets are expected to
// come from here rather than from the YAML file.
const (
	EnvEndpoint        = "VOICE_PRACTICE_ENDPOINT"
	EnvAPIKey          = "VOICE_PRACTICE_API_KEY"
	EnvHTTPPort        = "VOICE_PRACTICE_HTTP_PORT"
	EnvStorageDir      = "VOICE_PRACTICE_STORAGE_DIR"
	EnvArchiveAccess   = "VOICE_PRACTICE_ARCHIVE_ACCESS_KEY"
	EnvArchiveSecret   = "VOICE_PRACTICE_ARCHIVE_SECRET_KEY"
	EnvHistoryDatabase = "VOICE_PRACTICE_HISTORY_DB"
)

// Config represents the complete client configuration
type Config struct {
	HTTP       HTTPConfig       `yaml:"http"`
	Evaluation EvaluationConfig `yaml:"evaluation"`
	Audio      AudioConfig      `yaml:"audio"`
	Permission PermissionConfig `yaml:"permission"`
	History    HistoryConfig    `yaml:"history"`
	Archive    ArchiveConfig    `yaml:"archive"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// HTTPConfig contains the local control API configuration
type HTTPConfig struct {
	Port    int    `yaml:"port"`
	Address string `yaml:"address"`
	Enabled bool   `yaml:"enabled"`
}

// EvaluationConfig contains the remote evaluation service configuration
type EvaluationConfig struct {
	Endpoint  string `yaml:"endpoint"`
	APIKey    string `yaml:"api_key"`
	Timeout   int    `yaml:"timeout"` // seconds, 0 disables the client timeout
	UserAgent string `yaml:"user_agent"`
}

// AudioConfig contains capture format, storage and device parameters
type AudioConfig struct {
	SampleRate int           `yaml:"sample_rate"`
	Channels   int           `yaml:"channels"`
	BitDepth   int           `yaml:"bit_depth"`
	StorageDir string        `yaml:"storage_dir"`
	Capture    CaptureConfig `yaml:"capture"`
	Output     OutputConfig  `yaml:"output"`
}

// CaptureConfig selects the capture source
type CaptureConfig struct {
	Source    string  `yaml:"source"`     // "silence" or "file"
	InputFile string  `yaml:"input_file"` // WAV replayed by the file source
	Duration  float64 `yaml:"duration"`   // seconds of silence for the silence source
	Realtime  bool    `yaml:"realtime"`
}

// OutputConfig selects the playback sink
type OutputConfig struct {
	Sink string `yaml:"sink"` // "paced" or "file"
	Dir  string `yaml:"dir"`
}

// PermissionConfig scripts the microphone permission platform
type PermissionConfig struct {
	Initial string `yaml:"initial"` // undetermined, granted or denied
	Answer  string `yaml:"answer"`  // answer given when prompted
}

// HistoryConfig contains the attempt history store configuration
type HistoryConfig struct {
	Enabled bool   `yaml:"enabled"`
	DBPath  string `yaml:"db_path"`
}

// ArchiveConfig contains the optional S3-compatible recording archive
type ArchiveConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	Region    string `yaml:"region"`
	Prefix    string `yaml:"prefix"`
	UseSSL    bool   `yaml:"use_ssl"`
	Timeout   int    `yaml:"timeout"` // seconds per upload
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// LoadEnvFile loads variables from a dotenv file into the process
// environment. A missing file is not an error.
func LoadEnvFile(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load env file %s: %w", path, err)
	}
	return nil
}

// Load reads and parses the configuration file, applies environment
// overrides and validates the result
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := config.ApplyEnv(os.LookupEnv); err != nil {
		return nil, fmt.Errorf("environment override failed: %w", err)
	}

	config.setDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// ApplyEnv overrides file values with any variables lookup reports as set
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvEndpoint); ok {
		c.Evaluation.Endpoint = v
	}
	if v, ok := lookup(EnvAPIKey); ok {
		c.Evaluation.APIKey = v
	}
	if v, ok := lookup(EnvHTTPPort); ok {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s must be a number, got '%s'", EnvHTTPPort, v)
		}
		c.HTTP.Port = port
	}
	if v, ok := lookup(EnvStorageDir); ok {
		c.Audio.StorageDir = v
	}
	if v, ok := lookup(EnvArchiveAccess); ok {
		c.Archive.AccessKey = v
	}
	if v, ok := lookup(EnvArchiveSecret); ok {
		c.Archive.SecretKey = v
	}
	if v, ok := lookup(EnvHistoryDatabase); ok {
		c.History.DBPath = v
	}
	return nil
}

func (c *Config) setDefaults() {
	if c.Evaluation.UserAgent == "" {
		c.Evaluation.UserAgent = "Voice-Practice/1.0"
	}
	if c.Audio.Capture.Source == "" {
		c.Audio.Capture.Source = "silence"
	}
	if c.Audio.Output.Sink == "" {
		c.Audio.Output.Sink = "paced"
	}
	if c.Permission.Initial == "" {
		c.Permission.Initial = "undetermined"
	}
	if c.Permission.Answer == "" {
		c.Permission.Answer = "granted"
	}
	if c.Archive.Timeout == 0 {
		c.Archive.Timeout = 30
	}
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	if err := c.Evaluation.Validate(); err != nil {
		return fmt.Errorf("evaluation config: %w", err)
	}

	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio config: %w", err)
	}

	if err := c.Permission.Validate(); err != nil {
		return fmt.Errorf("permission config: %w", err)
	}

	if err := c.History.Validate(); err != nil {
		return fmt.Errorf("history config: %w", err)
	}

	if err := c.Archive.Validate(); err != nil {
		return fmt.Errorf("archive config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates HTTP configuration
func (h *HTTPConfig) Validate() error {
	if h.Enabled {
		if h.Port < 1 || h.Port > 65535 {
			return fmt.Errorf("http port must be between 1 and 65535, got %d", h.Port)
		}

		if h.Address == "" {
			return fmt.Errorf("http address cannot be empty when HTTP is enabled")
		}
	}

	return nil
}

// Validate validates evaluation configuration
func (e *EvaluationConfig) Validate() error {
	if e.Endpoint == "" {
		return fmt.Errorf("endpoint cannot be empty")
	}

	if e.Timeout < 0 {
		return fmt.Errorf("timeout cannot be negative, got %d", e.Timeout)
	}

	return nil
}

// Validate validates audio configuration
func (a *AudioConfig) Validate() error {
	if a.SampleRate != 44100 {
		return fmt.Errorf("sample_rate must be 44100 Hz, got %d", a.SampleRate)
	}

	if a.Channels != 1 {
		return fmt.Errorf("channels must be 1 (mono), got %d", a.Channels)
	}

	if a.BitDepth != 16 {
		return fmt.Errorf("bit_depth must be 16, got %d", a.BitDepth)
	}

	if a.StorageDir == "" {
		return fmt.Errorf("storage_dir cannot be empty")
	}

	switch a.Capture.Source {
	case "silence":
		if a.Capture.Duration <= 0 {
			return fmt.Errorf("capture duration must be positive for the silence source, got %f", a.Capture.Duration)
		}
	case "file":
		if a.Capture.InputFile == "" {
			return fmt.Errorf("capture input_file cannot be empty for the file source")
		}
	default:
		return fmt.Errorf("capture source must be 'silence' or 'file', got '%s'", a.Capture.Source)
	}

	switch a.Output.Sink {
	case "paced":
	case "file":
		if a.Output.Dir == "" {
			return fmt.Errorf("output dir cannot be empty for the file sink")
		}
	default:
		return fmt.Errorf("output sink must be 'paced' or 'file', got '%s'", a.Output.Sink)
	}

	return nil
}

// Validate validates permission configuration
func (p *PermissionConfig) Validate() error {
	valid := map[string]bool{"undetermined": true, "granted": true, "denied": true}

	if !valid[p.Initial] {
		return fmt.Errorf("initial must be one of [undetermined, granted, denied], got '%s'", p.Initial)
	}

	if p.Answer != "granted" && p.Answer != "denied" {
		return fmt.Errorf("answer must be 'granted' or 'denied', got '%s'", p.Answer)
	}

	return nil
}

// Validate validates history configuration
func (h *HistoryConfig) Validate() error {
	if h.Enabled && h.DBPath == "" {
		return fmt.Errorf("db_path cannot be empty when history is enabled")
	}
	return nil
}

// Validate validates archive configuration
func (a *ArchiveConfig) Validate() error {
	if !a.Enabled {
		return nil
	}

	if a.Endpoint == "" {
		return fmt.Errorf("endpoint cannot be empty when archive is enabled")
	}

	if a.Bucket == "" {
		return fmt.Errorf("bucket cannot be empty when archive is enabled")
	}

	if a.AccessKey == "" || a.SecretKey == "" {
		return fmt.Errorf("access_key and secret_key are required when archive is enabled")
	}

	if a.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", a.Timeout)
	}

	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	// Output may be stdout, stderr or a file path
	return nil
}

// GetTimeoutDuration returns the evaluation timeout; zero means none
func (e *EvaluationConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(e.Timeout) * time.Second
}

// GetCaptureDuration returns the silence source duration
func (c *CaptureConfig) GetCaptureDuration() time.Duration {
	return time.Duration(c.Duration * float64(time.Second))
}

// GetTimeoutDuration returns the per-upload archive timeout
func (a *ArchiveConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(a.Timeout) * time.Second
}

// Redacted returns a copy safe to expose over the control API
func (c Config) Redacted() Config {
	if c.Evaluation.APIKey != "" {
		c.Evaluation.APIKey = "[redacted]"
	}
	if c.Archive.AccessKey != "" {
		c.Archive.AccessKey = "[redacted]"
	}
	if c.Archive.SecretKey != "" {
		c.Archive.SecretKey = "[redacted]"
	}
	return c
}
