package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func validConfig() Config {
	return Config{
		HTTP: HTTPConfig{
			Port:    8090,
			Address: "127.0.0.1",
			Enabled: true,
		},
		Evaluation: EvaluationConfig{
			Endpoint:  "https://api.example.com/evaluate",
			UserAgent: "Voice-Practice/1.0",
		},
		Audio: AudioConfig{
			SampleRate: 44100,
			Channels:   1,
			BitDepth:   16,
			StorageDir: "./data/audio",
			Capture: CaptureConfig{
				Source:   "silence",
				Duration: 2,
			},
			Output: OutputConfig{
				Sink: "paced",
			},
		},
		Permission: PermissionConfig{
			Initial: "undetermined",
			Answer:  "granted",
		},
		History: HistoryConfig{
			Enabled: true,
			DBPath:  "./data/history.db",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name        string
		mutate      func(c *Config)
		expectError bool
		errorMsg    string
	}{
		{
			name:   "valid configuration",
			mutate: func(c *Config) {},
		},
		{
			name:   "no timeout is allowed",
			mutate: func(c *Config) { c.Evaluation.Timeout = 0 },
		},
		{
			name:        "invalid http port",
			mutate:      func(c *Config) { c.HTTP.Port = 70000 },
			expectError: true,
			errorMsg:    "http port must be between 1 and 65535",
		},
		{
			name: "http disabled skips port check",
			mutate: func(c *Config) {
				c.HTTP.Enabled = false
				c.HTTP.Port = 0
			},
		},
		{
			name:        "missing endpoint",
			mutate:      func(c *Config) { c.Evaluation.Endpoint = "" },
			expectError: true,
			errorMsg:    "endpoint cannot be empty",
		},
		{
			name:        "negative timeout",
			mutate:      func(c *Config) { c.Evaluation.Timeout = -5 },
			expectError: true,
			errorMsg:    "timeout cannot be negative",
		},
		{
			name:        "wrong sample rate",
			mutate:      func(c *Config) { c.Audio.SampleRate = 16000 },
			expectError: true,
			errorMsg:    "sample_rate must be 44100 Hz",
		},
		{
			name:        "stereo",
			mutate:      func(c *Config) { c.Audio.Channels = 2 },
			expectError: true,
			errorMsg:    "channels must be 1",
		},
		{
			name:        "8-bit",
			mutate:      func(c *Config) { c.Audio.BitDepth = 8 },
			expectError: true,
			errorMsg:    "bit_depth must be 16",
		},
		{
			name:        "file source without input",
			mutate:      func(c *Config) { c.Audio.Capture.Source = "file" },
			expectError: true,
			errorMsg:    "input_file cannot be empty",
		},
		{
			name:        "unknown capture source",
			mutate:      func(c *Config) { c.Audio.Capture.Source = "microphone" },
			expectError: true,
			errorMsg:    "capture source must be",
		},
		{
			name:        "file sink without dir",
			mutate:      func(c *Config) { c.Audio.Output.Sink = "file" },
			expectError: true,
			errorMsg:    "output dir cannot be empty",
		},
		{
			name:        "bad permission answer",
			mutate:      func(c *Config) { c.Permission.Answer = "undetermined" },
			expectError: true,
			errorMsg:    "answer must be",
		},
		{
			name:        "history without path",
			mutate:      func(c *Config) { c.History.DBPath = "" },
			expectError: true,
			errorMsg:    "db_path cannot be empty",
		},
		{
			name: "archive without credentials",
			mutate: func(c *Config) {
				c.Archive = ArchiveConfig{Enabled: true, Endpoint: "localhost:9000", Bucket: "recordings", Timeout: 30}
			},
			expectError: true,
			errorMsg:    "access_key and secret_key are required",
		},
		{
			name:        "bad log level",
			mutate:      func(c *Config) { c.Logging.Level = "verbose" },
			expectError: true,
			errorMsg:    "level must be one of",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := validConfig()
			tt.mutate(&config)

			err := config.Validate()
			if tt.expectError {
				if err == nil {
					t.Errorf("Expected error but got none")
				} else if tt.errorMsg != "" && !strings.Contains(err.Error(), tt.errorMsg) {
					t.Errorf("Expected error to contain '%s', got '%s'", tt.errorMsg, err.Error())
				}
			} else if err != nil {
				t.Errorf("Expected no error but got: %v", err)
			}
		})
	}
}

func TestConfigLoad(t *testing.T) {
	tempDir := t.TempDir()

	tests := []struct {
		name        string
		configYAML  string
		expectError bool
		errorMsg    string
	}{
		{
			name: "valid config file",
			configYAML: `
http:
  enabled: true
  address: "127.0.0.1"
  port: 8090
evaluation:
  endpoint: "https://api.example.com/evaluate"
audio:
  sample_rate: 44100
  channels: 1
  bit_depth: 16
  storage_dir: "./data/audio"
  capture:
    duration: 2
logging:
  level: "info"
  format: "json"
  output: "stdout"
`,
		},
		{
			name: "invalid YAML syntax",
			configYAML: `
http:
  port: invalid_number
`,
			expectError: true,
			errorMsg:    "failed to parse",
		},
		{
			name: "missing required fields",
			configYAML: `
audio:
  sample_rate: 44100
`,
			expectError: true,
			errorMsg:    "endpoint cannot be empty",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			configPath := filepath.Join(tempDir, "config.yaml")
			if err := os.WriteFile(configPath, []byte(tt.configYAML), 0644); err != nil {
				t.Fatalf("Failed to create test config file: %v", err)
			}

			config, err := Load(configPath)

			if tt.expectError {
				if err == nil {
					t.Errorf("Expected error but got none")
				} else if tt.errorMsg != "" && !strings.Contains(err.Error(), tt.errorMsg) {
					t.Errorf("Expected error to contain '%s', got '%s'", tt.errorMsg, err.Error())
				}
				return
			}

			if err != nil {
				t.Fatalf("Expected no error but got: %v", err)
			}

			// Defaults fill the optional sections
			if config.Audio.Capture.Source != "silence" || config.Audio.Output.Sink != "paced" {
				t.Errorf("Expected default capture and output, got %+v", config.Audio)
			}
			if config.Permission.Answer != "granted" {
				t.Errorf("Expected default permission answer, got %s", config.Permission.Answer)
			}
			if config.Evaluation.UserAgent == "" {
				t.Error("Expected default user agent")
			}
		})
	}
}

func TestConfigLoadNonexistentFile(t *testing.T) {
	_, err := Load("nonexistent.yaml")
	if err == nil {
		t.Fatalf("Expected error for nonexistent file but got none")
	}
	if !strings.Contains(err.Error(), "failed to read config file") {
		t.Errorf("Expected error about reading file, got: %v", err)
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		EnvEndpoint:      "http://localhost:9999/evaluate",
		EnvAPIKey:        "from-env",
		EnvHTTPPort:      "9100",
		EnvArchiveSecret: "s3cr3t",
	}
	lookup := func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}

	config := validConfig()
	if err := config.ApplyEnv(lookup); err != nil {
		t.Fatalf("ApplyEnv failed: %v", err)
	}

	if config.Evaluation.Endpoint != "http://localhost:9999/evaluate" {
		t.Errorf("Expected endpoint override, got %s", config.Evaluation.Endpoint)
	}
	if config.Evaluation.APIKey != "from-env" {
		t.Errorf("Expected api key override, got %s", config.Evaluation.APIKey)
	}
	if config.HTTP.Port != 9100 {
		t.Errorf("Expected port 9100, got %d", config.HTTP.Port)
	}
	if config.Archive.SecretKey != "s3cr3t" {
		t.Errorf("Expected archive secret override, got %s", config.Archive.SecretKey)
	}
	if config.Audio.StorageDir != "./data/audio" {
		t.Errorf("Expected unset variables to leave values alone, got %s", config.Audio.StorageDir)
	}

	env[EnvHTTPPort] = "eighty"
	if err := config.ApplyEnv(lookup); err == nil {
		t.Error("Expected error for non-numeric port")
	}
}

func TestLoadEnvFile(t *testing.T) {
	if err := LoadEnvFile(filepath.Join(t.TempDir(), "missing.env")); err != nil {
		t.Errorf("Expected missing env file to be ignored, got %v", err)
	}

	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte(EnvAPIKey+"=dotenv-key\n"), 0600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	t.Setenv(EnvAPIKey, "")
	os.Unsetenv(EnvAPIKey)

	if err := LoadEnvFile(path); err != nil {
		t.Fatalf("LoadEnvFile failed: %v", err)
	}

	if got := os.Getenv(EnvAPIKey); got != "dotenv-key" {
		t.Errorf("Expected dotenv-key, got %q", got)
	}
}

func TestDurationHelpers(t *testing.T) {
	evaluation := EvaluationConfig{Timeout: 30}
	if evaluation.GetTimeoutDuration() != 30*time.Second {
		t.Errorf("Expected 30 seconds, got %v", evaluation.GetTimeoutDuration())
	}

	evaluation.Timeout = 0
	if evaluation.GetTimeoutDuration() != 0 {
		t.Errorf("Expected no timeout, got %v", evaluation.GetTimeoutDuration())
	}

	capture := CaptureConfig{Duration: 1.5}
	if capture.GetCaptureDuration() != 1500*time.Millisecond {
		t.Errorf("Expected 1.5 seconds, got %v", capture.GetCaptureDuration())
	}

	archive := ArchiveConfig{Timeout: 10}
	if archive.GetTimeoutDuration() != 10*time.Second {
		t.Errorf("Expected 10 seconds, got %v", archive.GetTimeoutDuration())
	}
}

func TestRedacted(t *testing.T) {
	config := validConfig()
	config.Evaluation.APIKey = "secret"
	config.Archive.SecretKey = "secret"

	redacted := config.Redacted()

	if strings.Contains(redacted.Evaluation.APIKey, "secret") || strings.Contains(redacted.Archive.SecretKey, "secret") {
		t.Error("Expected secrets to be redacted")
	}

	if config.Evaluation.APIKey != "secret" {
		t.Error("Expected original config to be untouched")
	}
}
