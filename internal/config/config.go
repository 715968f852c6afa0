// Package config handles loading and validation of vickyboard configuration.
package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. VICKYBOARD_API_URL.
const EnvPrefix = "VICKYBOARD"

// Config represents the dashboard configuration.
type Config struct {
	// APIURL is the base URL of the vicky API, including its path prefix.
	APIURL string `json:"api_url" mapstructure:"api_url"`

	// Token is a bearer access token. Prefer TokenFile for tokens that rotate.
	Token string `json:"token,omitempty" mapstructure:"token"`

	// TokenFile is a file holding the access token; it is re-read when it changes.
	TokenFile string `json:"token_file,omitempty" mapstructure:"token_file"`

	// PageSize is the number of tasks per page.
	PageSize int `json:"page_size" mapstructure:"page_size"`

	// GroupSampleLimit caps how many tasks are scanned to collect group labels.
	GroupSampleLimit int `json:"group_sample_limit" mapstructure:"group_sample_limit"`

	// LogBufferLines is the number of log lines kept for the selected task.
	LogBufferLines int `json:"log_buffer_lines" mapstructure:"log_buffer_lines"`

	// RequestTimeoutSeconds bounds one-shot API requests. Streams are not bounded.
	RequestTimeoutSeconds int `json:"request_timeout_seconds" mapstructure:"request_timeout_seconds"`

	// ReconnectCooldownSeconds is the backoff schedule between stream reconnects.
	// The last entry repeats once the schedule is exhausted.
	ReconnectCooldownSeconds []int `json:"reconnect_cooldown_seconds" mapstructure:"reconnect_cooldown_seconds"`

	// ReconnectJitter is the random fraction added to each cooldown (0 to 1).
	ReconnectJitter float64 `json:"reconnect_jitter" mapstructure:"reconnect_jitter"`

	// MaxReconnectAttempts stops a stream after this many consecutive failures. 0 retries forever.
	MaxReconnectAttempts int `json:"max_reconnect_attempts" mapstructure:"max_reconnect_attempts"`

	// LogDirectory is the directory for log files.
	LogDirectory string `json:"log_directory" mapstructure:"log_directory"`

	// LogLevel sets the logging verbosity (debug, info, warn, error).
	LogLevel string `json:"log_level" mapstructure:"log_level"`

	// LogMaxSizeMB rotates log files once they reach this size.
	LogMaxSizeMB int `json:"log_max_size_mb" mapstructure:"log_max_size_mb"`

	// LogMaxBackups is the number of rotated log files to keep.
	LogMaxBackups int `json:"log_max_backups" mapstructure:"log_max_backups"`

	// Mock configures the development backend started by `vickyboard mock`.
	Mock MockConfig `json:"mock" mapstructure:"mock"`
}

// MockConfig holds configuration for the development backend.
type MockConfig struct {
	Listen    string `json:"listen" mapstructure:"listen"`
	TasksFile string `json:"tasks_file" mapstructure:"tasks_file"`

	// NumWorkers is the number of tasks run in parallel.
	NumWorkers int `json:"num_workers" mapstructure:"num_workers"`

	// TaskCommand runs once per task; every stdout line becomes a log line.
	// VICKY_TASK_ID and VICKY_TASK_NAME are set in its environment.
	TaskCommand []string `json:"task_command" mapstructure:"task_command"`

	// MaxTaskDurationSeconds finishes a task with TIMEOUT once exceeded.
	MaxTaskDurationSeconds int `json:"max_task_duration_seconds" mapstructure:"max_task_duration_seconds"`

	// DispatchIntervalMillis is how often NEW tasks are claimed.
	DispatchIntervalMillis int `json:"dispatch_interval_millis" mapstructure:"dispatch_interval_millis"`

	// RecoverRunningOnStartup resets RUNNING tasks to NEW on startup.
	RecoverRunningOnStartup bool `json:"recover_running_on_startup" mapstructure:"recover_running_on_startup"`

	JWTSecret string `json:"jwt_secret" mapstructure:"jwt_secret"`

	// TokenTTLMinutes is the lifetime of tokens handed out by /auth/login.
	TokenTTLMinutes int `json:"token_ttl_minutes" mapstructure:"token_ttl_minutes"`

	// Users maps user names to plain-text development passwords.
	Users map[string]string `json:"users" mapstructure:"users"`

	Authority string `json:"authority" mapstructure:"authority"`
	ClientID  string `json:"client_id" mapstructure:"client_id"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		APIURL:                   "http://localhost:8000/api",
		PageSize:                 10,
		GroupSampleLimit:         400,
		LogBufferLines:           5000,
		RequestTimeoutSeconds:    30,
		ReconnectCooldownSeconds: []int{1, 2, 5, 10, 30},
		ReconnectJitter:          0.2,
		MaxReconnectAttempts:     0,
		LogDirectory:             "./logs",
		LogLevel:                 "info",
		LogMaxSizeMB:             10,
		LogMaxBackups:            3,
		Mock: MockConfig{
			Listen:                  ":8000",
			TasksFile:               "mock-tasks.json",
			NumWorkers:              2,
			TaskCommand:             []string{"sh", "-c", "for i in 1 2 3 4 5; do echo \"step $i of $VICKY_TASK_NAME\"; sleep 1; done"},
			MaxTaskDurationSeconds:  600,
			DispatchIntervalMillis:  500,
			RecoverRunningOnStartup: true,
			JWTSecret:               "vicky-dev-secret",
			TokenTTLMinutes:         720,
			Users:                   map[string]string{"admin": "admin"},
			Authority:               "http://localhost:8080/realms/vicky",
			ClientID:                "vicky-dashboard",
		},
	}
}

// Load reads configuration from a file in any format viper understands, then applies
// VICKYBOARD_* environment overrides. If the file doesn't exist, defaults are used.
func Load(path string) (*Config, error) {
	v := viper.New()
	if err := setDefaults(v); err != nil {
		return nil, err
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range []string{"api_url", "token", "token_file", "log_level", "log_directory", "page_size"} {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("failed to bind env for %s: %w", key, err)
		}
	}

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			v.SetConfigFile(path)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	// Apply defaults for zero values
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// setDefaults registers DefaultConfig with viper so that file values replace
// defaults key by key instead of being merged into default slices.
func setDefaults(v *viper.Viper) error {
	data, err := json.Marshal(DefaultConfig())
	if err != nil {
		return fmt.Errorf("failed to marshal defaults: %w", err)
	}
	var defaults map[string]any
	if err := json.Unmarshal(data, &defaults); err != nil {
		return fmt.Errorf("failed to decode defaults: %w", err)
	}
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	return nil
}

// applyDefaults fills in default values for any fields that are zero/empty.
func (c *Config) applyDefaults() {
	defaults := DefaultConfig()

	if c.APIURL == "" {
		c.APIURL = defaults.APIURL
	}
	if c.PageSize <= 0 {
		c.PageSize = defaults.PageSize
	}
	if c.GroupSampleLimit <= 0 {
		c.GroupSampleLimit = defaults.GroupSampleLimit
	}
	if c.LogBufferLines <= 0 {
		c.LogBufferLines = defaults.LogBufferLines
	}
	if c.RequestTimeoutSeconds <= 0 {
		c.RequestTimeoutSeconds = defaults.RequestTimeoutSeconds
	}
	if len(c.ReconnectCooldownSeconds) == 0 {
		c.ReconnectCooldownSeconds = defaults.ReconnectCooldownSeconds
	}
	if c.LogDirectory == "" {
		c.LogDirectory = defaults.LogDirectory
	}
	if c.LogLevel == "" {
		c.LogLevel = defaults.LogLevel
	}
	if c.LogMaxSizeMB <= 0 {
		c.LogMaxSizeMB = defaults.LogMaxSizeMB
	}
	if c.Mock.Listen == "" {
		c.Mock.Listen = defaults.Mock.Listen
	}
	if c.Mock.TasksFile == "" {
		c.Mock.TasksFile = defaults.Mock.TasksFile
	}
	if c.Mock.NumWorkers <= 0 {
		c.Mock.NumWorkers = defaults.Mock.NumWorkers
	}
	if len(c.Mock.TaskCommand) == 0 {
		c.Mock.TaskCommand = defaults.Mock.TaskCommand
	}
	if c.Mock.MaxTaskDurationSeconds <= 0 {
		c.Mock.MaxTaskDurationSeconds = defaults.Mock.MaxTaskDurationSeconds
	}
	if c.Mock.DispatchIntervalMillis <= 0 {
		c.Mock.DispatchIntervalMillis = defaults.Mock.DispatchIntervalMillis
	}
	if c.Mock.JWTSecret == "" {
		c.Mock.JWTSecret = defaults.Mock.JWTSecret
	}
	if c.Mock.TokenTTLMinutes <= 0 {
		c.Mock.TokenTTLMinutes = defaults.Mock.TokenTTLMinutes
	}
	if len(c.Mock.Users) == 0 {
		c.Mock.Users = defaults.Mock.Users
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	u, err := url.Parse(c.APIURL)
	if err != nil {
		return fmt.Errorf("invalid api_url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("api_url must be http or https, got %q", c.APIURL)
	}
	if c.PageSize < 1 || c.PageSize > 100 {
		return fmt.Errorf("page_size must be between 1 and 100, got %d", c.PageSize)
	}
	if c.GroupSampleLimit < 1 {
		return fmt.Errorf("group_sample_limit must be at least 1, got %d", c.GroupSampleLimit)
	}
	if c.RequestTimeoutSeconds < 1 {
		return fmt.Errorf("request_timeout_seconds must be at least 1, got %d", c.RequestTimeoutSeconds)
	}
	for _, s := range c.ReconnectCooldownSeconds {
		if s < 0 {
			return fmt.Errorf("reconnect_cooldown_seconds cannot be negative, got %d", s)
		}
	}
	if c.ReconnectJitter < 0 || c.ReconnectJitter > 1 {
		return fmt.Errorf("reconnect_jitter must be between 0 and 1, got %v", c.ReconnectJitter)
	}
	if c.MaxReconnectAttempts < 0 {
		return fmt.Errorf("max_reconnect_attempts cannot be negative, got %d", c.MaxReconnectAttempts)
	}
	if c.Mock.NumWorkers > 10 {
		return fmt.Errorf("mock.num_workers should not exceed 10, got %d", c.Mock.NumWorkers)
	}

	// Validate log level
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
		// Valid
	default:
		return fmt.Errorf("invalid log_level: %s (must be debug, info, warn, or error)", c.LogLevel)
	}

	return nil
}

// RequestTimeout returns RequestTimeoutSeconds as a duration.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

// ReconnectCooldowns returns the reconnect schedule as durations.
func (c *Config) ReconnectCooldowns() []time.Duration {
	out := make([]time.Duration, len(c.ReconnectCooldownSeconds))
	for i, s := range c.ReconnectCooldownSeconds {
		out[i] = time.Duration(s) * time.Second
	}
	return out
}

// Save writes the configuration to a JSON file.
func (c *Config) Save(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
