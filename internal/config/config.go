// Package config provides configuration management for the archlens service.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

// Config represents the service configuration.
type Config struct {
	Service  ServiceConfig  `toml:"service"`
	API      APIConfig      `toml:"api"`
	MCP      MCPConfig      `toml:"mcp"`
	LLM      LLMConfig      `toml:"llm"`
	Analysis AnalysisConfig `toml:"analysis"`
	Logging  LoggingConfig  `toml:"logging"`
	Security SecurityConfig `toml:"security"`
}

// ServiceConfig contains service-level settings.
type ServiceConfig struct {
	Host            string `toml:"host"`
	Port            int    `toml:"port"`
	DataDir         string `toml:"data_dir"`
	PIDFile         string `toml:"pid_file"`
	ShutdownTimeout int    `toml:"shutdown_timeout_seconds"`
	MaxRequestSize  int64  `toml:"max_request_size_bytes"`
}

// APIConfig contains REST ingress settings (thin, out-of-core-scope surface).
type APIConfig struct {
	Enabled        bool     `toml:"enabled"`
	APIKey         string   `toml:"api_key"`
	RateLimit      int      `toml:"rate_limit_per_minute"`
	AllowedOrigins []string `toml:"allowed_origins"`
	RequestTimeout int      `toml:"request_timeout_seconds"`
}

// MCPConfig contains MCP tool-server settings.
type MCPConfig struct {
	Enabled bool `toml:"enabled"`
}

// LLMConfig contains LLM gateway settings: fallback chain, retry bounds,
// and deadlines (spec.md §6 "Configuration").
type LLMConfig struct {
	AnthropicAPIKey string      `toml:"anthropic_api_key"`
	GeminiAPIKey    string      `toml:"gemini_api_key"`
	OllamaURL       string      `toml:"ollama_url"`
	FallbackChain   StringSlice `toml:"fallback_chain"`
	RetryAttempts   int         `toml:"retry_attempts_per_model"`
	RetryMinWaitMs  int         `toml:"retry_min_wait_ms"`
	RetryMaxWaitMs  int         `toml:"retry_max_wait_ms"`
	CallDeadlineSec int         `toml:"call_deadline_seconds"`
	RateLimitPerHr  int         `toml:"rate_limit_per_hour"`
}

// AnalysisConfig contains static-analysis and workflow budgets.
type AnalysisConfig struct {
	SupportedExts      StringSlice `toml:"supported_extensions"`
	ExcludeDirs        StringSlice `toml:"exclude_directories"`
	TopN               int         `toml:"top_n"`
	ComponentCount     int         `toml:"component_count"`
	ExcerptCharBudget  int         `toml:"excerpt_char_budget"`
	MaxExcerptChars    int         `toml:"max_excerpt_chars_per_file"`
	DiagramMaxAttempts int         `toml:"diagram_max_attempts"`
	RunDeadlineSec     int         `toml:"run_deadline_seconds"`
	WorkDirRoot        string      `toml:"work_dir_root"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level      string      `toml:"level"`
	Format     string      `toml:"format"`
	Output     StringSlice `toml:"output"`
	TimeFormat string      `toml:"time_format"`
	MaxSizeMB  int         `toml:"max_size_mb"`
	MaxBackups int         `toml:"max_backups"`
	MaxAgeDays int         `toml:"max_age_days"`
	Compress   bool        `toml:"compress"`
}

// StringSlice is a custom type that can unmarshal from either a string or []string.
type StringSlice []string

// UnmarshalTOML implements toml.Unmarshaler for flexible config parsing.
func (s *StringSlice) UnmarshalTOML(data interface{}) error {
	switch v := data.(type) {
	case string:
		*s = []string{v}
	case []interface{}:
		result := make([]string, len(v))
		for i, item := range v {
			str, ok := item.(string)
			if !ok {
				return fmt.Errorf("expected string in array, got %T", item)
			}
			result[i] = str
		}
		*s = result
	default:
		return fmt.Errorf("expected string or array, got %T", data)
	}
	return nil
}

// SecurityConfig contains security settings.
type SecurityConfig struct {
	TLSEnabled  bool   `toml:"tls_enabled"`
	TLSCertFile string `toml:"tls_cert_file"`
	TLSKeyFile  string `toml:"tls_key_file"`
	CORSEnabled bool   `toml:"cors_enabled"`
}

// DefaultConfig returns the default configuration with all values set.
// Environment variables ARCHLENS_HOST and ARCHLENS_PORT can override defaults.
func DefaultConfig() *Config {
	dataDir := DefaultDataDir()

	host := "127.0.0.1"
	if envHost := os.Getenv("ARCHLENS_HOST"); envHost != "" {
		host = envHost
	}

	port := 8530
	if envPort := os.Getenv("ARCHLENS_PORT"); envPort != "" {
		if p, err := strconv.Atoi(envPort); err == nil {
			port = p
		}
	}

	return &Config{
		Service: ServiceConfig{
			Host:            host,
			Port:            port,
			DataDir:         dataDir,
			PIDFile:         filepath.Join(dataDir, "archlens.pid"),
			ShutdownTimeout: 30,
			MaxRequestSize:  10 * 1024 * 1024,
		},
		API: APIConfig{
			Enabled:        true,
			APIKey:         "",
			RateLimit:      60,
			AllowedOrigins: []string{"http://localhost:*", "http://127.0.0.1:*"},
			RequestTimeout: 60,
		},
		MCP: MCPConfig{
			Enabled: true,
		},
		LLM: LLMConfig{
			AnthropicAPIKey: os.Getenv("ANTHROPIC_API_KEY"),
			GeminiAPIKey:    os.Getenv("GOOGLE_GEMINI_API_KEY"),
			OllamaURL:       "http://localhost:11434",
			FallbackChain:   StringSlice{"claude-3-5-sonnet-20241022", "gemini-1.5-flash", "llama3.1"},
			RetryAttempts:   3,
			RetryMinWaitMs:  500,
			RetryMaxWaitMs:  4000,
			CallDeadlineSec: 45,
			RateLimitPerHr:  600,
		},
		Analysis: AnalysisConfig{
			SupportedExts: StringSlice{".py", ".js", ".jsx", ".ts", ".tsx"},
			ExcludeDirs: StringSlice{
				".git", "node_modules", "vendor", "__pycache__",
				".venv", "venv", "dist", "build", "target", ".tox",
			},
			TopN:               40,
			ComponentCount:     8,
			ExcerptCharBudget:  12000,
			MaxExcerptChars:    1400,
			DiagramMaxAttempts: 3,
			RunDeadlineSec:     300,
			WorkDirRoot:        filepath.Join(dataDir, "workspaces"),
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     StringSlice{"file"},
			TimeFormat: "15:04:05.000",
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 30,
			Compress:   true,
		},
		Security: SecurityConfig{
			TLSEnabled:  false,
			CORSEnabled: true,
		},
	}
}

// DefaultDataDir returns the default data directory based on OS.
func DefaultDataDir() string {
	switch runtime.GOOS {
	case "windows":
		appData := os.Getenv("APPDATA")
		if appData != "" {
			return filepath.Join(appData, "archlens")
		}
		home, _ := os.UserHomeDir()
		return filepath.Join(home, "AppData", "Roaming", "archlens")
	case "darwin":
		home, _ := os.UserHomeDir()
		return filepath.Join(home, "Library", "Application Support", "archlens")
	default:
		xdgData := os.Getenv("XDG_DATA_HOME")
		if xdgData != "" {
			return filepath.Join(xdgData, "archlens")
		}
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".archlens")
	}
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	return filepath.Join(DefaultDataDir(), "config.toml")
}

// Load loads configuration from a file, merging with defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	if _, err := toml.Decode(expanded, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	cfg.expandPaths()

	return cfg, nil
}

// LoadFromString loads configuration from a TOML string, merging with defaults.
func LoadFromString(tomlStr string) (*Config, error) {
	cfg := DefaultConfig()

	expanded := os.ExpandEnv(tomlStr)

	if _, err := toml.Decode(expanded, cfg); err != nil {
		return nil, fmt.Errorf("parse config string: %w", err)
	}

	cfg.expandPaths()
	return cfg, nil
}

// Address returns the host:port the service listens on.
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Service.Host, c.Service.Port)
}

// PIDPath returns the configured PID file path.
func (c *Config) PIDPath() string {
	return c.Service.PIDFile
}

// LogPath returns the primary log file path under the data directory.
func (c *Config) LogPath() string {
	return filepath.Join(c.Service.DataDir, "logs", "archlens.log")
}

// EnsureDirectories creates the data, log, and workspace directories.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.Service.DataDir,
		filepath.Join(c.Service.DataDir, "logs"),
		c.Analysis.WorkDirRoot,
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}

// Validate checks that the configuration is internally consistent.
func (c *Config) Validate() error {
	if c.Service.Port <= 0 || c.Service.Port > 65535 {
		return fmt.Errorf("service.port out of range: %d", c.Service.Port)
	}
	if len(c.LLM.FallbackChain) == 0 {
		return fmt.Errorf("llm.fallback_chain must name at least one model")
	}
	if c.Analysis.TopN <= 0 {
		return fmt.Errorf("analysis.top_n must be positive")
	}
	if c.Analysis.ComponentCount <= 0 {
		return fmt.Errorf("analysis.component_count must be positive")
	}
	return nil
}

// WriteExampleConfig writes a default configuration to path, failing if a
// file is already there.
func WriteExampleConfig(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists: %s", path)
	}
	return DefaultConfig().Save(path)
}

// expandPaths expands tilde in path fields.
func (c *Config) expandPaths() {
	home, _ := os.UserHomeDir()

	expandTilde := func(path string) string {
		if strings.HasPrefix(path, "~/") {
			return filepath.Join(home, path[2:])
		}
		return path
	}

	c.Service.DataDir = expandTilde(c.Service.DataDir)
	c.Service.PIDFile = expandTilde(c.Service.PIDFile)
	c.Analysis.WorkDirRoot = expandTilde(c.Analysis.WorkDirRoot)
	c.Security.TLSCertFile = expandTilde(c.Security.TLSCertFile)
	c.Security.TLSKeyFile = expandTilde(c.Security.TLSKeyFile)
}

// Save saves the configuration to a file in TOML format.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create config file: %w", err)
	}
	defer f.Close()

	encoder := toml.NewEncoder(f)
	if err := encoder.Encode(c); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	return nil
}
