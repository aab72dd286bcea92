package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration settings
type Config struct {
	// HTTP server configuration
	Server ServerConfig `yaml:"server" mapstructure:"server"`

	// Database configuration
	Database DatabaseConfig `yaml:"database" mapstructure:"database"`

	// Local repository checkout storage
	Repos ReposConfig `yaml:"repos" mapstructure:"repos"`

	// GitHub configuration
	GitHub GitHubConfig `yaml:"github" mapstructure:"github"`

	// LLM configuration
	LLM LLMConfig `yaml:"llm" mapstructure:"llm"`

	// Audit execution settings
	Audit AuditConfig `yaml:"audit" mapstructure:"audit"`

	// Optional event publishing
	Events EventsConfig `yaml:"events" mapstructure:"events"`
}

type ServerConfig struct {
	Addr string `yaml:"addr" mapstructure:"addr"`
}

type DatabaseConfig struct {
	URL          string `yaml:"url" mapstructure:"url"`
	MaxOpenConns int    `yaml:"max_open_conns" mapstructure:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns" mapstructure:"max_idle_conns"`
}

type ReposConfig struct {
	RootDir string `yaml:"root_dir" mapstructure:"root_dir"`
}

type GitHubConfig struct {
	Token     string `yaml:"token" mapstructure:"token"`           // server-side fallback token
	RateLimit int    `yaml:"rate_limit" mapstructure:"rate_limit"` // requests per second
}

type LLMConfig struct {
	ServiceKey      string `yaml:"service_key" mapstructure:"service_key"` // used for precise token counting
	Model           string `yaml:"model" mapstructure:"model"`
	MaxOutputTokens int    `yaml:"max_output_tokens" mapstructure:"max_output_tokens"`
	UseKeychain     bool   `yaml:"use_keychain" mapstructure:"use_keychain"`
}

type AuditConfig struct {
	Timeout         time.Duration `yaml:"timeout" mapstructure:"timeout"`
	JanitorInterval time.Duration `yaml:"janitor_interval" mapstructure:"janitor_interval"`
}

type EventsConfig struct {
	NATSURL string `yaml:"nats_url" mapstructure:"nats_url"` // empty disables publishing
}

// Default returns default configuration
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	return &Config{
		Server: ServerConfig{
			Addr: ":8080",
		},
		Database: DatabaseConfig{
			MaxOpenConns: 25,
			MaxIdleConns: 5,
		},
		Repos: ReposConfig{
			RootDir: filepath.Join(homeDir, ".codewatch", "repos"),
		},
		GitHub: GitHubConfig{
			RateLimit: 10, // 10 requests per second
		},
		LLM: LLMConfig{
			Model:           "claude-sonnet-4-5",
			MaxOutputTokens: 8192,
		},
		Audit: AuditConfig{
			Timeout:         120 * time.Minute,
			JanitorInterval: 10 * time.Minute,
		},
	}
}

// Load loads configuration from file
func Load(path string) (*Config, error) {
	// Load .env files first (in order of precedence)
	loadEnvFiles()

	v := viper.New()
	v.SetConfigType("yaml")

	// Set defaults
	cfg := Default()
	v.SetDefault("server", cfg.Server)
	v.SetDefault("database", cfg.Database)
	v.SetDefault("repos", cfg.Repos)
	v.SetDefault("github", cfg.GitHub)
	v.SetDefault("llm", cfg.LLM)
	v.SetDefault("audit", cfg.Audit)
	v.SetDefault("events", cfg.Events)

	// Load from environment variables
	v.SetEnvPrefix("CODEWATCH")
	v.AutomaticEnv()

	// Try to find config file
	if path != "" {
		v.SetConfigFile(path)
	} else {
		// Search for config in standard locations
		v.SetConfigName("config")
		v.AddConfigPath(".codewatch")
		v.AddConfigPath(".")
		homeDir, _ := os.UserHomeDir()
		v.AddConfigPath(filepath.Join(homeDir, ".codewatch"))
	}

	// Read config file if it exists
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// Config file not found is OK, use defaults
	}

	// Unmarshal into struct
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Apply environment variable overrides
	applyEnvOverrides(cfg)

	return cfg, nil
}

// loadEnvFiles loads .env files in order of precedence
func loadEnvFiles() {
	envFiles := []string{
		".env.local", // Local overrides (highest precedence)
		".env",       // Main environment file
	}

	for _, file := range envFiles {
		if _, err := os.Stat(file); err == nil {
			godotenv.Load(file)
		}
	}

	// Also try loading from home directory
	homeDir, _ := os.UserHomeDir()
	homeEnvFile := filepath.Join(homeDir, ".codewatch", ".env")
	if _, err := os.Stat(homeEnvFile); err == nil {
		godotenv.Load(homeEnvFile)
	}
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(cfg *Config) {
	// Server configuration
	if addr := os.Getenv("CODEWATCH_ADDR"); addr != "" {
		cfg.Server.Addr = addr
	}

	// Database configuration
	if url := os.Getenv("DATABASE_URL"); url != "" {
		cfg.Database.URL = url
	}

	// Repository storage
	if dir := os.Getenv("CODEWATCH_REPOS_DIR"); dir != "" {
		cfg.Repos.RootDir = expandPath(dir)
	}

	// GitHub configuration
	if token := os.Getenv("GITHUB_TOKEN"); token != "" {
		cfg.GitHub.Token = token
	}
	if rateLimit := os.Getenv("GITHUB_RATE_LIMIT"); rateLimit != "" {
		if rate, err := strconv.Atoi(rateLimit); err == nil {
			cfg.GitHub.RateLimit = rate
		}
	}

	// LLM configuration
	// Precedence: 1. Env var (highest) 2. Keychain 3. Config file (lowest)
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		cfg.LLM.ServiceKey = key
	} else if cfg.LLM.ServiceKey == "" {
		km := NewKeyringManager()
		if km.IsAvailable() {
			if keychainKey, err := km.GetAPIKey(); err == nil && keychainKey != "" {
				cfg.LLM.ServiceKey = keychainKey
			}
		}
	}
	if model := os.Getenv("CODEWATCH_MODEL"); model != "" {
		cfg.LLM.Model = model
	}
	if maxTokens := os.Getenv("CODEWATCH_MAX_OUTPUT_TOKENS"); maxTokens != "" {
		if n, err := strconv.Atoi(maxTokens); err == nil {
			cfg.LLM.MaxOutputTokens = n
		}
	}

	// Audit configuration
	if minutes := os.Getenv("CODEWATCH_AUDIT_TIMEOUT_MINUTES"); minutes != "" {
		if n, err := strconv.Atoi(minutes); err == nil && n > 0 {
			cfg.Audit.Timeout = time.Duration(n) * time.Minute
		}
	}

	// Events configuration
	if url := os.Getenv("NATS_URL"); url != "" {
		cfg.Events.NATSURL = url
	}
}

// expandPath expands ~ to home directory
func expandPath(path string) string {
	if path == "" {
		return path
	}
	if path[0] == '~' {
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, path[1:])
	}
	return path
}

// Save saves configuration to file
func (c *Config) Save(path string) error {
	v := viper.New()
	v.SetConfigType("yaml")

	v.Set("server", c.Server)
	v.Set("database", c.Database)
	v.Set("repos", c.Repos)
	v.Set("github", c.GitHub)
	v.Set("llm", c.LLM)
	v.Set("audit", c.Audit)
	v.Set("events", c.Events)

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}
