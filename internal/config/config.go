package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	// Mode constants
	ModeStdio  = "stdio"
	ModeServer = "server"

	// Default values
	DefaultPort          = 8080
	DefaultHost          = "127.0.0.1"
	DefaultLogLevel      = "info"
	DefaultMaxFileSize   = 100 * 1024 * 1024 // 100MB
	DefaultDiffCacheSize = 256
	DefaultWorkers       = 4

	// Directory permissions
	DefaultDirPerm = 0o750

	// EnvPrefix prefixes every environment variable read by LoadFromFlags
	EnvPrefix = "FORM_MAPPER"
)

// Config holds all configuration for the form mapper
type Config struct {
	// Server configuration
	Mode string // "server" or "stdio"
	Host string
	Port int

	// Form configuration
	FormsDir      string
	RulesPath     string // YAML indicator rules, built-in rules when empty
	CanonicalPath string // YAML canonical field seed, built-in fields when empty

	// Storage configuration
	DatabaseURL   string // PostgreSQL DSN, in-memory storage when empty
	DiffCacheSize int

	// Application configuration
	Version     string
	ServerName  string
	LogLevel    string
	Workers     int
	MaxFileSize int64 // Maximum PDF file size in bytes
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	currentDir, err := os.Getwd()
	if err != nil {
		currentDir = "."
	}

	return &Config{
		Mode:          ModeStdio,
		Host:          DefaultHost,
		Port:          DefaultPort,
		FormsDir:      currentDir,
		DiffCacheSize: DefaultDiffCacheSize,
		Version:       "1.0.0",
		ServerName:    "form-mapper",
		LogLevel:      DefaultLogLevel,
		Workers:       DefaultWorkers,
		MaxFileSize:   DefaultMaxFileSize,
	}
}

// LoadFromFlags parses command line flags and returns a configuration. A .env file in
// the working directory is loaded into the environment first; variables already set win.
func LoadFromFlags() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	cfg := DefaultConfig()

	setupViperEnvironment(cfg)
	defineCommandLineFlags(cfg)
	bindFlagsToViper()
	setupUsageMessage()

	// Check for version flag before parsing
	if err := checkVersionFlag(); err != nil {
		return nil, err
	}

	pflag.Parse()

	populateConfigFromViper(cfg)

	for _, p := range []*string{&cfg.FormsDir, &cfg.RulesPath, &cfg.CanonicalPath} {
		if *p == "" {
			continue
		}
		if expandedPath, err := filepath.Abs(*p); err == nil {
			*p = expandedPath
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// setupViperEnvironment configures viper with environment variables and defaults
func setupViperEnvironment(cfg *Config) {
	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	viper.SetDefault("mode", cfg.Mode)
	viper.SetDefault("host", cfg.Host)
	viper.SetDefault("port", cfg.Port)
	viper.SetDefault("dir", cfg.FormsDir)
	viper.SetDefault("rules", cfg.RulesPath)
	viper.SetDefault("canonical", cfg.CanonicalPath)
	viper.SetDefault("database-url", cfg.DatabaseURL)
	viper.SetDefault("diffcache", cfg.DiffCacheSize)
	viper.SetDefault("workers", cfg.Workers)
	viper.SetDefault("loglevel", cfg.LogLevel)
	viper.SetDefault("maxfilesize", cfg.MaxFileSize)
}

// defineCommandLineFlags sets up all command line flags
func defineCommandLineFlags(cfg *Config) {
	pflag.String("mode", cfg.Mode, "Server mode: 'stdio' for MCP standard I/O, 'server' for HTTP/SSE server")
	pflag.String("host", cfg.Host, "Server host address (server mode only)")
	pflag.Int("port", cfg.Port, "Server port (server mode only)")
	pflag.String("dir", cfg.FormsDir, "Directory containing fillable PDF forms")
	pflag.String("rules", cfg.RulesPath, "YAML file with persona and domain indicator rules")
	pflag.String("canonical", cfg.CanonicalPath, "YAML file with canonical field definitions")
	pflag.String("database-url", cfg.DatabaseURL, "PostgreSQL connection string (in-memory storage when empty)")
	pflag.Int("diffcache", cfg.DiffCacheSize, "Number of schema diffs kept in memory")
	pflag.Int("workers", cfg.Workers, "Number of fields classified concurrently")
	pflag.String("loglevel", cfg.LogLevel, "Log level (debug, info, warn, error)")
	pflag.Int64("maxfilesize", cfg.MaxFileSize, "Maximum PDF file size in bytes")
}

// bindFlagsToViper binds command line flags to viper configuration
func bindFlagsToViper() {
	for _, name := range []string{
		"mode", "host", "port", "dir", "rules", "canonical",
		"database-url", "diffcache", "workers", "loglevel", "maxfilesize",
	} {
		_ = viper.BindPFlag(name, pflag.Lookup(name))
	}
}

// setupUsageMessage configures the custom usage message
func setupUsageMessage() {
	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage of %s:\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\nForm Mapper - classifies USCIS form fields and maps them to canonical collection fields\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		pflag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s                                          "+
			"# stdio mode, current directory (default)\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s --dir=/path/to/forms                     "+
			"# stdio mode with custom directory\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s --database-url=postgres://localhost/forms "+
			"# persistent registry\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s --mode=server --port=8081                # SSE server\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\nEnvironment Variables (also read from .env):\n")
		fmt.Fprintf(os.Stderr, "  FORM_MAPPER_MODE          Server mode\n")
		fmt.Fprintf(os.Stderr, "  FORM_MAPPER_HOST          Server host\n")
		fmt.Fprintf(os.Stderr, "  FORM_MAPPER_PORT          Server port\n")
		fmt.Fprintf(os.Stderr, "  FORM_MAPPER_DIR           Forms directory\n")
		fmt.Fprintf(os.Stderr, "  FORM_MAPPER_RULES         Indicator rules file\n")
		fmt.Fprintf(os.Stderr, "  FORM_MAPPER_CANONICAL     Canonical fields file\n")
		fmt.Fprintf(os.Stderr, "  FORM_MAPPER_DATABASE_URL  PostgreSQL connection string\n")
		fmt.Fprintf(os.Stderr, "  FORM_MAPPER_DIFFCACHE     Diff cache size\n")
		fmt.Fprintf(os.Stderr, "  FORM_MAPPER_WORKERS       Classification workers\n")
		fmt.Fprintf(os.Stderr, "  FORM_MAPPER_LOGLEVEL      Log level\n")
		fmt.Fprintf(os.Stderr, "  FORM_MAPPER_MAXFILESIZE   Maximum file size\n")
	}
}

// checkVersionFlag checks if version flag was requested
func checkVersionFlag() error {
	for _, arg := range os.Args[1:] {
		if arg == "-version" || arg == "--version" || arg == "-v" {
			return fmt.Errorf("version requested")
		}
	}
	return nil
}

// populateConfigFromViper fills the config struct with values from viper
func populateConfigFromViper(cfg *Config) {
	cfg.Mode = viper.GetString("mode")
	cfg.Host = viper.GetString("host")
	cfg.Port = viper.GetInt("port")
	cfg.FormsDir = viper.GetString("dir")
	cfg.RulesPath = viper.GetString("rules")
	cfg.CanonicalPath = viper.GetString("canonical")
	cfg.DatabaseURL = viper.GetString("database-url")
	cfg.DiffCacheSize = viper.GetInt("diffcache")
	cfg.Workers = viper.GetInt("workers")
	cfg.LogLevel = viper.GetString("loglevel")
	cfg.MaxFileSize = viper.GetInt64("maxfilesize")
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Mode != ModeStdio && c.Mode != ModeServer {
		return errors.New("mode must be either 'stdio' or 'server'")
	}

	// Port range only matters in server mode
	if c.Mode == ModeServer && (c.Port < 1 || c.Port > 65535) {
		return errors.New("port must be between 1 and 65535")
	}

	if c.FormsDir == "" {
		return errors.New("forms directory cannot be empty")
	}

	// Check if forms directory exists, create if it doesn't
	if _, err := os.Stat(c.FormsDir); os.IsNotExist(err) {
		if err := os.MkdirAll(c.FormsDir, DefaultDirPerm); err != nil {
			return fmt.Errorf("cannot create forms directory %s: %w", c.FormsDir, err)
		}
	} else if err != nil {
		return fmt.Errorf("cannot access forms directory %s: %w", c.FormsDir, err)
	}

	for name, path := range map[string]string{"rules": c.RulesPath, "canonical": c.CanonicalPath} {
		if path == "" {
			continue
		}
		if _, err := os.Stat(path); err != nil {
			return fmt.Errorf("cannot access %s file %s: %w", name, path, err)
		}
	}

	if c.MaxFileSize <= 0 {
		return errors.New("maximum file size must be positive")
	}
	if c.Workers <= 0 {
		return errors.New("workers must be positive")
	}
	if c.DiffCacheSize < 0 {
		return errors.New("diff cache size cannot be negative")
	}

	if _, ok := logLevels[c.LogLevel]; !ok {
		return fmt.Errorf("invalid log level: %s (must be one of: debug, info, warn, error)", c.LogLevel)
	}

	return nil
}

var logLevels = map[string]slog.Level{
	"debug": slog.LevelDebug,
	"info":  slog.LevelInfo,
	"warn":  slog.LevelWarn,
	"error": slog.LevelError,
}

// NewLogger returns a text logger on stderr at the configured level. Stdout carries the
// MCP protocol in stdio mode and must stay clean.
func (c *Config) NewLogger() *slog.Logger {
	level, ok := logLevels[c.LogLevel]
	if !ok {
		level = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// Address returns the server address as host:port
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// IsDebug returns true if debug logging is enabled
func (c *Config) IsDebug() bool {
	return c.LogLevel == "debug"
}

// HasDatabase reports whether a PostgreSQL store is configured
func (c *Config) HasDatabase() bool {
	return strings.TrimSpace(c.DatabaseURL) != ""
}

// String returns a string representation of the configuration. The database URL is
// reduced to whether it is set, since it may carry credentials.
func (c *Config) String() string {
	return fmt.Sprintf("Config{Mode: %s, Host: %s, Port: %d, FormsDir: %s, RulesPath: %s, CanonicalPath: %s, "+
		"Database: %t, DiffCacheSize: %d, Workers: %d, LogLevel: %s, MaxFileSize: %d}",
		c.Mode, c.Host, c.Port, c.FormsDir, c.RulesPath, c.CanonicalPath,
		c.HasDatabase(), c.DiffCacheSize, c.Workers, c.LogLevel, c.MaxFileSize)
}

// IsServerMode returns true if the server is running in HTTP server mode
func (c *Config) IsServerMode() bool {
	return c.Mode == ModeServer
}

// IsStdioMode returns true if the server is running in stdio mode
func (c *Config) IsStdioMode() bool {
	return c.Mode == ModeStdio
}
