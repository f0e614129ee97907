package server

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

// TOMLConfig represents the structure of the server config file.
type TOMLConfig struct {
	Server   ServerSection   `toml:"server"`
	Limits   LimitsSection   `toml:"limits"`
	Channels ChannelsSection `toml:"channels"`
}

type ServerSection struct {
	Name         string `toml:"name"`
	TCPPort      int    `toml:"tcp_port"`
	HTTPPort     int    `toml:"http_port"`
	MetricsPort  int    `toml:"metrics_port"`
	DatabasePath string `toml:"database_path"`
	FilesDir     string `toml:"files_dir"`
}

type LimitsSection struct {
	Workers          int `toml:"workers"`
	DBPoolSize       int `toml:"db_pool_size"`
	MaxUploadBytes   int `toml:"max_upload_bytes"`
	MaxMessageLength int `toml:"max_message_length"`
}

type ChannelsSection struct {
	SeedChannels []SeedChannel `toml:"seed_channels"`
}

type SeedChannel struct {
	Name        string `toml:"name"`
	Description string `toml:"description"`
}

// ServerConfig is the resolved runtime configuration.
type ServerConfig struct {
	ServerName       string
	TCPPort          int
	HTTPPort         int // WebSocket bridge port (0 = disabled)
	MetricsPort      int // Internal metrics/health port (0 = disabled)
	DatabasePath     string
	FilesDir         string
	Workers          int
	DBPoolSize       int
	MaxUploadBytes   int
	MaxMessageLength int
	SeedChannels     []SeedChannel
}

// DefaultTOMLConfig returns the default configuration.
func DefaultTOMLConfig() TOMLConfig {
	return TOMLConfig{
		Server: ServerSection{
			Name:         "chatd",
			TCPPort:      7667,
			HTTPPort:     8080,
			MetricsPort:  9090,
			DatabasePath: "~/.chatd/chatd.db",
			FilesDir:     "~/.chatd/files",
		},
		Limits: LimitsSection{
			Workers:          8,
			DBPoolSize:       4,
			MaxUploadBytes:   512,
			MaxMessageLength: 512,
		},
		Channels: ChannelsSection{
			SeedChannels: []SeedChannel{
				{Name: "#general", Description: "General discussion"},
				{Name: "#random", Description: "Off-topic chat"},
			},
		},
	}
}

// LoadConfig loads configuration from a TOML file, creating a default
// file if none exists, and applies environment variable overrides.
func LoadConfig(path string) (TOMLConfig, error) {
	path, err := expandHome(path)
	if err != nil {
		return TOMLConfig{}, err
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		config := DefaultTOMLConfig()
		// Best effort: a read-only filesystem still gets working defaults.
		_ = writeDefaultConfig(path, config)
		return applyEnvOverrides(config), nil
	}

	var config TOMLConfig
	if _, err := toml.DecodeFile(path, &config); err != nil {
		return TOMLConfig{}, fmt.Errorf("failed to parse config file: %w", err)
	}

	return applyEnvOverrides(config), nil
}

// applyEnvOverrides applies environment variable overrides following the
// pattern CHATD_SECTION_KEY, e.g. CHATD_SERVER_TCP_PORT=7000.
func applyEnvOverrides(config TOMLConfig) TOMLConfig {
	if val := os.Getenv("CHATD_SERVER_NAME"); val != "" {
		config.Server.Name = val
	}
	if val := os.Getenv("CHATD_SERVER_TCP_PORT"); val != "" {
		if port, err := strconv.Atoi(val); err == nil {
			config.Server.TCPPort = port
		}
	}
	if val := os.Getenv("CHATD_SERVER_HTTP_PORT"); val != "" {
		if port, err := strconv.Atoi(val); err == nil {
			config.Server.HTTPPort = port
		}
	}
	if val := os.Getenv("CHATD_SERVER_METRICS_PORT"); val != "" {
		if port, err := strconv.Atoi(val); err == nil {
			config.Server.MetricsPort = port
		}
	}
	if val := os.Getenv("CHATD_SERVER_DATABASE_PATH"); val != "" {
		config.Server.DatabasePath = val
	}
	if val := os.Getenv("CHATD_SERVER_FILES_DIR"); val != "" {
		config.Server.FilesDir = val
	}
	if val := os.Getenv("CHATD_LIMITS_WORKERS"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			config.Limits.Workers = n
		}
	}
	if val := os.Getenv("CHATD_LIMITS_DB_POOL_SIZE"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			config.Limits.DBPoolSize = n
		}
	}

	return config
}

// writeDefaultConfig writes a documented default config file.
func writeDefaultConfig(path string, config TOMLConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	content := `# chatd server configuration
# This file was auto-generated with default values.
# Restart the server for changes to take effect.
#
# Environment variables can override these settings:
# CHATD_SECTION_KEY (e.g. CHATD_SERVER_TCP_PORT=7000)

[server]
# Name sent to clients on successful login
name = "chatd"

# Port for TCP client connections
tcp_port = 7667

# Port for the WebSocket bridge (0 = disabled)
http_port = 8080

# Port for internal /metrics and /health (never expose publicly, 0 = disabled)
metrics_port = 9090

# Path to the SQLite database file
database_path = "~/.chatd/chatd.db"

# Directory for uploaded file blobs
files_dir = "~/.chatd/files"

[limits]
# Worker threads handling client requests
workers = 8

# Pre-opened database connections
db_pool_size = 4

# Maximum upload size in bytes
max_upload_bytes = 512

# Maximum chat message length in bytes
max_message_length = 512

[channels]
# Channels created on first startup if missing
seed_channels = [
  { name = "#general", description = "General discussion" },
  { name = "#random", description = "Off-topic chat" },
]
`

	if _, err := f.WriteString(content); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// ToServerConfig converts TOMLConfig to the resolved runtime config,
// filling gaps with defaults.
func (c *TOMLConfig) ToServerConfig() ServerConfig {
	def := DefaultTOMLConfig()

	cfg := ServerConfig{
		ServerName:       c.Server.Name,
		TCPPort:          c.Server.TCPPort,
		HTTPPort:         c.Server.HTTPPort,
		MetricsPort:      c.Server.MetricsPort,
		DatabasePath:     c.Server.DatabasePath,
		FilesDir:         c.Server.FilesDir,
		Workers:          c.Limits.Workers,
		DBPoolSize:       c.Limits.DBPoolSize,
		MaxUploadBytes:   c.Limits.MaxUploadBytes,
		MaxMessageLength: c.Limits.MaxMessageLength,
		SeedChannels:     c.Channels.SeedChannels,
	}

	if cfg.ServerName == "" {
		cfg.ServerName = def.Server.Name
	}
	if cfg.TCPPort == 0 {
		cfg.TCPPort = def.Server.TCPPort
	}
	if cfg.DatabasePath == "" {
		cfg.DatabasePath = def.Server.DatabasePath
	}
	if cfg.FilesDir == "" {
		cfg.FilesDir = def.Server.FilesDir
	}
	if cfg.Workers <= 0 {
		cfg.Workers = def.Limits.Workers
	}
	if cfg.DBPoolSize <= 0 {
		cfg.DBPoolSize = def.Limits.DBPoolSize
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = def.Limits.MaxUploadBytes
	}
	if cfg.MaxMessageLength <= 0 {
		cfg.MaxMessageLength = def.Limits.MaxMessageLength
	}

	return cfg
}

// GetDatabasePath returns the database path with ~ expanded.
func (c *TOMLConfig) GetDatabasePath() (string, error) {
	return expandHome(c.Server.DatabasePath)
}

// GetFilesDir returns the files directory with ~ expanded.
func (c *TOMLConfig) GetFilesDir() (string, error) {
	return expandHome(c.Server.FilesDir)
}

func expandHome(path string) (string, error) {
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		return filepath.Join(homeDir, path[2:]), nil
	}
	return path, nil
}
