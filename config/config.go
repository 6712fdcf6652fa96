package config

import (
	"os"
	"strconv"

	"github.com/go-ini/ini"
)

// ServerConfig holds the listener and protocol settings.
type ServerConfig struct {
	ListenPort    int
	ReadTimeout   int // seconds; a read deadline hit means "keep waiting"
	WriteTimeout  int // seconds
	ControlSocket string
}

// DatabaseConfig holds the sqlite store settings.
type DatabaseConfig struct {
	Path string
}

// LimitsConfig bounds per-connection resources.
type LimitsConfig struct {
	SendQueue   int // outbound frames buffered per connection
	FileSlotTTL int // seconds a pending file transfer stays armed
}

// Config is the full server configuration.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Limits   LimitsConfig
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			ListenPort:    4855,
			ReadTimeout:   120,
			WriteTimeout:  30,
			ControlSocket: "/tmp/lanchat.sock",
		},
		Database: DatabaseConfig{Path: "lanchat.db"},
		Limits: LimitsConfig{
			SendQueue:   64,
			FileSlotTTL: 60,
		},
	}
}

// Load reads the ini file at path, falling back to defaults when the file is
// absent, then applies environment overrides.
func Load(path string) (*Config, error) {
	config := defaults()

	if _, err := os.Stat(path); err == nil {
		file, err := ini.Load(path)
		if err != nil {
			return nil, err
		}
		if err := file.Section("server").MapTo(&config.Server); err != nil {
			return nil, err
		}
		if err := file.Section("database").MapTo(&config.Database); err != nil {
			return nil, err
		}
		if err := file.Section("limits").MapTo(&config.Limits); err != nil {
			return nil, err
		}
	}

	applyEnv(config)
	return config, nil
}

func applyEnv(config *Config) {
	if v := os.Getenv("LANCHAT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			config.Server.ListenPort = port
		}
	}
	if v := os.Getenv("LANCHAT_DB_PATH"); v != "" {
		config.Database.Path = v
	}
	if v := os.Getenv("LANCHAT_READ_TIMEOUT"); v != "" {
		if timeout, err := strconv.Atoi(v); err == nil {
			config.Server.ReadTimeout = timeout
		}
	}
	if v := os.Getenv("LANCHAT_WRITE_TIMEOUT"); v != "" {
		if timeout, err := strconv.Atoi(v); err == nil {
			config.Server.WriteTimeout = timeout
		}
	}
	if v := os.Getenv("LANCHAT_CONTROL_SOCKET"); v != "" {
		config.Server.ControlSocket = v
	}
}
