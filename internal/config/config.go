// Package config loads YAML configuration with defaults for the game
// server and the AI service. A missing config file is not an error;
// defaults apply and the environment can still override the database
// DSN.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// DatabaseConfig holds PostgreSQL connection parameters. URL, when
// set, wins over the individual fields.
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`
	URL      string `yaml:"url"`
}

// DSN returns the PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	if d.URL != "" {
		return d.URL
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

// GameServer holds all configuration for the game server.
type GameServer struct {
	// Network
	BindAddress string `yaml:"bind_address"`
	Port        int    `yaml:"port"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`

	// OriginSuffix restricts websocket origins; see gameserver.NewServer.
	OriginSuffix string `yaml:"origin_suffix"`

	// MachineIDPath is the machine-local secret the server identity is
	// derived from.
	MachineIDPath string `yaml:"machine_id_path"`

	// AIServerURL is where the AI service's /start endpoint lives.
	AIServerURL string `yaml:"ai_server_url"`

	// RunMigrations applies pending schema migrations at startup.
	RunMigrations bool `yaml:"run_migrations"`

	Database DatabaseConfig `yaml:"database"`
}

// DefaultGameServer returns GameServer config with sensible defaults.
func DefaultGameServer() GameServer {
	return GameServer{
		BindAddress:   "0.0.0.0",
		Port:          8888,
		LogLevel:      "info",
		OriginSuffix:  "",
		MachineIDPath: "/etc/machine-id",
		AIServerURL:   "http://localhost:1918",
		RunMigrations: true,
		Database: DatabaseConfig{
			Host:     "127.0.0.1",
			Port:     5432,
			User:     "igo",
			Password: "igo",
			DBName:   "igo",
			SSLMode:  "disable",
		},
	}
}

// LoadGameServer loads game server config from a YAML file. If the
// file doesn't exist, returns defaults. DATABASE_URL in the
// environment overrides the configured database either way.
func LoadGameServer(path string) (GameServer, error) {
	cfg := DefaultGameServer()
	if err := overlay(path, &cfg); err != nil {
		return cfg, err
	}
	if url := os.Getenv("DATABASE_URL"); url != "" {
		cfg.Database.URL = url
	}
	return cfg, nil
}

// AIServer holds all configuration for the AI service.
type AIServer struct {
	// Network
	BindAddress string `yaml:"bind_address"`
	Port        int    `yaml:"port"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`

	// GameServerURL is the websocket endpoint AI players connect to.
	GameServerURL string `yaml:"game_server_url"`
}

// DefaultAIServer returns AIServer config with sensible defaults.
func DefaultAIServer() AIServer {
	return AIServer{
		BindAddress:   "0.0.0.0",
		Port:          1918,
		LogLevel:      "info",
		GameServerURL: "ws://localhost:8888/websocket",
	}
}

// LoadAIServer loads AI service config from a YAML file. If the file
// doesn't exist, returns defaults.
func LoadAIServer(path string) (AIServer, error) {
	cfg := DefaultAIServer()
	return cfg, overlay(path, &cfg)
}

func overlay(path string, cfg any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing config %s: %w", path, err)
	}
	return nil
}
