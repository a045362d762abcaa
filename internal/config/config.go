package config

import (
	"fmt"
	"net"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config holds settings for all three services. One file configures the
// platform; each service reads its own section.
type Config struct {
	DB              DB              `yaml:"db"`
	DeveloperServer DeveloperServer `yaml:"developerServer"`
	LobbyServer     LobbyServer     `yaml:"lobbyServer"`
}

// DB configures the record-store service: where it listens, which backend
// holds the records, and how the other services reach it.
type DB struct {
	Host     string         `yaml:"host"`
	BindHost string         `yaml:"bind_host"`
	Port     int            `yaml:"port"`
	Driver   string         `yaml:"driver"` // "postgres" | "memory"
	Postgres PostgresConfig `yaml:"postgres"`
}

// Addr is the endpoint the developer and lobby services dial for store RPC.
func (d DB) Addr() string {
	return fmt.Sprintf("%s:%d", d.Host, d.Port)
}

// BindAddr is the listen address of the store service itself.
func (d DB) BindAddr() string {
	return fmt.Sprintf("%s:%d", d.BindHost, d.Port)
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`
}

// DSN returns the PostgreSQL connection string.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		p.User, p.Password, p.Host, p.Port, p.DBName, p.SSLMode,
	)
}

// DeveloperServer holds configuration for the developer/ingestion service.
type DeveloperServer struct {
	BindHost   string `yaml:"bindHost"`
	Port       int    `yaml:"port"`
	UploadRoot string `yaml:"uploadRoot"`
	TmpRoot    string `yaml:"tmpRoot"`
}

// BindAddr is the listen address of the developer service.
func (d DeveloperServer) BindAddr() string {
	return fmt.Sprintf("%s:%d", d.BindHost, d.Port)
}

// LobbyServer holds configuration for the lobby service.
type LobbyServer struct {
	BindHost string `yaml:"bindHost"`
	Port     int    `yaml:"port"`

	// InternalHost is the address spawned game servers use to reach the
	// lobby for post_result callbacks.
	InternalHost string `yaml:"internalHost"`

	// GameHostPublic is the host advertised to players in game_info.
	GameHostPublic string `yaml:"gameHostPublic"`

	RunRoot     string `yaml:"runRoot"`
	GamePortMin int    `yaml:"gamePortMin"`
	GamePortMax int    `yaml:"gamePortMax"`
}

// BindAddr is the listen address of the lobby service.
func (l LobbyServer) BindAddr() string {
	return fmt.Sprintf("%s:%d", l.BindHost, l.Port)
}

// Default returns the full platform configuration with sensible defaults.
func Default() Config {
	return Config{
		DB: DB{
			Host:     "127.0.0.1",
			BindHost: "0.0.0.0",
			Port:     10101,
			Driver:   "postgres",
			Postgres: PostgresConfig{
				Host:     "127.0.0.1",
				Port:     5432,
				User:     "gamestore",
				Password: "gamestore",
				DBName:   "gamestore",
				SSLMode:  "disable",
			},
		},
		DeveloperServer: DeveloperServer{
			BindHost:   "0.0.0.0",
			Port:       10102,
			UploadRoot: "data/uploaded_games",
			TmpRoot:    "data/tmp_uploads",
		},
		LobbyServer: LobbyServer{
			BindHost:       "0.0.0.0",
			Port:           10103,
			InternalHost:   "127.0.0.1",
			GameHostPublic: "127.0.0.1",
			RunRoot:        "data/run",
			GamePortMin:    10000,
			GamePortMax:    20000,
		},
	}
}

// Load reads config from a YAML file, applying defaults first and environment
// overrides last. A missing file is not an error: defaults apply.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return cfg, fmt.Errorf("reading config %s: %w", path, err)
		}
	} else if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config %s: %w", path, err)
	}

	applyEnv(&cfg)
	return cfg, nil
}

// applyEnv overlays the recognized environment overrides. The *_ADDR values
// are host:port; malformed addresses are ignored.
func applyEnv(cfg *Config) {
	if v := os.Getenv("GAMESTORE_DB_ADDR"); v != "" {
		applyAddr(&cfg.DB.Host, &cfg.DB.Port, v)
	}
	if v := os.Getenv("GAMESTORE_DB_HOST"); v != "" {
		cfg.DB.Host = v
	}
	if v := os.Getenv("GAMESTORE_DEV_ADDR"); v != "" {
		applyAddr(&cfg.DeveloperServer.BindHost, &cfg.DeveloperServer.Port, v)
	}
	if v := os.Getenv("GAMESTORE_LOBBY_ADDR"); v != "" {
		applyAddr(&cfg.LobbyServer.BindHost, &cfg.LobbyServer.Port, v)
	}
	if v := os.Getenv("GAMESTORE_UPLOAD_ROOT"); v != "" {
		cfg.DeveloperServer.UploadRoot = v
	}
	if v := os.Getenv("GAMESTORE_RUN_ROOT"); v != "" {
		cfg.LobbyServer.RunRoot = v
	}
	if v := os.Getenv("GAMESTORE_GAME_HOST_PUB"); v != "" {
		cfg.LobbyServer.GameHostPublic = v
	}
}

func applyAddr(host *string, port *int, addr string) {
	h, p, err := net.SplitHostPort(addr)
	if err != nil {
		return
	}
	n, err := strconv.Atoi(p)
	if err != nil || n <= 0 {
		return
	}
	*host = h
	*port = n
}
