package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type HTTP struct {
	Addr string `yaml:"addr"`
}

type Logging struct {
	Env       string `yaml:"env"`       // dev|prod
	Service   string `yaml:"service"`   // collab-service
	Version   string `yaml:"version"`   // v0.1.0
	Backend   string `yaml:"backend"`   // std|zap
	AddSource bool   `yaml:"addSource"` // false|true
	Debug     bool   `yaml:"debug"`     // false|true
}

type Postgres struct {
	DSN string `yaml:"dsn"`
}

// Presence выбирает бекенд реестра присутствия.
// memory — один процесс; redis — общий стор для горизонтального масштабирования.
type Presence struct {
	Backend string `yaml:"backend"` // memory|redis
	Redis   Redis  `yaml:"redis"`
}

type Redis struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// TURN — встроенный relay для пиров за NAT. Выключен по умолчанию.
type TURN struct {
	Enabled  bool       `yaml:"enabled"`
	Addr     string     `yaml:"addr"`      // UDP listen, e.g. 0.0.0.0:3478
	PublicIP string     `yaml:"public_ip"` // relay address advertised to peers
	Realm    string     `yaml:"realm"`
	Users    []TURNUser `yaml:"users"`
}

type TURNUser struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// WebRTC — список ICE-серверов, который отдаётся клиентам.
type WebRTC struct {
	STUNURLs []string `yaml:"stun_urls"`
	TURNURLs []string `yaml:"turn_urls"`
}

type Config struct {
	HTTP     HTTP     `yaml:"http"`
	Logging  Logging  `yaml:"logging"`
	Postgres Postgres `yaml:"postgres"`
	Presence Presence `yaml:"presence"`
	TURN     TURN     `yaml:"turn"`
	WebRTC   WebRTC   `yaml:"webrtc"`
}

func LoadConfig() (*Config, error) {
	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "./config/config.yaml"
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.HTTP.Addr == "" {
		return errors.New("http.addr is required")
	}
	if c.Postgres.DSN == "" {
		return errors.New("postgres.dsn is required")
	}
	// установка дефолтов, если значения не указаны
	if c.Logging.Service == "" {
		c.Logging.Service = "collab-service"
	}
	if c.Logging.Env == "" {
		c.Logging.Env = "dev"
	}
	if c.Logging.Version == "" {
		c.Logging.Version = "v0.1.0"
	}
	if c.Logging.Backend == "" {
		c.Logging.Backend = "std"
	}
	switch c.Presence.Backend {
	case "":
		c.Presence.Backend = "memory"
	case "memory":
	case "redis":
		if c.Presence.Redis.Addr == "" {
			return errors.New("presence.redis.addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("presence.backend: unknown backend %q", c.Presence.Backend)
	}
	if c.TURN.Enabled {
		if c.TURN.Addr == "" {
			c.TURN.Addr = "0.0.0.0:3478"
		}
		if c.TURN.Realm == "" {
			c.TURN.Realm = "collab"
		}
		if c.TURN.PublicIP == "" {
			return errors.New("turn.public_ip is required when turn is enabled")
		}
		if len(c.TURN.Users) == 0 {
			return errors.New("turn.users must not be empty when turn is enabled")
		}
	}
	return nil
}
