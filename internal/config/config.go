package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		APIURL string `yaml:"api_url"`
		WSURL  string `yaml:"ws_url"`
	} `yaml:"server"`
	Connection struct {
		ReconnectAttempts int    `yaml:"reconnect_attempts"`
		ReconnectDelay    string `yaml:"reconnect_delay"`
		HandshakeTimeout  string `yaml:"handshake_timeout"`
		WriteTimeout      string `yaml:"write_timeout"`
		PingWait          string `yaml:"ping_wait"`
		MaxMessageSize    int64  `yaml:"max_message_size"`
	} `yaml:"connection"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		TTL      string `yaml:"ttl"`
	} `yaml:"redis"`
	Postgres struct {
		URL string `yaml:"url"`
	} `yaml:"postgres"`
	Log struct {
		Level  string `yaml:"level"`
		Pretty bool   `yaml:"pretty"`
	} `yaml:"log"`
}

// Load reads YAML config from path, then applies QUIZ_* environment
// overrides. A .env file in the working directory is loaded first if present.
// A missing config file is not an error; the environment alone may suffice.
func Load(path string) (Config, error) {
	cfg := Config{}
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return cfg, fmt.Errorf("load .env: %w", err)
	}
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return cfg, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("parse config: %w", err)
			}
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}
	str("QUIZ_API_URL", &c.Server.APIURL)
	str("QUIZ_WS_URL", &c.Server.WSURL)
	str("QUIZ_RECONNECT_DELAY", &c.Connection.ReconnectDelay)
	str("QUIZ_REDIS_ADDR", &c.Redis.Addr)
	str("QUIZ_REDIS_PASSWORD", &c.Redis.Password)
	str("QUIZ_REDIS_TTL", &c.Redis.TTL)
	str("QUIZ_POSTGRES_URL", &c.Postgres.URL)
	str("QUIZ_LOG_LEVEL", &c.Log.Level)

	if v, ok := lookup("QUIZ_RECONNECT_ATTEMPTS"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("QUIZ_RECONNECT_ATTEMPTS: %w", err)
		}
		c.Connection.ReconnectAttempts = n
	}
	if v, ok := lookup("QUIZ_REDIS_DB"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("QUIZ_REDIS_DB: %w", err)
		}
		c.Redis.DB = n
	}
	if v, ok := lookup("QUIZ_LOG_PRETTY"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("QUIZ_LOG_PRETTY: %w", err)
		}
		c.Log.Pretty = b
	}
	return nil
}

// DurationOr parses a duration string or returns the fallback if empty or invalid.
func DurationOr(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return fallback
}
