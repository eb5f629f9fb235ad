// Package config loads settings for the server and the board client from
// environment variables and an optional taskboard.yaml file.
package config

import (
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/viper"
)

const (
	BackendAzure  = "azure"
	BackendSQLite = "sqlite"
)

// Config carries everything the commands need. Keys match the environment
// variable names, lower-cased in taskboard.yaml.
type Config struct {
	Debug bool
	Port  string

	StorageBackend          string
	StorageConnectionString string
	TasksTable              string
	UsersTable              string
	EventsQueue             string
	SQLitePath              string

	RedisConnectionString string
	CacheTTL              time.Duration
	DeduperTTL            time.Duration

	Auth0Domain   string
	Auth0Audience string
	SharedSecret  string
	TokenTTL      time.Duration

	ServerURL string
	Token     string

	// File is the config file that was read, if any.
	File string
}

// DefaultDir is where taskboard.yaml and the local database live.
func DefaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".taskboard")
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigName("taskboard")
	v.SetConfigType("yaml")
	v.AutomaticEnv()

	v.SetDefault("debug", false)
	v.SetDefault("functions_customhandler_port", "8080")
	v.SetDefault("storage_backend", "")
	v.SetDefault("storage_connection_string", "")
	v.SetDefault("tasks_table", "tasks")
	v.SetDefault("users_table", "users")
	v.SetDefault("events_queue", "task-events")
	v.SetDefault("sqlite_path", filepath.Join(DefaultDir(), "taskboard.db"))
	v.SetDefault("redis_connection_string", "")
	v.SetDefault("cache_ttl", "5m")
	v.SetDefault("deduper_ttl", "24h")
	v.SetDefault("auth0_domain", "")
	v.SetDefault("auth0_audience", "")
	v.SetDefault("local_auth_shared_secret", "")
	v.SetDefault("token_ttl", "24h")
	v.SetDefault("taskboard_url", "http://localhost:8080")
	v.SetDefault("taskboard_token", "")
	return v
}

// Load reads file when given, otherwise looks for taskboard.yaml in the
// working directory and DefaultDir. A missing file is not an error.
// Environment variables win over file values.
func Load(file string) (*Config, error) {
	v := newViper()
	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath(DefaultDir())
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	cfg := &Config{
		Debug:                   v.GetBool("debug"),
		Port:                    v.GetString("functions_customhandler_port"),
		StorageBackend:          strings.ToLower(v.GetString("storage_backend")),
		StorageConnectionString: v.GetString("storage_connection_string"),
		TasksTable:              v.GetString("tasks_table"),
		UsersTable:              v.GetString("users_table"),
		EventsQueue:             v.GetString("events_queue"),
		SQLitePath:              v.GetString("sqlite_path"),
		RedisConnectionString:   v.GetString("redis_connection_string"),
		Auth0Domain:             v.GetString("auth0_domain"),
		Auth0Audience:           v.GetString("auth0_audience"),
		SharedSecret:            v.GetString("local_auth_shared_secret"),
		ServerURL:               v.GetString("taskboard_url"),
		Token:                   v.GetString("taskboard_token"),
		File:                    v.ConfigFileUsed(),
	}
	var err error
	if cfg.CacheTTL, err = duration(v, "cache_ttl"); err != nil {
		return nil, err
	}
	if cfg.DeduperTTL, err = duration(v, "deduper_ttl"); err != nil {
		return nil, err
	}
	if cfg.TokenTTL, err = duration(v, "token_ttl"); err != nil {
		return nil, err
	}
	if cfg.StorageBackend == "" {
		cfg.StorageBackend = BackendSQLite
		if cfg.StorageConnectionString != "" {
			cfg.StorageBackend = BackendAzure
		}
	}
	return cfg, nil
}

func duration(v *viper.Viper, key string) (time.Duration, error) {
	raw := strings.TrimSpace(v.GetString(key))
	d, err := time.ParseDuration(raw)
	if err != nil || d < 0 {
		return 0, fmt.Errorf("invalid %s: %q", strings.ToUpper(key), raw)
	}
	return d, nil
}

// ValidateServer checks the settings `serve` depends on.
func (c *Config) ValidateServer() error {
	switch c.StorageBackend {
	case BackendAzure:
		if c.StorageConnectionString == "" || c.TasksTable == "" || c.UsersTable == "" {
			return errors.New("missing storage config")
		}
	case BackendSQLite:
		if c.SQLitePath == "" {
			return errors.New("missing SQLITE_PATH")
		}
	default:
		return fmt.Errorf("unknown STORAGE_BACKEND %q", c.StorageBackend)
	}
	if c.SharedSecret == "" && (c.Auth0Domain == "" || c.Auth0Audience == "") {
		return errors.New("missing auth config: set LOCAL_AUTH_SHARED_SECRET or AUTH0_DOMAIN and AUTH0_AUDIENCE")
	}
	return nil
}

// SaveToken stores the session token in the config file at path, keeping
// any other keys already there.
func SaveToken(path, serverURL, token string) error {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("reading config: %w", err)
	}
	v.Set("taskboard_url", serverURL)
	v.Set("taskboard_token", token)
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	return v.WriteConfigAs(path)
}

// RedisOptions accepts a redis:// URL or the Azure form
// "host:port,password=...,ssl=true".
func RedisOptions(conn string) (*redis.Options, error) {
	if conn == "" {
		return nil, errors.New("empty redis connection string")
	}
	if opts, err := redis.ParseURL(conn); err == nil {
		return opts, nil
	}
	parts := strings.Split(conn, ",")
	opts := &redis.Options{Addr: strings.TrimSpace(parts[0])}
	for _, p := range parts[1:] {
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(kv[0])) {
		case "password":
			opts.Password = kv[1]
		case "ssl":
			if strings.EqualFold(strings.TrimSpace(kv[1]), "true") {
				opts.TLSConfig = &tls.Config{}
			}
		}
	}
	return opts, nil
}
