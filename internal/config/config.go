// Package config holds the application configuration, loaded from an
// optional YAML file and overridden by environment variables declared with
// `env` struct tags.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete application configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server" json:"server"`
	Database   DatabaseConfig   `yaml:"database" json:"database"`
	Plugins    PluginConfig     `yaml:"plugins" json:"plugins"`
	DataSource DataSourceConfig `yaml:"datasource" json:"datasource"`
	Logging    LoggingConfig    `yaml:"logging" json:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string        `yaml:"host" json:"host" env:"FABRICA_HOST" default:"0.0.0.0"`
	Port         int           `yaml:"port" json:"port" env:"FABRICA_PORT" default:"8080"`
	ReadTimeout  time.Duration `yaml:"read_timeout" json:"read_timeout" env:"FABRICA_READ_TIMEOUT" default:"30s"`
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout" env:"FABRICA_WRITE_TIMEOUT" default:"30s"`
	EnableCORS   bool          `yaml:"enable_cors" json:"enable_cors" env:"FABRICA_ENABLE_CORS" default:"true"`
}

// DatabaseConfig holds persistence settings.
type DatabaseConfig struct {
	Type         string `yaml:"type" json:"type" env:"DATABASE_TYPE" default:"sqlite"`
	DataDir      string `yaml:"data_dir" json:"data_dir" env:"FABRICA_DATA_DIR" default:"./fabrica-data"`
	DatabasePath string `yaml:"database_path" json:"database_path" env:"FABRICA_DATABASE_PATH"`
	Host         string `yaml:"host" json:"host" env:"POSTGRES_HOST" default:"localhost"`
	Port         int    `yaml:"port" json:"port" env:"POSTGRES_PORT" default:"5432"`
	Username     string `yaml:"username" json:"username" env:"POSTGRES_USER" default:"fabrica"`
	Password     string `yaml:"password" json:"-" env:"POSTGRES_PASSWORD"`
	Database     string `yaml:"database" json:"database" env:"POSTGRES_DB" default:"fabrica"`
	LogQueries   bool   `yaml:"log_queries" json:"log_queries" env:"DB_LOG_QUERIES" default:"false"`
}

// PluginConfig holds plugin host settings.
type PluginConfig struct {
	Directory         string        `yaml:"directory" json:"directory" env:"PLUGIN_DIR" default:"./plugins"`
	HotReload         bool          `yaml:"hot_reload" json:"hot_reload" env:"FABRICA_PLUGIN_HOT_RELOAD" default:"false"`
	HotReloadInterval time.Duration `yaml:"hot_reload_interval" json:"hot_reload_interval" env:"FABRICA_PLUGIN_RESCAN_INTERVAL" default:"30s"`
	Validation        bool          `yaml:"validation" json:"validation" env:"FABRICA_PLUGIN_VALIDATION" default:"true"`
}

// DataSourceConfig holds data-source engine settings.
type DataSourceConfig struct {
	DefaultTTL   time.Duration `yaml:"default_ttl" json:"default_ttl" env:"FABRICA_DATASOURCE_TTL" default:"60s"`
	FetchTimeout time.Duration `yaml:"fetch_timeout" json:"fetch_timeout" env:"FABRICA_DATASOURCE_TIMEOUT" default:"10s"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level" env:"FABRICA_LOG_LEVEL" default:"info"`
	Format string `yaml:"format" json:"format" env:"FABRICA_LOG_FORMAT" default:"text"`
}

var (
	mu      sync.RWMutex
	current = Default()
)

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			EnableCORS:   true,
		},
		Database: DatabaseConfig{
			Type:     "sqlite",
			DataDir:  "./fabrica-data",
			Host:     "localhost",
			Port:     5432,
			Username: "fabrica",
			Database: "fabrica",
		},
		Plugins: PluginConfig{
			Directory:         "./plugins",
			HotReload:         false,
			HotReloadInterval: 30 * time.Second,
			Validation:        true,
		},
		DataSource: DataSourceConfig{
			DefaultTTL:   60 * time.Second,
			FetchTimeout: 10 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads configuration from path (optional) and the environment, then
// installs it as the process-wide config.
func Load(path string) error {
	cfg := Default()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := loadFromFile(path, cfg); err != nil {
				return fmt.Errorf("failed to load config from file: %w", err)
			}
		}
	}

	if err := loadStructFromEnv(reflect.ValueOf(cfg).Elem()); err != nil {
		return fmt.Errorf("failed to load config from environment: %w", err)
	}

	if err := validate(cfg); err != nil {
		return err
	}
	applyDerived(cfg)

	mu.Lock()
	current = cfg
	mu.Unlock()
	return nil
}

// Get returns a copy of the current configuration.
func Get() *Config {
	mu.RLock()
	defer mu.RUnlock()
	cp := *current
	return &cp
}

// Set installs cfg as the current configuration. Intended for tests.
func Set(cfg *Config) {
	mu.Lock()
	current = cfg
	mu.Unlock()
}

func loadFromFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		return yaml.Unmarshal(data, cfg)
	case ".json":
		return json.Unmarshal(data, cfg)
	default:
		return fmt.Errorf("unsupported config file format: %s", ext)
	}
}

func loadStructFromEnv(v reflect.Value) error {
	t := v.Type()
	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)
		if !field.CanSet() {
			continue
		}
		if field.Kind() == reflect.Struct && field.Type() != reflect.TypeOf(time.Duration(0)) {
			if err := loadStructFromEnv(field); err != nil {
				return err
			}
			continue
		}
		envTag := fieldType.Tag.Get("env")
		if envTag == "" {
			continue
		}
		envValue := os.Getenv(envTag)
		if envValue == "" {
			continue
		}
		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set field %s: %w", fieldType.Name, err)
		}
	}
	return nil
}

func setFieldValue(field reflect.Value, value string) error {
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
			return nil
		}
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetInt(n)
	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)
	default:
		return fmt.Errorf("unsupported field type: %v", field.Kind())
	}
	return nil
}

func validate(cfg *Config) error {
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", cfg.Server.Port)
	}
	if cfg.Database.Type != "sqlite" && cfg.Database.Type != "postgres" {
		return fmt.Errorf("unsupported database type: %s", cfg.Database.Type)
	}
	if cfg.DataSource.FetchTimeout <= 0 {
		return fmt.Errorf("invalid datasource fetch timeout: %v", cfg.DataSource.FetchTimeout)
	}
	if cfg.Plugins.Directory == "" {
		return fmt.Errorf("plugin directory must not be empty")
	}
	return nil
}

func applyDerived(cfg *Config) {
	if cfg.Database.DatabasePath == "" && cfg.Database.Type == "sqlite" {
		cfg.Database.DatabasePath = filepath.Join(cfg.Database.DataDir, "fabrica.db")
	}
}
