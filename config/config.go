package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/refitt/refitt-sub002/credential"
	"github.com/refitt/refitt-sub002/crypt"
	"github.com/refitt/refitt-sub002/logger"
)

const (
	// EnvConfigPath names the YAML file read by Load.
	EnvConfigPath = "REFITT_CONFIG"

	defaultListen   = ":5000"
	defaultTokenTTL = 15 * time.Minute
	noExpiration    = "none"

	DriverMySQL  = "mysql"
	DriverSQLite = "sqlite"

	defaultDBDriver          = DriverMySQL
	defaultDBHost            = "127.0.0.1"
	defaultDBPort            = 3306
	defaultDBUser            = "refitt"
	defaultDBPassword        = ""
	defaultDBName            = "refitt"
	defaultDBPath            = "refitt.db"
	defaultDBMaxOpenConns    = 10
	defaultDBMaxIdleConns    = 5
	defaultDBConnMaxLifetime = time.Minute * 15
	defaultDBPingTimeout     = 5 * time.Second
)

// ErrMissingRootKey is returned when no root key is configured. The API
// cannot issue or verify tokens without one.
var ErrMissingRootKey = errors.New("missing 'api.rootkey'")

type Config struct {
	API      APIConfig
	Database DBConfig
	LogLevel logger.Level
}

type APIConfig struct {
	RootKey credential.Digits
	Cipher  crypt.Suite
	// TokenTTL is ignored when NoExpiration is set.
	TokenTTL     time.Duration
	NoExpiration bool
	Listen       string
}

type DBConfig struct {
	Driver          string
	Host            string
	Port            int
	User            string
	Password        string
	Name            string
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	PingTimeout     time.Duration
}

// fileConfig mirrors the YAML layout. Every value may be overridden by
// the matching REFITT_* environment variable.
type fileConfig struct {
	API struct {
		RootKey  string `yaml:"rootkey"`
		Cipher   string `yaml:"cipher"`
		TokenTTL string `yaml:"token_ttl"`
		Listen   string `yaml:"listen"`
	} `yaml:"api"`
	Database struct {
		Driver          string        `yaml:"driver"`
		Host            string        `yaml:"host"`
		Port            int           `yaml:"port"`
		User            string        `yaml:"user"`
		Password        string        `yaml:"password"`
		Name            string        `yaml:"name"`
		Path            string        `yaml:"path"`
		MaxOpenConns    int           `yaml:"max_open_conns"`
		MaxIdleConns    *int          `yaml:"max_idle_conns"`
		ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
		PingTimeout     time.Duration `yaml:"ping_timeout"`
	} `yaml:"database"`
	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`
}

// Load reads the file named by REFITT_CONFIG, if set, and applies
// environment overrides.
func Load() (*Config, error) {
	return LoadFile(os.Getenv(EnvConfigPath))
}

// LoadFile reads path (skipped when empty) and applies environment
// overrides.
func LoadFile(path string) (*Config, error) {
	var file fileConfig
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, logger.LogErr(fmt.Errorf("read config %s: %w", path, err))
		}
		if err := yaml.Unmarshal(data, &file); err != nil {
			return nil, logger.LogErr(fmt.Errorf("parse config %s: %w", path, err))
		}
	}

	apiCfg, err := loadAPIConfig(&file)
	if err != nil {
		return nil, logger.LogErr(err)
	}

	dbCfg, err := loadDBConfig(&file)
	if err != nil {
		return nil, logger.LogErr(err)
	}

	level, err := logger.ParseLevel(getEnvOrDefault("REFITT_LOG_LEVEL", file.Log.Level))
	if err != nil {
		return nil, logger.LogErr(fmt.Errorf("invalid REFITT_LOG_LEVEL: %w", err))
	}

	return &Config{
		API:      *apiCfg,
		Database: *dbCfg,
		LogLevel: level,
	}, nil
}

func loadAPIConfig(file *fileConfig) (*APIConfig, error) {
	rootKeyValue := strings.TrimSpace(getEnvOrDefault("REFITT_API_ROOTKEY", file.API.RootKey))
	if rootKeyValue == "" {
		return nil, logger.LogErr(ErrMissingRootKey)
	}
	rootKey, err := credential.RootKey.Parse(rootKeyValue)
	if err != nil {
		return nil, logger.LogErr(fmt.Errorf("invalid api.rootkey: %w", err))
	}

	suite, err := crypt.ParseSuite(getEnvOrDefault("REFITT_API_CIPHER", file.API.Cipher))
	if err != nil {
		return nil, logger.LogErr(fmt.Errorf("invalid REFITT_API_CIPHER: %w", err))
	}

	// Fail now rather than on the first request.
	if _, err := crypt.New(suite, rootKey); err != nil {
		return nil, logger.LogErr(fmt.Errorf("invalid api.rootkey: %w", err))
	}

	cfg := &APIConfig{
		RootKey:  rootKey,
		Cipher:   suite,
		TokenTTL: defaultTokenTTL,
		Listen:   orDefault(getEnvOrDefault("REFITT_API_LISTEN", file.API.Listen), defaultListen),
	}

	ttl := strings.TrimSpace(getEnvOrDefault("REFITT_API_TOKEN_TTL", file.API.TokenTTL))
	switch strings.ToLower(ttl) {
	case "":
	case noExpiration:
		cfg.NoExpiration = true
	default:
		d, err := time.ParseDuration(ttl)
		if err != nil {
			return nil, logger.LogErr(fmt.Errorf("invalid REFITT_API_TOKEN_TTL: %w", err))
		}
		cfg.TokenTTL = d
	}

	return cfg, nil
}

func loadDBConfig(file *fileConfig) (*DBConfig, error) {
	fdb := file.Database

	driver := strings.ToLower(orDefault(getEnvOrDefault("REFITT_DATABASE_DRIVER", fdb.Driver), defaultDBDriver))
	if driver != DriverMySQL && driver != DriverSQLite {
		return nil, logger.LogErr(fmt.Errorf("REFITT_DATABASE_DRIVER must be %q or %q, got %q", DriverMySQL, DriverSQLite, driver))
	}

	port, err := getEnvAsInt("REFITT_DATABASE_PORT", orDefaultInt(fdb.Port, defaultDBPort))
	if err != nil {
		return nil, logger.LogErr(fmt.Errorf("invalid REFITT_DATABASE_PORT: %w", err))
	}

	maxOpenConns, err := getEnvAsInt("REFITT_DATABASE_MAX_OPEN_CONNS", orDefaultInt(fdb.MaxOpenConns, defaultDBMaxOpenConns))
	if err != nil {
		return nil, logger.LogErr(fmt.Errorf("invalid REFITT_DATABASE_MAX_OPEN_CONNS: %w", err))
	}

	idleDefault := defaultDBMaxIdleConns
	if fdb.MaxIdleConns != nil {
		idleDefault = *fdb.MaxIdleConns
	}
	maxIdleConns, err := getEnvAsInt("REFITT_DATABASE_MAX_IDLE_CONNS", idleDefault)
	if err != nil {
		return nil, logger.LogErr(fmt.Errorf("invalid REFITT_DATABASE_MAX_IDLE_CONNS: %w", err))
	}

	connMaxLifetime, err := getEnvAsDuration("REFITT_DATABASE_CONN_MAX_LIFETIME", orDefaultDuration(fdb.ConnMaxLifetime, defaultDBConnMaxLifetime))
	if err != nil {
		return nil, logger.LogErr(fmt.Errorf("invalid REFITT_DATABASE_CONN_MAX_LIFETIME: %w", err))
	}

	pingTimeout, err := getEnvAsDuration("REFITT_DATABASE_PING_TIMEOUT", orDefaultDuration(fdb.PingTimeout, defaultDBPingTimeout))
	if err != nil {
		return nil, logger.LogErr(fmt.Errorf("invalid REFITT_DATABASE_PING_TIMEOUT: %w", err))
	}

	if port <= 0 || port > 65535 {
		return nil, logger.LogErr(fmt.Errorf("REFITT_DATABASE_PORT must be between 1 and 65535"))
	}

	if maxOpenConns <= 0 {
		return nil, logger.LogErr(fmt.Errorf("REFITT_DATABASE_MAX_OPEN_CONNS must be greater than zero"))
	}

	if maxIdleConns < 0 {
		return nil, logger.LogErr(fmt.Errorf("REFITT_DATABASE_MAX_IDLE_CONNS must be zero or a positive integer"))
	}

	if connMaxLifetime < 0 {
		return nil, logger.LogErr(fmt.Errorf("REFITT_DATABASE_CONN_MAX_LIFETIME must be zero or a positive duration"))
	}

	if pingTimeout <= 0 {
		return nil, logger.LogErr(fmt.Errorf("REFITT_DATABASE_PING_TIMEOUT must be greater than zero"))
	}

	return &DBConfig{
		Driver:          driver,
		Host:            orDefault(getEnvOrDefault("REFITT_DATABASE_HOST", fdb.Host), defaultDBHost),
		Port:            port,
		User:            orDefault(getEnvOrDefault("REFITT_DATABASE_USER", fdb.User), defaultDBUser),
		Password:        orDefault(getEnvOrDefault("REFITT_DATABASE_PASSWORD", fdb.Password), defaultDBPassword),
		Name:            orDefault(getEnvOrDefault("REFITT_DATABASE_NAME", fdb.Name), defaultDBName),
		Path:            orDefault(getEnvOrDefault("REFITT_DATABASE_PATH", fdb.Path), defaultDBPath),
		MaxOpenConns:    maxOpenConns,
		MaxIdleConns:    maxIdleConns,
		ConnMaxLifetime: connMaxLifetime,
		PingTimeout:     pingTimeout,
	}, nil
}

func orDefault(value, defaultValue string) string {
	if value == "" {
		return defaultValue
	}
	return value
}

func orDefaultInt(value, defaultValue int) int {
	if value == 0 {
		return defaultValue
	}
	return value
}

func orDefaultDuration(value, defaultValue time.Duration) time.Duration {
	if value == 0 {
		return defaultValue
	}
	return value
}

func getEnvOrDefault(key string, defaultValue string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) (int, error) {
	valueStr, ok := os.LookupEnv(key)
	if !ok || valueStr == "" {
		return defaultValue, nil
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return 0, logger.LogErr(err)
	}

	return value, nil
}

func getEnvAsDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	valueStr, ok := os.LookupEnv(key)
	if !ok || valueStr == "" {
		return defaultValue, nil
	}

	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return 0, logger.LogErr(err)
	}

	return value, nil
}
