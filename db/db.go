package db

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"

	"github.com/go-sql-driver/mysql"
	_ "modernc.org/sqlite"

	"github.com/refitt/refitt-sub002/config"
	"github.com/refitt/refitt-sub002/logger"
)

const sqliteMemory = ":memory:"

// New opens a pool for cfg.Driver and verifies it with a ping.
func New(ctx context.Context, cfg config.DBConfig) (*sql.DB, error) {
	driverName, dsn, err := dataSource(cfg)
	if err != nil {
		return nil, logger.LogErr(err)
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, logger.LogErr(fmt.Errorf("open %s connection: %w", cfg.Driver, err))
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}

	if cfg.MaxIdleConns >= 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}

	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	// Each connection to an in-memory database sees its own empty database.
	if cfg.Driver == config.DriverSQLite && cfg.Path == sqliteMemory {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		db.SetConnMaxLifetime(0)
	}

	pingTimeout := cfg.PingTimeout
	if pingTimeout <= 0 {
		pingTimeout = defaultPingTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, logger.LogErr(fmt.Errorf("ping %s: %w", cfg.Driver, err))
	}

	return db, nil
}

func dataSource(cfg config.DBConfig) (string, string, error) {
	switch cfg.Driver {
	case config.DriverMySQL:
		return "mysql", buildMySQLDSN(cfg), nil
	case config.DriverSQLite:
		return "sqlite", buildSQLiteDSN(cfg), nil
	default:
		return "", "", fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

func buildMySQLDSN(cfg config.DBConfig) string {
	mysqlCfg := mysql.NewConfig()
	mysqlCfg.User = cfg.User
	mysqlCfg.Passwd = cfg.Password
	mysqlCfg.Net = "tcp"
	mysqlCfg.Addr = fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	mysqlCfg.DBName = cfg.Name
	mysqlCfg.ParseTime = true
	mysqlCfg.AllowNativePasswords = true
	mysqlCfg.Params = map[string]string{
		"charset": "utf8mb4",
	}

	return mysqlCfg.FormatDSN()
}

func buildSQLiteDSN(cfg config.DBConfig) string {
	query := url.Values{}
	query.Add("_pragma", "foreign_keys(1)")
	query.Add("_pragma", "busy_timeout(5000)")
	if cfg.Path == sqliteMemory {
		return sqliteMemory + "?" + query.Encode()
	}
	query.Add("_pragma", "journal_mode(WAL)")
	return cfg.Path + "?" + query.Encode()
}
