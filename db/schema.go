package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/refitt/refitt-sub002/config"
	"github.com/refitt/refitt-sub002/logger"
)

const defaultPingTimeout = 5 * time.Second

// Timestamps are stored as Unix seconds so both dialects compare them
// the same way.
var mysqlSchema = []string{
	`CREATE TABLE IF NOT EXISTS client (
		id          BIGINT     NOT NULL AUTO_INCREMENT PRIMARY KEY,
		user_id     BIGINT     NOT NULL UNIQUE,
		level       INT        NOT NULL DEFAULT 10,
		key_hash    CHAR(64)   NOT NULL UNIQUE,
		secret_hash CHAR(64)   NOT NULL,
		valid       BOOLEAN    NOT NULL DEFAULT TRUE,
		created     BIGINT     NOT NULL
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS session (
		id          BIGINT     NOT NULL AUTO_INCREMENT PRIMARY KEY,
		client_id   BIGINT     NOT NULL UNIQUE,
		expires     BIGINT     NULL,
		token_hash  CHAR(64)   NOT NULL,
		created     BIGINT     NOT NULL,
		CONSTRAINT fk_session_client FOREIGN KEY (client_id) REFERENCES client (id) ON DELETE CASCADE
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS client (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id     INTEGER NOT NULL UNIQUE,
		level       INTEGER NOT NULL DEFAULT 10,
		key_hash    TEXT    NOT NULL UNIQUE,
		secret_hash TEXT    NOT NULL,
		valid       BOOLEAN NOT NULL DEFAULT 1,
		created     INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS session (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		client_id   INTEGER NOT NULL UNIQUE REFERENCES client (id) ON DELETE CASCADE,
		expires     INTEGER NULL,
		token_hash  TEXT    NOT NULL,
		created     INTEGER NOT NULL
	)`,
}

// EnsureSchema creates the client and session tables if they are missing.
func EnsureSchema(ctx context.Context, db *sql.DB, driver string) error {
	var statements []string
	switch driver {
	case config.DriverMySQL:
		statements = mysqlSchema
	case config.DriverSQLite:
		statements = sqliteSchema
	default:
		return logger.LogErr(fmt.Errorf("unsupported database driver %q", driver))
	}

	for _, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return logger.LogErr(fmt.Errorf("create schema: %w", err))
		}
	}
	return nil
}
