package database

import (
	"context"
	"database/sql"
	"fmt"
)

// schema creates the principal tables read by the auth service and the
// tables it owns.  Statements are idempotent.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS platform_admins (
		id            BIGINT UNSIGNED AUTO_INCREMENT PRIMARY KEY,
		username      VARCHAR(64)  NOT NULL UNIQUE,
		email         VARCHAR(255) NOT NULL UNIQUE,
		password_hash VARCHAR(100) NOT NULL,
		is_active     TINYINT(1)   NOT NULL DEFAULT 1,
		created_at    DATETIME     NOT NULL DEFAULT CURRENT_TIMESTAMP
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS shops (
		id            BIGINT UNSIGNED AUTO_INCREMENT PRIMARY KEY,
		username      VARCHAR(64)  NOT NULL UNIQUE,
		email         VARCHAR(255) NOT NULL UNIQUE,
		password_hash VARCHAR(100) NOT NULL,
		is_active     TINYINT(1)   NOT NULL DEFAULT 1,
		created_at    DATETIME     NOT NULL DEFAULT CURRENT_TIMESTAMP
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS technicians (
		id            BIGINT UNSIGNED AUTO_INCREMENT PRIMARY KEY,
		shop_id       BIGINT UNSIGNED NOT NULL,
		username      VARCHAR(64)  NOT NULL UNIQUE,
		email         VARCHAR(255) NOT NULL UNIQUE,
		password_hash VARCHAR(100) NOT NULL,
		role          ENUM('MANAGER','TECHNICIAN') NOT NULL DEFAULT 'TECHNICIAN',
		is_active     TINYINT(1)   NOT NULL DEFAULT 1,
		created_at    DATETIME     NOT NULL DEFAULT CURRENT_TIMESTAMP,
		KEY idx_technicians_shop (shop_id),
		CONSTRAINT fk_technicians_shop FOREIGN KEY (shop_id) REFERENCES shops(id) ON DELETE CASCADE
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS customers (
		id            BIGINT UNSIGNED AUTO_INCREMENT PRIMARY KEY,
		shop_id       BIGINT UNSIGNED NULL,
		username      VARCHAR(64)  NULL UNIQUE,
		email         VARCHAR(255) NOT NULL UNIQUE,
		password_hash VARCHAR(100) NOT NULL,
		is_active     TINYINT(1)   NOT NULL DEFAULT 1,
		created_at    DATETIME     NOT NULL DEFAULT CURRENT_TIMESTAMP,
		KEY idx_customers_shop (shop_id)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS refresh_tokens (
		id          CHAR(36)     NOT NULL PRIMARY KEY,
		secret_hash VARCHAR(100) NOT NULL,
		owner_kind  VARCHAR(16)  NOT NULL,
		owner_id    VARCHAR(64)  NOT NULL,
		meta        JSON         NOT NULL,
		expires_at  DATETIME     NOT NULL,
		created_at  DATETIME     NOT NULL,
		KEY idx_refresh_owner (owner_kind, owner_id),
		KEY idx_refresh_expires (expires_at)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS refresh_token_consumed (
		id          CHAR(36)    NOT NULL PRIMARY KEY,
		owner_kind  VARCHAR(16) NOT NULL,
		owner_id    VARCHAR(64) NOT NULL,
		expires_at  DATETIME    NOT NULL,
		consumed_at DATETIME    NOT NULL,
		KEY idx_consumed_expires (expires_at)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
}

// Migrate applies the schema.
func Migrate(ctx context.Context, db *sql.DB) error {
	for i, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("schema statement %d: %w", i, err)
		}
	}
	return nil
}
