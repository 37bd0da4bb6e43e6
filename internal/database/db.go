package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

// Open connects to MySQL and verifies the connection.
func Open(user, pass, host, port, name string) (*sql.DB, error) {
	auth := user
	if pass != "" {
		auth = fmt.Sprintf("%s:%s", user, pass)
	}
	// parseTime=true -> DATE/DATETIME -> time.Time | loc=UTC keeps times consistent
	dsn := fmt.Sprintf("%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=true&loc=UTC",
		auth, host, port, name)

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, err
	}

	// Pool settings
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(30 * time.Minute)

	// Ping with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// schema creates the tables the engine owns.  Statements are idempotent.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS members (
		id                       VARCHAR(64)  NOT NULL PRIMARY KEY,
		name                     VARCHAR(255) NOT NULL,
		handle                   VARCHAR(255) NOT NULL,
		follower_count           BIGINT       NOT NULL DEFAULT 0,
		size_tier                INT          NOT NULL DEFAULT 1,
		families                 JSON         NOT NULL,
		reach_factor             DOUBLE       NULL,
		status                   ENUM('active','paused','suspended') NOT NULL DEFAULT 'active',
		monthly_submission_limit INT          NOT NULL DEFAULT 0,
		created_at               DATETIME     NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at               DATETIME     NOT NULL DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
		KEY idx_members_status (status)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS schedule_bookings (
		id                    CHAR(36)    NOT NULL PRIMARY KEY,
		submission_id         VARCHAR(64) NOT NULL,
		scheduled_date        DATE        NOT NULL,
		assigned_channel_ids  JSON        NOT NULL,
		total_estimated_reach BIGINT      NOT NULL,
		target_reach          BIGINT      NULL,
		target_met            BOOLEAN     NOT NULL,
		reservation_token     CHAR(36)    NOT NULL,
		status                ENUM('committed','cancelled') NOT NULL DEFAULT 'committed',
		created_at            DATETIME    NOT NULL,
		cancelled_at          DATETIME    NULL,
		UNIQUE KEY uk_bookings_submission (submission_id),
		KEY idx_bookings_date (scheduled_date)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
}

// Migrate applies the schema.
func Migrate(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
