package db

import (
	"context"
	"database/sql"
	"fmt"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS books (
		book_id    BIGINT UNSIGNED NOT NULL AUTO_INCREMENT PRIMARY KEY,
		title      VARCHAR(100) NOT NULL,
		author     VARCHAR(100) NOT NULL,
		cover      ENUM('HARD','SOFT') NOT NULL DEFAULT 'SOFT',
		inventory  INT UNSIGNED NOT NULL,
		daily_fee  DECIMAL(5,2) NOT NULL
	) ENGINE=InnoDB`,
	`CREATE TABLE IF NOT EXISTS users (
		user_id   BIGINT UNSIGNED NOT NULL PRIMARY KEY,
		email     VARCHAR(255) NOT NULL UNIQUE,
		is_staff  TINYINT(1) NOT NULL DEFAULT 0
	) ENGINE=InnoDB`,
	`CREATE TABLE IF NOT EXISTS borrowings (
		borrowing_id         BIGINT UNSIGNED NOT NULL AUTO_INCREMENT PRIMARY KEY,
		borrowing_ulid       CHAR(26) NOT NULL UNIQUE,
		borrow_date          DATE NOT NULL,
		expected_return_date DATE NOT NULL,
		actual_return_date   DATE NULL,
		book_id              BIGINT UNSIGNED NOT NULL,
		user_id              BIGINT UNSIGNED NOT NULL,
		INDEX idx_borrowings_user_active (user_id, actual_return_date),
		INDEX idx_borrowings_due (actual_return_date, expected_return_date),
		CONSTRAINT fk_borrowings_book FOREIGN KEY (book_id) REFERENCES books (book_id) ON DELETE CASCADE,
		CONSTRAINT fk_borrowings_user FOREIGN KEY (user_id) REFERENCES users (user_id) ON DELETE CASCADE
	) ENGINE=InnoDB`,
	`CREATE TABLE IF NOT EXISTS payments (
		payment_id    BIGINT UNSIGNED NOT NULL AUTO_INCREMENT PRIMARY KEY,
		borrowing_id  BIGINT UNSIGNED NOT NULL UNIQUE,
		status        ENUM('PENDING','PAID') NOT NULL DEFAULT 'PENDING',
		type          ENUM('PAYMENT','FINE') NOT NULL DEFAULT 'PAYMENT',
		money_to_pay  DECIMAL(10,2) NOT NULL,
		session_id    VARCHAR(512) NULL,
		session_url   VARCHAR(512) NULL,
		CONSTRAINT fk_payments_borrowing FOREIGN KEY (borrowing_id) REFERENCES borrowings (borrowing_id) ON DELETE CASCADE,
		CONSTRAINT chk_payments_money CHECK (money_to_pay >= 0)
	) ENGINE=InnoDB`,
}

// Migrate creates the tables when they do not exist yet.
func Migrate(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
	}
	return nil
}
