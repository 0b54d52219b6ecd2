package database

import (
	"context"
	"database/sql"
	"fmt"
)

// schema lists the tables owned by the check-in service.  The bookings
// table belongs to the booking system and is only read.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS redemptions (
		booking_id  VARCHAR(64)  NOT NULL,
		event_id    VARCHAR(64)  NOT NULL,
		device_id   VARCHAR(64)  NOT NULL,
		redeemed_at DATETIME(6)  NOT NULL,
		latitude    DOUBLE       NULL,
		longitude   DOUBLE       NULL,
		accuracy    DOUBLE       NULL,
		replayed    TINYINT(1)   NOT NULL DEFAULT 0,
		created_at  TIMESTAMP    NOT NULL DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (booking_id),
		KEY idx_redemptions_event (event_id)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS review_items (
		id           CHAR(36)     NOT NULL,
		booking_id   VARCHAR(64)  NOT NULL,
		event_id     VARCHAR(64)  NOT NULL,
		device_id    VARCHAR(64)  NOT NULL,
		attempted_at DATETIME(6)  NOT NULL,
		reason       VARCHAR(32)  NOT NULL,
		detail       TEXT         NOT NULL,
		source       VARCHAR(16)  NOT NULL,
		prior        JSON         NULL,
		PRIMARY KEY (id),
		KEY idx_review_event (event_id, attempted_at)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS checkin_history (
		id            CHAR(36)      NOT NULL,
		booking_id    VARCHAR(64)   NOT NULL,
		user_id       VARCHAR(64)   NOT NULL,
		user_name     VARCHAR(255)  NOT NULL,
		user_email    VARCHAR(255)  NOT NULL,
		event_id      VARCHAR(64)   NOT NULL,
		event_title   VARCHAR(255)  NOT NULL,
		tickets       INT           NOT NULL,
		amount        DECIMAL(12,2) NOT NULL,
		device_id     VARCHAR(64)   NOT NULL,
		checked_in_at DATETIME(6)   NOT NULL,
		latitude      DOUBLE        NULL,
		longitude     DOUBLE        NULL,
		accuracy      DOUBLE        NULL,
		outcome       VARCHAR(16)   NOT NULL,
		reason        VARCHAR(32)   NOT NULL,
		warnings      JSON          NULL,
		note          TEXT          NOT NULL,
		PRIMARY KEY (id),
		KEY idx_history_event_time (event_id, checked_in_at),
		KEY idx_history_booking (booking_id)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
}

// Migrate creates the service tables when they do not exist yet.
func Migrate(ctx context.Context, db *sql.DB) error {
	for i, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate step %d: %w", i+1, err)
		}
	}
	return nil
}
