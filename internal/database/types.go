package database

import (
	"database/sql"
	"time"

	"pnldash/internal/models"
)

// ReportFilter narrows QueryReports; zero fields match everything.
type ReportFilter struct {
	RangeType models.RangeType
	UserID    string
}

type reportRow struct {
	UserID      string       `db:"user_id"`
	RangeType   string       `db:"range_type"`
	Data        []byte       `db:"data"`
	CustomStart sql.NullTime `db:"custom_start"`
	CustomEnd   sql.NullTime `db:"custom_end"`
	ComputedAt  time.Time    `db:"computed_at"`
}

type balanceRow struct {
	ID        string         `db:"id"`
	Username  string         `db:"username"`
	FirstName string         `db:"first_name"`
	LastName  string         `db:"last_name"`
	Balance   sql.NullString `db:"estimated_balance"`
}
