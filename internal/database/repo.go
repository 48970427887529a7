package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"pnldash/internal/models"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

var ErrNotFound = errors.New("not found")

type Repo struct {
	db  *sqlx.DB
	log *logrus.Logger
}

func New(db *sqlx.DB, log *logrus.Logger) *Repo {
	return &Repo{db: db, log: log}
}

// UpsertReport replaces the stored report for (userID, rangeType) wholesale.
func (r *Repo) UpsertReport(ctx context.Context, userID string, rangeType models.RangeType, report models.PnLReport) error {
	data, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	var start, end interface{}
	if report.CustomStart != "" {
		start = report.CustomStart
	}
	if report.CustomEnd != "" {
		end = report.CustomEnd
	}
	q := `INSERT INTO pnl_reports (user_id, range_type, data, custom_start, custom_end, computed_at)
		VALUES ($1, $2, $3::jsonb, $4::date, $5::date, now())
		ON CONFLICT (user_id, range_type) DO UPDATE
		SET data = EXCLUDED.data, custom_start = EXCLUDED.custom_start, custom_end = EXCLUDED.custom_end, computed_at = now()`
	_, err = r.db.ExecContext(ctx, q, userID, string(rangeType), string(data), start, end)
	return err
}

func (r *Repo) QueryReports(ctx context.Context, f ReportFilter) ([]models.StoredReport, error) {
	var where []string
	var args []interface{}
	if f.RangeType != "" {
		args = append(args, string(f.RangeType))
		where = append(where, fmt.Sprintf("range_type = $%d", len(args)))
	}
	if f.UserID != "" {
		args = append(args, f.UserID)
		where = append(where, fmt.Sprintf("user_id = $%d", len(args)))
	}
	q := `SELECT user_id, range_type, data, custom_start, custom_end, computed_at FROM pnl_reports`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY user_id ASC"

	rows, err := r.db.QueryxContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []models.StoredReport{}
	for rows.Next() {
		var row reportRow
		if err := rows.StructScan(&row); err != nil {
			r.log.Warnf("scan report failed: %v", err)
			continue
		}
		var report models.PnLReport
		if err := json.Unmarshal(row.Data, &report); err != nil {
			r.log.Warnf("decode report for user %s/%s failed: %v", row.UserID, row.RangeType, err)
			continue
		}
		res = append(res, models.StoredReport{
			UserID:     row.UserID,
			RangeType:  models.RangeType(row.RangeType),
			Report:     report,
			ComputedAt: row.ComputedAt,
		})
	}
	return res, rows.Err()
}

// Reports is QueryReports without the row metadata.
func (r *Repo) Reports(ctx context.Context, f ReportFilter) ([]models.PnLReport, error) {
	stored, err := r.QueryReports(ctx, f)
	if err != nil {
		return nil, err
	}
	out := make([]models.PnLReport, 0, len(stored))
	for _, s := range stored {
		out = append(out, s.Report)
	}
	return out, nil
}

// UserBalances lists every user's estimated balance from their 30d report.
func (r *Repo) UserBalances(ctx context.Context) ([]models.UserBalance, error) {
	rows, err := r.db.QueryxContext(ctx, `
		SELECT u.id, u.username, u.first_name, u.last_name, p.data->>'estimated_balance' AS estimated_balance
		FROM pnl_reports p
		JOIN users u ON u.id = p.user_id
		WHERE p.range_type = '30d'
		ORDER BY u.id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []models.UserBalance{}
	for rows.Next() {
		var b balanceRow
		if err := rows.StructScan(&b); err != nil {
			r.log.Warnf("scan balance failed: %v", err)
			continue
		}
		balance := decimal.Zero
		if b.Balance.Valid {
			if v, err := decimal.NewFromString(b.Balance.String); err == nil {
				balance = v
			}
		}
		res = append(res, models.UserBalance{
			ID:               b.ID,
			Username:         b.Username,
			FullName:         strings.TrimSpace(b.FirstName + " " + b.LastName),
			EstimatedBalance: balance,
		})
	}
	return res, rows.Err()
}

func (r *Repo) EnsureUserExists(ctx context.Context, u models.User) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO users (id, username, first_name, last_name) VALUES ($1, $2, $3, $4) ON CONFLICT (id) DO NOTHING`,
		u.ID, u.Username, u.FirstName, u.LastName)
	return err
}

// SaveAPIKey stores or replaces a user's exchange credentials. created is true
// only for the first registration.
func (r *Repo) SaveAPIKey(ctx context.Context, userID, apiKey, secretKey string) (bool, error) {
	var created bool
	q := `INSERT INTO user_api_keys (user_id, api_key, secret_key, created_at) VALUES ($1, $2, $3, now())
		ON CONFLICT (user_id) DO UPDATE SET api_key = EXCLUDED.api_key, secret_key = EXCLUDED.secret_key
		RETURNING (xmax = 0)`
	if err := r.db.QueryRowContext(ctx, q, userID, apiKey, secretKey).Scan(&created); err != nil {
		return false, err
	}
	return created, nil
}

func (r *Repo) GetAPIKey(ctx context.Context, userID string) (models.APIKey, error) {
	var k models.APIKey
	err := r.db.GetContext(ctx, &k, `SELECT user_id, api_key, secret_key, created_at FROM user_api_keys WHERE user_id = $1`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return k, ErrNotFound
	}
	return k, err
}

// UsersWithAPIKeys returns the ids the periodic refresh covers.
func (r *Repo) UsersWithAPIKeys(ctx context.Context) ([]string, error) {
	ids := []string{}
	if err := r.db.SelectContext(ctx, &ids, `SELECT user_id FROM user_api_keys ORDER BY user_id ASC`); err != nil {
		return nil, err
	}
	return ids, nil
}
