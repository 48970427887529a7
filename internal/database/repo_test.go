package database

import (
	"context"
	"os"
	"testing"

	"pnldash/internal/models"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupDB(t *testing.T) *sqlx.DB {
	url := os.Getenv("POSTGRES_URL")
	if url == "" {
		t.Skip("POSTGRES_URL is not set; skipping integration tests")
	}
	db, err := sqlx.Open("postgres", url)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	files := []string{"../../migrations/0001_init.up.sql"}
	for _, f := range files {
		b, err := os.ReadFile(f)
		if err != nil {
			t.Fatalf("read migration %s: %v", f, err)
		}
		if _, err := db.Exec(string(b)); err != nil {
			t.Logf("exec migration %s: %v", f, err)
		}
	}
	return db
}

func cleanupUser(t *testing.T, db *sqlx.DB, userID string) {
	t.Helper()
	_, _ = db.Exec(`DELETE FROM pnl_reports WHERE user_id = $1`, userID)
	_, _ = db.Exec(`DELETE FROM user_api_keys WHERE user_id = $1`, userID)
	_, _ = db.Exec(`DELETE FROM users WHERE id = $1`, userID)
}

func sampleReport(balance string) models.PnLReport {
	return models.PnLReport{
		RangeType:           models.Range7D,
		EstimatedBalanceUSD: decimal.RequireFromString(balance),
		TodayPnLPercent:     decimal.RequireFromString("1.5"),
		Series: models.DailySeries{
			Dates:           []string{"2024-03-01", "2024-03-02"},
			DailyPnLPercent: []decimal.Decimal{decimal.NewFromInt(1), decimal.NewFromInt(2)},
		},
		AssetAllocation: []models.AssetAllocation{
			{Asset: "BTC", ValueUSD: decimal.RequireFromString(balance), Percentage: decimal.NewFromInt(100)},
		},
	}
}

func TestUpsertReport_ReplacesWholesale(t *testing.T) {
	db := setupDB(t)
	r := New(db, logrus.New())
	ctx := context.Background()
	userID := "test-upsert-user"
	cleanupUser(t, db, userID)
	require.NoError(t, r.EnsureUserExists(ctx, models.User{ID: userID, Username: "upsert"}))

	require.NoError(t, r.UpsertReport(ctx, userID, models.Range7D, sampleReport("100")))

	second := models.PnLReport{RangeType: models.Range7D, EstimatedBalanceUSD: decimal.NewFromInt(250)}
	require.NoError(t, r.UpsertReport(ctx, userID, models.Range7D, second))

	got, err := r.QueryReports(ctx, ReportFilter{UserID: userID})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, models.Range7D, got[0].RangeType)
	assert.True(t, got[0].Report.EstimatedBalanceUSD.Equal(decimal.NewFromInt(250)))
	// nothing from the first run survives
	assert.Empty(t, got[0].Report.Series.Dates)
	assert.Empty(t, got[0].Report.AssetAllocation)
	assert.True(t, got[0].Report.TodayPnLPercent.IsZero())
}

func TestQueryReports_Filters(t *testing.T) {
	db := setupDB(t)
	r := New(db, logrus.New())
	ctx := context.Background()
	users := []string{"test-filter-a", "test-filter-b"}
	for _, id := range users {
		cleanupUser(t, db, id)
		require.NoError(t, r.EnsureUserExists(ctx, models.User{ID: id}))
		require.NoError(t, r.UpsertReport(ctx, id, models.Range7D, sampleReport("10")))
		require.NoError(t, r.UpsertReport(ctx, id, models.Range30D, sampleReport("20")))
	}
	custom := sampleReport("5")
	custom.RangeType = models.RangeCustom
	custom.CustomStart, custom.CustomEnd = "2024-01-01", "2024-01-31"
	require.NoError(t, r.UpsertReport(ctx, users[0], models.RangeCustom, custom))

	got, err := r.QueryReports(ctx, ReportFilter{UserID: users[0]})
	require.NoError(t, err)
	assert.Len(t, got, 3)

	reports, err := r.Reports(ctx, ReportFilter{UserID: users[1], RangeType: models.Range30D})
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.True(t, reports[0].EstimatedBalanceUSD.Equal(decimal.NewFromInt(20)))

	got, err = r.QueryReports(ctx, ReportFilter{UserID: users[0], RangeType: models.RangeCustom})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "2024-01-01", got[0].Report.CustomStart)

	none, err := r.QueryReports(ctx, ReportFilter{UserID: "test-filter-nobody"})
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)
}

func TestUserBalances(t *testing.T) {
	db := setupDB(t)
	r := New(db, logrus.New())
	ctx := context.Background()
	userID := "test-balance-user"
	cleanupUser(t, db, userID)
	require.NoError(t, r.EnsureUserExists(ctx, models.User{ID: userID, Username: "bal", FirstName: "Ada", LastName: "Lovelace"}))
	require.NoError(t, r.UpsertReport(ctx, userID, models.Range30D, sampleReport("1234.5")))

	balances, err := r.UserBalances(ctx)
	require.NoError(t, err)
	var found *models.UserBalance
	for i := range balances {
		if balances[i].ID == userID {
			found = &balances[i]
		}
	}
	require.NotNil(t, found)
	assert.Equal(t, "Ada Lovelace", found.FullName)
	assert.True(t, found.EstimatedBalance.Equal(decimal.RequireFromString("1234.5")))
}

func TestSaveAPIKey_CreatedOnlyOnce(t *testing.T) {
	db := setupDB(t)
	r := New(db, logrus.New())
	ctx := context.Background()
	userID := "test-apikey-user"
	cleanupUser(t, db, userID)
	require.NoError(t, r.EnsureUserExists(ctx, models.User{ID: userID}))

	_, err := r.GetAPIKey(ctx, userID)
	require.ErrorIs(t, err, ErrNotFound)

	created, err := r.SaveAPIKey(ctx, userID, "key-1", "secret-1")
	require.NoError(t, err)
	assert.True(t, created)

	created, err = r.SaveAPIKey(ctx, userID, "key-2", "secret-2")
	require.NoError(t, err)
	assert.False(t, created)

	k, err := r.GetAPIKey(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, "key-2", k.APIKey)
	assert.Equal(t, "secret-2", k.SecretKey)

	ids, err := r.UsersWithAPIKeys(ctx)
	require.NoError(t, err)
	assert.Contains(t, ids, userID)
}
