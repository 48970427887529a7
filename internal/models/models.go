package models

import (
	"time"

	"github.com/shopspring/decimal"
)

const DateLayout = "2006-01-02"

type RangeType string

const (
	Range7D     RangeType = "7d"
	Range30D    RangeType = "30d"
	RangeCustom RangeType = "custom"
)

// Days is the lookback length of a fixed range; custom ranges report 0.
func (r RangeType) Days() int {
	switch r {
	case Range7D:
		return 7
	case Range30D:
		return 30
	}
	return 0
}

// RangeSpec is a resolved, validated date window. Start and End are UTC midnights.
type RangeSpec struct {
	Type  RangeType
	Start time.Time
	End   time.Time
}

// Length counts calendar days from Start to End. It works on Unix days so
// spans longer than a time.Duration can hold stay exact.
func (s RangeSpec) Length() int {
	return int(unixDay(s.End) - unixDay(s.Start))
}

func unixDay(t time.Time) int64 {
	t = t.UTC()
	sec := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC).Unix()
	return sec / 86400
}

// Dates returns the inclusive ascending date axis of the window.
func (s RangeSpec) Dates() []time.Time {
	n := s.Length()
	if n < 0 {
		return nil
	}
	out := make([]time.Time, 0, n+1)
	for i := 0; i <= n; i++ {
		out = append(out, s.Start.AddDate(0, 0, i))
	}
	return out
}

type AssetBalance struct {
	Asset    string          `json:"asset"`
	Quantity decimal.Decimal `json:"balance"`
	ValueUSD decimal.Decimal `json:"value"`
}

type BalanceSnapshot struct {
	Assets     []AssetBalance `json:"assets"`
	CapturedAt time.Time      `json:"captured_at"`
}

func (b BalanceSnapshot) TotalUSD() decimal.Decimal {
	total := decimal.Zero
	for _, a := range b.Assets {
		total = total.Add(a.ValueUSD)
	}
	return total
}

type PricePoint struct {
	Symbol string              `json:"symbol"`
	Date   time.Time           `json:"date"`
	Open   decimal.NullDecimal `json:"open"`
	Close  decimal.NullDecimal `json:"close"`
}

// Usable reports whether both prices are present and the open is positive.
func (p PricePoint) Usable() bool {
	return p.Open.Valid && p.Close.Valid && p.Open.Decimal.IsPositive()
}

type DailySeries struct {
	Dates                []string          `json:"dates"`
	DailyPnLPercent      []decimal.Decimal `json:"daily_pnl"`
	CumulativePnLPercent []decimal.Decimal `json:"cumulative_pnl"`
	NetWorthUSD          []decimal.Decimal `json:"net_worth"`
	DailyProfitUSD       []decimal.Decimal `json:"daily_profits"`
	CumulativeProfitUSD  []decimal.Decimal `json:"cumulative_profits"`
}

type AssetAllocation struct {
	Asset      string          `json:"asset"`
	ValueUSD   decimal.Decimal `json:"value_usd"`
	Percentage decimal.Decimal `json:"percentage"`
}

// PnLReport is stored as a single JSON document per (user, range type). Fields
// missing from older documents decode to zero.
type PnLReport struct {
	RangeType           RangeType         `json:"range_type,omitempty"`
	EstimatedBalanceUSD decimal.Decimal   `json:"estimated_balance"`
	EstimatedBalanceBTC decimal.Decimal   `json:"estimated_balance_in_btc"`
	TotalProfitUSD      decimal.Decimal   `json:"profits"`
	TodayPnLPercent     decimal.Decimal   `json:"today_pnl"`
	PnL7DPercent        decimal.Decimal   `json:"pnl_7_days"`
	PnL30DPercent       decimal.Decimal   `json:"pnl_30_days"`
	TodayProfitUSD      decimal.Decimal   `json:"today_profit"`
	Profit7DUSD         decimal.Decimal   `json:"profit_7_days"`
	Profit30DUSD        decimal.Decimal   `json:"profit_30_days"`
	Series              DailySeries       `json:"series"`
	AssetAllocation     []AssetAllocation `json:"asset_allocation"`
	CustomStart         string            `json:"custom_start,omitempty"`
	CustomEnd           string            `json:"custom_end,omitempty"`
}

// IsEmpty reports a report produced by a failed calculation.
func (r PnLReport) IsEmpty() bool {
	return r.RangeType == "" && len(r.Series.Dates) == 0
}

type WindowPnL struct {
	USD        decimal.Decimal `json:"usdt"`
	Percentage decimal.Decimal `json:"percentage"`
}

type AggregatedReport struct {
	Reports             int               `json:"reports"`
	EstimatedBalanceUSD decimal.Decimal   `json:"estimated_balance"`
	EstimatedBalanceBTC decimal.Decimal   `json:"estimated_balance_in_btc"`
	TotalProfitUSD      decimal.Decimal   `json:"profits"`
	TodayPnL            WindowPnL         `json:"today_pnl"`
	PnL7D               WindowPnL         `json:"pnl_7_days"`
	PnL30D              WindowPnL         `json:"pnl_30_days"`
	Series              DailySeries       `json:"series"`
	AssetAllocation     []AssetAllocation `json:"asset_allocation"`
}

type StoredReport struct {
	UserID     string    `db:"user_id" json:"user_id"`
	RangeType  RangeType `db:"range_type" json:"range_type"`
	Report     PnLReport `db:"-" json:"data"`
	ComputedAt time.Time `db:"computed_at" json:"computed_at"`
}

type User struct {
	ID        string    `db:"id" json:"id"`
	Username  string    `db:"username" json:"username"`
	FirstName string    `db:"first_name" json:"first_name"`
	LastName  string    `db:"last_name" json:"last_name"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

type APIKey struct {
	UserID    string    `db:"user_id" json:"user_id"`
	APIKey    string    `db:"api_key" json:"api_key"`
	SecretKey string    `db:"secret_key" json:"-"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

type UserBalance struct {
	ID               string          `json:"id"`
	Username         string          `json:"username"`
	FullName         string          `json:"full_name"`
	EstimatedBalance decimal.Decimal `json:"estimated_balance"`
	Percentage       decimal.Decimal `json:"percentage"`
}

type JobStatus string

const (
	JobQueued  JobStatus = "queued"
	JobRunning JobStatus = "running"
	JobDone    JobStatus = "done"
	JobSkipped JobStatus = "skipped"
	JobFailed  JobStatus = "failed"
)

// JobPayload is the command sent to the job queue for one report computation.
type JobPayload struct {
	ID         string    `json:"job_id"`
	UserID     string    `json:"user_id"`
	RangeType  RangeType `json:"range_type"`
	Start      string    `json:"start,omitempty"`
	End        string    `json:"end,omitempty"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}
