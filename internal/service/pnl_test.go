package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"pnldash/internal/models"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func day(s string) time.Time {
	t, err := time.Parse(models.DateLayout, s)
	if err != nil {
		panic(err)
	}
	return t
}

func point(date string, open, close string) models.PricePoint {
	return models.PricePoint{
		Symbol: "BTCUSDT",
		Date:   day(date),
		Open:   decimal.NewNullDecimal(d(open)),
		Close:  decimal.NewNullDecimal(d(close)),
	}
}

func snapshot(values ...string) models.BalanceSnapshot {
	snap := models.BalanceSnapshot{}
	for i, v := range values {
		snap.Assets = append(snap.Assets, models.AssetBalance{
			Asset:    string(rune('A' + i)),
			Quantity: d("1"),
			ValueUSD: d(v),
		})
	}
	return snap
}

func assertSeriesAligned(t *testing.T, s models.DailySeries, n int) {
	t.Helper()
	assert.Len(t, s.Dates, n)
	assert.Len(t, s.DailyPnLPercent, n)
	assert.Len(t, s.CumulativePnLPercent, n)
	assert.Len(t, s.NetWorthUSD, n)
	assert.Len(t, s.DailyProfitUSD, n)
	assert.Len(t, s.CumulativeProfitUSD, n)
}

func TestCalculate_SingleDayExample(t *testing.T) {
	rng := models.RangeSpec{Type: models.RangeCustom, Start: day("2024-03-01"), End: day("2024-03-01")}
	prices := []models.PricePoint{point("2024-03-01", "100", "110")}

	r := Calculate(snapshot("10000"), prices, decimal.NewNullDecimal(d("50000")), rng)

	assertSeriesAligned(t, r.Series, 1)
	assert.True(t, r.Series.DailyPnLPercent[0].Equal(d("10")))
	assert.Equal(t, "10000", r.Series.NetWorthUSD[0].Round(2).String())
	assert.Equal(t, "909.09", r.Series.DailyProfitUSD[0].Round(2).String())
	assert.Equal(t, "909.09", r.TotalProfitUSD.Round(2).String())
	assert.True(t, r.TodayPnLPercent.Equal(d("10")))
	assert.True(t, r.EstimatedBalanceUSD.Equal(d("10000")))
	assert.True(t, r.EstimatedBalanceBTC.Equal(d("0.2")))
	assert.Equal(t, "2024-03-01", r.CustomStart)
	assert.Equal(t, "2024-03-01", r.CustomEnd)
}

func TestCalculate_SeriesLength(t *testing.T) {
	today := day("2024-03-31")
	for _, rt := range []models.RangeType{models.Range7D, models.Range30D} {
		rng, err := ResolveRange(string(rt), "", "", today)
		require.NoError(t, err)

		var prices []models.PricePoint
		for _, dt := range rng.Dates() {
			prices = append(prices, point(dt.Format(models.DateLayout), "100", "101"))
		}
		r := Calculate(snapshot("500"), prices, decimal.NullDecimal{}, rng)

		assertSeriesAligned(t, r.Series, rt.Days()+1)
		assert.Equal(t, rng.Start.Format(models.DateLayout), r.Series.Dates[0])
		assert.Equal(t, "2024-03-31", r.Series.Dates[len(r.Series.Dates)-1])
		assert.Empty(t, r.CustomStart)
	}
}

func TestCalculate_GapFill(t *testing.T) {
	rng := models.RangeSpec{Type: models.Range7D, Start: day("2024-03-01"), End: day("2024-03-08")}
	prices := []models.PricePoint{
		point("2024-03-01", "100", "110"),
		point("2024-03-02", "110", "121"),
		// 2024-03-03 missing entirely
		{Symbol: "BTCUSDT", Date: day("2024-03-04")}, // fetch miss
		point("2024-03-05", "121", "110"),
		point("2024-03-06", "110", "110"),
		point("2024-03-07", "110", "110"),
		point("2024-03-08", "110", "110"),
	}
	r := Calculate(snapshot("1100"), prices, decimal.NullDecimal{}, rng)
	s := r.Series
	assertSeriesAligned(t, s, 8)

	for _, i := range []int{2, 3} {
		assert.True(t, s.DailyPnLPercent[i].IsZero(), "daily pnl on gap %d", i)
		assert.True(t, s.DailyProfitUSD[i].IsZero())
		assert.True(t, s.CumulativePnLPercent[i].Equal(s.CumulativePnLPercent[1]))
		assert.True(t, s.NetWorthUSD[i].Equal(s.NetWorthUSD[1]))
		assert.True(t, s.CumulativeProfitUSD[i].Equal(s.CumulativeProfitUSD[1]))
	}
	assert.True(t, s.CumulativePnLPercent[1].Equal(d("21")))
	// proportion = 1100 / 110 = 10
	assert.True(t, s.NetWorthUSD[1].Equal(d("1210")))
	assert.True(t, s.CumulativeProfitUSD[1].Equal(d("210")))
	assert.True(t, s.DailyProfitUSD[4].Equal(d("-110")))
	assert.True(t, r.TotalProfitUSD.Equal(d("100")))
}

func TestCalculate_GapOnFirstDate(t *testing.T) {
	rng := models.RangeSpec{Type: models.Range7D, Start: day("2024-03-01"), End: day("2024-03-03")}
	prices := []models.PricePoint{
		{Symbol: "BTCUSDT", Date: day("2024-03-01")},
		point("2024-03-02", "200", "220"),
		point("2024-03-03", "220", "200"),
	}
	r := Calculate(snapshot("4000"), prices, decimal.NullDecimal{}, rng)
	s := r.Series

	assert.True(t, s.DailyPnLPercent[0].IsZero())
	assert.True(t, s.CumulativePnLPercent[0].IsZero())
	assert.True(t, s.NetWorthUSD[0].Equal(d("4000")))
	// initial price comes from the first usable date, not the range start
	assert.True(t, s.CumulativePnLPercent[1].Equal(d("10")))
	assert.True(t, s.CumulativePnLPercent[2].Equal(d("0")))
}

func TestCalculate_LastCloseMissingUsesUnitProportion(t *testing.T) {
	rng := models.RangeSpec{Type: models.Range7D, Start: day("2024-03-01"), End: day("2024-03-02")}
	prices := []models.PricePoint{
		point("2024-03-01", "100", "150"),
		{Symbol: "BTCUSDT", Date: day("2024-03-02")},
	}
	r := Calculate(snapshot("9999"), prices, decimal.NullDecimal{}, rng)

	assert.True(t, r.Series.NetWorthUSD[0].Equal(d("150")))
	assert.True(t, r.Series.DailyProfitUSD[0].Equal(d("50")))
	assert.True(t, r.TodayPnLPercent.IsZero())
	assert.True(t, r.TodayProfitUSD.IsZero())
}

func TestCalculate_WindowSums(t *testing.T) {
	rng, err := ResolveRange("30d", "", "", day("2024-03-31"))
	require.NoError(t, err)
	var prices []models.PricePoint
	for _, dt := range rng.Dates() {
		prices = append(prices, point(dt.Format(models.DateLayout), "100", "101"))
	}
	r := Calculate(snapshot("101"), prices, decimal.NullDecimal{}, rng)

	// trailing windows are inclusive of both ends: 8 and 31 dates
	assert.True(t, r.PnL7DPercent.Equal(d("8")))
	assert.True(t, r.PnL30DPercent.Equal(d("31")))
	assert.True(t, r.TodayPnLPercent.Equal(d("1")))
	assert.True(t, r.Profit7DUSD.Equal(d("8")))
	assert.True(t, r.Profit30DUSD.Equal(d("31")))
	assert.True(t, r.TotalProfitUSD.Equal(d("31")))
}

func TestCalculate_BTCQuote(t *testing.T) {
	rng := models.RangeSpec{Type: models.Range7D, Start: day("2024-03-01"), End: day("2024-03-01")}
	for _, q := range []decimal.NullDecimal{{}, decimal.NewNullDecimal(decimal.Zero), decimal.NewNullDecimal(d("-1"))} {
		r := Calculate(snapshot("100"), nil, q, rng)
		assert.True(t, r.EstimatedBalanceBTC.IsZero())
	}
}

func TestCalculate_AssetAllocationDust(t *testing.T) {
	rng := models.RangeSpec{Type: models.Range7D, Start: day("2024-03-01"), End: day("2024-03-01")}
	snap := models.BalanceSnapshot{Assets: []models.AssetBalance{
		{Asset: "DUST", ValueUSD: d("1.0")},
		{Asset: "SMALL", ValueUSD: d("1.01")},
		{Asset: "USDT", ValueUSD: d("97.99")},
	}}
	r := Calculate(snap, nil, decimal.NullDecimal{}, rng)

	require.Len(t, r.AssetAllocation, 2)
	assert.Equal(t, "SMALL", r.AssetAllocation[0].Asset)
	assert.True(t, r.AssetAllocation[0].Percentage.Equal(d("1.01")))
	assert.Equal(t, "USDT", r.AssetAllocation[1].Asset)
	assert.True(t, r.AssetAllocation[1].Percentage.Equal(d("97.99")))
}

func TestCalculate_ZeroBalance(t *testing.T) {
	rng := models.RangeSpec{Type: models.Range7D, Start: day("2024-03-01"), End: day("2024-03-02")}
	prices := []models.PricePoint{point("2024-03-01", "100", "110"), point("2024-03-02", "110", "100")}
	r := Calculate(models.BalanceSnapshot{}, prices, decimal.NullDecimal{}, rng)

	assert.True(t, r.Series.NetWorthUSD[0].IsZero())
	assert.True(t, r.TotalProfitUSD.IsZero())
	assert.Empty(t, r.AssetAllocation)
	assert.NotNil(t, r.AssetAllocation)
}

type fakeClient struct {
	balances    models.BalanceSnapshot
	balancesErr error
	prices      map[string]models.PricePoint
	spot        decimal.Decimal
	spotErr     error
	panicOn     string
	priceCalls  int
}

func (f *fakeClient) DailyOpenClose(ctx context.Context, symbol string, date time.Time) (models.PricePoint, error) {
	f.priceCalls++
	if f.panicOn == "prices" {
		panic("exchange exploded")
	}
	p, ok := f.prices[date.Format(models.DateLayout)]
	if !ok {
		return models.PricePoint{Symbol: symbol, Date: date}, errors.New("no data")
	}
	return p, nil
}

func (f *fakeClient) CurrentBalances(ctx context.Context) (models.BalanceSnapshot, error) {
	return f.balances, f.balancesErr
}

func (f *fakeClient) SpotPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	return f.spot, f.spotErr
}

func TestCompute_FetchesAndCalculates(t *testing.T) {
	svc := NewPnLService("BTCUSDT", logrus.New())
	client := &fakeClient{
		balances: snapshot("10000"),
		prices: map[string]models.PricePoint{
			"2024-03-01": point("2024-03-01", "100", "110"),
		},
		spot: d("40000"),
	}
	rng := models.RangeSpec{Type: models.Range7D, Start: day("2024-02-28"), End: day("2024-03-01")}

	r := svc.Compute(context.Background(), client, rng)

	require.False(t, r.IsEmpty())
	assert.Equal(t, 3, client.priceCalls)
	assertSeriesAligned(t, r.Series, 3)
	assert.True(t, r.Series.NetWorthUSD[0].Equal(d("10000")))
	assert.True(t, r.EstimatedBalanceBTC.Equal(d("0.25")))
	assert.True(t, r.TodayPnLPercent.Equal(d("10")))
}

func TestCompute_UpstreamFailuresDegrade(t *testing.T) {
	svc := NewPnLService("BTCUSDT", logrus.New())
	client := &fakeClient{
		balancesErr: errors.New("401"),
		prices:      map[string]models.PricePoint{},
		spotErr:     errors.New("timeout"),
	}
	rng := models.RangeSpec{Type: models.Range7D, Start: day("2024-03-01"), End: day("2024-03-08")}

	r := svc.Compute(context.Background(), client, rng)

	require.False(t, r.IsEmpty())
	assertSeriesAligned(t, r.Series, 8)
	assert.True(t, r.EstimatedBalanceUSD.IsZero())
	assert.True(t, r.EstimatedBalanceBTC.IsZero())
	for _, v := range r.Series.DailyPnLPercent {
		assert.True(t, v.IsZero())
	}
}

func TestCompute_PanicYieldsEmptyReport(t *testing.T) {
	svc := NewPnLService("BTCUSDT", logrus.New())
	client := &fakeClient{balances: snapshot("1"), panicOn: "prices"}
	rng := models.RangeSpec{Type: models.Range7D, Start: day("2024-03-01"), End: day("2024-03-08")}

	r := svc.Compute(context.Background(), client, rng)
	assert.True(t, r.IsEmpty())
}

func TestCompute_CancelledContext(t *testing.T) {
	svc := NewPnLService("BTCUSDT", logrus.New())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	client := &fakeClient{balances: snapshot("1"), prices: map[string]models.PricePoint{}}
	rng := models.RangeSpec{Type: models.Range7D, Start: day("2024-03-01"), End: day("2024-03-08")}

	assert.True(t, svc.Compute(ctx, client, rng).IsEmpty())
}
