package service

import (
	"context"
	"time"

	"pnldash/internal/exchange"
	"pnldash/internal/models"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

var (
	hundred  = decimal.NewFromInt(100)
	dustUSD  = decimal.NewFromInt(1)
	unitProp = decimal.NewFromInt(1)
)

// Calculate builds a report for rng from a balance snapshot and one price point
// per axis date of the reference symbol. Dates without usable prices are
// gap-filled. btcQuote converts the balance to BTC when valid and positive.
func Calculate(snap models.BalanceSnapshot, prices []models.PricePoint, btcQuote decimal.NullDecimal, rng models.RangeSpec) models.PnLReport {
	dates := rng.Dates()
	balance := snap.TotalUSD()

	byDate := make(map[string]models.PricePoint, len(prices))
	for _, p := range prices {
		byDate[p.Date.UTC().Format(models.DateLayout)] = p
	}

	report := models.PnLReport{
		RangeType:           rng.Type,
		EstimatedBalanceUSD: balance,
		Series: models.DailySeries{
			Dates:                make([]string, 0, len(dates)),
			DailyPnLPercent:      make([]decimal.Decimal, 0, len(dates)),
			CumulativePnLPercent: make([]decimal.Decimal, 0, len(dates)),
			NetWorthUSD:          make([]decimal.Decimal, 0, len(dates)),
			DailyProfitUSD:       make([]decimal.Decimal, 0, len(dates)),
			CumulativeProfitUSD:  make([]decimal.Decimal, 0, len(dates)),
		},
		AssetAllocation: []models.AssetAllocation{},
	}
	if rng.Type == models.RangeCustom {
		report.CustomStart = rng.Start.Format(models.DateLayout)
		report.CustomEnd = rng.End.Format(models.DateLayout)
	}

	proportion := unitProp
	if len(dates) > 0 {
		last := byDate[dates[len(dates)-1].Format(models.DateLayout)]
		if last.Close.Valid && last.Close.Decimal.IsPositive() {
			proportion = balance.Div(last.Close.Decimal)
		}
	}

	week := rng.End.AddDate(0, 0, -7)
	month := rng.End.AddDate(0, 0, -30)
	var initial *decimal.Decimal
	total := decimal.Zero
	s := &report.Series

	for i, d := range dates {
		key := d.Format(models.DateLayout)
		var daily, cumulative, netWorth, profit decimal.Decimal

		if p := byDate[key]; p.Usable() {
			open, closePrice := p.Open.Decimal, p.Close.Decimal
			if initial == nil {
				initial = &open
			}
			daily = closePrice.Sub(open).Div(open).Mul(hundred)
			cumulative = closePrice.Sub(*initial).Div(*initial).Mul(hundred)
			netWorth = closePrice.Mul(proportion)
			profit = closePrice.Sub(open).Mul(proportion)
			total = total.Add(profit)
		} else {
			daily = decimal.Zero
			profit = decimal.Zero
			if i > 0 {
				cumulative = s.CumulativePnLPercent[i-1]
				netWorth = s.NetWorthUSD[i-1]
			} else {
				cumulative = decimal.Zero
				netWorth = balance
			}
		}

		s.Dates = append(s.Dates, key)
		s.DailyPnLPercent = append(s.DailyPnLPercent, daily)
		s.CumulativePnLPercent = append(s.CumulativePnLPercent, cumulative)
		s.NetWorthUSD = append(s.NetWorthUSD, netWorth)
		s.DailyProfitUSD = append(s.DailyProfitUSD, profit)
		s.CumulativeProfitUSD = append(s.CumulativeProfitUSD, total)

		if !d.Before(week) && !d.After(rng.End) {
			report.PnL7DPercent = report.PnL7DPercent.Add(daily)
			report.Profit7DUSD = report.Profit7DUSD.Add(profit)
		}
		if !d.Before(month) && !d.After(rng.End) {
			report.PnL30DPercent = report.PnL30DPercent.Add(daily)
			report.Profit30DUSD = report.Profit30DUSD.Add(profit)
		}
	}

	if n := len(s.Dates); n > 0 {
		report.TodayPnLPercent = s.DailyPnLPercent[n-1]
		report.TodayProfitUSD = s.DailyProfitUSD[n-1]
	}
	report.TotalProfitUSD = total

	if btcQuote.Valid && btcQuote.Decimal.IsPositive() {
		report.EstimatedBalanceBTC = balance.Div(btcQuote.Decimal)
	}

	for _, a := range snap.Assets {
		if !a.ValueUSD.GreaterThan(dustUSD) {
			continue
		}
		pct := decimal.Zero
		if balance.IsPositive() {
			pct = a.ValueUSD.Div(balance).Mul(hundred)
		}
		report.AssetAllocation = append(report.AssetAllocation, models.AssetAllocation{
			Asset:      a.Asset,
			ValueUSD:   a.ValueUSD,
			Percentage: pct,
		})
	}
	return report
}

// PnLService fetches balances and prices through a PriceHistoryClient and runs
// Calculate. It keeps no state between runs and never retries.
type PnLService struct {
	quoteSymbol string
	log         *logrus.Logger
}

func NewPnLService(quoteSymbol string, log *logrus.Logger) *PnLService {
	return &PnLService{quoteSymbol: quoteSymbol, log: log}
}

// Compute never fails: upstream misses degrade per field, and any other fault
// yields an empty report that callers skip until the next cycle.
func (s *PnLService) Compute(ctx context.Context, client exchange.PriceHistoryClient, rng models.RangeSpec) (report models.PnLReport) {
	defer func() {
		if p := recover(); p != nil {
			s.log.Errorf("failed to calculate pnl for %s: %v", rng.Type, p)
			report = models.PnLReport{}
		}
	}()

	snap, err := client.CurrentBalances(ctx)
	if err != nil {
		s.log.Warnf("failed to fetch balances: %v", err)
		snap = models.BalanceSnapshot{CapturedAt: time.Now().UTC()}
	}

	dates := rng.Dates()
	prices := make([]models.PricePoint, 0, len(dates))
	for _, d := range dates {
		p, err := client.DailyOpenClose(ctx, s.quoteSymbol, d)
		if err != nil {
			s.log.Warnf("price data missing for %s on %s: %v", s.quoteSymbol, d.Format(models.DateLayout), err)
			p = models.PricePoint{Symbol: s.quoteSymbol, Date: d}
		}
		prices = append(prices, p)
	}

	var quote decimal.NullDecimal
	if q, err := client.SpotPrice(ctx, s.quoteSymbol); err != nil {
		s.log.Warnf("error fetching %s price: %v", s.quoteSymbol, err)
	} else {
		quote = decimal.NewNullDecimal(q)
	}

	if err := ctx.Err(); err != nil {
		s.log.Errorf("failed to calculate pnl for %s: %v", rng.Type, err)
		return models.PnLReport{}
	}
	return Calculate(snap, prices, quote, rng)
}
