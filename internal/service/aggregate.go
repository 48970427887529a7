package service

import (
	"sort"

	"pnldash/internal/models"

	"github.com/shopspring/decimal"
)

type seriesSums struct {
	daily, cumulative, netWorth, dailyProfit, cumulativeProfit decimal.Decimal
}

// Aggregate sums reports of one range type. Scalars and allocations add up
// across reports; series add up per date over the union of all dates.
// Allocation percentages are summed as stored, not recomputed against the
// combined balance.
func Aggregate(reports []models.PnLReport) models.AggregatedReport {
	out := models.AggregatedReport{Reports: len(reports)}

	sums := map[string]*seriesSums{}
	type allocation struct {
		value, pct decimal.Decimal
	}
	assets := map[string]*allocation{}
	var assetOrder []string

	for _, r := range reports {
		out.EstimatedBalanceUSD = out.EstimatedBalanceUSD.Add(r.EstimatedBalanceUSD)
		out.EstimatedBalanceBTC = out.EstimatedBalanceBTC.Add(r.EstimatedBalanceBTC)
		out.TotalProfitUSD = out.TotalProfitUSD.Add(r.TotalProfitUSD)
		out.TodayPnL.Percentage = out.TodayPnL.Percentage.Add(r.TodayPnLPercent)
		out.TodayPnL.USD = out.TodayPnL.USD.Add(r.TodayProfitUSD)
		out.PnL7D.Percentage = out.PnL7D.Percentage.Add(r.PnL7DPercent)
		out.PnL7D.USD = out.PnL7D.USD.Add(r.Profit7DUSD)
		out.PnL30D.Percentage = out.PnL30D.Percentage.Add(r.PnL30DPercent)
		out.PnL30D.USD = out.PnL30D.USD.Add(r.Profit30DUSD)

		s := r.Series
		for i, date := range s.Dates {
			acc, ok := sums[date]
			if !ok {
				acc = &seriesSums{}
				sums[date] = acc
			}
			acc.daily = acc.daily.Add(at(s.DailyPnLPercent, i))
			acc.cumulative = acc.cumulative.Add(at(s.CumulativePnLPercent, i))
			acc.netWorth = acc.netWorth.Add(at(s.NetWorthUSD, i))
			acc.dailyProfit = acc.dailyProfit.Add(at(s.DailyProfitUSD, i))
			acc.cumulativeProfit = acc.cumulativeProfit.Add(at(s.CumulativeProfitUSD, i))
		}

		for _, a := range r.AssetAllocation {
			acc, ok := assets[a.Asset]
			if !ok {
				acc = &allocation{}
				assets[a.Asset] = acc
				assetOrder = append(assetOrder, a.Asset)
			}
			acc.value = acc.value.Add(a.ValueUSD)
			acc.pct = acc.pct.Add(a.Percentage)
		}
	}

	dates := make([]string, 0, len(sums))
	for d := range sums {
		dates = append(dates, d)
	}
	// YYYY-MM-DD sorts chronologically as text
	sort.Strings(dates)

	out.Series = models.DailySeries{
		Dates:                dates,
		DailyPnLPercent:      make([]decimal.Decimal, 0, len(dates)),
		CumulativePnLPercent: make([]decimal.Decimal, 0, len(dates)),
		NetWorthUSD:          make([]decimal.Decimal, 0, len(dates)),
		DailyProfitUSD:       make([]decimal.Decimal, 0, len(dates)),
		CumulativeProfitUSD:  make([]decimal.Decimal, 0, len(dates)),
	}
	for _, d := range dates {
		acc := sums[d]
		out.Series.DailyPnLPercent = append(out.Series.DailyPnLPercent, acc.daily)
		out.Series.CumulativePnLPercent = append(out.Series.CumulativePnLPercent, acc.cumulative)
		out.Series.NetWorthUSD = append(out.Series.NetWorthUSD, acc.netWorth)
		out.Series.DailyProfitUSD = append(out.Series.DailyProfitUSD, acc.dailyProfit)
		out.Series.CumulativeProfitUSD = append(out.Series.CumulativeProfitUSD, acc.cumulativeProfit)
	}

	out.AssetAllocation = make([]models.AssetAllocation, 0, len(assetOrder))
	for _, name := range assetOrder {
		acc := assets[name]
		out.AssetAllocation = append(out.AssetAllocation, models.AssetAllocation{
			Asset:      name,
			ValueUSD:   acc.value,
			Percentage: acc.pct,
		})
	}
	return out
}

// at tolerates series written by older calculators with shorter arrays.
func at(values []decimal.Decimal, i int) decimal.Decimal {
	if i < len(values) {
		return values[i]
	}
	return decimal.Zero
}
