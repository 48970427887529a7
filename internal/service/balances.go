package service

import (
	"pnldash/internal/models"

	"github.com/shopspring/decimal"
)

// BalanceBreakdown fills each user's share of the combined estimated balance.
func BalanceBreakdown(users []models.UserBalance) (decimal.Decimal, []models.UserBalance) {
	total := decimal.Zero
	for _, u := range users {
		total = total.Add(u.EstimatedBalance)
	}
	out := make([]models.UserBalance, 0, len(users))
	for _, u := range users {
		u.Percentage = decimal.Zero
		if total.IsPositive() {
			u.Percentage = u.EstimatedBalance.Div(total).Mul(hundred)
		}
		out = append(out, u)
	}
	return total, out
}
