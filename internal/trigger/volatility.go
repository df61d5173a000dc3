package trigger

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/Blockchain-Oracle/stellar-guard/internal/domain"
)

// Variance returns the variance of a historical price window: the mean of
// squared deviations from the window mean, with the same integer floor
// semantics the rest of the engine uses. Advisory metric only, never a
// trigger input.
func Variance(quotes []domain.PriceQuote) (decimal.Decimal, error) {
	if len(quotes) == 0 {
		return decimal.Zero, fmt.Errorf("%w: empty price window", domain.ErrArithmetic)
	}

	count := decimal.NewFromInt(int64(len(quotes)))

	sum := decimal.Zero
	for _, q := range quotes {
		sum = sum.Add(q.Price)
	}
	mean := divFloor(sum, count)

	varianceSum := decimal.Zero
	for _, q := range quotes {
		diff := q.Price.Sub(mean)
		varianceSum = varianceSum.Add(diff.Mul(diff))
	}
	return divFloor(varianceSum, count), nil
}
