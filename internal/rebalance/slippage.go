package rebalance

import (
	"errors"
	"fmt"
	"math"
	"math/big"

	"github.com/shopspring/decimal"
)

var ErrInvalidSlippageInput = errors.New("invalid slippage input")

var (
	satsPerBTC    = big.NewInt(100_000_000)
	bpsPerUnit    = big.NewInt(10_000)
	microsPerUnit = 1_000_000.0
)

// SlippageGuard bounds how far a venue quote may fall below the spot value.
type SlippageGuard struct {
	ThresholdBps   int64
	HighWarningBps int64
}

// SlippageResult is the outcome of one check. Amounts are micro-USD; the
// string fields are the same values in USD for logs and alerts.
type SlippageResult struct {
	Acceptable        bool
	HighWarning       bool
	SlippageBps       int64
	ExpectedUsdMicros *big.Int
	QuotedUsdMicros   *big.Int
	ExpectedUsd       string
	QuotedUsd         string
}

// Check compares the spot value of btcSats against quotedUsdMicros in
// integer arithmetic. The spot price is converted to micro-USD once, with
// rounding; every later division truncates toward zero. Negative slippage
// means the quote beats spot and is always acceptable.
func (g SlippageGuard) Check(btcSats, quotedUsdMicros *big.Int, spotUsd float64) (SlippageResult, error) {
	if btcSats == nil || btcSats.Sign() < 0 {
		return SlippageResult{}, fmt.Errorf("%w: btc amount must be non-negative", ErrInvalidSlippageInput)
	}
	if quotedUsdMicros == nil || quotedUsdMicros.Sign() < 0 {
		return SlippageResult{}, fmt.Errorf("%w: quoted amount must be non-negative", ErrInvalidSlippageInput)
	}
	if math.IsNaN(spotUsd) || math.IsInf(spotUsd, 0) || spotUsd <= 0 {
		return SlippageResult{}, fmt.Errorf("%w: spot price %v", ErrInvalidSlippageInput, spotUsd)
	}

	priceMicro, _ := new(big.Float).SetFloat64(math.Round(spotUsd * microsPerUnit)).Int(nil)

	expected := new(big.Int).Mul(btcSats, priceMicro)
	expected.Quo(expected, satsPerBTC)

	var bps int64
	if expected.Sign() > 0 {
		diff := new(big.Int).Sub(expected, quotedUsdMicros)
		diff.Mul(diff, bpsPerUnit)
		diff.Quo(diff, expected)
		bps = clampInt64(diff)
	}

	return SlippageResult{
		Acceptable:        bps <= g.ThresholdBps,
		HighWarning:       bps > g.HighWarningBps && bps <= g.ThresholdBps,
		SlippageBps:       bps,
		ExpectedUsdMicros: expected,
		QuotedUsdMicros:   new(big.Int).Set(quotedUsdMicros),
		ExpectedUsd:       FormatUsdMicros(expected),
		QuotedUsd:         FormatUsdMicros(quotedUsdMicros),
	}, nil
}

// FormatUsdMicros renders a micro-USD amount as dollars with cents.
func FormatUsdMicros(micros *big.Int) string {
	return decimal.NewFromBigInt(micros, -6).StringFixed(2)
}

func clampInt64(v *big.Int) int64 {
	if v.IsInt64() {
		return v.Int64()
	}
	if v.Sign() < 0 {
		return math.MinInt64
	}
	return math.MaxInt64
}
