package scheduler

import (
	"math/rand/v2"

	"github.com/shopspring/decimal"

	"github.com/gateway-fm/xosactivity/internal/config"
	"github.com/gateway-fm/xosactivity/pkg/types"
)

// DefaultPrecision is used for symbols without a configured precision.
const DefaultPrecision int32 = 4

// DrawAmount draws uniformly from r, rounds to places decimals and clamps
// the result into [r.Min, r.Max].
func DrawAmount(rng *rand.Rand, r config.Range, places int32) decimal.Decimal {
	lo := decimal.NewFromFloat(r.Min)
	hi := decimal.NewFromFloat(r.Max)
	span := hi.Sub(lo)
	amount := lo.Add(span.Mul(decimal.NewFromFloat(rng.Float64()))).Round(places)
	if amount.LessThan(lo) {
		amount = lo
	}
	if amount.GreaterThan(hi) {
		amount = hi
	}
	return amount
}

// drawSwap picks a token and a direction uniformly and draws the amount
// from the matching range. ok is false when the token has no range.
func (s *Scheduler) drawSwap(cfg config.DailyActivityConfig, symbols []string) (types.SwapOperation, bool) {
	if len(symbols) == 0 {
		return types.SwapOperation{}, false
	}
	token := symbols[s.rng.IntN(len(symbols))]

	if s.rng.IntN(2) == 0 {
		amount := DrawAmount(s.rng, cfg.XOSSwapRange, s.precision(s.cfg.NativeSymbol))
		return types.SwapOperation{Direction: types.NativeToToken, Token: token, Amount: amount.String()}, true
	}

	r, ok := cfg.TokenRange(token)
	if !ok {
		return types.SwapOperation{}, false
	}
	amount := DrawAmount(s.rng, r, s.precision(token))
	return types.SwapOperation{Direction: types.TokenToNative, Token: token, Amount: amount.String()}, true
}

func (s *Scheduler) precision(symbol string) int32 {
	if p, ok := s.cfg.Precision[symbol]; ok {
		return p
	}
	return DefaultPrecision
}
