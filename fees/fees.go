// Package fees computes trading-fee and cooldown-fee splits with exact
// integer arithmetic. It owns no storage.
package fees

import (
	"math/big"

	"github.com/nameswap/market-core/market"
)

// TradingFee returns the fee retained from a settled sale of amount at the
// given basis points. The computation floors, so the seller payout
// (amount - fee) plus the fee always equals amount exactly.
func TradingFee(amount, bps uint64) (uint64, error) {
	if bps > market.MaxFeeBps {
		return 0, &market.InvalidTradingFeeError{Bps: bps}
	}
	f := new(big.Int).SetUint64(amount)
	f.Mul(f, new(big.Int).SetUint64(bps))
	f.Div(f, big.NewInt(market.MaxFeeBps))
	fee := f.Uint64()
	if fee > amount {
		return 0, market.ErrFeeExceedsPayment
	}
	return fee, nil
}

// CooldownSplit halves a cancellation fee between the deployment treasury
// and the refunded bidder. The treasury half floors; the remainder goes to
// the refund so no unit is ever lost to rounding.
func CooldownSplit(fee uint64) (treasury, remainder uint64) {
	treasury = fee / 2
	remainder = fee - treasury
	return treasury, remainder
}
