package fees

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/nameswap/market-core/market"
	"pgregory.net/rapid"
)

func TestTradingFee(t *testing.T) {
	t.Parallel()

	// 10% of 1000.
	fee, err := TradingFee(1000, 1000)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), fee)

	// Flooring: 2.5% of 101 is 2.525, fee floors to 2.
	fee, err = TradingFee(101, 250)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), fee)

	// 100% fee consumes the whole payment.
	fee, err = TradingFee(777, market.MaxFeeBps)
	require.NoError(t, err)
	assert.Equal(t, uint64(777), fee)

	// Zero fee.
	fee, err = TradingFee(777, 0)
	require.NoError(t, err)
	assert.Zero(t, fee)

	// Fee above 100% is a configuration error.
	_, err = TradingFee(1000, market.MaxFeeBps+1)
	require.Error(t, err)

	// No overflow on max amounts.
	fee, err = TradingFee(math.MaxUint64, 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(math.MaxUint64/10000), fee)
}

func TestTradingFeeExactness(t *testing.T) {
	t.Parallel()
	rapid.Check(t, func(t *rapid.T) {
		amount := rapid.Uint64().Draw(t, "amount").(uint64)
		bps := rapid.Uint64Range(0, market.MaxFeeBps).Draw(t, "bps").(uint64)

		fee, err := TradingFee(amount, bps)
		require.NoError(t, err)
		require.LessOrEqual(t, fee, amount)
		// fee + payout must reconstruct the amount with zero leakage.
		require.Equal(t, amount, fee+(amount-fee))
	})
}

func TestCooldownSplit(t *testing.T) {
	t.Parallel()

	treasury, remainder := CooldownSplit(10)
	assert.Equal(t, uint64(5), treasury)
	assert.Equal(t, uint64(5), remainder)

	// Odd fees leave the extra unit with the refunded party.
	treasury, remainder = CooldownSplit(11)
	assert.Equal(t, uint64(5), treasury)
	assert.Equal(t, uint64(6), remainder)

	treasury, remainder = CooldownSplit(0)
	assert.Zero(t, treasury)
	assert.Zero(t, remainder)

	rapid.Check(t, func(t *rapid.T) {
		fee := rapid.Uint64().Draw(t, "fee").(uint64)
		treasury, remainder := CooldownSplit(fee)
		require.Equal(t, fee, treasury+remainder)
		require.True(t, remainder == treasury || remainder == treasury+1)
	})
}
