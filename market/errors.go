package market

import (
	"errors"
	"fmt"
)

var (
	// ErrUnauthorized indicates the caller does not hold the role the
	// command requires.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrAskNotFound indicates no ask exists for the token.
	ErrAskNotFound = errors.New("ask not found")

	// ErrBidNotFound indicates no bid exists for the (token, bidder) pair.
	ErrBidNotFound = errors.New("bid not found")

	// ErrCooldownNotFound indicates no pending settlement exists for the token.
	ErrCooldownNotFound = errors.New("cooldown not found")

	// ErrAlreadyListed indicates an ask already exists for the token.
	ErrAlreadyListed = errors.New("token already listed")

	// ErrAlreadySetup indicates the marketplace was already initialized.
	ErrAlreadySetup = errors.New("marketplace already setup")

	// ErrExistingBids blocks removing an ask that still has escrowed bids.
	ErrExistingBids = errors.New("ask has existing bids")

	// ErrInvalidDuration indicates the cooldown window constraint was violated.
	ErrInvalidDuration = errors.New("invalid cooldown duration")

	// ErrCannotFinalizeBid indicates the caller is neither the seller nor
	// the accepted bidder.
	ErrCannotFinalizeBid = errors.New("cannot finalize bid")

	// ErrAccountLocked rejects token operations while a settlement is pending.
	ErrAccountLocked = errors.New("account locked for cooldown")

	// ErrFeeExceedsPayment guards against fee parameters above 100%.
	ErrFeeExceedsPayment = errors.New("fees exceed payment")

	// ErrHookLimitReached indicates the hook registry is full.
	ErrHookLimitReached = errors.New("hook registry limit reached")

	// ErrInvalidID rejects empty or malformed token ids and addresses.
	ErrInvalidID = errors.New("invalid identifier")
)

// PriceTooSmallError indicates a bid below the configured minimum price.
type PriceTooSmallError struct {
	Amount uint64
	Min    uint64
}

func (e *PriceTooSmallError) Error() string {
	return fmt.Sprintf("price too small: got %d, minimum is %d", e.Amount, e.Min)
}

// IncorrectPaymentError indicates an attached payment that does not match
// the exact required amount.
type IncorrectPaymentError struct {
	Got      uint64
	Expected uint64
}

func (e *IncorrectPaymentError) Error() string {
	return fmt.Sprintf("incorrect payment: got %d, expected %d", e.Got, e.Expected)
}

// InvalidTradingFeeError indicates a trading fee above MaxFeeBps.
type InvalidTradingFeeError struct {
	Bps uint64
}

func (e *InvalidTradingFeeError) Error() string {
	return fmt.Sprintf("invalid trading fee: %d bps exceeds %d", e.Bps, MaxFeeBps)
}
