package market

import (
	"context"
	"time"
)

// TokenID is the unique name of a listed account token.
type TokenID = string

// Address is an opaque account identifier supplied by the host.
type Address = string

// Ask is a live listing of a token for sale by its current seller.
type Ask struct {
	TokenID TokenID
	// ID is a unique, monotonically increasing listing id. Re-listing
	// after a settled sale assigns a fresh id to the new owner's ask.
	ID     uint64
	Seller Address
}

// Bid is an escrowed offer for a listed token. The Amount is exactly the
// balance escrowed for this bid; replacing or removing the bid refunds it.
type Bid struct {
	TokenID   TokenID
	Bidder    Address
	Amount    uint64
	CreatedAt time.Time
}

// PendingBid is an accepted bid waiting out the cooldown window. The ask
// snapshot is taken at acceptance time; the bid itself is deleted from the
// bid book when the pending record is created.
type PendingBid struct {
	Ask        Ask
	NewOwner   Address
	Amount     uint64
	UnlockTime time.Time
}

// Coin is an amount of the market's native denomination.
type Coin struct {
	Denom  string
	Amount uint64
}

// SudoParams are the governance-controlled marketplace parameters.
type SudoParams struct {
	// TradingFeeBps is the fee on settled sales in basis points (1/100 of
	// a percent). Capped at MaxFeeBps.
	TradingFeeBps uint64
	// MinPrice is the minimum accepted bid amount.
	MinPrice uint64
	// AskInterval rate limits ask creation in the legacy market variant.
	// It is carried in params but not enforced by the cooldown engine.
	AskInterval time.Duration
	// ValidBidQueryLimit is the price-index scan batch size used when
	// searching for the highest bid.
	ValidBidQueryLimit uint32
	// CooldownDuration is the delay between bid acceptance and the close
	// of the settlement window.
	CooldownDuration time.Duration
	// CooldownCancelFee is the exact payment required to cancel a
	// pending settlement.
	CooldownCancelFee Coin
}

// MaxFeeBps caps the trading fee at 100%.
const MaxFeeBps = 10000

// Config describes the fixed marketplace collaborator addresses.
type Config struct {
	// Minter is the factory contract authorized to create asks.
	Minter Address
	// Collection is the NFT contract backing listed tokens.
	Collection Address
}

// BidOffset is an exclusive pagination cursor into the price-sorted bid
// index. All three fields are required so the cursor stays stable under
// concurrent inserts at the same amount.
type BidOffset struct {
	Amount  uint64
	TokenID TokenID
	Bidder  Address
}

// HookKind identifies one of the three hook registries.
type HookKind string

const (
	// HookKindAsk receives ask create/update/delete notifications.
	HookKindAsk HookKind = "ask"
	// HookKindBid receives bid create/delete notifications.
	HookKindBid HookKind = "bid"
	// HookKindSale receives finalized sale notifications.
	HookKindSale HookKind = "sale"
)

// HookAction tags the lifecycle action carried by an ask or bid hook.
type HookAction string

const (
	HookActionCreate HookAction = "create"
	HookActionUpdate HookAction = "update"
	HookActionDelete HookAction = "delete"
)

// Attribute is a key/value pair attached to an emitted event.
type Attribute struct {
	Key   string
	Value string
}

// Event is an externally observable effect of a command.
type Event struct {
	Type       string
	Attributes []Attribute
}

// Attr constructs an event attribute.
func Attr(key, value string) Attribute {
	return Attribute{Key: key, Value: value}
}

// Result is the ordered list of events emitted by a successful command.
type Result struct {
	Events []Event
}

// AddEvent appends an event built from the given attributes.
func (r *Result) AddEvent(typ string, attrs ...Attribute) {
	r.Events = append(r.Events, Event{Type: typ, Attributes: attrs})
}

// OwnershipOracle reports current token ownership and marketplace transfer
// approval from the collection contract.
type OwnershipOracle interface {
	// OwnerOf returns the current owner of the token.
	OwnerOf(ctx context.Context, token TokenID) (Address, error)
	// IsApproved reports whether the marketplace holds transfer approval
	// for the owner's tokens.
	IsApproved(ctx context.Context, owner Address) (bool, error)
	// IdentityBound reports whether the token's associated-identity
	// binding is still intact. A broken binding during cooldown forfeits
	// the seller's payout.
	IdentityBound(ctx context.Context, token TokenID) (bool, error)
}

// NFTTransferer executes an ownership change on the collection contract.
type NFTTransferer interface {
	TransferNFT(ctx context.Context, token TokenID, to Address) error
}

// Collection is the full surface the engine needs from the NFT contract.
type Collection interface {
	OwnershipOracle
	NFTTransferer
}

// Banker is the host payment/escrow primitive. All amounts are in the
// market's native denomination and are drawn from the marketplace escrow
// account, which the host credits before a payable command runs.
type Banker interface {
	// Send releases escrowed funds to an address.
	Send(ctx context.Context, to Address, amount uint64) error
	// Burn destroys escrowed funds (fee burning).
	Burn(ctx context.Context, amount uint64) error
}

// HookCaller is the best-effort listener-notification channel. Call returns
// as soon as the outbound call is issued; the listener's success or failure
// is reported later through the dispatcher's completion callback, keyed by
// the correlation id.
type HookCaller interface {
	Call(ctx context.Context, listener Address, payload []byte, correlationID string) error
}

// Clock supplies the host block timestamp. It only advances between
// commands; all cooldown arithmetic uses it, never the wall clock.
type Clock interface {
	Now() time.Time
}

// WallClock is the default Clock for standalone deployments.
type WallClock struct{}

// Now returns the current wall time.
func (WallClock) Now() time.Time { return time.Now() }
