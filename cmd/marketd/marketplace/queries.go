package marketplace

import (
	"context"

	"github.com/nameswap/market-core/market"
)

// Ask returns the listing for token, or ErrAskNotFound.
func (m *Marketplace) Ask(ctx context.Context, token market.TokenID) (*market.Ask, error) {
	return m.store.GetAsk(ctx, token)
}

// Asks returns listings ordered by id, starting after the exclusive
// startAfter id.
func (m *Marketplace) Asks(ctx context.Context, startAfter uint64, limit int) ([]market.Ask, error) {
	return m.store.ListAsks(ctx, startAfter, limit)
}

// AsksBySeller returns a seller's listings ordered by token id.
func (m *Marketplace) AsksBySeller(
	ctx context.Context,
	seller market.Address,
	startAfter market.TokenID,
	limit int,
) ([]market.Ask, error) {
	return m.store.ListAsksBySeller(ctx, seller, startAfter, limit)
}

// AskCount returns the number of live listings.
func (m *Marketplace) AskCount(ctx context.Context) (uint64, error) {
	return m.store.AskCount(ctx)
}

// Bid returns the bid for (token, bidder), or ErrBidNotFound.
func (m *Marketplace) Bid(ctx context.Context, token market.TokenID, bidder market.Address) (*market.Bid, error) {
	return m.store.GetBid(ctx, token, bidder)
}

// Bids returns the bids on token ordered by bidder.
func (m *Marketplace) Bids(
	ctx context.Context,
	token market.TokenID,
	startAfter market.Address,
	limit int,
) ([]market.Bid, error) {
	return m.store.ListBids(ctx, token, startAfter, limit)
}

// BidsByBidder returns a bidder's bids ordered by token id.
func (m *Marketplace) BidsByBidder(
	ctx context.Context,
	bidder market.Address,
	startAfter market.TokenID,
	limit int,
) ([]market.Bid, error) {
	return m.store.ListBidsByBidder(ctx, bidder, startAfter, limit)
}

// BidsSortedByPrice returns bids across all tokens in ascending
// (amount, token_id, bidder) order.
func (m *Marketplace) BidsSortedByPrice(
	ctx context.Context,
	startAfter *market.BidOffset,
	limit int,
) ([]market.Bid, error) {
	return m.store.ListBidsSortedByPrice(ctx, startAfter, limit)
}

// ReverseBidsSortedByPrice is BidsSortedByPrice in descending order.
func (m *Marketplace) ReverseBidsSortedByPrice(
	ctx context.Context,
	startBefore *market.BidOffset,
	limit int,
) ([]market.Bid, error) {
	return m.store.ListBidsSortedByPriceDesc(ctx, startBefore, limit)
}

// BidsForSeller returns the bids on all of a seller's listings. Page
// boundaries are best effort across the ask/bid join.
func (m *Marketplace) BidsForSeller(
	ctx context.Context,
	seller market.Address,
	startAfter *market.BidOffset,
	limit int,
) ([]market.Bid, error) {
	return m.store.ListBidsForSeller(ctx, seller, startAfter, limit)
}

// HighestBid returns the highest bid on token, ties broken by earliest
// creation, or nil if the token has no bids.
func (m *Marketplace) HighestBid(ctx context.Context, token market.TokenID) (*market.Bid, error) {
	params, err := m.store.GetParams(ctx)
	if err != nil {
		return nil, err
	}
	return m.store.HighestBid(ctx, token, int(params.ValidBidQueryLimit))
}

// Params returns the governance params.
func (m *Marketplace) Params(ctx context.Context) (market.SudoParams, error) {
	return m.store.GetParams(ctx)
}

// Config returns the collaborator addresses.
func (m *Marketplace) Config(ctx context.Context) (market.Config, error) {
	return m.store.GetConfig(ctx)
}

// Cooldown returns the pending settlement for token, or
// ErrCooldownNotFound.
func (m *Marketplace) Cooldown(ctx context.Context, token market.TokenID) (*market.PendingBid, error) {
	return m.store.GetPending(ctx, token)
}

// Cooldowns returns open settlements ordered by token id.
func (m *Marketplace) Cooldowns(ctx context.Context, startAfter market.TokenID, limit int) ([]market.PendingBid, error) {
	return m.store.ListPendings(ctx, startAfter, limit)
}

// Hooks returns the registered listeners of a kind in insertion order.
func (m *Marketplace) Hooks(ctx context.Context, kind market.HookKind) ([]market.Address, error) {
	return m.store.ListHooks(ctx, kind)
}
