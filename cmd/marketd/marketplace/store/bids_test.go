package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/nameswap/market-core/market"
)

func bidAt(token market.TokenID, bidder market.Address, amount uint64, at time.Time) market.Bid {
	return market.Bid{TokenID: token, Bidder: bidder, Amount: amount, CreatedAt: at}
}

func TestBids_PutReplaceRemove(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newStore(t)
	now := time.Now()

	_, err := s.GetBid(ctx, "alice", "bidder1")
	require.ErrorIs(t, err, market.ErrBidNotFound)

	prev, err := s.PutBid(ctx, bidAt("alice", "bidder1", 100, now))
	require.NoError(t, err)
	require.Nil(t, prev)

	// Replacing returns the prior bid so its escrow can be refunded.
	prev, err = s.PutBid(ctx, bidAt("alice", "bidder1", 150, now.Add(time.Second)))
	require.NoError(t, err)
	require.NotNil(t, prev)
	require.Equal(t, uint64(100), prev.Amount)

	got, err := s.GetBid(ctx, "alice", "bidder1")
	require.NoError(t, err)
	require.Equal(t, uint64(150), got.Amount)

	// The stale price-index entry must be gone.
	bids, err := s.ListBidsSortedByPrice(ctx, nil, -1)
	require.NoError(t, err)
	require.Len(t, bids, 1)
	require.Equal(t, uint64(150), bids[0].Amount)

	removed, err := s.RemoveBid(ctx, "alice", "bidder1")
	require.NoError(t, err)
	require.Equal(t, uint64(150), removed.Amount)

	_, err = s.RemoveBid(ctx, "alice", "bidder1")
	require.ErrorIs(t, err, market.ErrBidNotFound)

	ok, err := s.HasBids(ctx, "alice")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestBids_ListByTokenAndBidder(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newStore(t)
	now := time.Now()

	for i := 0; i < 4; i++ {
		_, err := s.PutBid(ctx, bidAt("alice", fmt.Sprintf("bidder%d", i), uint64(100+i), now))
		require.NoError(t, err)
	}
	_, err := s.PutBid(ctx, bidAt("bob", "bidder1", 500, now))
	require.NoError(t, err)

	bids, err := s.ListBids(ctx, "alice", "", -1)
	require.NoError(t, err)
	require.Len(t, bids, 4)
	require.Equal(t, "bidder0", bids[0].Bidder)

	bids, err = s.ListBids(ctx, "alice", "bidder1", -1)
	require.NoError(t, err)
	require.Len(t, bids, 2)
	require.Equal(t, "bidder2", bids[0].Bidder)

	bids, err = s.ListBidsByBidder(ctx, "bidder1", "", -1)
	require.NoError(t, err)
	require.Len(t, bids, 2)
	require.Equal(t, "alice", bids[0].TokenID)
	require.Equal(t, "bob", bids[1].TokenID)

	bids, err = s.ListBidsByBidder(ctx, "bidder1", "alice", -1)
	require.NoError(t, err)
	require.Len(t, bids, 1)
	require.Equal(t, "bob", bids[0].TokenID)
}

func TestBids_SortedByPrice(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newStore(t)
	now := time.Now()

	// Amounts straddle a digit-width boundary to prove numeric order.
	amounts := []uint64{5, 1000, 99, 70, 3}
	for i, amount := range amounts {
		_, err := s.PutBid(ctx, bidAt(fmt.Sprintf("name%d", i), "bidder1", amount, now))
		require.NoError(t, err)
	}

	asc, err := s.ListBidsSortedByPrice(ctx, nil, -1)
	require.NoError(t, err)
	require.Len(t, asc, 5)
	require.Equal(t, []uint64{3, 5, 70, 99, 1000}, bidAmounts(asc))

	desc, err := s.ListBidsSortedByPriceDesc(ctx, nil, -1)
	require.NoError(t, err)
	require.Equal(t, []uint64{1000, 99, 70, 5, 3}, bidAmounts(desc))

	// Exclusive cursors, both directions.
	cursor := &market.BidOffset{Amount: asc[1].Amount, TokenID: asc[1].TokenID, Bidder: asc[1].Bidder}
	page, err := s.ListBidsSortedByPrice(ctx, cursor, 2)
	require.NoError(t, err)
	require.Equal(t, []uint64{70, 99}, bidAmounts(page))

	cursor = &market.BidOffset{Amount: desc[1].Amount, TokenID: desc[1].TokenID, Bidder: desc[1].Bidder}
	page, err = s.ListBidsSortedByPriceDesc(ctx, cursor, 2)
	require.NoError(t, err)
	require.Equal(t, []uint64{70, 5}, bidAmounts(page))
}

func TestBids_HighestBid(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newStore(t)
	now := time.Now()

	got, err := s.HighestBid(ctx, "alice", 5)
	require.NoError(t, err)
	require.Nil(t, got)

	_, err = s.PutBid(ctx, bidAt("alice", "bidder1", 100, now))
	require.NoError(t, err)
	_, err = s.PutBid(ctx, bidAt("alice", "bidder2", 300, now.Add(2*time.Second)))
	require.NoError(t, err)
	// Same amount, earlier creation: wins the tie.
	_, err = s.PutBid(ctx, bidAt("alice", "bidder3", 300, now.Add(time.Second)))
	require.NoError(t, err)
	// Other tokens must not shadow alice even at higher amounts.
	_, err = s.PutBid(ctx, bidAt("bob", "bidder1", 9000, now))
	require.NoError(t, err)

	// A scan batch smaller than the index forces paging.
	got, err = s.HighestBid(ctx, "alice", 1)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, "bidder3", got.Bidder)
	require.Equal(t, uint64(300), got.Amount)
}

func TestBids_ListForSeller(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newStore(t)
	now := time.Now()

	for _, token := range []market.TokenID{"aaa", "bbb", "ccc"} {
		_, err := s.CreateAsk(ctx, token, "seller1")
		require.NoError(t, err)
	}
	_, err := s.CreateAsk(ctx, "zzz", "seller2")
	require.NoError(t, err)

	_, err = s.PutBid(ctx, bidAt("aaa", "bidder1", 10, now))
	require.NoError(t, err)
	_, err = s.PutBid(ctx, bidAt("aaa", "bidder2", 20, now))
	require.NoError(t, err)
	_, err = s.PutBid(ctx, bidAt("ccc", "bidder1", 30, now))
	require.NoError(t, err)
	_, err = s.PutBid(ctx, bidAt("zzz", "bidder1", 40, now))
	require.NoError(t, err)

	bids, err := s.ListBidsForSeller(ctx, "seller1", nil, -1)
	require.NoError(t, err)
	require.Len(t, bids, 3)
	require.Equal(t, "aaa", bids[0].TokenID)
	require.Equal(t, "bidder1", bids[0].Bidder)
	require.Equal(t, "ccc", bids[2].TokenID)

	// Paging resumes mid-token.
	page, err := s.ListBidsForSeller(ctx, "seller1", nil, 1)
	require.NoError(t, err)
	require.Len(t, page, 1)
	cursor := &market.BidOffset{TokenID: page[0].TokenID, Bidder: page[0].Bidder}
	page, err = s.ListBidsForSeller(ctx, "seller1", cursor, 10)
	require.NoError(t, err)
	require.Len(t, page, 2)
	require.Equal(t, "bidder2", page[0].Bidder)
	require.Equal(t, "ccc", page[1].TokenID)
}

func bidAmounts(bids []market.Bid) []uint64 {
	out := make([]uint64, len(bids))
	for i, b := range bids {
		out[i] = b.Amount
	}
	return out
}
