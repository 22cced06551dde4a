package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/nameswap/market-core/market"
)

func TestAsks_CreateGetRemove(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newStore(t)

	_, err := s.GetAsk(ctx, "alice")
	require.ErrorIs(t, err, market.ErrAskNotFound)

	ask, err := s.CreateAsk(ctx, "alice", "seller1")
	require.NoError(t, err)
	require.Equal(t, uint64(1), ask.ID)
	require.Equal(t, "seller1", ask.Seller)

	_, err = s.CreateAsk(ctx, "alice", "seller2")
	require.ErrorIs(t, err, market.ErrAlreadyListed)

	got, err := s.GetAsk(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, ask, *got)

	count, err := s.AskCount(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(1), count)

	removed, err := s.RemoveAsk(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, ask, *removed)

	_, err = s.GetAsk(ctx, "alice")
	require.ErrorIs(t, err, market.ErrAskNotFound)
	_, err = s.RemoveAsk(ctx, "alice")
	require.ErrorIs(t, err, market.ErrAskNotFound)

	count, err = s.AskCount(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(0), count)

	// Ids are never reused after a removal.
	ask, err = s.CreateAsk(ctx, "alice", "seller1")
	require.NoError(t, err)
	require.Equal(t, uint64(2), ask.ID)
}

func TestAsks_RemoveWithBids(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newStore(t)

	_, err := s.CreateAsk(ctx, "alice", "seller1")
	require.NoError(t, err)
	_, err = s.PutBid(ctx, market.Bid{
		TokenID:   "alice",
		Bidder:    "bidder1",
		Amount:    100,
		CreatedAt: time.Now(),
	})
	require.NoError(t, err)

	_, err = s.RemoveAsk(ctx, "alice")
	require.ErrorIs(t, err, market.ErrExistingBids)

	_, err = s.RemoveBid(ctx, "alice", "bidder1")
	require.NoError(t, err)
	_, err = s.RemoveAsk(ctx, "alice")
	require.NoError(t, err)
}

func TestAsks_UpdateSeller(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newStore(t)

	ask, err := s.CreateAsk(ctx, "alice", "seller1")
	require.NoError(t, err)

	updated, err := s.UpdateAskSeller(ctx, "alice", "seller2")
	require.NoError(t, err)
	require.Equal(t, ask.ID, updated.ID)
	require.Equal(t, "seller2", updated.Seller)

	asks, err := s.ListAsksBySeller(ctx, "seller1", "", -1)
	require.NoError(t, err)
	require.Empty(t, asks)

	asks, err = s.ListAsksBySeller(ctx, "seller2", "", -1)
	require.NoError(t, err)
	require.Len(t, asks, 1)
	require.Equal(t, "alice", asks[0].TokenID)
}

func TestAsks_ListPagination(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newStore(t)

	for i := 0; i < 25; i++ {
		_, err := s.CreateAsk(ctx, fmt.Sprintf("name-%02d", i), "seller1")
		require.NoError(t, err)
	}

	// Default page size.
	asks, err := s.ListAsks(ctx, 0, 0)
	require.NoError(t, err)
	require.Len(t, asks, 10)
	require.Equal(t, uint64(1), asks[0].ID)

	// Exclusive cursor pages through in id order without overlap.
	var (
		seen   []uint64
		cursor uint64
	)
	for {
		page, err := s.ListAsks(ctx, cursor, 7)
		require.NoError(t, err)
		if len(page) == 0 {
			break
		}
		for _, ask := range page {
			seen = append(seen, ask.ID)
		}
		cursor = page[len(page)-1].ID
	}
	require.Len(t, seen, 25)
	for i, id := range seen {
		require.Equal(t, uint64(i+1), id)
	}
}

func TestAsks_ListBySellerPagination(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newStore(t)

	for i := 0; i < 5; i++ {
		_, err := s.CreateAsk(ctx, fmt.Sprintf("one-%d", i), "seller1")
		require.NoError(t, err)
	}
	for i := 0; i < 3; i++ {
		_, err := s.CreateAsk(ctx, fmt.Sprintf("two-%d", i), "seller2")
		require.NoError(t, err)
	}

	page, err := s.ListAsksBySeller(ctx, "seller1", "", 3)
	require.NoError(t, err)
	require.Len(t, page, 3)
	require.Equal(t, "one-0", page[0].TokenID)

	page, err = s.ListAsksBySeller(ctx, "seller1", page[len(page)-1].TokenID, 3)
	require.NoError(t, err)
	require.Len(t, page, 2)
	require.Equal(t, "one-3", page[0].TokenID)
	require.Equal(t, "one-4", page[1].TokenID)

	page, err = s.ListAsksBySeller(ctx, "seller3", "", -1)
	require.NoError(t, err)
	require.Empty(t, page)
}
