package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	ds "github.com/ipfs/go-datastore"
	dsq "github.com/ipfs/go-datastore/query"
	dsextensions "github.com/textileio/go-datastore-extensions"
	"github.com/nameswap/market-core/market"
)

// seekTop sorts after every fixed-width amount component, so descending
// iteration can start from the end of the price index.
const seekTop = "~"

func bidKey(token market.TokenID, bidder market.Address) ds.Key {
	return dsBidPrefix.ChildString(token).ChildString(bidder)
}

func bidBidderKey(bidder market.Address, token market.TokenID) ds.Key {
	return dsBidBidderPrefix.ChildString(bidder).ChildString(token)
}

func amountComponent(amount uint64) string {
	return fmt.Sprintf("%020d", amount)
}

func bidPriceKey(b market.Bid) ds.Key {
	return dsBidPricePrefix.
		ChildString(amountComponent(b.Amount)).
		ChildString(b.TokenID).
		ChildString(b.Bidder)
}

func priceOffsetKey(o market.BidOffset) ds.Key {
	return dsBidPricePrefix.
		ChildString(amountComponent(o.Amount)).
		ChildString(o.TokenID).
		ChildString(o.Bidder)
}

// PutBid stores a bid, replacing any prior bid from the same bidder on the
// same token. The replaced bid is returned so its escrow can be refunded.
func (s *Store) PutBid(ctx context.Context, bid market.Bid) (*market.Bid, error) {
	txn, err := s.store.NewTransaction(ctx, false)
	if err != nil {
		return nil, fmt.Errorf("creating txn: %v", err)
	}
	defer txn.Discard(ctx)

	prev, err := getBid(ctx, txn, bid.TokenID, bid.Bidder)
	if err != nil && !errors.Is(err, market.ErrBidNotFound) {
		return nil, err
	}
	if prev != nil {
		if err := deleteBid(ctx, txn, *prev); err != nil {
			return nil, err
		}
	}
	if err := putBid(ctx, txn, bid); err != nil {
		return nil, err
	}
	if err := txn.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing txn: %v", err)
	}
	log.Debugf("stored bid %d on %s from %s", bid.Amount, bid.TokenID, bid.Bidder)
	return prev, nil
}

// RemoveBid deletes the bid for (token, bidder) and returns it so its
// escrow can be refunded.
func (s *Store) RemoveBid(
	ctx context.Context,
	token market.TokenID,
	bidder market.Address,
) (*market.Bid, error) {
	txn, err := s.store.NewTransaction(ctx, false)
	if err != nil {
		return nil, fmt.Errorf("creating txn: %v", err)
	}
	defer txn.Discard(ctx)

	bid, err := getBid(ctx, txn, token, bidder)
	if err != nil {
		return nil, err
	}
	if err := deleteBid(ctx, txn, *bid); err != nil {
		return nil, err
	}
	if err := txn.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing txn: %v", err)
	}
	log.Debugf("removed bid on %s from %s", token, bidder)
	return bid, nil
}

// GetBid returns the bid for (token, bidder), or ErrBidNotFound.
func (s *Store) GetBid(
	ctx context.Context,
	token market.TokenID,
	bidder market.Address,
) (*market.Bid, error) {
	return getBid(ctx, s.store, token, bidder)
}

func getBid(
	ctx context.Context,
	reader ds.Read,
	token market.TokenID,
	bidder market.Address,
) (*market.Bid, error) {
	var bid market.Bid
	err := getGob(ctx, reader, bidKey(token, bidder), &bid)
	if errors.Is(err, ds.ErrNotFound) {
		return nil, market.ErrBidNotFound
	} else if err != nil {
		return nil, fmt.Errorf("getting bid: %v", err)
	}
	return &bid, nil
}

// HasBids reports whether any live bid exists for token.
func (s *Store) HasBids(ctx context.Context, token market.TokenID) (bool, error) {
	return hasBids(ctx, s.store, token)
}

func hasBids(ctx context.Context, reader ds.Read, token market.TokenID) (bool, error) {
	results, err := reader.Query(ctx, dsq.Query{
		Prefix:   dsBidPrefix.ChildString(token).String(),
		KeysOnly: true,
		Limit:    1,
	})
	if err != nil {
		return false, fmt.Errorf("querying bids: %v", err)
	}
	defer func() { _ = results.Close() }()
	for res := range results.Next() {
		if res.Error != nil {
			return false, fmt.Errorf("getting next result: %v", res.Error)
		}
		return true, nil
	}
	return false, nil
}

// ListBids returns the bids on token ordered by bidder, starting after the
// exclusive startAfter bidder.
func (s *Store) ListBids(
	ctx context.Context,
	token market.TokenID,
	startAfter market.Address,
	limit int,
) ([]market.Bid, error) {
	limit = limitOrDefault(limit)

	prefix := dsBidPrefix.ChildString(token)
	var seek string
	if startAfter != "" {
		seek = prefix.ChildString(startAfter).String()
	}
	results, err := s.store.QueryExtended(dsextensions.QueryExt{
		Query: dsq.Query{
			Prefix: prefix.String(),
			Orders: []dsq.Order{dsq.OrderByKey{}},
			Limit:  limit + 1,
		},
		SeekPrefix: seek,
	})
	if err != nil {
		return nil, fmt.Errorf("querying bids: %v", err)
	}
	defer func() { _ = results.Close() }()

	var list []market.Bid
	for res := range results.Next() {
		if res.Error != nil {
			return nil, fmt.Errorf("getting next result: %v", res.Error)
		}
		if res.Key == seek {
			continue
		}
		var bid market.Bid
		if err := decode(res.Value, &bid); err != nil {
			return nil, fmt.Errorf("decoding bid: %v", err)
		}
		list = append(list, bid)
		if len(list) == limit {
			break
		}
	}
	return list, nil
}

// ListBidsByBidder returns a bidder's bids ordered by token id, starting
// after the exclusive startAfter token.
func (s *Store) ListBidsByBidder(
	ctx context.Context,
	bidder market.Address,
	startAfter market.TokenID,
	limit int,
) ([]market.Bid, error) {
	limit = limitOrDefault(limit)

	tokens, err := s.listIndexedKeys(
		dsBidBidderPrefix.ChildString(bidder),
		startAfter,
		limit,
		false,
	)
	if err != nil {
		return nil, err
	}
	list := make([]market.Bid, 0, len(tokens))
	for _, token := range tokens {
		bid, err := getBid(ctx, s.store, token, bidder)
		if err != nil {
			return nil, err
		}
		list = append(list, *bid)
	}
	return list, nil
}

// ListBidsSortedByPrice returns bids across all tokens ordered by the
// compound key (amount, token_id, bidder), ascending. startAfter is an
// exclusive cursor; a full triple keeps pagination stable under inserts.
func (s *Store) ListBidsSortedByPrice(
	ctx context.Context,
	startAfter *market.BidOffset,
	limit int,
) ([]market.Bid, error) {
	return s.listByPrice(ctx, startAfter, limit, false)
}

// ListBidsSortedByPriceDesc is ListBidsSortedByPrice in descending order
// with an exclusive startBefore cursor.
func (s *Store) ListBidsSortedByPriceDesc(
	ctx context.Context,
	startBefore *market.BidOffset,
	limit int,
) ([]market.Bid, error) {
	return s.listByPrice(ctx, startBefore, limit, true)
}

func (s *Store) listByPrice(
	ctx context.Context,
	cursor *market.BidOffset,
	limit int,
	desc bool,
) ([]market.Bid, error) {
	limit = limitOrDefault(limit)

	var (
		order dsq.Order = dsq.OrderByKey{}
		seek  string
	)
	if desc {
		order = dsq.OrderByKeyDescending{}
		// Seek past the largest possible key and descend from there.
		seek = dsBidPricePrefix.ChildString(seekTop).String()
	}
	if cursor != nil {
		seek = priceOffsetKey(*cursor).String()
	}
	results, err := s.store.QueryExtended(dsextensions.QueryExt{
		Query: dsq.Query{
			Prefix:   dsBidPricePrefix.String(),
			Orders:   []dsq.Order{order},
			Limit:    limit + 1,
			KeysOnly: true,
		},
		SeekPrefix: seek,
	})
	if err != nil {
		return nil, fmt.Errorf("querying price index: %v", err)
	}
	defer func() { _ = results.Close() }()

	var list []market.Bid
	for res := range results.Next() {
		if res.Error != nil {
			return nil, fmt.Errorf("getting next result: %v", res.Error)
		}
		if res.Key == seek {
			continue
		}
		_, token, bidder, err := parsePriceKey(res.Key)
		if err != nil {
			return nil, err
		}
		bid, err := getBid(ctx, s.store, token, bidder)
		if err != nil {
			return nil, err
		}
		list = append(list, *bid)
		if len(list) == limit {
			break
		}
	}
	return list, nil
}

// HighestBid returns the highest bid on token. Amount ties are broken by
// the earliest created bid, then by bidder, so the result is deterministic
// regardless of index scan order. The descending scan over the shared price
// index pages by scanBatch entries. Returns nil if the token has no bids.
func (s *Store) HighestBid(ctx context.Context, token market.TokenID, scanBatch int) (*market.Bid, error) {
	if scanBatch <= 0 {
		scanBatch = defaultListLimit
	}

	best, err := s.findTopAmount(token, scanBatch)
	if err != nil {
		return nil, err
	}
	if best == nil {
		return nil, nil
	}

	// All ties share the /bids_price/<amount>/<token_id>/ prefix.
	results, err := s.store.Query(ctx, dsq.Query{
		Prefix: dsBidPricePrefix.
			ChildString(amountComponent(*best)).
			ChildString(token).String(),
		Orders:   []dsq.Order{dsq.OrderByKey{}},
		KeysOnly: true,
	})
	if err != nil {
		return nil, fmt.Errorf("querying ties: %v", err)
	}
	defer func() { _ = results.Close() }()

	var winner *market.Bid
	for res := range results.Next() {
		if res.Error != nil {
			return nil, fmt.Errorf("getting next result: %v", res.Error)
		}
		_, _, bidder, err := parsePriceKey(res.Key)
		if err != nil {
			return nil, err
		}
		bid, err := getBid(ctx, s.store, token, bidder)
		if err != nil {
			return nil, err
		}
		if winner == nil || bid.CreatedAt.Before(winner.CreatedAt) {
			winner = bid
		}
	}
	return winner, nil
}

// findTopAmount pages down the price index until it sees token, returning
// the amount of that first (highest) match.
func (s *Store) findTopAmount(token market.TokenID, scanBatch int) (*uint64, error) {
	seek := dsBidPricePrefix.ChildString(seekTop).String()
	for {
		results, err := s.store.QueryExtended(dsextensions.QueryExt{
			Query: dsq.Query{
				Prefix:   dsBidPricePrefix.String(),
				Orders:   []dsq.Order{dsq.OrderByKeyDescending{}},
				Limit:    scanBatch + 1,
				KeysOnly: true,
			},
			SeekPrefix: seek,
		})
		if err != nil {
			return nil, fmt.Errorf("querying price index: %v", err)
		}
		var (
			n    int
			last string
		)
		for res := range results.Next() {
			if res.Error != nil {
				_ = results.Close()
				return nil, fmt.Errorf("getting next result: %v", res.Error)
			}
			if res.Key == seek {
				continue
			}
			n++
			last = res.Key
			amount, keyToken, _, err := parsePriceKey(res.Key)
			if err != nil {
				_ = results.Close()
				return nil, err
			}
			if keyToken == token {
				_ = results.Close()
				return &amount, nil
			}
			if n == scanBatch {
				break
			}
		}
		_ = results.Close()
		if n < scanBatch {
			return nil, nil
		}
		seek = last
	}
}

// ListBidsForSeller returns the bids on all of a seller's listed tokens,
// ordered by (token_id, bidder). The cursor is an exclusive (token_id,
// bidder) pair carried in a BidOffset; its amount is ignored. The join
// walks the seller's asks token by token, so a page may span tokens.
func (s *Store) ListBidsForSeller(
	ctx context.Context,
	seller market.Address,
	startAfter *market.BidOffset,
	limit int,
) ([]market.Bid, error) {
	limit = limitOrDefault(limit)

	var (
		askCursor market.TokenID
		bidCursor market.Address
	)
	if startAfter != nil {
		askCursor = startAfter.TokenID
		bidCursor = startAfter.Bidder
	}

	var list []market.Bid
	// Resume on the cursor token itself: it may still have bids after
	// the cursor bidder.
	tokens := []market.TokenID{}
	if askCursor != "" {
		tokens = append(tokens, askCursor)
	}
	for len(list) < limit {
		for _, token := range tokens {
			after := market.Address("")
			if token == askCursor {
				after = bidCursor
			}
			bids, err := s.ListBids(ctx, token, after, limit-len(list))
			if err != nil {
				return nil, err
			}
			list = append(list, bids...)
			if len(list) == limit {
				return list, nil
			}
		}
		asks, err := s.ListAsksBySeller(ctx, seller, askCursor, limit)
		if err != nil {
			return nil, err
		}
		if len(asks) == 0 {
			return list, nil
		}
		tokens = tokens[:0]
		for _, ask := range asks {
			tokens = append(tokens, ask.TokenID)
		}
		askCursor = asks[len(asks)-1].TokenID
		bidCursor = ""
	}
	return list, nil
}

func parsePriceKey(key string) (amount uint64, token market.TokenID, bidder market.Address, err error) {
	ns := ds.RawKey(key).Namespaces()
	if len(ns) != 4 {
		return 0, "", "", fmt.Errorf("malformed price index key: %s", key)
	}
	amount, err = strconv.ParseUint(ns[1], 10, 64)
	if err != nil {
		return 0, "", "", fmt.Errorf("parsing amount from key %s: %v", key, err)
	}
	return amount, ns[2], ns[3], nil
}

func putBid(ctx context.Context, txn ds.Txn, bid market.Bid) error {
	if err := putGob(ctx, txn, bidKey(bid.TokenID, bid.Bidder), bid); err != nil {
		return fmt.Errorf("putting bid: %v", err)
	}
	if err := txn.Put(ctx, bidBidderKey(bid.Bidder, bid.TokenID), nil); err != nil {
		return fmt.Errorf("putting bidder index: %v", err)
	}
	if err := txn.Put(ctx, bidPriceKey(bid), nil); err != nil {
		return fmt.Errorf("putting price index: %v", err)
	}
	return nil
}

func deleteBid(ctx context.Context, txn ds.Txn, bid market.Bid) error {
	if err := txn.Delete(ctx, bidKey(bid.TokenID, bid.Bidder)); err != nil {
		return fmt.Errorf("deleting bid: %v", err)
	}
	if err := txn.Delete(ctx, bidBidderKey(bid.Bidder, bid.TokenID)); err != nil {
		return fmt.Errorf("deleting bidder index: %v", err)
	}
	if err := txn.Delete(ctx, bidPriceKey(bid)); err != nil {
		return fmt.Errorf("deleting price index: %v", err)
	}
	return nil
}
