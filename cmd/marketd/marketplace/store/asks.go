package store

import (
	"context"
	"errors"
	"fmt"
	"path"

	ds "github.com/ipfs/go-datastore"
	dsq "github.com/ipfs/go-datastore/query"
	dsextensions "github.com/textileio/go-datastore-extensions"
	"github.com/nameswap/market-core/market"
)

// dsAskSeqKey holds the monotonic ask id sequence. It is kept separate
// from the live count so removing an ask can never cause id reuse.
var dsAskSeqKey = ds.NewKey("/ask_seq")

func askKey(token market.TokenID) ds.Key {
	return dsAskPrefix.ChildString(token)
}

func askIDKey(id uint64) ds.Key {
	return dsAskIDPrefix.ChildString(fmt.Sprintf("%020d", id))
}

func askSellerKey(seller market.Address, token market.TokenID) ds.Key {
	return dsAskSellerPrefix.ChildString(seller).ChildString(token)
}

// CreateAsk stores a new ask for token, assigning the next sequence id.
// It fails with ErrAlreadyListed if the token is already listed.
func (s *Store) CreateAsk(ctx context.Context, token market.TokenID, seller market.Address) (market.Ask, error) {
	txn, err := s.store.NewTransaction(ctx, false)
	if err != nil {
		return market.Ask{}, fmt.Errorf("creating txn: %v", err)
	}
	defer txn.Discard(ctx)

	ok, err := txn.Has(ctx, askKey(token))
	if err != nil {
		return market.Ask{}, fmt.Errorf("checking ask: %v", err)
	}
	if ok {
		return market.Ask{}, market.ErrAlreadyListed
	}

	id, err := nextSeq(ctx, txn, dsAskSeqKey)
	if err != nil {
		return market.Ask{}, fmt.Errorf("incrementing ask seq: %v", err)
	}
	ask := market.Ask{TokenID: token, ID: id, Seller: seller}
	if err := putAsk(ctx, txn, ask); err != nil {
		return market.Ask{}, err
	}
	if err := bumpCount(ctx, txn, dsAskCountKey, 1); err != nil {
		return market.Ask{}, fmt.Errorf("incrementing ask count: %v", err)
	}
	if err := txn.Commit(ctx); err != nil {
		return market.Ask{}, fmt.Errorf("committing txn: %v", err)
	}
	log.Debugf("created ask %d for %s (seller %s)", ask.ID, token, seller)
	return ask, nil
}

// GetAsk returns the ask for token, or ErrAskNotFound.
func (s *Store) GetAsk(ctx context.Context, token market.TokenID) (*market.Ask, error) {
	return getAsk(ctx, s.store, token)
}

func getAsk(ctx context.Context, reader ds.Read, token market.TokenID) (*market.Ask, error) {
	var ask market.Ask
	err := getGob(ctx, reader, askKey(token), &ask)
	if errors.Is(err, ds.ErrNotFound) {
		return nil, market.ErrAskNotFound
	} else if err != nil {
		return nil, fmt.Errorf("getting ask: %v", err)
	}
	return &ask, nil
}

// RemoveAsk deletes the ask for token. It fails with ErrExistingBids while
// any live bid remains, so escrowed funds can never be orphaned.
func (s *Store) RemoveAsk(ctx context.Context, token market.TokenID) (*market.Ask, error) {
	txn, err := s.store.NewTransaction(ctx, false)
	if err != nil {
		return nil, fmt.Errorf("creating txn: %v", err)
	}
	defer txn.Discard(ctx)

	ask, err := getAsk(ctx, txn, token)
	if err != nil {
		return nil, err
	}
	ok, err := hasBids(ctx, txn, token)
	if err != nil {
		return nil, err
	}
	if ok {
		return nil, market.ErrExistingBids
	}
	if err := deleteAsk(ctx, txn, *ask); err != nil {
		return nil, err
	}
	if err := bumpCount(ctx, txn, dsAskCountKey, -1); err != nil {
		return nil, fmt.Errorf("decrementing ask count: %v", err)
	}
	if err := txn.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing txn: %v", err)
	}
	log.Debugf("removed ask for %s", token)
	return ask, nil
}

// UpdateAskSeller points the ask at a new seller, re-indexing it. Bids are
// untouched.
func (s *Store) UpdateAskSeller(
	ctx context.Context,
	token market.TokenID,
	seller market.Address,
) (*market.Ask, error) {
	txn, err := s.store.NewTransaction(ctx, false)
	if err != nil {
		return nil, fmt.Errorf("creating txn: %v", err)
	}
	defer txn.Discard(ctx)

	ask, err := getAsk(ctx, txn, token)
	if err != nil {
		return nil, err
	}
	if err := txn.Delete(ctx, askSellerKey(ask.Seller, token)); err != nil {
		return nil, fmt.Errorf("deleting seller index: %v", err)
	}
	ask.Seller = seller
	if err := putAsk(ctx, txn, *ask); err != nil {
		return nil, err
	}
	if err := txn.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing txn: %v", err)
	}
	return ask, nil
}

// AskCount returns the number of live asks.
func (s *Store) AskCount(ctx context.Context) (uint64, error) {
	return readCount(ctx, s.store, dsAskCountKey)
}

// ListAsks returns asks ordered by id, starting after the exclusive
// startAfter id (zero for the beginning).
func (s *Store) ListAsks(ctx context.Context, startAfter uint64, limit int) ([]market.Ask, error) {
	limit = limitOrDefault(limit)

	var seek string
	if startAfter > 0 {
		seek = askIDKey(startAfter).String()
	}
	results, err := s.store.QueryExtended(dsextensions.QueryExt{
		Query: dsq.Query{
			Prefix: dsAskIDPrefix.String(),
			Orders: []dsq.Order{dsq.OrderByKey{}},
			Limit:  limit + 1,
		},
		SeekPrefix: seek,
	})
	if err != nil {
		return nil, fmt.Errorf("querying asks: %v", err)
	}
	defer func() { _ = results.Close() }()

	var list []market.Ask
	for res := range results.Next() {
		if res.Error != nil {
			return nil, fmt.Errorf("getting next result: %v", res.Error)
		}
		if res.Key == seek {
			continue
		}
		ask, err := getAsk(ctx, s.store, string(res.Value))
		if err != nil {
			return nil, err
		}
		list = append(list, *ask)
		if len(list) == limit {
			break
		}
	}
	return list, nil
}

// ListAsksBySeller returns a seller's asks ordered by token id, starting
// after the exclusive startAfter token.
func (s *Store) ListAsksBySeller(
	ctx context.Context,
	seller market.Address,
	startAfter market.TokenID,
	limit int,
) ([]market.Ask, error) {
	limit = limitOrDefault(limit)

	tokens, err := s.listIndexedKeys(
		dsAskSellerPrefix.ChildString(seller),
		startAfter,
		limit,
		false,
	)
	if err != nil {
		return nil, err
	}
	list := make([]market.Ask, 0, len(tokens))
	for _, token := range tokens {
		ask, err := getAsk(ctx, s.store, token)
		if err != nil {
			return nil, err
		}
		list = append(list, *ask)
	}
	return list, nil
}

// listIndexedKeys pages through a nil-valued index prefix and returns the
// final key components, using an exclusive seek cursor.
func (s *Store) listIndexedKeys(prefix ds.Key, startAfter string, limit int, desc bool) ([]string, error) {
	var (
		order dsq.Order = dsq.OrderByKey{}
		seek  string
	)
	if desc {
		order = dsq.OrderByKeyDescending{}
	}
	if startAfter != "" {
		seek = prefix.ChildString(startAfter).String()
	}
	results, err := s.store.QueryExtended(dsextensions.QueryExt{
		Query: dsq.Query{
			Prefix:   prefix.String(),
			Orders:   []dsq.Order{order},
			Limit:    limit + 1,
			KeysOnly: true,
		},
		SeekPrefix: seek,
	})
	if err != nil {
		return nil, fmt.Errorf("querying index: %v", err)
	}
	defer func() { _ = results.Close() }()

	var keys []string
	for res := range results.Next() {
		if res.Error != nil {
			return nil, fmt.Errorf("getting next result: %v", res.Error)
		}
		if res.Key == seek {
			continue
		}
		keys = append(keys, path.Base(res.Key))
		if len(keys) == limit {
			break
		}
	}
	return keys, nil
}

func putAsk(ctx context.Context, txn ds.Txn, ask market.Ask) error {
	if err := putGob(ctx, txn, askKey(ask.TokenID), ask); err != nil {
		return fmt.Errorf("putting ask: %v", err)
	}
	if err := txn.Put(ctx, askIDKey(ask.ID), []byte(ask.TokenID)); err != nil {
		return fmt.Errorf("putting id index: %v", err)
	}
	if err := txn.Put(ctx, askSellerKey(ask.Seller, ask.TokenID), nil); err != nil {
		return fmt.Errorf("putting seller index: %v", err)
	}
	return nil
}

func deleteAsk(ctx context.Context, txn ds.Txn, ask market.Ask) error {
	if err := txn.Delete(ctx, askKey(ask.TokenID)); err != nil {
		return fmt.Errorf("deleting ask: %v", err)
	}
	if err := txn.Delete(ctx, askIDKey(ask.ID)); err != nil {
		return fmt.Errorf("deleting id index: %v", err)
	}
	if err := txn.Delete(ctx, askSellerKey(ask.Seller, ask.TokenID)); err != nil {
		return fmt.Errorf("deleting seller index: %v", err)
	}
	return nil
}

func nextSeq(ctx context.Context, txn ds.Txn, key ds.Key) (uint64, error) {
	var seq uint64
	err := getGob(ctx, txn, key, &seq)
	if err != nil && !errors.Is(err, ds.ErrNotFound) {
		return 0, err
	}
	seq++
	if err := putGob(ctx, txn, key, seq); err != nil {
		return 0, err
	}
	return seq, nil
}

func bumpCount(ctx context.Context, txn ds.Txn, key ds.Key, delta int64) error {
	var count uint64
	err := getGob(ctx, txn, key, &count)
	if err != nil && !errors.Is(err, ds.ErrNotFound) {
		return err
	}
	count = uint64(int64(count) + delta)
	return putGob(ctx, txn, key, count)
}

func readCount(ctx context.Context, reader ds.Read, key ds.Key) (uint64, error) {
	var count uint64
	err := getGob(ctx, reader, key, &count)
	if errors.Is(err, ds.ErrNotFound) {
		return 0, nil
	} else if err != nil {
		return 0, err
	}
	return count, nil
}
