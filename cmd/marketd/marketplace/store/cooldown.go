package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	ds "github.com/ipfs/go-datastore"
	dsq "github.com/ipfs/go-datastore/query"
	dsextensions "github.com/textileio/go-datastore-extensions"
	"github.com/nameswap/market-core/market"
)

func pendingKey(token market.TokenID) ds.Key {
	return dsCooldownPrefix.ChildString(token)
}

// GetPending returns the pending settlement for token, or
// ErrCooldownNotFound.
func (s *Store) GetPending(ctx context.Context, token market.TokenID) (*market.PendingBid, error) {
	return getPending(ctx, s.store, token)
}

func getPending(ctx context.Context, reader ds.Read, token market.TokenID) (*market.PendingBid, error) {
	var pending market.PendingBid
	err := getGob(ctx, reader, pendingKey(token), &pending)
	if errors.Is(err, ds.ErrNotFound) {
		return nil, market.ErrCooldownNotFound
	} else if err != nil {
		return nil, fmt.Errorf("getting pending settlement: %v", err)
	}
	return &pending, nil
}

// HasPending reports whether token has an open settlement window.
func (s *Store) HasPending(ctx context.Context, token market.TokenID) (bool, error) {
	ok, err := s.store.Has(ctx, pendingKey(token))
	if err != nil {
		return false, fmt.Errorf("checking pending settlement: %v", err)
	}
	return ok, nil
}

// AcceptBid atomically moves (token, bidder) from the live bid book into a
// pending settlement unlocking at unlockTime. It fails with
// ErrAccountLocked if a settlement is already open for token.
func (s *Store) AcceptBid(
	ctx context.Context,
	token market.TokenID,
	bidder market.Address,
	unlockTime time.Time,
) (*market.PendingBid, error) {
	txn, err := s.store.NewTransaction(ctx, false)
	if err != nil {
		return nil, fmt.Errorf("creating txn: %v", err)
	}
	defer txn.Discard(ctx)

	ok, err := txn.Has(ctx, pendingKey(token))
	if err != nil {
		return nil, fmt.Errorf("checking pending settlement: %v", err)
	}
	if ok {
		return nil, market.ErrAccountLocked
	}
	ask, err := getAsk(ctx, txn, token)
	if err != nil {
		return nil, err
	}
	bid, err := getBid(ctx, txn, token, bidder)
	if err != nil {
		return nil, err
	}
	if err := deleteBid(ctx, txn, *bid); err != nil {
		return nil, err
	}
	pending := market.PendingBid{
		Ask:        *ask,
		NewOwner:   bid.Bidder,
		Amount:     bid.Amount,
		UnlockTime: unlockTime,
	}
	if err := putGob(ctx, txn, pendingKey(token), pending); err != nil {
		return nil, fmt.Errorf("putting pending settlement: %v", err)
	}
	if err := txn.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing txn: %v", err)
	}
	log.Debugf("accepted bid %d on %s from %s; unlocks at %s",
		bid.Amount, token, bid.Bidder, unlockTime)
	return &pending, nil
}

// SettlePending closes the settlement window for token: the pending record
// is deleted and the ask is re-created under the new owner with a fresh id,
// so the token stays listed. The closed settlement and the new ask are
// returned.
func (s *Store) SettlePending(ctx context.Context, token market.TokenID) (*market.PendingBid, market.Ask, error) {
	txn, err := s.store.NewTransaction(ctx, false)
	if err != nil {
		return nil, market.Ask{}, fmt.Errorf("creating txn: %v", err)
	}
	defer txn.Discard(ctx)

	pending, err := getPending(ctx, txn, token)
	if err != nil {
		return nil, market.Ask{}, err
	}
	if err := deleteAsk(ctx, txn, pending.Ask); err != nil {
		return nil, market.Ask{}, err
	}
	id, err := nextSeq(ctx, txn, dsAskSeqKey)
	if err != nil {
		return nil, market.Ask{}, fmt.Errorf("incrementing ask seq: %v", err)
	}
	ask := market.Ask{TokenID: token, ID: id, Seller: pending.NewOwner}
	if err := putAsk(ctx, txn, ask); err != nil {
		return nil, market.Ask{}, err
	}
	if err := txn.Delete(ctx, pendingKey(token)); err != nil {
		return nil, market.Ask{}, fmt.Errorf("deleting pending settlement: %v", err)
	}
	if err := txn.Commit(ctx); err != nil {
		return nil, market.Ask{}, fmt.Errorf("committing txn: %v", err)
	}
	log.Debugf("settled %s to %s as ask %d", token, pending.NewOwner, ask.ID)
	return pending, ask, nil
}

// CancelPending reopens token for trading: the pending record is deleted
// and the original ask is left untouched. The cancelled settlement is
// returned so escrow can be refunded.
func (s *Store) CancelPending(ctx context.Context, token market.TokenID) (*market.PendingBid, error) {
	txn, err := s.store.NewTransaction(ctx, false)
	if err != nil {
		return nil, fmt.Errorf("creating txn: %v", err)
	}
	defer txn.Discard(ctx)

	pending, err := getPending(ctx, txn, token)
	if err != nil {
		return nil, err
	}
	if err := txn.Delete(ctx, pendingKey(token)); err != nil {
		return nil, fmt.Errorf("deleting pending settlement: %v", err)
	}
	if err := txn.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing txn: %v", err)
	}
	log.Debugf("cancelled settlement of %s to %s", token, pending.NewOwner)
	return pending, nil
}

// ListPendings returns open settlements ordered by token id, starting
// after the exclusive startAfter token.
func (s *Store) ListPendings(
	ctx context.Context,
	startAfter market.TokenID,
	limit int,
) ([]market.PendingBid, error) {
	limit = limitOrDefault(limit)

	var seek string
	if startAfter != "" {
		seek = pendingKey(startAfter).String()
	}
	results, err := s.store.QueryExtended(dsextensions.QueryExt{
		Query: dsq.Query{
			Prefix: dsCooldownPrefix.String(),
			Orders: []dsq.Order{dsq.OrderByKey{}},
			Limit:  limit + 1,
		},
		SeekPrefix: seek,
	})
	if err != nil {
		return nil, fmt.Errorf("querying pending settlements: %v", err)
	}
	defer func() { _ = results.Close() }()

	var list []market.PendingBid
	for res := range results.Next() {
		if res.Error != nil {
			return nil, fmt.Errorf("getting next result: %v", res.Error)
		}
		if res.Key == seek {
			continue
		}
		var pending market.PendingBid
		if err := decode(res.Value, &pending); err != nil {
			return nil, fmt.Errorf("decoding pending settlement: %v", err)
		}
		list = append(list, pending)
		if len(list) == limit {
			break
		}
	}
	return list, nil
}
