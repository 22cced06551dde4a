package store

import (
	"bytes"
	"context"
	"encoding/gob"
	"errors"
	"fmt"

	ds "github.com/ipfs/go-datastore"
	golog "github.com/textileio/go-log/v2"
	"github.com/nameswap/market-core/dshelper/txndswrap"
	"github.com/nameswap/market-core/market"
)

const (
	// defaultListLimit is the default list page size.
	defaultListLimit = 10
	// maxListLimit is the max list page size.
	maxListLimit = 100
)

var (
	log = golog.Logger("marketd/store")

	// dsAskPrefix is the prefix for asks.
	// Structure: /asks/<token_id> -> Ask.
	dsAskPrefix = ds.NewKey("/asks")

	// dsAskIDPrefix is the id-ordered ask index.
	// Structure: /asks_id/<id> -> token_id.
	dsAskIDPrefix = ds.NewKey("/asks_id")

	// dsAskSellerPrefix is the seller ask index.
	// Structure: /asks_seller/<seller>/<token_id> -> nil.
	dsAskSellerPrefix = ds.NewKey("/asks_seller")

	// dsBidPrefix is the prefix for bids.
	// Structure: /bids/<token_id>/<bidder> -> Bid.
	dsBidPrefix = ds.NewKey("/bids")

	// dsBidBidderPrefix is the bidder bid index.
	// Structure: /bids_bidder/<bidder>/<token_id> -> nil.
	dsBidBidderPrefix = ds.NewKey("/bids_bidder")

	// dsBidPricePrefix is the amount-sorted bid index. The amount is
	// fixed-width so lexicographic key order equals numeric order.
	// Structure: /bids_price/<amount>/<token_id>/<bidder> -> nil.
	dsBidPricePrefix = ds.NewKey("/bids_price")

	// dsCooldownPrefix is the prefix for pending settlements.
	// Structure: /cooldowns/<token_id> -> PendingBid.
	dsCooldownPrefix = ds.NewKey("/cooldowns")

	// dsHookPrefix is the prefix for hook registries.
	// Structure: /hooks/<kind> -> []Address (insertion order).
	dsHookPrefix = ds.NewKey("/hooks")

	dsParamsKey   = ds.NewKey("/params")
	dsConfigKey   = ds.NewKey("/config")
	dsSetupKey    = ds.NewKey("/setup")
	dsAskCountKey = ds.NewKey("/ask_count")
)

// Store persists the marketplace state: asks, bids, pending settlements,
// governance params, and hook registries.
type Store struct {
	store txndswrap.TxnDatastore
}

// NewStore returns a new Store.
func NewStore(store txndswrap.TxnDatastore) *Store {
	return &Store{store: store}
}

// IsSetup reports whether the one-shot marketplace setup has run.
func (s *Store) IsSetup(ctx context.Context) (bool, error) {
	ok, err := s.store.Has(ctx, dsSetupKey)
	if err != nil {
		return false, fmt.Errorf("checking setup flag: %v", err)
	}
	return ok, nil
}

// Setup records the collaborator addresses. It fails if already run.
func (s *Store) Setup(ctx context.Context, conf market.Config) error {
	txn, err := s.store.NewTransaction(ctx, false)
	if err != nil {
		return fmt.Errorf("creating txn: %v", err)
	}
	defer txn.Discard(ctx)

	ok, err := txn.Has(ctx, dsSetupKey)
	if err != nil {
		return fmt.Errorf("checking setup flag: %v", err)
	}
	if ok {
		return market.ErrAlreadySetup
	}
	if err := putGob(ctx, txn, dsConfigKey, conf); err != nil {
		return fmt.Errorf("putting config: %v", err)
	}
	if err := txn.Put(ctx, dsSetupKey, []byte{1}); err != nil {
		return fmt.Errorf("putting setup flag: %v", err)
	}
	if err := txn.Commit(ctx); err != nil {
		return fmt.Errorf("committing txn: %v", err)
	}
	log.Debugf("setup with minter %s and collection %s", conf.Minter, conf.Collection)
	return nil
}

// GetConfig returns the collaborator addresses.
func (s *Store) GetConfig(ctx context.Context) (market.Config, error) {
	var conf market.Config
	if err := getGob(ctx, s.store, dsConfigKey, &conf); err != nil {
		return market.Config{}, err
	}
	return conf, nil
}

// SetCollection replaces the collection address (governance only).
func (s *Store) SetCollection(ctx context.Context, collection market.Address) error {
	return s.mutateConfig(ctx, func(c *market.Config) { c.Collection = collection })
}

// SetMinter replaces the factory/minter address (governance only).
func (s *Store) SetMinter(ctx context.Context, minter market.Address) error {
	return s.mutateConfig(ctx, func(c *market.Config) { c.Minter = minter })
}

func (s *Store) mutateConfig(ctx context.Context, mut func(*market.Config)) error {
	txn, err := s.store.NewTransaction(ctx, false)
	if err != nil {
		return fmt.Errorf("creating txn: %v", err)
	}
	defer txn.Discard(ctx)

	var conf market.Config
	if err := getGob(ctx, txn, dsConfigKey, &conf); err != nil {
		return err
	}
	mut(&conf)
	if err := putGob(ctx, txn, dsConfigKey, conf); err != nil {
		return fmt.Errorf("putting config: %v", err)
	}
	return txn.Commit(ctx)
}

// GetParams returns the governance params.
func (s *Store) GetParams(ctx context.Context) (market.SudoParams, error) {
	var params market.SudoParams
	if err := getGob(ctx, s.store, dsParamsKey, &params); err != nil {
		return market.SudoParams{}, err
	}
	return params, nil
}

// SetParams replaces the governance params.
func (s *Store) SetParams(ctx context.Context, params market.SudoParams) error {
	if err := putGob(ctx, s.store, dsParamsKey, params); err != nil {
		return fmt.Errorf("putting params: %v", err)
	}
	return nil
}

// ListHooks returns the registered listeners of a kind in insertion order.
func (s *Store) ListHooks(ctx context.Context, kind market.HookKind) ([]market.Address, error) {
	var hooks []market.Address
	err := getGob(ctx, s.store, dsHookPrefix.ChildString(string(kind)), &hooks)
	if errors.Is(err, ds.ErrNotFound) {
		return nil, nil
	} else if err != nil {
		return nil, err
	}
	return hooks, nil
}

// AddHook appends a listener to a registry. It fails if the listener is
// already registered or the registry is at maxHooks.
func (s *Store) AddHook(ctx context.Context, kind market.HookKind, hook market.Address, maxHooks int) error {
	txn, err := s.store.NewTransaction(ctx, false)
	if err != nil {
		return fmt.Errorf("creating txn: %v", err)
	}
	defer txn.Discard(ctx)

	key := dsHookPrefix.ChildString(string(kind))
	var hooks []market.Address
	if err := getGob(ctx, txn, key, &hooks); err != nil && !errors.Is(err, ds.ErrNotFound) {
		return err
	}
	for _, h := range hooks {
		if h == hook {
			return fmt.Errorf("hook %s already registered", hook)
		}
	}
	if len(hooks) >= maxHooks {
		return market.ErrHookLimitReached
	}
	hooks = append(hooks, hook)
	if err := putGob(ctx, txn, key, hooks); err != nil {
		return fmt.Errorf("putting hooks: %v", err)
	}
	return txn.Commit(ctx)
}

// RemoveHook removes a listener from a registry.
func (s *Store) RemoveHook(ctx context.Context, kind market.HookKind, hook market.Address) error {
	txn, err := s.store.NewTransaction(ctx, false)
	if err != nil {
		return fmt.Errorf("creating txn: %v", err)
	}
	defer txn.Discard(ctx)

	key := dsHookPrefix.ChildString(string(kind))
	var hooks []market.Address
	if err := getGob(ctx, txn, key, &hooks); err != nil && !errors.Is(err, ds.ErrNotFound) {
		return err
	}
	found := false
	out := hooks[:0]
	for _, h := range hooks {
		if h == hook {
			found = true
			continue
		}
		out = append(out, h)
	}
	if !found {
		return fmt.Errorf("hook %s not registered", hook)
	}
	if err := putGob(ctx, txn, key, out); err != nil {
		return fmt.Errorf("putting hooks: %v", err)
	}
	return txn.Commit(ctx)
}

func limitOrDefault(limit int) int {
	if limit == -1 {
		return maxListLimit
	} else if limit <= 0 {
		return defaultListLimit
	} else if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}

func putGob(ctx context.Context, writer ds.Write, key ds.Key, v interface{}) error {
	val, err := encode(v)
	if err != nil {
		return fmt.Errorf("encoding value: %v", err)
	}
	return writer.Put(ctx, key, val)
}

func getGob(ctx context.Context, reader ds.Read, key ds.Key, v interface{}) error {
	val, err := reader.Get(ctx, key)
	if err != nil {
		return err
	}
	return decode(val, v)
}

func encode(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decode(val []byte, v interface{}) error {
	return gob.NewDecoder(bytes.NewReader(val)).Decode(v)
}
