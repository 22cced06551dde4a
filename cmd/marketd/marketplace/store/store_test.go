package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	badger "github.com/textileio/go-ds-badger3"
	golog "github.com/textileio/go-log/v2"
	"github.com/nameswap/market-core/logging"
	"github.com/nameswap/market-core/market"
)

func init() {
	if err := logging.SetLogLevels(map[string]golog.LogLevel{
		"marketd/store": golog.LevelDebug,
	}); err != nil {
		panic(err)
	}
}

func newStore(t *testing.T) *Store {
	t.Helper()
	ds, err := badger.NewDatastore(t.TempDir(), &badger.DefaultOptions)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, ds.Close()) })
	return NewStore(ds)
}

func TestStore_Setup(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newStore(t)

	ok, err := s.IsSetup(ctx)
	require.NoError(t, err)
	require.False(t, ok)

	conf := market.Config{Minter: "minter1", Collection: "collection1"}
	require.NoError(t, s.Setup(ctx, conf))

	ok, err = s.IsSetup(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	got, err := s.GetConfig(ctx)
	require.NoError(t, err)
	require.Equal(t, conf, got)

	// Setup is one-shot.
	err = s.Setup(ctx, market.Config{Minter: "minter2", Collection: "collection2"})
	require.ErrorIs(t, err, market.ErrAlreadySetup)

	require.NoError(t, s.SetCollection(ctx, "collection3"))
	require.NoError(t, s.SetMinter(ctx, "minter3"))
	got, err = s.GetConfig(ctx)
	require.NoError(t, err)
	require.Equal(t, market.Config{Minter: "minter3", Collection: "collection3"}, got)
}

func TestStore_Params(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newStore(t)

	params := market.SudoParams{
		TradingFeeBps:      200,
		MinPrice:           100,
		AskInterval:        time.Minute,
		ValidBidQueryLimit: 30,
		CooldownDuration:   time.Hour,
		CooldownCancelFee:  market.Coin{Denom: "ubtsg", Amount: 500},
	}
	require.NoError(t, s.SetParams(ctx, params))

	got, err := s.GetParams(ctx)
	require.NoError(t, err)
	require.Equal(t, params, got)
}

func TestStore_Hooks(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newStore(t)

	hooks, err := s.ListHooks(ctx, market.HookKindSale)
	require.NoError(t, err)
	require.Empty(t, hooks)

	require.NoError(t, s.AddHook(ctx, market.HookKindSale, "listener1", 2))
	require.NoError(t, s.AddHook(ctx, market.HookKindSale, "listener2", 2))

	// Registries are per kind.
	require.NoError(t, s.AddHook(ctx, market.HookKindAsk, "listener1", 2))

	err = s.AddHook(ctx, market.HookKindSale, "listener1", 2)
	require.Error(t, err)

	err = s.AddHook(ctx, market.HookKindSale, "listener3", 2)
	require.ErrorIs(t, err, market.ErrHookLimitReached)

	hooks, err = s.ListHooks(ctx, market.HookKindSale)
	require.NoError(t, err)
	require.Equal(t, []market.Address{"listener1", "listener2"}, hooks)

	require.NoError(t, s.RemoveHook(ctx, market.HookKindSale, "listener1"))
	hooks, err = s.ListHooks(ctx, market.HookKindSale)
	require.NoError(t, err)
	require.Equal(t, []market.Address{"listener2"}, hooks)

	err = s.RemoveHook(ctx, market.HookKindSale, "listener1")
	require.Error(t, err)
}
