package localchain

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBank_Ledger(t *testing.T) {
	t.Parallel()
	b := NewBank()
	ctx := context.Background()

	b.Credit("alice", 1000)
	require.Equal(t, uint64(1000), b.BalanceOf("alice"))

	require.Error(t, b.Escrow("alice", 2000))
	require.NoError(t, b.Escrow("alice", 600))
	require.Equal(t, uint64(400), b.BalanceOf("alice"))
	require.Equal(t, uint64(600), b.BalanceOf(EscrowAccount))

	require.NoError(t, b.Send(ctx, "bob", 500))
	require.Equal(t, uint64(500), b.BalanceOf("bob"))

	require.Error(t, b.Burn(ctx, 200))
	require.NoError(t, b.Burn(ctx, 100))
	require.Equal(t, uint64(100), b.Burned())
	require.Equal(t, uint64(0), b.BalanceOf(EscrowAccount))

	journal := b.Journal()
	require.Len(t, journal, 4)
	for i, e := range journal {
		require.NotEmpty(t, e.ID)
		if i > 0 {
			// ULIDs give the journal a sortable order.
			require.GreaterOrEqual(t, e.ID, journal[i-1].ID)
		}
	}
}

func TestCollection_OwnershipAndBinding(t *testing.T) {
	t.Parallel()
	c := NewCollection()
	ctx := context.Background()

	require.NoError(t, c.Mint("alice", "owner1"))
	require.Error(t, c.Mint("alice", "owner2"))

	owner, err := c.OwnerOf(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, "owner1", owner)
	_, err = c.OwnerOf(ctx, "nosuch")
	require.Error(t, err)

	ok, err := c.IsApproved(ctx, "owner1")
	require.NoError(t, err)
	require.False(t, ok)
	c.SetApproval("owner1", true)
	ok, err = c.IsApproved(ctx, "owner1")
	require.NoError(t, err)
	require.True(t, ok)

	bound, err := c.IdentityBound(ctx, "alice")
	require.NoError(t, err)
	require.True(t, bound)
	c.BreakBinding("alice")
	bound, err = c.IdentityBound(ctx, "alice")
	require.NoError(t, err)
	require.False(t, bound)

	// Transfer re-establishes the binding for the new owner.
	require.NoError(t, c.TransferNFT(ctx, "alice", "owner2"))
	owner, err = c.OwnerOf(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, "owner2", owner)
	bound, err = c.IdentityBound(ctx, "alice")
	require.NoError(t, err)
	require.True(t, bound)
}

func TestWebhookCaller(t *testing.T) {
	t.Parallel()

	bodies := make(chan string, 2)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		bodies <- string(body)
		if r.URL.Path == "/fail" {
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer srv.Close()

	outcomes := make(chan error, 2)
	caller := NewWebhookCaller(time.Second, func(id string, err error) {
		outcomes <- err
	})

	require.NoError(t, caller.Call(context.Background(), srv.URL+"/ok", []byte(`{"kind":"sale"}`), "id1"))
	require.NoError(t, <-outcomes)
	require.Equal(t, `{"kind":"sale"}`, <-bodies)

	require.NoError(t, caller.Call(context.Background(), srv.URL+"/fail", []byte(`{}`), "id2"))
	require.Error(t, <-outcomes)
	<-bodies

	require.NoError(t, caller.Close())
}
