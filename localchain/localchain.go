// Package localchain provides in-process implementations of the host
// collaborators the marketplace engine needs: a bank ledger for escrowed
// native funds, and an NFT collection registry with ownership, transfer
// approval, and identity binding. It stands in for the chain in standalone
// deployments and in tests.
package localchain

import (
	"context"
	"crypto/rand"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	golog "github.com/textileio/go-log/v2"
	"github.com/nameswap/market-core/market"
)

var log = golog.Logger("localchain")

// EscrowAccount is the ledger account holding marketplace escrow.
const EscrowAccount = market.Address("marketplace-escrow")

// Entry is one journaled ledger movement.
type Entry struct {
	ID     string
	From   market.Address
	To     market.Address
	Amount uint64
	Burn   bool
	At     time.Time
}

// Bank is an in-memory ledger. The marketplace spends from the escrow
// account; hosts credit escrow before running a payable command.
type Bank struct {
	lk       sync.Mutex
	balances map[market.Address]uint64
	burned   uint64
	journal  []Entry
	entropy  *ulid.MonotonicEntropy
}

// NewBank returns an empty ledger.
func NewBank() *Bank {
	return &Bank{
		balances: make(map[market.Address]uint64),
		entropy:  ulid.Monotonic(rand.Reader, 0),
	}
}

// Credit mints amount into an account.
func (b *Bank) Credit(account market.Address, amount uint64) {
	b.lk.Lock()
	defer b.lk.Unlock()
	b.balances[account] += amount
	b.log(Entry{From: "", To: account, Amount: amount})
}

// Escrow moves amount from an account into marketplace escrow. It is how
// a payable command attaches funds.
func (b *Bank) Escrow(from market.Address, amount uint64) error {
	b.lk.Lock()
	defer b.lk.Unlock()
	if b.balances[from] < amount {
		return fmt.Errorf("insufficient funds: %s has %d, needs %d", from, b.balances[from], amount)
	}
	b.balances[from] -= amount
	b.balances[EscrowAccount] += amount
	b.log(Entry{From: from, To: EscrowAccount, Amount: amount})
	return nil
}

// Send releases escrowed funds to an address.
func (b *Bank) Send(ctx context.Context, to market.Address, amount uint64) error {
	b.lk.Lock()
	defer b.lk.Unlock()
	if b.balances[EscrowAccount] < amount {
		return fmt.Errorf("escrow underflow: has %d, needs %d", b.balances[EscrowAccount], amount)
	}
	b.balances[EscrowAccount] -= amount
	b.balances[to] += amount
	b.log(Entry{From: EscrowAccount, To: to, Amount: amount})
	return nil
}

// Burn destroys escrowed funds.
func (b *Bank) Burn(ctx context.Context, amount uint64) error {
	b.lk.Lock()
	defer b.lk.Unlock()
	if b.balances[EscrowAccount] < amount {
		return fmt.Errorf("escrow underflow: has %d, needs %d", b.balances[EscrowAccount], amount)
	}
	b.balances[EscrowAccount] -= amount
	b.burned += amount
	b.log(Entry{From: EscrowAccount, Amount: amount, Burn: true})
	return nil
}

// BalanceOf returns an account's balance.
func (b *Bank) BalanceOf(account market.Address) uint64 {
	b.lk.Lock()
	defer b.lk.Unlock()
	return b.balances[account]
}

// Burned returns the total destroyed amount.
func (b *Bank) Burned() uint64 {
	b.lk.Lock()
	defer b.lk.Unlock()
	return b.burned
}

// Journal returns a copy of all ledger movements in order.
func (b *Bank) Journal() []Entry {
	b.lk.Lock()
	defer b.lk.Unlock()
	out := make([]Entry, len(b.journal))
	copy(out, b.journal)
	return out
}

func (b *Bank) log(e Entry) {
	id, err := ulid.New(ulid.Timestamp(time.Now()), b.entropy)
	if err == nil {
		e.ID = id.String()
	}
	e.At = time.Now()
	b.journal = append(b.journal, e)
	log.Debugf("ledger %s: %s -> %s %d (burn=%v)", e.ID, e.From, e.To, e.Amount, e.Burn)
}

// Collection is an in-memory NFT registry implementing the ownership
// oracle and transfer surface the engine settles against.
type Collection struct {
	lk        sync.Mutex
	owners    map[market.TokenID]market.Address
	approvals map[market.Address]bool
	unbound   map[market.TokenID]bool
}

// NewCollection returns an empty registry.
func NewCollection() *Collection {
	return &Collection{
		owners:    make(map[market.TokenID]market.Address),
		approvals: make(map[market.Address]bool),
		unbound:   make(map[market.TokenID]bool),
	}
}

// Mint assigns a token to an owner.
func (c *Collection) Mint(token market.TokenID, owner market.Address) error {
	c.lk.Lock()
	defer c.lk.Unlock()
	if _, ok := c.owners[token]; ok {
		return fmt.Errorf("token %s already minted", token)
	}
	c.owners[token] = owner
	return nil
}

// SetApproval grants or revokes the marketplace's transfer approval for
// all of owner's tokens.
func (c *Collection) SetApproval(owner market.Address, approved bool) {
	c.lk.Lock()
	defer c.lk.Unlock()
	c.approvals[owner] = approved
}

// BreakBinding marks a token's identity binding as invalidated.
func (c *Collection) BreakBinding(token market.TokenID) {
	c.lk.Lock()
	defer c.lk.Unlock()
	c.unbound[token] = true
}

// OwnerOf returns the current owner of token.
func (c *Collection) OwnerOf(ctx context.Context, token market.TokenID) (market.Address, error) {
	c.lk.Lock()
	defer c.lk.Unlock()
	owner, ok := c.owners[token]
	if !ok {
		return "", fmt.Errorf("token %s not minted", token)
	}
	return owner, nil
}

// IsApproved reports whether the marketplace holds transfer approval for
// owner's tokens.
func (c *Collection) IsApproved(ctx context.Context, owner market.Address) (bool, error) {
	c.lk.Lock()
	defer c.lk.Unlock()
	return c.approvals[owner], nil
}

// IdentityBound reports whether token's identity binding is intact.
func (c *Collection) IdentityBound(ctx context.Context, token market.TokenID) (bool, error) {
	c.lk.Lock()
	defer c.lk.Unlock()
	return !c.unbound[token], nil
}

// TransferNFT moves token to a new owner. The binding is re-established
// for the new owner.
func (c *Collection) TransferNFT(ctx context.Context, token market.TokenID, to market.Address) error {
	c.lk.Lock()
	defer c.lk.Unlock()
	if _, ok := c.owners[token]; !ok {
		return fmt.Errorf("token %s not minted", token)
	}
	c.owners[token] = to
	delete(c.unbound, token)
	return nil
}
