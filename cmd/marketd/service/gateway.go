package service

import (
	"context"
	"fmt"

	"github.com/nameswap/market-core/cmd/marketd/marketplace"
	"github.com/nameswap/market-core/localchain"
	"github.com/nameswap/market-core/market"
)

// Gateway fronts the engine for the daemon's HTTP surface. On a chain the
// host moves a payable command's attached funds into escrow before the
// command runs; here the gateway plays that role against the local ledger,
// escrowing the payment up front and returning it when the command fails.
type Gateway struct {
	*marketplace.Marketplace
	bank *localchain.Bank
}

// NewGateway returns a Gateway escrowing payments on bank.
func NewGateway(mp *marketplace.Marketplace, bank *localchain.Bank) *Gateway {
	return &Gateway{Marketplace: mp, bank: bank}
}

// SetBid escrows the attached payment from the caller before placing the
// bid. Callers without sufficient funds are rejected before the engine
// runs.
func (g *Gateway) SetBid(
	ctx context.Context,
	caller market.Address,
	token market.TokenID,
	payment uint64,
) (*market.Result, error) {
	if err := g.bank.Escrow(caller, payment); err != nil {
		return nil, fmt.Errorf("escrowing payment: %v", err)
	}
	res, err := g.Marketplace.SetBid(ctx, caller, token, payment)
	if err != nil {
		g.release(ctx, caller, payment)
		return nil, err
	}
	return res, nil
}

// CancelCooldown escrows the attached cancellation fee from the caller
// before running the command.
func (g *Gateway) CancelCooldown(
	ctx context.Context,
	caller market.Address,
	token market.TokenID,
	payment uint64,
) (*market.Result, error) {
	if err := g.bank.Escrow(caller, payment); err != nil {
		return nil, fmt.Errorf("escrowing payment: %v", err)
	}
	res, err := g.Marketplace.CancelCooldown(ctx, caller, token, payment)
	if err != nil {
		g.release(ctx, caller, payment)
		return nil, err
	}
	return res, nil
}

// CreditAccount mints funds into an account on the local ledger.
func (g *Gateway) CreditAccount(account market.Address, amount uint64) {
	g.bank.Credit(account, amount)
}

func (g *Gateway) release(ctx context.Context, to market.Address, amount uint64) {
	if amount == 0 {
		return
	}
	if err := g.bank.Send(ctx, to, amount); err != nil {
		log.Errorf("returning escrowed payment to %s: %v", to, err)
	}
}
