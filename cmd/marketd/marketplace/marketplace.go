package marketplace

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	golog "github.com/textileio/go-log/v2"
	"github.com/nameswap/market-core/cmd/marketd/marketplace/store"
	"github.com/nameswap/market-core/dshelper/txndswrap"
	"github.com/nameswap/market-core/fees"
	"github.com/nameswap/market-core/market"
	"go.opentelemetry.io/otel/metric"
)

var log = golog.Logger("marketd/marketplace")

// Config defines params for Marketplace configuration.
type Config struct {
	// Treasury receives the deployment half of cooldown cancellation fees.
	Treasury market.Address
	// MaxHooksPerKind caps each hook registry.
	MaxHooksPerKind int
	// Clock supplies command timestamps. Defaults to the wall clock.
	Clock market.Clock
}

// Validate ensures the config is usable.
func (c *Config) Validate() error {
	if c.Treasury == "" {
		return fmt.Errorf("treasury address must not be empty")
	}
	if c.MaxHooksPerKind <= 0 {
		return fmt.Errorf("max hooks per kind must be positive; got %d", c.MaxHooksPerKind)
	}
	return nil
}

// Marketplace is the command and query surface of the account market.
// Commands are serialized: each one runs to completion against the store
// before the next is admitted, so time only advances between commands and
// invariants are re-validated inside the command itself.
//
// Commands that move funds order their effects fail-safe: validation first,
// bank effects next, and the store commit last. A bank failure therefore
// leaves the book unchanged, and a store failure leaves the command
// retryable. The host is expected to apply a command's bank effects and its
// result atomically; the residual window is the single store commit.
type Marketplace struct {
	store      *store.Store
	collection market.Collection
	bank       market.Banker
	clock      market.Clock
	hooks      *HookDispatcher
	conf       Config

	lk sync.Mutex

	metricAsksCreated   metric.Int64Counter
	metricBidsPlaced    metric.Int64Counter
	metricBidsAccepted  metric.Int64Counter
	metricSalesSettled  metric.Int64Counter
	metricCancellations metric.Int64Counter
	metricCommandErrors metric.Int64Counter
}

// New returns a Marketplace backed by ds, settling against collection and
// bank, and notifying listeners through caller.
func New(
	ds txndswrap.TxnDatastore,
	collection market.Collection,
	bank market.Banker,
	caller market.HookCaller,
	conf Config,
) (*Marketplace, error) {
	if err := conf.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %v", err)
	}
	if conf.Clock == nil {
		conf.Clock = market.WallClock{}
	}
	s := store.NewStore(ds)
	m := &Marketplace{
		store:      s,
		collection: collection,
		bank:       bank,
		clock:      conf.Clock,
		hooks:      NewHookDispatcher(s, caller),
		conf:       conf,
	}
	m.initMetrics()
	return m, nil
}

// Setup runs the one-shot marketplace initialization: it records the
// collaborator addresses and the initial governance params.
func (m *Marketplace) Setup(
	ctx context.Context,
	conf market.Config,
	params market.SudoParams,
) (*market.Result, error) {
	m.lk.Lock()
	defer m.lk.Unlock()

	if err := validateParams(params); err != nil {
		return nil, m.fail(err)
	}
	if err := m.store.Setup(ctx, conf); err != nil {
		return nil, m.fail(err)
	}
	if err := m.store.SetParams(ctx, params); err != nil {
		return nil, m.fail(err)
	}
	res := &market.Result{}
	res.AddEvent("setup",
		market.Attr("minter", conf.Minter),
		market.Attr("collection", conf.Collection))
	return res, nil
}

// SetAsk lists a token for sale. Only the configured minter may call it,
// and the marketplace must hold transfer approval from the seller.
func (m *Marketplace) SetAsk(
	ctx context.Context,
	caller market.Address,
	token market.TokenID,
	seller market.Address,
) (*market.Result, error) {
	m.lk.Lock()
	defer m.lk.Unlock()

	if err := validateID(token); err != nil {
		return nil, m.fail(err)
	}
	if err := validateID(seller); err != nil {
		return nil, m.fail(err)
	}
	conf, err := m.store.GetConfig(ctx)
	if err != nil {
		return nil, m.fail(err)
	}
	if caller != conf.Minter {
		return nil, m.fail(market.ErrUnauthorized)
	}
	approved, err := m.collection.IsApproved(ctx, seller)
	if err != nil {
		return nil, m.fail(fmt.Errorf("querying approval: %v", err))
	}
	if !approved {
		return nil, m.fail(market.ErrUnauthorized)
	}

	ask, err := m.store.CreateAsk(ctx, token, seller)
	if err != nil {
		return nil, m.fail(err)
	}
	m.metricAsksCreated.Add(ctx, 1)

	res := &market.Result{}
	res.AddEvent("set-ask",
		market.Attr("token_id", token),
		market.Attr("id", strconv.FormatUint(ask.ID, 10)),
		market.Attr("seller", seller))
	m.hooks.NotifyAsk(ctx, market.HookActionCreate, ask, res)
	return res, nil
}

// RemoveAsk delists a token. Only the collection contract may call it (the
// token is being burned), and it fails while escrowed bids or a pending
// settlement remain.
func (m *Marketplace) RemoveAsk(
	ctx context.Context,
	caller market.Address,
	token market.TokenID,
) (*market.Result, error) {
	m.lk.Lock()
	defer m.lk.Unlock()

	if err := validateID(token); err != nil {
		return nil, m.fail(err)
	}
	if err := m.requireCollection(ctx, caller); err != nil {
		return nil, m.fail(err)
	}
	if err := m.requireUnlocked(ctx, token); err != nil {
		return nil, m.fail(err)
	}
	ask, err := m.store.RemoveAsk(ctx, token)
	if err != nil {
		return nil, m.fail(err)
	}

	res := &market.Result{}
	res.AddEvent("remove-ask", market.Attr("token_id", token))
	m.hooks.NotifyAsk(ctx, market.HookActionDelete, *ask, res)
	return res, nil
}

// UpdateAsk points a listing at its new owner after an NFT transfer. Only
// the collection contract may call it; transfers are rejected while a
// settlement is pending.
func (m *Marketplace) UpdateAsk(
	ctx context.Context,
	caller market.Address,
	token market.TokenID,
	seller market.Address,
) (*market.Result, error) {
	m.lk.Lock()
	defer m.lk.Unlock()

	if err := validateID(token); err != nil {
		return nil, m.fail(err)
	}
	if err := validateID(seller); err != nil {
		return nil, m.fail(err)
	}
	if err := m.requireCollection(ctx, caller); err != nil {
		return nil, m.fail(err)
	}
	if err := m.requireUnlocked(ctx, token); err != nil {
		return nil, m.fail(err)
	}
	ask, err := m.store.UpdateAskSeller(ctx, token, seller)
	if err != nil {
		return nil, m.fail(err)
	}

	res := &market.Result{}
	res.AddEvent("update-ask",
		market.Attr("token_id", token),
		market.Attr("seller", seller))
	m.hooks.NotifyAsk(ctx, market.HookActionUpdate, *ask, res)
	return res, nil
}

// SetBid escrows payment as a bid on a listed token. A prior bid from the
// same bidder is refunded before the new one is stored, so a bank failure
// on the refund leaves the prior bid and its escrow in place.
func (m *Marketplace) SetBid(
	ctx context.Context,
	caller market.Address,
	token market.TokenID,
	payment uint64,
) (*market.Result, error) {
	m.lk.Lock()
	defer m.lk.Unlock()

	if err := validateID(token); err != nil {
		return nil, m.fail(err)
	}
	if err := validateID(caller); err != nil {
		return nil, m.fail(err)
	}
	if err := m.requireUnlocked(ctx, token); err != nil {
		return nil, m.fail(err)
	}
	if _, err := m.store.GetAsk(ctx, token); err != nil {
		return nil, m.fail(err)
	}
	params, err := m.store.GetParams(ctx)
	if err != nil {
		return nil, m.fail(err)
	}
	if payment < params.MinPrice {
		return nil, m.fail(&market.PriceTooSmallError{Amount: payment, Min: params.MinPrice})
	}

	prev, err := m.store.GetBid(ctx, token, caller)
	if err != nil && !errors.Is(err, market.ErrBidNotFound) {
		return nil, m.fail(err)
	}
	res := &market.Result{}
	if prev != nil {
		if err := m.bank.Send(ctx, prev.Bidder, prev.Amount); err != nil {
			return nil, m.fail(fmt.Errorf("refunding replaced bid: %v", err))
		}
		res.AddEvent("refund-bid",
			market.Attr("token_id", token),
			market.Attr("bidder", caller),
			market.Attr("amount", strconv.FormatUint(prev.Amount, 10)))
	}
	bid := market.Bid{
		TokenID:   token,
		Bidder:    caller,
		Amount:    payment,
		CreatedAt: m.clock.Now(),
	}
	if _, err := m.store.PutBid(ctx, bid); err != nil {
		return nil, m.fail(err)
	}
	m.metricBidsPlaced.Add(ctx, 1)

	res.AddEvent("set-bid",
		market.Attr("token_id", token),
		market.Attr("bidder", caller),
		market.Attr("price", strconv.FormatUint(payment, 10)))
	m.hooks.NotifyBid(ctx, market.HookActionCreate, bid, res)
	return res, nil
}

// RemoveBid withdraws the caller's bid and refunds its escrow. The refund
// precedes the deletion, so a failed refund leaves the bid intact.
func (m *Marketplace) RemoveBid(
	ctx context.Context,
	caller market.Address,
	token market.TokenID,
) (*market.Result, error) {
	m.lk.Lock()
	defer m.lk.Unlock()

	if err := validateID(token); err != nil {
		return nil, m.fail(err)
	}
	bid, err := m.store.GetBid(ctx, token, caller)
	if err != nil {
		return nil, m.fail(err)
	}
	if err := m.bank.Send(ctx, caller, bid.Amount); err != nil {
		return nil, m.fail(fmt.Errorf("refunding bid: %v", err))
	}
	if _, err := m.store.RemoveBid(ctx, token, caller); err != nil {
		return nil, m.fail(err)
	}

	res := &market.Result{}
	res.AddEvent("remove-bid",
		market.Attr("token_id", token),
		market.Attr("bidder", caller))
	m.hooks.NotifyBid(ctx, market.HookActionDelete, *bid, res)
	return res, nil
}

// AcceptBid starts the settlement of a bid the seller wants to take. The
// caller must currently own the token and the marketplace must hold
// transfer approval. The accepted bid leaves the bid book and the token is
// locked until the window is finalized or cancelled.
func (m *Marketplace) AcceptBid(
	ctx context.Context,
	caller market.Address,
	token market.TokenID,
	bidder market.Address,
) (*market.Result, error) {
	m.lk.Lock()
	defer m.lk.Unlock()

	if err := validateID(token); err != nil {
		return nil, m.fail(err)
	}
	if err := validateID(bidder); err != nil {
		return nil, m.fail(err)
	}
	owner, err := m.collection.OwnerOf(ctx, token)
	if err != nil {
		return nil, m.fail(fmt.Errorf("querying owner: %v", err))
	}
	if owner != caller {
		return nil, m.fail(market.ErrUnauthorized)
	}
	approved, err := m.collection.IsApproved(ctx, caller)
	if err != nil {
		return nil, m.fail(fmt.Errorf("querying approval: %v", err))
	}
	if !approved {
		return nil, m.fail(market.ErrUnauthorized)
	}
	params, err := m.store.GetParams(ctx)
	if err != nil {
		return nil, m.fail(err)
	}

	unlock := m.clock.Now().Add(params.CooldownDuration)
	pending, err := m.store.AcceptBid(ctx, token, bidder, unlock)
	if err != nil {
		return nil, m.fail(err)
	}
	m.metricBidsAccepted.Add(ctx, 1)

	res := &market.Result{}
	res.AddEvent("accept-bid",
		market.Attr("token_id", token),
		market.Attr("bidder", bidder),
		market.Attr("price", strconv.FormatUint(pending.Amount, 10)),
		market.Attr("unlock_time", pending.UnlockTime.UTC().Format("2006-01-02T15:04:05Z")))
	return res, nil
}

// FinalizeBid settles a pending sale: the fee is burned, the seller is paid
// the remainder, ownership transfers to the accepted bidder, and the token
// is re-listed under the new owner. Only the seller or the new owner may
// call it, and only while still inside the settlement window.
//
// The store commit runs last: if it fails after the payout, the pending
// record survives and the command can be retried, relying on the host to
// roll the bank effects back with the failed command.
func (m *Marketplace) FinalizeBid(
	ctx context.Context,
	caller market.Address,
	token market.TokenID,
) (*market.Result, error) {
	m.lk.Lock()
	defer m.lk.Unlock()

	if err := validateID(token); err != nil {
		return nil, m.fail(err)
	}
	pending, err := m.store.GetPending(ctx, token)
	if err != nil {
		return nil, m.fail(err)
	}
	if caller != pending.Ask.Seller && caller != pending.NewOwner {
		return nil, m.fail(market.ErrCannotFinalizeBid)
	}
	// The window is valid through its unlock time and invalid after it.
	if m.clock.Now().After(pending.UnlockTime) {
		return nil, m.fail(market.ErrInvalidDuration)
	}
	approved, err := m.collection.IsApproved(ctx, pending.Ask.Seller)
	if err != nil {
		return nil, m.fail(fmt.Errorf("querying approval: %v", err))
	}
	if !approved {
		return nil, m.fail(market.ErrUnauthorized)
	}

	payee := pending.Ask.Seller
	bound, err := m.collection.IdentityBound(ctx, token)
	if err != nil {
		return nil, m.fail(fmt.Errorf("querying identity binding: %v", err))
	}
	if !bound {
		// The owner broke the token's identity binding mid-window; the
		// payout is forfeited to the buyer.
		payee = pending.NewOwner
		log.Warnf("identity binding broken for %s; payout forfeited to %s", token, payee)
	}

	params, err := m.store.GetParams(ctx)
	if err != nil {
		return nil, m.fail(err)
	}
	fee, err := fees.TradingFee(pending.Amount, params.TradingFeeBps)
	if err != nil {
		return nil, m.fail(err)
	}
	if fee > 0 {
		if err := m.bank.Burn(ctx, fee); err != nil {
			return nil, m.fail(fmt.Errorf("burning fee: %v", err))
		}
	}
	if err := m.bank.Send(ctx, payee, pending.Amount-fee); err != nil {
		return nil, m.fail(fmt.Errorf("paying seller: %v", err))
	}
	if err := m.collection.TransferNFT(ctx, token, pending.NewOwner); err != nil {
		return nil, m.fail(fmt.Errorf("transferring token: %v", err))
	}

	settled, ask, err := m.store.SettlePending(ctx, token)
	if err != nil {
		return nil, m.fail(err)
	}
	m.metricSalesSettled.Add(ctx, 1)

	res := &market.Result{}
	res.AddEvent("finalize-bid",
		market.Attr("token_id", token),
		market.Attr("seller", payee),
		market.Attr("buyer", settled.NewOwner),
		market.Attr("price", strconv.FormatUint(settled.Amount, 10)),
		market.Attr("trading_fee", strconv.FormatUint(fee, 10)),
		market.Attr("new_ask_id", strconv.FormatUint(ask.ID, 10)))
	m.hooks.NotifySale(ctx, settled.Ask, settled.NewOwner, settled.Amount, res)
	return res, nil
}

// CancelCooldown aborts a pending settlement for a fee. Only the original
// seller may call it, strictly before the unlock time, paying exactly the
// configured cancellation fee. Half the fee goes to the treasury and the
// other half sweetens the bidder's refund. The store commit runs last so a
// failed cancellation stays retryable.
func (m *Marketplace) CancelCooldown(
	ctx context.Context,
	caller market.Address,
	token market.TokenID,
	payment uint64,
) (*market.Result, error) {
	m.lk.Lock()
	defer m.lk.Unlock()

	if err := validateID(token); err != nil {
		return nil, m.fail(err)
	}
	pending, err := m.store.GetPending(ctx, token)
	if err != nil {
		return nil, m.fail(err)
	}
	if caller != pending.Ask.Seller {
		return nil, m.fail(market.ErrUnauthorized)
	}
	params, err := m.store.GetParams(ctx)
	if err != nil {
		return nil, m.fail(err)
	}
	fee := params.CooldownCancelFee.Amount
	if payment != fee {
		return nil, m.fail(&market.IncorrectPaymentError{Got: payment, Expected: fee})
	}
	// Cancellation closes strictly before the unlock time. With a zero
	// cooldown duration the window is empty and cancellation is never
	// possible; escrow can only leave through FinalizeBid.
	if !m.clock.Now().Before(pending.UnlockTime) {
		return nil, m.fail(market.ErrInvalidDuration)
	}

	treasuryCut, remainder := fees.CooldownSplit(fee)
	if treasuryCut > 0 {
		if err := m.bank.Send(ctx, m.conf.Treasury, treasuryCut); err != nil {
			return nil, m.fail(fmt.Errorf("paying treasury: %v", err))
		}
	}
	if err := m.bank.Send(ctx, pending.NewOwner, pending.Amount+remainder); err != nil {
		return nil, m.fail(fmt.Errorf("refunding bidder: %v", err))
	}
	if _, err := m.store.CancelPending(ctx, token); err != nil {
		return nil, m.fail(err)
	}
	m.metricCancellations.Add(ctx, 1)

	res := &market.Result{}
	res.AddEvent("cancel-cooldown",
		market.Attr("token_id", token),
		market.Attr("bidder", pending.NewOwner),
		market.Attr("refund", strconv.FormatUint(pending.Amount+remainder, 10)),
		market.Attr("treasury_cut", strconv.FormatUint(treasuryCut, 10)))
	return res, nil
}

// OnHookOutcome forwards an asynchronous hook-call outcome to the
// dispatcher.
func (m *Marketplace) OnHookOutcome(correlationID string, herr error) {
	m.hooks.OnHookOutcome(correlationID, herr)
}

// UpdateParams replaces the governance params. Privileged.
func (m *Marketplace) UpdateParams(ctx context.Context, params market.SudoParams) error {
	m.lk.Lock()
	defer m.lk.Unlock()

	if err := validateParams(params); err != nil {
		return m.fail(err)
	}
	return m.store.SetParams(ctx, params)
}

// AddHook registers a listener in a kind's registry. Privileged. Listener
// addresses are stored as values, not key components, so URLs are fine.
func (m *Marketplace) AddHook(ctx context.Context, kind market.HookKind, hook market.Address) error {
	m.lk.Lock()
	defer m.lk.Unlock()
	return m.store.AddHook(ctx, kind, hook, m.conf.MaxHooksPerKind)
}

// RemoveHook removes a listener from a kind's registry. Privileged.
func (m *Marketplace) RemoveHook(ctx context.Context, kind market.HookKind, hook market.Address) error {
	m.lk.Lock()
	defer m.lk.Unlock()
	return m.store.RemoveHook(ctx, kind, hook)
}

// UpdateCollectionAddress replaces the collection address. Privileged.
func (m *Marketplace) UpdateCollectionAddress(ctx context.Context, collection market.Address) error {
	m.lk.Lock()
	defer m.lk.Unlock()
	if err := validateID(collection); err != nil {
		return m.fail(err)
	}
	return m.store.SetCollection(ctx, collection)
}

// UpdateFactoryAddress replaces the minter/factory address. Privileged.
func (m *Marketplace) UpdateFactoryAddress(ctx context.Context, minter market.Address) error {
	m.lk.Lock()
	defer m.lk.Unlock()
	if err := validateID(minter); err != nil {
		return m.fail(err)
	}
	return m.store.SetMinter(ctx, minter)
}

func (m *Marketplace) requireCollection(ctx context.Context, caller market.Address) error {
	conf, err := m.store.GetConfig(ctx)
	if err != nil {
		return err
	}
	if caller != conf.Collection {
		return market.ErrUnauthorized
	}
	return nil
}

func (m *Marketplace) requireUnlocked(ctx context.Context, token market.TokenID) error {
	ok, err := m.store.HasPending(ctx, token)
	if err != nil {
		return err
	}
	if ok {
		return market.ErrAccountLocked
	}
	return nil
}

func (m *Marketplace) fail(err error) error {
	m.metricCommandErrors.Add(context.Background(), 1)
	return err
}

// validateID guards token ids and addresses that become datastore key
// components. A path separator would corrupt the key-prefix indexes.
func validateID(v string) error {
	if v == "" || strings.Contains(v, "/") {
		return fmt.Errorf("%w: %q", market.ErrInvalidID, v)
	}
	return nil
}

func validateParams(params market.SudoParams) error {
	if params.TradingFeeBps > market.MaxFeeBps {
		return &market.InvalidTradingFeeError{Bps: params.TradingFeeBps}
	}
	if params.CooldownDuration < 0 {
		return errors.New("cooldown duration must not be negative")
	}
	return nil
}
