package marketplace

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"github.com/nameswap/market-core/cmd/marketd/marketplace/store"
	"github.com/nameswap/market-core/market"
	"go.opentelemetry.io/otel/metric"
)

// hookPayload is the JSON body delivered to a registered listener.
type hookPayload struct {
	Kind    market.HookKind   `json:"kind"`
	Action  market.HookAction `json:"action,omitempty"`
	TokenID market.TokenID    `json:"token_id"`
	Seller  market.Address    `json:"seller,omitempty"`
	Bidder  market.Address    `json:"bidder,omitempty"`
	Buyer   market.Address    `json:"buyer,omitempty"`
	Amount  uint64            `json:"amount,omitempty"`
}

type inflightHook struct {
	kind     market.HookKind
	listener market.Address
	tokenID  market.TokenID
}

// HookDispatcher fans lifecycle notifications out to the registered
// listeners of a kind. Dispatch is two-phase: Notify* issues one outbound
// call per listener tagged with a correlation id, and the host reports each
// call's outcome later through OnHookOutcome. A listener failure is
// recorded as a diagnostic event on the triggering command's result and
// never aborts it. Every issued call stays in the inflight map until its
// outcome arrives, so the host must report an outcome (success or failure)
// for each call it accepts.
type HookDispatcher struct {
	store  *store.Store
	caller market.HookCaller

	mu       sync.Mutex
	inflight map[string]inflightHook

	metricDispatched metric.Int64Counter
	metricFailed     metric.Int64Counter
}

// NewHookDispatcher returns a dispatcher reading registries from s and
// issuing calls through caller.
func NewHookDispatcher(s *store.Store, caller market.HookCaller) *HookDispatcher {
	d := &HookDispatcher{
		store:    s,
		caller:   caller,
		inflight: make(map[string]inflightHook),
	}
	d.initMetrics()
	return d
}

// NotifyAsk notifies ask-hook listeners of an ask lifecycle action.
func (d *HookDispatcher) NotifyAsk(
	ctx context.Context,
	action market.HookAction,
	ask market.Ask,
	res *market.Result,
) {
	d.notify(ctx, market.HookKindAsk, hookPayload{
		Kind:    market.HookKindAsk,
		Action:  action,
		TokenID: ask.TokenID,
		Seller:  ask.Seller,
	}, res)
}

// NotifyBid notifies bid-hook listeners of a bid lifecycle action.
func (d *HookDispatcher) NotifyBid(
	ctx context.Context,
	action market.HookAction,
	bid market.Bid,
	res *market.Result,
) {
	d.notify(ctx, market.HookKindBid, hookPayload{
		Kind:    market.HookKindBid,
		Action:  action,
		TokenID: bid.TokenID,
		Bidder:  bid.Bidder,
		Amount:  bid.Amount,
	}, res)
}

// NotifySale notifies sale-hook listeners of a finalized sale.
func (d *HookDispatcher) NotifySale(
	ctx context.Context,
	ask market.Ask,
	buyer market.Address,
	amount uint64,
	res *market.Result,
) {
	d.notify(ctx, market.HookKindSale, hookPayload{
		Kind:    market.HookKindSale,
		TokenID: ask.TokenID,
		Seller:  ask.Seller,
		Buyer:   buyer,
		Amount:  amount,
	}, res)
}

func (d *HookDispatcher) notify(
	ctx context.Context,
	kind market.HookKind,
	payload hookPayload,
	res *market.Result,
) {
	listeners, err := d.store.ListHooks(ctx, kind)
	if err != nil {
		log.Errorf("listing %s hooks: %v", kind, err)
		res.AddEvent("hook-failed",
			market.Attr("kind", string(kind)),
			market.Attr("error", err.Error()))
		return
	}
	if len(listeners) == 0 {
		return
	}
	body, err := json.Marshal(payload)
	if err != nil {
		log.Errorf("marshaling %s hook payload: %v", kind, err)
		return
	}
	for _, listener := range listeners {
		id := uuid.New().String()
		d.mu.Lock()
		d.inflight[id] = inflightHook{kind: kind, listener: listener, tokenID: payload.TokenID}
		d.mu.Unlock()
		if err := d.caller.Call(ctx, listener, body, id); err != nil {
			// The call could not even be issued; settle it inline.
			d.OnHookOutcome(id, err)
			continue
		}
		d.metricDispatched.Add(ctx, 1)
		log.Debugf("dispatched %s hook %s to %s", kind, id, listener)
	}
}

// OnHookOutcome receives the asynchronous outcome of the call tagged by
// correlation id. Failures are diagnostics only.
func (d *HookDispatcher) OnHookOutcome(id string, herr error) {
	d.mu.Lock()
	call, ok := d.inflight[id]
	delete(d.inflight, id)
	d.mu.Unlock()
	if !ok {
		log.Warnf("outcome for unknown hook call %s: %v", id, herr)
		return
	}
	if herr == nil {
		log.Debugf("%s hook %s to %s succeeded", call.kind, id, call.listener)
		return
	}
	d.metricFailed.Add(context.Background(), 1)
	log.Warnf("%s hook %s to %s for %s failed: %v",
		call.kind, id, call.listener, call.tokenID, herr)
}

// InflightCount returns the number of hook calls awaiting an outcome.
func (d *HookDispatcher) InflightCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.inflight)
}
