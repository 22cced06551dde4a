package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/nameswap/market-core/market"
	golog "github.com/textileio/go-log/v2"
)

var log = golog.Logger("marketd/api")

// callerHeader carries the authenticated caller address. In a chain
// deployment the host supplies it; here it is trusted as given.
const callerHeader = "X-Market-Caller"

// Service provides scoped access to the marketplace engine.
type Service interface {
	SetAsk(ctx context.Context, caller market.Address, token market.TokenID, seller market.Address) (*market.Result, error)
	RemoveAsk(ctx context.Context, caller market.Address, token market.TokenID) (*market.Result, error)
	UpdateAsk(ctx context.Context, caller market.Address, token market.TokenID, seller market.Address) (*market.Result, error)
	SetBid(ctx context.Context, caller market.Address, token market.TokenID, payment uint64) (*market.Result, error)
	RemoveBid(ctx context.Context, caller market.Address, token market.TokenID) (*market.Result, error)
	AcceptBid(ctx context.Context, caller market.Address, token market.TokenID, bidder market.Address) (*market.Result, error)
	FinalizeBid(ctx context.Context, caller market.Address, token market.TokenID) (*market.Result, error)
	CancelCooldown(ctx context.Context, caller market.Address, token market.TokenID, payment uint64) (*market.Result, error)

	UpdateParams(ctx context.Context, params market.SudoParams) error
	AddHook(ctx context.Context, kind market.HookKind, hook market.Address) error
	RemoveHook(ctx context.Context, kind market.HookKind, hook market.Address) error
	UpdateCollectionAddress(ctx context.Context, collection market.Address) error
	UpdateFactoryAddress(ctx context.Context, minter market.Address) error

	Ask(ctx context.Context, token market.TokenID) (*market.Ask, error)
	Asks(ctx context.Context, startAfter uint64, limit int) ([]market.Ask, error)
	AsksBySeller(ctx context.Context, seller market.Address, startAfter market.TokenID, limit int) ([]market.Ask, error)
	AskCount(ctx context.Context) (uint64, error)
	Bid(ctx context.Context, token market.TokenID, bidder market.Address) (*market.Bid, error)
	Bids(ctx context.Context, token market.TokenID, startAfter market.Address, limit int) ([]market.Bid, error)
	BidsByBidder(ctx context.Context, bidder market.Address, startAfter market.TokenID, limit int) ([]market.Bid, error)
	BidsSortedByPrice(ctx context.Context, startAfter *market.BidOffset, limit int) ([]market.Bid, error)
	ReverseBidsSortedByPrice(ctx context.Context, startBefore *market.BidOffset, limit int) ([]market.Bid, error)
	BidsForSeller(ctx context.Context, seller market.Address, startAfter *market.BidOffset, limit int) ([]market.Bid, error)
	HighestBid(ctx context.Context, token market.TokenID) (*market.Bid, error)
	Params(ctx context.Context) (market.SudoParams, error)
	Config(ctx context.Context) (market.Config, error)
	Cooldown(ctx context.Context, token market.TokenID) (*market.PendingBid, error)
	Cooldowns(ctx context.Context, startAfter market.TokenID, limit int) ([]market.PendingBid, error)
	Hooks(ctx context.Context, kind market.HookKind) ([]market.Address, error)
}

// Faucet funds accounts on the daemon's local bank so payable commands can
// be exercised in dev deployments.
type Faucet interface {
	CreditAccount(account market.Address, amount uint64)
}

// NewServer returns a new http server for marketplace commands and queries.
// A nil faucet disables the account-funding route.
func NewServer(listenAddr string, service Service, faucet Faucet) (*http.Server, error) {
	httpServer := &http.Server{
		Addr:    listenAddr,
		Handler: createMux(service, faucet),
	}

	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorf("stopping http server: %s", err)
		}
	}()

	log.Infof("http server started at %s", listenAddr)
	return httpServer, nil
}

func createMux(service Service, faucet Faucet) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", getOnly(healthHandler))

	asks := getOnly(asksHandler(service))
	mux.HandleFunc("/asks", asks)
	mux.HandleFunc("/asks/", asks)
	bids := getOnly(bidsHandler(service))
	mux.HandleFunc("/bids", bids)
	mux.HandleFunc("/bids/", bids)
	cooldowns := getOnly(cooldownsHandler(service))
	mux.HandleFunc("/cooldowns", cooldowns)
	mux.HandleFunc("/cooldowns/", cooldowns)
	mux.HandleFunc("/params", getOnly(paramsHandler(service)))
	mux.HandleFunc("/config", getOnly(configHandler(service)))
	mux.HandleFunc("/hooks/", getOnly(hooksHandler(service)))

	mux.HandleFunc("/commands/", postOnly(commandHandler(service)))
	mux.HandleFunc("/admin/", postOnly(adminHandler(service, faucet)))
	return mux
}

func getOnly(f http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != "GET" {
			httpError(w, "only GET method is allowed", http.StatusBadRequest)
			return
		}
		f(w, r)
	}
}

func postOnly(f http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != "POST" {
			httpError(w, "only POST method is allowed", http.StatusBadRequest)
			return
		}
		f(w, r)
	}
}

func healthHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func asksHandler(service Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		urlParts := strings.SplitN(r.URL.Path, "/", 3)
		if len(urlParts) == 3 && urlParts[2] == "count" {
			count, err := service.AskCount(r.Context())
			if err != nil {
				httpError(w, fmt.Sprintf("counting asks: %s", err), http.StatusInternalServerError)
				return
			}
			writeJSON(w, map[string]uint64{"count": count})
			return
		}
		if len(urlParts) == 3 && urlParts[2] != "" {
			ask, err := service.Ask(r.Context(), urlParts[2])
			if errors.Is(err, market.ErrAskNotFound) {
				httpError(w, err.Error(), http.StatusNotFound)
				return
			} else if err != nil {
				httpError(w, fmt.Sprintf("getting ask: %s", err), http.StatusInternalServerError)
				return
			}
			writeJSON(w, ask)
			return
		}

		limit := parseLimit(r)
		var (
			asks []market.Ask
			err  error
		)
		if seller := r.URL.Query().Get("seller"); seller != "" {
			asks, err = service.AsksBySeller(r.Context(), seller, r.URL.Query().Get("start_after"), limit)
		} else {
			var startAfter uint64
			if s := r.URL.Query().Get("start_after"); s != "" {
				startAfter, err = strconv.ParseUint(s, 10, 64)
				if err != nil {
					httpError(w, fmt.Sprintf("parsing start_after: %s", err), http.StatusBadRequest)
					return
				}
			}
			asks, err = service.Asks(r.Context(), startAfter, limit)
		}
		if err != nil {
			httpError(w, fmt.Sprintf("listing asks: %s", err), http.StatusInternalServerError)
			return
		}
		writeJSON(w, asks)
	}
}

func bidsHandler(service Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		limit := parseLimit(r)
		urlParts := strings.SplitN(r.URL.Path, "/", 4)

		// /bids/<token>/<bidder> and /bids/<token>
		if len(urlParts) >= 3 && urlParts[2] != "" && urlParts[2] != "sorted" && urlParts[2] != "highest" {
			token := urlParts[2]
			if len(urlParts) == 4 && urlParts[3] != "" {
				bid, err := service.Bid(r.Context(), token, urlParts[3])
				if errors.Is(err, market.ErrBidNotFound) {
					httpError(w, err.Error(), http.StatusNotFound)
					return
				} else if err != nil {
					httpError(w, fmt.Sprintf("getting bid: %s", err), http.StatusInternalServerError)
					return
				}
				writeJSON(w, bid)
				return
			}
			bids, err := service.Bids(r.Context(), token, q.Get("start_after"), limit)
			if err != nil {
				httpError(w, fmt.Sprintf("listing bids: %s", err), http.StatusInternalServerError)
				return
			}
			writeJSON(w, bids)
			return
		}

		// /bids/highest?token=x
		if len(urlParts) >= 3 && urlParts[2] == "highest" {
			bid, err := service.HighestBid(r.Context(), q.Get("token"))
			if err != nil {
				httpError(w, fmt.Sprintf("getting highest bid: %s", err), http.StatusInternalServerError)
				return
			}
			writeJSON(w, bid)
			return
		}

		// /bids/sorted?desc=true with an optional full cursor triple.
		if len(urlParts) >= 3 && urlParts[2] == "sorted" {
			cursor, err := parseOffset(q.Get("start_amount"), q.Get("start_token"), q.Get("start_bidder"))
			if err != nil {
				httpError(w, fmt.Sprintf("parsing cursor: %s", err), http.StatusBadRequest)
				return
			}
			var bids []market.Bid
			if q.Get("desc") == "true" {
				bids, err = service.ReverseBidsSortedByPrice(r.Context(), cursor, limit)
			} else {
				bids, err = service.BidsSortedByPrice(r.Context(), cursor, limit)
			}
			if err != nil {
				httpError(w, fmt.Sprintf("listing bids: %s", err), http.StatusInternalServerError)
				return
			}
			writeJSON(w, bids)
			return
		}

		// /bids?bidder=x or /bids?seller=x
		var (
			bids []market.Bid
			err  error
		)
		switch {
		case q.Get("bidder") != "":
			bids, err = service.BidsByBidder(r.Context(), q.Get("bidder"), q.Get("start_after"), limit)
		case q.Get("seller") != "":
			var cursor *market.BidOffset
			cursor, err = parseOffset("", q.Get("start_token"), q.Get("start_bidder"))
			if err == nil {
				bids, err = service.BidsForSeller(r.Context(), q.Get("seller"), cursor, limit)
			}
		default:
			httpError(w, "one of bidder or seller query params is required", http.StatusBadRequest)
			return
		}
		if err != nil {
			httpError(w, fmt.Sprintf("listing bids: %s", err), http.StatusInternalServerError)
			return
		}
		writeJSON(w, bids)
	}
}

func cooldownsHandler(service Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		urlParts := strings.SplitN(r.URL.Path, "/", 3)
		if len(urlParts) == 3 && urlParts[2] != "" {
			pending, err := service.Cooldown(r.Context(), urlParts[2])
			if errors.Is(err, market.ErrCooldownNotFound) {
				httpError(w, err.Error(), http.StatusNotFound)
				return
			} else if err != nil {
				httpError(w, fmt.Sprintf("getting cooldown: %s", err), http.StatusInternalServerError)
				return
			}
			writeJSON(w, pending)
			return
		}
		pendings, err := service.Cooldowns(r.Context(), r.URL.Query().Get("start_after"), parseLimit(r))
		if err != nil {
			httpError(w, fmt.Sprintf("listing cooldowns: %s", err), http.StatusInternalServerError)
			return
		}
		writeJSON(w, pendings)
	}
}

func paramsHandler(service Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		params, err := service.Params(r.Context())
		if err != nil {
			httpError(w, fmt.Sprintf("getting params: %s", err), http.StatusInternalServerError)
			return
		}
		writeJSON(w, params)
	}
}

func configHandler(service Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conf, err := service.Config(r.Context())
		if err != nil {
			httpError(w, fmt.Sprintf("getting config: %s", err), http.StatusInternalServerError)
			return
		}
		writeJSON(w, conf)
	}
}

func hooksHandler(service Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		urlParts := strings.SplitN(r.URL.Path, "/", 3)
		if len(urlParts) < 3 || urlParts[2] == "" {
			httpError(w, "hook kind is required", http.StatusBadRequest)
			return
		}
		kind, err := parseHookKind(urlParts[2])
		if err != nil {
			httpError(w, err.Error(), http.StatusBadRequest)
			return
		}
		hooks, err := service.Hooks(r.Context(), kind)
		if err != nil {
			httpError(w, fmt.Sprintf("listing hooks: %s", err), http.StatusInternalServerError)
			return
		}
		writeJSON(w, hooks)
	}
}

// commandBody is the JSON body of a marketplace command.
type commandBody struct {
	TokenID market.TokenID `json:"token_id"`
	Seller  market.Address `json:"seller,omitempty"`
	Bidder  market.Address `json:"bidder,omitempty"`
	Payment uint64         `json:"payment,omitempty"`
}

func commandHandler(service Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller := market.Address(r.Header.Get(callerHeader))
		if caller == "" {
			httpError(w, fmt.Sprintf("%s header is required", callerHeader), http.StatusBadRequest)
			return
		}
		var body commandBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			httpError(w, fmt.Sprintf("decoding body: %s", err), http.StatusBadRequest)
			return
		}

		urlParts := strings.SplitN(r.URL.Path, "/", 3)
		if len(urlParts) < 3 || urlParts[2] == "" {
			httpError(w, "command name is required", http.StatusBadRequest)
			return
		}
		ctx := r.Context()
		var (
			res *market.Result
			err error
		)
		switch urlParts[2] {
		case "set-ask":
			res, err = service.SetAsk(ctx, caller, body.TokenID, body.Seller)
		case "remove-ask":
			res, err = service.RemoveAsk(ctx, caller, body.TokenID)
		case "update-ask":
			res, err = service.UpdateAsk(ctx, caller, body.TokenID, body.Seller)
		case "set-bid":
			res, err = service.SetBid(ctx, caller, body.TokenID, body.Payment)
		case "remove-bid":
			res, err = service.RemoveBid(ctx, caller, body.TokenID)
		case "accept-bid":
			res, err = service.AcceptBid(ctx, caller, body.TokenID, body.Bidder)
		case "finalize-bid":
			res, err = service.FinalizeBid(ctx, caller, body.TokenID)
		case "cancel-cooldown":
			res, err = service.CancelCooldown(ctx, caller, body.TokenID, body.Payment)
		default:
			httpError(w, fmt.Sprintf("unknown command: %s", urlParts[2]), http.StatusNotFound)
			return
		}
		if err != nil {
			httpError(w, err.Error(), commandStatus(err))
			return
		}
		writeJSON(w, res)
	}
}

// adminBody is the JSON body of a privileged command.
type adminBody struct {
	Params  *market.SudoParams `json:"params,omitempty"`
	Hook    market.Address     `json:"hook,omitempty"`
	Address market.Address     `json:"address,omitempty"`
	Amount  uint64             `json:"amount,omitempty"`
}

func adminHandler(service Service, faucet Faucet) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body adminBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			httpError(w, fmt.Sprintf("decoding body: %s", err), http.StatusBadRequest)
			return
		}

		urlParts := strings.SplitN(r.URL.Path, "/", 4)
		if len(urlParts) < 3 || urlParts[2] == "" {
			httpError(w, "admin command is required", http.StatusBadRequest)
			return
		}
		ctx := r.Context()
		var err error
		switch urlParts[2] {
		case "params":
			if body.Params == nil {
				httpError(w, "params are required", http.StatusBadRequest)
				return
			}
			err = service.UpdateParams(ctx, *body.Params)
		case "collection":
			err = service.UpdateCollectionAddress(ctx, body.Address)
		case "factory":
			err = service.UpdateFactoryAddress(ctx, body.Address)
		case "credit":
			if faucet == nil {
				httpError(w, "account funding is not enabled", http.StatusNotFound)
				return
			}
			if body.Address == "" {
				httpError(w, "address is required", http.StatusBadRequest)
				return
			}
			faucet.CreditAccount(body.Address, body.Amount)
		case "add-hook", "remove-hook":
			if len(urlParts) < 4 || urlParts[3] == "" {
				httpError(w, "hook kind is required", http.StatusBadRequest)
				return
			}
			var kind market.HookKind
			kind, err = parseHookKind(urlParts[3])
			if err != nil {
				httpError(w, err.Error(), http.StatusBadRequest)
				return
			}
			if urlParts[2] == "add-hook" {
				err = service.AddHook(ctx, kind, body.Hook)
			} else {
				err = service.RemoveHook(ctx, kind, body.Hook)
			}
		default:
			httpError(w, fmt.Sprintf("unknown admin command: %s", urlParts[2]), http.StatusNotFound)
			return
		}
		if err != nil {
			httpError(w, err.Error(), commandStatus(err))
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

func parseHookKind(s string) (market.HookKind, error) {
	switch market.HookKind(s) {
	case market.HookKindAsk, market.HookKindBid, market.HookKindSale:
		return market.HookKind(s), nil
	}
	return "", fmt.Errorf("unknown hook kind: %s", s)
}

func parseLimit(r *http.Request) int {
	s := r.URL.Query().Get("limit")
	if s == "" {
		return 0
	}
	limit, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return limit
}

func parseOffset(amount, token, bidder string) (*market.BidOffset, error) {
	if amount == "" && token == "" && bidder == "" {
		return nil, nil
	}
	offset := &market.BidOffset{TokenID: token, Bidder: bidder}
	if amount != "" {
		a, err := strconv.ParseUint(amount, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parsing amount: %v", err)
		}
		offset.Amount = a
	}
	return offset, nil
}

// commandStatus maps an engine error to an HTTP status.
func commandStatus(err error) int {
	switch {
	case errors.Is(err, market.ErrAskNotFound),
		errors.Is(err, market.ErrBidNotFound),
		errors.Is(err, market.ErrCooldownNotFound):
		return http.StatusNotFound
	case errors.Is(err, market.ErrUnauthorized),
		errors.Is(err, market.ErrCannotFinalizeBid):
		return http.StatusForbidden
	case errors.Is(err, market.ErrAlreadyListed),
		errors.Is(err, market.ErrAlreadySetup),
		errors.Is(err, market.ErrExistingBids),
		errors.Is(err, market.ErrAccountLocked):
		return http.StatusConflict
	}
	var (
		priceErr *market.PriceTooSmallError
		payErr   *market.IncorrectPaymentError
		feeErr   *market.InvalidTradingFeeError
	)
	if errors.Is(err, market.ErrInvalidDuration) ||
		errors.Is(err, market.ErrInvalidID) ||
		errors.As(err, &priceErr) || errors.As(err, &payErr) || errors.As(err, &feeErr) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		httpError(w, fmt.Sprintf("json encoding: %s", err), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if _, err := w.Write(data); err != nil {
		log.Errorf("write failed: %v", err)
	}
}

func httpError(w http.ResponseWriter, err string, status int) {
	log.Debugf("request error: %s", err)
	http.Error(w, err, status)
}
