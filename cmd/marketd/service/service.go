package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	golog "github.com/textileio/go-log/v2"
	"github.com/nameswap/market-core/cmd/marketd/httpapi"
	"github.com/nameswap/market-core/cmd/marketd/marketplace"
	"github.com/nameswap/market-core/dshelper"
	"github.com/nameswap/market-core/finalizer"
	"github.com/nameswap/market-core/localchain"
	"github.com/nameswap/market-core/market"
)

var log = golog.Logger("marketd/service")

// Config defines params for Service configuration.
type Config struct {
	RepoPath       string
	HTTPListenAddr string

	// Treasury receives the deployment half of cancellation fees.
	Treasury market.Address
	// MaxHooksPerKind caps each hook registry.
	MaxHooksPerKind int
	// HookTimeout bounds each outbound webhook call.
	HookTimeout time.Duration

	// Minter and Collection seed the one-shot setup on first run.
	Minter     market.Address
	Collection market.Address
	// Params seed the governance params on first run.
	Params market.SudoParams
}

// Validate ensures the config is usable.
func (c *Config) Validate() error {
	if c.RepoPath == "" {
		return fmt.Errorf("repo path must not be empty")
	}
	if c.HookTimeout <= 0 {
		return fmt.Errorf("hook timeout must be positive")
	}
	return nil
}

// Service wires the marketplace engine to its host collaborators and the
// HTTP API.
type Service struct {
	mp         *marketplace.Marketplace
	gateway    *Gateway
	bank       *localchain.Bank
	collection *localchain.Collection
	server     *http.Server
	finalizer  *finalizer.Finalizer
}

// New returns a new Service.
func New(conf Config) (*Service, error) {
	if err := conf.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %v", err)
	}
	fin := finalizer.NewFinalizer()

	store, err := dshelper.NewBadgerTxnDatastore(conf.RepoPath)
	if err != nil {
		return nil, fmt.Errorf("creating datastore: %v", err)
	}
	fin.Add(store)

	bank := localchain.NewBank()
	collection := localchain.NewCollection()

	// The dispatcher resolves outcomes through the engine, which does not
	// exist yet; the closure captures the pointer assigned below. Hooks
	// only fire once commands run, after New returns.
	var mp *marketplace.Marketplace
	caller := localchain.NewWebhookCaller(conf.HookTimeout, func(id string, herr error) {
		mp.OnHookOutcome(id, herr)
	})
	fin.Add(caller)

	mp, err = marketplace.New(store, collection, bank, caller, marketplace.Config{
		Treasury:        conf.Treasury,
		MaxHooksPerKind: conf.MaxHooksPerKind,
	})
	if err != nil {
		return nil, fin.Cleanupf("creating marketplace: %v", err)
	}

	if conf.Minter != "" || conf.Collection != "" {
		_, err = mp.Setup(context.Background(), market.Config{
			Minter:     conf.Minter,
			Collection: conf.Collection,
		}, conf.Params)
		if err != nil && !errors.Is(err, market.ErrAlreadySetup) {
			return nil, fin.Cleanupf("setting up marketplace: %v", err)
		}
	}

	gateway := NewGateway(mp, bank)
	s := &Service{
		mp:         mp,
		gateway:    gateway,
		bank:       bank,
		collection: collection,
		finalizer:  fin,
	}
	if conf.HTTPListenAddr != "" {
		server, err := httpapi.NewServer(conf.HTTPListenAddr, gateway, gateway)
		if err != nil {
			return nil, fin.Cleanupf("creating http server: %v", err)
		}
		s.server = server
	}
	log.Info("service started")
	return s, nil
}

// Marketplace returns the engine.
func (s *Service) Marketplace() *marketplace.Marketplace {
	return s.mp
}

// Gateway returns the payment-escrowing command surface.
func (s *Service) Gateway() *Gateway {
	return s.gateway
}

// Bank returns the in-process ledger.
func (s *Service) Bank() *localchain.Bank {
	return s.bank
}

// Collection returns the in-process NFT registry.
func (s *Service) Collection() *localchain.Collection {
	return s.collection
}

// Close the service gracefully.
func (s *Service) Close() error {
	var err error
	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if serr := s.server.Shutdown(ctx); serr != nil {
			err = fmt.Errorf("shutting down http server: %v", serr)
		}
	}
	log.Info("service was shutdown")
	return s.finalizer.Cleanup(err)
}
