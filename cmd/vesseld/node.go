package main

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"vesselchain/config"
	"vesselchain/core/events"
	"vesselchain/core/state"
	"vesselchain/crypto"
	"vesselchain/native/collateral"
	"vesselchain/native/pricefeed"
	"vesselchain/native/sortedvessels"
	"vesselchain/native/stability"
	"vesselchain/native/tokens"
	"vesselchain/native/vessels"
	"vesselchain/storage"
)

// node holds the wired protocol modules served by the daemon.
type node struct {
	engine *vessels.Engine
	params *collateral.Store
	feed   *pricefeed.Feed
	ledger *tokens.Ledger
	debt   *tokens.DebtToken
	index  *sortedvessels.List
	pool   *stability.Pool
}

// logEmitter forwards protocol events to the structured logger.
type logEmitter struct {
	logger *slog.Logger
}

func (l logEmitter) Emit(evt events.Event) {
	if evt == nil {
		return
	}
	args := []any{slog.String("type", evt.EventType())}
	if rec := events.Render(evt); rec != nil {
		for key, value := range rec.Attributes {
			args = append(args, slog.String(key, value))
		}
	}
	l.logger.Debug("protocol event", args...)
}

func newNode(cfg *config.Config, collaterals config.CollateralFile, db storage.Database, logger *slog.Logger) (*node, error) {
	if logger == nil {
		logger = slog.Default()
	}
	manager := state.NewManager(db)
	emitter := logEmitter{logger: logger}
	accounts, err := cfg.Accounts.Resolve()
	if err != nil {
		return nil, fmt.Errorf("resolve accounts: %w", err)
	}
	stabilityAccount := accounts.StabilityPool
	if stabilityAccount.IsZero() {
		stabilityAccount = crypto.ModuleAddress("stability")
	}

	n := &node{
		params: collateral.NewStore(manager),
		feed:   pricefeed.NewFeed(time.Duration(cfg.PriceMaxAgeSeconds) * time.Second),
		ledger: tokens.NewLedger(manager),
		index:  sortedvessels.NewList(manager),
	}
	n.ledger.SetEmitter(emitter)
	n.debt = tokens.NewDebtToken(n.ledger, cfg.DebtTokenSymbol)
	n.pool = stability.NewPool(manager, n.debt, n.ledger, stabilityAccount)
	n.pool.SetEmitter(emitter)
	n.pool.SetLogger(logger.With(slog.String("module", "stability")))
	n.pool.SetPauses(cfg.Pauses)

	if err := registerCollateral(n.params, n.feed, collaterals, logger); err != nil {
		return nil, err
	}
	if err := applyWhitelists(n.params, cfg.Whitelists); err != nil {
		return nil, err
	}

	n.engine = vessels.NewEngine(manager)
	n.engine.SetParameterStore(n.params)
	n.engine.SetPriceOracle(n.feed)
	n.engine.SetDebtToken(n.debt)
	n.engine.SetCollateralToken(n.ledger)
	n.engine.SetIndex(n.index)
	n.engine.SetStabilityPool(n.pool)
	n.engine.SetPauses(cfg.Pauses)
	n.engine.SetEmitter(emitter)
	n.engine.SetLogger(logger.With(slog.String("module", "vessels")))
	n.engine.SetAccounts(accounts.ActivePool, accounts.GasPool, accounts.FeeRecipient)
	if err := n.engine.SetRedemptionSoftening(cfg.RedemptionSofteningBps); err != nil {
		return nil, err
	}
	return n, nil
}

// registerCollateral writes every configured parameter set, replacing stored
// values, and seeds the oracle with configured prices.
func registerCollateral(store *collateral.Store, feed *pricefeed.Feed, file config.CollateralFile, logger *slog.Logger) error {
	for _, entry := range file.Collaterals {
		params, err := entry.Params()
		if err != nil {
			return fmt.Errorf("collateral %s: %w", entry.Asset, err)
		}
		_, lookupErr := store.Params(params.Asset)
		if lookupErr != nil && !errors.Is(lookupErr, collateral.ErrUnknownAsset) {
			return lookupErr
		}
		if err := store.PutParams(params); err != nil {
			return fmt.Errorf("collateral %s: %w", entry.Asset, err)
		}
		logger.Info("collateral registered",
			slog.String("asset", params.Asset),
			slog.Bool("active", params.Active),
			slog.Bool("existing", lookupErr == nil))

		price, err := entry.SeedPrice()
		if err != nil {
			return fmt.Errorf("collateral %s: %w", entry.Asset, err)
		}
		if price != nil {
			if err := feed.SetPrice(params.Asset, price, time.Time{}, "config"); err != nil {
				return fmt.Errorf("collateral %s: seed price: %w", entry.Asset, err)
			}
		}
	}
	return nil
}

func applyWhitelists(store *collateral.Store, cfg config.Whitelists) error {
	roles := []struct {
		role     collateral.Role
		enforced bool
		members  []string
	}{
		{role: collateral.RoleLiquidator, enforced: cfg.EnforceLiquidators, members: cfg.Liquidators},
		{role: collateral.RoleRedeemer, enforced: cfg.EnforceRedeemers, members: cfg.Redeemers},
	}
	for _, entry := range roles {
		if err := store.SetWhitelistEnforced(entry.role, entry.enforced); err != nil {
			return fmt.Errorf("whitelist %s: %w", entry.role, err)
		}
		for _, member := range entry.members {
			addr, err := crypto.DecodeAddress(member)
			if err != nil {
				return fmt.Errorf("whitelist %s: %s: %w", entry.role, member, err)
			}
			if err := store.SetWhitelisted(entry.role, addr, true); err != nil {
				return fmt.Errorf("whitelist %s: %w", entry.role, err)
			}
		}
	}
	return nil
}
