// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"fmt"

	"github.com/AleutianAI/feeaudit/pkg/logging"
	"github.com/AleutianAI/feeaudit/pkg/validation"
	"github.com/AleutianAI/feeaudit/services/taxaudit/chain"
	"github.com/AleutianAI/feeaudit/services/taxaudit/scenario"
	"github.com/AleutianAI/feeaudit/services/taxaudit/simledger"
	"github.com/AleutianAI/feeaudit/services/taxaudit/store"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// LedgerConfig converts the simulation section into a simledger.Config.
func (s SimulationConfig) LedgerConfig() (simledger.Config, error) {
	var (
		out simledger.Config
		err error
	)
	if out.Pair, err = validation.ParseAddress(s.Pair); err != nil {
		return simledger.Config{}, fmt.Errorf("simulation.pair: %w", err)
	}
	if out.Router, err = validation.ParseAddress(s.Router); err != nil {
		return simledger.Config{}, fmt.Errorf("simulation.router: %w", err)
	}
	if out.Foundation, err = validation.ParseAddress(s.Foundation); err != nil {
		return simledger.Config{}, fmt.Errorf("simulation.foundation: %w", err)
	}
	if out.LiquidityProvider, err = validation.ParseAddress(s.LiquidityProvider); err != nil {
		return simledger.Config{}, fmt.Errorf("simulation.liquidity_provider: %w", err)
	}
	if out.ExplicitExclusions, err = validation.ParseAddresses(s.ExplicitExclusions); err != nil {
		return simledger.Config{}, fmt.Errorf("simulation.explicit_exclusions: %w", err)
	}
	if out.MappedExclusions, err = validation.ParseAddresses(s.MappedExclusions); err != nil {
		return simledger.Config{}, fmt.Errorf("simulation.mapped_exclusions: %w", err)
	}
	if out.PoolToken, err = validation.ParseAmount(s.PoolToken); err != nil {
		return simledger.Config{}, fmt.Errorf("simulation.pool_token: %w", err)
	}
	if out.PoolBase, err = validation.ParseAmount(s.PoolBase); err != nil {
		return simledger.Config{}, fmt.Errorf("simulation.pool_base: %w", err)
	}
	if out.Balances, err = parseBook(s.Balances); err != nil {
		return simledger.Config{}, fmt.Errorf("simulation.balances: %w", err)
	}
	if out.BaseBalances, err = parseBook(s.BaseBalances); err != nil {
		return simledger.Config{}, fmt.Errorf("simulation.base_balances: %w", err)
	}

	out.Policy = s.Policy
	out.TradingEnabled = s.TradingEnabled
	out.Paused = s.Paused
	out.Quirks = simledger.Quirks{
		SkipBuyTax:  s.Quirks.SkipBuyTax,
		SkipSellTax: s.Quirks.SkipSellTax,
	}
	if s.Quirks.ActualPolicy != nil {
		actual := *s.Quirks.ActualPolicy
		out.Quirks.Actual = &actual
	}
	return out, nil
}

func parseBook(book map[string]string) (map[common.Address]*uint256.Int, error) {
	out := make(map[common.Address]*uint256.Int, len(book))
	for addr, amount := range book {
		a, err := validation.ParseAddress(addr)
		if err != nil {
			return nil, err
		}
		v, err := validation.ParseAmount(amount)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", addr, err)
		}
		out[a] = v
	}
	return out, nil
}

// ProviderConfig converts the chain section into a chain.Config.
func (c ChainConfig) ProviderConfig() (chain.Config, error) {
	token, err := validation.ParseAddress(c.Token)
	if err != nil {
		return chain.Config{}, fmt.Errorf("chain.token: %w", err)
	}
	pair, err := validation.ParseAddress(c.Pair)
	if err != nil {
		return chain.Config{}, fmt.Errorf("chain.pair: %w", err)
	}
	out := chain.Config{Token: token, Pair: pair, RequestsPerSecond: c.RequestsPerSecond}
	if c.Base != "" {
		if out.Base, err = validation.ParseAddress(c.Base); err != nil {
			return chain.Config{}, fmt.Errorf("chain.base: %w", err)
		}
	}
	if c.FeeDetector != "" {
		if out.FeeDetector, err = validation.ParseAddress(c.FeeDetector); err != nil {
			return chain.Config{}, fmt.Errorf("chain.fee_detector: %w", err)
		}
	}
	if c.DetectorAmount != "" {
		if out.DetectorAmount, err = validation.ParseAmount(c.DetectorAmount); err != nil {
			return chain.Config{}, fmt.Errorf("chain.detector_amount: %w", err)
		}
	}
	return out, nil
}

// ScenarioConfig builds the runner configuration for the selected backend.
//
// For the chain backend Foundation stays zero when chain.foundation is
// unset; the caller resolves it from the token's foundation wallet.
func (c FeeAuditConfig) ScenarioConfig() (scenario.Config, error) {
	out := scenario.Config{ToleranceBps: c.Audit.ToleranceBps, Timeout: c.Audit.Timeout}

	var pair, foundation, router string
	switch c.Audit.Backend {
	case BackendChain:
		pair, foundation, router = c.Chain.Pair, c.Chain.Foundation, c.Chain.Router
	default:
		pair, foundation, router = c.Simulation.Pair, c.Simulation.Foundation, c.Simulation.Router
	}

	var err error
	if out.Pair, err = validation.ParseAddress(pair); err != nil {
		return scenario.Config{}, fmt.Errorf("pair: %w", err)
	}
	if foundation != "" {
		if out.Foundation, err = validation.ParseAddress(foundation); err != nil {
			return scenario.Config{}, fmt.Errorf("foundation: %w", err)
		}
	}
	if router != "" {
		if out.Router, err = validation.ParseAddress(router); err != nil {
			return scenario.Config{}, fmt.Errorf("router: %w", err)
		}
	}
	return out, nil
}

// DiagnosticParams converts the audit section into runner parameters.
func (a AuditConfig) DiagnosticParams() (scenario.DiagnosticParams, error) {
	trader, err := validation.ParseAddress(a.Trader)
	if err != nil {
		return scenario.DiagnosticParams{}, fmt.Errorf("audit.trader: %w", err)
	}
	buy, err := validation.ParseAmount(a.BuyAmount)
	if err != nil {
		return scenario.DiagnosticParams{}, fmt.Errorf("audit.buy_amount: %w", err)
	}
	p := scenario.DiagnosticParams{
		Trader:    trader,
		BuyAmount: buy,
		NaiveSell: a.NaiveSell,
		PinState:  a.PinState,
	}
	if a.SellAmount != "" {
		if p.SellAmount, err = validation.ParseAmount(a.SellAmount); err != nil {
			return scenario.DiagnosticParams{}, fmt.Errorf("audit.sell_amount: %w", err)
		}
	}
	return p, nil
}

// LoggingConfig converts the log section for service.
func (l LogConfig) LoggingConfig(service string) (logging.Config, error) {
	level, err := logging.ParseLevel(l.Level)
	if err != nil {
		return logging.Config{}, err
	}
	return logging.Config{Level: level, LogDir: l.Dir, Service: service, JSON: l.JSON}, nil
}

// BadgerConfig converts the store section. A disabled store returns false.
func (s StoreConfig) BadgerConfig() (store.Config, bool) {
	if s.Disabled || s.Path == "" {
		return store.Config{}, false
	}
	return store.DefaultConfig(ExpandHome(s.Path)), true
}
