// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.


// Package config loads the feeaudit YAML configuration.
//
// The file lives at ~/.feeaudit/feeaudit.yaml unless --config points
// elsewhere. It is created with defaults on first run. The defaults describe
// a simulated token with a 1.25% burn and 1.25% foundation fee so every
// command works out of the box.
package config

import (
	"time"

	"github.com/AleutianAI/feeaudit/services/taxaudit/engine"
	"github.com/AleutianAI/feeaudit/services/taxaudit/telemetry"
)

// Backend names which ledger the audit runs against.
const (
	BackendSimulation = "simulation"
	BackendChain      = "chain"
)

// FeeAuditConfig is the root of feeaudit.yaml.
type FeeAuditConfig struct {
	Audit      AuditConfig      `yaml:"audit"`
	Simulation SimulationConfig `yaml:"simulation"`
	Chain      ChainConfig      `yaml:"chain"`
	Server     ServerConfig     `yaml:"server"`
	Store      StoreConfig      `yaml:"store"`
	Log        LogConfig        `yaml:"log"`
	Telemetry  telemetry.Config `yaml:"telemetry"`
}

// AuditConfig holds the diagnostic parameters shared by every backend.
type AuditConfig struct {
	// Backend is "simulation" or "chain".
	Backend string `yaml:"backend" validate:"oneof=simulation chain"`

	ToleranceBps uint64        `yaml:"tolerance_bps" validate:"lte=10000"`
	Timeout      time.Duration `yaml:"timeout" validate:"gt=0"`

	Trader     string `yaml:"trader" validate:"required,address"`
	BuyAmount  string `yaml:"buy_amount" validate:"required,amount"`
	SellAmount string `yaml:"sell_amount,omitempty" validate:"omitempty,amount"`

	// NaiveSell runs the sell through the non-fee-aware router path.
	NaiveSell bool `yaml:"naive_sell"`

	// PinState reads policy and exclusions once for the whole diagnostic.
	PinState bool `yaml:"pin_state"`
}

// SimulationConfig seeds the in-memory ledger.
type SimulationConfig struct {
	Pair              string `yaml:"pair" validate:"required,address"`
	Router            string `yaml:"router" validate:"required,address"`
	Foundation        string `yaml:"foundation" validate:"required,address"`
	LiquidityProvider string `yaml:"liquidity_provider" validate:"required,address"`

	Policy engine.TaxPolicy `yaml:"policy"`

	ExplicitExclusions []string `yaml:"explicit_exclusions" validate:"dive,address"`
	MappedExclusions   []string `yaml:"mapped_exclusions" validate:"dive,address"`

	TradingEnabled bool `yaml:"trading_enabled"`
	Paused         bool `yaml:"paused"`

	PoolToken string `yaml:"pool_token" validate:"required,amount"`
	PoolBase  string `yaml:"pool_base" validate:"required,amount"`

	// Balances and BaseBalances map address to amount.
	Balances     map[string]string `yaml:"balances" validate:"dive,keys,address,endkeys,amount"`
	BaseBalances map[string]string `yaml:"base_balances" validate:"dive,keys,address,endkeys,amount"`

	Quirks QuirksConfig `yaml:"quirks"`
}

// QuirksConfig makes the simulated token misbehave on purpose.
type QuirksConfig struct {
	SkipBuyTax  bool `yaml:"skip_buy_tax"`
	SkipSellTax bool `yaml:"skip_sell_tax"`

	// ActualPolicy, when set, is what the token really charges while it
	// keeps reporting Policy.
	ActualPolicy *engine.TaxPolicy `yaml:"actual_policy,omitempty"`
}

// ChainConfig points the read-only provider at deployed contracts.
type ChainConfig struct {
	RPCURL string `yaml:"rpc_url" validate:"omitempty,url"`
	Token  string `yaml:"token" validate:"omitempty,address"`
	Pair   string `yaml:"pair" validate:"omitempty,address"`
	Base   string `yaml:"base" validate:"omitempty,address"`

	// Router receives the token leg of liquidity removals and is checked
	// in the exclusion mapping alongside pair and trader.
	Router string `yaml:"router" validate:"omitempty,address"`

	// Foundation overrides the wallet read from the token.
	Foundation string `yaml:"foundation" validate:"omitempty,address"`

	// FeeDetector is a deployed FeeOnTransferDetector; its verdict becomes
	// a readiness finding. Requires base.
	FeeDetector    string `yaml:"fee_detector" validate:"omitempty,address"`
	DetectorAmount string `yaml:"detector_amount,omitempty" validate:"omitempty,amount"`

	RequestsPerSecond float64 `yaml:"requests_per_second" validate:"gte=0"`
}

// ServerConfig configures `feeaudit serve`.
type ServerConfig struct {
	Addr string `yaml:"addr" validate:"required,hostname_port"`
}

// StoreConfig configures the report store.
type StoreConfig struct {
	Path     string `yaml:"path"`
	Disabled bool   `yaml:"disabled"`
}

// LogConfig configures pkg/logging.
type LogConfig struct {
	Level string `yaml:"level" validate:"omitempty,oneof=debug info warn warning error"`
	Dir   string `yaml:"dir"`
	JSON  bool   `yaml:"json"`
}

// DefaultConfig returns a configuration that runs against the simulated
// ledger without any external service.
func DefaultConfig() FeeAuditConfig {
	const (
		pair       = "0x1000000000000000000000000000000000000001"
		router     = "0x2000000000000000000000000000000000000002"
		foundation = "0x3000000000000000000000000000000000000003"
		provider   = "0x4000000000000000000000000000000000000004"
		trader     = "0x5000000000000000000000000000000000000005"
	)
	return FeeAuditConfig{
		Audit: AuditConfig{
			Backend:      BackendSimulation,
			ToleranceBps: engine.DefaultToleranceBps,
			Timeout:      30 * time.Second,
			Trader:       trader,
			BuyAmount:    "1000000000000000000",
		},
		Simulation: SimulationConfig{
			Pair:              pair,
			Router:            router,
			Foundation:        foundation,
			LiquidityProvider: provider,
			Policy: engine.TaxPolicy{
				BurnBps:         125,
				FoundationBps:   125,
				PairGateEnabled: true,
			},
			ExplicitExclusions: []string{},
			MappedExclusions:   []string{foundation},
			TradingEnabled:     true,
			PoolToken:          "1000000000000000000000000",
			PoolBase:           "100000000000000000000",
			Balances:           map[string]string{},
			BaseBalances:       map[string]string{trader: "10000000000000000000"},
		},
		Chain: ChainConfig{
			RequestsPerSecond: 10,
		},
		Server:    ServerConfig{Addr: "127.0.0.1:8090"},
		Store:     StoreConfig{Path: "~/.feeaudit/reports"},
		Log:       LogConfig{Level: "info"},
		Telemetry: telemetry.DefaultConfig(),
	}
}
