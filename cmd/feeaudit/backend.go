// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.


package main

import (
	"context"
	"fmt"

	"github.com/AleutianAI/feeaudit/cmd/feeaudit/config"
	"github.com/AleutianAI/feeaudit/services/taxaudit/chain"
	"github.com/AleutianAI/feeaudit/services/taxaudit/engine"
	"github.com/AleutianAI/feeaudit/services/taxaudit/scenario"
	"github.com/AleutianAI/feeaudit/services/taxaudit/simledger"
	"github.com/AleutianAI/feeaudit/services/taxaudit/telemetry"
	"github.com/ethereum/go-ethereum/common"
)

// backend is a runner bound to one ledger.
type backend struct {
	runner *scenario.Runner

	// ledger is set for the simulation backend only.
	ledger *simledger.Ledger

	// source is recorded on every report ("simulation" or "chain").
	source string

	close func()
}

func (a *app) runnerOptions(metrics *telemetry.Metrics) []scenario.Option {
	return []scenario.Option{
		scenario.WithLogger(a.logger.With("component", "runner")),
		scenario.WithMetrics(metrics),
	}
}

// openBackend builds the backend selected by audit.backend.
func (a *app) openBackend(ctx context.Context, metrics *telemetry.Metrics) (*backend, error) {
	if a.cfg.Audit.Backend == config.BackendChain {
		return a.chainBackend(ctx, metrics)
	}
	return a.simulationBackend(metrics)
}

// simulationBackend seeds a fresh in-memory ledger from the config.
func (a *app) simulationBackend(metrics *telemetry.Metrics) (*backend, error) {
	cfg := a.cfg
	cfg.Audit.Backend = config.BackendSimulation

	lc, err := cfg.Simulation.LedgerConfig()
	if err != nil {
		return nil, err
	}
	ledger, err := simledger.New(lc)
	if err != nil {
		return nil, fmt.Errorf("seed simulation: %w", err)
	}
	sc, err := cfg.ScenarioConfig()
	if err != nil {
		return nil, err
	}
	runner, err := scenario.NewRunner(ledger, ledger, sc, a.runnerOptions(metrics)...)
	if err != nil {
		return nil, err
	}
	a.logger.Debug("simulation backend ready",
		"pair", sc.Pair.Hex(),
		"burn_bps", lc.Policy.BurnBps,
		"foundation_bps", lc.Policy.FoundationBps,
	)
	return &backend{runner: runner, ledger: ledger, source: config.BackendSimulation, close: func() {}}, nil
}

// chainBackend dials the configured node. The foundation wallet is read
// from the token when chain.foundation is unset.
func (a *app) chainBackend(ctx context.Context, metrics *telemetry.Metrics) (*backend, error) {
	pc, err := a.cfg.Chain.ProviderConfig()
	if err != nil {
		return nil, err
	}
	provider, closeFn, err := chain.Dial(ctx, a.cfg.Chain.RPCURL, pc, chain.WithLogger(a.logger.With("component", "chain")))
	if err != nil {
		return nil, err
	}

	sc, err := a.cfg.ScenarioConfig()
	if err != nil {
		closeFn()
		return nil, err
	}
	if sc.Foundation == (common.Address{}) {
		status, err := provider.ReadTokenStatus(ctx)
		if err != nil {
			closeFn()
			return nil, fmt.Errorf("read foundation wallet: %w", err)
		}
		sc.Foundation = status.FoundationWallet
	}

	runner, err := scenario.NewRunner(provider, provider, sc, a.runnerOptions(metrics)...)
	if err != nil {
		closeFn()
		return nil, err
	}
	a.logger.Debug("chain backend ready", "token", pc.Token.Hex(), "pair", pc.Pair.Hex())
	return &backend{runner: runner, source: config.BackendChain, close: closeFn}, nil
}

// profileSource is what ComparePolicies needs from a token.
type profileSource interface {
	ReadPolicy(ctx context.Context) (engine.TaxPolicy, error)
	ReadPairGate(ctx context.Context) (bool, error)
	ReadExclusionState(ctx context.Context, probes []common.Address) (engine.ExclusionState, error)
	ReadTokenStatus(ctx context.Context) (scenario.TokenStatus, error)
}

// readProfile collects one token's tax-relevant configuration. A zero
// router is not read.
func readProfile(ctx context.Context, label string, token, pair, router common.Address, src profileSource) (engine.TokenProfile, error) {
	policy, err := src.ReadPolicy(ctx)
	if err != nil {
		return engine.TokenProfile{}, fmt.Errorf("%s: read policy: %w", label, err)
	}
	if policy.PairGateEnabled, err = src.ReadPairGate(ctx); err != nil {
		return engine.TokenProfile{}, fmt.Errorf("%s: read pair gate: %w", label, err)
	}
	probes := []common.Address{pair}
	if router != (common.Address{}) {
		probes = append(probes, router)
	}
	exclusion, err := src.ReadExclusionState(ctx, probes)
	if err != nil {
		return engine.TokenProfile{}, fmt.Errorf("%s: read exclusions: %w", label, err)
	}
	status, err := src.ReadTokenStatus(ctx)
	if err != nil {
		return engine.TokenProfile{}, fmt.Errorf("%s: read token status: %w", label, err)
	}
	return engine.TokenProfile{
		Label:          label,
		Token:          token,
		Pair:           pair,
		Policy:         policy,
		TradingEnabled: status.TradingEnabled,
		Exclusion:      exclusion,
		RouterExcluded: router != (common.Address{}) && exclusion.Excluded(router),
	}, nil
}
