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

	"github.com/AleutianAI/feeaudit/pkg/validation"
	"github.com/AleutianAI/feeaudit/services/taxaudit/engine"
	"github.com/AleutianAI/feeaudit/services/taxaudit/report"
	"github.com/AleutianAI/feeaudit/services/taxaudit/scenario"
	"github.com/AleutianAI/feeaudit/services/taxaudit/simledger"
	"github.com/spf13/cobra"
)

type scenarioFlags struct {
	trader       string
	counterparty string
	amount       string
	baseAmount   string
	naive        bool
	noFund       bool
}

func newScenarioCmd(a *app) *cobra.Command {
	var f scenarioFlags
	cmd := &cobra.Command{
		Use:   "scenario <kind>",
		Short: "Run one scenario against the simulated ledger",
		Long: `Runs a single operation and reconciles it against its prediction.

Kinds: peer, buy, sell, add, remove (or peer_transfer, add_liquidity,
remove_liquidity). --amount is tokens for peer and sell, base asset for
buy, tokens desired for add, and LP tokens for remove.

The trader is credited with whatever the operation spends unless
--no-fund is given. remove defaults the trader to the liquidity provider,
which holds the seeded LP.`,
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"peer", "buy", "sell", "add", "remove"},
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := engine.ParseTransferKind(args[0])
			if err != nil {
				return err
			}
			return a.runScenario(cmd, kind, f)
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&f.trader, "trader", "", addressFlagHelp("trader")+", overrides audit.trader")
	fl.StringVar(&f.counterparty, "to", "", addressFlagHelp("peer transfer recipient"))
	fl.StringVar(&f.amount, "amount", "", "operation amount in the smallest unit (required)")
	fl.StringVar(&f.baseAmount, "base-amount", "", "base asset offered with add")
	fl.BoolVar(&f.naive, "naive", false, "use the non-fee-aware router path for sell and remove")
	fl.BoolVar(&f.noFund, "no-fund", false, "do not credit the trader before running")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

func (a *app) runScenario(cmd *cobra.Command, kind engine.TransferKind, f scenarioFlags) error {
	ctx := cmd.Context()

	params, err := a.scenarioParams(kind, f)
	if err != nil {
		return err
	}
	render, err := a.renderer()
	if err != nil {
		return err
	}
	metrics, stop, err := a.startTelemetry(ctx, true)
	if err != nil {
		return err
	}
	defer stop()

	be, err := a.simulationBackend(metrics)
	if err != nil {
		return err
	}
	defer be.close()

	if !f.noFund {
		if err := fundFor(ctx, be.ledger, kind, params); err != nil {
			return err
		}
	}

	res, runErr := be.runner.RunScenario(ctx, kind, params)
	if res == nil {
		return runErr
	}
	doc := report.FromScenario(be.runner.Config().Pair, res, runErr)
	doc.Source = be.source
	if err := render.Render(doc); err != nil {
		return err
	}
	if runErr != nil {
		return runErr
	}
	if res.Verdict != engine.VerdictMatch {
		return errDefect
	}
	return nil
}

func (a *app) scenarioParams(kind engine.TransferKind, f scenarioFlags) (scenario.Params, error) {
	trader := a.cfg.Audit.Trader
	switch {
	case f.trader != "":
		trader = f.trader
	case kind == engine.RemoveLiquidity:
		trader = a.cfg.Simulation.LiquidityProvider
	}

	var (
		p   = scenario.Params{FeeAware: !f.naive}
		err error
	)
	if p.Trader, err = validation.ParseAddress(trader); err != nil {
		return scenario.Params{}, fmt.Errorf("trader: %w", err)
	}
	if p.Amount, err = validation.ParseAmount(f.amount); err != nil {
		return scenario.Params{}, fmt.Errorf("amount: %w", err)
	}
	if f.baseAmount != "" {
		if p.BaseAmount, err = validation.ParseAmount(f.baseAmount); err != nil {
			return scenario.Params{}, fmt.Errorf("base amount: %w", err)
		}
	}
	if f.counterparty != "" {
		if p.Counterparty, err = validation.ParseAddress(f.counterparty); err != nil {
			return scenario.Params{}, fmt.Errorf("to: %w", err)
		}
	}
	return p, nil
}

// fundFor credits the trader with what kind spends.
func fundFor(ctx context.Context, ledger *simledger.Ledger, kind engine.TransferKind, p scenario.Params) error {
	switch kind {
	case engine.PeerTransfer, engine.Sell:
		return topUpTokens(ctx, ledger, p.Trader, p.Amount)
	case engine.Buy:
		return topUpBase(ctx, ledger, p.Trader, p.Amount)
	case engine.AddLiquidity:
		if err := topUpTokens(ctx, ledger, p.Trader, p.Amount); err != nil {
			return err
		}
		if p.BaseAmount != nil {
			return topUpBase(ctx, ledger, p.Trader, p.BaseAmount)
		}
	}
	return nil
}
