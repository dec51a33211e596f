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
	"github.com/AleutianAI/feeaudit/services/taxaudit/report"
	"github.com/spf13/cobra"
)

type simulateFlags struct {
	trader    string
	buy       string
	sell      string
	naiveSell bool
	pinState  bool
}

func newSimulateCmd(a *app) *cobra.Command {
	var f simulateFlags
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run a buy/sell diagnostic against the simulated ledger",
		Long: `Seeds the in-memory pool from the simulation section of the config, buys
with the configured base amount, sells what the buy delivered, and
diagnoses the round trip. The report is saved to the history.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runSimulate(cmd, f)
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&f.trader, "trader", "", addressFlagHelp("trader")+", overrides audit.trader")
	fl.StringVar(&f.buy, "buy", "", "base asset to pay in, overrides audit.buy_amount")
	fl.StringVar(&f.sell, "sell", "", "tokens to sell, overrides audit.sell_amount")
	fl.BoolVar(&f.naiveSell, "naive-sell", false, "sell through the non-fee-aware router path")
	fl.BoolVar(&f.pinState, "pin-state", false, "read policy and exclusions once for both scenarios")
	return cmd
}

func (a *app) runSimulate(cmd *cobra.Command, f simulateFlags) error {
	ctx := cmd.Context()

	audit := a.cfg.Audit
	if f.trader != "" {
		audit.Trader = f.trader
	}
	if f.buy != "" {
		audit.BuyAmount = f.buy
	}
	if f.sell != "" {
		audit.SellAmount = f.sell
	}
	audit.NaiveSell = audit.NaiveSell || f.naiveSell
	audit.PinState = audit.PinState || f.pinState

	params, err := audit.DiagnosticParams()
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

	// The trader pays base asset into the pool; make sure it can.
	if err := topUpBase(ctx, be.ledger, params.Trader, params.BuyAmount); err != nil {
		return err
	}

	rep, runErr := be.runner.RunFullDiagnostic(ctx, params)
	if rep == nil {
		return runErr
	}
	doc := report.FromFullReport(rep, runErr)
	doc.Source = be.source
	a.persist(ctx, doc)

	if err := render.Render(doc); err != nil {
		return err
	}
	return outcome(doc, runErr)
}
