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
	"fmt"
	"time"

	"github.com/AleutianAI/feeaudit/cmd/feeaudit/config"
	"github.com/AleutianAI/feeaudit/pkg/validation"
	"github.com/AleutianAI/feeaudit/services/taxaudit/report"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

type inspectFlags struct {
	trader string
	rpcURL string
	token  string
	pair   string
	base   string
}

func newInspectCmd(a *app) *cobra.Command {
	var f inspectFlags
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Diagnose a token from its state without trading",
		Long: `Reads the tax policy, pair gate and both exclusion mechanisms, checks
readiness, and predicts whether buys and sells are taxed. Nothing is
executed, so this is the command to point at a deployed token.

Giving --rpc-url selects the chain backend regardless of audit.backend.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runInspect(cmd, f)
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&f.trader, "trader", "", addressFlagHelp("wallet to probe")+", overrides audit.trader")
	fl.StringVar(&f.rpcURL, "rpc-url", "", "JSON-RPC endpoint, overrides chain.rpc_url")
	fl.StringVar(&f.token, "token", "", addressFlagHelp("token")+", overrides chain.token")
	fl.StringVar(&f.pair, "pair", "", addressFlagHelp("pair")+", overrides chain.pair")
	fl.StringVar(&f.base, "base", "", addressFlagHelp("base token")+", overrides chain.base")
	return cmd
}

func (a *app) applyChainFlags(rpcURL, token, pair, base string) {
	if rpcURL != "" {
		a.cfg.Chain.RPCURL = rpcURL
		a.cfg.Audit.Backend = config.BackendChain
	}
	if token != "" {
		a.cfg.Chain.Token = token
	}
	if pair != "" {
		a.cfg.Chain.Pair = pair
	}
	if base != "" {
		a.cfg.Chain.Base = base
	}
}

func (a *app) runInspect(cmd *cobra.Command, f inspectFlags) error {
	ctx := cmd.Context()
	a.applyChainFlags(f.rpcURL, f.token, f.pair, f.base)
	if err := config.Validate(a.cfg); err != nil {
		return err
	}

	traderHex := a.cfg.Audit.Trader
	if f.trader != "" {
		traderHex = f.trader
	}
	trader, err := validation.ParseAddress(traderHex)
	if err != nil {
		return fmt.Errorf("trader: %w", err)
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

	be, err := a.openBackend(ctx, metrics)
	if err != nil {
		return err
	}
	defer be.close()

	in, err := be.runner.Inspect(ctx, trader)
	if err != nil {
		return err
	}
	doc := report.FromInspection(uuid.NewString(), time.Now().UTC(), in)
	doc.Source = be.source
	a.persist(ctx, doc)

	if err := render.Render(doc); err != nil {
		return err
	}
	return outcome(doc, nil)
}
