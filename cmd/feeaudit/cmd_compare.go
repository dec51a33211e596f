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

	"github.com/AleutianAI/feeaudit/cmd/feeaudit/config"
	"github.com/AleutianAI/feeaudit/pkg/validation"
	"github.com/AleutianAI/feeaudit/services/taxaudit/chain"
	"github.com/AleutianAI/feeaudit/services/taxaudit/engine"
	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

type compareFlags struct {
	rpcURL string
	token  string
	pair   string
	other  string
	otherP string
	router string
}

func newCompareCmd(a *app) *cobra.Command {
	var f compareFlags
	cmd := &cobra.Command{
		Use:   "compare",
		Short: "Compare the tax configuration of two deployed tokens",
		Long: `Reads both tokens' policy, pair gate, trading status and whether each
token's own pair appears in either exclusion mechanism, and whether the
router is exempt on each token, then lists the fields that differ. The first token comes from the chain section of the
config unless --token and --pair are given.

Exits 1 when any tax-relevant field differs.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runCompare(cmd, f)
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&f.rpcURL, "rpc-url", "", "JSON-RPC endpoint, overrides chain.rpc_url")
	fl.StringVar(&f.token, "token", "", addressFlagHelp("first token")+", overrides chain.token")
	fl.StringVar(&f.pair, "pair", "", addressFlagHelp("first pair")+", overrides chain.pair")
	fl.StringVar(&f.other, "other-token", "", addressFlagHelp("second token")+" (required)")
	fl.StringVar(&f.otherP, "other-pair", "", addressFlagHelp("second pair")+" (required)")
	fl.StringVar(&f.router, "router", "", addressFlagHelp("router checked on both tokens")+", overrides chain.router")
	_ = cmd.MarkFlagRequired("other-token")
	_ = cmd.MarkFlagRequired("other-pair")
	return cmd
}

func (a *app) runCompare(cmd *cobra.Command, f compareFlags) error {
	ctx := cmd.Context()
	a.applyChainFlags(f.rpcURL, f.token, f.pair, "")
	a.cfg.Audit.Backend = config.BackendChain
	if err := config.Validate(a.cfg); err != nil {
		return err
	}

	left, err := a.cfg.Chain.ProviderConfig()
	if err != nil {
		return err
	}
	rightChain := a.cfg.Chain
	rightChain.Token, rightChain.Pair, rightChain.Base, rightChain.FeeDetector = f.other, f.otherP, "", ""
	right, err := rightChain.ProviderConfig()
	if err != nil {
		return fmt.Errorf("other token: %w", err)
	}

	var router common.Address
	routerHex := a.cfg.Chain.Router
	if f.router != "" {
		routerHex = f.router
	}
	if routerHex != "" {
		if router, err = validation.ParseAddress(routerHex); err != nil {
			return fmt.Errorf("router: %w", err)
		}
	}

	render, err := a.renderer()
	if err != nil {
		return err
	}

	var profiles [2]engine.TokenProfile
	g, gctx := errgroup.WithContext(ctx)
	for i, pc := range []chain.Config{left, right} {
		g.Go(func() error {
			provider, closeFn, err := chain.Dial(gctx, a.cfg.Chain.RPCURL, pc, chain.WithLogger(a.logger))
			if err != nil {
				return err
			}
			defer closeFn()
			profiles[i], err = readProfile(gctx, pc.Token.Hex(), pc.Token, pc.Pair, router, provider)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	diffs := engine.ComparePolicies(profiles[0], profiles[1])
	if err := render.RenderComparison(profiles[0].Label, profiles[1].Label, diffs); err != nil {
		return err
	}
	if len(diffs) > 0 {
		return errDefect
	}
	return nil
}
