// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package scenario

import (
	"context"
	"fmt"

	"github.com/AleutianAI/feeaudit/services/taxaudit/engine"
	"github.com/AleutianAI/feeaudit/services/taxaudit/telemetry"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"golang.org/x/sync/errgroup"
)

// readPolicyAndExclusion reads the declared policy, the pair gate and both
// exclusion mechanisms in parallel.
func (r *Runner) readPolicyAndExclusion(ctx context.Context, probes []common.Address) (engine.TaxPolicy, engine.ExclusionState, error) {
	var (
		policy    engine.TaxPolicy
		gate      bool
		exclusion engine.ExclusionState
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		if policy, err = r.ledger.ReadPolicy(gctx); err != nil {
			return fmt.Errorf("read policy: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		if gate, err = r.ledger.ReadPairGate(gctx); err != nil {
			return fmt.Errorf("read pair gate: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		if exclusion, err = r.ledger.ReadExclusionState(gctx, probes); err != nil {
			return fmt.Errorf("read exclusion state: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return engine.TaxPolicy{}, engine.ExclusionState{}, err
	}
	policy.PairGateEnabled = gate
	if err := policy.Validate(); err != nil {
		return engine.TaxPolicy{}, engine.ExclusionState{}, err
	}
	return policy, exclusion, nil
}

// readState assembles what the expectation is computed against. Pinned
// values are used as given; everything else is read fresh.
func (r *Runner) readState(ctx context.Context, tc engine.TransferContext, pins *Pins) (engine.State, error) {
	ctx, span := telemetry.StartSpan(ctx, "scenario.read_state")
	defer span.End()

	var (
		state    engine.State
		reserves engine.Reserves
		lp       *uint256.Int
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		if reserves, err = r.ledger.ReadPoolReserves(gctx, r.cfg.Pair); err != nil {
			return fmt.Errorf("read reserves: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		if lp, err = r.ledger.ReadLPSupply(gctx, r.cfg.Pair); err != nil {
			return fmt.Errorf("read lp supply: %w", err)
		}
		return nil
	})

	pinnedPolicy := pins != nil && pins.Policy != nil
	pinnedExclusion := pins != nil && pins.Exclusion != nil
	if !pinnedPolicy || !pinnedExclusion {
		g.Go(func() error {
			policy, exclusion, err := r.readPolicyAndExclusion(gctx, r.probes(tc.From, tc.To, tc.Via))
			if err != nil {
				return err
			}
			state.Policy, state.Exclusion = policy, exclusion
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		telemetry.RecordError(span, err)
		return engine.State{}, err
	}

	if pinnedPolicy {
		state.Policy = *pins.Policy
	}
	if pinnedExclusion {
		state.Exclusion = pins.Exclusion.Clone()
	}
	state.Reserves = reserves.Clone()
	state.LPSupply = zeroIfNil(lp).Clone()
	return state, nil
}

// snapshot captures every balance Diff and the report need. All reads run
// in parallel; none of them mutate.
func (r *Runner) snapshot(ctx context.Context, accounts engine.Accounts, trader common.Address) (engine.LedgerSnapshot, error) {
	ctx, span := telemetry.StartSpan(ctx, "scenario.snapshot")
	defer span.End()

	tokenAccounts := []common.Address{accounts.Sender, accounts.Receiver, accounts.Foundation}
	baseAccounts := []common.Address{trader, r.cfg.Pair}

	tokenBalances := make([]*uint256.Int, len(tokenAccounts))
	baseBalances := make([]*uint256.Int, len(baseAccounts))
	var (
		supply   *uint256.Int
		reserves engine.Reserves
		lp       *uint256.Int
	)

	g, gctx := errgroup.WithContext(ctx)
	for i, a := range tokenAccounts {
		g.Go(func() error {
			b, err := r.ledger.ReadBalance(gctx, a)
			if err != nil {
				return fmt.Errorf("read balance %s: %w", a.Hex(), err)
			}
			tokenBalances[i] = b
			return nil
		})
	}
	for i, a := range baseAccounts {
		g.Go(func() error {
			b, err := r.ledger.ReadBaseBalance(gctx, a)
			if err != nil {
				return fmt.Errorf("read base balance %s: %w", a.Hex(), err)
			}
			baseBalances[i] = b
			return nil
		})
	}
	g.Go(func() error {
		var err error
		if supply, err = r.ledger.ReadTotalSupply(gctx); err != nil {
			return fmt.Errorf("read total supply: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		if reserves, err = r.ledger.ReadPoolReserves(gctx, r.cfg.Pair); err != nil {
			return fmt.Errorf("read reserves: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		if lp, err = r.ledger.ReadLPSupply(gctx, r.cfg.Pair); err != nil {
			return fmt.Errorf("read lp supply: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		telemetry.RecordError(span, err)
		return engine.LedgerSnapshot{}, err
	}

	snap := engine.LedgerSnapshot{
		Balances:     make(map[common.Address]*uint256.Int, len(tokenAccounts)),
		BaseBalances: make(map[common.Address]*uint256.Int, len(baseAccounts)),
		TotalSupply:  zeroIfNil(supply).Clone(),
		Reserves:     reserves.Clone(),
		LPSupply:     zeroIfNil(lp).Clone(),
	}
	for i, a := range tokenAccounts {
		snap.Balances[a] = zeroIfNil(tokenBalances[i]).Clone()
	}
	for i, a := range baseAccounts {
		snap.BaseBalances[a] = zeroIfNil(baseBalances[i]).Clone()
	}
	return snap, nil
}
