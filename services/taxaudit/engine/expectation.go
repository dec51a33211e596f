// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package engine

import (
	"fmt"

	"github.com/AleutianAI/feeaudit/services/taxaudit/amm"
	"github.com/holiman/uint256"
)

// Quoter is the external constant-product swap quote. Gateways expose it so
// expectations use the same formula as the pool under test.
type Quoter interface {
	QuoteSwap(amountIn, reserveIn, reserveOut *uint256.Int) (*uint256.Int, error)
}

// ExpectationTag marks expectations whose correct observed result is a revert
// rather than a balance change.
type ExpectationTag int

const (
	TagNone ExpectationTag = iota

	// TagInvariantViolationExpected marks a naive sell of a taxed token: the
	// router quotes on the gross amount, the pair receives less, and the
	// pair's K check should reject the swap.
	TagInvariantViolationExpected

	// TagShortfallRevertExpected marks a naive liquidity removal of a taxed
	// token: the router is asked to forward the gross token amount but only
	// received the net.
	TagShortfallRevertExpected
)

func (t ExpectationTag) String() string {
	switch t {
	case TagNone:
		return "none"
	case TagInvariantViolationExpected:
		return "invariant_violation_expected"
	case TagShortfallRevertExpected:
		return "shortfall_revert_expected"
	default:
		return fmt.Sprintf("tag(%d)", int(t))
	}
}

// ExpectsRevert reports whether the tag predicts a revert.
func (t ExpectationTag) ExpectsRevert() bool {
	return t != TagNone
}

// Expectation is the predicted result of one scenario.
type Expectation struct {
	Kind TransferKind

	// Outcome is the predicted token-leg split. For buys the net is what
	// the trader receives; for sells and deposits it is what reaches the
	// pair; for removals it is what reaches the recipient.
	Outcome

	// Gross is the token amount subject to tax.
	Gross *uint256.Int

	// Taxable is the classifier decision for the token leg.
	Taxable bool

	// Classification is the breakdown behind Taxable.
	Classification Classification

	// Tag is set when the correct observed result is a revert.
	Tag ExpectationTag

	// RevertProven is true when the revert implied by Tag is certain under
	// integer math. A naive sell only fails K when the quote on the gross
	// amount exceeds the quote on the net amount; for tiny amounts both
	// can floor to the same value and the swap goes through.
	RevertProven bool

	// BaseAmount is the base-asset leg: paid in for buys and deposits,
	// paid out for sells and removals. Nil for peer transfers.
	BaseAmount *uint256.Int

	// LPMinted is the predicted LP share for deposits.
	LPMinted *uint256.Int

	// LPBurned is the LP redeemed by a removal.
	LPBurned *uint256.Int
}

// State is the on-chain state an expectation is computed against.
type State struct {
	Policy    TaxPolicy
	Exclusion ExclusionState
	Reserves  Reserves
	LPSupply  *uint256.Int
}

// ForSimpleTransfer predicts a wallet-to-wallet transfer.
//
// Peer transfers between two non-pair wallets are never taxed, whatever the
// exclusion state says, so net always equals gross.
func ForSimpleTransfer(ctx TransferContext, policy TaxPolicy) (Expectation, error) {
	if ctx.AmountGross == nil {
		return Expectation{}, ErrNilAmount
	}
	if err := policy.Validate(); err != nil {
		return Expectation{}, err
	}
	return Expectation{
		Kind:    ctx.Kind,
		Outcome: untaxedOutcome(ctx.AmountGross),
		Gross:   ctx.AmountGross.Clone(),
	}, nil
}

// ForBuy predicts a swap of base asset for tokens.
//
// Description:
//
//	grossTokenOut = quote(amountIn, reserveBase, reserveToken). If the pair,
//	as sender, passes the classifier the gross output is split by policy;
//	otherwise the trader receives all of it.
//
// Inputs:
//
//	ctx - From must be the pair, AmountGross the base asset paid in.
//	reserves - Pool reserves before the swap.
//	quoter - External constant-product quote.
func ForBuy(ctx TransferContext, policy TaxPolicy, exclusion ExclusionState, reserves Reserves, quoter Quoter) (Expectation, error) {
	if ctx.AmountGross == nil {
		return Expectation{}, ErrNilAmount
	}
	if quoter == nil {
		return Expectation{}, ErrNoQuoter
	}
	grossOut, err := quoter.QuoteSwap(ctx.AmountGross, reserves.Base, reserves.Token)
	if err != nil {
		return Expectation{}, fmt.Errorf("quote buy: %w", err)
	}

	exp, err := splitLeg(ctx, policy, exclusion, grossOut)
	if err != nil {
		return Expectation{}, err
	}
	exp.BaseAmount = ctx.AmountGross.Clone()
	return exp, nil
}

// ForSell predicts a swap of tokens for base asset.
//
// Description:
//
//	The tax is deducted from AmountGross before the tokens reach the pool,
//	so the pool only ever sees the net.
//
//	Fee-aware path: the router measures what arrived and quotes on the net.
//	This is the only path expected to succeed under a nonzero tax.
//
//	Naive path: the router quotes on the gross. Whenever the sell is taxable
//	and the policy takes any bps, the expectation is tagged
//	TagInvariantViolationExpected: the correct observation is a K revert,
//	not a numeric mismatch. RevertProven records whether integer rounding
//	guarantees that revert.
func ForSell(ctx TransferContext, policy TaxPolicy, exclusion ExclusionState, reserves Reserves, quoter Quoter) (Expectation, error) {
	if ctx.AmountGross == nil {
		return Expectation{}, ErrNilAmount
	}
	if quoter == nil {
		return Expectation{}, ErrNoQuoter
	}

	exp, err := splitLeg(ctx, policy, exclusion, ctx.AmountGross)
	if err != nil {
		return Expectation{}, err
	}

	netOut := new(uint256.Int)
	if !exp.Net.IsZero() {
		if netOut, err = quoter.QuoteSwap(exp.Net, reserves.Token, reserves.Base); err != nil {
			return Expectation{}, fmt.Errorf("quote sell on net: %w", err)
		}
	}
	exp.BaseAmount = netOut

	if ctx.FeeAware || !exp.Taxable || policy.TotalBps() == 0 {
		return exp, nil
	}

	grossOut, err := quoter.QuoteSwap(ctx.AmountGross, reserves.Token, reserves.Base)
	if err != nil {
		return Expectation{}, fmt.Errorf("quote sell on gross: %w", err)
	}
	exp.Tag = TagInvariantViolationExpected
	exp.RevertProven = grossOut.Gt(netOut)
	exp.BaseAmount = grossOut
	return exp, nil
}

// ForAddLiquidity predicts a deposit of tokens and base asset.
//
// Description:
//
//	The deposit is sized at the current reserve ratio. The token leg paid
//	to the pair goes through the classifier; the base leg is never taxed.
//	LP minted is computed from what actually reaches the pair.
func ForAddLiquidity(ctx TransferContext, policy TaxPolicy, exclusion ExclusionState, reserves Reserves, lpSupply *uint256.Int) (Expectation, error) {
	if ctx.AmountGross == nil || ctx.BaseAmount == nil {
		return Expectation{}, ErrNilAmount
	}
	token, base, err := amm.OptimalDeposit(ctx.AmountGross, ctx.BaseAmount, reserves.Token, reserves.Base)
	if err != nil {
		return Expectation{}, fmt.Errorf("size deposit: %w", err)
	}

	exp, err := splitLeg(ctx, policy, exclusion, token)
	if err != nil {
		return Expectation{}, err
	}
	exp.BaseAmount = base

	minted, err := amm.LiquidityMinted(exp.Net, base, reserves.Token, reserves.Base, lpSupply)
	if err != nil {
		return Expectation{}, fmt.Errorf("predict lp minted: %w", err)
	}
	exp.LPMinted = minted
	return exp, nil
}

// ForRemoveLiquidity predicts burning LP tokens.
//
// Description:
//
//	The pair releases a pro-rata share of both reserves. The token leg
//	leaving the pair goes through the classifier with the router
//	(ctx.Via) as recipient; the base leg is never taxed. A naive removal
//	of a taxed token is tagged
//	TagShortfallRevertExpected because the router forwards the gross amount
//	it never fully received.
func ForRemoveLiquidity(ctx TransferContext, policy TaxPolicy, exclusion ExclusionState, reserves Reserves, lpSupply *uint256.Int) (Expectation, error) {
	if ctx.AmountGross == nil {
		return Expectation{}, ErrNilAmount
	}
	token, base, err := amm.LiquidityBurned(ctx.AmountGross, reserves.Token, reserves.Base, lpSupply)
	if err != nil {
		return Expectation{}, fmt.Errorf("size removal: %w", err)
	}

	exp, err := splitLeg(ctx, policy, exclusion, token)
	if err != nil {
		return Expectation{}, err
	}
	exp.BaseAmount = base
	exp.LPBurned = ctx.AmountGross.Clone()

	if !ctx.FeeAware && exp.TaxApplied {
		exp.Tag = TagShortfallRevertExpected
		exp.RevertProven = true
	}
	return exp, nil
}

// Expect dispatches to the predictor for ctx.Kind.
func Expect(ctx TransferContext, state State, quoter Quoter) (Expectation, error) {
	switch ctx.Kind {
	case PeerTransfer:
		return ForSimpleTransfer(ctx, state.Policy)
	case Buy:
		return ForBuy(ctx, state.Policy, state.Exclusion, state.Reserves, quoter)
	case Sell:
		return ForSell(ctx, state.Policy, state.Exclusion, state.Reserves, quoter)
	case AddLiquidity:
		return ForAddLiquidity(ctx, state.Policy, state.Exclusion, state.Reserves, state.LPSupply)
	case RemoveLiquidity:
		return ForRemoveLiquidity(ctx, state.Policy, state.Exclusion, state.Reserves, state.LPSupply)
	default:
		return Expectation{}, fmt.Errorf("%w: %s", ErrUnknownKind, ctx.Kind)
	}
}

// splitLeg classifies ctx and splits gross when the leg is taxable.
func splitLeg(ctx TransferContext, policy TaxPolicy, exclusion ExclusionState, gross *uint256.Int) (Expectation, error) {
	if err := policy.Validate(); err != nil {
		return Expectation{}, err
	}
	class := Classify(ctx, policy, exclusion)
	exp := Expectation{
		Kind:           ctx.Kind,
		Gross:          gross.Clone(),
		Taxable:        class.Taxable,
		Classification: class,
		Outcome:        untaxedOutcome(gross),
	}
	if !class.Taxable {
		return exp, nil
	}
	split, err := ComputeSplit(gross, policy)
	if err != nil {
		return Expectation{}, err
	}
	exp.Outcome = outcomeFromSplit(split)
	return exp, nil
}
