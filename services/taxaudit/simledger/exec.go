// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package simledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/AleutianAI/feeaudit/services/taxaudit/amm"
	"github.com/AleutianAI/feeaudit/services/taxaudit/engine"
	"github.com/AleutianAI/feeaudit/services/taxaudit/scenario"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// revert aborts an operation with a reason. It never escapes this package
// as an error; ExecuteTransfer turns it into an unsuccessful TxResult.
type revert struct{ reason string }

func (r *revert) Error() string { return r.reason }

func reverted(reason string) error { return &revert{reason: reason} }

// ExecuteTransfer implements scenario.Gateway.
//
// Description:
//
//	Waits Latency (or until ctx is done), then runs the operation for
//	tc.Kind on a copy of the state:
//
//	  PeerTransfer     token transfer From → To
//	  Buy              router swaps base in for tokens out of the pair
//	  Sell             router sends tokens to the pair, then swaps; the
//	                   naive path quotes on the gross amount, the fee-aware
//	                   path on what arrived
//	  AddLiquidity     router pulls tokens and base into the pair and mints
//	  RemoveLiquidity  pair burns LP and pays the router, which forwards to
//	                   the trader: the gross amount (naive) or its whole
//	                   balance (fee-aware)
//
//	A revert returns Success false and leaves state untouched.
//
// Outputs:
//
//	scenario.TxResult - Success or revert reason.
//	error - ctx.Err() when ctx ends before execution; engine errors for
//	        malformed contexts.
func (l *Ledger) ExecuteTransfer(ctx context.Context, tc engine.TransferContext) (scenario.TxResult, error) {
	if l.latency > 0 {
		timer := time.NewTimer(l.latency)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return scenario.TxResult{}, ctx.Err()
		}
	}
	if err := ctx.Err(); err != nil {
		return scenario.TxResult{}, err
	}
	if tc.AmountGross == nil {
		return scenario.TxResult{}, engine.ErrNilAmount
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.txSeq++
	txID := fmt.Sprintf("0x%064x", l.txSeq)

	st := l.st.clone()
	var err error
	switch tc.Kind {
	case engine.PeerTransfer:
		err = l.transfer(st, tc.From, tc.To, tc.AmountGross)
	case engine.Buy:
		err = l.buy(st, tc.To, tc.AmountGross)
	case engine.Sell:
		err = l.sell(st, tc.From, tc.AmountGross, tc.FeeAware)
	case engine.AddLiquidity:
		err = l.addLiquidity(st, tc.From, tc.AmountGross, tc.BaseAmount)
	case engine.RemoveLiquidity:
		err = l.removeLiquidity(st, tc.To, tc.AmountGross, tc.FeeAware)
	default:
		return scenario.TxResult{}, fmt.Errorf("%w: %s", engine.ErrUnknownKind, tc.Kind)
	}

	var rv *revert
	switch {
	case errors.As(err, &rv):
		return scenario.TxResult{Success: false, RevertReason: rv.reason, TxID: txID}, nil
	case err != nil:
		return scenario.TxResult{}, err
	}
	l.st = st
	return scenario.TxResult{Success: true, TxID: txID}, nil
}

// transfer is the token's transfer hook: balance check, trading gates,
// then the tax predicate and split.
func (l *Ledger) transfer(st *state, from, to common.Address, amount *uint256.Int) error {
	fromBal := get(st.balances, from)
	if fromBal.Lt(amount) {
		return reverted(ReasonInsufficientBalance)
	}

	touches := from == l.pair || to == l.pair
	exempt := st.exclusion.Excluded(from) || st.exclusion.Excluded(to)
	if touches && !exempt {
		if st.paused {
			return reverted(ReasonPaused)
		}
		if !st.trading {
			return reverted(ReasonTradingDisabled)
		}
	}

	ctx := engine.TransferContext{From: from, To: to, Pair: l.pair, AmountGross: amount}
	taxable := engine.IsTaxable(ctx, st.policy, st.exclusion)
	if taxable && from == l.pair && l.quirks.SkipBuyTax {
		taxable = false
	}
	if taxable && to == l.pair && l.quirks.SkipSellTax {
		taxable = false
	}

	net := amount.Clone()
	if taxable {
		applied := st.policy
		if l.quirks.Actual != nil {
			applied = *l.quirks.Actual
		}
		split, err := engine.ComputeSplit(amount, applied)
		if err != nil {
			return err
		}
		net = split.Net
		if !split.Burn.IsZero() {
			st.totalSupply = new(uint256.Int).Sub(st.totalSupply, split.Burn)
		}
		if !split.Foundation.IsZero() {
			st.balances[l.foundation] = new(uint256.Int).Add(get(st.balances, l.foundation), split.Foundation)
		}
	}

	st.balances[from] = new(uint256.Int).Sub(fromBal, amount)
	st.balances[to] = new(uint256.Int).Add(get(st.balances, to), net)
	return nil
}

// moveBase moves base asset; it is never taxed.
func moveBase(st *state, from, to common.Address, amount *uint256.Int) error {
	bal := get(st.base, from)
	if bal.Lt(amount) {
		return reverted(ReasonInsufficientBase)
	}
	st.base[from] = new(uint256.Int).Sub(bal, amount)
	st.base[to] = new(uint256.Int).Add(get(st.base, to), amount)
	return nil
}

// swap runs the pair's swap: pays out, then checks K against the balances
// that actually arrived. tokenOut/baseOut: exactly one is nonzero.
func (l *Ledger) swap(st *state, tokenOut, baseOut *uint256.Int, to common.Address) error {
	rBase, rToken := st.reserves.Base, st.reserves.Token
	if !tokenOut.IsZero() {
		if err := l.transfer(st, l.pair, to, tokenOut); err != nil {
			return err
		}
	}
	if !baseOut.IsZero() {
		if err := moveBase(st, l.pair, to, baseOut); err != nil {
			return err
		}
	}

	balBase, balToken := get(st.base, l.pair), get(st.balances, l.pair)
	var (
		ok  bool
		err error
	)
	if baseOut.IsZero() {
		// Base in, tokens out.
		in := new(uint256.Int).Sub(balBase, rBase)
		ok, err = l.curve.CheckInvariant(balBase, balToken, in, rBase, rToken)
	} else {
		// Tokens in, base out.
		in := new(uint256.Int)
		if balToken.Gt(rToken) {
			in.Sub(balToken, rToken)
		}
		ok, err = l.curve.CheckInvariant(balToken, balBase, in, rToken, rBase)
	}
	if err != nil {
		return err
	}
	if !ok {
		return reverted(ReasonInvariant)
	}
	st.sync(l.pair)
	return nil
}

func (l *Ledger) buy(st *state, trader common.Address, baseIn *uint256.Int) error {
	out, err := l.curve.QuoteSwap(baseIn, st.reserves.Base, st.reserves.Token)
	if err != nil {
		return reverted(err.Error())
	}
	if err := moveBase(st, trader, l.pair, baseIn); err != nil {
		return err
	}
	return l.swap(st, out, new(uint256.Int), trader)
}

func (l *Ledger) sell(st *state, trader common.Address, gross *uint256.Int, feeAware bool) error {
	var quoted *uint256.Int
	if !feeAware {
		var err error
		if quoted, err = l.curve.QuoteSwap(gross, st.reserves.Token, st.reserves.Base); err != nil {
			return reverted(err.Error())
		}
	}
	if err := l.transfer(st, trader, l.pair, gross); err != nil {
		return err
	}
	if feeAware {
		arrived := new(uint256.Int).Sub(get(st.balances, l.pair), st.reserves.Token)
		if arrived.IsZero() {
			return reverted("UniswapV2: INSUFFICIENT_INPUT_AMOUNT")
		}
		var err error
		if quoted, err = l.curve.QuoteSwap(arrived, st.reserves.Token, st.reserves.Base); err != nil {
			return reverted(err.Error())
		}
	}
	return l.swap(st, new(uint256.Int), quoted, trader)
}

func (l *Ledger) addLiquidity(st *state, provider common.Address, tokenDesired, baseDesired *uint256.Int) error {
	if baseDesired == nil {
		return engine.ErrNilAmount
	}
	token, base, err := amm.OptimalDeposit(tokenDesired, baseDesired, st.reserves.Token, st.reserves.Base)
	if err != nil {
		return reverted(err.Error())
	}
	if err := l.transfer(st, provider, l.pair, token); err != nil {
		return err
	}
	if err := moveBase(st, provider, l.pair, base); err != nil {
		return err
	}

	tokenIn := new(uint256.Int).Sub(get(st.balances, l.pair), st.reserves.Token)
	baseIn := new(uint256.Int).Sub(get(st.base, l.pair), st.reserves.Base)
	minted, err := amm.LiquidityMinted(tokenIn, baseIn, st.reserves.Token, st.reserves.Base, st.lpSupply)
	if err != nil {
		return reverted(ReasonInsufficientMinted)
	}
	if st.lpSupply.IsZero() {
		st.lp[common.Address{}] = uint256.NewInt(amm.MinimumLiquidity)
		st.lpSupply = uint256.NewInt(amm.MinimumLiquidity)
	}
	st.lp[provider] = new(uint256.Int).Add(get(st.lp, provider), minted)
	st.lpSupply = new(uint256.Int).Add(st.lpSupply, minted)
	st.sync(l.pair)
	return nil
}

func (l *Ledger) removeLiquidity(st *state, provider common.Address, lp *uint256.Int, feeAware bool) error {
	held := get(st.lp, provider)
	if held.Lt(lp) {
		return reverted("ds-math-sub-underflow")
	}

	token, base, err := amm.LiquidityBurned(lp, get(st.balances, l.pair), get(st.base, l.pair), st.lpSupply)
	if err != nil {
		return reverted(ReasonInsufficientLP)
	}
	st.lp[provider] = new(uint256.Int).Sub(held, lp)
	st.lpSupply = new(uint256.Int).Sub(st.lpSupply, lp)

	// Pair pays the router.
	if err := l.transfer(st, l.pair, l.router, token); err != nil {
		return err
	}
	if err := moveBase(st, l.pair, l.router, base); err != nil {
		return err
	}
	st.sync(l.pair)

	// Router forwards to the provider.
	forward := token
	if feeAware {
		forward = get(st.balances, l.router).Clone()
	}
	if err := l.transfer(st, l.router, provider, forward); err != nil {
		var rv *revert
		if errors.As(err, &rv) && rv.reason == ReasonInsufficientBalance {
			return reverted(ReasonTransferFailed)
		}
		return err
	}
	return moveBase(st, l.router, provider, base)
}
