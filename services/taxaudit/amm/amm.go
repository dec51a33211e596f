// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package amm implements constant-product pool arithmetic in 256-bit integers.
//
// The formulas follow the Uniswap V2 pair and router: swap quotes with a fixed
// pool fee, ratio quotes for liquidity, LP mint and burn shares, and the K
// invariant check a pair runs at the end of every swap.
//
// The pool fee is unrelated to any tax a token takes on transfer. Callers
// compose the two; nothing here knows about token tax.
package amm

import (
	"errors"

	"github.com/holiman/uint256"
)

// MinimumLiquidity is locked forever on the first mint.
const MinimumLiquidity = 1000

var (
	// ErrInsufficientInput indicates a zero input amount.
	ErrInsufficientInput = errors.New("amm: insufficient input amount")

	// ErrInsufficientLiquidity indicates an empty reserve.
	ErrInsufficientLiquidity = errors.New("amm: insufficient liquidity")

	// ErrInsufficientLiquidityMinted indicates a deposit too small to mint LP.
	ErrInsufficientLiquidityMinted = errors.New("amm: insufficient liquidity minted")

	// ErrInsufficientLiquidityBurned indicates a burn returning nothing.
	ErrInsufficientLiquidityBurned = errors.New("amm: insufficient liquidity burned")

	// ErrOverflow indicates an intermediate product exceeded 256 bits.
	ErrOverflow = errors.New("amm: arithmetic overflow")

	// ErrInvalidFee indicates a fee fraction that is not in (0, 1].
	ErrInvalidFee = errors.New("amm: invalid fee fraction")
)

// ConstantProduct quotes swaps as amountIn*fee*reserveOut / (reserveIn*den + amountIn*fee)
// where fee/den is the fraction of input kept after the pool fee.
type ConstantProduct struct {
	FeeNumerator   uint64
	FeeDenominator uint64
}

// UniswapV2 returns the 0.3% fee curve (997/1000).
func UniswapV2() ConstantProduct {
	return ConstantProduct{FeeNumerator: 997, FeeDenominator: 1000}
}

func (c ConstantProduct) validate() error {
	if c.FeeDenominator == 0 || c.FeeNumerator == 0 || c.FeeNumerator > c.FeeDenominator {
		return ErrInvalidFee
	}
	return nil
}

// QuoteSwap returns the maximum output for amountIn against the given reserves.
//
// Description:
//
//	amountOut = amountIn*fee*reserveOut / (reserveIn*den + amountIn*fee)
//
//	The division truncates. The result is the largest integer output for
//	which CheckInvariant still holds with exactly amountIn arriving.
//
// Inputs:
//
//	amountIn - Amount that reaches the pool.
//	reserveIn, reserveOut - Pool reserves before the swap.
//
// Outputs:
//
//	*uint256.Int - Output amount.
//	error - ErrInsufficientInput, ErrInsufficientLiquidity, ErrOverflow or ErrInvalidFee.
func (c ConstantProduct) QuoteSwap(amountIn, reserveIn, reserveOut *uint256.Int) (*uint256.Int, error) {
	if err := c.validate(); err != nil {
		return nil, err
	}
	if amountIn == nil || amountIn.IsZero() {
		return nil, ErrInsufficientInput
	}
	if reserveIn == nil || reserveOut == nil || reserveIn.IsZero() || reserveOut.IsZero() {
		return nil, ErrInsufficientLiquidity
	}

	amountInWithFee, overflow := new(uint256.Int).MulOverflow(amountIn, uint256.NewInt(c.FeeNumerator))
	if overflow {
		return nil, ErrOverflow
	}
	denominator, overflow := new(uint256.Int).MulOverflow(reserveIn, uint256.NewInt(c.FeeDenominator))
	if overflow {
		return nil, ErrOverflow
	}
	if _, overflow = denominator.AddOverflow(denominator, amountInWithFee); overflow {
		return nil, ErrOverflow
	}

	out, _ := new(uint256.Int).MulDivOverflow(amountInWithFee, reserveOut, denominator)
	return out, nil
}

// CheckInvariant runs the pair's post-swap K check.
//
// Description:
//
//	Holds iff (balanceIn*den - amountIn*(den-fee)) * (balanceOut*den)
//	          >= reserveIn * reserveOut * den^2
//
//	balanceIn/balanceOut are the pair's token balances after tokens moved;
//	amountIn is what actually arrived (balanceIn - reserveIn).
//
// Outputs:
//
//	bool - true when the swap keeps K.
//	error - ErrOverflow when a product does not fit in 256 bits.
func (c ConstantProduct) CheckInvariant(balanceIn, balanceOut, amountIn, reserveIn, reserveOut *uint256.Int) (bool, error) {
	if err := c.validate(); err != nil {
		return false, err
	}
	den := uint256.NewInt(c.FeeDenominator)
	feeCut := uint256.NewInt(c.FeeDenominator - c.FeeNumerator)

	adjustedIn, overflow := new(uint256.Int).MulOverflow(balanceIn, den)
	if overflow {
		return false, ErrOverflow
	}
	cut, overflow := new(uint256.Int).MulOverflow(amountIn, feeCut)
	if overflow {
		return false, ErrOverflow
	}
	if adjustedIn.Lt(cut) {
		return false, nil
	}
	adjustedIn.Sub(adjustedIn, cut)

	adjustedOut, overflow := new(uint256.Int).MulOverflow(balanceOut, den)
	if overflow {
		return false, ErrOverflow
	}
	left, overflow := new(uint256.Int).MulOverflow(adjustedIn, adjustedOut)
	if overflow {
		return false, ErrOverflow
	}

	k, overflow := new(uint256.Int).MulOverflow(reserveIn, reserveOut)
	if overflow {
		return false, ErrOverflow
	}
	denSq := new(uint256.Int).Mul(den, den)
	right, overflow := new(uint256.Int).MulOverflow(k, denSq)
	if overflow {
		return false, ErrOverflow
	}
	return !left.Lt(right), nil
}

// Quote returns amountA*reserveB/reserveA, the router's ratio quote used
// when sizing liquidity deposits.
func Quote(amountA, reserveA, reserveB *uint256.Int) (*uint256.Int, error) {
	if amountA == nil || amountA.IsZero() {
		return nil, ErrInsufficientInput
	}
	if reserveA == nil || reserveB == nil || reserveA.IsZero() || reserveB.IsZero() {
		return nil, ErrInsufficientLiquidity
	}
	out, _ := new(uint256.Int).MulDivOverflow(amountA, reserveB, reserveA)
	return out, nil
}

// OptimalDeposit sizes a liquidity deposit the way the router does.
//
// Description:
//
//	With empty reserves the desired amounts are used as-is. Otherwise the
//	token amount matching baseDesired at the current ratio is used if it
//	fits in tokenDesired; if not, the base amount is scaled down to match
//	tokenDesired.
//
// Outputs:
//
//	token, base - Amounts the router will pull from the depositor.
//	error - Propagated from Quote.
func OptimalDeposit(tokenDesired, baseDesired, reserveToken, reserveBase *uint256.Int) (token, base *uint256.Int, err error) {
	if reserveToken == nil || reserveBase == nil || (reserveToken.IsZero() && reserveBase.IsZero()) {
		return tokenDesired.Clone(), baseDesired.Clone(), nil
	}
	tokenOptimal, err := Quote(baseDesired, reserveBase, reserveToken)
	if err != nil {
		return nil, nil, err
	}
	if !tokenOptimal.Gt(tokenDesired) {
		return tokenOptimal, baseDesired.Clone(), nil
	}
	baseOptimal, err := Quote(tokenDesired, reserveToken, reserveBase)
	if err != nil {
		return nil, nil, err
	}
	return tokenDesired.Clone(), baseOptimal, nil
}

// LiquidityMinted returns the LP tokens minted for amounts that actually
// arrived at the pair.
//
// Description:
//
//	First mint: sqrt(tokenIn*baseIn) - MinimumLiquidity.
//	Later mints: min(tokenIn*lpSupply/reserveToken, baseIn*lpSupply/reserveBase).
func LiquidityMinted(tokenIn, baseIn, reserveToken, reserveBase, lpSupply *uint256.Int) (*uint256.Int, error) {
	if lpSupply == nil || lpSupply.IsZero() {
		product, overflow := new(uint256.Int).MulOverflow(tokenIn, baseIn)
		if overflow {
			return nil, ErrOverflow
		}
		root := new(uint256.Int).Sqrt(product)
		minimum := uint256.NewInt(MinimumLiquidity)
		if !root.Gt(minimum) {
			return nil, ErrInsufficientLiquidityMinted
		}
		return root.Sub(root, minimum), nil
	}
	if reserveToken.IsZero() || reserveBase.IsZero() {
		return nil, ErrInsufficientLiquidity
	}
	byToken, _ := new(uint256.Int).MulDivOverflow(tokenIn, lpSupply, reserveToken)
	byBase, _ := new(uint256.Int).MulDivOverflow(baseIn, lpSupply, reserveBase)
	minted := byToken
	if byBase.Lt(byToken) {
		minted = byBase
	}
	if minted.IsZero() {
		return nil, ErrInsufficientLiquidityMinted
	}
	return minted, nil
}

// LiquidityBurned returns the pro-rata token and base amounts released for
// burning lp LP tokens.
func LiquidityBurned(lp, balanceToken, balanceBase, lpSupply *uint256.Int) (token, base *uint256.Int, err error) {
	if lpSupply == nil || lpSupply.IsZero() {
		return nil, nil, ErrInsufficientLiquidity
	}
	token, _ = new(uint256.Int).MulDivOverflow(lp, balanceToken, lpSupply)
	base, _ = new(uint256.Int).MulDivOverflow(lp, balanceBase, lpSupply)
	if token.IsZero() || base.IsZero() {
		return nil, nil, ErrInsufficientLiquidityBurned
	}
	return token, base, nil
}
