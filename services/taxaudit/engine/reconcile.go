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
	"strings"

	"github.com/AleutianAI/feeaudit/services/taxaudit/amm"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// DefaultToleranceBps absorbs rounding drift across chained quotes.
const DefaultToleranceBps = 2

// Accounts names the snapshot entries Diff reads.
type Accounts struct {
	Sender     common.Address
	Receiver   common.Address
	Foundation common.Address

	// Trader is the wallet whose base-asset balance is tracked. Zero skips
	// the base leg.
	Trader common.Address
}

// AccountsFor returns the token-leg sender and receiver of ctx. trader is
// tracked for the base leg of swaps and liquidity operations.
func AccountsFor(ctx TransferContext, foundation, trader common.Address) Accounts {
	a := Accounts{Sender: ctx.From, Receiver: ctx.To, Foundation: foundation}
	if ctx.Kind != PeerTransfer {
		a.Trader = trader
	}
	return a
}

// Observed is the outcome derived by differencing two snapshots.
type Observed struct {
	Outcome

	// SenderOutflow is how much the sender's balance went down.
	SenderOutflow *uint256.Int

	// BaseSpent and BaseReceived are the trader's base-asset decrease and
	// increase; at most one is nonzero. Both nil when the base leg was not
	// tracked.
	BaseSpent    *uint256.Int
	BaseReceived *uint256.Int

	// LPMinted and LPBurned are the LP supply increase and decrease. The
	// locked minimum liquidity of a first deposit is not counted. Both nil
	// when either snapshot lacks the LP supply.
	LPMinted *uint256.Int
	LPBurned *uint256.Int
}

// Diff derives what a single operation did from snapshots taken around it.
//
// Description:
//
//	net        = receiver balance increase
//	foundation = foundation wallet balance increase
//	burn       = total supply decrease
//
//	The sender's outflow must equal net + burn + foundation. Any decrease
//	where an increase is expected, or a broken conservation, is returned as
//	a *ReconciliationError: no modeled expectation produces it.
//
//	The trader's base-asset delta and the LP supply delta are recorded
//	when both snapshots carry them.
//
// Inputs:
//
//	before, after - Snapshots bracketing exactly one mutating call.
//	accounts - Sender, receiver and foundation. They must be distinct.
//
// Outputs:
//
//	Observed - Derived outcome.
//	error - *ReconciliationError on inconsistent deltas.
func Diff(before, after LedgerSnapshot, accounts Accounts) (Observed, error) {
	if accounts.Sender == accounts.Receiver ||
		accounts.Sender == accounts.Foundation ||
		accounts.Receiver == accounts.Foundation {
		return Observed{}, &ReconciliationError{Reason: "sender, receiver and foundation must be distinct accounts"}
	}

	net, ok := increase(before.Balance(accounts.Receiver), after.Balance(accounts.Receiver))
	if !ok {
		return Observed{}, &ReconciliationError{Account: accounts.Receiver.Hex(), Reason: "receiver balance decreased"}
	}
	foundation, ok := increase(before.Balance(accounts.Foundation), after.Balance(accounts.Foundation))
	if !ok {
		return Observed{}, &ReconciliationError{Account: accounts.Foundation.Hex(), Reason: "foundation balance decreased"}
	}
	burn, ok := increase(cloneOrZero(after.TotalSupply), cloneOrZero(before.TotalSupply))
	if !ok {
		return Observed{}, &ReconciliationError{Reason: "total supply increased"}
	}
	outflow, ok := increase(after.Balance(accounts.Sender), before.Balance(accounts.Sender))
	if !ok {
		return Observed{}, &ReconciliationError{Account: accounts.Sender.Hex(), Reason: "sender balance increased"}
	}

	obs := Observed{
		Outcome: Outcome{
			Net:        net,
			Burn:       burn,
			Foundation: foundation,
			TaxApplied: !burn.IsZero() || !foundation.IsZero(),
		},
		SenderOutflow: outflow,
	}
	if moved := obs.Gross(); !moved.Eq(outflow) {
		return Observed{}, &ReconciliationError{
			Account: accounts.Sender.Hex(),
			Reason:  fmt.Sprintf("sender outflow %s does not equal net+burn+foundation %s", outflow.Dec(), moved.Dec()),
		}
	}

	if accounts.Trader != (common.Address{}) {
		b0, ok0 := before.BaseBalances[accounts.Trader]
		b1, ok1 := after.BaseBalances[accounts.Trader]
		if ok0 && ok1 {
			obs.BaseSpent, obs.BaseReceived = signedDelta(b0, b1)
		}
	}
	if before.LPSupply != nil && after.LPSupply != nil {
		obs.LPBurned, obs.LPMinted = signedDelta(before.LPSupply, after.LPSupply)
		if before.LPSupply.IsZero() && !obs.LPMinted.IsZero() {
			locked := uint256.NewInt(amm.MinimumLiquidity)
			if obs.LPMinted.Lt(locked) {
				return Observed{}, &ReconciliationError{Reason: "first deposit minted less than the locked minimum liquidity"}
			}
			obs.LPMinted.Sub(obs.LPMinted, locked)
		}
	}
	return obs, nil
}

// signedDelta splits after-before into (decrease, increase); one is zero.
func signedDelta(before, after *uint256.Int) (down, up *uint256.Int) {
	b, a := cloneOrZero(before), cloneOrZero(after)
	if a.Lt(b) {
		return b.Sub(b, a), new(uint256.Int)
	}
	return new(uint256.Int), a.Sub(a, b)
}

// increase returns after-before, or false when after < before.
func increase(before, after *uint256.Int) (*uint256.Int, bool) {
	if after.Lt(before) {
		return nil, false
	}
	return new(uint256.Int).Sub(after, before), true
}

// Verdict is the result of comparing one or two scenarios.
type Verdict int

const (
	VerdictMatch Verdict = iota
	VerdictMismatch
	VerdictNoTaxObserved
	VerdictAsymmetricBuyOnly
	VerdictAsymmetricSellOnly
	VerdictBothUntaxed

	// VerdictInconclusive marks a scenario aborted by a timeout or a
	// gateway error. It is never produced by Compare.
	VerdictInconclusive
)

var verdictNames = map[Verdict]string{
	VerdictMatch:              "match",
	VerdictMismatch:           "mismatch",
	VerdictNoTaxObserved:      "no_tax_observed",
	VerdictAsymmetricBuyOnly:  "asymmetric_buy_only",
	VerdictAsymmetricSellOnly: "asymmetric_sell_only",
	VerdictBothUntaxed:        "both_untaxed",
	VerdictInconclusive:       "inconclusive",
}

func (v Verdict) String() string {
	if name, ok := verdictNames[v]; ok {
		return name
	}
	return fmt.Sprintf("verdict(%d)", int(v))
}

// Comparison is the per-scenario verdict with the evidence behind it.
type Comparison struct {
	Verdict      Verdict
	ToleranceBps uint64

	// Tolerance is the absolute amount allowed per component.
	Tolerance *uint256.Int

	// NetDrift, BurnDrift and FoundationDrift are |expected - observed|.
	NetDrift        *uint256.Int
	BurnDrift       *uint256.Int
	FoundationDrift *uint256.Int

	// BaseDrift and LPDrift cover the base-asset leg and the LP supply.
	// Nil when the leg was not checked.
	BaseDrift *uint256.Int
	LPDrift   *uint256.Int

	// TaxObserved reports whether the token took tax. A predicted revert
	// that happened counts as taxed, since only the tax causes it.
	TaxObserved bool

	// Reverted is set when the comparison was resolved from a revert.
	Reverted     bool
	RevertReason string

	// Note carries a one-line explanation for non-match verdicts.
	Note string
}

// Compare checks an observed outcome against the expectation.
//
// Description:
//
//	Each of net, burn and foundation must be within toleranceBps of the
//	expected gross. Expected tax with none observed is NoTaxObserved. An
//	expectation that proves a revert but completed anyway is a Mismatch;
//	one whose revert is not proven is compared numerically.
//
//	Once the token leg matches, the base leg and the LP supply are checked
//	when observed. The base asset is never taxed: base paid in (buy,
//	deposit) and base released by a removal must equal the prediction
//	exactly. Base paid out by a sell is quoted on the taxed net, so it
//	gets toleranceBps of the expected base. LP minted gets toleranceBps of
//	the expected mint; LP burned must equal the amount redeemed.
//
// Inputs:
//
//	expected - From Expect.
//	observed - From Diff.
//	toleranceBps - Allowed drift in bps of the expected gross.
func Compare(expected Expectation, observed Observed, toleranceBps uint64) Comparison {
	tolerance := mulBps(cloneOrZero(expected.Gross), toleranceBps)
	c := Comparison{
		ToleranceBps:    toleranceBps,
		Tolerance:       tolerance,
		NetDrift:        absDiff(expected.Net, observed.Net),
		BurnDrift:       absDiff(expected.Burn, observed.Burn),
		FoundationDrift: absDiff(expected.Foundation, observed.Foundation),
		TaxObserved:     observed.TaxApplied,
	}

	switch {
	case expected.Tag.ExpectsRevert() && expected.RevertProven:
		c.Verdict = VerdictMismatch
		c.Note = fmt.Sprintf("expected revert (%s) but the operation completed", expected.Tag)
	case expected.TaxApplied && !observed.TaxApplied:
		c.Verdict = VerdictNoTaxObserved
		c.Note = "tax expected but no burn or foundation transfer observed"
	case expected.TaxApplied != observed.TaxApplied:
		c.Verdict = VerdictMismatch
		c.Note = "tax observed where none was expected"
	case c.NetDrift.Gt(tolerance) || c.BurnDrift.Gt(tolerance) || c.FoundationDrift.Gt(tolerance):
		c.Verdict = VerdictMismatch
		c.Note = fmt.Sprintf("drift exceeds %d bps tolerance (%s)", toleranceBps, tolerance.Dec())
	default:
		c.Verdict = VerdictMatch
		if note := compareLegs(expected, observed, toleranceBps, &c); note != "" {
			c.Verdict = VerdictMismatch
			c.Note = note
		}
	}
	return c
}

// compareLegs checks the base leg and the LP supply and returns a note for
// the first one out of bounds.
func compareLegs(expected Expectation, observed Observed, toleranceBps uint64, c *Comparison) string {
	if expected.BaseAmount != nil && observed.BaseSpent != nil && observed.BaseReceived != nil {
		var got, allowed *uint256.Int
		direction := "received"
		switch expected.Kind {
		case Buy, AddLiquidity:
			got, allowed, direction = observed.BaseSpent, new(uint256.Int), "spent"
		case Sell:
			got, allowed = observed.BaseReceived, mulBps(expected.BaseAmount, toleranceBps)
		case RemoveLiquidity:
			got, allowed = observed.BaseReceived, new(uint256.Int)
		}
		if got != nil {
			c.BaseDrift = absDiff(expected.BaseAmount, got)
			if c.BaseDrift.Gt(allowed) {
				return fmt.Sprintf("trader %s %s base, expected %s", direction, got.Dec(), expected.BaseAmount.Dec())
			}
		}
	}

	switch {
	case expected.Kind == AddLiquidity && expected.LPMinted != nil && observed.LPMinted != nil:
		c.LPDrift = absDiff(expected.LPMinted, observed.LPMinted)
		if c.LPDrift.Gt(mulBps(expected.LPMinted, toleranceBps)) {
			return fmt.Sprintf("minted %s LP, expected %s", observed.LPMinted.Dec(), expected.LPMinted.Dec())
		}
	case expected.Kind == RemoveLiquidity && expected.LPBurned != nil && observed.LPBurned != nil:
		c.LPDrift = absDiff(expected.LPBurned, observed.LPBurned)
		if !c.LPDrift.IsZero() {
			return fmt.Sprintf("burned %s LP, expected %s", observed.LPBurned.Dec(), expected.LPBurned.Dec())
		}
	}
	return ""
}

// ResolveRevert decides whether a revert is the predicted outcome.
//
// A K-invariant revert under TagInvariantViolationExpected, or a transfer
// shortfall revert under TagShortfallRevertExpected, is a confirmed Match.
// Any other revert returns false and must be propagated by the caller.
func ResolveRevert(expected Expectation, reason string) (Comparison, bool) {
	matched := (expected.Tag == TagInvariantViolationExpected && IsInvariantViolation(reason)) ||
		(expected.Tag == TagShortfallRevertExpected && IsTransferShortfall(reason))
	if !matched {
		return Comparison{}, false
	}
	return Comparison{
		Verdict:      VerdictMatch,
		TaxObserved:  true,
		Reverted:     true,
		RevertReason: reason,
		Note:         fmt.Sprintf("reverted as predicted (%s)", expected.Tag),
	}, true
}

// IsInvariantViolation matches the constant-product pair's K check failure.
func IsInvariantViolation(reason string) bool {
	r := strings.TrimSpace(reason)
	return strings.Contains(r, "UniswapV2: K") || r == "K"
}

// IsTransferShortfall matches a router failing to forward tokens it does not hold.
func IsTransferShortfall(reason string) bool {
	return strings.Contains(reason, "TRANSFER_FAILED") ||
		strings.Contains(reason, "transfer amount exceeds balance")
}

// CompareRoundTrip folds a buy and a sell comparison into one verdict.
//
// Both taxed yields Match when both scenarios matched and Mismatch
// otherwise; exactly one taxed yields the matching asymmetric verdict;
// neither taxed yields BothUntaxed.
func CompareRoundTrip(buy, sell Comparison) Verdict {
	switch {
	case buy.TaxObserved && sell.TaxObserved:
		if buy.Verdict == VerdictMatch && sell.Verdict == VerdictMatch {
			return VerdictMatch
		}
		return VerdictMismatch
	case buy.TaxObserved:
		return VerdictAsymmetricBuyOnly
	case sell.TaxObserved:
		return VerdictAsymmetricSellOnly
	default:
		return VerdictBothUntaxed
	}
}

// Rates are burn and foundation shares in bps of the total moved.
type Rates struct {
	BurnBps       uint64
	FoundationBps uint64
}

// TotalBps is the combined observed rate.
func (r Rates) TotalBps() uint64 { return r.BurnBps + r.FoundationBps }

// ObservedRates returns part*10000/total for burn and foundation.
func ObservedRates(o Outcome) Rates {
	total := o.Gross()
	return Rates{
		BurnBps:       BpsOf(o.Burn, total),
		FoundationBps: BpsOf(o.Foundation, total),
	}
}

func absDiff(a, b *uint256.Int) *uint256.Int {
	x, y := cloneOrZero(a), cloneOrZero(b)
	if x.Lt(y) {
		return y.Sub(y, x)
	}
	return x.Sub(x, y)
}
