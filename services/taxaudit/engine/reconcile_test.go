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
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func snapshot(supply uint64, balances map[common.Address]uint64) LedgerSnapshot {
	s := LedgerSnapshot{Balances: make(map[common.Address]*uint256.Int), TotalSupply: u(supply)}
	for a, v := range balances {
		s.Balances[a] = u(v)
	}
	return s
}

func TestDiff(t *testing.T) {
	accounts := Accounts{Sender: traderAddr, Receiver: pairAddr, Foundation: foundAddr}

	tests := []struct {
		name       string
		before     LedgerSnapshot
		after      LedgerSnapshot
		wantErr    bool
		net        uint64
		burn       uint64
		foundation uint64
		taxed      bool
	}{
		{
			name:       "taxed transfer",
			before:     snapshot(1_000_000, map[common.Address]uint64{traderAddr: 10000, pairAddr: 500}),
			after:      snapshot(999_875, map[common.Address]uint64{pairAddr: 10250, foundAddr: 125}),
			net:        9750,
			burn:       125,
			foundation: 125,
			taxed:      true,
		},
		{
			name:   "untaxed transfer",
			before: snapshot(1000, map[common.Address]uint64{traderAddr: 300}),
			after:  snapshot(1000, map[common.Address]uint64{traderAddr: 100, pairAddr: 200}),
			net:    200,
		},
		{
			name:    "receiver decreased",
			before:  snapshot(1000, map[common.Address]uint64{traderAddr: 300, pairAddr: 50}),
			after:   snapshot(1000, map[common.Address]uint64{traderAddr: 300, pairAddr: 40}),
			wantErr: true,
		},
		{
			name:    "supply increased",
			before:  snapshot(1000, map[common.Address]uint64{traderAddr: 300}),
			after:   snapshot(1001, map[common.Address]uint64{traderAddr: 300}),
			wantErr: true,
		},
		{
			name:    "sender increased",
			before:  snapshot(1000, map[common.Address]uint64{traderAddr: 300}),
			after:   snapshot(1000, map[common.Address]uint64{traderAddr: 301}),
			wantErr: true,
		},
		{
			name:    "conservation broken",
			before:  snapshot(1000, map[common.Address]uint64{traderAddr: 300}),
			after:   snapshot(1000, map[common.Address]uint64{traderAddr: 0, pairAddr: 250}),
			wantErr: true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			obs, err := Diff(tc.before, tc.after, accounts)
			if tc.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrReconciliation)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.net, obs.Net.Uint64())
			assert.Equal(t, tc.burn, obs.Burn.Uint64())
			assert.Equal(t, tc.foundation, obs.Foundation.Uint64())
			assert.Equal(t, tc.taxed, obs.TaxApplied)
			assert.True(t, obs.SenderOutflow.Eq(obs.Gross()))
		})
	}
}

func TestDiff_RejectsOverlappingAccounts(t *testing.T) {
	s := snapshot(1, nil)
	_, err := Diff(s, s, Accounts{Sender: traderAddr, Receiver: traderAddr, Foundation: foundAddr})
	var re *ReconciliationError
	require.ErrorAs(t, err, &re)
}

func TestDiff_BaseAndLiquidityLegs(t *testing.T) {
	accounts := Accounts{Sender: traderAddr, Receiver: pairAddr, Foundation: foundAddr, Trader: traderAddr}

	before := snapshot(1000, map[common.Address]uint64{traderAddr: 300})
	before.BaseBalances = map[common.Address]*uint256.Int{traderAddr: u(5000)}
	before.LPSupply = u(10_000)
	after := snapshot(1000, map[common.Address]uint64{traderAddr: 100, pairAddr: 200})
	after.BaseBalances = map[common.Address]*uint256.Int{traderAddr: u(4200)}
	after.LPSupply = u(10_150)

	obs, err := Diff(before, after, accounts)
	require.NoError(t, err)
	assert.Equal(t, uint64(800), obs.BaseSpent.Uint64())
	assert.True(t, obs.BaseReceived.IsZero())
	assert.Equal(t, uint64(150), obs.LPMinted.Uint64())
	assert.True(t, obs.LPBurned.IsZero())

	// A first deposit locks the minimum liquidity outside the provider's share.
	before.LPSupply = u(0)
	after.LPSupply = u(5000)
	obs, err = Diff(before, after, accounts)
	require.NoError(t, err)
	assert.Equal(t, uint64(4000), obs.LPMinted.Uint64())

	// Untracked trader and missing LP supply leave the legs nil.
	before.LPSupply = nil
	obs, err = Diff(before, after, Accounts{Sender: traderAddr, Receiver: pairAddr, Foundation: foundAddr})
	require.NoError(t, err)
	assert.Nil(t, obs.BaseSpent)
	assert.Nil(t, obs.LPMinted)
}

func TestAccountsFor(t *testing.T) {
	buy := TransferContext{From: pairAddr, To: traderAddr, Pair: pairAddr, Kind: Buy}
	assert.Equal(t, Accounts{Sender: pairAddr, Receiver: traderAddr, Foundation: foundAddr, Trader: traderAddr},
		AccountsFor(buy, foundAddr, traderAddr))

	peer := TransferContext{From: traderAddr, To: peerAddr, Pair: pairAddr, Kind: PeerTransfer}
	assert.Equal(t, common.Address{}, AccountsFor(peer, foundAddr, traderAddr).Trader)
}

func expected(gross, net, burn, foundation uint64) Expectation {
	return Expectation{
		Gross: u(gross),
		Outcome: Outcome{
			Net: u(net), Burn: u(burn), Foundation: u(foundation),
			TaxApplied: burn > 0 || foundation > 0,
		},
	}
}

func observed(net, burn, foundation uint64) Observed {
	o := Outcome{Net: u(net), Burn: u(burn), Foundation: u(foundation), TaxApplied: burn > 0 || foundation > 0}
	return Observed{Outcome: o, SenderOutflow: o.Gross()}
}

func TestCompare(t *testing.T) {
	proven := expected(1000, 976, 12, 12)
	proven.Tag = TagInvariantViolationExpected
	proven.RevertProven = true

	tests := []struct {
		name     string
		expected Expectation
		observed Observed
		tolBps   uint64
		want     Verdict
	}{
		{"exact match", expected(1000, 976, 12, 12), observed(976, 12, 12), 0, VerdictMatch},
		{"within tolerance", expected(1_000_000, 975_000, 12_500, 12_500), observed(975_100, 12_400, 12_500), 2, VerdictMatch},
		{"beyond tolerance", expected(1_000_000, 975_000, 12_500, 12_500), observed(975_300, 12_200, 12_500), 2, VerdictMismatch},
		{"tax expected none observed", expected(1000, 976, 12, 12), observed(1000, 0, 0), 2, VerdictNoTaxObserved},
		{"tax observed none expected", expected(1000, 1000, 0, 0), observed(976, 12, 12), 2, VerdictMismatch},
		{"untaxed both sides", expected(1000, 1000, 0, 0), observed(1000, 0, 0), 2, VerdictMatch},
		{"proven revert completed", proven, observed(976, 12, 12), 2, VerdictMismatch},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c := Compare(tc.expected, tc.observed, tc.tolBps)
			assert.Equal(t, tc.want, c.Verdict, c.Note)
			assert.Equal(t, tc.observed.TaxApplied, c.TaxObserved)
		})
	}
}

func TestCompare_BaseAndLiquidityLegs(t *testing.T) {
	legs := func(kind TransferKind, base uint64) Expectation {
		e := expected(1000, 1000, 0, 0)
		e.Kind = kind
		e.BaseAmount = u(base)
		return e
	}
	withBase := func(o Observed, spent, received uint64) Observed {
		o.BaseSpent, o.BaseReceived = u(spent), u(received)
		return o
	}

	deposit := legs(AddLiquidity, 500)
	deposit.LPMinted = u(700)
	removal := legs(RemoveLiquidity, 500)
	removal.LPBurned = u(700)
	lp := func(o Observed, minted, burned uint64) Observed {
		o.LPMinted, o.LPBurned = u(minted), u(burned)
		return o
	}

	tests := []struct {
		name     string
		expected Expectation
		observed Observed
		want     Verdict
	}{
		{"buy pays exact base", legs(Buy, 500), withBase(observed(1000, 0, 0), 500, 0), VerdictMatch},
		{"buy base taxed", legs(Buy, 500), withBase(observed(1000, 0, 0), 499, 0), VerdictMismatch},
		{"buy base moved the wrong way", legs(Buy, 500), withBase(observed(1000, 0, 0), 0, 500), VerdictMismatch},
		{"sell base within tolerance", legs(Sell, 1_000_000), withBase(observed(1000, 0, 0), 0, 999_900), VerdictMatch},
		{"sell base beyond tolerance", legs(Sell, 1_000_000), withBase(observed(1000, 0, 0), 0, 999_000), VerdictMismatch},
		{"untracked base is skipped", legs(Buy, 500), observed(1000, 0, 0), VerdictMatch},
		{"deposit mints predicted LP", deposit, lp(withBase(observed(1000, 0, 0), 500, 0), 700, 0), VerdictMatch},
		{"deposit mints too little", deposit, lp(withBase(observed(1000, 0, 0), 500, 0), 600, 0), VerdictMismatch},
		{"removal burns redeemed LP", removal, lp(withBase(observed(1000, 0, 0), 0, 500), 0, 700), VerdictMatch},
		{"removal base short", removal, lp(withBase(observed(1000, 0, 0), 0, 498), 0, 700), VerdictMismatch},
		{"removal burns wrong LP", removal, lp(withBase(observed(1000, 0, 0), 0, 500), 0, 701), VerdictMismatch},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c := Compare(tc.expected, tc.observed, 2)
			assert.Equal(t, tc.want, c.Verdict, c.Note)
			if tc.want == VerdictMismatch {
				assert.NotEmpty(t, c.Note)
			}
		})
	}
}

func TestResolveRevert(t *testing.T) {
	sell := Expectation{Tag: TagInvariantViolationExpected}
	removal := Expectation{Tag: TagShortfallRevertExpected}

	tests := []struct {
		name   string
		exp    Expectation
		reason string
		ok     bool
	}{
		{"k revert on naive sell", sell, "UniswapV2: K", true},
		{"bare K reason", sell, "K", true},
		{"other revert on naive sell", sell, "UniswapV2: INSUFFICIENT_OUTPUT_AMOUNT", false},
		{"shortfall on naive removal", removal, "TransferHelper: TRANSFER_FAILED", true},
		{"erc20 shortfall", removal, "ERC20: transfer amount exceeds balance", true},
		{"k revert without tag", Expectation{}, "UniswapV2: K", false},
		{"shortfall reason on sell tag", sell, "TRANSFER_FAILED", false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c, ok := ResolveRevert(tc.exp, tc.reason)
			assert.Equal(t, tc.ok, ok)
			if ok {
				assert.Equal(t, VerdictMatch, c.Verdict)
				assert.Equal(t, tc.reason, c.RevertReason)
			}
		})
	}
}

func TestCompareRoundTrip(t *testing.T) {
	match := Comparison{Verdict: VerdictMatch, TaxObserved: true}
	drift := Comparison{Verdict: VerdictMismatch, TaxObserved: true}
	none := Comparison{Verdict: VerdictNoTaxObserved}

	assert.Equal(t, VerdictMatch, CompareRoundTrip(match, match))
	assert.Equal(t, VerdictMismatch, CompareRoundTrip(match, drift))
	assert.Equal(t, VerdictAsymmetricBuyOnly, CompareRoundTrip(match, none))
	assert.Equal(t, VerdictAsymmetricSellOnly, CompareRoundTrip(none, match))
	assert.Equal(t, VerdictBothUntaxed, CompareRoundTrip(none, none))
}

func TestObservedRates(t *testing.T) {
	r := ObservedRates(Outcome{Net: u(9750), Burn: u(125), Foundation: u(125)})
	assert.Equal(t, uint64(125), r.BurnBps)
	assert.Equal(t, uint64(125), r.FoundationBps)
	assert.Equal(t, uint64(250), r.TotalBps())

	assert.Equal(t, Rates{}, ObservedRates(Outcome{}))
}

func TestVerdictString(t *testing.T) {
	assert.Equal(t, "no_tax_observed", VerdictNoTaxObserved.String())
	assert.Equal(t, "inconclusive", VerdictInconclusive.String())
	assert.Equal(t, "verdict(42)", Verdict(42).String())
}
