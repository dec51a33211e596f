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
	"testing"
	"time"

	"github.com/AleutianAI/feeaudit/services/taxaudit/amm"
	"github.com/AleutianAI/feeaudit/services/taxaudit/engine"
	"github.com/AleutianAI/feeaudit/services/taxaudit/scenario"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	pair       = common.HexToAddress("0x1000000000000000000000000000000000000001")
	router     = common.HexToAddress("0x2000000000000000000000000000000000000002")
	foundation = common.HexToAddress("0x3000000000000000000000000000000000000003")
	provider   = common.HexToAddress("0x4000000000000000000000000000000000000004")
	trader     = common.HexToAddress("0x5000000000000000000000000000000000000005")
	peer       = common.HexToAddress("0x6000000000000000000000000000000000000006")

	declared = engine.TaxPolicy{BurnBps: 125, FoundationBps: 125, PairGateEnabled: true}
)

func u(v uint64) *uint256.Int { return uint256.NewInt(v) }

func newLedger(t *testing.T, mutate ...func(*Config)) *Ledger {
	t.Helper()
	cfg := Config{
		Pair:              pair,
		Router:            router,
		Foundation:        foundation,
		LiquidityProvider: provider,
		Policy:            declared,
		TradingEnabled:    true,
		Balances:          map[common.Address]*uint256.Int{trader: u(10_000_000)},
		BaseBalances:      map[common.Address]*uint256.Int{trader: u(10_000_000)},
		PoolToken:         u(1_000_000_000),
		PoolBase:          u(1_000_000_000),
	}
	for _, m := range mutate {
		m(&cfg)
	}
	l, err := New(cfg)
	require.NoError(t, err)
	return l
}

func balance(t *testing.T, l *Ledger, a common.Address) uint64 {
	t.Helper()
	b, err := l.ReadBalance(context.Background(), a)
	require.NoError(t, err)
	return b.Uint64()
}

func supply(t *testing.T, l *Ledger) uint64 {
	t.Helper()
	s, err := l.ReadTotalSupply(context.Background())
	require.NoError(t, err)
	return s.Uint64()
}

func TestNew_SeedsPool(t *testing.T) {
	l := newLedger(t)
	ctx := context.Background()

	res, err := l.ReadPoolReserves(ctx, pair)
	require.NoError(t, err)
	assert.Equal(t, uint64(1_000_000_000), res.Token.Uint64())
	assert.Equal(t, uint64(1_000_000_000), res.Base.Uint64())

	lp, err := l.ReadLPSupply(ctx, pair)
	require.NoError(t, err)
	assert.Equal(t, uint64(1_000_000_000), lp.Uint64())
	assert.Equal(t, uint64(1_000_000_000-amm.MinimumLiquidity), l.LPBalance(provider).Uint64())
	assert.Equal(t, uint64(1_010_000_000), supply(t, l))
}

func TestNew_InvalidConfig(t *testing.T) {
	_, err := New(Config{})
	assert.ErrorIs(t, err, ErrConfig)

	_, err = New(Config{Pair: pair, Router: router, Foundation: foundation, Policy: engine.TaxPolicy{BurnBps: 20000}})
	assert.ErrorIs(t, err, engine.ErrInvalidPolicy)
}

func TestPeerTransferUntaxed(t *testing.T) {
	l := newLedger(t)
	tx, err := l.ExecuteTransfer(context.Background(), engine.TransferContext{
		From: trader, To: peer, Pair: pair, AmountGross: u(10000), Kind: engine.PeerTransfer,
	})
	require.NoError(t, err)
	require.True(t, tx.Success)
	assert.Equal(t, uint64(10000), balance(t, l, peer))
	assert.Equal(t, uint64(0), balance(t, l, foundation))
	assert.Equal(t, uint64(1_010_000_000), supply(t, l))
}

func TestBuyTaxed(t *testing.T) {
	l := newLedger(t)
	out, err := amm.UniswapV2().QuoteSwap(u(100_000), u(1_000_000_000), u(1_000_000_000))
	require.NoError(t, err)
	split, err := engine.ComputeSplit(out, declared)
	require.NoError(t, err)

	tx, err := l.ExecuteTransfer(context.Background(), engine.TransferContext{
		From: pair, To: trader, Pair: pair, AmountGross: u(100_000), Kind: engine.Buy,
	})
	require.NoError(t, err)
	require.True(t, tx.Success, tx.RevertReason)

	assert.Equal(t, 10_000_000+split.Net.Uint64(), balance(t, l, trader))
	assert.Equal(t, split.Foundation.Uint64(), balance(t, l, foundation))
	assert.Equal(t, 1_010_000_000-split.Burn.Uint64(), supply(t, l))

	res, err := l.ReadPoolReserves(context.Background(), pair)
	require.NoError(t, err)
	assert.Equal(t, uint64(1_000_100_000), res.Base.Uint64())
	assert.Equal(t, 1_000_000_000-out.Uint64(), res.Token.Uint64())
}

func TestBuyUntaxedWhenPairExcluded(t *testing.T) {
	tests := []struct {
		name     string
		explicit bool
		mapped   bool
	}{
		{"explicit set", true, false},
		{"mapping", false, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			l := newLedger(t)
			l.SetExcluded(pair, tc.explicit, tc.mapped)

			tx, err := l.ExecuteTransfer(context.Background(), engine.TransferContext{
				From: pair, To: trader, Pair: pair, AmountGross: u(100_000), Kind: engine.Buy,
			})
			require.NoError(t, err)
			require.True(t, tx.Success)
			assert.Equal(t, uint64(0), balance(t, l, foundation))
			assert.Equal(t, uint64(1_010_000_000), supply(t, l))
		})
	}
}

func TestNaiveSellRevertsOnK(t *testing.T) {
	l := newLedger(t)
	before := balance(t, l, trader)

	tx, err := l.ExecuteTransfer(context.Background(), engine.TransferContext{
		From: trader, To: pair, Pair: pair, AmountGross: u(100_000), Kind: engine.Sell,
	})
	require.NoError(t, err)
	assert.False(t, tx.Success)
	assert.Equal(t, ReasonInvariant, tx.RevertReason)
	assert.True(t, engine.IsInvariantViolation(tx.RevertReason))

	assert.Equal(t, before, balance(t, l, trader), "revert must not change state")
	assert.Equal(t, uint64(0), balance(t, l, foundation))
}

func TestFeeAwareSellSucceeds(t *testing.T) {
	l := newLedger(t)
	split, err := engine.ComputeSplit(u(100_000), declared)
	require.NoError(t, err)
	out, err := amm.UniswapV2().QuoteSwap(split.Net, u(1_000_000_000), u(1_000_000_000))
	require.NoError(t, err)

	tx, err := l.ExecuteTransfer(context.Background(), engine.TransferContext{
		From: trader, To: pair, Pair: pair, AmountGross: u(100_000), Kind: engine.Sell, FeeAware: true,
	})
	require.NoError(t, err)
	require.True(t, tx.Success, tx.RevertReason)

	base, err := l.ReadBaseBalance(context.Background(), trader)
	require.NoError(t, err)
	assert.Equal(t, 10_000_000+out.Uint64(), base.Uint64())
	assert.Equal(t, 1_000_000_000+split.Net.Uint64(), balance(t, l, pair))
}

func TestSellQuirkSkipsTax(t *testing.T) {
	l := newLedger(t, func(c *Config) { c.Quirks.SkipSellTax = true })

	tx, err := l.ExecuteTransfer(context.Background(), engine.TransferContext{
		From: trader, To: pair, Pair: pair, AmountGross: u(100_000), Kind: engine.Sell,
	})
	require.NoError(t, err)
	require.True(t, tx.Success, "untaxed naive sell keeps K")
	assert.Equal(t, uint64(0), balance(t, l, foundation))
}

func TestActualRateQuirk(t *testing.T) {
	actual := engine.TaxPolicy{BurnBps: 500, FoundationBps: 500, PairGateEnabled: true}
	l := newLedger(t, func(c *Config) { c.Quirks.Actual = &actual })

	p, err := l.ReadPolicy(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(125), p.BurnBps, "declared policy is still reported")

	tx, err := l.ExecuteTransfer(context.Background(), engine.TransferContext{
		From: trader, To: pair, Pair: pair, AmountGross: u(100_000), Kind: engine.Sell, FeeAware: true,
	})
	require.NoError(t, err)
	require.True(t, tx.Success)
	assert.Equal(t, uint64(5000), balance(t, l, foundation))
}

func TestLiquidityRoundTrip(t *testing.T) {
	l := newLedger(t)
	ctx := context.Background()

	tx, err := l.ExecuteTransfer(ctx, engine.TransferContext{
		From: trader, To: pair, Pair: pair, AmountGross: u(1_000_000), BaseAmount: u(1_000_000), Kind: engine.AddLiquidity,
	})
	require.NoError(t, err)
	require.True(t, tx.Success, tx.RevertReason)
	lp := l.LPBalance(trader)
	require.False(t, lp.IsZero())
	assert.Equal(t, uint64(975_000), lp.Uint64(), "minted on the taxed token leg")

	tx, err = l.ExecuteTransfer(ctx, engine.TransferContext{
		From: pair, To: trader, Pair: pair, AmountGross: lp, Kind: engine.RemoveLiquidity,
	})
	require.NoError(t, err)
	assert.False(t, tx.Success)
	assert.Equal(t, ReasonTransferFailed, tx.RevertReason)
	assert.True(t, engine.IsTransferShortfall(tx.RevertReason))

	tx, err = l.ExecuteTransfer(ctx, engine.TransferContext{
		From: pair, To: trader, Pair: pair, AmountGross: lp, Kind: engine.RemoveLiquidity, FeeAware: true,
	})
	require.NoError(t, err)
	require.True(t, tx.Success, tx.RevertReason)
	assert.True(t, l.LPBalance(trader).IsZero())
	assert.Equal(t, uint64(0), balance(t, l, router))
}

func TestTradingDisabledReverts(t *testing.T) {
	l := newLedger(t, func(c *Config) { c.TradingEnabled = false })

	tx, err := l.ExecuteTransfer(context.Background(), engine.TransferContext{
		From: pair, To: trader, Pair: pair, AmountGross: u(1000), Kind: engine.Buy,
	})
	require.NoError(t, err)
	assert.False(t, tx.Success)
	assert.Equal(t, ReasonTradingDisabled, tx.RevertReason)

	tx, err = l.ExecuteTransfer(context.Background(), engine.TransferContext{
		From: trader, To: peer, Pair: pair, AmountGross: u(1000), Kind: engine.PeerTransfer,
	})
	require.NoError(t, err)
	assert.True(t, tx.Success, "peer transfers ignore the trading gate")
}

func TestLatencyRespectsContext(t *testing.T) {
	l := newLedger(t, func(c *Config) { c.Latency = time.Second })
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := l.ExecuteTransfer(ctx, engine.TransferContext{
		From: trader, To: peer, Pair: pair, AmountGross: u(1), Kind: engine.PeerTransfer,
	})
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Equal(t, uint64(0), balance(t, l, peer))
}

func TestReadExclusionState_KeepsMechanismsApart(t *testing.T) {
	l := newLedger(t, func(c *Config) {
		c.ExplicitExclusions = []common.Address{router}
		c.MappedExclusions = []common.Address{pair}
	})

	ex, err := l.ReadExclusionState(context.Background(), []common.Address{pair, trader})
	require.NoError(t, err)
	assert.True(t, ex.InExplicitSet(router))
	assert.False(t, ex.InMapping(router), "router was not probed")
	assert.True(t, ex.InMapping(pair))
	assert.False(t, ex.InExplicitSet(pair))
	assert.False(t, ex.InMapping(trader))
}

func TestReadUnknownPair(t *testing.T) {
	l := newLedger(t)
	_, err := l.ReadPoolReserves(context.Background(), peer)
	assert.ErrorIs(t, err, ErrUnknownPair)
}

func TestReadTokenStatus(t *testing.T) {
	l := newLedger(t)
	l.SetPaused(true)
	st, err := l.ReadTokenStatus(context.Background())
	require.NoError(t, err)
	assert.True(t, st.Paused)
	assert.True(t, st.TradingEnabled)
	assert.Equal(t, pair, st.ContractPair)
	assert.Equal(t, foundation, st.FoundationWallet)
}

func TestDetectFeeOnTransfer(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Ledger)
		want   scenario.FeeStatus
	}{
		{"taxed token", func(*Ledger) {}, scenario.FeeStatusFeeOnTransfer},
		{"gate off", func(l *Ledger) { l.SetPairGate(false) }, scenario.FeeStatusUnknown},
		{"detector excluded", func(l *Ledger) { l.SetExcluded(DetectorAddress, false, true) }, scenario.FeeStatusUnknown},
		{"paused", func(l *Ledger) { l.SetPaused(true) }, scenario.FeeStatusTransferFailed},
		{"trading disabled", func(l *Ledger) { l.SetTradingEnabled(false) }, scenario.FeeStatusTransferFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := newLedger(t)
			tt.mutate(l)
			before := balance(t, l, pair)

			status, configured, err := l.DetectFeeOnTransfer(context.Background())
			require.NoError(t, err)
			assert.True(t, configured)
			assert.Equal(t, tt.want, status)
			assert.Equal(t, before, balance(t, l, pair), "detection must not move funds")
		})
	}
}
