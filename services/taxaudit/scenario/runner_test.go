// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package scenario_test

import (
	"context"
	"errors"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/AleutianAI/feeaudit/services/taxaudit/engine"
	"github.com/AleutianAI/feeaudit/services/taxaudit/scenario"
	"github.com/AleutianAI/feeaudit/services/taxaudit/simledger"
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
)

func u(v uint64) *uint256.Int { return uint256.NewInt(v) }

type fixture struct {
	ledger *simledger.Ledger
	runner *scenario.Runner
}

func newFixture(t *testing.T, mutate ...func(*simledger.Config)) fixture {
	t.Helper()
	cfg := simledger.Config{
		Pair:              pair,
		Router:            router,
		Foundation:        foundation,
		LiquidityProvider: provider,
		Policy:            engine.TaxPolicy{BurnBps: 125, FoundationBps: 125, PairGateEnabled: true},
		TradingEnabled:    true,
		Balances:          map[common.Address]*uint256.Int{trader: u(10_000_000)},
		BaseBalances:      map[common.Address]*uint256.Int{trader: u(10_000_000)},
		PoolToken:         u(1_000_000_000),
		PoolBase:          u(1_000_000_000),
	}
	for _, m := range mutate {
		m(&cfg)
	}
	ledger, err := simledger.New(cfg)
	require.NoError(t, err)

	runner, err := scenario.NewRunner(ledger, ledger, scenario.Config{
		Pair:         pair,
		Foundation:   foundation,
		ToleranceBps: engine.DefaultToleranceBps,
		Timeout:      time.Second,
		Router:       router,
	})
	require.NoError(t, err)
	return fixture{ledger: ledger, runner: runner}
}

func TestNewRunner_Validation(t *testing.T) {
	ledger, err := simledger.New(simledger.Config{Pair: pair, Router: router, Foundation: foundation})
	require.NoError(t, err)

	tests := []struct {
		name    string
		ledger  scenario.LedgerProvider
		gateway scenario.Gateway
		cfg     scenario.Config
		want    error
	}{
		{"nil ledger", nil, ledger, scenario.Config{Pair: pair, Foundation: foundation}, scenario.ErrNilLedger},
		{"nil gateway", ledger, nil, scenario.Config{Pair: pair, Foundation: foundation}, scenario.ErrNilGateway},
		{"missing pair", ledger, ledger, scenario.Config{Foundation: foundation}, scenario.ErrInvalidParams},
		{"foundation is pair", ledger, ledger, scenario.Config{Pair: pair, Foundation: pair}, scenario.ErrInvalidParams},
		{"tolerance too large", ledger, ledger, scenario.Config{Pair: pair, Foundation: foundation, ToleranceBps: 10001}, scenario.ErrInvalidParams},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := scenario.NewRunner(tc.ledger, tc.gateway, tc.cfg)
			assert.ErrorIs(t, err, tc.want)
		})
	}

	r, err := scenario.NewRunner(ledger, ledger, scenario.Config{Pair: pair, Foundation: foundation})
	require.NoError(t, err)
	assert.Equal(t, scenario.DefaultTimeout, r.Config().Timeout)
}

func TestRunScenario_InvalidParams(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		kind   engine.TransferKind
		params scenario.Params
	}{
		{"zero amount", engine.Buy, scenario.Params{Trader: trader, Amount: u(0)}},
		{"nil amount", engine.Buy, scenario.Params{Trader: trader}},
		{"no trader", engine.Buy, scenario.Params{Amount: u(1)}},
		{"trader is pair", engine.Sell, scenario.Params{Trader: pair, Amount: u(1)}},
		{"trader is foundation", engine.Sell, scenario.Params{Trader: foundation, Amount: u(1)}},
		{"peer without counterparty", engine.PeerTransfer, scenario.Params{Trader: trader, Amount: u(1)}},
		{"peer to pair", engine.PeerTransfer, scenario.Params{Trader: trader, Counterparty: pair, Amount: u(1)}},
		{"peer to foundation", engine.PeerTransfer, scenario.Params{Trader: trader, Counterparty: foundation, Amount: u(1)}},
		{"trader is router", engine.RemoveLiquidity, scenario.Params{Trader: router, Amount: u(1)}},
		{"deposit without base", engine.AddLiquidity, scenario.Params{Trader: trader, Amount: u(1)}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			res, err := f.runner.RunScenario(ctx, tc.kind, tc.params)
			assert.ErrorIs(t, err, scenario.ErrInvalidParams)
			assert.Nil(t, res)
		})
	}
}

// The four canonical scenarios: peer transfer, taxed buy, fee-aware sell
// and naive sell.
func TestRunScenario_Canonical(t *testing.T) {
	tests := []struct {
		name        string
		kind        engine.TransferKind
		params      scenario.Params
		taxObserved bool
		reverted    bool
	}{
		{
			name:   "peer transfer is untaxed",
			kind:   engine.PeerTransfer,
			params: scenario.Params{Trader: trader, Counterparty: peer, Amount: u(10_000)},
		},
		{
			name:        "buy is taxed",
			kind:        engine.Buy,
			params:      scenario.Params{Trader: trader, Amount: u(100_000)},
			taxObserved: true,
		},
		{
			name:        "fee-aware sell is taxed",
			kind:        engine.Sell,
			params:      scenario.Params{Trader: trader, Amount: u(100_000), FeeAware: true},
			taxObserved: true,
		},
		{
			name:        "naive sell reverts on K as predicted",
			kind:        engine.Sell,
			params:      scenario.Params{Trader: trader, Amount: u(100_000)},
			taxObserved: true,
			reverted:    true,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			res, err := f.runner.RunScenario(context.Background(), tc.kind, tc.params)
			require.NoError(t, err)
			require.NotNil(t, res)

			assert.Equal(t, engine.VerdictMatch, res.Verdict, res.Comparison.Note)
			assert.Equal(t, tc.taxObserved, res.Comparison.TaxObserved)
			assert.Equal(t, tc.reverted, res.Comparison.Reverted)
			assert.NotEqual(t, "", res.Tx.TxID)
			if tc.reverted {
				assert.Nil(t, res.Observed)
				assert.Equal(t, engine.TagInvariantViolationExpected, res.Expected.Tag)
				assert.True(t, res.Expected.RevertProven)
				return
			}
			require.NotNil(t, res.Observed)
			assert.True(t, res.Expected.Net.Eq(res.Observed.Net))
			if tc.taxObserved {
				assert.InDelta(t, 125, float64(res.ObservedRates.BurnBps), 1)
				assert.InDelta(t, 125, float64(res.ObservedRates.FoundationBps), 1)
			}
		})
	}
}

func TestRunScenario_Liquidity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	add, err := f.runner.RunScenario(ctx, engine.AddLiquidity, scenario.Params{
		Trader: trader, Amount: u(1_000_000), BaseAmount: u(1_000_000),
	})
	require.NoError(t, err)
	assert.Equal(t, engine.VerdictMatch, add.Verdict, add.Comparison.Note)
	lp := f.ledger.LPBalance(trader)
	require.NotNil(t, add.Expected.LPMinted)
	assert.True(t, add.Expected.LPMinted.Eq(lp))
	require.NotNil(t, add.Observed)
	require.NotNil(t, add.Observed.LPMinted)
	assert.True(t, add.Observed.LPMinted.Eq(lp))
	require.NotNil(t, add.Observed.BaseSpent)
	assert.True(t, add.Observed.BaseSpent.Eq(add.Expected.BaseAmount))
	assert.Empty(t, add.Comparison.BaseDrift)
	assert.Empty(t, add.Comparison.LPDrift)

	naive, err := f.runner.RunScenario(ctx, engine.RemoveLiquidity, scenario.Params{Trader: trader, Amount: lp})
	require.NoError(t, err)
	assert.Equal(t, engine.VerdictMatch, naive.Verdict)
	assert.True(t, naive.Comparison.Reverted)
	assert.Equal(t, simledger.ReasonTransferFailed, naive.Comparison.RevertReason)

	aware, err := f.runner.RunScenario(ctx, engine.RemoveLiquidity, scenario.Params{Trader: trader, Amount: lp, FeeAware: true})
	require.NoError(t, err)
	assert.Equal(t, engine.VerdictMatch, aware.Verdict, aware.Comparison.Note)
	assert.True(t, aware.Comparison.TaxObserved)
	assert.True(t, f.ledger.LPBalance(trader).IsZero())
	require.NotNil(t, aware.Observed.LPBurned)
	assert.True(t, aware.Observed.LPBurned.Eq(lp))
	require.NotNil(t, aware.Observed.BaseReceived)
	assert.True(t, aware.Observed.BaseReceived.Eq(aware.Expected.BaseAmount))
}

// With the router excluded the pair-to-router leg is untaxed, so even a
// naive removal delivers the full token amount.
func TestRunScenario_RemovalThroughExcludedRouter(t *testing.T) {
	f := newFixture(t, func(c *simledger.Config) {
		c.LiquidityProvider = trader
		c.MappedExclusions = []common.Address{router}
	})
	lp := new(uint256.Int).Div(f.ledger.LPBalance(trader), u(10))

	res, err := f.runner.RunScenario(context.Background(), engine.RemoveLiquidity, scenario.Params{Trader: trader, Amount: lp})
	require.NoError(t, err)
	assert.Equal(t, engine.VerdictMatch, res.Verdict, res.Comparison.Note)
	assert.False(t, res.Expected.Taxable)
	assert.Equal(t, router, res.Expected.Classification.To.Address)
	assert.False(t, res.Comparison.TaxObserved)
	assert.False(t, res.Comparison.Reverted)
	require.NotNil(t, res.Observed)
	assert.True(t, res.Observed.Net.Eq(res.Expected.Net))
}

// drainingLedger empties the trader's token balance once a transfer has
// executed, so the after-snapshot cannot be reconciled.
type drainingLedger struct {
	*simledger.Ledger
	executed atomic.Bool
}

func (d *drainingLedger) ExecuteTransfer(ctx context.Context, tc engine.TransferContext) (scenario.TxResult, error) {
	res, err := d.Ledger.ExecuteTransfer(ctx, tc)
	d.executed.Store(true)
	return res, err
}

func (d *drainingLedger) ReadBalance(ctx context.Context, account common.Address) (*uint256.Int, error) {
	if d.executed.Load() && account == trader {
		return u(0), nil
	}
	return d.Ledger.ReadBalance(ctx, account)
}

func TestRunScenario_ReconciliationErrorIsInconclusive(t *testing.T) {
	f := newFixture(t)
	d := &drainingLedger{Ledger: f.ledger}
	runner, err := scenario.NewRunner(d, d, f.runner.Config())
	require.NoError(t, err)

	res, err := runner.RunScenario(context.Background(), engine.Buy, scenario.Params{Trader: trader, Amount: u(1000)})
	require.Error(t, err)
	assert.ErrorIs(t, err, engine.ErrReconciliation)
	var re *engine.ReconciliationError
	require.True(t, errors.As(err, &re))
	assert.Equal(t, trader.Hex(), re.Account)

	require.NotNil(t, res)
	assert.Equal(t, engine.VerdictInconclusive, res.Verdict)
	assert.NotEmpty(t, res.Error)
	assert.Nil(t, res.Observed)
	assert.True(t, res.Tx.Success)
}

func TestRunScenario_Timeout(t *testing.T) {
	f := newFixture(t, func(c *simledger.Config) { c.Latency = 500 * time.Millisecond })
	runner, err := scenario.NewRunner(f.ledger, f.ledger, scenario.Config{
		Pair: pair, Foundation: foundation, Timeout: 20 * time.Millisecond,
	})
	require.NoError(t, err)

	res, err := runner.RunScenario(context.Background(), engine.Buy, scenario.Params{Trader: trader, Amount: u(1000)})
	require.Error(t, err)
	var te *scenario.TimeoutError
	require.True(t, errors.As(err, &te))
	assert.ErrorIs(t, err, scenario.ErrTimeout)
	assert.Equal(t, 20*time.Millisecond, te.Timeout)

	require.NotNil(t, res)
	assert.Equal(t, engine.VerdictInconclusive, res.Verdict)
	assert.NotEmpty(t, res.Error)
}

func TestRunScenario_UnexpectedRevert(t *testing.T) {
	f := newFixture(t, func(c *simledger.Config) { c.TradingEnabled = false })

	res, err := f.runner.RunScenario(context.Background(), engine.Buy, scenario.Params{Trader: trader, Amount: u(1000)})
	require.Error(t, err)
	var ge *scenario.GatewayError
	require.True(t, errors.As(err, &ge))
	assert.ErrorIs(t, err, scenario.ErrGateway)
	assert.True(t, ge.IsRevert())
	assert.False(t, ge.IsInvariantViolation())
	assert.Equal(t, simledger.ReasonTradingDisabled, ge.Reason)
	assert.Equal(t, engine.VerdictInconclusive, res.Verdict)
}

func TestRunScenario_PinsOverrideFreshReads(t *testing.T) {
	f := newFixture(t)
	untaxed := engine.TaxPolicy{BurnBps: 125, FoundationBps: 125, PairGateEnabled: false}

	res, err := f.runner.RunScenario(context.Background(), engine.Buy, scenario.Params{
		Trader: trader,
		Amount: u(100_000),
		Pins:   &scenario.Pins{Policy: &untaxed},
	})
	require.NoError(t, err)
	assert.False(t, res.Expected.Taxable, "pinned policy drives the expectation")
	assert.True(t, res.Comparison.TaxObserved, "the ledger still taxes")
	assert.Equal(t, engine.VerdictMismatch, res.Verdict)
}

func TestRunScenario_ReadsStateFresh(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.runner.RunScenario(ctx, engine.Buy, scenario.Params{Trader: trader, Amount: u(100_000)})
	require.NoError(t, err)
	assert.True(t, first.Comparison.TaxObserved)

	f.ledger.SetPairGate(false)
	second, err := f.runner.RunScenario(ctx, engine.Buy, scenario.Params{Trader: trader, Amount: u(100_000)})
	require.NoError(t, err)
	assert.Equal(t, engine.VerdictMatch, second.Verdict)
	assert.False(t, second.Expected.Taxable)
	assert.False(t, second.Comparison.TaxObserved)
}

func TestRunScenario_SerializedPerPool(t *testing.T) {
	f := newFixture(t, func(c *simledger.Config) { c.Latency = 5 * time.Millisecond })

	const n = 8
	var wg sync.WaitGroup
	results := make([]*scenario.Result, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = f.runner.RunScenario(context.Background(), engine.Buy,
				scenario.Params{Trader: trader, Amount: u(50_000)})
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, engine.VerdictMatch, results[i].Verdict, "run %d: %s", i, results[i].Comparison.Note)
	}
}

func TestRunScenario_LockWaitHonoursContext(t *testing.T) {
	f := newFixture(t, func(c *simledger.Config) { c.Latency = 300 * time.Millisecond })

	started := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		close(started)
		_, _ = f.runner.RunScenario(context.Background(), engine.Buy, scenario.Params{Trader: trader, Amount: u(1000)})
	}()
	<-started
	time.Sleep(50 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	res, err := f.runner.RunScenario(ctx, engine.Buy, scenario.Params{Trader: trader, Amount: u(1000)})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Nil(t, res)
	<-done
}

func TestRunFullDiagnostic(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*simledger.Config)
		params    scenario.DiagnosticParams
		want      engine.DiagnosisVerdict
		roundTrip engine.Verdict
	}{
		{
			name:      "taxed both ways",
			want:      engine.ExpectedBehaviorConfirmed,
			roundTrip: engine.VerdictMatch,
		},
		{
			name:      "naive sell still confirms",
			params:    scenario.DiagnosticParams{NaiveSell: true},
			want:      engine.ExpectedBehaviorConfirmed,
			roundTrip: engine.VerdictMatch,
		},
		{
			name:      "pair in explicit set",
			mutate:    func(c *simledger.Config) { c.ExplicitExclusions = []common.Address{pair} },
			want:      engine.ExclusionBypassBug,
			roundTrip: engine.VerdictBothUntaxed,
		},
		{
			name:      "pair in mapping",
			mutate:    func(c *simledger.Config) { c.MappedExclusions = []common.Address{pair} },
			want:      engine.ExclusionBypassBug,
			roundTrip: engine.VerdictBothUntaxed,
		},
		{
			name:      "pair gate off",
			mutate:    func(c *simledger.Config) { c.Policy.PairGateEnabled = false },
			want:      engine.TaxNotApplied,
			roundTrip: engine.VerdictBothUntaxed,
		},
		{
			name:      "sells skip tax",
			mutate:    func(c *simledger.Config) { c.Quirks.SkipSellTax = true },
			want:      engine.AsymmetricTaxApplication,
			roundTrip: engine.VerdictAsymmetricBuyOnly,
		},
		{
			name:      "buys skip tax",
			mutate:    func(c *simledger.Config) { c.Quirks.SkipBuyTax = true },
			want:      engine.AsymmetricTaxApplication,
			roundTrip: engine.VerdictAsymmetricSellOnly,
		},
		{
			name: "rates differ from declared",
			mutate: func(c *simledger.Config) {
				c.Quirks.Actual = &engine.TaxPolicy{BurnBps: 500, FoundationBps: 500, PairGateEnabled: true}
			},
			want:      engine.UnexplainedDivergence,
			roundTrip: engine.VerdictMismatch,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var mutate []func(*simledger.Config)
			if tc.mutate != nil {
				mutate = append(mutate, tc.mutate)
			}
			f := newFixture(t, mutate...)

			params := tc.params
			params.Trader = trader
			params.BuyAmount = u(100_000)
			params.PinState = true

			report, err := f.runner.RunFullDiagnostic(context.Background(), params)
			require.NoError(t, err)
			require.NotNil(t, report.Buy)
			require.NotNil(t, report.Sell)

			assert.Equal(t, tc.want, report.Diagnosis.Verdict, report.Diagnosis.Explanation)
			assert.Equal(t, tc.roundTrip, report.RoundTrip)
			assert.NotEmpty(t, report.Diagnosis.Explanation)
			assert.NotEmpty(t, report.Readiness)
		})
	}
}

func TestRunFullDiagnostic_SellsWhatTheBuyDelivered(t *testing.T) {
	f := newFixture(t)
	report, err := f.runner.RunFullDiagnostic(context.Background(), scenario.DiagnosticParams{
		Trader: trader, BuyAmount: u(100_000),
	})
	require.NoError(t, err)
	require.NotNil(t, report.Buy.Observed)
	assert.True(t, report.Sell.Context.AmountGross.Eq(report.Buy.Observed.Net))
	assert.True(t, report.Sell.Context.FeeAware)
}

func TestRunFullDiagnostic_PropagatesFailure(t *testing.T) {
	f := newFixture(t, func(c *simledger.Config) { c.Paused = true })

	report, err := f.runner.RunFullDiagnostic(context.Background(), scenario.DiagnosticParams{
		Trader: trader, BuyAmount: u(1000),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, scenario.ErrGateway)
	require.NotNil(t, report)
	require.NotNil(t, report.Buy)
	assert.Nil(t, report.Sell)
	assert.Equal(t, engine.VerdictInconclusive, report.RoundTrip)
	assert.False(t, scenario.Ready(report.Readiness))
}

func TestRunFullDiagnostic_RequiresBuyAmount(t *testing.T) {
	f := newFixture(t)
	_, err := f.runner.RunFullDiagnostic(context.Background(), scenario.DiagnosticParams{Trader: trader})
	assert.ErrorIs(t, err, scenario.ErrInvalidParams)
}

func TestCheckReadiness(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*simledger.Config)
		failed []string
	}{
		{"ready", nil, nil},
		{"gate off", func(c *simledger.Config) { c.Policy.PairGateEnabled = false }, []string{scenario.CheckPairGate}},
		{"trading off", func(c *simledger.Config) { c.TradingEnabled = false }, []string{scenario.CheckTradingEnabled, scenario.CheckFeeDetector}},
		{"paused", func(c *simledger.Config) { c.Paused = true }, []string{scenario.CheckNotPaused, scenario.CheckFeeDetector}},
		{"tax never taken", func(c *simledger.Config) {
			c.Quirks = simledger.Quirks{SkipBuyTax: true, SkipSellTax: true}
		}, []string{scenario.CheckFeeDetector}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var mutate []func(*simledger.Config)
			if tc.mutate != nil {
				mutate = append(mutate, tc.mutate)
			}
			f := newFixture(t, mutate...)

			findings, err := f.runner.CheckReadiness(context.Background())
			require.NoError(t, err)
			assert.Len(t, findings, 6)
			if len(tc.failed) == 0 {
				assert.True(t, scenario.Ready(findings))
				return
			}
			assert.False(t, scenario.Ready(findings))
			for _, fd := range findings {
				assert.Equal(t, !slices.Contains(tc.failed, fd.Check), fd.OK, fd.Check)
			}
		})
	}
}

func TestCheckReadiness_WrongPair(t *testing.T) {
	f := newFixture(t)
	other := common.HexToAddress("0x7000000000000000000000000000000000000007")
	runner, err := scenario.NewRunner(f.ledger, f.ledger, scenario.Config{Pair: other, Foundation: foundation})
	require.NoError(t, err)

	findings, err := runner.CheckReadiness(context.Background())
	require.NoError(t, err)
	for _, fd := range findings {
		if fd.Check == scenario.CheckPairMatches {
			assert.False(t, fd.OK)
			assert.Contains(t, fd.Detail, other.Hex())
		}
	}
}

func TestInspect(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	in, err := f.runner.Inspect(ctx, trader)
	require.NoError(t, err)
	assert.Equal(t, engine.ExpectedBehaviorConfirmed, in.Diagnosis.Verdict)
	assert.True(t, in.Policy.PairGateEnabled)

	f.ledger.SetExcluded(pair, false, true)
	in, err = f.runner.Inspect(ctx, trader)
	require.NoError(t, err)
	assert.Equal(t, engine.ExclusionBypassBug, in.Diagnosis.Verdict)
	assert.True(t, in.Diagnosis.Facts.PairInMapping)
	assert.False(t, in.Diagnosis.Facts.PairInExplicitSet)
}
