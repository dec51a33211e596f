// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package simledger is an in-memory fee-on-transfer token with one
// constant-product pair and a router.
//
// It implements scenario.LedgerProvider, scenario.ReadinessProvider,
// scenario.FeeDetector and scenario.Gateway, so full diagnostics can run without a node. The token
// applies its tax inside a single transfer hook the way the deployed
// contract does; Quirks inject the defects the diagnostic is meant to find.
//
// Every operation runs on a copy of the state and commits only when it
// succeeds, so a revert leaves no trace.
package simledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/AleutianAI/feeaudit/services/taxaudit/amm"
	"github.com/AleutianAI/feeaudit/services/taxaudit/engine"
	"github.com/AleutianAI/feeaudit/services/taxaudit/scenario"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Revert reasons, matching the deployed contracts.
const (
	ReasonInsufficientBalance = "ERC20: transfer amount exceeds balance"
	ReasonInvariant           = "UniswapV2: K"
	ReasonTransferFailed      = "TransferHelper: TRANSFER_FAILED"
	ReasonInsufficientLP      = "UniswapV2: INSUFFICIENT_LIQUIDITY_BURNED"
	ReasonInsufficientMinted  = "UniswapV2: INSUFFICIENT_LIQUIDITY_MINTED"
	ReasonInsufficientBase    = "insufficient base balance"
	ReasonTradingDisabled     = "Trading not enabled"
	ReasonPaused              = "Pausable: paused"
)

// DetectorAddress is the FeeOnTransferDetector deployment the simulated
// detector borrows through.
var DetectorAddress = common.HexToAddress("0xCF6220e4496B091a6b391D48e770f1FbaC63E740")

var (
	// ErrUnknownPair indicates a read for a pair other than the ledger's.
	ErrUnknownPair = errors.New("simledger: unknown pair")

	// ErrConfig indicates an unusable ledger configuration.
	ErrConfig = errors.New("simledger: invalid config")
)

// Quirks make the token deviate from its declared policy.
type Quirks struct {
	// SkipBuyTax leaves transfers out of the pair untaxed.
	SkipBuyTax bool

	// SkipSellTax leaves transfers into the pair untaxed.
	SkipSellTax bool

	// Actual, when set, is the bps the token really charges while
	// ReadPolicy keeps reporting the declared policy.
	Actual *engine.TaxPolicy
}

// Config seeds a Ledger.
type Config struct {
	Pair       common.Address
	Router     common.Address
	Foundation common.Address

	// LiquidityProvider receives the LP minted for the seeded reserves.
	LiquidityProvider common.Address

	Policy             engine.TaxPolicy
	ExplicitExclusions []common.Address
	MappedExclusions   []common.Address

	TradingEnabled bool
	Paused         bool

	// Balances and BaseBalances are initial holdings outside the pool.
	Balances     map[common.Address]*uint256.Int
	BaseBalances map[common.Address]*uint256.Int

	// PoolToken and PoolBase seed the pair's reserves.
	PoolToken *uint256.Int
	PoolBase  *uint256.Int

	Quirks Quirks

	// Latency delays every ExecuteTransfer; used to exercise timeouts.
	Latency time.Duration
}

// state is everything an operation may change.
type state struct {
	policy    engine.TaxPolicy
	exclusion engine.ExclusionState
	trading   bool
	paused    bool

	balances    map[common.Address]*uint256.Int
	base        map[common.Address]*uint256.Int
	totalSupply *uint256.Int

	reserves engine.Reserves
	lp       map[common.Address]*uint256.Int
	lpSupply *uint256.Int
}

func (s *state) clone() *state {
	c := &state{
		policy:      s.policy,
		exclusion:   s.exclusion.Clone(),
		trading:     s.trading,
		paused:      s.paused,
		balances:    cloneBook(s.balances),
		base:        cloneBook(s.base),
		totalSupply: s.totalSupply.Clone(),
		reserves:    s.reserves.Clone(),
		lp:          cloneBook(s.lp),
		lpSupply:    s.lpSupply.Clone(),
	}
	return c
}

func cloneBook(m map[common.Address]*uint256.Int) map[common.Address]*uint256.Int {
	out := make(map[common.Address]*uint256.Int, len(m))
	for a, v := range m {
		out[a] = v.Clone()
	}
	return out
}

func get(m map[common.Address]*uint256.Int, a common.Address) *uint256.Int {
	if v, ok := m[a]; ok {
		return v
	}
	return new(uint256.Int)
}

// Ledger is the simulated token, pair and router.
//
// Thread Safety: Safe for concurrent use. Operations are atomic.
type Ledger struct {
	mu sync.RWMutex
	st *state

	pair       common.Address
	router     common.Address
	foundation common.Address
	quirks     Quirks
	latency    time.Duration
	curve      amm.ConstantProduct
	txSeq      uint64
}

// New builds a Ledger from cfg.
//
// The seeded pool mints sqrt(token*base) LP: MinimumLiquidity to the zero
// address and the rest to cfg.LiquidityProvider. Total supply is the sum of
// all token balances including the pool.
func New(cfg Config) (*Ledger, error) {
	if cfg.Pair == (common.Address{}) || cfg.Router == (common.Address{}) || cfg.Foundation == (common.Address{}) {
		return nil, fmt.Errorf("%w: pair, router and foundation are required", ErrConfig)
	}
	if err := cfg.Policy.Validate(); err != nil {
		return nil, err
	}
	if cfg.Quirks.Actual != nil {
		if err := cfg.Quirks.Actual.Validate(); err != nil {
			return nil, err
		}
	}

	st := &state{
		policy:      cfg.Policy,
		exclusion:   engine.NewExclusionState(cfg.ExplicitExclusions, cfg.MappedExclusions),
		trading:     cfg.TradingEnabled,
		paused:      cfg.Paused,
		balances:    make(map[common.Address]*uint256.Int),
		base:        make(map[common.Address]*uint256.Int),
		totalSupply: new(uint256.Int),
		lp:          make(map[common.Address]*uint256.Int),
		lpSupply:    new(uint256.Int),
		reserves:    engine.Reserves{Base: new(uint256.Int), Token: new(uint256.Int)},
	}
	for a, v := range cfg.Balances {
		if v == nil {
			continue
		}
		st.balances[a] = v.Clone()
		st.totalSupply.Add(st.totalSupply, v)
	}
	for a, v := range cfg.BaseBalances {
		if v != nil {
			st.base[a] = v.Clone()
		}
	}

	if cfg.PoolToken != nil && cfg.PoolBase != nil && !cfg.PoolToken.IsZero() && !cfg.PoolBase.IsZero() {
		minted, err := amm.LiquidityMinted(cfg.PoolToken, cfg.PoolBase, nil, nil, nil)
		if err != nil {
			return nil, fmt.Errorf("%w: seed pool: %v", ErrConfig, err)
		}
		st.balances[cfg.Pair] = new(uint256.Int).Add(get(st.balances, cfg.Pair), cfg.PoolToken)
		st.totalSupply.Add(st.totalSupply, cfg.PoolToken)
		st.base[cfg.Pair] = new(uint256.Int).Add(get(st.base, cfg.Pair), cfg.PoolBase)

		st.lp[common.Address{}] = uint256.NewInt(amm.MinimumLiquidity)
		st.lp[cfg.LiquidityProvider] = minted
		st.lpSupply = new(uint256.Int).AddUint64(minted, amm.MinimumLiquidity)
		st.sync(cfg.Pair)
	}

	return &Ledger{
		st:         st,
		pair:       cfg.Pair,
		router:     cfg.Router,
		foundation: cfg.Foundation,
		quirks:     cfg.Quirks,
		latency:    cfg.Latency,
		curve:      amm.UniswapV2(),
	}, nil
}

// sync sets the reserves to the pair's balances.
func (s *state) sync(pair common.Address) {
	s.reserves = engine.Reserves{
		Base:  get(s.base, pair).Clone(),
		Token: get(s.balances, pair).Clone(),
	}
}

// =============================================================================
// LedgerProvider
// =============================================================================

func (l *Ledger) ReadBalance(_ context.Context, account common.Address) (*uint256.Int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return get(l.st.balances, account).Clone(), nil
}

func (l *Ledger) ReadBaseBalance(_ context.Context, account common.Address) (*uint256.Int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return get(l.st.base, account).Clone(), nil
}

func (l *Ledger) ReadTotalSupply(context.Context) (*uint256.Int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.st.totalSupply.Clone(), nil
}

func (l *Ledger) ReadPoolReserves(_ context.Context, pair common.Address) (engine.Reserves, error) {
	if pair != l.pair {
		return engine.Reserves{}, fmt.Errorf("%w: %s", ErrUnknownPair, pair.Hex())
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.st.reserves.Clone(), nil
}

func (l *Ledger) ReadLPSupply(_ context.Context, pair common.Address) (*uint256.Int, error) {
	if pair != l.pair {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPair, pair.Hex())
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.st.lpSupply.Clone(), nil
}

// ReadPolicy returns the declared bps. PairGateEnabled is left false.
func (l *Ledger) ReadPolicy(context.Context) (engine.TaxPolicy, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return engine.TaxPolicy{BurnBps: l.st.policy.BurnBps, FoundationBps: l.st.policy.FoundationBps}, nil
}

func (l *Ledger) ReadPairGate(context.Context) (bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.st.policy.PairGateEnabled, nil
}

// ReadExclusionState returns the whole explicit set and the mapping flag
// of each probe, as two separate structures.
func (l *Ledger) ReadExclusionState(_ context.Context, probes []common.Address) (engine.ExclusionState, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := engine.ExclusionState{
		ExplicitSet: make(map[common.Address]struct{}, len(l.st.exclusion.ExplicitSet)),
		Mapping:     make(map[common.Address]bool, len(probes)),
	}
	for a := range l.st.exclusion.ExplicitSet {
		out.ExplicitSet[a] = struct{}{}
	}
	for _, a := range probes {
		out.Mapping[a] = l.st.exclusion.InMapping(a)
	}
	return out, nil
}

// ReadTokenStatus implements scenario.ReadinessProvider.
func (l *Ledger) ReadTokenStatus(context.Context) (scenario.TokenStatus, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return scenario.TokenStatus{
		TradingEnabled:   l.st.trading,
		Paused:           l.st.paused,
		ContractPair:     l.pair,
		FoundationWallet: l.foundation,
	}, nil
}

// DetectFeeOnTransfer implements scenario.FeeDetector. Like the deployed
// detector it borrows 1% of the pair's token balance, returns it, and
// compares what arrived at each hop. Nothing is committed.
func (l *Ledger) DetectFeeOnTransfer(context.Context) (scenario.FeeStatus, bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	st := l.st.clone()
	amount := new(uint256.Int).Div(get(st.balances, l.pair), uint256.NewInt(100))
	if amount.IsZero() {
		return scenario.FeeStatusTransferFailed, true, nil
	}

	borrowed, err := l.detectHop(st, l.pair, DetectorAddress, amount)
	if err != nil {
		return scenario.FeeStatusTransferFailed, true, nil
	}
	returned, err := l.detectHop(st, DetectorAddress, l.pair, borrowed)
	if err != nil {
		return scenario.FeeStatusTransferFailed, true, nil
	}
	if borrowed.Lt(amount) || returned.Lt(borrowed) {
		return scenario.FeeStatusFeeOnTransfer, true, nil
	}
	return scenario.FeeStatusUnknown, true, nil
}

// detectHop runs one transfer on st and returns the amount received.
func (l *Ledger) detectHop(st *state, from, to common.Address, amount *uint256.Int) (*uint256.Int, error) {
	before := get(st.balances, to).Clone()
	if err := l.transfer(st, from, to, amount); err != nil {
		return nil, err
	}
	return new(uint256.Int).Sub(get(st.balances, to), before), nil
}

// QuoteSwap implements engine.Quoter with the pool's 0.3% curve.
func (l *Ledger) QuoteSwap(amountIn, reserveIn, reserveOut *uint256.Int) (*uint256.Int, error) {
	return l.curve.QuoteSwap(amountIn, reserveIn, reserveOut)
}

// LPBalance returns the LP tokens held by account.
func (l *Ledger) LPBalance(account common.Address) *uint256.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return get(l.st.lp, account).Clone()
}

// =============================================================================
// Admin
// =============================================================================

// SetPolicy replaces the declared and applied policy, including the gate.
func (l *Ledger) SetPolicy(p engine.TaxPolicy) error {
	if err := p.Validate(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.st.policy = p
	return nil
}

// SetPairGate toggles the pair gate.
func (l *Ledger) SetPairGate(enabled bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.st.policy.PairGateEnabled = enabled
}

// SetExcluded sets a's membership in each exclusion mechanism independently.
func (l *Ledger) SetExcluded(a common.Address, explicit, mapped bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if explicit {
		l.st.exclusion.ExplicitSet[a] = struct{}{}
	} else {
		delete(l.st.exclusion.ExplicitSet, a)
	}
	l.st.exclusion.Mapping[a] = mapped
}

// SetTradingEnabled toggles trading.
func (l *Ledger) SetTradingEnabled(enabled bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.st.trading = enabled
}

// SetPaused toggles the pause flag.
func (l *Ledger) SetPaused(paused bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.st.paused = paused
}

// SetQuirks replaces the injected defects.
func (l *Ledger) SetQuirks(q Quirks) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.quirks = q
}

// Fund credits base asset to account.
func (l *Ledger) Fund(account common.Address, amount *uint256.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.st.base[account] = new(uint256.Int).Add(get(l.st.base, account), amount)
}

// Mint credits tokens to account and grows the supply.
func (l *Ledger) Mint(account common.Address, amount *uint256.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.st.balances[account] = new(uint256.Int).Add(get(l.st.balances, account), amount)
	l.st.totalSupply.Add(l.st.totalSupply, amount)
}
