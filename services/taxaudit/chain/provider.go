// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package chain reads a deployed fee-on-transfer token and its Uniswap V2
// pair over JSON-RPC.
//
// Provider implements scenario.LedgerProvider, scenario.ReadinessProvider
// and scenario.FeeDetector with eth_call reads only. It also satisfies scenario.Gateway so a Runner
// can inspect a live token, but ExecuteTransfer always fails with
// ErrReadOnly: executing trades needs a signer, which this tool does not
// handle.
package chain

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/AleutianAI/feeaudit/pkg/logging"
	"github.com/AleutianAI/feeaudit/services/taxaudit/amm"
	"github.com/AleutianAI/feeaudit/services/taxaudit/engine"
	"github.com/AleutianAI/feeaudit/services/taxaudit/scenario"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/holiman/uint256"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// DefaultRequestsPerSecond caps eth_call traffic to public endpoints.
const DefaultRequestsPerSecond = 10

// DefaultDetectorAmount is borrowed from the pair by the fee detector
// when Config.DetectorAmount is unset: one token at 18 decimals.
var DefaultDetectorAmount = uint256.NewInt(1_000_000_000_000_000_000)

// Caller is the subset of *ethclient.Client the provider uses.
type Caller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Config identifies the contracts to read.
type Config struct {
	Token common.Address
	Pair  common.Address

	// Base is the ERC-20 paired with the token (wrapped native asset).
	// Zero disables base balance reads, which then return zero.
	Base common.Address

	// FeeDetector is a deployed FeeOnTransferDetector. Zero skips the
	// detector readiness check. Requires Base.
	FeeDetector common.Address

	// DetectorAmount is how much token the detector borrows from the pair.
	DetectorAmount *uint256.Int

	// RequestsPerSecond limits eth_call traffic. Zero uses the default.
	RequestsPerSecond float64
}

// Provider is a read-only ledger backed by a JSON-RPC node.
//
// Thread Safety: Safe for concurrent use.
type Provider struct {
	caller  Caller
	cfg     Config
	limiter *rate.Limiter
	logger  *logging.Logger
	curve   amm.ConstantProduct

	token0Mu    sync.Mutex
	token0Known bool
	tokenIs0    bool
}

// Option configures a Provider.
type Option func(*Provider)

// WithLogger sets the provider's logger.
func WithLogger(l *logging.Logger) Option {
	return func(p *Provider) {
		if l != nil {
			p.logger = l
		}
	}
}

// NewProvider wraps caller.
func NewProvider(caller Caller, cfg Config, opts ...Option) (*Provider, error) {
	if caller == nil {
		return nil, fmt.Errorf("%w: caller is required", ErrConfig)
	}
	if cfg.Token == (common.Address{}) || cfg.Pair == (common.Address{}) {
		return nil, fmt.Errorf("%w: token and pair addresses are required", ErrConfig)
	}
	if cfg.FeeDetector != (common.Address{}) && cfg.Base == (common.Address{}) {
		return nil, fmt.Errorf("%w: the fee detector needs the base token address", ErrConfig)
	}
	if cfg.DetectorAmount == nil || cfg.DetectorAmount.IsZero() {
		cfg.DetectorAmount = DefaultDetectorAmount.Clone()
	}
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = DefaultRequestsPerSecond
	}
	burst := int(rps)
	if burst < 1 {
		burst = 1
	}
	p := &Provider{
		caller:  caller,
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		logger:  logging.Nop(),
		curve:   amm.UniswapV2(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Dial connects to rpcURL and returns a Provider with a closer for the
// underlying client.
func Dial(ctx context.Context, rpcURL string, cfg Config, opts ...Option) (*Provider, func(), error) {
	if rpcURL == "" {
		return nil, nil, fmt.Errorf("%w: rpc url is required", ErrConfig)
	}
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, nil, fmt.Errorf("dial %s: %w", rpcURL, err)
	}
	p, err := NewProvider(client, cfg, opts...)
	if err != nil {
		client.Close()
		return nil, nil, err
	}
	return p, client.Close, nil
}

// call packs method, runs eth_call against to at the latest block and
// unpacks the outputs.
func (p *Provider) call(ctx context.Context, contract abi.ABI, label string, to common.Address, method string, args ...any) ([]any, error) {
	input, err := contract.Pack(method, args...)
	if err != nil {
		return nil, &CallError{Contract: label, Method: method, Err: err}
	}
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, &CallError{Contract: label, Method: method, Err: err}
	}
	out, err := p.caller.CallContract(ctx, ethereum.CallMsg{To: &to, Data: input}, nil)
	if err != nil {
		p.logger.Debug("eth_call failed", "contract", label, "method", method, "error", err)
		return nil, &CallError{Contract: label, Method: method, Err: err}
	}
	values, err := contract.Unpack(method, out)
	if err != nil {
		return nil, &CallError{Contract: label, Method: method, Err: err}
	}
	return values, nil
}

func (p *Provider) callUint(ctx context.Context, contract abi.ABI, label string, to common.Address, method string, args ...any) (*uint256.Int, error) {
	values, err := p.call(ctx, contract, label, to, method, args...)
	if err != nil {
		return nil, err
	}
	return toUint(label, method, values[0])
}

func (p *Provider) callBool(ctx context.Context, method string, args ...any) (bool, error) {
	values, err := p.call(ctx, tokenABI, "token", p.cfg.Token, method, args...)
	if err != nil {
		return false, err
	}
	b, ok := values[0].(bool)
	if !ok {
		return false, &CallError{Contract: "token", Method: method, Err: fmt.Errorf("unexpected output %T", values[0])}
	}
	return b, nil
}

func (p *Provider) callAddress(ctx context.Context, contract abi.ABI, label string, to common.Address, method string) (common.Address, error) {
	values, err := p.call(ctx, contract, label, to, method)
	if err != nil {
		return common.Address{}, err
	}
	a, ok := values[0].(common.Address)
	if !ok {
		return common.Address{}, &CallError{Contract: label, Method: method, Err: fmt.Errorf("unexpected output %T", values[0])}
	}
	return a, nil
}

func toUint(label, method string, v any) (*uint256.Int, error) {
	b, ok := v.(*big.Int)
	if !ok {
		return nil, &CallError{Contract: label, Method: method, Err: fmt.Errorf("unexpected output %T", v)}
	}
	u, overflow := uint256.FromBig(b)
	if overflow {
		return nil, &CallError{Contract: label, Method: method, Err: fmt.Errorf("value %s overflows uint256", b)}
	}
	return u, nil
}

// =============================================================================
// scenario.LedgerProvider
// =============================================================================

func (p *Provider) ReadBalance(ctx context.Context, account common.Address) (*uint256.Int, error) {
	return p.callUint(ctx, tokenABI, "token", p.cfg.Token, "balanceOf", account)
}

// ReadBaseBalance reads the base ERC-20. Zero when no base token is configured.
func (p *Provider) ReadBaseBalance(ctx context.Context, account common.Address) (*uint256.Int, error) {
	if p.cfg.Base == (common.Address{}) {
		return new(uint256.Int), nil
	}
	return p.callUint(ctx, erc20ABI, "base", p.cfg.Base, "balanceOf", account)
}

func (p *Provider) ReadTotalSupply(ctx context.Context) (*uint256.Int, error) {
	return p.callUint(ctx, tokenABI, "token", p.cfg.Token, "totalSupply")
}

// ReadPoolReserves maps getReserves onto (base, token) using the pair's
// token0. token0 never changes, so it is read once.
func (p *Provider) ReadPoolReserves(ctx context.Context, pair common.Address) (engine.Reserves, error) {
	if pair != p.cfg.Pair {
		return engine.Reserves{}, fmt.Errorf("%w: %s", ErrUnknownPair, pair.Hex())
	}
	tokenIs0, err := p.tokenIsToken0(ctx)
	if err != nil {
		return engine.Reserves{}, err
	}
	values, err := p.call(ctx, pairABI, "pair", pair, "getReserves")
	if err != nil {
		return engine.Reserves{}, err
	}
	r0, err := toUint("pair", "getReserves", values[0])
	if err != nil {
		return engine.Reserves{}, err
	}
	r1, err := toUint("pair", "getReserves", values[1])
	if err != nil {
		return engine.Reserves{}, err
	}
	if tokenIs0 {
		return engine.Reserves{Token: r0, Base: r1}, nil
	}
	return engine.Reserves{Token: r1, Base: r0}, nil
}

func (p *Provider) tokenIsToken0(ctx context.Context) (bool, error) {
	p.token0Mu.Lock()
	defer p.token0Mu.Unlock()
	if p.token0Known {
		return p.tokenIs0, nil
	}
	t0, err := p.callAddress(ctx, pairABI, "pair", p.cfg.Pair, "token0")
	if err != nil {
		return false, err
	}
	p.tokenIs0, p.token0Known = t0 == p.cfg.Token, true
	return p.tokenIs0, nil
}

func (p *Provider) ReadLPSupply(ctx context.Context, pair common.Address) (*uint256.Int, error) {
	if pair != p.cfg.Pair {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPair, pair.Hex())
	}
	return p.callUint(ctx, pairABI, "pair", pair, "totalSupply")
}

// ReadPolicy reads burnTax and foundationFee. The pair gate is read
// separately by ReadPairGate.
func (p *Provider) ReadPolicy(ctx context.Context) (engine.TaxPolicy, error) {
	var burn, foundation *uint256.Int
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		burn, err = p.callUint(gctx, tokenABI, "token", p.cfg.Token, "burnTax")
		return err
	})
	g.Go(func() error {
		var err error
		foundation, err = p.callUint(gctx, tokenABI, "token", p.cfg.Token, "foundationFee")
		return err
	})
	if err := g.Wait(); err != nil {
		return engine.TaxPolicy{}, err
	}
	if !burn.IsUint64() || !foundation.IsUint64() {
		return engine.TaxPolicy{}, &engine.PolicyError{BurnBps: burn.Uint64(), FoundationBps: foundation.Uint64()}
	}
	return engine.TaxPolicy{BurnBps: burn.Uint64(), FoundationBps: foundation.Uint64()}, nil
}

func (p *Provider) ReadPairGate(ctx context.Context) (bool, error) {
	return p.callBool(ctx, "pairIsSet")
}

// ReadExclusionState reads the explicit set with getExcludedAddresses and
// the mapping with one isExcludedFromTax call per probe.
func (p *Provider) ReadExclusionState(ctx context.Context, probes []common.Address) (engine.ExclusionState, error) {
	var explicit []common.Address
	mapped := make([]bool, len(probes))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		values, err := p.call(gctx, tokenABI, "token", p.cfg.Token, "getExcludedAddresses")
		if err != nil {
			return err
		}
		list, ok := values[0].([]common.Address)
		if !ok {
			return &CallError{Contract: "token", Method: "getExcludedAddresses", Err: fmt.Errorf("unexpected output %T", values[0])}
		}
		explicit = list
		return nil
	})
	for i, a := range probes {
		g.Go(func() error {
			b, err := p.callBool(gctx, "isExcludedFromTax", a)
			if err != nil {
				return err
			}
			mapped[i] = b
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return engine.ExclusionState{}, err
	}

	state := engine.NewExclusionState(explicit, nil)
	for i, a := range probes {
		state.Mapping[a] = mapped[i]
	}
	return state, nil
}

// ReadTokenStatus implements scenario.ReadinessProvider.
func (p *Provider) ReadTokenStatus(ctx context.Context) (scenario.TokenStatus, error) {
	var st scenario.TokenStatus
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		st.TradingEnabled, err = p.callBool(gctx, "tradingEnabled")
		return err
	})
	g.Go(func() error {
		var err error
		st.Paused, err = p.callBool(gctx, "paused")
		return err
	})
	g.Go(func() error {
		var err error
		st.ContractPair, err = p.callAddress(gctx, tokenABI, "token", p.cfg.Token, "uniswapV2Pair")
		return err
	})
	g.Go(func() error {
		var err error
		st.FoundationWallet, err = p.callAddress(gctx, tokenABI, "token", p.cfg.Token, "foundationWallet")
		return err
	})
	if err := g.Wait(); err != nil {
		return scenario.TokenStatus{}, err
	}
	return st, nil
}

// DetectFeeOnTransfer implements scenario.FeeDetector by calling the
// detector's validate with the pool's base token. configured is false when
// no detector address is set.
func (p *Provider) DetectFeeOnTransfer(ctx context.Context) (scenario.FeeStatus, bool, error) {
	if p.cfg.FeeDetector == (common.Address{}) {
		return scenario.FeeStatusUnknown, false, nil
	}
	values, err := p.call(ctx, detectorABI, "detector", p.cfg.FeeDetector, "validate",
		p.cfg.Token, []common.Address{p.cfg.Base}, p.cfg.DetectorAmount.ToBig())
	if err != nil {
		return scenario.FeeStatusUnknown, true, err
	}
	code, ok := values[0].(uint8)
	if !ok {
		return scenario.FeeStatusUnknown, true, &CallError{Contract: "detector", Method: "validate", Err: fmt.Errorf("unexpected output %T", values[0])}
	}
	return scenario.FeeStatus(code), true, nil
}

// =============================================================================
// scenario.Gateway
// =============================================================================

// QuoteSwap quotes with the Uniswap V2 curve.
func (p *Provider) QuoteSwap(amountIn, reserveIn, reserveOut *uint256.Int) (*uint256.Int, error) {
	return p.curve.QuoteSwap(amountIn, reserveIn, reserveOut)
}

// ExecuteTransfer always returns ErrReadOnly.
func (p *Provider) ExecuteTransfer(context.Context, engine.TransferContext) (scenario.TxResult, error) {
	return scenario.TxResult{}, ErrReadOnly
}
