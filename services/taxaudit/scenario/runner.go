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
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/AleutianAI/feeaudit/pkg/logging"
	"github.com/AleutianAI/feeaudit/services/taxaudit/engine"
	"github.com/AleutianAI/feeaudit/services/taxaudit/telemetry"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Runner executes scenarios against one ledger and gateway.
//
// Thread Safety: Safe for concurrent use. Scenarios on the same pool are
// serialized.
type Runner struct {
	ledger  LedgerProvider
	gateway Gateway
	cfg     Config
	logger  *logging.Logger
	metrics *telemetry.Metrics

	locksMu sync.Mutex
	locks   map[common.Address]chan struct{}
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the runner's logger. Default: logging.Nop().
func WithLogger(l *logging.Logger) Option {
	return func(r *Runner) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithMetrics enables metric recording.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(r *Runner) { r.metrics = m }
}

// NewRunner creates a Runner.
//
// Inputs:
//
//	ledger - Read-only state source.
//	gateway - Executes the mutating call and quotes swaps.
//	cfg - Pool, foundation wallet, tolerance and timeout.
//
// Outputs:
//
//	*Runner - Ready for use.
//	error - ErrNilLedger, ErrNilGateway or ErrInvalidParams.
func NewRunner(ledger LedgerProvider, gateway Gateway, cfg Config, opts ...Option) (*Runner, error) {
	if ledger == nil {
		return nil, ErrNilLedger
	}
	if gateway == nil {
		return nil, ErrNilGateway
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	r := &Runner{
		ledger:  ledger,
		gateway: gateway,
		cfg:     cfg,
		logger:  logging.Nop(),
		locks:   make(map[common.Address]chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Config returns the runner's configuration.
func (r *Runner) Config() Config { return r.cfg }

// lockPool acquires the pool's lock or gives up when ctx is done.
func (r *Runner) lockPool(ctx context.Context, pool common.Address) (func(), error) {
	r.locksMu.Lock()
	ch, ok := r.locks[pool]
	if !ok {
		ch = make(chan struct{}, 1)
		r.locks[pool] = ch
	}
	r.locksMu.Unlock()

	select {
	case ch <- struct{}{}:
		return func() { <-ch }, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("wait for pool %s: %w", pool.Hex(), ctx.Err())
	}
}

// RunScenario runs one scenario of kind.
//
// Description:
//
//	Reads policy, pair gate and exclusion state (unless pinned), computes
//	the expectation, snapshots, executes the single mutating call,
//	snapshots again, and compares. A revert the expectation predicts is a
//	Match. Any other revert, a transport error, a timeout, or a
//	reconciliation failure is returned as an error together with a
//	Result whose Verdict is Inconclusive.
//
// Inputs:
//
//	ctx - Cancels lock wait, reads and the gateway call.
//	kind - Transfer kind to exercise.
//	params - Trader, amounts, execution mode and optional pins.
//
// Outputs:
//
//	*Result - Always non-nil once parameters validate.
//	error - ErrInvalidParams, *GatewayError, *TimeoutError,
//	        *engine.ReconciliationError or a read failure.
//
// Thread Safety: Serialized per pool.
func (r *Runner) RunScenario(ctx context.Context, kind engine.TransferKind, params Params) (*Result, error) {
	tc, err := r.transferContext(kind, params)
	if err != nil {
		return nil, err
	}

	unlock, err := r.lockPool(ctx, r.cfg.Pair)
	if err != nil {
		return nil, err
	}
	defer unlock()

	return r.run(ctx, tc, params)
}

func (r *Runner) run(ctx context.Context, tc engine.TransferContext, params Params) (*Result, error) {
	res := &Result{
		ID:        uuid.New(),
		Kind:      tc.Kind,
		Context:   tc,
		StartedAt: time.Now(),
		Verdict:   engine.VerdictInconclusive,
	}
	log := r.logger.With("run_id", res.ID.String(), "kind", tc.Kind.String(), "pool", r.cfg.Pair.Hex())

	ctx, span := telemetry.StartSpan(ctx, "scenario.run", trace.WithAttributes(
		attribute.String("scenario.id", res.ID.String()),
		attribute.String("scenario.kind", tc.Kind.String()),
		attribute.Bool("scenario.fee_aware", tc.FeeAware),
	))
	defer span.End()

	fail := func(err error) (*Result, error) {
		res.Verdict = engine.VerdictInconclusive
		res.Error = err.Error()
		res.Duration = time.Since(res.StartedAt)
		telemetry.RecordError(span, err)
		r.metrics.RecordScenario(ctx, tc.Kind.String(), res.Verdict.String(), res.Duration)
		log.Warn("scenario inconclusive", "error", err)
		return res, err
	}

	state, err := r.readState(ctx, tc, params.Pins)
	if err != nil {
		return fail(fmt.Errorf("read state: %w", err))
	}
	res.State = state

	exp, err := engine.Expect(tc, state, r.gateway)
	if err != nil {
		return fail(fmt.Errorf("compute expectation: %w", err))
	}
	res.Expected = exp
	log.Debug("expectation computed",
		"gross", exp.Gross.Dec(),
		"net", exp.Net.Dec(),
		"taxable", exp.Taxable,
		"tag", exp.Tag.String(),
		"revert_proven", exp.RevertProven,
	)

	accounts := engine.AccountsFor(tc, r.cfg.Foundation, params.Trader)
	before, err := r.snapshot(ctx, accounts, params.Trader)
	if err != nil {
		return fail(fmt.Errorf("snapshot before: %w", err))
	}
	res.Before = &before

	tx, err := r.execute(ctx, tc)
	res.Tx = tx
	if err != nil {
		return fail(err)
	}

	if !tx.Success {
		cmp, ok := engine.ResolveRevert(exp, tx.RevertReason)
		if !ok {
			r.metrics.RecordGatewayError(ctx, tc.Kind.String(), "revert")
			return fail(&GatewayError{Kind: tc.Kind, Reason: tx.RevertReason, TxID: tx.TxID})
		}
		res.Comparison = cmp
		return r.finish(ctx, span, log, res)
	}

	after, err := r.snapshot(ctx, accounts, params.Trader)
	if err != nil {
		return fail(fmt.Errorf("snapshot after: %w", err))
	}
	res.After = &after

	obs, err := engine.Diff(before, after, accounts)
	if err != nil {
		r.metrics.RecordReconciliationError(ctx, tc.Kind.String())
		return fail(err)
	}
	res.Observed = &obs
	res.ObservedRates = engine.ObservedRates(obs.Outcome)
	res.Comparison = engine.Compare(exp, obs, r.cfg.ToleranceBps)
	return r.finish(ctx, span, log, res)
}

func (r *Runner) finish(ctx context.Context, span trace.Span, log *logging.Logger, res *Result) (*Result, error) {
	res.Verdict = res.Comparison.Verdict
	res.Duration = time.Since(res.StartedAt)

	span.SetAttributes(
		attribute.String("scenario.verdict", res.Verdict.String()),
		attribute.Bool("scenario.tax_observed", res.Comparison.TaxObserved),
	)
	telemetry.SetSpanOK(span)
	r.metrics.RecordScenario(ctx, res.Kind.String(), res.Verdict.String(), res.Duration)

	args := []any{
		"verdict", res.Verdict.String(),
		"tax_observed", res.Comparison.TaxObserved,
		"reverted", res.Comparison.Reverted,
		"duration_ms", res.Duration.Milliseconds(),
	}
	if res.Comparison.Note != "" {
		args = append(args, "note", res.Comparison.Note)
	}
	log.Info("scenario finished", args...)
	return res, nil
}

// execute runs the gateway call under the scenario timeout.
func (r *Runner) execute(ctx context.Context, tc engine.TransferContext) (TxResult, error) {
	ctx, span := telemetry.StartSpan(ctx, "scenario.gateway")
	defer span.End()

	callCtx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	tx, err := r.gateway.ExecuteTransfer(callCtx, tc)
	if err == nil {
		return tx, nil
	}

	var out error
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		r.metrics.RecordGatewayError(ctx, tc.Kind.String(), "timeout")
		out = &TimeoutError{Kind: tc.Kind, Timeout: r.cfg.Timeout}
	} else {
		r.metrics.RecordGatewayError(ctx, tc.Kind.String(), "transport")
		out = &GatewayError{Kind: tc.Kind, Err: err}
	}
	telemetry.RecordError(span, out)
	return tx, out
}

// transferContext maps params to the token leg of kind.
func (r *Runner) transferContext(kind engine.TransferKind, p Params) (engine.TransferContext, error) {
	if p.Amount == nil || p.Amount.IsZero() {
		return engine.TransferContext{}, fmt.Errorf("%w: amount must be positive", ErrInvalidParams)
	}
	if p.Trader == (common.Address{}) {
		return engine.TransferContext{}, fmt.Errorf("%w: trader is required", ErrInvalidParams)
	}
	if p.Trader == r.cfg.Pair || p.Trader == r.cfg.Foundation {
		return engine.TransferContext{}, fmt.Errorf("%w: trader must not be the pair or the foundation wallet", ErrInvalidParams)
	}
	if r.cfg.Router != (common.Address{}) && p.Trader == r.cfg.Router {
		return engine.TransferContext{}, fmt.Errorf("%w: trader must not be the router", ErrInvalidParams)
	}

	tc := engine.TransferContext{
		AmountGross: p.Amount.Clone(),
		Kind:        kind,
		Pair:        r.cfg.Pair,
		FeeAware:    p.FeeAware,
	}
	switch kind {
	case engine.PeerTransfer:
		if p.Counterparty == (common.Address{}) || p.Counterparty == p.Trader {
			return engine.TransferContext{}, fmt.Errorf("%w: peer transfer needs a distinct counterparty", ErrInvalidParams)
		}
		if p.Counterparty == r.cfg.Pair || p.Counterparty == r.cfg.Foundation {
			return engine.TransferContext{}, fmt.Errorf("%w: peer transfer counterparty must not be the pair or the foundation wallet", ErrInvalidParams)
		}
		tc.From, tc.To = p.Trader, p.Counterparty
	case engine.Buy:
		tc.From, tc.To = r.cfg.Pair, p.Trader
	case engine.RemoveLiquidity:
		tc.From, tc.To, tc.Via = r.cfg.Pair, p.Trader, r.cfg.Router
	case engine.Sell:
		tc.From, tc.To = p.Trader, r.cfg.Pair
	case engine.AddLiquidity:
		if p.BaseAmount == nil || p.BaseAmount.IsZero() {
			return engine.TransferContext{}, fmt.Errorf("%w: deposit needs a base amount", ErrInvalidParams)
		}
		tc.From, tc.To = p.Trader, r.cfg.Pair
		tc.BaseAmount = p.BaseAmount.Clone()
	default:
		return engine.TransferContext{}, fmt.Errorf("%w: %s", engine.ErrUnknownKind, kind)
	}
	return tc, nil
}

// RunFullDiagnostic runs a buy and then a sell and diagnoses the pair.
//
// Description:
//
//	Readiness findings are recorded but never stop the run. Both scenarios
//	hold the pool lock for the whole diagnostic so no other scenario can
//	land between them. If either scenario fails, the partial report is
//	returned with the error.
//
// Outputs:
//
//	*FullReport - Non-nil once parameters validate.
//	error - Propagated from either scenario.
func (r *Runner) RunFullDiagnostic(ctx context.Context, p DiagnosticParams) (*FullReport, error) {
	if p.BuyAmount == nil || p.BuyAmount.IsZero() {
		return nil, fmt.Errorf("%w: buy amount must be positive", ErrInvalidParams)
	}

	report := &FullReport{
		ID:        uuid.New(),
		CreatedAt: time.Now().UTC(),
		Pair:      r.cfg.Pair,
		Trader:    p.Trader,
		RoundTrip: engine.VerdictInconclusive,
		Diagnosis: engine.Diagnosis{Verdict: engine.UnexplainedDivergence},
	}
	log := r.logger.With("report_id", report.ID.String(), "pool", r.cfg.Pair.Hex())

	ctx, span := telemetry.StartSpan(ctx, "scenario.full_diagnostic")
	defer span.End()

	unlock, err := r.lockPool(ctx, r.cfg.Pair)
	if err != nil {
		return nil, err
	}
	defer unlock()

	findings, err := r.CheckReadiness(ctx)
	if err != nil {
		log.Warn("readiness check failed", "error", err)
	}
	report.Readiness = findings

	var pins *Pins
	if p.PinState {
		policy, exclusion, err := r.readPolicyAndExclusion(ctx, r.probes(p.Trader))
		if err != nil {
			return report, fmt.Errorf("pin state: %w", err)
		}
		pins = &Pins{Policy: &policy, Exclusion: &exclusion}
	}

	buyTC, err := r.transferContext(engine.Buy, Params{Trader: p.Trader, Amount: p.BuyAmount})
	if err != nil {
		return report, err
	}
	buy, err := r.run(ctx, buyTC, Params{Trader: p.Trader, Pins: pins})
	report.Buy = buy
	if err != nil {
		telemetry.RecordError(span, err)
		return report, fmt.Errorf("buy scenario: %w", err)
	}

	sellAmount := p.SellAmount
	if sellAmount == nil {
		sellAmount = buy.Expected.Net
		if buy.Observed != nil {
			sellAmount = buy.Observed.Net
		}
	}
	sellTC, err := r.transferContext(engine.Sell, Params{Trader: p.Trader, Amount: sellAmount, FeeAware: !p.NaiveSell})
	if err != nil {
		return report, err
	}
	sell, err := r.run(ctx, sellTC, Params{Trader: p.Trader, Pins: pins})
	report.Sell = sell
	if err != nil {
		telemetry.RecordError(span, err)
		return report, fmt.Errorf("sell scenario: %w", err)
	}

	report.Policy = buy.State.Policy
	report.Exclusion = buy.State.Exclusion
	report.RoundTrip = engine.CompareRoundTrip(buy.Comparison, sell.Comparison)
	facts := engine.FactsFrom(r.cfg.Pair, report.Exclusion, report.Policy, buy.Comparison, sell.Comparison)
	report.Diagnosis = engine.Diagnose(facts)
	report.Duration = time.Since(report.CreatedAt)

	span.SetAttributes(attribute.String("diagnosis", report.Diagnosis.Verdict.String()))
	telemetry.SetSpanOK(span)
	r.metrics.RecordDiagnosis(ctx, report.Diagnosis.Verdict.String())
	log.Info("diagnostic finished",
		"diagnosis", report.Diagnosis.Verdict.String(),
		"round_trip", report.RoundTrip.String(),
		"buy", buy.Verdict.String(),
		"sell", sell.Verdict.String(),
	)
	return report, nil
}

// Inspect diagnoses the pair from on-chain state alone, without executing
// anything. Useful against a live token where the caller cannot trade.
func (r *Runner) Inspect(ctx context.Context, trader common.Address) (*Inspection, error) {
	ctx, span := telemetry.StartSpan(ctx, "scenario.inspect")
	defer span.End()

	policy, exclusion, err := r.readPolicyAndExclusion(ctx, r.probes(trader))
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	findings, err := r.CheckReadiness(ctx)
	if err != nil {
		r.logger.Warn("readiness check failed", "error", err)
	}

	return &Inspection{
		Pair:      r.cfg.Pair,
		Trader:    trader,
		Policy:    policy,
		Exclusion: exclusion,
		Readiness: findings,
		Diagnosis: engine.Diagnose(engine.PredictedFacts(r.cfg.Pair, trader, exclusion, policy)),
	}, nil
}

// probes lists the addresses whose mapping flag must be read.
func (r *Runner) probes(extra ...common.Address) []common.Address {
	seen := make(map[common.Address]struct{})
	var out []common.Address
	add := func(a common.Address) {
		if a == (common.Address{}) {
			return
		}
		if _, ok := seen[a]; !ok {
			seen[a] = struct{}{}
			out = append(out, a)
		}
	}
	add(r.cfg.Pair)
	add(r.cfg.Foundation)
	add(r.cfg.Router)
	for _, a := range extra {
		add(a)
	}
	for _, a := range r.cfg.Probes {
		add(a)
	}
	return out
}

// zeroIfNil is used for amounts read from providers that may return nil
// for empty accounts.
func zeroIfNil(v *uint256.Int) *uint256.Int {
	if v == nil {
		return new(uint256.Int)
	}
	return v
}
