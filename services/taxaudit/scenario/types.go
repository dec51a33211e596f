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
	"fmt"
	"time"

	"github.com/AleutianAI/feeaudit/services/taxaudit/engine"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// DefaultTimeout bounds a gateway call when Config.Timeout is zero.
const DefaultTimeout = 2 * time.Minute

// Config is fixed for the life of a Runner.
type Config struct {
	// Pair is the pool under test.
	Pair common.Address

	// Foundation is the wallet receiving foundation fees.
	Foundation common.Address

	// Router is the pool's router. A liquidity removal pays the token leg
	// to it before forwarding, so its exclusion status decides that leg.
	// Zero classifies removals as paid straight to the trader.
	Router common.Address

	// ToleranceBps is the allowed drift per component, in bps of gross.
	ToleranceBps uint64

	// Timeout bounds each gateway call.
	Timeout time.Duration

	// Probes are extra addresses whose mapping flag is read with every
	// exclusion read (owner, ...). Pair, router, trader and foundation are
	// always probed.
	Probes []common.Address
}

func (c Config) validate() error {
	if c.Pair == (common.Address{}) {
		return fmt.Errorf("%w: pair address is required", ErrInvalidParams)
	}
	if c.Foundation == (common.Address{}) {
		return fmt.Errorf("%w: foundation address is required", ErrInvalidParams)
	}
	if c.Foundation == c.Pair {
		return fmt.Errorf("%w: foundation and pair must differ", ErrInvalidParams)
	}
	if c.Router != (common.Address{}) && (c.Router == c.Pair || c.Router == c.Foundation) {
		return fmt.Errorf("%w: router must differ from the pair and the foundation wallet", ErrInvalidParams)
	}
	if c.ToleranceBps > engine.BpsDenominator {
		return fmt.Errorf("%w: tolerance %d bps exceeds %d", ErrInvalidParams, c.ToleranceBps, engine.BpsDenominator)
	}
	return nil
}

// Pins fix policy and exclusion state for a batch of scenarios. A nil field
// is read fresh.
type Pins struct {
	Policy    *engine.TaxPolicy
	Exclusion *engine.ExclusionState
}

// Params are the inputs of a single scenario.
type Params struct {
	// Trader is the wallet under test. For a peer transfer it is the sender.
	Trader common.Address

	// Counterparty receives a peer transfer. Unused for other kinds.
	Counterparty common.Address

	// Amount is tokens for peer transfers and sells, base asset paid in for
	// buys, tokens desired for deposits, and LP tokens for removals.
	Amount *uint256.Int

	// BaseAmount is the base asset offered with a deposit.
	BaseAmount *uint256.Int

	// FeeAware selects the supporting-fee-on-transfer router path.
	FeeAware bool

	Pins *Pins
}

// Result is the outcome of one scenario.
type Result struct {
	ID        uuid.UUID
	Kind      engine.TransferKind
	Context   engine.TransferContext
	State     engine.State
	Expected  engine.Expectation
	Tx        TxResult
	StartedAt time.Time
	Duration  time.Duration

	// Before and After are nil when the scenario ended without an after
	// snapshot (revert or error).
	Before *engine.LedgerSnapshot
	After  *engine.LedgerSnapshot

	// Observed is nil when the operation reverted or was aborted.
	Observed *engine.Observed

	// ObservedRates is filled when Observed is.
	ObservedRates engine.Rates

	Comparison engine.Comparison
	Verdict    engine.Verdict

	// Error is the propagated error text for Inconclusive results.
	Error string
}

// Finding is one readiness check.
type Finding struct {
	Check  string `json:"check"`
	OK     bool   `json:"ok"`
	Detail string `json:"detail"`
}

// DiagnosticParams are the inputs of a full buy/sell diagnostic.
type DiagnosticParams struct {
	Trader common.Address

	// BuyAmount is the base asset paid in by the buy.
	BuyAmount *uint256.Int

	// SellAmount is the tokens sold. When nil, the net tokens received by
	// the buy are sold.
	SellAmount *uint256.Int

	// NaiveSell selects the non-fee-aware router path for the sell. Under a
	// nonzero tax that sell is expected to revert on the K check.
	NaiveSell bool

	// PinState reads policy and exclusion state once and uses it for both
	// scenarios.
	PinState bool
}

// FullReport is the outcome of a full diagnostic.
type FullReport struct {
	ID        uuid.UUID
	CreatedAt time.Time
	Pair      common.Address
	Trader    common.Address
	Policy    engine.TaxPolicy
	Exclusion engine.ExclusionState
	Readiness []Finding
	Buy       *Result
	Sell      *Result
	RoundTrip engine.Verdict
	Diagnosis engine.Diagnosis
	Duration  time.Duration
}

// Inspection is a static, read-only diagnosis: what the classifier predicts
// for a buy and a sell given the current on-chain state.
type Inspection struct {
	Pair      common.Address
	Trader    common.Address
	Policy    engine.TaxPolicy
	Exclusion engine.ExclusionState
	Readiness []Finding
	Diagnosis engine.Diagnosis
}
