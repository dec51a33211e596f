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
	"fmt"

	"github.com/AleutianAI/feeaudit/services/taxaudit/engine"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// LedgerProvider reads token and pool state. Every method is read-only.
type LedgerProvider interface {
	// ReadBalance returns the token balance of account.
	ReadBalance(ctx context.Context, account common.Address) (*uint256.Int, error)

	// ReadBaseBalance returns the base-asset balance of account.
	ReadBaseBalance(ctx context.Context, account common.Address) (*uint256.Int, error)

	// ReadTotalSupply returns the token's total supply.
	ReadTotalSupply(ctx context.Context) (*uint256.Int, error)

	// ReadPoolReserves returns the pair's synced reserves, ordered as
	// (base, token) regardless of the pair's token0.
	ReadPoolReserves(ctx context.Context, pair common.Address) (engine.Reserves, error)

	// ReadLPSupply returns the pair's LP token supply.
	ReadLPSupply(ctx context.Context, pair common.Address) (*uint256.Int, error)

	// ReadPolicy returns the declared burn and foundation bps.
	// PairGateEnabled is not filled in; see ReadPairGate.
	ReadPolicy(ctx context.Context) (engine.TaxPolicy, error)

	// ReadPairGate returns whether the token's pair gate is set.
	ReadPairGate(ctx context.Context) (bool, error)

	// ReadExclusionState returns the full explicit set and the mapping
	// flag for every probe address. Both mechanisms are returned as read;
	// the provider must not merge them.
	ReadExclusionState(ctx context.Context, probes []common.Address) (engine.ExclusionState, error)
}

// TokenStatus is the token's operational state used by readiness checks.
type TokenStatus struct {
	TradingEnabled bool
	Paused         bool

	// ContractPair is the pair address the token itself has recorded.
	ContractPair common.Address

	// FoundationWallet is the wallet the token pays foundation fees to.
	FoundationWallet common.Address
}

// ReadinessProvider is implemented by ledgers that can report operational
// status. The runner skips readiness checks when the ledger lacks it.
type ReadinessProvider interface {
	ReadTokenStatus(ctx context.Context) (TokenStatus, error)
}

// FeeStatus is the verdict of a fee-on-transfer detector: the status codes
// of Uniswap's FeeOnTransferDetector.validate.
type FeeStatus uint8

const (
	// FeeStatusUnknown means no fee was detected.
	FeeStatusUnknown FeeStatus = iota
	FeeStatusFeeOnTransfer
	FeeStatusTransferFailed
)

func (s FeeStatus) String() string {
	switch s {
	case FeeStatusUnknown:
		return "unknown"
	case FeeStatusFeeOnTransfer:
		return "fee_on_transfer"
	case FeeStatusTransferFailed:
		return "transfer_failed"
	default:
		return fmt.Sprintf("fee_status(%d)", uint8(s))
	}
}

// FeeDetector is implemented by ledgers that can ask a fee-on-transfer
// detector about the token, the check routers and wallets use to pick the
// fee-aware swap path. configured is false when no detector is available.
type FeeDetector interface {
	DetectFeeOnTransfer(ctx context.Context) (status FeeStatus, configured bool, err error)
}

// TxResult is the outcome of one submitted operation.
type TxResult struct {
	Success bool `json:"success"`

	// RevertReason is set when Success is false.
	RevertReason string `json:"revert_reason,omitempty"`

	// TxID identifies the transaction, when the gateway has one.
	TxID string `json:"tx_id,omitempty"`
}

// Gateway submits the one mutating operation of a scenario.
//
// ExecuteTransfer returns a TxResult with Success false and a nil error
// for a transaction that was included and reverted. A non-nil error means
// the outcome is unknown: transport failure, or ctx expired before
// inclusion.
//
// QuoteSwap is the pool's constant-product quote; the runner computes
// expectations with it so that prediction and execution share a formula.
type Gateway interface {
	ExecuteTransfer(ctx context.Context, tc engine.TransferContext) (TxResult, error)
	engine.Quoter
}
