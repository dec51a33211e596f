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
	"errors"
	"fmt"
	"time"

	"github.com/AleutianAI/feeaudit/services/taxaudit/engine"
)

var (
	// ErrGateway is wrapped by every GatewayError.
	ErrGateway = errors.New("gateway error")

	// ErrTimeout is wrapped by every TimeoutError.
	ErrTimeout = errors.New("gateway call timed out")

	// ErrInvalidParams indicates missing or inconsistent scenario parameters.
	ErrInvalidParams = errors.New("invalid scenario parameters")

	// ErrNilLedger indicates a runner was built without a ledger provider.
	ErrNilLedger = errors.New("ledger provider must not be nil")

	// ErrNilGateway indicates a runner was built without a gateway.
	ErrNilGateway = errors.New("gateway must not be nil")
)

// GatewayError is a gateway failure the expectation did not predict: a
// revert with an unexpected reason, or a transport error.
type GatewayError struct {
	Kind engine.TransferKind

	// Reason is the revert reason, empty for transport errors.
	Reason string

	// TxID is the reverted transaction, when known.
	TxID string

	// Err is the underlying transport error, nil for reverts.
	Err error
}

func (e *GatewayError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("gateway %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("gateway %s: reverted: %s", e.Kind, e.Reason)
}

// Unwrap returns both ErrGateway and the transport error.
func (e *GatewayError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrGateway, e.Err}
	}
	return []error{ErrGateway}
}

// IsRevert reports whether the transaction was included and reverted.
func (e *GatewayError) IsRevert() bool {
	return e.Err == nil
}

// IsInvariantViolation reports whether the revert came from the pair's
// constant-product check.
func (e *GatewayError) IsInvariantViolation() bool {
	return e.IsRevert() && engine.IsInvariantViolation(e.Reason)
}

// TimeoutError indicates the gateway call did not complete within the
// scenario timeout. The scenario is Inconclusive, never Mismatch.
type TimeoutError struct {
	Kind    engine.TransferKind
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("gateway %s: no confirmation within %s", e.Kind, e.Timeout)
}

func (e *TimeoutError) Unwrap() error { return ErrTimeout }
