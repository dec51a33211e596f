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
	"errors"
	"fmt"
)

// Sentinel errors for the engine.
var (
	// ErrInvalidPolicy indicates burn and foundation bps sum above 10000.
	ErrInvalidPolicy = errors.New("invalid tax policy")

	// ErrNilAmount indicates a required amount was not supplied.
	ErrNilAmount = errors.New("amount is nil")

	// ErrUnknownKind indicates a transfer kind outside the modeled set.
	ErrUnknownKind = errors.New("unknown transfer kind")

	// ErrNoQuoter indicates an AMM kind was requested without a quote function.
	ErrNoQuoter = errors.New("quoter is required for AMM transfers")

	// ErrReconciliation is wrapped by every ReconciliationError.
	ErrReconciliation = errors.New("snapshot reconciliation failed")
)

// PolicyError reports a tax policy that cannot be applied.
type PolicyError struct {
	BurnBps       uint64
	FoundationBps uint64
}

func (e *PolicyError) Error() string {
	return fmt.Sprintf("invalid tax policy: burn %d bps + foundation %d bps exceeds %d",
		e.BurnBps, e.FoundationBps, BpsDenominator)
}

// Unwrap lets errors.Is match ErrInvalidPolicy.
func (e *PolicyError) Unwrap() error { return ErrInvalidPolicy }

// ReconciliationError reports snapshot deltas that no modeled expectation can
// produce, such as a receiver whose balance went down.
type ReconciliationError struct {
	// Account is the account whose delta could not be explained. Empty for
	// supply-level problems.
	Account string

	// Reason describes the inconsistency.
	Reason string
}

func (e *ReconciliationError) Error() string {
	if e.Account == "" {
		return fmt.Sprintf("reconciliation: %s", e.Reason)
	}
	return fmt.Sprintf("reconciliation: %s: %s", e.Account, e.Reason)
}

// Unwrap lets errors.Is match ErrReconciliation.
func (e *ReconciliationError) Unwrap() error { return ErrReconciliation }
