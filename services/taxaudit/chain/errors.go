// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package chain

import (
	"errors"
	"fmt"
)

var (
	// ErrReadOnly is returned by ExecuteTransfer. The provider never signs
	// or sends transactions.
	ErrReadOnly = errors.New("chain provider is read-only")

	// ErrUnknownPair indicates a read for a pair other than the configured one.
	ErrUnknownPair = errors.New("unknown pair")

	// ErrConfig indicates a missing token, pair or RPC endpoint.
	ErrConfig = errors.New("invalid chain config")
)

// CallError is a failed contract read.
type CallError struct {
	Contract string
	Method   string
	Err      error
}

func (e *CallError) Error() string {
	return fmt.Sprintf("call %s.%s: %v", e.Contract, e.Method, e.Err)
}

func (e *CallError) Unwrap() error { return e.Err }
