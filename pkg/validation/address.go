// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package validation checks user-provided addresses and amounts before they
// reach a ledger, an eth_call or the report store.
//
// Config files, CLI flags and HTTP requests all funnel through these
// functions, so a malformed value fails with the same message everywhere.
package validation

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// addressPattern matches a 20-byte hex address with the 0x prefix.
// Mixed case is accepted; the EIP-55 checksum is not enforced.
var addressPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)

// amountPattern matches a base-10 integer amount in the token's smallest
// unit. 78 digits is the width of 2^256-1.
var amountPattern = regexp.MustCompile(`^[0-9]{1,78}$`)

// ValidateAddress checks that s is a 0x-prefixed 20-byte hex address.
//
// Example:
//
//	if err := validation.ValidateAddress(pair); err != nil {
//	    return fmt.Errorf("invalid pair: %w", err)
//	}
func ValidateAddress(s string) error {
	if s == "" {
		return fmt.Errorf("address cannot be empty")
	}
	if !addressPattern.MatchString(s) {
		return fmt.Errorf("invalid address format: %q (must be 0x followed by 40 hex chars)", s)
	}
	return nil
}

// ValidateAddresses validates multiple addresses.
// Returns an error listing all invalid addresses if any fail validation.
func ValidateAddresses(addrs []string) error {
	var invalid []string
	for _, a := range addrs {
		if err := ValidateAddress(a); err != nil {
			invalid = append(invalid, a)
		}
	}

	if len(invalid) > 0 {
		return fmt.Errorf("invalid addresses: %v", invalid)
	}
	return nil
}

// ParseAddress trims, validates and converts s. The zero address is
// rejected: no contract or wallet under audit lives there.
func ParseAddress(s string) (common.Address, error) {
	trimmed := strings.TrimSpace(s)
	if err := ValidateAddress(trimmed); err != nil {
		return common.Address{}, err
	}
	addr := common.HexToAddress(trimmed)
	if addr == (common.Address{}) {
		return common.Address{}, fmt.Errorf("zero address is not allowed")
	}
	return addr, nil
}

// ParseAddresses converts every entry of addrs, failing on the first bad one.
func ParseAddresses(addrs []string) ([]common.Address, error) {
	out := make([]common.Address, 0, len(addrs))
	for _, s := range addrs {
		a, err := ParseAddress(s)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

// ParseAmount converts a base-10 integer string into a uint256.
//
// Signs, decimal points, exponents and hex are rejected; amounts are always
// written in the smallest unit.
func ParseAmount(s string) (*uint256.Int, error) {
	trimmed := strings.TrimSpace(s)
	if !amountPattern.MatchString(trimmed) {
		return nil, fmt.Errorf("invalid amount: %q (must be a base-10 integer)", s)
	}
	v, err := uint256.FromDecimal(trimmed)
	if err != nil {
		return nil, fmt.Errorf("invalid amount: %q: %w", s, err)
	}
	return v, nil
}
