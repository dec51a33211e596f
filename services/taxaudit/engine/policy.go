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
	"github.com/holiman/uint256"
)

// BpsDenominator is 100% expressed in basis points.
const BpsDenominator = 10000

var bpsDenominator = uint256.NewInt(BpsDenominator)

// TaxPolicy mirrors the token's on-chain tax configuration. It is read fresh
// before each scenario and never mutated by the engine.
type TaxPolicy struct {
	BurnBps         uint64 `json:"burn_bps" yaml:"burn_bps"`
	FoundationBps   uint64 `json:"foundation_bps" yaml:"foundation_bps"`
	PairGateEnabled bool   `json:"pair_gate_enabled" yaml:"pair_gate_enabled"`
}

// TotalBps is the combined tax rate.
func (p TaxPolicy) TotalBps() uint64 {
	return p.BurnBps + p.FoundationBps
}

// Validate enforces BurnBps + FoundationBps <= 10000.
func (p TaxPolicy) Validate() error {
	// Checked separately so a huge BurnBps cannot wrap the sum.
	if p.BurnBps > BpsDenominator || p.FoundationBps > BpsDenominator || p.TotalBps() > BpsDenominator {
		return &PolicyError{BurnBps: p.BurnBps, FoundationBps: p.FoundationBps}
	}
	return nil
}

// Split is the result of applying a policy to a gross amount.
type Split struct {
	Burn       *uint256.Int
	Foundation *uint256.Int
	Net        *uint256.Int
}

// Total returns Burn + Foundation + Net. It always equals the gross amount
// the split was computed from.
func (s Split) Total() *uint256.Int {
	t := new(uint256.Int).Add(s.Burn, s.Foundation)
	return t.Add(t, s.Net)
}

// ComputeSplit divides amountGross into burn, foundation and net parts.
//
// Description:
//
//	burn       = floor(amountGross * BurnBps / 10000)
//	foundation = floor(amountGross * FoundationBps / 10000)
//	net        = amountGross - burn - foundation
//
//	Each part is truncated independently, exactly as the token contract does,
//	so the rounding remainder always lands in net.
//
// Inputs:
//
//	amountGross - Amount leaving the sender. Must not be nil.
//	policy - Tax policy. PairGateEnabled is ignored here.
//
// Outputs:
//
//	Split - Parts summing to amountGross.
//	error - *PolicyError if the policy is invalid, ErrNilAmount if amountGross is nil.
//
// Example:
//
//	split, _ := ComputeSplit(uint256.NewInt(1000), TaxPolicy{BurnBps: 125, FoundationBps: 125})
//	// split.Burn = 12, split.Foundation = 12, split.Net = 976
func ComputeSplit(amountGross *uint256.Int, policy TaxPolicy) (Split, error) {
	if amountGross == nil {
		return Split{}, ErrNilAmount
	}
	if err := policy.Validate(); err != nil {
		return Split{}, err
	}

	burn := mulBps(amountGross, policy.BurnBps)
	foundation := mulBps(amountGross, policy.FoundationBps)

	// burn + foundation <= amountGross because the bps sum is at most 10000.
	net := new(uint256.Int).Sub(amountGross, burn)
	net.Sub(net, foundation)

	return Split{Burn: burn, Foundation: foundation, Net: net}, nil
}

// mulBps computes floor(x * bps / 10000) with a 512-bit intermediate, so any
// uint256 amount is safe.
func mulBps(x *uint256.Int, bps uint64) *uint256.Int {
	if bps == 0 || x.IsZero() {
		return new(uint256.Int)
	}
	z, _ := new(uint256.Int).MulDivOverflow(x, uint256.NewInt(bps), bpsDenominator)
	return z
}

// BpsOf returns floor(part * 10000 / total), or 0 when total is zero.
func BpsOf(part, total *uint256.Int) uint64 {
	if total == nil || total.IsZero() || part == nil {
		return 0
	}
	z, _ := new(uint256.Int).MulDivOverflow(part, bpsDenominator, total)
	return z.Uint64()
}
