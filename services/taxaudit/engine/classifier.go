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
	"bytes"
	"sort"

	"github.com/ethereum/go-ethereum/common"
)

// ExclusionState holds the token's two exclusion mechanisms side by side.
//
// ExplicitSet mirrors the enumerable excluded-address set; Mapping mirrors
// the per-address boolean flag. They are sourced independently and must not
// be merged: an address present in one but not the other is exactly the
// divergence the diagnostic exists to find.
type ExclusionState struct {
	ExplicitSet map[common.Address]struct{}
	Mapping     map[common.Address]bool
}

// NewExclusionState builds a state from an explicit set listing and the
// mapping entries known to be true.
func NewExclusionState(explicit []common.Address, mapped []common.Address) ExclusionState {
	s := ExclusionState{
		ExplicitSet: make(map[common.Address]struct{}, len(explicit)),
		Mapping:     make(map[common.Address]bool, len(mapped)),
	}
	for _, a := range explicit {
		s.ExplicitSet[a] = struct{}{}
	}
	for _, a := range mapped {
		s.Mapping[a] = true
	}
	return s
}

// InExplicitSet reports membership in the explicit set.
func (e ExclusionState) InExplicitSet(a common.Address) bool {
	_, ok := e.ExplicitSet[a]
	return ok
}

// InMapping reports the mapping flag. Missing entries read as false, like an
// unset Solidity mapping slot.
func (e ExclusionState) InMapping(a common.Address) bool {
	return e.Mapping[a]
}

// Excluded reports whether either mechanism exempts a.
func (e ExclusionState) Excluded(a common.Address) bool {
	return e.InExplicitSet(a) || e.InMapping(a)
}

// Clone returns a deep copy.
func (e ExclusionState) Clone() ExclusionState {
	c := ExclusionState{
		ExplicitSet: make(map[common.Address]struct{}, len(e.ExplicitSet)),
		Mapping:     make(map[common.Address]bool, len(e.Mapping)),
	}
	for a := range e.ExplicitSet {
		c.ExplicitSet[a] = struct{}{}
	}
	for a, v := range e.Mapping {
		c.Mapping[a] = v
	}
	return c
}

// ExplicitList returns the explicit set sorted by address, for stable output.
func (e ExclusionState) ExplicitList() []common.Address {
	out := make([]common.Address, 0, len(e.ExplicitSet))
	for a := range e.ExplicitSet {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i][:], out[j][:]) < 0 })
	return out
}

// MappedList returns addresses whose mapping flag is true, sorted.
func (e ExclusionState) MappedList() []common.Address {
	out := make([]common.Address, 0, len(e.Mapping))
	for a, v := range e.Mapping {
		if v {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i][:], out[j][:]) < 0 })
	return out
}

// EndpointStatus is the exclusion status of one transfer endpoint.
type EndpointStatus struct {
	Address       common.Address
	InExplicitSet bool
	InMapping     bool
}

// Exempt reports whether either mechanism exempts the endpoint.
func (s EndpointStatus) Exempt() bool {
	return s.InExplicitSet || s.InMapping
}

// Classification is the full breakdown behind IsTaxable.
type Classification struct {
	PairGate    bool
	TouchesPair bool
	From        EndpointStatus
	To          EndpointStatus
	Taxable     bool
}

// Classify evaluates the token's tax predicate for ctx.
//
// Description:
//
//	Tax applies iff the pair gate is enabled, one endpoint is the pair, and
//	for both endpoints the address is absent from the explicit set AND the
//	mapping flag is false. The four exclusion booleans are read separately
//	and combined with a plain AND.
//
// Inputs:
//
//	ctx - Transfer under test. Kind is not consulted. The receiving
//	      endpoint is ctx.LegRecipient(), so a removal paid to the router
//	      is judged on the router.
//	policy - Only PairGateEnabled is used.
//	exclusion - Snapshot of both exclusion mechanisms.
//
// Outputs:
//
//	Classification - Per-endpoint status and the final decision.
//
// Thread Safety: Pure function; repeated calls on the same inputs return
// identical results.
func Classify(ctx TransferContext, policy TaxPolicy, exclusion ExclusionState) Classification {
	to := ctx.LegRecipient()
	c := Classification{
		PairGate:    policy.PairGateEnabled,
		TouchesPair: ctx.TouchesPair(),
		From: EndpointStatus{
			Address:       ctx.From,
			InExplicitSet: exclusion.InExplicitSet(ctx.From),
			InMapping:     exclusion.InMapping(ctx.From),
		},
		To: EndpointStatus{
			Address:       to,
			InExplicitSet: exclusion.InExplicitSet(to),
			InMapping:     exclusion.InMapping(to),
		},
	}
	c.Taxable = c.PairGate &&
		c.TouchesPair &&
		!c.From.InExplicitSet &&
		!c.To.InExplicitSet &&
		!c.From.InMapping &&
		!c.To.InMapping
	return c
}

// IsTaxable reports whether the token would tax ctx.
func IsTaxable(ctx TransferContext, policy TaxPolicy, exclusion ExclusionState) bool {
	return Classify(ctx, policy, exclusion).Taxable
}
