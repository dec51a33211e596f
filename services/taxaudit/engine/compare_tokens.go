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
	"strconv"

	"github.com/ethereum/go-ethereum/common"
)

// TokenProfile is the static configuration of one deployed token.
type TokenProfile struct {
	Label          string
	Token          common.Address
	Pair           common.Address
	Policy         TaxPolicy
	TradingEnabled bool
	Exclusion      ExclusionState

	// RouterExcluded reports whether the router that forwards liquidity
	// removals is exempt through either mechanism. False when no router
	// was read.
	RouterExcluded bool
}

// PolicyDifference is one field that differs between two profiles.
type PolicyDifference struct {
	Field string `json:"field"`
	Left  string `json:"left"`
	Right string `json:"right"`
}

// ComparePolicies lists the tax-relevant fields that differ between a and b.
//
// Compared: the pair gate, trading status, both bps rates, for each
// profile's own pair whether either exclusion mechanism lists it, and
// whether the router is exempt. Token and pair addresses are expected to
// differ and are not reported.
func ComparePolicies(a, b TokenProfile) []PolicyDifference {
	var diffs []PolicyDifference
	add := func(field, left, right string) {
		if left != right {
			diffs = append(diffs, PolicyDifference{Field: field, Left: left, Right: right})
		}
	}

	add("pair_gate_enabled", strconv.FormatBool(a.Policy.PairGateEnabled), strconv.FormatBool(b.Policy.PairGateEnabled))
	add("trading_enabled", strconv.FormatBool(a.TradingEnabled), strconv.FormatBool(b.TradingEnabled))
	add("burn_bps", strconv.FormatUint(a.Policy.BurnBps, 10), strconv.FormatUint(b.Policy.BurnBps, 10))
	add("foundation_bps", strconv.FormatUint(a.Policy.FoundationBps, 10), strconv.FormatUint(b.Policy.FoundationBps, 10))
	add("total_bps", strconv.FormatUint(a.Policy.TotalBps(), 10), strconv.FormatUint(b.Policy.TotalBps(), 10))
	add("pair_in_explicit_set",
		strconv.FormatBool(a.Exclusion.InExplicitSet(a.Pair)),
		strconv.FormatBool(b.Exclusion.InExplicitSet(b.Pair)))
	add("pair_in_mapping",
		strconv.FormatBool(a.Exclusion.InMapping(a.Pair)),
		strconv.FormatBool(b.Exclusion.InMapping(b.Pair)))
	add("router_excluded", strconv.FormatBool(a.RouterExcluded), strconv.FormatBool(b.RouterExcluded))
	return diffs
}
