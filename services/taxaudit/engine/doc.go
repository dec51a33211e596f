// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package engine is the tax-policy simulation and reconciliation core.
//
// It predicts what a fee-on-transfer token should do for a single operation,
// derives what it actually did from two ledger snapshots, compares the two and
// turns a buy/sell pair of comparisons into one root-cause diagnosis.
//
// # Pipeline
//
//	TransferContext ──► Expect ──► Expectation
//	                                   │
//	before/after LedgerSnapshot ──► Diff ──► Observed
//	                                   │
//	                               Compare ──► Comparison (per scenario)
//	                                   │
//	                 buy + sell ──► Diagnose ──► Diagnosis
//
// # Arithmetic
//
// Every amount is a 256-bit unsigned integer (holiman/uint256) and every
// division truncates, matching the token contract. Floating point is never
// used on amounts.
//
// # Exclusion Model
//
// The token exposes two independent exclusion mechanisms: an explicit address
// set and a boolean mapping. ExclusionState keeps them as separate fields.
// An address listed in only one of them still escapes tax, and that
// divergence is the main defect class this package reports.
//
// # Thread Safety
//
// All functions are pure. Values passed in are never mutated.
package engine
