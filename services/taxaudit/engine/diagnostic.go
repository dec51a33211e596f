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
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"
)

// DiagnosisVerdict is the root cause assigned to a buy/sell pair.
type DiagnosisVerdict int

const (
	ExclusionBypassBug DiagnosisVerdict = iota
	TaxNotApplied
	AsymmetricTaxApplication
	ExpectedBehaviorConfirmed
	UnexplainedDivergence
)

func (v DiagnosisVerdict) String() string {
	switch v {
	case ExclusionBypassBug:
		return "exclusion_bypass_bug"
	case TaxNotApplied:
		return "tax_not_applied"
	case AsymmetricTaxApplication:
		return "asymmetric_tax_application"
	case ExpectedBehaviorConfirmed:
		return "expected_behavior_confirmed"
	case UnexplainedDivergence:
		return "unexplained_divergence"
	default:
		return fmt.Sprintf("diagnosis(%d)", int(v))
	}
}

// IsDefect reports whether the verdict names a problem.
func (v DiagnosisVerdict) IsDefect() bool {
	return v != ExpectedBehaviorConfirmed
}

// DiagnosticFacts are the booleans the decision table runs on.
type DiagnosticFacts struct {
	PairInExplicitSet bool `json:"pair_in_explicit_set"`
	PairInMapping     bool `json:"pair_in_mapping"`
	BuyTaxApplied     bool `json:"buy_tax_applied"`
	SellTaxApplied    bool `json:"sell_tax_applied"`

	// ConsistentWithPolicy is true when both scenarios matched their
	// expectation and the policy takes a nonzero tax.
	ConsistentWithPolicy bool `json:"consistent_with_policy"`
}

// Diagnosis is the single root cause for a full diagnostic run.
type Diagnosis struct {
	Verdict     DiagnosisVerdict
	Explanation string
	Facts       DiagnosticFacts
}

// diagnosticRule is one row of the decision table.
type diagnosticRule struct {
	verdict  DiagnosisVerdict
	priority int
	matches  func(DiagnosticFacts) bool
	explain  func(DiagnosticFacts) string
}

// diagnosticRules is sorted by priority (highest first) in init. The last
// rule matches everything, which keeps the table total.
var diagnosticRules = []diagnosticRule{
	{
		verdict:  ExclusionBypassBug,
		priority: 100,
		matches:  func(f DiagnosticFacts) bool { return f.PairInExplicitSet || f.PairInMapping },
		explain: func(f DiagnosticFacts) string {
			where := "the explicit exclusion set"
			switch {
			case f.PairInExplicitSet && f.PairInMapping:
				where = "both the explicit exclusion set and the exclusion mapping"
			case f.PairInMapping:
				where = "the exclusion mapping"
			}
			return fmt.Sprintf("the pair is listed in %s, so no trade touching it is taxed; remove the pair from %s", where, where)
		},
	},
	{
		verdict:  TaxNotApplied,
		priority: 80,
		matches:  func(f DiagnosticFacts) bool { return !f.BuyTaxApplied && !f.SellTaxApplied },
		explain: func(DiagnosticFacts) string {
			return "neither buys nor sells are taxed; check the pair gate and the transfer tax predicate"
		},
	},
	{
		verdict:  AsymmetricTaxApplication,
		priority: 60,
		matches:  func(f DiagnosticFacts) bool { return f.BuyTaxApplied != f.SellTaxApplied },
		explain: func(f DiagnosticFacts) string {
			if f.BuyTaxApplied {
				return "buys are taxed but sells are not"
			}
			return "sells are taxed but buys are not"
		},
	},
	{
		verdict:  ExpectedBehaviorConfirmed,
		priority: 40,
		matches: func(f DiagnosticFacts) bool {
			return f.BuyTaxApplied && f.SellTaxApplied && f.ConsistentWithPolicy
		},
		explain: func(DiagnosticFacts) string {
			return "buys and sells are taxed at the declared rates"
		},
	},
	{
		verdict:  UnexplainedDivergence,
		priority: 0,
		matches:  func(DiagnosticFacts) bool { return true },
		explain: func(DiagnosticFacts) string {
			return "both directions are taxed but the amounts diverge from the policy; flagged for manual review"
		},
	},
}

func init() {
	sort.SliceStable(diagnosticRules, func(i, j int) bool {
		return diagnosticRules[i].priority > diagnosticRules[j].priority
	})
}

// Diagnose applies the decision table to facts.
//
// Description:
//
//	Rules are evaluated in priority order and the first match wins:
//
//	  1. pair in either exclusion mechanism   → ExclusionBypassBug
//	  2. neither direction taxed              → TaxNotApplied
//	  3. exactly one direction taxed          → AsymmetricTaxApplication
//	  4. both taxed, consistent with policy   → ExpectedBehaviorConfirmed
//	  5. anything else                        → UnexplainedDivergence
//
//	Every combination of facts maps to exactly one verdict.
//
// Thread Safety: Pure function.
func Diagnose(facts DiagnosticFacts) Diagnosis {
	for _, rule := range diagnosticRules {
		if rule.matches(facts) {
			return Diagnosis{Verdict: rule.verdict, Explanation: rule.explain(facts), Facts: facts}
		}
	}
	// Unreachable: the last rule always matches.
	return Diagnosis{Verdict: UnexplainedDivergence, Facts: facts}
}

// FactsFrom collects decision-table facts from the exclusion state and the
// two scenario comparisons.
func FactsFrom(pair common.Address, exclusion ExclusionState, policy TaxPolicy, buy, sell Comparison) DiagnosticFacts {
	return DiagnosticFacts{
		PairInExplicitSet: exclusion.InExplicitSet(pair),
		PairInMapping:     exclusion.InMapping(pair),
		BuyTaxApplied:     buy.TaxObserved,
		SellTaxApplied:    sell.TaxObserved,
		ConsistentWithPolicy: buy.Verdict == VerdictMatch &&
			sell.Verdict == VerdictMatch &&
			policy.TotalBps() > 0,
	}
}

// PredictedFacts derives facts without executing anything: the classifier's
// view of a buy (pair → trader) and a sell (trader → pair).
func PredictedFacts(pair, trader common.Address, exclusion ExclusionState, policy TaxPolicy) DiagnosticFacts {
	buy := TransferContext{From: pair, To: trader, Pair: pair, Kind: Buy}
	sell := TransferContext{From: trader, To: pair, Pair: pair, Kind: Sell}
	taxes := policy.TotalBps() > 0
	buyTaxed := taxes && IsTaxable(buy, policy, exclusion)
	sellTaxed := taxes && IsTaxable(sell, policy, exclusion)
	return DiagnosticFacts{
		PairInExplicitSet:    exclusion.InExplicitSet(pair),
		PairInMapping:        exclusion.InMapping(pair),
		BuyTaxApplied:        buyTaxed,
		SellTaxApplied:       sellTaxed,
		ConsistentWithPolicy: buyTaxed && sellTaxed,
	}
}
