// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package report turns scenario results into JSON documents and console
// output.
//
// Documents are the persisted and served form of a run: every amount is a
// decimal string, addresses are checksummed hex, and verdicts are their
// snake_case names, so the JSON stays stable across engine changes.
package report

import (
	"sort"
	"time"

	"github.com/AleutianAI/feeaudit/services/taxaudit/engine"
	"github.com/AleutianAI/feeaudit/services/taxaudit/scenario"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Document kinds.
const (
	KindDiagnostic = "diagnostic"
	KindInspection = "inspection"
	KindScenario   = "scenario"
)

// Document is one persisted run.
type Document struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	CreatedAt time.Time `json:"created_at"`
	Source    string    `json:"source,omitempty"`

	Pair      string             `json:"pair"`
	Trader    string             `json:"trader,omitempty"`
	Policy    engine.TaxPolicy   `json:"policy"`
	Exclusion ExclusionDoc       `json:"exclusion"`
	Readiness []scenario.Finding `json:"readiness,omitempty"`

	Scenarios []ScenarioDoc `json:"scenarios,omitempty"`
	RoundTrip string        `json:"round_trip,omitempty"`
	Diagnosis *DiagnosisDoc `json:"diagnosis,omitempty"`

	DurationMs int64  `json:"duration_ms"`
	Error      string `json:"error,omitempty"`
}

// ExclusionDoc lists both exclusion mechanisms separately.
type ExclusionDoc struct {
	ExplicitSet []string        `json:"explicit_set"`
	Mapping     map[string]bool `json:"mapping"`
}

// AmountsDoc is an Outcome with decimal-string amounts.
type AmountsDoc struct {
	Net        string `json:"net"`
	Burn       string `json:"burn"`
	Foundation string `json:"foundation"`
	TaxApplied bool   `json:"tax_applied"`
}

// ScenarioDoc is one executed scenario.
type ScenarioDoc struct {
	ID       string `json:"id"`
	Kind     string `json:"kind"`
	From     string `json:"from"`
	To       string `json:"to"`
	Gross    string `json:"amount_in"`
	FeeAware bool   `json:"fee_aware"`

	Expected     AmountsDoc `json:"expected"`
	ExpectedTag  string     `json:"expected_tag"`
	RevertProven bool       `json:"revert_proven,omitempty"`
	Taxable      bool       `json:"taxable"`

	Observed      *AmountsDoc `json:"observed,omitempty"`
	ObservedBurn  uint64      `json:"observed_burn_bps"`
	ObservedFound uint64      `json:"observed_foundation_bps"`

	// Base-asset leg and LP supply change, expected then observed. The
	// base leg is never taxed. Empty when not predicted or not tracked.
	ExpectedBase string `json:"expected_base,omitempty"`
	ObservedBase string `json:"observed_base,omitempty"`
	ExpectedLP   string `json:"expected_lp,omitempty"`
	ObservedLP   string `json:"observed_lp,omitempty"`

	Verdict      string `json:"verdict"`
	TaxObserved  bool   `json:"tax_observed"`
	Reverted     bool   `json:"reverted,omitempty"`
	RevertReason string `json:"revert_reason,omitempty"`
	Note         string `json:"note,omitempty"`
	TxID         string `json:"tx_id,omitempty"`
	DurationMs   int64  `json:"duration_ms"`
	Error        string `json:"error,omitempty"`
}

// DiagnosisDoc is a Diagnosis with its verdict by name.
type DiagnosisDoc struct {
	Verdict     string                 `json:"verdict"`
	Defect      bool                   `json:"defect"`
	Explanation string                 `json:"explanation"`
	Facts       engine.DiagnosticFacts `json:"facts"`
}

// Summary is the listing form of a Document.
type Summary struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	CreatedAt time.Time `json:"created_at"`
	Pair      string    `json:"pair"`
	Verdict   string    `json:"verdict"`
}

// Summarize returns d's listing form. Verdict is the diagnosis when there is
// one, else the first scenario's verdict.
func (d Document) Summarize() Summary {
	s := Summary{ID: d.ID, Kind: d.Kind, CreatedAt: d.CreatedAt, Pair: d.Pair}
	switch {
	case d.Diagnosis != nil:
		s.Verdict = d.Diagnosis.Verdict
	case len(d.Scenarios) > 0:
		s.Verdict = d.Scenarios[0].Verdict
	}
	return s
}

// Defect reports whether the document diagnoses a problem.
func (d Document) Defect() bool {
	return d.Diagnosis != nil && d.Diagnosis.Defect
}

// FromFullReport converts a full diagnostic. err is the error the runner
// returned with the report, if any.
func FromFullReport(r *scenario.FullReport, err error) Document {
	doc := Document{
		ID:         r.ID.String(),
		Kind:       KindDiagnostic,
		CreatedAt:  r.CreatedAt,
		Pair:       r.Pair.Hex(),
		Trader:     r.Trader.Hex(),
		Policy:     r.Policy,
		Exclusion:  FromExclusion(r.Exclusion),
		Readiness:  r.Readiness,
		RoundTrip:  r.RoundTrip.String(),
		DurationMs: r.Duration.Milliseconds(),
	}
	for _, res := range []*scenario.Result{r.Buy, r.Sell} {
		if res != nil {
			doc.Scenarios = append(doc.Scenarios, FromResult(res))
		}
	}
	if err != nil {
		doc.Error = err.Error()
		return doc
	}
	diag := fromDiagnosis(r.Diagnosis)
	doc.Diagnosis = &diag
	return doc
}

// FromScenario wraps a single scenario result.
func FromScenario(pair common.Address, res *scenario.Result, err error) Document {
	doc := Document{
		ID:         res.ID.String(),
		Kind:       KindScenario,
		CreatedAt:  res.StartedAt.UTC(),
		Pair:       pair.Hex(),
		Policy:     res.State.Policy,
		Exclusion:  FromExclusion(res.State.Exclusion),
		Scenarios:  []ScenarioDoc{FromResult(res)},
		DurationMs: res.Duration.Milliseconds(),
	}
	if err != nil {
		doc.Error = err.Error()
	}
	return doc
}

// FromInspection converts a read-only inspection.
func FromInspection(id string, createdAt time.Time, in *scenario.Inspection) Document {
	diag := fromDiagnosis(in.Diagnosis)
	return Document{
		ID:        id,
		Kind:      KindInspection,
		CreatedAt: createdAt,
		Pair:      in.Pair.Hex(),
		Trader:    in.Trader.Hex(),
		Policy:    in.Policy,
		Exclusion: FromExclusion(in.Exclusion),
		Readiness: in.Readiness,
		Diagnosis: &diag,
	}
}

// FromResult converts one scenario.
func FromResult(res *scenario.Result) ScenarioDoc {
	sd := ScenarioDoc{
		ID:           res.ID.String(),
		Kind:         res.Kind.String(),
		From:         res.Context.From.Hex(),
		To:           res.Context.To.Hex(),
		Gross:        dec(res.Context.AmountGross),
		FeeAware:     res.Context.FeeAware,
		Expected:     fromOutcome(res.Expected.Outcome),
		ExpectedTag:  res.Expected.Tag.String(),
		RevertProven: res.Expected.RevertProven,
		Taxable:      res.Expected.Taxable,
		Verdict:      res.Verdict.String(),
		TaxObserved:  res.Comparison.TaxObserved,
		Reverted:     res.Comparison.Reverted,
		RevertReason: res.Comparison.RevertReason,
		Note:         res.Comparison.Note,
		TxID:         res.Tx.TxID,
		DurationMs:   res.Duration.Milliseconds(),
		Error:        res.Error,
		ExpectedBase: optDec(res.Expected.BaseAmount),
		ExpectedLP:   optDec(res.Expected.LPMinted, res.Expected.LPBurned),
	}
	if res.Observed != nil {
		obs := fromOutcome(res.Observed.Outcome)
		sd.Observed = &obs
		sd.ObservedBurn = res.ObservedRates.BurnBps
		sd.ObservedFound = res.ObservedRates.FoundationBps
		sd.ObservedBase = optDec(res.Observed.BaseSpent, res.Observed.BaseReceived)
		sd.ObservedLP = optDec(res.Observed.LPMinted, res.Observed.LPBurned)
	}
	return sd
}

// FromExclusion lists the explicit set sorted, and the mapping as probed.
func FromExclusion(e engine.ExclusionState) ExclusionDoc {
	doc := ExclusionDoc{
		ExplicitSet: make([]string, 0, len(e.ExplicitSet)),
		Mapping:     make(map[string]bool, len(e.Mapping)),
	}
	for _, a := range e.ExplicitList() {
		doc.ExplicitSet = append(doc.ExplicitSet, a.Hex())
	}
	sort.Strings(doc.ExplicitSet)
	for a, v := range e.Mapping {
		doc.Mapping[a.Hex()] = v
	}
	return doc
}

func fromDiagnosis(d engine.Diagnosis) DiagnosisDoc {
	return DiagnosisDoc{
		Verdict:     d.Verdict.String(),
		Defect:      d.Verdict.IsDefect(),
		Explanation: d.Explanation,
		Facts:       d.Facts,
	}
}

func fromOutcome(o engine.Outcome) AmountsDoc {
	return AmountsDoc{
		Net:        dec(o.Net),
		Burn:       dec(o.Burn),
		Foundation: dec(o.Foundation),
		TaxApplied: o.TaxApplied,
	}
}

func dec(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.Dec()
}

// optDec formats the first non-nil value, or "" when all are nil.
func optDec(vs ...*uint256.Int) string {
	for _, v := range vs {
		if v != nil {
			return v.Dec()
		}
	}
	return ""
}
