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
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Readiness check names.
const (
	CheckPairGate       = "pair_gate_set"
	CheckPairMatches    = "pair_matches"
	CheckTradingEnabled = "trading_enabled"
	CheckNotPaused      = "not_paused"
	CheckFoundation     = "foundation_wallet_matches"
	CheckFeeDetector    = "fee_detector_agrees"
)

// CheckReadiness reports whether the token is in a state where trades can
// be taxed at all: pair gate set, the token's recorded pair equal to the
// pool under test, trading enabled and not paused. When the ledger has a
// fee-on-transfer detector, its verdict must agree with the active tax.
//
// Findings are informational. A failed check usually explains a later
// TaxNotApplied diagnosis. Returns nil findings when the ledger cannot
// report token status and the pair gate cannot be read.
func (r *Runner) CheckReadiness(ctx context.Context) ([]Finding, error) {
	var findings []Finding

	gate, err := r.ledger.ReadPairGate(ctx)
	if err != nil {
		return nil, fmt.Errorf("read pair gate: %w", err)
	}
	findings = append(findings, Finding{
		Check:  CheckPairGate,
		OK:     gate,
		Detail: boolDetail(gate, "pair gate is set; trades touching the pair are taxable", "pair gate is not set; no trade will be taxed"),
	})

	if rp, ok := r.ledger.(ReadinessProvider); ok {
		status, err := rp.ReadTokenStatus(ctx)
		if err != nil {
			return findings, fmt.Errorf("read token status: %w", err)
		}
		findings = append(findings, r.statusFindings(status)...)
	}

	if fd, ok := r.ledger.(FeeDetector); ok {
		finding, configured, err := r.feeDetectorFinding(ctx, fd, gate)
		if err != nil {
			return findings, err
		}
		if configured {
			findings = append(findings, finding)
		}
	}
	return findings, nil
}

// Ready reports whether every finding passed.
func Ready(findings []Finding) bool {
	for _, f := range findings {
		if !f.OK {
			return false
		}
	}
	return true
}

func (r *Runner) statusFindings(status TokenStatus) []Finding {
	matches := status.ContractPair == r.cfg.Pair
	findings := []Finding{
		{
			Check: CheckPairMatches,
			OK:    matches,
			Detail: boolDetail(matches,
				fmt.Sprintf("token pair is %s", status.ContractPair.Hex()),
				fmt.Sprintf("token pair is %s, pool under test is %s", status.ContractPair.Hex(), r.cfg.Pair.Hex())),
		},
		{
			Check:  CheckTradingEnabled,
			OK:     status.TradingEnabled,
			Detail: boolDetail(status.TradingEnabled, "trading is enabled", "trading is disabled"),
		},
		{
			Check:  CheckNotPaused,
			OK:     !status.Paused,
			Detail: boolDetail(!status.Paused, "token is not paused", "token is paused"),
		},
	}
	if status.FoundationWallet != (common.Address{}) {
		same := status.FoundationWallet == r.cfg.Foundation
		findings = append(findings, Finding{
			Check: CheckFoundation,
			OK:    same,
			Detail: boolDetail(same,
				"foundation wallet matches configuration",
				fmt.Sprintf("token pays foundation fees to %s, configured %s", status.FoundationWallet.Hex(), r.cfg.Foundation.Hex())),
		})
	}
	return findings
}

// feeDetectorFinding compares the detector's verdict with whether the token
// should be taking a fee right now: pair gate set and a nonzero rate.
func (r *Runner) feeDetectorFinding(ctx context.Context, fd FeeDetector, gate bool) (Finding, bool, error) {
	status, configured, err := fd.DetectFeeOnTransfer(ctx)
	if err != nil {
		return Finding{}, false, fmt.Errorf("detect fee on transfer: %w", err)
	}
	if !configured {
		return Finding{}, false, nil
	}
	policy, err := r.ledger.ReadPolicy(ctx)
	if err != nil {
		return Finding{}, false, fmt.Errorf("read policy: %w", err)
	}
	taxing := gate && policy.TotalBps() > 0

	f := Finding{Check: CheckFeeDetector}
	switch {
	case status == FeeStatusTransferFailed:
		f.Detail = "fee detector could not move the token; check trading status and transfer restrictions"
	case (status == FeeStatusFeeOnTransfer) == taxing:
		f.OK = true
		f.Detail = boolDetail(taxing,
			"fee detector reports fee-on-transfer; routers will use the fee-aware path",
			"fee detector reports no fee, and no tax is active")
	case taxing:
		f.Detail = "tax is active but the fee detector reports no fee; naive router paths will revert"
	default:
		f.Detail = fmt.Sprintf("fee detector reports %s while no tax is active", status)
	}
	return f, true, nil
}

func boolDetail(ok bool, yes, no string) string {
	if ok {
		return yes
	}
	return no
}
