// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package scenario runs tax scenarios against a pool and turns them into
// verdicts and diagnoses.
//
// # Flow
//
// One scenario performs exactly one mutating operation:
//
//	read policy + exclusion ──▶ expectation
//	           │
//	snapshot before ──▶ Gateway.ExecuteTransfer ──▶ snapshot after
//	                                 │                    │
//	                        revert? ResolveRevert      Diff ──▶ Compare
//
// A full diagnostic runs a buy then a sell and feeds both comparisons to
// the decision table in the engine package.
//
// # Concurrency
//
// Scenarios on the same pool are serialized by a per-pool lock; scenarios
// on different pools run concurrently. Snapshot reads fan out in parallel
// since they do not mutate anything. The gateway call is the only
// suspension point that waits on the network, and it is bounded by
// Config.Timeout.
//
// # State Freshness
//
// Policy, pair gate and exclusion state are re-read at the start of every
// scenario. Callers that want one consistent view across a batch pass Pins;
// the runner itself never caches them.
package scenario
