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
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// TransferKind identifies the operation a scenario performs. It is always
// supplied by the caller; addresses alone cannot tell a pool from a wallet.
type TransferKind int

const (
	PeerTransfer TransferKind = iota
	Buy
	Sell
	AddLiquidity
	RemoveLiquidity
)

var transferKindNames = map[TransferKind]string{
	PeerTransfer:    "peer_transfer",
	Buy:             "buy",
	Sell:            "sell",
	AddLiquidity:    "add_liquidity",
	RemoveLiquidity: "remove_liquidity",
}

func (k TransferKind) String() string {
	if name, ok := transferKindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// ParseTransferKind accepts the String form as well as "peer", "add" and
// "remove" shorthands.
func ParseTransferKind(s string) (TransferKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "peer", "peer_transfer", "transfer":
		return PeerTransfer, nil
	case "buy":
		return Buy, nil
	case "sell":
		return Sell, nil
	case "add", "add_liquidity":
		return AddLiquidity, nil
	case "remove", "remove_liquidity":
		return RemoveLiquidity, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownKind, s)
}

// TransferContext describes one operation under test. It is built once per
// scenario and never modified afterwards.
//
// AmountGross depends on Kind:
//
//	PeerTransfer, Sell  tokens sent by From
//	Buy                 base asset paid into the pool
//	AddLiquidity        token amount desired (BaseAmount is the base asset offered)
//	RemoveLiquidity     LP tokens burned
type TransferContext struct {
	From        common.Address
	To          common.Address
	AmountGross *uint256.Int
	Kind        TransferKind
	Pair        common.Address

	// FeeAware declares that the caller uses the supporting-fee-on-transfer
	// execution mode of the router.
	FeeAware bool

	// BaseAmount is the base asset offered alongside tokens when adding
	// liquidity. Ignored for other kinds.
	BaseAmount *uint256.Int

	// Via is the contract the token leg is paid to before it is forwarded
	// to To. A liquidity removal pays the router, not the provider. Zero
	// when tokens move directly.
	Via common.Address
}

// LegRecipient is the receiving end of the taxed token leg: Via when set,
// else To.
func (c TransferContext) LegRecipient() common.Address {
	if c.Via != (common.Address{}) {
		return c.Via
	}
	return c.To
}

// TouchesPair reports whether either endpoint of the token leg is the pair.
func (c TransferContext) TouchesPair() bool {
	return c.From == c.Pair || c.LegRecipient() == c.Pair
}

// Reserves are the pool reserves ordered as (base asset, token).
type Reserves struct {
	Base  *uint256.Int
	Token *uint256.Int
}

// Clone returns a deep copy.
func (r Reserves) Clone() Reserves {
	return Reserves{Base: cloneOrZero(r.Base), Token: cloneOrZero(r.Token)}
}

// LedgerSnapshot is a point-in-time read of the token and pool, captured
// immediately before or after a mutating call.
type LedgerSnapshot struct {
	Balances    map[common.Address]*uint256.Int
	TotalSupply *uint256.Int
	Reserves    Reserves
	LPSupply    *uint256.Int

	// BaseBalances holds base-asset balances of the probed accounts. Only
	// reported; the reconciler works on the token leg.
	BaseBalances map[common.Address]*uint256.Int
}

// Balance returns the captured balance of account, or zero when it was not
// captured.
func (s LedgerSnapshot) Balance(account common.Address) *uint256.Int {
	if b, ok := s.Balances[account]; ok && b != nil {
		return b
	}
	return new(uint256.Int)
}

// Outcome is the net/burn/foundation split of a single transfer.
type Outcome struct {
	Net        *uint256.Int
	Burn       *uint256.Int
	Foundation *uint256.Int
	TaxApplied bool
}

// Gross reconstructs the amount that left the sender.
func (o Outcome) Gross() *uint256.Int {
	g := new(uint256.Int).Add(cloneOrZero(o.Net), cloneOrZero(o.Burn))
	return g.Add(g, cloneOrZero(o.Foundation))
}

func untaxedOutcome(gross *uint256.Int) Outcome {
	return Outcome{
		Net:        gross.Clone(),
		Burn:       new(uint256.Int),
		Foundation: new(uint256.Int),
	}
}

func outcomeFromSplit(s Split) Outcome {
	return Outcome{
		Net:        s.Net,
		Burn:       s.Burn,
		Foundation: s.Foundation,
		TaxApplied: !s.Burn.IsZero() || !s.Foundation.IsZero(),
	}
}

func cloneOrZero(v *uint256.Int) *uint256.Int {
	if v == nil {
		return new(uint256.Int)
	}
	return v.Clone()
}
