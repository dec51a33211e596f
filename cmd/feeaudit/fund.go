// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.


package main

import (
	"context"

	"github.com/AleutianAI/feeaudit/services/taxaudit/simledger"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// topUpBase credits account with base asset until it holds at least want.
func topUpBase(ctx context.Context, ledger *simledger.Ledger, account common.Address, want *uint256.Int) error {
	have, err := ledger.ReadBaseBalance(ctx, account)
	if err != nil {
		return err
	}
	if have.Lt(want) {
		ledger.Fund(account, new(uint256.Int).Sub(want, have))
	}
	return nil
}

// topUpTokens mints tokens to account until it holds at least want.
func topUpTokens(ctx context.Context, ledger *simledger.Ledger, account common.Address, want *uint256.Int) error {
	have, err := ledger.ReadBalance(ctx, account)
	if err != nil {
		return err
	}
	if have.Lt(want) {
		ledger.Mint(account, new(uint256.Int).Sub(want, have))
	}
	return nil
}
