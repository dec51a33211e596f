// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package chain

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// tokenABIJSON is the subset of the fee-on-transfer token's interface the
// provider reads. isExcludedFromTax is the mapping; getExcludedAddresses
// returns the explicit set.
const tokenABIJSON = `[
 {"type":"function","name":"balanceOf","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
 {"type":"function","name":"totalSupply","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
 {"type":"function","name":"burnTax","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
 {"type":"function","name":"foundationFee","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
 {"type":"function","name":"foundationWallet","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},
 {"type":"function","name":"pairIsSet","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"bool"}]},
 {"type":"function","name":"tradingEnabled","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"bool"}]},
 {"type":"function","name":"paused","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"bool"}]},
 {"type":"function","name":"uniswapV2Pair","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},
 {"type":"function","name":"isExcludedFromTax","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"bool"}]},
 {"type":"function","name":"getExcludedAddresses","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address[]"}]}
]`

// pairABIJSON covers the Uniswap V2 pair reads.
const pairABIJSON = `[
 {"type":"function","name":"getReserves","stateMutability":"view","inputs":[],"outputs":[{"name":"reserve0","type":"uint112"},{"name":"reserve1","type":"uint112"},{"name":"blockTimestampLast","type":"uint32"}]},
 {"type":"function","name":"token0","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},
 {"type":"function","name":"totalSupply","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]}
]`

// erc20ABIJSON is used for the base asset (wrapped native token).
const erc20ABIJSON = `[
 {"type":"function","name":"balanceOf","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]}
]`

// detectorABIJSON is Uniswap's FeeOnTransferDetector. validate is
// nonpayable but only ever reached through eth_call.
const detectorABIJSON = `[
 {"type":"function","name":"validate","stateMutability":"nonpayable","inputs":[{"name":"token","type":"address"},{"name":"baseTokens","type":"address[]"},{"name":"amountToBorrow","type":"uint256"}],"outputs":[{"name":"","type":"uint8"}]}
]`

var (
	tokenABI    = mustParse(tokenABIJSON)
	pairABI     = mustParse(pairABIJSON)
	erc20ABI    = mustParse(erc20ABIJSON)
	detectorABI = mustParse(detectorABIJSON)
)

func mustParse(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic("chain: invalid embedded ABI: " + err.Error())
	}
	return parsed
}
