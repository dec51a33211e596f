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
	"errors"
	"math/rand/v2"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func u(v uint64) *uint256.Int { return uint256.NewInt(v) }

func TestComputeSplit(t *testing.T) {
	tests := []struct {
		name           string
		gross          *uint256.Int
		policy         TaxPolicy
		wantBurn       uint64
		wantFoundation uint64
		wantNet        uint64
	}{
		{"no tax", u(10000), TaxPolicy{}, 0, 0, 10000},
		{"split 125/125 floors each side", u(1000), TaxPolicy{BurnBps: 125, FoundationBps: 125}, 12, 12, 976},
		{"uneven split", u(1000), TaxPolicy{BurnBps: 100, FoundationBps: 200}, 10, 20, 970},
		{"tiny amount rounds to zero", u(10), TaxPolicy{BurnBps: 125, FoundationBps: 125}, 0, 0, 10},
		{"full tax", u(777), TaxPolicy{BurnBps: 4000, FoundationBps: 6000}, 310, 466, 1},
		{"zero gross", u(0), TaxPolicy{BurnBps: 500, FoundationBps: 500}, 0, 0, 0},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			split, err := ComputeSplit(tc.gross, tc.policy)
			require.NoError(t, err)
			assert.Equal(t, tc.wantBurn, split.Burn.Uint64(), "burn")
			assert.Equal(t, tc.wantFoundation, split.Foundation.Uint64(), "foundation")
			assert.Equal(t, tc.wantNet, split.Net.Uint64(), "net")
			assert.True(t, split.Total().Eq(tc.gross), "split must conserve gross")
		})
	}
}

func TestComputeSplit_MaxGrossDoesNotOverflow(t *testing.T) {
	top := new(uint256.Int).SetAllOne()

	split, err := ComputeSplit(top, TaxPolicy{BurnBps: 9999, FoundationBps: 1})
	require.NoError(t, err)
	assert.True(t, split.Total().Eq(top))
	assert.True(t, split.Burn.Gt(split.Foundation))

	split, err = ComputeSplit(top, TaxPolicy{BurnBps: BpsDenominator})
	require.NoError(t, err)
	assert.True(t, split.Burn.Eq(top))
	assert.True(t, split.Net.IsZero())
}

func TestComputeSplit_InvalidPolicy(t *testing.T) {
	tests := []struct {
		name   string
		policy TaxPolicy
	}{
		{"sum above denominator", TaxPolicy{BurnBps: 6000, FoundationBps: 5000}},
		{"burn alone above denominator", TaxPolicy{BurnBps: 10001}},
		{"wrapping sum", TaxPolicy{BurnBps: ^uint64(0), FoundationBps: 2}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ComputeSplit(u(1000), tc.policy)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidPolicy))

			var pe *PolicyError
			require.ErrorAs(t, err, &pe)
			assert.Equal(t, tc.policy.BurnBps, pe.BurnBps)
		})
	}
}

func TestComputeSplit_NilAmount(t *testing.T) {
	_, err := ComputeSplit(nil, TaxPolicy{BurnBps: 1})
	assert.ErrorIs(t, err, ErrNilAmount)
}

func TestComputeSplit_Conservation(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 11))
	for i := 0; i < 2000; i++ {
		burn := rng.Uint64N(BpsDenominator + 1)
		foundation := rng.Uint64N(BpsDenominator - burn + 1)
		policy := TaxPolicy{BurnBps: burn, FoundationBps: foundation}

		gross := new(uint256.Int).SetUint64(rng.Uint64())
		gross.Lsh(gross, uint(rng.UintN(190)))

		split, err := ComputeSplit(gross, policy)
		require.NoError(t, err)
		require.True(t, split.Total().Eq(gross), "policy %+v gross %s", policy, gross.Dec())
	}
}

func TestBpsOf(t *testing.T) {
	assert.Equal(t, uint64(300), BpsOf(u(30), u(1000)))
	assert.Equal(t, uint64(125), BpsOf(u(125), u(10000)))
	assert.Equal(t, uint64(0), BpsOf(u(5), u(0)))
	assert.Equal(t, uint64(0), BpsOf(nil, u(10)))
}

func TestTaxPolicyValidate(t *testing.T) {
	assert.NoError(t, TaxPolicy{BurnBps: 5000, FoundationBps: 5000}.Validate())
	assert.NoError(t, TaxPolicy{}.Validate())
	assert.Error(t, TaxPolicy{BurnBps: 5000, FoundationBps: 5001}.Validate())
}
