// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/AleutianAI/feeaudit/services/taxaudit/report"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *ReportStore {
	t.Helper()
	s, err := Open(InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func doc(id string, at time.Time, verdict string) report.Document {
	return report.Document{
		ID:        id,
		Kind:      report.KindDiagnostic,
		CreatedAt: at,
		Pair:      "0x1000000000000000000000000000000000000001",
		Diagnosis: &report.DiagnosisDoc{Verdict: verdict, Defect: verdict != "expected_behavior_confirmed"},
	}
}

func TestSaveAndGet(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	at := time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, s.Save(ctx, doc("a", at, "expected_behavior_confirmed")))

	got, err := s.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "a", got.ID)
	assert.True(t, at.Equal(got.CreatedAt))
	require.NotNil(t, got.Diagnosis)
	assert.Equal(t, "expected_behavior_confirmed", got.Diagnosis.Verdict)
}

func TestGet_NotFound(t *testing.T) {
	s := openTestStore(t)
	_, err := s.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSave_InvalidID(t *testing.T) {
	s := openTestStore(t)
	for _, id := range []string{"", "a/b"} {
		err := s.Save(context.Background(), report.Document{ID: id})
		assert.ErrorIs(t, err, ErrInvalidReport, id)
	}
}

func TestList_NewestFirst(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		require.NoError(t, s.Save(ctx, doc(fmt.Sprintf("r%d", i), base.Add(time.Duration(i)*time.Hour), "tax_not_applied")))
	}

	all, err := s.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 5)
	for i, sum := range all {
		assert.Equal(t, fmt.Sprintf("r%d", 4-i), sum.ID)
		assert.Equal(t, "tax_not_applied", sum.Verdict)
	}

	top, err := s.List(ctx, 2)
	require.NoError(t, err)
	require.Len(t, top, 2)
	assert.Equal(t, "r4", top[0].ID)
	assert.Equal(t, "r3", top[1].ID)
}

func TestList_Empty(t *testing.T) {
	s := openTestStore(t)
	all, err := s.List(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestSave_ReplacesIndexEntry(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	at := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, s.Save(ctx, doc("a", at, "tax_not_applied")))
	require.NoError(t, s.Save(ctx, doc("a", at.Add(time.Minute), "exclusion_bypass_bug")))

	all, err := s.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "exclusion_bypass_bug", all[0].Verdict)
}

func TestDelete(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Save(ctx, doc("a", time.Now().UTC(), "tax_not_applied")))

	require.NoError(t, s.Delete(ctx, "a"))
	_, err := s.Get(ctx, "a")
	assert.ErrorIs(t, err, ErrNotFound)
	all, err := s.List(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, all)

	assert.ErrorIs(t, s.Delete(ctx, "a"), ErrNotFound)
}

func TestPersistentReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s, err := Open(DefaultConfig(dir))
	require.NoError(t, err)
	require.NoError(t, s.Save(ctx, doc("p", time.Now().UTC(), "tax_not_applied")))
	require.NoError(t, s.Close())
	require.NoError(t, s.Close(), "close is idempotent")

	s2, err := Open(DefaultConfig(dir))
	require.NoError(t, err)
	defer s2.Close()
	got, err := s2.Get(ctx, "p")
	require.NoError(t, err)
	assert.Equal(t, "p", got.ID)
}

func TestOpen_RequiresPath(t *testing.T) {
	_, err := Open(Config{})
	assert.Error(t, err)
}

func TestCancelledContext(t *testing.T) {
	s := openTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, s.Save(ctx, doc("a", time.Now(), "x")), context.Canceled)
	_, err := s.Get(ctx, "a")
	assert.ErrorIs(t, err, context.Canceled)
}
