// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/AleutianAI/feeaudit/services/taxaudit/engine"
	"github.com/AleutianAI/feeaudit/services/taxaudit/report"
	"github.com/AleutianAI/feeaudit/services/taxaudit/scenario"
	"github.com/AleutianAI/feeaudit/services/taxaudit/simledger"
	"github.com/AleutianAI/feeaudit/services/taxaudit/store"
	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

var (
	pair       = common.HexToAddress("0x1000000000000000000000000000000000000001")
	router     = common.HexToAddress("0x2000000000000000000000000000000000000002")
	foundation = common.HexToAddress("0x3000000000000000000000000000000000000003")
	trader     = common.HexToAddress("0x5000000000000000000000000000000000000005")
)

type testServer struct {
	engine  *gin.Engine
	reports *store.ReportStore
}

func newTestServer(t *testing.T, mutate func(*simledger.Config)) testServer {
	t.Helper()
	cfg := simledger.Config{
		Pair:              pair,
		Router:            router,
		Foundation:        foundation,
		LiquidityProvider: router,
		Policy:            engine.TaxPolicy{BurnBps: 125, FoundationBps: 125, PairGateEnabled: true},
		TradingEnabled:    true,
		Balances:          map[common.Address]*uint256.Int{trader: uint256.NewInt(1_000_000)},
		BaseBalances:      map[common.Address]*uint256.Int{trader: uint256.NewInt(1_000_000)},
		PoolToken:         uint256.NewInt(100_000_000),
		PoolBase:          uint256.NewInt(100_000_000),
	}
	if mutate != nil {
		mutate(&cfg)
	}
	ledger, err := simledger.New(cfg)
	require.NoError(t, err)
	runner, err := scenario.NewRunner(ledger, ledger, scenario.Config{Pair: pair, Foundation: foundation, ToleranceBps: 2})
	require.NoError(t, err)

	reports, err := store.Open(store.InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = reports.Close() })

	return testServer{
		engine: NewRouter(Deps{
			Diagnoser: runner,
			Reports:   reports,
			Metrics:   promhttp.Handler(),
			Source:    "simulation",
		}),
		reports: reports,
	}
}

func (s testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, nil)
	w := s.do(t, http.MethodGet, "/v1/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestMetricsRoute(t *testing.T) {
	s := newTestServer(t, nil)
	w := s.do(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRunDiagnostic_StoresReport(t *testing.T) {
	s := newTestServer(t, nil)

	w := s.do(t, http.MethodPost, "/v1/diagnostics", map[string]any{
		"trader":     trader.Hex(),
		"buy_amount": "10000",
		"pin_state":  true,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var doc report.Document
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &doc))
	require.NotNil(t, doc.Diagnosis)
	assert.Equal(t, "expected_behavior_confirmed", doc.Diagnosis.Verdict)
	assert.Equal(t, "simulation", doc.Source)
	assert.Len(t, doc.Scenarios, 2)

	w = s.do(t, http.MethodGet, "/v1/reports/"+doc.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var stored report.Document
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stored))
	assert.Equal(t, doc.ID, stored.ID)

	w = s.do(t, http.MethodGet, "/v1/reports", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Reports []report.Summary `json:"reports"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list.Reports, 1)
	assert.Equal(t, doc.ID, list.Reports[0].ID)
}

func TestRunDiagnostic_BadRequest(t *testing.T) {
	s := newTestServer(t, nil)
	tests := []struct {
		name string
		body map[string]any
	}{
		{"missing trader", map[string]any{"buy_amount": "1000"}},
		{"bad trader", map[string]any{"trader": "0x1234", "buy_amount": "1000"}},
		{"missing amount", map[string]any{"trader": trader.Hex()}},
		{"non numeric amount", map[string]any{"trader": trader.Hex(), "buy_amount": "lots"}},
		{"zero amount", map[string]any{"trader": trader.Hex(), "buy_amount": "0"}},
		{"trader is pair", map[string]any{"trader": pair.Hex(), "buy_amount": "1000"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			w := s.do(t, http.MethodPost, "/v1/diagnostics", tc.body)
			assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
		})
	}
}

func TestRunDiagnostic_GatewayFailure(t *testing.T) {
	s := newTestServer(t, func(c *simledger.Config) { c.TradingEnabled = false })

	w := s.do(t, http.MethodPost, "/v1/diagnostics", map[string]any{
		"trader":     trader.Hex(),
		"buy_amount": "10000",
	})
	require.Equal(t, http.StatusBadGateway, w.Code)

	var body errorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Contains(t, body.Error, simledger.ReasonTradingDisabled)
	require.NotNil(t, body.Report)
	assert.Nil(t, body.Report.Diagnosis)

	w = s.do(t, http.MethodGet, "/v1/reports/"+body.Report.ID, nil)
	assert.Equal(t, http.StatusOK, w.Code, "inconclusive runs are kept")
}

func TestInspect(t *testing.T) {
	s := newTestServer(t, func(c *simledger.Config) { c.ExplicitExclusions = []common.Address{pair} })

	w := s.do(t, http.MethodPost, "/v1/inspections", map[string]any{"trader": trader.Hex()})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var doc report.Document
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &doc))
	assert.Equal(t, report.KindInspection, doc.Kind)
	assert.Equal(t, "exclusion_bypass_bug", doc.Diagnosis.Verdict)
	assert.Equal(t, []string{pair.Hex()}, doc.Exclusion.ExplicitSet)
}

func TestGetReport_NotFound(t *testing.T) {
	s := newTestServer(t, nil)
	w := s.do(t, http.MethodGet, "/v1/reports/nope", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListReports_Limit(t *testing.T) {
	s := newTestServer(t, nil)
	for _, raw := range []string{"0", "-1", "x"} {
		w := s.do(t, http.MethodGet, "/v1/reports?limit="+raw, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code, raw)
	}
	w := s.do(t, http.MethodGet, "/v1/reports?limit=5", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"reports":[]}`, w.Body.String())
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{scenario.ErrInvalidParams, http.StatusBadRequest},
		{&scenario.TimeoutError{Kind: engine.Buy}, http.StatusGatewayTimeout},
		{&scenario.GatewayError{Kind: engine.Sell, Reason: "x"}, http.StatusBadGateway},
		{assert.AnError, http.StatusInternalServerError},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, statusFor(tc.err), tc.err.Error())
	}
}
