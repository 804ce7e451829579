package riskhttp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"riskcore/internal/bus"
	"riskcore/internal/config"
	"riskcore/internal/consensus"
	"riskcore/internal/gateway/eventsink"
	"riskcore/internal/orchestrator"
	"riskcore/internal/risk"
	"riskcore/internal/safeguard"
	"riskcore/internal/tpsl"
	"riskcore/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeOrders struct {
	submitRes  orchestrator.SubmitResult
	submitErr  error
	stopErr    error
	lastBotID  string
	lastIntent types.OrderIntent
	decisions  int
}

func (f *fakeOrders) SubmitOrder(_ context.Context, botID string, intent types.OrderIntent) (orchestrator.SubmitResult, error) {
	f.lastBotID = botID
	f.lastIntent = intent
	return f.submitRes, f.submitErr
}

func (f *fakeOrders) EmergencyStop(context.Context, string) error { return f.stopErr }

func (f *fakeOrders) RecordDecision(string, eventsink.Kind, string, map[string]any) {
	f.decisions++
}

type fakePortfolio struct {
	snap types.PortfolioSnapshot
	err  error
}

func (f *fakePortfolio) Get() (types.PortfolioSnapshot, error) { return f.snap, f.err }

func (f *fakePortfolio) GetFresh(context.Context) (types.PortfolioSnapshot, error) {
	return f.snap, f.err
}

type harness struct {
	server *Server
	orders *fakeOrders
	guards *safeguard.Manager
	cons   *consensus.Engine
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	orders := &fakeOrders{submitRes: orchestrator.SubmitResult{Status: orchestrator.StatusSubmitted, OrderID: "alpha:BTCUSDT:1"}}
	guards := safeguard.NewManager(config.SafeguardsConfig{
		BreakerThreshold:      5,
		BreakerTimeoutSeconds: 60,
		BreakerHalfOpenMax:    2,
		MaxDrawdownPct:        5,
		MaxOrdersPerMinute:    100,
	})
	cons := consensus.NewEngine(config.ConsensusConfig{
		MinVotes:             2,
		Threshold:            0.5,
		TimeoutSeconds:       30,
		SweepIntervalSeconds: 5,
	})
	calc := tpsl.NewCalculator(config.TPSLConfig{
		BaseTPPct: 0.025, BaseSLPct: 0.015,
		MinTPPct: 0.015, MaxTPPct: 0.08,
		MinSLPct: 0.008, MaxSLPct: 0.04,
		MinRewardRisk:         1.5,
		TrailingActivationPct: 0.02, TrailingDistancePct: 0.012,
		MinTradesForWinRateAdj: 5,
	}, nil, nil)
	pf := &fakePortfolio{snap: types.PortfolioSnapshot{
		Balance: 10000, PeakBalance: 10000, Timestamp: time.Now(),
	}}

	routes := NewRouter(orders, pf, guards, cons, calc, bus.NewManager(50))
	server, err := NewServer(ServerConfig{Addr: ":0", Routes: routes})
	require.NoError(t, err)
	return &harness{server: server, orders: orders, guards: guards, cons: cons}
}

func (h *harness) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestHealthz(t *testing.T) {
	h := newHarness(t)
	rec := h.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSubmitOrderOK(t *testing.T) {
	h := newHarness(t)
	rec := h.do(t, http.MethodPost, "/order/alpha", `{"symbol":"BTCUSDT","side":"BUY","notional":100}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "alpha", h.orders.lastBotID)
	assert.Equal(t, "BTCUSDT", h.orders.lastIntent.Symbol)
	assert.Equal(t, orchestrator.StatusSubmitted, decodeJSON(t, rec)["status"])
}

func TestSubmitOrderMalformedBody(t *testing.T) {
	h := newHarness(t)
	rec := h.do(t, http.MethodPost, "/order/alpha", `{"symbol":"BTCUSDT","side":"HOLD","notional":100}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSubmitOrderGuardrailMapsTo400(t *testing.T) {
	h := newHarness(t)
	h.orders.submitErr = risk.Reject(risk.CodeKillSwitch, "kill switch active")

	rec := h.do(t, http.MethodPost, "/order/alpha", `{"symbol":"BTCUSDT","side":"BUY","notional":100}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeJSON(t, rec)
	assert.Equal(t, risk.CodeKillSwitch, body["code"])
	assert.Equal(t, false, body["approved"])
}

func TestSubmitOrderDegradedMapsTo503(t *testing.T) {
	h := newHarness(t)
	h.orders.submitErr = risk.Reject(risk.CodeServiceDegraded, "breaker open")

	rec := h.do(t, http.MethodPost, "/order/alpha", `{"symbol":"BTCUSDT","side":"BUY","notional":100}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestEmergencyStopAlwaysHalts(t *testing.T) {
	h := newHarness(t)
	rec := h.do(t, http.MethodPost, "/emergency_stop", `{"reason":"operator"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "halted", decodeJSON(t, rec)["status"])
}

func TestRegisterDecisionAccepted(t *testing.T) {
	h := newHarness(t)
	rec := h.do(t, http.MethodPost, "/register_decision",
		`{"bot_id":"alpha","kind":"reasoning","symbol":"BTCUSDT","payload":{"note":"watching"}}`)

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, 1, h.orders.decisions)
}

func TestPortfolioEndpoint(t *testing.T) {
	h := newHarness(t)
	rec := h.do(t, http.MethodGet, "/portfolio", "")

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeJSON(t, rec)
	assert.Equal(t, 10000.0, body["balance"])
	assert.Equal(t, 0.0, body["drawdown_pct"])
}

func TestKillSwitchEndpoints(t *testing.T) {
	h := newHarness(t)

	rec := h.do(t, http.MethodPost, "/safeguards/kill_switch", `{"reason":"drill"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	active, reason, _ := h.guards.KillSwitch()
	assert.True(t, active)
	assert.Equal(t, "drill", reason)

	rec = h.do(t, http.MethodGet, "/safeguards", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decodeJSON(t, rec)["kill_switch_active"])

	rec = h.do(t, http.MethodDelete, "/safeguards/kill_switch", "")
	require.Equal(t, http.StatusOK, rec.Code)
	active, _, _ = h.guards.KillSwitch()
	assert.False(t, active)
}

func TestConsensusEndpointsFlow(t *testing.T) {
	h := newHarness(t)

	rec := h.do(t, http.MethodPost, "/consensus/proposals",
		`{"proposer_id":"alpha","rationale":"momentum","intent":{"symbol":"BTCUSDT","side":"BUY","notional":500}}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	proposalID := decodeJSON(t, rec)["id"].(string)
	require.NotEmpty(t, proposalID)

	rec = h.do(t, http.MethodGet, "/consensus/proposals", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = h.do(t, http.MethodPost, "/consensus/proposals/"+proposalID+"/votes",
		`{"voter_id":"bravo","approve":true}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, consensus.StatusPending, decodeJSON(t, rec)["status"])

	rec = h.do(t, http.MethodPost, "/consensus/proposals/"+proposalID+"/votes",
		`{"voter_id":"charlie","approve":true}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, consensus.StatusApproved, decodeJSON(t, rec)["status"])

	rec = h.do(t, http.MethodGet, "/consensus/proposals/"+proposalID, "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = h.do(t, http.MethodPost, "/consensus/proposals/missing/votes", `{"voter_id":"x","approve":true}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCalculateTPSLEndpoint(t *testing.T) {
	h := newHarness(t)
	rec := h.do(t, http.MethodPost, "/tpsl/calculate",
		`{"symbol":"BTCUSDT","side":"BUY","entry_price":100,"confidence":0.7}`)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeJSON(t, rec)
	assert.Equal(t, 102.5, body["tp_price"])
	assert.Equal(t, 98.5, body["sl_price"])

	rec = h.do(t, http.MethodPost, "/tpsl/calculate", `{"symbol":"BTCUSDT","side":"BUY","entry_price":0}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
