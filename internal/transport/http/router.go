package riskhttp

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"riskcore/internal/bus"
	"riskcore/internal/consensus"
	"riskcore/internal/decision"
	"riskcore/internal/gateway/eventsink"
	"riskcore/internal/logger"
	"riskcore/internal/orchestrator"
	"riskcore/internal/risk"
	"riskcore/internal/safeguard"
	"riskcore/internal/tpsl"
	"riskcore/internal/types"
)

// OrderService is the orchestrator surface the router needs.
type OrderService interface {
	SubmitOrder(ctx context.Context, botID string, intent types.OrderIntent) (orchestrator.SubmitResult, error)
	EmergencyStop(ctx context.Context, reason string) error
	RecordDecision(botID string, kind eventsink.Kind, symbol string, payload map[string]any)
}

// PortfolioReader serves the portfolio endpoint.
type PortfolioReader interface {
	Get() (types.PortfolioSnapshot, error)
	GetFresh(ctx context.Context) (types.PortfolioSnapshot, error)
}

// Router exposes the risk core API.
type Router struct {
	Orders     OrderService
	Portfolio  PortfolioReader
	Safeguards *safeguard.Manager
	Consensus  *consensus.Engine
	Calculator *tpsl.Calculator
	Bus        *bus.Manager

	upgrader websocket.Upgrader
}

func NewRouter(orders OrderService, pf PortfolioReader, guards *safeguard.Manager, cons *consensus.Engine, calc *tpsl.Calculator, b *bus.Manager) *Router {
	return &Router{
		Orders:     orders,
		Portfolio:  pf,
		Safeguards: guards,
		Consensus:  cons,
		Calculator: calc,
		Bus:        b,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// Register mounts every route under the given group.
func (r *Router) Register(group *gin.RouterGroup) {
	if group == nil {
		return
	}
	group.POST("/order/:bot_id", r.handleSubmitOrder)
	group.POST("/emergency_stop", r.handleEmergencyStop)
	group.POST("/register_decision", r.handleRegisterDecision)
	group.GET("/portfolio", r.handlePortfolio)

	group.GET("/safeguards", r.handleSafeguards)
	group.POST("/safeguards/kill_switch", r.handleKillSwitchOn)
	group.DELETE("/safeguards/kill_switch", r.handleKillSwitchOff)

	group.POST("/consensus/proposals", r.handleRegisterProposal)
	group.GET("/consensus/proposals", r.handleListProposals)
	group.GET("/consensus/proposals/:id", r.handleGetProposal)
	group.POST("/consensus/proposals/:id/votes", r.handleCastVote)

	group.POST("/tpsl/calculate", r.handleCalculateTPSL)
	group.GET("/ws/:session_id", r.handleWebsocket)
}

func (r *Router) handleSubmitOrder(c *gin.Context) {
	botID := c.Param("bot_id")
	raw, err := io.ReadAll(io.LimitReader(c.Request.Body, 1<<20))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "read body: " + err.Error()})
		return
	}
	intent, err := decision.ParseOrderIntent(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, err := r.Orders.SubmitOrder(c.Request.Context(), botID, intent)
	if err != nil {
		var gerr *risk.GuardrailError
		if errors.As(err, &gerr) {
			status := http.StatusBadRequest
			if gerr.Degraded() {
				status = http.StatusServiceUnavailable
			}
			c.JSON(status, gin.H{"approved": false, "code": gerr.Code, "reason": gerr.Reason})
			return
		}
		logger.Errorf("Order submission for %s failed: %v", botID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "order submission failed"})
		return
	}
	c.JSON(http.StatusOK, res)
}

func (r *Router) handleEmergencyStop(c *gin.Context) {
	var req struct {
		Reason string `json:"reason"`
	}
	_ = c.ShouldBindJSON(&req)
	if req.Reason == "" {
		req.Reason = "manual emergency stop"
	}

	err := r.Orders.EmergencyStop(c.Request.Context(), req.Reason)
	resp := gin.H{"status": "halted"}
	if err != nil {
		resp["cancel_errors"] = err.Error()
	}
	c.JSON(http.StatusOK, resp)
}

func (r *Router) handleRegisterDecision(c *gin.Context) {
	var req struct {
		BotID   string         `json:"bot_id"`
		Kind    string         `json:"kind"`
		Symbol  string         `json:"symbol"`
		Payload map[string]any `json:"payload"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	kind := eventsink.Kind(req.Kind)
	switch kind {
	case eventsink.KindDecision, eventsink.KindPosition, eventsink.KindReasoning:
	default:
		kind = eventsink.KindDecision
	}
	r.Orders.RecordDecision(req.BotID, kind, req.Symbol, req.Payload)
	c.JSON(http.StatusAccepted, gin.H{"status": "recorded"})
}

func (r *Router) handlePortfolio(c *gin.Context) {
	snap, err := r.Portfolio.GetFresh(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"balance":        snap.Balance,
		"equity":         snap.Equity(),
		"total_exposure": snap.TotalExposure,
		"unrealized_pnl": snap.UnrealizedPnL,
		"peak_balance":   snap.PeakBalance,
		"drawdown_pct":   snap.DrawdownPct(),
		"positions":      snap.Positions,
		"timestamp":      snap.Timestamp,
	})
}

func (r *Router) handleSafeguards(c *gin.Context) {
	c.JSON(http.StatusOK, r.Safeguards.Status())
}

func (r *Router) handleKillSwitchOn(c *gin.Context) {
	var req struct {
		Reason string `json:"reason"`
	}
	_ = c.ShouldBindJSON(&req)
	if req.Reason == "" {
		req.Reason = "manual activation"
	}
	r.Safeguards.ActivateKillSwitch(req.Reason)
	c.JSON(http.StatusOK, gin.H{"kill_switch_active": true})
}

func (r *Router) handleKillSwitchOff(c *gin.Context) {
	r.Safeguards.DeactivateKillSwitch()
	c.JSON(http.StatusOK, gin.H{"kill_switch_active": false})
}

func (r *Router) handleRegisterProposal(c *gin.Context) {
	var req struct {
		ProposerID string          `json:"proposer_id"`
		Intent     json.RawMessage `json:"intent"`
		Rationale  string          `json:"rationale"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	intent, err := decision.ParseOrderIntent(req.Intent)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	proposal, err := r.Consensus.RegisterProposal(consensus.Proposal{
		ProposerID: req.ProposerID,
		Intent:     intent,
		Rationale:  req.Rationale,
	})
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, proposal)
}

func (r *Router) handleListProposals(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"proposals": r.Consensus.Pending()})
}

func (r *Router) handleGetProposal(c *gin.Context) {
	proposal, resolution, err := r.Consensus.Get(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"proposal": proposal, "resolution": resolution})
}

func (r *Router) handleCastVote(c *gin.Context) {
	var req struct {
		VoterID string `json:"voter_id"`
		Approve bool   `json:"approve"`
		Comment string `json:"comment"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	res, err := r.Consensus.CastVote(c.Param("id"), req.VoterID, req.Approve, req.Comment)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, res)
}

func (r *Router) handleCalculateTPSL(c *gin.Context) {
	var in tpsl.Input
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	res, err := r.Calculator.Calculate(c.Request.Context(), in)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, res)
}

// handleWebsocket joins the caller to a session bus. The handler blocks in
// the read loop for the lifetime of the connection.
func (r *Router) handleWebsocket(c *gin.Context) {
	sessionID := c.Param("session_id")
	conn, err := r.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warnf("Websocket upgrade for session %s failed: %v", sessionID, err)
		return
	}
	wsConn := bus.NewWSConnection(conn)
	if err := r.Bus.Register(sessionID, wsConn); err != nil {
		logger.Warnf("Websocket replay for session %s failed: %v", sessionID, err)
		return
	}
	wsConn.ReadLoop(r.Bus, sessionID)
}
