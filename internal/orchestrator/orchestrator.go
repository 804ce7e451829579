package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"riskcore/internal/allocation"
	"riskcore/internal/config"
	"riskcore/internal/gateway/eventsink"
	"riskcore/internal/gateway/exchange"
	"riskcore/internal/idempotency"
	"riskcore/internal/logger"
	"riskcore/internal/portfolio"
	"riskcore/internal/risk"
	"riskcore/internal/safeguard"
	"riskcore/internal/types"
)

// Submission outcome statuses.
const (
	StatusSubmitted = "submitted"
	StatusDuplicate = "duplicate"
	StatusHalted    = "halted"
)

// SubmitResult is the response for an accepted (or deduplicated) order.
type SubmitResult struct {
	Status           string  `json:"status"`
	OrderID          string  `json:"order_id,omitempty"`
	ExchangeOrderID  string  `json:"exchange_order_id,omitempty"`
	AdjustedSize     float64 `json:"adjusted_size,omitempty"`
	AdjustedLeverage float64 `json:"adjusted_leverage,omitempty"`
	MaxLossUSD       float64 `json:"max_loss_usd,omitempty"`
}

// PortfolioSource yields the current portfolio snapshot.
type PortfolioSource interface {
	GetFresh(ctx context.Context) (types.PortfolioSnapshot, error)
}

// Allocator resolves an agent's capital sub-allocation in USD.
type Allocator interface {
	CapUSD(agentID string, balance float64) float64
}

var (
	_ PortfolioSource = (*portfolio.Store)(nil)
	_ Allocator       = (*allocation.Table)(nil)
)

// Orchestrator is the single entry point for order submissions. It runs
// the full gate sequence and forwards approved, decorated orders to the
// exchange. Rejections come back as *risk.GuardrailError; any other error
// is a fault, not a verdict.
type Orchestrator struct {
	limits     config.RiskConfig
	engine     *risk.Engine
	portfolio  PortfolioSource
	alloc      Allocator
	safeguards *safeguard.Manager
	idem       idempotency.Store
	idemTTL    time.Duration
	gateway    exchange.Gateway
	events     eventsink.Sink
}

func New(
	limits config.RiskConfig,
	engine *risk.Engine,
	pf PortfolioSource,
	alloc Allocator,
	safeguards *safeguard.Manager,
	idem idempotency.Store,
	idemTTL time.Duration,
	gw exchange.Gateway,
	events eventsink.Sink,
) *Orchestrator {
	if events == nil {
		events = eventsink.Nop{}
	}
	if idemTTL <= 0 {
		idemTTL = 2 * time.Minute
	}
	return &Orchestrator{
		limits:     limits,
		engine:     engine,
		portfolio:  pf,
		alloc:      alloc,
		safeguards: safeguards,
		idem:       idem,
		idemTTL:    idemTTL,
		gateway:    gw,
		events:     events,
	}
}

// SubmitOrder runs the gate sequence for one intent: portfolio snapshot,
// safeguards, per-order risk, portfolio-level limits, dedup, then the
// exchange. The dedup key is (bot, symbol): one in-flight order per symbol
// per agent within the idempotency TTL.
func (o *Orchestrator) SubmitOrder(ctx context.Context, botID string, intent types.OrderIntent) (SubmitResult, error) {
	botID = strings.TrimSpace(botID)
	if botID == "" {
		return SubmitResult{}, risk.Reject(risk.CodeRiskCheckFailed, "bot id required")
	}

	snap, err := o.freshSnapshot(ctx)
	if err != nil {
		return SubmitResult{}, o.reject(botID, intent, risk.Reject(risk.CodeServiceDegraded, "portfolio unavailable: %v", err))
	}

	// The fresh snapshot feeds the heat limits before the gate, so a breach
	// blocks this very order instead of waiting for the background sweep.
	o.safeguards.CheckDrawdownLimits(snap)
	if ok, code, reason := o.safeguards.CanTrade(); !ok {
		return SubmitResult{}, o.reject(botID, intent, risk.Reject(code, "%s", reason))
	}

	lastPrice := o.lastPrice(ctx, intent.Symbol)
	res := o.engine.Evaluate(snap, intent, o.alloc.CapUSD(botID, snap.Balance), lastPrice)
	if !res.Approved {
		return SubmitResult{}, o.reject(botID, intent, risk.Reject(risk.CodeRiskCheckFailed, "%s", res.Reason))
	}
	if gerr := o.checkPortfolioLimits(snap, res); gerr != nil {
		return SubmitResult{}, o.reject(botID, intent, gerr)
	}

	// Rejections never claim the dedup key; only an order that is about to
	// reach the exchange does.
	dedupKey := botID + ":" + intent.Symbol
	fresh, err := o.idem.MarkPending(dedupKey, o.idemTTL)
	if err != nil {
		return SubmitResult{}, fmt.Errorf("idempotency check %s: %w", dedupKey, err)
	}
	if !fresh {
		logger.Infof("Order %s deduplicated within TTL", dedupKey)
		return SubmitResult{Status: StatusDuplicate}, nil
	}

	payload := o.decorate(botID, intent, res, lastPrice)
	placed, err := o.place(ctx, payload)
	if err != nil {
		return SubmitResult{}, err
	}
	o.safeguards.RecordOrder()

	o.emitDecision(botID, intent, map[string]any{
		"approved":          true,
		"order_id":          payload.OrderID,
		"exchange_order_id": placed.ExchangeOrderID,
		"adjusted_size":     res.AdjustedSize,
		"adjusted_leverage": res.AdjustedLeverage,
		"max_loss_usd":      res.MaxLossUSD,
	})
	logger.Infof("Order %s forwarded: %s %s %.2f USD x%.0f (max loss %.2f)",
		payload.OrderID, intent.Side, intent.Symbol, res.AdjustedSize, res.AdjustedLeverage, res.MaxLossUSD)

	return SubmitResult{
		Status:           StatusSubmitted,
		OrderID:          payload.OrderID,
		ExchangeOrderID:  placed.ExchangeOrderID,
		AdjustedSize:     res.AdjustedSize,
		AdjustedLeverage: res.AdjustedLeverage,
		MaxLossUSD:       res.MaxLossUSD,
	}, nil
}

// EmergencyStop activates the kill switch and cancels open orders for every
// held symbol. Cancel failures are collected, never abort the sweep: a
// symbol that cannot be cancelled must not shield the rest.
func (o *Orchestrator) EmergencyStop(ctx context.Context, reason string) error {
	o.safeguards.ActivateKillSwitch(reason)

	var symbols []string
	if snap, err := o.portfolio.GetFresh(ctx); err == nil {
		for symbol := range snap.Positions {
			symbols = append(symbols, symbol)
		}
	} else {
		logger.Warnf("Emergency stop: portfolio unavailable, no positions to sweep: %v", err)
	}

	var errs []error
	for _, symbol := range symbols {
		cancelCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		err := o.gateway.CancelAllOrders(cancelCtx, symbol)
		cancel()
		if err != nil {
			logger.Errorf("Emergency stop: cancel %s failed: %v", symbol, err)
			errs = append(errs, fmt.Errorf("cancel %s: %w", symbol, err))
			continue
		}
		logger.Infof("Emergency stop: open orders cancelled for %s", symbol)
	}

	o.emit(eventsink.Event{
		ID:        uuid.NewString(),
		Kind:      eventsink.KindReasoning,
		Payload:   map[string]any{"action": "emergency_stop", "reason": reason, "symbols": len(symbols), "failures": len(errs)},
		Timestamp: time.Now().UTC(),
	})
	return errors.Join(errs...)
}

// RecordDecision forwards agent telemetry to the event sink, fire and
// forget.
func (o *Orchestrator) RecordDecision(botID string, kind eventsink.Kind, symbol string, payload map[string]any) {
	o.emit(eventsink.Event{
		ID:        uuid.NewString(),
		Kind:      kind,
		BotID:     botID,
		Symbol:    symbol,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	})
}

// freshSnapshot reads the portfolio through the api breaker.
func (o *Orchestrator) freshSnapshot(ctx context.Context) (types.PortfolioSnapshot, error) {
	b := o.safeguards.Breaker(safeguard.BreakerAPI)
	if b != nil && !b.Allow() {
		return types.PortfolioSnapshot{}, errors.New("account api breaker open")
	}
	snap, err := o.portfolio.GetFresh(ctx)
	if b != nil {
		if err != nil {
			b.RecordFailure()
		} else {
			b.RecordSuccess()
		}
	}
	return snap, err
}

// lastPrice is best effort through the market data breaker; 0 means
// unknown and sizing falls back to the intent's own numbers.
func (o *Orchestrator) lastPrice(ctx context.Context, symbol string) float64 {
	b := o.safeguards.Breaker(safeguard.BreakerMarketData)
	if b != nil && !b.Allow() {
		return 0
	}
	price, err := o.gateway.LastPrice(ctx, symbol)
	if b != nil {
		if err != nil {
			b.RecordFailure()
		} else {
			b.RecordSuccess()
		}
	}
	if err != nil {
		logger.Warnf("Last price for %s unavailable: %v", symbol, err)
		return 0
	}
	return price
}

// checkPortfolioLimits applies the account-wide limits to an already
// risk-approved order, using the post-adjustment size.
func (o *Orchestrator) checkPortfolioLimits(snap types.PortfolioSnapshot, res types.RiskCheckResult) *risk.GuardrailError {
	notional := res.AdjustedSize

	if frac := notional / max(snap.Balance, 1); frac > o.limits.KellyFractionCap {
		return risk.Reject(risk.CodeKellyFractionExceeded,
			"order is %.1f%% of balance, kelly cap is %.1f%%", frac*100, o.limits.KellyFractionCap*100)
	}
	if notional > snap.Balance*o.limits.MaxPositionRisk {
		return risk.Reject(risk.CodePositionRiskLimit,
			"notional %.2f > %.0f%% of balance %.2f", notional, o.limits.MaxPositionRisk*100, snap.Balance)
	}
	if snap.TotalExposure+notional > snap.Balance*o.limits.MaxPortfolioLeverage {
		return risk.Reject(risk.CodePortfolioExposureLimit,
			"exposure %.2f + %.2f exceeds %.1fx balance", snap.TotalExposure, notional, o.limits.MaxPortfolioLeverage)
	}
	floor := snap.PeakBalance * (1 - o.limits.MaxDrawdownPct/100)
	if snap.Equity()-res.MaxLossUSD < floor {
		return risk.Reject(risk.CodeDrawdownGuardrail,
			"worst case equity %.2f would breach drawdown floor %.2f", snap.Equity()-res.MaxLossUSD, floor)
	}
	return nil
}

// decorate builds the exchange payload from the approved result. Quantity
// is derived from the adjusted notional when a reference price is known.
func (o *Orchestrator) decorate(botID string, intent types.OrderIntent, res types.RiskCheckResult, lastPrice float64) types.OrderPayload {
	payload := types.OrderPayload{
		OrderID:         botID + ":" + res.OrderID,
		BotID:           botID,
		Symbol:          intent.Symbol,
		Side:            intent.Side,
		Type:            intent.Type,
		Notional:        res.AdjustedSize,
		Price:           intent.Price,
		Leverage:        res.AdjustedLeverage,
		StopLossPrice:   intent.StopLoss,
		TakeProfitPrice: intent.TakeProfit,
	}
	if ref := intent.ReferencePrice(lastPrice); ref > 0 {
		payload.Quantity = res.AdjustedSize / ref
	}
	if len(intent.ClientMetadata) > 0 {
		payload.ClientMetadata = make(map[string]any, len(intent.ClientMetadata)+1)
		for k, v := range intent.ClientMetadata {
			payload.ClientMetadata[k] = v
		}
		if res.AdjustedSize != intent.Notional && intent.Notional > 0 {
			payload.ClientMetadata["resized_from"] = intent.Notional
		}
	}
	return payload
}

// place forwards through the orders breaker.
func (o *Orchestrator) place(ctx context.Context, payload types.OrderPayload) (exchange.PlacedOrder, error) {
	b := o.safeguards.Breaker(safeguard.BreakerOrders)
	if b != nil && !b.Allow() {
		return exchange.PlacedOrder{}, risk.Reject(risk.CodeServiceDegraded, "order execution breaker open")
	}
	placed, err := o.gateway.PlaceOrder(ctx, payload)
	if b != nil {
		if err != nil {
			b.RecordFailure()
		} else {
			b.RecordSuccess()
		}
	}
	if err != nil {
		return exchange.PlacedOrder{}, fmt.Errorf("place order %s: %w", payload.OrderID, err)
	}
	return placed, nil
}

// reject emits a rejection decision event and passes the error through.
func (o *Orchestrator) reject(botID string, intent types.OrderIntent, gerr *risk.GuardrailError) *risk.GuardrailError {
	o.emitDecision(botID, intent, map[string]any{
		"approved": false,
		"code":     gerr.Code,
		"reason":   gerr.Reason,
	})
	logger.Infof("Order rejected for %s %s: %s", botID, intent.Symbol, gerr.Error())
	return gerr
}

func (o *Orchestrator) emitDecision(botID string, intent types.OrderIntent, payload map[string]any) {
	o.emit(eventsink.Event{
		ID:        uuid.NewString(),
		Kind:      eventsink.KindDecision,
		BotID:     botID,
		Symbol:    intent.Symbol,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	})
}

func (o *Orchestrator) emit(ev eventsink.Event) {
	if err := o.events.Publish(context.Background(), ev); err != nil {
		logger.Warnf("Event %s publish failed: %v", ev.ID, err)
	}
}
