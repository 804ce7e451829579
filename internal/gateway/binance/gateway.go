package binance

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"riskcore/internal/config"
	"riskcore/internal/gateway/exchange"
	"riskcore/internal/types"

	"github.com/adshao/go-binance/v2/futures"
	"golang.org/x/time/rate"
)

// Gateway implements exchange.Gateway on Binance USD-M futures.
// Every REST call waits on a shared rate limiter before hitting the API.
type Gateway struct {
	client  *futures.Client
	limiter *rate.Limiter
}

func New(cfg config.ExchangeConfig) (*Gateway, error) {
	if cfg.Testnet {
		futures.UseTestnet = true
	}
	client := futures.NewClient(cfg.APIKey, cfg.APISecret)
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	client.HTTPClient = &http.Client{Timeout: timeout}
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 8
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = int(rps) * 2
	}
	return &Gateway{
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
	}, nil
}

func (g *Gateway) Name() string { return "binance" }

func (g *Gateway) PlaceOrder(ctx context.Context, payload types.OrderPayload) (exchange.PlacedOrder, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return exchange.PlacedOrder{}, err
	}
	svc := g.client.NewCreateOrderService().
		Symbol(cleanSymbol(payload.Symbol)).
		Side(futures.SideType(payload.Side)).
		Quantity(formatQty(payload.Quantity)).
		NewClientOrderID(payload.OrderID)
	switch payload.Type {
	case types.OrderTypeLimit:
		svc = svc.Type(futures.OrderTypeLimit).
			Price(formatQty(payload.Price)).
			TimeInForce(futures.TimeInForceTypeGTC)
	default:
		svc = svc.Type(futures.OrderTypeMarket)
	}
	resp, err := svc.Do(ctx)
	if err != nil {
		return exchange.PlacedOrder{}, fmt.Errorf("binance create order: %w", err)
	}
	return exchange.PlacedOrder{
		ExchangeOrderID: strconv.FormatInt(resp.OrderID, 10),
		ClientOrderID:   resp.ClientOrderID,
		Status:          string(resp.Status),
		SubmittedAt:     time.Now().UTC(),
	}, nil
}

func (g *Gateway) CancelAllOrders(ctx context.Context, symbol string) error {
	if err := g.limiter.Wait(ctx); err != nil {
		return err
	}
	if err := g.client.NewCancelAllOpenOrdersService().Symbol(cleanSymbol(symbol)).Do(ctx); err != nil {
		return fmt.Errorf("binance cancel all (%s): %w", symbol, err)
	}
	return nil
}

func (g *Gateway) AccountBalance(ctx context.Context) (exchange.AccountBalance, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return exchange.AccountBalance{}, err
	}
	balances, err := g.client.NewGetBalanceService().Do(ctx)
	if err != nil {
		return exchange.AccountBalance{}, fmt.Errorf("binance balance: %w", err)
	}
	for _, b := range balances {
		if b == nil || b.Asset != "USDT" {
			continue
		}
		return exchange.AccountBalance{
			Asset:     b.Asset,
			Balance:   parseFloat(b.Balance),
			Available: parseFloat(b.AvailableBalance),
		}, nil
	}
	return exchange.AccountBalance{Asset: "USDT"}, nil
}

func (g *Gateway) PositionRisk(ctx context.Context) ([]exchange.PositionRisk, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	risks, err := g.client.NewGetPositionRiskService().Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("binance position risk: %w", err)
	}
	out := make([]exchange.PositionRisk, 0, len(risks))
	for _, r := range risks {
		if r == nil {
			continue
		}
		amt := parseFloat(r.PositionAmt)
		if amt == 0 {
			continue
		}
		mark := parseFloat(r.MarkPrice)
		out = append(out, exchange.PositionRisk{
			Symbol:        r.Symbol,
			Notional:      amt * mark,
			EntryPrice:    parseFloat(r.EntryPrice),
			MarkPrice:     mark,
			UnrealizedPnL: parseFloat(r.UnRealizedProfit),
			Leverage:      parseFloat(r.Leverage),
		})
	}
	return out, nil
}

func (g *Gateway) LastPrice(ctx context.Context, symbol string) (float64, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return 0, err
	}
	prices, err := g.client.NewListPricesService().Symbol(cleanSymbol(symbol)).Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("binance price (%s): %w", symbol, err)
	}
	if len(prices) == 0 || prices[0] == nil {
		return 0, fmt.Errorf("binance price (%s): empty response", symbol)
	}
	return parseFloat(prices[0].Price), nil
}

func (g *Gateway) Candles(ctx context.Context, symbol, interval string, limit int) ([]exchange.Candle, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 100
	}
	kls, err := g.client.NewKlinesService().
		Symbol(cleanSymbol(symbol)).
		Interval(strings.ToLower(strings.TrimSpace(interval))).
		Limit(limit).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("binance klines (%s %s): %w", symbol, interval, err)
	}
	out := make([]exchange.Candle, 0, len(kls))
	for _, kl := range kls {
		if kl == nil {
			continue
		}
		out = append(out, exchange.Candle{
			OpenTime:  kl.OpenTime,
			CloseTime: kl.CloseTime,
			Open:      parseFloat(kl.Open),
			High:      parseFloat(kl.High),
			Low:       parseFloat(kl.Low),
			Close:     parseFloat(kl.Close),
			Volume:    parseFloat(kl.Volume),
		})
	}
	return out, nil
}

// Binance requires symbols without separators (ETH/USDT -> ETHUSDT).
func cleanSymbol(symbol string) string {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	symbol = strings.ReplaceAll(symbol, "/", "")
	return strings.ReplaceAll(symbol, ":", "")
}

func formatQty(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func parseFloat(raw string) float64 {
	val, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return 0
	}
	return val
}
