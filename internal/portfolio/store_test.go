package portfolio

import (
	"context"
	"errors"
	"testing"
	"time"

	"riskcore/internal/gateway/exchange"
	"riskcore/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockGateway struct {
	mock.Mock
}

func (m *MockGateway) Name() string { return "mock" }

func (m *MockGateway) PlaceOrder(ctx context.Context, payload types.OrderPayload) (exchange.PlacedOrder, error) {
	args := m.Called(ctx, payload)
	return args.Get(0).(exchange.PlacedOrder), args.Error(1)
}

func (m *MockGateway) CancelAllOrders(ctx context.Context, symbol string) error {
	args := m.Called(ctx, symbol)
	return args.Error(0)
}

func (m *MockGateway) AccountBalance(ctx context.Context) (exchange.AccountBalance, error) {
	args := m.Called(ctx)
	return args.Get(0).(exchange.AccountBalance), args.Error(1)
}

func (m *MockGateway) PositionRisk(ctx context.Context) ([]exchange.PositionRisk, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]exchange.PositionRisk), args.Error(1)
}

func (m *MockGateway) LastPrice(ctx context.Context, symbol string) (float64, error) {
	args := m.Called(ctx, symbol)
	return args.Get(0).(float64), args.Error(1)
}

func (m *MockGateway) Candles(ctx context.Context, symbol, interval string, limit int) ([]exchange.Candle, error) {
	args := m.Called(ctx, symbol, interval, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]exchange.Candle), args.Error(1)
}

func TestGetBeforeFirstRefresh(t *testing.T) {
	store := NewStore(new(MockGateway), time.Minute)
	_, err := store.Get()
	assert.ErrorIs(t, err, ErrNotReady)
}

func TestRefreshComputesExposureAndPnL(t *testing.T) {
	gw := new(MockGateway)
	gw.On("AccountBalance", mock.Anything).Return(exchange.AccountBalance{Asset: "USDT", Balance: 1000}, nil)
	gw.On("PositionRisk", mock.Anything).Return([]exchange.PositionRisk{
		{Symbol: "BTCUSDT", Notional: 600, UnrealizedPnL: 25},
		{Symbol: "ETHUSDT", Notional: -400, UnrealizedPnL: -10},
	}, nil)

	store := NewStore(gw, time.Minute)
	snap, err := store.Refresh(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1000.0, snap.Balance)
	assert.Equal(t, 1000.0, snap.TotalExposure, "exposure sums absolute notionals")
	assert.Equal(t, 15.0, snap.UnrealizedPnL)
	assert.Equal(t, 1015.0, snap.PeakBalance)
	assert.Equal(t, -400.0, snap.Notional("ETHUSDT"))
}

func TestPeakBalanceIsMonotonic(t *testing.T) {
	gw := new(MockGateway)
	store := NewStore(gw, time.Minute)

	for i, b := range []float64{2000, 1000} {
		gw.ExpectedCalls = nil
		gw.On("AccountBalance", mock.Anything).Return(exchange.AccountBalance{Asset: "USDT", Balance: b}, nil).Once()
		gw.On("PositionRisk", mock.Anything).Return([]exchange.PositionRisk{}, nil).Once()
		snap, err := store.Refresh(context.Background())
		require.NoError(t, err)
		if i == 1 {
			assert.Equal(t, 2000.0, snap.PeakBalance, "peak must not fall with balance")
			assert.InDelta(t, 50.0, snap.DrawdownPct(), 1e-9)
		}
	}
}

func TestFailedRefreshKeepsCache(t *testing.T) {
	gw := new(MockGateway)
	gw.On("AccountBalance", mock.Anything).Return(exchange.AccountBalance{Asset: "USDT", Balance: 500}, nil).Once()
	gw.On("PositionRisk", mock.Anything).Return([]exchange.PositionRisk{}, nil).Once()

	store := NewStore(gw, time.Nanosecond) // force staleness on next read
	_, err := store.Refresh(context.Background())
	require.NoError(t, err)

	gw.On("AccountBalance", mock.Anything).Return(exchange.AccountBalance{}, errors.New("exchange down"))

	snap, err := store.GetFresh(context.Background())
	require.NoError(t, err, "stale-but-available beats unavailable")
	assert.Equal(t, 500.0, snap.Balance)
}
