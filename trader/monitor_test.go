package trader

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hypercore/exchange"
	"hypercore/risk"
	"hypercore/signal"
)

func trackPosition(o *Orchestrator, symbol string, side signal.Side, notional, entry float64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.positions[symbol] = risk.OpenPosition{
		Symbol: symbol, Side: side, NotionalUSD: notional, EntryPrice: entry,
		OpenedAt: time.Now().Add(-time.Hour),
	}
}

func TestReconcileSettlesVanishedLong(t *testing.T) {
	exec := &fakeExecutor{
		accountValue: 10000,
		positions: []exchange.PositionState{
			{Symbol: "ETH", SignedSize: 2, PositionValue: 6000},
		},
	}
	rec := &memRecorder{}
	o := newTestOrchestrator(t, liveConfig(), exec, rec)

	trackPosition(o, "BTC", signal.SideLong, 500, 100)
	trackPosition(o, "ETH", signal.SideLong, 6000, 2900)
	o.mu.Lock()
	o.marks["BTC"] = 110 // 最近标记价高于入场，多头盈利
	o.mu.Unlock()

	o.reconcile(context.Background())

	// BTC 在交易所侧消失，结算 10% 盈利；ETH 仍在
	require.Len(t, rec.closes, 1)
	c := rec.closes[0]
	assert.Equal(t, "BTC", c.Symbol)
	assert.Equal(t, signal.SideLong, c.Side)
	assert.InDelta(t, 50, c.RealizedPnl, 1e-9)
	assert.False(t, c.ClosedAt.IsZero())

	_, pnl := o.DailyStats()
	assert.InDelta(t, 50, pnl, 1e-9)
	require.Len(t, o.OpenPositions(), 1)
	assert.Equal(t, "ETH", o.OpenPositions()[0].Symbol)
}

func TestReconcileShortPnlInverted(t *testing.T) {
	exec := &fakeExecutor{accountValue: 10000}
	rec := &memRecorder{}
	o := newTestOrchestrator(t, liveConfig(), exec, rec)

	trackPosition(o, "SOL", signal.SideShort, 1000, 200)
	o.mu.Lock()
	o.marks["SOL"] = 180 // 价格下跌 10%，空头盈利
	o.mu.Unlock()

	o.reconcile(context.Background())

	require.Len(t, rec.closes, 1)
	assert.InDelta(t, 100, rec.closes[0].RealizedPnl, 1e-9)
}

func TestReconcileUpdatesMarksFromPositionValue(t *testing.T) {
	exec := &fakeExecutor{
		accountValue: 10000,
		positions: []exchange.PositionState{
			{Symbol: "BTC", SignedSize: -0.5, PositionValue: 25000},
		},
	}
	o := newTestOrchestrator(t, liveConfig(), exec, nil)
	trackPosition(o, "BTC", signal.SideShort, 25000, 52000)

	o.reconcile(context.Background())

	o.mu.RLock()
	defer o.mu.RUnlock()
	assert.InDelta(t, 50000, o.marks["BTC"], 1e-9)
	assert.Contains(t, o.positions, "BTC", "仍在交易所侧的持仓不应被结算")
}

func TestReconcileNoMarkFallsBackToEntry(t *testing.T) {
	exec := &fakeExecutor{accountValue: 10000}
	rec := &memRecorder{}
	o := newTestOrchestrator(t, liveConfig(), exec, rec)

	trackPosition(o, "BTC", signal.SideLong, 500, 100)

	o.reconcile(context.Background())

	require.Len(t, rec.closes, 1)
	assert.InDelta(t, 100, rec.closes[0].MarkPrice, 1e-9)
	assert.Zero(t, rec.closes[0].RealizedPnl)
}

func TestReconcileDryRunSkipsVenue(t *testing.T) {
	cfg := DefaultConfig()
	require.True(t, cfg.DryRun)
	exec := &fakeExecutor{
		accountErr: errVenueDown,
		midPrices:  map[string]float64{"BTC": 105},
	}
	o := newTestOrchestrator(t, cfg, exec, nil)
	trackPosition(o, "BTC", signal.SideLong, 500, 100)

	o.reconcile(context.Background())

	// 模拟模式不访问账户接口，仅刷新标记价，不结算
	o.mu.RLock()
	defer o.mu.RUnlock()
	assert.InDelta(t, 105, o.marks["BTC"], 1e-9)
	assert.Contains(t, o.positions, "BTC")
}

func TestReconcileAccountErrorLeavesState(t *testing.T) {
	exec := &fakeExecutor{accountErr: errVenueDown}
	rec := &memRecorder{}
	o := newTestOrchestrator(t, liveConfig(), exec, rec)
	trackPosition(o, "BTC", signal.SideLong, 500, 100)

	o.reconcile(context.Background())

	assert.Empty(t, rec.closes, "拉取失败不应误判平仓")
	assert.Len(t, o.OpenPositions(), 1)
}

func TestMonitorStopsOnStop(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MonitorInterval = 5 * time.Millisecond
	o := newTestOrchestrator(t, cfg, &fakeExecutor{}, nil)

	o.mu.Lock()
	o.isRunning = true
	o.mu.Unlock()

	o.StartMonitor(context.Background())
	time.Sleep(20 * time.Millisecond)
	o.Stop()
	// Stop 内部 wg.Wait，返回即说明监控协程已退出
}

var errVenueDown = errors.New("venue down")
