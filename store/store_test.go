package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hypercore/pkg/logger"
	"hypercore/signal"
	"hypercore/trader"
)

func init() {
	logger.Init("", false)
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "audit.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleResult(id string, action trader.TradeAction, ts time.Time) *trader.TradeResult {
	return &trader.TradeResult{
		ID:      id,
		Success: action == trader.ActionExecuted || action == trader.ActionSimulated,
		Action:  action,
		Signal: &signal.TradeSignal{
			Symbol:     "BTC",
			Side:       signal.SideLong,
			EntryPrice: 50000,
			Confidence: 0.82,
			Timestamp:  ts,
		},
		Reason:    "test",
		Timestamp: ts,
	}
}

func TestSaveAndRecallResults(t *testing.T) {
	s := newTestStore(t)
	ts := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, s.SaveResult(sampleResult("a", trader.ActionExecuted, ts)))
	require.NoError(t, s.SaveResult(sampleResult("b", trader.ActionRejected, ts.Add(time.Minute))))

	results, err := s.RecentResults(10)
	require.NoError(t, err)
	require.Len(t, results, 2)
	// 新的在前
	assert.Equal(t, "b", results[0].ID)
	assert.Equal(t, trader.ActionRejected, results[0].Action)
	assert.Equal(t, "a", results[1].ID)
	require.NotNil(t, results[1].Signal)
	assert.Equal(t, "BTC", results[1].Signal.Symbol)
	assert.InDelta(t, 0.82, results[1].Signal.Confidence, 1e-9)
}

func TestDailyStatsCountsOnlyAdvancingActions(t *testing.T) {
	s := newTestStore(t)
	day := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	require.NoError(t, s.SaveResult(sampleResult("e1", trader.ActionExecuted, day)))
	require.NoError(t, s.SaveResult(sampleResult("s1", trader.ActionSimulated, day.Add(time.Hour))))
	require.NoError(t, s.SaveResult(sampleResult("r1", trader.ActionRejected, day.Add(2*time.Hour))))
	require.NoError(t, s.SaveResult(sampleResult("x1", trader.ActionError, day.Add(3*time.Hour))))
	// 另一天的记录不计入
	require.NoError(t, s.SaveResult(sampleResult("e2", trader.ActionExecuted, day.AddDate(0, 0, 1))))

	trades, pnl, err := s.DailyStats(day)
	require.NoError(t, err)
	assert.Equal(t, 2, trades)
	assert.Zero(t, pnl)
}

func TestDailyStatsSumsRealizedPnl(t *testing.T) {
	s := newTestStore(t)
	day := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	closes := []*trader.PositionClose{
		{Symbol: "BTC", Side: signal.SideLong, EntryPrice: 100, MarkPrice: 110, NotionalUSD: 500, RealizedPnl: 50, OpenedAt: day, ClosedAt: day.Add(time.Hour)},
		{Symbol: "ETH", Side: signal.SideShort, EntryPrice: 200, MarkPrice: 210, NotionalUSD: 1000, RealizedPnl: -50, OpenedAt: day, ClosedAt: day.Add(2 * time.Hour)},
		{Symbol: "SOL", Side: signal.SideLong, EntryPrice: 50, MarkPrice: 55, NotionalUSD: 300, RealizedPnl: 30, OpenedAt: day, ClosedAt: day.AddDate(0, 0, 1)},
	}
	for _, c := range closes {
		require.NoError(t, s.SaveClose(c))
	}

	_, pnl, err := s.DailyStats(day)
	require.NoError(t, err)
	assert.InDelta(t, 0, pnl, 1e-9, "同日盈亏相抵，次日不计入")
}

func TestDailyStatsEmptyDay(t *testing.T) {
	s := newTestStore(t)

	trades, pnl, err := s.DailyStats(time.Now())
	require.NoError(t, err)
	assert.Zero(t, trades)
	assert.Zero(t, pnl)
}

func TestSaveResultWithoutSignal(t *testing.T) {
	s := newTestStore(t)

	r := &trader.TradeResult{
		ID:        "no-sig",
		Action:    trader.ActionError,
		Reason:    "network failure",
		Timestamp: time.Now(),
	}
	require.NoError(t, s.SaveResult(r))

	results, err := s.RecentResults(1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Nil(t, results[0].Signal)
}

func TestDuplicateIDRejected(t *testing.T) {
	s := newTestStore(t)
	ts := time.Now()

	require.NoError(t, s.SaveResult(sampleResult("dup", trader.ActionExecuted, ts)))
	err := s.SaveResult(sampleResult("dup", trader.ActionExecuted, ts))
	assert.Error(t, err, "主键冲突应报错而不是覆盖历史")
}
