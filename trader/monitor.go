package trader

import (
	"context"
	"time"

	"go.uber.org/zap"

	"hypercore/signal"
)

// StartMonitor 启动持仓监控协程
// 周期性对账持仓注册表与交易所账户状态：
// 注册表有而交易所无的持仓视为已平（触发单成交或手动平仓），
// 计入已实现盈亏并落盘结算记录
func (o *Orchestrator) StartMonitor(ctx context.Context) {
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		ticker := time.NewTicker(o.cfg.MonitorInterval)
		defer ticker.Stop()
		o.log.Info("👁 持仓监控启动", zap.Duration("interval", o.cfg.MonitorInterval))
		for {
			select {
			case <-ticker.C:
				o.reconcile(ctx)
			case <-o.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// reconcile 单轮对账
func (o *Orchestrator) reconcile(ctx context.Context) {
	o.mu.RLock()
	tracked := make(map[string]struct{}, len(o.positions))
	for sym := range o.positions {
		tracked[sym] = struct{}{}
	}
	o.mu.RUnlock()
	if len(tracked) == 0 {
		return
	}

	// 模拟模式没有交易所侧持仓可对账，只刷新标记价
	if o.cfg.DryRun {
		o.refreshMarks(ctx, tracked)
		return
	}

	state, err := o.exec.AccountState(ctx)
	if err != nil {
		o.log.Warn("⚠️ 对账拉取账户状态失败", zap.Error(err))
		return
	}

	live := make(map[string]float64, len(state.Positions))
	for _, p := range state.Positions {
		size := p.SignedSize
		if size == 0 {
			continue
		}
		live[p.Symbol] = size
		// 标记价 = 持仓价值 / |size|
		if p.PositionValue > 0 {
			mark := p.PositionValue / abs(size)
			o.mu.Lock()
			o.marks[p.Symbol] = mark
			o.mu.Unlock()
		}
	}

	for sym := range tracked {
		if _, stillOpen := live[sym]; stillOpen {
			continue
		}
		o.settleClosed(sym)
	}
}

// refreshMarks 模拟模式下用中间价更新标记价缓存
func (o *Orchestrator) refreshMarks(ctx context.Context, tracked map[string]struct{}) {
	for sym := range tracked {
		mid, err := o.exec.MidPrice(ctx, sym)
		if err != nil {
			continue
		}
		o.mu.Lock()
		o.marks[sym] = mid
		o.mu.Unlock()
	}
}

// settleClosed 结算一笔已消失的持仓：
// 用最近标记价估算已实现盈亏，更新日内盈亏，写结算记录
func (o *Orchestrator) settleClosed(symbol string) {
	o.mu.Lock()
	pos, ok := o.positions[symbol]
	if !ok {
		o.mu.Unlock()
		return
	}
	delete(o.positions, symbol)
	mark := o.marks[symbol]
	o.mu.Unlock()

	if mark <= 0 {
		mark = pos.EntryPrice
	}

	// 盈亏按名义本金和价格相对变动估算；精确值以交易所结算为准
	var pnl float64
	if pos.EntryPrice > 0 {
		change := (mark - pos.EntryPrice) / pos.EntryPrice
		if pos.Side == signal.SideShort {
			change = -change
		}
		pnl = pos.NotionalUSD * change
	}

	o.mu.Lock()
	o.dailyPnl += pnl
	daily := o.dailyPnl
	o.mu.Unlock()

	closeRec := &PositionClose{
		Symbol:      symbol,
		Side:        pos.Side,
		EntryPrice:  pos.EntryPrice,
		MarkPrice:   mark,
		NotionalUSD: pos.NotionalUSD,
		RealizedPnl: pnl,
		OpenedAt:    pos.OpenedAt,
		ClosedAt:    time.Now(),
	}
	if o.recorder != nil {
		if err := o.recorder.SaveClose(closeRec); err != nil {
			o.log.Error("❌ 平仓记录落盘失败", zap.Error(err))
		}
	}

	o.log.Info("📉 持仓已平仓",
		zap.String("symbol", symbol),
		zap.String("side", string(pos.Side)),
		zap.Float64("entry", pos.EntryPrice),
		zap.Float64("mark", mark),
		zap.Float64("realized_pnl", pnl),
		zap.Float64("daily_pnl", daily))
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
