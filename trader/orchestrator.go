package trader

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"hypercore/exchange"
	"hypercore/pkg/logger"
	"hypercore/risk"
	"hypercore/signal"
)

// 已执行信号集合的容量上限，超出后淘汰最旧的
const executedSetLimit = 500

// 扫描多币种时的固定节流间隔，保护上游 API 配额
// 固定步长而非自适应背压，是有意的简化
const symbolPacing = 200 * time.Millisecond

// 每币种K线拉取根数
const candleLimit = 100

// Orchestrator 交易编排器
// 串联信号生成、风控审批与执行，持有全部可变状态：
// 持仓注册表、日计数器、已执行信号集合（均在 mu 保护下）
type Orchestrator struct {
	cfg       Config
	generator *signal.Generator
	riskMgr   *risk.Manager
	exec      Executor
	recorder  Recorder
	sentiment SentimentFunc
	log       *zap.Logger

	mu            sync.RWMutex
	positions     map[string]risk.OpenPosition
	executedKeys  map[string]struct{}
	executedOrder []string
	lastTradeAt   time.Time
	dailyTrades   int
	dailyPnl      float64
	marks         map[string]float64 // 最近一次观察到的标记价

	isRunning bool
	stopCh    chan struct{}
	wg        sync.WaitGroup
}

// New 创建编排器
// recorder 可为 nil（不落盘）；sentiment 为 nil 时使用中性情绪
func New(cfg Config, riskMgr *risk.Manager, exec Executor, recorder Recorder, sentiment SentimentFunc) *Orchestrator {
	if sentiment == nil {
		sentiment = func(context.Context, string) signal.Sentiment { return signal.NeutralSentiment() }
	}
	return &Orchestrator{
		cfg:          cfg,
		generator:    signal.NewGenerator(),
		riskMgr:      riskMgr,
		exec:         exec,
		recorder:     recorder,
		sentiment:    sentiment,
		log:          logger.Module("trader"),
		positions:    make(map[string]risk.OpenPosition),
		executedKeys: make(map[string]struct{}),
		marks:        make(map[string]float64),
		stopCh:       make(chan struct{}),
	}
}

// Run 扫描主循环：按固定间隔扫描白名单币种并处理信号
func (o *Orchestrator) Run(ctx context.Context) error {
	o.mu.Lock()
	if o.isRunning {
		o.mu.Unlock()
		return errors.New("orchestrator already running")
	}
	o.isRunning = true
	o.mu.Unlock()

	mode := "实盘"
	if o.cfg.DryRun {
		mode = "模拟"
	}
	o.log.Info("🚀 交易编排器启动",
		zap.String("mode", mode),
		zap.Strings("symbols", o.cfg.AllowedSymbols),
		zap.Duration("scan_interval", o.cfg.ScanInterval))

	ticker := time.NewTicker(o.cfg.ScanInterval)
	defer ticker.Stop()

	// 启动即扫描一轮，不等首个周期
	o.scanOnce(ctx)
	for {
		select {
		case <-ticker.C:
			o.scanOnce(ctx)
		case <-o.stopCh:
			o.log.Info("⏹ 扫描循环退出")
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Stop 停止扫描与监控循环并等待退出
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	if !o.isRunning {
		o.mu.Unlock()
		return
	}
	o.isRunning = false
	o.mu.Unlock()

	close(o.stopCh)
	o.wg.Wait()
	o.log.Info("⏹ 交易编排器已停止")
}

// scanOnce 扫描一轮全部白名单币种
func (o *Orchestrator) scanOnce(ctx context.Context) {
	state, err := o.exec.AccountState(ctx)
	portfolioValue := 0.0
	if err != nil {
		if !o.cfg.DryRun {
			o.log.Error("❌ 获取账户状态失败，本轮跳过", zap.Error(err))
			return
		}
		// 模拟模式允许无账户运行，用固定名义净值
		portfolioValue = 10000
	} else {
		portfolioValue = state.AccountValue
	}

	for i, symbol := range o.cfg.AllowedSymbols {
		if i > 0 {
			// 固定节流，尊重上游配额
			select {
			case <-time.After(symbolPacing):
			case <-o.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}

		series, err := o.exec.Candles(ctx, symbol, o.cfg.CandleInterval, candleLimit)
		if err != nil {
			o.log.Warn("⚠️ 拉取K线失败，跳过该币种", zap.String("symbol", symbol), zap.Error(err))
			continue
		}

		sig, err := o.generator.Compute(series, o.sentiment(ctx, symbol))
		if err != nil || sig == nil {
			continue
		}

		o.HandleSignal(ctx, sig, portfolioValue)
	}
}

// HandleSignal 完整处理一条信号：准入 -> 仓位 -> 审批 -> 执行
// 每次调用都产出一条 TradeResult，无论走到哪一步
func (o *Orchestrator) HandleSignal(ctx context.Context, sig *signal.TradeSignal, portfolioValue float64) *TradeResult {
	// 准入管线按固定顺序短路
	if reason := o.admit(sig); reason != "" {
		return o.finish(&TradeResult{
			Action: ActionRejected,
			Signal: sig,
			Reason: reason,
		})
	}

	positions := o.openPositionsSnapshot()

	// 仓位计算（风控置信度为百分制）
	decision := o.riskMgr.SizePosition(
		portfolioValue, sig.Confidence*100, sig.EntryPrice, sig.StopLoss, sig.Symbol, positions)
	if decision.RecommendedNotionalUSD <= 0 {
		return o.finish(&TradeResult{
			Action:       ActionRejected,
			Signal:       sig,
			SizeDecision: &decision,
			Reason:       decision.Rationale,
		})
	}

	// 风控审批，拒绝且带建议时恰好重试一次，绝不静默采纳
	sizeUSD, leverage := decision.RecommendedNotionalUSD, decision.Leverage
	verdict := o.riskMgr.CheckTrade(sig.Symbol, sig.Side, sizeUSD, leverage, portfolioValue, o.dailyPnlSnapshot(), positions)
	if !verdict.Approved && verdict.Adjustments != nil {
		if verdict.Adjustments.ReducedSize > 0 {
			sizeUSD = verdict.Adjustments.ReducedSize
		}
		if verdict.Adjustments.ReducedLeverage > 0 {
			leverage = verdict.Adjustments.ReducedLeverage
		}
		o.log.Info("🔄 采纳风控建议重试一次",
			zap.Float64("size", sizeUSD), zap.Int("leverage", leverage))
		verdict = o.riskMgr.CheckTrade(sig.Symbol, sig.Side, sizeUSD, leverage, portfolioValue, o.dailyPnlSnapshot(), positions)
	}
	if !verdict.Approved {
		return o.finish(&TradeResult{
			Action:       ActionRejected,
			Signal:       sig,
			SizeDecision: &decision,
			Verdict:      &verdict,
			Reason:       verdict.Reason,
		})
	}

	if o.cfg.DryRun {
		return o.simulate(sig, &decision, &verdict, sizeUSD, leverage)
	}
	return o.execute(ctx, sig, &decision, &verdict, sizeUSD, leverage)
}

// admit 准入管线，返回空串表示通过
func (o *Orchestrator) admit(sig *signal.TradeSignal) string {
	// 1. 白名单
	allowed := false
	for _, s := range o.cfg.AllowedSymbols {
		if s == sig.Symbol {
			allowed = true
			break
		}
	}
	if !allowed {
		return fmt.Sprintf("%s 不在交易白名单", sig.Symbol)
	}

	// 2. 置信度下限
	if sig.Confidence < o.cfg.MinConfidence {
		return fmt.Sprintf("置信度 %.2f 低于准入下限 %.2f", sig.Confidence, o.cfg.MinConfidence)
	}

	o.mu.RLock()
	defer o.mu.RUnlock()

	// 3. 冷却期
	if !o.lastTradeAt.IsZero() {
		if elapsed := time.Since(o.lastTradeAt); elapsed < o.cfg.Cooldown {
			return fmt.Sprintf("冷却期未过，还需 %v", (o.cfg.Cooldown - elapsed).Round(time.Second))
		}
	}

	// 4. 日交易上限
	if o.dailyTrades >= o.cfg.MaxDailyTrades {
		return fmt.Sprintf("已达当日交易上限 %d 笔", o.cfg.MaxDailyTrades)
	}

	// 5. 重复信号
	if _, seen := o.executedKeys[sig.DedupKey()]; seen {
		return "信号已执行过，去重跳过"
	}

	return ""
}

// simulate 模拟执行：记录本应发出的动作并推进计数器
func (o *Orchestrator) simulate(sig *signal.TradeSignal, decision *risk.PositionSizeDecision, verdict *risk.RiskVerdict, sizeUSD float64, leverage int) *TradeResult {
	o.log.Info("🧪 模拟执行",
		zap.String("symbol", sig.Symbol),
		zap.String("side", string(sig.Side)),
		zap.Float64("notional", sizeUSD),
		zap.Int("leverage", leverage),
		zap.Float64("entry", sig.EntryPrice),
		zap.Float64("stop_loss", sig.StopLoss),
		zap.Float64("tp1", sig.TakeProfit1),
		zap.Float64("tp2", sig.TakeProfit2))

	o.registerTrade(sig, sizeUSD, sig.EntryPrice)
	return o.finish(&TradeResult{
		Success:      true,
		Action:       ActionSimulated,
		Signal:       sig,
		SizeDecision: decision,
		Verdict:      verdict,
		Reason:       fmt.Sprintf("模拟: %s %s %.2f USD @ %dx", sig.Side, sig.Symbol, sizeUSD, leverage),
	})
}

// execute 实盘执行：设杠杆 -> IOC 市价单 -> 登记持仓 -> 挂止盈止损
func (o *Orchestrator) execute(ctx context.Context, sig *signal.TradeSignal, decision *risk.PositionSizeDecision, verdict *risk.RiskVerdict, sizeUSD float64, leverage int) *TradeResult {
	if err := o.exec.UpdateLeverage(ctx, sig.Symbol, leverage); err != nil {
		// 杠杆设置失败不致命，沿用当前杠杆继续
		o.log.Warn("⚠️ 设置杠杆失败，沿用现有杠杆", zap.String("symbol", sig.Symbol), zap.Error(err))
	}

	order, err := o.exec.MarketOrder(ctx, sig.Symbol, sig.Side == signal.SideLong, sizeUSD, 0)
	if err != nil {
		return o.finish(&TradeResult{
			Action:       ActionError,
			Signal:       sig,
			SizeDecision: decision,
			Verdict:      verdict,
			Reason:       classifyExecError(err),
		})
	}
	if !order.Accepted() {
		return o.finish(&TradeResult{
			Action:       ActionRejected,
			Signal:       sig,
			SizeDecision: decision,
			Verdict:      verdict,
			Order:        order,
			Reason:       fmt.Sprintf("交易所拒绝: %s", order.Message),
		})
	}

	entryPrice := order.AvgPrice
	filledSize := order.FilledSize
	if entryPrice <= 0 {
		entryPrice = sig.EntryPrice
	}
	notional := sizeUSD
	if filledSize > 0 && entryPrice > 0 {
		notional = filledSize * entryPrice
	}
	o.registerTrade(sig, notional, entryPrice)

	// 挂只减仓触发单：止损全量，两档止盈各半
	o.placeProtectiveOrders(ctx, sig, filledSize, notional, entryPrice)

	return o.finish(&TradeResult{
		Success:      true,
		Action:       ActionExecuted,
		Signal:       sig,
		SizeDecision: decision,
		Verdict:      verdict,
		Order:        order,
		Reason:       fmt.Sprintf("已执行: %s %s %.2f USD @ %dx", sig.Side, sig.Symbol, notional, leverage),
	})
}

// placeProtectiveOrders 注册止损/止盈触发单，失败只告警不回滚已成交仓位
func (o *Orchestrator) placeProtectiveOrders(ctx context.Context, sig *signal.TradeSignal, filledSize, notional, entryPrice float64) {
	size := filledSize
	if size <= 0 && entryPrice > 0 {
		size = notional / entryPrice
	}
	if size <= 0 {
		return
	}

	closeBuy := sig.Side == signal.SideShort // 平仓方向与持仓相反

	if _, err := o.exec.TriggerOrder(ctx, sig.Symbol, closeBuy, size, sig.StopLoss, true); err != nil {
		o.log.Error("❌ 挂止损单失败", zap.String("symbol", sig.Symbol), zap.Error(err))
	}
	if _, err := o.exec.TriggerOrder(ctx, sig.Symbol, closeBuy, size/2, sig.TakeProfit1, false); err != nil {
		o.log.Error("❌ 挂止盈单失败", zap.String("symbol", sig.Symbol), zap.Error(err))
	}
	if _, err := o.exec.TriggerOrder(ctx, sig.Symbol, closeBuy, size/2, sig.TakeProfit2, false); err != nil {
		o.log.Error("❌ 挂止盈单失败", zap.String("symbol", sig.Symbol), zap.Error(err))
	}
}

// registerTrade 登记持仓并推进计数器/去重集合
func (o *Orchestrator) registerTrade(sig *signal.TradeSignal, notionalUSD, entryPrice float64) {
	o.mu.Lock()
	defer o.mu.Unlock()

	// 同向加仓时名义本金累加、入场价按名义加权，敞口核算不丢已有仓位
	// （反向信号在风控审批处已被拒绝，不会走到这里）
	if pos, exists := o.positions[sig.Symbol]; exists && pos.Side == sig.Side {
		total := pos.NotionalUSD + notionalUSD
		if total > 0 {
			pos.EntryPrice = (pos.EntryPrice*pos.NotionalUSD + entryPrice*notionalUSD) / total
		}
		pos.NotionalUSD = total
		o.positions[sig.Symbol] = pos
	} else {
		o.positions[sig.Symbol] = risk.OpenPosition{
			Symbol:      sig.Symbol,
			Side:        sig.Side,
			NotionalUSD: notionalUSD,
			EntryPrice:  entryPrice,
			OpenedAt:    time.Now(),
		}
	}
	o.lastTradeAt = time.Now()
	o.dailyTrades++

	key := sig.DedupKey()
	if _, exists := o.executedKeys[key]; !exists {
		o.executedKeys[key] = struct{}{}
		o.executedOrder = append(o.executedOrder, key)
		// 有界集合，淘汰最旧
		for len(o.executedOrder) > executedSetLimit {
			oldest := o.executedOrder[0]
			o.executedOrder = o.executedOrder[1:]
			delete(o.executedKeys, oldest)
		}
	}
}

// finish 统一出口：补齐元数据、落盘、记日志
func (o *Orchestrator) finish(r *TradeResult) *TradeResult {
	r.ID = uuid.NewString()
	r.Timestamp = time.Now()

	if o.recorder != nil {
		if err := o.recorder.SaveResult(r); err != nil {
			o.log.Error("❌ 审计记录落盘失败", zap.Error(err))
		}
	}

	fields := []zap.Field{
		zap.String("id", r.ID),
		zap.String("action", string(r.Action)),
		zap.String("reason", r.Reason),
	}
	if r.Signal != nil {
		fields = append(fields,
			zap.String("symbol", r.Signal.Symbol),
			zap.String("side", string(r.Signal.Side)),
			zap.Float64("confidence", r.Signal.Confidence))
	}
	if r.Success {
		o.log.Info("📒 交易结果", fields...)
	} else {
		o.log.Warn("📒 交易结果", fields...)
	}
	return r
}

// classifyExecError 将执行错误映射到错误分类，便于审计检索
func classifyExecError(err error) string {
	switch {
	case errors.Is(err, exchange.ErrAssetUnknown):
		return "metadata unavailable: " + err.Error()
	case errors.Is(err, exchange.ErrPriceUnavailable):
		return "price unavailable: " + err.Error()
	case errors.Is(err, exchange.ErrSigningHalted), errors.Is(err, exchange.ErrNoSigningKey), errors.Is(err, exchange.ErrNonceReuse):
		return "signing failure: " + err.Error()
	default:
		return err.Error()
	}
}

// openPositionsSnapshot 持仓注册表快照
func (o *Orchestrator) openPositionsSnapshot() []risk.OpenPosition {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]risk.OpenPosition, 0, len(o.positions))
	for _, p := range o.positions {
		out = append(out, p)
	}
	return out
}

func (o *Orchestrator) dailyPnlSnapshot() float64 {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.dailyPnl
}

// ResetDaily 外部日界信号：清零日计数器
func (o *Orchestrator) ResetDaily() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.log.Info("🌅 日界重置", zap.Int("yesterday_trades", o.dailyTrades), zap.Float64("yesterday_pnl", o.dailyPnl))
	o.dailyTrades = 0
	o.dailyPnl = 0
}

// RestoreDaily 启动时从审计库恢复当日计数（重启安全边界）
func (o *Orchestrator) RestoreDaily(trades int, pnl float64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.dailyTrades = trades
	o.dailyPnl = pnl
}

// DailyStats 当前日计数快照
func (o *Orchestrator) DailyStats() (int, float64) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.dailyTrades, o.dailyPnl
}

// OpenPositions 当前持仓注册表快照（监控与展示用）
func (o *Orchestrator) OpenPositions() []risk.OpenPosition {
	return o.openPositionsSnapshot()
}
