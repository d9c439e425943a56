package trader

import (
	"context"
	"time"

	"hypercore/exchange"
	"hypercore/market"
	"hypercore/risk"
	"hypercore/signal"
)

// Config 编排器策略配置
type Config struct {
	// 允许交易的币种白名单
	AllowedSymbols []string
	// 信号准入置信度下限 (0-1)
	MinConfidence float64
	// 两笔交易之间的冷却时间
	Cooldown time.Duration
	// 每日最大交易笔数
	MaxDailyTrades int
	// 扫描间隔
	ScanInterval time.Duration
	// K线周期
	CandleInterval string
	// 持仓监控间隔
	MonitorInterval time.Duration
	// 模拟模式：只记录不下单
	DryRun bool
}

// DefaultConfig 缺省编排策略
func DefaultConfig() Config {
	return Config{
		AllowedSymbols:  []string{"BTC", "ETH", "SOL"},
		MinConfidence:   0.70,
		Cooldown:        30 * time.Minute,
		MaxDailyTrades:  5,
		ScanInterval:    3 * time.Minute,
		CandleInterval:  "15m",
		MonitorInterval: time.Minute,
		DryRun:          true,
	}
}

// TradeAction 交易尝试的处置分类
type TradeAction string

const (
	ActionExecuted  TradeAction = "executed"
	ActionSimulated TradeAction = "simulated"
	ActionRejected  TradeAction = "rejected"
	ActionError     TradeAction = "error"
)

// TradeResult 每次交易尝试的结构化审计记录
// 无论成败，每次尝试都必须产出一条，供下游（看板/通知）还原决策全程
type TradeResult struct {
	ID           string                     `json:"id"`
	Success      bool                       `json:"success"`
	Action       TradeAction                `json:"action"`
	Signal       *signal.TradeSignal        `json:"signal,omitempty"`
	SizeDecision *risk.PositionSizeDecision `json:"size_decision,omitempty"`
	Verdict      *risk.RiskVerdict          `json:"verdict,omitempty"`
	Order        *exchange.OrderResult      `json:"order,omitempty"`
	Reason       string                     `json:"reason"`
	Timestamp    time.Time                  `json:"timestamp"`
}

// PositionClose 持仓消失（止盈/止损/手动平仓）后的结算记录
type PositionClose struct {
	Symbol      string      `json:"symbol"`
	Side        signal.Side `json:"side"`
	EntryPrice  float64     `json:"entry_price"`
	MarkPrice   float64     `json:"mark_price"`
	NotionalUSD float64     `json:"notional_usd"`
	RealizedPnl float64     `json:"realized_pnl"`
	OpenedAt    time.Time   `json:"opened_at"`
	ClosedAt    time.Time   `json:"closed_at"`
}

// Executor 执行客户端接口（由 exchange.Client 实现，测试用假实现替换）
type Executor interface {
	AssetMeta(ctx context.Context, symbol string) (exchange.AssetMeta, error)
	MidPrice(ctx context.Context, symbol string) (float64, error)
	Candles(ctx context.Context, symbol, interval string, limit int) (*market.Series, error)
	AccountState(ctx context.Context) (*exchange.AccountState, error)
	MarketOrder(ctx context.Context, symbol string, isBuy bool, notionalUSD, slippage float64) (*exchange.OrderResult, error)
	TriggerOrder(ctx context.Context, symbol string, isBuy bool, size, triggerPx float64, isStopLoss bool) (*exchange.OrderResult, error)
	ClosePosition(ctx context.Context, symbol string, fraction float64) (*exchange.OrderResult, error)
	UpdateLeverage(ctx context.Context, symbol string, leverage int) error
}

// Recorder 审计落盘接口（由 store.Store 实现，可为空）
type Recorder interface {
	SaveResult(r *TradeResult) error
	SaveClose(c *PositionClose) error
}

// SentimentFunc 外部情绪信号源（恐惧贪婪分类器），无源时返回中性
type SentimentFunc func(ctx context.Context, symbol string) signal.Sentiment
