package risk

import (
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"hypercore/pkg/logger"
	"hypercore/signal"
)

// 凯利公式假设参数
const (
	assumedAvgWin = 0.15 // 假设平均盈利 15%
	// 止损距离退化（entry=0 或 stopLoss=entry）时采用的最大风险比例
	maxRiskFraction = 0.10
)

// OpenPosition 当前持仓快照（每币种至多一笔）
type OpenPosition struct {
	Symbol      string      `json:"symbol"`
	Side        signal.Side `json:"side"`
	NotionalUSD float64     `json:"notional_usd"`
	EntryPrice  float64     `json:"entry_price"`
	OpenedAt    time.Time   `json:"opened_at"`
}

// PositionSizeDecision 仓位决策
// RecommendedNotionalUSD 为 0 表示不交易，Rationale 必须说明原因
type PositionSizeDecision struct {
	RecommendedNotionalUSD float64 `json:"recommended_notional_usd"`
	Leverage               int     `json:"leverage"`
	RiskAmountUSD          float64 `json:"risk_amount_usd"`
	Rationale              string  `json:"rationale"`
}

// RiskAdjustments 拒绝时的建议调整项（仅建议，由上层决定是否采纳重试）
type RiskAdjustments struct {
	ReducedSize     float64 `json:"reduced_size,omitempty"`
	ReducedLeverage int     `json:"reduced_leverage,omitempty"`
}

// RiskVerdict 交易审批结果
type RiskVerdict struct {
	Approved    bool             `json:"approved"`
	Reason      string           `json:"reason"`
	Adjustments *RiskAdjustments `json:"adjustments,omitempty"`
}

// Manager 风险管理器：无状态逐调用计算，不接触签名和网络
type Manager struct {
	cfg Config
	log *zap.Logger
}

// NewManager 创建风险管理器
func NewManager(cfg Config) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Manager{cfg: cfg, log: logger.Module("risk")}, nil
}

// Config 返回当前风控参数
func (m *Manager) Config() Config {
	return m.cfg
}

// SizePosition 计算建议仓位
// confidence 为百分制 (0-100)；openPositions 用于扣减分组与总敞口余量
func (m *Manager) SizePosition(portfolioValue, confidence, entryPrice, stopLoss float64, symbol string, openPositions []OpenPosition) PositionSizeDecision {
	if confidence < m.cfg.MinConfidence {
		return PositionSizeDecision{
			Rationale: fmt.Sprintf("置信度 %.1f%% 低于下限 %.1f%%", confidence, m.cfg.MinConfidence),
		}
	}
	if portfolioValue <= 0 {
		return PositionSizeDecision{Rationale: "组合净值为零，无法开仓"}
	}

	// 止损距离（比例），退化情况按最大风险比例处理而不是除零
	slDistance := maxRiskFraction
	if entryPrice > 0 && stopLoss > 0 && stopLoss != entryPrice {
		slDistance = math.Abs(entryPrice-stopLoss) / entryPrice
	}

	// 半凯利仓位
	p := confidence / 100
	b := assumedAvgWin / slDistance
	kelly := (b*p - (1 - p)) / b
	if kelly < 0 {
		kelly = 0
	}
	halfKelly := kelly / 2

	candidate := portfolioValue * halfKelly
	binding := "half-kelly"

	// 约束 (a)：单笔上限
	perTradeCap := portfolioValue * m.cfg.MaxPositionSizePct / 100
	if candidate > perTradeCap {
		candidate = perTradeCap
		binding = "single-trade cap"
	}

	// 约束 (b)：相关性分组余量
	group := CorrelationGroup(symbol)
	groupCap := portfolioValue * m.cfg.MaxCorrelatedExposurePct / 100
	groupOpen := 0.0
	totalOpen := 0.0
	for _, pos := range openPositions {
		totalOpen += pos.NotionalUSD
		if CorrelationGroup(pos.Symbol) == group {
			groupOpen += pos.NotionalUSD
		}
	}
	if headroom := groupCap - groupOpen; candidate > headroom {
		candidate = headroom
		binding = "correlation limit"
	}

	// 约束 (c)：总敞口余量
	totalCap := portfolioValue * m.cfg.MaxTotalExposurePct / 100
	if headroom := totalCap - totalOpen; candidate > headroom {
		candidate = headroom
		binding = "total exposure limit"
	}

	if candidate <= 0 {
		return PositionSizeDecision{
			Rationale: fmt.Sprintf("无可用敞口余量 (%s)", binding),
		}
	}

	decision := PositionSizeDecision{
		RecommendedNotionalUSD: candidate,
		Leverage:               m.leverageFor(confidence),
		RiskAmountUSD:          candidate * slDistance,
		Rationale: fmt.Sprintf("half-kelly=%.4f, binding=%s, group=%s, sl_distance=%.2f%%",
			halfKelly, binding, group, slDistance*100),
	}

	m.log.Debug("仓位计算完成",
		zap.String("symbol", symbol),
		zap.Float64("notional", decision.RecommendedNotionalUSD),
		zap.Int("leverage", decision.Leverage),
		zap.String("binding", binding))
	return decision
}

// leverageFor 杠杆 = ceil(置信度/30)，受配置上限约束
func (m *Manager) leverageFor(confidence float64) int {
	lev := int(math.Ceil(confidence / 30))
	if lev < 1 {
		lev = 1
	}
	if lev > m.cfg.MaxLeverage {
		lev = m.cfg.MaxLeverage
	}
	return lev
}

// CheckTrade 对已定仓位做硬性风控审批，按固定顺序短路
func (m *Manager) CheckTrade(symbol string, side signal.Side, sizeUSD float64, leverage int, portfolioValue, dailyPnl float64, openPositions []OpenPosition) RiskVerdict {
	// 1. 日亏损限制
	maxDailyLoss := portfolioValue * m.cfg.MaxDailyLossPct / 100
	if dailyPnl <= -maxDailyLoss {
		return RiskVerdict{
			Reason: fmt.Sprintf("已触及日亏损上限: 当日盈亏 %.2f，限额 -%.2f", dailyPnl, maxDailyLoss),
		}
	}

	// 2. 杠杆限制（给出上限作为建议调整）
	if leverage > m.cfg.MaxLeverage {
		return RiskVerdict{
			Reason:      fmt.Sprintf("杠杆 %dx 超过上限 %dx", leverage, m.cfg.MaxLeverage),
			Adjustments: &RiskAdjustments{ReducedLeverage: m.cfg.MaxLeverage},
		}
	}

	// 3. 单笔仓位限制（给出上限作为建议调整）
	perTradeCap := portfolioValue * m.cfg.MaxPositionSizePct / 100
	if sizeUSD > perTradeCap {
		return RiskVerdict{
			Reason:      fmt.Sprintf("仓位 %.2f USD 超过单笔上限 %.2f USD", sizeUSD, perTradeCap),
			Adjustments: &RiskAdjustments{ReducedSize: perTradeCap},
		}
	}

	// 4. 反向持仓冲突：同币种已有反向仓位直接拒绝，绝不隐式对冲
	for _, pos := range openPositions {
		if pos.Symbol == symbol && pos.Side != side {
			return RiskVerdict{
				Reason: fmt.Sprintf("%s 已有 %s 持仓，拒绝反向开仓", symbol, pos.Side),
			}
		}
	}

	return RiskVerdict{Approved: true, Reason: "通过全部风控检查"}
}
