package signal

import "time"

// Side 交易方向
type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

// Opposite 返回相反方向
func (s Side) Opposite() Side {
	if s == SideLong {
		return SideShort
	}
	return SideLong
}

// TradeSignal 信号生成器产出的方向性交易信号
// 生成后不可变更，置信度上限 0.95（系统永不宣称确定性）
type TradeSignal struct {
	Symbol      string    `json:"symbol"`
	Side        Side      `json:"side"`
	EntryPrice  float64   `json:"entry_price"`
	StopLoss    float64   `json:"stop_loss"`
	TakeProfit1 float64   `json:"take_profit_1"`
	TakeProfit2 float64   `json:"take_profit_2"`
	Confidence  float64   `json:"confidence"`
	Indicators  []string  `json:"indicators"` // 贡献指标标签，按加入顺序
	Reasoning   string    `json:"reasoning"`
	Timestamp   time.Time `json:"timestamp"`
}

// DedupKey 信号去重键：symbol+side+来源时间戳
func (s *TradeSignal) DedupKey() string {
	return s.Symbol + "_" + string(s.Side) + "_" + s.Timestamp.UTC().Format(time.RFC3339)
}

// Sentiment 外部恐惧贪婪分类器给出的情绪信号
// Weight 已按其极端程度缩放，方向由 Classification 决定
type Sentiment struct {
	Classification string  `json:"classification"` // extreme_fear / fear / neutral / greed / extreme_greed
	Weight         float64 `json:"weight"`
}

// 情绪分类常量
const (
	SentimentExtremeFear  = "extreme_fear"
	SentimentFear         = "fear"
	SentimentNeutral      = "neutral"
	SentimentGreed        = "greed"
	SentimentExtremeGreed = "extreme_greed"
)

// NeutralSentiment 无外部情绪源时的缺省值
func NeutralSentiment() Sentiment {
	return Sentiment{Classification: SentimentNeutral, Weight: 0}
}

// FearGreedSentiment 按分类构造带缺省权重的情绪信号
// 极端情绪 0.15，温和情绪 0.08，中性 0（反向指标：恐惧看多，贪婪看空）
func FearGreedSentiment(classification string) Sentiment {
	switch classification {
	case SentimentExtremeFear, SentimentExtremeGreed:
		return Sentiment{Classification: classification, Weight: 0.15}
	case SentimentFear, SentimentGreed:
		return Sentiment{Classification: classification, Weight: 0.08}
	default:
		return Sentiment{Classification: SentimentNeutral, Weight: 0}
	}
}

// bullish 情绪是否贡献看多侧
func (s Sentiment) bullish() bool {
	return s.Classification == SentimentExtremeFear || s.Classification == SentimentFear
}

// bearish 情绪是否贡献看空侧
func (s Sentiment) bearish() bool {
	return s.Classification == SentimentExtremeGreed || s.Classification == SentimentGreed
}
