package market

// DivergenceType 背离分类
type DivergenceType string

const (
	DivergenceBullish DivergenceType = "bullish"
	DivergenceBearish DivergenceType = "bearish"
	DivergenceNone    DivergenceType = "none"
)

// 背离检测窗口：取最近 20 根K线，前后各半比较极值
const (
	divergenceWindow = 20
	divergenceHalf   = divergenceWindow / 2
)

// 每类背离对信号评分的固定贡献值
const (
	RSIDivergenceStrength  = 0.15
	MACDDivergenceStrength = 0.15
)

// Divergences RSI 与 MACD 各自独立的背离分类
type Divergences struct {
	RSI  DivergenceType `json:"rsi"`
	MACD DivergenceType `json:"macd"`
}

// DetectDivergences 在最近 20 根K线上检测价格与指标的背离
// 价格创新低而指标抬高 -> 看涨背离；价格创新高而指标走低 -> 看跌背离
func DetectDivergences(s *Series) Divergences {
	div := Divergences{RSI: DivergenceNone, MACD: DivergenceNone}
	if !s.Sufficient() {
		return div
	}

	closes := s.Closes()

	// 窗口必须完全落在指标的有效区间内，预热期的占位零不参与比较
	rsiSeries := CalculateRSISeries(closes, RSIPeriod)
	if n := len(rsiSeries); n-RSIPeriod >= divergenceWindow {
		div.RSI = classifyDivergence(
			closes[len(closes)-divergenceWindow:],
			rsiSeries[n-divergenceWindow:],
		)
	}

	_, histSeries := CalculateMACDSeries(closes)
	if n := len(histSeries); n-macdHistWarmup >= divergenceWindow {
		div.MACD = classifyDivergence(
			closes[len(closes)-divergenceWindow:],
			histSeries[n-divergenceWindow:],
		)
	}

	return div
}

// classifyDivergence 对齐的价格/指标窗口内比较前后两半的极值
func classifyDivergence(prices, indicator []float64) DivergenceType {
	if len(prices) < divergenceWindow || len(indicator) < divergenceWindow {
		return DivergenceNone
	}

	prevLowIdx := minIndex(prices[:divergenceHalf])
	currLowIdx := divergenceHalf + minIndex(prices[divergenceHalf:])
	prevHighIdx := maxIndex(prices[:divergenceHalf])
	currHighIdx := divergenceHalf + maxIndex(prices[divergenceHalf:])

	// 看涨背离：价格低点降低，指标低点抬高
	if prices[currLowIdx] < prices[prevLowIdx] && indicator[currLowIdx] > indicator[prevLowIdx] {
		return DivergenceBullish
	}

	// 看跌背离：价格高点抬高，指标高点降低
	if prices[currHighIdx] > prices[prevHighIdx] && indicator[currHighIdx] < indicator[prevHighIdx] {
		return DivergenceBearish
	}

	return DivergenceNone
}

func minIndex(data []float64) int {
	idx := 0
	for i, v := range data {
		if v < data[idx] {
			idx = i
		}
	}
	return idx
}

func maxIndex(data []float64) int {
	idx := 0
	for i, v := range data {
		if v > data[idx] {
			idx = i
		}
	}
	return idx
}
