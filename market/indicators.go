package market

import "math"

// 指标窗口参数
const (
	RSIPeriod    = 14
	EMAFastSpan  = 9
	EMAMidSpan   = 21
	EMASlowSpan  = 50
	VolumeWindow = 20
)

// Indicators 由一个 Series 导出的指标值对象
// 纯函数计算结果，不持有状态
type Indicators struct {
	RSI         float64 `json:"rsi"`
	MACD        float64 `json:"macd"`
	MACDSignal  float64 `json:"macd_signal"`
	MACDHist    float64 `json:"macd_hist"`
	EMAFast     float64 `json:"ema_fast"`
	EMAMid      float64 `json:"ema_mid"`
	EMASlow     float64 `json:"ema_slow"`
	VolumeRatio float64 `json:"volume_ratio"`
}

// CalculateRSI 计算相对强弱指数 (Wilder's RSI)
// data: 价格序列 (按时间顺序，最新的在最后)
// period: 周期 (通常为 14)
func CalculateRSI(data []float64, period int) float64 {
	series := CalculateRSISeries(data, period)
	if len(series) == 0 {
		return 0
	}
	return series[len(series)-1]
}

// CalculateRSISeries 计算逐根K线的 RSI 序列
// 返回长度 len(data)-period 的切片，第 i 项对应 data[period+i] 处的 RSI
func CalculateRSISeries(data []float64, period int) []float64 {
	if len(data) < period+1 {
		return nil
	}

	var gains, losses float64

	// 1. 初始平均值 (SMA)
	for i := 1; i <= period; i++ {
		diff := data[i] - data[i-1]
		if diff > 0 {
			gains += diff
		} else {
			losses -= diff
		}
	}

	avgGain := gains / float64(period)
	avgLoss := losses / float64(period)

	out := make([]float64, 0, len(data)-period)
	out = append(out, rsiFromAverages(avgGain, avgLoss))

	// 2. 后续值使用 Wilder 平滑
	for i := period + 1; i < len(data); i++ {
		diff := data[i] - data[i-1]
		var currentGain, currentLoss float64
		if diff > 0 {
			currentGain = diff
		} else {
			currentLoss = -diff
		}

		avgGain = ((avgGain * float64(period-1)) + currentGain) / float64(period)
		avgLoss = ((avgLoss * float64(period-1)) + currentLoss) / float64(period)
		out = append(out, rsiFromAverages(avgGain, avgLoss))
	}

	return out
}

func rsiFromAverages(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - (100 / (1 + rs))
}

// CalculateEMA 计算指数移动平均，返回完整序列
// 前 period-1 个位置为 0，ema[period-1] 用 SMA 起步
func CalculateEMA(data []float64, period int) []float64 {
	if len(data) < period {
		return nil
	}

	ema := make([]float64, len(data))
	k := 2.0 / float64(period+1)

	sum := 0.0
	for i := 0; i < period; i++ {
		sum += data[i]
	}
	ema[period-1] = sum / float64(period)

	for i := period; i < len(data); i++ {
		ema[i] = (data[i] * k) + (ema[i-1] * (1 - k))
	}

	return ema
}

// CalculateMACD 计算 MACD (12, 26, 9)
// 返回最新的 macdLine, signalLine, histogram
func CalculateMACD(data []float64) (float64, float64, float64) {
	macdLine, hist := CalculateMACDSeries(data)
	if len(macdLine) == 0 {
		return 0, 0, 0
	}
	last := len(macdLine) - 1
	return macdLine[last], macdLine[last] - hist[last], hist[last]
}

// 柱状图前 macdHistWarmup 个位置是未计算的占位零，消费方必须跳过
const macdHistWarmup = 26 + 9 - 1

// CalculateMACDSeries 计算 MACD 线和柱状图的完整序列
// 两个返回切片与 data 等长；MACD 线前 26 个、柱状图前 macdHistWarmup 个位置为占位零
func CalculateMACDSeries(data []float64) ([]float64, []float64) {
	if len(data) < 26+9 {
		return nil, nil
	}

	ema12 := CalculateEMA(data, 12)
	ema26 := CalculateEMA(data, 26)

	macdLine := make([]float64, len(data))
	for i := 26; i < len(data); i++ {
		macdLine[i] = ema12[i] - ema26[i]
	}

	// Signal Line = MACD 线非零部分的 EMA9
	validMacd := macdLine[26:]
	signalVals := CalculateEMA(validMacd, 9)
	if len(signalVals) == 0 {
		return nil, nil
	}

	hist := make([]float64, len(data))
	for i := macdHistWarmup; i < len(data); i++ {
		hist[i] = macdLine[i] - signalVals[i-26]
	}

	return macdLine, hist
}

// VolumeRatio 最新成交量与最近 window 根均量之比
func VolumeRatio(volumes []float64, window int) float64 {
	if len(volumes) < window || window <= 0 {
		return 0
	}
	sum := 0.0
	for _, v := range volumes[len(volumes)-window:] {
		sum += v
	}
	avg := sum / float64(window)
	if avg == 0 {
		return 0
	}
	return volumes[len(volumes)-1] / avg
}

// Volatility 基于最新价与快慢均线的类 ATR 波动估计
// 取 {price, emaFast, emaMid} 三者两两绝对差的均值
func Volatility(price, emaFast, emaMid float64) float64 {
	return (math.Abs(price-emaFast) + math.Abs(price-emaMid) + math.Abs(emaFast-emaMid)) / 3
}

// Compute 从序列计算全部指标
// 数据不足 MinSeriesLength 根时返回 nil
func Compute(s *Series) *Indicators {
	if !s.Sufficient() {
		return nil
	}

	closes := s.Closes()
	last := len(closes) - 1

	emaFast := CalculateEMA(closes, EMAFastSpan)
	emaMid := CalculateEMA(closes, EMAMidSpan)
	emaSlow := CalculateEMA(closes, EMASlowSpan)
	macd, sig, hist := CalculateMACD(closes)

	return &Indicators{
		RSI:         CalculateRSI(closes, RSIPeriod),
		MACD:        macd,
		MACDSignal:  sig,
		MACDHist:    hist,
		EMAFast:     emaFast[last],
		EMAMid:      emaMid[last],
		EMASlow:     emaSlow[last],
		VolumeRatio: VolumeRatio(s.Volumes(), VolumeWindow),
	}
}
