package market

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyDivergenceBullish(t *testing.T) {
	prices := make([]float64, divergenceWindow)
	indicator := make([]float64, divergenceWindow)
	for i := range prices {
		prices[i] = 100
		indicator[i] = 50
	}
	// 前半段低点 95/指标30，后半段更低的低点 90/指标40 -> 看涨背离
	prices[3], indicator[3] = 95, 30
	prices[15], indicator[15] = 90, 40

	assert.Equal(t, DivergenceBullish, classifyDivergence(prices, indicator))
}

func TestClassifyDivergenceBearish(t *testing.T) {
	prices := make([]float64, divergenceWindow)
	indicator := make([]float64, divergenceWindow)
	for i := range prices {
		prices[i] = 100
		indicator[i] = 50
	}
	// 价格高点抬高而指标高点降低 -> 看跌背离
	prices[4], indicator[4] = 110, 80
	prices[16], indicator[16] = 115, 60

	assert.Equal(t, DivergenceBearish, classifyDivergence(prices, indicator))
}

func TestClassifyDivergenceNone(t *testing.T) {
	prices := make([]float64, divergenceWindow)
	indicator := make([]float64, divergenceWindow)
	for i := range prices {
		// 价格与指标同向，无背离
		prices[i] = 100 + float64(i)
		indicator[i] = 50 + float64(i)
	}
	assert.Equal(t, DivergenceNone, classifyDivergence(prices, indicator))

	assert.Equal(t, DivergenceNone, classifyDivergence(prices[:5], indicator[:5]))
}

// MACD 柱状图前 34 个位置是占位零，窗口只要碰到预热区就不得参与分类。
// 样本数不足 54 (34+20) 时 MACD 背离必须判为 none，而不是拿零值当指标比较
func TestDetectDivergencesMACDWarmupGuard(t *testing.T) {
	closes := make([]float64, 54)
	// 加速上涨后回调再弱势新高，尾部窗口里价格创新高而动能走弱
	for i := range closes {
		closes[i] = 100 + 0.03*float64(i)*float64(i)
	}
	for i := 44; i < 50; i++ {
		closes[i] = closes[43] * 0.9
	}
	for i := 50; i < 54; i++ {
		closes[i] = closes[43] + float64(i-49)
	}

	for n := MinSeriesLength; n < macdHistWarmup+divergenceWindow; n++ {
		s := buildSeries(closes[len(closes)-n:], nil)
		assert.Equal(t, DivergenceNone, DetectDivergences(s).MACD,
			"样本数 %d 的窗口落入预热区，不得分类", n)
	}
}

func TestDetectDivergencesInsufficientData(t *testing.T) {
	s := buildSeries(make([]float64, 30), nil)
	div := DetectDivergences(s)
	assert.Equal(t, DivergenceNone, div.RSI)
	assert.Equal(t, DivergenceNone, div.MACD)
}
