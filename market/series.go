package market

import "time"

// MinSeriesLength 指标计算所需的最少K线数量
// 少于该长度时信号层直接返回"数据不足"，不做填充
const MinSeriesLength = 50

// Candle 单根K线 (收盘价 + 成交量)
type Candle struct {
	Timestamp time.Time `json:"timestamp"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
}

// Series 按时间升序排列的K线序列，最旧的在最前
type Series struct {
	Symbol  string   `json:"symbol"`
	Candles []Candle `json:"candles"`
}

// Len 返回序列长度
func (s *Series) Len() int {
	return len(s.Candles)
}

// Sufficient 数据量是否足够计算指标
func (s *Series) Sufficient() bool {
	return len(s.Candles) >= MinSeriesLength
}

// Closes 提取收盘价序列
func (s *Series) Closes() []float64 {
	closes := make([]float64, len(s.Candles))
	for i, c := range s.Candles {
		closes[i] = c.Close
	}
	return closes
}

// Volumes 提取成交量序列
func (s *Series) Volumes() []float64 {
	volumes := make([]float64, len(s.Candles))
	for i, c := range s.Candles {
		volumes[i] = c.Volume
	}
	return volumes
}

// LastClose 最新收盘价，空序列返回 0
func (s *Series) LastClose() float64 {
	if len(s.Candles) == 0 {
		return 0
	}
	return s.Candles[len(s.Candles)-1].Close
}

// LastTimestamp 最新K线时间，空序列返回零值
func (s *Series) LastTimestamp() time.Time {
	if len(s.Candles) == 0 {
		return time.Time{}
	}
	return s.Candles[len(s.Candles)-1].Timestamp
}
