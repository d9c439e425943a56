package signal

import (
	"math"
	"strings"

	"go.uber.org/zap"

	"hypercore/market"
	"hypercore/pkg/logger"
)

// 评分规则的固定权重
const (
	weightRSI      = 0.20 // RSI 超买/超卖
	weightMACD     = 0.25 // MACD 柱状图与金叉/死叉
	weightEMA      = 0.25 // 价格与快中均线排列
	weightEMASlow  = 0.10 // 慢线也满足排列时的加成
	weightVolume   = 0.10 // 放量确认（不分方向）
	rsiOversold    = 35.0
	rsiOverbought  = 65.0
	volumeSurge    = 1.5
	minConfidence  = 0.45 // 低于该置信度不出信号
	maxConfidence  = 0.95 // 置信度上限，永不宣称确定性
	stopLossATR    = 1.5
	takeProfit1ATR = 3.0
	takeProfit2ATR = 6.0
)

// Generator 信号生成器：纯计算，不接触资金、交易所和账户
type Generator struct {
	log *zap.Logger
}

// NewGenerator 创建信号生成器
func NewGenerator() *Generator {
	return &Generator{log: logger.Module("signal")}
}

// sideScore 单侧证据汇总
type sideScore struct {
	tags   []string // 方向性标签（参与 >=2 和冲突判定）
	weight float64
}

func (s *sideScore) add(tag string, w float64) {
	s.tags = append(s.tags, tag)
	s.weight += w
}

// Compute 从K线序列计算交易信号
// 数据不足或证据不足时返回 (nil, nil)：这是"无信号"，不是错误
func (g *Generator) Compute(series *market.Series, sentiment Sentiment) (*TradeSignal, error) {
	if !series.Sufficient() {
		g.log.Debug("K线数据不足，跳过信号计算",
			zap.String("symbol", series.Symbol),
			zap.Int("len", series.Len()))
		return nil, nil
	}

	ind := market.Compute(series)
	if ind == nil {
		return nil, nil
	}
	div := market.DetectDivergences(series)

	entry := series.LastClose()
	side, confidence, tags := score(entry, ind, div, sentiment)
	if side == "" {
		return nil, nil
	}
	sig := &TradeSignal{
		Symbol:     series.Symbol,
		Side:       side,
		EntryPrice: entry,
		Confidence: confidence,
		Indicators: tags,
		Reasoning:  strings.Join(tags, ", "),
		Timestamp:  series.LastTimestamp(),
	}
	applyLevels(sig, market.Volatility(entry, ind.EMAFast, ind.EMAMid))

	g.log.Info("🎯 生成交易信号",
		zap.String("symbol", sig.Symbol),
		zap.String("side", string(sig.Side)),
		zap.Float64("confidence", sig.Confidence),
		zap.Float64("entry", sig.EntryPrice),
		zap.Float64("stop_loss", sig.StopLoss))
	return sig, nil
}

// score 构建看多/看空两个互斥标签集并做方向裁决
// 一侧至少 2 个方向性标签且对侧为空才选定方向，证据冲突时彻底压制信号
func score(price float64, ind *market.Indicators, div market.Divergences, sentiment Sentiment) (Side, float64, []string) {
	var bull, bear sideScore

	// RSI 超卖/超买
	if ind.RSI < rsiOversold {
		bull.add("rsi_oversold", weightRSI)
	} else if ind.RSI > rsiOverbought {
		bear.add("rsi_overbought", weightRSI)
	}

	// MACD 柱状图方向与线位关系一致才算趋势确认
	if ind.MACDHist > 0 && ind.MACD > ind.MACDSignal {
		bull.add("macd_bullish", weightMACD)
	} else if ind.MACDHist < 0 && ind.MACD < ind.MACDSignal {
		bear.add("macd_bearish", weightMACD)
	}

	// 均线排列必须包含现价：price > 快线 > 中线 才算多头趋势，
	// 价格已跌破均线时快慢线的残余排列不作数；慢线也满足时额外加成
	if price > ind.EMAFast && ind.EMAFast > ind.EMAMid {
		w := weightEMA
		tag := "ema_bullish"
		if ind.EMAMid > ind.EMASlow {
			w += weightEMASlow
			tag = "ema_bullish_aligned"
		}
		bull.add(tag, w)
	} else if price < ind.EMAFast && ind.EMAFast < ind.EMAMid {
		w := weightEMA
		tag := "ema_bearish"
		if ind.EMAMid < ind.EMASlow {
			w += weightEMASlow
			tag = "ema_bearish_aligned"
		}
		bear.add(tag, w)
	}

	// 外部恐惧贪婪情绪（权重已按极端程度缩放）
	if sentiment.Weight > 0 {
		if sentiment.bullish() {
			bull.add("sentiment_"+sentiment.Classification, sentiment.Weight)
		} else if sentiment.bearish() {
			bear.add("sentiment_"+sentiment.Classification, sentiment.Weight)
		}
	}

	// 背离各自贡献固定增量
	if div.RSI == market.DivergenceBullish {
		bull.add("rsi_divergence", market.RSIDivergenceStrength)
	} else if div.RSI == market.DivergenceBearish {
		bear.add("rsi_divergence", market.RSIDivergenceStrength)
	}
	if div.MACD == market.DivergenceBullish {
		bull.add("macd_divergence", market.MACDDivergenceStrength)
	} else if div.MACD == market.DivergenceBearish {
		bear.add("macd_divergence", market.MACDDivergenceStrength)
	}

	// 放量只确认力度不确认方向：两侧同时加权，不作为方向性标签
	volumeConfirmed := ind.VolumeRatio > volumeSurge
	if volumeConfirmed {
		bull.weight += weightVolume
		bear.weight += weightVolume
	}

	// 方向裁决：证据冲突直接压制，绝不取平均
	var chosen *sideScore
	var side Side
	switch {
	case len(bull.tags) >= 2 && len(bear.tags) == 0:
		chosen, side = &bull, SideLong
	case len(bear.tags) >= 2 && len(bull.tags) == 0:
		chosen, side = &bear, SideShort
	default:
		return "", 0, nil
	}

	confidence := math.Min(chosen.weight, maxConfidence)
	if confidence < minConfidence {
		return "", 0, nil
	}

	tags := chosen.tags
	if volumeConfirmed {
		tags = append(tags, "volume_surge")
	}
	return side, confidence, tags
}

// applyLevels 按类 ATR 波动估计推导止损与两档止盈，全部钳制为非负
func applyLevels(sig *TradeSignal, atr float64) {
	if sig.Side == SideLong {
		sig.StopLoss = math.Max(0, sig.EntryPrice-stopLossATR*atr)
		sig.TakeProfit1 = sig.EntryPrice + takeProfit1ATR*atr
		sig.TakeProfit2 = sig.EntryPrice + takeProfit2ATR*atr
		return
	}
	sig.StopLoss = sig.EntryPrice + stopLossATR*atr
	sig.TakeProfit1 = math.Max(0, sig.EntryPrice-takeProfit1ATR*atr)
	sig.TakeProfit2 = math.Max(0, sig.EntryPrice-takeProfit2ATR*atr)
}
