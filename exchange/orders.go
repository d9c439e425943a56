package exchange

import (
	"context"
	"fmt"
	"math"
	"strconv"

	"go.uber.org/zap"
)

// 缺省滑点带：新开仓 0.5%，平仓放宽到 1%
const (
	DefaultSlippage = 0.005
	CloseSlippage   = 0.01
	// 触发单的限价穿过触发价 1%，牺牲滑点换取触发后尽量成交
	// 这是有意的滑点容忍，不是误差
	triggerPushThrough = 0.01
)

// TickSize 按价格量级推断最小报价单位
// 注意：这是对交易所真实逐资产 tick 表的近似，
// 交易所目前不在元数据中下发 tick，量级推断是已知的折衷
func TickSize(price float64) float64 {
	switch {
	case price >= 10000:
		return 1
	case price >= 1000:
		return 0.1
	case price >= 100:
		return 0.01
	case price >= 10:
		return 0.001
	case price >= 1:
		return 0.0001
	case price >= 0.1:
		return 0.00001
	case price >= 0.01:
		return 0.000001
	case price >= 0.001:
		return 0.0000001
	default:
		return 0.00000001
	}
}

// RoundToTick 将价格对齐到 tick
func RoundToTick(price float64) float64 {
	tick := TickSize(price)
	return math.Round(price/tick) * tick
}

// formatPrice 价格转 wire 字符串（交易所以字符串传输数值）
func formatPrice(price float64) string {
	tick := TickSize(price)
	decimals := 0
	for tick < 1 {
		tick *= 10
		decimals++
	}
	return strconv.FormatFloat(RoundToTick(price), 'f', decimals, 64)
}

// roundSize 数量按资产精度取整
func roundSize(size float64, szDecimals int) float64 {
	scale := math.Pow10(szDecimals)
	return math.Floor(size*scale) / scale
}

// formatSize 数量转 wire 字符串
func formatSize(size float64, szDecimals int) string {
	return strconv.FormatFloat(size, 'f', szDecimals, 64)
}

// MarketOrder 以 IOC 限价单模拟市价单
// 限价按滑点带越过中间价（买高卖低）保证立即吃单，最坏滑点显式有界
func (c *Client) MarketOrder(ctx context.Context, symbol string, isBuy bool, notionalUSD, slippage float64) (*OrderResult, error) {
	if slippage <= 0 {
		slippage = DefaultSlippage
	}
	req := OrderRequest{Symbol: symbol, IsBuy: isBuy, NotionalUSD: notionalUSD, Slippage: slippage}

	meta, err := c.AssetMeta(ctx, symbol)
	if err != nil {
		return nil, err
	}
	mid, err := c.MidPrice(ctx, symbol)
	if err != nil {
		return nil, err
	}

	size := roundSize(notionalUSD/mid, meta.SzDecimals)
	if size <= 0 {
		return &OrderResult{
			Request: req,
			Status:  OrderStatusRejected,
			Message: fmt.Sprintf("金额 %.2f USD 不足最小下单精度", notionalUSD),
		}, nil
	}

	limitPx := mid * (1 + slippage)
	if !isBuy {
		limitPx = mid * (1 - slippage)
	}
	req.Size = size
	req.LimitPrice = RoundToTick(limitPx)

	action := &OrderAction{
		Type: "order",
		Orders: []OrderWire{{
			Asset:   meta.Index,
			IsBuy:   isBuy,
			LimitPx: formatPrice(limitPx),
			Size:    formatSize(size, meta.SzDecimals),
			Type:    OrderTypeWire{Limit: &LimitWire{Tif: "Ioc"}},
		}},
		Grouping: "na",
	}

	statuses, err := c.submit(ctx, action)
	if err != nil {
		return nil, err
	}
	result := firstStatus(statuses).toResult(req)
	c.logResult("市价单", result)
	return result, nil
}

// TriggerOrder 挂止盈/止损触发单
// 只减仓、反方向；isStopLoss 决定 tpsl 标记
func (c *Client) TriggerOrder(ctx context.Context, symbol string, isBuy bool, size, triggerPx float64, isStopLoss bool) (*OrderResult, error) {
	req := OrderRequest{Symbol: symbol, IsBuy: isBuy, Size: size, TriggerPx: triggerPx, ReduceOnly: true}

	meta, err := c.AssetMeta(ctx, symbol)
	if err != nil {
		return nil, err
	}

	size = roundSize(size, meta.SzDecimals)
	if size <= 0 {
		return &OrderResult{Request: req, Status: OrderStatusRejected, Message: "触发单数量不足最小精度"}, nil
	}

	// 限价穿过触发价 1%（平仓方向），触发后以牺牲滑点换成交
	limitPx := triggerPx * (1 + triggerPushThrough)
	if !isBuy {
		limitPx = triggerPx * (1 - triggerPushThrough)
	}

	tpsl := "tp"
	if isStopLoss {
		tpsl = "sl"
	}

	action := &OrderAction{
		Type: "order",
		Orders: []OrderWire{{
			Asset:      meta.Index,
			IsBuy:      isBuy,
			LimitPx:    formatPrice(limitPx),
			Size:       formatSize(size, meta.SzDecimals),
			ReduceOnly: true,
			Type: OrderTypeWire{Trigger: &TriggerWire{
				IsMarket:  true,
				TriggerPx: formatPrice(triggerPx),
				TpSl:      tpsl,
			}},
		}},
		Grouping: "na",
	}

	statuses, err := c.submit(ctx, action)
	if err != nil {
		return nil, err
	}
	result := firstStatus(statuses).toResult(req)
	c.logResult("触发单", result)
	return result, nil
}

// ClosePosition 平掉指定币种的持仓（fraction=1 全平，可部分平仓）
// 从带符号持仓推断方向与数量，反方向只减仓 IOC，滑点带放宽到 1%
// 无持仓时返回交易所拒绝式的类型化结果而不是 error
func (c *Client) ClosePosition(ctx context.Context, symbol string, fraction float64) (*OrderResult, error) {
	if fraction <= 0 || fraction > 1 {
		fraction = 1
	}
	req := OrderRequest{Symbol: symbol, ReduceOnly: true, Slippage: CloseSlippage}

	state, err := c.AccountState(ctx)
	if err != nil {
		return nil, err
	}

	var pos *PositionState
	for i := range state.Positions {
		if state.Positions[i].Symbol == symbol {
			pos = &state.Positions[i]
			break
		}
	}
	if pos == nil {
		return &OrderResult{
			Request: req,
			Status:  OrderStatusRejected,
			Message: fmt.Sprintf("no open position for %s", symbol),
		}, nil
	}

	meta, err := c.AssetMeta(ctx, symbol)
	if err != nil {
		return nil, err
	}
	mid, err := c.MidPrice(ctx, symbol)
	if err != nil {
		return nil, err
	}

	// 多头平仓卖出，空头平仓买入
	isBuy := pos.SignedSize < 0
	size := roundSize(math.Abs(pos.SignedSize)*fraction, meta.SzDecimals)
	if size <= 0 {
		return &OrderResult{Request: req, Status: OrderStatusRejected, Message: "平仓数量不足最小精度"}, nil
	}

	limitPx := mid * (1 + CloseSlippage)
	if !isBuy {
		limitPx = mid * (1 - CloseSlippage)
	}
	req.IsBuy = isBuy
	req.Size = size
	req.LimitPrice = RoundToTick(limitPx)

	action := &OrderAction{
		Type: "order",
		Orders: []OrderWire{{
			Asset:      meta.Index,
			IsBuy:      isBuy,
			LimitPx:    formatPrice(limitPx),
			Size:       formatSize(size, meta.SzDecimals),
			ReduceOnly: true,
			Type:       OrderTypeWire{Limit: &LimitWire{Tif: "Ioc"}},
		}},
		Grouping: "na",
	}

	statuses, err := c.submit(ctx, action)
	if err != nil {
		return nil, err
	}
	result := firstStatus(statuses).toResult(req)
	c.logResult("平仓", result)
	return result, nil
}

// UpdateLeverage 设置币种杠杆（全仓模式）
func (c *Client) UpdateLeverage(ctx context.Context, symbol string, leverage int) error {
	meta, err := c.AssetMeta(ctx, symbol)
	if err != nil {
		return err
	}
	if leverage > meta.MaxLeverage {
		leverage = meta.MaxLeverage
	}

	action := &LeverageAction{
		Type:     "updateLeverage",
		Asset:    meta.Index,
		IsCross:  true,
		Leverage: leverage,
	}

	statuses, err := c.submit(ctx, action)
	if err != nil {
		return err
	}
	if st := firstStatus(statuses); st.Error != "" {
		return fmt.Errorf("set leverage rejected: %s", st.Error)
	}
	c.log.Info("✓ 杠杆已更新", zap.String("symbol", symbol), zap.Int("leverage", leverage))
	return nil
}

// firstStatus 取首个状态，空列表按成功处理（杠杆类动作不返回 statuses）
func firstStatus(statuses []orderStatusWire) orderStatusWire {
	if len(statuses) == 0 {
		return orderStatusWire{}
	}
	return statuses[0]
}

func (c *Client) logResult(kind string, r *OrderResult) {
	switch r.Status {
	case OrderStatusFilled:
		c.log.Info("✅ "+kind+"成交",
			zap.String("symbol", r.Request.Symbol),
			zap.Float64("size", r.FilledSize),
			zap.Float64("avg_price", r.AvgPrice))
	case OrderStatusResting:
		c.log.Info("📋 "+kind+"已挂单",
			zap.String("symbol", r.Request.Symbol),
			zap.Int64("order_id", r.OrderID))
	default:
		c.log.Warn("❌ "+kind+"被拒绝",
			zap.String("symbol", r.Request.Symbol),
			zap.String("message", r.Message))
	}
}
