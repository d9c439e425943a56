package exchange

// 本文件定义交易所侧的规范动作结构
// msgpack 标签决定动作哈希的字节编码，字段顺序不可调整，
// 任何改动都会破坏跨实现的哈希一致性

// OrderTypeWire 订单类型描述：限价单与触发单二选一
type OrderTypeWire struct {
	Limit   *LimitWire   `msgpack:"limit,omitempty" json:"limit,omitempty"`
	Trigger *TriggerWire `msgpack:"trigger,omitempty" json:"trigger,omitempty"`
}

// LimitWire 限价单时效
// tif=Ioc 即时成交剩余撤销，用于模拟市价单并显式约束最坏滑点
type LimitWire struct {
	Tif string `msgpack:"tif" json:"tif"`
}

// TriggerWire 触发单描述（止盈/止损）
type TriggerWire struct {
	IsMarket  bool   `msgpack:"isMarket" json:"isMarket"`
	TriggerPx string `msgpack:"triggerPx" json:"triggerPx"`
	TpSl      string `msgpack:"tpsl" json:"tpsl"` // "tp" | "sl"
}

// OrderWire 单笔订单的规范编码
type OrderWire struct {
	Asset      int           `msgpack:"a" json:"a"`
	IsBuy      bool          `msgpack:"b" json:"b"`
	LimitPx    string        `msgpack:"p" json:"p"`
	Size       string        `msgpack:"s" json:"s"`
	ReduceOnly bool          `msgpack:"r" json:"r"`
	Type       OrderTypeWire `msgpack:"t" json:"t"`
}

// OrderAction 提交签名的下单动作
type OrderAction struct {
	Type     string      `msgpack:"type" json:"type"`
	Orders   []OrderWire `msgpack:"orders" json:"orders"`
	Grouping string      `msgpack:"grouping" json:"grouping"`
}

// LeverageAction 调整杠杆动作，与下单走同一哈希/签名路径
type LeverageAction struct {
	Type     string `msgpack:"type" json:"type"`
	Asset    int    `msgpack:"asset" json:"asset"`
	IsCross  bool   `msgpack:"isCross" json:"isCross"`
	Leverage int    `msgpack:"leverage" json:"leverage"`
}

// AssetMeta 交易所定义的资产元数据
// index 由交易所分配，除已知回退表外绝不硬编码
type AssetMeta struct {
	Name        string `json:"name"`
	Index       int    `json:"index"`
	SzDecimals  int    `json:"szDecimals"`
	MaxLeverage int    `json:"maxLeverage"`
}

// OrderStatusKind 订单提交后的三种终态（不是布尔值）
type OrderStatusKind string

const (
	OrderStatusFilled   OrderStatusKind = "filled"
	OrderStatusResting  OrderStatusKind = "resting"
	OrderStatusRejected OrderStatusKind = "rejected"
)

// OrderRequest 原始请求参数，失败结果中原样携带供调用方决策
type OrderRequest struct {
	Symbol      string  `json:"symbol"`
	IsBuy       bool    `json:"is_buy"`
	NotionalUSD float64 `json:"notional_usd,omitempty"`
	Size        float64 `json:"size,omitempty"`
	LimitPrice  float64 `json:"limit_price,omitempty"`
	TriggerPx   float64 `json:"trigger_px,omitempty"`
	ReduceOnly  bool    `json:"reduce_only"`
	Slippage    float64 `json:"slippage,omitempty"`
}

// OrderResult 订单提交结果
// 交易所层面的拒绝编码在 Status/Message 中，不以 error 形式向外抛
type OrderResult struct {
	Request    OrderRequest    `json:"request"`
	Status     OrderStatusKind `json:"status"`
	OrderID    int64           `json:"order_id,omitempty"`
	FilledSize float64         `json:"filled_size,omitempty"`
	AvgPrice   float64         `json:"avg_price,omitempty"`
	Message    string          `json:"message,omitempty"`
}

// Filled 是否全部成交
func (r *OrderResult) Filled() bool {
	return r.Status == OrderStatusFilled
}

// Accepted 订单是否被交易所接受（成交或挂单）
func (r *OrderResult) Accepted() bool {
	return r.Status == OrderStatusFilled || r.Status == OrderStatusResting
}

// PositionState 交易所返回的持仓状态
type PositionState struct {
	Symbol        string  `json:"symbol"`
	SignedSize    float64 `json:"signed_size"` // 正数为多头，负数为空头
	EntryPrice    float64 `json:"entry_price"`
	PositionValue float64 `json:"position_value"`
	UnrealizedPnl float64 `json:"unrealized_pnl"`
	Leverage      int     `json:"leverage"`
}

// AccountState 账户快照
type AccountState struct {
	AccountValue float64         `json:"account_value"`
	Positions    []PositionState `json:"positions"`
}
