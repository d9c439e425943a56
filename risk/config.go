package risk

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Config 风控参数（六个可调项，全部来自配置而非常量）
type Config struct {
	// 单笔仓位上限，占组合净值百分比
	MaxPositionSizePct float64 `validate:"gt=0,lte=100"`
	// 总敞口上限，占组合净值百分比
	MaxTotalExposurePct float64 `validate:"gt=0,lte=100"`
	// 单个相关性分组敞口上限，占组合净值百分比
	MaxCorrelatedExposurePct float64 `validate:"gt=0,lte=100"`
	// 最低置信度（百分制），低于该值直接拒绝
	MinConfidence float64 `validate:"gte=0,lte=100"`
	// 最大杠杆倍数
	MaxLeverage int `validate:"gte=1,lte=50"`
	// 最大日亏损百分比，触及后当日停止开仓
	MaxDailyLossPct float64 `validate:"gt=0,lte=100"`
}

// DefaultConfig 缺省风控参数
func DefaultConfig() Config {
	return Config{
		MaxPositionSizePct:       5,
		MaxTotalExposurePct:      30,
		MaxCorrelatedExposurePct: 15,
		MinConfidence:            70,
		MaxLeverage:              5,
		MaxDailyLossPct:          3,
	}
}

// Validate 校验配置边界
func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("风控配置非法: %w", err)
	}
	if c.MaxPositionSizePct > c.MaxTotalExposurePct {
		return fmt.Errorf("风控配置非法: 单笔上限 %.1f%% 超过总敞口上限 %.1f%%",
			c.MaxPositionSizePct, c.MaxTotalExposurePct)
	}
	return nil
}

// correlationGroups 固定的相关性分组表
// 同组币种视为联动，聚合敞口受组上限约束
var correlationGroups = map[string][]string{
	"majors": {"BTC", "ETH"},
	"l1":     {"SOL", "AVAX", "ADA", "DOT", "APT", "SUI", "NEAR", "ATOM"},
	"l2":     {"ARB", "OP", "MATIC", "STRK"},
	"defi":   {"UNI", "AAVE", "CRV", "LINK", "MKR", "LDO"},
	"meme":   {"DOGE", "SHIB", "PEPE", "WIF", "BONK"},
	"gold":   {"PAXG", "XAUT"},
}

// CorrelationGroup 返回币种所属分组名
// 未知币种自成单币分组，仍受组上限约束
func CorrelationGroup(symbol string) string {
	sym := strings.TrimSuffix(strings.ToUpper(symbol), "USDT")
	for group, members := range correlationGroups {
		for _, m := range members {
			if m == sym {
				return group
			}
		}
	}
	return "single_" + sym
}
