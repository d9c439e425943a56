package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"

	"hypercore/risk"
	"hypercore/trader"
)

// Config 进程全部配置，来源为环境变量（可选 .env 文件）
type Config struct {
	// 日志
	LogDir string
	Debug  bool

	// 交易所接入
	PrivateKey  string `validate:"omitempty,len=64,hexadecimal"`
	AccountAddr string `validate:"omitempty,eth_addr"`
	VaultAddr   string `validate:"omitempty,eth_addr"`
	Testnet     bool

	// 审计库路径，空串禁用落盘
	DatabasePath string

	Risk    risk.Config
	Trading trader.Config
}

// Load 从 .env（可选）与环境变量装配配置
// 实盘模式必须提供私钥，模拟模式允许无密钥运行
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("加载配置文件 %s 失败: %w", envFile, err)
		}
	} else {
		// 缺省 .env 不存在不是错误
		_ = godotenv.Load()
	}

	cfg := &Config{
		LogDir:       getEnv("HC_LOG_DIR", "logs"),
		Debug:        getBool("HC_DEBUG", false),
		PrivateKey:   strings.TrimPrefix(os.Getenv("HC_PRIVATE_KEY"), "0x"),
		AccountAddr:  os.Getenv("HC_ACCOUNT_ADDRESS"),
		VaultAddr:    os.Getenv("HC_VAULT_ADDRESS"),
		Testnet:      getBool("HC_TESTNET", false),
		DatabasePath: getEnv("HC_DATABASE_PATH", "hypercore.db"),
		Risk:         riskFromEnv(),
		Trading:      tradingFromEnv(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func riskFromEnv() risk.Config {
	c := risk.DefaultConfig()
	c.MaxPositionSizePct = getFloat("HC_MAX_POSITION_PCT", c.MaxPositionSizePct)
	c.MaxTotalExposurePct = getFloat("HC_MAX_EXPOSURE_PCT", c.MaxTotalExposurePct)
	c.MaxCorrelatedExposurePct = getFloat("HC_MAX_CORRELATED_PCT", c.MaxCorrelatedExposurePct)
	c.MinConfidence = getFloat("HC_MIN_CONFIDENCE_PCT", c.MinConfidence)
	c.MaxLeverage = getInt("HC_MAX_LEVERAGE", c.MaxLeverage)
	c.MaxDailyLossPct = getFloat("HC_MAX_DAILY_LOSS_PCT", c.MaxDailyLossPct)
	return c
}

func tradingFromEnv() trader.Config {
	c := trader.DefaultConfig()
	if v := os.Getenv("HC_SYMBOLS"); v != "" {
		c.AllowedSymbols = splitSymbols(v)
	}
	c.MinConfidence = getFloat("HC_SIGNAL_MIN_CONFIDENCE", c.MinConfidence)
	c.Cooldown = getDuration("HC_COOLDOWN", c.Cooldown)
	c.MaxDailyTrades = getInt("HC_MAX_DAILY_TRADES", c.MaxDailyTrades)
	c.ScanInterval = getDuration("HC_SCAN_INTERVAL", c.ScanInterval)
	c.CandleInterval = getEnv("HC_CANDLE_INTERVAL", c.CandleInterval)
	c.MonitorInterval = getDuration("HC_MONITOR_INTERVAL", c.MonitorInterval)
	c.DryRun = getBool("HC_DRY_RUN", c.DryRun)
	return c
}

// Validate 结构校验加跨字段业务规则
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("配置校验失败: %w", err)
	}
	if err := c.Risk.Validate(); err != nil {
		return err
	}
	if !c.Trading.DryRun && c.PrivateKey == "" {
		return fmt.Errorf("实盘模式必须设置 HC_PRIVATE_KEY")
	}
	if c.Trading.MinConfidence < 0 || c.Trading.MinConfidence > 1 {
		return fmt.Errorf("HC_SIGNAL_MIN_CONFIDENCE 必须在 [0,1] 区间: %v", c.Trading.MinConfidence)
	}
	if len(c.Trading.AllowedSymbols) == 0 {
		return fmt.Errorf("交易白名单不能为空")
	}
	return nil
}

func splitSymbols(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.ToUpper(strings.TrimSpace(p)); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
