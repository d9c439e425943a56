package exchange

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"hypercore/market"
	"hypercore/pkg/logger"
)

// 主网/测试网 API 地址
const (
	MainnetAPIURL = "https://api.hyperliquid.xyz"
	TestnetAPIURL = "https://api.hyperliquid-testnet.xyz"
)

// fallbackAssetIndex 已知资产索引回退表
// 仅在元数据获取失败时使用，索引分配以交易所返回为准
var fallbackAssetIndex = map[string]AssetMeta{
	"BTC": {Name: "BTC", Index: 0, SzDecimals: 5, MaxLeverage: 50},
	"ETH": {Name: "ETH", Index: 1, SzDecimals: 4, MaxLeverage: 50},
	"SOL": {Name: "SOL", Index: 5, SzDecimals: 2, MaxLeverage: 20},
}

// ClientConfig 执行客户端配置
type ClientConfig struct {
	PrivateKey  string // 签名私钥（agent 钱包）
	AccountAddr string // 主钱包地址（查询持仓与净值）
	VaultAddr   string // 金库地址，留空表示直接交易主账户
	Testnet     bool
	BaseURL     string // 留空按网络自动选择
}

// Client Hyperliquid 执行客户端
// 元数据获取一次后缓存；所有下单经由内部签名会话串行签名
type Client struct {
	baseURL     string
	httpClient  *http.Client
	session     *SigningSession
	accountAddr common.Address
	vault       *common.Address
	log         *zap.Logger

	metaMu     sync.RWMutex
	assetMeta  map[string]AssetMeta
	metaLoaded bool
}

// NewClient 创建执行客户端
// 未配置私钥时客户端仅支持只读接口，下单路径返回 ErrNoSigningKey
func NewClient(cfg ClientConfig) (*Client, error) {
	var session *SigningSession
	if cfg.PrivateKey != "" {
		var err error
		session, err = NewSigningSession(cfg.PrivateKey, cfg.Testnet)
		if err != nil {
			return nil, err
		}
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = MainnetAPIURL
		if cfg.Testnet {
			baseURL = TestnetAPIURL
		}
	}

	var accountAddr common.Address
	if session != nil {
		accountAddr = session.Address()
	}
	if cfg.AccountAddr != "" {
		if !common.IsHexAddress(cfg.AccountAddr) {
			return nil, fmt.Errorf("非法的主钱包地址: %s", cfg.AccountAddr)
		}
		accountAddr = common.HexToAddress(cfg.AccountAddr)
	}

	var vault *common.Address
	if cfg.VaultAddr != "" {
		if !common.IsHexAddress(cfg.VaultAddr) {
			return nil, fmt.Errorf("非法的金库地址: %s", cfg.VaultAddr)
		}
		v := common.HexToAddress(cfg.VaultAddr)
		vault = &v
	}

	return &Client{
		baseURL:     baseURL,
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		session:     session,
		accountAddr: accountAddr,
		vault:       vault,
		log:         logger.Module("exchange"),
		assetMeta:   make(map[string]AssetMeta),
	}, nil
}

// Session 返回签名会话（用于停机检查与测试）
func (c *Client) Session() *SigningSession {
	return c.session
}

// post 发送 JSON POST 请求
func (c *Client) post(ctx context.Context, path string, payload interface{}) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload failed: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request failed: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("http %d: %s", resp.StatusCode, string(respBody))
	}
	return respBody, nil
}

// LoadMeta 拉取并缓存资产元数据（name -> index/精度/最大杠杆）
// 失败时退回已知回退表并记录降级日志
func (c *Client) LoadMeta(ctx context.Context) error {
	respBody, err := c.post(ctx, "/info", map[string]string{"type": "meta"})
	if err != nil {
		c.metaMu.Lock()
		if !c.metaLoaded {
			for name, meta := range fallbackAssetIndex {
				c.assetMeta[name] = meta
			}
			c.metaLoaded = true
		}
		c.metaMu.Unlock()
		c.log.Warn("⚠️ 获取资产元数据失败，使用回退表（降级运行）", zap.Error(err))
		return fmt.Errorf("fetch meta failed: %w", err)
	}

	var response struct {
		Universe []struct {
			Name        string `json:"name"`
			SzDecimals  int    `json:"szDecimals"`
			MaxLeverage int    `json:"maxLeverage"`
		} `json:"universe"`
	}
	if err := json.Unmarshal(respBody, &response); err != nil {
		return fmt.Errorf("parse meta response failed: %w", err)
	}

	c.metaMu.Lock()
	c.assetMeta = make(map[string]AssetMeta, len(response.Universe))
	for i, asset := range response.Universe {
		c.assetMeta[asset.Name] = AssetMeta{
			Name:        asset.Name,
			Index:       i,
			SzDecimals:  asset.SzDecimals,
			MaxLeverage: asset.MaxLeverage,
		}
	}
	c.metaLoaded = true
	count := len(c.assetMeta)
	c.metaMu.Unlock()

	c.log.Info("✓ 资产元数据已缓存", zap.Int("assets", count))
	return nil
}

// AssetMeta 查询资产元数据，首次调用触发拉取
func (c *Client) AssetMeta(ctx context.Context, symbol string) (AssetMeta, error) {
	c.metaMu.RLock()
	loaded := c.metaLoaded
	meta, ok := c.assetMeta[symbol]
	c.metaMu.RUnlock()

	if !loaded {
		if err := c.LoadMeta(ctx); err != nil {
			// 回退表可能已兜底
			c.metaMu.RLock()
			meta, ok = c.assetMeta[symbol]
			c.metaMu.RUnlock()
			if !ok {
				return AssetMeta{}, fmt.Errorf("%w: %s", ErrAssetUnknown, symbol)
			}
			return meta, nil
		}
		c.metaMu.RLock()
		meta, ok = c.assetMeta[symbol]
		c.metaMu.RUnlock()
	}

	if !ok {
		return AssetMeta{}, fmt.Errorf("%w: %s", ErrAssetUnknown, symbol)
	}
	return meta, nil
}

// MidPrice 获取当前中间价
func (c *Client) MidPrice(ctx context.Context, symbol string) (float64, error) {
	respBody, err := c.post(ctx, "/info", map[string]string{"type": "allMids"})
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrPriceUnavailable, symbol, err)
	}

	var mids map[string]string
	if err := json.Unmarshal(respBody, &mids); err != nil {
		return 0, fmt.Errorf("%w: parse allMids failed: %v", ErrPriceUnavailable, err)
	}

	raw, ok := mids[symbol]
	if !ok {
		return 0, fmt.Errorf("%w: %s not in allMids", ErrPriceUnavailable, symbol)
	}
	price, err := strconv.ParseFloat(raw, 64)
	if err != nil || price <= 0 {
		return 0, fmt.Errorf("%w: bad mid %q for %s", ErrPriceUnavailable, raw, symbol)
	}
	return price, nil
}

// Candles 拉取K线快照，返回按时间升序的序列
func (c *Client) Candles(ctx context.Context, symbol, interval string, limit int) (*market.Series, error) {
	end := time.Now().UnixMilli()
	start := end - int64(limit)*intervalMillis(interval)

	respBody, err := c.post(ctx, "/info", map[string]interface{}{
		"type": "candleSnapshot",
		"req": map[string]interface{}{
			"coin":      symbol,
			"interval":  interval,
			"startTime": start,
			"endTime":   end,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("fetch candles failed: %w", err)
	}

	var rows []struct {
		OpenTime int64  `json:"t"`
		Close    string `json:"c"`
		Volume   string `json:"v"`
	}
	if err := json.Unmarshal(respBody, &rows); err != nil {
		return nil, fmt.Errorf("parse candles failed: %w", err)
	}

	series := &market.Series{Symbol: symbol, Candles: make([]market.Candle, 0, len(rows))}
	for _, row := range rows {
		closePx, err := strconv.ParseFloat(row.Close, 64)
		if err != nil {
			continue
		}
		volume, _ := strconv.ParseFloat(row.Volume, 64)
		series.Candles = append(series.Candles, market.Candle{
			Timestamp: time.UnixMilli(row.OpenTime).UTC(),
			Close:     closePx,
			Volume:    volume,
		})
	}
	sort.Slice(series.Candles, func(i, j int) bool {
		return series.Candles[i].Timestamp.Before(series.Candles[j].Timestamp)
	})
	return series, nil
}

func intervalMillis(interval string) int64 {
	switch interval {
	case "1m":
		return time.Minute.Milliseconds()
	case "5m":
		return 5 * time.Minute.Milliseconds()
	case "15m":
		return 15 * time.Minute.Milliseconds()
	case "1h":
		return time.Hour.Milliseconds()
	case "4h":
		return 4 * time.Hour.Milliseconds()
	case "1d":
		return 24 * time.Hour.Milliseconds()
	default:
		return 15 * time.Minute.Milliseconds()
	}
}

// AccountState 查询账户净值与持仓
func (c *Client) AccountState(ctx context.Context) (*AccountState, error) {
	respBody, err := c.post(ctx, "/info", map[string]string{
		"type": "clearinghouseState",
		"user": c.accountAddr.Hex(),
	})
	if err != nil {
		return nil, fmt.Errorf("fetch clearinghouse state failed: %w", err)
	}

	var response struct {
		MarginSummary struct {
			AccountValue string `json:"accountValue"`
		} `json:"marginSummary"`
		AssetPositions []struct {
			Position struct {
				Coin          string `json:"coin"`
				Szi           string `json:"szi"`
				EntryPx       string `json:"entryPx"`
				PositionValue string `json:"positionValue"`
				UnrealizedPnl string `json:"unrealizedPnl"`
				Leverage      struct {
					Value int `json:"value"`
				} `json:"leverage"`
			} `json:"position"`
		} `json:"assetPositions"`
	}
	if err := json.Unmarshal(respBody, &response); err != nil {
		return nil, fmt.Errorf("parse clearinghouse state failed: %w", err)
	}

	state := &AccountState{}
	state.AccountValue, _ = strconv.ParseFloat(response.MarginSummary.AccountValue, 64)
	for _, ap := range response.AssetPositions {
		szi, _ := strconv.ParseFloat(ap.Position.Szi, 64)
		if szi == 0 {
			continue
		}
		entryPx, _ := strconv.ParseFloat(ap.Position.EntryPx, 64)
		posValue, _ := strconv.ParseFloat(ap.Position.PositionValue, 64)
		upnl, _ := strconv.ParseFloat(ap.Position.UnrealizedPnl, 64)
		state.Positions = append(state.Positions, PositionState{
			Symbol:        ap.Position.Coin,
			SignedSize:    szi,
			EntryPrice:    entryPx,
			PositionValue: posValue,
			UnrealizedPnl: upnl,
			Leverage:      ap.Position.Leverage.Value,
		})
	}
	return state, nil
}

// submit 签名并提交动作，解码每单状态
// 签名与提交解耦在「已哈希→已签名→已提交」状态推进中，任何一步失败都带类型返回
func (c *Client) submit(ctx context.Context, action interface{}) ([]orderStatusWire, error) {
	if c.session == nil {
		return nil, ErrNoSigningKey
	}
	signed, err := c.session.SignAction(action, c.vault, nil)
	if err != nil {
		return nil, err
	}

	payload := map[string]interface{}{
		"action":    signed.Action,
		"nonce":     signed.Nonce,
		"signature": signed.Signature,
	}
	if c.vault != nil {
		payload["vaultAddress"] = c.vault.Hex()
	}

	respBody, err := c.post(ctx, "/exchange", payload)
	if err != nil {
		return nil, err
	}

	var envelope struct {
		Status   string          `json:"status"`
		Response json.RawMessage `json:"response"`
	}
	if err := json.Unmarshal(respBody, &envelope); err != nil {
		return nil, fmt.Errorf("parse exchange response failed: %w", err)
	}
	if envelope.Status != "ok" {
		// 整体拒绝：response 为错误字符串
		var msg string
		_ = json.Unmarshal(envelope.Response, &msg)
		if msg == "" {
			msg = string(envelope.Response)
		}
		return []orderStatusWire{{Error: msg}}, nil
	}

	var data struct {
		Type string `json:"type"`
		Data struct {
			Statuses []orderStatusWire `json:"statuses"`
		} `json:"data"`
	}
	if err := json.Unmarshal(envelope.Response, &data); err != nil {
		return nil, fmt.Errorf("parse order statuses failed: %w", err)
	}
	return data.Data.Statuses, nil
}

// orderStatusWire 交易所返回的每单状态，三种互斥结果在边界处一次性解码
type orderStatusWire struct {
	Resting *struct {
		Oid int64 `json:"oid"`
	} `json:"resting,omitempty"`
	Filled *struct {
		TotalSz string `json:"totalSz"`
		AvgPx   string `json:"avgPx"`
		Oid     int64  `json:"oid"`
	} `json:"filled,omitempty"`
	Error string `json:"error,omitempty"`
}

// toResult 将 wire 状态转为带原始请求的结果
func (w orderStatusWire) toResult(req OrderRequest) *OrderResult {
	switch {
	case w.Filled != nil:
		size, _ := strconv.ParseFloat(w.Filled.TotalSz, 64)
		avgPx, _ := strconv.ParseFloat(w.Filled.AvgPx, 64)
		return &OrderResult{
			Request:    req,
			Status:     OrderStatusFilled,
			OrderID:    w.Filled.Oid,
			FilledSize: size,
			AvgPrice:   avgPx,
		}
	case w.Resting != nil:
		return &OrderResult{
			Request: req,
			Status:  OrderStatusResting,
			OrderID: w.Resting.Oid,
		}
	default:
		msg := w.Error
		if msg == "" {
			msg = "unknown order status"
		}
		return &OrderResult{Request: req, Status: OrderStatusRejected, Message: msg}
	}
}
