package exchange

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeExchange 模拟交易所 info/exchange 两个端点
type fakeExchange struct {
	t             *testing.T
	orderStatuses []map[string]interface{} // 下单返回的 statuses
	failMeta      bool
	exchangeCalls int
	lastNonce     float64
}

func (f *fakeExchange) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/info", func(w http.ResponseWriter, r *http.Request) {
		var req map[string]interface{}
		require.NoError(f.t, json.NewDecoder(r.Body).Decode(&req))

		switch req["type"] {
		case "meta":
			if f.failMeta {
				http.Error(w, "unavailable", http.StatusServiceUnavailable)
				return
			}
			writeJSON(w, map[string]interface{}{
				"universe": []map[string]interface{}{
					{"name": "BTC", "szDecimals": 5, "maxLeverage": 50},
					{"name": "ETH", "szDecimals": 4, "maxLeverage": 50},
					{"name": "DOGE", "szDecimals": 0, "maxLeverage": 10},
				},
			})
		case "allMids":
			writeJSON(w, map[string]string{"BTC": "29792.0", "ETH": "1891.5", "DOGE": "0.0721"})
		case "candleSnapshot":
			writeJSON(w, []map[string]interface{}{
				{"t": 1700000000000, "c": "29700.0", "v": "120.5"},
				{"t": 1700000900000, "c": "29750.0", "v": "98.2"},
				{"t": 1700001800000, "c": "29792.0", "v": "210.0"},
			})
		case "clearinghouseState":
			writeJSON(w, map[string]interface{}{
				"marginSummary": map[string]string{"accountValue": "10000.0"},
				"assetPositions": []map[string]interface{}{
					{"position": map[string]interface{}{
						"coin": "ETH", "szi": "1.5", "entryPx": "1850.0",
						"positionValue": "2837.25", "unrealizedPnl": "62.25",
						"leverage": map[string]interface{}{"value": 3},
					}},
				},
			})
		default:
			f.t.Fatalf("未知 info 请求: %v", req["type"])
		}
	})
	mux.HandleFunc("/exchange", func(w http.ResponseWriter, r *http.Request) {
		f.exchangeCalls++
		var req struct {
			Nonce     float64         `json:"nonce"`
			Signature Signature       `json:"signature"`
			Action    json.RawMessage `json:"action"`
		}
		require.NoError(f.t, json.NewDecoder(r.Body).Decode(&req))
		// nonce 必须严格递增
		assert.Greater(f.t, req.Nonce, f.lastNonce)
		f.lastNonce = req.Nonce
		assert.NotEmpty(f.t, req.Signature.R)

		writeJSON(w, map[string]interface{}{
			"status": "ok",
			"response": map[string]interface{}{
				"type": "order",
				"data": map[string]interface{}{"statuses": f.orderStatuses},
			},
		})
	})
	return mux
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func newTestClient(t *testing.T, fake *fakeExchange) *Client {
	t.Helper()
	fake.t = t
	server := httptest.NewServer(fake.handler())
	t.Cleanup(server.Close)

	client, err := NewClient(ClientConfig{
		PrivateKey: testPrivateKey,
		BaseURL:    server.URL,
	})
	require.NoError(t, err)
	return client
}

func TestLoadMetaAndAssetLookup(t *testing.T) {
	client := newTestClient(t, &fakeExchange{})
	ctx := context.Background()

	meta, err := client.AssetMeta(ctx, "ETH")
	require.NoError(t, err)
	assert.Equal(t, 1, meta.Index)
	assert.Equal(t, 4, meta.SzDecimals)

	// 未知资产 -> 类型化错误，跳过该币种
	_, err = client.AssetMeta(ctx, "NOPE")
	assert.ErrorIs(t, err, ErrAssetUnknown)
}

func TestLoadMetaFallbackTable(t *testing.T) {
	client := newTestClient(t, &fakeExchange{failMeta: true})
	ctx := context.Background()

	// 元数据拉取失败 -> 回退表兜底已知索引
	meta, err := client.AssetMeta(ctx, "BTC")
	require.NoError(t, err)
	assert.Equal(t, 0, meta.Index)

	_, err = client.AssetMeta(ctx, "DOGE")
	assert.ErrorIs(t, err, ErrAssetUnknown)
}

func TestMidPrice(t *testing.T) {
	client := newTestClient(t, &fakeExchange{})
	ctx := context.Background()

	price, err := client.MidPrice(ctx, "BTC")
	require.NoError(t, err)
	assert.InDelta(t, 29792.0, price, 1e-9)

	_, err = client.MidPrice(ctx, "NOPE")
	assert.ErrorIs(t, err, ErrPriceUnavailable)
}

func TestCandles(t *testing.T) {
	client := newTestClient(t, &fakeExchange{})
	series, err := client.Candles(context.Background(), "BTC", "15m", 100)
	require.NoError(t, err)
	require.Equal(t, 3, series.Len())
	// 升序排列，最新在最后
	assert.InDelta(t, 29792.0, series.LastClose(), 1e-9)
	assert.True(t, series.Candles[0].Timestamp.Before(series.Candles[2].Timestamp))
}

func TestAccountState(t *testing.T) {
	client := newTestClient(t, &fakeExchange{})
	state, err := client.AccountState(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 10000.0, state.AccountValue, 1e-9)
	require.Len(t, state.Positions, 1)
	assert.Equal(t, "ETH", state.Positions[0].Symbol)
	assert.InDelta(t, 1.5, state.Positions[0].SignedSize, 1e-9)
}

func TestOrderStatusDecoding(t *testing.T) {
	req := OrderRequest{Symbol: "BTC", IsBuy: true}

	filled := orderStatusWire{}
	require.NoError(t, json.Unmarshal([]byte(`{"filled":{"totalSz":"0.02","avgPx":"29800.5","oid":77}}`), &filled))
	r := filled.toResult(req)
	assert.Equal(t, OrderStatusFilled, r.Status)
	assert.InDelta(t, 0.02, r.FilledSize, 1e-9)
	assert.InDelta(t, 29800.5, r.AvgPrice, 1e-9)
	assert.EqualValues(t, 77, r.OrderID)

	resting := orderStatusWire{}
	require.NoError(t, json.Unmarshal([]byte(`{"resting":{"oid":88}}`), &resting))
	r = resting.toResult(req)
	assert.Equal(t, OrderStatusResting, r.Status)
	assert.EqualValues(t, 88, r.OrderID)

	rejected := orderStatusWire{}
	require.NoError(t, json.Unmarshal([]byte(`{"error":"Insufficient margin"}`), &rejected))
	r = rejected.toResult(req)
	assert.Equal(t, OrderStatusRejected, r.Status)
	assert.Equal(t, "Insufficient margin", r.Message)
	assert.Equal(t, req, r.Request, "拒绝结果必须携带原始请求")
}

func TestKeylessClientIsReadOnly(t *testing.T) {
	fake := &fakeExchange{t: t}
	server := httptest.NewServer(fake.handler())
	t.Cleanup(server.Close)

	client, err := NewClient(ClientConfig{BaseURL: server.URL})
	require.NoError(t, err)
	ctx := context.Background()

	// 只读接口正常工作
	_, err = client.MidPrice(ctx, "BTC")
	require.NoError(t, err)

	// 签名路径返回带类型的无密钥错误
	_, err = client.MarketOrder(ctx, "BTC", true, 1000, 0)
	assert.ErrorIs(t, err, ErrNoSigningKey)
	err = client.UpdateLeverage(ctx, "BTC", 3)
	assert.ErrorIs(t, err, ErrNoSigningKey)
}
