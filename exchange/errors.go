package exchange

import "errors"

// 错误分类（对应各自的处理策略，见调用方）
var (
	// ErrAssetUnknown 资产不存在于交易所元数据，该币种直接跳过
	ErrAssetUnknown = errors.New("exchange: asset unknown")
	// ErrPriceUnavailable 中间价获取失败，调用方可退避重试，绝不造价
	ErrPriceUnavailable = errors.New("exchange: price unavailable")
	// ErrNoSigningKey 未配置签名私钥
	ErrNoSigningKey = errors.New("exchange: no signing key configured")
	// ErrSigningHalted 签名会话已停用（检测到 nonce 异常后拒绝继续提交）
	ErrSigningHalted = errors.New("exchange: signing session halted")
	// ErrNonceReuse nonce 未严格递增，协议级错误
	ErrNonceReuse = errors.New("exchange: nonce reuse detected")
)
