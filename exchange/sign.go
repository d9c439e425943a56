package exchange

import (
	"crypto/ecdsa"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// Signature (r, s, v) 签名，按交易所要求的 JSON 结构编码
type Signature struct {
	R string `json:"r"`
	S string `json:"s"`
	V uint8  `json:"v"`
}

// SignedAction 已签名的动作，可直接提交
type SignedAction struct {
	Action    interface{}     `json:"action"`
	Nonce     uint64          `json:"nonce"`
	Signature Signature       `json:"signature"`
	Vault     *common.Address `json:"-"`
}

// SigningSession 签名会话：持有私钥与 nonce 序列的唯一权威来源
// 同一私钥的所有签名必须经过同一个会话串行执行，
// 并发复用 nonce 是协议级正确性错误而不只是竞态
type SigningSession struct {
	mu        sync.Mutex
	key       *ecdsa.PrivateKey
	address   common.Address
	testnet   bool
	lastNonce uint64
	halted    bool
	now       func() time.Time
}

// NewSigningSession 从十六进制私钥创建签名会话
func NewSigningSession(privateKeyHex string, testnet bool) (*SigningSession, error) {
	if privateKeyHex == "" {
		return nil, ErrNoSigningKey
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("解析签名私钥失败: %w", err)
	}
	return &SigningSession{
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
		testnet: testnet,
		now:     time.Now,
	}, nil
}

// Address 签名钱包地址
func (s *SigningSession) Address() common.Address {
	return s.address
}

// Halted 会话是否已停用
func (s *SigningSession) Halted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.halted
}

// Halt 停用会话，此后该私钥上的提交一律拒绝，直至人工介入
func (s *SigningSession) Halt() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.halted = true
}

// SignAction 对动作哈希做 phantom agent 签名
// nonce 取 max(上次+1, 当前毫秒)，在会话锁内分配，保证严格递增
func (s *SigningSession) SignAction(action interface{}, vault *common.Address, expiresAfter *uint64) (*SignedAction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.halted {
		return nil, ErrSigningHalted
	}

	nonce := uint64(s.now().UnixMilli())
	if nonce <= s.lastNonce {
		nonce = s.lastNonce + 1
	}
	// 理论上不可达，但 nonce 秩序一旦破坏必须立即停机
	if nonce <= s.lastNonce {
		s.halted = true
		return nil, ErrNonceReuse
	}

	hash, err := ActionHash(action, vault, nonce, expiresAfter)
	if err != nil {
		return nil, err
	}

	sig, err := s.signPhantomAgent(hash)
	if err != nil {
		s.halted = true
		return nil, fmt.Errorf("签名失败，会话已停用: %w", err)
	}

	s.lastNonce = nonce
	return &SignedAction{Action: action, Nonce: nonce, Signature: sig, Vault: vault}, nil
}

// signPhantomAgent 对动作哈希签 EIP-712 typed data
// "phantom agent" 结构 {source, connectionId}：签名负载恒定大小，
// 与动作复杂度无关；source 区分主网(a)/测试网(b)
func (s *SigningSession) signPhantomAgent(hash common.Hash) (Signature, error) {
	source := "a"
	if s.testnet {
		source = "b"
	}

	typedData := apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": {
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
			"Agent": {
				{Name: "source", Type: "string"},
				{Name: "connectionId", Type: "bytes32"},
			},
		},
		PrimaryType: "Agent",
		Domain: apitypes.TypedDataDomain{
			Name:              "Exchange",
			Version:           "1",
			ChainId:           math.NewHexOrDecimal256(1337),
			VerifyingContract: "0x0000000000000000000000000000000000000000",
		},
		Message: apitypes.TypedDataMessage{
			"source":       source,
			"connectionId": hash[:],
		},
	}

	digest, err := typedDataDigest(typedData)
	if err != nil {
		return Signature{}, err
	}

	raw, err := crypto.Sign(digest, s.key)
	if err != nil {
		return Signature{}, err
	}

	return Signature{
		R: hexutil.Encode(raw[:32]),
		S: hexutil.Encode(raw[32:64]),
		V: raw[64] + 27,
	}, nil
}

// typedDataDigest EIP-712 最终摘要: keccak256(0x1901 || domainSeparator || structHash)
func typedDataDigest(td apitypes.TypedData) ([]byte, error) {
	domainSep, err := td.HashStruct("EIP712Domain", td.Domain.Map())
	if err != nil {
		return nil, fmt.Errorf("hash domain failed: %w", err)
	}
	structHash, err := td.HashStruct(td.PrimaryType, td.Message)
	if err != nil {
		return nil, fmt.Errorf("hash message failed: %w", err)
	}
	raw := append([]byte{0x19, 0x01}, append(domainSep, structHash...)...)
	return crypto.Keccak256(raw), nil
}
