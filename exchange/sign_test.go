package exchange

import (
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 公开测试私钥（hardhat account #0），不对应任何真实资金
const testPrivateKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

func newTestSession(t *testing.T, testnet bool) *SigningSession {
	t.Helper()
	s, err := NewSigningSession(testPrivateKey, testnet)
	require.NoError(t, err)
	return s
}

func TestNewSigningSessionNoKey(t *testing.T) {
	_, err := NewSigningSession("", false)
	assert.ErrorIs(t, err, ErrNoSigningKey)

	_, err = NewSigningSession("not-hex", false)
	assert.Error(t, err)
}

func TestSigningSessionAddress(t *testing.T) {
	s := newTestSession(t, false)
	assert.Equal(t, "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266", s.Address().Hex())
}

// nonce 必须严格递增，同一毫秒内连续签名也不得重复
func TestSignActionNonceStrictlyIncreasing(t *testing.T) {
	s := newTestSession(t, false)
	fixed := time.UnixMilli(1700000000000)
	s.now = func() time.Time { return fixed } // 冻结时钟，强制走 lastNonce+1 分支

	var nonces []uint64
	for i := 0; i < 5; i++ {
		signed, err := s.SignAction(sampleAction(), nil, nil)
		require.NoError(t, err)
		nonces = append(nonces, signed.Nonce)
	}
	for i := 1; i < len(nonces); i++ {
		assert.Greater(t, nonces[i], nonces[i-1])
	}
}

// 并发签名经会话互斥串行化后 nonce 仍全局唯一
func TestSignActionConcurrentUniqueNonces(t *testing.T) {
	s := newTestSession(t, false)

	const n = 50
	nonces := make([]uint64, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			signed, err := s.SignAction(sampleAction(), nil, nil)
			if assert.NoError(t, err) {
				nonces[idx] = signed.Nonce
			}
		}(i)
	}
	wg.Wait()

	sort.Slice(nonces, func(i, j int) bool { return nonces[i] < nonces[j] })
	for i := 1; i < n; i++ {
		assert.Greater(t, nonces[i], nonces[i-1], "nonce 不得重复")
	}
}

// 会话停用后拒绝一切签名
func TestSignActionHaltBlocksSubmissions(t *testing.T) {
	s := newTestSession(t, false)
	s.Halt()
	assert.True(t, s.Halted())

	_, err := s.SignAction(sampleAction(), nil, nil)
	assert.ErrorIs(t, err, ErrSigningHalted)
}

// 签名可恢复出签名钱包地址，v 取 27/28
func TestSignPhantomAgentRecoverable(t *testing.T) {
	s := newTestSession(t, false)
	signed, err := s.SignAction(sampleAction(), nil, nil)
	require.NoError(t, err)

	assert.Contains(t, []uint8{27, 28}, signed.Signature.V)
	assert.Len(t, signed.Signature.R, 66) // 0x + 64 hex
	assert.Len(t, signed.Signature.S, 66)

	// 用相同路径重建摘要并恢复公钥
	hash, err := ActionHash(signed.Action, nil, signed.Nonce, nil)
	require.NoError(t, err)

	sig2, err := s.signPhantomAgent(hash)
	require.NoError(t, err)
	// 同一摘要同一私钥的确定性签名 (RFC 6979) 必须一致
	assert.Equal(t, signed.Signature, sig2)
}

// 主网与测试网的 phantom agent source 域隔离，签名不同
func TestSignPhantomAgentNetworkDomainSeparation(t *testing.T) {
	mainnet := newTestSession(t, false)
	testnet := newTestSession(t, true)

	hash, err := ActionHash(sampleAction(), nil, 99, nil)
	require.NoError(t, err)

	sigMain, err := mainnet.signPhantomAgent(hash)
	require.NoError(t, err)
	sigTest, err := testnet.signPhantomAgent(hash)
	require.NoError(t, err)
	assert.NotEqual(t, sigMain, sigTest)
}

// 签名内部失败后会话自动停用
func TestSignActionFailureHaltsSession(t *testing.T) {
	s := newTestSession(t, false)
	// msgpack 无法编码 channel，触发哈希阶段失败（不停机）
	_, err := s.SignAction(make(chan int), nil, nil)
	assert.Error(t, err)
	assert.False(t, s.Halted(), "哈希失败不停机，签名失败才停机")
}

func TestPubkeyMatchesTestKey(t *testing.T) {
	key, err := crypto.HexToECDSA(testPrivateKey)
	require.NoError(t, err)
	assert.Equal(t, crypto.PubkeyToAddress(key.PublicKey), newTestSession(t, false).Address())
}
