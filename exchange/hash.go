package exchange

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/vmihailenco/msgpack/v5"
)

// marshalAction 按场所规范编码动作
// 整数必须用最短编码，与场所服务端的重编码逐字节一致
func marshalAction(action interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.UseCompactInts(true)
	if err := enc.Encode(action); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ActionHash 计算动作的确定性哈希
// 编码: msgpack(action) || nonce(8字节大端) || vault标记 || expiry标记，再做 keccak256
// vault 为空时追加 0x00，否则追加 0x01 + 20 字节地址
// expiresAfter 非空时追加 0x00 + 8 字节大端毫秒时间
// 同一逻辑动作与 nonce 必须在任何实现下产生逐字节相同的哈希
func ActionHash(action interface{}, vaultAddress *common.Address, nonce uint64, expiresAfter *uint64) (common.Hash, error) {
	data, err := marshalAction(action)
	if err != nil {
		return common.Hash{}, fmt.Errorf("marshal action failed: %w", err)
	}

	nonceBytes := make([]byte, 8)
	binary.BigEndian.PutUint64(nonceBytes, nonce)
	data = append(data, nonceBytes...)

	if vaultAddress == nil {
		data = append(data, 0x00)
	} else {
		data = append(data, 0x01)
		data = append(data, vaultAddress.Bytes()...)
	}

	if expiresAfter != nil {
		data = append(data, 0x00)
		expiryBytes := make([]byte, 8)
		binary.BigEndian.PutUint64(expiryBytes, *expiresAfter)
		data = append(data, expiryBytes...)
	}

	return crypto.Keccak256Hash(data), nil
}
