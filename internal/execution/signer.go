package execution

import (
	"crypto/ecdsa"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethmath "github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/pkg/errors"
)

const (
	eip712DomainName    = "Polymarket CTF Exchange"
	eip712DomainVersion = "1"
	zeroAddress         = "0x0000000000000000000000000000000000000000"
)

// orderPayload 发往 CLOB 的订单字段（EIP712 签名覆盖的全集）
type orderPayload struct {
	Salt          int64  `json:"salt"`
	Maker         string `json:"maker"`
	Signer        string `json:"signer"`
	Taker         string `json:"taker"`
	TokenID       string `json:"tokenId"`
	MakerAmount   string `json:"makerAmount"`
	TakerAmount   string `json:"takerAmount"`
	Expiration    string `json:"expiration"`
	Nonce         string `json:"nonce"`
	FeeRateBps    string `json:"feeRateBps"`
	Side          string `json:"side"`
	SignatureType int    `json:"signatureType"`
	Signature     string `json:"signature"`
}

// signer 持有私钥并负责 L1(EIP712)/L2(HMAC) 两层签名
type signer struct {
	key             *ecdsa.PrivateKey
	address         common.Address
	chainID         int64
	exchangeAddress string
}

func newSigner(privateKeyHex string, chainID int64, exchangeAddress string) (*signer, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, errors.Wrap(err, "解析私钥失败")
	}
	return &signer{
		key:             key,
		address:         crypto.PubkeyToAddress(key.PublicKey),
		chainID:         chainID,
		exchangeAddress: exchangeAddress,
	}, nil
}

// signOrder 对订单做 EIP712 签名，side 0=BUY 1=SELL
func (s *signer) signOrder(p *orderPayload, sideUint8 uint8) (string, error) {
	domain := apitypes.TypedDataDomain{
		Name:              eip712DomainName,
		Version:           eip712DomainVersion,
		ChainId:           ethmath.NewHexOrDecimal256(s.chainID),
		VerifyingContract: s.exchangeAddress,
	}

	typeDefs := apitypes.Types{
		"EIP712Domain": {
			{Name: "name", Type: "string"},
			{Name: "version", Type: "string"},
			{Name: "chainId", Type: "uint256"},
			{Name: "verifyingContract", Type: "address"},
		},
		"Order": {
			{Name: "salt", Type: "uint256"},
			{Name: "maker", Type: "address"},
			{Name: "signer", Type: "address"},
			{Name: "taker", Type: "address"},
			{Name: "tokenId", Type: "uint256"},
			{Name: "makerAmount", Type: "uint256"},
			{Name: "takerAmount", Type: "uint256"},
			{Name: "expiration", Type: "uint256"},
			{Name: "nonce", Type: "uint256"},
			{Name: "feeRateBps", Type: "uint256"},
			{Name: "side", Type: "uint8"},
			{Name: "signatureType", Type: "uint8"},
		},
	}

	tokenID, ok := new(big.Int).SetString(p.TokenID, 10)
	if !ok {
		return "", errors.Errorf("非法 tokenId: %s", p.TokenID)
	}
	makerAmount, ok := new(big.Int).SetString(p.MakerAmount, 10)
	if !ok {
		return "", errors.Errorf("非法 makerAmount: %s", p.MakerAmount)
	}
	takerAmount, ok := new(big.Int).SetString(p.TakerAmount, 10)
	if !ok {
		return "", errors.Errorf("非法 takerAmount: %s", p.TakerAmount)
	}

	message := map[string]interface{}{
		"salt":          big.NewInt(p.Salt),
		"maker":         common.HexToAddress(p.Maker).Hex(),
		"signer":        common.HexToAddress(p.Signer).Hex(),
		"taker":         common.HexToAddress(p.Taker).Hex(),
		"tokenId":       tokenID,
		"makerAmount":   makerAmount,
		"takerAmount":   takerAmount,
		"expiration":    mustBig(p.Expiration),
		"nonce":         mustBig(p.Nonce),
		"feeRateBps":    mustBig(p.FeeRateBps),
		"side":          big.NewInt(int64(sideUint8)),
		"signatureType": big.NewInt(int64(p.SignatureType)),
	}

	typedData := apitypes.TypedData{
		Types:       typeDefs,
		PrimaryType: "Order",
		Domain:      domain,
		Message:     message,
	}

	hash, _, err := apitypes.TypedDataAndHash(typedData)
	if err != nil {
		return "", errors.Wrap(err, "计算 EIP712 哈希失败")
	}
	signature, err := crypto.Sign(hash, s.key)
	if err != nil {
		return "", errors.Wrap(err, "签名失败")
	}
	return "0x" + common.Bytes2Hex(signature), nil
}

// l2Headers 构建 CLOB L2 认证头（HMAC-SHA256）
func (s *signer) l2Headers(apiKey, secret, passphrase, method, requestPath string, body string) (map[string]string, error) {
	ts := time.Now().Unix()

	var bodyPtr *string
	if body != "" {
		bodyPtr = &body
	}
	sig, err := buildHmacSignature(secret, ts, method, requestPath, bodyPtr)
	if err != nil {
		return nil, err
	}
	return map[string]string{
		"POLY_ADDRESS":    s.address.Hex(),
		"POLY_SIGNATURE":  sig,
		"POLY_TIMESTAMP":  strconv.FormatInt(ts, 10),
		"POLY_API_KEY":    apiKey,
		"POLY_PASSPHRASE": passphrase,
	}, nil
}

// buildHmacSignature CLOB 的 HMAC 签名：timestamp+method+path+body，
// secret 是 base64url 编码的密钥，结果再转回 base64url。
func buildHmacSignature(secret string, timestamp int64, method, requestPath string, body *string) (string, error) {
	message := strconv.FormatInt(timestamp, 10) + method + requestPath
	if body != nil {
		message += *body
	}

	sanitized := strings.ReplaceAll(secret, "-", "+")
	sanitized = strings.ReplaceAll(sanitized, "_", "/")
	keyData, err := base64.StdEncoding.DecodeString(sanitized)
	if err != nil {
		return "", errors.Wrap(err, "解码 secret 失败")
	}

	mac := hmac.New(sha256.New, keyData)
	mac.Write([]byte(message))
	sig := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	sig = strings.ReplaceAll(sig, "+", "-")
	sig = strings.ReplaceAll(sig, "/", "_")
	return sig, nil
}

func mustBig(s string) *big.Int {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return big.NewInt(0)
	}
	return v
}
