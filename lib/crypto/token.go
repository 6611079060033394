package crypto

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"

	"github.com/go-i2p/logger"
	sha256 "github.com/minio/sha256-simd"
	"github.com/samber/oops"
)

const (
	// TokenIVLength is the AES-CBC IV carried in front of every token.
	TokenIVLength = aes.BlockSize
	// TokenMACLength is the trailing HMAC-SHA256 tag.
	TokenMACLength = sha256.Size
	// TokenOverhead is the fixed cost of a token excluding padding.
	TokenOverhead = TokenIVLength + TokenMACLength

	// TokenKeyLength128 selects AES-128 (16 byte signing key, 16 byte encryption key).
	TokenKeyLength128 = 32
	// TokenKeyLength256 selects AES-256 (32 byte signing key, 32 byte encryption key).
	TokenKeyLength256 = 64
)

/*
[Token]

Description
Authenticated symmetric encryption used for link traffic, identity
encryption and group destinations:

	iv(16) || AES-CBC(PKCS#7(plaintext)) || HMAC-SHA256(iv || ciphertext)

The key is split in half, the first half signs and the second encrypts.
*/
type Token struct {
	signKey []byte
	encKey  []byte
}

// NewToken creates a token cipher from a 32 or 64 byte key.
func NewToken(key []byte) (*Token, error) {
	switch len(key) {
	case TokenKeyLength128, TokenKeyLength256:
	default:
		return nil, oops.Wrapf(ErrInvalidKeyLength, "token key must be %d or %d bytes, got %d",
			TokenKeyLength128, TokenKeyLength256, len(key))
	}
	half := len(key) / 2
	t := &Token{
		signKey: make([]byte, half),
		encKey:  make([]byte, half),
	}
	copy(t.signKey, key[:half])
	copy(t.encKey, key[half:])
	return t, nil
}

// GenerateTokenKey returns a fresh AES-256 token key.
func GenerateTokenKey() ([]byte, error) {
	return RandomBytes(TokenKeyLength256)
}

// Encrypt seals plaintext into a token. A fresh IV is drawn for every call.
func (t *Token) Encrypt(plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(t.encKey)
	if err != nil {
		return nil, oops.Wrapf(err, "token cipher")
	}
	iv, err := RandomBytes(TokenIVLength)
	if err != nil {
		return nil, err
	}
	padded := pkcs7Pad(plaintext, aes.BlockSize)
	out := make([]byte, TokenIVLength+len(padded), TokenIVLength+len(padded)+TokenMACLength)
	copy(out, iv)
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out[TokenIVLength:], padded)
	return append(out, t.mac(out)...), nil
}

// Decrypt authenticates and opens a token. The MAC is checked before any
// decryption is attempted; every failure is ErrCryptoVerificationFailed.
func (t *Token) Decrypt(token []byte) ([]byte, error) {
	if len(token) < TokenOverhead+aes.BlockSize {
		return nil, oops.Wrapf(ErrCryptoVerificationFailed, "token of %d bytes is shorter than %d",
			len(token), TokenOverhead+aes.BlockSize)
	}
	signed := token[:len(token)-TokenMACLength]
	if !hmac.Equal(t.mac(signed), token[len(token)-TokenMACLength:]) {
		log.WithFields(logger.Fields{
			"at":     "(Token) Decrypt",
			"reason": "hmac mismatch",
		}).Debug("rejecting token")
		return nil, oops.Wrapf(ErrCryptoVerificationFailed, "token hmac mismatch")
	}
	body := signed[TokenIVLength:]
	if len(body)%aes.BlockSize != 0 {
		return nil, oops.Wrapf(ErrCryptoVerificationFailed, "token body is not block aligned")
	}
	block, err := aes.NewCipher(t.encKey)
	if err != nil {
		return nil, oops.Wrapf(err, "token cipher")
	}
	plain := make([]byte, len(body))
	cipher.NewCBCDecrypter(block, signed[:TokenIVLength]).CryptBlocks(plain, body)
	unpadded, err := pkcs7Unpad(plain, aes.BlockSize)
	if err != nil {
		return nil, oops.Wrapf(ErrCryptoVerificationFailed, "%v", err)
	}
	return unpadded, nil
}

func (t *Token) mac(data []byte) []byte {
	m := hmac.New(sha256.New, t.signKey)
	m.Write(data)
	return m.Sum(nil)
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	padding := blockSize - (len(data) % blockSize)
	out := make([]byte, len(data), len(data)+padding)
	copy(out, data)
	return append(out, bytes.Repeat([]byte{byte(padding)}, padding)...)
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	length := len(data)
	if length == 0 {
		return nil, ErrInvalidPadding
	}
	padding := int(data[length-1])
	if padding == 0 || padding > blockSize || padding > length {
		return nil, ErrInvalidPadding
	}
	for i := length - padding; i < length; i++ {
		if data[i] != byte(padding) {
			return nil, ErrInvalidPadding
		}
	}
	return data[:length-padding], nil
}
