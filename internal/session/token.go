package session

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

// TokenLength はトークンの文字数。62種の文字から32文字で約190ビット。
const TokenLength = 32

const tokenAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

var alphabetSize = big.NewInt(int64(len(tokenAlphabet)))

// GenerateToken は英数字のみからなるトークンを暗号論的乱数で一様に生成する。
func GenerateToken() (string, error) {
	b := make([]byte, TokenLength)
	for i := range b {
		n, err := rand.Int(rand.Reader, alphabetSize)
		if err != nil {
			return "", fmt.Errorf("failed to read random bytes: %w", err)
		}
		b[i] = tokenAlphabet[n.Int64()]
	}
	return string(b), nil
}
