package shop

import (
	"crypto/rand"
	"math/big"
)

const (
	txIDLength  = 10
	txIDCharset = "abcdefghijkmnpqrstuvwxyz23456789"
)

// newTransactionID returns a short ID that is easy to read back in chat.
func newTransactionID() string {
	result := make([]byte, txIDLength)
	charsetLen := big.NewInt(int64(len(txIDCharset)))

	for i := range result {
		num, err := rand.Int(rand.Reader, charsetLen)
		if err != nil {
			num = big.NewInt(0)
		}
		result[i] = txIDCharset[num.Int64()]
	}

	return string(result)
}
