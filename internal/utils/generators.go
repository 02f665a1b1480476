package utils

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"time"
)

// Crockford-style alphabet: no I, L, O or U, so codes survive being read aloud.
const codeAlphabet = "0123456789ABCDEFGHJKMNPQRSTVWXYZ"

// GenerateOrderNumber returns a human readable order number such as ORD-20260601-7KQ2MX.
func GenerateOrderNumber(now time.Time) string {
	return fmt.Sprintf("ORD-%s-%s", now.UTC().Format("20060102"), randomCode(6))
}

// GenerateTicketCode returns the short code printed under a ticket's QR image.
func GenerateTicketCode() string {
	return "TKT-" + randomCode(10)
}

// GenerateSettlementID keeps the gateway-style prefix used for money movements.
func GenerateSettlementID(now time.Time) string {
	randomNum, _ := rand.Int(rand.Reader, big.NewInt(999999999))
	return fmt.Sprintf("stl_%d_%09d", now.Unix(), randomNum.Int64())
}

func randomCode(n int) string {
	max := big.NewInt(int64(len(codeAlphabet)))
	b := make([]byte, n)
	for i := range b {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			panic(fmt.Sprintf("crypto/rand unavailable: %v", err))
		}
		b[i] = codeAlphabet[idx.Int64()]
	}
	return string(b)
}
