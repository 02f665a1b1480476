// Package qr signs ticket scan payloads and renders them as QR images. Payloads are
// HS256 JWTs so a gate device holding the secret can verify them offline.
package qr

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/skip2/go-qrcode"

	"ms-checkout/internal/models"
)

var ErrInvalidPayload = errors.New("invalid ticket payload")

// Claims is the signed body of a ticket payload.
type Claims struct {
	TicketID string `json:"tid"`
	EventID  string `json:"eid"`
	Code     string `json:"code"`
	jwt.RegisteredClaims
}

type QRGenerator struct {
	secret []byte
	size   int
}

func NewQRGenerator(secret string, size int) *QRGenerator {
	hashed := sha256.Sum256([]byte(secret)) // normalize to 32 bytes
	if size <= 0 {
		size = 256
	}
	return &QRGenerator{secret: hashed[:], size: size}
}

// Sign returns the payload for the ticket.
func (q *QRGenerator) Sign(t *models.Ticket) (string, error) {
	claims := Claims{
		TicketID: t.ID,
		EventID:  t.EventID,
		Code:     t.Code,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt: jwt.NewNumericDate(t.IssuedAt),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(q.secret)
	if err != nil {
		return "", fmt.Errorf("sign ticket %s: %w", t.ID, err)
	}
	return signed, nil
}

// Verify checks the signature and returns the claims.
func (q *QRGenerator) Verify(payload string) (*Claims, error) {
	claims := new(Claims)
	_, err := jwt.ParseWithClaims(payload, claims, func(*jwt.Token) (interface{}, error) {
		return q.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if claims.TicketID == "" || claims.Code == "" {
		return nil, fmt.Errorf("%w: missing ticket claims", ErrInvalidPayload)
	}
	return claims, nil
}

// IssuedTime is the signing time carried in the payload.
func (c *Claims) IssuedTime() time.Time {
	if c.IssuedAt == nil {
		return time.Time{}
	}
	return c.IssuedAt.Time
}

// Render encodes the payload as a PNG QR image.
func (q *QRGenerator) Render(payload string) ([]byte, error) {
	return qrcode.Encode(payload, qrcode.Medium, q.size)
}
