package qr

import (
	"bytes"
	"image/png"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ms-checkout/internal/models"
)

func ticket() *models.Ticket {
	return &models.Ticket{
		ID:       "t-1",
		EventID:  "ev-1",
		Code:     "TKT-ABCDEFGHJK",
		IssuedAt: time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestSignAndVerify(t *testing.T) {
	gen := NewQRGenerator("secret", 128)
	payload, err := gen.Sign(ticket())
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(payload, "."))

	claims, err := gen.Verify(payload)
	require.NoError(t, err)
	assert.Equal(t, "t-1", claims.TicketID)
	assert.Equal(t, "ev-1", claims.EventID)
	assert.Equal(t, "TKT-ABCDEFGHJK", claims.Code)
	assert.True(t, claims.IssuedTime().Equal(ticket().IssuedAt))
}

func TestVerifyRejectsForgery(t *testing.T) {
	payload, err := NewQRGenerator("secret", 0).Sign(ticket())
	require.NoError(t, err)

	_, err = NewQRGenerator("other-secret", 0).Verify(payload)
	assert.ErrorIs(t, err, ErrInvalidPayload)

	parts := strings.Split(payload, ".")
	parts[1] = parts[1][:len(parts[1])-2] + "xx"
	_, err = NewQRGenerator("secret", 0).Verify(strings.Join(parts, "."))
	assert.ErrorIs(t, err, ErrInvalidPayload)

	_, err = NewQRGenerator("secret", 0).Verify("not-a-token")
	assert.ErrorIs(t, err, ErrInvalidPayload)
}

func TestRenderPNG(t *testing.T) {
	gen := NewQRGenerator("secret", 200)
	payload, err := gen.Sign(ticket())
	require.NoError(t, err)

	img, err := gen.Render(payload)
	require.NoError(t, err)
	decoded, err := png.Decode(bytes.NewReader(img))
	require.NoError(t, err)
	assert.Equal(t, 200, decoded.Bounds().Dx())
}
