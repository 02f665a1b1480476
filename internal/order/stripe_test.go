package order

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRefundParams(t *testing.T) {
	p, err := refundParams("pi_123", 2500)
	require.NoError(t, err)
	assert.Equal(t, "pi_123", *p.PaymentIntent)
	assert.Nil(t, p.Charge)
	assert.Equal(t, int64(2500), *p.Amount)

	p, err = refundParams("ch_9", 10)
	require.NoError(t, err)
	assert.Equal(t, "ch_9", *p.Charge)
	assert.Nil(t, p.PaymentIntent)

	_, err = refundParams("manual-42", 10)
	assert.Error(t, err)
}
