package orders

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusPending, StatusConfirmed, true},
		{StatusPending, StatusCancelled, true},
		{StatusPending, StatusShipped, false},
		{StatusConfirmed, StatusShipped, true},
		{StatusShipped, StatusDelivered, true},
		{StatusShipped, StatusPending, false},
		{StatusDelivered, StatusCancelled, false},
		{StatusCancelled, StatusPending, false},
		{Status("LOST"), StatusPending, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CanTransition(tt.from, tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestCanTransitionPayment(t *testing.T) {
	assert.True(t, CanTransitionPayment(PaymentPendingVerification, PaymentVerified))
	assert.True(t, CanTransitionPayment(PaymentPendingVerification, PaymentFailed))
	assert.False(t, CanTransitionPayment(PaymentVerified, PaymentFailed))
	assert.False(t, CanTransitionPayment(PaymentFailed, PaymentPendingVerification))
}

func TestStatusValid(t *testing.T) {
	assert.True(t, StatusShipped.Valid())
	assert.False(t, Status("pending").Valid())
	assert.True(t, PaymentVerified.Valid())
	assert.False(t, PaymentStatus("").Valid())
	assert.True(t, StatusCancelled.Terminal())
	assert.False(t, StatusConfirmed.Terminal())
}
