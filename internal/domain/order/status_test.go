package order

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
		{StatusConfirmed, StatusProcessing, true},
		{StatusProcessing, StatusCancelled, true},
		{StatusProcessing, StatusShipped, true},
		{StatusShipped, StatusCancelled, false},
		{StatusShipped, StatusOutForDelivery, true},
		{StatusOutForDelivery, StatusDelivered, true},
		{StatusDelivered, StatusReturnRequested, true},
		{StatusReturnRequested, StatusReturnApproved, true},
		{StatusReturnApproved, StatusReturnPicked, true},
		{StatusReturnPicked, StatusRefunded, true},
		{StatusConfirmed, StatusDelivered, false},
		{StatusConfirmed, StatusReturnRequested, false},
		{StatusCancelled, StatusConfirmed, false},
		{StatusRefunded, StatusDelivered, false},
		{StatusDelivered, StatusPending, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

func TestParseStatus(t *testing.T) {
	for _, s := range []string{"PENDING", "CANCELLED", "REFUNDED", "OUT_FOR_DELIVERY"} {
		got, ok := ParseStatus(s)
		assert.True(t, ok, s)
		assert.Equal(t, Status(s), got)
	}
	_, ok := ParseStatus("LOST")
	assert.False(t, ok)
	assert.True(t, StatusCancelled.Terminal())
	assert.False(t, StatusPending.Terminal())
}
