package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMapEventStatus(t *testing.T) {
	tests := []struct {
		reported string
		want     PaymentIntentStatus
		mapped   bool
	}{
		{"DONE", IntentStatusConfirmed, true},
		{"SUCCESS", IntentStatusConfirmed, true},
		{"CANCELED", IntentStatusCancelled, true},
		{"CANCELLED", IntentStatusCancelled, true},
		{"WAITING_FOR_DEPOSIT", IntentStatusPendingVirtualAccount, true},
		{"READY", IntentStatusPendingVirtualAccount, true},
		{"PARTIAL_CANCELED", "", false},
		{"EXPIRED", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.reported, func(t *testing.T) {
			got, mapped := MapEventStatus(tt.reported)
			assert.Equal(t, tt.mapped, mapped)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMapEventStatus_IsPure(t *testing.T) {
	// Re-applying the mapping yields the same result regardless of history.
	first, _ := MapEventStatus("DONE")
	second, _ := MapEventStatus("DONE")
	assert.Equal(t, first, second)
}
