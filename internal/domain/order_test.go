package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition_HappyPathSequence(t *testing.T) {
	sequence := []OrderStatus{
		OrderStatusDraft,
		OrderStatusAwaitingDocuments,
		OrderStatusAwaitingClientSign,
		OrderStatusFiled,
		OrderStatusAwaitingRegistrationFee,
		OrderStatusCompleted,
	}
	for i := 0; i < len(sequence)-1; i++ {
		assert.True(t, CanTransition(sequence[i], sequence[i+1]),
			"expected %s -> %s to be allowed", sequence[i], sequence[i+1])
	}
}

func TestCanTransition_NoBackwardEdges(t *testing.T) {
	assert.False(t, CanTransition(OrderStatusCompleted, OrderStatusDraft))
	assert.False(t, CanTransition(OrderStatusFiled, OrderStatusAwaitingPayment))
	assert.False(t, CanTransition(OrderStatusDraft, OrderStatusDraft))
}

func TestCanTransition_SideStates(t *testing.T) {
	assert.True(t, CanTransition(OrderStatusDraft, OrderStatusCancelled))
	assert.True(t, CanTransition(OrderStatusFiled, OrderStatusRejected))
	// Terminal and side states cannot move into another side state.
	assert.False(t, CanTransition(OrderStatusCompleted, OrderStatusCancelled))
	assert.False(t, CanTransition(OrderStatusRejected, OrderStatusCancelled))
	// Leaving a side state is not a graph edge; only a privileged caller can.
	assert.False(t, CanTransition(OrderStatusCancelled, OrderStatusDraft))
}

func TestStatusRank_SideStatesRankZero(t *testing.T) {
	assert.Equal(t, 0, StatusRank(OrderStatusRejected))
	assert.Equal(t, 0, StatusRank(OrderStatusCancelled))
	assert.Greater(t, StatusRank(OrderStatusCompleted), StatusRank(OrderStatusDraft))
}

func TestIsKnownOrderStatus(t *testing.T) {
	assert.True(t, IsKnownOrderStatus(OrderStatusFiled))
	assert.True(t, IsKnownOrderStatus(OrderStatusRejected))
	assert.False(t, IsKnownOrderStatus(OrderStatus("shipped")))
}

func TestParsePaymentStage(t *testing.T) {
	stage, ok := ParsePaymentStage("office_action")
	assert.True(t, ok)
	assert.Equal(t, StageOfficeAction, stage)

	_, ok = ParsePaymentStage("renewal")
	assert.False(t, ok)
}
