package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	allowed := []struct{ from, to PositionStatus }{
		{StatusPending, StatusOpen},
		{StatusPending, StatusCancelled},
		{StatusOpen, StatusClosed},
		{StatusOpen, StatusExpired},
		{StatusExpired, StatusClosed},
	}
	for _, tt := range allowed {
		assert.True(t, tt.from.CanTransition(tt.to), "%s -> %s", tt.from, tt.to)
	}

	forbidden := []struct{ from, to PositionStatus }{
		{StatusPending, StatusClosed},
		{StatusPending, StatusExpired},
		{StatusOpen, StatusCancelled},
		{StatusOpen, StatusPending},
		{StatusExpired, StatusOpen},
		{StatusExpired, StatusCancelled},
		{StatusCancelled, StatusOpen},
		{StatusCancelled, StatusClosed},
		{StatusClosed, StatusOpen},
	}
	for _, tt := range forbidden {
		assert.False(t, tt.from.CanTransition(tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestIsTerminal(t *testing.T) {
	assert.True(t, StatusCancelled.IsTerminal())
	assert.True(t, StatusClosed.IsTerminal())
	assert.False(t, StatusPending.IsTerminal())
	assert.False(t, StatusOpen.IsTerminal())
	assert.False(t, StatusExpired.IsTerminal())
}

func TestNonTerminalStatuses(t *testing.T) {
	assert.ElementsMatch(t,
		[]PositionStatus{StatusPending, StatusOpen, StatusExpired},
		NonTerminalStatuses())
}
