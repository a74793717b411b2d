package types

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNodeSerial(t *testing.T) {
	n := Node{"operationPayload": map[string]any{"deviceSerialNumber": "ABC"}}
	assert.Equal(t, "ABC", n.Serial())
	assert.Equal(t, "", Node{}.Serial())

	announce := Node{"operationPayload": map[string]any{
		"target": map[string]any{"devices": []any{map[string]any{"deviceSerialNumber": "XYZ"}}},
	}}
	assert.Equal(t, "XYZ", announce.Serial())
	assert.Equal(t, "", Node{"operationPayload": map[string]any{"waitTimeInSeconds": 2}}.Serial())
}

func TestRateLimitError(t *testing.T) {
	err := fmt.Errorf("GET /api/bootstrap: %w", &RateLimitError{RetryAfter: 2 * time.Second})
	assert.True(t, errors.Is(err, ErrTooManyRequests))
	assert.True(t, IsRetryable(err))

	var rl *RateLimitError
	assert.True(t, errors.As(err, &rl))
	assert.Equal(t, 2*time.Second, rl.RetryAfter)

	assert.False(t, IsRetryable(fmt.Errorf("x: %w", ErrLogin)))
	assert.False(t, IsRetryable(ErrCloseRequested))
}
