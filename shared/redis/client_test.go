package redis

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/jobpulse/shared/logger"
)

func TestIsNil(t *testing.T) {
	assert.True(t, IsNil(ErrNil))
	assert.True(t, IsNil(fmt.Errorf("get counter: %w", ErrNil)))
	assert.False(t, IsNil(errors.New("connection refused")))
	assert.False(t, IsNil(nil))
}

func TestNewClient_Unreachable(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c, err := NewClient(ctx, &Config{Addr: "127.0.0.1:1"}, logger.NewDiscard())
	require.Error(t, err)
	assert.Nil(t, c)
	assert.Contains(t, err.Error(), "failed to ping Redis")
}
