package natsclient

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClientDefaults(t *testing.T) {
	c, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)

	assert.Equal(t, StatusDisconnected, c.Status())
	assert.False(t, c.IsConnected())
	assert.Equal(t, -1, c.maxReconnects)
}

func TestNewClientOptionValidation(t *testing.T) {
	_, err := NewClient("nats://localhost:4222", WithName(""))
	assert.Error(t, err)

	_, err = NewClient("nats://localhost:4222", WithLogger(nil))
	assert.Error(t, err)

	_, err = NewClient("nats://localhost:4222", WithMaxReconnects(-2))
	assert.Error(t, err)

	_, err = NewClient("nats://localhost:4222", WithReconnectWait(0))
	assert.Error(t, err)

	_, err = NewClient("nats://localhost:4222", WithTimeout(-time.Second))
	assert.Error(t, err)
}

func TestOperationsRequireConnection(t *testing.T) {
	c, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)

	err = c.Publish(context.Background(), "metrics.in", []byte("{}"))
	assert.ErrorIs(t, err, ErrNotConnected)

	err = c.Subscribe(context.Background(), "metrics.in", func(context.Context, []byte) {})
	assert.ErrorIs(t, err, ErrNotConnected)

	err = c.ConsumeStream(context.Background(), "METRICS", "mapper", "metrics.in", func([]byte) {})
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestStatusCallback(t *testing.T) {
	var transitions []bool
	c, err := NewClient("nats://localhost:4222", WithStatusCallback(func(connected bool) {
		transitions = append(transitions, connected)
	}))
	require.NoError(t, err)

	c.setStatus(StatusConnected)
	c.setStatus(StatusDisconnected)
	assert.Equal(t, []bool{true, false}, transitions)
}

func TestCloseIsIdempotent(t *testing.T) {
	c, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)

	require.NoError(t, c.Close(context.Background()))
	require.NoError(t, c.Close(context.Background()))
	assert.Equal(t, StatusDisconnected, c.Status())
}

func TestConnectionStatusString(t *testing.T) {
	assert.Equal(t, "disconnected", StatusDisconnected.String())
	assert.Equal(t, "connecting", StatusConnecting.String())
	assert.Equal(t, "connected", StatusConnected.String())
	assert.Equal(t, "reconnecting", StatusReconnecting.String())
	assert.Equal(t, "unknown", ConnectionStatus(99).String())
}
