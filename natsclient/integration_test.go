//go:build integration

package natsclient

import (
	"context"
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIntegration_ConnectPublishSubscribe(t *testing.T) {
	tc := NewTestClient(t)
	ctx := context.Background()

	assert.True(t, tc.Client.IsHealthy())
	assert.True(t, tc.Client.Health().IsHealthy())

	rtt, err := tc.Client.RTT()
	require.NoError(t, err)
	assert.Greater(t, rtt, time.Duration(0))

	got := make(chan []byte, 1)
	require.NoError(t, tc.Client.Subscribe(ctx, "acq.samples.>", func(_ context.Context, data []byte) {
		got <- data
	}))

	require.NoError(t, tc.Client.Publish(ctx, "acq.samples.analog.0", []byte("batch")))

	select {
	case data := <-got:
		assert.Equal(t, []byte("batch"), data)
	case <-time.After(5 * time.Second):
		t.Fatal("message not delivered")
	}
}

func TestIntegration_StreamPublish(t *testing.T) {
	tc := NewTestClient(t, WithJetStream())
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stream, err := tc.Client.EnsureStream(ctx, jetstream.StreamConfig{
		Name:     "ACQ_SAMPLES",
		Subjects: []string{"acq.samples.>"},
	})
	require.NoError(t, err)

	// second call is a no-op update
	_, err = tc.Client.EnsureStream(ctx, jetstream.StreamConfig{
		Name:     "ACQ_SAMPLES",
		Subjects: []string{"acq.samples.>"},
	})
	require.NoError(t, err)

	require.NoError(t, tc.Client.PublishToStream(ctx, "acq.samples.digital.3", []byte("one")))
	require.NoError(t, tc.Client.PublishToStream(ctx, "acq.samples.digital.3", []byte("two")))

	info, err := stream.Info(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), info.State.Msgs)
}

func TestIntegration_CloseDrains(t *testing.T) {
	tc := NewTestClient(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, tc.Client.Close(ctx))
	assert.Equal(t, StatusDisconnected, tc.Client.Status())

	err := tc.Client.Publish(ctx, "acq.samples.analog.0", nil)
	assert.ErrorIs(t, err, ErrNotConnected)
}
