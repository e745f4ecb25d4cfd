//go:build integration

package natspub

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/acqstream/natsclient"
	"github.com/c360/acqstream/output"
)

func TestIntegration_PublishToSubscriber(t *testing.T) {
	tc := natsclient.NewTestClient(t)
	ctx := context.Background()

	got := make(chan []byte, 1)
	require.NoError(t, tc.Client.Subscribe(ctx, "acq.samples.analog.*", func(_ context.Context, data []byte) {
		got <- data
	}))

	sink, err := New(Config{}, tc.Client, nil, nil)
	require.NoError(t, err)
	require.NoError(t, sink.Start(ctx))

	in := output.Batch{Session: "s", Channel: "analog", Index: 4, Timestamp: time.Now(), Samples: []float64{1, 2, 3}}
	require.NoError(t, sink.Deliver(ctx, []output.Batch{in}))

	select {
	case data := <-got:
		out, err := Decode(EncodingMsgpack, data)
		require.NoError(t, err)
		assert.Equal(t, in.Samples, out.Samples)
		assert.Equal(t, 4, out.Index)
	case <-time.After(5 * time.Second):
		t.Fatal("batch not delivered")
	}
}

func TestIntegration_JetStreamSink(t *testing.T) {
	tc := natsclient.NewTestClient(t, natsclient.WithJetStream())
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	sink, err := New(Config{Stream: "ACQ_TEST", Encoding: EncodingJSON}, tc.Client, nil, nil)
	require.NoError(t, err)
	require.NoError(t, sink.Start(ctx))

	batches := []output.Batch{
		{Session: "s", Channel: "digital", Index: 0, Timestamp: time.Now(), Samples: []float64{1}},
		{Session: "s", Channel: "digital", Index: 1, Timestamp: time.Now(), Samples: []float64{0}},
	}
	require.NoError(t, sink.Deliver(ctx, batches))

	js, err := tc.Client.JetStream()
	require.NoError(t, err)
	stream, err := js.Stream(ctx, "ACQ_TEST")
	require.NoError(t, err)
	info, err := stream.Info(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), info.State.Msgs)
}
