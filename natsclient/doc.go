// Package natsclient wraps a NATS connection with a circuit breaker,
// reconnect handling and health reporting. It carries acquired sample batches
// to NATS subscribers, optionally through a JetStream stream.
//
// # Circuit Breaker
//
// After a threshold of consecutive failures (default 5) the circuit opens and
// Connect, Publish and PublishToStream fail fast with ErrCircuitOpen. After the
// current backoff the circuit half-opens and the next Connect is allowed
// through. Backoff doubles per opening up to the configured maximum.
//
// # Lifecycle
//
// Disconnected → Connecting → Connected → Reconnecting → Connected. Status
// changes feed the nats_connected and nats_circuit_breaker gauges when
// WithMetrics is set.
//
// # Usage
//
//	client, err := natsclient.NewClient("nats://localhost:4222",
//	    natsclient.WithName("acqstream"),
//	    natsclient.WithMetrics(registry.CoreMetrics()),
//	)
//	if err != nil {
//	    return err
//	}
//	if err := client.Connect(ctx); err != nil {
//	    return err
//	}
//	defer client.Close(ctx)
//
//	err = client.Publish(ctx, "acq.samples.analog.0", payload)
//
// # Testing
//
// NewTestClient starts a NATS container through testcontainers-go and returns
// a connected client. Tests that use it carry the integration build tag.
package natsclient
