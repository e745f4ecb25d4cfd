// Package stream receives per-channel sample data from an acquisition server.
//
// The server opens one TCP connection per channel to the port the client
// announced and writes consecutive 8-byte big-endian IEEE-754 doubles. A
// ChannelStream listens on that port, decodes samples into a bounded ring
// that drops the oldest samples when full, and hands them out in exact-size
// batches.
//
// States: Idle (no listener), Listening (bound, no data connection) and
// Active (at least one data connection). Listen and Serve are separate so a
// caller can claim the port before telling the server about it.
//
//	s, _ := stream.New(key, stream.WithMetrics(registry))
//	if err := s.Listen(port); err != nil { ... }
//	// announce port to the server
//	_ = s.Serve()
//	batch, err := s.ReadBatch(256)
//
// Stop is synchronous: when it returns the listener and all connections are
// closed and no further samples will be appended.
package stream
