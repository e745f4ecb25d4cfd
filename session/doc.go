// Package session binds acquisition channels to local data streams.
//
// A Session owns a mapping from channel to stream.ChannelStream. Activating a
// channel claims a port from a PortPool, points the server at it, and makes
// sure acquisition is running:
//
//	sess, err := session.New(session.Config{BatchSize: 64}, session.Deps{
//		Client: client,
//		Pool:   session.DefaultPortPool(),
//	})
//	if err != nil {
//		return err
//	}
//	if err := sess.Activate(ctx, control.ChannelKey{Class: control.Analog, Index: 0}); err != nil {
//		return err
//	}
//	for _, ev := range sess.DrainAll() {
//		// ev.Samples has exactly BatchSize values
//	}
//
// Every activation rewrites the server's delivery setup for all registered
// channels, so the server only delivers what the session has bound.
// Deactivate drops the local stream without touching the server.
package session
