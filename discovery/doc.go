// Package discovery finds acquisition servers on the local network.
//
// A client broadcasts the probe "AcqP Client" to UDP port 15012. Each server
// answers from that same port with "AcqP Server Port:<control port>". Replies
// from any other source port, with the wrong prefix, or without a numeric
// port are dropped and counted.
//
//	d := discovery.New(discovery.DefaultConfig(), logger, metrics)
//	servers, err := d.Discover(ctx, 0)
//	if addr, ok := discovery.SelectDefault(servers); ok {
//	    client.SetAddress(addr)
//	}
package discovery
