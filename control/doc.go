// Package control drives an acquisition server over its XML-RPC control
// protocol.
//
// Client is the full command surface; XMLRPCClient implements it against
// http://host:port/RPC2. Channels travel as {type, index} structs, binary
// encodings as {type, endian} structs, and templates as base64.
//
//	c := control.NewXMLRPCClient(addr, control.WithTimeout(2*time.Second))
//	ok, err := c.IsChannelEnabled(ctx, control.ChannelKey{Class: control.Analog, Index: 0})
//
// Every call is bounded by the client timeout and by ctx. Failures of any
// kind, including replies of the wrong type, surface as *errors.ProtocolError
// naming the remote method.
package control
