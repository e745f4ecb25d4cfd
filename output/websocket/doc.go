// Package websocket streams drained sample batches to WebSocket clients.
//
// Broadcaster is an http.Handler; mount it on any router:
//
//	ws, err := websocket.New(websocket.Config{}, logger, registry)
//	if err != nil {
//	    return err
//	}
//	router.Handle("/ws", ws)
//
// Every message is a JSON Envelope. Data messages carry an output.Batch as
// payload:
//
//	{"type":"data","id":"<uuid>","timestamp":1718000000000,
//	 "payload":{"session":"...","channel":"analog","index":0,"timestamp":"...","samples":[...]}}
//
// Clients choose channels with repeated query parameters
// (/ws?channel=analog:0&channel=digital:3) or at any time with a subscribe
// message:
//
//	{"type":"subscribe","payload":{"channels":["calc:1"]}}
//
// An empty channel list subscribes to everything.
//
// # Slow clients
//
// Each client owns a ring of DefaultQueueSize messages. When a client cannot
// keep up its oldest messages are discarded (see Dropped); Deliver itself
// never blocks on a socket. Clients that miss pongs for a minute are dropped.
package websocket
