// Package gateway holds the configuration shared by the daemon's HTTP
// surfaces. The server itself lives in gateway/http.
//
// # Routes
//
//	GET    /health                                aggregated component health
//	GET    /metrics                               Prometheus exposition
//	GET    /ws                                    WebSocket sample feed
//	GET    /api/v1/channels                       registered channels with port, state, buffer stats
//	GET    /api/v1/channels/{class}/{index}       one channel
//	PUT    /api/v1/channels/{class}/{index}       activate
//	DELETE /api/v1/channels/{class}/{index}       deactivate
//	GET    /api/v1/channels/{class}/{index}/latest most recent sample from the server
//	GET    /api/v1/acquisition                    {"running": bool}
//	PUT    /api/v1/acquisition                    {"running": bool}
//	GET    /api/v1/batch-size                     {"batch_size": n}
//	PUT    /api/v1/batch-size                     {"batch_size": n}
//	GET    /api/v1/server                         unit type, sampling rate, enabled channels
//
// # Errors
//
// Failures are JSON objects {"error": "...", "status": code}:
//   - 400 malformed channel or body
//   - 404 channel not registered
//   - 409 channel not enabled on the acquisition server
//   - 502 the acquisition server rejected or failed the call
//   - 503 shutting down, or no free data port
//
// Every response carries X-Request-ID, echoed from the request or generated.
//
// # Example Configuration
//
//	http:
//	  listen_addr: ":8080"
//	  request_timeout: 10s
//	  websocket_path: /ws
//	  enable_cors: true
//	  cors_origins: ["https://ui.example.com"]
//
// There is no authentication; bind to a trusted interface.
package gateway
