// Package gorillaws provides a WebSocket transport for xhub on gorilla/websocket.
//
// Transport name: "websocket"
//
// The hub side serves a chi router with the upgrade endpoint at Path and a liveness
// probe at HealthPath. Peers present their handshake as query parameters:
//
//	ws://host:port/?service=<name>&id=<instance id>
//
// Config keys:
// - path: upgrade endpoint (default "/")
// - health_path: liveness endpoint (default "/healthz")
// - handshake_timeout: dial/upgrade timeout (default 10s)
// - write_timeout: per-message write deadline (default 10s)
// - close_timeout: how long to wait for the close echo (default 1s)
// - read_limit: maximum inbound message size in bytes (default 1 MiB)
// - allowed_origins: []string of accepted Origin headers (default: any)
//
// Example builder usage:
//
//	hub, _ := xhub.NewBuilder().
//	    WithTransport(gorillaws.TransportName, map[string]any{
//	        "write_timeout": "5s",
//	        "read_limit":    4 << 20,
//	    }).
//	    WithServices("Billing").
//	    BuildHub()
package gorillaws
