// Package server implements the HTTP server using Echo framework.
//
// Routes: /ws (the single WebSocket endpoint all canvas traffic flows over),
// /health/live, /health/ready, /metrics. The /ws handler owns the read pump
// and per-connection lifecycle; everything stateful lives in the registry.
package server
