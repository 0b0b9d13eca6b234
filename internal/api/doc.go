// Package api implements the HTTP REST API and WebSocket server for dunbridge.
//
// This package provides:
//   - REST endpoints for the tracked DUN devices, their connection history
//     and the bridge counters
//   - Device commands (enable, disable, connect, disconnect)
//   - WebSocket hub pushing every connectivity event to connected clients
//   - Middleware stack (request ID, logging, recovery, body size limit)
//
// # Graceful Degradation
//
// History and command endpoints answer 503 when their backing component is
// not configured. Reads and WebSocket connections always work.
package api
