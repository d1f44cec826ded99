// Package webchat exposes the shared conversation over HTTP.
//
// Routes (each is also served under /api):
//   - GET  /state, GET /messages: snapshots
//   - POST /init, POST /step, POST /messages: initialization, manual turns, user turns
//   - GET  /events (alias /stream): Server-Sent Events live channel
//   - GET  /ws: the same live channel over a websocket
//   - GET  /health (alias /test): liveness
//
// Build a Router from the scheduler, store and hub, then hand it to NewServer,
// which also drives the scheduler loop and background sinks until shutdown.
package webchat
