// Package api handles incoming HTTP requests, routing, request validation,
// and response formatting. It acts as an adapter between external clients
// and the internal application services: JSON endpoints for authoritative
// reads and asynchronous job submission, plus the websocket endpoint that
// carries the per-session realtime channel.
package api
