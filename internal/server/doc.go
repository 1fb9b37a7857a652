// Package server implements the HTTP and WebSocket surface of the chat room.
//
// Connections are owned by the Hub, which runs each Client's read and write
// pumps. Clients decode protocol events and hand them to the chat
// Coordinator, which owns sessions, persistence and fan-out. The package
// also serves the account API, a liveness endpoint, Prometheus metrics and
// a browser test page.
package server
