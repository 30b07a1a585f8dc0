// Package server implements the chat relay: a broadcast hub shared by framed
// TCP connections and WebSocket clients, plus the HTTP surface around it.
//
// The implementation is organized into specialized files for configuration,
// hub management, TCP connections, WebSocket clients, routing, metrics, and
// HTTP handlers to keep the codebase maintainable and testable as the
// project grows.
package server
