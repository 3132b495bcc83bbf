// ABOUTME: Package documentation for the gateway package
// ABOUTME: Describes the HTTP surface of the chat backend

// Package gateway exposes the chat backend over HTTP: a JSON REST API for
// session management and a websocket endpoint for streaming chat.
//
// REST routes live under /api and require a bearer token. The websocket at
// /chat/ws/{session_id} carries user messages in and generation frames out;
// a connection that arrives mid-stream is first told about any in-flight or
// interrupted message so it can catch up before new frames flow.
package gateway
