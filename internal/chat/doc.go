// ABOUTME: Package documentation for the chat package
// ABOUTME: Describes the generation job manager and subscriber hub

// Package chat runs background generation jobs and fans their output out to
// connected clients.
//
// The Manager owns at most one job per session. A job streams events from
// the upstream provider, persists every delta before broadcasting it, and
// settles its placeholder message into completed or interrupted. Because
// jobs run detached from connections, a client may disconnect mid-stream
// and later reconnect to find either live progress or the persisted result.
//
// The Hub is the in-memory fan-out: any number of subscribers per session,
// each receiving every frame, with failing subscribers dropped individually.
package chat
