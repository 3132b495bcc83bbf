// ABOUTME: Package documentation for the store package
// ABOUTME: Describes the persistence layer for sessions, messages and providers

// Package store provides persistent storage for chat sessions, messages and
// AI provider configurations.
//
// The primary implementation is SQLiteStore, backed by modernc.org/sqlite.
// Assistant messages move through a small state machine: they are created as
// streaming placeholders, accumulate content through AppendDelta, and settle
// into completed or interrupted through FinalizeMessage. FinalizeMessage is
// idempotent to the first writer, which lets a cancelling client and the
// generation job race safely.
//
// Provider API keys are sealed with nacl/secretbox before they touch disk.
package store
