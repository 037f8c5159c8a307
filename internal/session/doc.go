// Package session tracks live game sessions and their connected participants.
//
// A session exists for exactly one world and lives as long as at least one
// connection references it; the last leave tears it down synchronously. All
// shared state is owned by the Manager behind a single lock, and message
// delivery never happens while that lock is held.
package session
