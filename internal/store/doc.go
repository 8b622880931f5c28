// Package store provides the durable key-value storage the workflow
// engine persists sessions to.
//
// Two implementations ship: Store, backed by SQLite with WAL mode, and
// Memory, a map for tests and for hosts that inject their own
// persistence. Both satisfy the KV interface; the workflow engine only
// ever sees KV.
//
// The engine is local to one running client instance, so the store is a
// single-writer database - no cross-session synchronization happens here.
package store
