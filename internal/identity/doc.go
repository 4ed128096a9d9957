// Package identity implements the per-session identity map.
//
// A Map binds each ir.RecordKey to exactly one handle. Binding a key that is
// already bound to a different handle fails with *ConflictError; re-binding
// the same handle is a no-op. The map performs no I/O and is not safe for
// concurrent use: one session owns one map.
package identity
