// Package store provides the SQLite-backed record store that sessions load
// from and flush to.
//
// All entity types share one table:
//
//	records(type_id, pk, fields, seq)
//
// pk is the canonical JSON of the primary key (1, "t1"). fields holds the
// plain fields plus the foreign-key column of every TO_ONE association, as
// canonical JSON. seq is a logical insertion counter.
//
// On read, foreign-key columns are split out of the field object into
// ir.Row links, so callers never see association columns as plain fields.
//
// # Deterministic Results
//
// Every query orders by seq ASC, pk ASC COLLATE BINARY, so identical data
// always yields identical row order.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON
//
// The store does no caching of its own; identity and lazy loading live in
// the session package.
package store
