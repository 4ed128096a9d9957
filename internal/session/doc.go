// Package session implements the persistence context: one unit of work
// with its own identity map, lazy references and fetch planning.
//
// A Factory owns the store handle, the schema and a registry of open
// sessions. Each Session tracks the records it has resolved:
//
//	f := session.NewFactory(st, schema)
//	s := f.Open()
//	defer s.Close()
//
//	team, _ := s.GetReference("Team", ir.IRInt(1)) // no fetch
//	name, _ := team.Get(ctx, "name")                // one fetch
//
// # Identity
//
// Within one session a RecordKey resolves to exactly one *Entity. Lookups by
// key, query results and association traversal all go through the identity
// map, so pointer equality is record identity.
//
// # Lazy references
//
// An Entity is either uninitialized (key only) or initialized (fields
// loaded). Reading any field other than the id of an uninitialized entity
// loads it in place; the pointer callers hold never changes. An entity
// refers to its session through the factory registry by id, so a closed
// session is simply absent from the registry.
//
// # Threading
//
// A Session is single-goroutine: its identity map is not synchronized.
// Independent sessions from one Factory may run concurrently.
package session
