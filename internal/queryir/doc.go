// Package queryir defines the query plans the session hands to the store.
//
// A plan names one root entity type, an optional filter, and the
// associations to join-fetch. Plans are backend-neutral values; the
// querysql package compiles them for SQLite.
//
// Query and Predicate are sealed interfaces: only types in this package
// implement them, so backends can switch exhaustively.
//
// Filter field names resolve against the root entity type:
//   - the id field compares against the primary key
//   - a plain field compares against its stored value
//   - a TO_ONE association name or its column compares against the
//     foreign key (the target's primary key)
//
// Filters can also be written as expressions and parsed with ParseFilter:
//
//	name == "Ada" and team == 1
//	id in [1, 2, 3]
//	team_id == bound.team
package queryir
