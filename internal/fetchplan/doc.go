// Package fetchplan decides how each association of a loaded record is
// materialized: inline, behind a lazy reference, or batched with its
// siblings.
//
// The decision depends only on the association's declared strategy and on
// the query that produced the owner. A join-fetch directive overrides the
// declared strategy for that query alone; it never changes the schema.
package fetchplan
