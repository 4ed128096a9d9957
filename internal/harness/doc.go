// Package harness runs behavior scenarios against a persistence session.
//
// A scenario seeds an in-memory store, drives one session through a list of
// operations, checks each operation's outcome, and records every store
// round trip. The trace is compared against a golden file, so a change in
// how many fetches an operation costs shows up as a diff.
//
// # Scenario Format
//
//	name: lazy_team_shared
//	description: "Members of one team share a single lazy reference"
//	schema: schema            # CUE directory, relative to the scenario
//	batch_size: 0
//	setup:
//	  - persist: Team
//	    as: red
//	    fields: {name: Red}
//	  - persist: Member
//	    fields: {name: Ann}
//	    links: {team: red}
//	steps:
//	  - find: Member
//	    id: 1
//	    as: ann
//	    expect: {fetches: 1, loaded: true}
//	  - ref: ann
//	    association: team
//	    as: team
//	    expect: {fetches: 0, proxy: true, loaded: false}
//	  - get: team
//	    field: name
//	    expect: {value: Red, fetches: 1}
//	assertions:
//	  - type: fetch_count
//	    count: 2
//
// Setup records are flushed and the session cleared before the first step,
// so steps begin with an empty identity map.
//
// # Assertion Types
//
//   - fetch_count: number of store reads, optionally only "key" or "query"
//   - same_instance: every listed handle is one object
//   - loaded: an instance, or one of its associations, is loaded
//   - managed: the session still manages an instance
//   - result_count: length of a collection or query result
//
// # Deterministic Testing
//
// Every run uses a fresh in-memory SQLite store, session ids from
// testutil.SequenceIDs and a testutil.DeterministicClock that is reset
// when the first step starts. Two runs of one scenario produce
// byte-identical traces.
package harness
