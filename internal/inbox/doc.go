// Package inbox implements the delta queue: pending mutation requests waiting
// to be applied to the document store by the reconciler.
//
// A Queue is an unordered set of deltas keyed by id. Ids sort lexically in
// roughly creation order ({agent_id}-{timestamp}.json), and List returns them
// in that order so a drain is deterministic. The queue offers at-most-once
// consumption: the consumer removes an entry only after its apply attempt
// returns, so a crash mid-drain leaves the unreached entries in place.
//
// Two backends implement Queue:
//   - DirQueue: one JSON file per delta in a directory
//   - SQLiteQueue: one row per delta in a SQLite table
//
// Deltas whose apply attempt failed unexpectedly are copied to a dead-letter
// record before removal so the failure is never silent.
package inbox
