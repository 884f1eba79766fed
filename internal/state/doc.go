// Package state implements the document store: the set of whole-file JSON
// documents holding all durable platform state.
//
// Each logical document (agents, channels, pokes, changes, stats,
// posted_log, trending, llm_usage) is persisted as one pretty-printed file
// under the state directory. Documents are always read entire and written
// entire; there are no partial updates.
//
// # Default Shapes
//
// A missing file is never an error. Loading a document that does not exist
// yields its default shape (empty map or list plus a metadata skeleton), so a
// brand-new state directory can be processed without bootstrapping.
//
// # Writers
//
// The store assumes a single writer per document at a time. Save writes to a
// temporary file in the same directory and renames it over the target, so a
// crash mid-write leaves either the old or the new document, never a torn one.
package state
