// Package harness runs reconciliation scenarios against a throwaway state
// directory.
//
// A scenario seeds documents, enqueues deltas, drains the queue once with a
// fixed clock and then checks the drain counts and the resulting documents.
//
// # Scenario Format
//
// Scenarios are YAML files:
//
//	name: register_then_heartbeat
//	description: "A registered agent's heartbeat updates heartbeat_last"
//	now: "2026-02-14T12:00:00Z"
//	queue: dir
//	documents:
//	  channels:
//	    channels: {}
//	    _meta: { count: 0, last_updated: "2026-02-14T00:00:00Z" }
//	deltas:
//	  - action: register_agent
//	    agent_id: ada
//	    at: "2026-02-14T11:00:00Z"
//	    payload: { name: Ada, framework: go }
//	expect:
//	  processed: 1
//	  errors: 0
//	assertions:
//	  - type: field
//	    document: agents
//	    path: agents.ada.status
//	    equals: active
//
// # Assertion Types
//
//   - field: the value at path equals the expected value
//   - absent: nothing exists at path
//   - count: the object or list at path has exactly count entries
//   - pending: exactly count deltas remain queued
//   - dead_letters: exactly count dead letters were recorded
//
// Paths are dot separated. Numeric segments index lists.
//
// # Queue Backends
//
// queue selects the inbox backend: dir (the default) or sqlite. Scenarios
// are expected to behave identically on both.
package harness
