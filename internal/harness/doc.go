// Package harness runs scripted scenarios against a throwaway replica.
//
// A scenario drives the real handlers through the mediator, settles the
// outbox against a scripted server, applies pulled items, and records every
// event published on the bus. Assertions check that trace and the final
// replica state; golden files pin the trace.
//
// # Scenario Format
//
// Scenarios are YAML files:
//
//	name: page_lifecycle
//	description: "Create a page, push it, then merge a server edit"
//	steps:
//	  - mutate: node.create
//	    input: { nodeType: space }
//	    attributes: { name: Team }
//	    save: space
//	  - mutate: node.create
//	    input: { nodeType: page, parentId: $space }
//	    texts: { title: Roadmap }
//	    save: page
//	  - push: { status: 200 }
//	    expect: { output: { retired: 2 } }
//	  - pull:
//	      synchronizer: nodes.updates:$space
//	      items:
//	        - { id: $page, type: page, parentId: $space, rootId: $space, index: a0, ts: 1, attributes: { icon: old } }
//	  - query: node.get
//	    input: { nodeId: $page }
//	    expect: { output: { attributes: { title: Roadmap, icon: old } } }
//	assertions:
//	  - type: event_order
//	    events: [node.created, node.updated]
//	  - type: node_state
//	    node: $page
//	    expect: { type: page }
//
// A string value "$name" anywhere in input, pull items, a synchronizer key's
// ID part or assertions is replaced by the ID saved under name.
//
// # Assertion Types
//
//   - event_contains: an event of the given type (and kind) was published
//   - event_order: the first occurrences of events appear in order
//   - event_count: an event type was published exactly count times
//   - outbox_count: the outbox holds exactly count mutations
//   - node_state: the node's query view contains expect (subset match), or
//     the node is gone when deleted is true
//
// # Determinism
//
// Every run uses an in-memory SQLite database, a stepping clock and a
// seeded ID generator, so traces are reproducible. Golden snapshots replace
// IDs with their saved names ($page) or per-tag ordinals ($mu1).
package harness
