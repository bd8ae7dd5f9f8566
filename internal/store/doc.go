// Package store provides the SQLite-backed local replica.
//
// The store holds:
//   - Nodes: the replicated entity tree, attributes stored as CRDT fields
//   - Mutations: the outbox of local mutations awaiting the server
//   - Mutation failures: mutations the server rejected
//   - Cursors: the resume point of every pull synchronizer
//
// # Ordering
//
// Sibling nodes are read in fractional index order with the node ID as a
// tie-break: ORDER BY idx ASC, id COLLATE BINARY ASC. The outbox is read in
// insertion order (ORDER BY seq ASC), which is creation order because
// mutations are enqueued as they are created.
//
// # Idempotency
//
// Enqueuing a mutation twice is a no-op (ON CONFLICT(id) DO NOTHING), so a
// handler retried after a crash cannot duplicate an outbox entry.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
