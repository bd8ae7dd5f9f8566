// Package syncer moves changes between the local replica and the server.
//
// Two loops run independently:
//
//	Pusher  outbox ──SyncMutationsInput──► server ──results──► retire/reject/retry
//	Puller  cursor ──synchronizer.input──► server ──output──► apply, store cursor, re-request
//
// The pusher drains the outbox in creation order. Every result status is
// classified by protocol.Classify: retired mutations leave the outbox,
// rejected ones are recorded as failures and announced as
// event.MutationFailed, and everything else stays queued with its attempt
// count bumped. Run backs off exponentially while anything is left to
// retry and sleeps until Notify when the outbox is empty.
//
// The puller keeps one outstanding request per registered synchronizer.
// Each pulled item is applied and its cursor stored before the next item,
// so a crash replays at most the item in flight. Appliers must therefore
// be idempotent.
package syncer
