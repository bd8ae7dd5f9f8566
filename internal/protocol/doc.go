// Package protocol defines the wire contract between the client replica and
// the sync server.
//
// PULL: the client sends synchronizer.input with the stored cursor for one
// synchronizer; the server answers with synchronizer.output whose items
// each carry the cursor to resume from. Cursors are opaque decimal strings;
// "" and "0" both mean "from the beginning".
//
// PUSH: the client posts a SyncMutationsInput batch; the server answers with
// one status per mutation. Classify maps a status to what the client does
// with the mutation.
//
// Every message is a flat JSON object tagged by its "type" field. Decoders
// return ErrUnknownMessage for tags they do not know; callers skip those.
package protocol
