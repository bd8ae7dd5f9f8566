// Package crdt defines the field value model shared by the local replica and
// the sync protocol.
//
// A field value is a closed tagged union over boolean, string, string array,
// number and collaborative text. Only Text merges as a CRDT: concurrent edits
// from different replicas converge to the same string regardless of the
// order in which states are exchanged. Every other kind is a last-writer-wins
// scalar held in a Register.
//
// The tag survives encoding. A Text serialized as a plain string loses its
// merge history, so the JSON form always carries {"type": ..., "value": ...}
// and Text values carry their full atom state.
package crdt
