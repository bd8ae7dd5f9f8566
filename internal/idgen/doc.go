// Package idgen generates self-describing entity identifiers.
//
// An identifier is a lowercase ULID (26 characters, Crockford base32)
// followed by a two-character type tag:
//
//	01jb6z3m4d8x0v2s9k7q5w1e3rpg
//	|-------- ulid ----------||t|
//
// The ULID component sorts by creation time and is monotonic within a
// process, so identifiers generated in sequence compare in creation order
// even inside a single millisecond. The trailing tag makes the entity kind
// recoverable from the identifier alone.
//
// Identifiers are immutable once issued.
package idgen
