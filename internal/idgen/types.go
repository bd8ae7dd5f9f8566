package idgen

import "slices"

// Type is the two-character tag appended to every identifier.
type Type string

const (
	TypeAccount         Type = "ac"
	TypeWorkspace       Type = "wc"
	TypeUser            Type = "us"
	TypeSpace           Type = "sp"
	TypePage            Type = "pg"
	TypeChannel         Type = "ch"
	TypeChat            Type = "ct"
	TypeFolder          Type = "fl"
	TypeDatabase        Type = "db"
	TypeRecord          Type = "rc"
	TypeMessage         Type = "ms"
	TypeFile            Type = "fi"
	TypeBlock           Type = "bl"
	TypeReaction        Type = "re"
	TypeInteraction     Type = "in"
	TypeMutation        Type = "mu"
	TypeQuerySubscriber Type = "qs"
	TypeDevice          Type = "dv"
	TypeView            Type = "vw"
	TypeField           Type = "fd"
)

// allTypes is the closed set of known tags, in declaration order.
var allTypes = []Type{
	TypeAccount,
	TypeWorkspace,
	TypeUser,
	TypeSpace,
	TypePage,
	TypeChannel,
	TypeChat,
	TypeFolder,
	TypeDatabase,
	TypeRecord,
	TypeMessage,
	TypeFile,
	TypeBlock,
	TypeReaction,
	TypeInteraction,
	TypeMutation,
	TypeQuerySubscriber,
	TypeDevice,
	TypeView,
	TypeField,
}

// Types returns the closed enumeration of identifier tags.
func Types() []Type {
	return slices.Clone(allTypes)
}

// Valid reports whether t belongs to the closed enumeration.
func (t Type) Valid() bool {
	return slices.Contains(allTypes, t)
}

func (t Type) String() string {
	return string(t)
}

// ParseType converts a tag string into a Type, rejecting unknown tags.
func ParseType(s string) (Type, error) {
	t := Type(s)
	if !t.Valid() {
		return "", &InvalidIDError{ID: s, Reason: "unknown type tag"}
	}
	return t, nil
}
