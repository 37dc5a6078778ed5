package ir

import "fmt"

// Kind is the ownership discipline a binding follows.
type Kind string

const (
	// KindOwned values move on assignment; the source becomes invalid.
	KindOwned Kind = "owned"
	// KindCopy values may be duplicated with copy; the source stays valid.
	// Reserved for values with no exclusive resource to manage.
	KindCopy Kind = "copy"
	// KindShared bindings are reference-counted handles to a shared cell.
	KindShared Kind = "shared"
)

// ValidKinds lists the allowed kind strings.
var ValidKinds = map[Kind]bool{
	KindOwned:  true,
	KindCopy:   true,
	KindShared: true,
}

// ParseKind validates a kind string. Empty is allowed and means "infer".
func ParseKind(s string) (Kind, error) {
	if s == "" {
		return "", nil
	}
	k := Kind(s)
	if !ValidKinds[k] {
		return "", fmt.Errorf("invalid kind %q: must be owned, copy, or shared", s)
	}
	return k, nil
}

// InferKind picks the default kind for a value: integers and booleans are
// copy, everything else (strings, arrays, objects) is owned.
func InferKind(v Value) Kind {
	switch v.(type) {
	case Int, Bool:
		return KindCopy
	default:
		return KindOwned
	}
}

// String returns the kind name.
func (k Kind) String() string {
	return string(k)
}
