package xid

import (
	"strings"

	"github.com/google/uuid"
)

// New returns a random UUID. A non-empty prefix is prepended with a dash,
// which keeps log lines greppable by record kind.
func New(prefix string) string {
	id := uuid.NewString()
	if prefix == "" {
		return id
	}
	return prefix + "-" + id
}

// Valid reports whether id is a UUID, optionally carrying the given prefix.
func Valid(prefix string, id string) bool {
	if prefix != "" {
		var ok bool
		id, ok = strings.CutPrefix(id, prefix+"-")
		if !ok {
			return false
		}
	}
	return uuid.Validate(id) == nil
}
