package uuid

import (
	"strings"

	"github.com/google/uuid"
)

// namespace scopes name-based IDs to bankgate.
var namespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://github.com/jmcleod/bankgate"))

// New returns a random (version 4) UUID in its canonical string form.
func New() string {
	return uuid.NewString()
}

// Derive returns a name-based (version 5) UUID for parts. Equal parts
// always yield the same ID.
func Derive(parts ...string) string {
	return uuid.NewSHA1(namespace, []byte(strings.Join(parts, "\x00"))).String()
}
