// Package secret resolves the banking API key from a vault with a static
// fallback, keeping the value sealed in memory and out of every log line.
package secret

import "errors"

var (
	// ErrSecretUnavailable means no source could supply the credential.
	ErrSecretUnavailable = errors.New("secret unavailable")
	ErrEmptySecret       = errors.New("secret is empty")

	ErrVaultAuth         = errors.New("vault authentication failed")
	ErrVaultItemNotFound = errors.New("vault item not found")
	ErrVaultMalformed    = errors.New("vault response malformed")
	ErrVaultUnavailable  = errors.New("vault unavailable")
)
