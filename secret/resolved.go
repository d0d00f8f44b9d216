package secret

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/awnumar/memguard"
)

const redacted = "[REDACTED]"

// Origin identifies which source produced a secret.
type Origin int

const (
	OriginVault Origin = iota + 1
	OriginFallback
)

func (o Origin) String() string {
	switch o {
	case OriginVault:
		return "vault"
	case OriginFallback:
		return "fallback"
	default:
		return "unknown"
	}
}

// ResolvedSecret holds the banking API key sealed in a memguard enclave.
// Every formatting path renders a placeholder; the plaintext is reachable
// only inside Use.
type ResolvedSecret struct {
	enclave    *memguard.Enclave
	origin     Origin
	resolvedAt time.Time
	ttl        time.Duration
}

// newResolvedSecret seals value and wipes the caller's copy.
func newResolvedSecret(value []byte, origin Origin, at time.Time, ttl time.Duration) (*ResolvedSecret, error) {
	if len(value) == 0 {
		return nil, ErrEmptySecret
	}
	enc := memguard.NewEnclave(value)
	if enc == nil {
		return nil, ErrEmptySecret
	}
	return &ResolvedSecret{enclave: enc, origin: origin, resolvedAt: at, ttl: ttl}, nil
}

// Use opens the enclave for the duration of fn. fn must not retain value.
func (s *ResolvedSecret) Use(fn func(value []byte) error) error {
	buf, err := s.enclave.Open()
	if err != nil {
		return fmt.Errorf("opening secret enclave: %w", err)
	}
	defer buf.Destroy()
	return fn(buf.Bytes())
}

func (s *ResolvedSecret) Origin() Origin        { return s.origin }
func (s *ResolvedSecret) ResolvedAt() time.Time { return s.resolvedAt }

func (s *ResolvedSecret) expired(now time.Time) bool {
	return !now.Before(s.resolvedAt.Add(s.ttl))
}

func (s *ResolvedSecret) String() string   { return redacted }
func (s *ResolvedSecret) GoString() string { return redacted }

func (s *ResolvedSecret) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("origin", s.origin.String()),
		slog.Time("resolved_at", s.resolvedAt),
	)
}

func (s *ResolvedSecret) MarshalJSON() ([]byte, error) {
	return []byte(`"` + redacted + `"`), nil
}
