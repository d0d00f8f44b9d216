package util

import (
	"crypto/subtle"
	"errors"
	"fmt"

	"golang.org/x/crypto/argon2"
)

var (
	ErrArgon2idParams = errors.New("invalid argon2id parameters")
	ErrEmptySalt      = errors.New("argon2id salt must not be empty")
)

// Argon2idParams tune the operator password hash. The key is only kept in
// memory, so the parameters never need to round-trip through storage.
type Argon2idParams struct {
	Time        uint32
	MemoryKiB   uint32
	Parallelism uint8
	KeyLen      uint32
}

func DefaultArgon2idParams() Argon2idParams {
	return Argon2idParams{Time: 1, MemoryKiB: 64 * 1024, Parallelism: 4, KeyLen: 32}
}

// Validate enforces a 32-byte key and the argon2 minimum of 8 KiB of
// memory per lane.
func (p Argon2idParams) Validate() error {
	switch {
	case p.KeyLen != 32:
		return fmt.Errorf("%w: key length %d, want 32", ErrArgon2idParams, p.KeyLen)
	case p.Time == 0:
		return fmt.Errorf("%w: time must be at least 1", ErrArgon2idParams)
	case p.Parallelism == 0:
		return fmt.Errorf("%w: parallelism must be at least 1", ErrArgon2idParams)
	case p.MemoryKiB < 8*uint32(p.Parallelism):
		return fmt.Errorf("%w: %d KiB is below 8 KiB per lane", ErrArgon2idParams, p.MemoryKiB)
	}
	return nil
}

func DeriveArgon2idKey(password string, salt []byte, p Argon2idParams) ([]byte, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if len(salt) == 0 {
		return nil, ErrEmptySalt
	}
	return argon2.IDKey([]byte(password), salt, p.Time, p.MemoryKiB, p.Parallelism, p.KeyLen), nil
}

// CompareArgon2idKey derives a key for password and compares it with want
// in constant time. The derived key is wiped afterwards.
func CompareArgon2idKey(password string, salt []byte, p Argon2idParams, want []byte) (bool, error) {
	got, err := DeriveArgon2idKey(password, salt, p)
	if err != nil {
		return false, err
	}
	defer WipeBytes(got)
	return subtle.ConstantTimeCompare(got, want) == 1, nil
}
