package session

import (
	"crypto/sha256"
	"crypto/subtle"
	"fmt"

	"github.com/jmcleod/bankgate/internal/util"
)

// Operator is the single configured credential. The password is kept only
// as an Argon2id key.
type Operator struct {
	usernameHash [sha256.Size]byte
	salt         []byte
	key          []byte
	params       util.Argon2idParams
	enabled      bool
}

// NewOperator derives the verification key for username/password. An empty
// password disables login entirely.
func NewOperator(username, password string, params util.Argon2idParams) (*Operator, error) {
	o := &Operator{usernameHash: sha256.Sum256([]byte(username)), params: params}
	if password == "" {
		return o, nil
	}
	salt, err := util.RandomBytes(16)
	if err != nil {
		return nil, err
	}
	key, err := util.DeriveArgon2idKey(password, salt, params)
	if err != nil {
		return nil, fmt.Errorf("deriving operator key: %w", err)
	}
	o.salt, o.key, o.enabled = salt, key, true
	return o, nil
}

func (o *Operator) Enabled() bool { return o != nil && o.enabled }

// Verify checks both fields without short-circuiting, so timing does not
// reveal which one was wrong.
func (o *Operator) Verify(username, password string) bool {
	if !o.Enabled() {
		return false
	}
	given := sha256.Sum256([]byte(username))
	userOK := subtle.ConstantTimeCompare(given[:], o.usernameHash[:])
	passOK, err := util.CompareArgon2idKey(password, o.salt, o.params, o.key)
	if err != nil {
		return false
	}
	pass := 0
	if passOK {
		pass = 1
	}
	return userOK&pass == 1
}
