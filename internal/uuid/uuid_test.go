package uuid

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewIsRandomV4(t *testing.T) {
	id := New()
	parsed, err := uuid.Parse(id)
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(4), parsed.Version())
	assert.Equal(t, parsed.String(), id, "canonical form")
	assert.NotEqual(t, id, New())
}

func TestDeriveIsStableV5(t *testing.T) {
	a := Derive("demo", "42", "7")
	parsed, err := uuid.Parse(a)
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(5), parsed.Version())
	assert.Equal(t, a, Derive("demo", "42", "7"))

	assert.NotEqual(t, a, Derive("demo", "42", "8"))
	assert.NotEqual(t, Derive("a", "bc"), Derive("ab", "c"), "parts are delimited")
}
