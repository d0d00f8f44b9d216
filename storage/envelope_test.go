package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func TestEnvelopeDecode(t *testing.T) {
	env, err := NewJSONEnvelope(sample{Name: "groceries", Count: 3}, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, env.Ver)
	assert.Equal(t, SchemeJSON, env.Scheme)
	assert.Equal(t, uint64(1), env.Version)

	var got sample
	require.NoError(t, env.Decode(&got))
	assert.Equal(t, sample{Name: "groceries", Count: 3}, got)
}

func TestEnvelopeRejectsUnknownFormat(t *testing.T) {
	env, err := NewJSONEnvelope(sample{}, 1)
	require.NoError(t, err)

	env.Scheme = "aes256gcm"
	assert.Error(t, env.Decode(&sample{}))

	env.Scheme = SchemeJSON
	env.Ver = 2
	assert.Error(t, env.Decode(&sample{}))
}
