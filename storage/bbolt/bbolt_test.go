package bbolt

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/jmcleod/bankgate/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewRepositoryFromFile(filepath.Join(t.TempDir(), "history.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func envelope(t *testing.T, name string, version uint64) *storage.Envelope {
	t.Helper()
	env, err := storage.NewJSONEnvelope(map[string]string{"name": name}, version)
	require.NoError(t, err)
	return env
}

func TestPutGet(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.Put("history", "TX", "t1", envelope(t, "first", 1)))

	got, err := s.Get("history", "TX", "t1")
	require.NoError(t, err)
	var payload map[string]string
	require.NoError(t, got.Decode(&payload))
	assert.Equal(t, "first", payload["name"])
}

func TestGetMissing(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Get("history", "TX", "t1")
	assert.ErrorIs(t, err, storage.ErrBucketNotFound)

	require.NoError(t, s.Put("history", "TX", "t1", envelope(t, "first", 1)))
	_, err = s.Get("history", "TX", "nope")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestListAndScanByRecordType(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Put("history", "TX", "b", envelope(t, "b", 1)))
	require.NoError(t, s.Put("history", "TX", "a", envelope(t, "a", 1)))
	require.NoError(t, s.Put("history", "META", "x", envelope(t, "x", 1)))

	ids, err := s.List("history", "TX")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids)

	ids, err = s.List("missing", "TX")
	require.NoError(t, err)
	assert.Empty(t, ids)

	stop := errors.New("stop")
	visited := 0
	err = s.Scan("history", "TX", func(string, *storage.Envelope) error {
		visited++
		return stop
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 1, visited)
}

func TestCountByRecordType(t *testing.T) {
	s := newTestStore(t)
	n, err := s.Count("history", "TX")
	require.NoError(t, err)
	assert.Zero(t, n)

	require.NoError(t, s.Put("history", "TX", "a", envelope(t, "a", 1)))
	require.NoError(t, s.Put("history", "TX", "b", envelope(t, "b", 1)))
	require.NoError(t, s.Put("history", "TXI", "c", envelope(t, "c", 1)))

	n, err = s.Count("history", "TX")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestPutCAS(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.PutCAS("history", "TX", "t1", 0, envelope(t, "v1", 1)))
	assert.ErrorIs(t, s.PutCAS("history", "TX", "t1", 0, envelope(t, "again", 1)), storage.ErrCASFailed)
	assert.ErrorIs(t, s.PutCAS("history", "TX", "t2", 1, envelope(t, "v1", 1)), storage.ErrCASFailed)

	require.NoError(t, s.PutCAS("history", "TX", "t1", 1, envelope(t, "v2", 2)))
	assert.ErrorIs(t, s.PutCAS("history", "TX", "t1", 1, envelope(t, "v3", 3)), storage.ErrCASFailed)

	got, err := s.Get("history", "TX", "t1")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), got.Version)
}

func TestBatchRollsBackOnError(t *testing.T) {
	s := newTestStore(t)

	err := s.Batch("history", func(tx storage.BatchTx) error {
		if err := tx.Put("TX", "t1", envelope(t, "one", 1)); err != nil {
			return err
		}
		return tx.PutCAS("TX", "t2", 0, envelope(t, "two", 1))
	})
	require.NoError(t, err)

	err = s.Batch("history", func(tx storage.BatchTx) error {
		_ = tx.Put("TX", "t3", envelope(t, "three", 1))
		return errors.New("simulated")
	})
	require.Error(t, err)

	ids, err := s.List("history", "TX")
	require.NoError(t, err)
	assert.Equal(t, []string{"t1", "t2"}, ids)
}

func TestBatchSkipsExistingWithCAS(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Put("history", "TX", "t1", envelope(t, "original", 1)))

	added := 0
	err := s.Batch("history", func(tx storage.BatchTx) error {
		for _, id := range []string{"t1", "t2"} {
			err := tx.PutCAS("TX", id, 0, envelope(t, "new", 1))
			if errors.Is(err, storage.ErrCASFailed) {
				continue
			}
			if err != nil {
				return err
			}
			added++
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, added)

	got, err := s.Get("history", "TX", "t1")
	require.NoError(t, err)
	var payload map[string]string
	require.NoError(t, got.Decode(&payload))
	assert.Equal(t, "original", payload["name"])
}
