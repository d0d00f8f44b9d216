// Package memory provides a thread-safe in-memory implementation of storage.Repository.
package memory

import (
	"sort"
	"strings"
	"sync"

	"github.com/jmcleod/bankgate/storage"
)

// Repository is a thread-safe in-memory implementation of storage.Repository.
// Suitable for tests and for running without a data directory.
type Repository struct {
	mu   sync.RWMutex
	data map[string]map[string]*storage.Envelope
}

var _ storage.Repository = (*Repository)(nil)

// NewRepository creates a new empty in-memory Repository.
func NewRepository() *Repository {
	return &Repository{data: make(map[string]map[string]*storage.Envelope)}
}

func makeKey(recordType, recordID string) string {
	return recordType + ":" + recordID
}

func cloneEnvelope(env *storage.Envelope) *storage.Envelope {
	if env == nil {
		return nil
	}
	return &storage.Envelope{
		Ver:     env.Ver,
		Scheme:  env.Scheme,
		Payload: append([]byte(nil), env.Payload...),
		Version: env.Version,
	}
}

func (r *Repository) Put(bucket, recordType, recordID string, envelope *storage.Envelope) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.putLocked(bucket, recordType, recordID, envelope)
}

func (r *Repository) putLocked(bucket, recordType, recordID string, envelope *storage.Envelope) error {
	if _, ok := r.data[bucket]; !ok {
		r.data[bucket] = make(map[string]*storage.Envelope)
	}
	r.data[bucket][makeKey(recordType, recordID)] = cloneEnvelope(envelope)
	return nil
}

func (r *Repository) Get(bucket, recordType, recordID string) (*storage.Envelope, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.getLocked(bucket, recordType, recordID)
}

func (r *Repository) getLocked(bucket, recordType, recordID string) (*storage.Envelope, error) {
	records, ok := r.data[bucket]
	if !ok {
		return nil, storage.ErrBucketNotFound
	}
	env, ok := records[makeKey(recordType, recordID)]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return cloneEnvelope(env), nil
}

func (r *Repository) List(bucket, recordType string) ([]string, error) {
	var ids []string
	err := r.Scan(bucket, recordType, func(id string, _ *storage.Envelope) error {
		ids = append(ids, id)
		return nil
	})
	return ids, err
}

// Scan visits records in key order, matching the bbolt cursor.
func (r *Repository) Scan(bucket, recordType string, fn func(string, *storage.Envelope) error) error {
	r.mu.RLock()
	prefix := recordType + ":"
	var keys []string
	for k := range r.data[bucket] {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	envs := make([]*storage.Envelope, len(keys))
	for i, k := range keys {
		envs[i] = cloneEnvelope(r.data[bucket][k])
	}
	r.mu.RUnlock()

	for i, k := range keys {
		if err := fn(k[len(prefix):], envs[i]); err != nil {
			return err
		}
	}
	return nil
}

func (r *Repository) Count(bucket, recordType string) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	prefix := recordType + ":"
	n := 0
	for k := range r.data[bucket] {
		if strings.HasPrefix(k, prefix) {
			n++
		}
	}
	return n, nil
}

func (r *Repository) PutCAS(bucket, recordType, recordID string, expectedVersion uint64, envelope *storage.Envelope) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.putCASLocked(bucket, recordType, recordID, expectedVersion, envelope)
}

func (r *Repository) putCASLocked(bucket, recordType, recordID string, expectedVersion uint64, envelope *storage.Envelope) error {
	existing, err := r.getLocked(bucket, recordType, recordID)
	if err != nil {
		if expectedVersion != 0 {
			return storage.ErrCASFailed
		}
		return r.putLocked(bucket, recordType, recordID, envelope)
	}
	if expectedVersion == 0 || existing.Version != expectedVersion {
		return storage.ErrCASFailed
	}
	return r.putLocked(bucket, recordType, recordID, envelope)
}

// Batch executes fn within a batch transaction. On error, all writes are rolled back.
func (r *Repository) Batch(bucket string, fn func(tx storage.BatchTx) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	snapshot := r.snapshotBucket(bucket)

	tx := &memoryBatchTx{repo: r, bucket: bucket}
	if err := fn(tx); err != nil {
		r.restoreBucket(bucket, snapshot)
		return err
	}
	return nil
}

func (r *Repository) snapshotBucket(bucket string) map[string]*storage.Envelope {
	original, ok := r.data[bucket]
	if !ok {
		return nil
	}
	cp := make(map[string]*storage.Envelope, len(original))
	for k, v := range original {
		cp[k] = cloneEnvelope(v)
	}
	return cp
}

func (r *Repository) restoreBucket(bucket string, snapshot map[string]*storage.Envelope) {
	if snapshot == nil {
		delete(r.data, bucket)
	} else {
		r.data[bucket] = snapshot
	}
}

type memoryBatchTx struct {
	repo   *Repository
	bucket string
}

func (tx *memoryBatchTx) Put(recordType, recordID string, envelope *storage.Envelope) error {
	return tx.repo.putLocked(tx.bucket, recordType, recordID, envelope)
}

func (tx *memoryBatchTx) PutCAS(recordType, recordID string, expectedVersion uint64, envelope *storage.Envelope) error {
	return tx.repo.putCASLocked(tx.bucket, recordType, recordID, expectedVersion, envelope)
}
