// Package storage provides the record storage abstraction used for the
// transaction history.
package storage

import "errors"

var (
	ErrNotFound       = errors.New("record not found")
	ErrBucketNotFound = errors.New("bucket not found")
	// ErrCASFailed is returned when a compare-and-swap version check fails.
	ErrCASFailed = errors.New("CAS version mismatch")
)

// BatchTx provides Put and PutCAS within an atomic transaction.
// The bucket is scoped to the batch, so methods don't require it.
type BatchTx interface {
	Put(recordType string, recordID string, envelope *Envelope) error
	PutCAS(recordType string, recordID string, expectedVersion uint64, envelope *Envelope) error
}

// Repository stores envelopes keyed by bucket, record type and record ID.
//
// PutCAS with expectedVersion 0 is create-only: it fails with ErrCASFailed
// when the record already exists. Scan visits records in ascending key
// order and stops at the first error fn returns. Count reads keys only.
type Repository interface {
	Put(bucket string, recordType string, recordID string, envelope *Envelope) error
	Get(bucket string, recordType string, recordID string) (*Envelope, error)
	List(bucket string, recordType string) ([]string, error)
	Scan(bucket string, recordType string, fn func(recordID string, envelope *Envelope) error) error
	Count(bucket string, recordType string) (int, error)
	PutCAS(bucket string, recordType string, recordID string, expectedVersion uint64, envelope *Envelope) error
	Batch(bucket string, fn func(tx BatchTx) error) error
}
