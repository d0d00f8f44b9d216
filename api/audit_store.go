package api

import (
	"cmp"
	"slices"
	"time"

	"github.com/jmcleod/bankgate/internal/uuid"
	"github.com/jmcleod/bankgate/storage"
)

const (
	auditBucket     = "audit"
	auditRecordType = "AUDIT"
)

// AuditEntry is a persisted audit event.
type AuditEntry struct {
	ID        string     `json:"id"`
	Event     AuditEvent `json:"event"`
	ClientIP  string     `json:"client_ip,omitempty"`
	Reason    string     `json:"reason,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// auditTrail appends audit entries to the repository. Entries are
// create-only.
type auditTrail struct {
	repo storage.Repository
}

func newAuditTrail(repo storage.Repository) *auditTrail {
	return &auditTrail{repo: repo}
}

func (t *auditTrail) append(event AuditEvent, clientIP, reason string, at time.Time) error {
	entry := AuditEntry{
		ID:        uuid.New(),
		Event:     event,
		ClientIP:  clientIP,
		Reason:    reason,
		CreatedAt: at,
	}
	env, err := storage.NewJSONEnvelope(entry, 1)
	if err != nil {
		return err
	}
	return t.repo.PutCAS(auditBucket, auditRecordType, entry.ID, 0, env)
}

// list returns every entry, newest first.
func (t *auditTrail) list() ([]AuditEntry, error) {
	var entries []AuditEntry
	err := t.repo.Scan(auditBucket, auditRecordType, func(_ string, env *storage.Envelope) error {
		var e AuditEntry
		if err := env.Decode(&e); err != nil {
			return nil
		}
		entries = append(entries, e)
		return nil
	})
	if err != nil {
		return nil, err
	}
	slices.SortFunc(entries, func(a, b AuditEntry) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return entries, nil
}
