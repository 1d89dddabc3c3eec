// Package memory provides an in-memory audit store for tests and
// single-process development runs.
package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/ahrav/scanforge/internal/domain/audit"
)

var _ audit.Store = (*auditStore)(nil)

type auditStore struct {
	mu      sync.Mutex
	records []audit.Record

	// failNext injects an append failure for recorder retry tests.
	failNext error
}

// NewAuditStore creates an empty in-memory audit store.
func NewAuditStore() *auditStore { return new(auditStore) }

// Append stores the record. Append-only by construction.
func (s *auditStore) Append(_ context.Context, rec audit.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failNext != nil {
		err := s.failNext
		s.failNext = nil
		return err
	}
	s.records = append(s.records, rec)
	return nil
}

// FailNext makes the next Append return err, then recover.
func (s *auditStore) FailNext(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext = err
}

// Records returns a copy of everything appended so far.
func (s *auditStore) Records() []audit.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]audit.Record, len(s.records))
	copy(out, s.records)
	return out
}

// RecordsFor returns the records for one scan in append order.
func (s *auditStore) RecordsFor(scanID uuid.UUID) []audit.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []audit.Record
	for _, rec := range s.records {
		if rec.ScanID == scanID {
			out = append(out, rec)
		}
	}
	return out
}
