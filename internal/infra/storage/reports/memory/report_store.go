// Package memory provides an in-memory report store for tests and
// single-process development runs.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ahrav/scanforge/internal/domain/findings"
	"github.com/ahrav/scanforge/internal/domain/scanning"
)

var _ findings.ReportStore = (*reportStore)(nil)

type reportStore struct {
	mu      sync.Mutex
	reports map[uuid.UUID]*findings.Report
	usage   map[string]int

	failSave error
}

// NewReportStore creates an empty in-memory report store.
func NewReportStore() *reportStore {
	return &reportStore{
		reports: make(map[uuid.UUID]*findings.Report),
		usage:   make(map[string]int),
	}
}

// Save stores a copy of the report keyed by scan ID.
func (s *reportStore) Save(_ context.Context, report *findings.Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failSave != nil {
		return s.failSave
	}
	cp := *report
	cp.Findings = append([]findings.Finding(nil), report.Findings...)
	cp.Tools = append([]findings.ToolSummary(nil), report.Tools...)
	s.reports[report.ScanID] = &cp
	return nil
}

// Get loads a previously saved report.
func (s *reportStore) Get(_ context.Context, scanID uuid.UUID) (*findings.Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	report, ok := s.reports[scanID]
	if !ok {
		return nil, scanning.ErrScanNotFound
	}
	cp := *report
	return &cp, nil
}

// IncrementTenantUsage bumps the tenant's monthly counter.
func (s *reportStore) IncrementTenantUsage(_ context.Context, tenantID string, year int, month time.Month) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.usage[usageKey(tenantID, year, month)]++
	return nil
}

// Usage returns the recorded count for a tenant and month.
func (s *reportStore) Usage(tenantID string, year int, month time.Month) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.usage[usageKey(tenantID, year, month)]
}

// FailSaves makes every subsequent Save return err.
func (s *reportStore) FailSaves(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failSave = err
}

func usageKey(tenantID string, year int, month time.Month) string {
	return fmt.Sprintf("%s/%04d-%02d", tenantID, year, int(month))
}
