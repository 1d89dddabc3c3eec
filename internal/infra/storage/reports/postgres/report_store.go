// Package postgres persists normalized scan reports and tenant usage
// accounting in PostgreSQL.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/scanforge/internal/domain/findings"
	"github.com/ahrav/scanforge/internal/domain/scanning"
	"github.com/ahrav/scanforge/internal/infra/storage"
)

var _ findings.ReportStore = (*reportStore)(nil)

type reportStore struct {
	db     *pgxpool.Pool
	tracer trace.Tracer
}

// NewReportStore creates a PostgreSQL-backed report repository.
func NewReportStore(pool *pgxpool.Pool, tracer trace.Tracer) *reportStore {
	return &reportStore{db: pool, tracer: tracer}
}

// Save persists the merged report. Findings and tool summaries are stored as
// JSONB documents; the report row is keyed by scan ID, one report per scan.
func (s *reportStore) Save(ctx context.Context, report *findings.Report) error {
	dbAttrs := append(
		storage.DefaultDBAttributes,
		attribute.String("scan_id", report.ScanID.String()),
		attribute.String("outcome", string(report.Outcome)),
		attribute.Int("finding_count", len(report.Findings)),
	)

	return storage.ExecuteAndTrace(ctx, s.tracer, "postgres.save_report", dbAttrs, func(ctx context.Context) error {
		findingsJSON, err := json.Marshal(report.Findings)
		if err != nil {
			return fmt.Errorf("marshal findings error: %w", err)
		}
		toolsJSON, err := json.Marshal(report.Tools)
		if err != nil {
			return fmt.Errorf("marshal tool summaries error: %w", err)
		}

		_, err = s.db.Exec(ctx, `
			INSERT INTO reports (scan_id, tenant_id, findings, tools, outcome, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (scan_id) DO UPDATE
			SET findings = EXCLUDED.findings,
			    tools = EXCLUDED.tools,
			    outcome = EXCLUDED.outcome`,
			report.ScanID, report.TenantID, findingsJSON, toolsJSON,
			string(report.Outcome), report.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert report error: %w", err)
		}
		return nil
	})
}

// Get loads the report for a scan.
func (s *reportStore) Get(ctx context.Context, scanID uuid.UUID) (*findings.Report, error) {
	dbAttrs := append(
		storage.DefaultDBAttributes,
		attribute.String("scan_id", scanID.String()),
	)

	var report *findings.Report
	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.get_report", dbAttrs, func(ctx context.Context) error {
		var (
			tenantID     string
			findingsJSON []byte
			toolsJSON    []byte
			outcome      string
			createdAt    time.Time
		)
		err := s.db.QueryRow(ctx, `
			SELECT tenant_id, findings, tools, outcome, created_at
			FROM reports WHERE scan_id = $1`, scanID,
		).Scan(&tenantID, &findingsJSON, &toolsJSON, &outcome, &createdAt)
		if errors.Is(err, pgx.ErrNoRows) {
			return scanning.ErrScanNotFound
		}
		if err != nil {
			return fmt.Errorf("select report error: %w", err)
		}

		report = &findings.Report{
			ScanID:    scanID,
			TenantID:  tenantID,
			Outcome:   findings.Outcome(outcome),
			CreatedAt: createdAt,
		}
		if err := json.Unmarshal(findingsJSON, &report.Findings); err != nil {
			return fmt.Errorf("unmarshal findings error: %w", err)
		}
		if err := json.Unmarshal(toolsJSON, &report.Tools); err != nil {
			return fmt.Errorf("unmarshal tool summaries error: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return report, nil
}

// IncrementTenantUsage bumps the tenant's monthly scan counter, creating the
// row on first use.
func (s *reportStore) IncrementTenantUsage(ctx context.Context, tenantID string, year int, month time.Month) error {
	dbAttrs := append(
		storage.DefaultDBAttributes,
		attribute.String("tenant_id", tenantID),
		attribute.Int("year", year),
		attribute.Int("month", int(month)),
	)

	return storage.ExecuteAndTrace(ctx, s.tracer, "postgres.increment_tenant_usage", dbAttrs, func(ctx context.Context) error {
		_, err := s.db.Exec(ctx, `
			INSERT INTO tenant_usage (tenant_id, year, month, scan_count)
			VALUES ($1, $2, $3, 1)
			ON CONFLICT (tenant_id, year, month)
			DO UPDATE SET scan_count = tenant_usage.scan_count + 1`,
			tenantID, year, int(month),
		)
		if err != nil {
			return fmt.Errorf("increment tenant usage error: %w", err)
		}
		return nil
	})
}
