// Package postgres persists audit records in PostgreSQL. The table is
// append-only: the engine inserts and never updates or deletes.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/scanforge/internal/domain/audit"
	"github.com/ahrav/scanforge/internal/infra/storage"
)

var _ audit.Store = (*auditStore)(nil)

type auditStore struct {
	db     *pgxpool.Pool
	tracer trace.Tracer
}

// NewAuditStore creates a PostgreSQL-backed append-only audit store.
func NewAuditStore(pool *pgxpool.Pool, tracer trace.Tracer) *auditStore {
	return &auditStore{db: pool, tracer: tracer}
}

// Append inserts one audit record. Records are immutable once written; there
// is deliberately no update or delete counterpart.
func (s *auditStore) Append(ctx context.Context, rec audit.Record) error {
	dbAttrs := append(
		storage.DefaultDBAttributes,
		attribute.String("scan_id", rec.ScanID.String()),
		attribute.String("action", string(rec.Action)),
	)

	return storage.ExecuteAndTrace(ctx, s.tracer, "postgres.append_audit_record", dbAttrs, func(ctx context.Context) error {
		_, err := s.db.Exec(ctx, `
			INSERT INTO audit_records (id, scan_id, actor, action, subject, outcome, detail, occurred_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			rec.ID, rec.ScanID, string(rec.Actor), string(rec.Action),
			rec.Subject, string(rec.Outcome), rec.Detail, rec.OccurredAt,
		)
		if err != nil {
			return fmt.Errorf("insert audit record error: %w", err)
		}
		return nil
	})
}
