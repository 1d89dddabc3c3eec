package audit

import "context"

// Recorder accepts audit records from the engine. Recording never fails the
// calling operation: implementations buffer and retry independently, and
// surface persistent loss as an observability alert instead of an error.
type Recorder interface {
	Record(ctx context.Context, rec Record)
}

// Store is the outbound persistence port for audit records, implemented at
// the boundary with the external persistence layer. Append-only.
type Store interface {
	Append(ctx context.Context, rec Record) error
}
