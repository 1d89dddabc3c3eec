// Package progress implements the per-scan progress stream: strictly ordered
// sequence numbers, a bounded replay buffer for reconnecting observers, and
// fan-out to live subscribers.
package progress

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/scanforge/internal/domain/events"
	"github.com/ahrav/scanforge/internal/domain/scanning"
	"github.com/ahrav/scanforge/pkg/common/logger"
)

var _ scanning.ProgressPublisher = (*Publisher)(nil)

// stream holds the ordered event history and live subscribers for one scan.
type stream struct {
	nextSeq  int64
	buf      []scanning.ProgressEvent
	subs     map[int]chan scanning.ProgressEvent
	nextSub  int
	terminal bool
}

// Publisher assigns per-scan sequence numbers and fans events out to
// subscribers. Delivery is at-least-once: a subscriber that falls behind is
// dropped and recovers by re-subscribing with its last seen sequence number,
// replaying from the bounded buffer.
type Publisher struct {
	bufSize int
	// maxTerminal bounds how many finished streams are retained for replay
	// before the oldest are evicted.
	maxTerminal int

	// relay optionally mirrors non-heartbeat events onto the domain event bus.
	relay events.DomainEventPublisher

	mu            sync.Mutex
	streams       map[uuid.UUID]*stream
	terminalOrder []uuid.UUID

	logger *logger.Logger
	tracer trace.Tracer
}

// Option configures a Publisher.
type Option func(*Publisher)

// WithRelay mirrors every non-heartbeat progress event onto the given domain
// event bus for cross-process consumers.
func WithRelay(bus events.DomainEventPublisher) Option {
	return func(p *Publisher) { p.relay = bus }
}

// WithTerminalRetention overrides how many finished scan streams stay
// replayable.
func WithTerminalRetention(n int) Option {
	return func(p *Publisher) { p.maxTerminal = n }
}

// NewPublisher creates a Publisher whose replay buffer keeps the last bufSize
// events per scan.
func NewPublisher(bufSize int, log *logger.Logger, tracer trace.Tracer, opts ...Option) *Publisher {
	if bufSize <= 0 {
		bufSize = 256
	}
	p := &Publisher{
		bufSize:     bufSize,
		maxTerminal: 1024,
		streams:     make(map[uuid.UUID]*stream),
		logger:      log.With("component", "progress_publisher"),
		tracer:      tracer,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Publish appends the event to the scan's stream, stamping the next sequence
// number, and delivers it to live subscribers. Events published after a
// terminal event are dropped: the stream has ended.
func (p *Publisher) Publish(ctx context.Context, evt scanning.ProgressEvent) error {
	ctx, span := p.tracer.Start(ctx, "progress.publish",
		trace.WithAttributes(
			attribute.String("scan_id", evt.ScanID().String()),
			attribute.String("phase", evt.Phase().String()),
			attribute.Bool("heartbeat", evt.IsHeartbeat()),
		),
	)
	defer span.End()

	p.mu.Lock()
	st := p.ensureStreamLocked(evt.ScanID())
	if st.terminal {
		p.mu.Unlock()
		span.AddEvent("dropped_after_terminal")
		return nil
	}

	st.nextSeq++
	stamped := evt.WithSeq(st.nextSeq)
	span.SetAttributes(attribute.Int64("seq", st.nextSeq))

	st.buf = append(st.buf, stamped)
	if len(st.buf) > p.bufSize {
		st.buf = st.buf[len(st.buf)-p.bufSize:]
	}

	for id, ch := range st.subs {
		select {
		case ch <- stamped:
		default:
			// Slow consumer: drop it rather than stall the scan. It can
			// re-subscribe from its last sequence number.
			close(ch)
			delete(st.subs, id)
			p.logger.Warn(ctx, "Dropped slow progress subscriber",
				"scan_id", evt.ScanID(), "subscriber", id)
		}
	}

	if stamped.Phase().IsTerminal() && !stamped.IsHeartbeat() {
		st.terminal = true
		for id, ch := range st.subs {
			close(ch)
			delete(st.subs, id)
		}
		p.retireStreamLocked(evt.ScanID())
	}
	p.mu.Unlock()

	p.relayEvent(ctx, stamped)
	return nil
}

// Subscribe returns an ordered stream for one scan, first replaying buffered
// events with sequence numbers greater than fromSeq, then delivering live
// events. The channel closes after a terminal-phase event or when ctx is done.
func (p *Publisher) Subscribe(ctx context.Context, scanID uuid.UUID, fromSeq int64) (<-chan scanning.ProgressEvent, error) {
	_, span := p.tracer.Start(ctx, "progress.subscribe",
		trace.WithAttributes(
			attribute.String("scan_id", scanID.String()),
			attribute.Int64("from_seq", fromSeq),
		),
	)
	defer span.End()

	p.mu.Lock()
	st := p.ensureStreamLocked(scanID)

	var replay []scanning.ProgressEvent
	for _, evt := range st.buf {
		if evt.Seq() > fromSeq {
			replay = append(replay, evt)
		}
	}

	ch := make(chan scanning.ProgressEvent, p.bufSize+len(replay))
	for _, evt := range replay {
		ch <- evt
	}

	if st.terminal {
		close(ch)
		p.mu.Unlock()
		span.AddEvent("replayed_terminal_stream",
			trace.WithAttributes(attribute.Int("replayed", len(replay))))
		return ch, nil
	}

	id := st.nextSub
	st.nextSub++
	st.subs[id] = ch
	p.mu.Unlock()

	// Detach the subscriber when its context ends before the stream does.
	go func() {
		<-ctx.Done()
		p.mu.Lock()
		if cur, ok := st.subs[id]; ok && cur == ch {
			close(ch)
			delete(st.subs, id)
		}
		p.mu.Unlock()
	}()

	span.AddEvent("subscribed",
		trace.WithAttributes(attribute.Int("replayed", len(replay))))
	return ch, nil
}

func (p *Publisher) ensureStreamLocked(scanID uuid.UUID) *stream {
	st, ok := p.streams[scanID]
	if !ok {
		st = &stream{subs: make(map[int]chan scanning.ProgressEvent)}
		p.streams[scanID] = st
	}
	return st
}

// retireStreamLocked tracks terminal streams in finish order and evicts the
// oldest beyond the retention bound.
func (p *Publisher) retireStreamLocked(scanID uuid.UUID) {
	p.terminalOrder = append(p.terminalOrder, scanID)
	for len(p.terminalOrder) > p.maxTerminal {
		oldest := p.terminalOrder[0]
		p.terminalOrder = p.terminalOrder[1:]
		delete(p.streams, oldest)
	}
}

func (p *Publisher) relayEvent(ctx context.Context, evt scanning.ProgressEvent) {
	if p.relay == nil || evt.IsHeartbeat() {
		return
	}
	err := p.relay.PublishDomainEvent(ctx, scanning.NewScanProgressedEvent(evt),
		events.WithKey(evt.ScanID().String()))
	if err != nil {
		p.logger.Warn(ctx, "Failed to relay progress event",
			"error", err, "scan_id", evt.ScanID(), "seq", evt.Seq())
	}
}
