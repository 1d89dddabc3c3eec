// Package serialization converts event envelopes to and from the JSON wire
// format used on the message broker. Domain event payloads with unexported
// fields are mapped through explicit wire structs so the on-wire schema stays
// stable independent of the domain types.
package serialization

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ahrav/scanforge/internal/domain/events"
	"github.com/ahrav/scanforge/internal/domain/scanning"
)

// wireEnvelope is the broker-level message schema.
type wireEnvelope struct {
	Type      string            `json:"type"`
	Key       string            `json:"key,omitempty"`
	Headers   map[string]string `json:"headers,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
	Payload   json.RawMessage   `json:"payload"`
}

// wireProgress carries scanning.ProgressEvent across process boundaries.
type wireProgress struct {
	ScanID    uuid.UUID `json:"scan_id"`
	Seq       int64     `json:"seq"`
	Phase     string    `json:"phase"`
	Percent   int       `json:"percent"`
	Message   string    `json:"message"`
	Heartbeat bool      `json:"heartbeat"`
	Timestamp time.Time `json:"timestamp"`
}

type wireScanProgressed struct {
	OccurredAt time.Time    `json:"occurred_at"`
	Progress   wireProgress `json:"progress"`
}

type wireScanCompleted struct {
	OccurredAt    time.Time     `json:"occurred_at"`
	ScanID        uuid.UUID     `json:"scan_id"`
	TenantID      string        `json:"tenant_id"`
	FindingsCount int           `json:"findings_count"`
	Duration      time.Duration `json:"duration"`
}

type wireScanFailed struct {
	OccurredAt time.Time `json:"occurred_at"`
	ScanID     uuid.UUID `json:"scan_id"`
	TenantID   string    `json:"tenant_id"`
	Reason     string    `json:"reason"`
	Message    string    `json:"message"`
}

type wireScanCancelled struct {
	OccurredAt time.Time `json:"occurred_at"`
	ScanID     uuid.UUID `json:"scan_id"`
	TenantID   string    `json:"tenant_id"`
}

// Serialize converts an envelope to its broker wire format.
func Serialize(evt events.EventEnvelope) ([]byte, error) {
	payload, err := marshalPayload(evt)
	if err != nil {
		return nil, err
	}
	return json.Marshal(wireEnvelope{
		Type:      string(evt.Type),
		Key:       evt.Key,
		Headers:   evt.Headers,
		Timestamp: evt.Timestamp,
		Payload:   payload,
	})
}

// Deserialize reconstructs an envelope, including its typed domain payload,
// from the broker wire format.
func Deserialize(data []byte) (events.EventEnvelope, error) {
	var wire wireEnvelope
	if err := json.Unmarshal(data, &wire); err != nil {
		return events.EventEnvelope{}, fmt.Errorf("unmarshal envelope: %w", err)
	}

	payload, err := unmarshalPayload(events.EventType(wire.Type), wire.Payload)
	if err != nil {
		return events.EventEnvelope{}, err
	}

	return events.EventEnvelope{
		Type:      events.EventType(wire.Type),
		Key:       wire.Key,
		Headers:   wire.Headers,
		Timestamp: wire.Timestamp,
		Payload:   payload,
	}, nil
}

func marshalPayload(evt events.EventEnvelope) (json.RawMessage, error) {
	switch p := evt.Payload.(type) {
	case scanning.ScanProgressedEvent:
		return json.Marshal(wireScanProgressed{
			OccurredAt: p.OccurredAt(),
			Progress:   progressToWire(p.Progress),
		})
	case scanning.ScanCompletedEvent:
		return json.Marshal(wireScanCompleted{
			OccurredAt:    p.OccurredAt(),
			ScanID:        p.ScanID,
			TenantID:      p.TenantID,
			FindingsCount: p.FindingsCount,
			Duration:      p.Duration,
		})
	case scanning.ScanFailedEvent:
		return json.Marshal(wireScanFailed{
			OccurredAt: p.OccurredAt(),
			ScanID:     p.ScanID,
			TenantID:   p.TenantID,
			Reason:     string(p.Reason),
			Message:    p.Message,
		})
	case scanning.ScanCancelledEvent:
		return json.Marshal(wireScanCancelled{
			OccurredAt: p.OccurredAt(),
			ScanID:     p.ScanID,
			TenantID:   p.TenantID,
		})
	default:
		return nil, fmt.Errorf("no serializer registered for event type %s", evt.Type)
	}
}

func unmarshalPayload(eventType events.EventType, data json.RawMessage) (any, error) {
	switch eventType {
	case scanning.EventTypeScanProgressed:
		var w wireScanProgressed
		if err := json.Unmarshal(data, &w); err != nil {
			return nil, fmt.Errorf("unmarshal %s payload: %w", eventType, err)
		}
		return scanning.NewScanProgressedEvent(progressFromWire(w.Progress)), nil
	case scanning.EventTypeScanCompleted:
		var w wireScanCompleted
		if err := json.Unmarshal(data, &w); err != nil {
			return nil, fmt.Errorf("unmarshal %s payload: %w", eventType, err)
		}
		return scanning.NewScanCompletedEvent(w.ScanID, w.TenantID, w.FindingsCount, w.Duration), nil
	case scanning.EventTypeScanFailed:
		var w wireScanFailed
		if err := json.Unmarshal(data, &w); err != nil {
			return nil, fmt.Errorf("unmarshal %s payload: %w", eventType, err)
		}
		return scanning.NewScanFailedEvent(w.ScanID, w.TenantID, scanning.FailureReason(w.Reason), w.Message), nil
	case scanning.EventTypeScanCancelled:
		var w wireScanCancelled
		if err := json.Unmarshal(data, &w); err != nil {
			return nil, fmt.Errorf("unmarshal %s payload: %w", eventType, err)
		}
		return scanning.NewScanCancelledEvent(w.ScanID, w.TenantID), nil
	default:
		return nil, fmt.Errorf("no deserializer registered for event type %s", eventType)
	}
}

func progressToWire(p scanning.ProgressEvent) wireProgress {
	return wireProgress{
		ScanID:    p.ScanID(),
		Seq:       p.Seq(),
		Phase:     p.Phase().String(),
		Percent:   p.Percent(),
		Message:   p.Message(),
		Heartbeat: p.IsHeartbeat(),
		Timestamp: p.Timestamp(),
	}
}

func progressFromWire(w wireProgress) scanning.ProgressEvent {
	if w.Heartbeat {
		return scanning.NewHeartbeatEvent(w.ScanID, 0, scanning.ParseScanPhase(w.Phase), w.Percent, w.Timestamp).WithSeq(w.Seq)
	}
	return scanning.NewProgressEvent(w.ScanID, w.Seq, scanning.ParseScanPhase(w.Phase), w.Percent, w.Message, w.Timestamp)
}
