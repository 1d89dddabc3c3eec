// Package findings contains the unified finding schema that heterogeneous
// tool outputs are normalized into, along with the merged report aggregate.
package findings

// Severity is the ordered severity scale findings are normalized onto:
// info < warning < error.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityError
)

// String returns the string representation of the Severity.
func (s Severity) String() string {
	switch s {
	case SeverityError:
		return "error"
	case SeverityWarning:
		return "warning"
	default:
		return "info"
	}
}

// ParseSeverity maps tool-native severity labels onto the unified scale.
// Unknown labels degrade to info rather than failing the merge.
func ParseSeverity(s string) Severity {
	switch s {
	case "error", "critical", "high", "ERROR", "CRITICAL", "HIGH":
		return SeverityError
	case "warning", "medium", "WARNING", "MEDIUM", "moderate":
		return SeverityWarning
	default:
		return SeverityInfo
	}
}

// MarshalText implements encoding.TextMarshaler for JSON/YAML output.
func (s Severity) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Severity) UnmarshalText(b []byte) error {
	*s = ParseSeverity(string(b))
	return nil
}
