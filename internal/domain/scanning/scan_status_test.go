package scanning

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestScanStatus_String(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		status   ScanStatus
		expected string
	}{
		{name: "queued status", status: ScanStatusQueued, expected: "QUEUED"},
		{name: "running status", status: ScanStatusRunning, expected: "RUNNING"},
		{name: "completed status", status: ScanStatusCompleted, expected: "COMPLETED"},
		{name: "failed status", status: ScanStatusFailed, expected: "FAILED"},
		{name: "cancelled status", status: ScanStatusCancelled, expected: "CANCELLED"},
		{name: "unspecified status", status: ScanStatusUnspecified, expected: "UNSPECIFIED"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.expected, tt.status.String())
		})
	}
}

func TestParseScanStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		input    string
		expected ScanStatus
	}{
		{name: "queued", input: "QUEUED", expected: ScanStatusQueued},
		{name: "running", input: "RUNNING", expected: ScanStatusRunning},
		{name: "completed", input: "COMPLETED", expected: ScanStatusCompleted},
		{name: "failed", input: "FAILED", expected: ScanStatusFailed},
		{name: "cancelled", input: "CANCELLED", expected: ScanStatusCancelled},
		{name: "unknown falls back to unspecified", input: "bogus", expected: ScanStatusUnspecified},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.expected, ParseScanStatus(tt.input))
		})
	}
}

func TestScanStatus_ValidateTransition(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		current ScanStatus
		target  ScanStatus
		wantErr bool
	}{
		{name: "queued to running", current: ScanStatusQueued, target: ScanStatusRunning, wantErr: false},
		{name: "queued to failed", current: ScanStatusQueued, target: ScanStatusFailed, wantErr: false},
		{name: "queued to cancelled", current: ScanStatusQueued, target: ScanStatusCancelled, wantErr: false},
		{name: "queued to completed skips running", current: ScanStatusQueued, target: ScanStatusCompleted, wantErr: true},
		{name: "running to completed", current: ScanStatusRunning, target: ScanStatusCompleted, wantErr: false},
		{name: "running to failed", current: ScanStatusRunning, target: ScanStatusFailed, wantErr: false},
		{name: "running to cancelled", current: ScanStatusRunning, target: ScanStatusCancelled, wantErr: false},
		{name: "running back to queued", current: ScanStatusRunning, target: ScanStatusQueued, wantErr: true},
		{name: "completed is terminal", current: ScanStatusCompleted, target: ScanStatusRunning, wantErr: true},
		{name: "failed is terminal", current: ScanStatusFailed, target: ScanStatusRunning, wantErr: true},
		{name: "cancelled is terminal", current: ScanStatusCancelled, target: ScanStatusRunning, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.current.validateTransition(tt.target)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestScanStatus_IsTerminal(t *testing.T) {
	t.Parallel()

	assert.False(t, ScanStatusQueued.IsTerminal())
	assert.False(t, ScanStatusRunning.IsTerminal())
	assert.True(t, ScanStatusCompleted.IsTerminal())
	assert.True(t, ScanStatusFailed.IsTerminal())
	assert.True(t, ScanStatusCancelled.IsTerminal())
}
