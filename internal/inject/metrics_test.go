package inject

import (
	"testing"
	"time"
)

func TestPrometheusMetricsRecordWithoutPanic(t *testing.T) {
	m := NewFilterMetrics()

	m.RecordTriggered()
	m.RecordRPCResult("local.any", 5*time.Millisecond)
	m.RecordRPCFailure(10 * time.Millisecond)
	m.RecordAbort()
}
