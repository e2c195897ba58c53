package usecase

import (
	"time"
)

type Logger interface {
	Infof(template string, args ...interface{})
	Errorf(template string, args ...interface{})
	Warnf(template string, args ...interface{})
}

// Metrics receives cycle and provider outcomes. Implemented by the
// prometheus collectors; nil means no metrics.
type Metrics interface {
	SyncCycle(direction, result string)
	ProviderOp(provider, op, result string)
	ArtifactSize(bytes int64)
	LastSync(t time.Time)
	RetentionDeleted(n int)
}

type nopMetrics struct{}

func (nopMetrics) SyncCycle(string, string)          {}
func (nopMetrics) ProviderOp(string, string, string) {}
func (nopMetrics) ArtifactSize(int64)                {}
func (nopMetrics) LastSync(time.Time)                {}
func (nopMetrics) RetentionDeleted(int)              {}

func orNop(m Metrics) Metrics {
	if m == nil {
		return nopMetrics{}
	}
	return m
}

func resultLabel(err error) string {
	if err != nil {
		return "failure"
	}
	return "success"
}
