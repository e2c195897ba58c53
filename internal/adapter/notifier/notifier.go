package notifier

import (
	"context"

	"github.com/semmidev/markavault/internal/domain"
)

type Logger interface {
	Infof(template string, args ...interface{})
	Warnf(template string, args ...interface{})
	Errorf(template string, args ...interface{})
}

// Log writes every event to the application log.
type Log struct {
	logger Logger
}

func NewLog(logger Logger) *Log {
	return &Log{logger: logger}
}

func (l *Log) Notify(_ context.Context, ev domain.Event) error {
	switch {
	case !ev.Success:
		l.logger.Errorf("[notify] %s failed: %s", ev.Operation, ev.Detail)
	case ev.Warning:
		l.logger.Warnf("[notify] %s completed with warnings: %s", ev.Operation, ev.Detail)
	default:
		l.logger.Infof("[notify] %s completed: %s", ev.Operation, ev.Detail)
	}
	return nil
}

// Multi delivers to every notifier. A failing notifier never stops the
// others; errors are logged and not returned.
type Multi struct {
	notifiers []domain.Notifier
	logger    Logger
}

func NewMulti(logger Logger, notifiers ...domain.Notifier) *Multi {
	return &Multi{notifiers: notifiers, logger: logger}
}

func (m *Multi) Notify(ctx context.Context, ev domain.Event) error {
	for i, n := range m.notifiers {
		if err := n.Notify(ctx, ev); err != nil {
			m.logger.Warnf("[notify] notifier %d (%T) failed: %v", i, n, err)
		}
	}
	return nil
}
