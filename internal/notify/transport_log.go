package notify

import (
	"context"

	"go.uber.org/zap"
)

// LogTransport writes messages to the logger instead of sending them.
// Bodies contain live codes, so they are only logged when IncludeBody is set.
type LogTransport struct {
	log         *zap.Logger
	IncludeBody bool
}

func NewLogTransport(log *zap.Logger, includeBody bool) *LogTransport {
	if log == nil {
		log = zap.NewNop()
	}
	return &LogTransport{log: log, IncludeBody: includeBody}
}

func (t *LogTransport) Name() string { return "log" }

func (t *LogTransport) Deliver(_ context.Context, m Message) error {
	fields := []zap.Field{
		zap.String("template", m.Template),
		zap.String("recipient", m.Recipient),
		zap.String("subject", m.Subject),
	}
	if t.IncludeBody {
		fields = append(fields, zap.String("body", m.HTMLBody))
	}
	t.log.Info("email", fields...)
	return nil
}
