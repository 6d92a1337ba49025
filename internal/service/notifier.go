package service

import "context"

const (
	TemplateActivation    = "activation"
	TemplatePasswordReset = "password-reset"
)

// Notifier renders a template with data and queues delivery to recipient.
type Notifier interface {
	Send(ctx context.Context, template string, data map[string]any, recipient string) error
}
