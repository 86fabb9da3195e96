package notify

import (
	"context"

	"github.com/warp/insurance-tracker/insurance"
)

// Notification is one expiry email to one recipient.
type Notification struct {
	To        string
	AssetID   string
	AssetName string
	EndDate   insurance.Date
	Stage     insurance.Stage
}

// Mailer delivers notification emails. Errors are reported per call so the
// scheduler can isolate them.
type Mailer interface {
	SendNotification(ctx context.Context, n Notification) error
}

// MailerFunc adapts a function to Mailer.
type MailerFunc func(ctx context.Context, n Notification) error

func (f MailerFunc) SendNotification(ctx context.Context, n Notification) error { return f(ctx, n) }
