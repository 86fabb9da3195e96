// Package mail delivers expiry notifications through Amazon SES or, when
// mail is not configured, to the application log.
package mail

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"

	"github.com/warp/insurance-tracker/config"
	"github.com/warp/insurance-tracker/insurance"
	"github.com/warp/insurance-tracker/logger"
	"github.com/warp/insurance-tracker/notify"
)

// Message is a rendered plain-text email.
type Message struct {
	Subject string
	Body    string
	Link    string
}

// StageLabel is the human label used in subjects and bodies.
func StageLabel(stage insurance.Stage) string {
	switch stage {
	case insurance.StageFirst:
		return "Reminder"
	case insurance.StageFollowUp:
		return "Follow-up"
	default:
		return "Deadline!"
	}
}

// Render builds the email for n. appURL is the frontend base URL.
func Render(n notify.Notification, appURL string) Message {
	label := StageLabel(n.Stage)
	link := strings.TrimRight(appURL, "/") + "/assets/" + n.AssetID
	body := strings.Join([]string{
		fmt.Sprintf("%s: policy expires %s", label, n.EndDate.String()),
		"Asset: " + n.AssetName,
		"Link: " + link,
	}, "\n")

	return Message{
		Subject: fmt.Sprintf("[InsureGuard] %s - %s", label, n.AssetName),
		Body:    body,
		Link:    link,
	}
}

// =============================================================================
// SES
// =============================================================================

// SESAPI is the part of the SES client the mailer uses.
type SESAPI interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

// SESMailer sends notifications with Amazon SES.
type SESMailer struct {
	Client SESAPI
	From   string
	AppURL string
}

var _ notify.Mailer = (*SESMailer)(nil)

// NewSESMailer loads the default AWS configuration for region.
func NewSESMailer(ctx context.Context, region, from, appURL string) (*SESMailer, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &SESMailer{Client: ses.NewFromConfig(cfg), From: from, AppURL: appURL}, nil
}

func (m *SESMailer) SendNotification(ctx context.Context, n notify.Notification) error {
	msg := Render(n, m.AppURL)
	input := &ses.SendEmailInput{
		Destination: &types.Destination{
			ToAddresses: []string{n.To},
		},
		Message: &types.Message{
			Subject: &types.Content{
				Data:    aws.String(msg.Subject),
				Charset: aws.String("UTF-8"),
			},
			Body: &types.Body{
				Text: &types.Content{
					Data:    aws.String(msg.Body),
					Charset: aws.String("UTF-8"),
				},
			},
		},
		Source: aws.String(m.From),
	}

	if _, err := m.Client.SendEmail(ctx, input); err != nil {
		return fmt.Errorf("ses send email: %w", err)
	}
	return nil
}

// =============================================================================
// LOG
// =============================================================================

// LogMailer records notifications in the log instead of sending them.
type LogMailer struct {
	Logger logger.Logger
	AppURL string
}

var _ notify.Mailer = (*LogMailer)(nil)

func (m *LogMailer) SendNotification(_ context.Context, n notify.Notification) error {
	msg := Render(n, m.AppURL)
	m.Logger.Warn("mail not configured, notification logged instead", map[string]interface{}{
		"to":       n.To,
		"asset_id": n.AssetID,
		"stage":    string(n.Stage),
		"subject":  msg.Subject,
		"link":     msg.Link,
	})
	return nil
}

// New selects the mailer for cfg.Provider.
func New(ctx context.Context, cfg config.MailConfig, log logger.Logger) (notify.Mailer, error) {
	switch cfg.Provider {
	case "ses":
		return NewSESMailer(ctx, cfg.AWSRegion, cfg.From, cfg.AppURL)
	case "", "log":
		return &LogMailer{Logger: log, AppURL: cfg.AppURL}, nil
	default:
		return nil, fmt.Errorf("unknown mail provider %q", cfg.Provider)
	}
}
