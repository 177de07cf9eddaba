package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
	"github.com/bulwark-auth/bulwark/internal/models"
)

// EmailService defines the out-of-band delivery channel: step-up codes to
// users, escalated alerts to the operator, login notifications.
type EmailService interface {
	SendDeviceCode(ctx context.Context, email, code string, expiresAt time.Time) error
	SendSecurityAlert(ctx context.Context, to string, event *models.SecurityEvent, geo GeoLocation, hitCount int64) error
	SendLoginNotification(ctx context.Context, email, ipAddress string, at time.Time) error
}

// AWSSESEmailService sends emails using AWS SES
type AWSSESEmailService struct {
	sesClient   *ses.Client
	fromAddress string
	logger      *slog.Logger
}

// NewAWSSESEmailService creates a new AWS SES email service
func NewAWSSESEmailService(region, fromAddress string, logger *slog.Logger) (*AWSSESEmailService, error) {
	cfg, err := config.LoadDefaultConfig(context.Background(), config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &AWSSESEmailService{
		sesClient:   ses.NewFromConfig(cfg),
		fromAddress: fromAddress,
		logger:      logger,
	}, nil
}

// SendDeviceCode delivers a step-up verification code.
func (s *AWSSESEmailService) SendDeviceCode(ctx context.Context, email, code string, expiresAt time.Time) error {
	minutes := int(time.Until(expiresAt).Round(time.Minute).Minutes())

	htmlBody := fmt.Sprintf(`
<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif; color: #333;">
    <div style="max-width: 600px; margin: 0 auto; padding: 20px;">
        <h1 style="background-color: #f8f9fa; padding: 20px; text-align: center;">Your Verification Code</h1>
        <p>A sign-in from a new device requires verification. Enter this code to continue:</p>
        <p style="font-size: 32px; letter-spacing: 8px; text-align: center; font-weight: bold;">%s</p>
        <p>The code expires in %d minutes.</p>
        <p><strong>Didn't try to sign in?</strong> Someone may have your password. Change it now.</p>
    </div>
</body>
</html>
`, code, minutes)

	textBody := fmt.Sprintf(`Your Verification Code

A sign-in from a new device requires verification. Enter this code to continue:

%s

The code expires in %d minutes.

Didn't try to sign in? Someone may have your password. Change it now.
`, code, minutes)

	return s.send(ctx, email, "Your verification code", htmlBody, textBody)
}

// SendSecurityAlert notifies the operator of an escalated abuse burst.
func (s *AWSSESEmailService) SendSecurityAlert(ctx context.Context, to string, event *models.SecurityEvent, geo GeoLocation, hitCount int64) error {
	subject := fmt.Sprintf("Security alert: %s from %s", event.EventType, event.IPAddress)

	htmlBody := fmt.Sprintf(`
<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif; color: #333;">
    <div style="max-width: 600px; margin: 0 auto; padding: 20px;">
        <h1 style="background-color: #fff3cd; padding: 20px;">Security Alert</h1>
        <table cellpadding="6">
            <tr><td><strong>Event type</strong></td><td>%s</td></tr>
            <tr><td><strong>Description</strong></td><td>%s</td></tr>
            <tr><td><strong>IP address</strong></td><td>%s</td></tr>
            <tr><td><strong>Actor</strong></td><td>%s</td></tr>
            <tr><td><strong>Hits this window</strong></td><td>%d</td></tr>
            <tr><td><strong>Location</strong></td><td>%s, %s (%s)</td></tr>
        </table>
        <p>This alert fires once per burst; further hits in the same window are suppressed.</p>
    </div>
</body>
</html>
`, event.EventType, event.Description, event.IPAddress, event.ActorEmail, hitCount, geo.City, geo.Country, geo.ISP)

	textBody := fmt.Sprintf(`Security Alert

Event type:  %s
Description: %s
IP address:  %s
Actor:       %s
Hits:        %d
Location:    %s, %s (%s)

This alert fires once per burst; further hits in the same window are suppressed.
`, event.EventType, event.Description, event.IPAddress, event.ActorEmail, hitCount, geo.City, geo.Country, geo.ISP)

	return s.send(ctx, to, subject, htmlBody, textBody)
}

// SendLoginNotification tells a user about a completed sign-in.
func (s *AWSSESEmailService) SendLoginNotification(ctx context.Context, email, ipAddress string, at time.Time) error {
	when := at.UTC().Format(time.RFC1123)

	htmlBody := fmt.Sprintf(`
<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif; color: #333;">
    <div style="max-width: 600px; margin: 0 auto; padding: 20px;">
        <h1 style="background-color: #f8f9fa; padding: 20px;">New Sign-In</h1>
        <p>Your account was signed in to at %s from IP address %s.</p>
        <p>If this was you, no action is needed. If not, change your password immediately.</p>
    </div>
</body>
</html>
`, when, ipAddress)

	textBody := fmt.Sprintf(`New Sign-In

Your account was signed in to at %s from IP address %s.

If this was you, no action is needed. If not, change your password immediately.
`, when, ipAddress)

	return s.send(ctx, email, "New sign-in to your account", htmlBody, textBody)
}

func (s *AWSSESEmailService) send(ctx context.Context, to, subject, htmlBody, textBody string) error {
	input := &ses.SendEmailInput{
		Source: aws.String(s.fromAddress),
		Destination: &types.Destination{
			ToAddresses: []string{to},
		},
		Message: &types.Message{
			Subject: &types.Content{
				Data: aws.String(subject),
			},
			Body: &types.Body{
				Html: &types.Content{
					Data: aws.String(htmlBody),
				},
				Text: &types.Content{
					Data: aws.String(textBody),
				},
			},
		},
	}

	result, err := s.sesClient.SendEmail(ctx, input)
	if err != nil {
		s.logger.Error("failed to send email via SES",
			slog.String("subject", subject),
			slog.Any("error", err))
		return fmt.Errorf("failed to send email: %w", err)
	}

	s.logger.Info("email sent",
		slog.String("subject", subject),
		slog.String("message_id", *result.MessageId))

	return nil
}
