package services

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"

	"classbell/internal/models"
)

// SendResult carries what the provider answered, for the delivery log
type SendResult struct {
	Message string
	// Detail is the raw provider payload kept alongside the log entry
	Detail json.RawMessage
}

// EmailSender delivers one reminder email. Implementations must honor the
// context deadline so a slow provider cannot stall a scheduler tick.
type EmailSender interface {
	SendReminder(ctx context.Context, toName, toEmail string, occ models.Occurrence, leadMinutes int) (SendResult, error)
}

// EmailService sends reminder emails through SendGrid
type EmailService struct {
	client    *sendgrid.Client
	fromEmail string
	fromName  string
}

// NewEmailService builds the SendGrid client from environment settings
func NewEmailService() *EmailService {
	apiKey := os.Getenv("SENDGRID_API_KEY")
	fromEmail := os.Getenv("SENDGRID_NOTIFICATIONS_FROM_EMAIL")
	fromName := os.Getenv("SENDGRID_FROM_NAME")

	client := sendgrid.NewSendClient(apiKey)

	return &EmailService{
		client:    client,
		fromEmail: fromEmail,
		fromName:  fromName,
	}
}

// SendReminder sends one class reminder email
func (s *EmailService) SendReminder(ctx context.Context, toName, toEmail string, occ models.Occurrence, leadMinutes int) (SendResult, error) {
	from := mail.NewEmail(s.fromName, s.fromEmail)
	to := mail.NewEmail(toName, toEmail)
	subject := fmt.Sprintf("Class Reminder: %s", occ.Title)

	plainContent := fmt.Sprintf("Hello %s, your class %s starts at %s in room %s. It begins in %d minutes.",
		toName, occ.Title, occ.Start.Format("Mon Jan 2, 3:04 PM"), occ.Room, leadMinutes)

	htmlContent := fmt.Sprintf("<h2>Class Reminder</h2><p><strong>Class:</strong> %s</p><p><strong>Room:</strong> %s</p><p><strong>Time:</strong> %s</p><p>This class will start in %d minutes.</p>",
		occ.Title, occ.Room, occ.Start.Format("2006-01-02 15:04"), leadMinutes)

	message := mail.NewSingleEmail(from, subject, to, plainContent, htmlContent)

	response, err := s.client.SendWithContext(ctx, message)
	if err != nil {
		return SendResult{}, err
	}
	if response.StatusCode >= 400 {
		return SendResult{}, fmt.Errorf("sendgrid rejected email to %s: %d %s", toEmail, response.StatusCode, response.Body)
	}

	detail, _ := json.Marshal(map[string]interface{}{
		"status_code": response.StatusCode,
		"body":        response.Body,
	})
	return SendResult{
		Message: fmt.Sprintf("Email accepted by provider (%d)", response.StatusCode),
		Detail:  detail,
	}, nil
}
