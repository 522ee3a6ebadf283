package services

import (
	"context"
	"log"
	"sync"

	"lan-registration-platform/internal/config"
)

// MockEmailService sends through Resend when an API key is configured and
// only logs otherwise
type MockEmailService struct {
	resendService *ResendEmailService
	useResend     bool

	mu   sync.Mutex
	sent []*Mail
}

// NewMockEmailService creates a new mock email service
func NewMockEmailService(resendConfig *config.ResendConfig) *MockEmailService {
	service := &MockEmailService{
		useResend: false,
	}

	// If Resend config is provided and has API key, use Resend
	if resendConfig != nil && resendConfig.APIKey != "" {
		service.resendService = NewResendEmailService(ResendConfig{
			APIKey:    resendConfig.APIKey,
			FromEmail: resendConfig.FromEmail,
			FromName:  resendConfig.FromName,
		})
		service.useResend = true
		log.Println("Email service: Using Resend API")
	} else {
		log.Println("Email service: Using mock (no Resend API key provided)")
	}

	return service
}

// Send sends or logs a mail
func (s *MockEmailService) Send(ctx context.Context, mail *Mail) error {
	if s.useResend && s.resendService != nil {
		return s.resendService.Send(ctx, mail)
	}

	s.mu.Lock()
	s.sent = append(s.sent, mail)
	s.mu.Unlock()

	log.Printf("Mock Email: %q sent to %s (%d attachments)", mail.Subject, mail.To, len(mail.Attachments))
	for _, a := range mail.Attachments {
		log.Printf("Mock Email:   attachment %s (%d bytes)", a.Filename, len(a.Content))
	}
	return nil
}

// Sent returns the mails logged so far
func (s *MockEmailService) Sent() []*Mail {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Mail(nil), s.sent...)
}
