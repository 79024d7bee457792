package notification

import (
	"context"
	"fmt"

	"gopkg.in/gomail.v2"

	"github.com/medsolicita/case-api/internal/config"
	"github.com/medsolicita/case-api/internal/model"
)

// Sender delivers composed messages. *gomail.Dialer satisfies it.
type Sender interface {
	DialAndSend(m ...*gomail.Message) error
}

// Service emails patients about case lifecycle changes.
type Service struct {
	sender Sender
	from   string
}

func NewService(cfg config.SMTPConfig) *Service {
	return &Service{
		sender: gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
		from:   cfg.From,
	}
}

// NewServiceWithSender is used by tests to inject a fake sender.
func NewServiceWithSender(sender Sender, from string) *Service {
	return &Service{sender: sender, from: from}
}

func (s *Service) CasePaid(ctx context.Context, c *model.Case, patient *model.User) error {
	subject := fmt.Sprintf("Pagamento confirmado - Solicitação #%s", c.ID)
	body := fmt.Sprintf(
		"Olá %s,\n\nO pagamento da sua solicitação (%s) foi confirmado. "+
			"Um médico irá analisá-la em breve.\n",
		patient.FullName, c.RequestType)
	return s.send(patient.Email, subject, body)
}

func (s *Service) CaseSigned(ctx context.Context, c *model.Case, patient *model.User) error {
	subject := fmt.Sprintf("Documento emitido - Solicitação #%s", c.ID)
	body := fmt.Sprintf(
		"Olá %s,\n\nSua solicitação (%s) foi aprovada e o documento assinado "+
			"já está disponível para download.\n",
		patient.FullName, c.RequestType)
	return s.send(patient.Email, subject, body)
}

func (s *Service) CaseRejected(ctx context.Context, c *model.Case, patient *model.User, reason string) error {
	subject := fmt.Sprintf("Solicitação recusada - #%s", c.ID)
	body := fmt.Sprintf(
		"Olá %s,\n\nSua solicitação (%s) foi recusada.\nMotivo: %s\n",
		patient.FullName, c.RequestType, reason)
	return s.send(patient.Email, subject, body)
}

func (s *Service) send(to, subject, body string) error {
	m := gomail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)
	m.SetBody("text/plain", body)

	if err := s.sender.DialAndSend(m); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	return nil
}
