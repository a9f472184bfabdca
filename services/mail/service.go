package mail

import (
	"context"
	"fmt"
	"time"

	"github.com/tech-arch1tect/authkit/config"
	"github.com/tech-arch1tect/authkit/services/logging"
	"github.com/wneessen/go-mail"
	"go.uber.org/zap"
)

// Sender delivers a plain-text message.
type Sender interface {
	SendPlain(ctx context.Context, to []string, subject, body string) error
}

type Service struct {
	config *config.MailConfig
	client *mail.Client
	logger *logging.Service
}

func NewService(cfg *config.MailConfig, logger *logging.Service) (*Service, error) {
	logger = logger.Named("mail")

	if cfg.FromAddress == "" {
		return nil, fmt.Errorf("MAIL_FROM_ADDRESS is required")
	}

	clientOpts := []mail.Option{
		mail.WithPort(cfg.Port),
	}
	if cfg.Timeout > 0 {
		clientOpts = append(clientOpts, mail.WithTimeout(cfg.Timeout))
	}

	switch cfg.Encryption {
	case "ssl":
		clientOpts = append(clientOpts, mail.WithSSL())
	case "none":
		clientOpts = append(clientOpts, mail.WithTLSPortPolicy(mail.NoTLS))
	default:
		clientOpts = append(clientOpts, mail.WithTLSPortPolicy(mail.TLSMandatory))
	}

	if cfg.Username != "" {
		clientOpts = append(clientOpts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.Username),
			mail.WithPassword(cfg.Password))
	}

	client, err := mail.NewClient(cfg.Host, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create mail client: %w", err)
	}

	logger.Info("mail service initialized",
		zap.String("host", cfg.Host),
		zap.Int("port", cfg.Port),
		zap.String("encryption", cfg.Encryption))

	return &Service{config: cfg, client: client, logger: logger}, nil
}

func (s *Service) NewMessage() (*mail.Msg, error) {
	message := mail.NewMsg()

	from := s.config.FromAddress
	if s.config.FromName != "" {
		from = fmt.Sprintf("%s <%s>", s.config.FromName, s.config.FromAddress)
	}
	if err := message.From(from); err != nil {
		return nil, fmt.Errorf("invalid from address: %w", err)
	}
	return message, nil
}

func (s *Service) Send(ctx context.Context, message *mail.Msg) error {
	start := time.Now()
	if err := s.client.DialAndSendWithContext(ctx, message); err != nil {
		s.logger.Error("failed to send email", zap.Error(err), zap.Duration("attempt_duration", time.Since(start)))
		return err
	}
	s.logger.Debug("email sent", zap.Duration("send_duration", time.Since(start)))
	return nil
}

func (s *Service) SendPlain(ctx context.Context, to []string, subject, body string) error {
	message, err := s.plainMessage(to, subject, body)
	if err != nil {
		return err
	}
	return s.Send(ctx, message)
}

func (s *Service) plainMessage(to []string, subject, body string) (*mail.Msg, error) {
	message, err := s.NewMessage()
	if err != nil {
		return nil, err
	}
	if err := message.To(to...); err != nil {
		return nil, fmt.Errorf("failed to set TO addresses: %w", err)
	}
	message.Subject(subject)
	message.SetBodyString(mail.TypeTextPlain, body)
	return message, nil
}
