package email

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/wneessen/go-mail"
)

// mailClient - часть *mail.Client, которой пользуется Sender
type mailClient interface {
	DialAndSendWithContext(ctx context.Context, messages ...*mail.Msg) error
}

// Sender отправляет письма через SMTP. Каждая отправка ограничена контекстом вызова:
// зависший сервер не держит воркер диспетчера дольше дедлайна.
// Клиент держит одно соединение, поэтому воркеры получают по своему клиенту на письмо.
type Sender struct {
	from      string
	newClient func() (mailClient, error)
}

func NewSender(host string, port int, username, password, from string, timeout time.Duration) (*Sender, error) {
	const op = "email.NewSender"

	opts := []mail.Option{
		mail.WithPort(port),
		mail.WithTLSPolicy(mail.TLSOpportunistic),
	}
	if timeout > 0 {
		opts = append(opts, mail.WithTimeout(timeout))
	}
	if username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(username),
			mail.WithPassword(password),
		)
	}

	// опции проверяем сразу, чтобы ошибка конфигурации всплыла на старте
	if _, err := mail.NewClient(host, opts...); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &Sender{
		from: from,
		newClient: func() (mailClient, error) {
			c, err := mail.NewClient(host, opts...)
			if err != nil {
				return nil, err
			}
			return c, nil
		},
	}, nil
}

func (s *Sender) Send(ctx context.Context, to, subject, body string) error {
	const op = "email.Send"

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if to == "" {
		return fmt.Errorf("%s: empty recipient", op)
	}
	if strings.ContainsAny(to, "\r\n") || strings.ContainsAny(subject, "\r\n") {
		return fmt.Errorf("%s: %w", op, errHeaderInjection)
	}

	msg, err := s.buildMessage(to, subject, body)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	client, err := s.newClient()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	// клиент может не заметить отмену посреди SMTP-диалога, поэтому ждем и контекст тоже
	done := make(chan error, 1)
	go func() {
		done <- client.DialAndSendWithContext(ctx, msg)
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	}
}

var errHeaderInjection = errors.New("line breaks are not allowed in headers")

func (s *Sender) buildMessage(to, subject, body string) (*mail.Msg, error) {
	msg := mail.NewMsg()
	if err := msg.From(s.from); err != nil {
		return nil, fmt.Errorf("invalid sender: %w", err)
	}
	if err := msg.To(to); err != nil {
		return nil, fmt.Errorf("invalid recipient: %w", err)
	}
	msg.Subject(subject)
	msg.SetBodyString(mail.TypeTextPlain, body)
	return msg, nil
}
