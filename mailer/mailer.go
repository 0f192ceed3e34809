// Package mailer is the email bridge. It turns extracted email content into
// a MIME message sent from the phone number's alias address and hands it
// to a Deliverer.
package mailer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dhcgn/sms-bridge/bridge"
	"github.com/dhcgn/sms-bridge/content"
	"github.com/dhcgn/sms-bridge/model"
)

var (
	ErrNoRecipients   = errors.New("mailer: message has no recipients")
	ErrInvalidSender  = errors.New("mailer: sender phone number has no digits")
	ErrUnexpectedType = errors.New("mailer: content is not an email")
)

// Deliverer stores or submits a composed message.
type Deliverer interface {
	Deliver(ctx context.Context, msg model.Message) error
}

// Options configure the alias address and delivery.
type Options struct {
	AliasDomain string
	AliasPrefix string
	AliasSuffix string
}

// Mailer implements bridge.Publisher for the email bridge.
type Mailer struct {
	opts      Options
	deliverer Deliverer
	logger    *slog.Logger
	now       func() time.Time
}

var _ bridge.Publisher = (*Mailer)(nil)

func New(opts Options, deliverer Deliverer, logger *slog.Logger) (*Mailer, error) {
	if strings.TrimSpace(opts.AliasDomain) == "" {
		return nil, fmt.Errorf("alias domain is empty")
	}
	if deliverer == nil {
		return nil, fmt.Errorf("deliverer must not be nil")
	}
	return &Mailer{opts: opts, deliverer: deliverer, logger: logger, now: time.Now}, nil
}

// AliasAddress maps a phone number to its relay address, e.g.
// "+237123456789" to "237123456789@relaysms.me".
func (m *Mailer) AliasAddress(phoneNumber string) (string, error) {
	var digits strings.Builder
	for _, r := range phoneNumber {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	if digits.Len() == 0 {
		return "", ErrInvalidSender
	}
	return m.opts.AliasPrefix + digits.String() + m.opts.AliasSuffix + "@" + m.opts.AliasDomain, nil
}

func (m *Mailer) Publish(ctx context.Context, c content.Content, sender bridge.Sender) (bridge.Result, error) {
	email, ok := c.(content.Email)
	if !ok {
		return bridge.Result{}, fmt.Errorf("%w: %T", ErrUnexpectedType, c)
	}

	from, err := m.AliasAddress(sender.PhoneNumber)
	if err != nil {
		return bridge.Result{}, err
	}

	now := m.now()
	id, raw, err := Compose(Draft{From: from, Email: email, Language: sender.Language, Date: now})
	if err != nil {
		return bridge.Result{}, err
	}

	msg := model.Message{ID: id, From: from, CreatedAt: now, Raw: raw}
	if err := m.deliverer.Deliver(ctx, msg); err != nil {
		return bridge.Result{}, fmt.Errorf("deliver message %s: %w", id, err)
	}

	if m.logger != nil {
		m.logger.Debug("email published", "messageID", id, "from", from, "recipients", len(email.Recipients()), "image", len(email.Image) > 0)
	}
	return bridge.Result{Success: true, Message: "Successfully sent email"}, nil
}
