package mailer

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/emersion/go-message/mail"

	"github.com/dhcgn/sms-bridge/bridge"
	"github.com/dhcgn/sms-bridge/content"
	"github.com/dhcgn/sms-bridge/model"
)

type memoryDeliverer struct {
	mu       sync.Mutex
	messages []model.Message
	err      error
}

func (m *memoryDeliverer) Deliver(ctx context.Context, msg model.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.messages = append(m.messages, msg)
	return nil
}

func TestAliasAddress(t *testing.T) {
	m, err := New(Options{AliasDomain: "relaysms.me", AliasSuffix: "_sms"}, &memoryDeliverer{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	got, err := m.AliasAddress("+237 123-456-789")
	if err != nil {
		t.Fatalf("AliasAddress() error = %v", err)
	}
	if got != "237123456789_sms@relaysms.me" {
		t.Errorf("AliasAddress() = %q", got)
	}
	if _, err := m.AliasAddress("+"); !errors.Is(err, ErrInvalidSender) {
		t.Errorf("AliasAddress(+) error = %v, want ErrInvalidSender", err)
	}
}

func TestPublish_ComposesMessage(t *testing.T) {
	deliverer := &memoryDeliverer{}
	m, err := New(Options{AliasDomain: "relaysms.me"}, deliverer, nil)
	if err != nil {
		t.Fatal(err)
	}
	m.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }

	png := append([]byte("\x89PNG\r\n\x1a\n"), bytes.Repeat([]byte{0}, 16)...)
	email := content.Email{
		To:      "alice@example.com",
		Cc:      "bob@example.com, carol@example.com",
		Bcc:     "",
		Subject: "Hello",
		Body:    "Sent from a feature phone",
		Image:   png,
	}

	res, err := m.Publish(context.Background(), email, bridge.Sender{PhoneNumber: "+15550001", Language: "fr"})
	if err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if !res.Success {
		t.Errorf("Publish() result = %+v", res)
	}
	if len(deliverer.messages) != 1 {
		t.Fatalf("delivered %d messages, want 1", len(deliverer.messages))
	}
	msg := deliverer.messages[0]
	if msg.From != "15550001@relaysms.me" {
		t.Errorf("From = %q", msg.From)
	}

	mr, err := mail.CreateReader(bytes.NewReader(msg.Raw))
	if err != nil {
		t.Fatalf("CreateReader() error = %v", err)
	}
	subject, err := mr.Header.Subject()
	if err != nil || subject != "Hello" {
		t.Errorf("Subject = %q, %v", subject, err)
	}
	cc, err := mr.Header.AddressList("Cc")
	if err != nil || len(cc) != 2 {
		t.Errorf("Cc = %v, %v", cc, err)
	}
	if got := mr.Header.Get(LanguageHeader); got != "fr" {
		t.Errorf("%s = %q, want fr", LanguageHeader, got)
	}

	var body string
	var attachment []byte
	var filename string
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("NextPart() error = %v", err)
		}
		data, _ := io.ReadAll(part.Body)
		switch h := part.Header.(type) {
		case *mail.InlineHeader:
			body = string(data)
		case *mail.AttachmentHeader:
			attachment = data
			filename, _ = h.Filename()
		}
	}
	if body != email.Body {
		t.Errorf("body = %q, want %q", body, email.Body)
	}
	if !bytes.Equal(attachment, png) {
		t.Errorf("attachment = %x, want %x", attachment, png)
	}
	if filename != "image.png" {
		t.Errorf("filename = %q, want image.png", filename)
	}
}

func TestPublish_Errors(t *testing.T) {
	deliverer := &memoryDeliverer{}
	m, err := New(Options{AliasDomain: "relaysms.me"}, deliverer, nil)
	if err != nil {
		t.Fatal(err)
	}
	sender := bridge.Sender{PhoneNumber: "+15550001"}

	if _, err := m.Publish(context.Background(), content.Email{Subject: "x"}, sender); !errors.Is(err, ErrNoRecipients) {
		t.Errorf("Publish(no recipients) error = %v, want ErrNoRecipients", err)
	}
	if _, err := m.Publish(context.Background(), content.Email{To: "not an address"}, sender); err == nil {
		t.Error("Publish(bad address) error = nil")
	}

	deliverer.err = errors.New("mailbox full")
	_, err = m.Publish(context.Background(), content.Email{To: "a@example.com"}, sender)
	if err == nil || !strings.Contains(err.Error(), "mailbox full") {
		t.Errorf("Publish() error = %v, want delivery error", err)
	}
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(Options{}, &memoryDeliverer{}, nil); err == nil {
		t.Error("New() without domain error = nil")
	}
	if _, err := New(Options{AliasDomain: "x"}, nil, nil); err == nil {
		t.Error("New() without deliverer error = nil")
	}
}

func TestFanout(t *testing.T) {
	first, second := &memoryDeliverer{}, &memoryDeliverer{}
	msg := model.Message{ID: "m1"}
	if err := (Fanout{first, DryRun{}, second}).Deliver(context.Background(), msg); err != nil {
		t.Fatalf("Deliver() error = %v", err)
	}
	if len(first.messages) != 1 || len(second.messages) != 1 {
		t.Errorf("delivered %d/%d, want 1/1", len(first.messages), len(second.messages))
	}

	first.err = errors.New("disk full")
	if err := (Fanout{first, second}).Deliver(context.Background(), msg); err == nil {
		t.Error("Deliver() error = nil, want first error")
	}
	if len(second.messages) != 1 {
		t.Error("second deliverer called after first failed")
	}

	if err := (Fanout{}).Deliver(context.Background(), msg); err == nil {
		t.Error("empty Fanout Deliver() error = nil")
	}
}
