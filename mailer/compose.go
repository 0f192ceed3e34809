package mailer

import (
	"bytes"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/google/uuid"

	"github.com/dhcgn/sms-bridge/content"
)

// LanguageHeader carries the sender's language tag when known.
const LanguageHeader = "X-Relay-Language"

// Draft is everything needed to build one message.
type Draft struct {
	From     string
	Email    content.Email
	Language string
	Date     time.Time
}

// Compose renders an RFC 5322 message. The body is sent as text/plain; an
// image, if present, becomes an attachment with a sniffed content type.
func Compose(d Draft) (id string, raw []byte, err error) {
	from, err := mail.ParseAddress(d.From)
	if err != nil {
		return "", nil, fmt.Errorf("parse from address: %w", err)
	}
	to, err := parseList(d.Email.To)
	if err != nil {
		return "", nil, fmt.Errorf("parse to: %w", err)
	}
	if len(to) == 0 {
		return "", nil, ErrNoRecipients
	}
	cc, err := parseList(d.Email.Cc)
	if err != nil {
		return "", nil, fmt.Errorf("parse cc: %w", err)
	}
	bcc, err := parseList(d.Email.Bcc)
	if err != nil {
		return "", nil, fmt.Errorf("parse bcc: %w", err)
	}

	date := d.Date
	if date.IsZero() {
		date = time.Now()
	}
	id = uuid.NewString() + "@" + domainOf(from.Address)

	var h mail.Header
	h.SetDate(date)
	h.SetAddressList("From", []*mail.Address{from})
	h.SetAddressList("To", to)
	if len(cc) > 0 {
		h.SetAddressList("Cc", cc)
	}
	if len(bcc) > 0 {
		h.SetAddressList("Bcc", bcc)
	}
	h.SetSubject(d.Email.Subject)
	h.SetMessageID(id)
	if d.Language != "" {
		h.Set(LanguageHeader, d.Language)
	}

	var buf bytes.Buffer
	mw, err := mail.CreateWriter(&buf, h)
	if err != nil {
		return "", nil, fmt.Errorf("create message: %w", err)
	}

	tw, err := mw.CreateInline()
	if err != nil {
		return "", nil, fmt.Errorf("create inline: %w", err)
	}
	var th mail.InlineHeader
	th.Set("Content-Type", "text/plain; charset=utf-8")
	pw, err := tw.CreatePart(th)
	if err != nil {
		return "", nil, fmt.Errorf("create text part: %w", err)
	}
	if _, err := pw.Write([]byte(d.Email.Body)); err != nil {
		return "", nil, fmt.Errorf("write body: %w", err)
	}
	if err := pw.Close(); err != nil {
		return "", nil, fmt.Errorf("close text part: %w", err)
	}
	if err := tw.Close(); err != nil {
		return "", nil, fmt.Errorf("close inline: %w", err)
	}

	if len(d.Email.Image) > 0 {
		contentType := http.DetectContentType(d.Email.Image)
		var ah mail.AttachmentHeader
		ah.Set("Content-Type", contentType)
		ah.SetFilename("image" + extensionFor(contentType))
		aw, err := mw.CreateAttachment(ah)
		if err != nil {
			return "", nil, fmt.Errorf("create attachment: %w", err)
		}
		if _, err := aw.Write(d.Email.Image); err != nil {
			return "", nil, fmt.Errorf("write attachment: %w", err)
		}
		if err := aw.Close(); err != nil {
			return "", nil, fmt.Errorf("close attachment: %w", err)
		}
	}

	if err := mw.Close(); err != nil {
		return "", nil, fmt.Errorf("close message: %w", err)
	}

	return id, buf.Bytes(), nil
}

func parseList(list string) ([]*mail.Address, error) {
	addresses := content.SplitAddresses(list)
	if len(addresses) == 0 {
		return nil, nil
	}
	return mail.ParseAddressList(strings.Join(addresses, ", "))
}

func domainOf(address string) string {
	if idx := strings.LastIndex(address, "@"); idx >= 0 && idx < len(address)-1 {
		return address[idx+1:]
	}
	return "localhost"
}

func extensionFor(contentType string) string {
	switch {
	case strings.HasPrefix(contentType, "image/jpeg"):
		return ".jpg"
	case strings.HasPrefix(contentType, "image/png"):
		return ".png"
	case strings.HasPrefix(contentType, "image/gif"):
		return ".gif"
	case strings.HasPrefix(contentType, "image/webp"):
		return ".webp"
	}
	return ".bin"
}
