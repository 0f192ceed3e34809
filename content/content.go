// Package content turns decrypted payloads into bridge specific fields.
package content

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dhcgn/sms-bridge/layout"
)

// EmailBridge is the registry name of the email integration.
const EmailBridge = "email_bridge"

// Delimiter separates the parts of the delimited text form.
const Delimiter = ":"

var (
	ErrUnsupportedBridge = errors.New("content: unsupported bridge")
	ErrUnsupportedFormat = errors.New("content: unsupported format")
	ErrMalformedParts    = errors.New("content: malformed parts")
)

// Format selects the wire layout of a plaintext payload. The payload does
// not describe itself, so the caller picks the format.
type Format string

const (
	// Delimited is "to:cc:bcc:subject:body" text.
	Delimited Format = "delimited"
	// Fixed is five length-prefixed fields, all present.
	Fixed Format = "fixed"
	// Bitmap is a flags byte followed by length-prefixed fields where cc
	// and bcc are optional.
	Bitmap Format = "bitmap"
)

// ParseFormat accepts the format names used in bridge registries.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case Delimited:
		return Delimited, nil
	case Fixed:
		return Fixed, nil
	case Bitmap:
		return Bitmap, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, s)
}

// Options control extraction.
type Options struct {
	Format Format
	// ImageLength is the number of leading plaintext bytes that hold an
	// image. Only the binary formats honour it.
	ImageLength int
}

// Content is the business record produced for one bridge.
type Content interface {
	BridgeName() string
}

// Email is the content of the email bridge.
type Email struct {
	To      string
	Cc      string
	Bcc     string
	Subject string
	Body    string
	Image   []byte
}

func (Email) BridgeName() string { return EmailBridge }

// Recipients returns every address in to, cc and bcc.
func (e Email) Recipients() []string {
	var out []string
	for _, list := range []string{e.To, e.Cc, e.Bcc} {
		out = append(out, SplitAddresses(list)...)
	}
	return out
}

// SplitAddresses splits a comma separated address list, dropping blanks.
func SplitAddresses(list string) []string {
	var out []string
	for _, part := range strings.Split(list, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Extract decodes plaintext for the named bridge.
func Extract(bridgeName string, plaintext []byte, opts Options) (Content, error) {
	switch bridgeName {
	case EmailBridge:
		email, err := extractEmail(plaintext, opts)
		if err != nil {
			return nil, err
		}
		return email, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupportedBridge, bridgeName)
}

func extractEmail(plaintext []byte, opts Options) (Email, error) {
	imageLength := opts.ImageLength
	if imageLength < 0 {
		imageLength = 0
	}

	switch opts.Format {
	case Delimited:
		return extractDelimited(plaintext)
	case Fixed:
		return extractFixed(plaintext, imageLength), nil
	case Bitmap:
		return extractBitmap(plaintext, imageLength), nil
	}
	return Email{}, fmt.Errorf("%w: %q", ErrUnsupportedFormat, opts.Format)
}

func extractDelimited(plaintext []byte) (Email, error) {
	parts := strings.Split(string(plaintext), Delimiter)
	if len(parts) != 5 {
		return Email{}, fmt.Errorf("%w: got %d parts, want 5", ErrMalformedParts, len(parts))
	}
	return Email{
		To:      parts[0],
		Cc:      parts[1],
		Bcc:     parts[2],
		Subject: parts[3],
		Body:    parts[4],
		Image:   []byte{},
	}, nil
}

func extractFixed(plaintext []byte, imageLength int) Email {
	l := fixedLayout
	if imageLength > 0 {
		l = withImage(imageLength, fixedLayout)
	}
	return emailFromRecord(layout.Parse(plaintext, l, 0))
}

func extractBitmap(plaintext []byte, imageLength int) Email {
	head := layout.Parse(plaintext, headLayout(imageLength), 0)
	flags := byte(head.Int(fieldBitmap)) & (flagCc | flagBcc)

	rec := layout.Parse(plaintext, bitmapLayouts[flags], imageLength+1)
	rec[fieldImage] = head.Bytes(fieldImage)
	return emailFromRecord(rec)
}

func emailFromRecord(rec layout.Record) Email {
	image := rec.Bytes(fieldImage)
	if image == nil {
		image = []byte{}
	}
	return Email{
		To:      rec.String(fieldTo),
		Cc:      rec.String(fieldCc),
		Bcc:     rec.String(fieldBcc),
		Subject: rec.String(fieldSubject),
		Body:    rec.String(fieldBody),
		Image:   image,
	}
}
