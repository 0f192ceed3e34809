package model

import (
	"crypto/sha256"
	"encoding/base64"
	"strings"
	"time"
)

// Request is a single publish request relayed by an SMS gateway.
type Request struct {
	ID            string    `json:"id"`
	PhoneNumber   string    `json:"phone_number"`
	Content       string    `json:"content"`
	ImageLength   int       `json:"image_length,omitempty"`
	GatewayClient string    `json:"gateway_client,omitempty"`
	ReceivedAt    time.Time `json:"received_at,omitempty"`
	Hash          string    `json:"-"`
}

// Inbound wraps a request alongside an optional error encountered while reading it.
type Inbound struct {
	Request Request
	Err     error
}

// Message is a composed outbound message ready for delivery.
type Message struct {
	ID        string
	From      string
	CreatedAt time.Time
	Raw       []byte
}

type Status string

const (
	StatusPublished  Status = "published"
	StatusRegistered Status = "registered"
	StatusFailed     Status = "failed"
)

// Publication records the outcome of one request.
type Publication struct {
	RequestID     string    `json:"request_id"`
	Hash          string    `json:"hash"`
	PlatformName  string    `json:"platform_name,omitempty"`
	Source        string    `json:"source"`
	Status        Status    `json:"status"`
	CountryCode   string    `json:"country_code,omitempty"`
	GatewayClient string    `json:"gateway_client,omitempty"`
	Detail        string    `json:"detail,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// Done reports whether the request needs no further processing.
func (p Publication) Done() bool {
	return p.Status == StatusPublished || p.Status == StatusRegistered
}

// RequestHash identifies a request by sender and content so gateway
// redeliveries can be recognised.
func RequestHash(phoneNumber, content string) string {
	sum := sha256.Sum256([]byte(phoneNumber + "\x00" + content))
	return base64.StdEncoding.EncodeToString(sum[:])
}

// MaskPhoneNumber replaces all but the last three characters with '*'.
func MaskPhoneNumber(value string) string {
	if len(value) <= 3 {
		return value
	}
	return strings.Repeat("*", len(value)-3) + value[len(value)-3:]
}
