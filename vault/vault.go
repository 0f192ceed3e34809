// Package vault talks to the service that owns subscriber keys. It decrypts
// payload ciphertext and registers the bridge entity of a phone number.
package vault

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrDecryptionFailed = errors.New("vault: decryption failed")
	ErrNotSupported     = errors.New("vault: operation not supported")
)

// Decrypted is the vault's answer to a decryption request.
type Decrypted struct {
	Plaintext   []byte
	CountryCode string
	Success     bool
	Message     string
}

// Registration creates or authenticates the bridge entity of a phone number.
type Registration struct {
	PhoneNumber      string
	CountryCode      string
	PublicKey        []byte
	OwnershipProof   string
	ServerKeyID      int
	ServerKeyVersion string
	Language         string
}

// Result is the vault's answer to a registration.
type Result struct {
	Success bool
	Message string
}

// Decrypter decrypts payload ciphertext for a subscriber.
type Decrypter interface {
	Decrypt(ctx context.Context, phoneNumber string, ciphertext []byte) (Decrypted, error)
}

// Registrar registers bridge entities.
type Registrar interface {
	Register(ctx context.Context, reg Registration) (Result, error)
}

// RemoteError carries the status and detail returned by the vault.
type RemoteError struct {
	Code   int
	Detail string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("vault: %s -- %d", e.Detail, e.Code)
}

// ClientSide reports whether the vault rejected the request itself rather
// than failing internally.
func (e *RemoteError) ClientSide() bool {
	return e.Code >= 400 && e.Code < 500
}
