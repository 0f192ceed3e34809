package vault

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"

	"filippo.io/age"
)

// AgeDecrypter decrypts payloads locally with age X25519 identities. It is
// meant for development setups without a vault; every subscriber shares the
// same identities.
type AgeDecrypter struct {
	identities []age.Identity
}

// NewAgeDecrypter parses identities in the age key file format.
func NewAgeDecrypter(keys io.Reader) (*AgeDecrypter, error) {
	identities, err := age.ParseIdentities(keys)
	if err != nil {
		return nil, fmt.Errorf("parse age identities: %w", err)
	}
	return &AgeDecrypter{identities: identities}, nil
}

// LoadAgeDecrypter reads identities from a key file.
func LoadAgeDecrypter(path string) (*AgeDecrypter, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open age identity: %w", err)
	}
	defer file.Close()
	return NewAgeDecrypter(file)
}

func (a *AgeDecrypter) Decrypt(ctx context.Context, phoneNumber string, ciphertext []byte) (Decrypted, error) {
	if err := ctx.Err(); err != nil {
		return Decrypted{}, err
	}

	reader, err := age.Decrypt(bytes.NewReader(ciphertext), a.identities...)
	if err != nil {
		return Decrypted{Message: err.Error()}, fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	plaintext, err := io.ReadAll(reader)
	if err != nil {
		return Decrypted{Message: err.Error()}, fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}

	return Decrypted{Plaintext: plaintext, Success: true, Message: "decrypted locally"}, nil
}

// Register always fails: local identities have no entity store.
func (a *AgeDecrypter) Register(ctx context.Context, reg Registration) (Result, error) {
	return Result{}, fmt.Errorf("%w: registration requires a vault", ErrNotSupported)
}
