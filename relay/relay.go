// Package relay turns a publish request into a delivered message: it decodes
// the envelope, registers the sender when asked to, decrypts the payload,
// extracts the bridge content and hands it to the bridge's publisher.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dhcgn/sms-bridge/bridge"
	"github.com/dhcgn/sms-bridge/content"
	"github.com/dhcgn/sms-bridge/envelope"
	"github.com/dhcgn/sms-bridge/filter"
	"github.com/dhcgn/sms-bridge/model"
	"github.com/dhcgn/sms-bridge/vault"
)

// Source tags publications created from SMS requests.
const Source = "sms"

const DefaultMaxContentLength = 8192

var (
	ErrContentTooLarge         = errors.New("relay: content exceeds size limit")
	ErrEmptyContent            = errors.New("relay: content is empty")
	ErrRejected                = errors.New("relay: rejected by recipient policy")
	ErrRegistrationUnavailable = errors.New("relay: registration is not available")
	ErrRegistrationFailed      = errors.New("relay: registration failed")
)

type Options struct {
	MaxContentLength int
}

// Dependencies are the collaborators of a Service. Registrar and Policy
// may be nil.
type Dependencies struct {
	Registry   *bridge.Registry
	Decrypter  vault.Decrypter
	Registrar  vault.Registrar
	Publishers map[string]bridge.Publisher
	Policy     *filter.Filter
}

type Service struct {
	opts   Options
	deps   Dependencies
	logger *slog.Logger
	now    func() time.Time
}

func New(opts Options, deps Dependencies, logger *slog.Logger) (*Service, error) {
	if deps.Registry == nil {
		return nil, fmt.Errorf("bridge registry must not be nil")
	}
	if deps.Decrypter == nil {
		return nil, fmt.Errorf("decrypter must not be nil")
	}
	if opts.MaxContentLength <= 0 {
		opts.MaxContentLength = DefaultMaxContentLength
	}
	for _, b := range deps.Registry.Bridges() {
		if _, ok := deps.Publishers[b.Name]; !ok && logger != nil {
			logger.Warn("bridge has no publisher", "bridge", b.Name, "shortcode", b.Shortcode)
		}
	}
	return &Service{opts: opts, deps: deps, logger: logger, now: time.Now}, nil
}

// Handle processes one request. It never returns an error; the outcome is
// carried by the returned publication.
func (s *Service) Handle(ctx context.Context, req model.Request) model.Publication {
	pub, _ := s.handle(ctx, req)
	return pub
}

func (s *Service) handle(ctx context.Context, req model.Request) (model.Publication, error) {
	pub := model.Publication{
		RequestID:     req.ID,
		Hash:          req.Hash,
		Source:        Source,
		GatewayClient: req.GatewayClient,
		CreatedAt:     s.now().UTC(),
	}
	if pub.Hash == "" {
		pub.Hash = model.RequestHash(req.PhoneNumber, req.Content)
	}

	fail := func(err error) (model.Publication, error) {
		pub.Status = model.StatusFailed
		pub.Detail = Describe(err)
		if s.logger != nil {
			s.logger.Warn("request failed", "requestID", req.ID, "phone", model.MaskPhoneNumber(req.PhoneNumber), "err", err)
		}
		return pub, err
	}

	if req.Content == "" {
		return fail(ErrEmptyContent)
	}
	if len(req.Content) > s.opts.MaxContentLength {
		return fail(fmt.Errorf("%w: %d > %d bytes", ErrContentTooLarge, len(req.Content), s.opts.MaxContentLength))
	}

	env, err := envelope.Decode(req.Content)
	if err != nil {
		return fail(err)
	}

	if err := s.register(ctx, req, env); err != nil {
		return fail(err)
	}
	if !envelope.HasPayload(env) {
		pub.Status = model.StatusRegistered
		if s.logger != nil {
			s.logger.Info("sender registered", "requestID", req.ID, "phone", model.MaskPhoneNumber(req.PhoneNumber))
		}
		return pub, nil
	}

	b, err := s.deps.Registry.Lookup(envelope.BridgeLetter(env))
	if err != nil {
		return fail(err)
	}
	pub.PlatformName = b.Name

	publisher, ok := s.deps.Publishers[b.Name]
	if !ok {
		return fail(fmt.Errorf("%w for %s", bridge.ErrNoPublisher, b.Name))
	}

	decrypted, err := s.deps.Decrypter.Decrypt(ctx, req.PhoneNumber, envelope.Ciphertext(env))
	if err != nil {
		return fail(err)
	}
	if !decrypted.Success {
		return fail(fmt.Errorf("%w: %s", vault.ErrDecryptionFailed, decrypted.Message))
	}
	pub.CountryCode = decrypted.CountryCode

	header := env.Header()
	extracted, err := content.Extract(b.Name, decrypted.Plaintext, content.Options{
		Format:      s.deps.Registry.FormatFor(b, header.Version),
		ImageLength: req.ImageLength,
	})
	if err != nil {
		return fail(err)
	}

	if s.deps.Policy != nil {
		if email, ok := extracted.(content.Email); ok && !s.deps.Policy.Allows(email.Recipients(), email.Body) {
			return fail(ErrRejected)
		}
	}

	sender := bridge.Sender{
		PhoneNumber: req.PhoneNumber,
		CountryCode: decrypted.CountryCode,
		Language:    envelope.Language(env),
	}
	result, err := publisher.Publish(ctx, extracted, sender)
	if err != nil {
		return fail(fmt.Errorf("publish to %s: %w", b.Name, err))
	}
	if !result.Success {
		return fail(fmt.Errorf("publish to %s: %s", b.Name, result.Message))
	}

	pub.Status = model.StatusPublished
	pub.Detail = result.Message
	if s.logger != nil {
		s.logger.Info("content published", "requestID", req.ID, "bridge", b.Name, "version", header.Version, "phone", model.MaskPhoneNumber(req.PhoneNumber))
	}
	return pub, nil
}

func (s *Service) register(ctx context.Context, req model.Request, env envelope.Envelope) error {
	var reg vault.Registration
	switch e := env.(type) {
	case envelope.LegacyPublicKey:
		reg = vault.Registration{PublicKey: e.PublicKey}
	case envelope.LegacyAuthCode:
		reg = vault.Registration{OwnershipProof: e.AuthCode}
	case envelope.LegacyAuthCiphertext:
		reg = vault.Registration{OwnershipProof: e.AuthCode}
	case envelope.V1Registration:
		reg = vault.Registration{
			PublicKey:        e.PublicKey,
			ServerKeyID:      int(e.ServerKeyID),
			ServerKeyVersion: e.Header().Version,
			Language:         e.Language,
		}
	default:
		return nil
	}

	if s.deps.Registrar == nil {
		return ErrRegistrationUnavailable
	}
	reg.PhoneNumber = req.PhoneNumber

	res, err := s.deps.Registrar.Register(ctx, reg)
	if err != nil {
		return err
	}
	if !res.Success {
		return fmt.Errorf("%w: %s", ErrRegistrationFailed, res.Message)
	}
	return nil
}

// IsClientError reports whether err was caused by the request itself, as
// opposed to a failure of the relay or one of its backends.
func IsClientError(err error) bool {
	if err == nil {
		return false
	}
	var remote *vault.RemoteError
	if errors.As(err, &remote) {
		return remote.ClientSide()
	}
	var version *envelope.UnsupportedVersionError
	var shape *envelope.UnsupportedShapeError
	switch {
	case errors.As(err, &version), errors.As(err, &shape):
		return true
	}
	for _, target := range []error{
		ErrContentTooLarge,
		ErrEmptyContent,
		ErrRejected,
		ErrRegistrationFailed,
		envelope.ErrEncoding,
		envelope.ErrEmptyPayload,
		envelope.ErrTruncated,
		bridge.ErrUnknownBridge,
		content.ErrMalformedParts,
		vault.ErrDecryptionFailed,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// Describe returns the message recorded for a failed publication.
func Describe(err error) string {
	if err == nil {
		return ""
	}
	if IsClientError(err) {
		return err.Error()
	}
	return "internal error: " + err.Error()
}
