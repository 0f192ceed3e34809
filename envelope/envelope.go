// Package envelope decodes the base64 payload carried in an SMS into a
// typed envelope.
//
// Two discriminator spaces exist. Markers 0 through 3 belong to the legacy
// family, where the first byte is itself the shape. Markers from 10 upward
// are versioned: the protocol version is the marker minus 9 and a second
// byte selects the shape within that version. Markers 4 through 9 are
// reserved and rejected.
package envelope

import (
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/dhcgn/sms-bridge/layout"
)

const (
	// VersionedMarkerMin is the smallest marker of the versioned family.
	VersionedMarkerMin = 10
	versionOffset      = 9

	// LegacyVersion tags envelopes from the legacy family.
	LegacyVersion = "v0"
)

var (
	ErrEncoding     = errors.New("envelope: invalid base64 content")
	ErrEmptyPayload = errors.New("envelope: empty payload")
	ErrTruncated    = errors.New("envelope: missing shape discriminator")
)

// UnsupportedVersionError reports a version marker with no known layouts.
type UnsupportedVersionError struct {
	Marker byte
}

func (e *UnsupportedVersionError) Error() string {
	return fmt.Sprintf("envelope: unsupported version marker: %d", e.Marker)
}

// UnsupportedShapeError reports an unknown shape within a known version.
type UnsupportedShapeError struct {
	Version string
	Shape   byte
}

func (e *UnsupportedShapeError) Error() string {
	return fmt.Sprintf("envelope: unsupported shape %d for %s", e.Shape, e.Version)
}

// Header is common to every envelope variant.
type Header struct {
	Version string
	Shape   uint8
	Fields  layout.Record
}

// Envelope is one of LegacyPublicKey, LegacyAuthCode, LegacyAuthCiphertext,
// LegacyCiphertext, V1Registration or V1Delivery.
type Envelope interface {
	Header() Header
	envelope()
}

// Decode turns base64 text into an Envelope.
func Decode(content string) (Envelope, error) {
	payload, err := base64.StdEncoding.DecodeString(content)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncoding, err)
	}
	return DecodeBytes(payload)
}

// DecodeBytes decodes an already base64-decoded payload.
func DecodeBytes(payload []byte) (Envelope, error) {
	if len(payload) == 0 {
		return nil, ErrEmptyPayload
	}

	marker := payload[0]
	switch {
	case marker <= legacyCiphertext:
		return decodeLegacy(payload, marker), nil
	case marker >= VersionedMarkerMin:
		return decodeVersioned(payload, marker)
	default:
		return nil, &UnsupportedVersionError{Marker: marker}
	}
}

func decodeLegacy(payload []byte, shape byte) Envelope {
	h := Header{Version: LegacyVersion, Shape: shape}

	switch shape {
	case legacyPublicKey:
		h.Fields = layout.Parse(payload, legacyPublicKeyLayout, 1)
		return LegacyPublicKey{header: h, PublicKey: h.Fields.Bytes(fieldPublicKey)}
	case legacyAuthCode:
		h.Fields = layout.Parse(payload, legacyAuthCodeLayout, 1)
		return LegacyAuthCode{header: h, AuthCode: h.Fields.String(fieldAuthCode)}
	case legacyAuthCiphertext:
		h.Fields = layout.Parse(payload, legacyAuthCiphertextLayout, 1)
		return LegacyAuthCiphertext{
			header:       h,
			AuthCode:     h.Fields.String(fieldAuthCode),
			BridgeLetter: h.Fields.String(fieldBridgeLetter),
			Ciphertext:   h.Fields.Bytes(fieldCiphertext),
		}
	default:
		h.Fields = layout.Parse(payload, legacyCiphertextLayout, 1)
		return LegacyCiphertext{
			header:       h,
			BridgeLetter: h.Fields.String(fieldBridgeLetter),
			Ciphertext:   h.Fields.Bytes(fieldCiphertext),
		}
	}
}

func decodeVersioned(payload []byte, marker byte) (Envelope, error) {
	version := int(marker) - versionOffset
	if version != 1 {
		return nil, &UnsupportedVersionError{Marker: marker}
	}
	if len(payload) < 2 {
		return nil, ErrTruncated
	}

	h := Header{Version: fmt.Sprintf("v%d", version), Shape: payload[1]}

	switch h.Shape {
	case v1Registration:
		h.Fields = layout.Parse(payload, v1RegistrationLayout, 2)
		return V1Registration{
			header:       h,
			PublicKey:    h.Fields.Bytes(fieldPublicKey),
			ServerKeyID:  uint8(h.Fields.Int(fieldServerKeyID)),
			BridgeLetter: h.Fields.String(fieldBridgeLetter),
			Ciphertext:   h.Fields.Bytes(fieldCiphertext),
			Language:     h.Fields.String(fieldLanguage),
		}, nil
	case v1Delivery:
		h.Fields = layout.Parse(payload, v1DeliveryLayout, 2)
		return V1Delivery{
			header:       h,
			BridgeLetter: h.Fields.String(fieldBridgeLetter),
			Ciphertext:   h.Fields.Bytes(fieldCiphertext),
			Language:     h.Fields.String(fieldLanguage),
		}, nil
	default:
		return nil, &UnsupportedShapeError{Version: h.Version, Shape: h.Shape}
	}
}
