package envelope

import "github.com/dhcgn/sms-bridge/layout"

const (
	fieldLenPublicKey  = "len_public_key"
	fieldPublicKey     = "public_key"
	fieldLenAuthCode   = "len_auth_code"
	fieldAuthCode      = "auth_code"
	fieldLenCiphertext = "len_ciphertext"
	fieldCiphertext    = "content_ciphertext"
	fieldBridgeLetter  = "bridge_letter"
	fieldServerKeyID   = "skid"
	fieldLanguage      = "language"
)

// Legacy family shapes. The marker byte is the shape.
const (
	legacyPublicKey byte = iota
	legacyAuthCode
	legacyAuthCiphertext
	legacyCiphertext
)

// Version 1 shapes.
const (
	v1Registration byte = iota
	v1Delivery
)

var (
	legacyPublicKeyLayout = layout.Must(
		layout.Field{Key: fieldLenPublicKey, Width: layout.Int32()},
		layout.Field{Key: fieldPublicKey, Width: layout.FromField(fieldLenPublicKey)},
	)

	legacyAuthCodeLayout = layout.Must(
		layout.Field{Key: fieldLenAuthCode, Width: layout.Uint8()},
		layout.Field{Key: fieldAuthCode, Width: layout.FromField(fieldLenAuthCode), Encoding: layout.UTF8},
	)

	legacyAuthCiphertextLayout = layout.Must(
		layout.Field{Key: fieldLenAuthCode, Width: layout.Uint8()},
		layout.Field{Key: fieldAuthCode, Width: layout.FromField(fieldLenAuthCode), Encoding: layout.UTF8},
		layout.Field{Key: fieldBridgeLetter, Width: layout.Fixed(1), Encoding: layout.UTF8},
		layout.Field{Key: fieldCiphertext, Width: layout.Rest()},
	)

	legacyCiphertextLayout = layout.Must(
		layout.Field{Key: fieldBridgeLetter, Width: layout.Fixed(1), Encoding: layout.UTF8},
		layout.Field{Key: fieldCiphertext, Width: layout.Rest()},
	)

	v1RegistrationLayout = layout.Must(
		layout.Field{Key: fieldLenPublicKey, Width: layout.Uint8()},
		layout.Field{Key: fieldLenCiphertext, Width: layout.Uint16()},
		layout.Field{Key: fieldBridgeLetter, Width: layout.Fixed(1), Encoding: layout.UTF8},
		layout.Field{Key: fieldServerKeyID, Width: layout.Uint8()},
		layout.Field{Key: fieldPublicKey, Width: layout.FromField(fieldLenPublicKey)},
		layout.Field{Key: fieldCiphertext, Width: layout.FromField(fieldLenCiphertext)},
		layout.Field{Key: fieldLanguage, Width: layout.Fixed(2), Encoding: layout.UTF8},
	)

	v1DeliveryLayout = layout.Must(
		layout.Field{Key: fieldLenCiphertext, Width: layout.Uint16()},
		layout.Field{Key: fieldBridgeLetter, Width: layout.Fixed(1), Encoding: layout.UTF8},
		layout.Field{Key: fieldCiphertext, Width: layout.FromField(fieldLenCiphertext)},
		layout.Field{Key: fieldLanguage, Width: layout.Fixed(2), Encoding: layout.UTF8},
	)
)
