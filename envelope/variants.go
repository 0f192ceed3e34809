package envelope

// LegacyPublicKey registers a client public key (legacy shape 0).
type LegacyPublicKey struct {
	header    Header
	PublicKey []byte
}

// LegacyAuthCode proves ownership of the phone number (legacy shape 1).
type LegacyAuthCode struct {
	header   Header
	AuthCode string
}

// LegacyAuthCiphertext carries an auth code and a payload (legacy shape 2).
type LegacyAuthCiphertext struct {
	header       Header
	AuthCode     string
	BridgeLetter string
	Ciphertext   []byte
}

// LegacyCiphertext carries only a payload (legacy shape 3).
type LegacyCiphertext struct {
	header       Header
	BridgeLetter string
	Ciphertext   []byte
}

// V1Registration registers a public key and carries a payload (v1 shape 0).
type V1Registration struct {
	header       Header
	PublicKey    []byte
	ServerKeyID  uint8
	BridgeLetter string
	Ciphertext   []byte
	Language     string
}

// V1Delivery carries a payload (v1 shape 1).
type V1Delivery struct {
	header       Header
	BridgeLetter string
	Ciphertext   []byte
	Language     string
}

func (e LegacyPublicKey) Header() Header      { return e.header }
func (e LegacyAuthCode) Header() Header       { return e.header }
func (e LegacyAuthCiphertext) Header() Header { return e.header }
func (e LegacyCiphertext) Header() Header     { return e.header }
func (e V1Registration) Header() Header       { return e.header }
func (e V1Delivery) Header() Header           { return e.header }

func (LegacyPublicKey) envelope()      {}
func (LegacyAuthCode) envelope()       {}
func (LegacyAuthCiphertext) envelope() {}
func (LegacyCiphertext) envelope()     {}
func (V1Registration) envelope()       {}
func (V1Delivery) envelope()           {}

// BridgeLetter returns the bridge shortcode of env, or "" if the variant
// carries no payload.
func BridgeLetter(env Envelope) string {
	switch e := env.(type) {
	case LegacyAuthCiphertext:
		return e.BridgeLetter
	case LegacyCiphertext:
		return e.BridgeLetter
	case V1Registration:
		return e.BridgeLetter
	case V1Delivery:
		return e.BridgeLetter
	}
	return ""
}

// Ciphertext returns the payload ciphertext of env, or nil.
func Ciphertext(env Envelope) []byte {
	switch e := env.(type) {
	case LegacyAuthCiphertext:
		return e.Ciphertext
	case LegacyCiphertext:
		return e.Ciphertext
	case V1Registration:
		return e.Ciphertext
	case V1Delivery:
		return e.Ciphertext
	}
	return nil
}

// Language returns the two letter language tag, "" when the sender omitted it.
func Language(env Envelope) string {
	switch e := env.(type) {
	case V1Registration:
		return e.Language
	case V1Delivery:
		return e.Language
	}
	return ""
}

// HasPayload reports whether env carries a ciphertext destined for a bridge.
func HasPayload(env Envelope) bool {
	switch env.(type) {
	case LegacyAuthCiphertext, LegacyCiphertext, V1Registration, V1Delivery:
		return true
	}
	return false
}
