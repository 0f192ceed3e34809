package envelope

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"testing"
)

func le16(n int) []byte {
	b := make([]byte, 2)
	binary.LittleEndian.PutUint16(b, uint16(n))
	return b
}

func le32(n int) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, uint32(n))
	return b
}

func join(parts ...[]byte) []byte {
	return bytes.Join(parts, nil)
}

func encode(payload []byte) string {
	return base64.StdEncoding.EncodeToString(payload)
}

func TestDecode_Legacy(t *testing.T) {
	t.Run("public key", func(t *testing.T) {
		env, err := Decode(encode(join([]byte{0}, le32(4), []byte("key1"))))
		if err != nil {
			t.Fatalf("Decode() error = %v", err)
		}
		e, ok := env.(LegacyPublicKey)
		if !ok {
			t.Fatalf("Decode() = %T, want LegacyPublicKey", env)
		}
		if !bytes.Equal(e.PublicKey, []byte("key1")) {
			t.Errorf("PublicKey = %q, want %q", e.PublicKey, "key1")
		}
		if h := e.Header(); h.Version != "v0" || h.Shape != 0 || h.Fields.Int("len_public_key") != 4 {
			t.Errorf("Header() = %+v", h)
		}
	})

	t.Run("auth code", func(t *testing.T) {
		env, err := Decode(encode([]byte("\x01\x03abc")))
		if err != nil {
			t.Fatalf("Decode() error = %v", err)
		}
		e, ok := env.(LegacyAuthCode)
		if !ok {
			t.Fatalf("Decode() = %T, want LegacyAuthCode", env)
		}
		if e.AuthCode != "abc" {
			t.Errorf("AuthCode = %q, want %q", e.AuthCode, "abc")
		}
		if HasPayload(env) {
			t.Error("HasPayload() = true for auth code only envelope")
		}
	})

	t.Run("auth code and ciphertext", func(t *testing.T) {
		env, err := Decode(encode(join([]byte{2, 6}, []byte("123456"), []byte("e"), []byte("secret"))))
		if err != nil {
			t.Fatalf("Decode() error = %v", err)
		}
		e, ok := env.(LegacyAuthCiphertext)
		if !ok {
			t.Fatalf("Decode() = %T, want LegacyAuthCiphertext", env)
		}
		if e.AuthCode != "123456" || e.BridgeLetter != "e" || string(e.Ciphertext) != "secret" {
			t.Errorf("got %+v", e)
		}
	})

	t.Run("ciphertext only", func(t *testing.T) {
		env, err := Decode(encode([]byte("\x03eciphertext")))
		if err != nil {
			t.Fatalf("Decode() error = %v", err)
		}
		if got := BridgeLetter(env); got != "e" {
			t.Errorf("BridgeLetter() = %q, want %q", got, "e")
		}
		if got := Ciphertext(env); string(got) != "ciphertext" {
			t.Errorf("Ciphertext() = %q, want %q", got, "ciphertext")
		}
		if got := Language(env); got != "" {
			t.Errorf("Language() = %q, want empty", got)
		}
	})
}

func TestDecode_V1Registration(t *testing.T) {
	payload := join([]byte{0x0a, 0x00, 0x05}, le16(10), []byte("e\x02key12ciphertext"))

	env, err := Decode(encode(payload))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	e, ok := env.(V1Registration)
	if !ok {
		t.Fatalf("Decode() = %T, want V1Registration", env)
	}

	if e.Header().Version != "v1" {
		t.Errorf("Version = %q, want v1", e.Header().Version)
	}
	if string(e.PublicKey) != "key12" {
		t.Errorf("PublicKey = %q, want key12", e.PublicKey)
	}
	if e.ServerKeyID != 2 {
		t.Errorf("ServerKeyID = %d, want 2", e.ServerKeyID)
	}
	if e.BridgeLetter != "e" {
		t.Errorf("BridgeLetter = %q, want e", e.BridgeLetter)
	}
	if string(e.Ciphertext) != "ciphertext" {
		t.Errorf("Ciphertext = %q, want ciphertext", e.Ciphertext)
	}
	if e.Language != "" {
		t.Errorf("Language = %q, want empty", e.Language)
	}
	if n := e.Header().Fields.Int("len_ciphertext"); n != 10 {
		t.Errorf("len_ciphertext = %d, want 10", n)
	}
}

func TestDecode_V1Delivery(t *testing.T) {
	tests := []struct {
		name         string
		payload      []byte
		wantText     string
		wantLanguage string
	}{
		{
			name:         "with language",
			payload:      join([]byte{0x0a, 0x01}, le16(4), []byte("edatafr")),
			wantText:     "data",
			wantLanguage: "fr",
		},
		{
			name:         "without language",
			payload:      join([]byte{0x0a, 0x01}, le16(4), []byte("edata")),
			wantText:     "data",
			wantLanguage: "",
		},
		{
			name:         "large ciphertext without language",
			payload:      join([]byte{0x0a, 0x01}, le16(300), []byte("e"), bytes.Repeat([]byte("x"), 300)),
			wantText:     string(bytes.Repeat([]byte("x"), 300)),
			wantLanguage: "",
		},
		{
			name:         "partial language is dropped",
			payload:      join([]byte{0x0a, 0x01}, le16(4), []byte("edataf")),
			wantText:     "data",
			wantLanguage: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, err := Decode(encode(tt.payload))
			if err != nil {
				t.Fatalf("Decode() error = %v", err)
			}
			e, ok := env.(V1Delivery)
			if !ok {
				t.Fatalf("Decode() = %T, want V1Delivery", env)
			}
			if e.Header().Version != "v1" || e.Header().Shape != 1 {
				t.Errorf("Header() = %+v", e.Header())
			}
			if e.BridgeLetter != "e" {
				t.Errorf("BridgeLetter = %q, want e", e.BridgeLetter)
			}
			if string(e.Ciphertext) != tt.wantText {
				t.Errorf("Ciphertext = %q, want %q", e.Ciphertext, tt.wantText)
			}
			if e.Language != tt.wantLanguage {
				t.Errorf("Language = %q, want %q", e.Language, tt.wantLanguage)
			}
			if _, ok := e.Header().Fields["language"]; !ok {
				t.Error("language key missing from record")
			}
		})
	}
}

func TestDecode_Errors(t *testing.T) {
	t.Run("invalid base64", func(t *testing.T) {
		_, err := Decode("invalidbase64==")
		if !errors.Is(err, ErrEncoding) {
			t.Errorf("Decode() error = %v, want ErrEncoding", err)
		}
	})

	t.Run("empty payload", func(t *testing.T) {
		_, err := Decode("")
		if !errors.Is(err, ErrEmptyPayload) {
			t.Errorf("Decode() error = %v, want ErrEmptyPayload", err)
		}
	})

	for _, marker := range []byte{4, 9, 11, 99} {
		env, err := DecodeBytes([]byte{marker, 0x01, 0x00})
		var verr *UnsupportedVersionError
		if !errors.As(err, &verr) {
			t.Errorf("marker %d: error = %v, want UnsupportedVersionError", marker, err)
			continue
		}
		if verr.Marker != marker {
			t.Errorf("marker %d: Marker = %d", marker, verr.Marker)
		}
		if env != nil {
			t.Errorf("marker %d: envelope = %#v, want nil", marker, env)
		}
	}

	t.Run("unknown shape", func(t *testing.T) {
		_, err := Decode(encode([]byte("\x0a\x05invalid")))
		var serr *UnsupportedShapeError
		if !errors.As(err, &serr) {
			t.Fatalf("Decode() error = %v, want UnsupportedShapeError", err)
		}
		if serr.Shape != 5 {
			t.Errorf("Shape = %d, want 5", serr.Shape)
		}
	})

	t.Run("missing shape", func(t *testing.T) {
		_, err := DecodeBytes([]byte{0x0a})
		if !errors.Is(err, ErrTruncated) {
			t.Errorf("DecodeBytes() error = %v, want ErrTruncated", err)
		}
	})
}

func FuzzDecodeBytes(f *testing.F) {
	f.Add([]byte("\x0a\x01\x04\x00edatafr"))
	f.Add([]byte("\x00\xff\xff\xff\x7f"))
	f.Add([]byte("\x02\xffe"))
	f.Fuzz(func(t *testing.T, payload []byte) {
		env, err := DecodeBytes(payload)
		if err == nil && env == nil {
			t.Fatal("nil envelope without error")
		}
	})
}
