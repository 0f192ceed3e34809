package vault

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"filippo.io/age"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewClient(Options{BaseURL: server.URL + "/", Token: "secret", MaxElapsedTime: 2 * time.Second}, nil)
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	client.initialInterval = time.Millisecond
	return client
}

func TestClient_Decrypt(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != decryptPath {
			t.Errorf("path = %q, want %q", r.URL.Path, decryptPath)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Errorf("Authorization = %q", got)
		}
		var req decryptRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.PhoneNumber != "+237123456789" {
			t.Errorf("PhoneNumber = %q", req.PhoneNumber)
		}
		ciphertext, _ := base64.StdEncoding.DecodeString(req.PayloadCiphertext)
		if string(ciphertext) != "cipher" {
			t.Errorf("ciphertext = %q, want cipher", ciphertext)
		}
		_ = json.NewEncoder(w).Encode(decryptResponse{
			PayloadPlaintext: base64.StdEncoding.EncodeToString([]byte("plain")),
			CountryCode:      "CM",
			Success:          true,
		})
	})

	got, err := client.Decrypt(context.Background(), "+237123456789", []byte("cipher"))
	if err != nil {
		t.Fatalf("Decrypt() error = %v", err)
	}
	if string(got.Plaintext) != "plain" || got.CountryCode != "CM" || !got.Success {
		t.Errorf("Decrypt() = %+v", got)
	}
}

func TestClient_DecryptUnsuccessful(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(decryptResponse{Success: false, Message: "no session"})
	})

	_, err := client.Decrypt(context.Background(), "+1555", []byte("x"))
	if !errors.Is(err, ErrDecryptionFailed) {
		t.Errorf("Decrypt() error = %v, want ErrDecryptionFailed", err)
	}
}

func TestClient_ClientErrorIsPermanent(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(errorResponse{Code: 5, Detail: "entity not found"})
	})

	_, err := client.Decrypt(context.Background(), "+1555", []byte("x"))
	var remote *RemoteError
	if !errors.As(err, &remote) {
		t.Fatalf("Decrypt() error = %v, want RemoteError", err)
	}
	if remote.Code != http.StatusNotFound || remote.Detail != "entity not found" || !remote.ClientSide() {
		t.Errorf("RemoteError = %+v", remote)
	}
	if n := calls.Load(); n != 1 {
		t.Errorf("server called %d times, want 1", n)
	}
}

func TestClient_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(registerResponse{Success: true, Message: "created"})
	})

	got, err := client.Register(context.Background(), Registration{
		PhoneNumber: "+1555",
		PublicKey:   []byte("pk"),
		ServerKeyID: 2,
		Language:    "fr",
	})
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if !got.Success || got.Message != "created" {
		t.Errorf("Register() = %+v", got)
	}
	if n := calls.Load(); n != 3 {
		t.Errorf("server called %d times, want 3", n)
	}
}

func TestNewClient_RequiresURL(t *testing.T) {
	if _, err := NewClient(Options{}, nil); err == nil {
		t.Error("NewClient() error = nil, want error")
	}
}

func TestAgeDecrypter(t *testing.T) {
	identity, err := age.GenerateX25519Identity()
	if err != nil {
		t.Fatal(err)
	}

	var ciphertext bytes.Buffer
	w, err := age.Encrypt(&ciphertext, identity.Recipient())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := w.Write([]byte("to:cc:bcc:subject:body")); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	dec, err := NewAgeDecrypter(strings.NewReader(identity.String() + "\n"))
	if err != nil {
		t.Fatalf("NewAgeDecrypter() error = %v", err)
	}

	got, err := dec.Decrypt(context.Background(), "+1555", ciphertext.Bytes())
	if err != nil {
		t.Fatalf("Decrypt() error = %v", err)
	}
	if string(got.Plaintext) != "to:cc:bcc:subject:body" || !got.Success {
		t.Errorf("Decrypt() = %+v", got)
	}

	if _, err := dec.Decrypt(context.Background(), "+1555", []byte("garbage")); !errors.Is(err, ErrDecryptionFailed) {
		t.Errorf("Decrypt(garbage) error = %v, want ErrDecryptionFailed", err)
	}

	if _, err := dec.Register(context.Background(), Registration{}); !errors.Is(err, ErrNotSupported) {
		t.Errorf("Register() error = %v, want ErrNotSupported", err)
	}
}
