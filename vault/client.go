package vault

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/dhcgn/sms-bridge/model"
)

const (
	decryptPath  = "/v1/entities/decrypt"
	registerPath = "/v1/entities"
)

// Options configure Client.
type Options struct {
	BaseURL string
	Token   string
	Timeout time.Duration
	// MaxElapsedTime bounds retries of one call.
	MaxElapsedTime time.Duration
}

// Client is an HTTP client of the vault. It implements Decrypter and Registrar.
type Client struct {
	opts   Options
	http   *http.Client
	logger *slog.Logger

	initialInterval time.Duration
}

type decryptRequest struct {
	PhoneNumber       string `json:"phone_number"`
	PayloadCiphertext string `json:"payload_ciphertext"`
}

type decryptResponse struct {
	PayloadPlaintext string `json:"payload_plaintext"`
	CountryCode      string `json:"country_code"`
	Success          bool   `json:"success"`
	Message          string `json:"message"`
}

type registerRequest struct {
	PhoneNumber            string `json:"phone_number"`
	CountryCode            string `json:"country_code,omitempty"`
	ClientPublishPubKey    string `json:"client_publish_pub_key,omitempty"`
	OwnershipProofResponse string `json:"ownership_proof_response,omitempty"`
	ServerPubKeyIdentifier string `json:"server_pub_key_identifier,omitempty"`
	ServerPubKeyVersion    string `json:"server_pub_key_version,omitempty"`
	Language               string `json:"language,omitempty"`
}

type registerResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type errorResponse struct {
	Code   int    `json:"code"`
	Detail string `json:"detail"`
}

func NewClient(opts Options, logger *slog.Logger) (*Client, error) {
	if strings.TrimSpace(opts.BaseURL) == "" {
		return nil, fmt.Errorf("vault base url is empty")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.MaxElapsedTime <= 0 {
		opts.MaxElapsedTime = 2 * time.Minute
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	return &Client{
		opts:            opts,
		http:            &http.Client{Timeout: opts.Timeout},
		logger:          logger,
		initialInterval: 500 * time.Millisecond,
	}, nil
}

func (c *Client) Decrypt(ctx context.Context, phoneNumber string, ciphertext []byte) (Decrypted, error) {
	req := decryptRequest{
		PhoneNumber:       phoneNumber,
		PayloadCiphertext: base64.StdEncoding.EncodeToString(ciphertext),
	}

	if c.logger != nil {
		c.logger.Debug("initiating decryption request", "phoneNumber", model.MaskPhoneNumber(phoneNumber))
	}

	var resp decryptResponse
	if err := c.call(ctx, decryptPath, req, &resp); err != nil {
		return Decrypted{}, err
	}

	plaintext, err := base64.StdEncoding.DecodeString(resp.PayloadPlaintext)
	if err != nil {
		return Decrypted{}, fmt.Errorf("decode plaintext: %w", err)
	}

	out := Decrypted{
		Plaintext:   plaintext,
		CountryCode: resp.CountryCode,
		Success:     resp.Success,
		Message:     resp.Message,
	}
	if !out.Success {
		return out, fmt.Errorf("%w: %s", ErrDecryptionFailed, resp.Message)
	}

	if c.logger != nil {
		c.logger.Info("decryption successful", "identifierType", "phone_number")
	}
	return out, nil
}

func (c *Client) Register(ctx context.Context, reg Registration) (Result, error) {
	req := registerRequest{
		PhoneNumber:            reg.PhoneNumber,
		CountryCode:            reg.CountryCode,
		OwnershipProofResponse: reg.OwnershipProof,
		ServerPubKeyVersion:    reg.ServerKeyVersion,
		Language:               reg.Language,
	}
	if len(reg.PublicKey) > 0 {
		req.ClientPublishPubKey = base64.StdEncoding.EncodeToString(reg.PublicKey)
		req.ServerPubKeyIdentifier = fmt.Sprintf("%d", reg.ServerKeyID)
	}

	if c.logger != nil {
		c.logger.Debug("sending bridge entity registration", "phoneNumber", model.MaskPhoneNumber(reg.PhoneNumber))
	}

	var resp registerResponse
	if err := c.call(ctx, registerPath, req, &resp); err != nil {
		return Result{}, err
	}
	return Result{Success: resp.Success, Message: resp.Message}, nil
}

func (c *Client) call(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encode vault request: %w", err)
	}
	url := c.opts.BaseURL + path

	operation := func() ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		if c.opts.Token != "" {
			req.Header.Set("Authorization", "Bearer "+c.opts.Token)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return nil, err
		}

		if resp.StatusCode >= 500 {
			return nil, remoteError(resp.StatusCode, data)
		}
		if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
			return nil, backoff.Permanent(remoteError(resp.StatusCode, data))
		}
		return data, nil
	}

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = c.initialInterval

	data, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(expBackoff),
		backoff.WithMaxElapsedTime(c.opts.MaxElapsedTime),
		backoff.WithNotify(func(err error, next time.Duration) {
			if c.logger != nil {
				c.logger.Warn("vault call failed, retrying", "path", path, "retryIn", next, "err", err)
			}
		}),
	)
	if err != nil {
		return fmt.Errorf("vault %s: %w", path, err)
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode vault response: %w", err)
	}
	return nil
}

func remoteError(status int, body []byte) *RemoteError {
	var payload errorResponse
	if err := json.Unmarshal(body, &payload); err != nil || payload.Detail == "" {
		payload.Detail = strings.TrimSpace(string(body))
	}
	if payload.Detail == "" {
		payload.Detail = http.StatusText(status)
	}
	return &RemoteError{Code: status, Detail: payload.Detail}
}
