// Package imap appends composed messages to a mailbox on an IMAP server.
package imap

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	imapv2 "github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"

	"github.com/dhcgn/sms-bridge/model"
)

var (
	ErrMissingMessageID = errors.New("message id is empty")
	ErrClosed           = errors.New("imap uploader closed")
)

const DefaultTargetFolder = "Outbox"

type Options struct {
	Host               string
	Port               int
	Username           string
	Password           string
	UseTLS             bool
	InsecureSkipVerify bool
	TargetFolder       string
	MaxElapsedTime     time.Duration
}

// Uploader delivers messages over a single lazily dialed connection.
// Deliver is safe for concurrent use; appends are serialized.
type Uploader struct {
	opts   Options
	logger *slog.Logger

	mu     sync.Mutex
	client *imapclient.Client
	closed bool
}

func NewUploader(opts Options, logger *slog.Logger) (*Uploader, error) {
	if opts.Host == "" {
		return nil, fmt.Errorf("imap host is empty")
	}
	if opts.Port <= 0 {
		return nil, fmt.Errorf("imap port must be positive")
	}
	if opts.MaxElapsedTime <= 0 {
		opts.MaxElapsedTime = time.Minute
	}
	return &Uploader{opts: opts, logger: logger}, nil
}

// Deliver appends msg to the target folder, dialing on first use and
// redialing once if the connection has gone away.
func (u *Uploader) Deliver(ctx context.Context, msg model.Message) error {
	if msg.ID == "" {
		return ErrMissingMessageID
	}

	u.mu.Lock()
	defer u.mu.Unlock()
	if u.closed {
		return ErrClosed
	}

	for attempt := 0; ; attempt++ {
		if u.client == nil {
			client, err := u.dialWithRetry(ctx)
			if err != nil {
				return err
			}
			u.client = client
		}

		err := u.appendMessage(u.client, msg)
		if err == nil {
			break
		}
		var respErr *imapv2.Error
		if errors.As(err, &respErr) || attempt > 0 {
			return fmt.Errorf("upload message %s: %w", msg.ID, err)
		}
		if u.logger != nil {
			u.logger.Warn("imap append failed, reconnecting", "messageID", msg.ID, "err", err)
		}
		_ = u.client.Close()
		u.client = nil
	}

	if u.logger != nil {
		u.logger.Debug("uploaded message", "messageID", msg.ID, "target", u.targetFolder(), "size", len(msg.Raw))
	}
	return nil
}

// Close logs out and closes the connection if one is open.
func (u *Uploader) Close() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.closed = true
	if u.client == nil {
		return nil
	}
	client := u.client
	u.client = nil
	if err := client.Logout().Wait(); err != nil && u.logger != nil {
		u.logger.Warn("imap logout failed", "err", err)
	}
	return client.Close()
}

func (u *Uploader) dialWithRetry(ctx context.Context) (*imapclient.Client, error) {
	operation := func() (*imapclient.Client, error) {
		client, err := u.dial()
		if err != nil {
			var respErr *imapv2.Error
			if errors.As(err, &respErr) {
				return nil, backoff.Permanent(err)
			}
			return nil, err
		}
		return client, nil
	}
	notify := func(err error, next time.Duration) {
		if u.logger != nil {
			u.logger.Warn("imap dial failed, retrying", "err", err, "retryIn", next)
		}
	}
	return backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxElapsedTime(u.opts.MaxElapsedTime),
		backoff.WithNotify(notify),
	)
}

func (u *Uploader) dial() (*imapclient.Client, error) {
	address := net.JoinHostPort(u.opts.Host, strconv.Itoa(u.opts.Port))
	options := &imapclient.Options{}

	if u.opts.UseTLS {
		options.TLSConfig = &tls.Config{
			ServerName:         u.opts.Host,
			InsecureSkipVerify: u.opts.InsecureSkipVerify,
		}
	}

	var (
		client *imapclient.Client
		err    error
	)

	if u.opts.UseTLS {
		client, err = imapclient.DialTLS(address, options)
	} else {
		client, err = imapclient.DialInsecure(address, options)
	}
	if err != nil {
		return nil, fmt.Errorf("dial imap %s: %w", address, err)
	}

	if err := client.Login(u.opts.Username, u.opts.Password).Wait(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("imap login failed: %w", err)
	}

	if err := u.ensureMailbox(client); err != nil {
		_ = client.Close()
		return nil, err
	}

	if u.logger != nil {
		u.logger.Debug("imap connection established", "address", address, "user", u.opts.Username, "target", u.targetFolder(), "tls", u.opts.UseTLS)
	}

	return client, nil
}

func (u *Uploader) appendMessage(client *imapclient.Client, msg model.Message) error {
	target := u.targetFolder()
	size := int64(len(msg.Raw))

	var opts *imapv2.AppendOptions
	if !msg.CreatedAt.IsZero() {
		opts = &imapv2.AppendOptions{Time: msg.CreatedAt}
	}

	cmd := client.Append(target, size, opts)

	remaining := msg.Raw
	for len(remaining) > 0 {
		n, err := cmd.Write(remaining)
		if err != nil {
			_ = cmd.Close()
			return fmt.Errorf("append write: %w", err)
		}
		if n == 0 {
			_ = cmd.Close()
			return fmt.Errorf("append write: wrote 0 bytes")
		}
		remaining = remaining[n:]
	}

	if err := cmd.Close(); err != nil {
		return fmt.Errorf("append close: %w", err)
	}

	if _, err := cmd.Wait(); err != nil {
		return fmt.Errorf("append wait: %w", err)
	}

	return nil
}

func (u *Uploader) targetFolder() string {
	if u.opts.TargetFolder == "" {
		return DefaultTargetFolder
	}
	return u.opts.TargetFolder
}

func (u *Uploader) ensureMailbox(client *imapclient.Client) error {
	target := u.targetFolder()
	cmd := client.Create(target, nil)
	if err := cmd.Wait(); err != nil {
		var respErr *imapv2.Error
		if errors.As(err, &respErr) {
			if respErr.Code == imapv2.ResponseCodeAlreadyExists {
				if u.logger != nil {
					u.logger.Debug("imap mailbox already exists", "mailbox", target)
				}
				return nil
			}
		}
		return fmt.Errorf("ensure mailbox %s: %w", target, err)
	}

	if u.logger != nil {
		u.logger.Info("imap mailbox created", "mailbox", target)
	}

	return nil
}
