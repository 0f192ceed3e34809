// Package mbox keeps a local archive of composed outbound mail and reads it
// back for reporting.
package mbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/mail"
	"os"
	"strings"
	"sync"

	mboxlib "github.com/emersion/go-mbox"

	"github.com/dhcgn/sms-bridge/model"
)

var (
	ErrMessageIDMissing = errors.New("outbound message missing id")
	ErrClosed           = errors.New("mbox writer closed")
)

// Writer appends messages to an mbox file. It is safe for concurrent use.
type Writer struct {
	path   string
	logger *slog.Logger

	mu     sync.Mutex
	file   *os.File
	writer *mboxlib.Writer
}

func NewWriter(path string, logger *slog.Logger) (*Writer, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("mbox path is empty")
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open mbox: %w", err)
	}
	return &Writer{
		path:   path,
		logger: logger,
		file:   file,
		writer: mboxlib.NewWriter(file),
	}, nil
}

// Deliver appends msg as a new mbox entry.
func (w *Writer) Deliver(ctx context.Context, msg model.Message) error {
	if msg.ID == "" {
		return ErrMessageIDMissing
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.writer == nil {
		return ErrClosed
	}

	mw, err := w.writer.CreateMessage(msg.From, msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("mbox create message %s: %w", msg.ID, err)
	}
	if _, err := mw.Write(msg.Raw); err != nil {
		return fmt.Errorf("mbox write message %s: %w", msg.ID, err)
	}

	if w.logger != nil {
		w.logger.Debug("archived message", "messageID", msg.ID, "path", w.path)
	}
	return nil
}

// Close flushes the last message and closes the file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.writer == nil {
		return nil
	}
	err := w.writer.Close()
	w.writer = nil
	if cerr := w.file.Close(); err == nil {
		err = cerr
	}
	return err
}

// MboxMessage represents a single archived message for stats.
type MboxMessage struct {
	Headers mail.Header
	Body    []byte
}

// Read opens an mbox file and iterates through its messages,
// calling the provided callback for each message.
func Read(path string, callback func(m *MboxMessage) error) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open mbox: %w", err)
	}
	defer file.Close()
	return read(file, callback)
}

func read(r io.Reader, callback func(m *MboxMessage) error) error {
	reader := mboxlib.NewReader(r)
	for {
		msgReader, err := reader.NextMessage()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}

		msg, err := mail.ReadMessage(msgReader)
		if err != nil {
			// try to continue
			continue
		}

		body, err := io.ReadAll(msg.Body)
		if err != nil {
			continue
		}

		if err := callback(&MboxMessage{Headers: msg.Header, Body: body}); err != nil {
			return err
		}
	}
}

// CountMessages counts the total number of messages in an mbox file.
func CountMessages(path string) (int, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open mbox: %w", err)
	}
	defer file.Close()

	reader := mboxlib.NewReader(file)
	count := 0
	for {
		msgReader, err := reader.NextMessage()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return count, nil
			}
			return 0, err
		}

		// Continue counting even if we can't read this message
		_, _ = io.Copy(io.Discard, msgReader)
		count++
	}
}
