// Package inbox reads publish requests handed over by SMS gateways. Each
// line of the input is one JSON request.
package inbox

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dhcgn/sms-bridge/model"
	"github.com/dhcgn/sms-bridge/runner"
)

// Stdin selects standard input as the inbox.
const Stdin = "-"

const defaultMaxLineBytes = 1 << 20

var (
	ErrLineTooLong   = errors.New("inbox line exceeds size limit")
	ErrMissingSender = errors.New("request has no phone number")
)

type Options struct {
	Path         string
	MaxLineBytes int
}

type Reader struct {
	opts   Options
	input  io.Reader
	logger *slog.Logger
	now    func() time.Time
}

func NewReader(opts Options, input io.Reader, logger *slog.Logger) *Reader {
	if opts.MaxLineBytes <= 0 {
		opts.MaxLineBytes = defaultMaxLineBytes
	}
	return &Reader{opts: opts, input: input, logger: logger, now: time.Now}
}

// Stream sends one Inbound per non-empty line. Lines that cannot be decoded
// are sent with Err set; Stream only returns an error when the input itself
// fails or ctx is done.
func (r *Reader) Stream(ctx context.Context, out chan<- model.Inbound) error {
	br := bufio.NewReaderSize(r.input, 64*1024)
	for line := 1; ; line++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		data, tooLong, err := readLine(br, r.opts.MaxLineBytes)
		if err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("read inbox line %d: %w", line, err)
		}
		eof := errors.Is(err, io.EOF)

		if tooLong {
			if sendErr := r.emit(ctx, out, model.Inbound{Err: fmt.Errorf("line %d: %w", line, ErrLineTooLong)}); sendErr != nil {
				return sendErr
			}
		} else if text := strings.TrimSpace(string(data)); text != "" {
			inbound := r.decode(line, []byte(text))
			if sendErr := r.emit(ctx, out, inbound); sendErr != nil {
				return sendErr
			}
		}

		if eof {
			return nil
		}
	}
}

func (r *Reader) decode(line int, data []byte) model.Inbound {
	var req model.Request
	if err := json.Unmarshal(data, &req); err != nil {
		return model.Inbound{Err: fmt.Errorf("line %d: decode request: %w", line, err)}
	}
	if strings.TrimSpace(req.PhoneNumber) == "" {
		return model.Inbound{Err: fmt.Errorf("line %d: %w", line, ErrMissingSender)}
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.ReceivedAt.IsZero() {
		req.ReceivedAt = r.now().UTC()
	}
	req.Hash = model.RequestHash(req.PhoneNumber, req.Content)
	return model.Inbound{Request: req}
}

func (r *Reader) emit(ctx context.Context, out chan<- model.Inbound, inbound model.Inbound) error {
	if inbound.Err != nil && r.logger != nil {
		r.logger.Warn("inbox entry rejected", "path", r.opts.Path, "err", inbound.Err)
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case out <- inbound:
		return nil
	}
}

// readLine reads up to the next newline. Lines longer than limit are
// consumed and reported with tooLong set.
func readLine(br *bufio.Reader, limit int) (line []byte, tooLong bool, err error) {
	for {
		chunk, isPrefix, err := br.ReadLine()
		if err != nil {
			return line, tooLong, err
		}
		if !tooLong {
			if len(line)+len(chunk) > limit {
				tooLong = true
				line = nil
			} else {
				line = append(line, chunk...)
			}
		}
		if !isPrefix {
			return line, tooLong, nil
		}
	}
}

// Producer feeds the runner's inbox.
type Producer struct {
	reader *Reader
	runner *runner.Runner
	closer io.Closer
}

func NewProducer(opts Options, r *runner.Runner, logger *slog.Logger) (*Producer, error) {
	path := strings.TrimSpace(opts.Path)
	if path == "" {
		return nil, fmt.Errorf("inbox path is empty")
	}

	var (
		input  io.Reader
		closer io.Closer
	)
	if path == Stdin {
		input = os.Stdin
	} else {
		file, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open inbox: %w", err)
		}
		input, closer = file, file
	}

	producer := &Producer{reader: NewReader(opts, input, logger), runner: r, closer: closer}
	r.AddStage("inbox", producer.run)
	return producer, nil
}

func (p *Producer) run(ctx context.Context) error {
	defer p.runner.CloseInbox()
	if p.closer != nil {
		defer p.closer.Close()
	}
	return p.reader.Stream(ctx, p.runner.InboxWriter())
}
