package mailer

import (
	"context"
	"errors"
	"log/slog"

	"github.com/dhcgn/sms-bridge/model"
)

// DryRun logs messages instead of delivering them.
type DryRun struct {
	Logger *slog.Logger
}

func (d DryRun) Deliver(ctx context.Context, msg model.Message) error {
	if d.Logger != nil {
		d.Logger.Info("dry-run delivery", "messageID", msg.ID, "from", msg.From, "size", len(msg.Raw))
	}
	return nil
}

// Fanout delivers to every deliverer in order and stops at the first error.
type Fanout []Deliverer

func (f Fanout) Deliver(ctx context.Context, msg model.Message) error {
	if len(f) == 0 {
		return errors.New("mailer: no deliverer configured")
	}
	for _, d := range f {
		if err := d.Deliver(ctx, msg); err != nil {
			return err
		}
	}
	return nil
}
