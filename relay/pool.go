package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dhcgn/sms-bridge/model"
	"github.com/dhcgn/sms-bridge/runner"
	"github.com/dhcgn/sms-bridge/state"
	"github.com/dhcgn/sms-bridge/stats"
)

const DefaultWorkers = 10

// Pool handles the runner's jobs with a fixed number of workers and records
// every outcome in the ledger.
type Pool struct {
	service *Service
	runner  *runner.Runner
	tracker state.Tracker
	logger  *slog.Logger
}

func NewPool(service *Service, r *runner.Runner, workers int, logger *slog.Logger) (*Pool, error) {
	if service == nil {
		return nil, fmt.Errorf("relay service must not be nil")
	}
	tracker := r.Tracker()
	if tracker == nil {
		return nil, fmt.Errorf("tracker must not be nil")
	}
	if workers <= 0 {
		workers = DefaultWorkers
	}

	p := &Pool{service: service, runner: r, tracker: tracker, logger: logger}
	for i := 0; i < workers; i++ {
		r.AddStage(fmt.Sprintf("relay-%d", i), p.work)
	}
	return p, nil
}

func (p *Pool) work(ctx context.Context) error {
	jobs := p.runner.Jobs()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case req, ok := <-jobs:
			if !ok {
				return nil
			}
			pub, err := p.service.handle(ctx, req)
			if ctx.Err() != nil {
				return ctx.Err()
			}

			if recErr := p.tracker.Record(pub); recErr != nil {
				recErr = fmt.Errorf("record publication %s: %w", req.ID, recErr)
				p.runner.EmitEvent(stats.Event{Stage: stats.StageRelay, Type: stats.EventTypeError, RequestID: req.ID, Err: recErr})
				return recErr
			}

			p.runner.EmitEvent(eventFor(pub, err))
			if p.logger != nil {
				p.logger.Debug("publication recorded", "requestID", req.ID, "status", pub.Status, "platform", pub.PlatformName)
			}
		}
	}
}

func eventFor(pub model.Publication, err error) stats.Event {
	evt := stats.Event{Stage: stats.StageRelay, RequestID: pub.RequestID, Platform: pub.PlatformName, Detail: pub.Detail}
	switch {
	case pub.Status == model.StatusPublished:
		evt.Stage = stats.StagePublish
		evt.Type = stats.EventTypePublished
	case pub.Status == model.StatusRegistered:
		evt.Type = stats.EventTypeRegistered
	case errors.Is(err, ErrRejected):
		evt.Type = stats.EventTypeRejected
	default:
		evt.Type = stats.EventTypeFailed
		evt.Err = err
	}
	return evt
}
