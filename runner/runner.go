package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dhcgn/sms-bridge/config"
	"github.com/dhcgn/sms-bridge/model"
	"github.com/dhcgn/sms-bridge/state"
	"github.com/dhcgn/sms-bridge/stats"
)

var ErrRequestIDMissing = errors.New("inbound request missing id")

type StageFunc func(context.Context) error

type Runner struct {
	cfg    config.Config
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	inbox  chan model.Inbound
	jobs   chan model.Request
	events chan stats.Event

	tracker state.Tracker

	workWG  sync.WaitGroup
	statsWG sync.WaitGroup

	errMu sync.Mutex
	err   error

	closeInboxOnce  sync.Once
	closeJobsOnce   sync.Once
	closeEventsOnce sync.Once
	since           time.Time
}

// New creates a runner backed by the publication ledger in cfg.StateDir.
// Nothing is persisted in dry-run mode.
func New(cfg config.Config, logger *slog.Logger) (*Runner, error) {
	tracker, err := state.NewFileTracker(cfg.StateDir, !cfg.DryRun)
	if err != nil {
		return nil, fmt.Errorf("state tracker: %w", err)
	}
	return NewWithTracker(cfg, tracker, logger), nil
}

func NewWithTracker(cfg config.Config, tracker state.Tracker, logger *slog.Logger) *Runner {
	ctx, cancel := context.WithCancel(context.Background())
	if logger == nil {
		logger = slog.Default()
	}

	r := &Runner{
		cfg:     cfg,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
		inbox:   make(chan model.Inbound, 32),
		jobs:    make(chan model.Request, 32),
		events:  make(chan stats.Event, 128),
		tracker: tracker,
	}

	r.AddStage("dispatch", r.dispatch)
	return r
}

func (r *Runner) Config() config.Config {
	return r.cfg
}

func (r *Runner) Logger() *slog.Logger {
	return r.logger
}

func (r *Runner) Context() context.Context {
	return r.ctx
}

func (r *Runner) Tracker() state.Tracker {
	return r.tracker
}

func (r *Runner) InboxWriter() chan<- model.Inbound {
	return r.inbox
}

func (r *Runner) CloseInbox() {
	r.closeInboxOnce.Do(func() {
		close(r.inbox)
	})
}

// Jobs yields requests that still need handling. It is closed once the
// inbox is drained.
func (r *Runner) Jobs() <-chan model.Request {
	return r.jobs
}

func (r *Runner) EmitEvent(evt stats.Event) {
	select {
	case <-r.ctx.Done():
	case r.events <- evt:
	}
}

func (r *Runner) SubscribeStats(name string, fn func(context.Context, <-chan stats.Event) error) {
	r.statsWG.Add(1)
	go func() {
		defer r.statsWG.Done()
		if err := fn(r.ctx, r.events); err != nil && !errors.Is(err, context.Canceled) {
			r.fail(fmt.Errorf("%s stats: %w", name, err))
		}
	}()
}

func (r *Runner) AddStage(name string, fn StageFunc) {
	r.workWG.Add(1)
	go func() {
		defer r.workWG.Done()
		if err := fn(r.ctx); err != nil && !errors.Is(err, context.Canceled) {
			r.fail(fmt.Errorf("%s stage: %w", name, err))
		}
	}()
}

// Stop cancels all stages, e.g. on SIGINT.
func (r *Runner) Stop() {
	r.cancel()
}

func (r *Runner) Start() error {
	r.since = time.Now()

	r.workWG.Wait()
	r.closeEvents()
	r.statsWG.Wait()

	r.cancel()

	r.errMu.Lock()
	err := r.err
	r.errMu.Unlock()
	duration := time.Since(r.since)
	if err != nil {
		r.logger.Error("pipeline failed", "duration", duration, "err", err)
		return err
	}

	r.logger.Info("pipeline completed", "duration", duration)
	return nil
}

// dispatch forwards inbound requests to the workers. Requests whose hash is
// already in the ledger, or that were dispatched earlier in this run, are
// reported as duplicates. Malformed inbox lines are reported and skipped.
func (r *Runner) dispatch(ctx context.Context) error {
	defer r.closeJobs()
	seen := make(map[string]struct{})
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case inbound, ok := <-r.inbox:
			if !ok {
				return nil
			}

			if inbound.Err != nil {
				r.EmitEvent(stats.Event{Stage: stats.StageInbox, Type: stats.EventTypeError, Err: inbound.Err})
				r.logger.Warn("skipping inbox entry", "err", inbound.Err)
				continue
			}

			req := inbound.Request
			r.EmitEvent(stats.Event{Stage: stats.StageInbox, Type: stats.EventTypeReceived, RequestID: req.ID})

			if req.ID == "" {
				r.EmitEvent(stats.Event{Stage: stats.StageInbox, Type: stats.EventTypeError, Err: ErrRequestIDMissing})
				continue
			}

			if req.Hash == "" {
				req.Hash = model.RequestHash(req.PhoneNumber, req.Content)
			}
			if _, dup := seen[req.Hash]; dup || r.tracker.AlreadyProcessed(req.Hash) {
				r.EmitEvent(stats.Event{Stage: stats.StageInbox, Type: stats.EventTypeDuplicate, RequestID: req.ID})
				r.logger.Debug("duplicate request", "requestID", req.ID, "hash", req.Hash)
				continue
			}
			seen[req.Hash] = struct{}{}

			select {
			case <-ctx.Done():
				return ctx.Err()
			case r.jobs <- req:
			}
		}
	}
}

func (r *Runner) closeJobs() {
	r.closeJobsOnce.Do(func() {
		close(r.jobs)
	})
}

func (r *Runner) closeEvents() {
	r.closeEventsOnce.Do(func() {
		close(r.events)
	})
}

func (r *Runner) fail(err error) {
	if err == nil {
		return
	}
	r.errMu.Lock()
	if r.err == nil {
		r.err = err
		r.cancel()
	}
	r.errMu.Unlock()
}
