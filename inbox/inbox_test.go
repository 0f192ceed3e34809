package inbox

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dhcgn/sms-bridge/config"
	"github.com/dhcgn/sms-bridge/model"
	"github.com/dhcgn/sms-bridge/runner"
	"github.com/dhcgn/sms-bridge/state"
	"github.com/dhcgn/sms-bridge/stats"
)

func streamAll(t *testing.T, r *Reader) []model.Inbound {
	t.Helper()
	out := make(chan model.Inbound, 64)
	if err := r.Stream(context.Background(), out); err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	close(out)
	var got []model.Inbound
	for in := range out {
		got = append(got, in)
	}
	return got
}

func TestStream(t *testing.T) {
	input := strings.Join([]string{
		`{"id":"r1","phone_number":"+237123456789","content":"AgAB","image_length":3,"gateway_client":"+1999"}`,
		``,
		`not json`,
		`{"phone_number":"+1555","content":"AwE="}`,
		`{"content":"AwE="}`,
		`{"id":"r5","phone_number":"+1555","content":"x","received_at":"2026-01-02T03:04:05Z"}`,
	}, "\n")

	r := NewReader(Options{}, strings.NewReader(input), nil)
	fixed := time.Date(2026, 5, 5, 0, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return fixed }

	got := streamAll(t, r)
	if len(got) != 5 {
		t.Fatalf("Stream() yielded %d entries, want 5", len(got))
	}

	first := got[0].Request
	if got[0].Err != nil || first.ID != "r1" || first.ImageLength != 3 || first.GatewayClient != "+1999" {
		t.Errorf("entry 0 = %+v", got[0])
	}
	if first.Hash != model.RequestHash("+237123456789", "AgAB") {
		t.Errorf("entry 0 hash = %q", first.Hash)
	}
	if !first.ReceivedAt.Equal(fixed) {
		t.Errorf("entry 0 ReceivedAt = %v, want %v", first.ReceivedAt, fixed)
	}

	if got[1].Err == nil || !strings.Contains(got[1].Err.Error(), "line 3") {
		t.Errorf("entry 1 error = %v, want line 3 decode error", got[1].Err)
	}

	if got[2].Err != nil || got[2].Request.ID == "" {
		t.Errorf("entry 2 = %+v, want generated id", got[2])
	}

	if !errors.Is(got[3].Err, ErrMissingSender) {
		t.Errorf("entry 3 error = %v, want ErrMissingSender", got[3].Err)
	}

	want := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	if !got[4].Request.ReceivedAt.Equal(want) {
		t.Errorf("entry 4 ReceivedAt = %v, want %v", got[4].Request.ReceivedAt, want)
	}
}

func TestStream_LineTooLong(t *testing.T) {
	long := `{"phone_number":"+1555","content":"` + strings.Repeat("A", 200) + `"}`
	input := long + "\n" + `{"phone_number":"+1555","content":"ok"}` + "\n"

	got := streamAll(t, NewReader(Options{MaxLineBytes: 64}, strings.NewReader(input), nil))
	if len(got) != 2 {
		t.Fatalf("Stream() yielded %d entries, want 2", len(got))
	}
	if !errors.Is(got[0].Err, ErrLineTooLong) {
		t.Errorf("entry 0 error = %v, want ErrLineTooLong", got[0].Err)
	}
	if got[1].Err != nil || got[1].Request.Content != "ok" {
		t.Errorf("entry 1 = %+v", got[1])
	}
}

func TestStream_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := NewReader(Options{}, strings.NewReader(`{"phone_number":"+1"}`), nil)
	if err := r.Stream(ctx, make(chan model.Inbound)); !errors.Is(err, context.Canceled) {
		t.Errorf("Stream() error = %v, want context.Canceled", err)
	}
}

func TestProducer_FeedsRunner(t *testing.T) {
	path := filepath.Join(t.TempDir(), "inbox.jsonl")
	data := `{"id":"a","phone_number":"+1555","content":"one"}` + "\n" + `{"id":"b","phone_number":"+1555","content":"two"}` + "\n"
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}

	r := runner.NewWithTracker(config.Config{}, state.NewMemoryTracker(), nil)
	r.SubscribeStats("drain", func(ctx context.Context, events <-chan stats.Event) error {
		for range events {
		}
		return nil
	})
	if _, err := NewProducer(Options{Path: path}, r, nil); err != nil {
		t.Fatalf("NewProducer() error = %v", err)
	}

	var ids []string
	r.AddStage("worker", func(ctx context.Context) error {
		for req := range r.Jobs() {
			ids = append(ids, req.ID)
		}
		return nil
	})

	if err := r.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if strings.Join(ids, ",") != "a,b" {
		t.Errorf("jobs = %v, want [a b]", ids)
	}
}

func TestNewProducer_Errors(t *testing.T) {
	r := runner.NewWithTracker(config.Config{}, state.NewMemoryTracker(), nil)
	defer func() {
		r.CloseInbox()
		r.Stop()
	}()
	if _, err := NewProducer(Options{}, r, nil); err == nil {
		t.Error("NewProducer(empty path) error = nil")
	}
	if _, err := NewProducer(Options{Path: filepath.Join(t.TempDir(), "missing")}, r, nil); err == nil {
		t.Error("NewProducer(missing file) error = nil")
	}
}
