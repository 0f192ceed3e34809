package cmd

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dhcgn/sms-bridge/mbox"
	"github.com/dhcgn/sms-bridge/model"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var root = NewDecodeCommand()
	if args[0] == "outbox-stats" {
		root = NewOutboxStatsCommand()
	}
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args[1:])
	err := root.Execute()
	return out.String(), err
}

func TestDecodeCommand(t *testing.T) {
	payload := base64.StdEncoding.EncodeToString([]byte("\x03eciphertext"))
	plaintext := "base64:" + base64.StdEncoding.EncodeToString([]byte("alice@example.com:::Hi:Hello"))

	out, err := execute(t, "decode", payload, "--plaintext", plaintext)
	if err != nil {
		t.Fatalf("decode error = %v", err)
	}
	for _, want := range []string{"version: v0", "shape:   3", "bridge_letter", `"alice@example.com"`, `"Hello"`} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestDecodeCommand_Errors(t *testing.T) {
	if _, err := execute(t, "decode", "!!!"); err == nil {
		t.Error("decode(bad base64) error = nil")
	}
	payload := base64.StdEncoding.EncodeToString([]byte("\x03ex"))
	if _, err := execute(t, "decode", payload, "--plaintext", "x", "--format", "xml"); err == nil {
		t.Error("decode(bad format) error = nil")
	}
}

func TestDecodePlaintext(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"hex:6869", "hi"},
		{"base64:aGk=", "hi"},
		{"plain", "plain"},
	}
	for _, tt := range tests {
		got, err := decodePlaintext(tt.in)
		if err != nil || string(got) != tt.want {
			t.Errorf("decodePlaintext(%q) = %q, %v; want %q", tt.in, got, err, tt.want)
		}
	}
	if _, err := decodePlaintext("hex:zz"); err == nil {
		t.Error("decodePlaintext(hex:zz) error = nil")
	}
}

func TestOutboxStatsCommand(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "outbox.mbox")
	w, err := mbox.NewWriter(archive, nil)
	if err != nil {
		t.Fatal(err)
	}
	messages := []struct{ to, subject string }{
		{"alice@example.com", "Hi"},
		{"alice@example.com", "Again"},
		{"bob@blocked.org", "Spam"},
	}
	for i, m := range messages {
		raw := fmt.Sprintf("From: 1555@relaysms.me\r\nTo: %s\r\nSubject: %s\r\n\r\nbody\r\n", m.to, m.subject)
		if err := w.Deliver(context.Background(), model.Message{ID: fmt.Sprint(i), From: "1555@relaysms.me", CreatedAt: time.Now(), Raw: []byte(raw)}); err != nil {
			t.Fatal(err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	reports := filepath.Join(dir, "reports")
	out, err := execute(t, "outbox-stats", archive, "-o", reports, "--exclude-recipient", `@blocked\.org$`)
	if err != nil {
		t.Fatalf("outbox-stats error = %v", err)
	}
	if !strings.Contains(out, "Processed 2 messages (skipped 1 by filters") {
		t.Errorf("output = %s", out)
	}
	if !strings.Contains(out, "1. alice@example.com (2)") {
		t.Errorf("output missing top recipient:\n%s", out)
	}

	file, err := os.Open(filepath.Join(reports, "report_to.csv"))
	if err != nil {
		t.Fatal(err)
	}
	defer file.Close()
	rows, err := csv.NewReader(file).ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 || rows[1][0] != "alice@example.com" || rows[1][1] != "2" {
		t.Errorf("report_to.csv = %v", rows)
	}
}
