package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestNew_Formats(t *testing.T) {
	tests := []struct {
		name    string
		format  string
		isJSON  bool
		wantErr bool
	}{
		{"default is json", "", true, false},
		{"json", "json", true, false},
		{"text", "text", false, false},
		{"console is text", "console", false, false},
		{"unknown", "logfmt", false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			l, err := New(Config{Level: "info", Format: tt.format, Output: &buf})
			if tt.wantErr {
				if err == nil {
					t.Fatal("New() should fail")
				}
				return
			}
			if err != nil {
				t.Fatalf("New() error = %v", err)
			}
			l.Info("participant started", "identity", "billing.v2")

			var entry map[string]any
			gotJSON := json.Unmarshal(buf.Bytes(), &entry) == nil
			if gotJSON != tt.isJSON {
				t.Errorf("JSON output = %v, want %v: %s", gotJSON, tt.isJSON, buf.String())
			}
			if !strings.Contains(buf.String(), "billing.v2") {
				t.Errorf("output missing attribute: %s", buf.String())
			}
		})
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"debug", slog.LevelDebug, false},
		{"INFO", slog.LevelInfo, false},
		{"", slog.LevelInfo, false},
		{"warning", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"trace", slog.LevelInfo, true},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestSetLevel_AffectsExistingLoggers(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(Config{Level: "warn", Output: &buf})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = SetLevel("info") })

	l.Info("dropped")
	if buf.Len() != 0 {
		t.Fatalf("info logged at warn level: %s", buf.String())
	}

	if err := SetLevel("debug"); err != nil {
		t.Fatal(err)
	}
	if Level() != "debug" {
		t.Errorf("Level() = %q, want debug", Level())
	}
	l.Debug("kept")
	if !strings.Contains(buf.String(), "kept") {
		t.Errorf("debug record missing after SetLevel: %s", buf.String())
	}

	if err := SetLevel("verbose"); err == nil {
		t.Error("SetLevel accepted an unknown level")
	}
	if Level() != "debug" {
		t.Errorf("failed SetLevel changed the level to %q", Level())
	}
}

func TestComponent(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(Config{Output: &buf})
	if err != nil {
		t.Fatal(err)
	}
	Component(l, "consensus").Info("transponder elected")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatal(err)
	}
	if entry["component"] != "consensus" {
		t.Errorf("component = %v, want consensus", entry["component"])
	}
	if Component(nil, "x") == nil {
		t.Error("Component(nil) returned nil")
	}
}

func TestNew_RedactsSecrets(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(Config{Output: &buf})
	if err != nil {
		t.Fatal(err)
	}
	l.Info("join", "admission_token", "cmat_AAAABBBBCCCCDDDD", "peer", "10.0.0.5")

	out := buf.String()
	if strings.Contains(out, "AAAABBBBCCCC") {
		t.Errorf("token leaked: %s", out)
	}
	if !strings.Contains(out, "10.0.0.5") {
		t.Errorf("non-secret attribute dropped: %s", out)
	}
}
