package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func TestNew_Formats(t *testing.T) {
	tests := []struct {
		format string
		want   string
	}{
		{"text", "msg=hello"},
		{"json", `"msg":"hello"`},
		{"pretty", `"msg": "hello"`},
	}
	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			var buf bytes.Buffer
			l, err := New(tt.format, "info", &buf)
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			l.Info("hello", "ply", 3)
			l.Debug("hidden")
			out := buf.String()
			if !strings.Contains(out, tt.want) {
				t.Fatalf("output %q missing %q", out, tt.want)
			}
			if strings.Contains(out, "hidden") {
				t.Fatalf("debug record leaked at info level: %q", out)
			}
		})
	}
}

func TestNew_Invalid(t *testing.T) {
	if _, err := New("xml", "info", &bytes.Buffer{}); err == nil {
		t.Fatalf("expected error for unknown format")
	}
	if _, err := New("text", "loud", &bytes.Buffer{}); err == nil {
		t.Fatalf("expected error for unknown level")
	}
}

func TestPrettyJSONHandler_GroupsAndErrors(t *testing.T) {
	var buf bytes.Buffer
	l := slog.New(NewPrettyJSONHandler(&buf, nil)).With("worker", 2).WithGroup("game")
	l.Warn("ply failed", "ply", 4, "error", errors.New("boom"))

	var payload map[string]any
	if err := json.Unmarshal(buf.Bytes(), &payload); err != nil {
		t.Fatalf("unmarshal %q: %v", buf.String(), err)
	}
	if payload["level"] != "WARN" || payload["msg"] != "ply failed" {
		t.Fatalf("payload=%v", payload)
	}
	game, ok := payload["game"].(map[string]any)
	if !ok {
		t.Fatalf("missing game group: %v", payload)
	}
	if game["ply"] != float64(4) || game["error"] != "boom" {
		t.Fatalf("game group=%v", game)
	}
}
