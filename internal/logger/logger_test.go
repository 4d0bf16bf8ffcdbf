package logger

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestNew_Modes(t *testing.T) {
	for _, mode := range []string{"dev", "prod", "nop"} {
		l, err := New(mode, "")
		if err != nil {
			t.Fatalf("New(%q) failed: %v", mode, err)
		}
		l.Info("hello", "mode", mode)
	}

	if _, err := New("dev", "loud"); err == nil {
		t.Error("expected error for invalid level")
	}
}

func TestRedaction(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	l := FromZap(zap.New(core))

	l.Warn("calling provider", "api_key", "sk-123", "Authorization", "Bearer x", "model", "gpt-4.1-mini")

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["api_key"] != "[REDACTED]" {
		t.Errorf("api_key not redacted: %v", fields["api_key"])
	}
	if fields["Authorization"] != "[REDACTED]" {
		t.Errorf("Authorization not redacted: %v", fields["Authorization"])
	}
	if fields["model"] != "gpt-4.1-mini" {
		t.Errorf("model = %v", fields["model"])
	}
}

func TestWith(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	l := FromZap(zap.New(core)).With("component", "cache")
	l.Debug("loaded", "entries", 3)

	fields := logs.All()[0].ContextMap()
	if fields["component"] != "cache" {
		t.Errorf("component = %v", fields["component"])
	}
	if fields["entries"] != int64(3) {
		t.Errorf("entries = %v (%T)", fields["entries"], fields["entries"])
	}
}
