package contextfmt

import (
	"strings"
	"testing"

	"github.com/solace-run/memengine"
)

func TestRenderBasic(t *testing.T) {
	memories := []memengine.Memory{
		{MemoryID: "m1", Content: "runs a UDM Pro at home", Type: "network_hardware", Confidence: 0.82, ValidFrom: 1000},
	}

	got, err := Render(memories)
	if err != nil {
		t.Fatalf("Render returned error: %v", err)
	}
	if !strings.Contains(got, "network_hardware") {
		t.Errorf("rendered output missing type: %q", got)
	}
	if !strings.Contains(got, "0.82") {
		t.Errorf("rendered output missing confidence: %q", got)
	}
	if !strings.Contains(got, "runs a UDM Pro at home") {
		t.Errorf("rendered output missing content: %q", got)
	}
}

func TestRenderSupersededAnnotatesValidity(t *testing.T) {
	validUntil := int64(1700000000)
	memories := []memengine.Memory{
		{MemoryID: "m1", Content: "old router model", Type: "network_hardware", Confidence: 0.7, ValidFrom: 1000, ValidUntil: &validUntil},
	}

	got, err := Render(memories)
	if err != nil {
		t.Fatalf("Render returned error: %v", err)
	}
	if !strings.Contains(got, "superseded") {
		t.Errorf("expected superseded annotation, got %q", got)
	}
}

func TestRenderEscapesBulletPrefix(t *testing.T) {
	memories := []memengine.Memory{
		{MemoryID: "m1", Content: "- looks like a nested bullet", Type: "note", Confidence: 0.5, ValidFrom: 1},
	}

	got, err := Render(memories)
	if err != nil {
		t.Fatalf("Render returned error: %v", err)
	}
	if !strings.Contains(got, `\- looks like a nested bullet`) {
		t.Errorf("expected escaped bullet prefix, got %q", got)
	}
}

func TestRenderEmpty(t *testing.T) {
	got, err := Render(nil)
	if err != nil {
		t.Fatalf("Render returned error: %v", err)
	}
	if got != "" {
		t.Errorf("Render(nil) = %q, want empty string", got)
	}
}
