package out

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/ncastellan/flare-portfolio/internal/config"
	"github.com/ncastellan/flare-portfolio/internal/model"
)

func testEnvelope() model.Envelope {
	return model.Envelope{
		Version: model.EnvelopeVersion,
		Success: true,
		Data:    map[string]any{"total_value_usd": "1200.50", "address": "0xabc"},
		Meta: model.EnvelopeMeta{
			RequestID: "req-1",
			Timestamp: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
			Command:   "snapshot",
		},
	}
}

func TestRenderJSON(t *testing.T) {
	var buf bytes.Buffer
	err := Render(&buf, testEnvelope(), config.Settings{OutputMode: "json"})
	if err != nil {
		t.Fatalf("render: %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("output is not valid json: %v", err)
	}
	if decoded["version"] != model.EnvelopeVersion {
		t.Fatalf("version = %v", decoded["version"])
	}
	if decoded["success"] != true {
		t.Fatalf("success = %v", decoded["success"])
	}
	if _, ok := decoded["meta"]; !ok {
		t.Fatalf("meta missing from envelope output")
	}
}

func TestRenderResultsOnly(t *testing.T) {
	var buf bytes.Buffer
	err := Render(&buf, testEnvelope(), config.Settings{OutputMode: "json", ResultsOnly: true})
	if err != nil {
		t.Fatalf("render: %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("output is not valid json: %v", err)
	}
	if _, ok := decoded["meta"]; ok {
		t.Fatalf("results-only output must drop the envelope")
	}
	if decoded["address"] != "0xabc" {
		t.Fatalf("data lost: %v", decoded)
	}
}

func TestRenderPlain(t *testing.T) {
	var buf bytes.Buffer
	err := Render(&buf, testEnvelope(), config.Settings{OutputMode: "plain", ResultsOnly: true})
	if err != nil {
		t.Fatalf("render: %v", err)
	}

	line := strings.TrimSpace(buf.String())
	if !strings.Contains(line, "address=0xabc") || !strings.Contains(line, "total_value_usd=1200.50") {
		t.Fatalf("plain output = %q", line)
	}
	// Keys are sorted for stable agent parsing.
	if strings.Index(line, "address=") > strings.Index(line, "total_value_usd=") {
		t.Fatalf("keys not sorted: %q", line)
	}
}

func TestRenderPlainList(t *testing.T) {
	env := testEnvelope()
	env.Data = []map[string]any{
		{"metric": "total_usd", "current": "1200"},
		{"metric": "token_usd", "current": "900"},
	}

	var buf bytes.Buffer
	err := Render(&buf, env, config.Settings{OutputMode: "plain", ResultsOnly: true})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want one per item", len(lines))
	}
}

func TestRenderPlainEmptyList(t *testing.T) {
	env := testEnvelope()
	env.Data = []map[string]any{}

	var buf bytes.Buffer
	if err := Render(&buf, env, config.Settings{OutputMode: "plain", ResultsOnly: true}); err != nil {
		t.Fatalf("render: %v", err)
	}
	if strings.TrimSpace(buf.String()) != "[]" {
		t.Fatalf("empty list output = %q", buf.String())
	}
}
