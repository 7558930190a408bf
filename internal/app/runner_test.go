package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/ncastellan/flare-portfolio/internal/adapters"
	"github.com/ncastellan/flare-portfolio/internal/config"
	"github.com/ncastellan/flare-portfolio/internal/model"
	"github.com/ncastellan/flare-portfolio/internal/store"
)

const testAddress = "0xabcdef0123456789abcdef0123456789abcdef01"

type fakeAdapter struct {
	name      string
	category  model.Category
	positions []model.Position
	failed    []string
	err       error
}

func (f *fakeAdapter) Name() string             { return f.name }
func (f *fakeAdapter) Category() model.Category { return f.category }

func (f *fakeAdapter) FetchPositions(_ context.Context, _ adapters.Request) (adapters.Result, error) {
	if f.err != nil {
		return adapters.Result{}, f.err
	}
	return adapters.Result{Positions: f.positions, Failed: f.failed}, nil
}

func dv(value string) *decimal.Decimal {
	out := decimal.RequireFromString(value)
	return &out
}

func healthyAdapters() []adapters.Adapter {
	return []adapters.Adapter{
		&fakeAdapter{name: "tokens", category: model.CategoryToken, positions: []model.Position{
			{Category: model.CategoryToken, Protocol: "flare-wallet", Asset: "FLR", Quantity: decimal.RequireFromString("100"), ValueUSD: dv("1000")},
		}},
		&fakeAdapter{name: "staking", category: model.CategoryStaking, positions: []model.Position{
			{Category: model.CategoryStaking, Protocol: "sceptre", Asset: "FLR", Quantity: decimal.RequireFromString("50"), ValueUSD: dv("500")},
		}},
	}
}

type testHarness struct {
	runner  *Runner
	stdout  *bytes.Buffer
	stderr  *bytes.Buffer
	dataDir string
}

func newHarness(t *testing.T, list []adapters.Adapter) *testHarness {
	t.Helper()
	for _, name := range []string{"PORTFOLIO_ADDRESS", "PORTFOLIO_OUTPUT", "PORTFOLIO_DATA_DIR", "PORTFOLIO_RPC_URL"} {
		t.Setenv(name, "")
	}
	// Keep diagnostics out of stderr so tests can decode the error envelope.
	t.Setenv("PORTFOLIO_LOG", "error")
	h := &testHarness{
		stdout:  &bytes.Buffer{},
		stderr:  &bytes.Buffer{},
		dataDir: t.TempDir(),
	}
	h.runner = NewRunnerWithWriters(h.stdout, h.stderr)
	h.runner.newAdapters = func(_ config.Settings, _ zerolog.Logger) ([]adapters.Adapter, func(), error) {
		return list, func() {}, nil
	}
	return h
}

func (h *testHarness) run(t *testing.T, args ...string) int {
	t.Helper()
	h.stdout.Reset()
	h.stderr.Reset()
	full := append([]string{}, args...)
	full = append(full,
		"--config", filepath.Join(h.dataDir, "no-config.yaml"),
		"--data-dir", h.dataDir,
		"--no-cache",
	)
	return h.runner.Run(full)
}

func (h *testHarness) envelope(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var env map[string]any
	if err := json.Unmarshal(buf.Bytes(), &env); err != nil {
		t.Fatalf("output is not a json envelope: %v\n%s", err, buf.String())
	}
	return env
}

// seedBaseline writes one historical record straight into the snapshot store.
func (h *testHarness) seedBaseline(t *testing.T, age time.Duration, total string) {
	t.Helper()
	snapshots, err := store.Open(h.dataDir)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	value := decimal.RequireFromString(total)
	err = snapshots.Append(model.SnapshotRecord{
		Address:   testAddress,
		Timestamp: time.Now().UTC().Add(-age),
		TotalUSD:  value,
		TokenUSD:  value,
	})
	if err != nil {
		t.Fatalf("seed baseline: %v", err)
	}
}

func TestSnapshotCommand(t *testing.T) {
	h := newHarness(t, healthyAdapters())

	code := h.run(t, testAddress)
	if code != 0 {
		t.Fatalf("exit = %d, stderr: %s", code, h.stderr.String())
	}

	env := h.envelope(t, h.stdout)
	if env["success"] != true {
		t.Fatalf("success = %v", env["success"])
	}
	data := env["data"].(map[string]any)
	if data["address"] != testAddress {
		t.Fatalf("address = %v", data["address"])
	}
	if !decimal.RequireFromString(data["total_value_usd"].(string)).Equal(decimal.NewFromInt(1500)) {
		t.Fatalf("total = %v", data["total_value_usd"])
	}
	positions := data["positions"].([]any)
	if len(positions) != 2 {
		t.Fatalf("got %d positions", len(positions))
	}
	meta := env["meta"].(map[string]any)
	if meta["partial"] != false {
		t.Fatalf("partial = %v", meta["partial"])
	}
	if len(meta["sources"].([]any)) != 2 {
		t.Fatalf("sources = %v", meta["sources"])
	}
}

func TestSnapshotCommandPartialFailure(t *testing.T) {
	list := append(healthyAdapters(),
		&fakeAdapter{name: "dex-v3", category: model.CategoryLP, err: errors.New("rpc timeout")})
	h := newHarness(t, list)

	code := h.run(t, testAddress)
	if code != 0 {
		t.Fatalf("partial data must still exit 0, got %d: %s", code, h.stderr.String())
	}

	env := h.envelope(t, h.stdout)
	if env["success"] != true {
		t.Fatalf("success = %v", env["success"])
	}
	data := env["data"].(map[string]any)
	unavailable := data["unavailable_categories"].([]any)
	if len(unavailable) != 1 || unavailable[0] != "lp" {
		t.Fatalf("unavailable = %v", unavailable)
	}
	meta := env["meta"].(map[string]any)
	if meta["partial"] != true {
		t.Fatalf("partial flag not set")
	}
}

func TestSnapshotCommandAllSourcesDown(t *testing.T) {
	list := []adapters.Adapter{
		&fakeAdapter{name: "tokens", category: model.CategoryToken, err: errors.New("down")},
		&fakeAdapter{name: "staking", category: model.CategoryStaking, err: errors.New("down")},
	}
	h := newHarness(t, list)

	code := h.run(t, testAddress)
	if code != 12 {
		t.Fatalf("exit = %d, want 12", code)
	}

	env := h.envelope(t, h.stderr)
	if env["success"] != false {
		t.Fatalf("success = %v", env["success"])
	}
	errBody := env["error"].(map[string]any)
	if errBody["type"] != "source_unavailable" {
		t.Fatalf("error type = %v", errBody["type"])
	}
}

func TestSnapshotCommandInvalidAddress(t *testing.T) {
	h := newHarness(t, healthyAdapters())
	code := h.run(t, "not-an-address")
	if code != 2 {
		t.Fatalf("exit = %d, want 2", code)
	}
	env := h.envelope(t, h.stderr)
	if env["error"].(map[string]any)["type"] != "usage_error" {
		t.Fatalf("error = %v", env["error"])
	}
}

func TestTrackAndHistory(t *testing.T) {
	h := newHarness(t, healthyAdapters())

	if code := h.run(t, "track", testAddress); code != 0 {
		t.Fatalf("track exit = %d: %s", code, h.stderr.String())
	}
	env := h.envelope(t, h.stdout)
	record := env["data"].(map[string]any)
	if !decimal.RequireFromString(record["total_usd"].(string)).Equal(decimal.NewFromInt(1500)) {
		t.Fatalf("recorded total = %v", record["total_usd"])
	}

	if code := h.run(t, "history", testAddress, "--since", "7d"); code != 0 {
		t.Fatalf("history exit = %d: %s", code, h.stderr.String())
	}
	env = h.envelope(t, h.stdout)
	records := env["data"].([]any)
	if len(records) != 1 {
		t.Fatalf("history has %d records, want 1", len(records))
	}
}

func TestTrackDeclinesEmptySnapshot(t *testing.T) {
	list := []adapters.Adapter{
		&fakeAdapter{name: "tokens", category: model.CategoryToken, err: errors.New("down")},
	}
	h := newHarness(t, list)

	code := h.run(t, "track", testAddress)
	if code != 12 {
		t.Fatalf("exit = %d, want 12", code)
	}

	// Nothing was recorded.
	if code := h.run(t, "history", testAddress); code != 0 {
		t.Fatalf("history exit = %d", code)
	}
	env := h.envelope(t, h.stdout)
	if records := env["data"].([]any); len(records) != 0 {
		t.Fatalf("a failed track must not write a record, got %d", len(records))
	}
}

func TestCompareAgainstBaseline(t *testing.T) {
	h := newHarness(t, healthyAdapters())
	h.seedBaseline(t, 48*time.Hour, "1000")

	code := h.run(t, "compare", "1d", testAddress)
	if code != 0 {
		t.Fatalf("compare exit = %d: %s", code, h.stderr.String())
	}

	env := h.envelope(t, h.stdout)
	data := env["data"].(map[string]any)
	deltas := data["deltas"].([]any)
	if len(deltas) != len(model.AllMetrics()) {
		t.Fatalf("got %d deltas, want %d", len(deltas), len(model.AllMetrics()))
	}
	for _, raw := range deltas {
		delta := raw.(map[string]any)
		if delta["metric"] != "total_usd" {
			continue
		}
		abs := decimal.RequireFromString(delta["delta_absolute"].(string))
		if !abs.Equal(decimal.NewFromInt(500)) {
			t.Fatalf("total delta = %s, want 500", abs)
		}
		pct := decimal.RequireFromString(delta["delta_percent"].(string))
		if !pct.Equal(decimal.NewFromInt(50)) {
			t.Fatalf("total delta pct = %s, want 50", pct)
		}
	}
}

func TestCompareWithoutHistory(t *testing.T) {
	h := newHarness(t, healthyAdapters())

	code := h.run(t, "compare", "7d", testAddress)
	if code != 21 {
		t.Fatalf("exit = %d, want 21", code)
	}
	env := h.envelope(t, h.stderr)
	if env["error"].(map[string]any)["type"] != "no_baseline" {
		t.Fatalf("error = %v", env["error"])
	}
}

func TestCompareNoCurrent(t *testing.T) {
	list := []adapters.Adapter{
		&fakeAdapter{name: "tokens", category: model.CategoryToken, err: errors.New("down")},
	}
	h := newHarness(t, list)
	h.seedBaseline(t, 48*time.Hour, "1000")

	code := h.run(t, "compare", "1d", testAddress)
	if code != 22 {
		t.Fatalf("exit = %d, want 22", code)
	}
	env := h.envelope(t, h.stderr)
	if env["error"].(map[string]any)["type"] != "no_current" {
		t.Fatalf("error = %v", env["error"])
	}
}

func TestCompareInvalidOffset(t *testing.T) {
	h := newHarness(t, healthyAdapters())
	code := h.run(t, "compare", "yesterday", testAddress)
	if code != 2 {
		t.Fatalf("exit = %d, want 2", code)
	}
}

func TestUnknownCategoryFlag(t *testing.T) {
	h := newHarness(t, healthyAdapters())
	code := h.run(t, testAddress, "--categories", "bonds")
	if code != 2 {
		t.Fatalf("exit = %d, want 2", code)
	}
}

func TestNoAddressAnywhere(t *testing.T) {
	h := newHarness(t, healthyAdapters())
	code := h.run(t)
	if code != 2 {
		t.Fatalf("exit = %d, want 2", code)
	}
}

func TestVersionCommand(t *testing.T) {
	h := newHarness(t, nil)
	if code := h.run(t, "version"); code != 0 {
		t.Fatalf("version exit = %d", code)
	}
	if h.stdout.Len() == 0 {
		t.Fatalf("version printed nothing")
	}
}
