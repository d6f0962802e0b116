package roster

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/mrg275/proof2pay-agents/internal/config"
)

func baseConfig(workers ...config.WorkerConfig) *config.Config {
	return &config.Config{
		Models:  config.ModelsConfig{Opus: "model-opus", Sonnet: "model-sonnet", Haiku: "model-haiku"},
		Workers: workers,
	}
}

func TestCadenceDays(t *testing.T) {
	cases := map[Cadence]int{
		CadenceDaily:    1,
		CadenceWeekly:   7,
		CadenceBiweekly: 14,
		Cadence(""):     0,
	}
	for cadence, want := range cases {
		if got := cadence.Days(); got != want {
			t.Fatalf("%q: expected %d days, got %d", cadence, want, got)
		}
	}
}

func TestNewLoadsInstructionFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "regulatory.md")
	if err := os.WriteFile(path, []byte("Track stablecoin regulation."), 0o644); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	r, err := New(baseConfig(config.WorkerConfig{ID: "regulatory", InstructionsFile: path, Model: "sonnet"}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	worker, ok := r.Get("regulatory")
	if !ok {
		t.Fatalf("worker missing")
	}
	if worker.Instructions != "Track stablecoin regulation." {
		t.Fatalf("unexpected instructions: %q", worker.Instructions)
	}
}

func TestNewFailsOnMissingInstructionFile(t *testing.T) {
	_, err := New(baseConfig(config.WorkerConfig{
		ID:               "regulatory",
		InstructionsFile: filepath.Join(t.TempDir(), "missing.md"),
		Model:            "sonnet",
	}))
	if err == nil {
		t.Fatalf("expected error for missing instruction file")
	}
}

func TestDispatchableIDsExcludesCoordinator(t *testing.T) {
	r, err := New(baseConfig(
		config.WorkerConfig{ID: CoordinatorID, Instructions: "coordinate", Model: "opus"},
		config.WorkerConfig{ID: "regulatory", Instructions: "track", Model: "sonnet"},
		config.WorkerConfig{ID: "market_research", Instructions: "scan", Model: "sonnet"},
	))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ids := r.DispatchableIDs()
	if len(ids) != 2 {
		t.Fatalf("expected two dispatchable workers, got %v", ids)
	}
	for _, id := range ids {
		if id == CoordinatorID {
			t.Fatalf("coordinator must not be dispatchable")
		}
	}
}

func TestNamedSummaryIncludes(t *testing.T) {
	worker := Worker{ContextIncludes: []string{
		IncludeOwnMemory,
		"market_research_summary",
		IncludeAllSummaries,
		"regulatory_summary",
	}}
	ids := worker.NamedSummaryIncludes()
	if len(ids) != 2 || ids[0] != "market_research" || ids[1] != "regulatory" {
		t.Fatalf("unexpected named includes: %v", ids)
	}
}

func TestModelFor(t *testing.T) {
	r, err := New(baseConfig(config.WorkerConfig{ID: "w", Instructions: "x", Model: "haiku"}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	model, ok := r.ModelFor(TierHaiku)
	if !ok || model != "model-haiku" {
		t.Fatalf("unexpected model: %q %v", model, ok)
	}
	if _, ok := r.ModelFor(Tier("gigantic")); ok {
		t.Fatalf("unknown tier must not resolve")
	}
}
