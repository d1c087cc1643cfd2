package seed

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"leadrouter/app/core/crm/db"
	"leadrouter/app/core/crm/store"
)

const sampleTopology = `
sources:
  - code: landing
    name: Landing Page
    description: web form
  - code: bot
    name: Chat Bot
operators:
  - name: Alice
    max_concurrent: 3
  - name: Bob
    is_active: false
weights:
  - source: landing
    operators:
      Alice: 75
      Bob: 25
`

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	database, err := db.NewSQLiteDB(t.TempDir())
	if err != nil {
		t.Fatalf("init sqlite failed: %v", err)
	}
	t.Cleanup(func() { _ = database.Close() })
	return store.NewStore(database)
}

func TestParseValidTopology(t *testing.T) {
	topo, err := Parse([]byte(sampleTopology))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if len(topo.Sources) != 2 || len(topo.Operators) != 2 || len(topo.Weights) != 1 {
		t.Fatalf("unexpected topology shape: %+v", topo)
	}
	if topo.Weights[0].PerName["Alice"] != 75 {
		t.Fatalf("unexpected weight: %v", topo.Weights[0].PerName)
	}
	if topo.Operators[1].IsActive == nil || *topo.Operators[1].IsActive {
		t.Fatalf("is_active false was not preserved: %+v", topo.Operators[1])
	}
}

func TestParseRejectsBadTopologies(t *testing.T) {
	cases := map[string]string{
		"empty payload":       "   \n",
		"duplicate source":    "sources:\n  - code: a\n  - code: a\n",
		"empty operator name": "operators:\n  - max_concurrent: 2\n",
		"duplicate operator":  "operators:\n  - name: Alice\n  - name: Alice\n",
		"negative capacity":   "operators:\n  - name: Alice\n    max_concurrent: -1\n",
		"negative weight":     "weights:\n  - source: a\n    operators:\n      Alice: -5\n",
		"weight no source":    "weights:\n  - operators:\n      Alice: 5\n",
	}
	for name, raw := range cases {
		if _, err := Parse([]byte(raw)); err == nil {
			t.Fatalf("%s: expected parse error", name)
		}
	}
}

func TestApplyCreatesTopology(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	topo, err := Parse([]byte(sampleTopology))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if err := Apply(ctx, st, topo); err != nil {
		t.Fatalf("apply failed: %v", err)
	}

	src, err := st.GetSourceByCode(ctx, "landing")
	if err != nil {
		t.Fatalf("source not created: %v", err)
	}
	ops, err := st.ListOperators(ctx)
	if err != nil {
		t.Fatalf("list operators failed: %v", err)
	}
	if len(ops) != 2 {
		t.Fatalf("expected 2 operators, got %d", len(ops))
	}
	for _, op := range ops {
		switch op.Name {
		case "Alice":
			if !op.IsActive || op.MaxConcurrent != 3 {
				t.Fatalf("unexpected Alice: %+v", op)
			}
		case "Bob":
			if op.IsActive || op.MaxConcurrent != 5 {
				t.Fatalf("unexpected Bob: %+v", op)
			}
		default:
			t.Fatalf("unexpected operator %q", op.Name)
		}
	}

	rows, err := st.WeightsForSource(ctx, src.ID)
	if err != nil {
		t.Fatalf("weights lookup failed: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 weight rows, got %d", len(rows))
	}
}

func TestApplyIsIdempotent(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	topo, err := Parse([]byte(sampleTopology))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if err := Apply(ctx, st, topo); err != nil {
		t.Fatalf("first apply failed: %v", err)
	}
	if err := Apply(ctx, st, topo); err != nil {
		t.Fatalf("second apply failed: %v", err)
	}

	ops, err := st.ListOperators(ctx)
	if err != nil {
		t.Fatalf("list operators failed: %v", err)
	}
	if len(ops) != 2 {
		t.Fatalf("re-apply duplicated operators: %d", len(ops))
	}
	srcs, err := st.ListSources(ctx)
	if err != nil {
		t.Fatalf("list sources failed: %v", err)
	}
	if len(srcs) != 2 {
		t.Fatalf("re-apply duplicated sources: %d", len(srcs))
	}
}

func TestApplyRejectsUnknownOperatorInWeights(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	topo, err := Parse([]byte("sources:\n  - code: landing\n    name: L\nweights:\n  - source: landing\n    operators:\n      Ghost: 10\n"))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if err := Apply(ctx, st, topo); err == nil {
		t.Fatalf("expected error for unknown operator reference")
	}
}

func TestApplyFileSkipsMissingFile(t *testing.T) {
	st := newTestStore(t)
	if err := ApplyFile(context.Background(), st, filepath.Join(t.TempDir(), "nope.yaml")); err != nil {
		t.Fatalf("missing file must be skipped: %v", err)
	}
}

func TestApplyFileLoadsTopology(t *testing.T) {
	st := newTestStore(t)
	path := filepath.Join(t.TempDir(), "topology.yaml")
	if err := os.WriteFile(path, []byte(sampleTopology), 0644); err != nil {
		t.Fatalf("write topology: %v", err)
	}

	if err := ApplyFile(context.Background(), st, path); err != nil {
		t.Fatalf("apply file failed: %v", err)
	}
	if _, err := st.GetSourceByCode(context.Background(), "bot"); err != nil {
		t.Fatalf("topology not applied: %v", err)
	}
}
