package seed

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"leadrouter/app/core/crm/store"
	"leadrouter/app/pkg/logger"
)

// Topology is the declarative routing setup applied at startup:
// sources, operators and per-source weight tables.
type Topology struct {
	Sources   []SourceDef   `yaml:"sources"`
	Operators []OperatorDef `yaml:"operators"`
	Weights   []WeightDef   `yaml:"weights"`
}

type SourceDef struct {
	Code        string `yaml:"code"`
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
}

type OperatorDef struct {
	Name          string `yaml:"name"`
	IsActive      *bool  `yaml:"is_active"`
	MaxConcurrent *int   `yaml:"max_concurrent"`
}

type WeightDef struct {
	Source  string             `yaml:"source"`
	PerName map[string]float64 `yaml:"operators"`
}

// Parse decodes and validates a topology payload.
func Parse(data []byte) (Topology, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return Topology{}, fmt.Errorf("seed: topology payload is empty")
	}
	var topo Topology
	if err := yaml.Unmarshal(data, &topo); err != nil {
		return Topology{}, fmt.Errorf("seed: decode topology: %w", err)
	}
	if err := topo.Validate(); err != nil {
		return Topology{}, err
	}
	return topo, nil
}

func (t Topology) Validate() error {
	seenSources := make(map[string]bool, len(t.Sources))
	for _, s := range t.Sources {
		if s.Code == "" {
			return fmt.Errorf("seed: source with empty code")
		}
		if seenSources[s.Code] {
			return fmt.Errorf("seed: duplicate source code %q", s.Code)
		}
		seenSources[s.Code] = true
	}
	seenOps := make(map[string]bool, len(t.Operators))
	for _, o := range t.Operators {
		if o.Name == "" {
			return fmt.Errorf("seed: operator with empty name")
		}
		if seenOps[o.Name] {
			return fmt.Errorf("seed: duplicate operator name %q", o.Name)
		}
		seenOps[o.Name] = true
		if o.MaxConcurrent != nil && *o.MaxConcurrent < 0 {
			return fmt.Errorf("seed: operator %q max_concurrent must be >= 0", o.Name)
		}
	}
	for _, w := range t.Weights {
		if w.Source == "" {
			return fmt.Errorf("seed: weight block with empty source")
		}
		for name, weight := range w.PerName {
			if weight < 0 {
				return fmt.Errorf("seed: weight for %q/%q must be >= 0", w.Source, name)
			}
		}
	}
	return nil
}

// Apply upserts the topology: sources matched by code and operators by
// name are reused, weight tables are fully replaced per source.
// Re-running with the same file is a no-op apart from weight rewrites.
func Apply(ctx context.Context, st *store.Store, topo Topology) error {
	sourceIDs := make(map[string]int64, len(topo.Sources))
	for _, def := range topo.Sources {
		src, err := st.GetSourceByCode(ctx, def.Code)
		if errors.Is(err, sql.ErrNoRows) {
			src, err = st.CreateSource(ctx, def.Code, def.Name, def.Description)
			if err == nil {
				logger.Info("seed: created source %s", def.Code)
			}
		}
		if err != nil {
			return fmt.Errorf("seed: source %q: %w", def.Code, err)
		}
		sourceIDs[src.Code] = src.ID
	}

	existing, err := st.ListOperators(ctx)
	if err != nil {
		return fmt.Errorf("seed: list operators: %w", err)
	}
	operatorIDs := make(map[string]int64, len(existing))
	for _, op := range existing {
		operatorIDs[op.Name] = op.ID
	}
	for _, def := range topo.Operators {
		if _, ok := operatorIDs[def.Name]; ok {
			continue
		}
		isActive := true
		if def.IsActive != nil {
			isActive = *def.IsActive
		}
		maxConcurrent := 5
		if def.MaxConcurrent != nil {
			maxConcurrent = *def.MaxConcurrent
		}
		op, err := st.CreateOperator(ctx, def.Name, isActive, maxConcurrent)
		if err != nil {
			return fmt.Errorf("seed: operator %q: %w", def.Name, err)
		}
		logger.Info("seed: created operator %s", def.Name)
		operatorIDs[op.Name] = op.ID
	}

	for _, w := range topo.Weights {
		sourceID, ok := sourceIDs[w.Source]
		if !ok {
			src, err := st.GetSourceByCode(ctx, w.Source)
			if err != nil {
				return fmt.Errorf("seed: weights reference unknown source %q", w.Source)
			}
			sourceID = src.ID
		}
		rows := make([]store.WeightRow, 0, len(w.PerName))
		for name, weight := range w.PerName {
			operatorID, ok := operatorIDs[name]
			if !ok {
				return fmt.Errorf("seed: weights for %q reference unknown operator %q", w.Source, name)
			}
			rows = append(rows, store.WeightRow{OperatorID: operatorID, Weight: weight})
		}
		if err := st.ReplaceWeights(ctx, sourceID, rows); err != nil {
			return fmt.Errorf("seed: weights for %q: %w", w.Source, err)
		}
	}
	return nil
}

// ApplyFile loads and applies a topology file. A missing file is not an
// error so deployments without seeding need no config change.
func ApplyFile(ctx context.Context, st *store.Store, path string) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Info("seed: no topology file at %s, skipping", path)
			return nil
		}
		return fmt.Errorf("seed: read %s: %w", path, err)
	}
	topo, err := Parse(data)
	if err != nil {
		return fmt.Errorf("seed: %s: %w", path, err)
	}
	return Apply(ctx, st, topo)
}
