// Package query evaluates caller-supplied expressions against scene state
// payloads. Three engines behind one interface: jq (field extraction and
// reshaping), expr (deterministic logic), and CEL (guard conditions).
package query

import (
	"context"
	"fmt"
	"sort"
)

// Engine evaluates expressions against a scene state document.
type Engine interface {
	Name() string
	Evaluate(ctx context.Context, expression string, data map[string]any) (any, error)
}

// Engines is the set of available expression engines keyed by name.
type Engines struct {
	byName map[string]Engine
}

// NewEngines constructs the jq, expr, and cel engines.
func NewEngines() (*Engines, error) {
	celEngine, err := NewCELEngine()
	if err != nil {
		return nil, fmt.Errorf("create cel engine: %w", err)
	}

	engines := []Engine{NewGoJQEngine(), NewExprEngine(), celEngine}
	byName := make(map[string]Engine, len(engines))
	for _, e := range engines {
		byName[e.Name()] = e
	}
	return &Engines{byName: byName}, nil
}

// Get returns the engine with the given name.
func (e *Engines) Get(name string) (Engine, bool) {
	eng, ok := e.byName[name]
	return eng, ok
}

// Names returns the sorted engine names.
func (e *Engines) Names() []string {
	names := make([]string, 0, len(e.byName))
	for n := range e.byName {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
