// Package rules provides the CEL-Go based rule evaluation engine.
package rules

import (
	"fmt"
	"maps"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
)

// Engine evaluates a compiled rule catalog against feature rows.
type Engine struct {
	mu         sync.RWMutex
	env        *cel.Env
	catalog    Catalog
	thresholds map[string]float64
	compiled   []*CompiledRule
}

// CompiledRule holds a pre-compiled CEL program.
type CompiledRule struct {
	Rule    Rule
	Program cel.Program
}

// Input is one row handed to the rule predicates.
type Input struct {
	Features   map[string]float64
	Attributes map[string]string
}

// Result is the outcome of evaluating a catalog against one row.
type Result struct {
	// Fired holds one flag per rule, in catalog order.
	Fired []bool
	// Score is the sum of the weights of fired rules.
	Score float64
	// Factors are the labels of fired rules, in catalog order.
	Factors []string
}

// NewEngine creates a new rule evaluation engine with an empty catalog.
func NewEngine() (*Engine, error) {
	// Create CEL environment with row variables
	env, err := cel.NewEnv(
		cel.Variable("feature", cel.MapType(cel.StringType, cel.DoubleType)),
		cel.Variable("attr", cel.MapType(cel.StringType, cel.StringType)),
		cel.Variable("threshold", cel.MapType(cel.StringType, cel.DoubleType)),
		cel.CrossTypeNumericComparisons(true),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Engine{
		env:        env,
		thresholds: map[string]float64{},
	}, nil
}

// NewEngineWithCatalog creates an engine and loads the catalog into it.
func NewEngineWithCatalog(c Catalog, thresholds map[string]float64) (*Engine, error) {
	e, err := NewEngine()
	if err != nil {
		return nil, err
	}
	if err := e.Load(c, thresholds); err != nil {
		return nil, err
	}
	return e, nil
}

// ValidateRule compiles and validates a rule without mutating the loaded catalog.
func (e *Engine) ValidateRule(r Rule) error {
	e.mu.RLock()
	defer e.mu.RUnlock()

	_, err := e.compileRule(r)
	return err
}

// Load compiles every rule of the catalog and swaps it in. Thresholds are
// layered over the catalog's own defaults. On error the previous catalog
// stays loaded.
func (e *Engine) Load(c Catalog, thresholds map[string]float64) error {
	if err := c.Validate(); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	compiled := make([]*CompiledRule, 0, len(c.Rules))
	for _, r := range c.Rules {
		cr, err := e.compileRule(r)
		if err != nil {
			return err
		}
		compiled = append(compiled, cr)
	}

	merged := make(map[string]float64, len(c.Thresholds)+len(thresholds))
	maps.Copy(merged, c.Thresholds)
	maps.Copy(merged, thresholds)

	e.catalog = c
	e.thresholds = merged
	e.compiled = compiled
	return nil
}

// Evaluate runs every rule against the row in catalog order.
// A rule whose evaluation errors (for example a missing feature) does not fire.
func (e *Engine) Evaluate(in Input) Result {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return e.evaluate(in)
}

// EvaluateAll evaluates each row in order under a single catalog snapshot.
func (e *Engine) EvaluateAll(rows []Input) []Result {
	e.mu.RLock()
	defer e.mu.RUnlock()

	results := make([]Result, len(rows))
	for i, in := range rows {
		results[i] = e.evaluate(in)
	}
	return results
}

func (e *Engine) evaluate(in Input) Result {
	features := in.Features
	if features == nil {
		features = map[string]float64{}
	}
	attrs := in.Attributes
	if attrs == nil {
		attrs = map[string]string{}
	}

	// Prepare CEL activation variables
	activation := map[string]any{
		"feature":   features,
		"attr":      attrs,
		"threshold": e.thresholds,
	}

	result := Result{
		Fired:   make([]bool, len(e.compiled)),
		Factors: []string{},
	}
	for i, r := range e.compiled {
		if !fires(r, activation) {
			continue
		}
		result.Fired[i] = true
		result.Score += r.Rule.Weight
		result.Factors = append(result.Factors, r.Rule.Label)
	}
	return result
}

// fires evaluates a single rule. Errors and non-boolean results count as not fired.
func fires(r *CompiledRule, activation map[string]any) bool {
	out, _, err := r.Program.Eval(activation)
	if err != nil {
		return false
	}
	b, ok := out.(types.Bool)
	return ok && bool(b)
}

// Rules returns the loaded rules in catalog order.
func (e *Engine) Rules() []Rule {
	e.mu.RLock()
	defer e.mu.RUnlock()

	rules := make([]Rule, len(e.compiled))
	for i, cr := range e.compiled {
		rules[i] = cr.Rule
	}
	return rules
}

// Catalog returns the loaded catalog.
func (e *Engine) Catalog() Catalog {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.catalog
}

// Thresholds returns a copy of the effective thresholds.
func (e *Engine) Thresholds() map[string]float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return maps.Clone(e.thresholds)
}

// RulesCount returns the number of loaded rules.
func (e *Engine) RulesCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.compiled)
}

// Close cleans up the engine.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.compiled = nil
	e.catalog = Catalog{}
	return nil
}

func (e *Engine) compileRule(r Rule) (*CompiledRule, error) {
	ast, issues := e.env.Compile(r.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile rule %s: %w", r.Name, issues.Err())
	}

	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("rule %s: expression must return bool, got %s", r.Name, ast.OutputType())
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for rule %s: %w", r.Name, err)
	}

	return &CompiledRule{
		Rule:    r,
		Program: program,
	}, nil
}
