// Package alerts provides the CEL-based follow-up alert engine.
// Clinicians configure boolean rules over scored assessment fields; rules
// that fire notify the care team through the event bus.
package alerts

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/opensense-health/kestrel/internal/domain"
)

// Engine compiles and evaluates alert rules.
type Engine struct {
	mu            sync.RWMutex
	env           *cel.Env
	compiledRules map[string]*CompiledRule
	maxWorkers    int
}

// CompiledRule holds a pre-compiled CEL program.
type CompiledRule struct {
	Rule    *domain.AlertRule
	Program cel.Program
}

// NewEngine creates an alert engine with the assessment field environment.
func NewEngine(maxWorkers int) (*Engine, error) {
	if maxWorkers <= 0 {
		maxWorkers = 10
	}

	env, err := cel.NewEnv(
		cel.Variable("assessment", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("composite_risk_score", cel.DoubleType),
		cel.Variable("composite_risk_level", cel.StringType),
		cel.Variable("concern_probability", cel.DoubleType),
		cel.Variable("hybrid_risk", cel.DoubleType),
		cel.Variable("confidence", cel.DoubleType),
		cel.Variable("recommend_retest", cel.BoolType),
		cel.Variable("anomaly_alert", cel.StringType),
		cel.Variable("alzheimers_risk", cel.DoubleType),
		cel.Variable("dementia_risk", cel.DoubleType),
		cel.Variable("parkinsons_risk", cel.DoubleType),
		// Per-domain scores; absent domains surface as -1.
		cel.Variable("speech_score", cel.DoubleType),
		cel.Variable("memory_score", cel.DoubleType),
		cel.Variable("reaction_score", cel.DoubleType),
		cel.Variable("executive_score", cel.DoubleType),
		cel.Variable("motor_score", cel.DoubleType),
		cel.Variable("sessions_in_window", cel.IntType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Engine{
		env:           env,
		compiledRules: make(map[string]*CompiledRule),
		maxWorkers:    maxWorkers,
	}, nil
}

// ValidateRule compiles a rule without loading it.
func (e *Engine) ValidateRule(rule *domain.AlertRule) error {
	if rule == nil {
		return fmt.Errorf("alert rule is required")
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	_, err := e.compileRule(rule)
	return err
}

// LoadRule compiles and loads a rule into the engine.
func (e *Engine) LoadRule(rule *domain.AlertRule) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	compiled, err := e.compileRule(rule)
	if err != nil {
		return err
	}

	e.compiledRules[rule.ID] = compiled

	return nil
}

// LoadRules compiles and loads multiple rules.
func (e *Engine) LoadRules(rules []*domain.AlertRule) error {
	for _, rule := range rules {
		if rule.Enabled {
			if err := e.LoadRule(rule); err != nil {
				return err
			}
		}
	}
	return nil
}

// EvaluateInput carries one scored assessment plus its session-velocity
// context.
type EvaluateInput struct {
	TenantID         string
	Assessment       *domain.Assessment
	SessionsInWindow int64
}

// EvaluateAll evaluates every loaded rule against an assessment in
// parallel. A rule that fails to evaluate reports its error in the result
// instead of failing the batch.
func (e *Engine) EvaluateAll(ctx context.Context, input *EvaluateInput) ([]domain.AlertResult, error) {
	e.mu.RLock()
	rules := make([]*CompiledRule, 0, len(e.compiledRules))
	for _, rule := range e.compiledRules {
		rules = append(rules, rule)
	}
	e.mu.RUnlock()

	if len(rules) == 0 {
		return nil, nil
	}

	activation := activationFor(input)

	results := make([]domain.AlertResult, len(rules))
	var wg sync.WaitGroup

	// Limit concurrency with semaphore
	sem := make(chan struct{}, e.maxWorkers)

	for i, rule := range rules {
		wg.Add(1)
		go func(idx int, r *CompiledRule) {
			defer wg.Done()

			sem <- struct{}{}        // Acquire
			defer func() { <-sem }() // Release

			results[idx] = e.evaluateRule(r, activation, input)
		}(i, rule)
	}

	wg.Wait()

	return results, nil
}

// Triggered filters the results down to rules that fired, urgent first.
func Triggered(results []domain.AlertResult) []domain.AlertResult {
	var out []domain.AlertResult
	for _, sev := range []string{domain.SeverityUrgent, domain.SeverityFollowup, domain.SeverityNotice} {
		for _, r := range results {
			if r.Triggered && r.Severity == sev {
				out = append(out, r)
			}
		}
	}
	return out
}

func activationFor(input *EvaluateInput) map[string]any {
	a := input.Assessment

	scoreOr := func(m domain.Metric) float64 {
		if !m.Valid {
			return -1
		}
		return m.Value
	}

	return map[string]any{
		"assessment": map[string]any{
			"id":         a.ID,
			"subject_id": a.SubjectID,
			"warnings":   len(a.Warnings),
		},
		"composite_risk_score": a.CompositeRiskScore,
		"composite_risk_level": a.CompositeRiskLevel,
		"concern_probability":  a.ConcernProbability,
		"hybrid_risk":          a.HybridRisk,
		"confidence":           a.Confidence,
		"recommend_retest":     a.RecommendRetest,
		"anomaly_alert":        string(a.AnomalyAlert),
		"alzheimers_risk":      a.Diseases.Alzheimers,
		"dementia_risk":        a.Diseases.Dementia,
		"parkinsons_risk":      a.Diseases.Parkinsons,
		"speech_score":         scoreOr(a.Scores.Speech),
		"memory_score":         scoreOr(a.Scores.Get(domain.DomainMemory)),
		"reaction_score":       scoreOr(a.Scores.Reaction),
		"executive_score":      scoreOr(a.Scores.Executive),
		"motor_score":          scoreOr(a.Scores.Motor),
		"sessions_in_window":   input.SessionsInWindow,
	}
}

// evaluateRule evaluates a single rule and returns the result.
func (e *Engine) evaluateRule(rule *CompiledRule, activation map[string]any, input *EvaluateInput) domain.AlertResult {
	start := time.Now()

	result := domain.AlertResult{
		RuleID:       rule.Rule.ID,
		TenantID:     input.TenantID,
		AssessmentID: input.Assessment.ID,
	}

	out, _, err := rule.Program.Eval(activation)
	if err != nil {
		result.Error = fmt.Sprintf("evaluation error: %v", err)
		result.ProcessMs = time.Since(start).Milliseconds()
		return result
	}

	if b, ok := out.(types.Bool); ok && bool(b) {
		result.Triggered = true
		result.Severity = rule.Rule.Severity
		result.Message = rule.Rule.Message
	}
	result.ProcessMs = time.Since(start).Milliseconds()

	return result
}

// RulesCount returns the number of loaded rules.
func (e *Engine) RulesCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.compiledRules)
}

// ReloadRules clears all existing rules and loads new ones.
// This enables hot-reloading of rules from the database.
func (e *Engine) ReloadRules(rules []*domain.AlertRule) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	newRules := make(map[string]*CompiledRule)

	for _, rule := range rules {
		if !rule.Enabled {
			continue
		}

		compiled, err := e.compileRule(rule)
		if err != nil {
			return err
		}
		newRules[rule.ID] = compiled
	}

	e.compiledRules = newRules

	return nil
}

// GetLoadedRules returns the currently loaded rule configurations.
func (e *Engine) GetLoadedRules() []*domain.AlertRule {
	e.mu.RLock()
	defer e.mu.RUnlock()

	rules := make([]*domain.AlertRule, 0, len(e.compiledRules))
	for _, compiled := range e.compiledRules {
		rules = append(rules, compiled.Rule)
	}
	return rules
}

// Close cleans up the engine.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.compiledRules = make(map[string]*CompiledRule)
	return nil
}

func (e *Engine) compileRule(rule *domain.AlertRule) (*CompiledRule, error) {
	ast, issues := e.env.Compile(rule.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile rule %s: %w", rule.ID, issues.Err())
	}

	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("rule %s: expression must return bool, got %s", rule.ID, ast.OutputType())
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for rule %s: %w", rule.ID, err)
	}

	return &CompiledRule{
		Rule:    rule,
		Program: program,
	}, nil
}
