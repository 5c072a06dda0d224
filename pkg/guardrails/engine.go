package guardrails

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/ast"
	"github.com/open-policy-agent/opa/rego"
	"github.com/open-policy-agent/opa/storage"
	"github.com/open-policy-agent/opa/storage/inmem"
	"github.com/rs/zerolog"

	"github.com/seoagent/governor/pkg/policy"
)

// Engine compiles guardrail rules and evaluates them against action
// decisions. It implements policy.GuardrailEvaluator.
type Engine struct {
	mu     sync.RWMutex
	rules  map[string]*compiledRule
	store  storage.Store
	loader *Loader
	logger zerolog.Logger
}

// compiledRule holds the prepared deny and warn queries of one rule.
type compiledRule struct {
	rule     *Rule
	module   *ast.Module
	deny     rego.PreparedEvalQuery
	warn     rego.PreparedEvalQuery
	compiled time.Time
}

// Option configures an Engine.
type Option func(*engineConfig)

type engineConfig struct {
	params map[string]interface{}
}

// WithParams replaces the values exposed as data.governor.params.
func WithParams(params map[string]interface{}) Option {
	return func(c *engineConfig) { c.params = params }
}

// NewEngine creates a guardrail engine with the built-in rules loaded.
func NewEngine(logger zerolog.Logger, opts ...Option) (*Engine, error) {
	cfg := engineConfig{params: DefaultParams()}
	for _, opt := range opts {
		opt(&cfg)
	}

	logger = logger.With().Str("component", "guardrails").Logger()

	e := &Engine{
		rules: make(map[string]*compiledRule),
		store: inmem.NewFromObject(map[string]interface{}{
			"governor": map[string]interface{}{"params": cfg.params},
		}),
		loader: NewLoader(logger),
		logger: logger,
	}

	if err := e.loadBuiltinRules(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to load built-in rules: %w", err)
	}

	return e, nil
}

// EvaluateAction runs every enabled rule against input. Deny entries of
// blocking rules produce blocking findings, everything else is a warning.
// An evaluation error aborts the whole evaluation.
func (e *Engine) EvaluateAction(ctx context.Context, input policy.GuardrailInput) ([]policy.GuardrailFinding, error) {
	violations, err := e.Evaluate(ctx, input)
	if err != nil {
		return nil, err
	}

	findings := make([]policy.GuardrailFinding, 0, len(violations))
	for _, v := range violations {
		findings = append(findings, policy.GuardrailFinding{
			Rule:     v.Rule,
			Message:  v.Message,
			Blocking: v.Severity.Blocking(),
		})
	}
	return findings, nil
}

// Evaluate returns the violations produced by every enabled rule, in rule
// name order.
func (e *Engine) Evaluate(ctx context.Context, input policy.GuardrailInput) ([]Violation, error) {
	startTime := time.Now()
	e.mu.RLock()
	defer e.mu.RUnlock()

	var violations []Violation
	for _, name := range e.sortedNames() {
		cr := e.rules[name]
		if !cr.rule.Enabled {
			continue
		}

		denied, err := evalSet(ctx, cr.deny, input)
		if err != nil {
			e.logger.Error().Err(err).
				Str("rule", name).
				Str("action_id", input.Action.ActionID).
				Msg("Guardrail evaluation failed")
			return nil, fmt.Errorf("rule %s: %w", name, err)
		}
		for _, msg := range denied {
			violations = append(violations, Violation{Rule: name, Message: msg, Severity: cr.rule.Severity})
		}

		warned, err := evalSet(ctx, cr.warn, input)
		if err != nil {
			return nil, fmt.Errorf("rule %s: %w", name, err)
		}
		for _, msg := range warned {
			violations = append(violations, Violation{Rule: name, Message: msg, Severity: SeverityWarning})
		}
	}

	e.logger.Debug().
		Str("action_id", input.Action.ActionID).
		Int("violations", len(violations)).
		Dur("duration", time.Since(startTime)).
		Msg("Guardrail evaluation completed")

	return violations, nil
}

// evalSet evaluates a prepared set query and extracts the entry messages.
func evalSet(ctx context.Context, query rego.PreparedEvalQuery, input policy.GuardrailInput) ([]string, error) {
	results, err := query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return nil, fmt.Errorf("evaluation error: %w", err)
	}

	var out []string
	for _, result := range results {
		if len(result.Expressions) == 0 {
			continue
		}
		entries, ok := result.Expressions[0].Value.([]interface{})
		if !ok {
			continue
		}
		for _, entry := range entries {
			out = append(out, messageOf(entry))
		}
	}
	sort.Strings(out)
	return out, nil
}

// messageOf extracts the message of a deny or warn entry.
func messageOf(entry interface{}) string {
	switch v := entry.(type) {
	case string:
		return v
	case map[string]interface{}:
		if msg, ok := v["message"].(string); ok {
			return msg
		}
	}
	return fmt.Sprintf("%v", entry)
}

// LoadRules loads operator rules from files and directories, replacing any
// previously loaded operator rules. Files are reread from disk even when an
// earlier load cached them.
func (e *Engine) LoadRules(ctx context.Context, paths []string) error {
	e.loader.ClearCache()
	rules, err := e.loader.LoadFromPaths(ctx, paths)
	if err != nil {
		return fmt.Errorf("failed to load rules: %w", err)
	}
	return e.ReplaceRules(ctx, rules)
}

// ReplaceRules compiles rules and swaps them in for the current operator
// rules. Built-in rules are kept. Nothing changes if any rule fails to compile.
func (e *Engine) ReplaceRules(ctx context.Context, rules []Rule) error {
	compiled := make(map[string]*compiledRule, len(rules))
	for i := range rules {
		rule := rules[i]
		cr, err := e.compile(ctx, &rule)
		if err != nil {
			e.logger.Error().Err(err).
				Str("rule", rule.Name).
				Msg("Failed to compile rule")
			return fmt.Errorf("failed to compile rule %s: %w", rule.Name, err)
		}
		compiled[rule.Name] = cr
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	for name, cr := range e.rules {
		if cr.rule.Builtin {
			if _, overridden := compiled[name]; !overridden {
				compiled[name] = cr
			}
		}
	}
	e.rules = compiled

	e.logger.Info().
		Int("count", len(rules)).
		Msg("Guardrail rules loaded successfully")

	return nil
}

// Watch reloads operator rules whenever a file under paths changes.
func (e *Engine) Watch(ctx context.Context, paths []string) error {
	return e.loader.Watch(ctx, paths, func(rules []Rule) error {
		return e.ReplaceRules(ctx, rules)
	})
}

// StopWatching stops the file watcher started by Watch.
func (e *Engine) StopWatching() error {
	return e.loader.StopWatching()
}

// compile parses a rule module and prepares its deny and warn queries.
func (e *Engine) compile(ctx context.Context, rule *Rule) (*compiledRule, error) {
	if rule.Severity == "" {
		rule.Severity = SeverityError
	}

	module, err := ast.ParseModule(rule.Name+".rego", rule.Rego)
	if err != nil {
		return nil, fmt.Errorf("failed to parse rule: %w", err)
	}
	pkg := module.Package.Path.String()

	prepare := func(set string) (rego.PreparedEvalQuery, error) {
		return rego.New(
			rego.Module(rule.Name+".rego", rule.Rego),
			rego.Store(e.store),
			rego.Query(pkg+"."+set),
		).PrepareForEval(ctx)
	}

	deny, err := prepare("deny")
	if err != nil {
		return nil, fmt.Errorf("failed to prepare deny query: %w", err)
	}
	warn, err := prepare("warn")
	if err != nil {
		return nil, fmt.Errorf("failed to prepare warn query: %w", err)
	}

	e.logger.Debug().
		Str("rule", rule.Name).
		Str("package", pkg).
		Msg("Rule compiled successfully")

	return &compiledRule{
		rule:     rule,
		module:   module,
		deny:     deny,
		warn:     warn,
		compiled: time.Now(),
	}, nil
}

// loadBuiltinRules compiles the built-in rules.
func (e *Engine) loadBuiltinRules(ctx context.Context) error {
	builtins := BuiltinRules()
	for i := range builtins {
		cr, err := e.compile(ctx, &builtins[i])
		if err != nil {
			return fmt.Errorf("failed to compile built-in rule %s: %w", builtins[i].Name, err)
		}
		e.rules[builtins[i].Name] = cr
	}

	e.logger.Info().
		Int("count", len(builtins)).
		Msg("Built-in rules loaded")

	return nil
}

func (e *Engine) sortedNames() []string {
	names := make([]string, 0, len(e.rules))
	for name := range e.rules {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// GetRule returns a rule by name.
func (e *Engine) GetRule(name string) (*Rule, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	cr, exists := e.rules[name]
	if !exists {
		return nil, fmt.Errorf("rule not found: %s", name)
	}

	rule := *cr.rule
	return &rule, nil
}

// ListRules returns all loaded rules sorted by name.
func (e *Engine) ListRules() []Rule {
	e.mu.RLock()
	defer e.mu.RUnlock()

	rules := make([]Rule, 0, len(e.rules))
	for _, name := range e.sortedNames() {
		rules = append(rules, *e.rules[name].rule)
	}
	return rules
}

// EnableRule enables a rule by name.
func (e *Engine) EnableRule(name string) error {
	return e.setEnabled(name, true)
}

// DisableRule disables a rule by name.
func (e *Engine) DisableRule(name string) error {
	return e.setEnabled(name, false)
}

func (e *Engine) setEnabled(name string, enabled bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	cr, exists := e.rules[name]
	if !exists {
		return fmt.Errorf("rule not found: %s", name)
	}

	cr.rule.Enabled = enabled
	e.logger.Info().Str("rule", name).Bool("enabled", enabled).Msg("Rule toggled")

	return nil
}
