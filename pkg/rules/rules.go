// Package rules resolves titles with deterministic, declaration-ordered shortcuts.
package rules

import (
	"fmt"
	"strings"

	"github.com/google/cel-go/cel"

	"github.com/ryanburden/mercari-buddy/internal/normalize"
	"github.com/ryanburden/mercari-buddy/pkg/taxonomy"
	"github.com/ryanburden/mercari-buddy/pkg/types"
)

// Input is what a predicate sees: the normalized key and its tokens
type Input struct {
	Key    string
	Tokens []string
}

// Predicate decides whether a rule applies
type Predicate interface {
	Match(in Input) bool
}

// Keywords matches by substring over the normalized key. Every All keyword must appear,
// at least one Any keyword must appear when Any is non-empty, and no None keyword may appear.
type Keywords struct {
	All  []string
	Any  []string
	None []string
}

func (k Keywords) Match(in Input) bool {
	for _, w := range k.All {
		if !strings.Contains(in.Key, w) {
			return false
		}
	}
	for _, w := range k.None {
		if strings.Contains(in.Key, w) {
			return false
		}
	}
	if len(k.Any) == 0 {
		return len(k.All) > 0
	}
	for _, w := range k.Any {
		if strings.Contains(in.Key, w) {
			return true
		}
	}
	return false
}

func (k Keywords) normalized() Keywords {
	return Keywords{All: normalizeWords(k.All), Any: normalizeWords(k.Any), None: normalizeWords(k.None)}
}

func normalizeWords(words []string) []string {
	if len(words) == 0 {
		return nil
	}
	out := make([]string, 0, len(words))
	for _, w := range words {
		if n := normalize.Key(w); n != "" {
			out = append(out, n)
		}
	}
	return out
}

var celEnv *cel.Env

func init() {
	env, err := cel.NewEnv(
		cel.Variable("title", cel.StringType),
		cel.Variable("tokens", cel.ListType(cel.StringType)),
	)
	if err != nil {
		panic(fmt.Sprintf("rules: failed to create CEL environment: %v", err))
	}
	celEnv = env
}

// Expr is a compiled CEL expression over `title` (the normalized key) and `tokens`,
// e.g. `"playstation" in tokens && title.contains("console")`
type Expr struct {
	source string
	prg    cel.Program
}

// CompileExpr compiles a boolean CEL expression
func CompileExpr(source string) (*Expr, error) {
	ast, issues := celEnv.Compile(source)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile rule expression %q: %w", source, issues.Err())
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, fmt.Errorf("rule expression %q must return bool, got %v", source, ast.OutputType())
	}
	prg, err := celEnv.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to build rule program %q: %w", source, err)
	}
	return &Expr{source: source, prg: prg}, nil
}

// Match evaluates the expression; evaluation errors count as no match
func (e *Expr) Match(in Input) bool {
	tokens := in.Tokens
	if tokens == nil {
		tokens = []string{}
	}
	out, _, err := e.prg.Eval(map[string]any{
		"title":  in.Key,
		"tokens": tokens,
	})
	if err != nil {
		return false
	}
	matched, ok := out.Value().(bool)
	return ok && matched
}

func (e *Expr) String() string { return e.source }

// all matches when every predicate matches
type all []Predicate

func (a all) Match(in Input) bool {
	for _, p := range a {
		if !p.Match(in) {
			return false
		}
	}
	return len(a) > 0
}

func normalizePredicate(p Predicate) Predicate {
	switch v := p.(type) {
	case Keywords:
		return v.normalized()
	case all:
		out := make(all, len(v))
		for i, inner := range v {
			out[i] = normalizePredicate(inner)
		}
		return out
	default:
		return p
	}
}

// Rule maps titles satisfying Predicate to a taxonomy pair
type Rule struct {
	Name        string
	Category    string
	Subcategory string
	Predicate   Predicate
}

// Engine evaluates rules in declaration order; the first match wins
type Engine struct {
	rules []Rule
}

// New validates every rule against the taxonomy. Keyword predicates are normalized
// with the same function used for titles.
func New(tax *taxonomy.Taxonomy, rules ...Rule) (*Engine, error) {
	engine := &Engine{rules: make([]Rule, 0, len(rules))}
	for i, r := range rules {
		if r.Predicate == nil {
			return nil, fmt.Errorf("rule %d (%s) has no predicate", i, r.Name)
		}
		if err := tax.Validate(r.Category, r.Subcategory); err != nil {
			return nil, fmt.Errorf("rule %d (%s): %w", i, r.Name, err)
		}
		r.Predicate = normalizePredicate(r.Predicate)
		engine.rules = append(engine.rules, r)
	}
	return engine, nil
}

// Match returns the first rule whose predicate holds for the normalized key
func (e *Engine) Match(key string) (Rule, bool) {
	if e == nil || key == "" {
		return Rule{}, false
	}
	in := Input{Key: key, Tokens: normalize.Tokens(key)}
	for _, r := range e.rules {
		if r.Predicate.Match(in) {
			return r, true
		}
	}
	return Rule{}, false
}

// Resolve returns a rule-method result for the normalized key
func (e *Engine) Resolve(key string) (types.CategorizationResult, bool) {
	r, ok := e.Match(key)
	if !ok {
		return types.CategorizationResult{}, false
	}
	return types.CategorizationResult{
		Category:    r.Category,
		Subcategory: r.Subcategory,
		Method:      types.MethodRule,
	}, true
}

// Rules returns the rules in evaluation order
func (e *Engine) Rules() []Rule {
	return e.rules
}
