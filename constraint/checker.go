package constraint

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"sort"
	"strings"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/ext"

	"github.com/zero-day-ai/ldfeed/document"
	"github.com/zero-day-ai/ldfeed/feederr"
	"github.com/zero-day-ai/ldfeed/resultgraph"
)

// Checker validates a document and returns its result graph.
type Checker interface {
	Check(ctx context.Context, doc document.Object) (*resultgraph.Graph, error)
}

// Constraint components written as sh:sourceConstraintComponent.
const (
	componentDatatype  = resultgraph.SHACL + "DatatypeConstraintComponent"
	componentMinCount  = resultgraph.SHACL + "MinCountConstraintComponent"
	componentMaxCount  = resultgraph.SHACL + "MaxCountConstraintComponent"
	componentMinLength = resultgraph.SHACL + "MinLengthConstraintComponent"
	componentMaxLength = resultgraph.SHACL + "MaxLengthConstraintComponent"
	componentMinIncl   = resultgraph.SHACL + "MinInclusiveConstraintComponent"
	componentMaxIncl   = resultgraph.SHACL + "MaxInclusiveConstraintComponent"
	componentPattern   = resultgraph.SHACL + "PatternConstraintComponent"
	componentIn        = resultgraph.SHACL + "InConstraintComponent"
	componentClass     = resultgraph.SHACL + "ClassConstraintComponent"
	componentNode      = resultgraph.SHACL + "NodeConstraintComponent"
	componentExpr      = resultgraph.SHACL + "ExpressionConstraintComponent"
)

// ShapePrefix prefixes shape names written as sh:sourceShape.
const ShapePrefix = "urn:ldfeed:shape:"

// Option configures a CELChecker.
type Option func(*CELChecker)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *CELChecker) {
		c.logger = logger
	}
}

// CELChecker checks documents against a constraint set, evaluating expr
// constraints with CEL. The set must be loaded exactly once with Load before
// Check is called. Check is safe for concurrent use once loaded.
type CELChecker struct {
	env      *cel.Env
	logger   *slog.Logger
	mu       sync.RWMutex
	set      *Set
	programs map[string]cel.Program
}

// NewChecker creates an unloaded checker.
func NewChecker(opts ...Option) (*CELChecker, error) {
	env, err := cel.NewEnv(
		cel.Variable("value", cel.DynType),
		cel.Variable("focus", cel.MapType(cel.StringType, cel.DynType)),
		cel.CrossTypeNumericComparisons(true),
		ext.Strings(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	c := &CELChecker{
		env:      env,
		logger:   slog.Default(),
		programs: make(map[string]cel.Program),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Load fetches, parses and compiles the constraint set from src. Loading a
// second time is a sequence error.
func (c *CELChecker) Load(ctx context.Context, src Source) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.set != nil {
		return feederr.Sequence("constraint.Load", "constraint set already loaded")
	}

	data, err := src.Fetch(ctx)
	if err != nil {
		return feederr.SchemaLoad("constraint.Load", err)
	}
	set, err := Parse(data)
	if err != nil {
		return feederr.SchemaLoad("constraint.Load", fmt.Errorf("%s: %w", src, err))
	}

	programs := make(map[string]cel.Program)
	for _, sh := range set.Shapes {
		for _, p := range sh.Properties {
			if p.Expr == "" {
				continue
			}
			if _, done := programs[p.Expr]; done {
				continue
			}
			prg, err := c.compile(p.Expr)
			if err != nil {
				return feederr.SchemaLoad("constraint.Load",
					fmt.Errorf("shape %s property %s: %w", sh.Name, p.Path, err))
			}
			programs[p.Expr] = prg
		}
	}

	c.set = set
	c.programs = programs
	c.logger.Info("loaded constraint set",
		"component", "constraint",
		"source", src.String(),
		"shapes", len(set.Shapes),
		"expressions", len(programs))
	return nil
}

func (c *CELChecker) compile(expr string) (cel.Program, error) {
	ast, iss := c.env.Compile(expr)
	if iss != nil && iss.Err() != nil {
		return nil, fmt.Errorf("invalid expression %q: %w", expr, iss.Err())
	}
	out := ast.OutputType()
	if !out.IsExactType(cel.BoolType) && !out.IsExactType(cel.DynType) {
		return nil, fmt.Errorf("expression %q yields %s, want bool", expr, out)
	}
	prg, err := c.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to plan expression %q: %w", expr, err)
	}
	return prg, nil
}

// Loaded reports whether Load has succeeded.
func (c *CELChecker) Loaded() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.set != nil
}

// Check validates doc and every object nested in it. Objects are matched to
// shapes by "@type"; node constraints additionally apply the referenced shape
// to nested values. Each (object, shape) pair is evaluated once per check.
//
// Objects are identified in the result graph by their "@id", so nested
// objects should carry identities (see document.AssignIdentities); objects
// without one get a blank node.
func (c *CELChecker) Check(ctx context.Context, doc document.Object) (*resultgraph.Graph, error) {
	c.mu.RLock()
	set, programs := c.set, c.programs
	c.mu.RUnlock()

	if set == nil {
		return nil, feederr.Sequence("constraint.Check", "check called before constraints were loaded")
	}

	r := &run{
		set:      set,
		programs: programs,
		g:        resultgraph.New(),
		memo:     make(map[memoKey]int),
		terms:    make(map[uintptr]resultgraph.Term),
		walked:   make(map[uintptr]bool),
	}
	if err := r.walk(ctx, doc); err != nil {
		return nil, err
	}

	reportNode := r.g.NewBlank()
	r.g.Add(reportNode, resultgraph.IRI(resultgraph.RDFType), resultgraph.IRI(resultgraph.ValidationReport))
	r.g.Add(reportNode, resultgraph.IRI(resultgraph.Conforms), resultgraph.LiteralOf(len(r.results) == 0))
	for _, res := range r.results {
		r.g.Add(reportNode, resultgraph.IRI(resultgraph.Result), res)
	}
	return r.g, nil
}

type memoKey struct {
	focus resultgraph.Term
	shape string
}

// run holds the state of one Check call.
type run struct {
	set      *Set
	programs map[string]cel.Program
	g        *resultgraph.Graph
	results  []resultgraph.Term
	memo     map[memoKey]int
	terms    map[uintptr]resultgraph.Term
	walked   map[uintptr]bool
}

func (r *run) walk(ctx context.Context, v any) error {
	switch t := v.(type) {
	case map[string]any:
		if err := ctx.Err(); err != nil {
			return err
		}
		ptr := reflect.ValueOf(t).Pointer()
		if r.walked[ptr] {
			return nil
		}
		r.walked[ptr] = true

		focus := r.term(t)
		for _, sh := range r.set.Targeting(document.TypeOf(t)) {
			r.apply(ctx, t, focus, sh)
		}
		keys := make([]string, 0, len(t))
		for k := range t {
			if !strings.HasPrefix(k, "@") {
				keys = append(keys, k)
			}
		}
		sort.Strings(keys)
		for _, k := range keys {
			if err := r.walk(ctx, t[k]); err != nil {
				return err
			}
		}
	case []any:
		for _, child := range t {
			if err := r.walk(ctx, child); err != nil {
				return err
			}
		}
	}
	return nil
}

// term returns the focus term of obj, allocating a blank node for objects
// without an identity.
func (r *run) term(obj map[string]any) resultgraph.Term {
	if t, ok := focusTerm(obj); ok {
		return t
	}
	key := reflect.ValueOf(obj).Pointer()
	if t, ok := r.terms[key]; ok {
		return t
	}
	t := r.g.NewBlank()
	r.terms[key] = t
	return t
}

// apply evaluates one shape against obj and returns the number of results it
// produced, including results of nested node constraints.
func (r *run) apply(ctx context.Context, obj map[string]any, focus resultgraph.Term, sh *Shape) int {
	key := memoKey{focus: focus, shape: sh.Name}
	if n, done := r.memo[key]; done {
		return n
	}
	r.memo[key] = 0

	before := len(r.results)
	for i := range sh.Properties {
		p := &sh.Properties[i]
		raw, present := obj[p.Path]
		r.property(ctx, sh, p, obj, focus, asList(raw, present))
	}

	n := len(r.results) - before
	r.memo[key] = n
	return n
}

func (r *run) property(ctx context.Context, sh *Shape, p *Property, obj map[string]any, focus resultgraph.Term, values []any) {
	fail := func(value resultgraph.Term, component, detail string) {
		msg := p.Message
		if msg == "" {
			msg = detail
		}
		r.results = append(r.results, r.g.AddResult(resultgraph.ResultEntry{
			Focus:     focus,
			Path:      Vocabulary + p.Path,
			Value:     value,
			Severity:  p.SeverityIRI(),
			Message:   msg,
			Shape:     resultgraph.IRI(ShapePrefix + sh.Name),
			Component: component,
		}))
	}

	if p.MinCount != nil && len(values) < *p.MinCount {
		fail(resultgraph.Term{}, componentMinCount,
			fmt.Sprintf("%s has %d values, fewer than %d", p.Path, len(values), *p.MinCount))
	}
	if p.MaxCount != nil && len(values) > *p.MaxCount {
		fail(resultgraph.Term{}, componentMaxCount,
			fmt.Sprintf("%s has %d values, more than %d", p.Path, len(values), *p.MaxCount))
	}

	for _, v := range values {
		term := r.valueTerm(v)

		if p.Datatype != "" {
			if err := checkDatatype(p.Datatype, v); err != nil {
				fail(term, componentDatatype, fmt.Sprintf("%s: %v", p.Path, err))
			}
		}
		if p.MinLength != nil && runeCount(v) < *p.MinLength {
			fail(term, componentMinLength, fmt.Sprintf("%s is shorter than %d", p.Path, *p.MinLength))
		}
		if p.MaxLength != nil && runeCount(v) > *p.MaxLength {
			fail(term, componentMaxLength, fmt.Sprintf("%s is longer than %d", p.Path, *p.MaxLength))
		}
		if p.MinInclusive != nil {
			if f, ok := number(v); !ok || f < *p.MinInclusive {
				fail(term, componentMinIncl, fmt.Sprintf("%s is less than %v", p.Path, *p.MinInclusive))
			}
		}
		if p.MaxInclusive != nil {
			if f, ok := number(v); !ok || f > *p.MaxInclusive {
				fail(term, componentMaxIncl, fmt.Sprintf("%s is greater than %v", p.Path, *p.MaxInclusive))
			}
		}
		if p.pattern != nil && !p.pattern.MatchString(lexical(v)) {
			fail(term, componentPattern, fmt.Sprintf("%s does not match %s", p.Path, p.Pattern))
		}
		if len(p.In) > 0 && !contains(p.In, lexical(v)) {
			fail(term, componentIn, fmt.Sprintf("%s is not one of %s", p.Path, strings.Join(p.In, ", ")))
		}
		if p.Class != "" {
			child, ok := v.(map[string]any)
			if !ok || document.TypeOf(child) != p.Class {
				fail(term, componentClass, fmt.Sprintf("%s is not a %s", p.Path, p.Class))
			}
		}
		if p.Node != "" {
			r.node(ctx, p, v, term, fail)
		}
		if p.Expr != "" {
			if ok, detail := r.eval(ctx, p.Expr, v, obj); !ok {
				fail(term, componentExpr, fmt.Sprintf("%s: %s", p.Path, detail))
			}
		}
	}
}

func (r *run) node(ctx context.Context, p *Property, v any, term resultgraph.Term, fail func(resultgraph.Term, string, string)) {
	child, ok := v.(map[string]any)
	if !ok {
		fail(term, componentNode, fmt.Sprintf("%s is not an object", p.Path))
		return
	}
	sh, _ := r.set.Shape(p.Node)
	if r.apply(ctx, child, term, sh) > 0 {
		fail(term, componentNode, fmt.Sprintf("%s does not conform to %s", p.Path, p.Node))
	}
}

func (r *run) valueTerm(v any) resultgraph.Term {
	if obj, ok := v.(map[string]any); ok {
		return r.term(obj)
	}
	return valueTerm(v)
}

func (r *run) eval(ctx context.Context, expr string, v any, obj map[string]any) (bool, string) {
	prg := r.programs[expr]
	out, _, err := prg.ContextEval(ctx, map[string]any{
		"value": celValue(v),
		"focus": celValue(obj),
	})
	if err != nil {
		return false, fmt.Sprintf("expression %q failed: %v", expr, err)
	}
	b, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Sprintf("expression %q yielded %v, want bool", expr, out.Value())
	}
	if !b {
		return false, fmt.Sprintf("expression %q is false", expr)
	}
	return true, ""
}

func contains(list []string, s string) bool {
	for _, x := range list {
		if x == s {
			return true
		}
	}
	return false
}
