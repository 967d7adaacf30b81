// Copyright 2024 The Entangle Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package engine

import (
	"errors"
	"fmt"
	"sort"

	"github.com/golang/glog"

	"github.com/existrules/entangle/ast"
	"github.com/existrules/entangle/factstore"
	"github.com/existrules/entangle/unionfind"
)

// Plan is a prepared query compiled once per (query shape, data source)
// pair. Execution streams substitutions extending the given one.
type Plan interface {
	// Execute streams the satisfying substitutions.
	Execute(sub ast.Subst, emit func(ast.Subst) error) error

	// EstimateBound returns an upper bound on the result count under
	// sub, or known=false.
	EstimateBound(sub ast.Subst) (int, bool)

	// Evaluable reports whether the plan's dataflow constraints are
	// satisfied under sub.
	Evaluable(sub ast.Subst) bool

	// MandatoryParams adds the variables that must be bound before
	// execution.
	MandatoryParams(m map[ast.Variable]bool)
}

// Prepare compiles a first-order query against a data source. It returns
// an UnsupportedFormulaError for formula variants without a plan.
func Prepare(q ast.FOQuery, src factstore.ReadableSource) (Plan, error) {
	if q.Formula == nil {
		return emptyPlan{}, nil
	}
	used := make(map[ast.Variable]bool)
	collectVars(q.Formula, used)
	counter := 0
	fresh := func() ast.Variable {
		for {
			v := ast.Variable{Symbol: fmt.Sprintf("_Fn%d", counter)}
			counter++
			if !used[v] {
				used[v] = true
				return v
			}
		}
	}
	return prepareFormula(q.Formula, src, fresh)
}

func collectVars(f ast.Formula, m map[ast.Variable]bool) {
	switch f := f.(type) {
	case ast.Atom:
		f.AddVars(m)
	case ast.Conj:
		collectVars(f.Left, m)
		collectVars(f.Right, m)
	case ast.Disj:
		collectVars(f.Left, m)
		collectVars(f.Right, m)
	case ast.Neg:
		collectVars(f.Inner, m)
	case ast.Exists:
		m[f.Var] = true
		collectVars(f.Inner, m)
	case ast.Forall:
		m[f.Var] = true
		collectVars(f.Inner, m)
	}
}

func prepareFormula(f ast.Formula, src factstore.ReadableSource, fresh func() ast.Variable) (Plan, error) {
	switch f := f.(type) {
	case ast.Atom, ast.Conj:
		return prepareConj(ast.FlattenConj(f), src, fresh)
	case ast.Disj:
		left, err := prepareFormula(f.Left, src, fresh)
		if err != nil {
			return nil, err
		}
		right, err := prepareFormula(f.Right, src, fresh)
		if err != nil {
			return nil, err
		}
		return &disjPlan{left, right}, nil
	case ast.Neg:
		inner, err := prepareFormula(f.Inner, src, fresh)
		if err != nil {
			return nil, err
		}
		return &negPlan{inner: inner, freeVars: ast.FreeVars(f.Inner), src: src}, nil
	case ast.Exists:
		inner, err := prepareFormula(f.Inner, src, fresh)
		if err != nil {
			return nil, err
		}
		return &existsPlan{inner: inner, boundVar: f.Var}, nil
	case ast.Forall:
		inner, err := prepareFormula(f.Inner, src, fresh)
		if err != nil {
			return nil, err
		}
		return &forallPlan{inner: inner, boundVar: f.Var, innerFree: ast.FreeVars(f.Inner), src: src}, nil
	}
	return nil, &UnsupportedFormulaError{f}
}

// prepareConj builds the conjunction plan: flatten, expand function
// subterms into fn: atoms, extract equality atoms into a single term
// partition applied before execution, and prepare the rest.
func prepareConj(fs []ast.Formula, src factstore.ReadableSource, fresh func() ast.Variable) (Plan, error) {
	expanded := expandFunctionFormulas(fs, fresh)
	var equalities []ast.Atom
	var subplans []Plan
	for _, f := range expanded {
		if a, ok := f.(ast.Atom); ok {
			if a.Predicate.IsEquality() {
				equalities = append(equalities, a)
				continue
			}
			subplans = append(subplans, newAtomPlan(a, src))
			continue
		}
		p, err := prepareFormula(f, src, fresh)
		if err != nil {
			return nil, err
		}
		subplans = append(subplans, p)
	}
	return &conjPlan{equalities: equalities, subplans: subplans}, nil
}

// expandFunctionFormulas replaces functional subterms of non-equality
// atoms with fresh variables plus auxiliary fn: atoms resolved by a
// function-evaluator source.
func expandFunctionFormulas(fs []ast.Formula, fresh func() ast.Variable) []ast.Formula {
	var out []ast.Formula
	for _, f := range fs {
		a, ok := f.(ast.Atom)
		if !ok || a.Predicate.IsEquality() || !atomHasFunctionTerm(a) {
			out = append(out, f)
			continue
		}
		args := make([]ast.Term, len(a.Args))
		var aux []ast.Atom
		for i, t := range a.Args {
			if ft, ok := t.(*ast.FunctionTerm); ok {
				v, atoms := expandFunctionTerm(ft, fresh)
				args[i] = v
				aux = append(aux, atoms...)
				continue
			}
			args[i] = t
		}
		for _, fa := range aux {
			out = append(out, fa)
		}
		out = append(out, ast.Atom{Predicate: a.Predicate, Args: args})
	}
	return out
}

func atomHasFunctionTerm(a ast.Atom) bool {
	for _, t := range a.Args {
		if _, ok := t.(*ast.FunctionTerm); ok {
			return true
		}
	}
	return false
}

func expandFunctionTerm(ft *ast.FunctionTerm, fresh func() ast.Variable) (ast.Variable, []ast.Atom) {
	args := make([]ast.Term, len(ft.Args))
	var aux []ast.Atom
	for i, t := range ft.Args {
		if inner, ok := t.(*ast.FunctionTerm); ok {
			v, atoms := expandFunctionTerm(inner, fresh)
			args[i] = v
			aux = append(aux, atoms...)
			continue
		}
		args[i] = t
	}
	v := fresh()
	aux = append(aux, ast.Atom{
		Predicate: ast.FuncPredicate(ft.Functor, len(args)),
		Args:      append(args, v),
	})
	return v, aux
}

// emptyPlan is the plan of the empty conjunction: it emits the input
// substitution once.
type emptyPlan struct{}

func (emptyPlan) Execute(sub ast.Subst, emit func(ast.Subst) error) error {
	return emit(sub.Normalize())
}
func (emptyPlan) EstimateBound(ast.Subst) (int, bool)    { return 1, true }
func (emptyPlan) Evaluable(ast.Subst) bool               { return true }
func (emptyPlan) MandatoryParams(map[ast.Variable]bool)  {}

// atomPlan evaluates one atom through the data source's basic queries.
type atomPlan struct {
	atom    ast.Atom
	src     factstore.ReadableSource
	missing bool
	pattern factstore.AtomicPattern
}

func newAtomPlan(a ast.Atom, src factstore.ReadableSource) *atomPlan {
	p := &atomPlan{atom: a, src: src}
	pattern, ok := src.AtomicPattern(a.Predicate)
	if !ok {
		p.missing = !src.HasPredicate(a.Predicate)
		pattern = factstore.AtomicPattern{Predicate: a.Predicate}
	}
	p.pattern = pattern
	return p
}

// Execute implements Plan.
func (p *atomPlan) Execute(sub ast.Subst, emit func(ast.Subst) error) error {
	if p.missing {
		return nil
	}
	q, ok := buildBasicQuery(p.atom, sub)
	if !ok {
		return nil
	}
	if !p.src.CanEvaluate(q) {
		return &DataflowError{Atom: p.atom, Positions: p.pattern.UnsatisfiedPositions(q)}
	}
	return p.src.Evaluate(q, func(tuple []ast.Term) error {
		if extended, ok := extendWithTuple(sub, q, tuple); ok {
			return emit(extended)
		}
		return nil
	})
}

// EstimateBound implements Plan.
func (p *atomPlan) EstimateBound(sub ast.Subst) (int, bool) {
	if p.missing {
		return 0, true
	}
	q, ok := buildBasicQuery(p.atom, sub)
	if !ok || !p.src.CanEvaluate(q) {
		return 0, true
	}
	return p.src.EstimateBound(q)
}

// Evaluable implements Plan.
func (p *atomPlan) Evaluable(sub ast.Subst) bool {
	if p.missing {
		return true
	}
	q, ok := buildBasicQuery(p.atom, sub)
	return ok && p.src.CanEvaluate(q)
}

// MandatoryParams implements Plan.
func (p *atomPlan) MandatoryParams(m map[ast.Variable]bool) {
	for _, pos := range p.pattern.Mandatory {
		if pos < len(p.atom.Args) {
			if v, ok := p.atom.Args[pos].(ast.Variable); ok {
				m[v] = true
			}
		}
	}
}

// conjPlan evaluates a flattened conjunction with greedy minimum-bound
// scheduling; equality atoms are normalized through a term partition
// before any sub-plan runs.
type conjPlan struct {
	equalities []ast.Atom
	subplans   []Plan
}

// Execute implements Plan.
func (p *conjPlan) Execute(sub ast.Subst, emit func(ast.Subst) error) error {
	if sub == nil {
		sub = ast.Subst{}
	}
	if len(p.equalities) > 0 {
		part := unionfind.New()
		for _, a := range p.equalities {
			part.Union(sub.Apply(a.Args[0]), sub.Apply(a.Args[1]))
		}
		if !part.IsAdmissible() {
			return nil
		}
		eqSub, ok := part.AssociatedSubst(nil)
		if !ok {
			return nil
		}
		sub = sub.Compose(eqSub)
	}
	return p.backtrack(sub, p.subplans, emit)
}

func (p *conjPlan) backtrack(sub ast.Subst, remaining []Plan, emit func(ast.Subst) error) error {
	if len(remaining) == 0 {
		return emit(sub.Normalize())
	}
	idx := selectNextPlan(remaining, sub)
	next := remaining[idx]
	rest := make([]Plan, 0, len(remaining)-1)
	rest = append(rest, remaining[:idx]...)
	rest = append(rest, remaining[idx+1:]...)
	return next.Execute(sub, func(extended ast.Subst) error {
		return p.backtrack(extended, rest, emit)
	})
}

// selectNextPlan returns the evaluable sub-plan with the smallest
// estimated bound; a zero bound wins immediately and short-circuits the
// conjunction through its empty result stream.
func selectNextPlan(remaining []Plan, sub ast.Subst) int {
	best := -1
	bestBound := 0
	bestKnown := false
	for i, p := range remaining {
		if !p.Evaluable(sub) {
			continue
		}
		bound, known := p.EstimateBound(sub)
		if best < 0 {
			best, bestBound, bestKnown = i, bound, known
			if known && bound == 0 {
				return i
			}
			continue
		}
		if known && (!bestKnown || bound < bestBound) {
			best, bestBound, bestKnown = i, bound, known
			if bound == 0 {
				return i
			}
		}
	}
	if best < 0 {
		return 0
	}
	return best
}

// EstimateBound implements Plan.
func (p *conjPlan) EstimateBound(sub ast.Subst) (int, bool) {
	product := 1
	unknown := false
	for _, sp := range p.subplans {
		bound, known := sp.EstimateBound(sub)
		if known && bound == 0 {
			return 0, true
		}
		if !known {
			unknown = true
			continue
		}
		product *= bound
	}
	if unknown {
		return 0, false
	}
	return product, true
}

// Evaluable implements Plan.
func (p *conjPlan) Evaluable(ast.Subst) bool { return true }

// MandatoryParams implements Plan.
func (p *conjPlan) MandatoryParams(m map[ast.Variable]bool) {
	for _, sp := range p.subplans {
		sp.MandatoryParams(m)
	}
}

// disjPlan streams the deduplicated union of both sides.
type disjPlan struct {
	left, right Plan
}

// Execute implements Plan.
func (p *disjPlan) Execute(sub ast.Subst, emit func(ast.Subst) error) error {
	seen := make(map[string]bool)
	dedup := func(s ast.Subst) error {
		key := s.Key()
		if seen[key] {
			return nil
		}
		seen[key] = true
		return emit(s)
	}
	if err := p.left.Execute(sub, dedup); err != nil {
		return err
	}
	return p.right.Execute(sub, dedup)
}

// EstimateBound implements Plan.
func (p *disjPlan) EstimateBound(sub ast.Subst) (int, bool) {
	l, lk := p.left.EstimateBound(sub)
	r, rk := p.right.EstimateBound(sub)
	if !lk || !rk {
		return 0, false
	}
	return l + r, true
}

// Evaluable implements Plan.
func (p *disjPlan) Evaluable(sub ast.Subst) bool {
	return p.left.Evaluable(sub) || p.right.Evaluable(sub)
}

// MandatoryParams implements Plan.
func (p *disjPlan) MandatoryParams(m map[ast.Variable]bool) {
	p.left.MandatoryParams(m)
	p.right.MandatoryParams(m)
}

// existsPlan projects the quantified variable out of the inner stream and
// deduplicates.
type existsPlan struct {
	inner    Plan
	boundVar ast.Variable
}

// Execute implements Plan.
func (p *existsPlan) Execute(sub ast.Subst, emit func(ast.Subst) error) error {
	seen := make(map[string]bool)
	return p.inner.Execute(sub, func(s ast.Subst) error {
		projected := s.Clone()
		delete(projected, p.boundVar)
		key := projected.Key()
		if seen[key] {
			return nil
		}
		seen[key] = true
		return emit(projected)
	})
}

// EstimateBound implements Plan.
func (p *existsPlan) EstimateBound(sub ast.Subst) (int, bool) {
	return p.inner.EstimateBound(sub)
}

// Evaluable implements Plan.
func (p *existsPlan) Evaluable(sub ast.Subst) bool { return p.inner.Evaluable(sub) }

// MandatoryParams implements Plan.
func (p *existsPlan) MandatoryParams(m map[ast.Variable]bool) {
	p.inner.MandatoryParams(m)
	delete(m, p.boundVar)
}

// boundInSub reports whether a variable has a fixed value under sub:
// resolved to a ground term or rigidly bound to a variable.
func boundInSub(sub ast.Subst, v ast.Variable) bool {
	r := resolve(sub, v)
	if r.IsGround() {
		return true
	}
	if rv, ok := r.(ast.Variable); ok {
		_, rigid := sub[rv]
		return rigid
	}
	return false
}

// negPlan implements negation-as-failure. When the inner formula's free
// variables are all bound it succeeds iff the inner plan yields nothing;
// otherwise it iterates the data source's term domain, which is costly.
type negPlan struct {
	inner    Plan
	freeVars map[ast.Variable]bool
	src      factstore.ReadableSource
}

// Execute implements Plan.
func (p *negPlan) Execute(sub ast.Subst, emit func(ast.Subst) error) error {
	var unbound []ast.Variable
	for _, v := range ast.SortVars(p.freeVars) {
		if !boundInSub(sub, v) {
			unbound = append(unbound, v)
		}
	}
	if len(unbound) == 0 {
		found := false
		err := p.inner.Execute(sub, func(ast.Subst) error {
			found = true
			return errStop
		})
		if err != nil && !errors.Is(err, errStop) {
			return err
		}
		if !found {
			return emit(sub)
		}
		return nil
	}

	glog.Warningf("unsafe negation: variables %v are free in negated formula; iterating the term domain", unbound)
	enum, ok := p.src.(factstore.TermEnumerator)
	if !ok {
		return fmt.Errorf("cannot evaluate unsafe negation: data source does not enumerate terms")
	}
	domain := enum.Terms()
	if len(domain) == 0 {
		return nil
	}
	var iterate func(i int, current ast.Subst) error
	iterate = func(i int, current ast.Subst) error {
		if i == len(unbound) {
			found := false
			err := p.inner.Execute(current, func(ast.Subst) error {
				found = true
				return errStop
			})
			if err != nil && !errors.Is(err, errStop) {
				return err
			}
			if !found {
				return emit(current)
			}
			return nil
		}
		for _, t := range domain {
			next := current.Clone()
			next[unbound[i]] = t
			if err := iterate(i+1, next); err != nil {
				return err
			}
		}
		return nil
	}
	return iterate(0, sub.Clone())
}

// EstimateBound implements Plan.
func (p *negPlan) EstimateBound(ast.Subst) (int, bool) { return 1, true }

// Evaluable implements Plan: safe only when every free variable of the
// negated formula is bound.
func (p *negPlan) Evaluable(sub ast.Subst) bool {
	for v := range p.freeVars {
		if !boundInSub(sub, v) {
			return false
		}
	}
	return true
}

// MandatoryParams implements Plan.
func (p *negPlan) MandatoryParams(m map[ast.Variable]bool) {
	for v := range p.freeVars {
		m[v] = true
	}
}

// forallPlan checks the inner plan for every binding of the quantified
// variable over the data source's term domain.
type forallPlan struct {
	inner     Plan
	boundVar  ast.Variable
	innerFree map[ast.Variable]bool
	src       factstore.ReadableSource
}

// Execute implements Plan.
func (p *forallPlan) Execute(sub ast.Subst, emit func(ast.Subst) error) error {
	enum, ok := p.src.(factstore.TermEnumerator)
	if !ok {
		return fmt.Errorf("cannot evaluate universal quantifier: data source does not enumerate terms")
	}
	domain := enum.Terms()
	if len(domain) == 0 {
		return emit(sub)
	}
	glog.V(1).Infof("universal quantifier ∀%s iterates a domain of %d terms", p.boundVar, len(domain))

	otherFree := false
	for v := range p.innerFree {
		if v != p.boundVar && !boundInSub(sub, v) {
			otherFree = true
			break
		}
	}

	if !otherFree {
		for _, t := range domain {
			extended := sub.Clone()
			extended[p.boundVar] = t
			found := false
			err := p.inner.Execute(extended, func(ast.Subst) error {
				found = true
				return errStop
			})
			if err != nil && !errors.Is(err, errStop) {
				return err
			}
			if !found {
				return nil
			}
		}
		return emit(sub)
	}

	// The inner formula has other free variables: keep the bindings that
	// satisfy it for every domain term.
	var valid map[string]ast.Subst
	for _, t := range domain {
		extended := sub.Clone()
		extended[p.boundVar] = t
		results := make(map[string]ast.Subst)
		err := p.inner.Execute(extended, func(s ast.Subst) error {
			projected := s.Clone()
			delete(projected, p.boundVar)
			results[projected.Key()] = projected
			return nil
		})
		if err != nil {
			return err
		}
		if valid == nil {
			valid = results
		} else {
			for key := range valid {
				if _, ok := results[key]; !ok {
					delete(valid, key)
				}
			}
		}
		if len(valid) == 0 {
			return nil
		}
	}
	keys := make([]string, 0, len(valid))
	for key := range valid {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if err := emit(valid[key]); err != nil {
			return err
		}
	}
	return nil
}

// EstimateBound implements Plan.
func (p *forallPlan) EstimateBound(sub ast.Subst) (int, bool) {
	return p.inner.EstimateBound(sub)
}

// Evaluable implements Plan.
func (p *forallPlan) Evaluable(ast.Subst) bool { return true }

// MandatoryParams implements Plan.
func (p *forallPlan) MandatoryParams(m map[ast.Variable]bool) {
	p.inner.MandatoryParams(m)
	delete(m, p.boundVar)
}
