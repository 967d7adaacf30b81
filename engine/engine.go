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

// Package engine implements conjunctive-query evaluation by backtracking
// homomorphism search against a data source, and prepared plans for
// first-order queries.
package engine

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/existrules/entangle/ast"
	"github.com/existrules/entangle/factstore"
)

var errStop = errors.New("stop")

// DataflowError reports an atom whose ground positions cannot satisfy the
// data source's atomic pattern: a mandatory position is unbound. It is
// fatal for the enclosing query.
type DataflowError struct {
	Atom      ast.Atom
	Positions []int
}

func (e *DataflowError) Error() string {
	pos := make([]string, len(e.Positions))
	for i, p := range e.Positions {
		pos[i] = fmt.Sprintf("%d", p)
	}
	return fmt.Sprintf("cannot evaluate atom %s: mandatory positions [%s] unbound", e.Atom, strings.Join(pos, ", "))
}

// UnsupportedFormulaError reports a formula variant without a registered
// plan.
type UnsupportedFormulaError struct {
	Formula ast.Formula
}

func (e *UnsupportedFormulaError) Error() string {
	return fmt.Sprintf("no prepared plan for formula %T", e.Formula)
}

// Algorithm computes homomorphisms from an atom set into a data source.
// Every streamed substitution σ extends the initial one and satisfies
// σ(from) ⊆ to. Already-bound variables are rigid: their image must match
// the candidate term, which makes identity pre-substitutions freeze
// variables.
type Algorithm interface {
	// Homomorphisms streams every homomorphism extending sub. If the
	// callback returns an error, streaming stops with that error.
	Homomorphisms(from *ast.FrozenAtomSet, to factstore.ReadableSource, sub ast.Subst, cb func(ast.Subst) error) error

	// Exist reports whether at least one homomorphism exists.
	Exist(from *ast.FrozenAtomSet, to factstore.ReadableSource, sub ast.Subst) (bool, error)
}

// resolve chases variable chains in sub, stopping at a non-variable or an
// unbound variable. A cyclic chain keeps the direct image: under the swap
// {X→Y, Y→X} the image of X is Y. A variable bound to itself resolves to
// itself, which is what freezes it.
func resolve(sub ast.Subst, t ast.Term) ast.Term {
	v, ok := t.(ast.Variable)
	if !ok {
		return t
	}
	first, bound := sub[v]
	if !bound {
		return t
	}
	img := first
	seen := map[ast.Variable]bool{v: true}
	for {
		iv, ok := img.(ast.Variable)
		if !ok {
			return img
		}
		if seen[iv] {
			return first
		}
		next, bound := sub[iv]
		if !bound {
			return img
		}
		seen[iv] = true
		img = next
	}
}

// buildBasicQuery constructs the basic query for an atom under a
// substitution: ground images become bound positions, free variables
// become answer positions, and variables bound to themselves (frozen) stay
// bound. Returns ok=false when two occurrences of a bound variable demand
// distinct terms.
func buildBasicQuery(a ast.Atom, sub ast.Subst) (factstore.BasicQuery, bool) {
	q := factstore.BasicQuery{
		Predicate: a.Predicate,
		Bound:     make(map[int]ast.Term),
		Answers:   make(map[int]ast.Variable),
	}
	for pos, t := range a.Args {
		img := t
		if !t.IsGround() {
			img = resolve(sub, t)
			if ft, ok := img.(*ast.FunctionTerm); ok && !ft.IsGround() {
				img = sub.Apply(ft)
			}
		}
		if v, ok := img.(ast.Variable); ok {
			if _, rigid := sub[v]; !rigid {
				q.Answers[pos] = v
				continue
			}
			// A variable bound to itself (through a cycle) is rigid.
			img = v
		}
		if existing, ok := q.Bound[pos]; ok && !existing.Equals(img) {
			return factstore.BasicQuery{}, false
		}
		q.Bound[pos] = img
	}
	return q, true
}

// extendWithTuple extends sub with the bindings of one result tuple,
// checking consistency for variables answering several positions.
func extendWithTuple(sub ast.Subst, q factstore.BasicQuery, tuple []ast.Term) (ast.Subst, bool) {
	positions := q.AnswerPositions()
	out := sub.Clone()
	for i, pos := range positions {
		v := q.Answers[pos]
		t := tuple[i]
		if bound, ok := out[v]; ok {
			if !bound.Equals(t) {
				return nil, false
			}
			continue
		}
		out[v] = t
	}
	return out, true
}

// BacktrackAlgorithm is the default homomorphism engine: a dynamic
// backtracking search over the atoms of the query, driven by a scheduler
// and implemented with explicit stack frames so query size is not bounded
// by the runtime stack.
type BacktrackAlgorithm struct {
	// Scheduler selects the next atom to ground; nil means
	// MinBoundScheduler.
	Scheduler Scheduler
}

type frame struct {
	remaining  []ast.Atom
	candidates []ast.Subst
	next       int
}

// Homomorphisms implements Algorithm.
func (b BacktrackAlgorithm) Homomorphisms(from *ast.FrozenAtomSet, to factstore.ReadableSource, sub ast.Subst, cb func(ast.Subst) error) error {
	scheduler := b.Scheduler
	if scheduler == nil {
		scheduler = MinBoundScheduler{}
	}
	if sub == nil {
		sub = ast.Subst{}
	}

	root, err := b.expand(from.Atoms(), sub, to, scheduler)
	if err != nil {
		return err
	}
	if root == nil {
		return cb(sub.Normalize())
	}
	stack := []*frame{root}
	for len(stack) > 0 {
		top := stack[len(stack)-1]
		if top.next >= len(top.candidates) {
			stack = stack[:len(stack)-1]
			continue
		}
		cand := top.candidates[top.next]
		top.next++
		if len(top.remaining) == 0 {
			if err := cb(cand.Normalize()); err != nil {
				return err
			}
			continue
		}
		child, err := b.expand(top.remaining, cand, to, scheduler)
		if err != nil {
			return err
		}
		stack = append(stack, child)
	}
	return nil
}

// expand picks the next atom via the scheduler and materializes its
// candidate substitutions. Returns nil when no atom remains.
func (b BacktrackAlgorithm) expand(remaining []ast.Atom, sub ast.Subst, to factstore.ReadableSource, scheduler Scheduler) (*frame, error) {
	if len(remaining) == 0 {
		return nil, nil
	}
	idx := scheduler.Next(remaining, sub, to)
	atom := remaining[idx]
	rest := make([]ast.Atom, 0, len(remaining)-1)
	rest = append(rest, remaining[:idx]...)
	rest = append(rest, remaining[idx+1:]...)

	f := &frame{remaining: rest}
	q, ok := buildBasicQuery(atom, sub)
	if !ok || !to.HasPredicate(q.Predicate) {
		return f, nil
	}
	if !to.CanEvaluate(q) {
		pattern, _ := to.AtomicPattern(q.Predicate)
		return nil, &DataflowError{Atom: atom, Positions: pattern.UnsatisfiedPositions(q)}
	}
	err := to.Evaluate(q, func(tuple []ast.Term) error {
		if extended, ok := extendWithTuple(sub, q, tuple); ok {
			f.candidates = append(f.candidates, extended)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return f, nil
}

// Exist implements Algorithm.
func (b BacktrackAlgorithm) Exist(from *ast.FrozenAtomSet, to factstore.ReadableSource, sub ast.Subst) (bool, error) {
	found := false
	err := b.Homomorphisms(from, to, sub, func(ast.Subst) error {
		found = true
		return errStop
	})
	if err != nil && !errors.Is(err, errStop) {
		return false, err
	}
	return found, nil
}

// Scheduler selects the next unsolved atom to ground, given the current
// substitution.
type Scheduler interface {
	Next(remaining []ast.Atom, sub ast.Subst, src factstore.ReadableSource) int
}

// MinBoundScheduler picks the atom with the smallest estimated candidate
// count under the current substitution (most constrained first). Atoms on
// unknown predicates estimate zero and fail fastest.
type MinBoundScheduler struct{}

// Next implements Scheduler.
func (MinBoundScheduler) Next(remaining []ast.Atom, sub ast.Subst, src factstore.ReadableSource) int {
	best := 0
	bestBound := -1
	for i, a := range remaining {
		q, ok := buildBasicQuery(a, sub)
		if !ok {
			return i
		}
		if !src.HasPredicate(q.Predicate) {
			return i
		}
		bound, known := src.EstimateBound(q)
		if !known {
			continue
		}
		if bestBound < 0 || bound < bestBound {
			best, bestBound = i, bound
			if bound == 0 {
				break
			}
		}
	}
	return best
}

// SequentialScheduler processes atoms in canonical order, for
// reproducibility.
type SequentialScheduler struct{}

// Next implements Scheduler.
func (SequentialScheduler) Next(remaining []ast.Atom, sub ast.Subst, src factstore.ReadableSource) int {
	best := 0
	for i := 1; i < len(remaining); i++ {
		if remaining[i].Key() < remaining[best].Key() {
			best = i
		}
	}
	return best
}

// Homomorphisms collects all homomorphisms from one atom set into another.
func Homomorphisms(from, to *ast.FrozenAtomSet, sub ast.Subst) ([]ast.Subst, error) {
	var out []ast.Subst
	err := BacktrackAlgorithm{}.Homomorphisms(from, factstore.NewAtomSetSource(to), sub, func(s ast.Subst) error {
		out = append(out, s)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out, nil
}

// ExistHomomorphism reports whether one atom set maps into another.
func ExistHomomorphism(from, to *ast.FrozenAtomSet, sub ast.Subst) bool {
	ok, err := BacktrackAlgorithm{}.Exist(from, factstore.NewAtomSetSource(to), sub)
	return err == nil && ok
}
