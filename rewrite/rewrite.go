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

// Package rewrite implements breadth-first UCQ rewriting under existential
// rules, with redundancy elimination modulo conjunctive-query containment.
package rewrite

import (
	"context"
	"errors"

	"bitbucket.org/creachadair/stringset"
	"github.com/golang/glog"

	"github.com/existrules/entangle/ast"
	"github.com/existrules/entangle/unifier"
)

var errFirst = errors.New("first")

// Operator performs one breadth-first rewriting step: it applies every
// rule backwards to the new queries through piece-unifiers. Conjunctive
// rules go through the most-general mono-piece unifiers; disjunctive
// rules through the disjunctive piece-unifier algorithm and its cache.
type Operator struct {
	Disjunctive *unifier.DisjunctiveAlgorithm
	Fresh       func() ast.Variable
}

// NewOperator constructs a rewriting operator drawing fresh variables
// from the given generator.
func NewOperator(fresh func() ast.Variable) *Operator {
	return &Operator{
		Disjunctive: unifier.NewDisjunctiveAlgorithm(fresh),
		Fresh:       fresh,
	}
}

// Step rewrites the new sub-union against the rules, considering queries
// of the full union for disjunctive-head completion. The result is the
// union of the freshly produced conjunctive queries.
func (o *Operator) Step(all, delta ast.UnionQuery, rules []ast.Rule) (ast.UnionQuery, error) {
	var unifiers []unifier.DisjunctivePieceUnifier
	for _, r := range rules {
		if r.IsConjunctive() {
			for _, cq := range delta.Queries() {
				renamed := unifier.RenameExistentials(cq, o.Fresh)
				for _, pu := range unifier.MostGeneralPieceUnifiers(renamed, r, 0) {
					unifiers = append(unifiers, unifier.MonoDisjunctiveUnifier(pu))
				}
			}
			continue
		}
		unifiers = append(unifiers, o.Disjunctive.ComputeDisjunctiveUnifiers(all, delta, r)...)
	}

	var rewritten []ast.ConjunctiveQuery
	for _, du := range unifiers {
		sub, ok := du.AssociatedSubst()
		if !ok {
			continue
		}
		atoms := ast.NewMutableAtomSet()
		for _, a := range du.Rule.Body().Atoms() {
			atoms.Add(sub.ApplyAtom(a))
		}
		for _, pu := range du.Unifiers {
			for _, a := range pu.NotUnifiedPart().Atoms() {
				atoms.Add(sub.ApplyAtom(a))
			}
		}
		answerVars := du.Query.AnswerVars()
		pre := make(ast.Subst)
		for _, v := range answerVars {
			if img := sub.Apply(v); !img.Equals(v) {
				pre[v] = img
			}
		}
		cq, err := ast.NewConjunctiveQuery(atoms.Freeze(), answerVars, pre)
		if err != nil {
			continue
		}
		rewritten = append(rewritten, cq)
	}
	return ast.NewUnionQuery(all.AnswerVars(), rewritten...)
}

// Result is the outcome of a rewriting run. Complete is false when the
// step limit or the context deadline stopped the saturation early; the
// union then holds the best rewriting reached.
type Result struct {
	UCQ      ast.UnionQuery
	Steps    int
	Complete bool
}

// BreadthFirstRewriter saturates a union of conjunctive queries under a
// rule set.
type BreadthFirstRewriter struct {
	Operator *Operator
	Cleaner  *UCQCleaner
	Fresh    func() ast.Variable

	// StepLimit bounds the number of breadth-first steps; zero means
	// unlimited.
	StepLimit int
}

// NewBreadthFirstRewriter wires a rewriter with default operator and
// cleaner over the given fresh-variable generator.
func NewBreadthFirstRewriter(fresh func() ast.Variable) *BreadthFirstRewriter {
	return &BreadthFirstRewriter{
		Operator: NewOperator(fresh),
		Cleaner:  NewUCQCleaner(),
		Fresh:    fresh,
	}
}

// safeRename renames the query variables colliding with rule variables to
// fresh ones.
func (r *BreadthFirstRewriter) safeRename(ucq ast.UnionQuery, rules []ast.Rule) (ast.UnionQuery, error) {
	ruleVars := stringset.New()
	for _, rule := range rules {
		for v := range rule.Vars() {
			ruleVars.Add(v.Symbol)
		}
	}
	renaming := make(ast.Subst)
	for _, v := range ast.SortVars(ucq.Vars()) {
		if ruleVars.Contains(v.Symbol) {
			renaming[v] = r.Fresh()
		}
	}
	if len(renaming) == 0 {
		return ucq, nil
	}
	answer := make([]ast.Variable, len(ucq.AnswerVars()))
	for i, v := range ucq.AnswerVars() {
		img := renaming.Apply(v)
		iv, ok := img.(ast.Variable)
		if !ok {
			iv = v
		}
		answer[i] = iv
	}
	var renamed []ast.ConjunctiveQuery
	for _, cq := range ucq.Queries() {
		out, err := cq.ApplySubst(renaming)
		if err != nil {
			return ast.UnionQuery{}, err
		}
		renamed = append(renamed, out)
	}
	return ast.NewUnionQuery(answer, renamed...)
}

// Rewrite saturates the union query under the rules. It stops when no new
// query survives redundancy elimination, when the step limit is reached,
// or when the context is done; in the two latter cases the result is
// tagged incomplete.
func (r *BreadthFirstRewriter) Rewrite(ctx context.Context, ucq ast.UnionQuery, rules []ast.Rule) (Result, error) {
	renamed, err := r.safeRename(ucq, rules)
	if err != nil {
		return Result{}, err
	}
	current, err := r.Cleaner.ComputeCover(renamed)
	if err != nil {
		return Result{}, err
	}
	fresh := current

	steps := 0
	for fresh.Len() > 0 {
		if r.StepLimit > 0 && steps >= r.StepLimit {
			glog.V(1).Infof("rewriting stopped at step limit %d with %d queries", r.StepLimit, current.Len())
			return Result{UCQ: current, Steps: steps, Complete: false}, nil
		}
		if ctx.Err() != nil {
			glog.V(1).Infof("rewriting cancelled after %d steps with %d queries", steps, current.Len())
			return Result{UCQ: current, Steps: steps, Complete: false}, nil
		}
		steps++

		step, err := r.Operator.Step(current, fresh, rules)
		if err != nil {
			return Result{}, err
		}
		if step, err = r.Cleaner.ComputeCover(step); err != nil {
			return Result{}, err
		}
		if step, err = r.Cleaner.RemoveMoreSpecificThan(step, current); err != nil {
			return Result{}, err
		}
		if current, err = r.Cleaner.RemoveMoreSpecificThan(current, step); err != nil {
			return Result{}, err
		}
		if current, err = current.Union(step); err != nil {
			return Result{}, err
		}
		fresh = step
		glog.V(1).Infof("rewriting step %d: %d new queries, %d total", steps, fresh.Len(), current.Len())
	}
	return Result{UCQ: current, Steps: steps, Complete: true}, nil
}
