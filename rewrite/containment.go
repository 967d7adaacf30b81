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

package rewrite

import (
	"errors"

	"github.com/existrules/entangle/ast"
	"github.com/existrules/entangle/engine"
	"github.com/existrules/entangle/factstore"
	"github.com/existrules/entangle/unionfind"
)

// CQContainment decides conjunctive-query containment.
type CQContainment interface {
	// IsContainedIn reports q1 ⊑ q2: q1 is at least as specific as q2,
	// witnessed by a homomorphism from q2's atoms into q1's atoms that
	// agrees on the answer tuples.
	IsContainedIn(q1, q2 ast.ConjunctiveQuery) (bool, error)
}

// HomContainment is the default homomorphism-based containment check.
type HomContainment struct {
	Algo engine.Algorithm
}

// NewHomContainment returns a containment check over the default
// backtracking engine.
func NewHomContainment() HomContainment {
	return HomContainment{Algo: engine.BacktrackAlgorithm{}}
}

// normalizeEqualities resolves the equality atoms of a query through a
// term partition. Returns ok=false when the partition is inadmissible,
// which makes the query unsatisfiable.
func normalizeEqualities(q ast.ConjunctiveQuery) (ast.ConjunctiveQuery, bool) {
	var equalities, rest []ast.Atom
	for _, a := range q.Atoms().Atoms() {
		if a.Predicate.IsEquality() {
			equalities = append(equalities, a)
		} else {
			rest = append(rest, a)
		}
	}
	if len(equalities) == 0 {
		return q, true
	}
	part := unionfind.New()
	for _, a := range equalities {
		part.Union(a.Args[0], a.Args[1])
	}
	if !part.IsAdmissible() {
		return ast.ConjunctiveQuery{}, false
	}
	sub, ok := part.AssociatedSubst(q)
	if !ok {
		return ast.ConjunctiveQuery{}, false
	}
	normalized := make([]ast.Atom, len(rest))
	for i, a := range rest {
		normalized[i] = sub.ApplyAtom(a)
	}
	pre := sub.RestrictTo(q.AnswerVars()).Aggregate(q.PreSubst())
	out, err := ast.NewConjunctiveQuery(ast.NewFrozenAtomSet(normalized...), q.AnswerVars(), pre)
	if err != nil {
		return ast.ConjunctiveQuery{}, false
	}
	return out, true
}

// IsContainedIn implements CQContainment. A query whose equalities are
// inadmissible is unsatisfiable and contained in anything; nothing is
// contained in an unsatisfiable query.
func (c HomContainment) IsContainedIn(q1, q2 ast.ConjunctiveQuery) (bool, error) {
	n1, ok := normalizeEqualities(q1)
	if !ok {
		return true, nil
	}
	n2, ok := normalizeEqualities(q2)
	if !ok {
		return false, nil
	}
	if len(n1.AnswerVars()) != len(n2.AnswerVars()) {
		return false, nil
	}

	// Find a pre-substitution linking the answer tuple of n2 to that of
	// n1 through the answer atoms.
	ans2 := n2.PreSubst().ApplyAtom(n2.AnswerAtom())
	ans1 := n1.PreSubst().ApplyAtom(n1.AnswerAtom())
	var preSub ast.Subst
	err := c.Algo.Homomorphisms(
		ast.NewFrozenAtomSet(ans2),
		factstore.NewAtomSetSource(ast.NewFrozenAtomSet(ans1)),
		nil,
		func(s ast.Subst) error {
			preSub = s
			return errFirst
		})
	if err != nil && !errors.Is(err, errFirst) {
		return false, err
	}
	if preSub == nil {
		return false, nil
	}
	// Emitted substitutions leave out identity pairs; binding the variables
	// of q1's answer tuple to themselves keeps them rigid below.
	for _, t := range ans1.Args {
		if v, ok := t.(ast.Variable); ok {
			if _, bound := preSub[v]; !bound {
				preSub[v] = v
			}
		}
	}

	return c.Algo.Exist(n2.Atoms(), factstore.NewAtomSetSource(n1.Atoms()), preSub)
}

// IsEquivalentTo reports mutual containment.
func (c HomContainment) IsEquivalentTo(q1, q2 ast.ConjunctiveQuery) (bool, error) {
	ok, err := c.IsContainedIn(q1, q2)
	if err != nil || !ok {
		return false, err
	}
	return c.IsContainedIn(q2, q1)
}
