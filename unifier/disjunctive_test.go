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

package unifier

import (
	"testing"

	"github.com/existrules/entangle/ast"
)

func freshGen() func() ast.Variable {
	f := ast.NewTermFactory()
	return f.FreshVariable
}

func TestDisjunctiveUnifierCombinesHeads(t *testing.T) {
	// q(X) ∨ r(X) :- p(X) against the union { ?(U) :- q(U), ?(U) :- r(U) }.
	rule := ast.MustRule("disj",
		ast.NewFrozenAtomSet(ast.NewAtom("p", varX)),
		ast.NewFrozenAtomSet(ast.NewAtom("q", varX)),
		ast.NewFrozenAtomSet(ast.NewAtom("r", varX)))
	u := ast.MustUnionQuery([]ast.Variable{varU},
		cq([]ast.Variable{varU}, ast.NewAtom("q", varU)),
		cq([]ast.Variable{varU}, ast.NewAtom("r", varU)))

	algo := NewDisjunctiveAlgorithm(freshGen())
	got := algo.ComputeDisjunctiveUnifiers(u, u, rule)
	if len(got) != 1 {
		t.Fatalf("got %d disjunctive unifiers, want 1", len(got))
	}
	d := got[0]
	if len(d.Unifiers) != 2 {
		t.Fatalf("got %d components, want one per head disjunct", len(d.Unifiers))
	}
	sub, ok := d.AssociatedSubst()
	if !ok {
		t.Fatal("associated substitution failed")
	}
	// Both frontier copies collapse onto the answer variable.
	if !sub.Apply(varX).Equals(varU) {
		t.Errorf("σ(X) = %v, want U", sub.Apply(varX))
	}
	for _, pu := range d.Unifiers {
		if !pu.IsFull() {
			t.Error("component unifier is not full")
		}
	}
}

func TestDisjunctiveUnifierNeedsAllHeads(t *testing.T) {
	rule := ast.MustRule("disj",
		ast.NewFrozenAtomSet(ast.NewAtom("p", varX)),
		ast.NewFrozenAtomSet(ast.NewAtom("q", varX)),
		ast.NewFrozenAtomSet(ast.NewAtom("r", varX)))
	// Only q is present: no unifier can cover the r disjunct.
	u := ast.MustUnionQuery([]ast.Variable{varU},
		cq([]ast.Variable{varU}, ast.NewAtom("q", varU)))

	algo := NewDisjunctiveAlgorithm(freshGen())
	if got := algo.ComputeDisjunctiveUnifiers(u, u, rule); len(got) != 0 {
		t.Errorf("got %d unifiers, want 0", len(got))
	}
}

func TestDisjunctiveCacheCompletesAcrossCalls(t *testing.T) {
	rule := ast.MustRule("disj",
		ast.NewFrozenAtomSet(ast.NewAtom("p", varX)),
		ast.NewFrozenAtomSet(ast.NewAtom("q", varX)),
		ast.NewFrozenAtomSet(ast.NewAtom("r", varX)))
	qCQ := cq([]ast.Variable{varU}, ast.NewAtom("q", varU))
	rCQ := cq([]ast.Variable{varU}, ast.NewAtom("r", varU))
	onlyQ := ast.MustUnionQuery([]ast.Variable{varU}, qCQ)
	both := ast.MustUnionQuery([]ast.Variable{varU}, qCQ, rCQ)
	onlyR := ast.MustUnionQuery([]ast.Variable{varU}, rCQ)

	algo := NewDisjunctiveAlgorithm(freshGen())
	if got := algo.ComputeDisjunctiveUnifiers(onlyQ, onlyQ, rule); len(got) != 0 {
		t.Fatalf("first call: got %d unifiers, want 0", len(got))
	}
	// The second call only presents the r query as new; the q unifier
	// comes from the cache.
	got := algo.ComputeDisjunctiveUnifiers(both, onlyR, rule)
	if len(got) != 1 {
		t.Errorf("second call: got %d unifiers, want 1 through the cache", len(got))
	}
}
