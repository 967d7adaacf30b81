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

package ast

import (
	"testing"
)

func TestConjunctiveQueryValidation(t *testing.T) {
	atoms := NewFrozenAtomSet(NewAtom("p", varX, varY))
	if _, err := NewConjunctiveQuery(atoms, []Variable{varZ}, nil); err == nil {
		t.Error("accepted an answer variable absent from the atoms")
	}
	if _, err := NewConjunctiveQuery(atoms, []Variable{varZ}, Subst{varZ: varX}); err != nil {
		t.Errorf("rejected an answer variable moved by the pre-substitution: %v", err)
	}
	q, err := NewConjunctiveQuery(atoms, []Variable{varX}, nil)
	if err != nil {
		t.Fatal(err)
	}
	ex := q.ExistentialVars()
	if len(ex) != 1 || !ex[varY] {
		t.Errorf("ExistentialVars() = %v, want {Y}", ex)
	}
}

func TestUnionQueryNormalizesAnswerVariables(t *testing.T) {
	q1 := MustConjunctiveQuery(NewFrozenAtomSet(NewAtom("p", varX)), []Variable{varX}, nil)
	q2 := MustConjunctiveQuery(NewFrozenAtomSet(NewAtom("q", varZ)), []Variable{varZ}, nil)
	u := MustUnionQuery([]Variable{varX}, q1, q2)
	for _, q := range u.Queries() {
		if got := q.AnswerVars()[0]; got != varX {
			t.Errorf("sub-query %v has answer variable %v, want X", q, got)
		}
	}
	if u.Len() != 2 {
		t.Errorf("Len() = %d, want 2", u.Len())
	}
	if _, err := NewUnionQuery([]Variable{varX, varY}, q1); err == nil {
		t.Error("accepted arity mismatch")
	}
}

func TestUnionQueryDeduplicates(t *testing.T) {
	q1 := MustConjunctiveQuery(NewFrozenAtomSet(NewAtom("p", varX)), []Variable{varX}, nil)
	q2 := MustConjunctiveQuery(NewFrozenAtomSet(NewAtom("p", varY)), []Variable{varY}, nil)
	u := MustUnionQuery([]Variable{varX}, q1, q2)
	if u.Len() != 1 {
		t.Errorf("Len() = %d, want 1: q2 renames to q1", u.Len())
	}
}

func TestRuleFrontierAndExistentials(t *testing.T) {
	// s1(Y), s3(X, Y) ∨ s2(X), s5(X, Y) :- p(X, Y).
	body := NewFrozenAtomSet(NewAtom("p", varX, varY))
	h1 := NewFrozenAtomSet(NewAtom("s1", varY), NewAtom("s3", varX, varY))
	h2 := NewFrozenAtomSet(NewAtom("s2", varX), NewAtom("s5", varX, varY))
	r, err := NewRule("r", body, h1, h2)
	if err != nil {
		t.Fatal(err)
	}
	if r.IsConjunctive() {
		t.Error("two-disjunct rule reported conjunctive")
	}
	frontier := r.FrontierSet()
	if len(frontier) != 2 || !frontier[varX] || !frontier[varY] {
		t.Errorf("frontier = %v, want {X, Y}", frontier)
	}

	// t(Z) :- r(X), p(X, Z): Z is frontier, head has no existential.
	r2 := MustRule("r2",
		NewFrozenAtomSet(NewAtom("r", varX), NewAtom("p", varX, varZ)),
		NewFrozenAtomSet(NewAtom("t", varZ)))
	if got := r2.ExistentialVars(0); len(got) != 0 {
		t.Errorf("ExistentialVars = %v, want none", got)
	}

	// q(X, Y) :- s(X): Y is a head existential.
	r3 := MustRule("r3",
		NewFrozenAtomSet(NewAtom("s", varX)),
		NewFrozenAtomSet(NewAtom("q", varX, varY)))
	ex := r3.ExistentialVars(0)
	if len(ex) != 1 || !ex[varY] {
		t.Errorf("ExistentialVars = %v, want {Y}", ex)
	}
	if got := r3.Frontier(); len(got) != 1 || got[0] != varX {
		t.Errorf("Frontier = %v, want [X]", got)
	}
}

func TestRuleValidation(t *testing.T) {
	body := NewFrozenAtomSet(NewAtom("p", varX))
	if _, err := NewRule("bad", body); err == nil {
		t.Error("accepted a rule without head")
	}
	if _, err := NewRule("bad", NewFrozenAtomSet(), NewFrozenAtomSet(NewAtom("q", varX))); err == nil {
		t.Error("accepted an empty body")
	}
	if _, err := NewRule("bad", body, NewFrozenAtomSet(Eq(varX, varY))); err == nil {
		t.Error("accepted an equality atom in the head")
	}
}

func TestRenameAwayFrom(t *testing.T) {
	counter := 0
	fresh := func() Variable {
		counter++
		return Variable{Symbol: "_F" + string(rune('0'+counter))}
	}
	vars := map[Variable]bool{varX: true, varY: true}
	avoid := map[Variable]bool{varY: true, varZ: true}
	renaming := RenameAwayFrom(vars, avoid, fresh)
	if _, ok := renaming[varX]; ok {
		t.Error("X renamed although it does not collide")
	}
	img, ok := renaming[varY]
	if !ok {
		t.Fatal("colliding Y not renamed")
	}
	if iv, isVar := img.(Variable); !isVar || avoid[iv] {
		t.Errorf("Y renamed to %v, want a fresh variable", img)
	}
}

func TestExtractConjunctiveRule(t *testing.T) {
	body := NewFrozenAtomSet(NewAtom("p", varX))
	r := MustRule("r", body,
		NewFrozenAtomSet(NewAtom("q", varX)),
		NewFrozenAtomSet(NewAtom("s", varX)))
	one := r.ExtractConjunctiveRule(1)
	if !one.IsConjunctive() {
		t.Fatal("extracted rule is not conjunctive")
	}
	if got := one.Head(0).Atoms()[0].Predicate.Symbol; got != "s" {
		t.Errorf("extracted head = %s, want s", got)
	}
}
