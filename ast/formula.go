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

import "fmt"

// Formula is the tagged-variant representation of first-order formulas:
// Atom | Conj | Disj | Neg | Exists | Forall. Prepared plans are built by
// matching on the variant once, not per evaluation step.
type Formula interface {
	isFormula()
	String() string
}

// Conj is the conjunction of two formulas.
type Conj struct {
	Left, Right Formula
}

func (Conj) isFormula() {}

func (f Conj) String() string { return fmt.Sprintf("(%s ∧ %s)", f.Left, f.Right) }

// Disj is the disjunction of two formulas.
type Disj struct {
	Left, Right Formula
}

func (Disj) isFormula() {}

func (f Disj) String() string { return fmt.Sprintf("(%s ∨ %s)", f.Left, f.Right) }

// Neg is the negation of a formula, evaluated as negation-as-failure.
type Neg struct {
	Inner Formula
}

func (Neg) isFormula() {}

func (f Neg) String() string { return fmt.Sprintf("¬%s", f.Inner) }

// Exists existentially quantifies a variable.
type Exists struct {
	Var   Variable
	Inner Formula
}

func (Exists) isFormula() {}

func (f Exists) String() string { return fmt.Sprintf("∃%s.%s", f.Var, f.Inner) }

// Forall universally quantifies a variable.
type Forall struct {
	Var   Variable
	Inner Formula
}

func (Forall) isFormula() {}

func (f Forall) String() string { return fmt.Sprintf("∀%s.%s", f.Var, f.Inner) }

// NewConj folds formulas into a left-nested conjunction.
func NewConj(fs ...Formula) Formula {
	if len(fs) == 0 {
		return nil
	}
	out := fs[0]
	for _, f := range fs[1:] {
		out = Conj{out, f}
	}
	return out
}

// NewDisj folds formulas into a left-nested disjunction.
func NewDisj(fs ...Formula) Formula {
	if len(fs) == 0 {
		return nil
	}
	out := fs[0]
	for _, f := range fs[1:] {
		out = Disj{out, f}
	}
	return out
}

// FlattenConj flattens nested conjunctions into a list of sub-formulas:
// (p ∧ q) ∧ r becomes [p, q, r].
func FlattenConj(f Formula) []Formula {
	c, ok := f.(Conj)
	if !ok {
		return []Formula{f}
	}
	return append(FlattenConj(c.Left), FlattenConj(c.Right)...)
}

// FreeVars returns the free variables of a formula.
func FreeVars(f Formula) map[Variable]bool {
	out := make(map[Variable]bool)
	addFreeVars(f, make(map[Variable]bool), out)
	return out
}

func addFreeVars(f Formula, bound, out map[Variable]bool) {
	switch f := f.(type) {
	case Atom:
		for v := range f.Vars() {
			if !bound[v] {
				out[v] = true
			}
		}
	case Conj:
		addFreeVars(f.Left, bound, out)
		addFreeVars(f.Right, bound, out)
	case Disj:
		addFreeVars(f.Left, bound, out)
		addFreeVars(f.Right, bound, out)
	case Neg:
		addFreeVars(f.Inner, bound, out)
	case Exists:
		addQuantifiedFreeVars(f.Var, f.Inner, bound, out)
	case Forall:
		addQuantifiedFreeVars(f.Var, f.Inner, bound, out)
	}
}

func addQuantifiedFreeVars(v Variable, inner Formula, bound, out map[Variable]bool) {
	if bound[v] {
		addFreeVars(inner, bound, out)
		return
	}
	bound[v] = true
	addFreeVars(inner, bound, out)
	delete(bound, v)
}
