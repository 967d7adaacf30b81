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

// Package compilation defines the rule-compilation oracle consumed by the
// compilation-aware homomorphism and containment variants, together with
// the null object used when no compilation is supplied.
package compilation

import (
	"github.com/existrules/entangle/ast"
	"github.com/existrules/entangle/unionfind"
)

// Unfolding is one way of rewriting an atom under a compilation: the
// resulting atom and the specialization applied to reach it.
type Unfolding struct {
	Atom ast.Atom
	Sub  ast.Subst
}

// RuleCompilation is the oracle describing rules that were compiled away
// from the rule set. The default NoCompilation delegates to structural
// equality and direct specialization.
type RuleCompilation interface {
	// IsCompatible reports whether an atom on p can be answered by facts
	// on q under the compiled rules.
	IsCompatible(p, q ast.Predicate) bool

	// CompatiblePredicates returns the predicates compatible with p,
	// including p itself.
	CompatiblePredicates(p ast.Predicate) []ast.Predicate

	// Homomorphisms returns the substitutions extending sub that map
	// atom a onto atom b under the compiled rules.
	Homomorphisms(a, b ast.Atom, sub ast.Subst) []ast.Subst

	// Unifications returns the term partitions unifying two atoms under
	// the compiled rules.
	Unifications(a, b ast.Atom) []*unionfind.TermPartition

	// Unfold returns the unfoldings of an atom.
	Unfold(a ast.Atom) []Unfolding

	// IsMoreSpecificThan reports a ≤ b under the compiled rules.
	IsMoreSpecificThan(a, b ast.Atom) bool
}

// NoCompilation is the null compilation: predicates are only compatible
// with themselves and homomorphisms are direct specializations.
type NoCompilation struct{}

// IsCompatible implements RuleCompilation.
func (NoCompilation) IsCompatible(p, q ast.Predicate) bool { return p == q }

// CompatiblePredicates implements RuleCompilation.
func (NoCompilation) CompatiblePredicates(p ast.Predicate) []ast.Predicate {
	return []ast.Predicate{p}
}

// Homomorphisms implements RuleCompilation by direct specialization.
func (NoCompilation) Homomorphisms(a, b ast.Atom, sub ast.Subst) []ast.Subst {
	spec, ok := Specialize(a, b, sub)
	if !ok {
		return nil
	}
	return []ast.Subst{spec}
}

// Unifications implements RuleCompilation with the position-wise
// partition.
func (NoCompilation) Unifications(a, b ast.Atom) []*unionfind.TermPartition {
	if a.Predicate != b.Predicate {
		return nil
	}
	p := unionfind.New()
	for i, t := range a.Args {
		p.Union(t, b.Args[i])
	}
	return []*unionfind.TermPartition{p}
}

// Unfold implements RuleCompilation: an atom unfolds to itself.
func (NoCompilation) Unfold(a ast.Atom) []Unfolding {
	return []Unfolding{{Atom: a, Sub: ast.Subst{}}}
}

// IsMoreSpecificThan implements RuleCompilation with structural equality.
func (NoCompilation) IsMoreSpecificThan(a, b ast.Atom) bool { return a.Equals(b) }

// Specialize extends sub so that it maps atom a onto atom b, binding the
// variables of a position by position. Returns ok=false when a ground or
// already-bound position disagrees with b.
func Specialize(a, b ast.Atom, sub ast.Subst) (ast.Subst, bool) {
	if a.Predicate != b.Predicate {
		return nil, false
	}
	out := sub.Clone()
	if out == nil {
		out = ast.Subst{}
	}
	for i, t := range a.Args {
		img := out.Apply(t)
		if v, ok := img.(ast.Variable); ok {
			if _, bound := out[v]; !bound {
				if !v.Equals(b.Args[i]) {
					out[v] = b.Args[i]
				}
				continue
			}
		}
		if !img.Equals(b.Args[i]) {
			return nil, false
		}
	}
	return out, true
}
