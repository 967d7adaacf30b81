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

// Package unionfind implements the term partition used for unification,
// equality normalization and piece-unifier construction: a union-find over
// terms with a representative discipline (ground terms beat variables,
// ties broken by canonical term order) and an admissibility check.
package unionfind

import (
	"strings"

	"github.com/existrules/entangle/ast"
)

type admissibility int

const (
	admissUnknown admissibility = iota
	admissYes
	admissNo
)

// TermPartition is a union-find over terms. The zero value is not usable;
// construct with New or FromClasses.
type TermPartition struct {
	parent map[ast.Term]ast.Term
	// rep maps each class root to the class representative: the member
	// minimizing comparison priority (ground terms first), ties broken
	// by canonical term key.
	rep   map[ast.Term]ast.Term
	edges [][2]ast.Term

	admissible admissibility
}

// New constructs an empty term partition.
func New() *TermPartition {
	return &TermPartition{
		parent: make(map[ast.Term]ast.Term),
		rep:    make(map[ast.Term]ast.Term),
	}
}

// FromClasses constructs a partition from explicit equivalence classes.
func FromClasses(classes ...[]ast.Term) *TermPartition {
	p := New()
	for _, cls := range classes {
		for i := 1; i < len(cls); i++ {
			p.Union(cls[0], cls[i])
		}
	}
	return p
}

// Clone returns a deep copy of the partition.
func (p *TermPartition) Clone() *TermPartition {
	out := &TermPartition{
		parent:     make(map[ast.Term]ast.Term, len(p.parent)),
		rep:        make(map[ast.Term]ast.Term, len(p.rep)),
		edges:      append([][2]ast.Term(nil), p.edges...),
		admissible: p.admissible,
	}
	for k, v := range p.parent {
		out.parent[k] = v
	}
	for k, v := range p.rep {
		out.rep[k] = v
	}
	return out
}

func (p *TermPartition) root(t ast.Term) (ast.Term, bool) {
	parent, ok := p.parent[t]
	if !ok {
		return t, false
	}
	child := t
	for !child.Equals(parent) {
		grandparent := p.parent[parent]
		// Path compression.
		p.parent[child] = grandparent
		child = grandparent
		parent = p.parent[child]
	}
	return parent, true
}

func (p *TermPartition) add(t ast.Term) ast.Term {
	if r, ok := p.root(t); ok {
		return r
	}
	p.parent[t] = t
	p.rep[t] = t
	return t
}

// better reports whether a is a better class representative than b.
func better(a, b ast.Term) bool {
	ag, bg := a.IsGround(), b.IsGround()
	if ag != bg {
		return ag
	}
	return ast.TermKey(a) < ast.TermKey(b)
}

// Union merges the classes of a and b, creating singleton classes for
// unknown terms first.
func (p *TermPartition) Union(a, b ast.Term) {
	p.admissible = admissUnknown
	p.edges = append(p.edges, [2]ast.Term{a, b})
	ra := p.add(a)
	rb := p.add(b)
	if ra.Equals(rb) {
		return
	}
	repA, repB := p.rep[ra], p.rep[rb]
	// Keep the canonically smaller root to make iteration stable.
	keep, drop := ra, rb
	if ast.TermKey(rb) < ast.TermKey(ra) {
		keep, drop = rb, ra
	}
	p.parent[drop] = keep
	delete(p.rep, drop)
	if better(repB, repA) {
		p.rep[keep] = repB
	} else {
		p.rep[keep] = repA
	}
}

// Find returns the representative of the class of t, or t itself when the
// partition does not know t.
func (p *TermPartition) Find(t ast.Term) ast.Term {
	r, ok := p.root(t)
	if !ok {
		return t
	}
	return p.rep[r]
}

// SameClass reports whether two terms belong to the same class.
func (p *TermPartition) SameClass(a, b ast.Term) bool {
	ra, okA := p.root(a)
	rb, okB := p.root(b)
	if !okA || !okB {
		return a.Equals(b)
	}
	return ra.Equals(rb)
}

// Join merges another partition into this one by replaying its edges.
func (p *TermPartition) Join(o *TermPartition) {
	for _, e := range o.edges {
		p.Union(e[0], e[1])
	}
}

// Classes returns the equivalence classes. Members are in canonical order
// and classes are ordered by their smallest member, making iteration
// deterministic.
func (p *TermPartition) Classes() [][]ast.Term {
	byRoot := make(map[ast.Term][]ast.Term)
	for t := range p.parent {
		r, _ := p.root(t)
		byRoot[r] = append(byRoot[r], t)
	}
	out := make([][]ast.Term, 0, len(byRoot))
	for _, members := range byRoot {
		ast.SortTerms(members)
		out = append(out, members)
	}
	sortClasses(out)
	return out
}

func sortClasses(classes [][]ast.Term) {
	for i := 1; i < len(classes); i++ {
		for j := i; j > 0 && ast.TermKey(classes[j][0]) < ast.TermKey(classes[j-1][0]); j-- {
			classes[j], classes[j-1] = classes[j-1], classes[j]
		}
	}
}

// IsAdmissible reports whether no class merges two distinct ground terms.
// The result is cached until the next Union.
func (p *TermPartition) IsAdmissible() bool {
	if p.admissible != admissUnknown {
		return p.admissible == admissYes
	}
	p.admissible = admissYes
	for _, cls := range p.Classes() {
		var ground ast.Term
		for _, t := range cls {
			if !t.IsGround() {
				continue
			}
			if ground != nil && !ground.Equals(t) {
				p.admissible = admissNo
				return false
			}
			ground = t
		}
	}
	return true
}

// Context supplies the answer variables and variables of the query a
// partition is interpreted against. Both conjunctive and union queries
// implement it.
type Context interface {
	AnswerVarSet() map[ast.Variable]bool
	Vars() map[ast.Variable]bool
}

// IsValidFor reports whether the partition respects the head-existential
// discipline of a rule: no class mixes a ground term with a head
// existential, at most one head existential per class, and head
// existentials never share a class with frontier or answer variables.
func (p *TermPartition) IsValidFor(r ast.Rule, context Context) bool {
	existentials := r.AllExistentialVars()
	frontier := r.FrontierSet()
	var answerVars map[ast.Variable]bool
	if context != nil {
		answerVars = context.AnswerVarSet()
	}
	for _, cls := range p.Classes() {
		var hasGround, hasExist, hasFrontier, hasAnswer bool
		for _, t := range cls {
			if t.IsGround() {
				if hasGround || hasExist {
					return false
				}
				hasGround = true
				continue
			}
			v, ok := t.(ast.Variable)
			if !ok {
				continue
			}
			switch {
			case existentials[v]:
				if hasExist || hasFrontier || hasGround || hasAnswer {
					return false
				}
				hasExist = true
			case frontier[v]:
				if hasExist {
					return false
				}
				hasFrontier = true
			case answerVars[v]:
				if hasExist {
					return false
				}
				hasAnswer = true
			}
		}
	}
	return true
}

// AssociatedSubst returns the substitution mapping every non-representative
// variable of each class to the class representative. When the context is
// given and the stored representative is an unconstrained variable, an
// answer variable of the context is preferred. Returns ok=false when the
// partition is inadmissible.
func (p *TermPartition) AssociatedSubst(context Context) (ast.Subst, bool) {
	var answerVars, contextVars map[ast.Variable]bool
	if context != nil {
		answerVars = context.AnswerVarSet()
		contextVars = context.Vars()
	}

	sub := make(ast.Subst)
	for _, cls := range p.Classes() {
		rep := p.Find(cls[0])
		for _, t := range cls {
			if t.IsGround() && !rep.Equals(t) {
				return nil, false
			}
		}
		if rv, ok := rep.(ast.Variable); ok && !answerVars[rv] {
			// Prefer an answer variable of the context, then any
			// context variable, over an unconstrained representative.
			if swap, ok := pickContextVar(cls, answerVars); ok {
				rep = swap
			} else if !contextVars[rv] {
				if swap, ok := pickContextVar(cls, contextVars); ok {
					rep = swap
				}
			}
		}
		for _, t := range cls {
			v, ok := t.(ast.Variable)
			if !ok || v.Equals(rep) {
				continue
			}
			sub[v] = rep
		}
	}
	return sub, true
}

func pickContextVar(cls []ast.Term, candidates map[ast.Variable]bool) (ast.Variable, bool) {
	for _, t := range cls {
		if v, ok := t.(ast.Variable); ok && candidates[v] {
			return v, true
		}
	}
	return ast.Variable{}, false
}

// Key returns a canonical string for the partition: classes sorted by
// their smallest member. Two partitions inducing the same equivalence
// have the same key.
func (p *TermPartition) Key() string {
	var sb strings.Builder
	written := 0
	for _, cls := range p.Classes() {
		if len(cls) < 2 {
			continue
		}
		if written > 0 {
			sb.WriteRune('|')
		}
		written++
		for j, t := range cls {
			if j > 0 {
				sb.WriteRune(',')
			}
			sb.WriteString(ast.TermKey(t))
		}
	}
	return sb.String()
}

// String returns a readable debug string.
func (p *TermPartition) String() string {
	var sb strings.Builder
	sb.WriteRune('{')
	for i, cls := range p.Classes() {
		if i > 0 {
			sb.WriteRune(' ')
		}
		sb.WriteRune('{')
		for j, t := range cls {
			if j > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(t.String())
		}
		sb.WriteRune('}')
	}
	sb.WriteRune('}')
	return sb.String()
}

// UnifyTerms unifies two same-length tuples of terms into a fresh
// partition, reporting admissibility.
func UnifyTerms(xs, ys []ast.Term) (*TermPartition, bool) {
	if len(xs) != len(ys) {
		return nil, false
	}
	p := New()
	for i, x := range xs {
		p.Union(x, ys[i])
	}
	return p, p.IsAdmissible()
}
