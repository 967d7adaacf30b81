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

// Package unifier enumerates most-general piece-unifiers between
// conjunctive queries and rule heads, and their disjunctive
// generalization.
package unifier

import (
	"sort"
	"strings"

	"github.com/existrules/entangle/ast"
	"github.com/existrules/entangle/unionfind"
)

// PieceUnifier unifies a piece of a query with a subset of the atoms of
// one rule head disjunct, through an admissible, rule-valid term
// partition.
type PieceUnifier struct {
	Rule      ast.Rule
	HeadIndex int
	Query     ast.ConjunctiveQuery
	Unified   *ast.FrozenAtomSet
	Partition *unionfind.TermPartition
}

// AssociatedSubst returns the substitution induced by the partition in
// the context of the query.
func (u PieceUnifier) AssociatedSubst() (ast.Subst, bool) {
	return u.Partition.AssociatedSubst(u.Query)
}

// NotUnifiedPart returns the query atoms outside the unified part.
func (u PieceUnifier) NotUnifiedPart() *ast.FrozenAtomSet {
	return u.Query.Atoms().Difference(u.Unified)
}

// SeparatingVars returns the variables of the unified part that also
// occur in the rest of the query.
func (u PieceUnifier) SeparatingVars() map[ast.Variable]bool {
	rest := u.NotUnifiedPart().Vars()
	out := make(map[ast.Variable]bool)
	for v := range u.Unified.Vars() {
		if rest[v] {
			out[v] = true
		}
	}
	return out
}

// IsFull reports whether the unifier covers the whole query.
func (u PieceUnifier) IsFull() bool {
	return u.Unified.Len() == u.Query.Atoms().Len()
}

// Key returns a canonical string for deduplication: rule, query, unified
// atoms and canonicalized partition.
func (u PieceUnifier) Key() string {
	var sb strings.Builder
	sb.WriteString(u.Rule.Key())
	sb.WriteString("#")
	sb.WriteString(u.Query.Key())
	sb.WriteString("#")
	sb.WriteString(u.Unified.Key())
	sb.WriteString("#")
	sb.WriteString(u.Partition.Key())
	return sb.String()
}

// FrontierInstantiation returns, for each head-frontier variable in
// canonical order, the ground representative of its class or nil.
func (u PieceUnifier) FrontierInstantiation() []ast.Term {
	frontier := u.Rule.HeadFrontier(u.HeadIndex)
	out := make([]ast.Term, len(frontier))
	for i, v := range frontier {
		if rep := u.Partition.Find(v); rep.IsGround() {
			out[i] = rep
		}
	}
	return out
}

// atomicPreUnifiers returns the admissible, rule-valid partitions
// unifying a query atom with one head atom each.
func atomicPreUnifiers(q ast.ConjunctiveQuery, r ast.Rule, headIndex int, a ast.Atom) []*unionfind.TermPartition {
	var out []*unionfind.TermPartition
	for _, h := range r.Head(headIndex).Atoms() {
		if h.Predicate != a.Predicate {
			continue
		}
		p := unionfind.New()
		for i, t := range a.Args {
			p.Union(t, h.Args[i])
		}
		if p.IsAdmissible() && p.IsValidFor(r, q) {
			out = append(out, p)
		}
	}
	return out
}

type candidate struct {
	unified   map[string]ast.Atom
	partition *unionfind.TermPartition
}

func (c candidate) key() string {
	keys := make([]string, 0, len(c.unified))
	for k := range c.unified {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return strings.Join(keys, " ") + "#" + c.partition.Key()
}

func (c candidate) freeze() *ast.FrozenAtomSet {
	atoms := make([]ast.Atom, 0, len(c.unified))
	for _, a := range c.unified {
		atoms = append(atoms, a)
	}
	return ast.NewFrozenAtomSet(atoms...)
}

// MostGeneralPieceUnifiers enumerates the most-general mono-piece
// unifiers between a query and the head disjunct of a rule. Atomic
// pre-unifiers are extended through sticky variables: a variable of the
// unified part that is merged with a head existential must not remain
// shared with the rest of the query, so every outside atom holding it is
// absorbed into the piece.
func MostGeneralPieceUnifiers(q ast.ConjunctiveQuery, r ast.Rule, headIndex int) []PieceUnifier {
	existentials := r.ExistentialVars(headIndex)

	var stack []candidate
	for _, a := range q.Atoms().Atoms() {
		for _, p := range atomicPreUnifiers(q, r, headIndex, a) {
			stack = append(stack, candidate{
				unified:   map[string]ast.Atom{a.Key(): a},
				partition: p,
			})
		}
	}

	seen := make(map[string]bool)
	results := make(map[string]PieceUnifier)
	for len(stack) > 0 {
		c := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		ckey := c.key()
		if seen[ckey] {
			continue
		}
		seen[ckey] = true

		sticky, atoms := stickyExtension(q, c, existentials)
		if sticky == nil {
			u := PieceUnifier{
				Rule:      r,
				HeadIndex: headIndex,
				Query:     q,
				Unified:   c.freeze(),
				Partition: c.partition,
			}
			results[u.Key()] = u
			continue
		}
		// Absorb one outside atom carrying the sticky variable; the
		// remaining ones are handled on later iterations.
		for _, b := range atoms {
			for _, p := range atomicPreUnifiers(q, r, headIndex, b) {
				joined := c.partition.Clone()
				joined.Join(p)
				if !joined.IsAdmissible() || !joined.IsValidFor(r, q) {
					continue
				}
				next := candidate{
					unified:   make(map[string]ast.Atom, len(c.unified)+1),
					partition: joined,
				}
				for k, v := range c.unified {
					next.unified[k] = v
				}
				next.unified[b.Key()] = b
				stack = append(stack, next)
			}
		}
	}
	return sortUnifiers(results)
}

// stickyExtension returns the first sticky variable of the candidate (a
// separating variable merged with a head existential) and the outside
// atoms containing it, or nil when the candidate is already a valid
// piece.
func stickyExtension(q ast.ConjunctiveQuery, c candidate, existentials map[ast.Variable]bool) (ast.Term, []ast.Atom) {
	unifiedVars := make(map[ast.Variable]bool)
	for _, a := range c.unified {
		a.AddVars(unifiedVars)
	}
	var outside []ast.Atom
	outsideVars := make(map[ast.Variable]bool)
	for _, a := range q.Atoms().Atoms() {
		if _, ok := c.unified[a.Key()]; ok {
			continue
		}
		outside = append(outside, a)
		a.AddVars(outsideVars)
	}
	for _, v := range ast.SortVars(unifiedVars) {
		if !outsideVars[v] || !classHasExistential(c.partition, v, existentials) {
			continue
		}
		var atoms []ast.Atom
		for _, a := range outside {
			if a.Vars()[v] {
				atoms = append(atoms, a)
			}
		}
		return v, atoms
	}
	return nil, nil
}

func classHasExistential(p *unionfind.TermPartition, v ast.Variable, existentials map[ast.Variable]bool) bool {
	for e := range existentials {
		if p.SameClass(v, e) {
			return true
		}
	}
	return false
}

// FullPieceUnifiers enumerates the unifiers covering the whole query:
// every query atom is unified with some atom of the head disjunct under a
// single admissible, rule-valid partition.
func FullPieceUnifiers(q ast.ConjunctiveQuery, r ast.Rule, headIndex int) []PieceUnifier {
	atoms := q.Atoms().Atoms()
	if len(atoms) == 0 {
		return nil
	}
	head := r.Head(headIndex).Atoms()
	results := make(map[string]PieceUnifier)

	var assign func(i int, p *unionfind.TermPartition)
	assign = func(i int, p *unionfind.TermPartition) {
		if i == len(atoms) {
			u := PieceUnifier{
				Rule:      r,
				HeadIndex: headIndex,
				Query:     q,
				Unified:   q.Atoms(),
				Partition: p,
			}
			results[u.Key()] = u
			return
		}
		a := atoms[i]
		for _, h := range head {
			if h.Predicate != a.Predicate {
				continue
			}
			joined := p.Clone()
			for j, t := range a.Args {
				joined.Union(t, h.Args[j])
			}
			if !joined.IsAdmissible() || !joined.IsValidFor(r, q) {
				continue
			}
			assign(i+1, joined)
		}
	}
	assign(0, unionfind.New())
	return sortUnifiers(results)
}

func sortUnifiers(m map[string]PieceUnifier) []PieceUnifier {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]PieceUnifier, len(keys))
	for i, k := range keys {
		out[i] = m[k]
	}
	return out
}
