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
	"sort"
	"strings"

	"github.com/existrules/entangle/ast"
	"github.com/existrules/entangle/unionfind"
)

// DisjunctivePieceUnifier combines one full piece-unifier per head
// disjunct of a rule, consistent on the frontier instantiation.
type DisjunctivePieceUnifier struct {
	Rule     ast.Rule
	Unifiers []PieceUnifier
	Query    ast.UnionQuery
}

// AssociatedPartition joins the component partitions and the
// pre-substitutions carried by the component queries.
func (d DisjunctivePieceUnifier) AssociatedPartition() *unionfind.TermPartition {
	part := d.Unifiers[0].Partition.Clone()
	for _, u := range d.Unifiers[1:] {
		part.Join(u.Partition)
	}
	for _, u := range d.Unifiers {
		for v, t := range u.Query.PreSubst() {
			part.Union(v, t)
		}
	}
	return part
}

// AssociatedSubst returns the substitution of the joined partition in the
// context of the union query, or ok=false when it is inadmissible.
func (d DisjunctivePieceUnifier) AssociatedSubst() (ast.Subst, bool) {
	part := d.AssociatedPartition()
	if !part.IsAdmissible() {
		return nil, false
	}
	return part.AssociatedSubst(d.Query)
}

// Key returns a canonical string for deduplication.
func (d DisjunctivePieceUnifier) Key() string {
	parts := make([]string, len(d.Unifiers))
	for i, u := range d.Unifiers {
		parts[i] = u.Key()
	}
	return d.Rule.Key() + "##" + strings.Join(parts, "§")
}

// MonoDisjunctiveUnifier wraps a single piece-unifier of a conjunctive
// rule as a one-component disjunctive unifier.
func MonoDisjunctiveUnifier(u PieceUnifier) DisjunctivePieceUnifier {
	return DisjunctivePieceUnifier{
		Rule:     u.Rule,
		Unifiers: []PieceUnifier{u},
		Query:    ast.MustUnionQuery(u.Query.AnswerVars(), u.Query),
	}
}

type cacheEntry struct {
	unifier PieceUnifier
	inst    []ast.Term
	cqKey   string
}

type ruleCache struct {
	has     []bool
	entries [][]cacheEntry
}

// DisjunctiveAlgorithm enumerates disjunctive piece-unifiers
// incrementally. Full unifiers computed against earlier queries are kept
// in a per-rule cache, one list per head index, each entry with its
// frontier instantiation; they are reused for later queries when the
// instantiations are compatible. Entries for queries that left the
// working set are dropped.
type DisjunctiveAlgorithm struct {
	fresh func() ast.Variable
	cache map[string]*ruleCache
}

// NewDisjunctiveAlgorithm constructs an algorithm drawing fresh variables
// from the given generator.
func NewDisjunctiveAlgorithm(fresh func() ast.Variable) *DisjunctiveAlgorithm {
	return &DisjunctiveAlgorithm{fresh: fresh, cache: make(map[string]*ruleCache)}
}

// RenameExistentials renames the existential variables of a query to
// fresh ones, keeping unification free of variable capture against rule
// variables introduced by earlier rewriting steps.
func RenameExistentials(q ast.ConjunctiveQuery, fresh func() ast.Variable) ast.ConjunctiveQuery {
	sub := make(ast.Subst)
	for _, v := range ast.SortVars(q.ExistentialVars()) {
		sub[v] = fresh()
	}
	renamed, err := q.ApplySubst(sub)
	if err != nil {
		return q
	}
	return renamed
}

// ComputeDisjunctiveUnifiers returns the disjunctive piece-unifiers of
// the rule against the new queries, completing the other head disjuncts
// from the cache of unifiers against any query of the working set.
func (a *DisjunctiveAlgorithm) ComputeDisjunctiveUnifiers(all, delta ast.UnionQuery, r ast.Rule) []DisjunctivePieceUnifier {
	heads := len(r.HeadDisjuncts())
	rc := a.cache[r.Key()]
	if rc == nil {
		rc = &ruleCache{has: make([]bool, heads), entries: make([][]cacheEntry, heads)}
		a.cache[r.Key()] = rc
	}
	a.cleanup(rc, all)

	results := make(map[string]DisjunctivePieceUnifier)
	for head := 0; head < heads; head++ {
		var fresh []cacheEntry
		for _, cq := range delta.Queries() {
			renamed := RenameExistentials(cq, a.fresh)
			for _, fpu := range FullPieceUnifiers(renamed, r, head) {
				fresh = append(fresh, cacheEntry{
					unifier: fpu,
					inst:    fpu.FrontierInstantiation(),
					cqKey:   cq.Key(),
				})
			}
		}
		if len(fresh) > 0 && !rc.has[head] {
			rc.has[head] = true
		}
		if allTrue(rc.has) {
			for _, e := range fresh {
				partial := make([]*PieceUnifier, heads)
				u := e.unifier
				partial[head] = &u
				a.extend(r, rc, head, partial, 0, delta.AnswerVars(), results)
			}
		}
		rc.entries[head] = append(rc.entries[head], fresh...)
	}

	keys := make([]string, 0, len(results))
	for k := range results {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]DisjunctivePieceUnifier, len(keys))
	for i, k := range keys {
		out[i] = results[k]
	}
	return out
}

func (a *DisjunctiveAlgorithm) cleanup(rc *ruleCache, all ast.UnionQuery) {
	alive := make(map[string]bool)
	for _, cq := range all.Queries() {
		alive[cq.Key()] = true
	}
	for head := range rc.entries {
		kept := rc.entries[head][:0]
		for _, e := range rc.entries[head] {
			if alive[e.cqKey] {
				kept = append(kept, e)
			}
		}
		rc.entries[head] = kept
	}
}

// extend fills the remaining head disjuncts of a partial unifier from the
// cache, keeping the frontier instantiations compatible.
func (a *DisjunctiveAlgorithm) extend(r ast.Rule, rc *ruleCache, seedHead int, partial []*PieceUnifier, current int, answerVars []ast.Variable, results map[string]DisjunctivePieceUnifier) {
	heads := len(r.HeadDisjuncts())
	if current == heads {
		a.complete(r, partial, answerVars, results)
		return
	}
	if current == seedHead {
		a.extend(r, rc, seedHead, partial, current+1, answerVars, results)
		return
	}
	inst := partialInstantiation(r, partial, current)
	for i := range rc.entries[current] {
		e := rc.entries[current][i]
		if !compatibleInstantiations(inst, e.inst) {
			continue
		}
		u := e.unifier
		partial[current] = &u
		a.extend(r, rc, seedHead, partial, current+1, answerVars, results)
		partial[current] = nil
	}
}

func (a *DisjunctiveAlgorithm) complete(r ast.Rule, partial []*PieceUnifier, answerVars []ast.Variable, results map[string]DisjunctivePieceUnifier) {
	unifiers := make([]PieceUnifier, len(partial))
	cqs := make([]ast.ConjunctiveQuery, len(partial))
	for i, u := range partial {
		unifiers[i] = *u
		cqs[i] = u.Query
	}
	union, err := ast.NewUnionQuery(answerVars, cqs...)
	if err != nil {
		return
	}
	d := DisjunctivePieceUnifier{Rule: r, Unifiers: unifiers, Query: union}
	part := d.AssociatedPartition()
	if !part.IsAdmissible() || !part.IsValidFor(r, d.Query) {
		return
	}
	results[d.Key()] = d
}

// partialInstantiation computes the frontier instantiation of a head
// under the partitions accumulated so far: ground representative or nil
// per frontier variable.
func partialInstantiation(r ast.Rule, partial []*PieceUnifier, head int) []ast.Term {
	var joined *unionfind.TermPartition
	for _, u := range partial {
		if u == nil {
			continue
		}
		if joined == nil {
			joined = u.Partition.Clone()
		} else {
			joined.Join(u.Partition)
		}
	}
	frontier := r.HeadFrontier(head)
	out := make([]ast.Term, len(frontier))
	if joined == nil {
		return out
	}
	for i, v := range frontier {
		if rep := joined.Find(v); rep.IsGround() {
			out[i] = rep
		}
	}
	return out
}

// compatibleInstantiations reports whether two frontier instantiations
// agree on every position where both are ground.
func compatibleInstantiations(a, b []ast.Term) bool {
	for i := range a {
		if a[i] != nil && b[i] != nil && !a[i].Equals(b[i]) {
			return false
		}
	}
	return true
}

func allTrue(bs []bool) bool {
	for _, b := range bs {
		if !b {
			return false
		}
	}
	return true
}
