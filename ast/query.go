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
	"fmt"
	"sort"
	"strings"

	"go.uber.org/multierr"
)

// AnswerPredicateSymbol names the internal predicate that carries the
// answer tuple of a query during containment checks.
const AnswerPredicateSymbol = "@ans"

// ConjunctiveQuery is a frozen atom set together with an ordered tuple of
// answer variables and an optional pre-substitution. The pre-substitution
// records equalities discovered during rewriting and composes with any
// binding produced by evaluation.
type ConjunctiveQuery struct {
	atoms      *FrozenAtomSet
	answerVars []Variable
	preSubst   Subst
	key        string
}

// NewConjunctiveQuery constructs a conjunctive query. Every answer
// variable must occur in the atoms or be moved by the pre-substitution.
func NewConjunctiveQuery(atoms *FrozenAtomSet, answerVars []Variable, preSubst Subst) (ConjunctiveQuery, error) {
	vars := atoms.Vars()
	for _, v := range answerVars {
		if _, moved := preSubst[v]; !vars[v] && !moved {
			return ConjunctiveQuery{}, fmt.Errorf("answer variable %s does not occur in query atoms %s", v, atoms)
		}
	}
	q := ConjunctiveQuery{
		atoms:      atoms,
		answerVars: append([]Variable(nil), answerVars...),
		preSubst:   preSubst.Clone(),
	}
	q.key = q.computeKey()
	return q, nil
}

// MustConjunctiveQuery is like NewConjunctiveQuery but panics on invalid
// input. Intended for construction of fixed queries in tests.
func MustConjunctiveQuery(atoms *FrozenAtomSet, answerVars []Variable, preSubst Subst) ConjunctiveQuery {
	q, err := NewConjunctiveQuery(atoms, answerVars, preSubst)
	if err != nil {
		panic(err)
	}
	return q
}

func (q ConjunctiveQuery) computeKey() string {
	var sb strings.Builder
	sb.WriteString(q.atoms.Key())
	sb.WriteString("|ans:")
	for i, v := range q.answerVars {
		if i > 0 {
			sb.WriteRune(',')
		}
		sb.WriteString(v.Symbol)
	}
	sb.WriteString("|pre:")
	sb.WriteString(q.preSubst.Key())
	return sb.String()
}

// Atoms returns the query's atom set.
func (q ConjunctiveQuery) Atoms() *FrozenAtomSet { return q.atoms }

// AnswerVars returns the ordered answer variables.
func (q ConjunctiveQuery) AnswerVars() []Variable { return q.answerVars }

// PreSubst returns the query's pre-substitution.
func (q ConjunctiveQuery) PreSubst() Subst { return q.preSubst }

// AnswerVarSet returns the answer variables as a set.
func (q ConjunctiveQuery) AnswerVarSet() map[Variable]bool {
	m := make(map[Variable]bool, len(q.answerVars))
	for _, v := range q.answerVars {
		m[v] = true
	}
	return m
}

// Vars returns all variables of the query atoms.
func (q ConjunctiveQuery) Vars() map[Variable]bool { return q.atoms.Vars() }

// ExistentialVars returns the variables of the atoms that are not answer
// variables.
func (q ConjunctiveQuery) ExistentialVars() map[Variable]bool {
	ans := q.AnswerVarSet()
	out := make(map[Variable]bool)
	for v := range q.atoms.Vars() {
		if !ans[v] {
			out[v] = true
		}
	}
	return out
}

// AnswerAtom returns the internal atom carrying the answer tuple, used by
// containment checking.
func (q ConjunctiveQuery) AnswerAtom() Atom {
	args := make([]Term, len(q.answerVars))
	for i, v := range q.answerVars {
		args[i] = v
	}
	return Atom{Predicate{AnswerPredicateSymbol, len(q.answerVars)}, args}
}

// Key returns a canonical string identifying the query.
func (q ConjunctiveQuery) Key() string { return q.key }

// Equals reports whether two queries have the same atoms, answer variables
// and pre-substitution.
func (q ConjunctiveQuery) Equals(o ConjunctiveQuery) bool { return q.key == o.key }

// ApplySubst applies a substitution to atoms, answer variables and
// pre-substitution. It fails when an answer variable is mapped to a
// non-variable term.
func (q ConjunctiveQuery) ApplySubst(sub Subst) (ConjunctiveQuery, error) {
	newAtoms := q.atoms.ApplySubst(sub)
	newAnswer := make([]Variable, len(q.answerVars))
	for i, v := range q.answerVars {
		img := sub.Apply(v)
		iv, ok := img.(Variable)
		if !ok {
			return ConjunctiveQuery{}, fmt.Errorf("substitution maps answer variable %s to non-variable %s", v, img)
		}
		newAnswer[i] = iv
	}
	newPre := make(Subst)
	for v, t := range q.preSubst {
		img := sub.Apply(v)
		iv, ok := img.(Variable)
		if !ok {
			continue
		}
		if it := sub.Apply(t); !it.Equals(iv) {
			newPre[iv] = it
		}
	}
	return NewConjunctiveQuery(newAtoms, newAnswer, newPre)
}

// Formula returns the query atoms as a conjunction in canonical order.
// The query ?() over zero atoms has no formula.
func (q ConjunctiveQuery) Formula() Formula {
	atoms := q.atoms.Atoms()
	fs := make([]Formula, len(atoms))
	for i, a := range atoms {
		fs[i] = a
	}
	return NewConj(fs...)
}

// String returns a readable ?(X, Y) :- body representation.
func (q ConjunctiveQuery) String() string {
	var sb strings.Builder
	sb.WriteString("?(")
	for i, v := range q.answerVars {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(v.Symbol)
	}
	sb.WriteString(") :- ")
	atoms := q.atoms.Atoms()
	for i, a := range atoms {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(a.String())
	}
	if len(q.preSubst) > 0 {
		sb.WriteString(" [pre ")
		sb.WriteString(q.preSubst.String())
		sb.WriteRune(']')
	}
	return sb.String()
}

// UnionQuery is an unordered union of conjunctive queries sharing the
// answer-variable tuple. Sub-queries are renormalized to the union's
// answer-variable names on construction.
type UnionQuery struct {
	answerVars []Variable
	cqs        map[string]ConjunctiveQuery
}

// NewUnionQuery constructs a union query, renaming each sub-query's
// answer variables to the union's.
func NewUnionQuery(answerVars []Variable, queries ...ConjunctiveQuery) (UnionQuery, error) {
	u := UnionQuery{
		answerVars: append([]Variable(nil), answerVars...),
		cqs:        make(map[string]ConjunctiveQuery, len(queries)),
	}
	for _, q := range queries {
		if len(q.AnswerVars()) != len(answerVars) {
			return UnionQuery{}, fmt.Errorf("query %s has %d answer variables, want %d", q, len(q.AnswerVars()), len(answerVars))
		}
		renamed := q
		if !sameVars(q.AnswerVars(), answerVars) {
			rename := make(Subst)
			for i, v := range q.AnswerVars() {
				if v != answerVars[i] {
					rename[v] = answerVars[i]
				}
			}
			var err error
			renamed, err = q.ApplySubst(rename)
			if err != nil {
				return UnionQuery{}, err
			}
		}
		u.cqs[renamed.Key()] = renamed
	}
	return u, nil
}

// MustUnionQuery is like NewUnionQuery but panics on invalid input.
func MustUnionQuery(answerVars []Variable, queries ...ConjunctiveQuery) UnionQuery {
	u, err := NewUnionQuery(answerVars, queries...)
	if err != nil {
		panic(err)
	}
	return u
}

func sameVars(a, b []Variable) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// AnswerVars returns the ordered answer variables of the union.
func (u UnionQuery) AnswerVars() []Variable { return u.answerVars }

// Queries returns the sub-queries in canonical order.
func (u UnionQuery) Queries() []ConjunctiveQuery {
	keys := make([]string, 0, len(u.cqs))
	for k := range u.cqs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]ConjunctiveQuery, len(keys))
	for i, k := range keys {
		out[i] = u.cqs[k]
	}
	return out
}

// Len returns the number of sub-queries.
func (u UnionQuery) Len() int { return len(u.cqs) }

// Contains reports whether the union holds the query.
func (u UnionQuery) Contains(q ConjunctiveQuery) bool {
	_, ok := u.cqs[q.Key()]
	return ok
}

// Union returns the union of two union queries over the same answer
// variables.
func (u UnionQuery) Union(o UnionQuery) (UnionQuery, error) {
	if !sameVars(u.answerVars, o.answerVars) {
		return UnionQuery{}, fmt.Errorf("cannot union queries with answer variables %v and %v", u.answerVars, o.answerVars)
	}
	return NewUnionQuery(u.answerVars, append(u.Queries(), o.Queries()...)...)
}

// AnswerVarSet returns the answer variables as a set.
func (u UnionQuery) AnswerVarSet() map[Variable]bool {
	m := make(map[Variable]bool, len(u.answerVars))
	for _, v := range u.answerVars {
		m[v] = true
	}
	return m
}

// Vars returns the variables of all sub-queries.
func (u UnionQuery) Vars() map[Variable]bool {
	out := make(map[Variable]bool)
	for _, q := range u.cqs {
		for v := range q.Vars() {
			out[v] = true
		}
	}
	return out
}

// ToFOQuery converts the union to a first-order query: each conjunctive
// query becomes an existentially closed conjunction; the union is their
// disjunction.
func (u UnionQuery) ToFOQuery() (FOQuery, error) {
	if len(u.cqs) == 0 {
		return FOQuery{}, fmt.Errorf("cannot convert empty union query")
	}
	var fs []Formula
	for _, q := range u.Queries() {
		f := q.Formula()
		if f == nil {
			return FOQuery{}, fmt.Errorf("cannot convert empty conjunctive query %s", q)
		}
		for _, v := range SortVars(q.ExistentialVars()) {
			f = Exists{v, f}
		}
		fs = append(fs, f)
	}
	return FOQuery{NewDisj(fs...), append([]Variable(nil), u.answerVars...)}, nil
}

// String returns a readable representation.
func (u UnionQuery) String() string {
	qs := u.Queries()
	parts := make([]string, len(qs))
	for i, q := range qs {
		parts[i] = q.String()
	}
	return strings.Join(parts, " ∨ ")
}

// FOQuery is a first-order query: a formula and the ordered answer
// variables, a subset of the formula's free variables.
type FOQuery struct {
	Formula    Formula
	AnswerVars []Variable
}

// Rule is an existential rule: a body and a non-empty ordered list of head
// disjuncts. A rule with one disjunct is conjunctive.
type Rule struct {
	label    string
	body     *FrozenAtomSet
	heads    []*FrozenAtomSet
	frontier map[Variable]bool
	key      string
}

// NewRule constructs and validates a rule.
func NewRule(label string, body *FrozenAtomSet, heads ...*FrozenAtomSet) (Rule, error) {
	var errs error
	if body == nil || body.Len() == 0 {
		errs = multierr.Append(errs, fmt.Errorf("rule %q: empty body", label))
	}
	if len(heads) == 0 {
		errs = multierr.Append(errs, fmt.Errorf("rule %q: no head disjunct", label))
	}
	for i, h := range heads {
		if h == nil || h.Len() == 0 {
			errs = multierr.Append(errs, fmt.Errorf("rule %q: head disjunct %d is empty", label, i))
			continue
		}
		for _, p := range h.Predicates() {
			if p.IsEquality() || p.IsComparison() {
				errs = multierr.Append(errs, fmt.Errorf("rule %q: reserved predicate %s in head disjunct %d", label, p, i))
			}
		}
	}
	if errs != nil {
		return Rule{}, errs
	}

	r := Rule{label: label, body: body, heads: append([]*FrozenAtomSet(nil), heads...)}
	bodyVars := body.Vars()
	r.frontier = make(map[Variable]bool)
	for _, h := range heads {
		for v := range h.Vars() {
			if bodyVars[v] {
				r.frontier[v] = true
			}
		}
	}
	var sb strings.Builder
	sb.WriteString(label)
	sb.WriteRune('|')
	sb.WriteString(body.Key())
	for _, h := range heads {
		sb.WriteRune('|')
		sb.WriteString(h.Key())
	}
	r.key = sb.String()
	return r, nil
}

// MustRule is like NewRule but panics on invalid input.
func MustRule(label string, body *FrozenAtomSet, heads ...*FrozenAtomSet) Rule {
	r, err := NewRule(label, body, heads...)
	if err != nil {
		panic(err)
	}
	return r
}

// Label returns the rule's label, possibly empty.
func (r Rule) Label() string { return r.label }

// Body returns the rule body.
func (r Rule) Body() *FrozenAtomSet { return r.body }

// HeadDisjuncts returns the ordered head disjuncts.
func (r Rule) HeadDisjuncts() []*FrozenAtomSet { return r.heads }

// Head returns the i-th head disjunct.
func (r Rule) Head(i int) *FrozenAtomSet { return r.heads[i] }

// IsConjunctive reports whether the rule has a single head disjunct.
func (r Rule) IsConjunctive() bool { return len(r.heads) == 1 }

// FrontierSet returns the variables shared between body and head.
func (r Rule) FrontierSet() map[Variable]bool { return r.frontier }

// Frontier returns the frontier in canonical order.
func (r Rule) Frontier() []Variable { return SortVars(r.frontier) }

// ExistentialVars returns the existential variables of the i-th head
// disjunct: its variables minus the frontier.
func (r Rule) ExistentialVars(i int) map[Variable]bool {
	out := make(map[Variable]bool)
	for v := range r.heads[i].Vars() {
		if !r.frontier[v] {
			out[v] = true
		}
	}
	return out
}

// AllExistentialVars returns the existential variables of every head
// disjunct.
func (r Rule) AllExistentialVars() map[Variable]bool {
	out := make(map[Variable]bool)
	for i := range r.heads {
		for v := range r.ExistentialVars(i) {
			out[v] = true
		}
	}
	return out
}

// HeadFrontier returns, in canonical order, the frontier variables that
// occur in the i-th head disjunct.
func (r Rule) HeadFrontier(i int) []Variable {
	out := make(map[Variable]bool)
	for v := range r.heads[i].Vars() {
		if r.frontier[v] {
			out[v] = true
		}
	}
	return SortVars(out)
}

// Vars returns every variable of the rule.
func (r Rule) Vars() map[Variable]bool {
	out := r.body.Vars()
	for _, h := range r.heads {
		for v := range h.Vars() {
			out[v] = true
		}
	}
	return out
}

// ExtractConjunctiveRule returns the single-head rule made of the body and
// the i-th head disjunct.
func (r Rule) ExtractConjunctiveRule(i int) Rule {
	label := r.label
	if !r.IsConjunctive() {
		label = fmt.Sprintf("%s#%d", r.label, i)
	}
	out := MustRule(label, r.body, r.heads[i])
	return out
}

// Key returns a canonical string identifying the rule.
func (r Rule) Key() string { return r.key }

// String returns a readable head :- body representation.
func (r Rule) String() string {
	var sb strings.Builder
	for i, h := range r.heads {
		if i > 0 {
			sb.WriteString(" ∨ ")
		}
		atoms := h.Atoms()
		for j, a := range atoms {
			if j > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(a.String())
		}
	}
	sb.WriteString(" :- ")
	atoms := r.body.Atoms()
	for i, a := range atoms {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(a.String())
	}
	sb.WriteRune('.')
	return sb.String()
}

// RenameAwayFrom returns a substitution replacing each variable of vars
// that occurs in avoid with a fresh variable.
func RenameAwayFrom(vars, avoid map[Variable]bool, fresh func() Variable) Subst {
	renaming := make(Subst)
	for _, v := range SortVars(vars) {
		if avoid[v] {
			renaming[v] = fresh()
		}
	}
	return renaming
}
