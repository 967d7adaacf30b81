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

// Package factstore contains the data-source contract consumed by the
// homomorphism engine and simple in-memory implementations.
package factstore

import (
	"sort"

	"github.com/existrules/entangle/ast"
)

// BasicQuery is the atomic request a data source answers: a predicate, the
// positions bound to terms, and the positions to be enumerated.
type BasicQuery struct {
	Predicate ast.Predicate
	Bound     map[int]ast.Term
	Answers   map[int]ast.Variable
}

// AnswerPositions returns the answer positions in ascending order. Tuples
// streamed by Evaluate follow this order.
func (q BasicQuery) AnswerPositions() []int {
	out := make([]int, 0, len(q.Answers))
	for pos := range q.Answers {
		out = append(out, pos)
	}
	sort.Ints(out)
	return out
}

// AtomicPattern describes, for a predicate, which positions a data source
// requires to be bound before it can evaluate.
type AtomicPattern struct {
	Predicate ast.Predicate
	// Mandatory positions must carry a bound term in any BasicQuery.
	Mandatory []int
}

// UnsatisfiedPositions returns the mandatory positions left unbound by a
// query.
func (p AtomicPattern) UnsatisfiedPositions(q BasicQuery) []int {
	var out []int
	for _, pos := range p.Mandatory {
		if _, ok := q.Bound[pos]; !ok {
			out = append(out, pos)
		}
	}
	return out
}

// ReadableSource provides read access to facts. Unknown predicates
// produce empty streams, not errors.
type ReadableSource interface {
	// HasPredicate reports whether the source can answer queries on p.
	HasPredicate(p ast.Predicate) bool

	// AtomicPattern returns the constraint pattern for a predicate.
	AtomicPattern(p ast.Predicate) (AtomicPattern, bool)

	// Predicates lists the predicates available in this source.
	Predicates() []ast.Predicate

	// Evaluate streams, for each matching fact, the terms at the query's
	// answer positions (ascending position order). If the callback
	// returns an error, streaming stops and that error is returned.
	Evaluate(q BasicQuery, cb func([]ast.Term) error) error

	// CanEvaluate reports whether the query satisfies the source's
	// constraint pattern.
	CanEvaluate(q BasicQuery) bool

	// EstimateBound returns an upper bound on the number of results, or
	// known=false when the source cannot estimate.
	EstimateBound(q BasicQuery) (bound int, known bool)
}

// TermEnumerator is implemented by sources that can enumerate their term
// domain, enabling universal quantification and unsafe negation.
type TermEnumerator interface {
	Terms() []ast.Term
}

// MutableSource is a materialized source supporting mutation. Used by the
// core-computation adapter.
type MutableSource interface {
	ReadableSource

	Add(ast.Atom) bool
	Remove(ast.Atom) bool
	RemoveAll([]ast.Atom)
	Atoms() []ast.Atom
}

// evaluateAtomSet answers a basic query against an atom set. Facts may
// contain variables; a bound position matches by term equality.
func evaluateAtomSet(s ast.AtomSet, q BasicQuery, cb func([]ast.Term) error) error {
	positions := q.AnswerPositions()
	for _, fact := range s.AtomsOf(q.Predicate) {
		ok := true
		for pos, t := range q.Bound {
			if pos >= len(fact.Args) || !t.Equals(fact.Args[pos]) {
				ok = false
				break
			}
		}
		if !ok {
			continue
		}
		tuple := make([]ast.Term, len(positions))
		for i, pos := range positions {
			tuple[i] = fact.Args[pos]
		}
		if err := cb(tuple); err != nil {
			return err
		}
	}
	return nil
}

// AtomSetSource adapts an atom set as a read-only data source. The atoms
// may contain variables, which is what core computation and containment
// rely on: variables in the data behave as opaque terms.
type AtomSetSource struct {
	set ast.AtomSet
}

// NewAtomSetSource wraps an atom set.
func NewAtomSetSource(set ast.AtomSet) AtomSetSource {
	return AtomSetSource{set}
}

// HasPredicate implements ReadableSource.
func (s AtomSetSource) HasPredicate(p ast.Predicate) bool {
	return len(s.set.AtomsOf(p)) > 0
}

// AtomicPattern implements ReadableSource: no mandatory positions.
func (s AtomSetSource) AtomicPattern(p ast.Predicate) (AtomicPattern, bool) {
	if !s.HasPredicate(p) {
		return AtomicPattern{}, false
	}
	return AtomicPattern{Predicate: p}, true
}

// Predicates implements ReadableSource.
func (s AtomSetSource) Predicates() []ast.Predicate { return s.set.Predicates() }

// Evaluate implements ReadableSource.
func (s AtomSetSource) Evaluate(q BasicQuery, cb func([]ast.Term) error) error {
	return evaluateAtomSet(s.set, q, cb)
}

// CanEvaluate implements ReadableSource: always true for in-memory sets.
func (s AtomSetSource) CanEvaluate(q BasicQuery) bool { return true }

// EstimateBound implements ReadableSource with the predicate shard size.
func (s AtomSetSource) EstimateBound(q BasicQuery) (int, bool) {
	return len(s.set.AtomsOf(q.Predicate)), true
}

// AtomsOf lists the facts with the given predicate, enabling
// compilation-aware matching.
func (s AtomSetSource) AtomsOf(p ast.Predicate) []ast.Atom { return s.set.AtomsOf(p) }

// Terms implements TermEnumerator.
func (s AtomSetSource) Terms() []ast.Term {
	m := s.set.Terms()
	out := make([]ast.Term, 0, len(m))
	for t := range m {
		out = append(out, t)
	}
	ast.SortTerms(out)
	return out
}

// SimpleInMemoryStore is a mutable in-memory fact store backed by a
// predicate-indexed atom set.
type SimpleInMemoryStore struct {
	set *ast.MutableAtomSet
}

// NewSimpleInMemoryStore constructs a store holding the given atoms.
func NewSimpleInMemoryStore(atoms ...ast.Atom) *SimpleInMemoryStore {
	return &SimpleInMemoryStore{ast.NewMutableAtomSet(atoms...)}
}

// HasPredicate implements ReadableSource.
func (s *SimpleInMemoryStore) HasPredicate(p ast.Predicate) bool {
	return len(s.set.AtomsOf(p)) > 0
}

// AtomicPattern implements ReadableSource: no mandatory positions.
func (s *SimpleInMemoryStore) AtomicPattern(p ast.Predicate) (AtomicPattern, bool) {
	if !s.HasPredicate(p) {
		return AtomicPattern{}, false
	}
	return AtomicPattern{Predicate: p}, true
}

// Predicates implements ReadableSource.
func (s *SimpleInMemoryStore) Predicates() []ast.Predicate { return s.set.Predicates() }

// Evaluate implements ReadableSource.
func (s *SimpleInMemoryStore) Evaluate(q BasicQuery, cb func([]ast.Term) error) error {
	return evaluateAtomSet(s.set, q, cb)
}

// CanEvaluate implements ReadableSource.
func (s *SimpleInMemoryStore) CanEvaluate(q BasicQuery) bool { return true }

// EstimateBound implements ReadableSource.
func (s *SimpleInMemoryStore) EstimateBound(q BasicQuery) (int, bool) {
	return len(s.set.AtomsOf(q.Predicate)), true
}

// AtomsOf lists the facts with the given predicate.
func (s *SimpleInMemoryStore) AtomsOf(p ast.Predicate) []ast.Atom { return s.set.AtomsOf(p) }

// Terms implements TermEnumerator.
func (s *SimpleInMemoryStore) Terms() []ast.Term {
	return NewAtomSetSource(s.set).Terms()
}

// Add implements MutableSource.
func (s *SimpleInMemoryStore) Add(a ast.Atom) bool { return s.set.Add(a) }

// Remove implements MutableSource.
func (s *SimpleInMemoryStore) Remove(a ast.Atom) bool { return s.set.Discard(a) }

// RemoveAll implements MutableSource.
func (s *SimpleInMemoryStore) RemoveAll(atoms []ast.Atom) { s.set.RemoveAll(atoms) }

// Atoms implements MutableSource.
func (s *SimpleInMemoryStore) Atoms() []ast.Atom { return s.set.Atoms() }

// MergedSource dispatches queries over several sources by predicate. Reads
// go to every source that has the predicate; the sources are expected to
// serve disjoint predicates, otherwise duplicates may be streamed.
type MergedSource struct {
	sources []ReadableSource
}

// NewMergedSource merges sources.
func NewMergedSource(sources ...ReadableSource) MergedSource {
	return MergedSource{sources}
}

// HasPredicate implements ReadableSource.
func (s MergedSource) HasPredicate(p ast.Predicate) bool {
	for _, src := range s.sources {
		if src.HasPredicate(p) {
			return true
		}
	}
	return false
}

// AtomicPattern implements ReadableSource by asking the first source that
// has the predicate.
func (s MergedSource) AtomicPattern(p ast.Predicate) (AtomicPattern, bool) {
	for _, src := range s.sources {
		if pat, ok := src.AtomicPattern(p); ok {
			return pat, true
		}
	}
	return AtomicPattern{}, false
}

// Predicates implements ReadableSource.
func (s MergedSource) Predicates() []ast.Predicate {
	seen := make(map[ast.Predicate]bool)
	var out []ast.Predicate
	for _, src := range s.sources {
		for _, p := range src.Predicates() {
			if !seen[p] {
				seen[p] = true
				out = append(out, p)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Symbol != out[j].Symbol {
			return out[i].Symbol < out[j].Symbol
		}
		return out[i].Arity < out[j].Arity
	})
	return out
}

// Evaluate implements ReadableSource.
func (s MergedSource) Evaluate(q BasicQuery, cb func([]ast.Term) error) error {
	for _, src := range s.sources {
		if !src.HasPredicate(q.Predicate) {
			continue
		}
		if err := src.Evaluate(q, cb); err != nil {
			return err
		}
	}
	return nil
}

// CanEvaluate implements ReadableSource.
func (s MergedSource) CanEvaluate(q BasicQuery) bool {
	for _, src := range s.sources {
		if src.HasPredicate(q.Predicate) {
			if !src.CanEvaluate(q) {
				return false
			}
		}
	}
	return true
}

// EstimateBound implements ReadableSource, summing known bounds.
func (s MergedSource) EstimateBound(q BasicQuery) (int, bool) {
	total := 0
	for _, src := range s.sources {
		if !src.HasPredicate(q.Predicate) {
			continue
		}
		b, known := src.EstimateBound(q)
		if !known {
			return 0, false
		}
		total += b
	}
	return total, true
}

// Terms implements TermEnumerator over the sources that support it.
func (s MergedSource) Terms() []ast.Term {
	seen := make(map[ast.Term]bool)
	var out []ast.Term
	for _, src := range s.sources {
		if enum, ok := src.(TermEnumerator); ok {
			for _, t := range enum.Terms() {
				if !seen[t] {
					seen[t] = true
					out = append(out, t)
				}
			}
		}
	}
	ast.SortTerms(out)
	return out
}
