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
	"sort"
	"strings"
)

// AtomSet is the read interface shared by frozen and mutable atom sets.
// Iteration over Atoms is deterministic (canonical key order).
type AtomSet interface {
	Atoms() []Atom
	AtomsOf(p Predicate) []Atom
	Contains(Atom) bool
	Len() int
	Predicates() []Predicate
	Vars() map[Variable]bool
	Terms() map[Term]bool
	WithVariable(Variable) []Atom
	Match(pattern Atom, sub Subst, cb func(Atom) error) error
}

// atomIndex stores atoms indexed by predicate and by contained variable.
type atomIndex struct {
	byPred map[Predicate]map[string]Atom
	byVar  map[Variable]map[string]Atom
	size   int
}

func newAtomIndex() atomIndex {
	return atomIndex{
		byPred: make(map[Predicate]map[string]Atom),
		byVar:  make(map[Variable]map[string]Atom),
	}
}

func (x *atomIndex) insert(a Atom) bool {
	key := a.Key()
	shard, ok := x.byPred[a.Predicate]
	if !ok {
		shard = make(map[string]Atom)
		x.byPred[a.Predicate] = shard
	}
	if _, ok := shard[key]; ok {
		return false
	}
	shard[key] = a
	for v := range a.Vars() {
		vs, ok := x.byVar[v]
		if !ok {
			vs = make(map[string]Atom)
			x.byVar[v] = vs
		}
		vs[key] = a
	}
	x.size++
	return true
}

func (x *atomIndex) delete(a Atom) bool {
	key := a.Key()
	shard, ok := x.byPred[a.Predicate]
	if !ok {
		return false
	}
	if _, ok := shard[key]; !ok {
		return false
	}
	delete(shard, key)
	if len(shard) == 0 {
		delete(x.byPred, a.Predicate)
	}
	for v := range a.Vars() {
		if vs, ok := x.byVar[v]; ok {
			delete(vs, key)
			if len(vs) == 0 {
				delete(x.byVar, v)
			}
		}
	}
	x.size--
	return true
}

// Atoms returns all atoms in canonical order.
func (x *atomIndex) Atoms() []Atom {
	out := make([]Atom, 0, x.size)
	for _, shard := range x.byPred {
		for _, a := range shard {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out
}

// AtomsOf returns the atoms with the given predicate in canonical order.
func (x *atomIndex) AtomsOf(p Predicate) []Atom {
	shard := x.byPred[p]
	out := make([]Atom, 0, len(shard))
	for _, a := range shard {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out
}

// Contains reports whether the set holds the atom.
func (x *atomIndex) Contains(a Atom) bool {
	shard, ok := x.byPred[a.Predicate]
	if !ok {
		return false
	}
	_, ok = shard[a.Key()]
	return ok
}

// Len returns the number of atoms.
func (x *atomIndex) Len() int { return x.size }

// Predicates returns the predicates of the set, sorted.
func (x *atomIndex) Predicates() []Predicate {
	out := make([]Predicate, 0, len(x.byPred))
	for p := range x.byPred {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Symbol != out[j].Symbol {
			return out[i].Symbol < out[j].Symbol
		}
		return out[i].Arity < out[j].Arity
	})
	return out
}

// Vars returns the set of variables appearing in the atoms.
func (x *atomIndex) Vars() map[Variable]bool {
	m := make(map[Variable]bool, len(x.byVar))
	for v := range x.byVar {
		m[v] = true
	}
	return m
}

// Terms returns the set of terms appearing at atom positions.
func (x *atomIndex) Terms() map[Term]bool {
	m := make(map[Term]bool)
	for _, shard := range x.byPred {
		for _, a := range shard {
			for _, t := range a.Args {
				m[t] = true
			}
		}
	}
	return m
}

// WithVariable returns the atoms containing the variable, in canonical
// order.
func (x *atomIndex) WithVariable(v Variable) []Atom {
	vs := x.byVar[v]
	out := make([]Atom, 0, len(vs))
	for _, a := range vs {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out
}

// Match streams the atoms whose terms unify with the pattern under the
// given substitution. Ground pattern positions must be equal; a pattern
// variable bound by sub must match its image; unbound pattern variables
// bind locally and must stay consistent across positions.
func (x *atomIndex) Match(pattern Atom, sub Subst, cb func(Atom) error) error {
	for _, a := range x.AtomsOf(pattern.Predicate) {
		if matchesPattern(pattern, a, sub) {
			if err := cb(a); err != nil {
				return err
			}
		}
	}
	return nil
}

func matchesPattern(pattern, a Atom, sub Subst) bool {
	local := make(map[Variable]Term)
	for i, pt := range pattern.Args {
		img := sub.Apply(pt)
		if v, ok := img.(Variable); ok {
			if bound, ok := local[v]; ok {
				if !bound.Equals(a.Args[i]) {
					return false
				}
			} else {
				local[v] = a.Args[i]
			}
			continue
		}
		if !img.Equals(a.Args[i]) {
			return false
		}
	}
	return true
}

func (x *atomIndex) keyString() string {
	atoms := x.Atoms()
	keys := make([]string, len(atoms))
	for i, a := range atoms {
		keys[i] = a.Key()
	}
	return strings.Join(keys, " ")
}

// FrozenAtomSet is an immutable atom set, safe to share across components
// and usable as a map key through Key.
type FrozenAtomSet struct {
	atomIndex
	key string
}

// NewFrozenAtomSet constructs a frozen atom set from atoms. Duplicates are
// collapsed.
func NewFrozenAtomSet(atoms ...Atom) *FrozenAtomSet {
	s := &FrozenAtomSet{atomIndex: newAtomIndex()}
	for _, a := range atoms {
		s.insert(a)
	}
	s.key = s.keyString()
	return s
}

// Key returns a canonical string identifying the set's contents.
func (s *FrozenAtomSet) Key() string { return s.key }

// Equals reports whether both sets contain the same atoms.
func (s *FrozenAtomSet) Equals(o *FrozenAtomSet) bool {
	return s.key == o.key
}

// ApplySubst returns a new frozen set with the substitution applied to
// every atom.
func (s *FrozenAtomSet) ApplySubst(sub Subst) *FrozenAtomSet {
	atoms := s.Atoms()
	out := make([]Atom, len(atoms))
	for i, a := range atoms {
		out[i] = sub.ApplyAtom(a)
	}
	return NewFrozenAtomSet(out...)
}

// Union returns a frozen set holding the atoms of both sets.
func (s *FrozenAtomSet) Union(o *FrozenAtomSet) *FrozenAtomSet {
	return NewFrozenAtomSet(append(s.Atoms(), o.Atoms()...)...)
}

// Difference returns a frozen set holding the atoms of s not in o.
func (s *FrozenAtomSet) Difference(o *FrozenAtomSet) *FrozenAtomSet {
	var out []Atom
	for _, a := range s.Atoms() {
		if !o.Contains(a) {
			out = append(out, a)
		}
	}
	return NewFrozenAtomSet(out...)
}

// String returns a readable representation.
func (s *FrozenAtomSet) String() string {
	atoms := s.Atoms()
	parts := make([]string, len(atoms))
	for i, a := range atoms {
		parts[i] = a.String()
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

// MutableAtomSet is an atom set supporting additions and removals. It is
// not safe for concurrent mutation; owners serialize access.
type MutableAtomSet struct {
	atomIndex
}

// NewMutableAtomSet constructs a mutable atom set from atoms.
func NewMutableAtomSet(atoms ...Atom) *MutableAtomSet {
	s := &MutableAtomSet{atomIndex: newAtomIndex()}
	for _, a := range atoms {
		s.insert(a)
	}
	return s
}

// FromAtomSet copies any atom set into a new mutable one.
func FromAtomSet(src AtomSet) *MutableAtomSet {
	return NewMutableAtomSet(src.Atoms()...)
}

// Add inserts an atom, reporting whether it was new.
func (s *MutableAtomSet) Add(a Atom) bool { return s.insert(a) }

// Discard removes an atom, reporting whether it was present.
func (s *MutableAtomSet) Discard(a Atom) bool { return s.delete(a) }

// RemoveAll removes every atom of the slice.
func (s *MutableAtomSet) RemoveAll(atoms []Atom) {
	for _, a := range atoms {
		s.delete(a)
	}
}

// Freeze returns an immutable copy.
func (s *MutableAtomSet) Freeze() *FrozenAtomSet {
	return NewFrozenAtomSet(s.Atoms()...)
}

// Clone returns a mutable copy.
func (s *MutableAtomSet) Clone() *MutableAtomSet {
	return NewMutableAtomSet(s.Atoms()...)
}

// String returns a readable representation.
func (s *MutableAtomSet) String() string {
	atoms := s.Atoms()
	parts := make([]string, len(atoms))
	for i, a := range atoms {
		parts[i] = a.String()
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

// SplitPieces returns the connected components of the set induced by the
// active variables: two atoms belong to the same piece when they are
// linked through a chain of shared active variables. Atoms without active
// variables are not part of any piece.
func SplitPieces(s AtomSet, active map[Variable]bool) []*FrozenAtomSet {
	if len(active) == 0 {
		return nil
	}
	visited := make(map[Variable]bool)
	var pieces []*FrozenAtomSet

	for _, root := range SortVars(active) {
		if visited[root] || len(s.WithVariable(root)) == 0 {
			continue
		}
		queue := []Variable{root}
		visited[root] = true
		component := make(map[string]Atom)
		for len(queue) > 0 {
			v := queue[0]
			queue = queue[1:]
			for _, a := range s.WithVariable(v) {
				key := a.Key()
				if _, ok := component[key]; ok {
					continue
				}
				component[key] = a
				for linked := range a.Vars() {
					if active[linked] && !visited[linked] {
						visited[linked] = true
						queue = append(queue, linked)
					}
				}
			}
		}
		if len(component) > 0 {
			atoms := make([]Atom, 0, len(component))
			for _, a := range component {
				atoms = append(atoms, a)
			}
			pieces = append(pieces, NewFrozenAtomSet(atoms...))
		}
	}
	return pieces
}
