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

// Package core computes cores of atom sets: minimal equivalent subsets
// under homomorphisms that are the identity on a set of frozen variables.
package core

import (
	"context"

	"github.com/existrules/entangle/ast"
	"github.com/existrules/entangle/engine"
	"github.com/existrules/entangle/factstore"
)

// Processor computes the core of an atom set. Frozen variables act as
// rigid constants: the retracting homomorphisms are the identity on them.
// When the context is cancelled, the best set reached so far is returned
// with complete=false.
type Processor interface {
	Core(ctx context.Context, atoms ast.AtomSet, frozen []ast.Variable) (result *ast.FrozenAtomSet, complete bool, err error)
}

// freezeSubst builds the identity pre-substitution marking frozen
// variables as rigid.
func freezeSubst(frozen []ast.Variable) ast.Subst {
	sub := make(ast.Subst, len(frozen))
	for _, v := range frozen {
		sub[v] = v
	}
	return sub
}

func frozenSet(frozen []ast.Variable) map[ast.Variable]bool {
	m := make(map[ast.Variable]bool, len(frozen))
	for _, v := range frozen {
		m[v] = true
	}
	return m
}

// activeVars returns the variables of the set that are not frozen.
func activeVars(s ast.AtomSet, frozen map[ast.Variable]bool) map[ast.Variable]bool {
	out := make(map[ast.Variable]bool)
	for v := range s.Vars() {
		if !frozen[v] {
			out[v] = true
		}
	}
	return out
}

// externalRangeVars returns the variables in the image of sub that are
// outside the piece and not frozen.
func externalRangeVars(sub ast.Subst, pieceVars, frozen map[ast.Variable]bool) map[ast.Variable]bool {
	out := make(map[ast.Variable]bool)
	for _, t := range sub {
		if v, ok := t.(ast.Variable); ok && !pieceVars[v] && !frozen[v] {
			out[v] = true
		}
	}
	return out
}

// removeAtomsWithVars removes from the set every atom holding one of the
// variables.
func removeAtomsWithVars(s *ast.MutableAtomSet, vars map[ast.Variable]bool) {
	for _, v := range ast.SortVars(vars) {
		s.RemoveAll(s.WithVariable(v))
	}
}

// withoutAtoms returns a frozen copy of the set minus the given atoms.
func withoutAtoms(s ast.AtomSet, drop []ast.Atom) *ast.FrozenAtomSet {
	dropped := make(map[string]bool, len(drop))
	for _, a := range drop {
		dropped[a.Key()] = true
	}
	var kept []ast.Atom
	for _, a := range s.Atoms() {
		if !dropped[a.Key()] {
			kept = append(kept, a)
		}
	}
	return ast.NewFrozenAtomSet(kept...)
}

// homomorphisms collects the homomorphisms from one set into another that
// are the identity on the frozen variables.
func homomorphisms(algo engine.Algorithm, from, to ast.AtomSet, preSub ast.Subst) ([]ast.Subst, error) {
	var out []ast.Subst
	err := algo.Homomorphisms(
		ast.NewFrozenAtomSet(from.Atoms()...),
		factstore.NewAtomSetSource(to),
		preSub,
		func(s ast.Subst) error {
			out = append(out, s)
			return nil
		})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Naive is the baseline strategy: for every non-frozen variable, delete
// the atoms holding it when the remainder still receives a homomorphism
// from the whole set. One pass suffices because deletions only shrink the
// set. Every other strategy runs Naive as its final cleanup, so its
// output is always a core.
type Naive struct {
	Algo engine.Algorithm
}

// NewNaive returns a naive processor over the default backtracking
// engine.
func NewNaive() Naive {
	return Naive{Algo: engine.BacktrackAlgorithm{}}
}

// Core implements Processor.
func (n Naive) Core(ctx context.Context, atoms ast.AtomSet, frozen []ast.Variable) (*ast.FrozenAtomSet, bool, error) {
	frozenVars := frozenSet(frozen)
	preSub := freezeSubst(frozen)
	target := ast.FromAtomSet(atoms)

	for _, v := range ast.SortVars(activeVars(target, frozenVars)) {
		if ctx.Err() != nil {
			return target.Freeze(), false, nil
		}
		using := target.WithVariable(v)
		if len(using) == 0 {
			continue
		}
		virtual := withoutAtoms(target, using)
		ok, err := n.Algo.Exist(target.Freeze(), factstore.NewAtomSetSource(virtual), preSub)
		if err != nil {
			return nil, false, err
		}
		if ok {
			target.RemoveAll(using)
		}
	}
	return target.Freeze(), true, nil
}
