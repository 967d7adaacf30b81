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

package engine

import (
	"errors"

	"github.com/existrules/entangle/ast"
	"github.com/existrules/entangle/compilation"
	"github.com/existrules/entangle/factstore"
)

// AtomLister is implemented by sources that can list their facts per
// predicate. The compilation-aware engine needs whole atoms, not answer
// tuples, to consult the oracle.
type AtomLister interface {
	AtomsOf(ast.Predicate) []ast.Atom
}

// CompilationBacktrackAlgorithm is a homomorphism engine that matches
// query atoms against facts through a rule-compilation oracle: candidate
// facts come from every compatible predicate and per-atom matching is
// delegated to the oracle. When the target source cannot list atoms, or
// the oracle is the null compilation, it falls back to the default
// backtracking engine.
type CompilationBacktrackAlgorithm struct {
	Oracle    compilation.RuleCompilation
	Scheduler Scheduler
}

// Homomorphisms implements Algorithm.
func (c CompilationBacktrackAlgorithm) Homomorphisms(from *ast.FrozenAtomSet, to factstore.ReadableSource, sub ast.Subst, cb func(ast.Subst) error) error {
	lister, ok := to.(AtomLister)
	if !ok || c.Oracle == nil {
		return BacktrackAlgorithm{Scheduler: c.Scheduler}.Homomorphisms(from, to, sub, cb)
	}
	if _, none := c.Oracle.(compilation.NoCompilation); none {
		return BacktrackAlgorithm{Scheduler: c.Scheduler}.Homomorphisms(from, to, sub, cb)
	}
	if sub == nil {
		sub = ast.Subst{}
	}
	return c.search(from.Atoms(), sub, lister, cb)
}

func (c CompilationBacktrackAlgorithm) search(remaining []ast.Atom, sub ast.Subst, lister AtomLister, cb func(ast.Subst) error) error {
	if len(remaining) == 0 {
		return cb(sub.Normalize())
	}
	atom := remaining[0]
	rest := remaining[1:]
	for _, p := range c.Oracle.CompatiblePredicates(atom.Predicate) {
		for _, fact := range lister.AtomsOf(p) {
			for _, extended := range c.Oracle.Homomorphisms(atom, fact, sub) {
				if err := c.search(rest, extended, lister, cb); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// Exist implements Algorithm.
func (c CompilationBacktrackAlgorithm) Exist(from *ast.FrozenAtomSet, to factstore.ReadableSource, sub ast.Subst) (bool, error) {
	found := false
	err := c.Homomorphisms(from, to, sub, func(ast.Subst) error {
		found = true
		return errStop
	})
	if err != nil && !errors.Is(err, errStop) {
		return false, err
	}
	return found, nil
}
