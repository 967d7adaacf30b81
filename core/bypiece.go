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

package core

import (
	"context"
	"sync"

	"github.com/golang/glog"
	"golang.org/x/sync/errgroup"

	"github.com/existrules/entangle/ast"
	"github.com/existrules/entangle/engine"
	"github.com/existrules/entangle/factstore"
)

// RetractionVariant selects how a by-piece processor retracts a piece.
type RetractionVariant int

const (
	// ByDeletion retracts through the first applicable homomorphism and
	// repeats until the piece is stable.
	ByDeletion RetractionVariant = iota
	// BySpecialisation is ByDeletion plus recording of
	// variable-to-external-variable images as pre-substitution entries,
	// specializing the piece while retracting.
	BySpecialisation
	// Exhaustive examines all homomorphisms of the piece and applies the
	// one eliminating the most variables.
	Exhaustive
)

// ByPiece retracts variable-induced pieces one at a time.
type ByPiece struct {
	Variant RetractionVariant
	Algo    engine.Algorithm
}

// NewByPiece returns a by-piece processor over the default backtracking
// engine.
func NewByPiece(variant RetractionVariant) ByPiece {
	return ByPiece{Variant: variant, Algo: engine.BacktrackAlgorithm{}}
}

// Core implements Processor.
func (b ByPiece) Core(ctx context.Context, atoms ast.AtomSet, frozen []ast.Variable) (*ast.FrozenAtomSet, bool, error) {
	frozenVars := frozenSet(frozen)
	preSub := freezeSubst(frozen)
	target := ast.FromAtomSet(atoms)
	pieces := ast.SplitPieces(target, activeVars(target, frozenVars))

	for i, piece := range pieces {
		if ctx.Err() != nil {
			return target.Freeze(), false, nil
		}
		glog.V(2).Infof("retracting piece %d/%d (%d atoms)", i+1, len(pieces), piece.Len())
		if err := b.processPiece(ast.FromAtomSet(piece), target, frozenVars, preSub); err != nil {
			return nil, false, err
		}
	}
	return finalCleanup(ctx, b.Algo, target, frozen)
}

// finalCleanup runs the naive pass that guarantees core status.
func finalCleanup(ctx context.Context, algo engine.Algorithm, target *ast.MutableAtomSet, frozen []ast.Variable) (*ast.FrozenAtomSet, bool, error) {
	return Naive{Algo: algo}.Core(ctx, target, frozen)
}

func (b ByPiece) processPiece(piece, target *ast.MutableAtomSet, frozenVars map[ast.Variable]bool, preSub ast.Subst) error {
	switch b.Variant {
	case Exhaustive:
		return b.retractExhaustive(piece, target, frozenVars, preSub)
	case BySpecialisation:
		return b.retractBySpecialisation(piece, target, frozenVars, preSub)
	}
	return b.retractByDeletion(piece, target, frozenVars, preSub)
}

// retractByDeletion applies the first homomorphism folding piece
// variables away, deletes their atoms, and repeats until stable.
func (b ByPiece) retractByDeletion(piece, target *ast.MutableAtomSet, frozenVars map[ast.Variable]bool, preSub ast.Subst) error {
	for {
		pieceVars := piece.Vars()
		nonFrozen := 0
		for v := range pieceVars {
			if !frozenVars[v] {
				nonFrozen++
			}
		}
		if nonFrozen == 0 {
			return nil
		}
		homs, err := homomorphisms(b.Algo, piece, target, preSub)
		if err != nil {
			return err
		}
		changed := false
		for _, hom := range homs {
			deleted := substDomain(hom)
			if len(deleted) == 0 {
				continue
			}
			external := externalRangeVars(hom, pieceVars, frozenVars)
			if intersects(external, deleted) {
				continue
			}
			removeAtomsWithVars(target, deleted)
			removeAtomsWithVars(piece, deleted)
			changed = true
			if len(deleted) >= nonFrozen {
				return nil
			}
			break
		}
		if !changed {
			return nil
		}
	}
}

// retractExhaustive chooses, among all homomorphisms of the piece, the
// one eliminating the most variables without folding onto external
// variables it deletes.
func (b ByPiece) retractExhaustive(piece, target *ast.MutableAtomSet, frozenVars map[ast.Variable]bool, preSub ast.Subst) error {
	pieceVars := piece.Vars()
	homs, err := homomorphisms(b.Algo, piece, target, preSub)
	if err != nil {
		return err
	}
	var maxDeleted map[ast.Variable]bool
	for _, hom := range homs {
		deleted := substDomain(hom)
		if len(deleted) == 0 {
			continue
		}
		external := externalRangeVars(hom, pieceVars, frozenVars)
		if intersects(external, deleted) {
			continue
		}
		if len(deleted) > len(maxDeleted) {
			maxDeleted = deleted
		}
	}
	if len(maxDeleted) > 0 {
		removeAtomsWithVars(target, maxDeleted)
		removeAtomsWithVars(piece, maxDeleted)
	}
	return nil
}

// retractBySpecialisation grows a best set of deletable variables across
// rounds, recording variable-to-external-variable images in a local
// pre-substitution so later homomorphisms start from the specialization.
// Frozen external variables are never recorded.
func (b ByPiece) retractBySpecialisation(piece, target *ast.MutableAtomSet, frozenVars map[ast.Variable]bool, preSub ast.Subst) error {
	pieceVars := piece.Vars()
	nonFrozen := 0
	for v := range pieceVars {
		if !frozenVars[v] {
			nonFrozen++
		}
	}
	if nonFrozen == 0 {
		return nil
	}
	localPreSub := preSub.Clone()
	best := make(map[ast.Variable]bool)

	for {
		improved := false
		homs, err := homomorphisms(b.Algo, piece, target, localPreSub)
		if err != nil {
			return err
		}
		for _, hom := range homs {
			reduced := substDomain(hom)
			if len(reduced) == 0 {
				continue
			}
			deleted := make(map[ast.Variable]bool, len(reduced)+len(best))
			for v := range reduced {
				deleted[v] = true
			}
			for v := range best {
				deleted[v] = true
			}
			// A homomorphism that keeps a variable of best does not extend
			// the retraction reached so far.
			if len(deleted) > len(reduced) {
				continue
			}
			external := externalRangeVars(hom, pieceVars, frozenVars)
			if intersects(external, deleted) {
				continue
			}
			if len(deleted) > len(best) {
				best = deleted
				improved = true
				for v := range reduced {
					if img, ok := hom[v].(ast.Variable); ok && !pieceVars[img] && !frozenVars[img] {
						localPreSub[v] = img
					}
				}
				if len(best) >= nonFrozen {
					break
				}
			}
		}
		if !improved || len(best) >= nonFrozen {
			break
		}
	}
	if len(best) > 0 {
		removeAtomsWithVars(target, best)
		removeAtomsWithVars(piece, best)
	}
	return nil
}

// substDomain returns the variables a homomorphism folds away: those of
// its domain that do not occur in any image. A swap such as
// {Y->Z, Z->Y} folds nothing away.
func substDomain(sub ast.Subst) map[ast.Variable]bool {
	out := make(map[ast.Variable]bool, len(sub))
	for v := range sub {
		out[v] = true
	}
	images := make(map[ast.Variable]bool)
	for _, t := range sub {
		ast.AddVars(t, images)
	}
	for v := range images {
		delete(out, v)
	}
	return out
}

func intersects(a map[ast.Variable]bool, b map[ast.Variable]bool) bool {
	for v := range a {
		if b[v] {
			return true
		}
	}
	return false
}

// ByPieceAndVariable tests, inside each piece, every variable for
// redundancy against the rest of the whole set: a fine-grained hybrid of
// Naive and ByPiece.
type ByPieceAndVariable struct {
	Algo engine.Algorithm
}

// NewByPieceAndVariable returns the hybrid processor over the default
// backtracking engine.
func NewByPieceAndVariable() ByPieceAndVariable {
	return ByPieceAndVariable{Algo: engine.BacktrackAlgorithm{}}
}

// Core implements Processor.
func (b ByPieceAndVariable) Core(ctx context.Context, atoms ast.AtomSet, frozen []ast.Variable) (*ast.FrozenAtomSet, bool, error) {
	frozenVars := frozenSet(frozen)
	preSub := freezeSubst(frozen)
	target := ast.FromAtomSet(atoms)
	pieces := ast.SplitPieces(target, activeVars(target, frozenVars))

	for _, piece := range pieces {
		pieceMut := ast.FromAtomSet(piece)
		for _, v := range ast.SortVars(pieceMut.Vars()) {
			if ctx.Err() != nil {
				return target.Freeze(), false, nil
			}
			using := pieceMut.WithVariable(v)
			if len(using) == 0 {
				continue
			}
			virtual := withoutAtoms(target, using)
			ok, err := b.Algo.Exist(pieceMut.Freeze(), factstore.NewAtomSetSource(virtual), preSub)
			if err != nil {
				return nil, false, err
			}
			if ok {
				target.RemoveAll(using)
			}
		}
	}
	return finalCleanup(ctx, b.Algo, target, frozen)
}

// MultithreadedByPiece dispatches pieces to a bounded worker pool. A
// single mutex serializes piece processing against the shared target set,
// preserving the sequential semantics.
type MultithreadedByPiece struct {
	ByPiece
	MaxWorkers int
}

// NewMultithreadedByPiece returns the parallel by-piece processor.
func NewMultithreadedByPiece(variant RetractionVariant, maxWorkers int) MultithreadedByPiece {
	if maxWorkers <= 0 {
		maxWorkers = 32
	}
	return MultithreadedByPiece{ByPiece: NewByPiece(variant), MaxWorkers: maxWorkers}
}

// Core implements Processor.
func (m MultithreadedByPiece) Core(ctx context.Context, atoms ast.AtomSet, frozen []ast.Variable) (*ast.FrozenAtomSet, bool, error) {
	frozenVars := frozenSet(frozen)
	preSub := freezeSubst(frozen)
	target := ast.FromAtomSet(atoms)
	pieces := ast.SplitPieces(target, activeVars(target, frozenVars))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.MaxWorkers)
	var mu sync.Mutex
	for _, piece := range pieces {
		piece := piece
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			mu.Lock()
			defer mu.Unlock()
			return m.processPiece(ast.FromAtomSet(piece), target, frozenVars, preSub)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, false, err
	}
	if ctx.Err() != nil {
		return target.Freeze(), false, nil
	}
	return finalCleanup(ctx, m.Algo, target, frozen)
}
