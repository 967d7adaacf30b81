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
	"testing"

	"github.com/existrules/entangle/ast"
	"github.com/existrules/entangle/engine"
	"github.com/existrules/entangle/factstore"
)

var (
	varX = ast.Variable{Symbol: "X"}
	varY = ast.Variable{Symbol: "Y"}
	varZ = ast.Variable{Symbol: "Z"}
	varU = ast.Variable{Symbol: "U"}
	varV = ast.Variable{Symbol: "V"}
	ca   = ast.Constant{Symbol: "a"}
)

func processors() map[string]Processor {
	return map[string]Processor{
		"naive":               NewNaive(),
		"by-piece deletion":   NewByPiece(ByDeletion),
		"by-piece special":    NewByPiece(BySpecialisation),
		"by-piece exhaustive": NewByPiece(Exhaustive),
		"by-piece-and-var":    NewByPieceAndVariable(),
		"multithreaded":       NewMultithreadedByPiece(ByDeletion, 4),
	}
}

// checkCore verifies the two core properties: equivalence (mappings both
// ways, identity on frozen variables) and minimality (no variable of the
// result can still be folded away).
func checkCore(t *testing.T, name string, original ast.AtomSet, result *ast.FrozenAtomSet, frozen []ast.Variable) {
	t.Helper()
	preSub := freezeSubst(frozen)
	orig := ast.NewFrozenAtomSet(original.Atoms()...)
	if ok, _ := (engine.BacktrackAlgorithm{}).Exist(orig, factstore.NewAtomSetSource(result), preSub); !ok {
		t.Errorf("%s: no homomorphism original → core", name)
	}
	for _, a := range result.Atoms() {
		if !orig.Contains(a) {
			t.Errorf("%s: core atom %v not in the original", name, a)
		}
	}
	frozenVars := frozenSet(frozen)
	for _, v := range ast.SortVars(activeVars(result, frozenVars)) {
		using := result.WithVariable(v)
		virtual := withoutAtoms(result, using)
		if ok, _ := (engine.BacktrackAlgorithm{}).Exist(result, factstore.NewAtomSetSource(virtual), preSub); ok {
			t.Errorf("%s: result is not minimal, %v is still redundant", name, v)
		}
	}
}

func TestCoreCollapsesRedundantAtoms(t *testing.T) {
	// {p(X, Y), p(X, Z)} collapses to a single atom, with and without
	// freezing X.
	atoms := ast.NewFrozenAtomSet(
		ast.NewAtom("p", varX, varY),
		ast.NewAtom("p", varX, varZ),
	)
	for name, p := range processors() {
		for _, frozen := range [][]ast.Variable{nil, {varX}} {
			got, complete, err := p.Core(context.Background(), atoms, frozen)
			if err != nil {
				t.Fatalf("%s: %v", name, err)
			}
			if !complete {
				t.Errorf("%s: complete = false", name)
			}
			if got.Len() != 1 {
				t.Errorf("%s (frozen %v): got %v, want a single atom", name, frozen, got)
			}
			checkCore(t, name, atoms, got, frozen)
		}
	}
}

func TestCoreKeepsFrozenVariables(t *testing.T) {
	// {p(X, Y), p(Z, Y)}: without freezing either binary atom survives;
	// freezing both X and Z keeps both atoms.
	atoms := ast.NewFrozenAtomSet(
		ast.NewAtom("p", varX, varY),
		ast.NewAtom("p", varZ, varY),
	)
	for name, p := range processors() {
		got, _, err := p.Core(context.Background(), atoms, []ast.Variable{varX, varZ})
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if got.Len() != 2 {
			t.Errorf("%s: got %v, want both atoms with X, Z frozen", name, got)
		}
		got, _, err = p.Core(context.Background(), atoms, nil)
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if got.Len() != 1 {
			t.Errorf("%s: got %v, want one atom without freezing", name, got)
		}
		checkCore(t, name, atoms, got, nil)
	}
}

func TestCoreGroundAtomsSurvive(t *testing.T) {
	atoms := ast.NewFrozenAtomSet(
		ast.NewAtom("p", ca, ca),
		ast.NewAtom("p", varX, varY),
	)
	for name, p := range processors() {
		got, _, err := p.Core(context.Background(), atoms, nil)
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if !got.Contains(ast.NewAtom("p", ca, ca)) {
			t.Errorf("%s: ground atom deleted: %v", name, got)
		}
		if got.Len() != 1 {
			t.Errorf("%s: got %v, want p(a, a) only", name, got)
		}
	}
}

func TestCoreSeveralPieces(t *testing.T) {
	// Two independent redundant pieces plus an irreducible one.
	atoms := ast.NewFrozenAtomSet(
		ast.NewAtom("p", varX, varY),
		ast.NewAtom("p", varX, varZ),
		ast.NewAtom("q", varU, varU),
		ast.NewAtom("q", varU, varV),
		ast.NewAtom("r", ca),
	)
	for name, p := range processors() {
		got, _, err := p.Core(context.Background(), atoms, nil)
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		// q(U, V) folds onto q(U, U); one p atom folds onto the other.
		if got.Len() != 3 {
			t.Errorf("%s: got %v, want 3 atoms", name, got)
		}
		if !got.Contains(ast.NewAtom("q", varU, varU)) || !got.Contains(ast.NewAtom("r", ca)) {
			t.Errorf("%s: wrong survivors: %v", name, got)
		}
		checkCore(t, name, atoms, got, nil)
	}
}

func TestCoreCancelledContext(t *testing.T) {
	atoms := ast.NewFrozenAtomSet(ast.NewAtom("p", varX, varY))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	got, complete, err := NewNaive().Core(ctx, atoms, nil)
	if err != nil {
		t.Fatal(err)
	}
	if complete {
		t.Error("cancelled run reported complete")
	}
	if got.Len() != 1 {
		t.Errorf("cancelled run lost atoms: %v", got)
	}
}
