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

package compilation

import (
	"testing"

	"github.com/existrules/entangle/ast"
)

var (
	varX = ast.Variable{Symbol: "X"}
	varY = ast.Variable{Symbol: "Y"}
	ca   = ast.Constant{Symbol: "a"}
	cb   = ast.Constant{Symbol: "b"}
)

func TestSpecialize(t *testing.T) {
	tests := []struct {
		name string
		a, b ast.Atom
		sub  ast.Subst
		ok   bool
	}{
		{"variable binds", ast.NewAtom("p", varX), ast.NewAtom("p", ca), nil, true},
		{"ground must equal", ast.NewAtom("p", ca), ast.NewAtom("p", cb), nil, false},
		{"repeated variable must agree", ast.NewAtom("p", varX, varX), ast.NewAtom("p", ca, cb), nil, false},
		{"bound variable is rigid", ast.NewAtom("p", varX), ast.NewAtom("p", cb), ast.Subst{varX: ca}, false},
		{"predicates must match", ast.NewAtom("p", varX), ast.NewAtom("q", ca), nil, false},
	}
	for _, test := range tests {
		got, ok := Specialize(test.a, test.b, test.sub)
		if ok != test.ok {
			t.Errorf("%s: Specialize ok = %v, want %v", test.name, ok, test.ok)
			continue
		}
		if ok {
			if img := got.Apply(test.a.Args[0]); !img.Equals(test.b.Args[0]) {
				t.Errorf("%s: specialization does not map a onto b: %v", test.name, got)
			}
		}
	}
}

func TestNoCompilation(t *testing.T) {
	var c RuleCompilation = NoCompilation{}
	p := ast.Predicate{Symbol: "p", Arity: 1}
	q := ast.Predicate{Symbol: "q", Arity: 1}
	if c.IsCompatible(p, q) || !c.IsCompatible(p, p) {
		t.Error("NoCompilation compatibility is not structural equality")
	}
	if got := c.CompatiblePredicates(p); len(got) != 1 || got[0] != p {
		t.Errorf("CompatiblePredicates = %v, want {p}", got)
	}
	homs := c.Homomorphisms(ast.NewAtom("p", varX), ast.NewAtom("p", ca), nil)
	if len(homs) != 1 || !homs[0].Apply(varX).Equals(ca) {
		t.Errorf("Homomorphisms = %v, want single X ↦ a", homs)
	}
	us := c.Unifications(ast.NewAtom("p", varX), ast.NewAtom("p", varY))
	if len(us) != 1 || us[0].Find(varX) != us[0].Find(varY) {
		t.Errorf("Unifications did not merge X and Y: %v", us)
	}
	un := c.Unfold(ast.NewAtom("p", varX))
	if len(un) != 1 || !un[0].Atom.Equals(ast.NewAtom("p", varX)) || len(un[0].Sub) != 0 {
		t.Errorf("Unfold = %v, want the atom itself", un)
	}
}
