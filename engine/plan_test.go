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
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/existrules/entangle/ast"
	"github.com/existrules/entangle/factstore"
)

func executePlan(t *testing.T, f ast.Formula, src factstore.ReadableSource, sub ast.Subst) []ast.Subst {
	t.Helper()
	plan, err := Prepare(ast.FOQuery{Formula: f}, src)
	if err != nil {
		t.Fatal(err)
	}
	var out []ast.Subst
	if err := plan.Execute(sub, func(s ast.Subst) error {
		out = append(out, s)
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	return out
}

func TestConjunctionPlanJoin(t *testing.T) {
	src := factstore.NewSimpleInMemoryStore(
		ast.NewAtom("parent", ast.Constant{Symbol: "alice"}, ast.Constant{Symbol: "bob"}),
		ast.NewAtom("parent", ast.Constant{Symbol: "bob"}, ast.Constant{Symbol: "carol"}),
		ast.NewAtom("male", ast.Constant{Symbol: "bob"}),
	)
	f := ast.Conj{
		Left:  ast.NewAtom("parent", ast.Constant{Symbol: "alice"}, varX),
		Right: ast.NewAtom("male", varX),
	}
	got := executePlan(t, f, src, nil)
	if len(got) != 1 || !got[0].Apply(varX).Equals(ast.Constant{Symbol: "bob"}) {
		t.Errorf("got %v, want single X ↦ bob", got)
	}
}

func TestConjunctionPlanEqualityNormalization(t *testing.T) {
	src := factstore.NewSimpleInMemoryStore(ast.NewAtom("p", ca))
	// p(X), X = a succeeds; p(X), X = a, X = b is inconsistent.
	sat := ast.NewConj(ast.NewAtom("p", varX), ast.Eq(varX, ca))
	if got := executePlan(t, sat, src, nil); len(got) != 1 {
		t.Fatalf("p(X), X=a: got %v, want one result", got)
	}
	unsat := ast.NewConj(ast.NewAtom("p", varX), ast.Eq(varX, ca), ast.Eq(varX, cb))
	if got := executePlan(t, unsat, src, nil); len(got) != 0 {
		t.Errorf("p(X), X=a, X=b: got %v, want empty", got)
	}
}

func TestDisjunctionPlanDeduplicates(t *testing.T) {
	src := factstore.NewSimpleInMemoryStore(
		ast.NewAtom("p", ca),
		ast.NewAtom("q", ca),
		ast.NewAtom("q", cb),
	)
	f := ast.Disj{Left: ast.NewAtom("p", varX), Right: ast.NewAtom("q", varX)}
	got := executePlan(t, f, src, nil)
	keys := substKeys(got)
	sortStringsForTest(keys)
	want := []string{
		ast.Subst{varX: ca}.Key(),
		ast.Subst{varX: cb}.Key(),
	}
	if diff := cmp.Diff(want, keys); diff != "" {
		t.Errorf("disjunction (-want +got):\n%s", diff)
	}
}

func TestExistsPlanProjects(t *testing.T) {
	src := factstore.NewSimpleInMemoryStore(
		ast.NewAtom("p", ca, cb),
		ast.NewAtom("p", ca, cc),
	)
	f := ast.Exists{Var: varY, Inner: ast.NewAtom("p", varX, varY)}
	got := executePlan(t, f, src, nil)
	if len(got) != 1 {
		t.Fatalf("got %v, want one projected result", got)
	}
	if _, bound := got[0][varY]; bound {
		t.Error("quantified variable leaked into the result")
	}
	if !got[0].Apply(varX).Equals(ca) {
		t.Errorf("X = %v, want a", got[0].Apply(varX))
	}
}

func TestNegationPlanSafe(t *testing.T) {
	src := factstore.NewSimpleInMemoryStore(
		ast.NewAtom("p", ca),
		ast.NewAtom("p", cb),
		ast.NewAtom("q", ca),
	)
	f := ast.NewConj(ast.NewAtom("p", varX), ast.Neg{Inner: ast.NewAtom("q", varX)})
	got := executePlan(t, f, src, nil)
	if len(got) != 1 || !got[0].Apply(varX).Equals(cb) {
		t.Errorf("got %v, want single X ↦ b", got)
	}
}

func TestNegationPlanUnsafeIteratesDomain(t *testing.T) {
	src := factstore.NewSimpleInMemoryStore(
		ast.NewAtom("p", ca),
		ast.NewAtom("p", cb),
		ast.NewAtom("q", ca),
	)
	f := ast.Neg{Inner: ast.NewAtom("q", varX)}
	got := executePlan(t, f, src, nil)
	// Every domain term except a fails q.
	for _, sub := range got {
		if sub.Apply(varX).Equals(ca) {
			t.Errorf("q(a) holds but a was returned: %v", got)
		}
	}
	if len(got) != 1 || !got[0].Apply(varX).Equals(cb) {
		t.Errorf("got %v, want single X ↦ b", got)
	}
}

func TestUniversalPlan(t *testing.T) {
	src := factstore.NewSimpleInMemoryStore(
		ast.NewAtom("p", ca),
		ast.NewAtom("p", cb),
	)
	holds := ast.Forall{Var: varX, Inner: ast.NewAtom("p", varX)}
	if got := executePlan(t, holds, src, nil); len(got) != 1 {
		t.Errorf("∀X.p(X): got %v, want one empty result", got)
	}

	src2 := factstore.NewSimpleInMemoryStore(
		ast.NewAtom("p", ca),
		ast.NewAtom("p", cb),
		ast.NewAtom("q", ca),
	)
	fails := ast.Forall{Var: varX, Inner: ast.NewAtom("q", varX)}
	if got := executePlan(t, fails, src2, nil); len(got) != 0 {
		t.Errorf("∀X.q(X): got %v, want empty", got)
	}
}

func TestFunctionTermExpansion(t *testing.T) {
	funcs := factstore.NewFuncSource()
	funcs.Register("add", 2, func(args []ast.Term) (ast.Term, bool) {
		l, lok := args[0].(ast.Literal)
		r, rok := args[1].(ast.Literal)
		if !lok || !rok {
			return nil, false
		}
		lv, err1 := l.IntegerValue()
		rv, err2 := r.IntegerValue()
		if err1 != nil || err2 != nil {
			return nil, false
		}
		return ast.IntegerLiteral(lv + rv), true
	})
	store := factstore.NewSimpleInMemoryStore(
		ast.NewAtom("p", ast.IntegerLiteral(2)),
		ast.NewAtom("r", ast.IntegerLiteral(3)),
	)
	src := factstore.NewMergedSource(store, funcs)

	f := ast.NewConj(
		ast.NewAtom("p", varX),
		ast.NewAtom("r", ast.NewFunctionTerm("add", varX, ast.IntegerLiteral(1))),
	)
	got := executePlan(t, f, src, nil)
	if len(got) != 1 || !got[0].Apply(varX).Equals(ast.IntegerLiteral(2)) {
		t.Errorf("got %v, want single X ↦ 2", got)
	}
}

func TestDataflowError(t *testing.T) {
	funcs := factstore.NewFuncSource()
	funcs.Register("add", 2, func(args []ast.Term) (ast.Term, bool) { return nil, false })
	store := factstore.NewSimpleInMemoryStore(ast.NewAtom("q", ast.IntegerLiteral(5)))
	src := factstore.NewMergedSource(store, funcs)

	// Nothing binds X and Y, so the mandatory fn:add inputs stay
	// unsatisfied no matter how the conjunction is scheduled.
	f := ast.NewAtom("q", ast.NewFunctionTerm("add", varX, varY))
	plan, err := Prepare(ast.FOQuery{Formula: f}, src)
	if err != nil {
		t.Fatal(err)
	}
	err = plan.Execute(nil, func(ast.Subst) error { return nil })
	var dfe *DataflowError
	if !errors.As(err, &dfe) {
		t.Errorf("got %v, want a DataflowError", err)
	}
}
