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

package session

import (
	"context"
	"sort"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/existrules/entangle/ast"
	"github.com/existrules/entangle/core"
	"github.com/existrules/entangle/factstore"
)

func tupleStrings(tuples [][]ast.Term) []string {
	out := make([]string, len(tuples))
	for i, tuple := range tuples {
		key := ""
		for _, t := range tuple {
			key += t.String() + ";"
		}
		out[i] = key
	}
	sort.Strings(out)
	return out
}

func TestAnswerAtomicQuery(t *testing.T) {
	s := New()
	varX := s.Terms.Variable("X")
	varY := s.Terms.Variable("Y")
	src := factstore.NewSimpleInMemoryStore(
		ast.NewAtom("p", s.Terms.Constant("a"), s.Terms.Constant("b")),
		ast.NewAtom("p", s.Terms.Constant("a"), s.Terms.Constant("c")),
	)
	q := ast.MustConjunctiveQuery(
		ast.NewFrozenAtomSet(ast.NewAtom("p", varX, varY)),
		[]ast.Variable{varX, varY}, nil)
	got, err := s.Answer(q, src)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"a;b;", "a;c;"}, tupleStrings(got)); diff != "" {
		t.Errorf("answers (-want +got):\n%s", diff)
	}
}

func TestAnswerConjunctiveQueryWithJoin(t *testing.T) {
	s := New()
	varX := s.Terms.Variable("X")
	alice := s.Terms.Constant("alice")
	bob := s.Terms.Constant("bob")
	carol := s.Terms.Constant("carol")
	src := factstore.NewSimpleInMemoryStore(
		ast.NewAtom("parent", alice, bob),
		ast.NewAtom("parent", bob, carol),
		ast.NewAtom("male", bob),
	)
	q := ast.MustConjunctiveQuery(
		ast.NewFrozenAtomSet(
			ast.NewAtom("parent", alice, varX),
			ast.NewAtom("male", varX)),
		[]ast.Variable{varX}, nil)
	got, err := s.Answer(q, src)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"bob;"}, tupleStrings(got)); diff != "" {
		t.Errorf("answers (-want +got):\n%s", diff)
	}
}

func TestAnswerEqualityNormalization(t *testing.T) {
	s := New()
	varX := s.Terms.Variable("X")
	src := factstore.NewSimpleInMemoryStore(ast.NewAtom("p", s.Terms.Constant("a")))
	q := ast.MustConjunctiveQuery(
		ast.NewFrozenAtomSet(
			ast.NewAtom("p", varX),
			ast.Eq(varX, s.Terms.Constant("a")),
			ast.Eq(varX, s.Terms.Constant("b"))),
		nil, nil)
	got, err := s.Answer(q, src)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Errorf("inconsistent equalities produced answers: %v", got)
	}
}

func TestRewriteSaturation(t *testing.T) {
	s := New()
	varX := s.Terms.Variable("X")
	varY := s.Terms.Variable("Y")
	r1 := ast.MustRule("r1",
		ast.NewFrozenAtomSet(ast.NewAtom("p", varX, varY)),
		ast.NewFrozenAtomSet(ast.NewAtom("q", varX)))
	r2 := ast.MustRule("r2",
		ast.NewFrozenAtomSet(ast.NewAtom("q", varX)),
		ast.NewFrozenAtomSet(ast.NewAtom("r", varX)))
	ucq := ast.MustUnionQuery([]ast.Variable{varX},
		ast.MustConjunctiveQuery(ast.NewFrozenAtomSet(ast.NewAtom("r", varX)), []ast.Variable{varX}, nil))

	res, err := s.Rewrite(context.Background(), ucq, []ast.Rule{r1, r2})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Complete || res.UCQ.Len() != 3 {
		t.Fatalf("got %d queries (complete=%v), want 3 complete", res.UCQ.Len(), res.Complete)
	}

	// Soundness against evaluation: the rewriting must answer r-queries
	// over p facts alone.
	src := factstore.NewSimpleInMemoryStore(
		ast.NewAtom("p", s.Terms.Constant("a"), s.Terms.Constant("b")),
	)
	got, err := s.AnswerUnion(res.UCQ, src)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"a;"}, tupleStrings(got)); diff != "" {
		t.Errorf("rewritten answers (-want +got):\n%s", diff)
	}
}

func TestRewriteDisjunctiveHeadOneStep(t *testing.T) {
	s := New()
	varX := s.Terms.Variable("X")
	varU := s.Terms.Variable("U")
	rule := ast.MustRule("disj",
		ast.NewFrozenAtomSet(ast.NewAtom("p", varX)),
		ast.NewFrozenAtomSet(ast.NewAtom("q", varX)),
		ast.NewFrozenAtomSet(ast.NewAtom("r", varX)))
	ucq := ast.MustUnionQuery([]ast.Variable{varU},
		ast.MustConjunctiveQuery(ast.NewFrozenAtomSet(ast.NewAtom("q", varU)), []ast.Variable{varU}, nil),
		ast.MustConjunctiveQuery(ast.NewFrozenAtomSet(ast.NewAtom("r", varU)), []ast.Variable{varU}, nil))

	res, err := s.Rewrite(context.Background(), ucq, []ast.Rule{rule})
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, q := range res.UCQ.Queries() {
		preds := q.Atoms().Predicates()
		if len(preds) == 1 && preds[0].Symbol == "p" {
			found = true
		}
	}
	if !found {
		t.Errorf("missing ?(X) :- p(X) in %v", res.UCQ)
	}
}

func TestSessionCore(t *testing.T) {
	s := New(WithCoreProcessor(core.NewByPiece(core.ByDeletion)))
	varX := s.Terms.Variable("X")
	varY := s.Terms.Variable("Y")
	varZ := s.Terms.Variable("Z")
	atoms := ast.NewFrozenAtomSet(
		ast.NewAtom("p", varX, varY),
		ast.NewAtom("p", varX, varZ),
	)
	got, complete, err := s.ComputeCore(context.Background(), atoms, []ast.Variable{varX})
	if err != nil {
		t.Fatal(err)
	}
	if !complete || got.Len() != 1 {
		t.Errorf("core = %v (complete=%v), want one atom", got, complete)
	}
}

func TestSessionStepLimit(t *testing.T) {
	s := New(WithStepLimit(1))
	varX := s.Terms.Variable("X")
	varY := s.Terms.Variable("Y")
	r1 := ast.MustRule("r1",
		ast.NewFrozenAtomSet(ast.NewAtom("p", varX, varY)),
		ast.NewFrozenAtomSet(ast.NewAtom("q", varX)))
	r2 := ast.MustRule("r2",
		ast.NewFrozenAtomSet(ast.NewAtom("q", varX)),
		ast.NewFrozenAtomSet(ast.NewAtom("r", varX)))
	ucq := ast.MustUnionQuery([]ast.Variable{varX},
		ast.MustConjunctiveQuery(ast.NewFrozenAtomSet(ast.NewAtom("r", varX)), []ast.Variable{varX}, nil))
	res, err := s.Rewrite(context.Background(), ucq, []ast.Rule{r1, r2})
	if err != nil {
		t.Fatal(err)
	}
	if res.Complete {
		t.Error("limited rewriting reported complete")
	}
}
