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

package factstore

import (
	"fmt"
	"sort"

	"github.com/existrules/entangle/ast"
)

// EvalFunc computes the value of a function applied to ground arguments.
// Returning ok=false means the function is undefined on the inputs.
type EvalFunc func(args []ast.Term) (ast.Term, bool)

// FuncSource resolves the fn: atoms produced by function-term expansion:
// an atom fn:f(t1, ..., tn, v) binds v to f(t1, ..., tn). The input
// positions are mandatory, so evaluating with unbound inputs is a
// dataflow violation reported through CanEvaluate.
type FuncSource struct {
	funcs   map[string]EvalFunc
	arities map[string]int
}

// NewFuncSource constructs an empty function-evaluator source.
func NewFuncSource() *FuncSource {
	return &FuncSource{
		funcs:   make(map[string]EvalFunc),
		arities: make(map[string]int),
	}
}

// Register makes a function of the given input arity available.
func (s *FuncSource) Register(functor string, arity int, fn EvalFunc) {
	s.funcs[functor] = fn
	s.arities[functor] = arity
}

func (s *FuncSource) functorOf(p ast.Predicate) (string, bool) {
	if !p.IsFunc() {
		return "", false
	}
	functor := p.Symbol[len(ast.FuncPredicatePrefix):]
	arity, ok := s.arities[functor]
	if !ok || p.Arity != arity+1 {
		return "", false
	}
	return functor, true
}

// HasPredicate implements ReadableSource.
func (s *FuncSource) HasPredicate(p ast.Predicate) bool {
	_, ok := s.functorOf(p)
	return ok
}

// AtomicPattern implements ReadableSource: every input position is
// mandatory.
func (s *FuncSource) AtomicPattern(p ast.Predicate) (AtomicPattern, bool) {
	if _, ok := s.functorOf(p); !ok {
		return AtomicPattern{}, false
	}
	mandatory := make([]int, p.Arity-1)
	for i := range mandatory {
		mandatory[i] = i
	}
	return AtomicPattern{Predicate: p, Mandatory: mandatory}, true
}

// Predicates implements ReadableSource.
func (s *FuncSource) Predicates() []ast.Predicate {
	out := make([]ast.Predicate, 0, len(s.funcs))
	for functor, arity := range s.arities {
		out = append(out, ast.FuncPredicate(functor, arity))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// CanEvaluate implements ReadableSource.
func (s *FuncSource) CanEvaluate(q BasicQuery) bool {
	if _, ok := s.functorOf(q.Predicate); !ok {
		return false
	}
	for pos := 0; pos < q.Predicate.Arity-1; pos++ {
		if _, bound := q.Bound[pos]; !bound {
			return false
		}
	}
	return true
}

// Evaluate implements ReadableSource.
func (s *FuncSource) Evaluate(q BasicQuery, cb func([]ast.Term) error) error {
	functor, ok := s.functorOf(q.Predicate)
	if !ok {
		return nil
	}
	if !s.CanEvaluate(q) {
		return fmt.Errorf("function %s: unbound input position", functor)
	}
	n := q.Predicate.Arity - 1
	args := make([]ast.Term, n)
	for i := 0; i < n; i++ {
		args[i] = q.Bound[i]
	}
	result, defined := s.funcs[functor](args)
	if !defined {
		return nil
	}
	if out, bound := q.Bound[n]; bound {
		if out.Equals(result) {
			return cb(nil)
		}
		return nil
	}
	if _, ok := q.Answers[n]; ok {
		return cb([]ast.Term{result})
	}
	return cb(nil)
}

// EstimateBound implements ReadableSource: a function yields at most one
// result.
func (s *FuncSource) EstimateBound(q BasicQuery) (int, bool) {
	if !s.CanEvaluate(q) {
		return 0, true
	}
	return 1, true
}
