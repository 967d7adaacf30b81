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

// Package session bundles the factories and providers of a reasoning
// session: term factory, homomorphism algorithm, redundancy cleaner,
// rule-compilation oracle and core processor are explicit fields instead
// of process-wide singletons.
package session

import (
	"context"
	"strings"

	"bitbucket.org/creachadair/stringset"

	"github.com/existrules/entangle/ast"
	"github.com/existrules/entangle/compilation"
	"github.com/existrules/entangle/core"
	"github.com/existrules/entangle/engine"
	"github.com/existrules/entangle/factstore"
	"github.com/existrules/entangle/rewrite"
)

// Session is a reasoning session. Build one with New; the zero value is
// not usable.
type Session struct {
	Terms       *ast.TermFactory
	Algo        engine.Algorithm
	Compilation compilation.RuleCompilation
	Cleaner     *rewrite.UCQCleaner
	Core        core.Processor

	// StepLimit bounds rewriting saturation; zero means unlimited.
	StepLimit int
}

// Option configures a session.
type Option func(*Session)

// WithAlgorithm overrides the homomorphism algorithm.
func WithAlgorithm(a engine.Algorithm) Option {
	return func(s *Session) { s.Algo = a }
}

// WithCompilation supplies a rule-compilation oracle. The containment
// check and the homomorphism algorithm become compilation-aware.
func WithCompilation(c compilation.RuleCompilation) Option {
	return func(s *Session) { s.Compilation = c }
}

// WithCoreProcessor overrides the core-computation strategy.
func WithCoreProcessor(p core.Processor) Option {
	return func(s *Session) { s.Core = p }
}

// WithStepLimit bounds the rewriting saturation loop.
func WithStepLimit(limit int) Option {
	return func(s *Session) { s.StepLimit = limit }
}

// New constructs a session with default providers: the backtracking
// homomorphism engine, the null compilation, the homomorphism-based
// redundancy cleaner and the naive core processor.
func New(opts ...Option) *Session {
	s := &Session{
		Terms:       ast.NewTermFactory(),
		Algo:        engine.BacktrackAlgorithm{},
		Compilation: compilation.NoCompilation{},
		Core:        core.NewNaive(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if _, none := s.Compilation.(compilation.NoCompilation); !none && s.Compilation != nil {
		s.Algo = engine.CompilationBacktrackAlgorithm{Oracle: s.Compilation}
	}
	if s.Cleaner == nil {
		s.Cleaner = &rewrite.UCQCleaner{Containment: rewrite.HomContainment{Algo: s.Algo}}
	}
	return s
}

// Rewriter returns a breadth-first rewriter wired with the session's
// providers.
func (s *Session) Rewriter() *rewrite.BreadthFirstRewriter {
	return &rewrite.BreadthFirstRewriter{
		Operator:  rewrite.NewOperator(s.Terms.FreshVariable),
		Cleaner:   s.Cleaner,
		Fresh:     s.Terms.FreshVariable,
		StepLimit: s.StepLimit,
	}
}

// Rewrite saturates a union query under a rule set.
func (s *Session) Rewrite(ctx context.Context, ucq ast.UnionQuery, rules []ast.Rule) (rewrite.Result, error) {
	return s.Rewriter().Rewrite(ctx, ucq, rules)
}

// Answer evaluates a conjunctive query against a data source and returns
// the deduplicated answer tuples. The query's pre-substitution is
// composed with every binding the engine produces.
func (s *Session) Answer(q ast.ConjunctiveQuery, src factstore.ReadableSource) ([][]ast.Term, error) {
	plan, err := engine.Prepare(ast.FOQuery{Formula: q.Formula(), AnswerVars: q.AnswerVars()}, src)
	if err != nil {
		return nil, err
	}
	pre := q.PreSubst()
	seen := stringset.New()
	var out [][]ast.Term
	err = plan.Execute(nil, func(sub ast.Subst) error {
		tuple := make([]ast.Term, len(q.AnswerVars()))
		var sb strings.Builder
		for i, v := range q.AnswerVars() {
			tuple[i] = sub.Apply(pre.Apply(v))
			sb.WriteString(ast.TermKey(tuple[i]))
			sb.WriteRune(',')
		}
		if key := sb.String(); !seen.Contains(key) {
			seen.Add(key)
			out = append(out, tuple)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// AnswerUnion evaluates every member of a union query and returns the
// deduplicated union of the answers.
func (s *Session) AnswerUnion(u ast.UnionQuery, src factstore.ReadableSource) ([][]ast.Term, error) {
	seen := stringset.New()
	var out [][]ast.Term
	for _, q := range u.Queries() {
		tuples, err := s.Answer(q, src)
		if err != nil {
			return nil, err
		}
		for _, tuple := range tuples {
			var sb strings.Builder
			for _, t := range tuple {
				sb.WriteString(ast.TermKey(t))
				sb.WriteRune(',')
			}
			if key := sb.String(); !seen.Contains(key) {
				seen.Add(key)
				out = append(out, tuple)
			}
		}
	}
	return out, nil
}

// ComputeCore runs the session's core processor.
func (s *Session) ComputeCore(ctx context.Context, atoms ast.AtomSet, frozen []ast.Variable) (*ast.FrozenAtomSet, bool, error) {
	return s.Core.Core(ctx, atoms, frozen)
}
