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
	"fmt"
	"sync"
)

// TermFactory creates and interns terms and predicates. It is idempotent
// by key and safe for concurrent use: concurrent get-or-create calls for
// the same key return the same term.
type TermFactory struct {
	mu       sync.Mutex
	vars     map[string]Variable
	consts   map[string]Constant
	literals map[string]Literal
	preds    map[string]Predicate
	fresh    int
}

// NewTermFactory constructs an empty factory.
func NewTermFactory() *TermFactory {
	return &TermFactory{
		vars:     make(map[string]Variable),
		consts:   make(map[string]Constant),
		literals: make(map[string]Literal),
		preds:    make(map[string]Predicate),
	}
}

// Variable returns the variable with the given name.
func (f *TermFactory) Variable(name string) Variable {
	f.mu.Lock()
	defer f.mu.Unlock()
	if v, ok := f.vars[name]; ok {
		return v
	}
	v := Variable{name}
	f.vars[name] = v
	return v
}

// FreshVariable returns a variable not created by this factory before.
func (f *TermFactory) FreshVariable() Variable {
	f.mu.Lock()
	defer f.mu.Unlock()
	for {
		name := fmt.Sprintf("_FV%d", f.fresh)
		f.fresh++
		if _, ok := f.vars[name]; ok {
			continue
		}
		v := Variable{name}
		f.vars[name] = v
		return v
	}
}

// Constant returns the constant with the given identifier.
func (f *TermFactory) Constant(id string) Constant {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.consts[id]; ok {
		return c
	}
	c := Constant{id}
	f.consts[id] = c
	return c
}

// Literal returns the literal with the given lexical form, datatype IRI
// and language tag.
func (f *TermFactory) Literal(lexical, datatype, lang string) (Literal, error) {
	key := lexical + "^" + datatype + "@" + lang
	f.mu.Lock()
	if l, ok := f.literals[key]; ok {
		f.mu.Unlock()
		return l, nil
	}
	f.mu.Unlock()
	l, err := ParseLiteral(lexical, datatype, lang)
	if err != nil {
		return Literal{}, err
	}
	f.mu.Lock()
	f.literals[key] = l
	f.mu.Unlock()
	return l, nil
}

// Predicate returns the predicate with the given name and arity.
func (f *TermFactory) Predicate(name string, arity int) Predicate {
	key := fmt.Sprintf("%s/%d", name, arity)
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.preds[key]; ok {
		return p
	}
	p := Predicate{name, arity}
	f.preds[key] = p
	return p
}

// FunctionTerm returns the interned function term for a functor and
// arguments. Interning is process-wide so structural equality coincides
// with pointer identity across factories.
func (f *TermFactory) FunctionTerm(functor string, args ...Term) *FunctionTerm {
	return NewFunctionTerm(functor, args...)
}
