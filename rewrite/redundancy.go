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

package rewrite

import (
	"github.com/existrules/entangle/ast"
)

// UCQCleaner removes redundant conjunctive queries from a union modulo
// CQ-containment.
type UCQCleaner struct {
	Containment CQContainment
}

// NewUCQCleaner returns a cleaner over the default containment check.
func NewUCQCleaner() *UCQCleaner {
	return &UCQCleaner{Containment: NewHomContainment()}
}

// ComputeCover returns the cover of a union query: queries contained in
// another member are dropped. Of two equivalent queries, exactly one
// survives; iteration order is canonical, making the survivor
// deterministic.
func (c *UCQCleaner) ComputeCover(u ast.UnionQuery) (ast.UnionQuery, error) {
	queries := u.Queries()
	removed := make([]bool, len(queries))
	for i := range queries {
		for j := range queries {
			if i == j || removed[i] || removed[j] {
				continue
			}
			contained, err := c.Containment.IsContainedIn(queries[i], queries[j])
			if err != nil {
				return ast.UnionQuery{}, err
			}
			if contained {
				removed[i] = true
				break
			}
		}
	}
	var kept []ast.ConjunctiveQuery
	for i, q := range queries {
		if !removed[i] {
			kept = append(kept, q)
		}
	}
	return ast.NewUnionQuery(u.AnswerVars(), kept...)
}

// RemoveMoreSpecificThan drops from u1 every query contained in some
// query of u2.
func (c *UCQCleaner) RemoveMoreSpecificThan(u1, u2 ast.UnionQuery) (ast.UnionQuery, error) {
	var kept []ast.ConjunctiveQuery
	for _, q1 := range u1.Queries() {
		drop := false
		for _, q2 := range u2.Queries() {
			contained, err := c.Containment.IsContainedIn(q1, q2)
			if err != nil {
				return ast.UnionQuery{}, err
			}
			if contained {
				drop = true
				break
			}
		}
		if !drop {
			kept = append(kept, q1)
		}
	}
	return ast.NewUnionQuery(u1.AnswerVars(), kept...)
}
