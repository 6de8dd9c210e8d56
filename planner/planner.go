// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

// Package planner turns query contexts into executable plans. A query
// first becomes a logical plan, which the logical passes rewrite; the
// factory then maps it onto physical steps, which the physical passes
// rewrite again to use indices.
package planner

import (
	"context"
	"strings"

	"github.com/molecula/relstore/cache"
	"github.com/molecula/relstore/logger"
	"github.com/molecula/relstore/query"
	"github.com/molecula/relstore/relation"
	"github.com/molecula/relstore/tracing"
)

// Planner builds plans against the indices of one database.
type Planner struct {
	env    *cache.Env
	logger logger.Logger
}

// NewPlanner returns a planner for env.
func NewPlanner(env *cache.Env, log logger.Logger) *Planner {
	if log == nil {
		log = logger.NopLogger
	}
	return &Planner{env: env, logger: log}
}

// Plan is an executable physical plan of one query.
type Plan struct {
	Root  Step
	Query query.Context
}

// Plan returns the optimized plan of q. q must be bound.
func (p *Planner) Plan(q query.Context) (*Plan, error) {
	return p.plan(q, true)
}

// PlanUnoptimized returns the plan of q without any rewrite beyond what
// execution needs.
func (p *Planner) PlanUnoptimized(q query.Context) (*Plan, error) {
	return p.plan(q, false)
}

func (p *Planner) plan(q query.Context, optimize bool) (*Plan, error) {
	n, err := GenerateLogicalPlan(q)
	if err != nil {
		return nil, err
	}
	if optimize {
		n, err = optimizeLogical(n)
	} else {
		n, err = binarizeCrossProducts(n)
	}
	if err != nil {
		return nil, err
	}
	root, err := toPhysical(n)
	if err != nil {
		return nil, err
	}
	if optimize {
		if root, err = optimizePhysical(p.env, root); err != nil {
			return nil, err
		}
	}
	plan := &Plan{Root: root, Query: q}
	p.logger.Debugf("planned %s:\n%s", q.Kind(), plan.Explain())
	return plan, nil
}

// Exec runs the plan and returns its result.
func (p *Plan) Exec(ctx context.Context, ec *ExecContext) (*relation.Relation, error) {
	span, ctx := tracing.StartSpanFromContext(ctx, "planner.Exec")
	defer span.Finish()
	span.LogKV("kind", p.Query.Kind().String())

	rels, err := execStep(ctx, p.Root, ec)
	if err != nil {
		return nil, err
	}
	if len(rels) == 0 {
		return relation.Empty(), nil
	}
	return rels[0], nil
}

// Explain renders the plan one step per line, each line indented by one
// "-" per level of depth.
func (p *Plan) Explain() string {
	return Explain(p.Root)
}

// Explain renders the tree under s.
func Explain(s Step) string {
	var sb strings.Builder
	explain(&sb, s, 0)
	return sb.String()
}

func explain(sb *strings.Builder, s Step, depth int) {
	sb.WriteString(strings.Repeat("-", depth))
	sb.WriteString(s.String())
	sb.WriteByte('\n')
	for _, c := range s.Children() {
		explain(sb, c, depth+1)
	}
}

// ExplainLogical renders a logical plan the same way.
func ExplainLogical(n LogicalNode) string {
	var sb strings.Builder
	var walk func(LogicalNode, int)
	walk = func(n LogicalNode, depth int) {
		sb.WriteString(strings.Repeat("-", depth))
		sb.WriteString(n.String())
		sb.WriteByte('\n')
		for _, c := range n.Children() {
			walk(c, depth+1)
		}
	}
	walk(n, 0)
	return sb.String()
}
