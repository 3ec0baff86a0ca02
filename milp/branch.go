package milp

import (
	"context"
	"errors"
	"math"
	"slices"
	"time"
)

var (
	errUnbounded = errors.New("milp: relaxation is unbounded")
	errNoNodes   = errors.New("milp: no relaxation could be solved")
)

type node struct {
	lo, hi []float64
}

type relaxation struct {
	values    []float64
	objective float64
}

// Solve maximizes or minimizes p. Internally everything is a minimization.
func Solve(ctx context.Context, p *Problem, opts Options) Solution {
	start := time.Now()
	if opts.IntTol <= 0 {
		opts.IntTol = DefaultOptions.IntTol
	}
	if opts.Tol <= 0 {
		opts.Tol = DefaultOptions.Tol
	}
	if opts.TimeLimit > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.TimeLimit)
		defer cancel()
	}

	if err := p.validate(); err != nil {
		return Solution{Status: Error, Err: err, Elapsed: time.Since(start)}
	}

	sign := 1.0
	if p.Sense == Maximize {
		sign = -1.0
	}
	cost := make([]float64, len(p.Objective))
	for j, c := range p.Objective {
		cost[j] = sign * c
	}

	bb := &brancher{p: p, cost: cost, opts: opts, best: math.Inf(1)}
	if p.Start != nil && p.Feasible(p.Start, 1e-6) {
		bb.offer(p.Start)
	}

	root := node{lo: make([]float64, len(p.Vars)), hi: make([]float64, len(p.Vars))}
	for j, v := range p.Vars {
		root.lo[j] = v.Lower
		root.hi[j] = v.Upper
	}

	stopped := bb.search(ctx, root)

	sol := Solution{Nodes: bb.nodes, Elapsed: time.Since(start), Err: bb.lastErr}
	switch {
	case bb.incumbent != nil && (stopped || bb.failures > 0):
		sol.Status = Feasible
	case bb.incumbent != nil:
		sol.Status = Optimal
	case stopped:
		sol.Status = TimeLimit
	case bb.failures > 0:
		sol.Status = Error
		if sol.Err == nil {
			sol.Err = errNoNodes
		}
	default:
		sol.Status = Infeasible
	}
	if bb.incumbent != nil {
		sol.Values = bb.incumbent
		sol.Objective = p.Evaluate(bb.incumbent)
	}
	return sol
}

type brancher struct {
	p    *Problem
	cost []float64
	opts Options

	incumbent []float64
	best      float64

	nodes    int
	failures int
	lastErr  error

	// scratch backs the tableau of each node in turn.
	scratch []float64
}

func (b *brancher) offer(values []float64) {
	v := slices.Clone(values)
	for j, variable := range b.p.Vars {
		if variable.Kind == Binary {
			v[j] = math.Round(v[j])
		}
	}
	obj := 0.0
	for j, c := range b.cost {
		obj += c * v[j]
	}
	if obj < b.best {
		b.best = obj
		b.incumbent = v
	}
}

// search runs depth-first branch-and-bound and reports whether it stopped
// early because of the context or node budget.
func (b *brancher) search(ctx context.Context, root node) bool {
	stack := []node{root}
	for len(stack) > 0 {
		if ctx.Err() != nil {
			return true
		}
		if b.opts.NodeLimit > 0 && b.nodes >= b.opts.NodeLimit {
			return true
		}
		nd := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		b.nodes++

		rel, feasible, err := b.relax(ctx, nd)
		if ctx.Err() != nil {
			return true
		}
		if err != nil {
			b.failures++
			b.lastErr = err
			continue
		}
		if !feasible {
			continue
		}
		if rel.objective >= b.best-b.opts.Tol-1e-9 {
			continue
		}

		j := b.branchVar(rel.values)
		if j < 0 {
			b.offer(rel.values)
			continue
		}

		down := node{lo: slices.Clone(nd.lo), hi: slices.Clone(nd.hi)}
		down.hi[j] = 0
		up := node{lo: slices.Clone(nd.lo), hi: slices.Clone(nd.hi)}
		up.lo[j] = 1
		// The branch nearer the relaxed value is explored first.
		if rel.values[j] >= 0.5 {
			stack = append(stack, down, up)
		} else {
			stack = append(stack, up, down)
		}
	}
	return false
}

// branchVar picks the most fractional binary, preferring lower indices on ties.
func (b *brancher) branchVar(values []float64) int {
	best, bestFrac := -1, b.opts.IntTol
	for j, v := range b.p.Vars {
		if v.Kind != Binary {
			continue
		}
		frac := math.Abs(values[j] - math.Round(values[j]))
		if frac > bestFrac {
			best, bestFrac = j, frac
		}
	}
	return best
}

// relax solves the LP relaxation of the node. Each variable is shifted by its
// lower bound and fixed variables are substituted out; the remaining bounds are
// kept by the simplex itself rather than as rows.
func (b *brancher) relax(ctx context.Context, nd node) (relaxation, bool, error) {
	p := b.p
	n := len(p.Vars)

	col := make([]int, n)
	var keep []int
	for j := range n {
		if nd.hi[j]-nd.lo[j] <= b.opts.IntTol {
			col[j] = -1
			continue
		}
		col[j] = len(keep)
		keep = append(keep, j)
	}

	rows := make([]lpRow, 0, len(p.Constraints))
	for _, c := range p.Constraints {
		rhs := c.RHS
		coef := map[int]float64{}
		for _, t := range c.Terms {
			rhs -= t.Coef * nd.lo[t.Var]
			if k := col[t.Var]; k >= 0 && t.Coef != 0 {
				coef[k] += t.Coef
			}
		}
		for k, v := range coef {
			if v == 0 {
				delete(coef, k)
			}
		}
		if len(coef) == 0 {
			ok := true
			switch c.Op {
			case LE:
				ok = rhs >= -b.opts.IntTol
			case GE:
				ok = rhs <= b.opts.IntTol
			default:
				ok = math.Abs(rhs) <= b.opts.IntTol
			}
			if !ok {
				return relaxation{}, false, nil
			}
			continue
		}
		rows = append(rows, lpRow{coef: coef, op: c.Op, rhs: rhs})
	}

	upper := make([]float64, len(keep))
	cost := make([]float64, len(keep))
	for k, j := range keep {
		upper[k] = nd.hi[j] - nd.lo[j]
		cost[k] = b.cost[j]
	}

	values := slices.Clone(nd.lo)
	var y []float64
	if len(rows) == 0 {
		// Without rows every column goes to whichever bound its cost favours.
		y = make([]float64, len(keep))
		for k := range keep {
			if cost[k] < 0 {
				if math.IsInf(upper[k], 1) {
					return relaxation{}, false, errUnbounded
				}
				y[k] = upper[k]
			}
		}
	} else {
		var tb *tableau
		tb, b.scratch = newTableau(rows, upper, cost, b.scratch)
		var err error
		y, err = tb.solve(ctx, b.opts.Tol)
		if errors.Is(err, errInfeasible) {
			return relaxation{}, false, nil
		}
		if err != nil {
			return relaxation{}, false, err
		}
	}

	obj := 0.0
	for k, j := range keep {
		values[j] += y[k]
	}
	for j, c := range b.cost {
		obj += c * values[j]
	}
	return relaxation{values: values, objective: obj}, true, nil
}
