package milp

import (
	"context"
	"errors"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

var (
	errInfeasible = errors.New("milp: relaxation is infeasible")
	errIterations = errors.New("milp: simplex iteration limit reached")
)

const (
	pivotTol = 1e-9
	feasTol  = 1e-7
	// Dantzig pricing gives way to Bland's rule after this many degenerate pivots
	// in a row, which rules out cycling.
	degenerateStreak = 50
	// The context is polled once per this many pivots.
	pollEvery = 16
)

// lpRow is one constraint over tableau columns after bounds have been shifted
// out: Σ coef[c]·y[c] op rhs.
type lpRow struct {
	coef map[int]float64
	op   Op
	rhs  float64
}

// tableau is a dense bounded-variable simplex tableau over 0 ≤ y[c] ≤ upper[c].
// Columns are the structural variables, then one slack or surplus per
// inequality, then one artificial per row that has no slack to start the basis
// with. A nonbasic column sits at zero in its current orientation; flipped
// columns have been complemented (y = upper − y') and sit at their upper bound.
// Variable bounds never become rows.
type tableau struct {
	m, n   int
	art    int // first artificial column; artificials never enter the basis
	t      *mat.Dense
	upper  []float64
	cost   []float64 // phase two costs in the current orientation
	d      []float64 // reduced costs of the running phase
	flip   []bool
	basis  []int
	pos    []int // row of a basic column, -1 when nonbasic
	nstruc int
}

func newTableau(rows []lpRow, upper, cost []float64, buf []float64) (*tableau, []float64) {
	nstruc := len(upper)
	slacks, arts := 0, 0
	for i := range rows {
		r := &rows[i]
		if r.rhs < 0 {
			r.rhs = -r.rhs
			for c, v := range r.coef {
				r.coef[c] = -v
			}
			switch r.op {
			case LE:
				r.op = GE
			case GE:
				r.op = LE
			}
		}
		switch r.op {
		case LE:
			slacks++
		case GE:
			slacks++
			arts++
		default:
			arts++
		}
	}

	m := len(rows)
	n := nstruc + slacks + arts
	size := m * (n + 1)
	if cap(buf) < size {
		buf = make([]float64, size)
	}
	buf = buf[:size]
	clear(buf)

	tb := &tableau{
		m:      m,
		n:      n,
		art:    nstruc + slacks,
		t:      mat.NewDense(m, n+1, buf),
		upper:  make([]float64, n),
		cost:   make([]float64, n),
		d:      make([]float64, n),
		flip:   make([]bool, n),
		basis:  make([]int, m),
		pos:    make([]int, n),
		nstruc: nstruc,
	}
	copy(tb.upper, upper)
	copy(tb.cost, cost)
	for c := nstruc; c < n; c++ {
		tb.upper[c] = math.Inf(1)
	}
	for c := range tb.pos {
		tb.pos[c] = -1
	}

	slack, art := nstruc, tb.art
	for i, r := range rows {
		row := tb.t.RawRowView(i)
		for c, v := range r.coef {
			row[c] = v
		}
		row[n] = r.rhs
		switch r.op {
		case LE:
			row[slack] = 1
			tb.setBasic(i, slack)
			slack++
		case GE:
			row[slack] = -1
			row[art] = 1
			tb.setBasic(i, art)
			slack++
			art++
		default:
			row[art] = 1
			tb.setBasic(i, art)
			art++
		}
	}
	return tb, buf
}

func (tb *tableau) setBasic(i, c int) {
	tb.basis[i] = c
	tb.pos[c] = i
}

func (tb *tableau) rhs(i int) float64 {
	return tb.t.At(i, tb.n)
}

// price sets the reduced costs for phase costs c.
func (tb *tableau) price(c []float64) {
	copy(tb.d, c)
	for i, b := range tb.basis {
		if cb := c[b]; cb != 0 {
			floats.AddScaled(tb.d, -cb, tb.t.RawRowView(i)[:tb.n])
		}
	}
}

func (tb *tableau) pivot(p, q int) {
	prow := tb.t.RawRowView(p)
	floats.Scale(1/prow[q], prow)
	prow[q] = 1
	for i := range tb.m {
		if i == p {
			continue
		}
		row := tb.t.RawRowView(i)
		if a := row[q]; a != 0 {
			floats.AddScaled(row, -a, prow)
			row[q] = 0
		}
	}
	if dq := tb.d[q]; dq != 0 {
		floats.AddScaled(tb.d, -dq, prow[:tb.n])
		tb.d[q] = 0
	}
	tb.pos[tb.basis[p]] = -1
	tb.setBasic(p, q)
}

// complementColumn moves nonbasic column q to its other bound.
func (tb *tableau) complementColumn(q int) {
	u := tb.upper[q]
	for i := range tb.m {
		row := tb.t.RawRowView(i)
		if a := row[q]; a != 0 {
			row[tb.n] -= a * u
			row[q] = -a
		}
	}
	tb.d[q] = -tb.d[q]
	tb.cost[q] = -tb.cost[q]
	tb.flip[q] = !tb.flip[q]
}

// complementBasic re-expresses the basic column of row i as upper − y so that
// it can leave the basis at its upper bound.
func (tb *tableau) complementBasic(i int) {
	c := tb.basis[i]
	row := tb.t.RawRowView(i)
	beta := row[tb.n]
	floats.Scale(-1, row[:tb.n])
	row[c] = 1
	row[tb.n] = tb.upper[c] - beta
	tb.cost[c] = -tb.cost[c]
	tb.flip[c] = !tb.flip[c]
}

// optimize runs primal simplex iterations on the current reduced costs until no
// column improves the objective.
func (tb *tableau) optimize(ctx context.Context, tol float64) error {
	limit := 50*(tb.m+tb.n) + 1000
	streak := 0
	for it := 0; ; it++ {
		if it%pollEvery == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		if it > limit {
			return errIterations
		}

		q := -1
		best := -tol
		for c := range tb.art {
			if tb.pos[c] >= 0 || tb.d[c] >= best {
				continue
			}
			q, best = c, tb.d[c]
			if streak > degenerateStreak {
				break
			}
		}
		if q < 0 {
			return nil
		}

		theta := tb.upper[q]
		leave, toUpper := -1, false
		for i := range tb.m {
			a := tb.t.At(i, q)
			var r float64
			var up bool
			switch {
			case a > pivotTol:
				r = max(tb.rhs(i), 0) / a
			case a < -pivotTol && !math.IsInf(tb.upper[tb.basis[i]], 1):
				r = max(tb.upper[tb.basis[i]]-tb.rhs(i), 0) / -a
				up = true
			default:
				continue
			}
			if r < theta-pivotTol || (r <= theta+pivotTol && leave >= 0 && math.Abs(a) > math.Abs(tb.t.At(leave, q))) {
				theta, leave, toUpper = r, i, up
			}
		}

		if math.IsInf(theta, 1) {
			return errUnbounded
		}
		if theta <= pivotTol {
			streak++
		} else {
			streak = 0
		}
		if leave < 0 {
			tb.complementColumn(q)
			continue
		}
		if toUpper {
			tb.complementBasic(leave)
		}
		tb.pivot(leave, q)
	}
}

// solve runs both phases and returns the structural values.
func (tb *tableau) solve(ctx context.Context, tol float64) ([]float64, error) {
	if tb.art < tb.n {
		phase1 := make([]float64, tb.n)
		for c := tb.art; c < tb.n; c++ {
			phase1[c] = 1
		}
		tb.price(phase1)
		if err := tb.optimize(ctx, tol); err != nil {
			return nil, err
		}
		infeasibility := 0.0
		for i, b := range tb.basis {
			if b >= tb.art {
				infeasibility += tb.rhs(i)
			}
		}
		if infeasibility > feasTol {
			return nil, errInfeasible
		}
		tb.evictArtificials()
	}

	tb.price(tb.cost)
	if err := tb.optimize(ctx, tol); err != nil {
		return nil, err
	}

	y := make([]float64, tb.nstruc)
	for c := range y {
		v := 0.0
		if i := tb.pos[c]; i >= 0 {
			v = tb.rhs(i)
		}
		if tb.flip[c] {
			v = tb.upper[c] - v
		}
		y[c] = min(max(v, 0), tb.upper[c])
	}
	return y, nil
}

// evictArtificials pivots artificials still basic at zero out of the basis. A
// row where no other column can take over is redundant and keeps its
// artificial, which then never moves.
func (tb *tableau) evictArtificials() {
	for i, b := range tb.basis {
		if b < tb.art {
			continue
		}
		row := tb.t.RawRowView(i)
		q := -1
		for c := range tb.art {
			if tb.pos[c] < 0 && math.Abs(row[c]) > feasTol && (q < 0 || math.Abs(row[c]) > math.Abs(row[q])) {
				q = c
			}
		}
		if q >= 0 {
			tb.pivot(i, q)
		}
	}
}
