// Package milp solves small mixed binary/continuous linear programs.
//
// LP relaxations are solved with gonum's simplex implementation and integrality
// is enforced by a depth-first branch-and-bound over the binary variables. The
// search honours the context deadline and an optional node budget; when either
// runs out the best incumbent found so far is returned with status Feasible.
//
// A Solve call owns all of its state, so concurrent calls are safe.
package milp

import (
	"fmt"
	"math"
	"time"
)

type Sense int

const (
	Maximize Sense = iota
	Minimize
)

type Kind int

const (
	Binary Kind = iota
	Continuous
)

type Op int

const (
	LE Op = iota
	GE
	EQ
)

func (o Op) String() string {
	switch o {
	case LE:
		return "<="
	case GE:
		return ">="
	case EQ:
		return "="
	}
	return "?"
}

type Status int

const (
	// Optimal means the search completed and the incumbent is proven optimal.
	Optimal Status = iota
	// Feasible means an integral solution exists but optimality was not proven,
	// because the budget ran out or some relaxations failed numerically.
	Feasible
	Infeasible
	// TimeLimit means the budget ran out before any integral solution was found.
	TimeLimit
	Error
)

func (s Status) String() string {
	switch s {
	case Optimal:
		return "optimal"
	case Feasible:
		return "feasible"
	case Infeasible:
		return "infeasible"
	case TimeLimit:
		return "time_limit"
	case Error:
		return "error"
	}
	return fmt.Sprintf("status(%d)", int(s))
}

type Variable struct {
	Name  string
	Kind  Kind
	Lower float64
	Upper float64
}

type Term struct {
	Var  int
	Coef float64
}

type Constraint struct {
	Terms []Term
	Op    Op
	RHS   float64
}

// Problem is a linear program over binary and bounded continuous variables.
// Continuous variables need a finite lower bound; the upper bound may be +Inf.
type Problem struct {
	Name        string
	Sense       Sense
	Vars        []Variable
	Constraints []Constraint
	Objective   []float64

	// Start is an optional valuation used as the initial incumbent when it is
	// feasible.
	Start []float64
}

func NewProblem(name string, sense Sense) *Problem {
	return &Problem{Name: name, Sense: sense}
}

func (p *Problem) AddBinary(name string) int {
	return p.addVar(Variable{Name: name, Kind: Binary, Lower: 0, Upper: 1})
}

func (p *Problem) AddContinuous(name string, lower, upper float64) int {
	return p.addVar(Variable{Name: name, Kind: Continuous, Lower: lower, Upper: upper})
}

// Fix pins v to value by collapsing both of its bounds.
func (p *Problem) Fix(v int, value float64) {
	p.Vars[v].Lower = value
	p.Vars[v].Upper = value
}

func (p *Problem) addVar(v Variable) int {
	p.Vars = append(p.Vars, v)
	p.Objective = append(p.Objective, 0)
	return len(p.Vars) - 1
}

func (p *Problem) AddConstraint(op Op, rhs float64, terms ...Term) {
	p.Constraints = append(p.Constraints, Constraint{Terms: terms, Op: op, RHS: rhs})
}

// AddObjective adds coef to the objective coefficient of v.
func (p *Problem) AddObjective(v int, coef float64) {
	p.Objective[v] += coef
}

func (p *Problem) NumBinary() int {
	n := 0
	for _, v := range p.Vars {
		if v.Kind == Binary {
			n++
		}
	}
	return n
}

// Evaluate returns the objective value of values.
func (p *Problem) Evaluate(values []float64) float64 {
	obj := 0.0
	for j, c := range p.Objective {
		obj += c * values[j]
	}
	return obj
}

// Feasible reports whether values satisfies bounds, integrality and every
// constraint within tol.
func (p *Problem) Feasible(values []float64, tol float64) bool {
	if len(values) != len(p.Vars) {
		return false
	}
	for j, v := range p.Vars {
		x := values[j]
		if math.IsNaN(x) || x < v.Lower-tol || x > v.Upper+tol {
			return false
		}
		if v.Kind == Binary && math.Abs(x-math.Round(x)) > tol {
			return false
		}
	}
	for _, c := range p.Constraints {
		lhs := 0.0
		for _, t := range c.Terms {
			lhs += t.Coef * values[t.Var]
		}
		switch c.Op {
		case LE:
			if lhs > c.RHS+tol {
				return false
			}
		case GE:
			if lhs < c.RHS-tol {
				return false
			}
		case EQ:
			if math.Abs(lhs-c.RHS) > tol {
				return false
			}
		}
	}
	return true
}

func (p *Problem) validate() error {
	if len(p.Objective) != len(p.Vars) {
		return fmt.Errorf("objective has %d coefficients for %d variables", len(p.Objective), len(p.Vars))
	}
	for j, v := range p.Vars {
		if math.IsInf(v.Lower, 0) || math.IsNaN(v.Lower) {
			return fmt.Errorf("variable %q: lower bound must be finite", v.Name)
		}
		if v.Upper < v.Lower {
			return fmt.Errorf("variable %q: upper bound %g below lower bound %g", v.Name, v.Upper, v.Lower)
		}
		if math.IsNaN(p.Objective[j]) || math.IsInf(p.Objective[j], 0) {
			return fmt.Errorf("variable %q: objective coefficient is not finite", v.Name)
		}
	}
	for i, c := range p.Constraints {
		for _, t := range c.Terms {
			if t.Var < 0 || t.Var >= len(p.Vars) {
				return fmt.Errorf("constraint %d references unknown variable %d", i, t.Var)
			}
		}
	}
	return nil
}

type Options struct {
	// NodeLimit caps the number of branch-and-bound nodes; 0 means unlimited.
	NodeLimit int
	// TimeLimit is applied on top of any deadline already on the context.
	TimeLimit time.Duration
	// IntTol is the distance from an integer below which a binary counts as integral.
	IntTol float64
	// Tol is passed to the simplex as its optimality tolerance.
	Tol float64
}

var DefaultOptions = Options{
	IntTol: 1e-6,
	Tol:    1e-9,
}

type Solution struct {
	Status    Status
	Values    []float64
	Objective float64
	Nodes     int
	Elapsed   time.Duration
	Err       error
}
