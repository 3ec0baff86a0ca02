package solver

import (
	"fmt"
	"math"
	"slices"

	"groups/milp"
)

// Model is the integer program for one partition request together with the
// tables that map students, groups and edges back to variable indices.
type Model struct {
	Problem *milp.Problem

	plan  Plan
	x     [][]int // x[e][g]
	links []link
	devs  []deviation
}

// link holds z[e1,e2,g] for one preference edge, one variable per group.
type link struct {
	edge Edge
	z    []int
}

// deviation bounds |Σ_{e∈level} x[e,g] − target| from above.
type deviation struct {
	level   Level
	group   int
	members []int
	target  float64
	v       int
}

// BuildModel creates the membership variables x, the AND-gate link variables z
// for every preference edge and group, the assignment and size constraints and
// the objective.
//
// z is only bounded from below by x[e1,g] + x[e2,g] − 1 in a useful way: since
// its objective coefficient is nonnegative and the problem is a maximization,
// the solver raises z to min(x[e1,g], x[e2,g]) on its own. The upper bounds keep
// z honest when its coefficient is zero.
func BuildModel(r *Roster, prefs *Preferences, plan Plan, cfg Config) *Model {
	p := milp.NewProblem("GroupAssignmentWithPreferences", milp.Maximize)
	m := &Model{Problem: p, plan: plan}

	m.x = make([][]int, r.Len())
	for e := range m.x {
		m.x[e] = make([]int, plan.Groups)
		for g := range plan.Groups {
			m.x[e][g] = p.AddBinary(fmt.Sprintf("x_%d_%d", e, g))
		}
	}

	m.breakSymmetry()

	for _, edge := range prefs.Edges {
		l := link{edge: edge, z: make([]int, plan.Groups)}
		for g := range plan.Groups {
			z := p.AddBinary(fmt.Sprintf("z_%d_%d_%d", edge.From, edge.To, g))
			l.z[g] = z
			p.AddObjective(z, cfg.PreferenceWeight*edge.Points)
		}
		m.links = append(m.links, l)
	}

	for e := range r.Len() {
		terms := make([]milp.Term, plan.Groups)
		for g := range plan.Groups {
			terms[g] = milp.Term{Var: m.x[e][g], Coef: 1}
		}
		p.AddConstraint(milp.EQ, 1, terms...)
	}

	for g := range plan.Groups {
		terms := make([]milp.Term, r.Len())
		for e := range r.Len() {
			terms[e] = milp.Term{Var: m.x[e][g], Coef: 1}
		}
		p.AddConstraint(milp.EQ, float64(plan.SizeOf(g)), terms...)
	}

	for _, l := range m.links {
		for g, z := range l.z {
			x1 := m.x[l.edge.From][g]
			x2 := m.x[l.edge.To][g]
			p.AddConstraint(milp.LE, 0, milp.Term{Var: z, Coef: 1}, milp.Term{Var: x1, Coef: -1})
			p.AddConstraint(milp.LE, 0, milp.Term{Var: z, Coef: 1}, milp.Term{Var: x2, Coef: -1})
			p.AddConstraint(milp.GE, -1,
				milp.Term{Var: z, Coef: 1}, milp.Term{Var: x1, Coef: -1}, milp.Term{Var: x2, Coef: -1})
		}
	}

	if cfg.LevelBalance > 0 {
		m.addLevelBalance(r, plan, cfg.LevelBalance)
	}
	return m
}

// ModelCells is the size of the simplex tableau for the model BuildModel would
// create: its constraint rows times its variable and slack columns.
func ModelCells(r *Roster, prefs *Preferences, plan Plan, cfg Config) int {
	k := plan.Groups
	rows := r.Len() + k + 3*prefs.Len()*k
	vars := (r.Len() + prefs.Len()) * k
	if cfg.LevelBalance > 0 {
		for _, level := range Levels() {
			if r.LevelCount(level) > 0 {
				rows += 2 * k
				vars += k
			}
		}
	}
	return rows * (vars + rows)
}

// addLevelBalance penalizes, for every level and group, the distance between the
// number of members at that level and the level's proportional share of the
// group.
func (m *Model) addLevelBalance(r *Roster, plan Plan, weight float64) {
	p := m.Problem
	for _, level := range Levels() {
		var members []int
		for e, s := range r.Students {
			if s.Level == level {
				members = append(members, e)
			}
		}
		if len(members) == 0 {
			continue
		}
		for g := range plan.Groups {
			target := float64(len(members)) * float64(plan.SizeOf(g)) / float64(plan.Total)
			d := p.AddContinuous(fmt.Sprintf("d_%s_%d", level, g), 0, math.Inf(1))
			p.AddObjective(d, -weight)

			over := []milp.Term{{Var: d, Coef: 1}}
			under := []milp.Term{{Var: d, Coef: 1}}
			for _, e := range members {
				over = append(over, milp.Term{Var: m.x[e][g], Coef: -1})
				under = append(under, milp.Term{Var: m.x[e][g], Coef: 1})
			}
			p.AddConstraint(milp.GE, -target, over...)
			p.AddConstraint(milp.GE, target, under...)
			m.devs = append(m.devs, deviation{level: level, group: g, members: members, target: target, v: d})
		}
	}
}

// breakSymmetry removes relabelings of interchangeable groups. Groups of the
// same planned size form a class; within a class the k-th group may only hold
// students from roster position k on, which every solution satisfies once the
// class's groups are ordered by their first member. See Canonical.
func (m *Model) breakSymmetry() {
	for g := range m.plan.Groups {
		for e := range m.classOffset(g) {
			if e >= len(m.x) {
				break
			}
			m.Problem.Fix(m.x[e][g], 0)
		}
	}
}

// classOffset is the position of group g among the groups sharing its size.
// Plans list larger groups first, so every class is a contiguous run.
func (m *Model) classOffset(g int) int {
	k := 0
	for h := g - 1; h >= 0 && m.plan.SizeOf(h) == m.plan.SizeOf(g); h-- {
		k++
	}
	return k
}

// Canonical relabels the groups of assignment, within each class of equally
// sized groups, so that they are ordered by their lowest roster position. The
// result is the same partition and satisfies the symmetry-breaking bounds.
func (m *Model) Canonical(assignment []int) []int {
	first := make([]int, m.plan.Groups)
	for g := range first {
		first[g] = len(assignment)
	}
	for e, g := range assignment {
		first[g] = min(first[g], e)
	}
	relabel := make([]int, m.plan.Groups)
	for g := 0; g < m.plan.Groups; {
		end := g + 1
		for end < m.plan.Groups && m.plan.SizeOf(end) == m.plan.SizeOf(g) {
			end++
		}
		class := make([]int, 0, end-g)
		for h := g; h < end; h++ {
			class = append(class, h)
		}
		slices.SortFunc(class, func(a, b int) int { return first[a] - first[b] })
		for k, h := range class {
			relabel[h] = g + k
		}
		g = end
	}
	out := make([]int, len(assignment))
	for e, g := range assignment {
		out[e] = relabel[g]
	}
	return out
}

func (m *Model) X(e, g int) int {
	return m.x[e][g]
}

// Z returns the link variable of the i-th preference edge in group g.
func (m *Model) Z(i, g int) int {
	return m.links[i].z[g]
}

func (m *Model) NumVars() int {
	return len(m.Problem.Vars)
}

// Valuation converts an assignment of roster positions to groups into a full
// variable valuation, deriving z and the deviation variables from x.
func (m *Model) Valuation(assignment []int) []float64 {
	values := make([]float64, len(m.Problem.Vars))
	for e, g := range assignment {
		values[m.x[e][g]] = 1
	}
	for _, l := range m.links {
		g := assignment[l.edge.From]
		if assignment[l.edge.To] == g {
			values[l.z[g]] = 1
		}
	}
	for _, d := range m.devs {
		count := 0
		for _, e := range d.members {
			if assignment[e] == d.group {
				count++
			}
		}
		values[d.v] = math.Abs(float64(count) - d.target)
	}
	return values
}

// Assignment reads the group of every student back from a solver valuation. A
// membership variable counts as selected when it is within Epsilon of one.
func (m *Model) Assignment(values []float64) ([]int, error) {
	if len(values) != len(m.Problem.Vars) {
		return nil, fmt.Errorf("%w: valuation has %d values for %d variables",
			ErrInconsistentSolution, len(values), len(m.Problem.Vars))
	}
	assignment := make([]int, len(m.x))
	for e, row := range m.x {
		assignment[e] = -1
		for g, v := range row {
			if !selected(values[v]) {
				continue
			}
			if assignment[e] >= 0 {
				return nil, fmt.Errorf("%w: student %d selected in groups %d and %d",
					ErrInconsistentSolution, e, assignment[e], g)
			}
			assignment[e] = g
		}
		if assignment[e] < 0 {
			return nil, fmt.Errorf("%w: student %d is in no group", ErrInconsistentSolution, e)
		}
	}
	return assignment, nil
}

// Epsilon is the tolerance used when reading solved binaries back.
const Epsilon = 1e-5

func selected(v float64) bool {
	return math.Abs(v-1) < Epsilon
}
