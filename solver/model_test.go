package solver

import (
	"context"
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"groups/milp"
)

func buildFourStudentModel(t *testing.T, cfg Config) (*Roster, *Preferences, Plan, *Model) {
	t.Helper()
	r := Normalize(fourStudents(), TieBreakInput, nil)
	prefs := BuildPreferences(r, threePreferences(), nil)
	plan, err := PlanGroups(r.Len(), 2, SizeRemainder, nil)
	require.NoError(t, err)
	return r, prefs, plan, BuildModel(r, prefs, plan, cfg)
}

func TestBuildModelShape(t *testing.T) {
	_, _, _, m := buildFourStudentModel(t, DefaultConfig(2))

	// 4x2 membership variables plus one link per edge and group.
	assert.Equal(t, 8+3*2, m.NumVars())
	// One-group rows, size rows, three AND-gate rows per link.
	assert.Len(t, m.Problem.Constraints, 4+2+3*3*2)
	assert.Equal(t, milp.Maximize, m.Problem.Sense)

	assert.Equal(t, 10.0, m.Problem.Objective[m.Z(0, 0)])
	assert.Equal(t, 10.0, m.Problem.Objective[m.Z(0, 1)])
	assert.Equal(t, 2.0, m.Problem.Objective[m.Z(2, 1)])
	assert.Zero(t, m.Problem.Objective[m.X(0, 0)])
}

func TestBuildModelPreferenceWeight(t *testing.T) {
	cfg := DefaultConfig(2)
	cfg.PreferenceWeight = 3
	_, _, _, m := buildFourStudentModel(t, cfg)
	assert.Equal(t, 30.0, m.Problem.Objective[m.Z(0, 0)])
}

func TestBuildModelWithoutPreferences(t *testing.T) {
	r := Normalize(fourStudents(), TieBreakInput, nil)
	prefs := BuildPreferences(r, nil, nil)
	plan, err := PlanGroups(r.Len(), 2, SizeRemainder, nil)
	require.NoError(t, err)

	m := BuildModel(r, prefs, plan, DefaultConfig(2))
	assert.Equal(t, 8, m.NumVars())

	sol := milp.Solve(context.Background(), m.Problem, milp.DefaultOptions)
	require.Equal(t, milp.Optimal, sol.Status, "err: %v", sol.Err)
	assignment, err := m.Assignment(sol.Values)
	require.NoError(t, err)
	_, err = Extract(r, plan, assignment)
	assert.NoError(t, err)
}

func TestValuationIsFeasible(t *testing.T) {
	cfg := DefaultConfig(2)
	cfg.LevelBalance = 0.5
	_, prefs, _, m := buildFourStudentModel(t, cfg)

	for _, assignment := range [][]int{{0, 0, 1, 1}, {0, 1, 1, 0}, {0, 1, 0, 1}} {
		values := m.Valuation(assignment)
		assert.True(t, m.Problem.Feasible(values, 1e-9), "assignment %v", assignment)

		back, err := m.Assignment(values)
		require.NoError(t, err)
		assert.Equal(t, assignment, back)

		balance := 0.0
		for _, v := range m.devs {
			balance += values[v.v]
		}
		want := Matched(prefs, assignment) - cfg.LevelBalance*balance
		assert.InDelta(t, want, m.Problem.Evaluate(values), 1e-9)
	}
}

func TestCanonicalBreaksSymmetry(t *testing.T) {
	_, _, _, m := buildFourStudentModel(t, DefaultConfig(2))

	// Student 0 is pinned to the first of two equal groups.
	assert.Equal(t, 0.0, m.Problem.Vars[m.X(0, 1)].Upper)
	assert.Equal(t, 1.0, m.Problem.Vars[m.X(0, 0)].Upper)
	assert.Equal(t, 1.0, m.Problem.Vars[m.X(1, 1)].Upper)

	relabeled := []int{1, 0, 1, 0}
	assert.False(t, m.Problem.Feasible(m.Valuation(relabeled), 1e-9))
	canonical := m.Canonical(relabeled)
	assert.Equal(t, []int{0, 1, 0, 1}, canonical)
	assert.Equal(t, Key(relabeled), Key(canonical))
	assert.True(t, m.Problem.Feasible(m.Valuation(canonical), 1e-9))
}

func TestCanonicalKeepsSizeClasses(t *testing.T) {
	students := append(fourStudents(),
		StudentRecord{ID: "5", FullName: "Eve", Mean: 12},
		StudentRecord{ID: "6", FullName: "Frank", Mean: 7},
		StudentRecord{ID: "7", FullName: "Gina", Mean: 17})
	r := Normalize(students, TieBreakInput, nil)
	plan, err := PlanGroups(r.Len(), 2, SizeRemainder, nil)
	require.NoError(t, err)
	require.Equal(t, []int{3, 2, 2}, plan.Sizes)
	m := BuildModel(r, BuildPreferences(r, nil, nil), plan, DefaultConfig(2))

	// The size-3 group is alone in its class and may hold anyone.
	assert.Equal(t, 1.0, m.Problem.Vars[m.X(0, 0)].Upper)
	// Group 2 is second among the size-2 groups.
	assert.Equal(t, 0.0, m.Problem.Vars[m.X(0, 2)].Upper)
	assert.Equal(t, 1.0, m.Problem.Vars[m.X(0, 1)].Upper)

	canonical := m.Canonical([]int{2, 0, 0, 1, 2, 0, 1})
	assert.Equal(t, []int{1, 0, 0, 2, 1, 0, 2}, canonical)
	assert.True(t, m.Problem.Feasible(m.Valuation(canonical), 1e-9))
}

func TestAssignmentToleratesSolverNoise(t *testing.T) {
	_, _, _, m := buildFourStudentModel(t, DefaultConfig(2))

	values := m.Valuation([]int{0, 0, 1, 1})
	values[m.X(0, 0)] = 0.999997
	values[m.X(1, 1)] = 0.000002
	assignment, err := m.Assignment(values)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 0, 1, 1}, assignment)

	values[m.X(0, 0)] = 0.5
	_, err = m.Assignment(values)
	assert.ErrorIs(t, err, ErrInconsistentSolution)

	values = m.Valuation([]int{0, 0, 1, 1})
	values[m.X(2, 0)] = 1
	_, err = m.Assignment(values)
	assert.ErrorIs(t, err, ErrInconsistentSolution)

	_, err = m.Assignment(values[:3])
	assert.ErrorIs(t, err, ErrInconsistentSolution)
}

func TestLevelBalanceSpreadsLevels(t *testing.T) {
	var students []StudentRecord
	for i, mean := range []float64{8, 9, 11, 12, 15, 16} {
		students = append(students, StudentRecord{ID: fmt.Sprint(i), FullName: fmt.Sprint("s", i), Mean: mean})
	}
	// Preferences pull the two low students together; balance must win.
	prefs := []PreferenceRecord{{StudentID: "0", PreferredID: "1", Points: ptr(1.0)}}

	cfg := DefaultConfig(3)
	cfg.LevelBalance = 5
	res, err := Partition(context.Background(), students, prefs, cfg)
	require.NoError(t, err)
	require.True(t, res.Optimal)
	for _, g := range res.Groups {
		assert.Equal(t, map[Level]int{LevelLow: 1, LevelMedium: 1, LevelHigh: 1}, g.LevelCounts, "group %d", g.Number)
	}
	assert.Zero(t, res.SatisfactionScore)
}

// bruteForce enumerates every assignment that respects the plan and returns
// the best matched weight.
func bruteForce(prefs *Preferences, plan Plan, n int) float64 {
	best := -1.0
	assignment := make([]int, n)
	counts := make([]int, plan.Groups)
	var rec func(i int)
	rec = func(i int) {
		if i == n {
			best = max(best, Matched(prefs, assignment))
			return
		}
		for g := range plan.Groups {
			if counts[g] == plan.SizeOf(g) {
				continue
			}
			assignment[i] = g
			counts[g]++
			rec(i + 1)
			counts[g]--
		}
	}
	rec(0)
	return best
}

func randomInstance(rng *rand.Rand, n, edges int) ([]StudentRecord, []PreferenceRecord) {
	students := make([]StudentRecord, n)
	for i := range students {
		students[i] = StudentRecord{
			ID:       fmt.Sprint(i + 1),
			FullName: fmt.Sprint("student ", i+1),
			Mean:     float64(rng.Intn(200)) / 10,
			Alt:      rng.Intn(2) == 0,
		}
	}
	prefs := make([]PreferenceRecord, edges)
	for i := range prefs {
		prefs[i] = PreferenceRecord{
			StudentID:   fmt.Sprint(rng.Intn(n) + 1),
			PreferredID: fmt.Sprint(rng.Intn(n) + 1),
			Points:      ptr(float64(rng.Intn(10) + 1)),
		}
	}
	return students, prefs
}

func TestExactMatchesBruteForce(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	cases := []struct{ n, size, edges int }{
		{4, 2, 4},
		{5, 2, 6},
		{6, 3, 8},
		{6, 2, 7},
		{7, 3, 8},
	}
	for _, c := range cases {
		t.Run(fmt.Sprintf("n%d_size%d", c.n, c.size), func(t *testing.T) {
			students, records := randomInstance(rng, c.n, c.edges)
			r := Normalize(students, TieBreakInput, nil)
			prefs := BuildPreferences(r, records, nil)
			plan, err := PlanGroups(r.Len(), c.size, SizeRemainder, nil)
			require.NoError(t, err)

			res, err := Partition(context.Background(), students, records, DefaultConfig(c.size))
			require.NoError(t, err)
			assert.True(t, res.Optimal)
			assert.InDelta(t, bruteForce(prefs, plan, r.Len()), res.TotalMatched, 1e-6)
		})
	}
}

func TestModelCellsMatchesBuiltModel(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	students, records := randomInstance(rng, 9, 14)
	r := Normalize(students, TieBreakInput, nil)
	prefs := BuildPreferences(r, records, nil)
	plan, err := PlanGroups(r.Len(), 3, SizeRemainder, nil)
	require.NoError(t, err)

	for _, balance := range []float64{0, 2} {
		cfg := DefaultConfig(3)
		cfg.LevelBalance = balance
		m := BuildModel(r, prefs, plan, cfg)
		rows := len(m.Problem.Constraints)
		assert.Equal(t, rows*(m.NumVars()+rows), ModelCells(r, prefs, plan, cfg), "balance %g", balance)
	}
}

func TestObjectiveMatchesModel(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	students, records := randomInstance(rng, 8, 12)
	r := Normalize(students, TieBreakInput, nil)
	prefs := BuildPreferences(r, records, nil)
	plan, err := PlanGroups(r.Len(), 3, SizeRemainder, nil)
	require.NoError(t, err)

	cfg := DefaultConfig(3)
	cfg.PreferenceWeight = 2
	cfg.LevelBalance = 0.75
	m := BuildModel(r, prefs, plan, cfg)

	for range 20 {
		// Shuffle a valid assignment: group g repeated SizeOf(g) times.
		var assignment []int
		for g := range plan.Groups {
			for range plan.SizeOf(g) {
				assignment = append(assignment, g)
			}
		}
		rng.Shuffle(len(assignment), func(i, j int) { assignment[i], assignment[j] = assignment[j], assignment[i] })

		want := m.Problem.Evaluate(m.Valuation(assignment))
		assert.InDelta(t, want, Objective(r, prefs, plan, cfg, assignment), 1e-9)
	}
}
