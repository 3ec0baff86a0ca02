package solver

import (
	"math"
	"math/rand"
	"slices"
	"strconv"
	"strings"
)

// Params tunes the local search that follows the greedy construction.
type Params struct {
	NumRandom  int
	NumPerturb int
	PerturbMin int
	PerturbMax int
}

var DefaultParams = Params{
	NumRandom:  10,
	NumPerturb: 150,
	PerturbMin: 2,
	PerturbMax: 5,
}

type Solution struct {
	Assignment []int
	Score      float64
}

// Key identifies an assignment up to group relabeling.
func Key(a []int) string {
	rm := map[int][]int{}
	for i, g := range a {
		rm[g] = append(rm[g], i)
	}
	var gs [][]int
	for _, members := range rm {
		slices.Sort(members)
		gs = append(gs, members)
	}
	slices.SortFunc(gs, func(a, b []int) int { return a[0] - b[0] })
	var buf strings.Builder
	for _, g := range gs {
		for i, m := range g {
			if i > 0 {
				buf.WriteByte(',')
			}
			buf.WriteString(strconv.Itoa(m))
		}
		buf.WriteByte(';')
	}
	return buf.String()
}

type heuristicState struct {
	n        int
	plan     Plan
	affinity [][]float64
}

// newHeuristicState precomputes the symmetric pair affinity: mutual preference
// points, a bonus for mixing alternants with non-alternants, and a bonus that
// shrinks as the two means drift apart.
func newHeuristicState(r *Roster, prefs *Preferences, plan Plan, cfg Config) *heuristicState {
	n := r.Len()
	s := &heuristicState{n: n, plan: plan, affinity: make([][]float64, n)}
	for i := range n {
		s.affinity[i] = make([]float64, n)
	}
	for i := range n {
		for j := i + 1; j < n; j++ {
			a := cfg.PreferenceWeight * (prefs.Weight(i, j) + prefs.Weight(j, i))
			si, sj := r.Students[i], r.Students[j]
			if si.Alt != sj.Alt {
				a += cfg.CohortMixBonus
			}
			if cfg.ScoreSimilarityBonus != 0 {
				a += cfg.ScoreSimilarityBonus / (1 + math.Abs(si.Mean-sj.Mean))
			}
			s.affinity[i][j] = a
			s.affinity[j][i] = a
		}
	}
	return s
}

func (s *heuristicState) score(assignment []int) float64 {
	sc := 0.0
	for i := range s.n {
		for j := i + 1; j < s.n; j++ {
			if assignment[i] == assignment[j] {
				sc += s.affinity[i][j]
			}
		}
	}
	return sc
}

type pair struct {
	a, b  int
	score float64
}

// greedy seeds every group with the best pair whose members are both free and
// then admits, one at a time, the free student with the highest total affinity
// to the current members. order breaks ties.
func (s *heuristicState) greedy(order []int) []int {
	assignment := make([]int, s.n)
	for i := range assignment {
		assignment[i] = -1
	}

	pairs := make([]pair, 0, s.n*(s.n-1)/2)
	for ii := range order {
		for jj := ii + 1; jj < len(order); jj++ {
			a, b := order[ii], order[jj]
			pairs = append(pairs, pair{a: a, b: b, score: s.affinity[a][b]})
		}
	}
	slices.SortStableFunc(pairs, func(x, y pair) int {
		switch {
		case x.score > y.score:
			return -1
		case x.score < y.score:
			return 1
		}
		return 0
	})

	counts := make([]int, s.plan.Groups)
	next := 0
	for g := range s.plan.Groups {
		size := s.plan.SizeOf(g)
		var members []int
		if size >= 2 {
			for ; next < len(pairs); next++ {
				p := pairs[next]
				if assignment[p.a] < 0 && assignment[p.b] < 0 {
					assignment[p.a], assignment[p.b] = g, g
					members = append(members, p.a, p.b)
					next++
					break
				}
			}
		}
		if len(members) == 0 {
			for _, c := range order {
				if assignment[c] < 0 {
					assignment[c] = g
					members = append(members, c)
					break
				}
			}
		}
		for len(members) < size {
			best, bestScore := -1, math.Inf(-1)
			for _, c := range order {
				if assignment[c] >= 0 {
					continue
				}
				sc := 0.0
				for _, m := range members {
					sc += s.affinity[c][m]
				}
				if sc > bestScore {
					best, bestScore = c, sc
				}
			}
			if best < 0 {
				break
			}
			assignment[best] = g
			members = append(members, best)
		}
		counts[g] = len(members)
	}

	for _, c := range order {
		if assignment[c] >= 0 {
			continue
		}
		for g := range s.plan.Groups {
			if counts[g] < s.plan.SizeOf(g) {
				assignment[c] = g
				counts[g]++
				break
			}
		}
	}
	return assignment
}

// hillClimb applies the best improving swap of two students from different
// groups until none is left. Swaps keep every group at its planned size.
func (s *heuristicState) hillClimb(assignment []int) float64 {
	n := s.n
	groups := s.plan.Groups

	sums := make([][]float64, n)
	for i := range n {
		sums[i] = make([]float64, groups)
		for k := range n {
			if k != i {
				sums[i][assignment[k]] += s.affinity[i][k]
			}
		}
	}

	for {
		bestDelta := 1e-9
		bestI, bestJ := -1, -1
		for i := range n {
			gi := assignment[i]
			for j := i + 1; j < n; j++ {
				gj := assignment[j]
				if gi == gj {
					continue
				}
				a := s.affinity[i][j]
				delta := sums[i][gj] - a - sums[i][gi] + sums[j][gi] - a - sums[j][gj]
				if delta > bestDelta {
					bestDelta = delta
					bestI, bestJ = i, j
				}
			}
		}
		if bestI < 0 {
			break
		}

		gi, gj := assignment[bestI], assignment[bestJ]
		for k := range n {
			sums[k][gi] += s.affinity[k][bestJ] - s.affinity[k][bestI]
			sums[k][gj] += s.affinity[k][bestI] - s.affinity[k][bestJ]
		}
		assignment[bestI], assignment[bestJ] = gj, gi
	}
	return s.score(assignment)
}

func (s *heuristicState) randomPlacement(assignment []int, rng *rand.Rand) {
	perm := rng.Perm(s.n)
	pos := 0
	for g := range s.plan.Groups {
		for range s.plan.SizeOf(g) {
			assignment[perm[pos]] = g
			pos++
		}
	}
}

func (s *heuristicState) perturb(assignment, src []int, count int, rng *rand.Rand) {
	copy(assignment, src)
	if s.plan.Groups < 2 {
		return
	}
	for range count {
		i := rng.Intn(s.n)
		j := rng.Intn(s.n)
		for tries := 0; assignment[i] == assignment[j] && tries < 4*s.n; tries++ {
			j = rng.Intn(s.n)
		}
		if assignment[i] != assignment[j] {
			assignment[i], assignment[j] = assignment[j], assignment[i]
		}
	}
}

const maxTracked = 64

type solutionTracker struct {
	bestScore     float64
	bestSolutions [][]int
	seen          map[string]bool
}

func newTracker(initial []int, score float64) *solutionTracker {
	t := &solutionTracker{
		bestScore: score,
		seen:      map[string]bool{},
	}
	t.seen[Key(initial)] = true
	t.bestSolutions = append(t.bestSolutions, slices.Clone(initial))
	return t
}

func (t *solutionTracker) add(a []int, s float64) {
	if s > t.bestScore+1e-9 {
		t.bestScore = s
		t.bestSolutions = nil
		t.seen = map[string]bool{}
	}
	if math.Abs(s-t.bestScore) <= 1e-9 && len(t.bestSolutions) < maxTracked {
		key := Key(a)
		if !t.seen[key] {
			t.seen[key] = true
			t.bestSolutions = append(t.bestSolutions, slices.Clone(a))
		}
	}
}

// Heuristic builds a greedy assignment for plan and improves it by swap hill
// climbing from random placements and perturbations of the best assignments
// found. The result depends only on the inputs and rng. Every returned solution
// shares the best score, the greedy-derived one first.
func Heuristic(r *Roster, prefs *Preferences, plan Plan, cfg Config, rng *rand.Rand) []Solution {
	if r.Len() == 0 || plan.Groups == 0 {
		return nil
	}
	st := newHeuristicState(r, prefs, plan, cfg)
	params := cfg.Params

	assignment := st.greedy(rng.Perm(st.n))
	tracker := newTracker(assignment, st.score(assignment))
	tracker.add(assignment, st.hillClimb(assignment))

	for range params.NumRandom {
		st.randomPlacement(assignment, rng)
		tracker.add(assignment, st.hillClimb(assignment))
	}

	for range params.NumPerturb {
		src := tracker.bestSolutions[rng.Intn(len(tracker.bestSolutions))]
		count := params.PerturbMin
		if span := params.PerturbMax - params.PerturbMin; span > 0 {
			count += rng.Intn(span)
		}
		st.perturb(assignment, src, count, rng)
		tracker.add(assignment, st.hillClimb(assignment))
	}

	results := make([]Solution, len(tracker.bestSolutions))
	for i, sol := range tracker.bestSolutions {
		results[i] = Solution{Assignment: sol, Score: tracker.bestScore}
	}
	return results
}
