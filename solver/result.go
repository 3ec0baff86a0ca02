package solver

import (
	"fmt"
	"math"
)

type Member struct {
	ID       string  `json:"id"`
	FullName string  `json:"full_name"`
	Mean     float64 `json:"mean"`
	Alt      bool    `json:"alt"`
	Level    Level   `json:"level"`
}

type Group struct {
	Number         int           `json:"group_number"`
	Members        []Member      `json:"members"`
	AverageMean    float64       `json:"average_mean"`
	AlternantCount int           `json:"alternant_count"`
	LevelCounts    map[Level]int `json:"level_counts"`
}

type Result struct {
	Groups            []Group  `json:"groups"`
	SatisfactionScore float64  `json:"satisfaction_score"`
	TotalStudents     int      `json:"total_students"`
	NumGroups         int      `json:"num_groups"`
	TotalMatched      float64  `json:"total_matched_preferences"`
	TotalPossible     float64  `json:"total_possible_preferences"`
	Strategy          Strategy `json:"strategy"`
	Optimal           bool     `json:"optimal"`
	// Objective is the exact model's objective for the returned partition,
	// whichever strategy produced it: weighted matched points minus the level
	// balance penalty.
	Objective float64 `json:"objective"`
}

// Extract builds the groups of an assignment. It checks that every student is in
// a planned group and that each group holds exactly its planned number of
// members.
func Extract(r *Roster, plan Plan, assignment []int) ([]Group, error) {
	if len(assignment) != r.Len() {
		return nil, fmt.Errorf("%w: assignment covers %d of %d students",
			ErrInconsistentSolution, len(assignment), r.Len())
	}
	groups := make([]Group, plan.Groups)
	for g := range groups {
		groups[g] = Group{Number: g + 1, Members: []Member{}, LevelCounts: map[Level]int{}}
	}
	for e, g := range assignment {
		if g < 0 || g >= plan.Groups {
			return nil, fmt.Errorf("%w: student %q assigned to group %d",
				ErrInconsistentSolution, r.Students[e].ID, g)
		}
		s := r.Students[e]
		groups[g].Members = append(groups[g].Members, Member{
			ID:       s.ID,
			FullName: s.FullName,
			Mean:     s.Mean,
			Alt:      s.Alt,
			Level:    s.Level,
		})
	}
	for g := range groups {
		grp := &groups[g]
		if len(grp.Members) != plan.SizeOf(g) {
			return nil, fmt.Errorf("%w: group %d has %d members, planned %d",
				ErrInconsistentSolution, grp.Number, len(grp.Members), plan.SizeOf(g))
		}
		total := 0.0
		for _, m := range grp.Members {
			total += m.Mean
			if m.Alt {
				grp.AlternantCount++
			}
			grp.LevelCounts[m.Level]++
		}
		if len(grp.Members) > 0 {
			grp.AverageMean = total / float64(len(grp.Members))
		}
	}
	return groups, nil
}

// Matched sums the points of every preference whose two students share a group.
func Matched(prefs *Preferences, assignment []int) float64 {
	matched := 0.0
	for _, e := range prefs.Edges {
		if assignment[e.From] == assignment[e.To] {
			matched += e.Points
		}
	}
	return matched
}

// Objective scores an assignment the way BuildModel's objective does, so that
// exact and heuristic partitions are comparable.
func Objective(r *Roster, prefs *Preferences, plan Plan, cfg Config, assignment []int) float64 {
	obj := cfg.PreferenceWeight * Matched(prefs, assignment)
	if cfg.LevelBalance <= 0 {
		return obj
	}
	for _, level := range Levels() {
		total := r.LevelCount(level)
		if total == 0 {
			continue
		}
		counts := make([]int, plan.Groups)
		for e, s := range r.Students {
			if s.Level == level {
				counts[assignment[e]]++
			}
		}
		for g, c := range counts {
			target := float64(total) * float64(plan.SizeOf(g)) / float64(plan.Total)
			obj -= cfg.LevelBalance * math.Abs(float64(c)-target)
		}
	}
	return obj
}

// Satisfaction is matched as a percentage of possible, rounded to one decimal.
// With nothing possible it is 0.
func Satisfaction(matched, possible float64) float64 {
	if possible <= 0 {
		return 0
	}
	pct := math.Round(1000*matched/possible) / 10
	return min(max(pct, 0), 100)
}
