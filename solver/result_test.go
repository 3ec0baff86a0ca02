package solver

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtract(t *testing.T) {
	r := Normalize(fourStudents(), TieBreakInput, nil)
	plan, err := PlanGroups(4, 2, SizeRemainder, nil)
	require.NoError(t, err)

	groups, err := Extract(r, plan, []int{0, 1, 1, 0})
	require.NoError(t, err)
	require.Len(t, groups, 2)

	assert.Equal(t, 1, groups[0].Number)
	assert.Equal(t, []string{"1", "4"}, memberIDs(groups[0]))
	assert.InDelta(t, 14.0, groups[0].AverageMean, 1e-9)
	assert.Zero(t, groups[0].AlternantCount)
	assert.Equal(t, map[Level]int{LevelMedium: 1, LevelHigh: 1}, groups[0].LevelCounts)

	assert.Equal(t, 2, groups[1].Number)
	assert.Equal(t, []string{"2", "3"}, memberIDs(groups[1]))
	assert.InDelta(t, 10.0, groups[1].AverageMean, 1e-9)
	assert.Equal(t, 1, groups[1].AlternantCount)
	assert.Equal(t, LevelLow, groups[1].Members[1].Level)
}

func TestExtractRejectsInconsistentAssignments(t *testing.T) {
	r := Normalize(fourStudents(), TieBreakInput, nil)
	plan, err := PlanGroups(4, 2, SizeRemainder, nil)
	require.NoError(t, err)

	_, err = Extract(r, plan, []int{0, 0, 0, 1})
	assert.ErrorIs(t, err, ErrInconsistentSolution)

	_, err = Extract(r, plan, []int{0, 1, 2, 0})
	assert.ErrorIs(t, err, ErrInconsistentSolution)

	_, err = Extract(r, plan, []int{0, 1})
	assert.ErrorIs(t, err, ErrInconsistentSolution)
}

func TestMatchedAndSatisfaction(t *testing.T) {
	r := Normalize(fourStudents(), TieBreakInput, nil)
	prefs := BuildPreferences(r, threePreferences(), nil)

	matched := Matched(prefs, []int{0, 0, 1, 1})
	assert.Equal(t, 10.0, matched)
	assert.Equal(t, 58.8, Satisfaction(matched, prefs.TotalPossible))

	matched = Matched(prefs, []int{0, 0, 0, 1})
	assert.Equal(t, 17.0, matched)
	assert.Equal(t, 100.0, Satisfaction(matched, prefs.TotalPossible))

	assert.Zero(t, Satisfaction(0, 0))
	assert.Zero(t, Satisfaction(5, 0))
	assert.Equal(t, 33.3, Satisfaction(1, 3))
}

func memberIDs(g Group) []string {
	ids := make([]string, len(g.Members))
	for i, m := range g.Members {
		ids[i] = m.ID
	}
	return ids
}
