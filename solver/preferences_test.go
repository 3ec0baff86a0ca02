package solver

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fourStudents() []StudentRecord {
	return []StudentRecord{
		{ID: "1", FullName: "Alice", Mean: 13, Present: ptr(true)},
		{ID: "2", FullName: "Bob", Mean: 11, Alt: true, Present: ptr(true)},
		{ID: "3", FullName: "Charlie", Mean: 9, Present: ptr(true)},
		{ID: "4", FullName: "David", Mean: 15, Present: ptr(true)},
	}
}

func threePreferences() []PreferenceRecord {
	return []PreferenceRecord{
		{StudentID: "1", PreferredID: "2", Points: ptr(10.0)},
		{StudentID: "2", PreferredID: "3", Points: ptr(5.0)},
		{StudentID: "3", PreferredID: "1", Points: ptr(2.0)},
	}
}

func TestBuildPreferences(t *testing.T) {
	r := Normalize(fourStudents(), TieBreakInput, nil)
	p := BuildPreferences(r, threePreferences(), nil)

	require.Equal(t, 3, p.Len())
	assert.Equal(t, []Edge{
		{From: 0, To: 1, Points: 10},
		{From: 1, To: 2, Points: 5},
		{From: 2, To: 0, Points: 2},
	}, p.Edges)
	assert.Equal(t, 17.0, p.TotalPossible)
	assert.Equal(t, 10.0, p.Weight(0, 1))
	assert.Zero(t, p.Weight(1, 0))
	assert.True(t, p.Has(2, 0))
	assert.False(t, p.Has(0, 2))
}

func TestBuildPreferencesDropsInvalidEdges(t *testing.T) {
	students := append(fourStudents(), StudentRecord{ID: "5", FullName: "Eve", Present: ptr(false)})
	r := Normalize(students, TieBreakInput, nil)

	p := BuildPreferences(r, []PreferenceRecord{
		{StudentID: "1", PreferredID: "999", Points: ptr(10.0)},
		{StudentID: "999", PreferredID: "1", Points: ptr(10.0)},
		{StudentID: "1", PreferredID: "1", Points: ptr(3.0)},
		{StudentID: "2", PreferredID: "5", Points: ptr(4.0)},
		{StudentID: "3", PreferredID: "4", Points: ptr(-1.0)},
	}, nil)

	assert.Zero(t, p.Len())
	assert.Zero(t, p.TotalPossible)
}

func TestBuildPreferencesOverwritesAndDefaults(t *testing.T) {
	r := Normalize(fourStudents(), TieBreakInput, nil)
	p := BuildPreferences(r, []PreferenceRecord{
		{StudentID: "4", PreferredID: "1", Points: ptr(3.0)},
		{StudentID: "4", PreferredID: "1", Points: ptr(7.0)},
		{StudentID: "2", PreferredID: "1"},
	}, nil)

	assert.Equal(t, []Edge{
		{From: 1, To: 0, Points: 1},
		{From: 3, To: 0, Points: 7},
	}, p.Edges)
	assert.Equal(t, 8.0, p.TotalPossible)
	assert.Equal(t, map[int]float64{0: 7}, p.Targets(3))
}

func TestBuildPreferencesTrimsIDs(t *testing.T) {
	students := fourStudents()
	students[1].ID = " 2 "
	r := Normalize(students, TieBreakInput, nil)

	p := BuildPreferences(r, []PreferenceRecord{
		{StudentID: "1", PreferredID: " 2", Points: ptr(4.0)},
		{StudentID: "2\t", PreferredID: "3", Points: ptr(1.0)},
	}, nil)

	assert.Equal(t, []Edge{
		{From: 0, To: 1, Points: 4},
		{From: 1, To: 2, Points: 1},
	}, p.Edges)
}
