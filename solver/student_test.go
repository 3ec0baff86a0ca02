package solver

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func ptr[T any](v T) *T {
	return &v
}

func TestClassifyLevel(t *testing.T) {
	tests := []struct {
		mean float64
		want Level
	}{
		{0, LevelLow},
		{9.9, LevelLow},
		{10.0, LevelMedium},
		{13.9, LevelMedium},
		{14.0, LevelHigh},
		{20, LevelHigh},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ClassifyLevel(tt.mean), "mean %v", tt.mean)
	}
}

func TestNormalizeFiltersRecords(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	records := []StudentRecord{
		{ID: "1", FullName: "Alice", Mean: 13},
		{ID: "2", FullName: "Bob", Mean: 11, Alt: true, Present: ptr(true)},
		{ID: "3", FullName: "Absent", Mean: 9, Present: ptr(false)},
		{ID: "", FullName: "No Id", Mean: 12},
		{ID: "5", FullName: "  ", Mean: 12},
		{ID: "1", FullName: "Alice Again", Mean: 18},
		{ID: " 7 ", FullName: " Grace ", Mean: 15},
	}

	r := Normalize(records, TieBreakInput, zap.New(core))

	require.Equal(t, 3, r.Len())
	assert.Equal(t, []Student{
		{ID: "1", FullName: "Alice", Mean: 13, Level: LevelMedium},
		{ID: "2", FullName: "Bob", Mean: 11, Level: LevelMedium, Alt: true},
		{ID: "7", FullName: "Grace", Mean: 15, Level: LevelHigh},
	}, r.Students)
	assert.Equal(t, 3, logs.Len(), "missing id, missing name and duplicate are logged")
	assert.Equal(t, 1, logs.FilterMessage("dropping duplicate student record").Len())
}

func TestNormalizeTieBreakID(t *testing.T) {
	records := []StudentRecord{
		{ID: "c", FullName: "Cleo"},
		{ID: "a", FullName: "Ann"},
		{ID: "b", FullName: "Ben"},
	}
	r := Normalize(records, TieBreakID, nil)

	ids := make([]string, r.Len())
	for i, s := range r.Students {
		ids[i] = s.ID
	}
	assert.Equal(t, []string{"a", "b", "c"}, ids)
	i, ok := r.Index("c")
	assert.True(t, ok)
	assert.Equal(t, 2, i)
}

func TestRosterLookups(t *testing.T) {
	r := Normalize([]StudentRecord{
		{ID: "1", FullName: "Sam", Mean: 8},
		{ID: "2", FullName: "Sam", Mean: 16},
		{ID: "3", FullName: "Kim", Mean: 12},
	}, TieBreakInput, nil)

	name, ok := r.Name("3")
	assert.True(t, ok)
	assert.Equal(t, "Kim", name)

	_, ok = r.Name("999")
	assert.False(t, ok)

	assert.Equal(t, []string{"1", "2"}, r.IDsByName("Sam"))
	assert.Nil(t, r.IDsByName("Nobody"))

	assert.Equal(t, 1, r.LevelCount(LevelLow))
	assert.Equal(t, 1, r.LevelCount(LevelMedium))
	assert.Equal(t, 1, r.LevelCount(LevelHigh))
}
