package solver

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlanGroupsRemainder(t *testing.T) {
	tests := []struct {
		total, size int
		sizes       []int
	}{
		{4, 2, []int{2, 2}},
		{5, 2, []int{3, 2}},
		{7, 3, []int{4, 3}},
		{12, 5, []int{6, 6}},
		{3, 3, []int{3}},
		{11, 4, []int{6, 5}},
		{14, 5, []int{7, 7}},
	}
	for _, tt := range tests {
		p, err := PlanGroups(tt.total, tt.size, SizeRemainder, nil)
		require.NoError(t, err)
		assert.Equal(t, tt.sizes, p.Sizes, "total %d size %d", tt.total, tt.size)
		assert.Equal(t, len(tt.sizes), p.Groups)
		assert.Equal(t, tt.total%tt.size, p.Remainder)
	}
}

func TestPlanGroupsErrors(t *testing.T) {
	_, err := PlanGroups(1, 2, SizeRemainder, nil)
	assert.ErrorIs(t, err, ErrInsufficientStudents)

	_, err = PlanGroups(0, 3, SizeRemainder, nil)
	assert.ErrorIs(t, err, ErrInsufficientStudents)

	_, err = PlanGroups(4, 0, SizeRemainder, nil)
	assert.ErrorIs(t, err, ErrInvalidSize)

	_, err = PlanGroups(7, 3, SizeEven, nil)
	assert.ErrorIs(t, err, ErrIndivisible)

	_, err = PlanGroups(6, 3, "weird", nil)
	assert.Error(t, err)
}

func TestPlanGroupsEven(t *testing.T) {
	p, err := PlanGroups(12, 4, SizeEven, nil)
	require.NoError(t, err)
	assert.Equal(t, []int{4, 4, 4}, p.Sizes)
	assert.Zero(t, p.Remainder)
}

func TestPlanGroupsDiscover(t *testing.T) {
	tests := []struct {
		total int
		size  int
	}{
		{15, 5},
		{20, 5},
		{8, 4},
		{12, 4},
		{9, 3},
	}
	for _, tt := range tests {
		p, err := PlanGroups(tt.total, 0, SizeDiscover, nil)
		require.NoError(t, err)
		assert.Equal(t, tt.size, p.Size, "total %d", tt.total)
		assert.Equal(t, tt.total/tt.size, p.Groups)
	}

	_, err := PlanGroups(7, 0, SizeDiscover, nil)
	assert.ErrorIs(t, err, ErrIndivisible)

	_, err = PlanGroups(2, 0, SizeDiscover, nil)
	assert.ErrorIs(t, err, ErrInsufficientStudents)

	p, err := PlanGroups(14, 0, SizeDiscover, []int{7, 2})
	require.NoError(t, err)
	assert.Equal(t, []int{7, 7}, p.Sizes)
}

func TestPlanGroupsProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("remainder plan covers every student with near-equal sizes", prop.ForAll(
		func(size, extra int) bool {
			total := size + extra
			p, err := PlanGroups(total, size, SizeRemainder, nil)
			if err != nil {
				return false
			}
			sum := 0
			for g, s := range p.Sizes {
				if s < size || s > p.Sizes[0] || p.Sizes[0]-s > 1 {
					return false
				}
				if p.Remainder < p.Groups && (g < p.Remainder) != (s == size+1) {
					return false
				}
				sum += s
			}
			return sum == total && p.Groups == total/size
		},
		gen.IntRange(1, 20),
		gen.IntRange(0, 200),
	))

	properties.Property("planning is deterministic", prop.ForAll(
		func(size, total int) bool {
			a, errA := PlanGroups(total, size, SizeRemainder, nil)
			b, errB := PlanGroups(total, size, SizeRemainder, nil)
			if (errA == nil) != (errB == nil) {
				return false
			}
			return assert.ObjectsAreEqual(a, b)
		},
		gen.IntRange(1, 10),
		gen.IntRange(0, 50),
	))

	properties.TestingRun(t)
}
