package solver

import (
	"fmt"
	"slices"
)

type SizePolicy string

const (
	// SizeRemainder makes ⌊T/n⌋ groups and hands the T mod n extra students to the
	// first groups, one each.
	SizeRemainder SizePolicy = "remainder"
	// SizeEven requires the population to divide evenly by the group size.
	SizeEven SizePolicy = "even"
	// SizeDiscover tries each candidate size in order and keeps the first one that
	// divides the population evenly.
	SizeDiscover SizePolicy = "discover"
)

func DefaultCandidates() []int {
	return []int{5, 4, 3}
}

// Plan fixes how many groups are formed and the exact size of each.
type Plan struct {
	Total     int
	Size      int
	Groups    int
	Remainder int
	Sizes     []int
}

func (p Plan) SizeOf(g int) int {
	return p.Sizes[g]
}

// PlanGroups decides the group count and per-group sizes for total students and
// a target size. It is pure: the same inputs always give the same plan.
func PlanGroups(total, size int, policy SizePolicy, candidates []int) (Plan, error) {
	switch policy {
	case SizeDiscover:
		if len(candidates) == 0 {
			candidates = DefaultCandidates()
		}
		for _, c := range candidates {
			if c <= 0 {
				return Plan{}, fmt.Errorf("%w: candidate size %d", ErrInvalidSize, c)
			}
		}
		if smallest := slices.Min(candidates); total < smallest {
			return Plan{}, fmt.Errorf("%w: %d present students, smallest group size is %d",
				ErrInsufficientStudents, total, smallest)
		}
		for _, c := range candidates {
			if total%c == 0 {
				return evenPlan(total, c), nil
			}
		}
		return Plan{}, fmt.Errorf("%w: %d students by any of %v", ErrIndivisible, total, candidates)

	case SizeEven, SizeRemainder, "":
		if size <= 0 {
			return Plan{}, fmt.Errorf("%w: %d", ErrInvalidSize, size)
		}
		if total < size {
			return Plan{}, fmt.Errorf("%w: %d present students cannot form groups of size %d",
				ErrInsufficientStudents, total, size)
		}
		if policy == SizeEven {
			if total%size != 0 {
				return Plan{}, fmt.Errorf("%w: %d students into groups of %d", ErrIndivisible, total, size)
			}
			return evenPlan(total, size), nil
		}
		p := Plan{
			Total:     total,
			Size:      size,
			Groups:    total / size,
			Remainder: total % size,
		}
		// The first r groups take one extra student each. When r reaches the
		// group count the surplus is dealt round-robin so nobody is left out.
		base := size + p.Remainder/p.Groups
		extra := p.Remainder % p.Groups
		p.Sizes = make([]int, p.Groups)
		for g := range p.Sizes {
			p.Sizes[g] = base
			if g < extra {
				p.Sizes[g]++
			}
		}
		return p, nil
	}
	return Plan{}, fmt.Errorf("unknown size policy %q", policy)
}

func evenPlan(total, size int) Plan {
	p := Plan{Total: total, Size: size, Groups: total / size}
	p.Sizes = make([]int, p.Groups)
	for g := range p.Sizes {
		p.Sizes[g] = size
	}
	return p
}
