package solver

import (
	"math"
	"slices"
	"strings"

	"go.uber.org/zap"
)

// PreferenceRecord is a directed wish of one student to be grouped with another.
// A nil Points counts as one point.
type PreferenceRecord struct {
	StudentID   string   `json:"student_id"`
	PreferredID string   `json:"preferred_id"`
	Points      *float64 `json:"points,omitempty"`
}

// Edge is a preference between two roster positions.
type Edge struct {
	From   int
	To     int
	Points float64
}

// Preferences is the validated preference graph over a roster.
type Preferences struct {
	Edges         []Edge
	TotalPossible float64

	weights map[int]map[int]float64
}

func (p *Preferences) Len() int {
	return len(p.Edges)
}

// Weight returns the points from → to, or zero when there is no such edge.
func (p *Preferences) Weight(from, to int) float64 {
	return p.weights[from][to]
}

func (p *Preferences) Has(from, to int) bool {
	_, ok := p.weights[from][to]
	return ok
}

// Targets returns the outgoing weights of a source.
func (p *Preferences) Targets(from int) map[int]float64 {
	return p.weights[from]
}

// BuildPreferences keeps the records whose endpoints are both on the roster and
// differ. A repeated pair overwrites the earlier points. Edges are ordered by
// source and then target roster position.
func BuildPreferences(r *Roster, records []PreferenceRecord, log *zap.Logger) *Preferences {
	if log == nil {
		log = zap.NewNop()
	}
	p := &Preferences{weights: map[int]map[int]float64{}}
	dangling := 0
	for _, rec := range records {
		// Ids are matched the way Normalize stores them.
		from, okFrom := r.Index(strings.TrimSpace(rec.StudentID))
		to, okTo := r.Index(strings.TrimSpace(rec.PreferredID))
		if !okFrom || !okTo || from == to {
			dangling++
			continue
		}
		points := 1.0
		if rec.Points != nil {
			points = *rec.Points
		}
		if points < 0 || math.IsNaN(points) || math.IsInf(points, 0) {
			log.Warn("dropping preference with invalid points",
				zap.String("student_id", rec.StudentID),
				zap.String("preferred_id", rec.PreferredID),
				zap.Float64("points", points))
			continue
		}
		if p.weights[from] == nil {
			p.weights[from] = map[int]float64{}
		}
		p.weights[from][to] = points
	}

	for from, targets := range p.weights {
		for to, points := range targets {
			p.Edges = append(p.Edges, Edge{From: from, To: to, Points: points})
		}
	}
	slices.SortFunc(p.Edges, func(a, b Edge) int {
		if a.From != b.From {
			return a.From - b.From
		}
		return a.To - b.To
	})
	for _, e := range p.Edges {
		p.TotalPossible += e.Points
	}

	log.Debug("built preference graph",
		zap.Int("received", len(records)),
		zap.Int("edges", len(p.Edges)),
		zap.Int("dropped", dangling),
		zap.Float64("total_possible", p.TotalPossible))
	return p
}
