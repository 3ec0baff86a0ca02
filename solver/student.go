package solver

import (
	"slices"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

var validate = validator.New()

type Level string

const (
	LevelLow    Level = "low"
	LevelMedium Level = "medium"
	LevelHigh   Level = "high"
)

// Levels lists every level in ascending order.
func Levels() []Level {
	return []Level{LevelLow, LevelMedium, LevelHigh}
}

// ClassifyLevel maps a mean score onto its level: below 10 is low, below 14 is
// medium, anything else is high.
func ClassifyLevel(mean float64) Level {
	switch {
	case mean < 10:
		return LevelLow
	case mean < 14:
		return LevelMedium
	default:
		return LevelHigh
	}
}

// StudentRecord is a student as received from the caller, before validation.
type StudentRecord struct {
	ID       string  `json:"id" validate:"required"`
	FullName string  `json:"full_name" validate:"required"`
	Mean     float64 `json:"mean"`
	Alt      bool    `json:"alt"`
	// Present defaults to true when nil.
	Present *bool `json:"present,omitempty"`
}

type Student struct {
	ID       string
	FullName string
	Mean     float64
	Level    Level
	Alt      bool
}

type TieBreak string

const (
	// TieBreakInput keeps students in the order they were received.
	TieBreakInput TieBreak = "input"
	// TieBreakID orders students by id so that results do not depend on input order.
	TieBreakID TieBreak = "id"
)

// Roster is the canonical, ordered set of eligible students. Solver code refers
// to students by their position in the roster.
type Roster struct {
	Students []Student

	index  map[string]int
	byName map[string][]int
}

func (r *Roster) Len() int {
	return len(r.Students)
}

// Index returns the roster position of the student with the given id.
func (r *Roster) Index(id string) (int, bool) {
	i, ok := r.index[id]
	return i, ok
}

func (r *Roster) Name(id string) (string, bool) {
	i, ok := r.index[id]
	if !ok {
		return "", false
	}
	return r.Students[i].FullName, true
}

// IDsByName returns the ids of every student with the given display name, in
// roster order. Names are not unique.
func (r *Roster) IDsByName(name string) []string {
	var ids []string
	for _, i := range r.byName[name] {
		ids = append(ids, r.Students[i].ID)
	}
	return ids
}

func (r *Roster) LevelCount(level Level) int {
	n := 0
	for _, s := range r.Students {
		if s.Level == level {
			n++
		}
	}
	return n
}

// Normalize filters records down to present students with an id and a name and
// classifies their level. Invalid and duplicate records are dropped with a
// warning; they never fail the call.
func Normalize(records []StudentRecord, tieBreak TieBreak, log *zap.Logger) *Roster {
	if log == nil {
		log = zap.NewNop()
	}
	r := &Roster{index: map[string]int{}, byName: map[string][]int{}}
	absent := 0
	for i, rec := range records {
		if rec.Present != nil && !*rec.Present {
			absent++
			continue
		}
		rec.ID = strings.TrimSpace(rec.ID)
		rec.FullName = strings.TrimSpace(rec.FullName)
		if err := validate.Struct(rec); err != nil {
			log.Warn("dropping student record missing required fields",
				zap.Int("position", i), zap.String("id", rec.ID), zap.Error(err))
			continue
		}
		if _, dup := r.index[rec.ID]; dup {
			log.Warn("dropping duplicate student record", zap.Int("position", i), zap.String("id", rec.ID))
			continue
		}
		r.index[rec.ID] = len(r.Students)
		r.Students = append(r.Students, Student{
			ID:       rec.ID,
			FullName: rec.FullName,
			Mean:     rec.Mean,
			Level:    ClassifyLevel(rec.Mean),
			Alt:      rec.Alt,
		})
	}

	if tieBreak == TieBreakID {
		slices.SortStableFunc(r.Students, func(a, b Student) int { return strings.Compare(a.ID, b.ID) })
	}
	for i, s := range r.Students {
		r.index[s.ID] = i
		r.byName[s.FullName] = append(r.byName[s.FullName], i)
	}

	log.Debug("normalized students",
		zap.Int("received", len(records)),
		zap.Int("eligible", len(r.Students)),
		zap.Int("absent", absent))
	return r
}
