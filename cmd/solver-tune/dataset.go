package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"groups/solver"
)

type studentData struct {
	ID       string  `yaml:"id"`
	FullName string  `yaml:"full_name"`
	Mean     float64 `yaml:"mean"`
	Alt      bool    `yaml:"alt"`
	Present  *bool   `yaml:"present"`
}

type preferenceData struct {
	StudentID   string   `yaml:"student_id"`
	PreferredID string   `yaml:"preferred_id"`
	Points      *float64 `yaml:"points"`
}

// dataset is one class as saved from a generate-groups request body. JSON is
// valid YAML, so both formats go through the YAML decoder, which also accepts
// numeric ids.
type dataset struct {
	N           int              `yaml:"n"`
	Students    []studentData    `yaml:"students"`
	Preferences []preferenceData `yaml:"preferences"`
}

func loadDataset(path string) (*dataset, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var d dataset
	if err := yaml.Unmarshal(b, &d); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if len(d.Students) == 0 {
		return nil, fmt.Errorf("%s: no students", path)
	}
	return &d, nil
}

func (d *dataset) records() ([]solver.StudentRecord, []solver.PreferenceRecord) {
	students := make([]solver.StudentRecord, len(d.Students))
	for i, s := range d.Students {
		students[i] = solver.StudentRecord{ID: s.ID, FullName: s.FullName, Mean: s.Mean, Alt: s.Alt, Present: s.Present}
	}
	prefs := make([]solver.PreferenceRecord, len(d.Preferences))
	for i, p := range d.Preferences {
		prefs[i] = solver.PreferenceRecord{StudentID: p.StudentID, PreferredID: p.PreferredID, Points: p.Points}
	}
	return students, prefs
}

// assignment recovers, in dataset order, the group index of every student that
// was placed. Students left out of the result are skipped.
func (d *dataset) assignment(res *solver.Result) []int {
	group := map[string]int{}
	for g, grp := range res.Groups {
		for _, m := range grp.Members {
			group[m.ID] = g
		}
	}
	var a []int
	for _, s := range d.Students {
		if g, ok := group[strings.TrimSpace(s.ID)]; ok {
			a = append(a, g)
		}
	}
	return a
}

func parseIntList(s string) []int {
	parts := strings.Split(s, ",")
	var result []int
	for _, p := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(p))
		if err == nil {
			result = append(result, v)
		}
	}
	return result
}
