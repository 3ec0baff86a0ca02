package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"groups/solver"
)

var validate = validator.New()

const defaultGroupSize = 4

// flexID accepts an id sent either as a JSON string or as a JSON number.
type flexID string

func (f *flexID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("id must be a string or a number: %w", err)
	}
	*f = flexID(n.String())
	return nil
}

type studentWire struct {
	ID       flexID  `json:"id"`
	FullName string  `json:"full_name"`
	Mean     float64 `json:"mean"`
	Alt      bool    `json:"alt"`
	Present  *bool   `json:"present"`
}

type preferenceWire struct {
	StudentID   flexID   `json:"student_id"`
	PreferredID flexID   `json:"preferred_id"`
	Points      *float64 `json:"points"`
}

type generateOptions struct {
	Strategy     string  `json:"strategy" validate:"omitempty,oneof=exact heuristic auto"`
	SizePolicy   string  `json:"size_policy" validate:"omitempty,oneof=remainder even discover"`
	TieBreak     string  `json:"tie_break" validate:"omitempty,oneof=input id"`
	Seed         *int64  `json:"seed"`
	LevelBalance float64 `json:"level_balance" validate:"gte=0"`
	BestEffort   bool    `json:"best_effort"`
	TimeLimitMS  int     `json:"time_limit_ms" validate:"gte=0,lte=600000"`
}

// apply overrides the server defaults in cfg with the options the caller set.
func (o generateOptions) apply(cfg *solver.Config) {
	if o.Strategy != "" {
		cfg.Strategy = solver.Strategy(o.Strategy)
	}
	if o.SizePolicy != "" {
		cfg.SizePolicy = solver.SizePolicy(o.SizePolicy)
	}
	if o.TieBreak != "" {
		cfg.TieBreak = solver.TieBreak(o.TieBreak)
	}
	if o.Seed != nil {
		cfg.Seed = *o.Seed
	}
	if o.LevelBalance > 0 {
		cfg.LevelBalance = o.LevelBalance
	}
	if o.TimeLimitMS > 0 {
		cfg.TimeLimit = time.Duration(o.TimeLimitMS) * time.Millisecond
	}
	cfg.BestEffort = cfg.BestEffort || o.BestEffort
}

type generateRequest struct {
	Students    json.RawMessage `json:"students"`
	Preferences json.RawMessage `json:"preferences"`
	N           *int            `json:"n"`
	Options     generateOptions `json:"options"`
}

// rawList splits a list field into its elements. A field that is not a JSON
// array is ignored with a warning, the same as a record that does not decode.
func rawList(raw json.RawMessage, field string, log *zap.Logger) []json.RawMessage {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}
	var list []json.RawMessage
	if err := json.Unmarshal(raw, &list); err != nil {
		log.Warn("ignoring field that is not a list", zap.String("field", field), zap.Error(err))
		return nil
	}
	return list
}

// decodeRecords converts the raw wire records. A record that does not decode is
// dropped with a warning instead of failing the request.
func decodeRecords(rawStudents, rawPrefs []json.RawMessage, log *zap.Logger) ([]solver.StudentRecord, []solver.PreferenceRecord) {
	students := make([]solver.StudentRecord, 0, len(rawStudents))
	for i, raw := range rawStudents {
		var s studentWire
		if err := json.Unmarshal(raw, &s); err != nil {
			log.Warn("dropping undecodable student", zap.Int("position", i), zap.Error(err))
			continue
		}
		students = append(students, solver.StudentRecord{
			ID:       string(s.ID),
			FullName: s.FullName,
			Mean:     s.Mean,
			Alt:      s.Alt,
			Present:  s.Present,
		})
	}
	prefs := make([]solver.PreferenceRecord, 0, len(rawPrefs))
	for i, raw := range rawPrefs {
		var p preferenceWire
		if err := json.Unmarshal(raw, &p); err != nil {
			log.Warn("dropping undecodable preference", zap.Int("position", i), zap.Error(err))
			continue
		}
		prefs = append(prefs, solver.PreferenceRecord{
			StudentID:   string(p.StudentID),
			PreferredID: string(p.PreferredID),
			Points:      p.Points,
		})
	}
	return students, prefs
}

type generateResponse struct {
	Success bool `json:"success"`
	*solver.Result
}

type failureResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

func (s *server) handleGenerateGroups() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log := s.log.With(zap.String("request_id", requestID(r)))

		var req generateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeFailure(w, http.StatusBadRequest, "invalid request body")
			return
		}
		rawStudents := rawList(req.Students, "students", log)
		if len(rawStudents) == 0 {
			writeFailure(w, http.StatusBadRequest, "No students provided")
			return
		}
		if err := validate.Struct(req.Options); err != nil {
			writeFailure(w, http.StatusBadRequest, err.Error())
			return
		}
		size := defaultGroupSize
		if req.N != nil {
			size = *req.N
		}

		cfg := s.settings.partitionConfig(size, log)
		req.Options.apply(&cfg)
		students, prefs := decodeRecords(rawStudents, rawList(req.Preferences, "preferences", log), log)

		res, err := s.partition(r, students, prefs, cfg)
		if err != nil {
			log.Warn("generate groups failed", zap.Error(err))
			writeFailure(w, statusFor(err), err.Error())
			return
		}
		writeJSON(w, http.StatusOK, generateResponse{Success: true, Result: res})
	}
}

// partition runs one request against the solver and records its metrics.
func (s *server) partition(r *http.Request, students []solver.StudentRecord, prefs []solver.PreferenceRecord, cfg solver.Config) (*solver.Result, error) {
	start := time.Now()
	res, err := solver.Partition(r.Context(), students, prefs, cfg)
	s.metrics.observePartition(string(cfg.Strategy), res, err, time.Since(start))
	return res, err
}

func isInputError(err error) bool {
	return errors.Is(err, solver.ErrInvalidSize) ||
		errors.Is(err, solver.ErrInsufficientStudents) ||
		errors.Is(err, solver.ErrIndivisible)
}

func statusFor(err error) int {
	if isInputError(err) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeFailure(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, failureResponse{Success: false, Error: msg})
}
