package main

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"groups/solver"
)

// Postgres error codes the class endpoints translate into client errors.
const (
	pgForeignKeyViolation = "23503"
	pgCheckViolation      = "23514"
)

func isPQCode(err error, code string) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && string(pqErr.Code) == code
}

// requireClass authorizes the caller and parses the class id from the path.
func (s *server) requireClass(w http.ResponseWriter, r *http.Request) (string, int64, bool) {
	if s.db == nil {
		writeFailure(w, http.StatusServiceUnavailable, "database not configured")
		return "", 0, false
	}
	email, ok := s.requireAdmin(w, r)
	if !ok {
		return "", 0, false
	}
	classID, err := strconv.ParseInt(r.PathValue("classID"), 10, 64)
	if err != nil {
		writeFailure(w, http.StatusBadRequest, "invalid class ID")
		return "", 0, false
	}
	return email, classID, true
}

func (s *server) handleListClasses() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.db == nil {
			writeFailure(w, http.StatusServiceUnavailable, "database not configured")
			return
		}
		if _, ok := s.requireAdmin(w, r); !ok {
			return
		}
		rows, err := s.db.QueryContext(r.Context(), `
			SELECT c.id, c.name, c.group_size, COUNT(st.id)
			FROM classes c
			LEFT JOIN students st ON st.class_id = c.id
			GROUP BY c.id, c.name, c.group_size
			ORDER BY c.id`)
		if err != nil {
			writeFailure(w, http.StatusInternalServerError, err.Error())
			return
		}
		defer rows.Close()

		type class struct {
			ID        int64  `json:"id"`
			Name      string `json:"name"`
			GroupSize int    `json:"group_size"`
			Students  int    `json:"students"`
		}
		classes := []class{}
		for rows.Next() {
			var c class
			if err := rows.Scan(&c.ID, &c.Name, &c.GroupSize, &c.Students); err != nil {
				writeFailure(w, http.StatusInternalServerError, err.Error())
				return
			}
			classes = append(classes, c)
		}
		if err := rows.Err(); err != nil {
			writeFailure(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, classes)
	}
}

func (s *server) handleCreateClass() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.db == nil {
			writeFailure(w, http.StatusServiceUnavailable, "database not configured")
			return
		}
		if _, ok := s.requireAdmin(w, r); !ok {
			return
		}
		var body struct {
			Name      string `json:"name" validate:"required"`
			GroupSize int    `json:"group_size" validate:"omitempty,gt=0"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeFailure(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if err := validate.Struct(body); err != nil {
			writeFailure(w, http.StatusBadRequest, err.Error())
			return
		}
		if body.GroupSize == 0 {
			body.GroupSize = defaultGroupSize
		}
		var id int64
		err := s.db.QueryRowContext(r.Context(),
			"INSERT INTO classes (name, group_size) VALUES ($1, $2) RETURNING id", body.Name, body.GroupSize).Scan(&id)
		if err != nil {
			writeFailure(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"id": id, "name": body.Name, "group_size": body.GroupSize})
	}
}

func (s *server) handleDeleteClass() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, classID, ok := s.requireClass(w, r)
		if !ok {
			return
		}
		result, err := s.db.ExecContext(r.Context(), "DELETE FROM classes WHERE id = $1", classID)
		if err != nil {
			writeFailure(w, http.StatusInternalServerError, err.Error())
			return
		}
		if n, _ := result.RowsAffected(); n == 0 {
			writeFailure(w, http.StatusNotFound, "class not found")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *server) handleListStudents() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, classID, ok := s.requireClass(w, r)
		if !ok {
			return
		}
		students, err := loadStudents(r, s.db, classID)
		if err != nil {
			writeFailure(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, students)
	}
}

func (s *server) handleListPreferences() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, classID, ok := s.requireClass(w, r)
		if !ok {
			return
		}
		prefs, err := loadPreferences(r, s.db, classID)
		if err != nil {
			writeFailure(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, prefs)
	}
}

// handlePutStudents upserts a roster. Records missing an id or a name are
// rejected as a whole request, unlike the stateless endpoint, since they would
// be stored.
func (s *server) handlePutStudents() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, classID, ok := s.requireClass(w, r)
		if !ok {
			return
		}
		var body []studentWire
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeFailure(w, http.StatusBadRequest, "invalid request body")
			return
		}
		records := make([]solver.StudentRecord, len(body))
		for i, st := range body {
			records[i] = solver.StudentRecord{ID: string(st.ID), FullName: st.FullName, Mean: st.Mean, Alt: st.Alt, Present: st.Present}
			if err := validate.Struct(records[i]); err != nil {
				writeFailure(w, http.StatusBadRequest, "student "+strconv.Itoa(i)+": "+err.Error())
				return
			}
		}

		tx, err := s.db.BeginTx(r.Context(), nil)
		if err != nil {
			writeFailure(w, http.StatusInternalServerError, err.Error())
			return
		}
		defer tx.Rollback()
		for _, rec := range records {
			present := rec.Present == nil || *rec.Present
			_, err := tx.ExecContext(r.Context(), `
				INSERT INTO students (class_id, id, full_name, mean, alt, present)
				VALUES ($1, $2, $3, $4, $5, $6)
				ON CONFLICT (class_id, id) DO UPDATE SET
					full_name = EXCLUDED.full_name, mean = EXCLUDED.mean,
					alt = EXCLUDED.alt, present = EXCLUDED.present`,
				classID, rec.ID, rec.FullName, rec.Mean, rec.Alt, present)
			if isPQCode(err, pgForeignKeyViolation) {
				writeFailure(w, http.StatusNotFound, "class not found")
				return
			}
			if err != nil {
				writeFailure(w, http.StatusInternalServerError, err.Error())
				return
			}
		}
		if err := tx.Commit(); err != nil {
			writeFailure(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]int{"students": len(records)})
	}
}

func (s *server) handleDeleteStudent() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, classID, ok := s.requireClass(w, r)
		if !ok {
			return
		}
		result, err := s.db.ExecContext(r.Context(),
			"DELETE FROM students WHERE class_id = $1 AND id = $2", classID, r.PathValue("studentID"))
		if err != nil {
			writeFailure(w, http.StatusInternalServerError, err.Error())
			return
		}
		if n, _ := result.RowsAffected(); n == 0 {
			writeFailure(w, http.StatusNotFound, "student not found")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// handlePutPreferences replaces every preference of a class in one statement.
func (s *server) handlePutPreferences() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, classID, ok := s.requireClass(w, r)
		if !ok {
			return
		}
		var body []preferenceWire
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeFailure(w, http.StatusBadRequest, "invalid request body")
			return
		}
		from := make([]string, 0, len(body))
		to := make([]string, 0, len(body))
		points := make([]float64, 0, len(body))
		for _, p := range body {
			if p.StudentID == p.PreferredID {
				continue
			}
			pts := 1.0
			if p.Points != nil {
				pts = *p.Points
			}
			from = append(from, string(p.StudentID))
			to = append(to, string(p.PreferredID))
			points = append(points, pts)
		}

		tx, err := s.db.BeginTx(r.Context(), nil)
		if err != nil {
			writeFailure(w, http.StatusInternalServerError, err.Error())
			return
		}
		defer tx.Rollback()
		if _, err := tx.ExecContext(r.Context(), "DELETE FROM preferences WHERE class_id = $1", classID); err != nil {
			writeFailure(w, http.StatusInternalServerError, err.Error())
			return
		}
		_, err = tx.ExecContext(r.Context(), `
			INSERT INTO preferences (class_id, student_id, preferred_id, points)
			SELECT $1, f, t, p FROM unnest($2::text[], $3::text[], $4::float8[]) AS u(f, t, p)
			ON CONFLICT (class_id, student_id, preferred_id) DO UPDATE SET points = EXCLUDED.points`,
			classID, pq.Array(from), pq.Array(to), pq.Array(points))
		switch {
		case isPQCode(err, pgForeignKeyViolation):
			writeFailure(w, http.StatusBadRequest, "preference references a student not in the class")
			return
		case isPQCode(err, pgCheckViolation):
			writeFailure(w, http.StatusBadRequest, "preference points must be >= 0")
			return
		case err != nil:
			writeFailure(w, http.StatusInternalServerError, err.Error())
			return
		}
		if err := tx.Commit(); err != nil {
			writeFailure(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]int{"preferences": len(from)})
	}
}

type classRun struct {
	ID        uuid.UUID       `json:"run_id"`
	ClassID   int64           `json:"class_id"`
	CreatedBy string          `json:"created_by"`
	CreatedAt time.Time       `json:"created_at"`
	Options   json.RawMessage `json:"options"`
	Result    json.RawMessage `json:"result"`
}

func (s *server) handleGenerateClassGroups() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		email, classID, ok := s.requireClass(w, r)
		if !ok {
			return
		}
		log := s.log.With(zap.String("request_id", requestID(r)), zap.Int64("class_id", classID))

		var body struct {
			N       *int            `json:"n"`
			Options generateOptions `json:"options"`
		}
		if r.ContentLength != 0 {
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				writeFailure(w, http.StatusBadRequest, "invalid request body")
				return
			}
		}
		if err := validate.Struct(body.Options); err != nil {
			writeFailure(w, http.StatusBadRequest, err.Error())
			return
		}

		var size int
		err := s.db.QueryRowContext(r.Context(), "SELECT group_size FROM classes WHERE id = $1", classID).Scan(&size)
		if errors.Is(err, sql.ErrNoRows) {
			writeFailure(w, http.StatusNotFound, "class not found")
			return
		}
		if err != nil {
			writeFailure(w, http.StatusInternalServerError, err.Error())
			return
		}
		if body.N != nil {
			size = *body.N
		}

		students, err := loadStudents(r, s.db, classID)
		if err != nil {
			writeFailure(w, http.StatusInternalServerError, err.Error())
			return
		}
		prefs, err := loadPreferences(r, s.db, classID)
		if err != nil {
			writeFailure(w, http.StatusInternalServerError, err.Error())
			return
		}

		cfg := s.settings.partitionConfig(size, log)
		body.Options.apply(&cfg)
		res, err := s.partition(r, students, prefs, cfg)
		if err != nil {
			log.Warn("generate class groups failed", zap.Error(err))
			writeFailure(w, statusFor(err), err.Error())
			return
		}

		options, _ := json.Marshal(body)
		result, err := json.Marshal(res)
		if err != nil {
			writeFailure(w, http.StatusInternalServerError, err.Error())
			return
		}
		runID := uuid.New()
		if _, err := s.db.ExecContext(r.Context(),
			"INSERT INTO runs (id, class_id, created_by, options, result) VALUES ($1, $2, $3, $4, $5)",
			runID, classID, email, string(options), string(result)); err != nil {
			writeFailure(w, http.StatusInternalServerError, err.Error())
			return
		}
		log.Info("stored run", zap.Stringer("run_id", runID))

		writeJSON(w, http.StatusOK, struct {
			generateResponse
			RunID uuid.UUID `json:"run_id"`
		}{generateResponse{Success: true, Result: res}, runID})
	}
}

func (s *server) handleLatestRun() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, classID, ok := s.requireClass(w, r)
		if !ok {
			return
		}
		var run classRun
		var options, result []byte
		err := s.db.QueryRowContext(r.Context(), `
			SELECT id, class_id, created_by, created_at, options, result
			FROM runs WHERE class_id = $1
			ORDER BY created_at DESC LIMIT 1`, classID).
			Scan(&run.ID, &run.ClassID, &run.CreatedBy, &run.CreatedAt, &options, &result)
		if errors.Is(err, sql.ErrNoRows) {
			writeFailure(w, http.StatusNotFound, "no runs for class")
			return
		}
		if err != nil {
			writeFailure(w, http.StatusInternalServerError, err.Error())
			return
		}
		run.Options, run.Result = options, result
		writeJSON(w, http.StatusOK, run)
	}
}

func loadStudents(r *http.Request, db *sql.DB, classID int64) ([]solver.StudentRecord, error) {
	rows, err := db.QueryContext(r.Context(),
		"SELECT id, full_name, mean, alt, present FROM students WHERE class_id = $1 ORDER BY position", classID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	students := []solver.StudentRecord{}
	for rows.Next() {
		var st solver.StudentRecord
		var present bool
		if err := rows.Scan(&st.ID, &st.FullName, &st.Mean, &st.Alt, &present); err != nil {
			return nil, err
		}
		st.Present = &present
		students = append(students, st)
	}
	return students, rows.Err()
}

func loadPreferences(r *http.Request, db *sql.DB, classID int64) ([]solver.PreferenceRecord, error) {
	rows, err := db.QueryContext(r.Context(),
		"SELECT student_id, preferred_id, points FROM preferences WHERE class_id = $1 ORDER BY student_id, preferred_id", classID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	prefs := []solver.PreferenceRecord{}
	for rows.Next() {
		var p solver.PreferenceRecord
		var points float64
		if err := rows.Scan(&p.StudentID, &p.PreferredID, &points); err != nil {
			return nil, err
		}
		p.Points = &points
		prefs = append(prefs, p)
	}
	return prefs, rows.Err()
}
