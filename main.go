package main

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

//go:embed schema.sql
var schema string

type server struct {
	db            *sql.DB
	log           *zap.Logger
	metrics       *metrics
	settings      settings
	validateToken tokenValidator
}

func main() {
	s, err := loadSettings(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	log, err := newLogger(s.LogLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	defer log.Sync()

	var db *sql.DB
	if s.PGConn != "" {
		db, err = openDB(s.PGConn)
		if err != nil {
			log.Fatal("failed to open database", zap.Error(err))
		}
		defer db.Close()
		log.Info("connected to database")
	} else {
		log.Warn("no database configured, class endpoints are disabled")
	}
	if s.ClientID == "" {
		log.Warn("no client id configured, class endpoints are unauthenticated")
	}

	srv := newServer(s, db, log)
	httpServer := &http.Server{
		Addr:              s.Listen,
		Handler:           srv.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		shutdown, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		httpServer.Shutdown(shutdown)
	}()

	log.Info("listening", zap.String("addr", s.Listen))
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal("server failed", zap.Error(err))
	}
}

func openDB(conn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", conn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return db, nil
}

func newServer(s settings, db *sql.DB, log *zap.Logger) *server {
	return &server{
		db:            db,
		log:           log,
		metrics:       newMetrics(),
		settings:      s,
		validateToken: googleValidator,
	}
}

func (s *server) routes() http.Handler {
	mux := http.NewServeMux()
	handle := func(pattern, route string, h http.HandlerFunc) {
		mux.HandleFunc(pattern, s.metrics.instrument(route, h))
	}

	handle("POST /api/generate-groups", "generate", s.handleGenerateGroups())
	handle("GET /api/health", "health", s.handleHealth())
	handle("POST /auth/google/callback", "auth", s.handleGoogleCallback())
	handle("GET /api/admin/check", "admin_check", s.handleAdminCheck())
	handle("GET /api/classes", "classes", s.handleListClasses())
	handle("POST /api/classes", "classes", s.handleCreateClass())
	handle("DELETE /api/classes/{classID}", "class", s.handleDeleteClass())
	handle("GET /api/classes/{classID}/students", "students", s.handleListStudents())
	handle("PUT /api/classes/{classID}/students", "students", s.handlePutStudents())
	handle("DELETE /api/classes/{classID}/students/{studentID}", "student", s.handleDeleteStudent())
	handle("GET /api/classes/{classID}/preferences", "preferences", s.handleListPreferences())
	handle("PUT /api/classes/{classID}/preferences", "preferences", s.handlePutPreferences())
	handle("POST /api/classes/{classID}/generate-groups", "class_generate", s.handleGenerateClassGroups())
	handle("GET /api/classes/{classID}/runs/latest", "runs", s.handleLatestRun())
	mux.Handle("GET /metrics", s.metrics.handler())

	return s.withRequestID(s.recoverer(mux))
}

// handleHealth never touches the solver. With a database it also pings it.
func (s *server) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.db != nil {
			if err := s.db.PingContext(r.Context()); err != nil {
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "db unhealthy"})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
	}
}

// recoverer turns a panic in a handler into the failure response.
func (s *server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				s.log.Error("handler panicked",
					zap.String("path", r.URL.Path),
					zap.String("request_id", requestID(r)),
					zap.Any("panic", rec),
					zap.Stack("stack"))
				writeFailure(w, http.StatusInternalServerError, fmt.Sprint(rec))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

type requestIDKey struct{}

func (s *server) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))
	})
}

func requestID(r *http.Request) string {
	id, _ := r.Context().Value(requestIDKey{}).(string)
	return id
}
