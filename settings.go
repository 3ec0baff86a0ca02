package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"groups/solver"
)

type settings struct {
	Listen       string `validate:"required"`
	PGConn       string
	ClientID     string
	ClientSecret string `validate:"required_with=ClientID"`
	Admins       []string
	TimeLimit    time.Duration `validate:"gt=0"`
	Strategy     string        `validate:"oneof=exact heuristic auto"`
	LevelBalance float64       `validate:"gte=0"`
	LogLevel     string        `validate:"oneof=debug info warn error"`
}

// loadSettings reads flags, then GROUPS_* environment variables (plus the bare
// PGCONN, CLIENT_ID, CLIENT_SECRET and ADMINS), then an optional config file.
// An explicitly set flag wins over everything else.
func loadSettings(args []string) (settings, error) {
	fs := pflag.NewFlagSet("groups", pflag.ContinueOnError)
	fs.String("listen", ":8080", "address to serve HTTP on")
	fs.String("pgconn", "", "postgres connection string; class endpoints are disabled without it")
	fs.String("client-id", "", "google oauth client id; authentication is disabled without it")
	fs.String("client-secret", "", "secret used to sign session tokens")
	fs.String("admins", "", "comma-separated admin emails")
	fs.Duration("time-limit", 10*time.Second, "default solver time limit per request")
	fs.String("strategy", string(solver.StrategyAuto), "default strategy: auto, exact or heuristic")
	fs.Float64("level-balance", 0, "default level balance weight")
	fs.String("log-level", "info", "debug, info, warn or error")
	fs.String("config", "", "optional config file (yaml, json or toml)")
	if err := fs.Parse(args); err != nil {
		return settings{}, err
	}

	v := viper.New()
	v.SetEnvPrefix("GROUPS")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(fs); err != nil {
		return settings{}, err
	}
	for key, env := range map[string]string{
		"pgconn":        "PGCONN",
		"client-id":     "CLIENT_ID",
		"client-secret": "CLIENT_SECRET",
		"admins":        "ADMINS",
	} {
		if err := v.BindEnv(key, "GROUPS_"+env, env); err != nil {
			return settings{}, err
		}
	}
	if path := v.GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return settings{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	s := settings{
		Listen:       v.GetString("listen"),
		PGConn:       v.GetString("pgconn"),
		ClientID:     v.GetString("client-id"),
		ClientSecret: v.GetString("client-secret"),
		TimeLimit:    v.GetDuration("time-limit"),
		Strategy:     v.GetString("strategy"),
		LevelBalance: v.GetFloat64("level-balance"),
		LogLevel:     strings.ToLower(v.GetString("log-level")),
	}
	for _, a := range strings.Split(v.GetString("admins"), ",") {
		if a = strings.TrimSpace(a); a != "" {
			s.Admins = append(s.Admins, a)
		}
	}
	if err := validate.Struct(s); err != nil {
		return settings{}, fmt.Errorf("invalid settings: %w", err)
	}
	return s, nil
}

// partitionConfig is the solver configuration every request starts from.
func (s settings) partitionConfig(size int, log *zap.Logger) solver.Config {
	cfg := solver.DefaultConfig(size)
	cfg.Strategy = solver.Strategy(s.Strategy)
	cfg.TimeLimit = s.TimeLimit
	cfg.LevelBalance = s.LevelBalance
	cfg.Logger = log
	return cfg
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	cfg := zap.NewProductionConfig()
	if lvl == zapcore.DebugLevel {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	return cfg.Build()
}
