// Package solver partitions students into fixed-size groups so that as many
// weighted "I want to be with" preferences as possible are satisfied.
//
// A request runs through Normalize, PlanGroups and BuildPreferences, then either
// the exact strategy (BuildModel solved by package milp) or the Heuristic, and
// finally Extract and Satisfaction. Partition wires these together. Nothing is
// shared between calls, so Partition may run concurrently.
package solver

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"groups/milp"
)

var (
	ErrInvalidSize          = errors.New("group size must be positive")
	ErrInsufficientStudents = errors.New("not enough present students")
	ErrIndivisible          = errors.New("students cannot be divided evenly")
	ErrNoSolution           = errors.New("no feasible solution found by the optimization algorithm")
	ErrInconsistentSolution = errors.New("solver returned an inconsistent assignment")
)

type Strategy string

const (
	StrategyExact     Strategy = "exact"
	StrategyHeuristic Strategy = "heuristic"
	// StrategyAuto solves exactly when the model fits in ExactMaxCells and falls
	// back to the best known partition when the solver runs out of budget.
	StrategyAuto Strategy = "auto"
)

type Config struct {
	Size       int
	SizePolicy SizePolicy
	Candidates []int

	Strategy Strategy

	// PreferenceWeight scales every preference point in the objective.
	PreferenceWeight float64
	// LevelBalance weighs the penalty on level imbalance across groups; 0 disables it.
	LevelBalance float64
	// CohortMixBonus and ScoreSimilarityBonus only shape the heuristic.
	CohortMixBonus       float64
	ScoreSimilarityBonus float64

	TieBreak TieBreak
	Seed     int64
	Params   Params

	TimeLimit time.Duration
	NodeLimit int
	// ExactMaxCells bounds the simplex tableau (rows × columns) auto will solve
	// exactly; 0 means no bound.
	ExactMaxCells int
	// WarmStart hands the heuristic result to the exact solver as its first incumbent.
	WarmStart bool
	// BestEffort accepts a feasible but unproven solution when the budget runs out.
	BestEffort bool

	Logger *zap.Logger
}

func DefaultConfig(size int) Config {
	return Config{
		Size:             size,
		SizePolicy:       SizeRemainder,
		Strategy:         StrategyAuto,
		PreferenceWeight: 1,
		TieBreak:         TieBreakInput,
		Seed:             42,
		Params:           DefaultParams,
		TimeLimit:        10 * time.Second,
		ExactMaxCells:    600_000,
		WarmStart:        true,
	}
}

func (c Config) Validate() error {
	switch c.Strategy {
	case StrategyExact, StrategyHeuristic, StrategyAuto:
	default:
		return fmt.Errorf("unknown strategy %q", c.Strategy)
	}
	switch c.TieBreak {
	case TieBreakInput, TieBreakID, "":
	default:
		return fmt.Errorf("unknown tie break %q", c.TieBreak)
	}
	if c.PreferenceWeight < 0 {
		return fmt.Errorf("preference weight must be >= 0, got %g", c.PreferenceWeight)
	}
	if c.LevelBalance < 0 {
		return fmt.Errorf("level balance must be >= 0, got %g", c.LevelBalance)
	}
	if c.Params.PerturbMin < 0 || c.Params.PerturbMax < c.Params.PerturbMin {
		return fmt.Errorf("invalid perturbation range [%d, %d]", c.Params.PerturbMin, c.Params.PerturbMax)
	}
	return nil
}

// Partition groups the present students of one request.
func Partition(ctx context.Context, students []StudentRecord, prefs []PreferenceRecord, cfg Config) (*Result, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	start := time.Now()

	roster := Normalize(students, cfg.TieBreak, log)
	plan, err := PlanGroups(roster.Len(), cfg.Size, cfg.SizePolicy, cfg.Candidates)
	if err != nil {
		return nil, err
	}
	graph := BuildPreferences(roster, prefs, log)
	log.Info("partitioning students",
		zap.Int("students", roster.Len()),
		zap.Int("preferences", graph.Len()),
		zap.Int("groups", plan.Groups),
		zap.Ints("sizes", plan.Sizes))

	strategy := cfg.Strategy
	auto := strategy == StrategyAuto
	if auto {
		strategy = StrategyExact
		if cells := ModelCells(roster, graph, plan, cfg); cfg.ExactMaxCells > 0 && cells > cfg.ExactMaxCells {
			log.Info("model too large for exact solving, using heuristic",
				zap.Int("cells", cells), zap.Int("limit", cfg.ExactMaxCells))
			strategy = StrategyHeuristic
		}
	}

	var heuristic []Solution
	if strategy == StrategyHeuristic || cfg.WarmStart || auto {
		heuristic = Heuristic(roster, graph, plan, cfg, rand.New(rand.NewSource(cfg.Seed)))
	}

	res := &Result{
		TotalStudents: roster.Len(),
		NumGroups:     plan.Groups,
		TotalPossible: graph.TotalPossible,
		Strategy:      strategy,
	}

	var assignment []int
	switch strategy {
	case StrategyHeuristic:
		assignment = heuristic[0].Assignment

	case StrategyExact:
		model := BuildModel(roster, graph, plan, cfg)
		if cfg.WarmStart && len(heuristic) > 0 {
			model.Problem.Start = model.Valuation(model.Canonical(heuristic[0].Assignment))
		}
		opts := milp.DefaultOptions
		opts.TimeLimit = cfg.TimeLimit
		opts.NodeLimit = cfg.NodeLimit
		sol := milp.Solve(ctx, model.Problem, opts)
		log.Info("solver finished",
			zap.Stringer("status", sol.Status),
			zap.Int("variables", model.NumVars()),
			zap.Int("constraints", len(model.Problem.Constraints)),
			zap.Int("nodes", sol.Nodes),
			zap.Duration("elapsed", sol.Elapsed))
		if sol.Err != nil {
			log.Warn("solver error", zap.Error(sol.Err))
		}

		switch {
		case ctx.Err() != nil:
			return nil, fmt.Errorf("%w: %w", ErrNoSolution, ctx.Err())
		case sol.Status == milp.Optimal:
			res.Optimal = true
		case sol.Status == milp.Feasible && (cfg.BestEffort || auto):
		case auto:
			log.Info("solver found nothing within budget, keeping heuristic partition",
				zap.Stringer("status", sol.Status))
			res.Strategy = StrategyHeuristic
			assignment = heuristic[0].Assignment
		default:
			return nil, fmt.Errorf("%w (status %s)", ErrNoSolution, sol.Status)
		}
		if assignment == nil {
			assignment, err = model.Assignment(sol.Values)
			if err != nil {
				return nil, err
			}
		}
	}

	res.Groups, err = Extract(roster, plan, assignment)
	if err != nil {
		return nil, err
	}
	res.TotalMatched = Matched(graph, assignment)
	res.SatisfactionScore = Satisfaction(res.TotalMatched, res.TotalPossible)
	res.Objective = Objective(roster, graph, plan, cfg, assignment)

	log.Info("partition complete",
		zap.String("strategy", string(res.Strategy)),
		zap.Bool("optimal", res.Optimal),
		zap.Float64("satisfaction", res.SatisfactionScore),
		zap.Duration("elapsed", time.Since(start)))
	return res, nil
}
