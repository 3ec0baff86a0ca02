package main

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"sort"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"groups/solver"
)

type runResult struct {
	score      float64
	matched    float64
	optimal    bool
	assignment []int
	elapsed    time.Duration
}

func printStats(label string, results []runResult, runs int) {
	scores := map[float64]int{}
	solutionSets := map[string]int{}
	var totalTime time.Duration
	optimal := 0

	for _, r := range results {
		totalTime += r.elapsed
		scores[r.score]++
		solutionSets[solver.Key(r.assignment)]++
		if r.optimal {
			optimal++
		}
	}

	fmt.Printf("--- %s ---\n", label)
	if len(results) == 0 {
		fmt.Printf("  no successful runs out of %d\n\n", runs)
		return
	}
	fmt.Printf("  avg time: %v\n", totalTime/time.Duration(len(results)))
	fmt.Printf("  successful runs: %d/%d, proven optimal: %d\n", len(results), runs, optimal)

	var scoreList []struct {
		score float64
		count int
	}
	for s, c := range scores {
		scoreList = append(scoreList, struct {
			score float64
			count int
		}{s, c})
	}
	sort.Slice(scoreList, func(i, j int) bool { return scoreList[i].score > scoreList[j].score })

	fmt.Printf("  satisfaction distribution:\n")
	for _, sc := range scoreList {
		fmt.Printf("    %.1f%%: %d/%d runs (%.0f%%)\n", sc.score, sc.count, runs, float64(sc.count)/float64(runs)*100)
	}

	fmt.Printf("  unique solutions seen: %d\n", len(solutionSets))

	var solFreqs []int
	for _, c := range solutionSets {
		solFreqs = append(solFreqs, c)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(solFreqs)))

	stableCount := 0
	for _, c := range solFreqs {
		if c == runs {
			stableCount++
		}
	}
	fmt.Printf("  solutions found in all runs: %d\n", stableCount)
	topN := min(5, len(solFreqs))
	fmt.Printf("  top %d solution frequencies: ", topN)
	for i := range topN {
		if i > 0 {
			fmt.Print(", ")
		}
		fmt.Printf("%d/%d", solFreqs[i], runs)
	}
	fmt.Println()
	fmt.Println()
}

// runConfig partitions the dataset runs times, varying the seed per run, with
// up to parallel runs in flight.
func runConfig(ctx context.Context, d *dataset, cfg solver.Config, runs, parallel int) ([]runResult, error) {
	students, prefs := d.records()
	results := make([]*runResult, runs)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(parallel)
	for run := range runs {
		g.Go(func() error {
			c := cfg
			c.Seed = int64(run * 31337)
			start := time.Now()
			res, err := solver.Partition(ctx, students, prefs, c)
			elapsed := time.Since(start)
			if err != nil {
				// A run that misses its budget is reported, not fatal.
				fmt.Fprintf(os.Stderr, "run %d: %v\n", run, err)
				return nil
			}
			results[run] = &runResult{
				score:      res.SatisfactionScore,
				matched:    res.TotalMatched,
				optimal:    res.Optimal,
				assignment: d.assignment(res),
				elapsed:    elapsed,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []runResult
	for _, r := range results {
		if r != nil {
			out = append(out, *r)
		}
	}
	return out, nil
}

func main() {
	file := pflag.StringP("file", "f", "data.json", "dataset file (JSON or YAML) with students, preferences and n")
	runs := pflag.Int("runs", 20, "number of solver runs per parameter set")
	strategy := pflag.String("strategy", "both", "strategy: exact, heuristic or both")
	size := pflag.Int("n", 0, "group size; overrides the dataset's n")
	policy := pflag.String("size-policy", string(solver.SizeRemainder), "size policy: remainder, even or discover")
	numRandom := pflag.String("random", "10", "comma-separated random placement counts (heuristic)")
	numPerturb := pflag.String("perturb", "150", "comma-separated perturbation counts (heuristic)")
	perturbMin := pflag.Int("pmin", 2, "perturbation min swaps (heuristic)")
	perturbMax := pflag.Int("pmax", 5, "perturbation max swaps (heuristic)")
	levelBalance := pflag.Float64("level-balance", 0, "level balance weight (exact)")
	timeLimit := pflag.Duration("time-limit", 10*time.Second, "solver time limit per run (exact)")
	bestEffort := pflag.Bool("best-effort", false, "accept unproven exact solutions at the time limit")
	parallel := pflag.Int("parallel", runtime.GOMAXPROCS(0), "runs in flight at once")
	pflag.Parse()

	d, err := loadDataset(*file)
	if err != nil {
		fmt.Fprintf(os.Stderr, "reading dataset: %v\n", err)
		os.Exit(1)
	}
	n := d.N
	if *size > 0 {
		n = *size
	}
	if n == 0 {
		n = 4
	}

	fmt.Printf("Students: %d, Preferences: %d, Group size: %d (%s)\n", len(d.Students), len(d.Preferences), n, *policy)
	fmt.Printf("Runs per config: %d, parallel: %d\n\n", *runs, *parallel)

	base := solver.DefaultConfig(n)
	base.SizePolicy = solver.SizePolicy(*policy)
	base.TimeLimit = *timeLimit
	ctx := context.Background()

	if *strategy == "exact" || *strategy == "both" {
		cfg := base
		cfg.Strategy = solver.StrategyExact
		cfg.LevelBalance = *levelBalance
		cfg.BestEffort = *bestEffort
		results, err := runConfig(ctx, d, cfg, *runs, *parallel)
		if err != nil {
			fmt.Fprintf(os.Stderr, "exact: %v\n", err)
			os.Exit(1)
		}
		label := fmt.Sprintf("exact time-limit=%v level-balance=%.2f", *timeLimit, *levelBalance)
		printStats(label, results, *runs)
	}

	if *strategy == "heuristic" || *strategy == "both" {
		for _, nr := range parseIntList(*numRandom) {
			for _, np := range parseIntList(*numPerturb) {
				cfg := base
				cfg.Strategy = solver.StrategyHeuristic
				cfg.Params = solver.Params{
					NumRandom:  nr,
					NumPerturb: np,
					PerturbMin: *perturbMin,
					PerturbMax: *perturbMax,
				}
				results, err := runConfig(ctx, d, cfg, *runs, *parallel)
				if err != nil {
					fmt.Fprintf(os.Stderr, "heuristic: %v\n", err)
					os.Exit(1)
				}
				label := fmt.Sprintf("heuristic random=%d perturb=%d pmin=%d pmax=%d", nr, np, *perturbMin, *perturbMax)
				printStats(label, results, *runs)
			}
		}
	}
}
