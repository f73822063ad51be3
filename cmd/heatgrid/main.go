// Command heatgrid solves the 2D Laplace equation by Jacobi relaxation
// over a row-partitioned grid. By default every rank runs in this
// process; with -peers each process runs one rank over gRPC.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/heatgrid/internal/comm"
	"github.com/banshee-data/heatgrid/internal/comm/grpcnet"
	"github.com/banshee-data/heatgrid/internal/config"
	"github.com/banshee-data/heatgrid/internal/db"
	"github.com/banshee-data/heatgrid/internal/render"
	"github.com/banshee-data/heatgrid/internal/report"
	"github.com/banshee-data/heatgrid/internal/solver"
	"github.com/banshee-data/heatgrid/internal/version"
)

var (
	configPath  = flag.String("config", "", "Path to a solver JSON config (defaults are used when empty)")
	profile     = flag.String("profile", "", "Deployment profile: hybrid_small or hybrid_big")
	ranks       = flag.Int("ranks", 0, "Number of in-process ranks (0 uses the config or profile)")
	rows        = flag.Int("rows", 0, "Global interior rows (0 uses the config or profile)")
	cols        = flag.Int("cols", 0, "Interior columns (0 uses the config or profile)")
	threshold   = flag.Float64("threshold", 0, "Convergence threshold on the global max delta")
	maxIter     = flag.Int("max-iter", -1, "Iteration cap (-1 uses the config)")
	printFreq   = flag.Int("print-freq", 0, "Progress interval in iterations")
	workers     = flag.Int("workers", 0, "Goroutines per rank (0 uses the config or NumCPU)")
	rank        = flag.Int("rank", 0, "This process's rank when -peers is set")
	peers       = flag.String("peers", "", "Comma-separated host:port of every rank, in rank order")
	dbPath      = flag.String("db", "", "Record the run in this SQLite database")
	plotsDir    = flag.String("plots", "", "Write convergence and temperature PNGs to this directory")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

// options are the resolved command-line inputs of one invocation.
type options struct {
	Config   *config.SolverConfig
	Peers    []string
	Rank     int
	DBPath   string
	PlotsDir string
	Out      io.Writer
}

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	cfg, err := loadConfig(*configPath, flagOverrides())
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	opts := options{
		Config:   cfg,
		Rank:     *rank,
		DBPath:   *dbPath,
		PlotsDir: *plotsDir,
		Out:      os.Stdout,
	}
	if *peers != "" {
		opts.Peers = strings.Split(*peers, ",")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts); err != nil {
		if config.IsFatal(err) || errors.Is(err, comm.ErrAborted) {
			log.Printf("run aborted: %v", err)
			os.Exit(1)
		}
		log.Fatalf("run failed: %v", err)
	}
}

// flagOverrides collects only the flags the user actually set.
func flagOverrides() *config.SolverConfig {
	o := config.EmptySolverConfig()
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "profile":
			o.Profile = config.PtrString(*profile)
		case "ranks":
			o.ProcessCount = config.PtrInt(*ranks)
		case "rows":
			o.GlobalRows = config.PtrInt(*rows)
		case "cols":
			o.Columns = config.PtrInt(*cols)
		case "threshold":
			o.Threshold = config.PtrFloat64(*threshold)
		case "max-iter":
			o.MaxIterations = config.PtrInt(*maxIter)
		case "print-freq":
			o.PrintFrequency = config.PtrInt(*printFreq)
		case "workers":
			o.Workers = config.PtrInt(*workers)
		}
	})
	return o
}

// loadConfig reads path (if set), applies overrides and validates the
// result.
func loadConfig(path string, overrides *config.SolverConfig) (*config.SolverConfig, error) {
	cfg := config.EmptySolverConfig()
	if path != "" {
		loaded, err := config.LoadSolverConfig(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	cfg.Merge(overrides)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// outcome is what rank 0 hands back for persistence and plotting.
type outcome struct {
	Result  solver.Result
	Samples []solver.Sample
	Global  *mat.Dense
	Verify  *solver.VerificationCell
}

// run executes one solve, in-process or as one rank of a gRPC world, and
// records the result on rank 0.
func run(ctx context.Context, opts options) error {
	out := opts.Out
	if out == nil {
		out = io.Discard
	}
	reporter := report.NewText(out)
	wantGlobal := opts.DBPath != "" || opts.PlotsDir != ""
	history := solver.NewHistory(opts.Config.GetHistoryEvery())

	var (
		mu  sync.Mutex
		res outcome
	)
	rankFn := func(ctx context.Context, c comm.Communicator) error {
		if err := opts.Config.ValidateWorld(c.Size()); err != nil {
			c.Abort(err)
			return err
		}
		ctrl := &solver.Controller{
			Comm:        c,
			Settings:    solver.SettingsFromConfig(opts.Config),
			Initialiser: solver.InitialiserFromConfig(opts.Config),
			Reporter:    reporter,
		}
		if c.Rank() == 0 {
			ctrl.Observer = history
		}
		r, err := ctrl.Run(ctx)
		if err != nil {
			return err
		}
		cell, err := solver.GatherVerification(ctx, c, r.Grid)
		if err != nil {
			c.Abort(err)
			return err
		}
		gather, err := anyRank(ctx, c, wantGlobal)
		if err != nil {
			c.Abort(err)
			return err
		}
		var global *mat.Dense
		if gather {
			if global, err = solver.Gather(ctx, c, r.Grid); err != nil {
				c.Abort(err)
				return err
			}
		}
		if c.Rank() == 0 {
			mu.Lock()
			res.Result, res.Global, res.Verify = r, global, cell
			mu.Unlock()
		}
		return nil
	}

	var (
		err    error
		isRoot bool
	)
	if len(opts.Peers) > 0 {
		isRoot = opts.Rank == 0
		err = runNode(ctx, opts, rankFn)
	} else {
		isRoot = true
		err = runWorld(ctx, opts, rankFn)
	}
	if err != nil {
		return err
	}
	if !isRoot {
		return nil
	}

	res.Samples = history.Samples()
	return record(opts, res)
}

// anyRank reports whether want is set on at least one rank. Processes of
// a multi-process run may be started with different output flags.
func anyRank(ctx context.Context, c comm.Communicator, want bool) (bool, error) {
	v := 0.0
	if want {
		v = 1
	}
	got, err := comm.IallreduceMax(ctx, c, v).Wait(ctx)
	return got > 0, err
}

func runWorld(ctx context.Context, opts options, fn func(context.Context, comm.Communicator) error) error {
	world, err := comm.NewWorld(opts.Config.GetProcessCount())
	if err != nil {
		return err
	}
	return world.Run(ctx, fn)
}

func runNode(ctx context.Context, opts options, fn func(context.Context, comm.Communicator) error) error {
	node, err := grpcnet.Start(grpcnet.Config{Rank: opts.Rank, Peers: opts.Peers})
	if err != nil {
		return err
	}
	defer node.Close()
	return node.Run(ctx, fn)
}

// record persists and plots a finished run. Both are optional.
func record(opts options, res outcome) error {
	if opts.PlotsDir != "" && res.Global != nil {
		files, err := render.WriteAll(opts.PlotsDir, res.Samples, res.Global)
		if err != nil {
			return err
		}
		log.Printf("wrote %s and %s", files.Convergence, files.HeatMap)
	}
	if opts.DBPath == "" {
		return nil
	}

	database, err := db.NewDB(opts.DBPath)
	if err != nil {
		return fmt.Errorf("failed to open run database: %w", err)
	}
	defer database.Close()

	cfg := opts.Config
	configJSON, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	rec := &db.Run{
		Profile:       cfg.GetProfile(),
		Ranks:         cfg.GetProcessCount(),
		GlobalRows:    cfg.GetGlobalRows(),
		Columns:       cfg.GetColumns(),
		Workers:       cfg.GetWorkers(),
		Threshold:     cfg.GetThreshold(),
		MaxIterations: cfg.GetMaxIterations(),
		Boundary:      cfg.GetBoundary(),
		State:         res.Result.State.String(),
		Iterations:    res.Result.Iterations,
		GlobalDelta:   res.Result.GlobalDelta,
		Elapsed:       res.Result.Elapsed,
		ConfigJSON:    configJSON,
	}
	if len(opts.Peers) > 0 {
		rec.Ranks = len(opts.Peers)
	}
	if v := res.Verify; v != nil {
		rec.Verification = &db.Verification{Row: v.Row, Column: v.Column, Value: v.Value}
	}

	points := make([]db.HistoryPoint, len(res.Samples))
	for i, s := range res.Samples {
		points[i] = db.HistoryPoint{Iteration: s.Iteration, GlobalDelta: s.GlobalDelta}
	}
	store := db.NewRunStore(database.DB)
	if err := store.Insert(rec, points); err != nil {
		return fmt.Errorf("failed to record run: %w", err)
	}
	if res.Global != nil {
		if err := store.SaveSnapshot(rec.RunID, db.NewSnapshot(res.Global, db.DefaultSnapshotSide)); err != nil {
			return fmt.Errorf("failed to record snapshot: %w", err)
		}
	}
	log.Printf("recorded run %s in %s", rec.RunID, opts.DBPath)
	return nil
}
