package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"

	"marketprobe/internal/config"
	"marketprobe/internal/fakeworld"
	"marketprobe/internal/persistence/rundb"
	"marketprobe/internal/persistence/transcript"
	"marketprobe/internal/workflow"
)

func main() {
	logger := log.New(os.Stdout, "[e2e] ", log.LstdFlags|log.Lmicroseconds)
	env, err := config.LoadEnv()
	if err != nil {
		logger.Fatalf("%v", err)
	}
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "run":
			os.Exit(runCmd(logger, env, os.Args[2:]))
		case "runs":
			runsCmd(env, os.Args[2:])
			return
		case "fake":
			fakeCmd(logger, os.Args[2:])
			return
		}
	}
	os.Exit(runCmd(logger, env, os.Args[1:]))
}

type runOptions struct {
	URL            string
	ScenarioPath   string
	DataDir        string
	ConnectTimeout time.Duration
	OpTimeout      time.Duration
	NavTimeout     time.Duration
	Record         bool
}

func runCmd(logger *log.Logger, env config.Env, args []string) int {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	opts := runOptions{}
	fs.StringVar(&opts.URL, "url", env.WSURL, "game server websocket url")
	fs.StringVar(&opts.ScenarioPath, "scenario", env.Scenario, "scenario yaml (optional)")
	fs.StringVar(&opts.DataDir, "data", env.DataDir, "directory for transcripts and the run index")
	fs.DurationVar(&opts.ConnectTimeout, "connect_timeout", env.ConnectTimeout, "per-attempt websocket dial timeout")
	fs.DurationVar(&opts.OpTimeout, "op_timeout", env.OpTimeout, "per-operation response timeout")
	fs.DurationVar(&opts.NavTimeout, "nav_timeout", env.NavTimeout, "per-target navigation budget")
	fs.BoolVar(&opts.Record, "record", true, "write a frame transcript and index the run")
	_ = fs.Parse(args)

	ctx, cancel := signalContext()
	defer cancel()
	if err := runE2E(ctx, logger, opts); err != nil {
		logger.Printf("FAILED: %v", err)
		return 1
	}
	logger.Printf("PASSED")
	return 0
}

// runE2E runs the workflow once. Recording and indexing happen after the
// sessions are closed, whatever the outcome.
func runE2E(ctx context.Context, logger *log.Logger, opts runOptions) (err error) {
	sc, err := config.Load(opts.ScenarioPath)
	if err != nil {
		return fmt.Errorf("scenario: %w", err)
	}
	runID := uuid.NewString()
	logger.Printf("run %s against %s", runID, opts.URL)

	cfg := workflow.Config{
		URL:            opts.URL,
		Scenario:       sc,
		ConnectTimeout: opts.ConnectTimeout,
		OpTimeout:      opts.OpTimeout,
		NavTimeout:     opts.NavTimeout,
		Logger:         logger,
	}

	var tw *transcript.Writer
	if opts.Record {
		tw, err = transcript.Open(filepath.Join(opts.DataDir, "transcripts"), runID)
		if err != nil {
			return fmt.Errorf("transcript: %w", err)
		}
		cfg.Recorder = tw.Recorder()
	}

	started := time.Now()
	rep, runErr := workflow.New(cfg).Run(ctx)
	finished := time.Now()

	if tw == nil {
		return runErr
	}
	if cerr := tw.Close(); cerr != nil {
		logger.Printf("transcript: %v", cerr)
	}
	logger.Printf("transcript: %s (%d frames)", tw.Path(), tw.Len())

	db, err := rundb.Open(filepath.Join(opts.DataDir, "runs.sqlite"))
	if err != nil {
		logger.Printf("run index: %v", err)
		return runErr
	}
	defer db.Close()
	run := rundb.Run{
		ID:         runID,
		URL:        opts.URL,
		Scenario:   opts.ScenarioPath,
		Transcript: tw.Path(),
		StartedAt:  started,
		FinishedAt: finished,
		OK:         runErr == nil,
	}
	if runErr != nil {
		run.Error = runErr.Error()
	}
	for _, c := range rep.Checks {
		run.Checks = append(run.Checks, rundb.Check{Name: c.Name, Expected: c.Expected, Actual: c.Actual, OK: c.OK})
	}
	if err := db.RecordRun(context.Background(), run); err != nil {
		logger.Printf("run index: %v", err)
	}
	return runErr
}

func runsCmd(env config.Env, args []string) {
	fs := flag.NewFlagSet("runs", flag.ExitOnError)
	dataDir := fs.String("data", env.DataDir, "directory holding runs.sqlite")
	limit := fs.Int("limit", 20, "number of runs to list")
	runID := fs.String("run", "", "show the checks of one run")
	_ = fs.Parse(args)

	db, err := rundb.Open(filepath.Join(*dataDir, "runs.sqlite"))
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	defer db.Close()
	ctx := context.Background()

	if *runID != "" {
		checks, err := db.Checks(ctx, *runID)
		if err != nil {
			fmt.Fprintln(os.Stderr, "checks:", err)
			os.Exit(1)
		}
		for _, c := range checks {
			mark := "ok  "
			if !c.OK {
				mark = "FAIL"
			}
			fmt.Printf("%s %-28s expected=%s actual=%s\n", mark, c.Name, c.Expected, c.Actual)
		}
		return
	}

	runs, err := db.ListRuns(ctx, *limit)
	if err != nil {
		fmt.Fprintln(os.Stderr, "list:", err)
		os.Exit(1)
	}
	for _, r := range runs {
		status := "PASS"
		if !r.OK {
			status = "FAIL"
		}
		fmt.Printf("%s %s %s %6s %s %s\n", r.ID, r.StartedAt.Local().Format(time.DateTime), status,
			r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond), r.URL, r.Error)
	}
}

func fakeCmd(logger *log.Logger, args []string) {
	fs := flag.NewFlagSet("fake", flag.ExitOnError)
	addr := fs.String("addr", "127.0.0.1:8080", "http listen address")
	feeBps := fs.Int("fee_bps", 500, "market fee in basis points")
	startCurrency := fs.Int("start_currency", 0, "currency each new player starts with")
	corruptEcho := fs.Bool("corrupt_buy_echo", false, "echo a wrong listing id on buy (fault injection)")
	_ = fs.Parse(args)

	cfg := fakeworld.DefaultConfig()
	cfg.FeeBasisPoints = *feeBps
	cfg.StartCurrency = *startCurrency
	cfg.CorruptBuyEcho = *corruptEcho
	w := fakeworld.New(cfg, logger)
	defer w.Close()

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", w.Handler())
	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, cancel := signalContext()
	defer cancel()
	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Printf("fake world listening on ws://%s/ws", *addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("ListenAndServe: %v", err)
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}
