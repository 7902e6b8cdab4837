package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/obsidianstack/gpuburn/burner/internal/alerts"
	"github.com/obsidianstack/gpuburn/burner/internal/config"
	"github.com/obsidianstack/gpuburn/burner/internal/diagnosis"
	"github.com/obsidianstack/gpuburn/burner/internal/logging"
	"github.com/obsidianstack/gpuburn/burner/internal/metrics"
	"github.com/obsidianstack/gpuburn/burner/internal/report"
	"github.com/obsidianstack/gpuburn/burner/internal/status"
	"github.com/obsidianstack/gpuburn/burner/internal/supervisor"
	"github.com/obsidianstack/gpuburn/burner/internal/telemetry"
	"github.com/obsidianstack/gpuburn/pkg/types"
)

// runEnv is what a burn needs besides its configuration.
type runEnv struct {
	configPath string
	args       []string
	stdout     io.Writer
	stderr     io.Writer
	level      *slog.LevelVar

	// spawner overrides the process spawner; nil builds one from the config.
	spawner supervisor.Spawner
	now     func() time.Time
}

func setDefaultLogger(l *slog.Logger) { slog.SetDefault(l) }

// runBurn supervises one burn and writes its results. The returned error
// carries the exit code; nil means ExitOK.
func runBurn(ctx context.Context, cfg *config.Config, env runEnv) error {
	runID := uuid.NewString()
	log := slog.With("run_id", runID)

	spawner := env.spawner
	if spawner == nil {
		es, err := newSpawner(cfg, env.stderr)
		if err != nil {
			return &exitError{code: ExitWorkerInit, err: err}
		}
		spawner = es
	}

	// Background services live until the results are written.
	bgCtx, stopBackground := context.WithCancel(ctx)
	defer stopBackground()

	var verbose atomic.Bool
	verbose.Store(cfg.Run.Verbose)
	if env.configPath != "" {
		go watchConfig(bgCtx, env.configPath, env.level, &verbose)
	}

	m := metrics.New(runID)
	engine := alerts.New(cfg.Alerts)
	store := status.NewStore()

	var serverDone chan struct{}
	if cfg.Status.Listen != "" {
		if cfg.Status.Auth.Mode == "apikey" && cfg.Status.Auth.Key() == "" {
			return &exitError{
				code: ExitUsage,
				err:  fmt.Errorf("%w: status api key variable %s is empty", config.ErrInvalid, cfg.Status.Auth.KeyEnv),
			}
		}
		srv := status.NewServer(cfg.Status, store, engine, m.Handler())
		lis, err := srv.Listen()
		if err != nil {
			return &exitError{code: ExitUsage, err: err}
		}
		serverDone = make(chan struct{})
		go func() {
			defer close(serverDone)
			if err := srv.Serve(bgCtx, lis); err != nil {
				slog.Error("status server stopped", "err", err)
			}
		}()
	}

	log.Info("burn starting",
		"budget", cfg.Run.Duration,
		"device", cfg.Run.Device,
		"backend", cfg.Worker.Backend,
		"memory", cfg.Worker.Memory,
		"precision", cfg.Worker.Precision,
		"threshold", cfg.Run.Threshold.String(),
	)

	sup := supervisor.New(supervisor.Options{
		Budget:          cfg.Run.Duration,
		Device:          cfg.Run.Device,
		OpsPerIteration: cfg.Worker.EffectiveOpsPerIteration(),
		Spawner:         spawner,
		Sampler:         telemetry.New(cfg.Telemetry),
		RunID:           runID,
		Now:             env.now,
		OnProgress: func(snap types.Snapshot) {
			store.Put(snap)
			m.Observe(snap)
			engine.Evaluate(snap)
		},
	})
	res, runErr := sup.Run(ctx)

	var (
		snap        types.Snapshot
		out         diagnosis.Outcome
		interrupted = errors.Is(runErr, context.Canceled)
	)
	if res != nil {
		out = res.Diagnose(cfg.Run.Threshold)
		snap = res.Snapshot
		interrupted = interrupted || res.Interrupted
	} else {
		snap = types.Snapshot{RunID: runID, Phase: types.PhaseReported, Budget: cfg.Run.Duration}
	}

	code := runExitCode(runErr, out)
	if interrupted {
		code = ExitInterrupted
	}

	meta := report.Meta{
		Arguments:   env.args,
		Threshold:   cfg.Run.Threshold,
		ExitCode:    code,
		Interrupted: interrupted,
	}
	if !interrupted {
		meta.Err = runErr
	}
	rep := report.Build(snap, out, meta)

	writeResults(cfg, env, rep, verbose.Load())
	store.Put(snap)
	m.Observe(snap)
	if cfg.Output.Textfile != "" {
		if err := m.WriteTextfile(cfg.Output.Textfile); err != nil {
			log.Error("writing metrics textfile failed", "path", cfg.Output.Textfile, "err", err)
		}
	}
	engine.NotifyResult(rep)

	okCount, warnCount, faultyCount := out.Counts()
	log.Info("burn finished",
		"result", rep.Result,
		"exit_code", code,
		"ok", okCount,
		"warning", warnCount,
		"faulty", faultyCount,
		"lower_bound_gflops", out.LowerBound,
	)

	stopBackground()
	if serverDone != nil {
		<-serverDone
	}

	if code == ExitOK {
		return nil
	}
	return &exitError{code: code, err: runErr}
}

// writeResults prints the summary (or the JSON report) and writes the
// report file. Failures are logged; they do not change the verdict.
func writeResults(cfg *config.Config, env runEnv, rep report.Report, verbose bool) {
	var err error
	if cfg.Output.JSON {
		err = report.WriteJSON(env.stdout, rep)
	} else {
		err = report.WriteSummary(env.stdout, rep, verbose)
	}
	if err != nil {
		slog.Error("writing results failed", "err", err)
	}

	if cfg.Output.ReportPath != "" {
		if err := report.WriteFile(cfg.Output.ReportPath, rep); err != nil {
			slog.Error("writing report file failed", "path", cfg.Output.ReportPath, "err", err)
		}
	}
}

// watchConfig applies log level and verbose changes of the config file
// while the burn runs. Other changes take effect on the next run.
func watchConfig(ctx context.Context, path string, level *slog.LevelVar, verbose *atomic.Bool) {
	err := config.Watch(ctx, path, func(c *config.Config) {
		if level != nil {
			level.Set(logging.Level(c.Log.Level))
		}
		verbose.Store(c.Run.Verbose)
		slog.Info("config reloaded", "log_level", c.Log.Level, "verbose", c.Run.Verbose)
	})
	if err != nil {
		slog.Warn("config watcher stopped", "path", path, "err", err)
	}
}

