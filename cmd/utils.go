package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/encodeous/dirgen/certgen"
	"github.com/encodeous/dirgen/core"
	"github.com/encodeous/dirgen/fetch"
	"github.com/encodeous/dirgen/history"
	"github.com/encodeous/dirgen/layout"
	"github.com/encodeous/dirgen/perf"
	"github.com/encodeous/dirgen/state"
	"github.com/google/uuid"
)

// setup loads the config and builds the logger of one invocation.
func setup() (*state.Cfg, *slog.Logger) {
	cfg, err := state.LoadConfig(configPath)
	if err != nil {
		slog.Error("failed to load config", "path", configPath, "error", err)
		os.Exit(1)
	}
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	log, err := core.NewLogger(cfg.Authority.Name, level, cfg.LogPath)
	if err != nil {
		slog.Error("failed to set up logging", "error", err)
		os.Exit(1)
	}
	return cfg, log.With("run", uuid.NewString())
}

var (
	exit     = os.Exit
	cleanups []func()
)

// onExit registers f to run when check exits early. f must tolerate also
// being called by the command's own defer.
func onExit(f func()) {
	cleanups = append(cleanups, f)
}

// check logs err as the single error line of the invocation, releases what
// onExit registered, and exits.
func check(log *slog.Logger, err error) {
	if err == nil {
		return
	}
	log.Error(err.Error())
	for i := len(cleanups) - 1; i >= 0; i-- {
		cleanups[i]()
	}
	cleanups = nil
	exit(1)
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// newUpdater wires the live directory client, tor-gencert and the optional
// history store. The returned func releases them.
func newUpdater(cfg *state.Cfg, log *slog.Logger) (*layout.Updater, func(), error) {
	client := fetch.NewClient(cfg.Mirrors(), cfg.Directory.Timeout, cfg.Directory.CacheTTL, log)
	runner := &certgen.Runner{
		Binary:    cfg.CertGen.Binary,
		Timeout:   cfg.CertGen.Timeout,
		KillGrace: cfg.CertGen.KillGrace,
		Log:       log,
	}
	u := layout.NewUpdater(cfg, client, runner, log)
	var store *history.Store
	if cfg.History.Path != "" {
		var err error
		store, err = history.Open(cfg.History.Path)
		if err != nil {
			return nil, nil, err
		}
		u.History = store
	}
	done := sync.OnceFunc(func() {
		perf.LogSummary(log)
		if store == nil {
			return
		}
		if err := store.Close(); err != nil {
			log.Warn("failed to close history", "error", err)
		}
	})
	onExit(done)
	return u, done, nil
}

// documentDir is the dated directory under the root for args[0] (YYYYMMDD or
// a path), defaulting to today.
func documentDir(cfg *state.Cfg, args []string) string {
	if len(args) == 0 || args[0] == "" {
		return filepath.Join(cfg.Directory.Root, time.Now().UTC().Format(state.DateLayout))
	}
	if _, err := time.Parse(state.DateLayout, args[0]); err == nil {
		return filepath.Join(cfg.Directory.Root, args[0])
	}
	return args[0]
}
