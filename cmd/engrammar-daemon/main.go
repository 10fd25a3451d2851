// Command engrammar-daemon runs the Engrammar search daemon: a long-lived
// process the hook scripts talk to over a Unix socket so a search costs
// ~20ms instead of a ~300ms cold process start. Started lazily by the hooks
// on first use; exits on its own after 15 minutes of inactivity.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rocodesign/engrammar/internal/autopin"
	"github.com/rocodesign/engrammar/internal/backup"
	"github.com/rocodesign/engrammar/internal/config"
	"github.com/rocodesign/engrammar/internal/environment"
	"github.com/rocodesign/engrammar/internal/notify"
	"github.com/rocodesign/engrammar/internal/retriever"
	"github.com/rocodesign/engrammar/internal/server"
	"github.com/rocodesign/engrammar/internal/store/sqlite"
	"github.com/rocodesign/engrammar/internal/vectorindex"
)

const embeddingDim = 256

func main() {
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("engrammar-daemon: loading config: %v", err)
	}
	paths := cfg.Paths()

	if err := os.MkdirAll(paths.Home, 0o755); err != nil {
		log.Fatalf("engrammar-daemon: creating %s: %v", paths.Home, err)
	}

	logFile, err := os.OpenFile(filepath.Join(paths.Home, "daemon.log"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		log.Fatalf("engrammar-daemon: opening log file: %v", err)
	}
	defer logFile.Close()
	logger := log.New(logFile, "", log.LstdFlags)

	st, err := sqlite.Open(paths.DBPath)
	if err != nil {
		log.Fatalf("engrammar-daemon: opening store: %v", err)
	}
	defer st.Close()

	embedder := vectorindex.NewHashEmbedder(embeddingDim)
	idx, err := vectorindex.Open(paths.IndexPath, embedder)
	if err != nil {
		log.Fatalf("engrammar-daemon: opening vector index: %v", err)
	}

	logger.Printf("warming up vector index...")
	if err := warmUp(st, idx); err != nil {
		logger.Printf("warm-up failed (continuing anyway): %v", err)
	}

	probe := environment.NewProbe()
	autoPin := &autopin.Engine{Store: st, Relevance: st}
	r := &retriever.Retriever{
		Store:     st,
		Relevance: st,
		Index:     idx,
		Embedder:  embedder,
		Probe:     probe,
		AutoPin:   autoPin,
	}
	r.SetDefaultTopK(cfg.Search.TopK)

	srv := server.New(paths.SocketPath, st, r, autoPin, probe)
	srv.Logger = logger
	srv.BinaryPath = resolveCLIBinary()
	srv.SetDisplayCaps(cfg.Display.MaxEngramsPerPrompt, cfg.Display.MaxEngramsPerTool)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	if cfg.Backup.Enabled {
		startBackupService(ctx, logger, paths.DBPath, paths.BackupDir, cfg.Backup.IntervalMinutes)
	}

	startConfigWatcher(ctx, logger, paths.ConfigPath, r, srv)

	if err := srv.Run(ctx); err != nil {
		logger.Printf("daemon exited with error: %v", err)
		os.Exit(1)
	}
}

// resolveCLIBinary finds the engrammar CLI binary that spawnMaintenance
// re-execs for background extract/evaluate passes: "extract"/"evaluate" are
// engrammar subcommands, not daemon ones, so they live in a sibling binary
// rather than this process's own executable. Falls back to a PATH lookup
// for installs that don't place both binaries in the same directory.
func resolveCLIBinary() string {
	self, err := os.Executable()
	if err == nil {
		sibling := filepath.Join(filepath.Dir(self), "engrammar")
		if info, statErr := os.Stat(sibling); statErr == nil && !info.IsDir() {
			return sibling
		}
	}
	if path, lookErr := exec.LookPath("engrammar"); lookErr == nil {
		return path
	}
	return ""
}

// startBackupService launches the periodic engram-store snapshot loop
// alongside the search daemon, stopping when ctx is cancelled. A failure to
// construct the service only disables backups for this run; it never
// prevents the daemon itself from serving searches.
func startBackupService(ctx context.Context, logger *log.Logger, dbPath, backupDir string, intervalMinutes int) {
	svc, err := backup.NewBackupService(backup.BackupConfig{
		DBPath:        dbPath,
		BackupDir:     backupDir,
		Interval:      time.Duration(intervalMinutes) * time.Minute,
		VerifyBackups: true,
	})
	if err != nil {
		logger.Printf("backup: disabled, could not start: %v", err)
		return
	}
	go func() {
		if err := svc.Start(ctx); err != nil && ctx.Err() == nil {
			logger.Printf("backup: service exited: %v", err)
		}
	}()
}

// startConfigWatcher re-reads config.json on every change and applies the
// parts of it the running daemon can pick up live (search.top_k plus the
// per-hook-type display.max_engrams_per_prompt/max_engrams_per_tool
// overrides), so a config edit takes effect without a restart. A malformed
// rewrite (editor mid-save) is logged and ignored; the daemon keeps serving
// with whatever config it last loaded successfully.
func startConfigWatcher(ctx context.Context, logger *log.Logger, configPath string, r *retriever.Retriever, srv *server.Server) {
	w := notify.NewConfigWatcher(configPath, func() {
		cfg, err := config.LoadConfig()
		if err != nil {
			logger.Printf("config: reload failed, keeping previous settings: %v", err)
			return
		}
		r.SetDefaultTopK(cfg.Search.TopK)
		srv.SetDisplayCaps(cfg.Display.MaxEngramsPerPrompt, cfg.Display.MaxEngramsPerTool)
		logger.Printf("config: reloaded, search.top_k=%d max_engrams_per_prompt=%d max_engrams_per_tool=%d",
			cfg.Search.TopK, cfg.Display.MaxEngramsPerPrompt, cfg.Display.MaxEngramsPerTool)
	})
	if err := w.Start(); err != nil {
		logger.Printf("config: watcher disabled, could not start: %v", err)
		return
	}
	go func() {
		<-ctx.Done()
		w.Stop()
	}()
}

// warmUp rebuilds the index from the current active engram set if it's
// empty, mirroring daemon.py's _warm_up pre-loading the embedding model so
// the first real search isn't the one paying startup cost.
func warmUp(st *sqlite.Store, idx *vectorindex.Index) error {
	if idx.Len() > 0 {
		return nil
	}
	active, err := st.ListActive(context.Background())
	if err != nil {
		return err
	}
	items := make([]vectorindex.EmbeddingInput, len(active))
	for i, e := range active {
		items[i] = vectorindex.EmbeddingInput{ID: e.ID, Text: e.Text}
	}
	return idx.Build(items)
}
