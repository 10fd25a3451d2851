package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/rocodesign/engrammar/internal/autopin"
	"github.com/rocodesign/engrammar/internal/backup"
	"github.com/rocodesign/engrammar/internal/config"
	"github.com/rocodesign/engrammar/internal/dedup"
	"github.com/rocodesign/engrammar/internal/environment"
	"github.com/rocodesign/engrammar/internal/evaluator"
	"github.com/rocodesign/engrammar/internal/extractor"
	"github.com/rocodesign/engrammar/internal/llmclient"
	"github.com/rocodesign/engrammar/internal/store"
	"github.com/rocodesign/engrammar/internal/store/sqlite"
	"github.com/rocodesign/engrammar/internal/vectorindex"
	"github.com/rocodesign/engrammar/pkg/engram"
)

const embeddingDim = 256

// runExtract processes one session's transcript into new or merged engrams.
// --internal-run is accepted (and ignored beyond documenting the caller's
// intent) since this is also the exact subcommand the daemon's maintain
// handler re-execs in the background.
func runExtract(cfg *config.Config, args []string) {
	fs := flag.NewFlagSet("extract", flag.ExitOnError)
	_ = fs.Bool("internal-run", false, "set when invoked by the daemon's background maintenance spawn")
	session := fs.String("session", "", "session id to extract from")
	transcriptPath := fs.String("transcript", "", "path to the session transcript")
	_ = fs.Parse(args)

	if *session == "" || *transcriptPath == "" {
		log.Fatal("engrammar extract: --session and --transcript are required")
	}

	ctx := context.Background()
	st, idx, _ := openStoreAndIndex(cfg)
	defer st.Close()

	x := &extractor.Extractor{
		Store:    st,
		Audits:   st,
		Sessions: st,
		Index:    idx,
		Client:   llmclient.NewClient(defaultLLMModel),
	}

	lessons, err := x.Extract(ctx, *session, extractor.TranscriptSource{
		Kind:           extractor.KindTranscript,
		TranscriptPath: *transcriptPath,
	})
	if err != nil {
		log.Fatalf("engrammar extract: %v", err)
	}

	added, merged := 0, 0
	for _, l := range lessons {
		if l.Merged {
			merged++
		} else {
			added++
		}
	}
	fmt.Printf("extracted: added=%d merged=%d\n", added, merged)
}

// runSessionEnd folds one session's accrued shown-engram log into a
// write-once audit row and clears the accrual log, mirroring
// on_session_end.py: if nothing was shown this session there is nothing to
// evaluate later, so it exits early without writing an audit row at all.
func runSessionEnd(cfg *config.Config, args []string) {
	fs := flag.NewFlagSet("session-end", flag.ExitOnError)
	session := fs.String("session", "", "session id to close out")
	transcriptPath := fs.String("transcript", "", "path to the session transcript, stored on the audit row")
	_ = fs.Parse(args)
	if *session == "" {
		log.Fatal("engrammar session-end: --session is required")
	}

	ctx := context.Background()
	st, _, _ := openStoreAndIndex(cfg)
	defer st.Close()

	shown, err := st.ShownEngramIDs(ctx, *session)
	if err != nil {
		log.Fatalf("engrammar session-end: %v", err)
	}
	if len(shown) == 0 {
		fmt.Println("no engrams shown this session, nothing to audit")
		return
	}

	probe := environment.NewProbe()
	env := probe.Detect(ctx)

	if err := st.WriteSessionAudit(ctx, store.SessionAudit{
		SessionID:      *session,
		Repo:           env.Repo,
		EnvTags:        env.Tags,
		ShownEngramIDs: shown,
		TranscriptPath: *transcriptPath,
	}); err != nil {
		log.Fatalf("engrammar session-end: %v", err)
	}
	if err := st.ClearShown(ctx, *session); err != nil {
		log.Fatalf("engrammar session-end: %v", err)
	}
	fmt.Printf("session %s closed out: %d engrams audited\n", *session, len(shown))
}

// runEvaluate processes a batch of pending relevance-evaluation sessions.
func runEvaluate(cfg *config.Config, args []string) {
	fs := flag.NewFlagSet("evaluate", flag.ExitOnError)
	_ = fs.Bool("internal-run", false, "set when invoked by the daemon's background maintenance spawn")
	_ = fs.String("session", "", "unused, accepted for spawn-argument symmetry with extract")
	limit := fs.Int("limit", 5, "maximum sessions to evaluate this pass")
	projectsDir := fs.String("projects-dir", defaultProjectsDir(), "directory to search for transcripts by session id")
	_ = fs.Parse(args)

	ctx := context.Background()
	st, _, _ := openStoreAndIndex(cfg)
	defer st.Close()

	ev := &evaluator.Evaluator{
		Store:       st,
		Engrams:     st,
		Client:      llmclient.NewClient(defaultLLMModel),
		AutoPin:     &autopin.Engine{Store: st, Relevance: st},
		ProjectsDir: *projectsDir,
	}

	summary, err := ev.RunPending(ctx, *limit)
	if err != nil {
		log.Fatalf("engrammar evaluate: %v", err)
	}
	if summary.Completed > 0 {
		snapshotAfterMaintenance(cfg, func(svc *backup.BackupService) (*backup.BackupResult, error) {
			return svc.NotifyPostEvaluate(ctx)
		})
	}
	fmt.Printf("evaluated: completed=%d failed=%d skipped=%d total=%d\n",
		summary.Completed, summary.Failed, summary.Skipped, summary.Total)
}

// snapshotAfterMaintenance takes a best-effort backup snapshot around a
// maintenance boundary (a dedup sweep, an evaluate pass): a missing backup
// directory or a snapshot failure is logged, not fatal, since the
// maintenance pass itself already succeeded.
func snapshotAfterMaintenance(cfg *config.Config, take func(*backup.BackupService) (*backup.BackupResult, error)) {
	paths := cfg.Paths()
	svc, err := backup.NewBackupService(backup.BackupConfig{DBPath: paths.DBPath, BackupDir: paths.BackupDir, VerifyBackups: true})
	if err != nil {
		log.Printf("engrammar: skipping maintenance snapshot: %v", err)
		return
	}
	if _, err := take(svc); err != nil {
		log.Printf("engrammar: maintenance snapshot failed: %v", err)
	}
}

// runDedup runs a full multi-pass dedup sweep, or (with --id) re-checks one
// engram against the verified pool.
func runDedup(cfg *config.Config, args []string) {
	fs := flag.NewFlagSet("dedup", flag.ExitOnError)
	id := fs.Int64("id", 0, "re-check a single engram id instead of a full sweep")
	_ = fs.Parse(args)

	ctx := context.Background()
	st, idx, embedder := openStoreAndIndex(cfg)
	defer st.Close()

	eng := &dedup.Engine{
		Store:    st,
		Engrams:  st,
		Index:    idx,
		Embedder: embedder,
		Client:   llmclient.NewClient(defaultLLMModel),
	}

	if *id != 0 {
		result, err := eng.RunForEngram(ctx, *id)
		if err != nil {
			log.Fatalf("engrammar dedup: %v", err)
		}
		fmt.Printf("dedup #%d: merged=%d verified=%d errors=%d\n", *id, result.Merged, result.Verified, result.Errors)
		return
	}

	summary, err := eng.RunDedup(ctx)
	if err != nil {
		log.Fatalf("engrammar dedup: %v", err)
	}
	fmt.Printf("dedup: passes=%d merged=%d verified=%d errors=%d\n",
		summary.Passes, summary.Merged, summary.Verified, summary.Errors)
}

func openStoreAndIndex(cfg *config.Config) (*sqlite.Store, *vectorindex.Index, vectorindex.Embedder) {
	paths := cfg.Paths()
	st, err := sqlite.Open(paths.DBPath)
	if err != nil {
		log.Fatalf("engrammar: opening store: %v", err)
	}
	embedder := vectorindex.NewHashEmbedder(embeddingDim)
	idx, err := vectorindex.Open(paths.IndexPath, embedder)
	if err != nil {
		log.Fatalf("engrammar: opening vector index: %v", err)
	}
	return st, idx, embedder
}

func defaultProjectsDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return home + "/.claude/projects"
}

// runAdd inserts a manually-authored engram and rebuilds the vector index so
// it's immediately searchable. Unlike the relevance-matching path (where a
// malformed prerequisite string is treated as "matches everything", see
// engram.ParsePrerequisites), a malformed --prerequisites value here is a
// user typo and gets rejected outright rather than silently widened.
func runAdd(cfg *config.Config, args []string) {
	fs := flag.NewFlagSet("add", flag.ExitOnError)
	category := fs.String("category", "general", "category path, e.g. go/concurrency")
	prereqs := fs.String("prerequisites", "", `JSON prerequisite object, e.g. {"repos":["app-repo"]}`)
	_ = fs.Parse(args)
	if fs.NArg() == 0 {
		log.Fatal("engrammar add: a lesson text argument is required")
	}

	var prerequisites engram.Prerequisites
	if *prereqs != "" {
		if err := json.Unmarshal([]byte(*prereqs), &prerequisites); err != nil {
			log.Fatalf("engrammar add: --prerequisites is not a valid prerequisite object: %v", err)
		}
	}

	ctx := context.Background()
	st, idx, _ := openStoreAndIndex(cfg)
	defer st.Close()

	e := &engram.Engram{Text: fs.Arg(0), Category: *category, Source: engram.SourceManual, Prerequisites: prerequisites}
	id, err := st.Add(ctx, e)
	if err != nil {
		log.Fatalf("engrammar add: %v", err)
	}

	active, err := st.ListActive(ctx)
	if err != nil {
		log.Fatalf("engrammar add: rebuilding index: %v", err)
	}
	items := make([]vectorindex.EmbeddingInput, len(active))
	for i, a := range active {
		items[i] = vectorindex.EmbeddingInput{ID: a.ID, Text: a.Text}
	}
	if err := idx.Build(items); err != nil {
		log.Fatalf("engrammar add: rebuilding index: %v", err)
	}
	fmt.Printf("added #%d [%s]: %s\n", id, *category, fs.Arg(0))
}

// runPin toggles an engram's pinned state.
func runPin(cfg *config.Config, args []string) {
	fs := flag.NewFlagSet("pin", flag.ExitOnError)
	unpin := fs.Bool("unpin", false, "unpin instead of pin")
	_ = fs.Parse(args)
	if fs.NArg() == 0 {
		log.Fatal("engrammar pin: an engram id argument is required")
	}
	id := parseID(fs.Arg(0))

	ctx := context.Background()
	st, _, _ := openStoreAndIndex(cfg)
	defer st.Close()

	e, err := st.Get(ctx, id)
	if err != nil {
		log.Fatalf("engrammar pin: %v", err)
	}
	if err := st.SetPinned(ctx, id, !*unpin, false, e.Prerequisites); err != nil {
		log.Fatalf("engrammar pin: %v", err)
	}
	if *unpin {
		fmt.Printf("unpinned #%d\n", id)
	} else {
		fmt.Printf("pinned #%d\n", id)
	}
}

// runBackfill imports a prior flat-file export into the category tree as a
// one-shot legacy-data migration step.
func runBackfill(cfg *config.Config, args []string) {
	fs := flag.NewFlagSet("backfill", flag.ExitOnError)
	_ = fs.Parse(args)
	if fs.NArg() == 0 {
		log.Fatal("engrammar backfill: a legacy export path argument is required")
	}

	ctx := context.Background()
	st, _, _ := openStoreAndIndex(cfg)
	defer st.Close()

	n, err := st.ImportLegacyState(ctx, fs.Arg(0))
	if err != nil {
		log.Fatalf("engrammar backfill: %v", err)
	}
	fmt.Printf("imported %d legacy engrams\n", n)
}

// runBackup takes an immediate snapshot of the engram store, or with
// --list prints the existing snapshots instead of taking a new one.
func runBackup(cfg *config.Config, args []string) {
	fs := flag.NewFlagSet("backup", flag.ExitOnError)
	list := fs.Bool("list", false, "list existing snapshots instead of taking one")
	_ = fs.Parse(args)

	paths := cfg.Paths()
	svc, err := backup.NewBackupService(backup.BackupConfig{
		DBPath:        paths.DBPath,
		BackupDir:     paths.BackupDir,
		VerifyBackups: true,
	})
	if err != nil {
		log.Fatalf("engrammar backup: %v", err)
	}

	if *list {
		backups, err := svc.ListBackups()
		if err != nil {
			log.Fatalf("engrammar backup: %v", err)
		}
		if len(backups) == 0 {
			fmt.Println("no snapshots yet")
			return
		}
		for _, b := range backups {
			fmt.Printf("%s  %8d bytes  %s\n", b.Timestamp.Format(time.RFC3339), b.Size, b.Path)
		}
		return
	}

	result, err := svc.BackupNow(context.Background())
	if err != nil {
		log.Fatalf("engrammar backup: %v", err)
	}
	fmt.Printf("snapshot written: %s (%d bytes, verified=%v)\n", result.Path, result.Size, result.Verified)
}

// runRestore replaces the live engram store with a prior snapshot. The
// daemon must be shut down first (it holds its own open handle to the
// database and won't see a swapped-out file underneath it).
func runRestore(cfg *config.Config, args []string) {
	fs := flag.NewFlagSet("restore", flag.ExitOnError)
	_ = fs.Parse(args)
	if fs.NArg() == 0 {
		log.Fatal("engrammar restore: a snapshot path argument is required")
	}

	paths := cfg.Paths()
	svc, err := backup.NewBackupService(backup.BackupConfig{DBPath: paths.DBPath, BackupDir: paths.BackupDir})
	if err != nil {
		log.Fatalf("engrammar restore: %v", err)
	}
	if err := svc.RestoreBackup(context.Background(), fs.Arg(0)); err != nil {
		log.Fatalf("engrammar restore: %v", err)
	}
	fmt.Printf("restored from %s\n", fs.Arg(0))
}

func parseID(s string) int64 {
	var id int64
	if _, err := fmt.Sscanf(s, "%d", &id); err != nil {
		log.Fatalf("engrammar: invalid engram id %q", s)
	}
	return id
}
