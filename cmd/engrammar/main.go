// Command engrammar is the engrammar CLI: the hook scripts' and a human
// operator's entry point for searching engrams through the daemon, and the
// re-exec target the daemon spawns for background extract/evaluate
// passes (see internal/server's maintain handler).
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/rocodesign/engrammar/internal/config"
	"github.com/rocodesign/engrammar/internal/daemonclient"
	"github.com/rocodesign/engrammar/internal/hookproto"
)

const defaultLLMModel = "haiku"

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("engrammar: loading config: %v", err)
	}

	cmd, args := os.Args[1], os.Args[2:]
	switch cmd {
	case "search":
		runSearch(cfg, args)
	case "tool-context":
		runToolContext(cfg, args)
	case "pinned":
		runPinned(cfg, args)
	case "ping":
		runPing(cfg, args)
	case "shutdown":
		runShutdown(cfg, args)
	case "session-end":
		runSessionEnd(cfg, args)
	case "extract":
		runExtract(cfg, args)
	case "evaluate":
		runEvaluate(cfg, args)
	case "dedup":
		runDedup(cfg, args)
	case "add":
		runAdd(cfg, args)
	case "pin":
		runPin(cfg, args)
	case "backfill":
		runBackfill(cfg, args)
	case "backup":
		runBackup(cfg, args)
	case "restore":
		runRestore(cfg, args)
	default:
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: engrammar <add|search|tool-context|pinned|pin|ping|shutdown|session-end|extract|evaluate|dedup|backfill|backup|restore> [flags]")
}

func newDaemonClient(cfg *config.Config) *daemonclient.Client {
	return &daemonclient.Client{
		SocketPath:   cfg.Paths().SocketPath,
		DaemonBinary: resolveDaemonBinary(),
		LogPath:      cfg.Paths().Home + "/daemon.log",
	}
}

// resolveDaemonBinary finds the engrammar-daemon binary alongside this one,
// mirroring how the daemon itself locates its "engrammar" sibling for
// maintenance re-execs.
func resolveDaemonBinary() string {
	self, err := os.Executable()
	if err != nil {
		return ""
	}
	candidate := filepath.Join(filepath.Dir(self), "engrammar-daemon")
	if info, statErr := os.Stat(candidate); statErr == nil && !info.IsDir() {
		return candidate
	}
	return ""
}

func runSearch(cfg *config.Config, args []string) {
	fs := flag.NewFlagSet("search", flag.ExitOnError)
	category := fs.String("category", "", "restrict to a category prefix")
	topK := fs.Int("top-k", 0, "override configured top_k")
	asJSON := fs.Bool("json", false, "print raw JSON response")
	_ = fs.Parse(args)
	if fs.NArg() == 0 {
		log.Fatal("engrammar search: a query argument is required")
	}

	resp := send(cfg, hookproto.Request{
		Type:           hookproto.RequestSearch,
		Query:          fs.Arg(0),
		CategoryFilter: *category,
		TopK:           *topK,
	})
	printResults(resp, cfg.Display.ShowCategories, *asJSON)
}

func runToolContext(cfg *config.Config, args []string) {
	fs := flag.NewFlagSet("tool-context", flag.ExitOnError)
	toolName := fs.String("tool", "", "tool name (e.g. Edit)")
	inputJSON := fs.String("input", "{}", "tool_input as a JSON object")
	asJSON := fs.Bool("json", false, "print raw JSON response")
	_ = fs.Parse(args)

	var toolInput map[string]interface{}
	if err := json.Unmarshal([]byte(*inputJSON), &toolInput); err != nil {
		log.Fatalf("engrammar tool-context: parsing --input: %v", err)
	}

	resp := send(cfg, hookproto.Request{
		Type:      hookproto.RequestToolContext,
		ToolName:  *toolName,
		ToolInput: toolInput,
	})
	printResults(resp, cfg.Display.ShowCategories, *asJSON)
}

func runPinned(cfg *config.Config, args []string) {
	fs := flag.NewFlagSet("pinned", flag.ExitOnError)
	asJSON := fs.Bool("json", false, "print raw JSON response")
	_ = fs.Parse(args)

	resp := send(cfg, hookproto.Request{Type: hookproto.RequestPinned})
	printResults(resp, cfg.Display.ShowCategories, *asJSON)
}

func runPing(cfg *config.Config, args []string) {
	fs := flag.NewFlagSet("ping", flag.ExitOnError)
	_ = fs.Parse(args)

	resp := send(cfg, hookproto.Request{Type: hookproto.RequestPing})
	if resp.Error != "" {
		log.Fatalf("engrammar ping: %s", resp.Error)
	}
	fmt.Printf("status=%s uptime=%.1fs idle=%.1fs\n", resp.Status, resp.Uptime, resp.Idle)
}

func runShutdown(cfg *config.Config, args []string) {
	fs := flag.NewFlagSet("shutdown", flag.ExitOnError)
	_ = fs.Parse(args)

	resp := send(cfg, hookproto.Request{Type: hookproto.RequestShutdown})
	if resp.Error != "" {
		log.Fatalf("engrammar shutdown: %s", resp.Error)
	}
	fmt.Println(resp.Status)
}

func send(cfg *config.Config, req hookproto.Request) hookproto.Response {
	client := newDaemonClient(cfg)
	resp, err := client.Send(context.Background(), req)
	if err != nil {
		log.Fatalf("engrammar: %v", err)
	}
	return resp
}

func printResults(resp hookproto.Response, showCategories, asJSON bool) {
	if resp.Error != "" {
		log.Fatalf("engrammar: %s", resp.Error)
	}
	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(resp.Results)
		return
	}
	if len(resp.Results) == 0 {
		fmt.Println("no engrams matched")
		return
	}
	for _, r := range resp.Results {
		cat := ""
		if showCategories && r.Category != "" {
			cat = fmt.Sprintf("[%s] ", r.Category)
		}
		fmt.Printf("- [EG#%d]%s%s\n", r.ID, cat, r.Text)
	}
}
