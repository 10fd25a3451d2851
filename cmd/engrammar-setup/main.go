// Command engrammar-setup performs first-run bootstrap: creating the
// Engrammar home directory, writing a default config.json if none exists,
// and applying the SQLite schema. Hook and MCP-server registration
// (original_source/src/register_hooks.py's job) lives in the hook runtime,
// which is outside this module's scope.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rocodesign/engrammar/internal/config"
	"github.com/rocodesign/engrammar/internal/store/sqlite"
)

func main() {
	for _, arg := range os.Args[1:] {
		if arg == "--verify" {
			runVerify()
			return
		}
	}
	runSetup()
}

func runSetup() {
	printBanner()

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Printf("ERROR: loading config: %v\n", err)
		os.Exit(1)
	}
	paths := cfg.Paths()

	if err := os.MkdirAll(paths.Home, 0o755); err != nil {
		fmt.Printf("ERROR: creating %s: %v\n", paths.Home, err)
		os.Exit(1)
	}
	fmt.Printf("OK: home directory %s\n", paths.Home)

	if err := writeDefaultConfigIfAbsent(paths.ConfigPath); err != nil {
		fmt.Printf("ERROR: writing %s: %v\n", paths.ConfigPath, err)
		os.Exit(1)
	}

	st, err := sqlite.Open(paths.DBPath)
	if err != nil {
		fmt.Printf("ERROR: applying schema to %s: %v\n", paths.DBPath, err)
		os.Exit(1)
	}
	defer st.Close()
	fmt.Printf("OK: schema applied at %s\n", paths.DBPath)

	fmt.Println()
	fmt.Println("Setup complete.")
	fmt.Println()
	fmt.Println("Next: register hooks for your assistant runtime to call the")
	fmt.Println("engrammar CLI (search/tool-context/pinned) and start the daemon")
	fmt.Println("lazily on first use — see your runtime's hook documentation.")
	fmt.Println()
	fmt.Println("Verify this install at any time with: engrammar-setup --verify")
}

func writeDefaultConfigIfAbsent(path string) error {
	if _, err := os.Stat(path); err == nil {
		fmt.Printf("OK: config already present at %s\n", path)
		return nil
	} else if !os.IsNotExist(err) {
		return err
	}

	defaults := map[string]interface{}{
		"search": map[string]interface{}{"top_k": 3},
		"hooks": map[string]interface{}{
			"prompt_enabled":   true,
			"tool_use_enabled": true,
			"skip_tools":       []string{"Read", "Glob", "Grep", "WebFetch", "WebSearch"},
		},
		"display": map[string]interface{}{
			"max_engrams_per_prompt": 3,
			"max_engrams_per_tool":   2,
			"show_scores":            false,
			"show_categories":        true,
		},
		"backup": map[string]interface{}{
			"enabled":          true,
			"interval_minutes": 60,
		},
	}
	data, err := json.MarshalIndent(defaults, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return err
	}
	fmt.Printf("OK: wrote default config to %s\n", path)
	return nil
}

func printBanner() {
	fmt.Println("Engrammar Setup")
	fmt.Println("===============")
	fmt.Println()
}

// runVerify performs a post-install health check of the Engrammar
// installation: home directory, database, and daemon binary presence.
func runVerify() {
	fmt.Println("Engrammar Setup Verification")
	fmt.Println("============================")
	fmt.Println()

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Printf("ERROR: loading config: %v\n", err)
		os.Exit(1)
	}
	paths := cfg.Paths()
	statusOK := true

	if info, err := os.Stat(paths.Home); err == nil && info.IsDir() {
		fmt.Printf("Home directory: OK %s\n", paths.Home)
	} else {
		fmt.Printf("Home directory: MISSING %s\n", paths.Home)
		statusOK = false
	}

	if _, err := os.Stat(paths.DBPath); err == nil {
		fmt.Printf("Database:       OK %s\n", paths.DBPath)
	} else {
		fmt.Printf("Database:       MISSING %s\n", paths.DBPath)
		statusOK = false
	}

	daemonBinary := ""
	if execPath, err := os.Executable(); err == nil {
		candidate := filepath.Join(filepath.Dir(execPath), "engrammar-daemon")
		if _, statErr := os.Stat(candidate); statErr == nil {
			daemonBinary = candidate
		}
	}
	if daemonBinary != "" {
		fmt.Printf("Daemon binary:  OK %s\n", daemonBinary)
	} else {
		fmt.Println("Daemon binary:  NOT FOUND alongside engrammar-setup")
		statusOK = false
	}

	fmt.Println()
	if statusOK {
		fmt.Println("Status: READY")
		os.Exit(0)
	}
	fmt.Println("Status: NOT READY")
	fmt.Println("Run engrammar-setup to install missing components.")
	os.Exit(1)
}
