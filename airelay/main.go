package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/chzyer/readline"
	"github.com/manifoldco/promptui"

	"github.com/unifiedai/airelay/internal/config"
	"github.com/unifiedai/airelay/internal/mcpserver"
	"github.com/unifiedai/airelay/internal/pricing"
	"github.com/unifiedai/airelay/internal/tags"
	"github.com/unifiedai/airelay/pkg/dispatch"
	pkgLogger "github.com/unifiedai/airelay/pkg/logger"
	"github.com/unifiedai/airelay/pkg/provider"
	"github.com/unifiedai/airelay/pkg/provider/anthropic"
	"github.com/unifiedai/airelay/pkg/provider/claudecli"
	"github.com/unifiedai/airelay/pkg/provider/gemini"
	"github.com/unifiedai/airelay/pkg/provider/ollama"
	"github.com/unifiedai/airelay/pkg/provider/openai"
)

const version = "0.3.1"

func printUsage() {
	fmt.Println("airelay - unified AI provider dispatch with role-based failover")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  airelay \"Summarize this repo\"          # one-shot (main role)")
	fmt.Println("  airelay -r research \"Compare options\"  # pick a role")
	fmt.Println("  airelay -i                              # interactive chat")
	fmt.Println("  airelay --mcp                           # serve MCP tools on stdio")
	fmt.Println("  airelay --init                          # write a default config")
	fmt.Println("  airelay --providers                     # list registered providers")
	fmt.Println()
	flag.PrintDefaults()
}

func main() {
	ctx := context.Background()

	var role = flag.String("r", "", "Role to dispatch to (main, research or fallback)")
	var roleLong = flag.String("role", "", "Role to dispatch to (main, research or fallback)")
	var projectRoot = flag.String("project", ".", "Project root holding .airelay/config.json")
	var system = flag.String("system", "", "System prompt to prepend")
	var interactive = flag.Bool("i", false, "Interactive chat mode")
	var mcpMode = flag.Bool("mcp", false, "Serve MCP tools on stdio")
	var initConfig = flag.Bool("init", false, "Write a default .airelay/config.json to the project root")
	var listProviders = flag.Bool("providers", false, "List the registered providers and exit")
	var verbose = flag.Bool("v", false, "Enable verbose logging (debug level)")
	var showVersion = flag.Bool("version", false, "Print version and exit")
	var help = flag.Bool("h", false, "Show this help message")
	flag.Usage = printUsage
	flag.Parse()

	if *help {
		printUsage()
		return
	}
	if *showVersion {
		fmt.Println("airelay", version)
		return
	}
	if *verbose {
		pkgLogger.SetGlobalLogLevel(pkgLogger.LogLevelDebug)
	}

	log := pkgLogger.NewComponentLogger("main")

	if *initConfig {
		if err := config.Save(*projectRoot, config.DefaultConfig()); err != nil {
			log.Error("failed to write default config", "error", err)
			os.Exit(1)
		}
		fmt.Println("wrote", filepath.Join(*projectRoot, ".airelay", "config.json"))
		return
	}

	svc, registry, err := buildService()
	if err != nil {
		log.Error("failed to initialize dispatch service", "error", err)
		os.Exit(1)
	}

	if *listProviders {
		names := registry.Names()
		sort.Strings(names)
		for _, name := range names {
			fmt.Println(name)
		}
		return
	}

	if *mcpMode {
		if err := mcpserver.New(svc, *projectRoot, version).ServeStdio(); err != nil {
			log.Error("MCP server terminated", "error", err)
			os.Exit(1)
		}
		return
	}

	selectedRole := firstNonEmpty(*role, *roleLong)
	if *interactive {
		if selectedRole == "" {
			selectedRole = "main"
		}
		runREPL(ctx, svc, *projectRoot, selectedRole, *system)
		return
	}

	prompt := strings.TrimSpace(strings.Join(flag.Args(), " "))
	if prompt == "" {
		printUsage()
		os.Exit(1)
	}

	if selectedRole == "" {
		selectedRole = chooseRole()
	}

	resp, err := svc.GenerateText(ctx, dispatch.Request{
		Role:         dispatch.Role(selectedRole),
		ProjectRoot:  *projectRoot,
		SystemPrompt: *system,
		Prompt:       prompt,
		CommandName:  "airelay",
	})
	if err != nil {
		log.Error("dispatch failed", "error", err)
		os.Exit(1)
	}

	fmt.Println(resp.Text())
	if resp.Telemetry != nil {
		log.Info("call cost",
			"provider", resp.ProviderName,
			"model", resp.ModelID,
			"tokens", resp.Telemetry.TotalTokens,
			"cost", fmt.Sprintf("$%.6f", resp.Telemetry.TotalCost))
	}
}

// buildService wires the registry, configuration, pricing and tag
// collaborators into a dispatch service. Settings are resolved per call from
// the request's project root.
func buildService() (*dispatch.Service, *provider.Registry, error) {
	registry := provider.NewRegistry(
		anthropic.New(),
		openai.New(),
		gemini.New(),
		ollama.New(),
		claudecli.New(),
	)

	opts := []dispatch.Option{
		dispatch.WithCredentialResolver(config.CredentialResolver()),
		dispatch.WithTagReader(tags.Reader()),
	}

	table, err := pricing.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("loading cost catalog: %w", err)
	}
	opts = append(opts, dispatch.WithCostTable(table))

	return dispatch.New(registry, config.Loader(), opts...), registry, nil
}

// chooseRole asks interactively when no role flag was given and stdin is a
// terminal; otherwise defaults to main.
func chooseRole() string {
	if fi, err := os.Stdin.Stat(); err != nil || fi.Mode()&os.ModeCharDevice == 0 {
		return "main"
	}

	sel := promptui.Select{
		Label: "Role",
		Items: []string{"main", "research", "fallback"},
	}
	_, choice, err := sel.Run()
	if err != nil {
		return "main"
	}
	return choice
}

// runREPL runs a minimal chat loop; each line is one dispatch with no shared
// conversation memory.
func runREPL(ctx context.Context, svc *dispatch.Service, projectRoot, role, system string) {
	rl, err := readline.New("airelay> ")
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to start interactive mode:", err)
		os.Exit(1)
	}
	defer rl.Close()

	fmt.Printf("airelay %s - role %q (Ctrl-D to exit)\n", version, role)

	for {
		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			continue
		}
		if err == io.EOF {
			return
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		resp, err := svc.GenerateText(ctx, dispatch.Request{
			Role:         dispatch.Role(role),
			ProjectRoot:  projectRoot,
			SystemPrompt: system,
			Prompt:       line,
			CommandName:  "airelay-repl",
		})
		if err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			continue
		}
		fmt.Println(resp.Text())
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
