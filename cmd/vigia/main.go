// Package main is the entry point for the vigia agent dashboard.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"golang.org/x/sync/errgroup"

	"github.com/sevir/vigia/internal/config"
	"github.com/sevir/vigia/internal/registry"
	"github.com/sevir/vigia/internal/server"
	"github.com/sevir/vigia/internal/tasks"
)

var (
	version = "1.0.0"
	commit  = "dev"
)

func main() {
	// Parse flags
	var (
		configPath  = flag.String("config", "", "Path to config file (.yaml, .yml, .json or .toml)")
		host        = flag.String("host", "", "Server host (default: 127.0.0.1)")
		port        = flag.Int("port", 0, "Server port (default: 8765)")
		agents      = flag.String("agents", "", "Comma separated agent names (default: Listener,Planner,Executor)")
		steps       = flag.Int("steps", 0, "Steps per task (default: 20)")
		autostart   = flag.Bool("autostart", false, "Start every agent on launch")
		showVersion = flag.Bool("version", false, "Show version and exit")
		initConfig  = flag.Bool("init", false, "Initialize default config and exit")
		useStdio    = flag.Bool("stdio", false, "Use stdio transport instead of HTTP")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("vigia %s (%s)\n", version, commit)
		os.Exit(0)
	}

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Override with flags
	if *host != "" {
		cfg.Server.Host = *host
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *agents != "" {
		cfg.SetAgents(*agents)
	}
	if *steps != 0 {
		cfg.Worker.TotalSteps = *steps
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	if *initConfig {
		if err := cfg.Save(*configPath); err != nil {
			log.Fatalf("Failed to save config: %v", err)
		}
		fmt.Println("Configuration initialized")
		os.Exit(0)
	}

	reg, err := registry.New(registry.Config{
		Agents:  cfg.Agents,
		Worker:  cfg.WorkerOptions(),
		LogTail: cfg.Dashboard.LogTail,
		Catalog: tasks.NewCatalog(cfg.TaskOptions()),
	})
	if err != nil {
		log.Fatalf("Failed to create registry: %v", err)
	}

	srv := server.New(server.Config{
		Addr:      cfg.Address(),
		Registry:  reg,
		Version:   version,
		Commit:    commit,
		UseStdio:  *useStdio,
		AppConfig: cfg,
	})

	if *autostart {
		for _, name := range reg.Agents() {
			if err := reg.Start(name); err != nil {
				log.Fatalf("Failed to start agent %s: %v", name, err)
			}
		}
	}

	if *useStdio {
		log.Printf("vigia %s starting in stdio mode", version)
	} else {
		printBanner(cfg)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		// The stdio loop returns when its input closes; end the process then.
		defer stop()
		return srv.Start(gctx)
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Println("Shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("Server shutdown error: %v", err)
		}
		return reg.Shutdown()
	})

	if err := g.Wait(); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}

// printBanner writes startup info to stderr so stdout stays clean.
func printBanner(cfg *config.Config) {
	cyan := color.New(color.FgCyan)
	gray := color.New(color.FgHiBlack)
	green := color.New(color.FgGreen)

	cyan.Fprintf(os.Stderr, "\n    vigia · agent dashboard\n")
	gray.Fprintf(os.Stderr, "    version: %s (%s)\n\n", version, commit)

	lines := []struct{ label, value string }{
		{"Agents:", fmt.Sprintf("%v", cfg.Agents)},
		{"UI:", fmt.Sprintf("http://%s/ui", cfg.Address())},
		{"REST:", fmt.Sprintf("http://%s/api/agents", cfg.Address())},
		{"Stream:", fmt.Sprintf("http://%s/api/agents/stream", cfg.Address())},
		{"MCP:", fmt.Sprintf("http://%s/mcp", cfg.Address())},
		{"Health:", fmt.Sprintf("http://%s/health", cfg.Address())},
	}
	for _, l := range lines {
		green.Fprint(os.Stderr, "    ▶ ")
		fmt.Fprintf(os.Stderr, "%-8s %s\n", l.label, l.value)
	}
	fmt.Fprintln(os.Stderr)
}
