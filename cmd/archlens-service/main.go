// Package main provides the entry point for archlens-service.
//
// archlens-service is a standalone service providing:
// - REST API for starting and polling repository architecture analysis runs
// - MCP server for assistant integration
// - A background daemon with PID-file lifecycle management
//
// Usage:
//
//	archlens-service                    Start the service (default)
//	archlens-service serve              Start the service
//	archlens-service version            Show version
//	archlens-service status             Show service status
//	archlens-service stop               Stop the running service
//	archlens-service mcp                Start MCP server (stdio mode)
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/archlens/archlens/internal/api"
	"github.com/archlens/archlens/internal/config"
	"github.com/archlens/archlens/internal/mcpserver"
	"github.com/archlens/archlens/internal/service"
	"github.com/archlens/archlens/internal/store"
)

// version is set via -ldflags at build time
var version = "dev"

// Command-line flags
var (
	configPath string
)

func main() {
	api.SetVersion(version)

	args := os.Args[1:]
	command := ""
	cmdArgs := []string{}

	for i := 0; i < len(args); i++ {
		arg := args[i]
		if strings.HasPrefix(arg, "--config=") {
			configPath = strings.TrimPrefix(arg, "--config=")
		} else if arg == "--config" && i+1 < len(args) {
			configPath = args[i+1]
			i++
		} else if strings.HasPrefix(arg, "-") {
			// Skip unknown flags for now
		} else if command == "" {
			command = arg
		} else {
			cmdArgs = append(cmdArgs, arg)
		}
	}

	if command == "" {
		command = "serve"
	}

	var err error
	switch command {
	case "serve", "start":
		err = cmdServe()
	case "version", "-v", "--version":
		cmdVersion()
	case "status":
		err = cmdStatus()
	case "stop":
		err = cmdStop()
	case "mcp", "mcp-server":
		err = cmdMCP()
	case "init-config":
		err = cmdInitConfig()
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`archlens-service - Repository architecture analysis service

Usage:
  archlens-service [flags] [command] [args]

Commands:
  serve         Start the service (default)
  version       Show version information
  status        Show service status
  stop          Stop the running service
  mcp           Start MCP server (stdio mode for assistant integration)
  init-config   Create example configuration file
  help          Show this help

Flags:
  --config PATH   Path to configuration file (default: ~/.archlens/config.toml)

Environment:
  ANTHROPIC_API_KEY       API key for the Claude provider
  GOOGLE_GEMINI_API_KEY   API key for the Gemini provider
  ARCHLENS_CONFIG         Path to configuration file (alternative to --config)
  ARCHLENS_DATA_DIR       Override data directory
  ARCHLENS_HOST           Override listen host
  ARCHLENS_PORT           Override listen port

Configuration:
  Config file: ~/.archlens/config.toml (TOML format)

Examples:
  archlens-service                         Start the service with defaults
  archlens-service --config /path/to.toml  Start with custom config
  archlens-service mcp                     Start MCP server for assistant integration
  archlens-service init-config             Create example config file
  curl -X POST localhost:8530/runs -d '{"repo_url":"https://github.com/org/repo.git"}'
  curl localhost:8530/runs/<run_id>`)
}

func cmdVersion() {
	fmt.Printf("archlens-service version %s\n", version)
}

func getConfigPath() string {
	if configPath != "" {
		return configPath
	}
	if envPath := os.Getenv("ARCHLENS_CONFIG"); envPath != "" {
		return envPath
	}
	return config.DefaultConfigPath()
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if envDataDir := os.Getenv("ARCHLENS_DATA_DIR"); envDataDir != "" {
		cfg.Service.DataDir = envDataDir
	}
	return cfg, nil
}

func cmdServe() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	if running, pid := service.IsRunning(cfg); running {
		return fmt.Errorf("service already running (PID %d)", pid)
	}

	if err := cfg.EnsureDirectories(); err != nil {
		return fmt.Errorf("prepare directories: %w", err)
	}

	st, err := store.NewFileStore(cfg.Service.DataDir)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}

	svc := service.NewAnalysisService(cfg, st)
	apiServer := api.NewServer(cfg, svc)

	daemon := service.NewDaemon(cfg)

	if err := daemon.Start(apiServer.Handler()); err != nil {
		return fmt.Errorf("start daemon: %w", err)
	}

	fmt.Printf("archlens-service v%s started on %s\n", version, cfg.Address())
	fmt.Printf("API: http://%s/runs\n", cfg.Address())

	daemon.Wait()

	return nil
}

func cmdStatus() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	running, pid := service.IsRunning(cfg)
	if running {
		fmt.Printf("archlens-service: running (PID %d)\n", pid)
		fmt.Printf("Address: %s\n", cfg.Address())
		fmt.Printf("Config: %s\n", getConfigPath())
		fmt.Printf("Data: %s\n", cfg.Service.DataDir)
	} else {
		fmt.Println("archlens-service: stopped")
	}

	return nil
}

func cmdStop() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	running, pid := service.IsRunning(cfg)
	if !running {
		fmt.Println("archlens-service is not running")
		return nil
	}

	fmt.Printf("Stopping archlens-service (PID %d)...\n", pid)
	if err := service.StopRunning(cfg); err != nil {
		return err
	}

	fmt.Println("archlens-service stopped")
	return nil
}

func cmdMCP() error {
	cfg, err := loadConfig()
	if err != nil {
		cfg = config.DefaultConfig()
	}

	if cfg.LLM.AnthropicAPIKey == "" && cfg.LLM.GeminiAPIKey == "" {
		fmt.Fprintf(os.Stderr, "[archlens-service] Warning: no LLM API keys set.\n")
		fmt.Fprintf(os.Stderr, "[archlens-service] Falling back to the Ollama provider for narrative/diagram generation.\n")
	}

	if err := cfg.EnsureDirectories(); err != nil {
		return fmt.Errorf("prepare directories: %w", err)
	}

	st, err := store.NewFileStore(cfg.Service.DataDir)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}

	svc := service.NewAnalysisService(cfg, st)
	mcpServer := mcpserver.New(svc)

	return mcpServer.ServeStdio()
}

func cmdInitConfig() error {
	path := getConfigPath()

	if err := config.WriteExampleConfig(path); err != nil {
		return err
	}

	fmt.Printf("Created example configuration: %s\n", path)
	return nil
}
