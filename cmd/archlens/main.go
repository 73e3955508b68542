// Package main provides archlens, a one-shot CLI that runs a single
// architecture analysis to completion without starting the daemon.
//
// Usage:
//
//	archlens analyze <repo-url> [--config PATH] [--mode overview|balanced|detailed|folders]
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/archlens/archlens/internal/config"
	"github.com/archlens/archlens/internal/service"
	"github.com/archlens/archlens/internal/store"
)

func main() {
	if len(os.Args) < 2 || os.Args[1] != "analyze" {
		printUsage()
		os.Exit(1)
	}

	fs := flag.NewFlagSet("analyze", flag.ExitOnError)
	configPath := fs.String("config", "", "path to configuration file")
	mode := fs.String("mode", "", "print one diagram mode after completion: overview, balanced, detailed, or folders")
	fs.Parse(os.Args[2:])

	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "error: repo-url is required")
		printUsage()
		os.Exit(1)
	}
	repoURL := fs.Arg(0)

	if err := run(repoURL, *configPath, *mode); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`archlens - one-shot repository architecture analysis

Usage:
  archlens analyze <repo-url> [--config PATH] [--mode overview|balanced|detailed|folders]`)
}

func run(repoURL, configPath, mode string) error {
	path := configPath
	if path == "" {
		path = config.DefaultConfigPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return fmt.Errorf("prepare directories: %w", err)
	}

	st, err := store.NewFileStore(cfg.Service.DataDir)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}

	svc := service.NewAnalysisService(cfg, st)

	runID, status, _, err := svc.Start(context.Background(), repoURL, true)
	if err != nil {
		return fmt.Errorf("start run: %w", err)
	}
	fmt.Printf("run %s started (%s)\n", runID, status)

	deadline := time.Duration(cfg.Analysis.RunDeadlineSec) * time.Second
	if deadline <= 0 {
		deadline = 5 * time.Minute
	}
	timeout := time.After(deadline + 30*time.Second)
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-timeout:
			return fmt.Errorf("run %s did not finish within %s", runID, deadline)
		case <-ticker.C:
			curStatus, label, message, err := svc.Status(runID)
			if err != nil {
				return fmt.Errorf("poll status: %w", err)
			}
			if !curStatus.IsTerminal() {
				fmt.Printf("  ... %s (%s)\n", curStatus, label)
				continue
			}
			if curStatus == store.StatusFailed {
				return fmt.Errorf("run %s failed: %s", runID, message)
			}

			fmt.Printf("run %s completed\n", runID)
			if mode != "" {
				diagram, err := svc.GenerateDiagram(context.Background(), runID, mode)
				if err != nil {
					return fmt.Errorf("generate diagram: %w", err)
				}
				fmt.Println(diagram)
			}
			return nil
		}
	}
}
