package cmd

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/pagedclaw/internal/agent"
	"github.com/nextlevelbuilder/pagedclaw/internal/config"
	"github.com/nextlevelbuilder/pagedclaw/internal/driver"
	"github.com/nextlevelbuilder/pagedclaw/internal/embeddings"
	"github.com/nextlevelbuilder/pagedclaw/internal/page"
	"github.com/nextlevelbuilder/pagedclaw/internal/pageindex"
	"github.com/nextlevelbuilder/pagedclaw/internal/retrieval"
	"github.com/nextlevelbuilder/pagedclaw/internal/vm"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run a demo agent turn loop against a VirtualMemory, reading stdin lines",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}
}

func runServe() error {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return fmt.Errorf("serve: load config: %w", err)
	}

	dataDir := cfg.DataDirPath()
	pages, err := page.Open(dataDir)
	if err != nil {
		return fmt.Errorf("serve: open page store: %w", err)
	}

	chatDriver, err := buildDriver(cfg)
	if err != nil {
		return fmt.Errorf("serve: build driver: %w", err)
	}

	var retr *retrieval.Retrieval
	ctx := context.Background()

	vmInstance := vm.New(vm.Config{
		SystemPrompt:        "You are a helpful assistant with paged long-term memory.",
		WorkingMemoryTokens: cfg.Memory.WorkingMemoryTokens,
		HighRatio:           cfg.Memory.HighRatio,
		MinRecent:           cfg.Memory.MinRecent,
		PageSlotTokens:      cfg.Memory.PageSlotTokens,
		Weights:             vm.LaneWeights{Assistant: cfg.Memory.Weights.Assistant, User: cfg.Memory.Weights.User, System: cfg.Memory.Weights.System, Tool: cfg.Memory.Weights.Tool},
		Model:               cfg.Model.Model,
		Summarizer:          &driver.VMSummarizer{Driver: chatDriver, Model: cfg.Model.Model},
		Pages:               pages,
		OnPageCreated: func(id, summary, label string) {
			if retr != nil {
				retr.OnPageCreated(id, summary, label)
			}
		},
	})

	embedder := embeddings.New(ctx, embeddings.FactoryConfig{
		Provider: cfg.Embedding.Provider,
		Model:    cfg.Embedding.Model,
	})
	if embedder != nil {
		idx := pageindex.Load(pages.Dir()+"/embeddings.json", embedder)
		retr = retrieval.New(retrieval.Config{
			VM:               vmInstance,
			Index:            idx,
			Pages:            pages,
			MaxAutoFillPages: cfg.Retrieval.MaxAutoFillPages,
			FillFraction:     cfg.Retrieval.FillFraction,
			SearchK:          cfg.Retrieval.SearchK,
			SearchThreshold:  cfg.Retrieval.SearchThreshold,
		})
		if err := retr.Backfill(ctx); err != nil {
			slog.Warn("serve: backfill failed", "error", err)
		}
	} else {
		slog.Warn("serve: no embedding provider configured; semantic retrieval disabled")
	}

	loop := &agent.Loop{Memory: vmInstance, Retrieval: retr, Driver: chatDriver, Model: cfg.Model.Model}

	fmt.Println("pagedclaw serve — type a message, Ctrl-D to exit")
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		reply, err := loop.Turn(ctx, line)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			continue
		}
		fmt.Println(reply)
	}
	return vmInstance.Save(dataDir + "/session.vm.json")
}
