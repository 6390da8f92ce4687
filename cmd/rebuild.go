package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/pagedclaw/internal/config"
	"github.com/nextlevelbuilder/pagedclaw/internal/driver"
	"github.com/nextlevelbuilder/pagedclaw/internal/embeddings"
	"github.com/nextlevelbuilder/pagedclaw/internal/page"
	"github.com/nextlevelbuilder/pagedclaw/internal/pageindex"
	"github.com/nextlevelbuilder/pagedclaw/internal/rebuild"
)

func rebuildCmd() *cobra.Command {
	var force bool
	c := &cobra.Command{
		Use:   "rebuild",
		Short: "Run one batch-summarizer rebuild pass over the page store",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRebuild(force)
		},
	}
	c.Flags().BoolVar(&force, "force", false, "re-summarize every page regardless of content hash")
	return c
}

func runRebuild(force bool) error {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return fmt.Errorf("rebuild: load config: %w", err)
	}

	dataDir := cfg.DataDirPath()
	pages, err := page.Open(dataDir)
	if err != nil {
		return fmt.Errorf("rebuild: open page store: %w", err)
	}

	if err := rebuild.RecoverOnStartup(pages); err != nil {
		return fmt.Errorf("rebuild: recover interrupted swap: %w", err)
	}

	chatDriver, err := buildDriver(cfg)
	if err != nil {
		return fmt.Errorf("rebuild: build driver: %w", err)
	}

	ctx := context.Background()
	embedder := embeddings.New(ctx, embeddings.FactoryConfig{
		Provider: cfg.Embedding.Provider,
		Model:    cfg.Embedding.Model,
	})
	if embedder == nil {
		return fmt.Errorf("rebuild: no embedding provider configured")
	}
	idx := pageindex.Load(pages.Dir()+"/embeddings.json", embedder)

	b := rebuild.New(rebuild.Config{
		Pages:      pages,
		Index:      idx,
		Summarizer: &driver.RebuildSummarizer{Driver: chatDriver, Model: cfg.Model.Model},
		Force:      force || cfg.Rebuild.Force,
	})
	return b.Run(ctx)
}
