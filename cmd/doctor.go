package cmd

import (
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/pagedclaw/internal/config"
	"github.com/nextlevelbuilder/pagedclaw/internal/page"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check the page store and configuration for consistency",
		Run: func(cmd *cobra.Command, args []string) {
			runDoctor()
		},
	}
}

func runDoctor() {
	fmt.Println("pagedclaw doctor")
	fmt.Printf("  Version:  %s\n", Version)
	fmt.Printf("  OS:       %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Printf("  Go:       %s\n", runtime.Version())
	fmt.Println()

	cfgPath := resolveConfigPath()
	fmt.Printf("  Config:   %s", cfgPath)
	if _, err := os.Stat(cfgPath); err != nil {
		fmt.Println(" (using defaults — not found)")
	} else {
		fmt.Println(" (OK)")
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Printf("  Config load error: %s\n", err)
		return
	}

	dataDir := cfg.DataDirPath()
	fmt.Printf("  Data dir: %s", dataDir)
	if _, err := os.Stat(dataDir); err != nil {
		fmt.Println(" (NOT FOUND)")
		fmt.Println()
		fmt.Println("Doctor check complete.")
		return
	}
	fmt.Println(" (OK)")

	pages, err := page.Open(dataDir)
	if err != nil {
		fmt.Printf("  Page store: FAILED TO OPEN (%s)\n", err)
		return
	}

	fmt.Println()
	fmt.Println("  Pages:")
	meta := pages.List()
	fmt.Printf("    %-20s %d\n", "Total pages:", len(meta))
	orphaned := 0
	missingSummary := 0
	for _, m := range meta {
		if _, err := pages.Read(m.ID); err != nil {
			orphaned++
		}
		if !m.HasSummary {
			missingSummary++
		}
	}
	fmt.Printf("    %-20s %d\n", "Active pages:", len(pages.ActivePageIDs()))
	fmt.Printf("    %-20s %d\n", "Orphaned entries:", orphaned)
	fmt.Printf("    %-20s %d\n", "Missing summaries:", missingSummary)

	shadowPath := dataDir + "/embeddings.shadow.json"
	if _, err := os.Stat(shadowPath); err == nil {
		progressPath := dataDir + "/batch-progress.json"
		if _, err := os.Stat(progressPath); os.IsNotExist(err) {
			fmt.Println()
			fmt.Printf("  WARNING: orphaned shadow index at %s with no progress file.\n", shadowPath)
			fmt.Println("  Run `pagedclaw rebuild` to recover (it calls RecoverOnStartup automatically).")
		}
	}

	fmt.Println()
	fmt.Println("Doctor check complete.")
}
