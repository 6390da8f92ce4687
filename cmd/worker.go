package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/pagedclaw/internal/batchworker"
	"github.com/nextlevelbuilder/pagedclaw/internal/config"
	"github.com/nextlevelbuilder/pagedclaw/internal/driver"
	"github.com/nextlevelbuilder/pagedclaw/internal/page"
	"github.com/nextlevelbuilder/pagedclaw/internal/sumqueue"
)

func workerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run the summarization batch worker in the foreground",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorker()
		},
	}
}

func runWorker() error {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return fmt.Errorf("worker: load config: %w", err)
	}

	dataDir := cfg.DataDirPath()
	pages, err := page.Open(dataDir)
	if err != nil {
		return fmt.Errorf("worker: open page store: %w", err)
	}
	queue := sumqueue.Open(dataDir + "/sumqueue.jsonl")

	chatDriver, err := buildDriver(cfg)
	if err != nil {
		return fmt.Errorf("worker: build driver: %w", err)
	}

	batchDriver := &chatBatchDriver{driver: chatDriver, model: cfg.Model.Model}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return batchworker.RunForeground(ctx, batchworker.Config{
		Pages:          pages,
		Queue:          queue,
		Driver:         batchDriver,
		BatchSize:      cfg.Worker.BatchSize,
		QueuePollEvery: time.Duration(cfg.Worker.QueuePollEverySec) * time.Second,
		BatchPollEvery: time.Duration(cfg.Worker.BatchPollEverySec) * time.Second,
	})
}

// chatBatchDriver satisfies batchworker.BatchDriver by running each item
// through a synchronous Chat call and resolving "ended" immediately. No
// provider in the corpus's reach exposes an actual async batch-submission
// API for chat completions, so this is the degenerate, always-complete case
// of the submit/poll contract.
type chatBatchDriver struct {
	driver driver.Driver
	model  string
}

// pendingBatches holds completed-immediately batch results keyed by the
// synthetic batch id returned from SubmitBatch, until the next PollBatch
// call drains them.
var pendingBatches sync.Map

func (c *chatBatchDriver) SubmitBatch(ctx context.Context, items []batchworker.BatchItem) (string, error) {
	results := make([]batchworker.BatchResult, 0, len(items))
	for _, item := range items {
		resp, err := c.driver.Chat(ctx, driver.ChatRequest{
			Model:  c.model,
			System: fmt.Sprintf("Summarize this page densely, ending with @@ref('%s')@@.", item.PageID),
			Messages: []driver.Message{
				{Role: "user", Content: item.Content},
			},
		})
		if err != nil {
			results = append(results, batchworker.BatchResult{PageID: item.PageID, Err: err})
			continue
		}
		results = append(results, batchworker.BatchResult{PageID: item.PageID, Summary: resp.Content})
	}
	id := fmt.Sprintf("batch_%d", time.Now().UnixNano())
	pendingBatches.Store(id, results)
	return id, nil
}

func (c *chatBatchDriver) PollBatch(ctx context.Context, batchID string) (string, []batchworker.BatchResult, error) {
	v, ok := pendingBatches.Load(batchID)
	if !ok {
		return "ended", nil, nil
	}
	pendingBatches.Delete(batchID)
	return "ended", v.([]batchworker.BatchResult), nil
}
