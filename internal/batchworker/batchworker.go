// Package batchworker implements the long-lived, fork-spawned process that
// submits batched summarization jobs and writes summaries back to pages
// (§4.B, §5). It communicates with the main process only through the
// filesystem (the summarization queue and the pages directory) — no shared
// in-process state.
package batchworker

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"time"

	"github.com/nextlevelbuilder/pagedclaw/internal/page"
	"github.com/nextlevelbuilder/pagedclaw/internal/sumqueue"
)

// BatchDriver submits and polls batched completion jobs. It is the
// worker's external collaborator: one provider-specific implementation per
// driver backend.
type BatchDriver interface {
	SubmitBatch(ctx context.Context, items []BatchItem) (batchID string, err error)
	PollBatch(ctx context.Context, batchID string) (status string, results []BatchResult, err error)
}

// BatchItem is one page queued for summarization within a submitted batch.
type BatchItem struct {
	PageID  string
	Label   string
	Content string // size-capped transcript
}

// BatchResult is one page's outcome from a completed batch.
type BatchResult struct {
	PageID  string
	Summary string
	Err     error
}

const maxTranscriptChars = 12000

// Config configures a worker run.
type Config struct {
	Pages  *page.Store
	Queue  *sumqueue.Queue
	Driver BatchDriver

	BatchSize      int
	QueuePollEvery time.Duration
	BatchPollEvery time.Duration
}

func (c *Config) setDefaults() {
	if c.BatchSize <= 0 {
		c.BatchSize = 20
	}
	if c.QueuePollEvery <= 0 {
		c.QueuePollEvery = 60 * time.Second
	}
	if c.BatchPollEvery <= 0 {
		c.BatchPollEvery = 300 * time.Second
	}
}

type activeBatch struct {
	ID      string
	PageIDs []string
}

// RunForeground runs the worker loop until ctx is cancelled: a queue-poll
// timer dequeues and submits new batches, a batch-poll timer checks
// in-flight batches and writes back completed summaries. In-flight batch
// ids are process-local (not persisted); queued-but-unsubmitted tasks
// survive a restart because they remain in the on-disk queue.
func RunForeground(ctx context.Context, cfg Config) error {
	cfg.setDefaults()
	if cfg.Driver == nil {
		return fmt.Errorf("batchworker: no BatchDriver configured")
	}

	queueTicker := time.NewTicker(cfg.QueuePollEvery)
	batchTicker := time.NewTicker(cfg.BatchPollEvery)
	defer queueTicker.Stop()
	defer batchTicker.Stop()

	var active []activeBatch

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-queueTicker.C:
			if err := submitNextBatch(ctx, cfg, &active); err != nil {
				slog.Warn("batchworker: submit failed", "error", err)
			}
		case <-batchTicker.C:
			pollActiveBatches(ctx, cfg, &active)
		}
	}
}

func submitNextBatch(ctx context.Context, cfg Config, active *[]activeBatch) error {
	entries, err := cfg.Queue.Dequeue(cfg.BatchSize)
	if err != nil {
		return fmt.Errorf("dequeue: %w", err)
	}
	if len(entries) == 0 {
		return nil
	}

	items := make([]BatchItem, 0, len(entries))
	pageIDs := make([]string, 0, len(entries))
	submitted := make([]sumqueue.Entry, 0, len(entries))
	for _, e := range entries {
		p, err := cfg.Pages.Read(e.PageID)
		if err != nil {
			slog.Warn("batchworker: unreadable queued page, dropping", "page", e.PageID, "error", err)
			continue
		}
		content := p.Content
		if len(content) > maxTranscriptChars {
			content = content[:maxTranscriptChars]
		}
		items = append(items, BatchItem{PageID: p.ID, Label: p.Label, Content: content})
		pageIDs = append(pageIDs, p.ID)
		submitted = append(submitted, e)
	}
	if len(items) == 0 {
		return nil
	}

	batchID, err := cfg.Driver.SubmitBatch(ctx, items)
	if err != nil {
		for _, e := range submitted {
			if reErr := cfg.Queue.Enqueue(e.PageID, e.Label, e.Lane); reErr != nil {
				slog.Warn("batchworker: re-enqueue after submit failure also failed", "page", e.PageID, "error", reErr)
			}
		}
		return fmt.Errorf("submit batch: %w", err)
	}
	*active = append(*active, activeBatch{ID: batchID, PageIDs: pageIDs})
	slog.Info("batchworker: submitted batch", "batch_id", batchID, "pages", len(pageIDs))
	return nil
}

func pollActiveBatches(ctx context.Context, cfg Config, active *[]activeBatch) {
	var still []activeBatch
	for _, b := range *active {
		status, results, err := cfg.Driver.PollBatch(ctx, b.ID)
		if err != nil {
			slog.Warn("batchworker: poll failed", "batch_id", b.ID, "error", err)
			still = append(still, b)
			continue
		}
		if status != "ended" {
			still = append(still, b)
			continue
		}
		for _, r := range results {
			if r.Err != nil {
				slog.Warn("batchworker: item failed, not re-enqueued", "page", r.PageID, "error", r.Err)
				continue
			}
			if err := cfg.Pages.SetSummary(r.PageID, r.Summary); err != nil {
				slog.Warn("batchworker: write summary failed", "page", r.PageID, "error", err)
			}
		}
	}
	*active = still
}

// Spawn forks the current binary as a detached worker subprocess,
// re-invoking it with the "worker" subcommand. The data directory is passed
// via PAGEDCLAW_DATA_DIR and the API key via environment, never argv, so it
// never appears in `ps`.
func Spawn(binaryPath, dataDir, apiKeyEnvVar, apiKey string) (*os.Process, error) {
	cmd := exec.Command(binaryPath, "worker")
	cmd.Env = append(os.Environ(), "PAGEDCLAW_DATA_DIR="+dataDir, fmt.Sprintf("%s=%s", apiKeyEnvVar, apiKey))
	cmd.Stdout = nil
	cmd.Stderr = nil
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("batchworker: spawn: %w", err)
	}
	return cmd.Process, nil
}
