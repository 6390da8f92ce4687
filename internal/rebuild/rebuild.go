// Package rebuild implements BatchSummarizer (§4.G): a periodic,
// interruptible, resumable, yield-aware rebuild of every page's summary and
// the search index, published via an atomic double-buffered swap.
package rebuild

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/nextlevelbuilder/pagedclaw/internal/page"
	"github.com/nextlevelbuilder/pagedclaw/internal/pageindex"
)

// Summarizer regenerates a page's summary from its raw content via the
// host LLM driver.
type Summarizer interface {
	Summarize(content, label string) (string, error)
}

// BatchRunningFlag is the mutex SemanticRetrieval exposes so backfill and
// rebuild never run concurrently.
type BatchRunningFlag interface {
	SetBatchRunning(running bool)
}

// Config configures a BatchSummarizer run.
type Config struct {
	Pages      *page.Store
	Index      *pageindex.Index // the live index; swapped in place on success
	Summarizer Summarizer
	Flag       BatchRunningFlag

	// ShouldYield reports whether an interactive turn is pending and this
	// run should pause. WaitForIdle blocks until it is safe to resume.
	ShouldYield func() bool
	WaitForIdle func()

	// Force re-summarizes every page regardless of the hash-unchanged fast
	// path.
	Force bool
}

type progress struct {
	Version         int             `json:"version"`
	StartedAt       time.Time       `json:"startedAt"`
	CompletedPageIDs map[string]bool `json:"completedPageIds"`
	FailedPageIDs    map[string]bool `json:"failedPageIds"`
	ShadowIndexPath  string          `json:"shadowIndexPath"`
}

const progressVersion = 1

// BatchSummarizer runs one rebuild pass over cfg.
type BatchSummarizer struct {
	cfg       Config
	cancelled atomic.Bool
}

// New constructs a BatchSummarizer.
func New(cfg Config) *BatchSummarizer {
	return &BatchSummarizer{cfg: cfg}
}

// Cancel requests the run stop at the next page boundary, flushing
// progress before returning.
func (b *BatchSummarizer) Cancel() { b.cancelled.Store(true) }

func (b *BatchSummarizer) progressPath() string {
	return filepath.Join(b.cfg.Pages.Dir(), "batch-progress.json")
}
func (b *BatchSummarizer) shadowPath() string {
	return filepath.Join(b.cfg.Pages.Dir(), "embeddings.shadow.json")
}
func (b *BatchSummarizer) pagePath(id string) string {
	return filepath.Join(b.cfg.Pages.Dir(), id+".json")
}

// RecoverOnStartup completes an interrupted swap from a prior crash: if a
// shadow index exists with no progress file, the swap got as far as the
// shadow write but not the rename.
func RecoverOnStartup(pages *page.Store) error {
	dir := pages.Dir()
	return page.RecoverOrphanedShadow(
		filepath.Join(dir, "embeddings.json"),
		filepath.Join(dir, "embeddings.shadow.json"),
		filepath.Join(dir, "batch-progress.json"),
	)
}

// Run executes one full rebuild pass: summarize every page whose content
// hash changed (or every page if Force), embed the result into a shadow
// index, then atomically publish it as the new live index.
func (b *BatchSummarizer) Run(ctx context.Context) error {
	if b.cfg.Flag != nil {
		b.cfg.Flag.SetBatchRunning(true)
		defer b.cfg.Flag.SetBatchRunning(false)
	}

	prog := b.loadProgress()
	manifest := page.LoadSummaryManifest(b.cfg.Pages.Dir())
	shadow := pageindex.Load(b.shadowPath(), b.cfg.Index.Embedder())

	writtenMtimes := map[string]time.Time{}
	count := 0

	iterErr := b.cfg.Pages.Iterate(func(id string) error {
		if prog.CompletedPageIDs[id] {
			return nil
		}
		if b.cancelled.Load() {
			return errCancelled
		}
		if b.cfg.ShouldYield != nil && b.cfg.ShouldYield() {
			b.flush(prog, shadow)
			if b.cfg.WaitForIdle != nil {
				b.cfg.WaitForIdle()
			}
		}

		p, err := b.cfg.Pages.Read(id)
		if err != nil {
			prog.FailedPageIDs[id] = true
			return nil
		}

		if err := b.summarizeOne(ctx, p, manifest, shadow, writtenMtimes); err != nil {
			slog.Warn("rebuild: summarize failed", "page", id, "error", err)
			prog.FailedPageIDs[id] = true
			return nil
		}

		prog.CompletedPageIDs[id] = true
		count++
		if count%10 == 0 {
			b.flush(prog, shadow)
		}
		return nil
	})

	if iterErr == errCancelled {
		b.flush(prog, shadow)
		return nil
	}
	if iterErr != nil {
		return iterErr
	}

	if err := b.freshnessCheck(ctx, prog, manifest, shadow, writtenMtimes); err != nil {
		return err
	}

	if err := b.atomicSwap(shadow); err != nil {
		return fmt.Errorf("rebuild: atomic swap: %w", err)
	}

	os.Remove(b.progressPath())
	if err := manifest.Save(); err != nil {
		slog.Warn("rebuild: summary manifest save failed", "error", err)
	}
	return nil
}

var errCancelled = fmt.Errorf("rebuild: cancelled")

func (b *BatchSummarizer) summarizeOne(ctx context.Context, p *page.Page, manifest *page.SummaryManifest, shadow *pageindex.Index, writtenMtimes map[string]time.Time) error {
	hash := page.HashPrefix(p.Content)
	stored, ok := manifest.Get(p.ID)

	if !b.cfg.Force && ok && stored == hash && p.Summary != "" {
		return shadow.IndexPage(ctx, p.ID, p.Summary, p.Label)
	}

	summary, err := b.cfg.Summarizer.Summarize(p.Content, p.Label)
	if err != nil {
		return err
	}
	if err := b.cfg.Pages.SetSummary(p.ID, summary); err != nil {
		return err
	}
	writtenMtimes[p.ID] = time.Now()
	manifest.Set(p.ID, hash)
	return shadow.IndexPage(ctx, p.ID, summary, p.Label)
}

// freshnessCheck re-summarizes any completed page that was modified after
// our own write (or, for hash-skipped pages we never wrote, modified at
// all since the run started) — §4.G step 7.
func (b *BatchSummarizer) freshnessCheck(ctx context.Context, prog *progress, manifest *page.SummaryManifest, shadow *pageindex.Index, writtenMtimes map[string]time.Time) error {
	for id := range prog.CompletedPageIDs {
		fi, err := os.Stat(b.pagePath(id))
		if err != nil {
			continue
		}
		reference := prog.StartedAt
		if mt, ok := writtenMtimes[id]; ok {
			reference = mt
		}
		if !fi.ModTime().After(reference) {
			continue
		}
		p, err := b.cfg.Pages.Read(id)
		if err != nil {
			continue
		}
		if err := b.summarizeOne(ctx, p, manifest, shadow, writtenMtimes); err != nil {
			slog.Warn("rebuild: freshness re-summarize failed", "page", id, "error", err)
		}
	}
	return nil
}

// atomicSwap publishes shadow as the new live index: write shadow to disk,
// swap it into the live *Index in place (synchronous w.r.t. queries), then
// rename the shadow file over the live file. A cross-device rename falls
// back to writing the live path directly and unlinking the shadow.
func (b *BatchSummarizer) atomicSwap(shadow *pageindex.Index) error {
	if err := shadow.Save(); err != nil {
		return err
	}
	livePath := b.cfg.Index.Path()

	b.cfg.Index.Swap(shadow)
	b.cfg.Index.SetIndexPath(livePath)

	if err := os.Rename(b.shadowPath(), livePath); err != nil {
		if werr := b.cfg.Index.Save(); werr != nil {
			return werr
		}
		os.Remove(b.shadowPath())
	}
	return nil
}

func (b *BatchSummarizer) loadProgress() *progress {
	data, err := os.ReadFile(b.progressPath())
	if err == nil {
		var p progress
		if json.Unmarshal(data, &p) == nil && p.CompletedPageIDs != nil {
			if p.FailedPageIDs == nil {
				p.FailedPageIDs = map[string]bool{}
			}
			return &p
		}
	}
	return &progress{
		Version:          progressVersion,
		StartedAt:        time.Now(),
		CompletedPageIDs: map[string]bool{},
		FailedPageIDs:    map[string]bool{},
		ShadowIndexPath:  b.shadowPath(),
	}
}

func (b *BatchSummarizer) flush(prog *progress, shadow *pageindex.Index) {
	data, err := json.MarshalIndent(prog, "", "  ")
	if err != nil {
		slog.Warn("rebuild: marshal progress failed", "error", err)
		return
	}
	if err := os.WriteFile(b.progressPath(), data, 0o644); err != nil {
		slog.Warn("rebuild: write progress failed", "error", err)
	}
	if err := shadow.Save(); err != nil {
		slog.Warn("rebuild: shadow save failed", "error", err)
	}
}
