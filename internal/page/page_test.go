package page

import (
	"os"
	"testing"
	"time"
)

func TestWriteIsContentAddressedAndIdempotent(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	content := "user: hello\nassistant: hi there\n"
	p1 := &Page{Label: "lane-assistant-1", Content: content, CreatedAt: time.Now(), MessageCount: 2, Tokens: 10, Lane: "assistant"}
	if err := s.Write(p1); err != nil {
		t.Fatalf("Write: %v", err)
	}
	id1 := p1.ID

	p2 := &Page{Label: "lane-assistant-1-again", Content: content, CreatedAt: time.Now(), MessageCount: 2, Tokens: 10, Lane: "assistant"}
	if err := s.Write(p2); err != nil {
		t.Fatalf("Write second: %v", err)
	}

	if p1.ID != p2.ID {
		t.Fatalf("expected identical ids for identical content, got %s vs %s", p1.ID, p2.ID)
	}
	if s.Count() != 1 {
		t.Fatalf("expected page count 1 after duplicate write, got %d", s.Count())
	}
	if id1 != IDFromContent(content) {
		t.Fatalf("id mismatch: %s vs %s", id1, IDFromContent(content))
	}
}

func TestReadMissingPageFile(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := s.Read("pg_nonexistent"); err == nil {
		t.Fatal("expected error reading nonexistent page")
	}
}

func TestSetSummaryMutatesInPlace(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	p := &Page{Content: "some content", CreatedAt: time.Now(), Lane: "user"}
	if err := s.Write(p); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := s.SetSummary(p.ID, "a dense summary @@ref('"+p.ID+"')@@"); err != nil {
		t.Fatalf("SetSummary: %v", err)
	}
	got, err := s.Read(p.ID)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got.Summary == "" {
		t.Fatal("expected summary to be persisted")
	}
}

func TestManifestSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	p := &Page{Content: "content A", CreatedAt: time.Now(), Lane: "tool"}
	if err := s.Write(p); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := s.SetActive([]string{p.ID}, []string{p.ID}); err != nil {
		t.Fatalf("SetActive: %v", err)
	}

	reopened, err := Open(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if !reopened.HasPage(p.ID) {
		t.Fatal("expected reopened store to know about page")
	}
	active := reopened.ActivePageIDs()
	if len(active) != 1 || active[0] != p.ID {
		t.Fatalf("expected active ids to round-trip, got %v", active)
	}
}

func TestRecoverOrphanedShadow(t *testing.T) {
	dir := t.TempDir()
	live := dir + "/embeddings.json"
	shadow := dir + "/embeddings.shadow.json"
	progress := dir + "/batch-progress.json"

	if err := atomicWrite(shadow, []byte(`{"version":1}`)); err != nil {
		t.Fatalf("write shadow: %v", err)
	}
	if err := RecoverOrphanedShadow(live, shadow, progress); err != nil {
		t.Fatalf("RecoverOrphanedShadow: %v", err)
	}
	if _, err := os.Stat(live); err != nil {
		t.Fatalf("expected live index to exist after recovery: %v", err)
	}
	if _, err := os.Stat(shadow); err == nil {
		t.Fatal("expected shadow to be gone after rename")
	}
}
