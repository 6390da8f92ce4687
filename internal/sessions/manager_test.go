package sessions

import (
	"path/filepath"
	"testing"

	"github.com/nextlevelbuilder/pagedclaw/internal/page"
	"github.com/nextlevelbuilder/pagedclaw/internal/vm"
)

func testFactory(t *testing.T) Factory {
	t.Helper()
	return func(key string) (*vm.VirtualMemory, error) {
		store, err := page.Open(filepath.Join(t.TempDir(), "pages"))
		if err != nil {
			return nil, err
		}
		return vm.New(vm.Config{SystemPrompt: "agent for " + key, Pages: store}), nil
	}
}

func TestGetCreatesAndReusesSession(t *testing.T) {
	m := NewManager(t.TempDir(), testFactory(t))

	a, err := m.Get("agent:default:telegram:direct:1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	b, err := m.Get("agent:default:telegram:direct:1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if a != b {
		t.Fatalf("expected second Get to return the same in-memory session")
	}
}

func TestSaveAndReloadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	factory := testFactory(t)
	m := NewManager(dir, factory)

	key := "agent:default:cli:main"
	mem, err := m.Get(key)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	mem.Add(vm.Message{Role: "user", Content: "hello there"})
	if err := m.Save(key); err != nil {
		t.Fatalf("Save: %v", err)
	}

	m2 := NewManager(dir, factory)
	mem2, err := m2.Get(key)
	if err != nil {
		t.Fatalf("Get (reload): %v", err)
	}
	found := false
	for _, msg := range mem2.Messages() {
		if msg.Content == "hello there" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected reloaded session to contain prior message")
	}
}

func TestEvictIdleUnloadsAndPersists(t *testing.T) {
	dir := t.TempDir()
	factory := testFactory(t)
	m := NewManager(dir, factory)

	key := "agent:default:cli:idle"
	mem, err := m.Get(key)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	mem.Add(vm.Message{Role: "user", Content: "idle test"})

	if err := m.EvictIdle(0); err != nil {
		t.Fatalf("EvictIdle: %v", err)
	}
	if len(m.Keys()) != 0 {
		t.Fatalf("expected session evicted from in-process registry")
	}

	reloaded, err := m.Get(key)
	if err != nil {
		t.Fatalf("Get after evict: %v", err)
	}
	found := false
	for _, msg := range reloaded.Messages() {
		if msg.Content == "idle test" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected eviction to have persisted session before unload")
	}
}

func TestDeleteRemovesPersistedFile(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(dir, testFactory(t))

	key := "agent:default:cli:throwaway"
	if _, err := m.Get(key); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if err := m.Save(key); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := m.Delete(key); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	for _, k := range m.PersistedKeys() {
		if k == key {
			t.Fatalf("expected persisted file removed after Delete")
		}
	}
}

func TestPersistedKeysEmptyWithoutStorage(t *testing.T) {
	m := NewManager("", testFactory(t))
	if keys := m.PersistedKeys(); keys != nil {
		t.Fatalf("expected nil persisted keys with no storage configured, got %v", keys)
	}
}

func TestSaveAllPersistsEveryLoadedSession(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(dir, testFactory(t))

	keys := []string{"agent:default:cli:1", "agent:default:cli:2"}
	for _, k := range keys {
		mem, err := m.Get(k)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		mem.Add(vm.Message{Role: "user", Content: "content for " + k})
	}
	if err := m.SaveAll(); err != nil {
		t.Fatalf("SaveAll: %v", err)
	}
	for _, k := range keys {
		found := false
		for _, pk := range m.PersistedKeys() {
			if pk == k {
				found = true
			}
		}
		if !found {
			t.Fatalf("expected %q persisted after SaveAll", k)
		}
	}
}
