package sumqueue

import (
	"path/filepath"
	"testing"
)

func TestEnqueueDequeueFIFO(t *testing.T) {
	q := Open(filepath.Join(t.TempDir(), "summarization-queue.jsonl"))
	for _, id := range []string{"pg_a", "pg_b", "pg_c"} {
		if err := q.Enqueue(id, "lbl", "assistant"); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}

	size, err := q.Size()
	if err != nil {
		t.Fatalf("Size: %v", err)
	}
	if size != 3 {
		t.Fatalf("expected size 3, got %d", size)
	}

	head, err := q.Dequeue(2)
	if err != nil {
		t.Fatalf("Dequeue: %v", err)
	}
	if len(head) != 2 || head[0].PageID != "pg_a" || head[1].PageID != "pg_b" {
		t.Fatalf("unexpected FIFO order: %+v", head)
	}

	size, _ = q.Size()
	if size != 1 {
		t.Fatalf("expected 1 remaining, got %d", size)
	}
}

func TestDequeueMoreThanAvailable(t *testing.T) {
	q := Open(filepath.Join(t.TempDir(), "summarization-queue.jsonl"))
	q.Enqueue("pg_a", "lbl", "user")

	head, err := q.Dequeue(10)
	if err != nil {
		t.Fatalf("Dequeue: %v", err)
	}
	if len(head) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(head))
	}
}

func TestClearEmptiesQueue(t *testing.T) {
	q := Open(filepath.Join(t.TempDir(), "summarization-queue.jsonl"))
	q.Enqueue("pg_a", "lbl", "user")
	if err := q.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	size, _ := q.Size()
	if size != 0 {
		t.Fatalf("expected 0 after clear, got %d", size)
	}
}

func TestQueueSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "summarization-queue.jsonl")
	q := Open(path)
	q.Enqueue("pg_a", "lbl", "tool")

	reopened := Open(path)
	size, err := reopened.Size()
	if err != nil {
		t.Fatalf("Size: %v", err)
	}
	if size != 1 {
		t.Fatalf("expected persisted entry to survive reopen, got size %d", size)
	}
}
