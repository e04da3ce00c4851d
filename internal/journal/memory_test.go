package journal

import (
	"context"
	"testing"
)

func TestMemoryJournal(t *testing.T) {
	ctx := context.Background()
	j := NewMemoryJournal()

	if _, ok, err := j.Load(ctx, "run-1", "load-and-chunk"); ok || err != nil {
		t.Fatalf("empty journal returned ok=%v err=%v", ok, err)
	}

	payload := []byte(`{"chunks":["a"],"source_id":"doc1"}`)
	if err := j.Save(ctx, "run-1", "load-and-chunk", payload); err != nil {
		t.Fatal(err)
	}
	payload[0] = 'X'

	data, ok, err := j.Load(ctx, "run-1", "load-and-chunk")
	if err != nil || !ok {
		t.Fatalf("Load ok=%v err=%v", ok, err)
	}
	if data[0] != '{' {
		t.Fatal("journal must copy saved data")
	}
	if _, ok, _ := j.Load(ctx, "run-2", "load-and-chunk"); ok {
		t.Fatal("results must be scoped by run id")
	}
	if j.Len() != 1 {
		t.Fatalf("Len = %d", j.Len())
	}
}
