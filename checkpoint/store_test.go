package checkpoint

import (
	"context"
	"path/filepath"
	"testing"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	s := NewStore(filepath.Join(t.TempDir(), "checkpoints.db"))
	if err := s.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStoreRequiresPath(t *testing.T) {
	s := NewStore("")
	if err := s.Init(context.Background()); err == nil {
		t.Error("empty path accepted")
	}
}

func TestStoreRequiresInit(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "checkpoints.db"))
	if err := s.Save(context.Background(), "exp", Payload{}); err == nil {
		t.Error("save before Init should fail")
	}
}

func TestStoreSaveLoad(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	pop := testPopulation(t, 3)
	p := Snapshot(5, 1600, pop, testArch, 0)
	if err := s.Save(ctx, "exp-1", p); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, ok, err := s.Load(ctx, "exp-1", 5)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !ok {
		t.Fatal("checkpoint not found")
	}
	if got.Generation != 5 || got.MaxGlobalElo != 1600 || len(got.Agents) != 3 {
		t.Errorf("loaded payload mismatch: %+v", got)
	}

	_, ok, err = s.Load(ctx, "exp-1", 99)
	if err != nil {
		t.Fatalf("Load missing: %v", err)
	}
	if ok {
		t.Error("found a checkpoint that was never saved")
	}
}

func TestStoreLatestAndUpsert(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	pop := testPopulation(t, 2)

	for _, gen := range []int{1, 3, 2} {
		if err := s.Save(ctx, "exp-1", Snapshot(gen, 1500, pop, testArch, 0)); err != nil {
			t.Fatalf("Save gen %d: %v", gen, err)
		}
	}
	// Unrelated experiment must not leak in.
	if err := s.Save(ctx, "exp-2", Snapshot(10, 1500, pop, testArch, 0)); err != nil {
		t.Fatalf("Save exp-2: %v", err)
	}

	got, ok, err := s.Latest(ctx, "exp-1")
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if !ok || got.Generation != 3 {
		t.Fatalf("latest generation = %d (found %v), want 3", got.Generation, ok)
	}

	// Re-saving the same generation overwrites, not duplicates.
	p := Snapshot(3, 1777, pop, testArch, 0)
	if err := s.Save(ctx, "exp-1", p); err != nil {
		t.Fatalf("re-Save: %v", err)
	}
	got, _, err = s.Load(ctx, "exp-1", 3)
	if err != nil {
		t.Fatalf("Load after upsert: %v", err)
	}
	if got.MaxGlobalElo != 1777 {
		t.Errorf("upsert did not overwrite: max elo %v", got.MaxGlobalElo)
	}
}

func TestStorePrune(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	pop := testPopulation(t, 2)

	for gen := 0; gen < 10; gen++ {
		if err := s.Save(ctx, "exp-1", Snapshot(gen, 1500, pop, testArch, 0)); err != nil {
			t.Fatalf("Save gen %d: %v", gen, err)
		}
	}
	if err := s.Prune(ctx, "exp-1", 2); err != nil {
		t.Fatalf("Prune: %v", err)
	}

	// Generations 7..9 survive the prune.
	if _, ok, _ := s.Load(ctx, "exp-1", 6); ok {
		t.Error("generation 6 survived a keep-last-2 prune")
	}
	if _, ok, _ := s.Load(ctx, "exp-1", 7); !ok {
		t.Error("generation 7 pruned but should be kept")
	}
}
