package store

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"mnist-forge/internal/model"
)

func newStore(t *testing.T) *CheckpointStore {
	t.Helper()
	db, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	s, err := NewCheckpointStore(db)
	if err != nil {
		t.Fatalf("NewCheckpointStore failed: %v", err)
	}
	return s
}

func checkpoint(epoch int, scale float32) model.Checkpoint {
	return model.Checkpoint{
		Weights: [][]float32{{0.5 * scale, -1, 2}, {0, 0.25, scale}},
		Bias:    []float32{scale, -scale},
		Epoch:   epoch,
	}
}

func TestCheckpointStoreSaveLoad(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	for i, loss := range []float64{0.9, 0.2, 0.4} {
		if err := s.Save(ctx, checkpoint(i+1, float32(i+1)), loss, 0.5); err != nil {
			t.Fatalf("Save epoch %d: %v", i+1, err)
		}
	}

	got, err := s.Load(ctx, 2)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !reflect.DeepEqual(got.Checkpoint, checkpoint(2, 2)) {
		t.Fatalf("Load mismatch: %+v", got.Checkpoint)
	}
	if got.Loss != 0.2 {
		t.Fatalf("expected loss 0.2, got %f", got.Loss)
	}

	latest, err := s.Latest(ctx)
	if err != nil || latest.Checkpoint.Epoch != 3 {
		t.Fatalf("Latest: epoch %d err %v", latest.Checkpoint.Epoch, err)
	}
	best, err := s.Best(ctx)
	if err != nil || best.Checkpoint.Epoch != 2 {
		t.Fatalf("Best: epoch %d err %v", best.Checkpoint.Epoch, err)
	}
	epochs, err := s.Epochs(ctx)
	if err != nil {
		t.Fatalf("Epochs: %v", err)
	}
	if !reflect.DeepEqual(epochs, []int{1, 2, 3}) {
		t.Fatalf("Epochs = %v", epochs)
	}

	m, err := latest.Checkpoint.ToModel()
	if err != nil {
		t.Fatalf("ToModel: %v", err)
	}
	if m.Epoch() != 3 || m.Classes() != 2 || m.Features() != 3 {
		t.Fatalf("unexpected model from store: classes=%d features=%d epoch=%d", m.Classes(), m.Features(), m.Epoch())
	}
}

func TestCheckpointStoreUpsert(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	if err := s.Save(ctx, checkpoint(1, 1), 0.9, 0.1); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := s.Save(ctx, checkpoint(1, 4), 0.7, 0.3); err != nil {
		t.Fatalf("Save again: %v", err)
	}
	got, err := s.Load(ctx, 1)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !reflect.DeepEqual(got.Checkpoint, checkpoint(1, 4)) || got.Accuracy != 0.3 {
		t.Fatalf("expected overwritten checkpoint, got %+v", got)
	}
	epochs, _ := s.Epochs(ctx)
	if len(epochs) != 1 {
		t.Fatalf("expected single epoch after upsert, got %v", epochs)
	}
}

func TestCheckpointStoreErrors(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	if _, err := s.Latest(ctx); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := s.Load(ctx, 7); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	bad := model.Checkpoint{Weights: [][]float32{{1, 2}, {3}}, Bias: []float32{0, 0}}
	if err := s.Save(ctx, bad, 0, 0); !errors.Is(err, model.ErrMalformedCheckpoint) {
		t.Fatalf("expected ErrMalformedCheckpoint, got %v", err)
	}
	if _, err := NewCheckpointStore(nil); err == nil {
		t.Fatalf("expected error for nil db")
	}
}

func TestEncodeDecodeFloats(t *testing.T) {
	in := []float32{0, -1.5, 3.25, 1e-7}
	out, err := decodeFloats(encodeFloats(in))
	if err != nil {
		t.Fatalf("decodeFloats: %v", err)
	}
	if !reflect.DeepEqual(in, out) {
		t.Fatalf("round trip mismatch: %v vs %v", in, out)
	}
	if _, err := decodeFloats([]byte{1, 2, 3}); err == nil {
		t.Fatalf("expected error for truncated blob")
	}
}
