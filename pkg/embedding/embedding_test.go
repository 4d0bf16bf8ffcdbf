package embedding

import (
	"context"
	"errors"
	"math"
	"testing"
)

type recordingEmbedder struct {
	batches [][]string
	dims    func(i int) int
	err     error
}

func (r *recordingEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if r.err != nil {
		return nil, r.err
	}
	r.batches = append(r.batches, texts)
	out := make([][]float32, len(texts))
	for i := range texts {
		d := 4
		if r.dims != nil {
			d = r.dims(len(r.batches)*100 + i)
		}
		out[i] = make([]float32, d)
		out[i][0] = 1
	}
	return out, nil
}

func TestService_Batches(t *testing.T) {
	rec := &recordingEmbedder{}
	svc := NewService(rec, 2, 0)

	vectors, err := svc.Embed(context.Background(), []string{"a", "b", "c", "d", "e"})
	if err != nil {
		t.Fatalf("Embed failed: %v", err)
	}
	if len(vectors) != 5 {
		t.Fatalf("expected 5 vectors, got %d", len(vectors))
	}
	if len(rec.batches) != 3 {
		t.Errorf("expected 3 batches, got %d", len(rec.batches))
	}
	if svc.Dimension() != 4 {
		t.Errorf("Dimension() = %d, want 4", svc.Dimension())
	}
}

func TestService_DimensionMismatch(t *testing.T) {
	rec := &recordingEmbedder{dims: func(i int) int {
		if i == 101 {
			return 3
		}
		return 4
	}}
	svc := NewService(rec, 0, 0)

	_, err := svc.Embed(context.Background(), []string{"a", "b"})
	var dimErr *DimensionError
	if !errors.As(err, &dimErr) {
		t.Fatalf("expected DimensionError, got %v", err)
	}
	if dimErr.Index != 1 || dimErr.Got != 3 || dimErr.Want != 4 {
		t.Errorf("unexpected error %+v", dimErr)
	}
}

func TestService_PropagatesFailure(t *testing.T) {
	boom := errors.New("provider down")
	svc := NewService(&recordingEmbedder{err: boom}, 10, 0)
	if _, err := svc.Embed(context.Background(), []string{"a"}); !errors.Is(err, boom) {
		t.Errorf("expected wrapped provider error, got %v", err)
	}
}

func TestHashingEmbedder(t *testing.T) {
	h := HashingEmbedder{Dimension: 128}
	vectors, err := h.Embed(context.Background(), []string{
		"nike air max running shoes",
		"nike air max shoes",
		"cast iron skillet",
		"",
	})
	if err != nil {
		t.Fatalf("Embed failed: %v", err)
	}

	for i, v := range vectors {
		if len(v) != 128 {
			t.Fatalf("vector %d has dimension %d", i, len(v))
		}
		var norm float64
		for _, x := range v {
			norm += float64(x) * float64(x)
		}
		if math.Abs(norm-1) > 1e-4 {
			t.Errorf("vector %d is not unit length: %f", i, norm)
		}
	}

	near := cosine(vectors[0], vectors[1])
	far := cosine(vectors[0], vectors[2])
	if near <= far {
		t.Errorf("expected related titles to be closer: near=%f far=%f", near, far)
	}

	again, _ := h.Embed(context.Background(), []string{"nike air max running shoes"})
	if cosine(again[0], vectors[0]) < 0.9999 {
		t.Error("expected deterministic output")
	}
}

func cosine(a, b []float32) float64 {
	var s float64
	for i := range a {
		s += float64(a[i]) * float64(b[i])
	}
	return s
}
