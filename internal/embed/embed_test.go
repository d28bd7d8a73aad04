package embed

import (
	"context"
	"errors"
	"strings"
	"testing"

	"nexus/internal/catalog"
	"nexus/internal/services"
)

type fakeEmbedder struct {
	vector    []float32
	err       error
	dimension int
	lastInput string
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	f.lastInput = text
	if f.err != nil {
		return nil, f.err
	}
	return f.vector, nil
}

func (f *fakeEmbedder) Dimension() int {
	return f.dimension
}

func TestStageStoresVector(t *testing.T) {
	embedder := &fakeEmbedder{vector: []float32{0.1, 0.2, 0.3}, dimension: 3}
	st := NewStage(embedder, nil)

	job := &catalog.Job{Status: catalog.JobEmbedding}
	item := &catalog.MediaItem{ID: "m1", Summary: "a summary", Transcript: "full transcript"}
	if err := st.Execute(context.Background(), job, item); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	vector, err := item.Embedding()
	if err != nil {
		t.Fatal(err)
	}
	if len(vector) != 3 {
		t.Fatalf("vector = %v", vector)
	}
	if embedder.lastInput != "a summary\n\nfull transcript" {
		t.Fatalf("embedded %q, want summary and transcript combined", embedder.lastInput)
	}
	if job.Progress != 90 {
		t.Fatalf("progress = %f", job.Progress)
	}
}

func TestEmbeddingInputIsCapped(t *testing.T) {
	embedder := &fakeEmbedder{vector: []float32{1}, dimension: 1}
	st := NewStage(embedder, nil)

	item := &catalog.MediaItem{
		ID:         "m1",
		Summary:    "lead summary",
		Transcript: strings.Repeat("x", maxEmbedInputChars*2),
	}
	if err := st.Execute(context.Background(), &catalog.Job{}, item); err != nil {
		t.Fatal(err)
	}
	if len(embedder.lastInput) != maxEmbedInputChars {
		t.Fatalf("input length = %d, want %d", len(embedder.lastInput), maxEmbedInputChars)
	}
	if !strings.HasPrefix(embedder.lastInput, "lead summary\n\n") {
		t.Fatalf("truncation trimmed the summary: %q", embedder.lastInput[:32])
	}
}

func TestStageFallsBackToTranscript(t *testing.T) {
	embedder := &fakeEmbedder{vector: []float32{1}, dimension: 1}
	st := NewStage(embedder, nil)

	item := &catalog.MediaItem{ID: "m1", Transcript: "only transcript"}
	if err := st.Execute(context.Background(), &catalog.Job{}, item); err != nil {
		t.Fatal(err)
	}
	if embedder.lastInput != "only transcript" {
		t.Fatalf("embedded %q", embedder.lastInput)
	}
}

func TestStagePropagatesEmbedderError(t *testing.T) {
	failure := services.Wrap(services.ErrPermanent, "embed", "validate dimension", "mismatch", nil)
	st := NewStage(&fakeEmbedder{err: failure}, nil)

	err := st.Execute(context.Background(), &catalog.Job{}, &catalog.MediaItem{Transcript: "t"})
	if !errors.Is(err, services.ErrPermanent) {
		t.Fatalf("err = %v, want the permanent marker preserved", err)
	}
}

func TestStagePrepareRequiresText(t *testing.T) {
	st := NewStage(&fakeEmbedder{}, nil)
	err := st.Prepare(context.Background(), &catalog.Job{}, &catalog.MediaItem{})
	if !services.IsPermanent(err) {
		t.Fatalf("err = %v, want permanent", err)
	}
}
