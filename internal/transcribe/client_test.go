package transcribe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"nexus/internal/blob"
	"nexus/internal/catalog"
	"nexus/internal/services"
)

func writeAudio(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "audio.wav")
	if err := os.WriteFile(path, []byte("RIFF fake audio"), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestTranscribeParsesResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/transcribe" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
		}
		if _, _, err := r.FormFile("audio_file"); err != nil {
			t.Errorf("audio_file part missing: %v", err)
		}
		if got := r.FormValue("model"); got != "base" {
			t.Errorf("model = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
            "text": " hello world ",
            "language": "en",
            "segments": [
                {"start": 0, "end": 1.2, "text": " hello "},
                {"start": 1.2, "end": 2.4, "text": " world "}
            ]
        }`))
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, "base", 30)
	result, err := client.Transcribe(context.Background(), writeAudio(t))
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if result.Text != "hello world" {
		t.Fatalf("text = %q", result.Text)
	}
	if result.Language != "en" {
		t.Fatalf("language = %q", result.Language)
	}
	if len(result.Segments) != 2 || result.Segments[1].Text != "world" {
		t.Fatalf("segments = %+v", result.Segments)
	}
}

func TestTranscribeStatusClassification(t *testing.T) {
	cases := []struct {
		code      int
		transient bool
	}{
		{http.StatusRequestTimeout, true},
		{http.StatusTooManyRequests, true},
		{http.StatusInternalServerError, true},
		{http.StatusBadGateway, true},
		{http.StatusBadRequest, false},
		{http.StatusUnprocessableEntity, false},
	}
	for _, tc := range cases {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "nope", tc.code)
		}))
		client := NewHTTPClient(server.URL, "", 30)
		_, err := client.Transcribe(context.Background(), writeAudio(t))
		server.Close()
		if err == nil {
			t.Fatalf("status %d: expected error", tc.code)
		}
		if services.IsTransient(err) != tc.transient {
			t.Errorf("status %d: transient = %v, want %v (err = %v)",
				tc.code, services.IsTransient(err), tc.transient, err)
		}
	}
}

func TestTranscribeUnreachableServerIsTransient(t *testing.T) {
	client := NewHTTPClient("http://127.0.0.1:1", "", 1)
	_, err := client.Transcribe(context.Background(), writeAudio(t))
	if err == nil {
		t.Fatal("expected error")
	}
	if !services.IsTransient(err) {
		t.Fatalf("unreachable server should be transient, got %v", err)
	}
}

func TestTranscribeMissingAudioIsPermanent(t *testing.T) {
	client := NewHTTPClient("http://127.0.0.1:1", "", 1)
	_, err := client.Transcribe(context.Background(), filepath.Join(t.TempDir(), "missing.wav"))
	if err == nil {
		t.Fatal("expected error")
	}
	if !services.IsPermanent(err) {
		t.Fatalf("missing audio should be permanent, got %v", err)
	}
}

type fakeClient struct {
	result Result
	err    error
}

func (f fakeClient) Transcribe(ctx context.Context, audioPath string) (Result, error) {
	return f.result, f.err
}

func TestStageStoresTranscript(t *testing.T) {
	blobs, err := blob.NewStore(filepath.Join(t.TempDir(), "blobs"))
	if err != nil {
		t.Fatal(err)
	}
	key, err := blobs.PutFile(context.Background(), writeAudio(t))
	if err != nil {
		t.Fatal(err)
	}

	st := NewStageWith(fakeClient{result: Result{
		Text:     "the transcript",
		Segments: []catalog.Segment{{Start: 0, End: 2, Text: "the transcript"}},
	}}, blobs, nil)

	job := &catalog.Job{Status: catalog.JobTranscribing}
	item := &catalog.MediaItem{ID: "m1", BlobKey: key}
	if err := st.Execute(context.Background(), job, item); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if item.Transcript != "the transcript" {
		t.Fatalf("transcript = %q", item.Transcript)
	}
	segments, err := item.Segments()
	if err != nil {
		t.Fatal(err)
	}
	if len(segments) != 1 {
		t.Fatalf("segments = %+v", segments)
	}
	if job.Progress != 70 {
		t.Fatalf("progress = %f", job.Progress)
	}
}

func TestStagePrepareRequiresBlob(t *testing.T) {
	blobs, err := blob.NewStore(filepath.Join(t.TempDir(), "blobs"))
	if err != nil {
		t.Fatal(err)
	}
	st := NewStageWith(fakeClient{}, blobs, nil)
	if err := st.Prepare(context.Background(), &catalog.Job{}, &catalog.MediaItem{}); !services.IsPermanent(err) {
		t.Fatalf("err = %v, want permanent", err)
	}
}
