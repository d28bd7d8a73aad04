package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"nexus/internal/blob"
	"nexus/internal/catalog"
	"nexus/internal/dedup"
	"nexus/internal/logging"
	"nexus/internal/pipeline"
	"nexus/internal/stage"
	"nexus/internal/status"
	"nexus/internal/testsupport"
)

type okStage struct {
	name string
}

func (s okStage) Prepare(context.Context, *catalog.Job, *catalog.MediaItem) error {
	return nil
}

func (s okStage) Execute(_ context.Context, job *catalog.Job, item *catalog.MediaItem) error {
	switch s.name {
	case "extract":
		item.Status = catalog.MediaProcessing
		if item.BlobKey == "" {
			item.BlobKey = "0123456789abcdef"
		}
	case "transcribe":
		item.Transcript = "transcribed text"
	}
	job.SetProgress(s.name, 50)
	return nil
}

func (s okStage) HealthCheck(context.Context) stage.Health {
	return stage.Healthy(s.name)
}

type testEnv struct {
	server  *Server
	manager *pipeline.Manager
	store   *catalog.Store
	blobs   *blob.Store
	http    *httptest.Server
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	blobs, err := blob.NewStore(cfg.Paths.BlobDir)
	if err != nil {
		t.Fatalf("new blob store: %v", err)
	}

	m := pipeline.NewManager(cfg, store, status.NewBroadcaster(), dedup.NewKeyedLock(), logging.NewNop(),
		pipeline.WithPollInterval(10*time.Millisecond),
		pipeline.WithSleeper(func(context.Context, time.Duration) error { return nil }),
	)
	m.ConfigureStages(pipeline.StageSet{
		Extract:    okStage{name: "extract"},
		Dedup:      okStage{name: "dedup"},
		Transcribe: okStage{name: "transcribe"},
		Enrich:     okStage{name: "enrich"},
		Embed:      okStage{name: "embed"},
	})

	srv := NewServer(cfg, m, store, blobs, logging.NewNop())
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return &testEnv{server: srv, manager: m, store: store, blobs: blobs, http: ts}
}

func (e *testEnv) startManager(t *testing.T) {
	t.Helper()
	if err := e.manager.Start(context.Background()); err != nil {
		t.Fatalf("start manager: %v", err)
	}
	t.Cleanup(e.manager.Stop)
}

func (e *testEnv) postJSON(t *testing.T, path string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	resp, err := http.Post(e.http.URL+path, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var out T
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func (e *testEnv) waitForJobStatus(t *testing.T, jobID string, want catalog.JobStatus) JobView {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := http.Get(e.http.URL + "/api/jobs/" + jobID)
		if err != nil {
			t.Fatalf("GET job: %v", err)
		}
		view := decodeBody[JobView](t, resp)
		if view.Status == string(want) {
			return view
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("job %s never reached status %s", jobID, want)
	return JobView{}
}

func TestSubmitURLRunsJob(t *testing.T) {
	env := newTestEnv(t)
	env.startManager(t)

	resp := env.postJSON(t, "/api/media/url", SubmitURLRequest{SourceURL: "https://example.com/audio"})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusAccepted)
	}
	receipt := decodeBody[SubmitResponse](t, resp)
	if receipt.JobID == "" || receipt.MediaID == "" {
		t.Fatalf("incomplete receipt: %+v", receipt)
	}

	job := env.waitForJobStatus(t, receipt.JobID, catalog.JobCompleted)
	if job.Progress != 100 {
		t.Errorf("completed job progress = %v, want 100", job.Progress)
	}

	mediaResp, err := http.Get(env.http.URL + "/api/media/" + receipt.MediaID)
	if err != nil {
		t.Fatalf("GET media: %v", err)
	}
	media := decodeBody[MediaView](t, mediaResp)
	if media.Status != string(catalog.MediaCompleted) {
		t.Errorf("media status = %s, want %s", media.Status, catalog.MediaCompleted)
	}
	if media.Transcript != "transcribed text" {
		t.Errorf("media transcript = %q", media.Transcript)
	}
}

func TestSubmitURLRejectsBadRequests(t *testing.T) {
	env := newTestEnv(t)

	resp := env.postJSON(t, "/api/media/url", SubmitURLRequest{})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("empty request status = %d, want 400", resp.StatusCode)
	}
	resp.Body.Close()

	raw, err := http.Post(env.http.URL+"/api/media/url", "application/json", strings.NewReader("{not json"))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	if raw.StatusCode != http.StatusBadRequest {
		t.Errorf("malformed body status = %d, want 400", raw.StatusCode)
	}
	raw.Body.Close()

	get, err := http.Get(env.http.URL + "/api/media/url")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	if get.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("GET status = %d, want 405", get.StatusCode)
	}
	get.Body.Close()
}

func TestUploadStoresPayload(t *testing.T) {
	env := newTestEnv(t)

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", "clip.mp3")
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	fmt.Fprint(part, "fake audio payload")
	if err := writer.WriteField("title", "My Clip"); err != nil {
		t.Fatalf("write field: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}

	resp, err := http.Post(env.http.URL+"/api/media/upload", writer.FormDataContentType(), &body)
	if err != nil {
		t.Fatalf("POST upload: %v", err)
	}
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusAccepted)
	}
	receipt := decodeBody[SubmitResponse](t, resp)

	item, err := env.store.GetMedia(context.Background(), receipt.MediaID)
	if err != nil {
		t.Fatalf("get media: %v", err)
	}
	if item.BlobKey == "" {
		t.Fatal("uploaded media lost its blob key")
	}
	if item.Title != "My Clip" {
		t.Errorf("title = %q, want My Clip", item.Title)
	}
	reader, err := env.blobs.Get(context.Background(), item.BlobKey)
	if err != nil {
		t.Fatalf("payload not in blob store: %v", err)
	}
	reader.Close()
}

func TestMediaListFiltersByStatus(t *testing.T) {
	env := newTestEnv(t)

	for _, st := range []catalog.MediaStatus{catalog.MediaPending, catalog.MediaCompleted} {
		item := &catalog.MediaItem{Title: string(st), Kind: catalog.KindAudio, Status: st}
		if err := env.store.CreateMedia(context.Background(), item); err != nil {
			t.Fatalf("create media: %v", err)
		}
	}

	resp, err := http.Get(env.http.URL + "/api/media?status=completed")
	if err != nil {
		t.Fatalf("GET media: %v", err)
	}
	list := decodeBody[MediaListResponse](t, resp)
	if len(list.Items) != 1 {
		t.Fatalf("filtered list has %d items, want 1", len(list.Items))
	}
	if list.Items[0].Status != string(catalog.MediaCompleted) {
		t.Errorf("item status = %s", list.Items[0].Status)
	}

	bad, err := http.Get(env.http.URL + "/api/media?status=bogus")
	if err != nil {
		t.Fatalf("GET media: %v", err)
	}
	if bad.StatusCode != http.StatusBadRequest {
		t.Errorf("bogus status filter = %d, want 400", bad.StatusCode)
	}
	bad.Body.Close()
}

func TestJobLookupAndCancel(t *testing.T) {
	env := newTestEnv(t)

	missing, err := http.Get(env.http.URL + "/api/jobs/no-such-job")
	if err != nil {
		t.Fatalf("GET job: %v", err)
	}
	if missing.StatusCode != http.StatusNotFound {
		t.Errorf("missing job status = %d, want 404", missing.StatusCode)
	}
	missing.Body.Close()

	resp := env.postJSON(t, "/api/media/url", SubmitURLRequest{SourceURL: "https://example.com/a"})
	receipt := decodeBody[SubmitResponse](t, resp)

	cancelResp, err := http.Post(env.http.URL+"/api/jobs/"+receipt.JobID+"/cancel", "application/json", nil)
	if err != nil {
		t.Fatalf("POST cancel: %v", err)
	}
	cancelled := decodeBody[CancelResponse](t, cancelResp)
	if !cancelled.Cancelled {
		t.Error("expected pending job to be cancellable")
	}

	missingCancel, err := http.Post(env.http.URL+"/api/jobs/no-such-job/cancel", "application/json", nil)
	if err != nil {
		t.Fatalf("POST cancel: %v", err)
	}
	if missingCancel.StatusCode != http.StatusNotFound {
		t.Errorf("cancel of missing job = %d, want 404", missingCancel.StatusCode)
	}
	missingCancel.Body.Close()
}

func TestRetryRequeuesFailedMedia(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	resp := env.postJSON(t, "/api/media/url", SubmitURLRequest{SourceURL: "https://example.com/retry"})
	receipt := decodeBody[SubmitResponse](t, resp)

	job, err := env.store.GetJob(ctx, receipt.JobID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	job.Status = catalog.JobError
	job.ErrorMessage = "transcription server unreachable"
	if err := env.store.UpdateJob(ctx, job); err != nil {
		t.Fatalf("mark job failed: %v", err)
	}
	item, err := env.store.GetMedia(ctx, receipt.MediaID)
	if err != nil {
		t.Fatalf("get media: %v", err)
	}
	item.Status = catalog.MediaError
	if err := env.store.UpdateMedia(ctx, item); err != nil {
		t.Fatalf("mark media failed: %v", err)
	}

	retryResp, err := http.Post(env.http.URL+"/api/media/"+receipt.MediaID+"/retry", "application/json", nil)
	if err != nil {
		t.Fatalf("POST retry: %v", err)
	}
	if retryResp.StatusCode != http.StatusAccepted {
		t.Fatalf("retry status = %d, want 202", retryResp.StatusCode)
	}
	requeued := decodeBody[SubmitResponse](t, retryResp)
	if requeued.JobID == receipt.JobID {
		t.Error("expected a fresh job id on retry")
	}
	if requeued.Status != string(catalog.JobPending) {
		t.Errorf("requeued status = %q, want pending", requeued.Status)
	}

	item, err = env.store.GetMedia(ctx, receipt.MediaID)
	if err != nil {
		t.Fatalf("get media: %v", err)
	}
	if item.Status != catalog.MediaPending {
		t.Errorf("media status after retry = %q, want pending", item.Status)
	}

	// The new job is still pending, so a second retry must be refused.
	again, err := http.Post(env.http.URL+"/api/media/"+receipt.MediaID+"/retry", "application/json", nil)
	if err != nil {
		t.Fatalf("POST retry: %v", err)
	}
	if again.StatusCode != http.StatusConflict {
		t.Errorf("second retry status = %d, want 409", again.StatusCode)
	}
	again.Body.Close()

	missing, err := http.Post(env.http.URL+"/api/media/no-such-item/retry", "application/json", nil)
	if err != nil {
		t.Fatalf("POST retry: %v", err)
	}
	if missing.StatusCode != http.StatusNotFound {
		t.Errorf("retry of missing media = %d, want 404", missing.StatusCode)
	}
	missing.Body.Close()
}

func TestDeleteMediaRefusesInFlightJob(t *testing.T) {
	env := newTestEnv(t)

	resp := env.postJSON(t, "/api/media/url", SubmitURLRequest{SourceURL: "https://example.com/del"})
	receipt := decodeBody[SubmitResponse](t, resp)

	req, err := http.NewRequest(http.MethodDelete, env.http.URL+"/api/media/"+receipt.MediaID, nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	conflict, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE: %v", err)
	}
	if conflict.StatusCode != http.StatusConflict {
		t.Fatalf("delete with pending job = %d, want 409", conflict.StatusCode)
	}
	conflict.Body.Close()

	env.startManager(t)
	env.waitForJobStatus(t, receipt.JobID, catalog.JobCompleted)

	req2, err := http.NewRequest(http.MethodDelete, env.http.URL+"/api/media/"+receipt.MediaID, nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	ok, err := http.DefaultClient.Do(req2)
	if err != nil {
		t.Fatalf("DELETE: %v", err)
	}
	deleted := decodeBody[DeleteResponse](t, ok)
	if !deleted.Deleted {
		t.Error("expected delete to succeed after the job completed")
	}

	gone, err := http.Get(env.http.URL + "/api/media/" + receipt.MediaID)
	if err != nil {
		t.Fatalf("GET media: %v", err)
	}
	if gone.StatusCode != http.StatusNotFound {
		t.Errorf("deleted media lookup = %d, want 404", gone.StatusCode)
	}
	gone.Body.Close()

	// The delete also drops the broadcaster's terminal marker for the job,
	// so a subscription no longer replays a closed stream.
	sub := env.manager.Subscribe(receipt.JobID)
	defer env.manager.Unsubscribe(receipt.JobID, sub)
	select {
	case _, open := <-sub:
		if !open {
			t.Error("deleted job should be forgotten by the broadcaster")
		}
	default:
	}
}

func TestStatsAndHealth(t *testing.T) {
	env := newTestEnv(t)
	env.startManager(t)

	resp := env.postJSON(t, "/api/media/url", SubmitURLRequest{SourceURL: "https://example.com/stats"})
	receipt := decodeBody[SubmitResponse](t, resp)
	env.waitForJobStatus(t, receipt.JobID, catalog.JobCompleted)

	statsResp, err := http.Get(env.http.URL + "/api/stats")
	if err != nil {
		t.Fatalf("GET stats: %v", err)
	}
	stats := decodeBody[StatsResponse](t, statsResp)
	if stats.Total != 1 || stats.Completed != 1 {
		t.Errorf("stats = %+v, want total 1 completed 1", stats)
	}

	healthResp, err := http.Get(env.http.URL + "/api/health")
	if err != nil {
		t.Fatalf("GET health: %v", err)
	}
	health := decodeBody[HealthResponse](t, healthResp)
	if !health.Running || !health.Healthy {
		t.Errorf("health = %+v, want running and healthy", health)
	}
	if len(health.Stages) != 5 {
		t.Errorf("health reports %d stages, want 5", len(health.Stages))
	}
}

func TestWebSocketStreamsJobToCompletion(t *testing.T) {
	env := newTestEnv(t)

	resp := env.postJSON(t, "/api/media/url", SubmitURLRequest{SourceURL: "https://example.com/ws"})
	receipt := decodeBody[SubmitResponse](t, resp)

	wsURL := "ws" + strings.TrimPrefix(env.http.URL, "http") + "/ws"
	conn, dialResp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial websocket: %v", err)
	}
	if dialResp != nil {
		dialResp.Body.Close()
	}
	defer conn.Close()

	if err := conn.WriteJSON(wsSubscribe{Action: "subscribe", JobID: receipt.JobID}); err != nil {
		t.Fatalf("send subscribe: %v", err)
	}

	// First frame replays the job's current state.
	var snapshot status.Event
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if err := conn.ReadJSON(&snapshot); err != nil {
		t.Fatalf("read snapshot: %v", err)
	}
	if snapshot.JobID != receipt.JobID {
		t.Fatalf("snapshot for job %s, want %s", snapshot.JobID, receipt.JobID)
	}

	env.startManager(t)

	deadline := time.Now().Add(10 * time.Second)
	for {
		if time.Now().After(deadline) {
			t.Fatal("never received a terminal event")
		}
		var ev status.Event
		conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		if err := conn.ReadJSON(&ev); err != nil {
			t.Fatalf("read event: %v", err)
		}
		if ev.Terminal() {
			if ev.Status != catalog.JobCompleted {
				t.Fatalf("terminal event status = %s, want %s", ev.Status, catalog.JobCompleted)
			}
			return
		}
	}
}

func TestWebSocketRejectsUnknownJob(t *testing.T) {
	env := newTestEnv(t)

	wsURL := "ws" + strings.TrimPrefix(env.http.URL, "http") + "/ws"
	conn, dialResp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial websocket: %v", err)
	}
	if dialResp != nil {
		dialResp.Body.Close()
	}
	defer conn.Close()

	if err := conn.WriteJSON(wsSubscribe{Action: "subscribe", JobID: "no-such-job"}); err != nil {
		t.Fatalf("send subscribe: %v", err)
	}
	var errFrame wsError
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if err := conn.ReadJSON(&errFrame); err != nil {
		t.Fatalf("read error frame: %v", err)
	}
	if errFrame.Error == "" {
		t.Error("expected an error frame for an unknown job")
	}
}
