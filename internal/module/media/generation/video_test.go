package generation

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uniedit/mediaflow/internal/module/media/progress"
	"github.com/uniedit/mediaflow/internal/module/media/provider"
)

func statusSequence(statuses ...map[string]any) []func(w http.ResponseWriter) {
	fns := make([]func(w http.ResponseWriter), 0, len(statuses))
	for _, s := range statuses {
		fns = append(fns, respond(http.StatusOK, s))
	}
	return fns
}

func newTestPoller(t *testing.T, srv *httptest.Server, cfg PollConfig, clock Clock) (*VideoPoller, *provider.Catalog) {
	t.Helper()
	catalog := testCatalog(t, srv.URL)
	return NewVideoPoller(catalog, srv.Client(), nil, cfg, clock, nil, nil), catalog
}

func assertMonotonic(t *testing.T, events []progress.Event) {
	t.Helper()
	for i := 1; i < len(events); i++ {
		assert.GreaterOrEqual(t, events[i].Percent, events[i-1].Percent, "event %d went backwards", i)
	}
}

func TestVideoPoller_CompletesAfterPolling(t *testing.T) {
	video := []byte("fake-mp4-bytes")
	rs := newRecordingServer()
	rs.on("/openai/videos", respond(http.StatusOK, map[string]any{"videoId": "vid-1"}))
	rs.on("/openai/videos/status", statusSequence(
		map[string]any{"status": "queued", "progress": 0},
		map[string]any{"status": "processing", "progress": 30},
		map[string]any{"status": "processing", "progress": 70},
		map[string]any{"status": "completed", "progress": 100},
	)...)
	rs.on("/openai/videos/content", respond(http.StatusOK, map[string]any{
		"data":        base64.StdEncoding.EncodeToString(video),
		"contentType": "video/mp4",
		"duration":    8.0,
		"width":       1280,
		"height":      720,
	}))
	srv := httptest.NewServer(rs)
	defer srv.Close()

	clock := newFakeClock()
	poller, catalog := newTestPoller(t, srv, PollConfig{Interval: 5 * time.Second, MaxAttempts: 60}, clock)
	rec := &progress.Recorder{}

	result, err := poller.Generate(context.Background(), mustRequest(t, catalog, provider.IDOpenAI, "", Options{}), rec)
	require.NoError(t, err)

	assert.Equal(t, 4, rs.calls("/openai/videos/status"))
	assert.Equal(t, 1, rs.calls("/openai/videos/content"))
	assert.Equal(t, 4, clock.sleepCount())
	assert.Equal(t, video, result.Data)
	assert.Equal(t, "video/mp4", result.ContentType)
	assert.Equal(t, JobCompleted, result.Job.Status)
	assert.Equal(t, "vid-1", result.Job.ID)
	assert.NotNil(t, result.Job.EndedAt)
	assert.Equal(t, 1280, result.Metrics.Width)
	assert.Equal(t, int64(len(video)), result.Metrics.SizeBytes)

	last, ok := rec.Last()
	require.True(t, ok)
	assert.Equal(t, 100, last.Percent)
	assert.Equal(t, progress.StageCompleted, last.Stage)
	assert.Equal(t, "vid-1", last.JobID)
	assertMonotonic(t, rec.Events())

	body := rs.body("/openai/videos", 0)
	assert.Equal(t, "sora-2", body["model"])
	assert.EqualValues(t, DefaultVideoSeconds, body["seconds"])
}

type countingTransport struct {
	next  http.RoundTripper
	paths []string
}

func (c *countingTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	c.paths = append(c.paths, r.URL.Path)
	return c.next.RoundTrip(r)
}

func TestVideoPoller_DownloadClient(t *testing.T) {
	rs := newRecordingServer()
	rs.on("/openai/videos", respond(http.StatusOK, map[string]any{"videoId": "vid-2"}))
	rs.on("/openai/videos/status", respond(http.StatusOK, map[string]any{"status": "completed", "progress": 100}))
	rs.on("/openai/videos/content", respond(http.StatusOK, map[string]any{
		"data":        base64.StdEncoding.EncodeToString([]byte("mp4")),
		"contentType": "video/mp4",
	}))
	srv := httptest.NewServer(rs)
	defer srv.Close()

	downloads := &countingTransport{next: srv.Client().Transport}
	catalog := testCatalog(t, srv.URL)
	poller := NewVideoPoller(catalog, srv.Client(), nil, PollConfig{Interval: time.Second, MaxAttempts: 3}, newFakeClock(), nil, nil,
		WithDownloadClient(&http.Client{Transport: downloads}))

	result, err := poller.Generate(context.Background(), mustRequest(t, catalog, provider.IDOpenAI, "", Options{}), nil)
	require.NoError(t, err)

	assert.Equal(t, []byte("mp4"), result.Data)
	assert.Equal(t, []string{"/openai/videos/content"}, downloads.paths)
	assert.Equal(t, 1, rs.calls("/openai/videos/status"))
}

func TestVideoPoller_Timeout(t *testing.T) {
	rs := newRecordingServer()
	rs.on("/openai/videos", respond(http.StatusOK, map[string]any{"id": "vid-slow"}))
	rs.on("/openai/videos/status", respond(http.StatusOK, map[string]any{"status": "processing", "progress": 50}))
	srv := httptest.NewServer(rs)
	defer srv.Close()

	poller, catalog := newTestPoller(t, srv, PollConfig{Interval: time.Second, MaxAttempts: 7}, newFakeClock())

	_, err := poller.Generate(context.Background(), mustRequest(t, catalog, provider.IDOpenAI, "", Options{}), nil)

	var timeout *PollingTimeoutError
	require.True(t, errors.As(err, &timeout))
	assert.Equal(t, 7, timeout.Attempts)
	assert.Equal(t, "vid-slow", timeout.JobID)
	assert.Equal(t, 7, rs.calls("/openai/videos/status"))
	assert.Equal(t, 0, rs.calls("/openai/videos/content"))
}

func TestVideoPoller_JobFailed(t *testing.T) {
	rs := newRecordingServer()
	rs.on("/openai/videos", respond(http.StatusOK, map[string]any{"videoId": "vid-bad"}))
	rs.on("/openai/videos/status", statusSequence(
		map[string]any{"status": "in_progress", "progress": 10},
		map[string]any{"status": "failed", "error": map[string]any{"message": "content policy violation"}},
	)...)
	srv := httptest.NewServer(rs)
	defer srv.Close()

	poller, catalog := newTestPoller(t, srv, PollConfig{Interval: time.Second, MaxAttempts: 10}, newFakeClock())
	rec := &progress.Recorder{}

	_, err := poller.Generate(context.Background(), mustRequest(t, catalog, provider.IDOpenAI, "", Options{}), rec)

	var failed *JobFailedError
	require.True(t, errors.As(err, &failed))
	assert.Equal(t, "content policy violation", failed.Message)
	assert.Equal(t, 2, rs.calls("/openai/videos/status"))

	last, _ := rec.Last()
	assert.Equal(t, progress.StageError, last.Stage)
	assert.Equal(t, "content policy violation", last.Message)
}

func TestVideoPoller_Cancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var polls atomic.Int32
	rs := newRecordingServer()
	rs.on("/openai/videos", respond(http.StatusOK, map[string]any{"videoId": "vid-c"}))
	rs.on("/openai/videos/status", func(w http.ResponseWriter) {
		polls.Add(1)
		cancel()
		writeJSON(w, http.StatusOK, map[string]any{"status": "processing"})
	})
	srv := httptest.NewServer(rs)
	defer srv.Close()

	poller, catalog := newTestPoller(t, srv, PollConfig{Interval: time.Second, MaxAttempts: 60}, newFakeClock())

	_, err := poller.Generate(ctx, mustRequest(t, catalog, provider.IDOpenAI, "", Options{}), nil)
	require.ErrorIs(t, err, context.Canceled)
	assert.LessOrEqual(t, polls.Load(), int32(1))
}

func TestVideoPoller_PreResolved(t *testing.T) {
	video := []byte("inline-video")
	rs := newRecordingServer()
	rs.on("/gemini/videos", respond(http.StatusOK, map[string]any{
		"video": map[string]any{"data": base64.StdEncoding.EncodeToString(video), "contentType": "video/mp4"},
	}))
	srv := httptest.NewServer(rs)
	defer srv.Close()

	clock := newFakeClock()
	poller, catalog := newTestPoller(t, srv, DefaultVideoPollConfig(), clock)
	rec := &progress.Recorder{}

	result, err := poller.Generate(context.Background(), mustRequest(t, catalog, provider.IDGemini, "", Options{}), rec)
	require.NoError(t, err)

	assert.Equal(t, video, result.Data)
	assert.Equal(t, JobCompleted, result.Job.Status)
	assert.NotEmpty(t, result.Job.ID)
	assert.Equal(t, 0, clock.sleepCount())

	last, _ := rec.Last()
	assert.Equal(t, 100, last.Percent)
}

func TestVideoPoller_FallbackWithoutCapability(t *testing.T) {
	rs := newRecordingServer()
	rs.on("/openai/videos", respond(http.StatusOK, map[string]any{"url": "https://cdn.provider.test/v.mp4"}))
	srv := httptest.NewServer(rs)
	defer srv.Close()

	poller, catalog := newTestPoller(t, srv, DefaultVideoPollConfig(), newFakeClock())

	result, err := poller.Generate(context.Background(), mustRequest(t, catalog, provider.IDStability, "", Options{}), nil)
	require.NoError(t, err)

	assert.Equal(t, provider.IDOpenAI, result.Job.Provider)
	assert.Equal(t, "https://cdn.provider.test/v.mp4", result.URL)
	assert.Equal(t, 1, rs.calls("/openai/videos"))
}

func TestVideoPoller_UnknownStatus(t *testing.T) {
	rs := newRecordingServer()
	rs.on("/openai/videos", respond(http.StatusOK, map[string]any{"videoId": "vid-x"}))
	rs.on("/openai/videos/status", respond(http.StatusOK, map[string]any{"status": "teleported"}))
	srv := httptest.NewServer(rs)
	defer srv.Close()

	poller, catalog := newTestPoller(t, srv, DefaultVideoPollConfig(), newFakeClock())

	_, err := poller.Generate(context.Background(), mustRequest(t, catalog, provider.IDOpenAI, "", Options{}), nil)

	var reqErr *ProviderRequestError
	require.True(t, errors.As(err, &reqErr))
	assert.Contains(t, reqErr.Message, "teleported")
}

func TestJob_AdvanceOnlyForward(t *testing.T) {
	now := time.Now()
	job := Job{}
	job.advance(JobProcessing, now)
	job.advance(JobQueued, now)
	assert.Equal(t, JobProcessing, job.Status)

	job.advance(JobCompleted, now)
	job.advance(JobFailed, now)
	assert.Equal(t, JobCompleted, job.Status)
	assert.NotNil(t, job.EndedAt)
}
