package api

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kapardhi03/vibecoderz-proactive-agent/internal/domain"
	"github.com/kapardhi03/vibecoderz-proactive-agent/internal/engine"
	"github.com/kapardhi03/vibecoderz-proactive-agent/internal/generator"
	"github.com/kapardhi03/vibecoderz-proactive-agent/internal/memory"
	"github.com/kapardhi03/vibecoderz-proactive-agent/internal/notify"
	"github.com/kapardhi03/vibecoderz-proactive-agent/internal/policy"
	"github.com/kapardhi03/vibecoderz-proactive-agent/internal/store"
)

type testAPI struct {
	router     chi.Router
	handler    *Handler
	memory     *memory.Store
	bus        *notify.LocalBus
	repo       *store.SQLiteStore
	dispatcher *engine.Dispatcher
}

type apiOptions struct {
	withRepo  bool
	rateLimit int
}

func newTestAPI(t *testing.T, opts apiOptions) *testAPI {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	mem := memory.New(memory.Config{})
	pol, err := policy.New(policy.DefaultConfig())
	require.NoError(t, err)
	bus := notify.NewLocalBus(10, logger)
	t.Cleanup(func() { _ = bus.Close() })

	deps := engine.Deps{
		Store:     mem,
		Policy:    pol,
		Generator: generator.TemplateGenerator{},
		Notifier:  bus,
		Logger:    logger,
	}

	ta := &testAPI{memory: mem, bus: bus}
	var repo store.Repository
	if opts.withRepo {
		sqlite, err := store.NewSQLite(filepath.Join(t.TempDir(), "api.db"))
		require.NoError(t, err)
		t.Cleanup(func() { _ = sqlite.Close() })
		deps.Recorder = sqlite
		ta.repo = sqlite
		repo = sqlite
	}

	eng, err := engine.New(deps)
	require.NoError(t, err)
	ta.dispatcher = engine.NewDispatcher(eng, engine.DispatcherConfig{Workers: 2, QueueSize: 8}, logger)
	t.Cleanup(func() { _ = ta.dispatcher.Stop(context.Background()) })

	var limiter *RateLimiter
	if opts.rateLimit > 0 {
		limiter = NewRateLimiter(opts.rateLimit, time.Minute)
		t.Cleanup(limiter.Stop)
	}

	h, err := NewHandler(Deps{
		Engine:       eng,
		Dispatcher:   ta.dispatcher,
		Memory:       mem,
		Repo:         repo,
		Bus:          bus,
		Limiter:      limiter,
		Logger:       logger,
		SSEKeepalive: 50 * time.Millisecond,
	})
	require.NoError(t, err)
	ta.handler = h

	r := chi.NewRouter()
	h.RegisterRoutes(r)
	ta.router = r
	return ta
}

func (ta *testAPI) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader = http.NoBody
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	ta.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestHandleEventCreatesIntervention(t *testing.T) {
	t.Parallel()
	ta := newTestAPI(t, apiOptions{withRepo: true})

	w := ta.do(t, http.MethodPost, "/events",
		`{"user_id":"student_123","event_type":"quiz_failure","topic":"CSS Flexbox","metadata":{"quiz_score":0.4,"attempts":2}}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	res := decode[domain.Result](t, w)
	assert.Equal(t, domain.ActionInterventionCreated, res.Action)
	assert.Equal(t, domain.ReasonQuizScoreBelowThreshold, res.Reason)
	assert.NotEmpty(t, res.InterventionID)
	require.NotNil(t, res.Artifact)
	assert.Equal(t, "CSS Flexbox in 5 Minutes", res.Artifact.Title)
	assert.Contains(t, res.UserMessage, "CSS Flexbox")

	w = ta.do(t, http.MethodGet, "/users/student_123/interventions", "")
	require.Equal(t, http.StatusOK, w.Code)
	body := decode[struct {
		Interventions []store.Intervention `json:"interventions"`
		TotalCount    int                  `json:"total_count"`
	}](t, w)
	require.Equal(t, 1, body.TotalCount)
	assert.Equal(t, res.InterventionID, body.Interventions[0].ID)

	w = ta.do(t, http.MethodGet, "/status", "")
	require.Equal(t, http.StatusOK, w.Code)
	status := decode[statusResponse](t, w)
	assert.Equal(t, "ok", status.Database)
	assert.Equal(t, map[domain.Action]int64{domain.ActionInterventionCreated: 1}, status.InterventionsByAction)
}

func TestHandleEventSurvivesClientDisconnect(t *testing.T) {
	t.Parallel()
	ta := newTestAPI(t, apiOptions{withRepo: true})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodPost, "/events", strings.NewReader(
		`{"user_id":"leaver","event_type":"quiz_failure","topic":"SQL Joins","metadata":{"quiz_score":0.1}}`)).WithContext(ctx)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	ta.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, domain.ActionInterventionCreated, decode[domain.Result](t, w).Action)

	logged, err := ta.repo.ListInterventions(context.Background(), "leaver", 0)
	require.NoError(t, err)
	assert.Len(t, logged, 1)
}

func TestHandleEventMonitoring(t *testing.T) {
	t.Parallel()
	ta := newTestAPI(t, apiOptions{})

	w := ta.do(t, http.MethodPost, "/events", `{"user_id":"u1","event_type":"help_request","topic":"Go channels"}`)
	require.Equal(t, http.StatusOK, w.Code)
	res := decode[domain.Result](t, w)
	assert.Equal(t, domain.ActionMonitoring, res.Action)
	assert.Nil(t, res.Artifact)
}

func TestHandleEventRejectsBadInput(t *testing.T) {
	t.Parallel()
	ta := newTestAPI(t, apiOptions{})

	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{"user_id":`},
		{"missing topic", `{"user_id":"u1","event_type":"help_request"}`},
		{"unknown type", `{"user_id":"u1","event_type":"dance","topic":"Go"}`},
		{"empty user", `{"user_id":" ","event_type":"help_request","topic":"Go"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := ta.do(t, http.MethodPost, "/events", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
		})
	}
	assert.Empty(t, ta.memory.List(), "rejected events must not create memory")
}

func TestHandleEventDuplicateID(t *testing.T) {
	t.Parallel()
	ta := newTestAPI(t, apiOptions{})

	body := `{"event_id":"evt-1","user_id":"u1","event_type":"help_request","topic":"Go"}`
	require.Equal(t, http.StatusOK, ta.do(t, http.MethodPost, "/events", body).Code)
	w := ta.do(t, http.MethodPost, "/events", body)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleEventRateLimited(t *testing.T) {
	t.Parallel()
	ta := newTestAPI(t, apiOptions{rateLimit: 1})

	body := `{"user_id":"u1","event_type":"help_request","topic":"Go"}`
	require.Equal(t, http.StatusOK, ta.do(t, http.MethodPost, "/events", body).Code)
	assert.Equal(t, http.StatusTooManyRequests, ta.do(t, http.MethodPost, "/events", body).Code)
	assert.Equal(t, http.StatusOK, ta.do(t, http.MethodPost, "/events",
		`{"user_id":"u2","event_type":"help_request","topic":"Go"}`).Code)
}

func TestStatusUsersProfileAndReset(t *testing.T) {
	t.Parallel()
	ta := newTestAPI(t, apiOptions{})

	for _, body := range []string{
		`{"user_id":"js_learner","event_type":"help_request","topic":"JavaScript Async/Await"}`,
		`{"user_id":"js_learner","event_type":"quiz_failure","topic":"JavaScript Promises","metadata":{"quiz_score":0.8}}`,
	} {
		require.Equal(t, http.StatusOK, ta.do(t, http.MethodPost, "/events", body).Code)
	}

	w := ta.do(t, http.MethodGet, "/", "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = ta.do(t, http.MethodGet, "/status", "")
	require.Equal(t, http.StatusOK, w.Code)
	status := decode[statusResponse](t, w)
	assert.Equal(t, "operational", status.Status)
	assert.Equal(t, 1, status.TotalUsers)
	assert.Equal(t, 2, status.TotalEvents)
	assert.Equal(t, 1, status.TotalInterventions)
	assert.Equal(t, APIVersion, status.APIVersion)

	w = ta.do(t, http.MethodGet, "/users", "")
	require.Equal(t, http.StatusOK, w.Code)
	users := decode[struct {
		Users      []domain.UserSummary `json:"users"`
		TotalCount int                  `json:"total_count"`
	}](t, w)
	require.Equal(t, 1, users.TotalCount)
	assert.Equal(t, "js_learner", users.Users[0].UserID)
	assert.Equal(t, 2, users.Users[0].EventCount)

	w = ta.do(t, http.MethodGet, "/users/js_learner/profile", "")
	require.Equal(t, http.StatusOK, w.Code)
	profile := decode[domain.Profile](t, w)
	assert.Equal(t, 2, profile.TotalEvents)
	assert.Equal(t, 1, profile.InterventionCount)
	assert.Len(t, profile.StruggleTopics, 2)

	assert.Equal(t, http.StatusNotFound, ta.do(t, http.MethodGet, "/users/nobody/profile", "").Code)

	assert.Equal(t, http.StatusOK, ta.do(t, http.MethodPost, "/users/js_learner/reset", "").Code)
	assert.Equal(t, http.StatusNotFound, ta.do(t, http.MethodPost, "/users/js_learner/reset", "").Code)
	assert.Equal(t, http.StatusNotFound, ta.do(t, http.MethodGet, "/users/js_learner/profile", "").Code)
}

func TestResetPurgesInterventionLog(t *testing.T) {
	t.Parallel()
	ta := newTestAPI(t, apiOptions{withRepo: true})

	require.Equal(t, http.StatusOK, ta.do(t, http.MethodPost, "/events",
		`{"user_id":"u1","event_type":"quiz_failure","topic":"SQL Joins","metadata":{"score":0.1}}`).Code)

	w := ta.do(t, http.MethodPost, "/users/u1/reset?purge=true", "")
	require.Equal(t, http.StatusOK, w.Code)
	body := decode[map[string]any](t, w)
	assert.EqualValues(t, 1, body["purged_interventions"])

	items, err := ta.repo.ListInterventions(context.Background(), "u1", 0)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestInterventionsWithoutRepo(t *testing.T) {
	t.Parallel()
	ta := newTestAPI(t, apiOptions{})
	assert.Equal(t, http.StatusServiceUnavailable, ta.do(t, http.MethodGet, "/users/u1/interventions", "").Code)
}

func TestQuizCompletedWebhook(t *testing.T) {
	t.Parallel()
	ta := newTestAPI(t, apiOptions{})

	w := ta.do(t, http.MethodPost, "/webhooks/quiz-completed", `{"user_id":"u1","score":0.2}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ta.do(t, http.MethodPost, "/webhooks/quiz-completed", `{"user_id":"u1","quiz_topic":"Go","score":0.9}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, decode[map[string]any](t, w)["will_process"])

	w = ta.do(t, http.MethodPost, "/webhooks/quiz-completed", `{"user_id":"u1","quiz_topic":"CSS Grid","score":"0.3","attempts":3}`)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode[map[string]any](t, w)
	assert.Equal(t, "received", body["status"])
	assert.Equal(t, true, body["will_process"])

	require.Eventually(t, func() bool {
		mem, err := ta.memory.Snapshot("u1")
		return err == nil && mem.InterventionCount == 1
	}, 2*time.Second, 10*time.Millisecond)

	mem, err := ta.memory.Snapshot("u1")
	require.NoError(t, err)
	require.Len(t, mem.History, 1, "passing quizzes are not forwarded")
	score, ok := domain.Event{Quiz: mem.History[0].Quiz}.QuizScore()
	require.True(t, ok)
	assert.InDelta(t, 0.3, score, 1e-9)
	assert.Equal(t, 3, mem.History[0].Quiz.Attempts)
}

func TestHelpRequestWebhook(t *testing.T) {
	t.Parallel()
	ta := newTestAPI(t, apiOptions{})

	w := ta.do(t, http.MethodPost, "/webhooks/help-request", `{"user_id":"u1","topic":"Rust lifetimes","metadata":{"question":"why?"}}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "received", decode[map[string]string](t, w)["status"])

	require.Eventually(t, func() bool {
		mem, err := ta.memory.Snapshot("u1")
		return err == nil && mem.TotalEvents == 1
	}, 2*time.Second, 10*time.Millisecond)

	w = ta.do(t, http.MethodPost, "/webhooks/help-request", `{"user_id":"u1"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGenerateArtifactEndpoint(t *testing.T) {
	t.Parallel()
	ta := newTestAPI(t, apiOptions{})

	w := ta.do(t, http.MethodPost, "/generate-artifact?topic=Docker%20volumes", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decode[struct {
		Topic    string          `json:"topic"`
		Artifact domain.Artifact `json:"artifact"`
	}](t, w)
	assert.Equal(t, "Docker volumes", body.Topic)
	assert.Equal(t, "Docker volumes in 5 Minutes", body.Artifact.Title)
	assert.NotEmpty(t, body.Artifact.Slides)

	assert.Equal(t, http.StatusBadRequest, ta.do(t, http.MethodPost, "/generate-artifact", "").Code)
}

// sseReader reads events from a server-sent event stream.
type sseReader struct {
	scanner *bufio.Scanner
}

type sseEvent struct {
	id, event, data string
}

func (r *sseReader) next() (sseEvent, error) {
	var ev sseEvent
	for r.scanner.Scan() {
		line := r.scanner.Text()
		switch {
		case line == "":
			if ev.event != "" {
				return ev, nil
			}
		case strings.HasPrefix(line, "id: "):
			ev.id = strings.TrimPrefix(line, "id: ")
		case strings.HasPrefix(line, "event: "):
			ev.event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			ev.data = strings.TrimPrefix(line, "data: ")
		}
	}
	if err := r.scanner.Err(); err != nil {
		return ev, err
	}
	return ev, io.EOF
}

// nextOf skips keepalive pings.
func (r *sseReader) nextOf(t *testing.T, event string) sseEvent {
	t.Helper()
	for {
		ev, err := r.next()
		require.NoError(t, err)
		if ev.event == event {
			return ev
		}
	}
}

func openStream(t *testing.T, srv *httptest.Server, userID, lastEventID string) *sseReader {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/users/"+userID+"/stream", http.NoBody)
	require.NoError(t, err)
	if lastEventID != "" {
		req.Header.Set("Last-Event-ID", lastEventID)
	}
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	return &sseReader{scanner: bufio.NewScanner(resp.Body)}
}

func TestStreamDeliversInterventions(t *testing.T) {
	t.Parallel()
	ta := newTestAPI(t, apiOptions{})
	srv := httptest.NewServer(ta.router)
	t.Cleanup(srv.Close)

	stream := openStream(t, srv, "u1", "")
	stream.nextOf(t, "connected")

	w := ta.do(t, http.MethodPost, "/events", `{"user_id":"u1","event_type":"quiz_failure","topic":"CSS Grid","metadata":{"quiz_score":0.2}}`)
	require.Equal(t, http.StatusOK, w.Code)
	created := decode[domain.Result](t, w)

	ev := stream.nextOf(t, "intervention")
	assert.NotEmpty(t, ev.id)
	var got domain.Result
	require.NoError(t, json.Unmarshal([]byte(ev.data), &got))
	assert.Equal(t, created.InterventionID, got.InterventionID)
	assert.Equal(t, domain.ActionInterventionCreated, got.Action)

	stream.nextOf(t, "ping")
}

func TestStreamReplaysMissedMessages(t *testing.T) {
	t.Parallel()
	ta := newTestAPI(t, apiOptions{})
	srv := httptest.NewServer(ta.router)
	t.Cleanup(srv.Close)

	first := ta.bus.Deliver(domain.Result{UserID: "u1", InterventionID: "int-1", Action: domain.ActionInterventionCreated})
	ta.bus.Deliver(domain.Result{UserID: "u1", InterventionID: "int-2", Action: domain.ActionInterventionCreated})
	ta.bus.Deliver(domain.Result{UserID: "u2", InterventionID: "other", Action: domain.ActionInterventionCreated})

	stream := openStream(t, srv, "u1", strconv.FormatInt(first.ID, 10))
	ev := stream.nextOf(t, "intervention")
	assert.Contains(t, ev.data, `"int-2"`)
	connected := stream.nextOf(t, "connected")
	assert.Contains(t, connected.data, `"replayed":1`)
}
