package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/skribblez2718/penny-sub000/internal/artifact"
	"github.com/skribblez2718/penny-sub000/internal/engine"
	"github.com/skribblez2718/penny-sub000/internal/gateway"
	"github.com/skribblez2718/penny-sub000/internal/phasegraph"
	"github.com/skribblez2718/penny-sub000/internal/taskstate"
)

// newTestEngine returns an engine over a two-phase workflow. Phase "draft"
// escalates when metadata mode=stuck until an answer is given.
func newTestEngine(t *testing.T) *engine.Engine {
	t.Helper()
	reg := phasegraph.NewRegistry()
	require.NoError(t, reg.Register(phasegraph.WorkflowDefinition{
		ID: "review",
		Phases: []phasegraph.PhaseDefinition{
			{ID: "draft", Type: phasegraph.PhaseLinear, WorkerRole: phasegraph.RoleGenerator, Next: "check", MinOutputTokens: 6},
			{ID: "check", Type: phasegraph.PhaseLinear, WorkerRole: phasegraph.RoleValidator, Predecessors: []string{"draft"}},
		},
	}))

	var mu sync.Mutex
	calls := map[string]int{}
	worker := gateway.FuncWorker(func(_ context.Context, req gateway.Request) (gateway.Response, error) {
		mu.Lock()
		calls[req.TaskID+req.PhaseID]++
		n := calls[req.TaskID+req.PhaseID]
		mu.Unlock()

		if strings.HasPrefix(req.TaskID, "stuck") && n <= 2 {
			return gateway.Response{Artifact: &artifact.Artifact{
				Body:      "x",
				Quadrants: artifact.Quadrants{Open: "o", Hidden: "h", Blind: "b", Unknown: "u"},
			}}, nil
		}
		tag := fmt.Sprintf("%s-%s-%d", req.TaskID, req.PhaseID, n)
		return gateway.Response{Artifact: &artifact.Artifact{
			Body:      tag + "-a " + tag + "-b " + tag + "-c",
			Quadrants: artifact.Quadrants{Open: tag + "-o", Hidden: tag + "-h", Blind: tag + "-bl", Unknown: tag + "-u"},
		}}, nil
	})
	gw, err := gateway.New(worker)
	require.NoError(t, err)

	eng, err := engine.New(engine.Deps{
		Registry:  reg,
		Tasks:     taskstate.NewMemoryStore(),
		Artifacts: artifact.NewMemoryStore(),
		Gateway:   gw,
	})
	require.NoError(t, err)
	return eng
}

// setupTestServer creates a test server with default configuration.
func setupTestServer(t *testing.T) *Server {
	t.Helper()
	server, err := NewServer(newTestEngine(t), zap.NewNop(), &Config{Host: "localhost", Port: 9191, Version: "test"})
	require.NoError(t, err)
	return server
}

func do(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestNewServer(t *testing.T) {
	t.Run("uses defaults when config is nil", func(t *testing.T) {
		server, err := NewServer(newTestEngine(t), zap.NewNop(), nil)
		require.NoError(t, err)
		assert.Equal(t, "127.0.0.1", server.config.Host)
		assert.Equal(t, 9191, server.config.Port)
	})

	t.Run("returns error when logger is nil", func(t *testing.T) {
		_, err := NewServer(newTestEngine(t), nil, nil)
		assert.ErrorContains(t, err, "logger is required")
	})

	t.Run("returns error when engine is nil", func(t *testing.T) {
		_, err := NewServer(nil, zap.NewNop(), nil)
		assert.ErrorContains(t, err, "engine cannot be nil")
	})
}

func TestHandleHealth(t *testing.T) {
	server := setupTestServer(t)
	rec := do(t, server, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	resp := decode[HealthResponse](t, rec)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "test", resp.Version)
}

func TestHandleMetrics(t *testing.T) {
	server := setupTestServer(t)
	do(t, server, http.MethodPost, "/api/v1/tasks", StartRequest{WorkflowID: "review", TaskID: "m1"})

	rec := do(t, server, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "penny_engine_state_transitions_total")
}

func TestHandleWorkflows(t *testing.T) {
	server := setupTestServer(t)
	rec := do(t, server, http.MethodGet, "/api/v1/workflows", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"review"}, decode[WorkflowsResponse](t, rec).Workflows)
}

func TestHandleStart(t *testing.T) {
	t.Run("runs task to completion", func(t *testing.T) {
		server := setupTestServer(t)
		rec := do(t, server, http.MethodPost, "/api/v1/tasks", StartRequest{WorkflowID: "review", TaskID: "t1"})
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

		out := decode[engine.Outcome](t, rec)
		assert.Equal(t, taskstate.StatusCompleted, out.Task.Status)
		assert.Equal(t, "t1", out.Task.TaskID)
	})

	t.Run("rejects missing workflow id", func(t *testing.T) {
		server := setupTestServer(t)
		rec := do(t, server, http.MethodPost, "/api/v1/tasks", StartRequest{})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("rejects malformed body", func(t *testing.T) {
		server := setupTestServer(t)
		req := httptest.NewRequest(http.MethodPost, "/api/v1/tasks", strings.NewReader("{"))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		rec := httptest.NewRecorder()
		server.echo.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("unknown workflow is not found", func(t *testing.T) {
		server := setupTestServer(t)
		rec := do(t, server, http.MethodPost, "/api/v1/tasks", StartRequest{WorkflowID: "nope"})
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Contains(t, decode[ErrorResponse](t, rec).Error, "workflow not found")
	})

	t.Run("invalid task id", func(t *testing.T) {
		server := setupTestServer(t)
		rec := do(t, server, http.MethodPost, "/api/v1/tasks", StartRequest{WorkflowID: "review", TaskID: "a/b"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestEscalationRoundTrip(t *testing.T) {
	server := setupTestServer(t)

	rec := do(t, server, http.MethodPost, "/api/v1/tasks", StartRequest{WorkflowID: "review", TaskID: "stuck-1"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	out := decode[engine.Outcome](t, rec)
	require.Equal(t, taskstate.StatusWaitingExternalInput, out.Task.Status)
	require.NotNil(t, out.Escalation)

	rec = do(t, server, http.MethodGet, "/api/v1/tasks", nil)
	list := decode[TaskListResponse](t, rec)
	require.Len(t, list.Tasks, 1)
	assert.True(t, list.Tasks[0].Escalated)

	rec = do(t, server, http.MethodPost, "/api/v1/tasks/stuck-1/answers", AnswerRequest{Answers: map[string]string{"action": "bogus"}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, server, http.MethodPost, "/api/v1/tasks/stuck-1/answers", AnswerRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, server, http.MethodPost, "/api/v1/tasks/stuck-1/answers", AnswerRequest{Answers: map[string]string{
		engine.QuestionAction:   engine.AnswerRetry,
		engine.QuestionGuidance: "write more",
	}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	out = decode[engine.Outcome](t, rec)
	assert.Equal(t, taskstate.StatusCompleted, out.Task.Status)
	assert.Equal(t, []string{"write more"}, out.Task.Guidance)

	rec = do(t, server, http.MethodPost, "/api/v1/tasks/stuck-1/answers", AnswerRequest{Answers: map[string]string{"action": "retry"}})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestHandleStatusAndAbort(t *testing.T) {
	server := setupTestServer(t)
	do(t, server, http.MethodPost, "/api/v1/tasks", StartRequest{WorkflowID: "review", TaskID: "stuck-2"})

	rec := do(t, server, http.MethodGet, "/api/v1/tasks/stuck-2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "draft", decode[engine.Outcome](t, rec).Task.CurrentPhaseID)

	rec = do(t, server, http.MethodPost, "/api/v1/tasks/stuck-2/abort", AbortRequest{Reason: "no longer needed"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	out := decode[engine.Outcome](t, rec)
	assert.Equal(t, taskstate.StatusAborted, out.Task.Status)
	assert.Equal(t, "no longer needed", out.AbortReason)

	rec = do(t, server, http.MethodPost, "/api/v1/tasks/stuck-2/abort", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, server, http.MethodGet, "/api/v1/tasks/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleResume(t *testing.T) {
	server := setupTestServer(t)
	do(t, server, http.MethodPost, "/api/v1/tasks", StartRequest{WorkflowID: "review", TaskID: "r1"})

	rec := do(t, server, http.MethodPost, "/api/v1/tasks/r1/resume", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, taskstate.StatusCompleted, decode[engine.Outcome](t, rec).Task.Status)

	rec = do(t, server, http.MethodPost, "/api/v1/tasks/ghost/resume", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServerLifecycle(t *testing.T) {
	t.Run("starts and shuts down gracefully", func(t *testing.T) {
		server, err := NewServer(newTestEngine(t), zap.NewNop(), &Config{Host: "localhost", Port: 0})
		require.NoError(t, err)

		errChan := make(chan error, 1)
		go func() {
			errChan <- server.Start()
		}()

		// Give server time to start
		time.Sleep(100 * time.Millisecond)

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		assert.NoError(t, server.Shutdown(ctx))

		select {
		case err := <-errChan:
			assert.True(t, err == nil || err == http.ErrServerClosed)
		case <-time.After(6 * time.Second):
			t.Fatal("server did not shut down in time")
		}
	})
}

func TestMiddleware(t *testing.T) {
	t.Run("adds request ID to response", func(t *testing.T) {
		server := setupTestServer(t)
		rec := do(t, server, http.MethodGet, "/health", nil)
		assert.NotEmpty(t, rec.Header().Get(echo.HeaderXRequestID))
	})

	t.Run("recovers from panic", func(t *testing.T) {
		server := setupTestServer(t)
		server.echo.GET("/panic", func(c echo.Context) error {
			panic("test panic")
		})

		rec := httptest.NewRecorder()
		assert.NotPanics(t, func() {
			server.echo.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/panic", nil))
		})
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})
}
