package research_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/anasrobo/research-agent/features/research"
	"github.com/anasrobo/research-agent/internal/pipeline"
)

type MockService struct {
	mock.Mock
}

func (m *MockService) Submit(query string) (string, error) {
	args := m.Called(query)
	return args.String(0), args.Error(1)
}

func (m *MockService) GetStatus(id string) (pipeline.Task, error) {
	args := m.Called(id)
	return args.Get(0).(pipeline.Task), args.Error(1)
}

func (m *MockService) RunOnce(ctx context.Context, query string) (map[string]pipeline.StageOutput, error) {
	args := m.Called(ctx, query)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]pipeline.StageOutput), args.Error(1)
}

func TestHandler_Submit(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		setup      func(*MockService)
		wantStatus int
		validate   func(*testing.T, *httptest.ResponseRecorder)
	}{
		{
			name: "accepted",
			body: `{"query": "LLM distillation latency"}`,
			setup: func(s *MockService) {
				s.On("Submit", "LLM distillation latency").Return("task-1", nil)
			},
			wantStatus: http.StatusOK,
			validate: func(t *testing.T, rec *httptest.ResponseRecorder) {
				var resp map[string]string
				require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
				assert.Equal(t, "task-1", resp["task_id"])
			},
		},
		{
			name:       "malformed body",
			body:       `{"query":`,
			setup:      func(s *MockService) {},
			wantStatus: http.StatusBadRequest,
		},
		{
			name: "blank query rejected",
			body: `{"query": "  "}`,
			setup: func(s *MockService) {
				s.On("Submit", "  ").Return("", errors.New("query is required"))
			},
			wantStatus: http.StatusBadRequest,
			validate: func(t *testing.T, rec *httptest.ResponseRecorder) {
				assert.Contains(t, rec.Body.String(), "VALIDATION_ERROR")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := new(MockService)
			tt.setup(svc)
			handler := research.NewHandler(svc)

			req := httptest.NewRequest(http.MethodPost, "/research", strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			handler.Submit(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.validate != nil {
				tt.validate(t, rec)
			}
			svc.AssertExpectations(t)
		})
	}
}

func TestHandler_Get(t *testing.T) {
	completed := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	doneTask := pipeline.Task{
		ID:     "task-1",
		Query:  "q",
		Status: pipeline.StatusCompleted,
		Steps: map[pipeline.Stage]pipeline.StageOutput{
			pipeline.StagePlanning: pipeline.PlanOutput{Steps: []string{"step"}},
		},
		Brief:       &pipeline.Brief{Introduction: "intro", Sources: []string{"A"}},
		StartedAt:   completed.Add(-time.Minute),
		CompletedAt: &completed,
	}

	tests := []struct {
		name       string
		taskID     string
		setup      func(*MockService)
		wantStatus int
		validate   func(*testing.T, *httptest.ResponseRecorder)
	}{
		{
			name:   "found",
			taskID: "task-1",
			setup: func(s *MockService) {
				s.On("GetStatus", "task-1").Return(doneTask, nil)
			},
			wantStatus: http.StatusOK,
			validate: func(t *testing.T, rec *httptest.ResponseRecorder) {
				var resp map[string]any
				require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
				assert.Equal(t, "task-1", resp["task_id"])
				assert.Equal(t, "completed", resp["status"])
				assert.NotNil(t, resp["brief"])
			},
		},
		{
			name:   "unknown task",
			taskID: "nope",
			setup: func(s *MockService) {
				s.On("GetStatus", "nope").Return(pipeline.Task{}, pipeline.ErrNotFound)
			},
			wantStatus: http.StatusNotFound,
			validate: func(t *testing.T, rec *httptest.ResponseRecorder) {
				assert.Contains(t, rec.Body.String(), "NOT_FOUND")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := new(MockService)
			tt.setup(svc)
			handler := research.NewHandler(svc)

			req := httptest.NewRequest(http.MethodGet, "/research/"+tt.taskID, nil)
			req.SetPathValue("task_id", tt.taskID)
			rec := httptest.NewRecorder()
			handler.Get(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.validate != nil {
				tt.validate(t, rec)
			}
			svc.AssertExpectations(t)
		})
	}
}

func TestHandler_RunOnce(t *testing.T) {
	stages := map[string]pipeline.StageOutput{
		"Planning": pipeline.PlanOutput{Steps: []string{"step"}},
		"Briefing": pipeline.Brief{Introduction: "intro"},
	}

	t.Run("returns stage map", func(t *testing.T) {
		svc := new(MockService)
		svc.On("RunOnce", mock.Anything, "q").Return(stages, nil)
		handler := research.NewHandler(svc)

		req := httptest.NewRequest(http.MethodPost, "/api/endpoint", strings.NewReader(`{"query": "q"}`))
		rec := httptest.NewRecorder()
		handler.RunOnce(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		var resp map[string]json.RawMessage
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Contains(t, resp, "Planning")
		assert.Contains(t, resp, "Briefing")
		assert.NotContains(t, resp, "error")
	})

	t.Run("failed pipeline still returns recorded stages", func(t *testing.T) {
		svc := new(MockService)
		svc.On("RunOnce", mock.Anything, "q").
			Return(map[string]pipeline.StageOutput{"Planning": pipeline.PlanOutput{}}, errors.New("embedder offline"))
		handler := research.NewHandler(svc)

		req := httptest.NewRequest(http.MethodPost, "/api/endpoint", strings.NewReader(`{"query": "q"}`))
		rec := httptest.NewRecorder()
		handler.RunOnce(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		var resp map[string]json.RawMessage
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Contains(t, resp, "Planning")
		assert.JSONEq(t, `"embedder offline"`, string(resp["error"]))
	})

	t.Run("validation failure", func(t *testing.T) {
		svc := new(MockService)
		svc.On("RunOnce", mock.Anything, "").Return(nil, errors.New("query is required"))
		handler := research.NewHandler(svc)

		req := httptest.NewRequest(http.MethodPost, "/api/endpoint", strings.NewReader(`{}`))
		rec := httptest.NewRecorder()
		handler.RunOnce(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestHandler_Health(t *testing.T) {
	handler := research.NewHandler(new(MockService))
	rec := httptest.NewRecorder()
	handler.Health(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}
