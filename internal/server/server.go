// Package server exposes a read-only HTTP API over the run database:
// runs, tickets, pull requests and the event log. The pipeline itself
// only runs through the CLI; the API exists for dashboards and
// programmatic status checks.
package server

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"shipline/internal/domain"
	"shipline/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Repo     repo.Repo
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string `json:"code" example:"not_found"`
	Message string `json:"message" example:"run not found"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

func newAPIError(status int, code, message string) huma.StatusError {
	if code == "" {
		code = strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
	return &apiError{status: status, Body: apiErrorBody{Code: code, Message: message}}
}

func handleError(err error) huma.StatusError {
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error())
	}
	return newAPIError(http.StatusInternalServerError, "internal_error", err.Error())
}

// New returns an HTTP handler exposing the status API.
func New(cfg Config) http.Handler {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg)
	}

	router := chi.NewRouter()
	router.Use(newAuthMiddleware(basePath, cfg.Auth))
	hcfg := huma.DefaultConfig("Shipline API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerHealth(group)
	registerRuns(group, cfg.Repo)
	registerTasks(group, cfg.Repo)
	registerPRs(group, cfg.Repo)
	registerEvents(group, cfg.Repo)

	return router
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerRuns(api huma.API, r repo.Repo) {
	huma.Register(api, huma.Operation{
		OperationID: "list-runs",
		Method:      http.MethodGet,
		Path:        "/runs",
		Summary:     "List runs",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.Run `json:"body"`
	}, error) {
		runs, err := r.ListRuns(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Run `json:"body"`
		}{Body: runs}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-run",
		Method:      http.MethodGet,
		Path:        "/runs/{run_id}",
		Summary:     "Run detail",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		RunID string `path:"run_id"`
	}) (*struct {
		Body domain.Run `json:"body"`
	}, error) {
		run, err := r.GetRun(ctx, input.RunID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Run `json:"body"`
		}{Body: run}, nil
	})
}

func registerTasks(api huma.API, r repo.Repo) {
	huma.Register(api, huma.Operation{
		OperationID: "list-run-tasks",
		Method:      http.MethodGet,
		Path:        "/runs/{run_id}/tasks",
		Summary:     "List tasks for a run",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		RunID string `path:"run_id"`
	}) (*struct {
		Body []domain.Task `json:"body"`
	}, error) {
		if _, err := r.GetRun(ctx, input.RunID); err != nil {
			return nil, handleError(err)
		}
		tasks, err := r.ListTasks(ctx, input.RunID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Task `json:"body"`
		}{Body: tasks}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-task",
		Method:      http.MethodGet,
		Path:        "/tasks/{task_id}",
		Summary:     "Task detail",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TaskID string `path:"task_id"`
	}) (*struct {
		Body domain.Task `json:"body"`
	}, error) {
		task, err := r.GetTask(ctx, input.TaskID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Task `json:"body"`
		}{Body: task}, nil
	})
}

func registerPRs(api huma.API, r repo.Repo) {
	huma.Register(api, huma.Operation{
		OperationID: "list-run-prs",
		Method:      http.MethodGet,
		Path:        "/runs/{run_id}/prs",
		Summary:     "List pull requests for a run",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		RunID string `path:"run_id"`
	}) (*struct {
		Body []domain.PullRequest `json:"body"`
	}, error) {
		if _, err := r.GetRun(ctx, input.RunID); err != nil {
			return nil, handleError(err)
		}
		prs, err := r.ListPRs(ctx, input.RunID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.PullRequest `json:"body"`
		}{Body: prs}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-pr",
		Method:      http.MethodGet,
		Path:        "/prs/{pr_id}",
		Summary:     "Pull request detail",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		PRID string `path:"pr_id"`
	}) (*struct {
		Body domain.PullRequest `json:"body"`
	}, error) {
		pr, err := r.GetPR(ctx, input.PRID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.PullRequest `json:"body"`
		}{Body: pr}, nil
	})
}

func registerEvents(api huma.API, r repo.Repo) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "Event log, newest first",
	}, func(ctx context.Context, input *struct {
		RunID string `query:"run_id"`
		Limit int    `query:"limit" minimum:"0" maximum:"500"`
	}) (*struct {
		Body []repo.Event `json:"body"`
	}, error) {
		events, err := r.ListEvents(ctx, input.RunID, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []repo.Event `json:"body"`
		}{Body: events}, nil
	})
}
