package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"chaseline/internal/domain"
	"chaseline/internal/engine"
	"chaseline/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine       engine.Engine
	Orchestrator *engine.Orchestrator
	BasePath     string
	Auth         AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"not_found"`
	Message string         `json:"message" example:"chase item not found"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string { return e.Body.Message }

// New returns an HTTP handler exposing the Chaseline API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo))
	hcfg := huma.DefaultConfig("Chaseline API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerClients(group, cfg.Engine)
	registerChases(group, cfg.Engine, cfg.Orchestrator)
	registerAgents(group, cfg.Orchestrator)
	registerProviders(group, cfg.Engine)
	registerAnalytics(group, cfg.Engine)
	registerActivityLog(group, cfg.Engine)
	registerStream(router, basePath, cfg.Engine)
	registerOpenAPI(router, api, basePath)

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	if errors.Is(err, repo.ErrVersionConflict) {
		return newAPIError(http.StatusConflict, "version_conflict", err.Error(), nil)
	}
	if errors.Is(err, engine.ErrLeaseHeld) {
		return newAPIError(http.StatusConflict, "lease_conflict", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "transition") || strings.Contains(lowered, "terminal"):
		return newAPIError(http.StatusConflict, "invalid_transition", msg, nil)
	case strings.Contains(lowered, "invalid") || strings.Contains(lowered, "missing") || strings.Contains(lowered, "required") || strings.Contains(lowered, "unknown"):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			spec, _ = json.Marshal(api.OpenAPI())
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Chaseline API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
    <p style="padding: 1rem; font-family: sans-serif; color: #444;">
      Authenticate with Authorization: Bearer &lt;token&gt; or X-Api-Key.
    </p>
  </body>
</html>`, specURL)
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

func registerClients(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-client",
		Method:        http.MethodPost,
		Path:          "/clients",
		Summary:       "Create client",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusConflict,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateClientRequest `json:"body"`
	}) (*struct {
		Body ClientResponse `json:"body"`
	}, error) {
		if input.Body.Name == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "name is required", nil)
		}
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		c, err := e.CreateClient(ctx, engine.ClientCreateOptions{
			ID:          stringOrEmpty(input.Body.ID),
			Name:        input.Body.Name,
			Email:       stringOrEmpty(input.Body.Email),
			Phone:       stringOrEmpty(input.Body.Phone),
			RiskProfile: stringOrEmpty(input.Body.RiskProfile),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ClientResponse `json:"body"`
		}{Body: clientResponse(c)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-clients",
		Method:      http.MethodGet,
		Path:        "/clients",
		Summary:     "List clients",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []ClientResponse `json:"body"`
	}, error) {
		items, err := e.Repo.ListClients(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []ClientResponse `json:"body"`
		}{Body: mapClients(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-client",
		Method:      http.MethodGet,
		Path:        "/clients/{id}",
		Summary:     "Get client",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body ClientResponse `json:"body"`
	}, error) {
		c, err := e.Repo.GetClient(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ClientResponse `json:"body"`
		}{Body: clientResponse(c)}, nil
	})
}

func registerChases(api huma.API, e engine.Engine, o *engine.Orchestrator) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-chase",
		Method:        http.MethodPost,
		Path:          "/chases",
		Summary:       "Register chase item",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateChaseRequest `json:"body"`
	}) (*struct {
		Body ChaseResponse `json:"body"`
	}, error) {
		if input.Body.ClientID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "client_id is required", nil)
		}
		if input.Body.Type == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "type is required", nil)
		}
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		opts := engine.ChaseCreateOptions{
			ID:          stringOrEmpty(input.Body.ID),
			ClientID:    input.Body.ClientID,
			Type:        domain.ChaseType(input.Body.Type),
			ProviderID:  stringOrEmpty(input.Body.ProviderID),
			Description: stringOrEmpty(input.Body.Description),
			Priority:    domain.Priority(stringOrEmpty(input.Body.Priority)),
		}
		it, err := e.CreateChase(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ChaseResponse `json:"body"`
		}{Body: chaseResponse(it)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-chases",
		Method:      http.MethodGet,
		Path:        "/chases",
		Summary:     "List chase items",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Status   string `query:"status" enum:",created,pending,sent,awaiting_response,overdue,received,escalated,completed,failed"`
		Type     string `query:"type" enum:",document,loa"`
		ClientID string `query:"client_id"`
		Limit    int    `query:"limit" default:"50"`
	}) (*struct {
		Body []ChaseResponse `json:"body"`
	}, error) {
		items, err := e.Repo.ListItems(ctx, repo.ItemFilter{
			Status:   domain.ChaseStatus(input.Status),
			Type:     domain.ChaseType(input.Type),
			ClientID: input.ClientID,
			Limit:    input.Limit,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []ChaseResponse `json:"body"`
		}{Body: mapChases(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-chase",
		Method:      http.MethodGet,
		Path:        "/chases/{id}",
		Summary:     "Get chase item",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body ChaseResponse `json:"body"`
	}, error) {
		it, err := e.Repo.GetItem(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ChaseResponse `json:"body"`
		}{Body: chaseResponse(it)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "chase-activities",
		Method:      http.MethodGet,
		Path:        "/chases/{id}/activities",
		Summary:     "Chase activity log",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body []ActivityResponse `json:"body"`
	}, error) {
		if _, err := e.Repo.GetItem(ctx, input.ID); err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.ListItemActivities(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []ActivityResponse `json:"body"`
		}{Body: mapActivities(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "chase-risk",
		Method:      http.MethodGet,
		Path:        "/chases/{id}/risk",
		Summary:     "Chase risk assessment",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body RiskResponse `json:"body"`
	}, error) {
		it, err := e.Repo.GetItem(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		var profile *domain.ProviderProfile
		if it.ProviderID != nil {
			p, err := e.Profiles.Get(ctx, *it.ProviderID)
			if err != nil {
				return nil, handleError(err)
			}
			profile = &p
		}
		a := o.Predictor.Assess(it, profile, e.Now())
		return &struct {
			Body RiskResponse `json:"body"`
		}{Body: riskResponse(it.ID, a)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "receive-chase",
		Method:      http.MethodPost,
		Path:        "/chases/{id}/receive",
		Summary:     "Record response received",
		Errors: []int{
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body ChaseResponse `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		it, err := e.RecordResponse(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ChaseResponse `json:"body"`
		}{Body: chaseResponse(it)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "complete-chase",
		Method:      http.MethodPost,
		Path:        "/chases/{id}/complete",
		Summary:     "Complete chase item",
		Errors: []int{
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body ChaseResponse `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		it, err := e.CompleteChase(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ChaseResponse `json:"body"`
		}{Body: chaseResponse(it)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "fail-chase",
		Method:      http.MethodPost,
		Path:        "/chases/{id}/fail",
		Summary:     "Fail chase item",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		ID   string           `path:"id"`
		Body FailChaseRequest `json:"body"`
	}) (*struct {
		Body ChaseResponse `json:"body"`
	}, error) {
		if input.Body.Reason == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "reason is required", nil)
		}
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		it, err := e.FailChase(ctx, input.ID, input.Body.Reason)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ChaseResponse `json:"body"`
		}{Body: chaseResponse(it)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "process-chase",
		Method:      http.MethodPost,
		Path:        "/chases/{id}/process",
		Summary:     "Process chase item now",
		Errors: []int{
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body ChaseResponse `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		if err := o.ProcessOne(ctx, input.ID); err != nil {
			return nil, handleError(err)
		}
		it, err := e.Repo.GetItem(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ChaseResponse `json:"body"`
		}{Body: chaseResponse(it)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "tick",
		Method:      http.MethodPost,
		Path:        "/tick",
		Summary:     "Run one scheduler pass",
		Errors:      []int{http.StatusInternalServerError},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body engine.TickStats `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		stats, err := o.Tick(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.TickStats `json:"body"`
		}{Body: stats}, nil
	})
}

func registerAgents(api huma.API, o *engine.Orchestrator) {
	huma.Register(api, huma.Operation{
		OperationID: "agent-statuses",
		Method:      http.MethodGet,
		Path:        "/agents",
		Summary:     "Agent statuses",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.AgentStatus `json:"body"`
	}, error) {
		return &struct {
			Body []domain.AgentStatus `json:"body"`
		}{Body: o.Agents.Statuses()}, nil
	})
}

func registerProviders(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-providers",
		Method:      http.MethodGet,
		Path:        "/providers",
		Summary:     "List provider profiles",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []ProviderProfileResponse `json:"body"`
	}, error) {
		items, err := e.Repo.ListProviderProfiles(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []ProviderProfileResponse `json:"body"`
		}{Body: mapProfiles(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-provider",
		Method:      http.MethodGet,
		Path:        "/providers/{id}",
		Summary:     "Get provider profile",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body ProviderProfileResponse `json:"body"`
	}, error) {
		p, err := e.Profiles.Get(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProviderProfileResponse `json:"body"`
		}{Body: profileResponse(p)}, nil
	})
}

func registerAnalytics(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "analytics",
		Method:      http.MethodGet,
		Path:        "/analytics",
		Summary:     "Dashboard analytics",
		Errors:      []int{http.StatusInternalServerError},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body domain.AnalyticsSnapshot `json:"body"`
	}, error) {
		snap, err := e.Snapshot(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.AnalyticsSnapshot `json:"body"`
		}{Body: snap}, nil
	})
}

func registerActivityLog(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "activity-log",
		Method:      http.MethodGet,
		Path:        "/activities",
		Summary:     "Recent activity",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Limit  int    `query:"limit" default:"50"`
		Action string `query:"action"`
	}) (*struct {
		Body []ActivityResponse `json:"body"`
	}, error) {
		limit := input.Limit
		if limit <= 0 || limit > 500 {
			limit = 50
		}
		items, err := e.Repo.LatestActivities(ctx, limit, input.Action)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []ActivityResponse `json:"body"`
		}{Body: mapActivities(items)}, nil
	})
}

func stringOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
