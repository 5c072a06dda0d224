// Package server exposes the policy engine over HTTP.
package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/seoagent/governor/pkg/lease"
	"github.com/seoagent/governor/pkg/policy"
	"github.com/seoagent/governor/pkg/stores"
	"github.com/seoagent/governor/pkg/telemetry"
)

// ApprovalLister is the read side of an approval store.
type ApprovalLister interface {
	ListApprovals(ctx context.Context, filter stores.ApprovalFilter) ([]*policy.ApprovalRequest, error)
	CountApprovals(ctx context.Context, status policy.ApprovalStatus) (int, error)
}

// HealthChecker reports whether a backing service is reachable.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// RateLimit is a per-client token bucket. Zero RPS disables limiting.
type RateLimit struct {
	RPS   float64
	Burst int
}

// Config for the HTTP API handler.
type Config struct {
	Engine    *policy.Engine
	Approvals ApprovalLister
	Leases    lease.Claimer
	LeaseTTL  time.Duration
	Health    HealthChecker
	Telemetry *telemetry.Telemetry
	BasePath  string
	Version   string
	Auth      AuthConfig
	RateLimit RateLimit
	Logger    zerolog.Logger
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"lease_conflict"`
	Message string         `json:"message" example:"action lease held by another owner"`
	Details map[string]any `json:"details,omitempty"`
}

// apiError is the single error envelope of the API.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

type handlers struct {
	engine    *policy.Engine
	approvals ApprovalLister
	leases    lease.Claimer
	leaseTTL  time.Duration
	health    HealthChecker
	logger    zerolog.Logger
}

// New returns an HTTP handler exposing the governor API.
func New(cfg Config) (http.Handler, error) {
	if cfg.Engine == nil {
		return nil, errors.New("policy engine is required")
	}

	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v1"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = lease.DefaultTTL
	}

	logger := cfg.Logger.With().Str("component", "server").Logger()

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
			msgs := make([]string, 0, len(errs))
			for _, err := range errs {
				msgs = append(msgs, err.Error())
			}
			details = map[string]any{"errors": msgs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(requestLogger(logger))
	router.Use(middleware.Recoverer)
	if cfg.RateLimit.RPS > 0 {
		router.Use(newClientLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst).Middleware)
	}
	if cfg.Telemetry != nil {
		tel := cfg.Telemetry
		router.Use(func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				next.ServeHTTP(w, r.WithContext(tel.WithContext(r.Context())))
			})
		})
	}
	router.Use(newAuthMiddleware(basePath, cfg.Auth))

	if cfg.Telemetry != nil && cfg.Telemetry.Config.Metrics.Enabled {
		router.Handle(cfg.Telemetry.Config.Metrics.Path, cfg.Telemetry.Metrics.Handler())
	}

	hcfg := huma.DefaultConfig("Governor API", cfg.Version)
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	h := &handlers{
		engine:    cfg.Engine,
		approvals: cfg.Approvals,
		leases:    cfg.Leases,
		leaseTTL:  cfg.LeaseTTL,
		health:    cfg.Health,
		logger:    logger,
	}

	registerHealth(group, h)
	registerActions(group, h)
	registerLeases(group, h)
	registerApprovals(group, h)
	registerPolicies(group, h)

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
	switch {
	case errors.Is(err, policy.ErrApprovalNotFound), errors.Is(err, stores.ErrNotFound):
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	case errors.Is(err, policy.ErrApprovalDecided):
		return newAPIError(http.StatusConflict, "approval_decided", err.Error(), nil)
	case errors.Is(err, lease.ErrHeld):
		return newAPIError(http.StatusConflict, "lease_conflict", err.Error(), nil)
	case errors.Is(err, lease.ErrNotHeld):
		return newAPIError(http.StatusConflict, "lease_not_held", err.Error(), nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": err.Error()})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusServiceUnavailable:
		return "unavailable"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func requestLogger(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			logger.Debug().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Dur("duration", time.Since(start)).
				Str("request_id", middleware.GetReqID(r.Context())).
				Msg("HTTP request")
		})
	}
}

// ownerFor picks the lease owner. An authenticated subject always wins over
// the owner named in the body, which only applies when auth is off.
func ownerFor(ctx context.Context, explicit string) string {
	if p, ok := principalFromContext(ctx); ok && p.Subject != "" {
		return p.Subject
	}
	return explicit
}

func (h *handlers) ttl(ms int64) time.Duration {
	if ms > 0 {
		return time.Duration(ms) * time.Millisecond
	}
	return h.leaseTTL
}

func registerHealth(api huma.API, h *handlers) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
		Errors:      []int{http.StatusServiceUnavailable},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body HealthResponse `json:"body"`
	}, error) {
		if h.health != nil {
			if err := h.health.HealthCheck(ctx); err != nil {
				return nil, newAPIError(http.StatusServiceUnavailable, "unhealthy", "store unavailable", map[string]any{"error": err.Error()})
			}
		}
		return &struct {
			Body HealthResponse `json:"body"`
		}{Body: HealthResponse{Status: "ok"}}, nil
	})
}

func registerActions(api huma.API, h *handlers) {
	huma.Register(api, huma.Operation{
		OperationID: "validate-action",
		Method:      http.MethodPost,
		Path:        "/actions/validate",
		Summary:     "Decide whether an action may run",
		Description: "Always answers 200 with a decision; denials are reported in the body.",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusConflict,
			http.StatusServiceUnavailable,
		},
	}, func(ctx context.Context, input *struct {
		Body ValidateRequest `json:"body"`
	}) (*struct {
		Body ValidateResponse `json:"body"`
	}, error) {
		req := input.Body
		action := policy.ActionContext{
			ActionID:   req.ActionID,
			UserToken:  req.UserToken,
			SiteURL:    req.SiteURL,
			ActionType: req.ActionType,
		}

		var resp ValidateResponse
		var owner string
		if req.Claim {
			if h.leases == nil {
				return nil, newAPIError(http.StatusServiceUnavailable, "leases_unavailable", "lease backend not configured", nil)
			}
			if req.ActionID == "" {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "action_id is required to claim", nil)
			}
			owner = ownerFor(ctx, req.Owner)
			if owner == "" {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "owner is required", nil)
			}
			l, err := h.leases.Claim(ctx, req.ActionID, owner, h.ttl(req.LeaseTTLMs))
			if err != nil {
				return nil, handleError(err)
			}
			resp.Lease = &l
		}

		resp.ValidationResult = h.engine.ValidatePolicy(ctx, action, req.Policy)

		if resp.Lease != nil && !resp.Allowed {
			if err := h.leases.Release(ctx, req.ActionID, owner); err != nil {
				h.logger.Warn().Err(err).Str("action_id", req.ActionID).Msg("Failed to release lease of denied action")
			}
			resp.Lease = nil
		}

		return &struct {
			Body ValidateResponse `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "enforce-limits",
		Method:      http.MethodPost,
		Path:        "/actions/limits",
		Summary:     "Check runtime stats against a policy",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body LimitsRequest `json:"body"`
	}) (*struct {
		Body policy.LimitCheck `json:"body"`
	}, error) {
		check := h.engine.EnforceRuntimeLimits(input.Body.Policy, input.Body.Stats)

		if check.ShouldStop {
			h.logger.Info().
				Str("action_id", input.Body.ActionID).
				Str("limit", check.Limit).
				Str("reason", check.Reason).
				Msg("Runtime limit reached")
			if tel := telemetry.FromTelemetryContext(ctx); tel != nil {
				tel.Metrics.RecordRuntimeStop(check.Limit)
				_ = tel.Events.PublishRuntimeStop(input.Body.ActionID, check.Reason)
			}
		}

		return &struct {
			Body policy.LimitCheck `json:"body"`
		}{Body: check}, nil
	})
}

func registerLeases(api huma.API, h *handlers) {
	huma.Register(api, huma.Operation{
		OperationID: "claim-action",
		Method:      http.MethodPost,
		Path:        "/actions/{action_id}/claim",
		Summary:     "Claim the lease of an action",
		Errors:      []int{http.StatusBadRequest, http.StatusConflict, http.StatusServiceUnavailable},
	}, func(ctx context.Context, input *struct {
		ActionID string       `path:"action_id"`
		Body     ClaimRequest `json:"body"`
	}) (*struct {
		Body lease.Lease `json:"body"`
	}, error) {
		if h.leases == nil {
			return nil, newAPIError(http.StatusServiceUnavailable, "leases_unavailable", "lease backend not configured", nil)
		}
		owner := ownerFor(ctx, input.Body.Owner)
		if owner == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "owner is required", nil)
		}

		l, err := h.leases.Claim(ctx, input.ActionID, owner, h.ttl(input.Body.TTLMs))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body lease.Lease `json:"body"`
		}{Body: l}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "release-action",
		Method:        http.MethodPost,
		Path:          "/actions/{action_id}/release",
		Summary:       "Release the lease of an action",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusBadRequest, http.StatusConflict, http.StatusServiceUnavailable},
	}, func(ctx context.Context, input *struct {
		ActionID string         `path:"action_id"`
		Body     ReleaseRequest `json:"body"`
	}) (*struct{}, error) {
		if h.leases == nil {
			return nil, newAPIError(http.StatusServiceUnavailable, "leases_unavailable", "lease backend not configured", nil)
		}
		owner := ownerFor(ctx, input.Body.Owner)
		if owner == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "owner is required", nil)
		}

		if err := h.leases.Release(ctx, input.ActionID, owner); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerApprovals(api huma.API, h *handlers) {
	unavailable := func() error {
		return newAPIError(http.StatusServiceUnavailable, "approvals_unavailable", "approval store not configured", nil)
	}

	huma.Register(api, huma.Operation{
		OperationID: "get-approval",
		Method:      http.MethodGet,
		Path:        "/approvals/{id}",
		Summary:     "Get an approval request",
		Errors:      []int{http.StatusNotFound, http.StatusServiceUnavailable},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body *policy.ApprovalRequest `json:"body"`
	}, error) {
		gate := h.engine.Approvals()
		if gate == nil {
			return nil, unavailable()
		}
		req, err := gate.Get(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body *policy.ApprovalRequest `json:"body"`
		}{Body: req}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "decide-approval",
		Method:      http.MethodPost,
		Path:        "/approvals/{id}/decision",
		Summary:     "Approve or reject a pending request",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict, http.StatusServiceUnavailable},
	}, func(ctx context.Context, input *struct {
		ID   string          `path:"id"`
		Body DecisionRequest `json:"body"`
	}) (*struct {
		Body *policy.ApprovalRequest `json:"body"`
	}, error) {
		gate := h.engine.Approvals()
		if gate == nil {
			return nil, unavailable()
		}

		decidedBy := input.Body.DecidedBy
		if p, ok := principalFromContext(ctx); ok {
			decidedBy = p.Subject
		}
		if decidedBy == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "decided_by is required", nil)
		}

		if err := gate.DecideApproval(ctx, input.ID, input.Body.Approve, decidedBy, input.Body.Note); err != nil {
			return nil, handleError(err)
		}

		req, err := gate.Get(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body *policy.ApprovalRequest `json:"body"`
		}{Body: req}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-approvals",
		Method:      http.MethodGet,
		Path:        "/approvals",
		Summary:     "List approval requests",
		Errors:      []int{http.StatusBadRequest, http.StatusServiceUnavailable},
	}, func(ctx context.Context, input *struct {
		Status    string `query:"status" enum:"pending,approved,rejected,expired"`
		UserToken string `query:"user_token"`
		Limit     int    `query:"limit" default:"100" minimum:"1" maximum:"500"`
		Offset    int    `query:"offset" minimum:"0"`
	}) (*struct {
		Body ApprovalList `json:"body"`
	}, error) {
		gate := h.engine.Approvals()
		if h.approvals == nil || gate == nil {
			return nil, unavailable()
		}

		items, err := h.approvals.ListApprovals(ctx, stores.ApprovalFilter{
			Status:    policy.ApprovalStatus(input.Status),
			UserToken: input.UserToken,
			Limit:     input.Limit,
			Offset:    input.Offset,
		})
		if err != nil {
			return nil, handleError(err)
		}

		// pending requests past their TTL read as expired
		out := make([]*policy.ApprovalRequest, 0, len(items))
		for _, item := range items {
			if item.Status == policy.ApprovalPending {
				fresh, err := gate.Get(ctx, item.ID)
				if err != nil {
					return nil, handleError(err)
				}
				item = fresh
				if input.Status == string(policy.ApprovalPending) && item.Status != policy.ApprovalPending {
					continue
				}
			}
			out = append(out, item)
		}

		if tel := telemetry.FromTelemetryContext(ctx); tel != nil {
			if n, err := h.approvals.CountApprovals(ctx, policy.ApprovalPending); err == nil {
				tel.Metrics.SetPendingApprovals(float64(n))
			}
		}

		return &struct {
			Body ApprovalList `json:"body"`
		}{Body: ApprovalList{Items: out}}, nil
	})
}

func registerPolicies(api huma.API, h *handlers) {
	huma.Register(api, huma.Operation{
		OperationID: "get-catalog",
		Method:      http.MethodGet,
		Path:        "/policies/catalog",
		Summary:     "Default policy of every action type",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body CatalogResponse `json:"body"`
	}, error) {
		catalog := h.engine.Catalog()
		entries := make(map[policy.ActionType]policy.Policy)
		for _, t := range catalog.ActionTypes() {
			entries[t] = catalog.DefaultFor(t)
		}
		return &struct {
			Body CatalogResponse `json:"body"`
		}{Body: CatalogResponse{Fallback: catalog.Fallback(), Entries: entries}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-new-site-policy",
		Method:      http.MethodGet,
		Path:        "/policies/new-site",
		Summary:     "Conservative policy for unverified sites",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body policy.Policy `json:"body"`
	}, error) {
		return &struct {
			Body policy.Policy `json:"body"`
		}{Body: h.engine.NewSitePolicy()}, nil
	})
}
