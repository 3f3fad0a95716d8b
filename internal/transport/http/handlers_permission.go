// Package http is the front door: it translates HTTP calls from consumers
// and administrators into lifecycle operations and exposes the status
// stream to them.
package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"gridgrant/internal/metering"
	"gridgrant/internal/permission"
	"gridgrant/internal/platform/metrics"
	"gridgrant/internal/platform/middleware"
	"gridgrant/internal/reactors"
	"gridgrant/internal/service"
	"gridgrant/internal/stream"
	"gridgrant/internal/transport/http/shared"
	id "gridgrant/pkg/domain"
	dErrors "gridgrant/pkg/domain-errors"
)

// Service is the slice of the permission service the HTTP layer uses.
type Service interface {
	Create(ctx context.Context, params service.CreateParams) (permission.Snapshot, error)
	Accept(ctx context.Context, pid id.PermissionID) error
	Reject(ctx context.Context, pid id.PermissionID) error
	Invalid(ctx context.Context, pid id.PermissionID) error
	Terminate(ctx context.Context, pid id.PermissionID) error
	RecordMeteringData(ctx context.Context, pid id.PermissionID, mp id.MeteringPointID, records []metering.Record) error
	Get(ctx context.Context, pid id.PermissionID) (permission.Snapshot, error)
}

// Handler handles the permission endpoints.
type Handler struct {
	logger       *slog.Logger
	service      Service
	metrics      *metrics.Metrics
	jwtValidator middleware.JWTValidator
	adminKeyHash string
	statuses     *stream.Stream[reactors.ConnectionStatus]
}

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

// WithAdminKeyHash enables pre-shared key auth for the permission
// administrator's callbacks. The hash is a bcrypt digest of the key.
func WithAdminKeyHash(hash string) HandlerOption {
	return func(h *Handler) { h.adminKeyHash = hash }
}

// New creates a permission Handler.
func New(
	svc Service,
	statuses *stream.Stream[reactors.ConnectionStatus],
	logger *slog.Logger,
	m *metrics.Metrics,
	jwtValidator middleware.JWTValidator,
	opts ...HandlerOption,
) *Handler {
	h := &Handler{
		logger:       logger,
		service:      svc,
		metrics:      m,
		jwtValidator: jwtValidator,
		statuses:     statuses,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register registers the permission routes with the chi router.
func (h *Handler) Register(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(middleware.Recovery(h.logger))
		r.Use(middleware.RequestID)
		r.Use(middleware.Logger(h.logger))
		r.Use(middleware.Device)
		r.Use(middleware.LatencyMiddleware(h.metrics))
		r.Use(middleware.AdminKey(h.adminKeyHash, h.logger))
		r.Use(middleware.RequireAuth(h.jwtValidator, h.logger))

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(30 * time.Second))
			r.Use(middleware.ContentTypeJSON)
			r.Post("/permissions", h.handleCreate)
			r.Get("/permissions/{permissionID}", h.handleGet)
			r.Post("/permissions/{permissionID}/accept", h.transition(h.service.Accept))
			r.Post("/permissions/{permissionID}/reject", h.transition(h.service.Reject))
			r.Post("/permissions/{permissionID}/invalid", h.transition(h.service.Invalid))
			r.Post("/permissions/{permissionID}/terminate", h.transition(h.service.Terminate))
			r.Post("/permissions/{permissionID}/readings", h.handleReadings)
		})
		// The SSE stream outlives the request timeout on purpose.
		r.Get("/status/stream", h.handleStatusStream)
	})
}

type createPermissionRequest struct {
	ConnectionID string    `json:"connection_id"`
	DataNeedID   string    `json:"data_need_id"`
	WindowStart  time.Time `json:"window_start"`
	WindowEnd    time.Time `json:"window_end"`
	Granularity  string    `json:"granularity"`
	Country      string    `json:"country"`
	Region       string    `json:"region"`
	Admin        string    `json:"permission_administrator,omitempty"`
}

type permissionResponse struct {
	PermissionID  string     `json:"permission_id"`
	ConnectionID  string     `json:"connection_id"`
	DataNeedID    string     `json:"data_need_id"`
	Status        string     `json:"status"`
	WindowStart   time.Time  `json:"window_start"`
	WindowEnd     time.Time  `json:"window_end"`
	Created       time.Time  `json:"created"`
	TerminateTime *time.Time `json:"terminate_time,omitempty"`
}

func toResponse(snap permission.Snapshot) permissionResponse {
	return permissionResponse{
		PermissionID:  snap.PermissionID.String(),
		ConnectionID:  snap.ConnectionID.String(),
		DataNeedID:    snap.DataNeedID.String(),
		Status:        string(snap.Status),
		WindowStart:   snap.Window.Start,
		WindowEnd:     snap.Window.End,
		Created:       snap.Created,
		TerminateTime: snap.TerminateTime,
	}
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req createPermissionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.WarnContext(ctx, "invalid create permission request",
			"request_id", middleware.GetRequestID(ctx),
			"error", err.Error(),
		)
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	params, err := h.toCreateParams(req)
	if err != nil {
		shared.WriteError(w, err)
		return
	}

	snap, err := h.service.Create(ctx, params)
	if err != nil {
		if dErrors.Is(err, dErrors.CodeBadRequest) {
			shared.WriteError(w, err)
			return
		}
		h.logger.ErrorContext(ctx, "failed to create permission",
			"request_id", middleware.GetRequestID(ctx),
			"error", err.Error(),
		)
		shared.WriteError(w, dErrors.New(dErrors.CodeInternal, "failed to create permission"))
		return
	}

	shared.WriteJSON(w, http.StatusCreated, toResponse(snap))
}

func (h *Handler) toCreateParams(req createPermissionRequest) (service.CreateParams, error) {
	connectionID, err := id.ParseConnectionID(req.ConnectionID)
	if err != nil {
		return service.CreateParams{}, err
	}
	dataNeedID, err := id.ParseDataNeedID(req.DataNeedID)
	if err != nil {
		return service.CreateParams{}, err
	}
	country, err := id.ParseCountryCode(req.Country)
	if err != nil {
		return service.CreateParams{}, err
	}
	granularity, err := time.ParseDuration(req.Granularity)
	if err != nil {
		return service.CreateParams{}, dErrors.Wrap(dErrors.CodeBadRequest, "invalid granularity", err)
	}
	return service.CreateParams{
		ConnectionID: connectionID,
		DataNeedID:   dataNeedID,
		Window:       permission.Window{Start: req.WindowStart, End: req.WindowEnd},
		Granularity:  granularity,
		DataSource: permission.DataSourceInformation{
			Country:                 country,
			RegionConnector:         req.Region,
			PermissionAdministrator: req.Admin,
		},
	}, nil
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	pid, err := id.ParsePermissionID(chi.URLParam(r, "permissionID"))
	if err != nil {
		shared.WriteError(w, err)
		return
	}

	snap, err := h.service.Get(r.Context(), pid)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, toResponse(snap))
}

// transition builds the handler for the four one-shot transition routes.
func (h *Handler) transition(apply func(ctx context.Context, pid id.PermissionID) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		pid, err := id.ParsePermissionID(chi.URLParam(r, "permissionID"))
		if err != nil {
			shared.WriteError(w, err)
			return
		}
		if err := apply(ctx, pid); err != nil {
			h.logger.WarnContext(ctx, "transition rejected",
				"request_id", middleware.GetRequestID(ctx),
				"permission_id", pid,
				"error", err.Error(),
			)
			shared.WriteError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

type readingsRequest struct {
	MeteringPoint string            `json:"metering_point"`
	Records       []metering.Record `json:"records"`
}

func (h *Handler) handleReadings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	pid, err := id.ParsePermissionID(chi.URLParam(r, "permissionID"))
	if err != nil {
		shared.WriteError(w, err)
		return
	}

	var req readingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	mp, err := id.ParseMeteringPointID(req.MeteringPoint)
	if err != nil {
		shared.WriteError(w, err)
		return
	}

	if err := h.service.RecordMeteringData(ctx, pid, mp, req.Records); err != nil {
		shared.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// handleStatusStream serves the consumer-facing status feed as
// server-sent events.
func (h *Handler) handleStatusStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		shared.WriteError(w, dErrors.New(dErrors.CodeInternal, "streaming unsupported"))
		return
	}

	sub := h.statuses.Subscribe()
	defer sub.Cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-sub.Done():
			return
		case status := <-sub.Events():
			payload, err := json.Marshal(status)
			if err != nil {
				h.logger.ErrorContext(ctx, "could not encode status event",
					"permission_id", status.PermissionID,
					"error", err,
				)
				continue
			}
			if _, err := w.Write([]byte("event: status\ndata: " + string(payload) + "\n\n")); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
