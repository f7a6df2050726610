// Package api holds the HTTP handlers of the push router: endpoint registration for
// the authenticated user and resolution of deferred delivery reports.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
	"github.com/tinywideclouds/go-microservice-base/pkg/response"
	urn "github.com/tinywideclouds/go-platform/pkg/net/v1"
	"github.com/tinywideclouds/go-push-router/pkg/dispatch"
)

// EndpointValidator checks a platform specific endpoint id before it is stored.
type EndpointValidator func(id string) error

type EndpointAPI struct {
	Store  dispatch.EndpointStore
	Logger *slog.Logger

	validators map[string]EndpointValidator
}

// NewEndpointAPI creates the registration handlers. Only platforms present in
// validators are accepted; a nil validator accepts any non-empty id.
func NewEndpointAPI(store dispatch.EndpointStore, validators map[string]EndpointValidator, logger *slog.Logger) *EndpointAPI {
	return &EndpointAPI{
		Store:      store,
		Logger:     logger.With("component", "endpoint_api"),
		validators: validators,
	}
}

type EndpointRequest struct {
	Platform    string `json:"platform"`
	PayloadType string `json:"payload_type"`
	ID          string `json:"id"`
}

func (req EndpointRequest) endpoint() dispatch.Endpoint {
	return dispatch.Endpoint{ID: req.ID, Platform: req.Platform, PayloadType: req.PayloadType}
}

// userFromRequest resolves the authenticated user, writing the error response itself
// when it cannot.
func userFromRequest(w http.ResponseWriter, r *http.Request) (user urn.URN, ok bool) {
	userID, ok := middleware.GetUserHandleFromContext(r.Context())
	if !ok {
		response.WriteJSONError(w, http.StatusUnauthorized, "unauthorized")
		return user, false
	}
	user, err := urn.Parse(userID)
	if err != nil {
		response.WriteJSONError(w, http.StatusUnauthorized, "invalid user identity")
		return user, false
	}
	return user, true
}

func (api *EndpointAPI) Register(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userURN, ok := userFromRequest(w, r)
	if !ok {
		return
	}

	var req EndpointRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.WriteJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.Platform == "" || req.PayloadType == "" || req.ID == "" {
		api.Logger.Warn("Register: Validation failed", "reason", "missing fields")
		response.WriteJSONError(w, http.StatusBadRequest, "platform, payload_type and id are required")
		return
	}

	validate, known := api.validators[req.Platform]
	if !known {
		response.WriteJSONError(w, http.StatusBadRequest, "unsupported platform")
		return
	}
	if validate != nil {
		if err := validate(req.ID); err != nil {
			api.Logger.Warn("Register: Endpoint rejected", "platform", req.Platform, "err", err)
			response.WriteJSONError(w, http.StatusBadRequest, "invalid endpoint id")
			return
		}
	}

	if err := api.Store.Register(ctx, userURN, req.endpoint()); err != nil {
		api.Logger.Error("failed to register endpoint", "platform", req.Platform, "err", err)
		response.WriteJSONError(w, http.StatusInternalServerError, "storage failed")
		return
	}
	api.Logger.Info("Register: Endpoint registered", "user", userURN, "platform", req.Platform, "payload_type", req.PayloadType)

	w.WriteHeader(http.StatusNoContent)
}

func (api *EndpointAPI) Unregister(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userURN, ok := userFromRequest(w, r)
	if !ok {
		return
	}

	var req EndpointRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.WriteJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	// Platform and id identify the row; the payload type is not needed.
	if req.Platform == "" || req.ID == "" {
		response.WriteJSONError(w, http.StatusBadRequest, "platform and id are required")
		return
	}

	if err := api.Store.Unregister(ctx, userURN, req.endpoint()); err != nil {
		api.Logger.Warn("failed to unregister endpoint", "platform", req.Platform, "err", err)
		response.WriteJSONError(w, http.StatusInternalServerError, "failed to unregister endpoint")
		return
	}
	api.Logger.Info("Unregister: Endpoint unregistered", "user", userURN, "platform", req.Platform)

	w.WriteHeader(http.StatusNoContent)
}
