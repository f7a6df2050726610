package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/tinywideclouds/go-microservice-base/pkg/response"
	"github.com/tinywideclouds/go-push-router/pkg/dispatch"
)

// maxReportEndpoints bounds one report request; the resolver chunks internally.
const maxReportEndpoints = 10000

// ReportResolver resolves endpoints left Deferred under one vendor message id.
type ReportResolver interface {
	Resolve(ctx context.Context, messageID string, endpoints []dispatch.Endpoint) *dispatch.StatusMap
}

type ReportAPI struct {
	Resolver ReportResolver
	Platform string
	Logger   *slog.Logger
}

func NewReportAPI(resolver ReportResolver, platform string, logger *slog.Logger) *ReportAPI {
	return &ReportAPI{
		Resolver: resolver,
		Platform: platform,
		Logger:   logger.With("component", "report_api", "platform", platform),
	}
}

type ReportRequest struct {
	MessageID   string   `json:"message_id"`
	EndpointIDs []string `json:"endpoint_ids"`
}

// Resolve answers with the status buckets of the requested endpoints. Endpoints absent
// from the vendor report come back as unknown.
func (api *ReportAPI) Resolve(w http.ResponseWriter, r *http.Request) {
	if _, ok := userFromRequest(w, r); !ok {
		return
	}

	var req ReportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.WriteJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.MessageID == "" || len(req.EndpointIDs) == 0 {
		response.WriteJSONError(w, http.StatusBadRequest, "message_id and endpoint_ids are required")
		return
	}
	if len(req.EndpointIDs) > maxReportEndpoints {
		response.WriteJSONError(w, http.StatusRequestEntityTooLarge, "too many endpoint_ids")
		return
	}

	eps := make([]dispatch.Endpoint, 0, len(req.EndpointIDs))
	for _, id := range req.EndpointIDs {
		eps = append(eps, dispatch.Endpoint{ID: id, Platform: api.Platform, MessageID: req.MessageID})
	}

	statuses := dispatch.Fold(api.Resolver.Resolve(r.Context(), req.MessageID, eps), eps)
	api.Logger.Debug("Resolved delivery report", "message_id", req.MessageID, "endpoints", len(eps))

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(statuses); err != nil {
		api.Logger.Warn("failed to write report response", "err", err)
	}
}
