package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/upb/tenantguard/middleware"
	"github.com/upb/tenantguard/models"
	"github.com/upb/tenantguard/services"
	"github.com/upb/tenantguard/utils"
)

// CurrentTenantResponse is the body of GET /tenant/current
type CurrentTenantResponse struct {
	Tenant        *models.Tenant `json:"tenant"`
	Authenticated bool           `json:"authenticated"`
}

// TenantHandler exposes the tenant resolved for the request
type TenantHandler struct {
	logger *zap.Logger
}

// NewTenantHandler creates a new TenantHandler
func NewTenantHandler(logger *zap.Logger) *TenantHandler {
	return &TenantHandler{logger: logger}
}

// GetCurrent handles GET /api/v1/tenant/current
func (h *TenantHandler) GetCurrent(w http.ResponseWriter, r *http.Request) {
	res := middleware.GetResolutionFromContext(r.Context())
	if res == nil || res.Tenant == nil {
		HandleServiceError(w, services.ErrTenantNotFound.WithMessage("No tenant could be resolved for this request"), h.logger)
		return
	}

	_ = utils.WriteOK(w, CurrentTenantResponse{
		Tenant:        res.Tenant,
		Authenticated: res.Authenticated(),
	})
}
