package handlers

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/upb/tenantguard/middleware"
	"github.com/upb/tenantguard/models"
	"github.com/upb/tenantguard/services/rbac"
	"github.com/upb/tenantguard/utils"
)

// RoleService manages roles and the permission catalog
type RoleService interface {
	ListRoles(ctx context.Context) ([]*models.Role, error)
	GetRole(ctx context.Context, id uuid.UUID) (*models.RoleDetail, error)
	CreateRole(ctx context.Context, actor models.Actor, in rbac.RoleInput) (*models.RoleDetail, error)
	UpdateRole(ctx context.Context, actor models.Actor, id uuid.UUID, in rbac.RoleUpdate) (*models.RoleDetail, error)
	DeleteRole(ctx context.Context, actor models.Actor, id uuid.UUID) error
	CloneRole(ctx context.Context, actor models.Actor, sourceID uuid.UUID, in rbac.CloneInput) (*models.RoleDetail, error)
	ListPermissions(ctx context.Context, category string) ([]models.Permission, error)
}

// RoleHandler handles role and permission catalog endpoints
type RoleHandler struct {
	roles  RoleService
	logger *zap.Logger
}

// NewRoleHandler creates a new RoleHandler
func NewRoleHandler(roles RoleService, logger *zap.Logger) *RoleHandler {
	return &RoleHandler{
		roles:  roles,
		logger: logger,
	}
}

// ListRoles handles GET /api/v1/roles
func (h *RoleHandler) ListRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := h.roles.ListRoles(r.Context())
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	_ = utils.WriteOK(w, map[string]interface{}{
		"roles": roles,
		"total": len(roles),
	})
}

// GetRole handles GET /api/v1/roles/{id}
func (h *RoleHandler) GetRole(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	role, err := h.roles.GetRole(r.Context(), id)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	_ = utils.WriteOK(w, role)
}

// CreateRole handles POST /api/v1/roles
func (h *RoleHandler) CreateRole(w http.ResponseWriter, r *http.Request) {
	var in rbac.RoleInput
	if err := decodeJSON(r, &in, true); err != nil {
		writeDecodeError(w, err, h.logger)
		return
	}

	role, err := h.roles.CreateRole(r.Context(), middleware.ActorFromRequest(r), in)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	h.logger.Info("role created",
		zap.String("request_id", middleware.GetRequestIDFromContext(r.Context())),
		zap.String("role", role.Name))
	_ = utils.WriteCreated(w, role)
}

// UpdateRole handles PUT /api/v1/roles/{id}
func (h *RoleHandler) UpdateRole(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	var in rbac.RoleUpdate
	if err := decodeJSON(r, &in, true); err != nil {
		writeDecodeError(w, err, h.logger)
		return
	}

	role, err := h.roles.UpdateRole(r.Context(), middleware.ActorFromRequest(r), id, in)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	_ = utils.WriteOK(w, role)
}

// DeleteRole handles DELETE /api/v1/roles/{id}
func (h *RoleHandler) DeleteRole(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	if err := h.roles.DeleteRole(r.Context(), middleware.ActorFromRequest(r), id); err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	utils.WriteNoContent(w)
}

// CloneRole handles POST /api/v1/roles/{id}/clone
func (h *RoleHandler) CloneRole(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	var in rbac.CloneInput
	if err := decodeJSON(r, &in, true); err != nil {
		writeDecodeError(w, err, h.logger)
		return
	}

	role, err := h.roles.CloneRole(r.Context(), middleware.ActorFromRequest(r), id, in)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	_ = utils.WriteCreated(w, role)
}

// ListPermissions handles GET /api/v1/permissions?category=
func (h *RoleHandler) ListPermissions(w http.ResponseWriter, r *http.Request) {
	perms, err := h.roles.ListPermissions(r.Context(), r.URL.Query().Get("category"))
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	_ = utils.WriteOK(w, map[string]interface{}{
		"permissions": perms,
		"total":       len(perms),
	})
}
