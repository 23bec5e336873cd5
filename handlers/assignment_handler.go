package handlers

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/upb/tenantguard/middleware"
	"github.com/upb/tenantguard/models"
	"github.com/upb/tenantguard/services"
	"github.com/upb/tenantguard/services/rbac"
	"github.com/upb/tenantguard/utils"
)

// maxBulkPairs caps a single bulk assignment request
const maxBulkPairs = 100

// AssignmentService manages user/role assignments within the caller's tenant
type AssignmentService interface {
	RolesOf(ctx context.Context, actor models.Actor, userID uuid.UUID) ([]models.UserRole, error)
	UserPermissions(ctx context.Context, actor models.Actor, userID uuid.UUID) ([]models.Permission, error)
	AssignRole(ctx context.Context, actor models.Actor, userID, roleID uuid.UUID) (*models.UserRoleAssignment, error)
	UnassignRole(ctx context.Context, actor models.Actor, userID, roleID uuid.UUID) error
	BulkAssign(ctx context.Context, actor models.Actor, pairs []rbac.AssignmentPair) []rbac.BulkResult
}

// AssignRoleRequest is the body of POST /users/{userId}/roles
type AssignRoleRequest struct {
	RoleID uuid.UUID `json:"role_id" validate:"required"`
}

// BulkAssignRequest is the body of POST /assignments/bulk
type BulkAssignRequest struct {
	Assignments []rbac.AssignmentPair `json:"assignments" validate:"required,min=1,dive"`
}

// AssignmentHandler handles user role assignment endpoints
type AssignmentHandler struct {
	assignments AssignmentService
	logger      *zap.Logger
}

// NewAssignmentHandler creates a new AssignmentHandler
func NewAssignmentHandler(assignments AssignmentService, logger *zap.Logger) *AssignmentHandler {
	return &AssignmentHandler{
		assignments: assignments,
		logger:      logger,
	}
}

// ListUserRoles handles GET /api/v1/users/{userId}/roles
func (h *AssignmentHandler) ListUserRoles(w http.ResponseWriter, r *http.Request) {
	userID, err := uuidParam(r, "userId")
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	roles, err := h.assignments.RolesOf(r.Context(), middleware.ActorFromRequest(r), userID)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	_ = utils.WriteOK(w, map[string]interface{}{
		"user_id": userID,
		"roles":   roles,
	})
}

// AssignRole handles POST /api/v1/users/{userId}/roles
func (h *AssignmentHandler) AssignRole(w http.ResponseWriter, r *http.Request) {
	userID, err := uuidParam(r, "userId")
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	var req AssignRoleRequest
	if err := decodeJSON(r, &req, true); err != nil {
		writeDecodeError(w, err, h.logger)
		return
	}

	assignment, err := h.assignments.AssignRole(r.Context(), middleware.ActorFromRequest(r), userID, req.RoleID)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	_ = utils.WriteCreated(w, assignment)
}

// UnassignRole handles DELETE /api/v1/users/{userId}/roles/{roleId}
func (h *AssignmentHandler) UnassignRole(w http.ResponseWriter, r *http.Request) {
	userID, err := uuidParam(r, "userId")
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	roleID, err := uuidParam(r, "roleId")
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	if err := h.assignments.UnassignRole(r.Context(), middleware.ActorFromRequest(r), userID, roleID); err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	utils.WriteNoContent(w)
}

// UserPermissions handles GET /api/v1/users/{userId}/permissions
func (h *AssignmentHandler) UserPermissions(w http.ResponseWriter, r *http.Request) {
	userID, err := uuidParam(r, "userId")
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	perms, err := h.assignments.UserPermissions(r.Context(), middleware.ActorFromRequest(r), userID)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	names := make([]string, 0, len(perms))
	for _, p := range perms {
		names = append(names, p.Name)
	}
	_ = utils.WriteOK(w, map[string]interface{}{
		"user_id":     userID,
		"permissions": names,
	})
}

// BulkAssign handles POST /api/v1/assignments/bulk. The response is always
// 207 with one result per pair.
func (h *AssignmentHandler) BulkAssign(w http.ResponseWriter, r *http.Request) {
	var req BulkAssignRequest
	if err := decodeJSON(r, &req, true); err != nil {
		writeDecodeError(w, err, h.logger)
		return
	}
	if len(req.Assignments) > maxBulkPairs {
		HandleServiceError(w, services.ErrInvalidInput.
			WithMessage("too many assignments in one request").
			WithDetail("max", maxBulkPairs), h.logger)
		return
	}

	results := h.assignments.BulkAssign(r.Context(), middleware.ActorFromRequest(r), req.Assignments)

	failed := 0
	for _, res := range results {
		if res.Status != rbac.BulkCreated {
			failed++
		}
	}
	h.logger.Info("bulk assignment processed",
		zap.String("request_id", middleware.GetRequestIDFromContext(r.Context())),
		zap.Int("total", len(results)),
		zap.Int("failed", failed))

	_ = utils.WriteMultiStatus(w, map[string]interface{}{
		"results": results,
		"total":   len(results),
		"failed":  failed,
	})
}
