package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/upb/tenantguard/services/token"
	"github.com/upb/tenantguard/utils"
)

// KeyPublisher exposes the public half of the signing key
type KeyPublisher interface {
	JWKS() token.JWKS
}

// JWKSHandler serves the public key set for offline verification
type JWKSHandler struct {
	keys   KeyPublisher
	logger *zap.Logger
}

// NewJWKSHandler creates a new JWKSHandler
func NewJWKSHandler(keys KeyPublisher, logger *zap.Logger) *JWKSHandler {
	return &JWKSHandler{
		keys:   keys,
		logger: logger,
	}
}

// HandleJWKS handles GET /.well-known/jwks.json. The set is written bare,
// without the data envelope, as verifiers expect.
func (h *JWKSHandler) HandleJWKS(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "public, max-age=300")
	if err := utils.WriteJSON(w, http.StatusOK, h.keys.JWKS()); err != nil {
		h.logger.Error("failed to write jwks response", zap.Error(err))
	}
}
