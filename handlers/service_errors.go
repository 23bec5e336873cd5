package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/upb/tenantguard/services"
	"github.com/upb/tenantguard/utils"
)

// maxBodyBytes bounds JSON request bodies
const maxBodyBytes = 1 << 20

// HandleServiceError maps domain errors to HTTP responses
func HandleServiceError(w http.ResponseWriter, err error, logger *zap.Logger) {
	if err == nil {
		return
	}

	status, werr := utils.WriteServiceError(w, err)
	if werr != nil {
		logger.Error("failed to write error response", zap.Error(werr))
	}

	if status >= http.StatusInternalServerError {
		logger.Error("internal server error",
			zap.Error(err),
			zap.String("error_type", string(services.GetErrorType(err))))
		return
	}
	logger.Debug("handled service error",
		zap.Int("status", status),
		zap.String("code", string(services.GetErrorCode(err))),
		zap.Any("details", services.GetErrorDetails(err)))
}

// HandleValidationError handles validation errors from request parsing
func HandleValidationError(w http.ResponseWriter, err error, logger *zap.Logger) {
	if utils.IsValidationError(err) {
		fields := utils.GetValidationFields(err)
		details := make(map[string]interface{})
		for k, v := range fields {
			details[k] = v
		}
		if err := utils.WriteBadRequest(w, "Validation failed", details); err != nil {
			logger.Error("failed to write validation error response", zap.Error(err))
		}
		return
	}

	if err := utils.WriteBadRequest(w, err.Error(), nil); err != nil {
		logger.Error("failed to write validation error response", zap.Error(err))
	}
}

// decodeJSON reads a JSON body into dst and validates it when validate is set
func decodeJSON(r *http.Request, dst interface{}, validate bool) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return services.ErrInvalidInput.WithMessage("request body is required")
		}
		return services.ErrInvalidInput.WithMessage("malformed JSON body").WithDetail("error", err.Error())
	}
	if validate {
		return utils.ValidateStruct(dst)
	}
	return nil
}

// writeDecodeError routes body errors to the validation or service error writer
func writeDecodeError(w http.ResponseWriter, err error, logger *zap.Logger) {
	if utils.IsValidationError(err) {
		HandleValidationError(w, err, logger)
		return
	}
	HandleServiceError(w, err, logger)
}

// uuidParam parses a chi URL parameter as a UUID
func uuidParam(r *http.Request, name string) (uuid.UUID, error) {
	raw := chi.URLParam(r, name)
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, services.ErrInvalidInput.
			WithMessage("invalid "+name).
			WithDetail(name, raw)
	}
	return id, nil
}
