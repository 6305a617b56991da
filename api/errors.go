package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/warp/payment-engine/billing"
	"github.com/warp/payment-engine/logger"
)

// Error codes carried in ErrorResponse.Code.
const (
	CodeBadRequest   = "BAD_REQUEST"
	CodeNotFound     = "NOT_FOUND"
	CodeConflict     = "CONFLICT"
	CodeValidation   = "VALIDATION_ERROR"
	CodeBusinessRule = "BUSINESS_RULE_VIOLATION"
	CodeUnavailable  = "SERVICE_UNAVAILABLE"
	CodeInternal     = "INTERNAL_ERROR"
)

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeBadRequest reports a request that could not be decoded.
func writeBadRequest(w http.ResponseWriter, message string, err error) {
	resp := ErrorResponse{Error: message, Code: CodeBadRequest}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, http.StatusBadRequest, resp)
}

// writeError maps an engine error to its HTTP status:
//
//	NotFound        404
//	Conflict        409
//	Validation      400
//	BusinessRule    422
//	ExternalService 503
//	anything else   500
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, resp := errorResponse(err)
	log := logger.FromContext(r.Context(), nil)
	if status >= http.StatusInternalServerError {
		log.Error("request failed", zap.Int("status", status), zap.Error(err))
	} else {
		log.Debug("request rejected", zap.Int("status", status), zap.Error(err))
	}
	writeJSON(w, status, resp)
}

func errorResponse(err error) (int, ErrorResponse) {
	var (
		notFound *billing.NotFoundError
		conflict *billing.ConflictError
		invalid  *billing.ValidationError
		rule     *billing.BusinessRuleError
	)
	switch {
	case errors.As(err, &notFound):
		return http.StatusNotFound, ErrorResponse{Error: notFound.Error(), Code: CodeNotFound}
	case errors.Is(err, billing.ErrNotFound):
		return http.StatusNotFound, ErrorResponse{Error: err.Error(), Code: CodeNotFound}
	case errors.As(err, &conflict):
		return http.StatusConflict, ErrorResponse{Error: conflict.Error(), Code: CodeConflict}
	case errors.As(err, &invalid):
		return http.StatusBadRequest, ErrorResponse{
			Error:    "Validation failed",
			Code:     CodeValidation,
			Details:  invalid.Field,
			Problems: invalid.Problems,
		}
	case errors.As(err, &rule):
		return http.StatusUnprocessableEntity, ErrorResponse{Error: rule.Rule, Code: CodeBusinessRule, Details: rule.Detail}
	case errors.Is(err, billing.ErrExternalService):
		return http.StatusServiceUnavailable, ErrorResponse{
			Error:   "Service temporarily unavailable",
			Code:    CodeUnavailable,
			Details: err.Error(),
		}
	default:
		return http.StatusInternalServerError, ErrorResponse{Error: "Internal server error", Code: CodeInternal}
	}
}
