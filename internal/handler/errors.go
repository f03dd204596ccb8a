package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/shaft/internal/middleware"
	"github.com/hitoshi/shaft/internal/model"
)

// writeJSON はJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", slog.String("error", err.Error()))
	}
}

// handleServiceError はサービス層から返されたエラーを適切なHTTPステータスコードに変換する。
func handleServiceError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		middleware.WriteErrorResponse(w, mapAPIErrorToHTTPStatus(apiErr), apiErr)
		return
	}

	var unknown *model.UnknownUserError
	switch {
	case errors.As(err, &unknown):
		middleware.WriteErrorResponse(w, http.StatusUnprocessableEntity, model.NewUnknownUserError(unknown.UserID))
	case errors.Is(err, model.ErrAmountOutOfRange):
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("amount out of range"))
	case errors.Is(err, model.ErrConflict):
		middleware.WriteErrorResponse(w, http.StatusConflict, model.NewConflictError())
	case errors.Is(err, model.ErrResourceUnavailable):
		slog.Error("service unavailable", slog.String("error", err.Error()))
		middleware.WriteErrorResponse(w, http.StatusServiceUnavailable, model.NewServiceUnavailableError())
	default:
		// ErrCorruptを含むその他のエラーは詳細をログのみに残す
		slog.Error("internal server error", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
	}
}

// mapAPIErrorToHTTPStatus はAPIErrorコードからHTTPステータスコードにマッピングする。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case model.ErrCodeInvalidRequest, model.ErrCodeInvalidLimit:
		return http.StatusBadRequest
	case model.ErrCodeNotOrgMember:
		return http.StatusForbidden
	case model.ErrCodeNotFound:
		return http.StatusNotFound
	case model.ErrCodeUnknownUser:
		return http.StatusUnprocessableEntity
	case model.ErrCodeConflict:
		return http.StatusConflict
	case model.ErrCodeRateLimited:
		return http.StatusTooManyRequests
	case model.ErrCodeServiceUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
