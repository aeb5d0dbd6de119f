package json

import (
	"errors"
	"net/http"
	"strconv"

	"go.uber.org/zap"
)

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Detail  string `json:"detail,omitempty"`
}

// errorLog is replaced by SetLogger at startup.
var errorLog = zap.NewNop().Sugar()

func SetLogger(logger *zap.SugaredLogger) {
	if logger != nil {
		errorLog = logger
	}
}

func WriteError(w http.ResponseWriter, status int, err error, msg string) {
	resp := ErrorResponse{
		Error:   http.StatusText(status),
		Message: msg,
		Detail:  msg,
	}
	Write(w, status, resp)
}

func WriteValidationError(w http.ResponseWriter, err error) {
	WriteError(w, http.StatusBadRequest, err, err.Error())
}

func WriteBadRequestError(w http.ResponseWriter, msg string) {
	WriteError(w, http.StatusBadRequest, errors.New("bad request"), msg)
}

func WriteNotFoundError(w http.ResponseWriter, msg string) {
	WriteError(w, http.StatusNotFound, errors.New("not found"), msg)
}

func WriteUnauthorizedError(w http.ResponseWriter, msg string) {
	w.Header().Set("WWW-Authenticate", "Bearer")
	WriteError(w, http.StatusUnauthorized, errors.New("unauthorized"), msg)
}

func WriteForbiddenError(w http.ResponseWriter, msg string) {
	WriteError(w, http.StatusForbidden, errors.New("forbidden"), msg)
}

func WriteInternalError(w http.ResponseWriter, err error) {
	errorLog.Errorw("Internal error", "error", err)
	WriteError(w, http.StatusInternalServerError, err, "An unexpected error occurred")
}

func WriteRateLimitError(w http.ResponseWriter, retryAfter int) {
	resp := ErrorResponse{
		Error:   http.StatusText(http.StatusTooManyRequests),
		Message: "Too many requests. Please try again later.",
	}

	if retryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	}
	Write(w, http.StatusTooManyRequests, resp)
}
