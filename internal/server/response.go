package server

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"social-backend/internal/apperr"
)

const (
	statusOK      = "ok"
	statusPartial = "partial"
	statusError   = "error"
)

// envelope is the body of every mutation response and of every error response
type envelope struct {
	Status  string      `json:"status"`
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data"`
}

// statusCode maps err to an HTTP status. Aborted units answer with the status of their cause and
// partial successes with 200.
func statusCode(err error) int {
	if apperr.Is(err, apperr.KindPartialSuccess) {
		return http.StatusOK
	}
	switch apperr.Cause(err) {
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindConflict:
		return http.StatusConflict
	case apperr.KindUnauthorized:
		return http.StatusForbidden
	case apperr.KindBadRequest:
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// failure builds the envelope of err; internal causes are not exposed to clients
func failure(err error, data interface{}) (int, envelope) {
	status := statusCode(err)
	e := envelope{
		Status:  statusError,
		Code:    string(apperr.KindOf(err)),
		Message: err.Error(),
		Data:    data,
	}
	if status == http.StatusOK {
		e.Status = statusPartial
	}
	if status == http.StatusInternalServerError {
		e.Message = http.StatusText(status)
	}
	return status, e
}

func writeJSON(w http.ResponseWriter, logger *zap.SugaredLogger, status int, v interface{}) {
	payload, err := json.Marshal(v)
	if err != nil {
		logger.Errorf("marshaling response: %v", err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(payload); err != nil {
		logger.Errorf("writing marshaled data to ResponseWriter: %v", err)
	}
}
