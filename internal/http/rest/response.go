package rest

import (
	"encoding/json"
	"net/http"

	"github.com/bwise1/civic_patrol/util"
	"github.com/bwise1/civic_patrol/util/logger"
	"github.com/bwise1/civic_patrol/util/tracing"
	"go.uber.org/zap"
)

// ServerResponse is the envelope every endpoint answers with.
type ServerResponse struct {
	Err        error       `json:"-"`
	Message    string      `json:"message"`
	Status     string      `json:"status"`
	StatusCode int         `json:"-"`
	Data       interface{} `json:"data,omitempty"`
}

func respondWithError(err error, message, status string, tc *tracing.Context) *ServerResponse {
	fields := []zap.Field{zap.String("status", status), zap.Error(err)}
	if tc != nil {
		fields = append(fields, zap.String("request_id", tc.RequestID), zap.String("path", tc.RequestPath))
	}
	if util.StatusCode(status) >= http.StatusInternalServerError {
		logger.Log.Error(message, fields...)
	} else {
		logger.Log.Info(message, fields...)
	}

	return &ServerResponse{
		Err:        err,
		Message:    message,
		Status:     status,
		StatusCode: util.StatusCode(status),
	}
}

func writeErrorResponse(w http.ResponseWriter, err error, status, message string) {
	logger.Log.Info(message, zap.String("status", status), zap.Error(err))

	resp := ServerResponse{Message: message, Status: status}
	respByte, _ := json.Marshal(resp)
	writeJSONResponse(w, respByte, util.StatusCode(status))
}

func writeJSONResponse(w http.ResponseWriter, content []byte, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if _, err := w.Write(content); err != nil {
		logger.Log.Warn("unable to write json response", zap.Error(err))
	}
}
