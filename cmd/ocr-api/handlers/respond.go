// Package handlers provides HTTP handlers for the OCR API.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/QThans/MinerU-runpod/internal/domain"
	"github.com/QThans/MinerU-runpod/internal/pipeline"
)

// HandleProvider hands out the shared pipeline handle.
type HandleProvider interface {
	Get(ctx context.Context) (*pipeline.Handle, error)
	Ready() bool
}

// ErrorResponse is the envelope for every failed request.
type ErrorResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Status: "error", Message: message})
}

// statusFor maps a domain error to its HTTP status.
func statusFor(err error) int {
	switch domain.TypeOf(err) {
	case domain.ErrorTypeValidation,
		domain.ErrorTypeEmptyInput,
		domain.ErrorTypeUnsupportedFormat,
		domain.ErrorTypeDecode:
		return http.StatusBadRequest
	case domain.ErrorTypePayloadTooLarge:
		return http.StatusRequestEntityTooLarge
	default:
		return http.StatusInternalServerError
	}
}
