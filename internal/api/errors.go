package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/dancesync/dancesync-agent/internal/align"
	"github.com/dancesync/dancesync-agent/internal/audio"
	"github.com/dancesync/dancesync-agent/internal/catalog"
	"github.com/dancesync/dancesync-agent/internal/compare"
	"github.com/dancesync/dancesync-agent/internal/export"
)

const (
	CodeBadRequest          = "BAD_REQUEST"
	CodeNotFound            = "NOT_FOUND"
	CodeUnauthorized        = "UNAUTHORIZED"
	CodeForbidden           = "FORBIDDEN"
	CodeUnprocessable       = "UNPROCESSABLE"
	CodeAudioDecodeFailed   = "AUDIO_DECODE_FAILED"
	CodePipelineUnavailable = "PIPELINE_UNAVAILABLE"
	CodeInternal            = "INTERNAL_ERROR"
)

// maxJSONBody bounds request bodies; explicit pose tracks can be large.
const maxJSONBody = 64 << 20

// decodeJSON strictly decodes a single JSON value from the request body.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.New("invalid request body: trailing data")
	}
	return nil
}

// writeServiceError maps domain errors onto HTTP statuses and codes.
// Unclassified errors are logged and reported without detail.
func writeServiceError(w http.ResponseWriter, logger *slog.Logger, err error) {
	switch {
	case errors.Is(err, catalog.ErrValidation),
		errors.Is(err, compare.ErrInvalidFrameRate),
		errors.Is(err, export.ErrInvalidRequest):
		WriteError(w, http.StatusBadRequest, err.Error(), CodeBadRequest)
	case errors.Is(err, catalog.ErrNotFound):
		WriteError(w, http.StatusNotFound, err.Error(), CodeNotFound)
	case errors.Is(err, audio.ErrAudioDecode):
		WriteError(w, http.StatusUnprocessableEntity, err.Error(), CodeAudioDecodeFailed)
	case errors.Is(err, catalog.ErrNotReady),
		errors.Is(err, audio.ErrEmptyInput),
		errors.Is(err, align.ErrSampleRateMismatch),
		errors.Is(err, export.ErrNothingToExport):
		WriteError(w, http.StatusUnprocessableEntity, err.Error(), CodeUnprocessable)
	case errors.Is(err, catalog.ErrPipeline):
		WriteError(w, http.StatusServiceUnavailable, err.Error(), CodePipelineUnavailable)
	default:
		if logger != nil {
			logger.Error("request failed", "error", err)
		}
		WriteError(w, http.StatusInternalServerError, "internal error", CodeInternal)
	}
}
