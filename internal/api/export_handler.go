package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dancesync/dancesync-agent/internal/export"
	"github.com/dancesync/dancesync-agent/internal/logging"
)

func exportComparisonHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req export.ExportRequest
		if err := decodeJSON(w, r, &req); err != nil {
			WriteError(w, http.StatusBadRequest, err.Error(), CodeBadRequest)
			return
		}

		c, err := cfg.CatalogService.GetComparison(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeServiceError(w, cfg.Logger, err)
			return
		}

		rep := export.Report{ComparisonID: c.ID, FPS: c.FPS, Results: c.Results}
		if c.UserVideoID != "" {
			// a deleted user video leaves MediaPath empty; EDL export then fails validation
			if v, err := cfg.CatalogService.GetVideo(r.Context(), c.UserVideoID); err == nil {
				rep.MediaPath = v.Path
			}
		}

		resp, err := export.Write(req, rep, cfg.ExportsDir)
		if err != nil {
			writeServiceError(w, cfg.Logger, err)
			return
		}
		logging.WithComparisonID(cfg.Logger, c.ID).Info("comparison exported", "format", resp.Format, "path", resp.OutputPath)
		WriteJSON(w, http.StatusOK, resp)
	}
}
