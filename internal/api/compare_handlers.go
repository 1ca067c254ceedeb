package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dancesync/dancesync-agent/internal/catalog"
	"github.com/dancesync/dancesync-agent/internal/compare"
	"github.com/dancesync/dancesync-agent/internal/pose"
)

func syncHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req SyncRequest
		if err := decodeJSON(w, r, &req); err != nil {
			WriteError(w, http.StatusBadRequest, err.Error(), CodeBadRequest)
			return
		}
		if err := req.Validate(); err != nil {
			WriteError(w, http.StatusBadRequest, err.Error(), CodeBadRequest)
			return
		}

		res, err := cfg.CatalogService.SyncVideos(r.Context(), req.ReferenceVideoID, req.UserVideoID)
		if err != nil {
			writeServiceError(w, cfg.Logger, err)
			return
		}
		if cfg.Metrics != nil {
			cfg.Metrics.ObserveAlignment(res.IsSameSong)
		}
		WriteJSON(w, http.StatusOK, res)
	}
}

func compareHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CompareRequest
		if err := decodeJSON(w, r, &req); err != nil {
			WriteError(w, http.StatusBadRequest, err.Error(), CodeBadRequest)
			return
		}
		if err := req.Validate(); err != nil {
			WriteError(w, http.StatusBadRequest, err.Error(), CodeBadRequest)
			return
		}

		fps := 0
		if req.FPS != nil {
			fps = *req.FPS
		}

		var (
			c   *catalog.Comparison
			err error
		)
		if req.ByVideo() {
			c, err = cfg.CatalogService.CompareVideos(r.Context(), catalog.CompareVideosInput{
				ReferenceVideoID: req.ReferenceVideoID,
				UserVideoID:      req.UserVideoID,
				FPS:              fps,
				IncludeOffset:    req.IncludeOffset,
			})
		} else {
			fps = cfg.CatalogService.ResolveFPS(fps, nil)
			var res compare.Result
			res, err = compare.Compare(req.ReferenceTrack, req.UserTrack, req.ReferenceBeats, req.UserBeats, fps)
			if err == nil {
				c, err = cfg.CatalogService.RecordComparison(r.Context(), "", "", fps, res, nil)
			}
		}
		if err != nil {
			writeServiceError(w, cfg.Logger, err)
			return
		}

		if cfg.Metrics != nil {
			cfg.Metrics.ObserveComparison(c.AverageSimilarity)
		}
		WriteJSON(w, http.StatusOK, ComparisonToResponse(c))
	}
}

func compareFramesHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CompareFramesRequest
		if err := decodeJSON(w, r, &req); err != nil {
			WriteError(w, http.StatusBadRequest, err.Error(), CodeBadRequest)
			return
		}
		if err := req.Validate(); err != nil {
			WriteError(w, http.StatusBadRequest, err.Error(), CodeBadRequest)
			return
		}

		WriteJSON(w, http.StatusOK, CompareFramesResponse{
			Message: "comparison complete",
			Results: compare.CompareFrames(req.ReferenceKeypoints, req.UserKeypoints),
		})
	}
}

func scoreHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ScoreRequest
		if err := decodeJSON(w, r, &req); err != nil {
			WriteError(w, http.StatusBadRequest, err.Error(), CodeBadRequest)
			return
		}
		if err := req.Validate(); err != nil {
			WriteError(w, http.StatusBadRequest, err.Error(), CodeBadRequest)
			return
		}
		WriteJSON(w, http.StatusOK, ScoreResponse{Similarity: pose.Score(req.Reference, req.User)})
	}
}

func listComparisonsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := cfg.CatalogService.ListComparisons(r.Context(), queryLimit(r, 50))
		if err != nil {
			writeServiceError(w, cfg.Logger, err)
			return
		}
		if list == nil {
			list = []*catalog.Comparison{}
		}
		WriteJSON(w, http.StatusOK, ComparisonsResponse{Comparisons: list})
	}
}

func getComparisonHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, err := cfg.CatalogService.GetComparison(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeServiceError(w, cfg.Logger, err)
			return
		}
		WriteJSON(w, http.StatusOK, c)
	}
}
