package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/dancesync/dancesync-agent/internal/catalog"
	"github.com/dancesync/dancesync-agent/internal/config"
	"github.com/dancesync/dancesync-agent/internal/metrics"
)

func NewRouter(cfg ServerConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware())
	r.Use(RecoveryMiddleware(cfg.Logger))
	r.Use(LoggingMiddleware(cfg.Logger))
	if cfg.Metrics != nil {
		r.Use(metrics.RequestMiddleware(cfg.Metrics))
		r.Method(http.MethodGet, "/metrics", cfg.Metrics.Handler(refreshGauges(cfg)))
	}

	r.Get("/health", healthHandler(cfg))

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(cfg.Repository, cfg.Logger))

		r.Get("/status", statusHandler(cfg))

		r.Post("/videos", uploadVideoHandler(cfg))
		r.Get("/videos", listVideosHandler(cfg))
		r.Get("/videos/{id}", getVideoHandler(cfg))
		r.Delete("/videos/{id}", deleteVideoHandler(cfg))
		r.Get("/videos/{id}/keypoints", keypointsHandler(cfg))
		r.Get("/videos/{id}/beats", beatsHandler(cfg))
		r.With(LoopbackGuard()).Method(http.MethodGet, "/videos/{id}/file", videoFileHandler(cfg))
		r.With(LoopbackGuard()).Method(http.MethodHead, "/videos/{id}/file", videoFileHandler(cfg))

		r.Post("/sync", syncHandler(cfg))
		r.Post("/compare", compareHandler(cfg))
		r.Post("/compare/frames", compareFramesHandler(cfg))
		r.Post("/score", scoreHandler(cfg))

		r.Get("/comparisons", listComparisonsHandler(cfg))
		r.Get("/comparisons/{id}", getComparisonHandler(cfg))
		r.Post("/comparisons/{id}/export", exportComparisonHandler(cfg))

		r.Get("/jobs", listJobsHandler(cfg))
		r.Get("/jobs/{id}", getJobHandler(cfg))
	})

	return r
}

// refreshGauges updates catalog gauges before a scrape.
func refreshGauges(cfg ServerConfig) func() {
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if cfg.CatalogService != nil {
			if n, err := cfg.CatalogService.CountVideos(ctx); err == nil {
				cfg.Metrics.SetVideos(n)
			}
		}
		if cfg.Runner != nil {
			cfg.Metrics.SetActiveJobs(cfg.Runner.GetActiveJobCount(ctx))
		}
	}
}

func healthHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uptime := int64(time.Since(cfg.StartTime).Seconds())
		WriteJSON(w, http.StatusOK, HealthResponse{
			Status:   "ok",
			Version:  config.Version,
			UptimeS:  uptime,
			DeviceID: cfg.DeviceID,
		})
	}
}

func statusHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		videosCount, _ := cfg.CatalogService.CountVideos(ctx)
		jobs, _ := cfg.CatalogService.ListJobs(ctx, 50)

		state := "idle"
		var activeJob *JobResponse
		jobsRunning, jobsPending := 0, 0
		lastError := ""

		for _, j := range jobs {
			switch j.Status {
			case catalog.JobStatusRunning:
				state = "analyzing"
				resp := JobToResponse(j)
				activeJob = &resp
				jobsRunning++
			case catalog.JobStatusPending:
				jobsPending++
			case catalog.JobStatusFailed:
				if lastError == "" {
					lastError = j.Error
				}
			}
		}

		if cfg.Runner != nil && cfg.Runner.IsPaused() {
			state = "paused"
		}
		if lastError != "" && state == "idle" {
			state = "error"
		}

		resp := StatusResponse{
			State:       state,
			LastError:   lastError,
			VideosCount: videosCount,
			JobsRunning: jobsRunning,
			JobsPending: jobsPending,
			ActiveJob:   activeJob,
		}

		if cfg.Doctor != nil {
			if caps := cfg.Doctor.Peek(); caps != nil {
				resp.Pipelines = &PipelineStatusResponse{
					HasPose:     caps.HasPose,
					HasBeats:    caps.HasBeats,
					LastProbeAt: caps.ProbedAt.Format(time.RFC3339),
					DepsAvail:   caps.Summary.Available,
					DepsTotal:   caps.Summary.Total,
				}
			}
		}

		WriteJSON(w, http.StatusOK, resp)
	}
}

func listJobsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobs, err := cfg.CatalogService.ListJobs(r.Context(), queryLimit(r, 50))
		if err != nil {
			writeServiceError(w, cfg.Logger, err)
			return
		}

		resp := JobsResponse{Jobs: make([]JobResponse, len(jobs))}
		for i, j := range jobs {
			resp.Jobs[i] = JobToResponse(j)
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func getJobHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, err := cfg.CatalogService.GetJob(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeServiceError(w, cfg.Logger, err)
			return
		}
		WriteJSON(w, http.StatusOK, JobToResponse(job))
	}
}

// queryLimit reads ?limit=N, clamped to [1, 500].
func queryLimit(r *http.Request, fallback int) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || n <= 0 {
		return fallback
	}
	return min(n, 500)
}
