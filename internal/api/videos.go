package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dancesync/dancesync-agent/internal/compare"
)

// uploadFormField is the multipart field carrying the video.
const uploadFormField = "video"

func uploadVideoHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if cfg.MaxUploadBytes > 0 {
			// headroom for multipart framing; the service enforces the exact limit
			r.Body = http.MaxBytesReader(w, r.Body, cfg.MaxUploadBytes+1<<20)
		}

		mr, err := r.MultipartReader()
		if err != nil {
			WriteError(w, http.StatusBadRequest, "expected multipart/form-data", CodeBadRequest)
			return
		}

		for {
			part, err := mr.NextPart()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				WriteError(w, http.StatusBadRequest, "malformed multipart body", CodeBadRequest)
				return
			}
			if part.FormName() != uploadFormField {
				part.Close()
				continue
			}

			video, job, err := cfg.CatalogService.UploadVideo(r.Context(), part.FileName(), part)
			part.Close()
			var maxErr *http.MaxBytesError
			if errors.As(err, &maxErr) {
				WriteError(w, http.StatusRequestEntityTooLarge, "upload too large", CodeBadRequest)
				return
			}
			if err != nil {
				writeServiceError(w, cfg.Logger, err)
				return
			}
			if cfg.Runner != nil {
				cfg.Runner.Notify()
			}
			WriteJSON(w, http.StatusAccepted, UploadResponse{
				Message: "video queued for analysis",
				Video:   VideoToResponse(video),
				JobID:   job.ID,
			})
			return
		}

		WriteError(w, http.StatusBadRequest, "no video file provided", CodeBadRequest)
	}
}

func listVideosHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		videos, err := cfg.CatalogService.ListVideos(r.Context())
		if err != nil {
			writeServiceError(w, cfg.Logger, err)
			return
		}

		resp := VideosResponse{Videos: make([]VideoResponse, len(videos))}
		for i, v := range videos {
			resp.Videos[i] = VideoToResponse(v)
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func getVideoHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		video, err := cfg.CatalogService.GetVideo(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeServiceError(w, cfg.Logger, err)
			return
		}
		WriteJSON(w, http.StatusOK, VideoToResponse(video))
	}
}

func deleteVideoHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := cfg.CatalogService.DeleteVideo(r.Context(), chi.URLParam(r, "id")); err != nil {
			writeServiceError(w, cfg.Logger, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func keypointsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		track, video, err := cfg.CatalogService.LoadPoseTrack(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeServiceError(w, cfg.Logger, err)
			return
		}
		WriteJSON(w, http.StatusOK, KeypointsResponse{
			VideoID:   video.ID,
			FPS:       video.FPS,
			Keypoints: compare.FramesFromTrack(track),
		})
	}
}

func beatsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		track, video, err := cfg.CatalogService.LoadBeats(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeServiceError(w, cfg.Logger, err)
			return
		}
		WriteJSON(w, http.StatusOK, BeatsResponse{
			VideoID:   video.ID,
			Tempo:     track.Tempo,
			BeatTimes: track.BeatTimes,
		})
	}
}

func videoFileHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		video, err := cfg.CatalogService.GetVideo(r.Context(), id)
		if err != nil {
			writeServiceError(w, cfg.Logger, err)
			return
		}
		if err := cfg.PlaybackServer.ServeFile(w, r, video.Path); err != nil {
			cfg.Logger.Error("playback error", "error", err, "video_id", id)
		}
	}
}
