package api

import (
	"errors"
	"math"
	"time"

	"github.com/dancesync/dancesync-agent/internal/catalog"
	"github.com/dancesync/dancesync-agent/internal/compare"
	"github.com/dancesync/dancesync-agent/internal/pose"
)

type HealthResponse struct {
	Status   string `json:"status"`
	Version  string `json:"version"`
	UptimeS  int64  `json:"uptime_s"`
	DeviceID string `json:"device_id"`
}

type StatusResponse struct {
	State       string                  `json:"state"`
	LastError   string                  `json:"last_error,omitempty"`
	VideosCount int                     `json:"videos_count"`
	JobsRunning int                     `json:"jobs_running"`
	JobsPending int                     `json:"jobs_pending"`
	ActiveJob   *JobResponse            `json:"active_job,omitempty"`
	Pipelines   *PipelineStatusResponse `json:"pipelines,omitempty"`
}

type PipelineStatusResponse struct {
	HasPose     bool   `json:"has_pose"`
	HasBeats    bool   `json:"has_beats"`
	LastProbeAt string `json:"last_probe_at,omitempty"`
	DepsAvail   int    `json:"deps_available"`
	DepsTotal   int    `json:"deps_total"`
}

type VideoResponse struct {
	ID         string  `json:"id"`
	Filename   string  `json:"filename"`
	Size       int64   `json:"size"`
	Status     string  `json:"status"`
	FPS        float64 `json:"fps"`
	Duration   float64 `json:"duration"`
	Width      int     `json:"width"`
	Height     int     `json:"height"`
	Tempo      float64 `json:"tempo"`
	BeatCount  int     `json:"beat_count"`
	PoseFrames int     `json:"pose_frames"`
	Error      string  `json:"error,omitempty"`
	CreatedAt  string  `json:"created_at"`
	UpdatedAt  string  `json:"updated_at"`
}

type VideosResponse struct {
	Videos []VideoResponse `json:"videos"`
}

type UploadResponse struct {
	Message string        `json:"message"`
	Video   VideoResponse `json:"video"`
	JobID   string        `json:"job_id"`
}

type KeypointsResponse struct {
	VideoID   string                   `json:"video_id"`
	FPS       float64                  `json:"fps"`
	Keypoints []compare.FrameKeypoints `json:"keypoints"`
}

type BeatsResponse struct {
	VideoID   string    `json:"video_id"`
	Tempo     float64   `json:"tempo"`
	BeatTimes []float64 `json:"beat_times"`
}

type SyncRequest struct {
	ReferenceVideoID string `json:"reference_video_id"`
	UserVideoID      string `json:"user_video_id"`
}

func (r SyncRequest) Validate() error {
	if r.ReferenceVideoID == "" || r.UserVideoID == "" {
		return errors.New("reference_video_id and user_video_id are required")
	}
	return nil
}

// CompareRequest selects stored videos by id or carries explicit tracks and
// beats. The two forms cannot be mixed.
type CompareRequest struct {
	ReferenceVideoID string              `json:"reference_video_id,omitempty"`
	UserVideoID      string              `json:"user_video_id,omitempty"`
	IncludeOffset    bool                `json:"include_offset,omitempty"`
	ReferenceTrack   pose.VideoPoseTrack `json:"reference_track,omitempty"`
	UserTrack        pose.VideoPoseTrack `json:"user_track,omitempty"`
	ReferenceBeats   []float64           `json:"reference_beats,omitempty"`
	UserBeats        []float64           `json:"user_beats,omitempty"`
	FPS              *int                `json:"fps,omitempty"`
}

// ByVideo reports whether the request names stored videos.
func (r CompareRequest) ByVideo() bool {
	return r.ReferenceVideoID != "" || r.UserVideoID != ""
}

func (r CompareRequest) Validate() error {
	if r.FPS != nil && *r.FPS <= 0 {
		return errors.New("fps must be a positive integer")
	}
	explicit := r.ReferenceTrack != nil || r.UserTrack != nil || r.ReferenceBeats != nil || r.UserBeats != nil
	if r.ByVideo() {
		if explicit {
			return errors.New("use either video ids or explicit tracks, not both")
		}
		if r.ReferenceVideoID == "" || r.UserVideoID == "" {
			return errors.New("reference_video_id and user_video_id are required")
		}
		return nil
	}
	if r.IncludeOffset {
		return errors.New("include_offset requires video ids")
	}
	if r.ReferenceTrack == nil || r.UserTrack == nil {
		return errors.New("reference_track and user_track are required")
	}
	if r.ReferenceBeats == nil || r.UserBeats == nil {
		return errors.New("reference_beats and user_beats are required")
	}
	for _, beats := range [][]float64{r.ReferenceBeats, r.UserBeats} {
		for _, b := range beats {
			if math.IsNaN(b) || math.IsInf(b, 0) || b < 0 {
				return errors.New("beat times must be finite and non-negative")
			}
		}
	}
	return nil
}

type CompareResponse struct {
	ComparisonID      string              `json:"comparison_id"`
	FPS               int                 `json:"fps"`
	Results           []compare.BeatScore `json:"results"`
	AverageSimilarity float64             `json:"average_similarity"`
	NumBeatsAnalyzed  int                 `json:"num_beats_analyzed"`
	TimeOffsetSeconds *float64            `json:"time_offset_seconds,omitempty"`
}

type CompareFramesRequest struct {
	ReferenceKeypoints []compare.FrameKeypoints `json:"reference_keypoints"`
	UserKeypoints      []compare.FrameKeypoints `json:"user_keypoints"`
}

func (r CompareFramesRequest) Validate() error {
	if len(r.ReferenceKeypoints) == 0 || len(r.UserKeypoints) == 0 {
		return errors.New("missing keypoints data")
	}
	return nil
}

type CompareFramesResponse struct {
	Message string               `json:"message"`
	Results []compare.FrameScore `json:"results"`
}

type ScoreRequest struct {
	Reference pose.PersonPose `json:"reference"`
	User      pose.PersonPose `json:"user"`
}

func (r ScoreRequest) Validate() error {
	if r.Reference == nil || r.User == nil {
		return errors.New("reference and user are required")
	}
	return nil
}

type ScoreResponse struct {
	Similarity float64 `json:"similarity"`
}

type ComparisonsResponse struct {
	Comparisons []*catalog.Comparison `json:"comparisons"`
}

type JobResponse struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	Status    string `json:"status"`
	VideoID   string `json:"video_id,omitempty"`
	Progress  int    `json:"progress"`
	Error     string `json:"error,omitempty"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

type JobsResponse struct {
	Jobs []JobResponse `json:"jobs"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func VideoToResponse(v *catalog.Video) VideoResponse {
	return VideoResponse{
		ID:         v.ID,
		Filename:   v.Filename,
		Size:       v.Size,
		Status:     v.Status,
		FPS:        v.FPS,
		Duration:   v.Duration,
		Width:      v.Width,
		Height:     v.Height,
		Tempo:      v.Tempo,
		BeatCount:  v.BeatCount,
		PoseFrames: v.PoseFrames,
		Error:      v.Error,
		CreatedAt:  v.CreatedAt.Format(time.RFC3339),
		UpdatedAt:  v.UpdatedAt.Format(time.RFC3339),
	}
}

func JobToResponse(j *catalog.Job) JobResponse {
	return JobResponse{
		ID:        j.ID,
		Type:      j.Type,
		Status:    j.Status,
		VideoID:   j.VideoID,
		Progress:  j.Progress,
		Error:     j.Error,
		CreatedAt: j.CreatedAt.Format(time.RFC3339),
		UpdatedAt: j.UpdatedAt.Format(time.RFC3339),
	}
}

func ComparisonToResponse(c *catalog.Comparison) CompareResponse {
	return CompareResponse{
		ComparisonID:      c.ID,
		FPS:               c.FPS,
		Results:           c.Results,
		AverageSimilarity: c.AverageSimilarity,
		NumBeatsAnalyzed:  c.NumBeatsAnalyzed,
		TimeOffsetSeconds: c.TimeOffsetSeconds,
	}
}
