package catalog

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dancesync/dancesync-agent/internal/compare"
)

const (
	VideoStatusPending   = "pending"
	VideoStatusAnalyzing = "analyzing"
	VideoStatusReady     = "ready"
	VideoStatusFailed    = "failed"
)

type Video struct {
	ID            string    `json:"id"`
	Filename      string    `json:"filename"`
	Path          string    `json:"-"`
	Size          int64     `json:"size"`
	Status        string    `json:"status"`
	FPS           float64   `json:"fps"`
	Duration      float64   `json:"duration"`
	Width         int       `json:"width"`
	Height        int       `json:"height"`
	Tempo         float64   `json:"tempo"`
	BeatCount     int       `json:"beat_count"`
	PoseFrames    int       `json:"pose_frames"`
	PoseArtifact  string    `json:"-"`
	BeatsArtifact string    `json:"-"`
	Error         string    `json:"error,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// IsReady reports whether pose and beat artifacts are available.
func (v *Video) IsReady() bool {
	return v.Status == VideoStatusReady && v.PoseArtifact != "" && v.BeatsArtifact != ""
}

const (
	JobTypeAnalyze = "analyze"

	JobStatusPending   = "pending"
	JobStatusRunning   = "running"
	JobStatusCompleted = "completed"
	JobStatusFailed    = "failed"
)

type Job struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Status    string    `json:"status"`
	VideoID   string    `json:"video_id,omitempty"`
	Progress  int       `json:"progress"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Comparison is a stored beat comparison. Video IDs are empty when the
// comparison was run on an explicit payload.
type Comparison struct {
	ID                string              `json:"id"`
	ReferenceVideoID  string              `json:"reference_video_id,omitempty"`
	UserVideoID       string              `json:"user_video_id,omitempty"`
	FPS               int                 `json:"fps"`
	AverageSimilarity float64             `json:"average_similarity"`
	NumBeatsAnalyzed  int                 `json:"num_beats_analyzed"`
	TimeOffsetSeconds *float64            `json:"time_offset_seconds,omitempty"`
	Results           []compare.BeatScore `json:"results"`
	CreatedAt         time.Time           `json:"created_at"`
}

type ConfigEntry struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// VideoExtensions lists the upload formats accepted by the agent.
var VideoExtensions = map[string]bool{
	".mp4": true,
	".avi": true,
	".mov": true,
}

func NewID() string {
	return uuid.NewString()
}

func IsVideoFile(filename string) bool {
	return VideoExtensions[strings.ToLower(filepath.Ext(filename))]
}

// SanitizeFilename strips directories and anything outside [A-Za-z0-9._-]
// from an uploaded name. It returns "" when nothing usable remains.
func SanitizeFilename(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		case r == ' ':
			b.WriteRune('_')
		}
	}
	return strings.Trim(b.String(), "._")
}
