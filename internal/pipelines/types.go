// Package pipelines provides subprocess-based execution of the
// dancesync-pipelines Python CLI (doctor, pose, beats) with structured
// result parsing.
package pipelines

import (
	"time"

	"github.com/dancesync/dancesync-agent/internal/pose"
)

// Capabilities represents what the installed Python pipelines can do,
// as reported by the `doctor --json` command.
type Capabilities struct {
	PackageVersion string             `json:"package_version"`
	Python         PythonInfo         `json:"python"`
	Dependencies   map[string]DepInfo `json:"dependencies"`
	Executables    map[string]DepInfo `json:"executables"`
	GPU            GPUInfo            `json:"gpu"`
	Summary        SummaryInfo        `json:"summary"`
	Pipelines      PipelinesInfo      `json:"pipelines"`

	HasPose  bool      `json:"has_pose"`
	HasBeats bool      `json:"has_beats"`
	ProbedAt time.Time `json:"probed_at"`
}

// PipelinesInfo reports per-pipeline availability from doctor JSON.
type PipelinesInfo struct {
	Pose  bool `json:"pose"`
	Beats bool `json:"beats"`
}

// PythonInfo holds Python runtime information.
type PythonInfo struct {
	Version    string `json:"version"`
	Executable string `json:"executable"`
}

// DepInfo represents the availability status of a single dependency.
type DepInfo struct {
	Available bool   `json:"available"`
	Version   string `json:"version,omitempty"`
	Path      string `json:"path,omitempty"`
	Error     string `json:"error,omitempty"`
}

type GPUInfo struct {
	CUDAAvailable bool   `json:"cuda_available"`
	DeviceCount   int    `json:"device_count,omitempty"`
	Error         string `json:"error,omitempty"`
}

type SummaryInfo struct {
	Available int  `json:"available"`
	Total     int  `json:"total"`
	AllOK     bool `json:"all_ok"`
}

// RunResult is the structured outcome of executing a pipeline subprocess.
type RunResult struct {
	ExitCode   int           `json:"exit_code"`
	OutputPath string        `json:"output_path,omitempty"` // path to the --out JSON file
	StderrTail string        `json:"stderr_tail,omitempty"` // last N bytes of stderr
	Duration   time.Duration `json:"duration"`
}

// IsSuccess returns true when the subprocess exited cleanly.
func (r RunResult) IsSuccess() bool { return r.ExitCode == 0 }

// PipelineOutput represents the required metadata fields the agent validates
// in every pipeline JSON output file.
type PipelineOutput struct {
	SchemaVersion   string `json:"schema_version"`
	PipelineVersion string `json:"pipeline_version"`
	ModelVersion    string `json:"model_version"`
}

// RequiredFieldsPresent checks the hard invariants the agent enforces.
func (p PipelineOutput) RequiredFieldsPresent() bool {
	return p.SchemaVersion != "" && p.PipelineVersion != "" && p.ModelVersion != ""
}

// PoseOutputPayload is written by `pose detect`. Frames without a detection
// are either omitted or carry an empty persons list; frames the model failed
// on carry Error.
type PoseOutputPayload struct {
	PipelineOutput
	FPS        float64     `json:"fps"`
	Width      int         `json:"width"`
	Height     int         `json:"height"`
	FrameCount int         `json:"frame_count"`
	Frames     []PoseFrame `json:"frames"`
}

type PoseFrame struct {
	Frame   int               `json:"frame"`
	Persons []pose.PersonPose `json:"persons"`
	Error   string            `json:"error,omitempty"`
}

// BeatOutputPayload is written by `beats track`.
type BeatOutputPayload struct {
	PipelineOutput
	Tempo      float64 `json:"tempo"`
	BeatFrames []int   `json:"beat_frames"`
	HopLength  int     `json:"hop_length"`
	SampleRate int     `json:"sample_rate"`
}
