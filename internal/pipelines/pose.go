package pipelines

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/dancesync/dancesync-agent/internal/pose"
)

// ReadPoseOutput loads and validates a `pose detect` output file.
func ReadPoseOutput(path string) (*PoseOutputPayload, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read pose output: %w", err)
	}
	if _, err := validateOutput(data); err != nil {
		return nil, err
	}

	var payload PoseOutputPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("cannot parse pose output: %w", err)
	}
	return &payload, nil
}

// Results converts the payload into per-frame results. Frames the model
// failed on become FrameResults with a *pose.FrameError.
func (p *PoseOutputPayload) Results() []pose.FrameResult {
	out := make([]pose.FrameResult, 0, len(p.Frames))
	for _, f := range p.Frames {
		if f.Error != "" {
			out = append(out, pose.FrameResult{
				Frame: f.Frame,
				Err:   &pose.FrameError{Frame: f.Frame, Reason: f.Error},
			})
			continue
		}
		out = append(out, pose.FrameResult{Frame: f.Frame, Pose: pose.FramePose(f.Persons)})
	}
	return out
}

// LoadPoseTrack reads a pose output file and assembles the track. The
// payload is returned for its video metadata (fps, size, frame count).
func LoadPoseTrack(path string, logger *slog.Logger) (pose.VideoPoseTrack, *PoseOutputPayload, pose.BuildStats, error) {
	payload, err := ReadPoseOutput(path)
	if err != nil {
		return nil, nil, pose.BuildStats{}, err
	}
	track, stats := pose.BuildTrack(payload.Results(), logger)
	return track, payload, stats, nil
}
