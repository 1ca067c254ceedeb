package pose

import (
	"fmt"
	"log/slog"
)

// FrameError records why a single frame produced no poses.
type FrameError struct {
	Frame  int
	Reason string
}

func (e *FrameError) Error() string {
	return fmt.Sprintf("frame %d: %s", e.Frame, e.Reason)
}

// FrameResult is the outcome of running pose estimation on one frame.
// Exactly one of Pose or Err is meaningful.
type FrameResult struct {
	Frame int
	Pose  FramePose
	Err   error
}

// BuildStats summarises how a track was assembled.
type BuildStats struct {
	Frames  int
	Failed  int
	Empty   int
	Emitted int
}

// BuildTrack assembles a VideoPoseTrack from per-frame results. Failed
// frames are logged and left out, as are frames with no detected person, so
// downstream lookups treat them as missing.
func BuildTrack(results []FrameResult, logger *slog.Logger) (VideoPoseTrack, BuildStats) {
	track := make(VideoPoseTrack, len(results))
	stats := BuildStats{Frames: len(results)}

	for _, res := range results {
		if res.Err != nil {
			stats.Failed++
			if logger != nil {
				logger.Warn("skipping frame", "frame", res.Frame, "error", res.Err)
			}
			continue
		}
		if res.Frame < 0 {
			stats.Failed++
			if logger != nil {
				logger.Warn("skipping frame with negative index", "frame", res.Frame)
			}
			continue
		}
		if len(res.Pose) == 0 {
			stats.Empty++
			continue
		}
		track[res.Frame] = res.Pose
		stats.Emitted++
	}

	return track, stats
}
