package compare

import "github.com/dancesync/dancesync-agent/internal/pose"

// FrameKeypoints is one detected frame as produced by upload analysis.
type FrameKeypoints struct {
	Frame     int            `json:"frame"`
	Keypoints pose.FramePose `json:"keypoints"`
	FramePath string         `json:"frame_path,omitempty"`
}

type FrameScore struct {
	Frame          int     `json:"frame"`
	Similarity     float64 `json:"similarity"`
	ReferenceFrame string  `json:"reference_frame"`
	UserFrame      string  `json:"user_frame"`
}

// CompareFrames zips two frame lists positionally, ignoring frame numbers,
// and scores the first person of each pair.
func CompareFrames(ref, user []FrameKeypoints) []FrameScore {
	n := len(ref)
	if len(user) < n {
		n = len(user)
	}
	out := make([]FrameScore, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, FrameScore{
			Frame:          ref[i].Frame,
			Similarity:     pose.ScoreFrames(ref[i].Keypoints, user[i].Keypoints),
			ReferenceFrame: ref[i].FramePath,
			UserFrame:      user[i].FramePath,
		})
	}
	return out
}

// FramesFromTrack lists the frames of a track in ascending order.
func FramesFromTrack(track pose.VideoPoseTrack) []FrameKeypoints {
	frames := track.Frames()
	out := make([]FrameKeypoints, 0, len(frames))
	for _, f := range frames {
		out = append(out, FrameKeypoints{Frame: f, Keypoints: track[f]})
	}
	return out
}
