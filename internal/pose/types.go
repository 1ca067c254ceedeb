// Package pose holds the keypoint model produced by the pose-estimation
// pipeline and the similarity scorer used to compare two dancers.
package pose

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
)

// ConfidenceThreshold gates keypoints. A keypoint is usable only when its
// confidence is strictly greater than this value.
const ConfidenceThreshold = 0.5

// KeypointCount is the number of joints in the COCO pose schema emitted by
// the YOLOv8 pose model.
const KeypointCount = 17

// Joint names for the COCO schema, indexed by keypoint position.
var JointNames = [KeypointCount]string{
	"nose",
	"left_eye",
	"right_eye",
	"left_ear",
	"right_ear",
	"left_shoulder",
	"right_shoulder",
	"left_elbow",
	"right_elbow",
	"left_wrist",
	"right_wrist",
	"left_hip",
	"right_hip",
	"left_knee",
	"right_knee",
	"left_ankle",
	"right_ankle",
}

type Keypoint struct {
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Confidence float64 `json:"confidence"`
}

// Valid reports whether the keypoint passes the confidence gate.
func (k Keypoint) Valid() bool {
	return k.Confidence > ConfidenceThreshold
}

// PersonPose is one detected person. The slice index identifies the joint.
type PersonPose []Keypoint

// FramePose lists every person detected in a frame, in detector order.
type FramePose []PersonPose

// Primary returns the first detected person, or nil when the frame is empty.
// Only the first person takes part in comparisons.
func (f FramePose) Primary() PersonPose {
	if len(f) == 0 {
		return nil
	}
	return f[0]
}

// VideoPoseTrack maps frame index to the poses detected in that frame.
// Frames without detections may be absent.
type VideoPoseTrack map[int]FramePose

// Lookup returns the poses for a frame and whether the frame is present.
func (t VideoPoseTrack) Lookup(frame int) (FramePose, bool) {
	fp, ok := t[frame]
	return fp, ok
}

// Frames returns the frame indices in ascending order.
func (t VideoPoseTrack) Frames() []int {
	frames := make([]int, 0, len(t))
	for f := range t {
		frames = append(frames, f)
	}
	sort.Ints(frames)
	return frames
}

// MarshalJSON encodes the track as an object keyed by decimal frame index.
func (t VideoPoseTrack) MarshalJSON() ([]byte, error) {
	m := make(map[string]FramePose, len(t))
	for f, fp := range t {
		m[strconv.Itoa(f)] = fp
	}
	return json.Marshal(m)
}

// UnmarshalJSON rejects keys that are not canonical non-negative decimal
// integers, so "05" or "+5" cannot alias frame 5.
func (t *VideoPoseTrack) UnmarshalJSON(data []byte) error {
	var m map[string]FramePose
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	out := make(VideoPoseTrack, len(m))
	for key, fp := range m {
		f, err := strconv.Atoi(key)
		if err != nil || f < 0 || strconv.Itoa(f) != key {
			return fmt.Errorf("invalid frame index %q", key)
		}
		out[f] = fp
	}
	*t = out
	return nil
}
