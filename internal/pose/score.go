package pose

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// Score returns the similarity of two single-person poses in [0, 1].
//
// Joints are paired by index. A pair counts only when both keypoints have
// confidence strictly above ConfidenceThreshold. The result is
// 1 / (1 + mean Euclidean distance) over the counted pairs, and 0 when either
// pose is empty or no pair counts.
func Score(ref, user PersonPose) float64 {
	if len(ref) == 0 || len(user) == 0 {
		return 0
	}

	n := len(ref)
	if len(user) < n {
		n = len(user)
	}

	distances := make([]float64, 0, n)
	for i := 0; i < n; i++ {
		r, u := ref[i], user[i]
		if !r.Valid() || !u.Valid() {
			continue
		}
		distances = append(distances, math.Hypot(r.X-u.X, r.Y-u.Y))
	}
	if len(distances) == 0 {
		return 0
	}

	avg := floats.Sum(distances) / float64(len(distances))
	return 1.0 / (1.0 + avg)
}

// ScoreFrames compares the primary person of each frame.
func ScoreFrames(ref, user FramePose) float64 {
	return Score(ref.Primary(), user.Primary())
}
