// Package compare scores a user's dance against a reference at matching
// beats.
package compare

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/floats"

	"github.com/dancesync/dancesync-agent/internal/pose"
)

// DefaultFPS is used when the caller does not know the video frame rate.
const DefaultFPS = 30

var ErrInvalidFrameRate = errors.New("frame rate must be positive")

// BeatScore is the similarity at one paired beat. Frame and Timestamp refer
// to the reference video.
type BeatScore struct {
	Frame      int     `json:"frame"`
	Similarity float64 `json:"similarity"`
	Timestamp  float64 `json:"timestamp"`
	UserFrame  int     `json:"user_frame"`
	UserTime   float64 `json:"user_timestamp"`
}

type Result struct {
	Results           []BeatScore `json:"results"`
	AverageSimilarity float64     `json:"average_similarity"`
	NumBeatsAnalyzed  int         `json:"num_beats_analyzed"`
}

// FrameIndex maps a beat time to a frame number, truncating toward zero.
func FrameIndex(beatTime float64, fps int) int {
	return int(beatTime * float64(fps))
}

// Compare pairs refBeats[i] with userBeats[i], looks up the frame at each
// beat in both tracks and scores the first person of each. Pairs where
// either frame is missing are skipped. The alignment offset is not applied
// here; beats are paired purely by position.
func Compare(refTrack, userTrack pose.VideoPoseTrack, refBeats, userBeats []float64, fps int) (Result, error) {
	if fps <= 0 {
		return Result{}, fmt.Errorf("%w: got %d", ErrInvalidFrameRate, fps)
	}

	n := len(refBeats)
	if len(userBeats) < n {
		n = len(userBeats)
	}

	scores := make([]BeatScore, 0, n)
	for i := 0; i < n; i++ {
		refFrame := FrameIndex(refBeats[i], fps)
		userFrame := FrameIndex(userBeats[i], fps)

		refPose, ok := refTrack.Lookup(refFrame)
		if !ok {
			continue
		}
		userPose, ok := userTrack.Lookup(userFrame)
		if !ok {
			continue
		}

		scores = append(scores, BeatScore{
			Frame:      refFrame,
			Similarity: pose.ScoreFrames(refPose, userPose),
			Timestamp:  refBeats[i],
			UserFrame:  userFrame,
			UserTime:   userBeats[i],
		})
	}

	return summarize(scores), nil
}

func summarize(scores []BeatScore) Result {
	res := Result{Results: scores, NumBeatsAnalyzed: len(scores)}
	if len(scores) == 0 {
		return res
	}
	values := make([]float64, len(scores))
	for i, s := range scores {
		values[i] = s.Similarity
	}
	res.AverageSimilarity = floats.Sum(values) / float64(len(values))
	return res
}
