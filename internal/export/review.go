package export

import (
	"fmt"
	"math"
	"sort"

	"github.com/dancesync/dancesync-agent/internal/compare"
)

// SelectReviewClips picks the weakest beats below threshold, at most maxClips
// of them, and returns clips in timeline order. Beats are numbered from 1 in
// result order.
func SelectReviewClips(results []compare.BeatScore, threshold float64, paddingMs, maxClips int, mediaPath string) []ReviewClip {
	type weak struct {
		beat  int
		score compare.BeatScore
	}
	var candidates []weak
	for i, r := range results {
		if r.Similarity < threshold {
			candidates = append(candidates, weak{beat: i + 1, score: r})
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].score.Similarity < candidates[j].score.Similarity
	})
	if maxClips > 0 && len(candidates) > maxClips {
		candidates = candidates[:maxClips]
	}

	clips := make([]ReviewClip, 0, len(candidates))
	for _, c := range candidates {
		center := int(math.Round(c.score.UserTime * 1000))
		start := center - paddingMs
		if start < 0 {
			start = 0
		}
		clips = append(clips, ReviewClip{
			ClipName:   SanitizeName(fmt.Sprintf("beat %03d (%.2f)", c.beat, c.score.Similarity), 160),
			MediaPath:  mediaPath,
			Beat:       c.beat,
			Similarity: c.score.Similarity,
			StartMs:    start,
			EndMs:      center + paddingMs,
		})
	}
	sort.SliceStable(clips, func(i, j int) bool { return clips[i].StartMs < clips[j].StartMs })
	return clips
}
