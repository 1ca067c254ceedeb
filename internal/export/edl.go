package export

import (
	"fmt"
	"math"
	"strings"
)

// GenerateEDL renders clips as a CMX3600 edit list laid end to end on the
// record timeline.
func GenerateEDL(clips []ReviewClip, title string, frameRate float64) string {
	fps := int(math.Round(frameRate))
	if fps <= 0 {
		fps = 30
	}

	fcm := "FCM: NON-DROP FRAME"
	if math.Abs(frameRate-29.97) < 0.01 || math.Abs(frameRate-59.94) < 0.01 {
		fcm = "FCM: DROP FRAME"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "TITLE: %s\n%s\n\n", title, fcm)

	recordMs := 0
	for i, clip := range clips {
		durationMs := clip.EndMs - clip.StartMs
		fmt.Fprintf(&b, "%03d  %-8s %-5s C        %s %s %s %s\n",
			i+1, "AX", "V",
			msToTimecode(clip.StartMs, fps), msToTimecode(clip.EndMs, fps),
			msToTimecode(recordMs, fps), msToTimecode(recordMs+durationMs, fps))
		fmt.Fprintf(&b, "* FROM CLIP NAME:  %s\n", clip.ClipName)
		fmt.Fprintf(&b, "* MEDIA PATH:  %s\n", clip.MediaPath)
		fmt.Fprintf(&b, "* BEAT %d SIMILARITY:  %.3f\n", clip.Beat, clip.Similarity)
		recordMs += durationMs
	}
	return b.String()
}

func msToTimecode(ms int, fps int) string {
	totalFrames := int(math.Round(float64(ms) * float64(fps) / 1000.0))
	frames := totalFrames % fps
	totalSeconds := totalFrames / fps
	return fmt.Sprintf("%02d:%02d:%02d:%02d", totalSeconds/3600, (totalSeconds/60)%60, totalSeconds%60, frames)
}
