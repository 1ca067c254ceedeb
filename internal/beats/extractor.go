// Package beats converts the frame-indexed output of an external beat
// tracker into second-denominated beat timestamps.
package beats

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/dancesync/dancesync-agent/internal/audio"
)

// DefaultHopLength is the analysis hop, in samples, of the tracker's onset
// envelope when it does not report one.
const DefaultHopLength = 512

// Track summarises the beat structure of an audio signal.
type Track struct {
	Tempo     float64   `json:"tempo"`
	BeatTimes []float64 `json:"beat_times"`
}

// Estimate is the raw tracker output: tempo plus beat positions expressed as
// onset-envelope frame indices.
type Estimate struct {
	Tempo      float64
	BeatFrames []int
	HopLength  int
}

// Tracker estimates tempo and beat frames for a signal.
type Tracker interface {
	Track(ctx context.Context, sig audio.Signal) (Estimate, error)
}

type Extractor struct {
	tracker Tracker
	decoder audio.Decoder
	logger  *slog.Logger
}

// NewExtractor builds an extractor. decoder may be nil when only in-memory
// signals are analysed.
func NewExtractor(tracker Tracker, decoder audio.Decoder, logger *slog.Logger) *Extractor {
	return &Extractor{tracker: tracker, decoder: decoder, logger: logger}
}

// Extract runs the tracker on sig and converts its frames to seconds.
func (e *Extractor) Extract(ctx context.Context, sig audio.Signal) (Track, error) {
	if err := sig.Validate(); err != nil {
		return Track{}, fmt.Errorf("%w: %v", audio.ErrAudioDecode, err)
	}

	est, err := e.tracker.Track(ctx, sig)
	if err != nil {
		return Track{}, fmt.Errorf("beat tracking: %w", err)
	}
	if math.IsNaN(est.Tempo) || math.IsInf(est.Tempo, 0) || est.Tempo < 0 {
		return Track{}, fmt.Errorf("beat tracking: invalid tempo %v", est.Tempo)
	}

	hop := est.HopLength
	if hop <= 0 {
		hop = DefaultHopLength
	}

	times := FramesToTime(est.BeatFrames, hop, sig.SampleRate)
	increasing := strictlyIncreasing(times)
	if dropped := len(times) - len(increasing); dropped > 0 && e.logger != nil {
		e.logger.Warn("dropped out-of-order beat frames", "dropped", dropped)
	}

	if e.logger != nil {
		e.logger.Info("beats extracted",
			"tempo_bpm", math.Round(est.Tempo*10)/10,
			"beats", len(increasing),
		)
	}

	return Track{Tempo: est.Tempo, BeatTimes: increasing}, nil
}

// ExtractFromVideo decodes the audio of a video and extracts its beats. The
// decoded signal is returned as well since alignment needs the raw samples.
func (e *Extractor) ExtractFromVideo(ctx context.Context, videoPath string) (Track, audio.Signal, error) {
	if e.decoder == nil {
		return Track{}, audio.Signal{}, fmt.Errorf("%w: no decoder configured", audio.ErrAudioDecode)
	}

	sig, err := e.decoder.Decode(ctx, videoPath)
	if err != nil {
		return Track{}, audio.Signal{}, err
	}

	track, err := e.Extract(ctx, sig)
	if err != nil {
		return Track{}, audio.Signal{}, err
	}
	return track, sig, nil
}

// FramesToTime converts onset frame indices to seconds:
// frame * hopLength / sampleRate.
func FramesToTime(frames []int, hopLength, sampleRate int) []float64 {
	times := make([]float64, len(frames))
	if sampleRate <= 0 {
		return times
	}
	for i, f := range frames {
		times[i] = float64(f*hopLength) / float64(sampleRate)
	}
	return times
}

func strictlyIncreasing(times []float64) []float64 {
	out := make([]float64, 0, len(times))
	for _, t := range times {
		if t < 0 {
			continue
		}
		if len(out) > 0 && t <= out[len(out)-1] {
			continue
		}
		out = append(out, t)
	}
	return out
}
