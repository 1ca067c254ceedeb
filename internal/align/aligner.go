package align

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/dancesync/dancesync-agent/internal/audio"
	"github.com/dancesync/dancesync-agent/internal/beats"
)

// SameSongTempoTolerance is the exclusive BPM distance under which two tracks
// are treated as the same song.
const SameSongTempoTolerance = 5.0

const (
	OffsetVideoReference = "reference"
	OffsetVideoUser      = "user"
)

// ClassifySameSong is a tempo-proximity heuristic, not a content match.
func ClassifySameSong(refTempo, userTempo float64) bool {
	return math.Abs(refTempo-userTempo) < SameSongTempoTolerance
}

// AudioSimilarity is 1.0 for a same-song classification and 0.0 otherwise.
func AudioSimilarity(sameSong bool) float64 {
	if sameSong {
		return 1.0
	}
	return 0.0
}

// OffsetVideo names the video that should start later for a given offset.
func OffsetVideo(offsetSeconds float64) string {
	if offsetSeconds > 0 {
		return OffsetVideoReference
	}
	return OffsetVideoUser
}

// Result describes how a user recording lines up with the reference.
type Result struct {
	IsSameSong        bool      `json:"is_same_song"`
	AudioSimilarity   float64   `json:"audio_similarity"`
	TimeOffsetSeconds float64   `json:"time_offset_seconds"`
	OffsetVideo       string    `json:"offset_video"`
	RefTempo          float64   `json:"ref_tempo"`
	UserTempo         float64   `json:"user_tempo"`
	RefBeats          []float64 `json:"ref_beats"`
	UserBeats         []float64 `json:"user_beats"`
}

// BeatExtractor is satisfied by *beats.Extractor.
type BeatExtractor interface {
	Extract(ctx context.Context, sig audio.Signal) (beats.Track, error)
	ExtractFromVideo(ctx context.Context, videoPath string) (beats.Track, audio.Signal, error)
}

type Aligner struct {
	extractor BeatExtractor
	logger    *slog.Logger
}

func NewAligner(extractor BeatExtractor, logger *slog.Logger) *Aligner {
	return &Aligner{extractor: extractor, logger: logger}
}

// Align extracts beats from both signals and computes their offset.
func (a *Aligner) Align(ctx context.Context, ref, user audio.Signal) (Result, error) {
	refTrack, err := a.extractor.Extract(ctx, ref)
	if err != nil {
		return Result{}, fmt.Errorf("reference beats: %w", err)
	}
	userTrack, err := a.extractor.Extract(ctx, user)
	if err != nil {
		return Result{}, fmt.Errorf("user beats: %w", err)
	}
	return a.combine(ref, user, refTrack, userTrack)
}

// AlignVideos decodes both videos and aligns them.
func (a *Aligner) AlignVideos(ctx context.Context, refPath, userPath string) (Result, error) {
	refTrack, ref, err := a.extractor.ExtractFromVideo(ctx, refPath)
	if err != nil {
		return Result{}, fmt.Errorf("reference video: %w", err)
	}
	userTrack, user, err := a.extractor.ExtractFromVideo(ctx, userPath)
	if err != nil {
		return Result{}, fmt.Errorf("user video: %w", err)
	}
	return a.combine(ref, user, refTrack, userTrack)
}

// AlignTracks aligns pre-computed beat tracks against their signals.
func (a *Aligner) AlignTracks(ref, user audio.Signal, refTrack, userTrack beats.Track) (Result, error) {
	return a.combine(ref, user, refTrack, userTrack)
}

func (a *Aligner) combine(ref, user audio.Signal, refTrack, userTrack beats.Track) (Result, error) {
	offset, err := Offset(ref, user)
	if err != nil {
		return Result{}, fmt.Errorf("time offset: %w", err)
	}

	same := ClassifySameSong(refTrack.Tempo, userTrack.Tempo)
	res := Result{
		IsSameSong:        same,
		AudioSimilarity:   AudioSimilarity(same),
		TimeOffsetSeconds: offset,
		OffsetVideo:       OffsetVideo(offset),
		RefTempo:          refTrack.Tempo,
		UserTempo:         userTrack.Tempo,
		RefBeats:          nonNil(refTrack.BeatTimes),
		UserBeats:         nonNil(userTrack.BeatTimes),
	}

	if a.logger != nil {
		a.logger.Info("audio aligned",
			"ref_tempo", refTrack.Tempo,
			"user_tempo", userTrack.Tempo,
			"tempo_diff", math.Abs(refTrack.Tempo-userTrack.Tempo),
			"offset_seconds", offset,
			"offset_video", res.OffsetVideo,
			"same_song", same,
		)
	}
	return res, nil
}

func nonNil(v []float64) []float64 {
	if v == nil {
		return []float64{}
	}
	return v
}
