// Package audio defines decoded audio signals and the decoder that pulls
// them out of uploaded video containers.
package audio

import (
	"errors"
	"fmt"
)

// DefaultSampleRate matches the rate the beat tracker is tuned for.
const DefaultSampleRate = 22050

var (
	// ErrAudioDecode marks failures to obtain a usable signal from a video.
	ErrAudioDecode = errors.New("audio decode error")
	// ErrEmptyInput marks empty sample or beat sequences where values are required.
	ErrEmptyInput = errors.New("empty input")
)

// Signal is a mono sequence of amplitude samples.
type Signal struct {
	Samples    []float64 `json:"samples"`
	SampleRate int       `json:"sample_rate"`
}

// Duration returns the signal length in seconds.
func (s Signal) Duration() float64 {
	if s.SampleRate <= 0 {
		return 0
	}
	return float64(len(s.Samples)) / float64(s.SampleRate)
}

// Validate reports ErrEmptyInput for signals that cannot be analysed.
func (s Signal) Validate() error {
	if len(s.Samples) == 0 {
		return fmt.Errorf("%w: signal has no samples", ErrEmptyInput)
	}
	if s.SampleRate <= 0 {
		return fmt.Errorf("%w: invalid sample rate %d", ErrEmptyInput, s.SampleRate)
	}
	return nil
}
