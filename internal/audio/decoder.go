package audio

import (
	"context"
	"fmt"
	"log/slog"
	"os"
)

// Decoder turns a video file into a mono Signal.
type Decoder interface {
	Decode(ctx context.Context, videoPath string) (Signal, error)
}

// Extractor writes the audio track of a video as raw mono f32le PCM.
// pipeline.RealFFmpeg satisfies it.
type Extractor interface {
	ExtractAudio(ctx context.Context, inputPath, outputPath string, sampleRate int) error
}

// FFmpegDecoder extracts audio into a temporary PCM file and loads it.
// The temporary file is removed on every return path.
type FFmpegDecoder struct {
	extractor  Extractor
	sampleRate int
	tempDir    string
	logger     *slog.Logger
}

func NewFFmpegDecoder(extractor Extractor, sampleRate int, tempDir string, logger *slog.Logger) *FFmpegDecoder {
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}
	return &FFmpegDecoder{
		extractor:  extractor,
		sampleRate: sampleRate,
		tempDir:    tempDir,
		logger:     logger,
	}
}

func (d *FFmpegDecoder) SampleRate() int {
	return d.sampleRate
}

func (d *FFmpegDecoder) Decode(ctx context.Context, videoPath string) (Signal, error) {
	tmp, err := os.CreateTemp(d.tempDir, "dancesync-audio-*.f32")
	if err != nil {
		return Signal{}, fmt.Errorf("%w: create temp file: %v", ErrAudioDecode, err)
	}
	tmpPath := tmp.Name()
	tmp.Close()
	defer d.remove(tmpPath)

	if err := d.extractor.ExtractAudio(ctx, videoPath, tmpPath, d.sampleRate); err != nil {
		return Signal{}, fmt.Errorf("%w: extract audio: %v", ErrAudioDecode, err)
	}

	samples, err := ReadPCMFile(tmpPath)
	if err != nil {
		return Signal{}, fmt.Errorf("%w: read samples: %v", ErrAudioDecode, err)
	}
	if len(samples) == 0 {
		return Signal{}, fmt.Errorf("%w: no audio samples in %s", ErrAudioDecode, videoPath)
	}

	if d.logger != nil {
		d.logger.Debug("decoded audio",
			"samples", len(samples),
			"sample_rate", d.sampleRate,
		)
	}
	return Signal{Samples: samples, SampleRate: d.sampleRate}, nil
}

func (d *FFmpegDecoder) remove(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) && d.logger != nil {
		d.logger.Warn("failed to remove temp audio file", "path", path, "error", err)
	}
}
