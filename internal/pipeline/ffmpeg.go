// Package pipeline wraps the ffmpeg and ffprobe executables used to inspect
// uploads and pull their audio track.
package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os/exec"
	"strconv"
	"strings"
)

var ErrNoVideoStream = errors.New("no video stream")

type FFmpeg interface {
	Probe(ctx context.Context, filePath string) (*ProbeResult, error)
	ExtractAudio(ctx context.Context, inputPath, outputPath string, sampleRate int) error
}

type ProbeResult struct {
	Duration    float64
	Width       int
	Height      int
	Codec       string
	Bitrate     int64
	FrameRate   float64
	AudioCodec  string
	AudioSample int
}

// HasAudio reports whether ffprobe found an audio stream.
func (p *ProbeResult) HasAudio() bool {
	return p.AudioCodec != ""
}

type RealFFmpeg struct {
	ffmpegBin  string
	ffprobeBin string
	logger     *slog.Logger
}

// NewRealFFmpeg uses ffmpeg and ffprobe from PATH.
func NewRealFFmpeg(logger *slog.Logger) *RealFFmpeg {
	return NewRealFFmpegWithBinaries("", "", logger)
}

func NewRealFFmpegWithBinaries(ffmpegBin, ffprobeBin string, logger *slog.Logger) *RealFFmpeg {
	if strings.TrimSpace(ffmpegBin) == "" {
		ffmpegBin = "ffmpeg"
	}
	if strings.TrimSpace(ffprobeBin) == "" {
		ffprobeBin = "ffprobe"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RealFFmpeg{ffmpegBin: ffmpegBin, ffprobeBin: ffprobeBin, logger: logger}
}

// Available reports whether both binaries resolve on PATH.
func (f *RealFFmpeg) Available() bool {
	if _, err := exec.LookPath(f.ffmpegBin); err != nil {
		return false
	}
	_, err := exec.LookPath(f.ffprobeBin)
	return err == nil
}

func (f *RealFFmpeg) Probe(ctx context.Context, filePath string) (*ProbeResult, error) {
	if strings.TrimSpace(filePath) == "" {
		return nil, errors.New("ffprobe: empty path")
	}

	cmd := exec.CommandContext(ctx, f.ffprobeBin,
		"-v", "error", "-hide_banner",
		"-show_format", "-show_streams",
		"-of", "json",
		"--", filePath,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("ffprobe: %w: %s", err, strings.TrimSpace(stderr.String()))
	}

	result, err := parseProbe(output)
	if err != nil {
		return nil, err
	}
	f.logger.Debug("probed video",
		"duration", result.Duration,
		"fps", result.FrameRate,
		"width", result.Width,
		"height", result.Height,
		"audio_codec", result.AudioCodec,
	)
	return result, nil
}

// ExtractAudio decodes the first audio stream to mono little-endian float32
// PCM at sampleRate.
func (f *RealFFmpeg) ExtractAudio(ctx context.Context, inputPath, outputPath string, sampleRate int) error {
	if sampleRate <= 0 {
		return fmt.Errorf("ffmpeg: invalid sample rate %d", sampleRate)
	}

	cmd := exec.CommandContext(ctx, f.ffmpegBin, audioArgs(inputPath, outputPath, sampleRate)...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("ffmpeg extract audio: %w: %s", err, lastLine(stderr.String()))
	}
	return nil
}

func audioArgs(inputPath, outputPath string, sampleRate int) []string {
	return []string{
		"-hide_banner", "-v", "error", "-y",
		"-i", inputPath,
		"-vn",
		"-ac", "1",
		"-ar", strconv.Itoa(sampleRate),
		"-f", "f32le",
		outputPath,
	}
}

type probeJSON struct {
	Streams []struct {
		CodecName    string `json:"codec_name"`
		CodecType    string `json:"codec_type"`
		Width        int    `json:"width"`
		Height       int    `json:"height"`
		AvgFrameRate string `json:"avg_frame_rate"`
		RFrameRate   string `json:"r_frame_rate"`
		SampleRate   string `json:"sample_rate"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
		BitRate  string `json:"bit_rate"`
	} `json:"format"`
}

func parseProbe(data []byte) (*ProbeResult, error) {
	var raw probeJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("ffprobe parse: %w", err)
	}

	res := &ProbeResult{
		Duration: parseFloat(raw.Format.Duration),
		Bitrate:  int64(parseFloat(raw.Format.BitRate)),
	}
	foundVideo := false
	for _, s := range raw.Streams {
		switch strings.ToLower(s.CodecType) {
		case "video":
			if foundVideo {
				continue
			}
			foundVideo = true
			res.Codec = s.CodecName
			res.Width = s.Width
			res.Height = s.Height
			res.FrameRate = ParseFrameRate(s.AvgFrameRate)
			if res.FrameRate == 0 {
				res.FrameRate = ParseFrameRate(s.RFrameRate)
			}
		case "audio":
			if res.AudioCodec != "" {
				continue
			}
			res.AudioCodec = s.CodecName
			res.AudioSample = int(parseFloat(s.SampleRate))
		}
	}
	if !foundVideo {
		return nil, ErrNoVideoStream
	}
	return res, nil
}

// ParseFrameRate parses ffprobe rates such as "30000/1001" or "25". It
// returns 0 for anything it cannot interpret.
func ParseFrameRate(value string) float64 {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	num, den, found := strings.Cut(value, "/")
	if !found {
		return parseFloat(num)
	}
	n := parseFloat(num)
	d := parseFloat(den)
	if d == 0 {
		return 0
	}
	return n / d
}

func parseFloat(value string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0
	}
	return v
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
