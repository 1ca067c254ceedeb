package pipelines

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/dancesync/dancesync-agent/internal/audio"
	"github.com/dancesync/dancesync-agent/internal/beats"
)

// BeatTracker runs the `beats track` command. It implements beats.Tracker.
type BeatTracker struct {
	runner  Runner
	tempDir string
	logger  *slog.Logger
}

// NewBeatTracker returns a tracker that stages samples under tempDir; an
// empty tempDir means the OS default.
func NewBeatTracker(runner Runner, tempDir string, logger *slog.Logger) *BeatTracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &BeatTracker{runner: runner, tempDir: tempDir, logger: logger}
}

func (t *BeatTracker) Track(ctx context.Context, sig audio.Signal) (beats.Estimate, error) {
	dir, err := os.MkdirTemp(t.tempDir, "dancesync-beats-*")
	if err != nil {
		return beats.Estimate{}, fmt.Errorf("create beats workspace: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(dir); err != nil {
			t.logger.Warn("failed to remove beats workspace", "error", err)
		}
	}()

	samplesPath := filepath.Join(dir, "samples.f32")
	outPath := filepath.Join(dir, "beats.json")

	if err := audio.WritePCMFile(samplesPath, sig.Samples); err != nil {
		return beats.Estimate{}, fmt.Errorf("write samples: %w", err)
	}

	result, err := t.runner.RunBeats(ctx, samplesPath, sig.SampleRate, outPath)
	if err != nil {
		return beats.Estimate{}, err
	}
	if !result.IsSuccess() {
		return beats.Estimate{}, fmt.Errorf("beats pipeline exited %d: %s", result.ExitCode, truncate(result.StderrTail, 512))
	}

	payload, err := ReadBeatOutput(outPath)
	if err != nil {
		return beats.Estimate{}, err
	}
	if payload.SampleRate != 0 && payload.SampleRate != sig.SampleRate {
		return beats.Estimate{}, fmt.Errorf("beats pipeline analysed at %d Hz, expected %d Hz", payload.SampleRate, sig.SampleRate)
	}

	return beats.Estimate{
		Tempo:      payload.Tempo,
		BeatFrames: payload.BeatFrames,
		HopLength:  payload.HopLength,
	}, nil
}

// ReadBeatOutput loads and validates a `beats track` output file.
func ReadBeatOutput(path string) (*BeatOutputPayload, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read beats output: %w", err)
	}
	if _, err := validateOutput(data); err != nil {
		return nil, err
	}

	var payload BeatOutputPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("cannot parse beats output: %w", err)
	}
	return &payload, nil
}
