package pipelines

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dancesync/dancesync-agent/internal/audio"
)

const poseJSON = `{
	"schema_version": "1.0",
	"pipeline_version": "0.2.0",
	"model_version": "yolov8n-pose",
	"fps": 29.97,
	"width": 1280,
	"height": 720,
	"frame_count": 4,
	"frames": [
		{"frame": 0, "persons": [[{"x": 1, "y": 2, "confidence": 0.9}]]},
		{"frame": 1, "persons": []},
		{"frame": 2, "persons": null, "error": "cuda out of memory"},
		{"frame": 3, "persons": [[{"x": 5, "y": 6, "confidence": 0.8}], [{"x": 7, "y": 8, "confidence": 0.7}]]}
	]
}`

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoadPoseTrack(t *testing.T) {
	path := writeFile(t, t.TempDir(), "pose.json", poseJSON)

	track, payload, stats, err := LoadPoseTrack(path, nil)
	if err != nil {
		t.Fatalf("LoadPoseTrack() error = %v", err)
	}
	if payload.FPS != 29.97 || payload.FrameCount != 4 {
		t.Errorf("payload metadata = %+v", payload)
	}
	if stats.Failed != 1 || stats.Empty != 1 || stats.Emitted != 2 {
		t.Errorf("stats = %+v", stats)
	}
	if _, ok := track.Lookup(1); ok {
		t.Error("frame without persons should be missing")
	}
	if _, ok := track.Lookup(2); ok {
		t.Error("failed frame should be missing")
	}
	fp, ok := track.Lookup(3)
	if !ok || len(fp) != 2 || fp.Primary()[0].X != 5 {
		t.Errorf("frame 3 = %+v", fp)
	}
}

func TestPoseOutputPayload_ResultsCarryFrameErrors(t *testing.T) {
	p := PoseOutputPayload{Frames: []PoseFrame{{Frame: 7, Error: "decode failed"}}}
	res := p.Results()
	if len(res) != 1 || res[0].Err == nil {
		t.Fatalf("Results() = %+v", res)
	}
	if got := res[0].Err.Error(); got != "frame 7: decode failed" {
		t.Errorf("error = %q", got)
	}
}

func TestReadPoseOutput_RejectsMissingMetadata(t *testing.T) {
	path := writeFile(t, t.TempDir(), "pose.json", `{"fps": 30, "frames": []}`)
	if _, err := ReadPoseOutput(path); err == nil {
		t.Fatal("expected error for missing version fields")
	}
}

func TestBeatTracker_Track(t *testing.T) {
	tmp := t.TempDir()
	var seenSamples string
	runner := &fakeRunner{
		beatsFn: func(samplesPath string, sampleRate int, outPath string) RunResult {
			seenSamples = samplesPath
			samples, err := audio.ReadPCMFile(samplesPath)
			if err != nil || len(samples) != 3 || sampleRate != 22050 {
				return RunResult{ExitCode: 2, StderrTail: "bad samples"}
			}
			os.WriteFile(outPath, []byte(`{
				"schema_version": "1.0", "pipeline_version": "0.2.0", "model_version": "librosa-0.10",
				"tempo": 117.45, "beat_frames": [12, 55, 98], "hop_length": 512, "sample_rate": 22050
			}`), 0644)
			return RunResult{ExitCode: 0, OutputPath: outPath}
		},
	}

	tracker := NewBeatTracker(runner, tmp, nil)
	est, err := tracker.Track(context.Background(), audio.Signal{Samples: []float64{0.1, -0.2, 0.3}, SampleRate: 22050})
	if err != nil {
		t.Fatalf("Track() error = %v", err)
	}
	if est.Tempo != 117.45 || len(est.BeatFrames) != 3 || est.HopLength != 512 {
		t.Errorf("estimate = %+v", est)
	}

	if _, err := os.Stat(filepath.Dir(seenSamples)); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("workspace not removed: %v", err)
	}
}

func TestBeatTracker_FailedRunCleansUp(t *testing.T) {
	tmp := t.TempDir()
	runner := &fakeRunner{
		beatsFn: func(samplesPath string, sampleRate int, outPath string) RunResult {
			return RunResult{ExitCode: 1, StderrTail: "ModuleNotFoundError: librosa"}
		},
	}

	_, err := NewBeatTracker(runner, tmp, nil).Track(context.Background(), audio.Signal{Samples: []float64{1}, SampleRate: 22050})
	if err == nil {
		t.Fatal("expected error for failed run")
	}

	entries, _ := os.ReadDir(tmp)
	if len(entries) != 0 {
		t.Errorf("temp dir not cleaned: %d entries left", len(entries))
	}
}

func TestBeatTracker_SampleRateMismatch(t *testing.T) {
	runner := &fakeRunner{
		beatsFn: func(samplesPath string, sampleRate int, outPath string) RunResult {
			os.WriteFile(outPath, []byte(`{
				"schema_version": "1.0", "pipeline_version": "0.2.0", "model_version": "librosa",
				"tempo": 100, "beat_frames": [], "sample_rate": 44100
			}`), 0644)
			return RunResult{ExitCode: 0, OutputPath: outPath}
		},
	}
	_, err := NewBeatTracker(runner, t.TempDir(), nil).Track(context.Background(), audio.Signal{Samples: []float64{1}, SampleRate: 22050})
	if err == nil {
		t.Fatal("expected sample rate mismatch error")
	}
}

func TestCachedDoctor_ReturnsStaleOnFailure(t *testing.T) {
	fail := false
	fake := &fakeRunner{
		doctorFn: func(ctx context.Context) (*Capabilities, error) {
			if fail {
				return nil, errors.New("python crashed")
			}
			return &Capabilities{HasBeats: true, ProbedAt: time.Now()}, nil
		},
	}

	doc := NewCachedDoctor(fake, nil)
	if _, err := doc.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}

	fail = true
	caps, err := doc.Refresh(context.Background())
	if err != nil {
		t.Fatalf("Refresh() with stale cache error = %v", err)
	}
	if !caps.HasBeats {
		t.Error("expected stale capabilities")
	}

	doc.Invalidate()
	if _, err := doc.Refresh(context.Background()); err == nil {
		t.Error("expected error with empty cache")
	}
	if doc.Peek() != nil {
		t.Error("Peek() should be nil after failed refresh on empty cache")
	}
}

func TestCachedDoctor_RequireAnalysis(t *testing.T) {
	tests := []struct {
		name    string
		caps    *Capabilities
		err     error
		wantErr string
	}{
		{"all present", &Capabilities{HasPose: true, HasBeats: true}, nil, ""},
		{"no beats", &Capabilities{HasPose: true}, nil, "pipeline unavailable: beats"},
		{"nothing", &Capabilities{}, nil, "pipeline unavailable: pose, beats"},
		{"probe fails", nil, errors.New("no python"), "doctor probe failed: no python"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := &fakeRunner{
				doctorFn: func(ctx context.Context) (*Capabilities, error) {
					if tt.caps != nil {
						tt.caps.ProbedAt = time.Now()
					}
					return tt.caps, tt.err
				},
			}
			err := NewCachedDoctor(fake, nil).RequireAnalysis(context.Background())
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("RequireAnalysis() error = %v", err)
				}
				return
			}
			if err == nil || err.Error() != tt.wantErr {
				t.Fatalf("RequireAnalysis() error = %v, want %q", err, tt.wantErr)
			}
			if tt.caps != nil && !errors.Is(err, ErrUnavailable) {
				t.Error("missing pipeline error should wrap ErrUnavailable")
			}
		})
	}
}
