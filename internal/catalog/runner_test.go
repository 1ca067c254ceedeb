package catalog

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dancesync/dancesync-agent/internal/audio"
	"github.com/dancesync/dancesync-agent/internal/beats"
	"github.com/dancesync/dancesync-agent/internal/pipeline"
	"github.com/dancesync/dancesync-agent/internal/pipelines"
	"github.com/dancesync/dancesync-agent/internal/pose"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func allCaps() *pipelines.Capabilities {
	return &pipelines.Capabilities{HasPose: true, HasBeats: true, ProbedAt: time.Now()}
}

func setupRunnerTest(t *testing.T, fake *fakePipeRunner, caps *pipelines.Capabilities) (*Runner, Repository, *fakeExtractor) {
	t.Helper()

	_, repo := setupTestDB(t)
	logger := quietLogger()
	if fake.artifacts == "" {
		fake.artifacts = t.TempDir()
	}

	doctor := pipelines.NewCachedDoctor(&fakeDoctorRunner{caps: caps}, logger)
	extractor := &fakeExtractor{track: beats.Track{Tempo: 118, BeatTimes: []float64{0.5, 1.0}}}

	runner := NewRunner(repo, fake, &fakeFFmpeg{fps: 30}, doctor, extractor, logger)
	return runner, repo, extractor
}

type fakePipeRunner struct {
	poseCalled atomic.Int32

	poseFn    func(ctx context.Context, videoPath, outPath string) (pipelines.RunResult, error)
	artifacts string
}

func (f *fakePipeRunner) RunDoctor(ctx context.Context) (*pipelines.Capabilities, error) {
	return allCaps(), nil
}

func (f *fakePipeRunner) RunPose(ctx context.Context, videoPath, outPath string) (pipelines.RunResult, error) {
	f.poseCalled.Add(1)
	if f.poseFn != nil {
		return f.poseFn(ctx, videoPath, outPath)
	}
	payload := pipelines.PoseOutputPayload{
		PipelineOutput: pipelines.PipelineOutput{SchemaVersion: "1", PipelineVersion: "0.1.0", ModelVersion: "test"},
		FPS:            30,
		Frames: []pipelines.PoseFrame{
			{Frame: 0, Persons: []pose.PersonPose{testPerson(10, 10)}},
			{Frame: 1, Persons: []pose.PersonPose{}},
			{Frame: 2, Error: "inference failed"},
			{Frame: 3, Persons: []pose.PersonPose{testPerson(12, 10)}},
		},
	}
	if err := writeJSON(outPath, payload); err != nil {
		return pipelines.RunResult{}, err
	}
	return pipelines.RunResult{ExitCode: 0, OutputPath: outPath, Duration: time.Second}, nil
}

func (f *fakePipeRunner) RunBeats(ctx context.Context, samplesPath string, sampleRate int, outPath string) (pipelines.RunResult, error) {
	return pipelines.RunResult{}, errors.New("not used by the job runner")
}

func (f *fakePipeRunner) ValidateOutput(path string) (*pipelines.PipelineOutput, error) {
	payload, err := pipelines.ReadPoseOutput(path)
	if err != nil {
		return nil, err
	}
	return &payload.PipelineOutput, nil
}

func (f *fakePipeRunner) ArtifactsDir() string {
	return f.artifacts
}

// fakeDoctorRunner only answers doctor probes.
type fakeDoctorRunner struct {
	caps *pipelines.Capabilities
	err  error
}

func (f *fakeDoctorRunner) RunDoctor(ctx context.Context) (*pipelines.Capabilities, error) {
	return f.caps, f.err
}

func (f *fakeDoctorRunner) RunPose(ctx context.Context, videoPath, outPath string) (pipelines.RunResult, error) {
	return pipelines.RunResult{}, nil
}

func (f *fakeDoctorRunner) RunBeats(ctx context.Context, samplesPath string, sampleRate int, outPath string) (pipelines.RunResult, error) {
	return pipelines.RunResult{}, nil
}

func (f *fakeDoctorRunner) ValidateOutput(path string) (*pipelines.PipelineOutput, error) {
	return nil, nil
}

func (f *fakeDoctorRunner) ArtifactsDir() string {
	return ""
}

type fakeFFmpeg struct {
	fps      float64
	probeErr error
}

func (f *fakeFFmpeg) Probe(ctx context.Context, filePath string) (*pipeline.ProbeResult, error) {
	if f.probeErr != nil {
		return nil, f.probeErr
	}
	return &pipeline.ProbeResult{Duration: 4, Width: 640, Height: 480, FrameRate: f.fps, AudioCodec: "aac"}, nil
}

func (f *fakeFFmpeg) ExtractAudio(ctx context.Context, inputPath, outputPath string, sampleRate int) error {
	return nil
}

type fakeExtractor struct {
	track beats.Track
	err   error
}

func (f *fakeExtractor) ExtractFromVideo(ctx context.Context, videoPath string) (beats.Track, audio.Signal, error) {
	if f.err != nil {
		return beats.Track{}, audio.Signal{}, f.err
	}
	return f.track, audio.Signal{Samples: []float64{0, 1}, SampleRate: audio.DefaultSampleRate}, nil
}

func createTestJobAndVideo(t *testing.T, repo Repository) (*Job, *Video) {
	t.Helper()
	ctx := context.Background()

	now := time.Now()
	video := &Video{
		ID:        NewID(),
		Filename:  "clip.mp4",
		Path:      "/test/uploads/clip.mp4",
		Size:      1024,
		Status:    VideoStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := repo.CreateVideo(ctx, video); err != nil {
		t.Fatalf("create video: %v", err)
	}

	job := &Job{
		ID:        NewID(),
		Type:      JobTypeAnalyze,
		Status:    JobStatusPending,
		VideoID:   video.ID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := repo.CreateJob(ctx, job); err != nil {
		t.Fatalf("create job: %v", err)
	}

	return job, video
}

func TestProcessAnalyzeJob_Success(t *testing.T) {
	fake := &fakePipeRunner{}
	runner, repo, _ := setupRunnerTest(t, fake, allCaps())
	job, video := createTestJobAndVideo(t, repo)
	ctx := context.Background()

	runner.processAnalyzeJob(ctx, job)

	updatedJob, _ := repo.GetJob(ctx, job.ID)
	if updatedJob.Status != JobStatusCompleted {
		t.Fatalf("job status = %s (%s), want %s", updatedJob.Status, updatedJob.Error, JobStatusCompleted)
	}
	if updatedJob.Progress != 100 {
		t.Errorf("job progress = %d, want 100", updatedJob.Progress)
	}
	if fake.poseCalled.Load() != 1 {
		t.Errorf("pose called %d times, want 1", fake.poseCalled.Load())
	}

	v, _ := repo.GetVideo(ctx, video.ID)
	if !v.IsReady() {
		t.Fatalf("video not ready: %+v", v)
	}
	if v.FPS != 30 || v.Width != 640 {
		t.Errorf("probe not stored: fps=%v width=%d", v.FPS, v.Width)
	}
	if v.Tempo != 118 || v.BeatCount != 2 {
		t.Errorf("tempo = %v, beats = %d", v.Tempo, v.BeatCount)
	}
	if v.PoseFrames != 2 {
		t.Errorf("pose frames = %d, want 2", v.PoseFrames)
	}
	if filepath.Dir(v.PoseArtifact) != filepath.Join(fake.artifacts, video.ID) {
		t.Errorf("pose artifact = %s", v.PoseArtifact)
	}

	var track beats.Track
	if err := readJSON(v.BeatsArtifact, &track); err != nil {
		t.Fatalf("read beats artifact: %v", err)
	}
	if len(track.BeatTimes) != 2 || track.BeatTimes[1] != 1.0 {
		t.Errorf("beats artifact = %+v", track)
	}
}

func TestProcessAnalyzeJob_NoPoses(t *testing.T) {
	fake := &fakePipeRunner{}
	fake.poseFn = func(ctx context.Context, videoPath, outPath string) (pipelines.RunResult, error) {
		payload := pipelines.PoseOutputPayload{
			PipelineOutput: pipelines.PipelineOutput{SchemaVersion: "1", PipelineVersion: "0.1.0", ModelVersion: "test"},
			Frames:         []pipelines.PoseFrame{{Frame: 0}, {Frame: 1}},
		}
		if err := writeJSON(outPath, payload); err != nil {
			return pipelines.RunResult{}, err
		}
		return pipelines.RunResult{ExitCode: 0}, nil
	}
	runner, repo, _ := setupRunnerTest(t, fake, allCaps())
	job, video := createTestJobAndVideo(t, repo)
	ctx := context.Background()

	runner.processAnalyzeJob(ctx, job)

	updatedJob, _ := repo.GetJob(ctx, job.ID)
	if updatedJob.Status != JobStatusFailed || updatedJob.Error != NoPosesMessage {
		t.Errorf("job = %s %q, want failed %q", updatedJob.Status, updatedJob.Error, NoPosesMessage)
	}
	v, _ := repo.GetVideo(ctx, video.ID)
	if v.Status != VideoStatusFailed || v.Error != NoPosesMessage {
		t.Errorf("video = %s %q", v.Status, v.Error)
	}
}

func TestProcessAnalyzeJob_PoseExitFailure(t *testing.T) {
	fake := &fakePipeRunner{}
	fake.poseFn = func(ctx context.Context, videoPath, outPath string) (pipelines.RunResult, error) {
		return pipelines.RunResult{ExitCode: 2, StderrTail: "CUDA out of memory"}, nil
	}
	runner, repo, _ := setupRunnerTest(t, fake, allCaps())
	job, _ := createTestJobAndVideo(t, repo)

	runner.processAnalyzeJob(context.Background(), job)

	updatedJob, _ := repo.GetJob(context.Background(), job.ID)
	if updatedJob.Status != JobStatusFailed {
		t.Fatalf("job status = %s, want failed", updatedJob.Status)
	}
	if !strings.Contains(updatedJob.Error, "CUDA out of memory") {
		t.Errorf("job error = %q, want stderr tail", updatedJob.Error)
	}
}

func TestProcessAnalyzeJob_BeatPipelineUnavailable(t *testing.T) {
	fake := &fakePipeRunner{}
	caps := &pipelines.Capabilities{HasPose: true, HasBeats: false, ProbedAt: time.Now()}
	runner, repo, _ := setupRunnerTest(t, fake, caps)
	job, _ := createTestJobAndVideo(t, repo)

	runner.processAnalyzeJob(context.Background(), job)

	updatedJob, _ := repo.GetJob(context.Background(), job.ID)
	if updatedJob.Status != JobStatusFailed {
		t.Errorf("job status = %s, want failed", updatedJob.Status)
	}
	if fake.poseCalled.Load() != 0 {
		t.Errorf("pose ran without beat capability")
	}
}

func TestProcessAnalyzeJob_ExtractionFailure(t *testing.T) {
	fake := &fakePipeRunner{}
	runner, repo, extractor := setupRunnerTest(t, fake, allCaps())
	extractor.err = audio.ErrAudioDecode
	job, video := createTestJobAndVideo(t, repo)

	runner.processAnalyzeJob(context.Background(), job)

	v, _ := repo.GetVideo(context.Background(), video.ID)
	if v.Status != VideoStatusFailed {
		t.Errorf("video status = %s, want failed", v.Status)
	}
	if !strings.Contains(v.Error, "beat extraction failed") {
		t.Errorf("video error = %q", v.Error)
	}
}

func TestProcessAnalyzeJob_NoPipelineRunner(t *testing.T) {
	_, repo := setupTestDB(t)
	runner := NewRunner(repo, nil, nil, nil, nil, quietLogger())

	job, _ := createTestJobAndVideo(t, repo)
	runner.processAnalyzeJob(context.Background(), job)

	updatedJob, _ := repo.GetJob(context.Background(), job.ID)
	if updatedJob.Status != JobStatusFailed {
		t.Errorf("job status = %s, want %s", updatedJob.Status, JobStatusFailed)
	}
}

type recordingObserver struct {
	jobType, status string
	calls           int
}

func (o *recordingObserver) ObserveJob(jobType, status string, elapsed time.Duration) {
	o.jobType, o.status = jobType, status
	o.calls++
}

func TestProcessNextJob_NotifiesObserver(t *testing.T) {
	fake := &fakePipeRunner{}
	runner, repo, _ := setupRunnerTest(t, fake, allCaps())
	obs := &recordingObserver{}
	runner.SetObserver(obs)
	createTestJobAndVideo(t, repo)

	runner.processNextJob(context.Background())

	if obs.calls != 1 || obs.jobType != JobTypeAnalyze || obs.status != JobStatusCompleted {
		t.Errorf("observer = %+v", obs)
	}
	if n := runner.GetActiveJobCount(context.Background()); n != 0 {
		t.Errorf("active jobs = %d, want 0", n)
	}
}

func TestRunner_PauseResume(t *testing.T) {
	_, repo := setupTestDB(t)
	runner := NewRunner(repo, nil, nil, nil, nil, quietLogger())

	if runner.IsPaused() {
		t.Fatal("new runner is paused")
	}
	runner.Pause()
	if !runner.IsPaused() {
		t.Error("Pause() did not pause")
	}
	runner.Resume()
	if runner.IsPaused() {
		t.Error("Resume() did not resume")
	}
}

func TestRunner_StartStops(t *testing.T) {
	_, repo := setupTestDB(t)
	runner := NewRunner(repo, nil, nil, nil, nil, quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		runner.Start(ctx)
		close(done)
	}()

	deadline := time.Now().Add(time.Second)
	for !runner.IsRunning() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("runner did not stop")
	}
	if runner.IsRunning() {
		t.Error("IsRunning() after stop")
	}
}
