package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dancesync/dancesync-agent/internal/audio"
	"github.com/dancesync/dancesync-agent/internal/beats"
	"github.com/dancesync/dancesync-agent/internal/db"
	"github.com/dancesync/dancesync-agent/internal/pipelines"
	"github.com/dancesync/dancesync-agent/internal/pose"
)

func setupTestDB(t *testing.T) (*db.DB, Repository) {
	t.Helper()
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	database, err := db.New(dbPath, nil)
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	repo := NewRepository(database.Conn())
	return database, repo
}

func newTestService(t *testing.T, repo Repository, cfg ServiceConfig) *Service {
	t.Helper()
	base := t.TempDir()
	if cfg.UploadsDir == "" {
		cfg.UploadsDir = filepath.Join(base, "uploads")
	}
	if cfg.ArtifactsDir == "" {
		cfg.ArtifactsDir = filepath.Join(base, "artifacts")
	}
	return NewService(repo, cfg, nil)
}

func testPerson(x, y float64) pose.PersonPose {
	p := make(pose.PersonPose, pose.KeypointCount)
	for i := range p {
		p[i] = pose.Keypoint{X: x + float64(i), Y: y, Confidence: 0.9}
	}
	return p
}

// writePoseArtifact writes a pose pipeline output with one person per frame.
func writePoseArtifact(t *testing.T, path string, frames map[int]pose.PersonPose) {
	t.Helper()
	payload := pipelines.PoseOutputPayload{
		PipelineOutput: pipelines.PipelineOutput{
			SchemaVersion:   "1",
			PipelineVersion: "0.1.0",
			ModelVersion:    "yolov8n-pose",
		},
		FPS: 30,
	}
	for f, p := range frames {
		payload.Frames = append(payload.Frames, pipelines.PoseFrame{Frame: f, Persons: []pose.PersonPose{p}})
	}
	if err := writeJSON(path, payload); err != nil {
		t.Fatalf("write pose artifact: %v", err)
	}
}

// createReadyVideo stores a ready video with pose and beat artifacts.
func createReadyVideo(t *testing.T, repo Repository, svc *Service, frames map[int]pose.PersonPose, track beats.Track) *Video {
	t.Helper()
	ctx := context.Background()

	id := NewID()
	dir := filepath.Join(svc.cfg.ArtifactsDir, id)
	posePath := filepath.Join(dir, "pose.json")
	beatsPath := filepath.Join(dir, "beats.json")
	writePoseArtifact(t, posePath, frames)
	if err := writeJSON(beatsPath, track); err != nil {
		t.Fatalf("write beats artifact: %v", err)
	}

	now := time.Now()
	v := &Video{
		ID:        id,
		Filename:  "clip.mp4",
		Path:      filepath.Join(svc.cfg.UploadsDir, id[:8]+"_clip.mp4"),
		Size:      1024,
		Status:    VideoStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := repo.CreateVideo(ctx, v); err != nil {
		t.Fatalf("create video: %v", err)
	}
	v.FPS = 29.97
	if err := repo.UpdateVideoProbe(ctx, v); err != nil {
		t.Fatalf("update probe: %v", err)
	}
	v.Tempo = track.Tempo
	v.BeatCount = len(track.BeatTimes)
	v.PoseFrames = len(frames)
	v.PoseArtifact = posePath
	v.BeatsArtifact = beatsPath
	if err := repo.SaveVideoAnalysis(ctx, v); err != nil {
		t.Fatalf("save analysis: %v", err)
	}
	return v
}

func TestService_UploadVideo(t *testing.T) {
	_, repo := setupTestDB(t)
	svc := newTestService(t, repo, ServiceConfig{})

	video, job, err := svc.UploadVideo(context.Background(), "../My Dance.MP4", strings.NewReader("data"))
	if err != nil {
		t.Fatalf("UploadVideo() error = %v", err)
	}
	if video.Filename != "My_Dance.MP4" {
		t.Errorf("Filename = %q, want My_Dance.MP4", video.Filename)
	}
	if video.Size != 4 {
		t.Errorf("Size = %d, want 4", video.Size)
	}
	if filepath.Dir(video.Path) != svc.cfg.UploadsDir {
		t.Errorf("Path = %q, want inside %q", video.Path, svc.cfg.UploadsDir)
	}
	if _, err := os.Stat(video.Path); err != nil {
		t.Errorf("uploaded file missing: %v", err)
	}
	if job.Type != JobTypeAnalyze || job.Status != JobStatusPending || job.VideoID != video.ID {
		t.Errorf("job = %+v", job)
	}

	stored, err := svc.GetVideo(context.Background(), video.ID)
	if err != nil {
		t.Fatalf("GetVideo() error = %v", err)
	}
	if stored.Status != VideoStatusPending {
		t.Errorf("Status = %q, want pending", stored.Status)
	}
}

func TestService_UploadVideo_Validation(t *testing.T) {
	_, repo := setupTestDB(t)

	tests := []struct {
		name     string
		filename string
		body     string
		max      int64
		want     string
	}{
		{"no file", "", "data", 0, "no selected file"},
		{"bad extension", "clip.mkv", "data", 0, "invalid file type"},
		{"empty", "clip.mp4", "", 0, "empty file"},
		{"too large", "clip.mp4", "0123456789", 5, "exceeds"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newTestService(t, repo, ServiceConfig{MaxUploadBytes: tt.max})
			_, _, err := svc.UploadVideo(context.Background(), tt.filename, strings.NewReader(tt.body))
			if !errors.Is(err, ErrValidation) {
				t.Fatalf("error = %v, want ErrValidation", err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %q, want it to contain %q", err, tt.want)
			}
			entries, _ := os.ReadDir(svc.cfg.UploadsDir)
			if len(entries) != 0 {
				t.Errorf("rejected upload left %d files behind", len(entries))
			}
		})
	}
}

func TestService_GetVideo_NotFound(t *testing.T) {
	_, repo := setupTestDB(t)
	svc := newTestService(t, repo, ServiceConfig{})

	_, err := svc.GetVideo(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestService_LoadPoseTrack_NotReady(t *testing.T) {
	_, repo := setupTestDB(t)
	svc := newTestService(t, repo, ServiceConfig{})

	video, _, err := svc.UploadVideo(context.Background(), "clip.mp4", strings.NewReader("data"))
	if err != nil {
		t.Fatalf("UploadVideo() error = %v", err)
	}

	_, _, err = svc.LoadPoseTrack(context.Background(), video.ID)
	if !errors.Is(err, ErrNotReady) {
		t.Errorf("error = %v, want ErrNotReady", err)
	}
}

func TestService_CompareVideos(t *testing.T) {
	_, repo := setupTestDB(t)
	svc := newTestService(t, repo, ServiceConfig{})
	ctx := context.Background()

	p := testPerson(100, 200)
	ref := createReadyVideo(t, repo, svc,
		map[int]pose.PersonPose{30: p, 60: p},
		beats.Track{Tempo: 120, BeatTimes: []float64{1.0, 2.0}})
	user := createReadyVideo(t, repo, svc,
		map[int]pose.PersonPose{33: p, 63: p},
		beats.Track{Tempo: 121, BeatTimes: []float64{1.1, 2.1}})

	c, err := svc.CompareVideos(ctx, CompareVideosInput{
		ReferenceVideoID: ref.ID,
		UserVideoID:      user.ID,
	})
	if err != nil {
		t.Fatalf("CompareVideos() error = %v", err)
	}
	if c.FPS != 30 {
		t.Errorf("FPS = %d, want 30 (rounded probe rate)", c.FPS)
	}
	if c.NumBeatsAnalyzed != 2 || c.AverageSimilarity != 1.0 {
		t.Errorf("beats = %d, average = %v, want 2 and 1.0", c.NumBeatsAnalyzed, c.AverageSimilarity)
	}
	if c.TimeOffsetSeconds != nil {
		t.Errorf("TimeOffsetSeconds = %v, want nil without sync", *c.TimeOffsetSeconds)
	}

	stored, err := svc.GetComparison(ctx, c.ID)
	if err != nil {
		t.Fatalf("GetComparison() error = %v", err)
	}
	if stored.ReferenceVideoID != ref.ID || len(stored.Results) != 2 {
		t.Errorf("stored comparison = %+v", stored)
	}
	if stored.Results[1].Frame != 60 || stored.Results[1].Timestamp != 2.0 {
		t.Errorf("Results[1] = %+v", stored.Results[1])
	}

	list, err := svc.ListComparisons(ctx, 10)
	if err != nil || len(list) != 1 {
		t.Errorf("ListComparisons() = %d, %v, want 1", len(list), err)
	}
}

func TestService_CompareVideos_RequiresIDs(t *testing.T) {
	_, repo := setupTestDB(t)
	svc := newTestService(t, repo, ServiceConfig{})

	_, err := svc.CompareVideos(context.Background(), CompareVideosInput{ReferenceVideoID: "a"})
	if !errors.Is(err, ErrValidation) {
		t.Errorf("error = %v, want ErrValidation", err)
	}
}

type fakeDecoder struct {
	signals map[string]audio.Signal
}

func (f *fakeDecoder) Decode(ctx context.Context, videoPath string) (audio.Signal, error) {
	sig, ok := f.signals[videoPath]
	if !ok {
		return audio.Signal{}, audio.ErrAudioDecode
	}
	return sig, nil
}

func TestService_SyncVideos(t *testing.T) {
	_, repo := setupTestDB(t)
	dec := &fakeDecoder{signals: map[string]audio.Signal{}}
	svc := newTestService(t, repo, ServiceConfig{Decoder: dec})

	p := testPerson(0, 0)
	ref := createReadyVideo(t, repo, svc, map[int]pose.PersonPose{0: p},
		beats.Track{Tempo: 120, BeatTimes: []float64{0.5}})
	user := createReadyVideo(t, repo, svc, map[int]pose.PersonPose{0: p},
		beats.Track{Tempo: 122, BeatTimes: []float64{0.6}})

	dec.signals[ref.Path] = audio.Signal{Samples: []float64{0, 0, 1, 0}, SampleRate: 4}
	dec.signals[user.Path] = audio.Signal{Samples: []float64{1, 0, 0, 0}, SampleRate: 4}

	res, err := svc.SyncVideos(context.Background(), ref.ID, user.ID)
	if err != nil {
		t.Fatalf("SyncVideos() error = %v", err)
	}
	if !res.IsSameSong || res.AudioSimilarity != 1.0 {
		t.Errorf("same song = %v, similarity = %v", res.IsSameSong, res.AudioSimilarity)
	}
	if res.RefTempo != 120 || res.UserTempo != 122 {
		t.Errorf("tempos = %v, %v", res.RefTempo, res.UserTempo)
	}
	if len(res.RefBeats) != 1 || res.RefBeats[0] != 0.5 {
		t.Errorf("RefBeats = %v", res.RefBeats)
	}
}

func TestService_SyncVideos_NoDecoder(t *testing.T) {
	_, repo := setupTestDB(t)
	svc := newTestService(t, repo, ServiceConfig{})

	_, err := svc.SyncVideos(context.Background(), "a", "b")
	if !errors.Is(err, ErrPipeline) {
		t.Errorf("error = %v, want ErrPipeline", err)
	}
}

func TestService_ResolveFPS(t *testing.T) {
	_, repo := setupTestDB(t)
	svc := newTestService(t, repo, ServiceConfig{DefaultFPS: 25})

	tests := []struct {
		requested int
		ref       *Video
		want      int
	}{
		{24, &Video{FPS: 59.94}, 24},
		{0, &Video{FPS: 59.94}, 60},
		{0, &Video{}, 25},
		{0, nil, 25},
	}
	for _, tt := range tests {
		if got := svc.ResolveFPS(tt.requested, tt.ref); got != tt.want {
			t.Errorf("ResolveFPS(%d, %+v) = %d, want %d", tt.requested, tt.ref, got, tt.want)
		}
	}
}

func TestService_DeleteVideo(t *testing.T) {
	_, repo := setupTestDB(t)
	svc := newTestService(t, repo, ServiceConfig{})
	ctx := context.Background()

	video, _, err := svc.UploadVideo(ctx, "clip.mov", strings.NewReader("data"))
	if err != nil {
		t.Fatalf("UploadVideo() error = %v", err)
	}
	artifacts := filepath.Join(svc.cfg.ArtifactsDir, video.ID)
	if err := os.MkdirAll(artifacts, 0755); err != nil {
		t.Fatal(err)
	}

	if err := svc.DeleteVideo(ctx, video.ID); err != nil {
		t.Fatalf("DeleteVideo() error = %v", err)
	}
	if _, err := os.Stat(video.Path); !os.IsNotExist(err) {
		t.Errorf("upload still present: %v", err)
	}
	if _, err := os.Stat(artifacts); !os.IsNotExist(err) {
		t.Errorf("artifacts still present: %v", err)
	}
	if _, err := svc.GetVideo(ctx, video.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetVideo() after delete error = %v, want ErrNotFound", err)
	}
	jobs, _ := svc.ListJobs(ctx, 10)
	if len(jobs) != 0 {
		t.Errorf("jobs after delete = %d, want 0", len(jobs))
	}
}

func TestService_DeleteVideo_Analyzing(t *testing.T) {
	_, repo := setupTestDB(t)
	svc := newTestService(t, repo, ServiceConfig{})
	ctx := context.Background()

	video, _, err := svc.UploadVideo(ctx, "clip.mp4", strings.NewReader("data"))
	if err != nil {
		t.Fatalf("UploadVideo() error = %v", err)
	}
	repo.UpdateVideoStatus(ctx, video.ID, VideoStatusAnalyzing, "")

	if err := svc.DeleteVideo(ctx, video.ID); !errors.Is(err, ErrValidation) {
		t.Errorf("error = %v, want ErrValidation", err)
	}
}

func TestComparison_ResultsJSON(t *testing.T) {
	c := Comparison{ID: "c1", FPS: 30}
	data, err := json.Marshal(c)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(data), "time_offset_seconds") {
		t.Errorf("unset offset serialized: %s", data)
	}
}
